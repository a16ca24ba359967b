package adapter

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"chat-gateway/core/apierr"
	"chat-gateway/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func TestGeminiStreamsJSONArray(t *testing.T) {
	var gotPath, gotKey, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		gotPath, gotKey, gotBody = r.URL.Path, r.URL.Query().Get("key"), string(b)
		fmt.Fprint(w, `[{"candidates":[{"content":{"parts":[{"text":"Hel"}]}}]}`+"\n")
		fmt.Fprint(w, `,{"candidates":[{"content":{"parts":[{"text":"lo"}]}}],"usageMetadata":{"totalTokenCount":7}}]`+"\n")
	}))
	defer srv.Close()

	g := NewGemini(testOptions(srv.URL))
	o := NewOrchestrator(testLogger(), time.Second)
	events := collect(t, o.Stream(context.Background(), g, &models.Account{Credential: "api-key"}, &models.ChatRequest{
		Messages: []models.Message{{Role: "system", Content: "be brief"}, {Role: "user", Content: "hi"}},
	}))

	assertSingleTerminal(t, events, models.EventDone)
	assert.Equal(t, "Hello", contentOf(events))
	assert.Equal(t, "/v1beta/models/gemini-pro:streamGenerateContent", gotPath)
	assert.Equal(t, "api-key", gotKey)
	assert.Equal(t, "model", gjson.Get(gotBody, "contents.0.role").String())
	assert.Equal(t, "user", gjson.Get(gotBody, "contents.1.role").String())
	assert.Equal(t, 0.7, gjson.Get(gotBody, "generationConfig.temperature").Float())
	_, hasConv := mergedMetadata(events)["conversation_id"]
	assert.False(t, hasConv, "stateless backends carry no conversation id")
}

func TestAntigravityAccessToken(t *testing.T) {
	assert.Equal(t, "ya29.x", accessToken(`{"access_token":"ya29.x","refresh_token":"r"}`))
	assert.Equal(t, "plain", accessToken("plain"))

	var gotKey, gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey, gotPath = r.URL.Query().Get("key"), r.URL.Path
		fmt.Fprint(w, `{"models":[{"name":"models/gemini-2.0-flash-exp","displayName":"Flash"}]}`)
	}))
	defer srv.Close()

	a := NewAntigravity(testOptions(srv.URL))
	list, err := a.ListModels(context.Background(), &models.Account{Credential: `{"access_token":"ya29.x"}`})
	require.NoError(t, err)
	assert.Equal(t, "ya29.x", gotKey)
	assert.Equal(t, "/v1beta/models", gotPath)
	assert.Equal(t, []models.ModelInfo{{ID: "gemini-2.0-flash-exp", Name: "Flash", OwnedBy: models.ProviderAntigravity}}, list)
}

func TestOpenAICompatBackends(t *testing.T) {
	tests := []struct {
		name   string
		build  func(Options) *OpenAICompat
		prefix string
		model  string
	}{
		{"groq", NewGroq, "/openai/v1", "llama-3.3-70b-versatile"},
		{"stepfun", NewStepFun, "/v1", "step-1-8k"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotModel, gotAuth string
			mux := http.NewServeMux()
			mux.HandleFunc("POST "+tt.prefix+"/chat/completions", func(w http.ResponseWriter, r *http.Request) {
				b, _ := io.ReadAll(r.Body)
				gotModel, gotAuth = gjson.GetBytes(b, "model").String(), r.Header.Get("Authorization")
				fmt.Fprint(w, delta("ok"), "data: {\"choices\":[],\"usage\":{\"total_tokens\":12}}\n\n", "data: [DONE]\n\n")
			})
			mux.HandleFunc("GET "+tt.prefix+"/models", func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprint(w, `{"data":[{"id":"m1","owned_by":"vendor"},{"id":"m2"}]}`)
			})
			srv := httptest.NewServer(mux)
			defer srv.Close()

			b := tt.build(testOptions(srv.URL))
			o := NewOrchestrator(testLogger(), time.Second)
			events := collect(t, o.Stream(context.Background(), b, &models.Account{Credential: "sk"}, &models.ChatRequest{
				Messages: []models.Message{{Role: "user", Content: "x"}},
			}))
			assertSingleTerminal(t, events, models.EventDone)
			assert.Equal(t, "ok", contentOf(events))
			assert.Equal(t, tt.model, gotModel)
			assert.Equal(t, "Bearer sk", gotAuth)
			usage, _ := mergedMetadata(events)["usage"].(map[string]any)
			assert.EqualValues(t, 12, usage["total_tokens"])

			list, err := b.ListModels(context.Background(), &models.Account{Credential: "sk"})
			require.NoError(t, err)
			require.Len(t, list, 2)
			assert.Equal(t, "vendor", list[0].OwnedBy)
			assert.Equal(t, tt.name, list[1].OwnedBy)
		})
	}
}

func TestCohereStream(t *testing.T) {
	var body string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		body = string(b)
		fmt.Fprint(w, "event: content-delta\ndata: {\"type\":\"content-delta\",\"delta\":{\"message\":{\"content\":{\"text\":\"Yo\"}}}}\n\n")
		fmt.Fprint(w, "event: message-end\ndata: {\"type\":\"message-end\"}\n\n")
	}))
	defer srv.Close()

	c := NewCohere(testOptions(srv.URL))
	o := NewOrchestrator(testLogger(), time.Second)
	events := collect(t, o.Stream(context.Background(), c, &models.Account{Credential: "t"}, &models.ChatRequest{
		Messages: []models.Message{{Role: "user", Content: "hi"}},
	}))
	assertSingleTerminal(t, events, models.EventDone)
	assert.Equal(t, "Yo", contentOf(events))
	assert.Equal(t, cohereDefaultModel, gjson.Get(body, "model").String())
	assert.Equal(t, "hi", gjson.Get(body, "messages.0.content.0.text").String())
	assert.Equal(t, 0.3, gjson.Get(body, "temperature").Float())
}

func TestRegistryCapabilities(t *testing.T) {
	opts := testOptions("http://127.0.0.1:0")
	r := NewRegistry(NewKimi(opts), NewClaude(opts), NewGemini(opts), NewDeepSeek(opts, nil))

	assert.Equal(t, []string{"claude", "deepseek", "gemini", "kimi"}, r.Names())

	_, err := r.Get("nope")
	assert.ErrorIs(t, err, apierr.ErrUnknownProvider)

	kimiOps := []func(string) error{
		func(n string) error { _, err := r.Chat(n); return err },
		func(n string) error { _, err := r.Lister(n); return err },
		func(n string) error { _, err := r.Reader(n); return err },
		func(n string) error { _, err := r.Deleter(n); return err },
		func(n string) error { _, err := r.Stopper(n); return err },
		func(n string) error { _, err := r.Models(n); return err },
	}
	for _, op := range kimiOps {
		err := op("KIMI")
		assert.True(t, errors.Is(err, apierr.ErrNotSupported), "kimi: %v", err)
		assert.Equal(t, http.StatusNotImplemented, apierr.HTTPStatus(err))
	}
	assert.Empty(t, r.Capabilities("kimi"))

	_, err = r.Deleter("deepseek")
	assert.ErrorIs(t, err, apierr.ErrNotSupported)
	_, err = r.Models("gemini")
	assert.NoError(t, err)
	assert.Equal(t, []string{"chat", "list_conversations", "conversation_detail", "delete_conversation", "stop_response"},
		r.Capabilities("claude"))
}
