package core

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"chat-gateway/core/adapter"
	"chat-gateway/core/apierr"
	"chat-gateway/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type usageSpy struct {
	mu   sync.Mutex
	recs []*models.UsageRecord
}

func (u *usageSpy) Record(rec *models.UsageRecord) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.recs = append(u.recs, rec)
}

func (u *usageSpy) records() []*models.UsageRecord {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([]*models.UsageRecord(nil), u.recs...)
}

// groqBackend OpenAI 兼容的假后端，返回固定两段内容
func groqBackend(t *testing.T, hits *atomic.Int32, status int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if status != http.StatusOK {
			w.WriteHeader(status)
			fmt.Fprint(w, `{"error":"nope"}`)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, `data: {"choices":[{"delta":{"content":"Hel"}}]}`+"\n\n")
		w.(http.Flusher).Flush()
		fmt.Fprint(w, `data: {"choices":[{"delta":{"content":"lo"}}],"usage":{"total_tokens":12}}`+"\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	t.Cleanup(srv.Close)
	return srv
}

type dispatcherFixture struct {
	dispatcher *Dispatcher
	health     *AccountHealth
	usage      *usageSpy
}

func newDispatcherFixture(t *testing.T, baseURL string, disabled []string, accounts ...*models.Account) *dispatcherFixture {
	t.Helper()
	opts := adapter.Options{BaseURL: baseURL, Client: http.DefaultClient, Logger: testLogger()}
	registry := adapter.NewRegistry(adapter.NewGroq(opts), adapter.NewKimi(opts))
	health := NewAccountHealth()
	router := newTestRouter(t, StrategyRoundRobin, health, accounts...)
	enablement := NewProviderEnablement(registry.Names(), disabled, "", time.Hour, nil, testLogger())
	usage := &usageSpy{}
	d := NewDispatcher(registry, router, enablement, adapter.NewOrchestrator(testLogger(), time.Second), health, usage, testLogger())
	return &dispatcherFixture{dispatcher: d, health: health, usage: usage}
}

func drain(events <-chan models.StreamEvent) []models.StreamEvent {
	var out []models.StreamEvent
	for ev := range events {
		out = append(out, ev)
	}
	return out
}

func TestDispatchStreamsAndRecordsUsage(t *testing.T) {
	var hits atomic.Int32
	srv := groqBackend(t, &hits, http.StatusOK)
	f := newDispatcherFixture(t, srv.URL, nil, account("g", "groq", "", models.AccountActive))

	events, acc, err := f.dispatcher.Chat(context.Background(), ResolveQuery{Model: "llama-3.3-70b"}, &models.ChatRequest{
		Model:    "llama-3.3-70b",
		Messages: []models.Message{{Role: "user", Content: "hi"}},
		Stream:   true,
	})
	require.NoError(t, err)
	assert.Equal(t, "g", acc.ID)

	got := drain(events)
	require.NotEmpty(t, got)
	assert.Equal(t, models.EventDone, got[len(got)-1].Type)

	recs := f.usage.records()
	require.Len(t, recs, 1)
	assert.True(t, recs[0].Success)
	assert.Equal(t, int64(12), recs[0].Tokens)
}

func TestDisabledProviderRefusedBeforeBackendCall(t *testing.T) {
	var hits atomic.Int32
	srv := groqBackend(t, &hits, http.StatusOK)
	f := newDispatcherFixture(t, srv.URL, []string{"groq"}, account("g", "groq", "", models.AccountActive))

	_, _, err := f.dispatcher.Chat(context.Background(), ResolveQuery{Provider: "groq"}, &models.ChatRequest{
		Messages: []models.Message{{Role: "user", Content: "hi"}},
	})
	assert.ErrorIs(t, err, apierr.ErrProviderDisabled)
	assert.Equal(t, 403, apierr.HTTPStatus(err))

	_, err = f.dispatcher.ListModels(context.Background(), ResolveQuery{Provider: "groq"})
	assert.ErrorIs(t, err, apierr.ErrProviderDisabled)
	assert.Equal(t, int32(0), hits.Load())
}

func TestNotSupportedBeforeAccountLookup(t *testing.T) {
	f := newDispatcherFixture(t, "http://127.0.0.1:0", nil)

	_, err := f.dispatcher.ListConversations(context.Background(), ResolveQuery{Provider: "kimi"}, 1, 20)
	assert.ErrorIs(t, err, apierr.ErrNotSupported)
	assert.Equal(t, 501, apierr.HTTPStatus(err))

	err = f.dispatcher.DeleteConversation(context.Background(), ResolveQuery{Provider: "groq"}, "c1")
	assert.ErrorIs(t, err, apierr.ErrNotSupported)

	_, err = f.dispatcher.ListModels(context.Background(), ResolveQuery{Provider: "nope"})
	assert.ErrorIs(t, err, apierr.ErrUnknownProvider)
}

func TestUpstreamAuthFailureMarksAccountDead(t *testing.T) {
	var hits atomic.Int32
	srv := groqBackend(t, &hits, http.StatusUnauthorized)
	f := newDispatcherFixture(t, srv.URL, nil, account("bad", "groq", "", models.AccountActive))

	events, _, err := f.dispatcher.Chat(context.Background(), ResolveQuery{Provider: "groq"}, &models.ChatRequest{
		Messages: []models.Message{{Role: "user", Content: "hi"}},
	})
	require.NoError(t, err)
	got := drain(events)
	require.Len(t, got, 1)
	assert.Equal(t, models.EventError, got[0].Type)

	assert.False(t, f.health.IsAvailable("bad"))
	recs := f.usage.records()
	require.Len(t, recs, 1)
	assert.False(t, recs[0].Success)
}

func TestRateLimitedModelsCallCoolsDown(t *testing.T) {
	var hits atomic.Int32
	srv := groqBackend(t, &hits, http.StatusTooManyRequests)
	f := newDispatcherFixture(t, srv.URL, nil, account("busy", "groq", "", models.AccountActive))

	_, err := f.dispatcher.ListModels(context.Background(), ResolveQuery{Provider: "groq"})
	var upstream *apierr.UpstreamError
	require.ErrorAs(t, err, &upstream)
	assert.Equal(t, http.StatusTooManyRequests, upstream.StatusCode)
	assert.False(t, f.health.IsAvailable("busy"))
	assert.Equal(t, "cooldown", f.health.Snapshot()["busy"])
}

func TestChatWithoutAccountIsUnauthorized(t *testing.T) {
	f := newDispatcherFixture(t, "http://127.0.0.1:0", nil)
	_, _, err := f.dispatcher.Chat(context.Background(), ResolveQuery{Model: "llama"}, &models.ChatRequest{})
	assert.ErrorIs(t, err, apierr.ErrUnauthorized)
}
