package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"chat-gateway/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClaude struct {
	creates   atomic.Int32
	completed atomic.Int32
	lastBody  ClaudeCompletionRequest
	cookie    string
}

func (f *fakeClaude) server(t *testing.T) *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/organizations", func(w http.ResponseWriter, r *http.Request) {
		f.cookie = r.Header.Get("Cookie")
		fmt.Fprint(w, `[{"uuid":"org-1"}]`)
	})
	mux.HandleFunc("POST /api/organizations/org-1/chat_conversations", func(w http.ResponseWriter, r *http.Request) {
		f.creates.Add(1)
		var body ClaudeConversationCreate
		_ = json.NewDecoder(r.Body).Decode(&body)
		fmt.Fprintf(w, `{"uuid":%q}`, body.UUID)
	})
	mux.HandleFunc("POST /api/organizations/org-1/chat_conversations/{id}/completion", func(w http.ResponseWriter, r *http.Request) {
		f.completed.Add(1)
		_ = json.NewDecoder(r.Body).Decode(&f.lastBody)
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "event: completion\ndata: {\"completion\":\"Hi \",\"stop_reason\":null}\n\n")
		w.(http.Flusher).Flush()
		fmt.Fprint(w, "event: completion\ndata: {\"completion\":\"there\",\"stop_reason\":\"stop_sequence\"}\n\n")
	})
	mux.HandleFunc("GET /api/organizations/org-1/chat_conversations", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "5", r.URL.Query().Get("limit"))
		fmt.Fprint(w, `[{"uuid":"c1","name":"First","updated_at":"2024-01-01T00:00:00Z"}]`)
	})
	mux.HandleFunc("DELETE /api/organizations/org-1/chat_conversations/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestClaudeContinuityRoundTrip(t *testing.T) {
	fake := &fakeClaude{}
	srv := fake.server(t)
	c := NewClaude(testOptions(srv.URL))
	o := NewOrchestrator(testLogger(), time.Second)
	acc := &models.Account{ID: "a1", Credential: "sk-ant-sid"}

	turn1 := collect(t, o.Stream(context.Background(), c, acc, &models.ChatRequest{
		Messages: []models.Message{{Role: "user", Content: "hello"}},
	}))
	assertSingleTerminal(t, turn1, models.EventDone)
	assert.Equal(t, "Hi there", contentOf(turn1))
	meta := mergedMetadata(turn1)
	convID, _ := meta["conversation_id"].(string)
	require.NotEmpty(t, convID)
	assert.Equal(t, defaultTitle, meta["conversation_title"])
	assert.Equal(t, int32(1), fake.creates.Load())
	assert.Equal(t, "sessionKey=sk-ant-sid", fake.cookie)
	assert.Equal(t, claudeDefaultModel, fake.lastBody.Model)
	assert.Equal(t, "hello", fake.lastBody.Prompt)

	turn2 := collect(t, o.Stream(context.Background(), c, acc, &models.ChatRequest{
		ConversationID: convID,
		Messages:       []models.Message{{Role: "user", Content: "again"}},
	}))
	assertSingleTerminal(t, turn2, models.EventDone)
	assert.Equal(t, int32(1), fake.creates.Load(), "turn 2 must reuse the conversation")
	assert.Equal(t, int32(2), fake.completed.Load())
	_, hasTitle := mergedMetadata(turn2)["conversation_title"]
	assert.False(t, hasTitle)
}

func TestClaudeListAndDelete(t *testing.T) {
	fake := &fakeClaude{}
	srv := fake.server(t)
	c := NewClaude(testOptions(srv.URL))
	acc := &models.Account{ID: "a1", Credential: "k"}

	list, err := c.ListConversations(context.Background(), acc, 1, 5)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, models.ConversationSummary{ID: "c1", Title: "First", UpdatedAt: "2024-01-01T00:00:00Z"}, list[0])

	require.NoError(t, c.DeleteConversation(context.Background(), acc, "c1"))
}

func TestClaudeNoOrganization(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[]`)
	}))
	defer srv.Close()
	c := NewClaude(testOptions(srv.URL))
	o := NewOrchestrator(testLogger(), time.Second)

	events := collect(t, o.Stream(context.Background(), c, &models.Account{}, &models.ChatRequest{}))

	require.Len(t, events, 1)
	assert.Equal(t, models.EventError, events[0].Type)
	assert.True(t, strings.Contains(events[0].Message, "No organizations found"))
}
