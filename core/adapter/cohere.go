package adapter

import (
	"context"
	"net/http"

	"chat-gateway/core/stream"
	"chat-gateway/models"
)

const (
	cohereURL          = "https://api.cohere.com"
	cohereDashboard    = "https://dashboard.cohere.com"
	cohereDefaultModel = "command-r7b-12-2024"
)

// Cohere v2 chat API，凭证为 dashboard 的 bearer token
type Cohere struct {
	base
}

func NewCohere(opts Options) *Cohere {
	return &Cohere{base: newBase(models.ProviderCohere, cohereURL, opts)}
}

func (c *Cohere) Prepare(_ context.Context, acc *models.Account, _ *models.ChatRequest) (*Session, error) {
	h := make(http.Header)
	h.Set("Authorization", "Bearer "+credential(acc))
	h.Set("Origin", cohereDashboard)
	h.Set("Referer", cohereDashboard+"/")
	return c.session(acc, h), nil
}

func (c *Cohere) Resolve(context.Context, *Session, *models.ChatRequest) (*Conversation, error) {
	return &Conversation{}, nil
}

type cohereText struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type cohereMessage struct {
	Role    string       `json:"role"`
	Content []cohereText `json:"content"`
}

func (c *Cohere) Send(ctx context.Context, s *Session, _ *Conversation, req *models.ChatRequest) (*http.Response, error) {
	messages := make([]cohereMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		messages = append(messages, cohereMessage{Role: m.Role, Content: []cohereText{{Type: "text", Text: m.Content}}})
	}
	body := map[string]any{
		"model":       orDefault(req.Model, cohereDefaultModel),
		"messages":    messages,
		"stream":      true,
		"temperature": 0.3,
	}
	return s.Call(ctx, http.MethodPost, "/v2/chat", body, nil)
}

func (c *Cohere) NewParser(*Session, *Conversation, *models.ChatRequest) stream.Parser {
	return stream.NewSSEParser(stream.CohereDecoder)
}
