package adapter

import (
	"context"
	"net/http"

	"chat-gateway/core/stream"
	"chat-gateway/models"

	"github.com/tidwall/sjson"
)

const (
	perplexityURL          = "https://www.perplexity.ai"
	perplexityDefaultModel = "sonar"
)

// Perplexity 无服务端会话创建；续聊靠 backend_uuid 与 read_write_token
type Perplexity struct {
	base
}

func NewPerplexity(opts Options) *Perplexity {
	return &Perplexity{base: newBase(models.ProviderPerplexity, perplexityURL, opts)}
}

func (p *Perplexity) Prepare(_ context.Context, acc *models.Account, _ *models.ChatRequest) (*Session, error) {
	h := make(http.Header)
	h.Set("Cookie", "__Secure-pplx-user-session="+credential(acc))
	h.Set("Origin", perplexityURL)
	h.Set("Referer", perplexityURL+"/")
	return p.session(acc, h), nil
}

func (p *Perplexity) Resolve(_ context.Context, _ *Session, req *models.ChatRequest) (*Conversation, error) {
	isNew := req.ConversationID == "" && req.ContinuityString("backend_uuid") == ""
	return &Conversation{ID: req.ConversationID, IsNew: isNew}, nil
}

func (p *Perplexity) Send(ctx context.Context, s *Session, _ *Conversation, req *models.ChatRequest) (*http.Response, error) {
	body := `{"version":"2.9","source":"default","temperature":0.2}`
	var err error
	set := func(path string, value any) {
		if err == nil {
			body, err = sjson.Set(body, path, value)
		}
	}
	set("model", orDefault(req.Model, perplexityDefaultModel))
	set("messages", req.Messages)
	if v := req.ContinuityString("backend_uuid"); v != "" {
		set("last_backend_uuid", v)
	}
	if v := req.ContinuityString("read_write_token"); v != "" {
		set("read_write_token", v)
	}
	if err != nil {
		return nil, err
	}
	return s.Call(ctx, http.MethodPost, "/socket.io/", body, nil)
}

// NewParser uuid 即会话 id，其余两个字段放入尾部 metadata
func (p *Perplexity) NewParser(_ *Session, conv *Conversation, _ *models.ChatRequest) stream.Parser {
	return stream.NewSSEParser(stream.NewPerplexityDecoder(func(key, value string) {
		if key == "uuid" {
			conv.ID = value
			return
		}
		conv.SetExtra(key, value)
	}))
}
