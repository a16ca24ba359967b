package adapter

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"chat-gateway/core/stream"
	"chat-gateway/core/utils"
	"chat-gateway/models"

	"github.com/google/uuid"
)

const (
	qwenURL          = "https://chat.qwen.ai"
	qwenDefaultModel = "qwen3-max-2025-09-23"
)

// Qwen chat.qwen.ai，凭证为完整 cookie 字符串，Bearer token 取自其中的 token=
type Qwen struct {
	base
}

func NewQwen(opts Options) *Qwen {
	q := &Qwen{base: newBase(models.ProviderQwen, qwenURL, opts)}
	q.ua = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/142.0.0.0 Safari/537.36"
	return q
}

func (q *Qwen) header(acc *models.Account, referer string) http.Header {
	cookie := credential(acc)
	h := make(http.Header)
	h.Set("Cookie", cookie)
	if token := utils.CookieValue(cookie, "token"); token != "" {
		h.Set("Authorization", "Bearer "+token)
	}
	h.Set("Origin", qwenURL)
	h.Set("Referer", referer)
	h.Set("x-request-id", uuid.NewString())
	return h
}

func (q *Qwen) Prepare(_ context.Context, acc *models.Account, _ *models.ChatRequest) (*Session, error) {
	return q.session(acc, q.header(acc, qwenURL+"/c/new-chat")), nil
}

func (q *Qwen) Resolve(ctx context.Context, s *Session, req *models.ChatRequest) (*Conversation, error) {
	if req.ConversationID != "" {
		return &Conversation{ID: req.ConversationID}, nil
	}
	body := map[string]any{
		"title":      "New Chat",
		"models":     []string{orDefault(req.Model, qwenDefaultModel)},
		"chat_mode":  "normal",
		"chat_type":  "t2t",
		"timestamp":  time.Now().UnixMilli(),
		"project_id": "",
	}
	res, err := s.JSON(ctx, http.MethodPost, "/api/v2/chats/new", body, nil)
	if err != nil {
		return nil, err
	}
	id := res.Get("data.id").String()
	if id == "" {
		return nil, upstreamf(s, "Failed to create chat: No ID in response")
	}
	return &Conversation{ID: id, IsNew: true}, nil
}

func (q *Qwen) Send(ctx context.Context, s *Session, conv *Conversation, req *models.ChatRequest) (*http.Response, error) {
	model := orDefault(req.Model, qwenDefaultModel)
	messages := make([]map[string]any, 0, len(req.Messages))
	for _, m := range req.Messages {
		messages = append(messages, map[string]any{
			"role":      m.Role,
			"content":   m.Content,
			"models":    []string{model},
			"chat_type": "t2t",
			"feature_config": map[string]any{
				"thinking_enabled": req.Thinking,
				"output_schema":    "phase",
				"research_mode":    "normal",
			},
			"extra":         map[string]any{"meta": map[string]any{"subChatType": "t2t"}},
			"sub_chat_type": "t2t",
			"parent_id":     nil,
			"files":         []any{},
		})
	}
	body := map[string]any{
		"stream":             true,
		"version":            "2.1",
		"incremental_output": true,
		"chat_id":            conv.ID,
		"chat_mode":          "normal",
		"model":              model,
		"parent_id":          nil,
		"messages":           messages,
		"timestamp":          time.Now().UnixMilli(),
	}
	extra := http.Header{}
	extra.Set("Referer", qwenURL+"/c/"+conv.ID)
	extra.Set("x-accel-buffering", "no")
	return s.Call(ctx, http.MethodPost, "/api/v2/chat/completions?chat_id="+url.QueryEscape(conv.ID), body, extra)
}

func (q *Qwen) NewParser(*Session, *Conversation, *models.ChatRequest) stream.Parser {
	return stream.NewSSEParser(stream.OpenAIDelta)
}

func (q *Qwen) ListConversations(ctx context.Context, acc *models.Account, page, _ int) ([]models.ConversationSummary, error) {
	if page < 1 {
		page = 1
	}
	s := q.session(acc, q.header(acc, qwenURL+"/"))
	res, err := s.JSON(ctx, http.MethodGet, "/api/v2/chats/?page="+strconv.Itoa(page)+"&exclude_project=true", nil, nil)
	if err != nil {
		return nil, err
	}
	return summaries(res.Get("data"), "id", "title", "updated_at"), nil
}
