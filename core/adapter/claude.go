package adapter

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"

	"chat-gateway/core/stream"
	"chat-gateway/models"

	"github.com/google/uuid"
)

const (
	claudeURL          = "https://claude.ai"
	claudeDefaultModel = "claude-3-5-sonnet-20241022"
	claudeOrgKey       = "org"
)

// Claude claude.ai 网页端，凭证为 sessionKey cookie 的值
type Claude struct {
	base
}

func NewClaude(opts Options) *Claude {
	c := &Claude{base: newBase(models.ProviderClaude, claudeURL, opts)}
	c.ua = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36"
	return c
}

func (c *Claude) header(acc *models.Account) http.Header {
	h := make(http.Header)
	h.Set("Cookie", "sessionKey="+credential(acc))
	h.Set("Origin", claudeURL)
	h.Set("Referer", claudeURL+"/chats")
	h.Set("Accept", "application/json, text/event-stream")
	h.Set("anthropic-client-platform", "web_claude_ai")
	h.Set("anthropic-client-version", "1.0.0")
	h.Set("anthropic-device-id", uuid.NewString())
	h.Set("anthropic-anonymous-id", "claudeai.v1."+uuid.NewString())
	return h
}

// open 新建 session 并解析 organization
func (c *Claude) open(ctx context.Context, acc *models.Account) (*Session, string, error) {
	s := c.session(acc, c.header(acc))
	res, err := s.JSON(ctx, http.MethodGet, "/api/organizations", nil, nil)
	if err != nil {
		return nil, "", err
	}
	org := res.Get("0.uuid").String()
	if org == "" {
		return nil, "", upstreamf(s, "No organizations found")
	}
	s.State[claudeOrgKey] = org
	return s, org, nil
}

func (c *Claude) conversationsPath(org string) string {
	return "/api/organizations/" + url.PathEscape(org) + "/chat_conversations"
}

func (c *Claude) Prepare(ctx context.Context, acc *models.Account, _ *models.ChatRequest) (*Session, error) {
	s, _, err := c.open(ctx, acc)
	return s, err
}

func (c *Claude) Resolve(ctx context.Context, s *Session, req *models.ChatRequest) (*Conversation, error) {
	if req.ConversationID != "" {
		return &Conversation{ID: req.ConversationID}, nil
	}
	id := uuid.NewString()
	resp, err := s.Call(ctx, http.MethodPost, c.conversationsPath(s.State[claudeOrgKey]),
		ClaudeConversationCreate{UUID: id}, nil)
	if err != nil {
		return nil, err
	}
	resp.Body.Close()
	return &Conversation{ID: id, IsNew: true}, nil
}

func (c *Claude) Send(ctx context.Context, s *Session, conv *Conversation, req *models.ChatRequest) (*http.Response, error) {
	body := ClaudeCompletionRequest{
		Prompt:      req.LastUserMessage(),
		Timezone:    "UTC",
		Model:       orDefault(req.Model, claudeDefaultModel),
		Attachments: []interface{}{},
	}
	path := c.conversationsPath(s.State[claudeOrgKey]) + "/" + url.PathEscape(conv.ID) + "/completion"
	return s.Call(ctx, http.MethodPost, path, body, nil)
}

func (c *Claude) NewParser(*Session, *Conversation, *models.ChatRequest) stream.Parser {
	return stream.NewSSEParser(stream.ClaudeWebDecoder)
}

func (c *Claude) ListConversations(ctx context.Context, acc *models.Account, _, limit int) ([]models.ConversationSummary, error) {
	s, org, err := c.open(ctx, acc)
	if err != nil {
		return nil, err
	}
	res, err := s.JSON(ctx, http.MethodGet, c.conversationsPath(org)+"?limit="+strconv.Itoa(limit)+"&consistency=eventual", nil, nil)
	if err != nil {
		return nil, err
	}
	return summaries(res, "uuid", "name", "updated_at"), nil
}

func (c *Claude) GetConversation(ctx context.Context, acc *models.Account, id string) (json.RawMessage, error) {
	s, org, err := c.open(ctx, acc)
	if err != nil {
		return nil, err
	}
	path := c.conversationsPath(org) + "/" + url.PathEscape(id) +
		"?tree=True&rendering_mode=messages&render_all_tools=true&consistency=eventual"
	res, err := s.JSON(ctx, http.MethodGet, path, nil, nil)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(res.Raw), nil
}

func (c *Claude) DeleteConversation(ctx context.Context, acc *models.Account, id string) error {
	s, org, err := c.open(ctx, acc)
	if err != nil {
		return err
	}
	resp, err := s.Call(ctx, http.MethodDelete, c.conversationsPath(org)+"/"+url.PathEscape(id), nil, nil)
	if err != nil {
		return err
	}
	return resp.Body.Close()
}

func (c *Claude) StopResponse(ctx context.Context, acc *models.Account, conversationID, _ string) error {
	s, org, err := c.open(ctx, acc)
	if err != nil {
		return err
	}
	path := c.conversationsPath(org) + "/" + url.PathEscape(conversationID) + "/stop_response"
	resp, err := s.Call(ctx, http.MethodPost, path, ClaudeStopRequest{ConversationUUID: conversationID}, nil)
	if err != nil {
		return err
	}
	return resp.Body.Close()
}
