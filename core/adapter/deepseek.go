package adapter

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"chat-gateway/core/pow"
	"chat-gateway/core/stream"
	"chat-gateway/models"

	"github.com/tidwall/gjson"
)

const (
	deepSeekURL        = "https://chat.deepseek.com"
	deepSeekCompletion = "/api/v0/chat/completion"
	deepSeekReasoner   = "deepseek-reasoner"
)

// DeepSeek chat.deepseek.com 网页端
type DeepSeek struct {
	base
	solver PoWSolver
}

// NewDeepSeek solver 为 nil 时不带 PoW 头发送
func NewDeepSeek(opts Options, solver PoWSolver) *DeepSeek {
	return &DeepSeek{base: newBase(models.ProviderDeepSeek, deepSeekURL, opts), solver: solver}
}

func (d *DeepSeek) header(acc *models.Account) http.Header {
	token := credential(acc)
	h := make(http.Header)
	h.Set("Cookie", "DS-AUTH-TOKEN="+token)
	h.Set("Authorization", token)
	h.Set("Origin", deepSeekURL)
	h.Set("Referer", deepSeekURL+"/")
	return h
}

func (d *DeepSeek) Prepare(_ context.Context, acc *models.Account, _ *models.ChatRequest) (*Session, error) {
	return d.session(acc, d.header(acc)), nil
}

func (d *DeepSeek) Resolve(ctx context.Context, s *Session, req *models.ChatRequest) (*Conversation, error) {
	if req.ConversationID == "" {
		res, err := s.JSON(ctx, http.MethodPost, "/api/v0/chat_session/create", map[string]any{"character_id": nil}, nil)
		if err != nil {
			return nil, err
		}
		id := res.Get("data.biz_data.id").String()
		if id == "" {
			return nil, upstreamf(s, "create chat session: no id in response")
		}
		return &Conversation{ID: id, IsNew: true}, nil
	}

	conv := &Conversation{ID: req.ConversationID, ParentID: req.ParentMessageID}
	if conv.ParentID == "" {
		// 取不到 parent 时按新消息发送
		conv.ParentID = d.lastAssistantMessage(ctx, s, conv.ID)
	}
	return conv, nil
}

func (d *DeepSeek) lastAssistantMessage(ctx context.Context, s *Session, sessionID string) string {
	res, err := s.JSON(ctx, http.MethodGet, "/api/v0/chat/history_messages?chat_session_id="+url.QueryEscape(sessionID)+"&count=20", nil, nil)
	if err != nil {
		s.Logger.WithError(err).Debug("fetch history for parent id failed")
		return ""
	}
	msgs := res.Get("data.biz_data.chat_messages").Array()
	for i := len(msgs) - 1; i >= 0; i-- {
		if strings.EqualFold(msgs[i].Get("role").String(), "assistant") {
			return msgs[i].Get("message_id").String()
		}
	}
	return ""
}

// Challenge 获取并求解 PoW；失败时不带头继续
func (d *DeepSeek) Challenge(ctx context.Context, s *Session, conv *Conversation) error {
	if d.solver == nil {
		return nil
	}
	extra := http.Header{}
	extra.Set("Referer", deepSeekURL+"/a/chat/s/"+conv.ID)
	res, err := s.JSON(ctx, http.MethodPost, "/api/v0/chat/create_pow_challenge",
		map[string]any{"target_path": deepSeekCompletion}, extra)
	if err != nil {
		s.Logger.WithError(err).Warn("create pow challenge failed")
		return nil
	}
	raw := res.Get("data.biz_data.challenge")
	if !raw.IsObject() {
		s.Logger.Warn("pow challenge missing in response")
		return nil
	}
	c := models.PoWChallenge{
		Algorithm:  raw.Get("algorithm").String(),
		Challenge:  raw.Get("challenge").String(),
		Salt:       raw.Get("salt").String(),
		Difficulty: int(raw.Get("difficulty").Int()),
		Signature:  raw.Get("signature").String(),
		ExpireAt:   raw.Get("expire_at").Int(),
		TargetPath: orDefault(raw.Get("target_path").String(), deepSeekCompletion),
	}
	sol := d.solver.Solve(ctx, c)
	value, err := pow.EncodeHeader(sol)
	if err != nil {
		s.Logger.WithError(err).Warn("encode pow header failed")
		return nil
	}
	if conv.Header == nil {
		conv.Header = make(http.Header)
	}
	conv.Header.Set("X-Ds-Pow-Response", value)
	return nil
}

func (d *DeepSeek) Send(ctx context.Context, s *Session, conv *Conversation, req *models.ChatRequest) (*http.Response, error) {
	var parent any
	if n, err := strconv.ParseInt(conv.ParentID, 10, 64); err == nil {
		parent = n
	}
	refs := req.RefFileIDs
	if refs == nil {
		refs = []string{}
	}
	body := map[string]any{
		"chat_session_id":   conv.ID,
		"parent_message_id": parent,
		"prompt":            req.LastUserMessage(),
		"ref_file_ids":      refs,
		"thinking_enabled":  deepSeekThinking(req),
		"search_enabled":    req.Search,
	}
	extra := conv.Header.Clone()
	if extra == nil {
		extra = make(http.Header)
	}
	extra.Set("X-App-Version", "20241129.1")
	extra.Set("X-Client-Locale", "en_US")
	extra.Set("X-Client-Platform", "web")
	extra.Set("X-Client-Version", "1.0.0-always")
	return s.Call(ctx, http.MethodPost, deepSeekCompletion, body, extra)
}

func deepSeekThinking(req *models.ChatRequest) bool {
	return req.Model == deepSeekReasoner || req.Thinking
}

func (d *DeepSeek) NewParser(_ *Session, conv *Conversation, req *models.ChatRequest) stream.Parser {
	return stream.NewDeepSeekParser(&stream.DeepSeekDecoder{
		Thinking: deepSeekThinking(req),
		OnMessageID: func(id int64) {
			conv.MessageID = strconv.FormatInt(id, 10)
			conv.SetExtra("parent_message_id", id)
		},
	})
}

// Title 先请求自动命名，失败再从会话列表里找
func (d *DeepSeek) Title(ctx context.Context, s *Session, conv *Conversation) (string, error) {
	res, err := s.JSON(ctx, http.MethodPost, "/api/v0/chat_session/auto_rename",
		map[string]any{"chat_session_id": conv.ID}, nil)
	if err == nil {
		if t := res.Get("data.biz_data.title").String(); t != "" {
			return t, nil
		}
	}
	page, err := s.JSON(ctx, http.MethodGet, "/api/v0/chat_session/fetch_page?count=20", nil, nil)
	if err != nil {
		return "", err
	}
	for _, item := range page.Get("data.biz_data.chat_sessions").Array() {
		if item.Get("id").String() == conv.ID {
			return item.Get("title").String(), nil
		}
	}
	return "", nil
}

func (d *DeepSeek) ListConversations(ctx context.Context, acc *models.Account, _, limit int) ([]models.ConversationSummary, error) {
	s := d.session(acc, d.header(acc))
	res, err := s.JSON(ctx, http.MethodGet, "/api/v0/chat_session/fetch_page?lte_cursor.pinned=false&count="+strconv.Itoa(limit), nil, nil)
	if err != nil {
		return nil, err
	}
	return summaries(res.Get("data.biz_data.chat_sessions"), "id", "title", "updated_at"), nil
}

func (d *DeepSeek) GetConversation(ctx context.Context, acc *models.Account, id string) (json.RawMessage, error) {
	s := d.session(acc, d.header(acc))
	res, err := s.JSON(ctx, http.MethodGet, "/api/v0/chat/history_messages?chat_session_id="+url.QueryEscape(id), nil, nil)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(res.Raw), nil
}

func (d *DeepSeek) StopResponse(ctx context.Context, acc *models.Account, conversationID, messageID string) error {
	s := d.session(acc, d.header(acc))
	body := map[string]any{"chat_session_id": conversationID}
	if n, err := strconv.ParseInt(messageID, 10, 64); err == nil {
		body["message_id"] = n
	}
	resp, err := s.Call(ctx, http.MethodPost, "/api/v0/chat/stop_stream", body, nil)
	if err != nil {
		return err
	}
	return resp.Body.Close()
}

// summaries 把后端会话数组映射成统一结构
func summaries(list gjson.Result, idKey, titleKey, updatedKey string) []models.ConversationSummary {
	out := make([]models.ConversationSummary, 0)
	if !list.IsArray() {
		return out
	}
	list.ForEach(func(_, item gjson.Result) bool {
		out = append(out, models.ConversationSummary{
			ID:        item.Get(idKey).String(),
			Title:     item.Get(titleKey).String(),
			UpdatedAt: item.Get(updatedKey).String(),
		})
		return true
	})
	return out
}
