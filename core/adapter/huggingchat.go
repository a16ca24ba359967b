package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"

	"chat-gateway/core/stream"
	"chat-gateway/models"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
)

const (
	huggingChatURL          = "https://huggingface.co"
	huggingChatDefaultModel = "meta-llama/Llama-3.2-11B-Vision-Instruct"
)

// HuggingChat huggingface.co/chat，凭证为完整 cookie 字符串
type HuggingChat struct {
	base
}

func NewHuggingChat(opts Options) *HuggingChat {
	return &HuggingChat{base: newBase(models.ProviderHuggingChat, huggingChatURL, opts)}
}

func (h *HuggingChat) header(acc *models.Account) http.Header {
	hd := make(http.Header)
	hd.Set("Cookie", credential(acc))
	hd.Set("Accept", "application/json")
	hd.Set("Origin", huggingChatURL)
	hd.Set("Referer", huggingChatURL+"/chat/")
	return hd
}

func (h *HuggingChat) conversationPath(id string) string {
	return "/chat/conversation/" + url.PathEscape(id)
}

func (h *HuggingChat) Prepare(_ context.Context, acc *models.Account, _ *models.ChatRequest) (*Session, error) {
	return h.session(acc, h.header(acc)), nil
}

// Resolve 每一轮都要读取会话详情以确定 parent message，读取失败直接终止
func (h *HuggingChat) Resolve(ctx context.Context, s *Session, req *models.ChatRequest) (*Conversation, error) {
	conv := &Conversation{ID: req.ConversationID}
	if conv.ID == "" {
		body := map[string]any{"model": orDefault(req.Model, huggingChatDefaultModel), "preprompt": ""}
		res, err := s.JSON(ctx, http.MethodPost, "/chat/conversation", body, nil)
		if err != nil {
			return nil, err
		}
		conv.ID = res.Get("conversationId").String()
		if conv.ID == "" {
			return nil, upstreamf(s, "Failed to create HuggingChat conversation: No ID returned")
		}
		conv.IsNew = true
	}

	detail, err := s.JSON(ctx, http.MethodGet, "/chat/api/v2/conversations/"+url.PathEscape(conv.ID), nil, nil)
	if err != nil {
		return nil, err
	}
	conv.ParentID = huggingChatParent(detail)
	return conv, nil
}

func huggingChatParent(detail gjson.Result) string {
	// 部分响应包在 json 字段里
	if inner := detail.Get("json"); inner.IsObject() {
		detail = inner
	}
	if msgs := detail.Get("messages").Array(); len(msgs) > 0 {
		if id := msgs[len(msgs)-1].Get("id").String(); id != "" {
			return id
		}
	}
	if root := detail.Get("rootMessageId").String(); root != "" {
		return root
	}
	return uuid.NewString()
}

func (h *HuggingChat) Send(ctx context.Context, s *Session, conv *Conversation, req *models.ChatRequest) (*http.Response, error) {
	data, err := json.Marshal(map[string]any{
		"inputs":                 req.LastUserMessage(),
		"id":                     conv.ParentID,
		"is_retry":               false,
		"is_continue":            false,
		"selectedMcpServerNames": []string{},
		"selectedMcpServers":     []any{},
	})
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("data", string(data)); err != nil {
		return nil, err
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	extra := http.Header{}
	extra.Set("Content-Type", mw.FormDataContentType())
	extra.Set("Referer", huggingChatURL+h.conversationPath(conv.ID))
	return s.Call(ctx, http.MethodPost, h.conversationPath(conv.ID), buf.Bytes(), extra)
}

func (h *HuggingChat) NewParser(*Session, *Conversation, *models.ChatRequest) stream.Parser {
	return stream.NewTokenStreamParser()
}

func (h *HuggingChat) Title(ctx context.Context, s *Session, conv *Conversation) (string, error) {
	res, err := s.JSON(ctx, http.MethodPost, h.conversationPath(conv.ID)+"/summarize", nil, nil)
	if err != nil {
		return "", err
	}
	return res.Get("title").String(), nil
}

// ListConversations 后端分页从 0 开始
func (h *HuggingChat) ListConversations(ctx context.Context, acc *models.Account, page, _ int) ([]models.ConversationSummary, error) {
	if page < 1 {
		page = 1
	}
	s := h.session(acc, h.header(acc))
	res, err := s.JSON(ctx, http.MethodGet, "/chat/api/v2/conversations?p="+strconv.Itoa(page-1), nil, nil)
	if err != nil {
		return nil, err
	}
	list := res
	if inner := res.Get("json"); inner.IsArray() {
		list = inner
	}
	// 新版接口用 id，旧版用 _id
	out := make([]models.ConversationSummary, 0)
	if !list.IsArray() {
		return out, nil
	}
	list.ForEach(func(_, item gjson.Result) bool {
		out = append(out, models.ConversationSummary{
			ID:        orDefault(item.Get("_id").String(), item.Get("id").String()),
			Title:     item.Get("title").String(),
			UpdatedAt: item.Get("updatedAt").String(),
		})
		return true
	})
	return out, nil
}

func (h *HuggingChat) GetConversation(ctx context.Context, acc *models.Account, id string) (json.RawMessage, error) {
	s := h.session(acc, h.header(acc))
	res, err := s.JSON(ctx, http.MethodGet, "/chat/api/v2/conversations/"+url.PathEscape(id), nil, nil)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(res.Raw), nil
}

func (h *HuggingChat) ListModels(ctx context.Context, acc *models.Account) ([]models.ModelInfo, error) {
	s := h.session(acc, h.header(acc))
	res, err := s.JSON(ctx, http.MethodGet, "/chat/api/v2/models", nil, nil)
	if err != nil {
		return nil, err
	}
	list := res
	if inner := res.Get("json"); inner.IsArray() {
		list = inner
	}
	out := make([]models.ModelInfo, 0)
	list.ForEach(func(_, item gjson.Result) bool {
		id := orDefault(item.Get("id").String(), item.Get("name").String())
		if id == "" {
			return true
		}
		out = append(out, models.ModelInfo{
			ID:      id,
			Name:    orDefault(item.Get("displayName").String(), id),
			OwnedBy: models.ProviderHuggingChat,
		})
		return true
	})
	return out, nil
}
