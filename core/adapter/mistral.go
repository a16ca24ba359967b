package adapter

import (
	"context"
	"net/http"
	"regexp"
	"strings"
	"time"

	"chat-gateway/core/stream"
	"chat-gateway/models"

	"github.com/google/uuid"
	"github.com/tidwall/sjson"
)

const mistralURL = "https://chat.mistral.ai"

var (
	mistralFeatures = []string{"beta-code-interpreter", "beta-imagegen", "beta-websearch", "beta-reasoning"}
	mistralChatID   = regexp.MustCompile(`"chatId":"([a-f0-9-]+)"`)
	mistralHistory  = regexp.MustCompile(`href=\\?"/chat/([a-f0-9-]{36})\\?".*?leading-5\.5[^>]*>([^<]+)</div>`)
	// tRPC 要求显式标注为 undefined 的字段
	mistralUndefined = []string{
		"voiceInput", "audioRecording", "agentId", "agentsApiAgentId",
		"isSampleChatForAgentId", "model", "canva", "action", "projectId",
	}
)

// Mistral chat.mistral.ai，凭证为完整 cookie 字符串
type Mistral struct {
	base
}

func NewMistral(opts Options) *Mistral {
	return &Mistral{base: newBase(models.ProviderMistral, mistralURL, opts)}
}

func (m *Mistral) header(acc *models.Account) http.Header {
	h := make(http.Header)
	h.Set("Cookie", credential(acc))
	h.Set("Origin", mistralURL)
	h.Set("Referer", mistralURL+"/chat")
	return h
}

func (m *Mistral) Prepare(_ context.Context, acc *models.Account, _ *models.ChatRequest) (*Session, error) {
	return m.session(acc, m.header(acc)), nil
}

// newChatPayload message.newChat 的 batch 请求体
func newChatPayload(text string) (string, error) {
	body := `{"0":{"json":{}}}`
	sets := []struct {
		path  string
		value any
	}{
		{"0.json.content", []map[string]string{{"type": "text", "text": text}}},
		{"0.json.voiceInput", nil},
		{"0.json.audioRecording", nil},
		{"0.json.agentId", nil},
		{"0.json.agentsApiAgentId", nil},
		{"0.json.files", []any{}},
		{"0.json.isSampleChatForAgentId", nil},
		{"0.json.model", nil},
		{"0.json.features", mistralFeatures},
		{"0.json.integrations", []any{}},
		{"0.json.canva", nil},
		{"0.json.action", nil},
		{"0.json.libraries", []any{}},
		{"0.json.projectId", nil},
		{"0.json.incognito", false},
	}
	var err error
	for _, s := range sets {
		if body, err = sjson.Set(body, s.path, s.value); err != nil {
			return "", err
		}
	}
	for _, key := range mistralUndefined {
		if body, err = sjson.Set(body, "0.meta.values."+key, []string{"undefined"}); err != nil {
			return "", err
		}
	}
	return body, nil
}

func (m *Mistral) Resolve(ctx context.Context, s *Session, req *models.ChatRequest) (*Conversation, error) {
	if req.ConversationID != "" {
		return &Conversation{ID: req.ConversationID}, nil
	}
	body, err := newChatPayload(req.LastUserMessage())
	if err != nil {
		return nil, err
	}
	extra := http.Header{}
	extra.Set("x-trpc-source", "nextjs-react")
	extra.Set("Content-Type", "application/json")
	text, err := s.Text(ctx, http.MethodPost, "/api/trpc/message.newChat?batch=1", body, extra)
	if err != nil {
		return nil, err
	}
	for _, line := range strings.Split(text, "\n") {
		if match := mistralChatID.FindStringSubmatch(line); match != nil {
			return &Conversation{ID: match[1], IsNew: true}, nil
		}
	}
	return nil, upstreamf(s, "Failed to create Mistral chat: No chatId found")
}

// Send 新会话用 start 触发首条消息的回复，已有会话用 append 追加
func (m *Mistral) Send(ctx context.Context, s *Session, conv *Conversation, req *models.ChatRequest) (*http.Response, error) {
	mode := "append"
	if conv.IsNew {
		mode = "start"
	}
	body := `{}`
	var err error
	set := func(path string, value any) {
		if err == nil {
			body, err = sjson.Set(body, path, value)
		}
	}
	set("chatId", conv.ID)
	set("mode", mode)
	set("disabledFeatures", []any{})
	set("clientPromptData.currentDate", time.Now().UTC().Format("2006-01-02"))
	set("clientPromptData.userTimezone", "UTC")
	set("shouldAwaitStreamBackgroundTasks", true)
	set("shouldUseMessagePatch", true)
	set("shouldUsePersistentStream", true)
	if mode == "append" {
		set("messageInput", []map[string]string{{"type": "text", "text": req.LastUserMessage()}})
		set("messageFiles", []any{})
		set("messageId", uuid.NewString())
		set("features", mistralFeatures)
		set("libraries", []any{})
		set("integrations", []any{})
	}
	if err != nil {
		return nil, err
	}
	extra := http.Header{}
	extra.Set("Referer", mistralURL+"/chat/"+conv.ID)
	extra.Set("Content-Type", "application/json")
	return s.Call(ctx, http.MethodPost, "/api/chat", body, extra)
}

func (m *Mistral) NewParser(*Session, *Conversation, *models.ChatRequest) stream.Parser {
	return stream.NewIndexedParser()
}

// ListConversations 会话列表只能从 /chat 页面 HTML 中提取
func (m *Mistral) ListConversations(ctx context.Context, acc *models.Account, _, limit int) ([]models.ConversationSummary, error) {
	s := m.session(acc, m.header(acc))
	html, err := s.Text(ctx, http.MethodGet, "/chat", nil, nil)
	if err != nil {
		return nil, err
	}
	return parseMistralHistory(html, limit), nil
}

func parseMistralHistory(html string, limit int) []models.ConversationSummary {
	out := make([]models.ConversationSummary, 0)
	seen := make(map[string]bool)
	for _, match := range mistralHistory.FindAllStringSubmatch(html, -1) {
		id, title := match[1], strings.TrimSpace(match[2])
		if title == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, models.ConversationSummary{ID: id, Title: title})
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}
