package adapter

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"

	"chat-gateway/core/stream"
	"chat-gateway/core/utils"
	"chat-gateway/models"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

const (
	lmArenaURL        = "https://lmarena.ai"
	lmArenaNextAction = "60dd5def2cd15cb0c3eb89a128f43e18bcf6d48eb0"
)

// 页面里找不到 initialModels 时返回的固定列表
var lmArenaFallbackModels = []models.ModelInfo{
	{ID: "gpt-4o-2024-05-13", Name: "GPT-4o", OwnedBy: models.ProviderLMArena},
	{ID: "claude-3-5-sonnet-20240620", Name: "Claude 3.5 Sonnet", OwnedBy: models.ProviderLMArena},
}

// LMArena lmarena.ai direct 模式，会话 id 由客户端生成 (uuid v7)
type LMArena struct {
	base
}

func NewLMArena(opts Options) *LMArena {
	a := &LMArena{base: newBase(models.ProviderLMArena, lmArenaURL, opts)}
	a.ua = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/142.0.0.0 Safari/537.36"
	return a
}

func (a *LMArena) header(acc *models.Account) http.Header {
	h := make(http.Header)
	h.Set("Cookie", credential(acc))
	h.Set("Content-Type", "text/plain;charset=UTF-8")
	h.Set("Origin", lmArenaURL)
	return h
}

func newV7() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

func (a *LMArena) Prepare(_ context.Context, acc *models.Account, _ *models.ChatRequest) (*Session, error) {
	return a.session(acc, a.header(acc)), nil
}

func (a *LMArena) Resolve(_ context.Context, _ *Session, req *models.ChatRequest) (*Conversation, error) {
	if req.ConversationID != "" {
		return &Conversation{ID: req.ConversationID}, nil
	}
	id, err := newV7()
	if err != nil {
		return nil, err
	}
	return &Conversation{ID: id, IsNew: true}, nil
}

func (a *LMArena) Send(ctx context.Context, s *Session, conv *Conversation, req *models.ChatRequest) (*http.Response, error) {
	userID, err := newV7()
	if err != nil {
		return nil, err
	}
	modelID, err := newV7()
	if err != nil {
		return nil, err
	}

	body := `{"mode":"direct"}`
	set := func(path string, value any) {
		if err == nil {
			body, err = sjson.Set(body, path, value)
		}
	}
	set("id", conv.ID)
	set("modelAId", req.Model)
	set("userMessageId", userID)
	set("modelAMessageId", modelID)
	if conv.IsNew {
		set("modality", "chat")
	}
	set("userMessage.content", req.LastUserMessage())
	set("userMessage.experimental_attachments", []any{})
	set("userMessage.metadata", map[string]any{})
	if err != nil {
		return nil, err
	}

	path := "/nextjs-api/stream/create-evaluation"
	if !conv.IsNew {
		path = "/nextjs-api/stream/post-to-evaluation/" + url.PathEscape(conv.ID)
	}
	extra := http.Header{}
	extra.Set("Referer", lmArenaURL+"/c/"+conv.ID)
	return s.Call(ctx, http.MethodPost, path, body, extra)
}

func (a *LMArena) NewParser(*Session, *Conversation, *models.ChatRequest) stream.Parser {
	return stream.NewShortCodeParser()
}

func (a *LMArena) ListConversations(ctx context.Context, acc *models.Account, _, limit int) ([]models.ConversationSummary, error) {
	h := a.header(acc)
	h.Del("Content-Type")
	h.Set("Accept", "application/json")
	s := a.session(acc, h)
	res, err := s.JSON(ctx, http.MethodGet, "/api/history/list?limit="+strconv.Itoa(limit), nil, nil)
	if err != nil {
		return nil, err
	}
	return summaries(res.Get("history"), "id", "title", "updatedAt"), nil
}

// ListModels 模型列表来自 server action 返回的 RSC 文本
func (a *LMArena) ListModels(ctx context.Context, acc *models.Account) ([]models.ModelInfo, error) {
	h := a.header(acc)
	h.Set("Next-Action", lmArenaNextAction)
	s := a.session(acc, h)
	email := ""
	if acc != nil {
		email = acc.Email
	}
	body, err := json.Marshal([]string{email})
	if err != nil {
		return nil, err
	}
	text, err := s.Text(ctx, http.MethodPost, "/vi?mode=direct", body, nil)
	if err != nil {
		return nil, err
	}
	return parseLMArenaModels(text), nil
}

func parseLMArenaModels(text string) []models.ModelInfo {
	raw, ok := utils.ExtractJSONArray(text, `"initialModels":`)
	if !ok || !gjson.Valid(raw) {
		return lmArenaFallbackModels
	}
	out := make([]models.ModelInfo, 0)
	gjson.Parse(raw).ForEach(func(_, m gjson.Result) bool {
		id := m.Get("id").String()
		if id == "" {
			return true
		}
		name := m.Get("name").String()
		for _, key := range []string{"publicName", "displayName"} {
			if name == "" {
				name = m.Get(key).String()
			}
		}
		out = append(out, models.ModelInfo{
			ID:      id,
			Name:    orDefault(name, id),
			OwnedBy: orDefault(m.Get("organization").String(), models.ProviderLMArena),
		})
		return true
	})
	return out
}
