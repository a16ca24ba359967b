package adapter

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"chat-gateway/core/stream"
	"chat-gateway/models"

	"github.com/tidwall/gjson"
)

const geminiURL = "https://generativelanguage.googleapis.com"

// Gemini Generative Language API，凭证为 API key
// Antigravity 走同一接口，凭证可以是含 access_token 的 JSON
type Gemini struct {
	base
	defaultModel string
	// token 从凭证中取出实际的 key
	token func(cred string) string
}

func NewGemini(opts Options) *Gemini {
	return &Gemini{
		base:         newBase(models.ProviderGemini, geminiURL, opts),
		defaultModel: "gemini-pro",
		token:        func(cred string) string { return cred },
	}
}

func NewAntigravity(opts Options) *Gemini {
	return &Gemini{
		base:         newBase(models.ProviderAntigravity, geminiURL, opts),
		defaultModel: "gemini-2.0-flash-exp",
		token:        accessToken,
	}
}

// accessToken 凭证是 JSON 且带 access_token 时取该字段，否则原样使用
func accessToken(cred string) string {
	if gjson.Valid(cred) {
		if t := gjson.Get(cred, "access_token").String(); t != "" {
			return t
		}
	}
	return cred
}

func (g *Gemini) key(acc *models.Account) string {
	return url.QueryEscape(g.token(credential(acc)))
}

func (g *Gemini) Prepare(_ context.Context, acc *models.Account, _ *models.ChatRequest) (*Session, error) {
	return g.session(acc, nil), nil
}

// Resolve 无状态接口，不产生会话
func (g *Gemini) Resolve(context.Context, *Session, *models.ChatRequest) (*Conversation, error) {
	return &Conversation{}, nil
}

func (g *Gemini) Send(ctx context.Context, s *Session, _ *Conversation, req *models.ChatRequest) (*http.Response, error) {
	model := orDefault(req.Model, g.defaultModel)
	path := "/v1beta/models/" + url.PathEscape(model) + ":streamGenerateContent?key=" + g.key(s.Account)
	return s.Call(ctx, http.MethodPost, path, newGeminiRequest(req.Messages), nil)
}

func (g *Gemini) NewParser(*Session, *Conversation, *models.ChatRequest) stream.Parser {
	return stream.NewJSONArrayParser()
}

func (g *Gemini) ListModels(ctx context.Context, acc *models.Account) ([]models.ModelInfo, error) {
	s := g.session(acc, nil)
	res, err := s.JSON(ctx, http.MethodGet, "/v1beta/models?key="+g.key(acc), nil, nil)
	if err != nil {
		return nil, err
	}
	out := make([]models.ModelInfo, 0)
	res.Get("models").ForEach(func(_, m gjson.Result) bool {
		id := strings.TrimPrefix(m.Get("name").String(), "models/")
		if id != "" {
			out = append(out, models.ModelInfo{ID: id, Name: orDefault(m.Get("displayName").String(), id), OwnedBy: g.name})
		}
		return true
	})
	return out, nil
}

// openAIModels 解析 OpenAI 风格的 {data:[{id, owned_by}]}
func openAIModels(res gjson.Result, owner string) []models.ModelInfo {
	out := make([]models.ModelInfo, 0)
	res.Get("data").ForEach(func(_, m gjson.Result) bool {
		id := m.Get("id").String()
		if id != "" {
			out = append(out, models.ModelInfo{ID: id, Name: id, OwnedBy: orDefault(m.Get("owned_by").String(), owner)})
		}
		return true
	})
	return out
}
