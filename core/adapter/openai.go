package adapter

import (
	"context"
	"net/http"

	"chat-gateway/core/stream"
	"chat-gateway/models"
)

// OpenAICompat OpenAI 协议的 API 后端（Groq / StepFun），凭证为 API key
type OpenAICompat struct {
	base
	prefix       string
	defaultModel string
}

func NewGroq(opts Options) *OpenAICompat {
	return &OpenAICompat{
		base:         newBase(models.ProviderGroq, "https://api.groq.com", opts),
		prefix:       "/openai/v1",
		defaultModel: "llama-3.3-70b-versatile",
	}
}

func NewStepFun(opts Options) *OpenAICompat {
	return &OpenAICompat{
		base:         newBase(models.ProviderStepFun, "https://api.stepfun.com", opts),
		prefix:       "/v1",
		defaultModel: "step-1-8k",
	}
}

func (o *OpenAICompat) header(acc *models.Account) http.Header {
	h := make(http.Header)
	h.Set("Authorization", "Bearer "+credential(acc))
	return h
}

func (o *OpenAICompat) Prepare(_ context.Context, acc *models.Account, _ *models.ChatRequest) (*Session, error) {
	return o.session(acc, o.header(acc)), nil
}

func (o *OpenAICompat) Resolve(context.Context, *Session, *models.ChatRequest) (*Conversation, error) {
	return &Conversation{}, nil
}

func (o *OpenAICompat) Send(ctx context.Context, s *Session, _ *Conversation, req *models.ChatRequest) (*http.Response, error) {
	body := map[string]any{
		"model":       orDefault(req.Model, o.defaultModel),
		"messages":    req.Messages,
		"stream":      true,
		"temperature": 0.7,
	}
	return s.Call(ctx, http.MethodPost, o.prefix+"/chat/completions", body, nil)
}

func (o *OpenAICompat) NewParser(*Session, *Conversation, *models.ChatRequest) stream.Parser {
	return stream.NewSSEParser(stream.OpenAIDelta)
}

func (o *OpenAICompat) ListModels(ctx context.Context, acc *models.Account) ([]models.ModelInfo, error) {
	s := o.session(acc, o.header(acc))
	res, err := s.JSON(ctx, http.MethodGet, o.prefix+"/models", nil, nil)
	if err != nil {
		return nil, err
	}
	return openAIModels(res, o.name), nil
}
