package adapter

import "chat-gateway/models"

// Gemini streamGenerateContent 请求体

type GeminiRequest struct {
	Contents         []GeminiContent `json:"contents"`
	GenerationConfig *GeminiConfig   `json:"generationConfig,omitempty"`
}

type GeminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []GeminiPart `json:"parts"`
}

type GeminiPart struct {
	Text string `json:"text"`
}

type GeminiConfig struct {
	Temperature float64 `json:"temperature,omitempty"`
}

// newGeminiRequest user 以外的角色统一映射为 model
func newGeminiRequest(messages []models.Message) GeminiRequest {
	req := GeminiRequest{
		Contents:         make([]GeminiContent, 0, len(messages)),
		GenerationConfig: &GeminiConfig{Temperature: 0.7},
	}
	for _, m := range messages {
		role := "model"
		if m.Role == "user" {
			role = "user"
		}
		req.Contents = append(req.Contents, GeminiContent{Role: role, Parts: []GeminiPart{{Text: m.Content}}})
	}
	return req
}
