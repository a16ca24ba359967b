package models

import (
	"encoding/json"
	"strings"
	"time"
)

// ChatCompletionRequest 对外的 OpenAI 兼容聊天请求，附带会话延续字段
type ChatCompletionRequest struct {
	Model           string        `json:"model" binding:"required"`
	Messages        []ChatMessage `json:"messages" binding:"required,min=1"`
	Stream          *bool         `json:"stream,omitempty"`
	ConversationID  string        `json:"conversation_id,omitempty"`
	ParentMessageID string        `json:"parent_message_id,omitempty"`
	Thinking        bool          `json:"thinking,omitempty"`
	Search          bool          `json:"search,omitempty"`
	RefFileIDs      []string      `json:"ref_file_ids,omitempty"`

	// Perplexity 等后端的会话令牌，也可以整体放入 Continuity
	LastBackendUUID string          `json:"last_backend_uuid,omitempty"`
	ReadWriteToken  string          `json:"read_write_token,omitempty"`
	Continuity      ContinuityState `json:"continuity,omitempty"`

	// 账号选择 (也可以通过 query 传入)
	Provider string `json:"provider,omitempty"`
	Email    string `json:"email,omitempty"`
}

// ChatMessage 聊天消息
type ChatMessage struct {
	Role    string      `json:"role,omitempty" binding:"required,oneof=system user assistant tool"`
	Content interface{} `json:"content,omitempty"`
	Name    string      `json:"name,omitempty"`
}

// IsStream stream 未指定时默认为流式
func (r *ChatCompletionRequest) IsStream() bool {
	return r.Stream == nil || *r.Stream
}

// ToChatRequest 转换为内部统一请求
func (r *ChatCompletionRequest) ToChatRequest() *ChatRequest {
	req := &ChatRequest{
		Model:           r.Model,
		Messages:        make([]Message, 0, len(r.Messages)),
		ConversationID:  r.ConversationID,
		ParentMessageID: r.ParentMessageID,
		Thinking:        r.Thinking,
		Search:          r.Search,
		RefFileIDs:      r.RefFileIDs,
		Stream:          r.IsStream(),
		Continuity:      ContinuityState{},
	}
	for i := range r.Messages {
		req.Messages = append(req.Messages, Message{
			Role:    r.Messages[i].Role,
			Content: r.Messages[i].StringContent(),
		})
	}
	for k, v := range r.Continuity {
		req.Continuity[k] = v
	}
	if r.LastBackendUUID != "" {
		req.Continuity["backend_uuid"] = r.LastBackendUUID
	}
	if r.ReadWriteToken != "" {
		req.Continuity["read_write_token"] = r.ReadWriteToken
	}
	return req
}

// ChatCompletionResponse 非流式聚合响应 / 流式 chunk
type ChatCompletionResponse struct {
	ID       string                 `json:"id"`
	Object   string                 `json:"object"`
	Created  int64                  `json:"created"`
	Model    string                 `json:"model"`
	Choices  []ChatCompletionChoice `json:"choices"`
	Usage    *ChatCompletionUsage   `json:"usage,omitempty"`
	Metadata map[string]any         `json:"metadata,omitempty"`
}

// ChatCompletionChoice 聊天选择
type ChatCompletionChoice struct {
	Index        int         `json:"index"`
	Message      ChatMessage `json:"message"`
	FinishReason string      `json:"finish_reason,omitempty"`
}

// ChatCompletionUsage 使用统计
type ChatCompletionUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ErrorResponse 错误响应
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail 错误详情
type ErrorDetail struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
}

// HealthResponse 健康检查响应
type HealthResponse struct {
	Status    string   `json:"status"`
	Gateway   string   `json:"gateway"`
	Providers []string `json:"providers"`
	Accounts  int      `json:"accounts"`
	Timestamp int64    `json:"timestamp"`
}

// CreateAccountRequest 新增账号
type CreateAccountRequest struct {
	ID         string `json:"id"`
	Provider   string `json:"provider" binding:"required"`
	Email      string `json:"email"`
	Credential string `json:"credential" binding:"required"`
	Status     string `json:"status" binding:"omitempty,oneof=Active Disabled"`
	UserAgent  string `json:"user_agent"`
}

// ToAccount 转换为 Account
func (r *CreateAccountRequest) ToAccount() *Account {
	return &Account{
		ID:         r.ID,
		Provider:   strings.ToLower(strings.TrimSpace(r.Provider)),
		Email:      strings.TrimSpace(r.Email),
		Credential: r.Credential,
		Status:     AccountStatus(r.Status),
		UserAgent:  r.UserAgent,
	}
}

// ImportAccountsRequest 批量导入
type ImportAccountsRequest struct {
	Accounts []CreateAccountRequest `json:"accounts" binding:"required"`
}

// APIResponse 通用API响应
type APIResponse struct {
	Success   bool        `json:"success"`
	Message   string      `json:"message"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp int64       `json:"timestamp"`
}

// MaskCredential 脱敏凭证
func MaskCredential(key string) string {
	if key == "" {
		return "***"
	}

	if len(key) <= 4 {
		return key[:1] + "***"
	}

	if len(key) <= 8 {
		return key[:2] + "***" + key[len(key)-2:]
	}

	return key[:3] + "***" + key[len(key)-4:]
}

// NewSuccessResponse 创建成功响应
func NewSuccessResponse(message string, data interface{}) *APIResponse {
	return &APIResponse{
		Success:   true,
		Message:   message,
		Data:      data,
		Timestamp: time.Now().Unix(),
	}
}

// NewErrorResponse 创建错误响应
func NewErrorResponse(message string) *APIResponse {
	return &APIResponse{
		Success:   false,
		Message:   message,
		Timestamp: time.Now().Unix(),
	}
}

// StringContent 从ChatMessage.Content提取字符串内容
// 支持普通字符串和多模态数组格式
func (m *ChatMessage) StringContent() string {
	if m.Content == nil {
		return ""
	}

	if str, ok := m.Content.(string); ok {
		return str
	}

	// [{"type": "text", "text": "..."}, ...]
	if arr, ok := m.Content.([]interface{}); ok {
		var result strings.Builder
		for _, item := range arr {
			itemMap, ok := item.(map[string]interface{})
			if !ok || itemMap["type"] != "text" {
				continue
			}
			if textStr, ok := itemMap["text"].(string); ok {
				if result.Len() > 0 {
					result.WriteString(" ")
				}
				result.WriteString(textStr)
			}
		}
		return result.String()
	}

	if jsonBytes, err := json.Marshal(m.Content); err == nil {
		return string(jsonBytes)
	}

	return ""
}
