package models

import (
	"strings"
	"time"

	"gorm.io/gorm"
)

// AccountStatus 账号状态
type AccountStatus string

const (
	AccountActive   AccountStatus = "Active"
	AccountDisabled AccountStatus = "Disabled"
)

// Provider ids (小写，匹配时忽略大小写)
const (
	ProviderClaude      = "claude"
	ProviderChatGPT     = "chatgpt"
	ProviderDeepSeek    = "deepseek"
	ProviderMistral     = "mistral"
	ProviderKimi        = "kimi"
	ProviderQwen        = "qwen"
	ProviderCohere      = "cohere"
	ProviderPerplexity  = "perplexity"
	ProviderGroq        = "groq"
	ProviderGemini      = "gemini"
	ProviderAntigravity = "antigravity"
	ProviderStepFun     = "stepfun"
	ProviderHuggingChat = "huggingchat"
	ProviderLMArena     = "lmarena"
)

// Account 一个后端账号凭证
// Credential 为 session cookie / token 等不透明字符串，落库时由 SecretProvider 加密
type Account struct {
	ID         string        `gorm:"primaryKey;size:64" json:"id"`
	Provider   string        `gorm:"index;not null" json:"provider"`
	Email      string        `gorm:"index" json:"email"`
	Credential string        `gorm:"not null" json:"credential"`
	Status     AccountStatus `gorm:"default:Active" json:"status"`
	UserAgent  string        `json:"user_agent,omitempty"`

	// 使用统计 (由 UsageRecorder 写入)
	TotalRequests      int64      `gorm:"default:0" json:"total_requests"`
	SuccessfulRequests int64      `gorm:"default:0" json:"successful_requests"`
	TotalDuration      int64      `gorm:"default:0" json:"total_duration_ms"`
	TokensToday        int64      `gorm:"default:0" json:"tokens_today"`
	StatsDate          string     `json:"stats_date,omitempty"`
	LastActive         *time.Time `json:"last_active,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsActive 是否可被路由选中
func (a *Account) IsActive() bool {
	return a.Status == "" || a.Status == AccountActive
}

// SameIdentity provider+email 忽略大小写比较
func (a *Account) SameIdentity(provider, email string) bool {
	return strings.EqualFold(a.Provider, provider) && strings.EqualFold(a.Email, email)
}

// UsageRecord 单次请求的使用记录（不落库，批量聚合后更新 Account）
type UsageRecord struct {
	AccountID string
	Success   bool
	Duration  time.Duration
	Tokens    int64
	At        time.Time
}

// AutoMigrate 自动迁移数据库结构
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&Account{})
}
