package core

import (
	"context"
	"time"

	"chat-gateway/models"
)

// Strategy 账号选择策略
// candidates 已过滤为目标 provider 的可用账号，顺序稳定（先入库者在前）
type Strategy interface {
	// Name 返回策略名称，如 "round_robin", "priority"
	Name() string

	// Select 执行选择逻辑
	// cursor: 该 provider 的原子计数器快照 (用于轮询)，从 1 开始
	// usage: 账号请求计数
	Select(candidates []*models.Account, cursor uint64, usage UsageCounter) (*models.Account, error)
}

// UsageCounter 进程内账号请求计数
type UsageCounter interface {
	RequestCount(accountID string) uint64
}

// HealthTracker 账号健康状态
type HealthTracker interface {
	IsAvailable(accountID string) bool
	MarkCooldown(accountID string, duration time.Duration)
	MarkDead(accountID string)
	MarkAvailable(accountID string)
}

// SecretProvider 凭证加解密
// 落库前加密，读取时自动解密
type SecretProvider interface {
	Decrypt(ciphertext string) (string, error)
	Encrypt(plaintext string) (string, error)
}

// AccountStore 账号持久化
type AccountStore interface {
	GetAll(ctx context.Context) ([]*models.Account, error)
	GetByID(ctx context.Context, id string) (*models.Account, error)
	// Upsert 按 id 去重，否则按 (provider, email) 忽略大小写去重
	Upsert(ctx context.Context, acc *models.Account) (*models.Account, error)
	Delete(ctx context.Context, id string) error
	RecordUsage(ctx context.Context, deltas map[string]*UsageDelta) error
}

// UsageDelta 一批请求对单个账号的统计增量
type UsageDelta struct {
	Requests   int64
	Successes  int64
	DurationMS int64
	Tokens     int64
	LastActive time.Time
}
