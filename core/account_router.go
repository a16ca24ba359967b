package core

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"chat-gateway/core/apierr"
	"chat-gateway/models"

	"github.com/sirupsen/logrus"
)

// ResolveQuery 账号选择条件
type ResolveQuery struct {
	AuthToken string // Bearer token，等于某个账号 id 时直接命中
	Provider  string
	Email     string
	Model     string
}

type providerKeyword struct {
	keyword  string
	provider string
	exact    bool
}

// 关键字越长越优先 (例如 antigravity 优先于 gemini)
var providerKeywords = func() []providerKeyword {
	kw := []providerKeyword{
		{keyword: "claude", provider: models.ProviderClaude},
		{keyword: "gpt", provider: models.ProviderChatGPT},
		{keyword: "auto", provider: models.ProviderChatGPT, exact: true},
		{keyword: "deepseek", provider: models.ProviderDeepSeek},
		{keyword: "mistral", provider: models.ProviderMistral},
		{keyword: "moonshot", provider: models.ProviderKimi},
		{keyword: "kimi", provider: models.ProviderKimi},
		{keyword: "qwen", provider: models.ProviderQwen},
		{keyword: "command", provider: models.ProviderCohere},
		{keyword: "perplexity", provider: models.ProviderPerplexity},
		{keyword: "pplx", provider: models.ProviderPerplexity},
		{keyword: "llama", provider: models.ProviderGroq},
		{keyword: "mixtral", provider: models.ProviderGroq},
		{keyword: "gemma", provider: models.ProviderGroq},
		{keyword: "groq", provider: models.ProviderGroq},
		{keyword: "gemini", provider: models.ProviderGemini},
		{keyword: "antigravity", provider: models.ProviderAntigravity},
		{keyword: "step", provider: models.ProviderStepFun},
	}
	sort.SliceStable(kw, func(i, j int) bool { return len(kw[i].keyword) > len(kw[j].keyword) })
	return kw
}()

// InferProvider 根据模型名推断 provider，无法推断时返回空串
func InferProvider(model string) string {
	m := strings.ToLower(strings.TrimSpace(model))
	if m == "" {
		return ""
	}
	for _, kw := range providerKeywords {
		if kw.exact {
			if m == kw.keyword {
				return kw.provider
			}
			continue
		}
		if strings.Contains(m, kw.keyword) {
			return kw.provider
		}
	}
	return ""
}

// AccountRouter 账号路由：维护账号快照、策略注册表与进程内计数器
type AccountRouter struct {
	store  AccountStore
	health HealthTracker
	logger *logrus.Logger

	strategies map[string]Strategy
	strategy   Strategy

	mu       sync.RWMutex
	accounts []*models.Account // 按首次出现顺序

	cursorMu sync.Mutex
	cursors  map[string]*atomic.Uint64 // provider -> 轮询计数

	countMu sync.RWMutex
	counts  map[string]uint64 // accountID -> 请求数
}

// NewAccountRouter 构造函数强制要求依赖注入
func NewAccountRouter(ctx context.Context, store AccountStore, health HealthTracker, logger *logrus.Logger, strategy string) (*AccountRouter, error) {
	r := &AccountRouter{
		store:      store,
		health:     health,
		logger:     logger,
		strategies: make(map[string]Strategy),
		cursors:    make(map[string]*atomic.Uint64),
		counts:     make(map[string]uint64),
	}

	// 注册默认策略
	r.RegisterStrategy(&RoundRobinStrategy{})
	r.RegisterStrategy(&PriorityStrategy{})
	r.RegisterStrategy(&LeastUsedStrategy{})

	if strategy == "" {
		strategy = StrategyRoundRobin
	}
	s, ok := r.strategies[strategy]
	if !ok {
		return nil, fmt.Errorf("unknown routing strategy %q", strategy)
	}
	r.strategy = s

	if err := r.Refresh(ctx); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *AccountRouter) RegisterStrategy(s Strategy) {
	r.strategies[s.Name()] = s
}

// Refresh 重新加载账号快照，账号增删改后调用
func (r *AccountRouter) Refresh(ctx context.Context) error {
	accounts, err := r.store.GetAll(ctx)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.accounts = accounts
	r.mu.Unlock()
	r.logger.Infof("Loaded %d accounts (strategy=%s)", len(accounts), r.strategy.Name())
	return nil
}

// Accounts 当前快照
func (r *AccountRouter) Accounts() []*models.Account {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*models.Account, len(r.accounts))
	copy(out, r.accounts)
	return out
}

// ByID 在快照中按 id 查找
func (r *AccountRouter) ByID(id string) (*models.Account, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, acc := range r.accounts {
		if acc.ID == id {
			return acc, true
		}
	}
	return nil, false
}

// Resolve 按优先级选择账号，全部未命中时返回 ErrUnauthorized
func (r *AccountRouter) Resolve(_ context.Context, q ResolveQuery) (*models.Account, error) {
	r.mu.RLock()
	accounts := r.accounts
	r.mu.RUnlock()

	// 1. token 即账号 id
	if q.AuthToken != "" {
		for _, acc := range accounts {
			if acc.ID == q.AuthToken && acc.IsActive() {
				return r.picked(acc, "token"), nil
			}
		}
	}

	provider := strings.ToLower(strings.TrimSpace(q.Provider))
	explicit := provider != ""
	if !explicit {
		provider = InferProvider(q.Model)
	}

	// 2/3. 指定 email
	if q.Email != "" {
		if provider == "" {
			return nil, apierr.ErrUnauthorized
		}
		for _, acc := range accounts {
			if acc.IsActive() && acc.SameIdentity(provider, q.Email) {
				return r.picked(acc, "email"), nil
			}
		}
		return nil, apierr.ErrUnauthorized
	}

	// 4. 策略选择
	if provider == "" {
		return nil, apierr.ErrUnauthorized
	}
	candidates := r.candidates(accounts, provider)
	if len(candidates) == 0 {
		return nil, apierr.ErrUnauthorized
	}
	acc, err := r.strategy.Select(candidates, r.cursor(provider).Add(1), r)
	if err != nil {
		return nil, apierr.ErrUnauthorized
	}
	return r.picked(acc, r.strategy.Name()), nil
}

// candidates 目标 provider 的 Active 账号；存在健康账号时跳过不健康的
func (r *AccountRouter) candidates(accounts []*models.Account, provider string) []*models.Account {
	var active, healthy []*models.Account
	for _, acc := range accounts {
		if !acc.IsActive() || !strings.EqualFold(acc.Provider, provider) {
			continue
		}
		active = append(active, acc)
		if r.health == nil || r.health.IsAvailable(acc.ID) {
			healthy = append(healthy, acc)
		}
	}
	if len(healthy) > 0 {
		return healthy
	}
	return active
}

func (r *AccountRouter) cursor(provider string) *atomic.Uint64 {
	r.cursorMu.Lock()
	defer r.cursorMu.Unlock()
	c, ok := r.cursors[provider]
	if !ok {
		c = &atomic.Uint64{}
		r.cursors[provider] = c
	}
	return c
}

func (r *AccountRouter) picked(acc *models.Account, via string) *models.Account {
	r.countMu.Lock()
	r.counts[acc.ID]++
	r.countMu.Unlock()
	r.logger.WithFields(logrus.Fields{
		"provider": acc.Provider,
		"account":  acc.ID,
		"via":      via,
	}).Debug("Account selected")
	return acc
}

// RequestCount 实现 UsageCounter
func (r *AccountRouter) RequestCount(accountID string) uint64 {
	r.countMu.RLock()
	defer r.countMu.RUnlock()
	return r.counts[accountID]
}

// RouterStats 路由统计，供管理接口展示
type RouterStats struct {
	Strategy string            `json:"strategy"`
	Accounts int               `json:"accounts"`
	Requests map[string]uint64 `json:"requests"`
}

func (r *AccountRouter) Stats() RouterStats {
	r.countMu.RLock()
	requests := make(map[string]uint64, len(r.counts))
	for id, n := range r.counts {
		requests[id] = n
	}
	r.countMu.RUnlock()

	r.mu.RLock()
	n := len(r.accounts)
	r.mu.RUnlock()

	return RouterStats{Strategy: r.strategy.Name(), Accounts: n, Requests: requests}
}
