package core

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"chat-gateway/core/adapter"
	"chat-gateway/core/apierr"
	"chat-gateway/models"

	"github.com/sirupsen/logrus"
)

const defaultCooldown = 60 * time.Second

// UsageSink 接收单次请求的使用记录
type UsageSink interface {
	Record(rec *models.UsageRecord)
}

// Dispatcher 账号选择 -> 启用检查 -> 能力查找 -> 调用后端
// 每次后端调用的结果会回写账号健康状态与使用统计
type Dispatcher struct {
	registry     *adapter.Registry
	router       *AccountRouter
	enablement   *ProviderEnablement
	orchestrator *adapter.Orchestrator
	health       HealthTracker
	usage        UsageSink
	logger       *logrus.Logger
	cooldown     time.Duration
}

func NewDispatcher(
	registry *adapter.Registry,
	router *AccountRouter,
	enablement *ProviderEnablement,
	orchestrator *adapter.Orchestrator,
	health HealthTracker,
	usage UsageSink,
	logger *logrus.Logger,
) *Dispatcher {
	return &Dispatcher{
		registry:     registry,
		router:       router,
		enablement:   enablement,
		orchestrator: orchestrator,
		health:       health,
		usage:        usage,
		logger:       logger,
		cooldown:     defaultCooldown,
	}
}

func (d *Dispatcher) Registry() *adapter.Registry { return d.registry }

func (d *Dispatcher) Router() *AccountRouter { return d.router }

func (d *Dispatcher) Enablement() *ProviderEnablement { return d.enablement }

// Chat 选定账号并开始流式对话
// 返回的 channel 只在账号解析、启用检查与能力检查都通过后才会建立
func (d *Dispatcher) Chat(ctx context.Context, q ResolveQuery, req *models.ChatRequest) (<-chan models.StreamEvent, *models.Account, error) {
	acc, err := d.router.Resolve(ctx, q)
	if err != nil {
		return nil, nil, err
	}
	if err := d.enablement.Check(ctx, acc.Provider); err != nil {
		return nil, acc, err
	}
	c, err := d.registry.Chat(acc.Provider)
	if err != nil {
		return nil, acc, err
	}

	d.logger.WithFields(logrus.Fields{
		"provider":     acc.Provider,
		"account":      acc.ID,
		"model":        req.Model,
		"conversation": req.ConversationID,
	}).Info("Dispatching chat")

	start := time.Now()
	in := d.orchestrator.Stream(ctx, c, acc, req)
	out := make(chan models.StreamEvent)
	go func() {
		defer close(out)
		var tokens int64
		for ev := range in {
			if ev.Type == models.EventMetadata {
				if n := usageTokens(ev.Metadata); n > 0 {
					tokens = n
				}
			}
			if ev.IsTerminal() {
				d.observe(acc, start, ev.Err, ev.Type == models.EventDone, tokens)
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				// 调用方已离开，继续消费直到上游关闭
			}
		}
	}()
	return out, acc, nil
}

// ListConversations 会话列表
func (d *Dispatcher) ListConversations(ctx context.Context, q ResolveQuery, page, limit int) ([]models.ConversationSummary, error) {
	var out []models.ConversationSummary
	err := d.call(ctx, q, "listConversations", func(acc *models.Account) error {
		l, err := d.registry.Lister(acc.Provider)
		if err != nil {
			return err
		}
		out, err = l.ListConversations(ctx, acc, page, limit)
		return err
	})
	return out, err
}

func (d *Dispatcher) GetConversation(ctx context.Context, q ResolveQuery, id string) (json.RawMessage, error) {
	var out json.RawMessage
	err := d.call(ctx, q, "getConversationDetail", func(acc *models.Account) error {
		r, err := d.registry.Reader(acc.Provider)
		if err != nil {
			return err
		}
		out, err = r.GetConversation(ctx, acc, id)
		return err
	})
	return out, err
}

func (d *Dispatcher) DeleteConversation(ctx context.Context, q ResolveQuery, id string) error {
	return d.call(ctx, q, "deleteConversation", func(acc *models.Account) error {
		del, err := d.registry.Deleter(acc.Provider)
		if err != nil {
			return err
		}
		return del.DeleteConversation(ctx, acc, id)
	})
}

func (d *Dispatcher) StopResponse(ctx context.Context, q ResolveQuery, conversationID, messageID string) error {
	return d.call(ctx, q, "stopResponse", func(acc *models.Account) error {
		s, err := d.registry.Stopper(acc.Provider)
		if err != nil {
			return err
		}
		return s.StopResponse(ctx, acc, conversationID, messageID)
	})
}

func (d *Dispatcher) ListModels(ctx context.Context, q ResolveQuery) ([]models.ModelInfo, error) {
	var out []models.ModelInfo
	err := d.call(ctx, q, "listModels", func(acc *models.Account) error {
		m, err := d.registry.Models(acc.Provider)
		if err != nil {
			return err
		}
		out, err = m.ListModels(ctx, acc)
		return err
	})
	return out, err
}

// call provider 已知时先做启用与能力检查，再解析账号
func (d *Dispatcher) call(ctx context.Context, q ResolveQuery, op string, fn func(acc *models.Account) error) error {
	provider := strings.ToLower(q.Provider)
	if provider != "" {
		if _, err := d.registry.Get(provider); err != nil {
			return err
		}
		if err := d.enablement.Check(ctx, provider); err != nil {
			return err
		}
		if err := d.supports(provider, op); err != nil {
			return err
		}
	}

	acc, err := d.router.Resolve(ctx, q)
	if err != nil {
		return err
	}
	if provider == "" {
		if err := d.enablement.Check(ctx, acc.Provider); err != nil {
			return err
		}
	}

	start := time.Now()
	err = fn(acc)
	d.observe(acc, start, err, err == nil, 0)
	if err != nil {
		d.logger.WithFields(logrus.Fields{
			"provider": acc.Provider,
			"account":  acc.ID,
			"op":       op,
		}).Warnf("Provider call failed: %v", err)
	}
	return err
}

func (d *Dispatcher) supports(provider, op string) error {
	var err error
	switch op {
	case "listConversations":
		_, err = d.registry.Lister(provider)
	case "getConversationDetail":
		_, err = d.registry.Reader(provider)
	case "deleteConversation":
		_, err = d.registry.Deleter(provider)
	case "stopResponse":
		_, err = d.registry.Stopper(provider)
	case "listModels":
		_, err = d.registry.Models(provider)
	}
	return err
}

// observe 更新健康状态 (401/403 失效, 429 冷却) 并提交使用记录
func (d *Dispatcher) observe(acc *models.Account, start time.Time, err error, success bool, tokens int64) {
	var upstream *apierr.UpstreamError
	if d.health != nil && errors.As(err, &upstream) {
		switch upstream.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			d.logger.WithField("account", acc.ID).Warn("Account credential rejected, marking dead")
			d.health.MarkDead(acc.ID)
		case http.StatusTooManyRequests:
			d.health.MarkCooldown(acc.ID, d.cooldown)
		}
	}
	if d.usage != nil {
		d.usage.Record(&models.UsageRecord{
			AccountID: acc.ID,
			Success:   success,
			Duration:  time.Since(start),
			Tokens:    tokens,
			At:        time.Now(),
		})
	}
}

func usageTokens(meta map[string]any) int64 {
	u, ok := meta["usage"].(map[string]any)
	if !ok {
		return 0
	}
	switch n := u["total_tokens"].(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	}
	return 0
}
