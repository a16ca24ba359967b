package core

import (
	"context"
	"net/http"
	"sort"
	"strings"
	"time"

	"chat-gateway/core/apierr"
	"chat-gateway/models"

	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
)

// ProviderEnablement provider 启用状态
// 配置了远程 URL 时以远程列表为准 (TTL 缓存)，否则为静态配置：已注册即启用，disabled 列表除外
type ProviderEnablement struct {
	registered []string
	disabled   map[string]bool
	remote     *TTLCache[[]models.ProviderStatus]
	logger     *logrus.Logger
}

func NewProviderEnablement(registered []string, disabled []string, url string, ttl time.Duration, client *http.Client, logger *logrus.Logger) *ProviderEnablement {
	e := &ProviderEnablement{
		registered: registered,
		disabled:   make(map[string]bool, len(disabled)),
		logger:     logger,
	}
	for _, p := range disabled {
		e.disabled[strings.ToLower(p)] = true
	}
	if url != "" {
		if client == nil {
			client = http.DefaultClient
		}
		e.remote = NewTTLCache(ttl, func(ctx context.Context) ([]models.ProviderStatus, error) {
			doc, err := fetchRemoteJSON(ctx, client, url)
			if err != nil {
				logger.Errorf("Failed to fetch provider config: %v", err)
				return nil, err
			}
			return parseProviderStatuses(doc), nil
		})
	}
	return e
}

// parseProviderStatuses 接受数组或 {"data": [...]}
func parseProviderStatuses(doc gjson.Result) []models.ProviderStatus {
	list := doc
	if !list.IsArray() {
		list = doc.Get("data")
	}
	var out []models.ProviderStatus
	list.ForEach(func(_, v gjson.Result) bool {
		id := v.Get("provider_id").String()
		if id == "" {
			return true
		}
		out = append(out, models.ProviderStatus{
			ID:      strings.ToLower(id),
			Name:    v.Get("provider_name").String(),
			Enabled: v.Get("is_enabled").Bool(),
		})
		return true
	})
	return out
}

// List 所有 provider 的启用状态
func (e *ProviderEnablement) List(ctx context.Context) ([]models.ProviderStatus, error) {
	if e.remote == nil {
		out := make([]models.ProviderStatus, 0, len(e.registered))
		for _, id := range e.registered {
			out = append(out, models.ProviderStatus{ID: id, Name: id, Enabled: !e.disabled[id]})
		}
		sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
		return out, nil
	}
	list, stale, err := e.remote.Get(ctx)
	if err != nil {
		return nil, err
	}
	if stale {
		e.logger.Warn("Provider config refresh failed, using cached list")
	}
	return list, nil
}

// IsEnabled 远程列表中不存在的 provider 视为禁用
func (e *ProviderEnablement) IsEnabled(ctx context.Context, provider string) (bool, error) {
	provider = strings.ToLower(provider)
	if e.remote == nil {
		return !e.disabled[provider], nil
	}
	list, err := e.List(ctx)
	if err != nil {
		// 拉取失败且无缓存时按禁用处理
		e.logger.WithField("provider", provider).Warnf("Provider config unavailable: %v", err)
		return false, nil
	}
	for _, p := range list {
		if p.ID == provider {
			return p.Enabled && !e.disabled[provider], nil
		}
	}
	return false, nil
}

// Check 禁用时返回 ErrProviderDisabled
func (e *ProviderEnablement) Check(ctx context.Context, provider string) error {
	ok, err := e.IsEnabled(ctx, provider)
	if err != nil {
		return err
	}
	if !ok {
		return apierr.Disabled(provider)
	}
	return nil
}
