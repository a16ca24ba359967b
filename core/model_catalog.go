package core

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
)

// ModelCatalog 远程模型目录 (原样透传)，TTL 缓存，拉取失败时使用旧值
type ModelCatalog struct {
	cache  *TTLCache[[]json.RawMessage]
	logger *logrus.Logger
}

func NewModelCatalog(url string, ttl time.Duration, client *http.Client, logger *logrus.Logger) *ModelCatalog {
	if client == nil {
		client = http.DefaultClient
	}
	c := &ModelCatalog{logger: logger}
	c.cache = NewTTLCache(ttl, func(ctx context.Context) ([]json.RawMessage, error) {
		if url == "" {
			return []json.RawMessage{}, nil
		}
		doc, err := fetchRemoteJSON(ctx, client, url)
		if err != nil {
			logger.Errorf("[Models] Failed to fetch from %s: %v", url, err)
			return nil, err
		}
		list := catalogEntries(doc)
		logger.Infof("[Models] Loaded %d models from %s", len(list), url)
		return list, nil
	})
	return c
}

// catalogEntries 接受数组、{"data": [...]}、{"models": [...]} 或按 provider 分组的对象
func catalogEntries(doc gjson.Result) []json.RawMessage {
	var src []gjson.Result
	switch {
	case doc.IsArray():
		src = doc.Array()
	case doc.Get("data").IsArray():
		src = doc.Get("data").Array()
	case doc.Get("models").IsArray():
		src = doc.Get("models").Array()
	case doc.IsObject():
		doc.ForEach(func(_, v gjson.Result) bool {
			if v.IsArray() {
				src = append(src, v.Array()...)
			}
			return true
		})
	}
	out := make([]json.RawMessage, 0, len(src))
	for _, v := range src {
		out = append(out, json.RawMessage(v.Raw))
	}
	return out
}

// Models 无缓存且拉取失败时返回空列表
func (c *ModelCatalog) Models(ctx context.Context) []json.RawMessage {
	list, stale, err := c.cache.Get(ctx)
	if err != nil {
		return []json.RawMessage{}
	}
	if stale {
		c.logger.Warn("[Models] Using stale cache")
	}
	return list
}

// Refresh 清除缓存后重新拉取
func (c *ModelCatalog) Refresh(ctx context.Context) []json.RawMessage {
	c.cache.Invalidate()
	return c.Models(ctx)
}
