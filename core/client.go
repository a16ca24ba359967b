package core

import (
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"chat-gateway/core/config"
)

// NewUpstreamClient 访问后端用的 HTTP Client
// 不设置整体超时，流式响应由 Request Context 控制
func NewUpstreamClient(cfg config.UpstreamConfig) (*http.Client, error) {
	proxy := http.ProxyFromEnvironment
	if cfg.Proxy != "" {
		u, err := url.Parse(cfg.Proxy)
		if err != nil {
			return nil, fmt.Errorf("invalid upstream proxy: %w", err)
		}
		proxy = http.ProxyURL(u)
	}

	return &http.Client{
		Timeout: 0,
		Transport: &http.Transport{
			Proxy: proxy,
			DialContext: (&net.Dialer{
				Timeout:   cfg.DialTimeout,
				KeepAlive: 60 * time.Second,
			}).DialContext,
			ForceAttemptHTTP2:     true,
			MaxIdleConns:          200,
			MaxIdleConnsPerHost:   20,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
			ResponseHeaderTimeout: cfg.ResponseHeaderTimeout, // 等待首字节超时
		},
	}, nil
}
