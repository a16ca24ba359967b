// Package apierr 网关错误分类
package apierr

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrUnauthorized 没有可用账号，终止且不重试
	ErrUnauthorized = errors.New("unauthorized: no account matched the request")
	// ErrProviderDisabled provider 被远程配置禁用
	ErrProviderDisabled = errors.New("provider disabled")
	// ErrNotSupported provider 不支持该能力
	ErrNotSupported = errors.New("operation not supported by provider")
	// ErrUnknownProvider 未注册的 provider
	ErrUnknownProvider = errors.New("unknown provider")
	// ErrAccountNotFound 按 id 查不到账号
	ErrAccountNotFound = errors.New("account not found")
	// ErrFrameParse 单帧解析失败，只在解析器内部计数，不会返回给调用方
	ErrFrameParse = errors.New("frame parse error")
)

// UpstreamError 后端返回非 2xx 或业务失败
type UpstreamError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *UpstreamError) Error() string {
	body := e.Body
	if len(body) > 200 {
		body = body[:200]
	}
	if e.StatusCode == 0 {
		return fmt.Sprintf("%s upstream error: %s", e.Provider, body)
	}
	return fmt.Sprintf("%s upstream error: status %d: %s", e.Provider, e.StatusCode, body)
}

// TransportError 连接层错误（握手、读 body 中断等）
type TransportError struct {
	Provider string
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s transport error: %v", e.Provider, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// NotSupported 包装能力缺失错误，带上 provider 与操作名
func NotSupported(provider, op string) error {
	return fmt.Errorf("%s: %s: %w", provider, op, ErrNotSupported)
}

// Disabled 包装 provider 禁用错误
func Disabled(provider string) error {
	return fmt.Errorf("%s: %w", provider, ErrProviderDisabled)
}

// HTTPStatus 错误到 HTTP 状态码的映射
func HTTPStatus(err error) int {
	var upstream *UpstreamError
	var transport *TransportError
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, ErrProviderDisabled):
		return http.StatusForbidden
	case errors.Is(err, ErrNotSupported):
		return http.StatusNotImplemented
	case errors.Is(err, ErrUnknownProvider), errors.Is(err, ErrAccountNotFound):
		return http.StatusNotFound
	case errors.As(err, &upstream), errors.As(err, &transport):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// Type 错误类型字符串，写入 ErrorDetail.Type
func Type(err error) string {
	var upstream *UpstreamError
	var transport *TransportError
	switch {
	case errors.Is(err, ErrUnauthorized):
		return "authentication_error"
	case errors.Is(err, ErrProviderDisabled):
		return "provider_disabled"
	case errors.Is(err, ErrNotSupported):
		return "not_supported"
	case errors.Is(err, ErrUnknownProvider), errors.Is(err, ErrAccountNotFound):
		return "not_found"
	case errors.As(err, &upstream):
		return "upstream_error"
	case errors.As(err, &transport):
		return "transport_error"
	}
	return "internal_error"
}
