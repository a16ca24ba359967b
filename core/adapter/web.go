package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"chat-gateway/core/apierr"
	"chat-gateway/models"

	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
)

const (
	// 错误响应最多读取的字节数
	errorBodyLimit = 4096
	defaultUA      = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36"
)

// Session 一次请求内共享的上游调用上下文
type Session struct {
	Provider string
	Account  *models.Account
	BaseURL  string
	Header   http.Header
	Client   *http.Client
	Logger   *logrus.Entry
	// State adapter 私有的请求内状态，如 organization id，不回传给调用方
	State map[string]string
}

// Conversation 一次请求解析出的后端会话状态
type Conversation struct {
	ID        string
	ParentID  string
	IsNew     bool
	Title     string
	MessageID string
	// Extra 需要回传给调用方的 continuity 字段
	Extra map[string]any
	// Header 只用于本次发送的额外请求头，如 PoW
	Header http.Header
}

// SetExtra 解析器回调与 orchestrator 在同一 goroutine，不加锁
func (c *Conversation) SetExtra(key string, value any) {
	if c.Extra == nil {
		c.Extra = make(map[string]any)
	}
	c.Extra[key] = value
}

func (s *Session) url(path string) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	return strings.TrimRight(s.BaseURL, "/") + path
}

func (s *Session) newRequest(ctx context.Context, method, path string, body any, extra http.Header) (*http.Request, error) {
	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case []byte:
		reader = bytes.NewReader(b)
	case string:
		reader = strings.NewReader(b)
	case io.Reader:
		reader = b
	default:
		data, err := json.Marshal(b)
		if err != nil {
			return nil, fmt.Errorf("marshal %s request: %w", s.Provider, err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.url(path), reader)
	if err != nil {
		return nil, err
	}
	for k, vs := range s.Header {
		req.Header[k] = append([]string(nil), vs...)
	}
	for k, vs := range extra {
		req.Header[k] = append([]string(nil), vs...)
	}
	if reader != nil && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

// Do 发送请求；非 2xx 转成 UpstreamError 并关闭 body
func (s *Session) Do(req *http.Request) (*http.Response, error) {
	resp, err := s.Client.Do(req)
	if err != nil {
		return nil, &apierr.TransportError{Provider: s.Provider, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyLimit))
		s.Logger.WithFields(logrus.Fields{
			"status": resp.StatusCode,
			"url":    req.URL.Path,
		}).Warn("upstream returned non-2xx")
		return nil, &apierr.UpstreamError{Provider: s.Provider, StatusCode: resp.StatusCode, Body: string(body)}
	}
	return resp, nil
}

// Call 构造并发送请求，调用方负责关闭 body
func (s *Session) Call(ctx context.Context, method, path string, body any, extra http.Header) (*http.Response, error) {
	req, err := s.newRequest(ctx, method, path, body, extra)
	if err != nil {
		return nil, err
	}
	return s.Do(req)
}

// Text 读取完整响应文本
func (s *Session) Text(ctx context.Context, method, path string, body any, extra http.Header) (string, error) {
	resp, err := s.Call(ctx, method, path, body, extra)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &apierr.TransportError{Provider: s.Provider, Err: err}
	}
	return string(data), nil
}

// JSON 读取完整响应并解析为 gjson
func (s *Session) JSON(ctx context.Context, method, path string, body any, extra http.Header) (gjson.Result, error) {
	text, err := s.Text(ctx, method, path, body, extra)
	if err != nil {
		return gjson.Result{}, err
	}
	if !gjson.Valid(text) {
		return gjson.Result{}, &apierr.UpstreamError{Provider: s.Provider, StatusCode: http.StatusOK, Body: "invalid json: " + text}
	}
	return gjson.Parse(text), nil
}

// base 各 adapter 共用的字段
type base struct {
	name    string
	baseURL string
	client  *http.Client
	logger  *logrus.Logger
	ua      string
}

func newBase(name, defaultURL string, opts Options) base {
	b := base{name: name, baseURL: defaultURL, client: opts.Client, logger: opts.Logger, ua: defaultUA}
	if opts.BaseURL != "" {
		b.baseURL = opts.BaseURL
	}
	if b.client == nil {
		b.client = http.DefaultClient
	}
	if b.logger == nil {
		b.logger = logrus.StandardLogger()
	}
	return b
}

func (b *base) Name() string { return b.name }

// session 创建 Session，header 为该 provider 的固定请求头
func (b *base) session(acc *models.Account, header http.Header) *Session {
	if header == nil {
		header = make(http.Header)
	}
	ua := b.ua
	if acc != nil && acc.UserAgent != "" {
		ua = acc.UserAgent
	}
	if header.Get("User-Agent") == "" {
		header.Set("User-Agent", ua)
	}
	fields := logrus.Fields{"provider": b.name}
	if acc != nil {
		fields["account"] = acc.ID
	}
	return &Session{
		Provider: b.name,
		Account:  acc,
		BaseURL:  b.baseURL,
		Header:   header,
		Client:   b.client,
		Logger:   b.logger.WithFields(fields),
		State:    make(map[string]string),
	}
}

// upstreamf 2xx 但内容不符合预期
func upstreamf(s *Session, format string, args ...any) error {
	return &apierr.UpstreamError{Provider: s.Provider, Body: fmt.Sprintf(format, args...)}
}

func credential(acc *models.Account) string {
	if acc == nil {
		return ""
	}
	return strings.TrimSpace(acc.Credential)
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
