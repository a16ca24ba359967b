package main

import (
	"bytes"
	"crypto/subtle"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"chat-gateway/models"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// adminAuthMiddleware 管理接口鉴权，支持 Header 和 Query 两种方式
// 未配置 admin token 时管理接口整体关闭
func adminAuthMiddleware(adminToken string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method == http.MethodOptions {
			c.Next()
			return
		}
		if adminToken == "" {
			c.AbortWithStatusJSON(http.StatusForbidden, models.ErrorResponse{
				Error: models.ErrorDetail{Message: "Management API disabled: no admin token configured", Type: "permission_error"},
			})
			return
		}

		var token string
		if authHeader := c.GetHeader("Authorization"); authHeader != "" {
			token = strings.TrimPrefix(authHeader, "Bearer ")
		}
		if token == "" {
			token = c.Query("token")
		}
		if token == "" {
			token = c.GetHeader("x-api-key")
		}

		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, models.ErrorResponse{
				Error: models.ErrorDetail{Message: "Missing authentication token", Type: "authentication_error"},
			})
			return
		}
		if subtle.ConstantTimeCompare([]byte(token), []byte(adminToken)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, models.ErrorResponse{
				Error: models.ErrorDetail{Message: "Invalid token", Type: "authentication_error"},
			})
			return
		}
		c.Next()
	}
}

// requestLoggerMiddleware 只记录错误请求
func requestLoggerMiddleware(log *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		var bodyBytes []byte
		if c.Request.Body != nil && c.Request.Method != http.MethodGet {
			bodyBytes, _ = io.ReadAll(c.Request.Body)
			c.Request.Body.Close()
			c.Request.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))
		}

		c.Next()

		statusCode := c.Writer.Status()
		if statusCode < 400 {
			log.Debugf("Request processed - %s %s (status: %d, latency: %v)",
				c.Request.Method, c.Request.URL.Path, statusCode, time.Since(start))
			return
		}

		fields := logrus.Fields{
			"method":    c.Request.Method,
			"path":      c.Request.URL.Path,
			"query":     c.Request.URL.RawQuery,
			"status":    statusCode,
			"latency":   time.Since(start),
			"client_ip": c.ClientIP(),
		}
		// 请求体可能带凭证，只记录长度
		if len(bodyBytes) > 0 {
			fields["body_size"] = len(bodyBytes)
		}

		entry := log.WithFields(fields)
		if statusCode >= 500 {
			entry.Error("Server error")
		} else {
			entry.Warn("Client error")
		}
	}
}

// corsMiddleware CORS中间件
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Content-Length, Accept-Encoding, Authorization, X-API-Key")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// client 包装限流器及其最后访问时间
type client struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// IPRateLimiter 带有自动清理机制的 IP 限流器
// rps 为 0 时不限流
type IPRateLimiter struct {
	clients map[string]*client
	mu      sync.Mutex
	rate    rate.Limit
	burst   int
	now     func() time.Time
}

func NewIPRateLimiter(rps float64, burst int) *IPRateLimiter {
	i := &IPRateLimiter{
		clients: make(map[string]*client),
		rate:    rate.Limit(rps),
		burst:   burst,
		now:     time.Now,
	}
	if rps > 0 {
		go i.cleanupLoop()
	}
	return i
}

// Allow 获取或创建 IP 对应的限流器，并更新访问时间
func (i *IPRateLimiter) Allow(ip string) bool {
	if i.rate <= 0 {
		return true
	}
	i.mu.Lock()
	c, exists := i.clients[ip]
	if !exists {
		c = &client{limiter: rate.NewLimiter(i.rate, i.burst)}
		i.clients[ip] = c
	}
	c.lastSeen = i.now()
	i.mu.Unlock()
	return c.limiter.Allow()
}

func (i *IPRateLimiter) cleanupLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for range ticker.C {
		i.cleanup(3 * time.Minute)
	}
}

// cleanup 清理超过 idle 未活跃的 IP
func (i *IPRateLimiter) cleanup(idle time.Duration) {
	i.mu.Lock()
	defer i.mu.Unlock()
	for ip, c := range i.clients {
		if i.now().Sub(c.lastSeen) > idle {
			delete(i.clients, ip)
		}
	}
}

// rateLimitMiddleware IP 限流中间件
func rateLimitMiddleware(limiter *IPRateLimiter, log *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		clientIP := c.ClientIP()
		if !limiter.Allow(clientIP) {
			log.Warnf("Rate limit exceeded for IP: %s", clientIP)
			c.AbortWithStatusJSON(http.StatusTooManyRequests, models.ErrorResponse{
				Error: models.ErrorDetail{Message: "Too Many Requests", Type: "rate_limit_error"},
			})
			return
		}
		c.Next()
	}
}
