package core

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"chat-gateway/core/apierr"
	"chat-gateway/models"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// ChatProxy 对外聊天接口 (SSE 或聚合 JSON)
type ChatProxy struct {
	dispatcher *Dispatcher
	logger     *logrus.Logger
}

func NewChatProxy(d *Dispatcher, logger *logrus.Logger) *ChatProxy {
	return &ChatProxy{dispatcher: d, logger: logger}
}

// getClientIP 获取客户端真实IP地址
func getClientIP(c *gin.Context) string {
	if xff := c.GetHeader("X-Forwarded-For"); xff != "" {
		// X-Forwarded-For 可能包含多个IP，取第一个
		if idx := strings.Index(xff, ","); idx != -1 {
			return strings.TrimSpace(xff[:idx])
		}
		return strings.TrimSpace(xff)
	}
	if xri := c.GetHeader("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}
	return c.ClientIP()
}

// BearerToken Authorization: Bearer <token>
func BearerToken(c *gin.Context) string {
	auth := c.GetHeader("Authorization")
	if len(auth) > 7 && strings.EqualFold(auth[:7], "Bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	return ""
}

// QueryFor 从请求中组装账号选择条件；query 参数优先于请求体
func QueryFor(c *gin.Context, body *models.ChatCompletionRequest) ResolveQuery {
	q := ResolveQuery{AuthToken: BearerToken(c)}
	if body != nil {
		q.Provider = body.Provider
		q.Email = body.Email
		q.Model = body.Model
	}
	if v := c.Query("provider"); v != "" {
		q.Provider = v
	}
	if v := c.Query("email"); v != "" {
		q.Email = v
	}
	return q
}

// WriteError 统一错误响应
func WriteError(c *gin.Context, err error) {
	c.JSON(apierr.HTTPStatus(err), models.ErrorResponse{Error: models.ErrorDetail{
		Message: err.Error(),
		Type:    apierr.Type(err),
	}})
}

// HandleChatCompletions POST /v1/chat/completions
func (h *ChatProxy) HandleChatCompletions(c *gin.Context) {
	var body models.ChatCompletionRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: models.ErrorDetail{
			Message: "Invalid request body: " + err.Error(),
			Type:    "invalid_request_error",
		}})
		return
	}
	h.serve(c, QueryFor(c, &body), &body)
}

// HandleAccountMessages POST /v1/accounts/:id/messages，直接指定账号
func (h *ChatProxy) HandleAccountMessages(c *gin.Context) {
	var body models.ChatCompletionRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: models.ErrorDetail{
			Message: "Invalid request body: " + err.Error(),
			Type:    "invalid_request_error",
		}})
		return
	}
	acc, ok := h.dispatcher.Router().ByID(c.Param("id"))
	if !ok {
		WriteError(c, apierr.ErrAccountNotFound)
		return
	}
	if !acc.IsActive() {
		WriteError(c, apierr.ErrUnauthorized)
		return
	}
	h.serve(c, ResolveQuery{AuthToken: acc.ID, Provider: acc.Provider, Model: body.Model}, &body)
}

func (h *ChatProxy) serve(c *gin.Context, q ResolveQuery, body *models.ChatCompletionRequest) {
	start := time.Now()
	req := body.ToChatRequest()
	ctx := c.Request.Context()

	events, acc, err := h.dispatcher.Chat(ctx, q, req)
	if err != nil {
		h.logger.WithFields(logrus.Fields{
			"ip":    getClientIP(c),
			"model": body.Model,
		}).Warnf("Chat rejected: %v", err)
		WriteError(c, err)
		return
	}

	if !req.Stream {
		resp, err := Aggregate(events, body.Model)
		if err != nil {
			WriteError(c, err)
			return
		}
		c.JSON(http.StatusOK, resp)
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	enc := NewFrameEncoder(body.Model)
	for ev := range events {
		frame, terminal := enc.Encode(ev)
		if _, err := fmt.Fprintf(c.Writer, "data: %s\n\n", frame); err != nil {
			h.logger.WithField("account", acc.ID).Debugf("Client write failed: %v", err)
			break
		}
		c.Writer.Flush()
		if terminal {
			break
		}
	}
	// 排空，保证上游 goroutine 退出
	for range events {
	}

	h.logger.WithFields(logrus.Fields{
		"provider": acc.Provider,
		"account":  acc.ID,
		"duration": time.Since(start).String(),
	}).Info("Chat finished")
}
