package main

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"chat-gateway/core"
	"chat-gateway/core/apierr"
	"chat-gateway/models"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const wsWriteWait = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// 与 CORS 策略一致，允许任意来源
	CheckOrigin: func(*http.Request) bool { return true },
}

// handleChatWebSocket GET /v1/chat/ws
// 每条文本消息是一次聊天请求，帧格式与 SSE 相同 (不带 "data: " 前缀)，以 [DONE] 或 error 帧结束
func handleChatWebSocket(a *app) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := core.BearerToken(c)
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			a.logger.Warnf("WebSocket upgrade failed: %v", err)
			return
		}
		defer conn.Close()

		// 连接被 hijack 后请求 ctx 不再随客户端断开而取消
		ctx, cancel := context.WithCancel(c.Request.Context())
		defer cancel()
		log := a.logger.WithField("client_ip", c.ClientIP())

		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					log.Debugf("WebSocket closed: %v", err)
				}
				return
			}

			var body models.ChatCompletionRequest
			if err := json.Unmarshal(msg, &body); err != nil || body.Model == "" || len(body.Messages) == 0 {
				if writeWSError(conn, "Invalid request body", "invalid_request_error") != nil {
					return
				}
				continue
			}

			q := core.ResolveQuery{AuthToken: token, Provider: body.Provider, Email: body.Email, Model: body.Model}
			req := body.ToChatRequest()
			events, _, err := a.dispatcher.Chat(ctx, q, req)
			if err != nil {
				if writeWSError(conn, err.Error(), apierr.Type(err)) != nil {
					return
				}
				continue
			}
			if err := pumpEvents(conn, events, body.Model, log, cancel); err != nil {
				return
			}
		}
	}
}

// pumpEvents 写出一次请求的全部帧；写失败时取消上游并排空 channel
func pumpEvents(conn *websocket.Conn, events <-chan models.StreamEvent, model string, log *logrus.Entry, cancel context.CancelFunc) error {
	enc := core.NewFrameEncoder(model)
	var writeErr error
	for ev := range events {
		if writeErr != nil {
			continue
		}
		frame, _ := enc.Encode(ev)
		conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
			log.Debugf("WebSocket write failed: %v", err)
			writeErr = err
			cancel()
		}
	}
	return writeErr
}

func writeWSError(conn *websocket.Conn, message, typ string) error {
	b, _ := json.Marshal(models.ErrorResponse{Error: models.ErrorDetail{Message: message, Type: typ}})
	conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return conn.WriteMessage(websocket.TextMessage, b)
}
