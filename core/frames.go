package core

import (
	"encoding/json"
	"errors"
	"strings"
	"time"

	"chat-gateway/core/apierr"
	"chat-gateway/models"

	"github.com/google/uuid"
)

// DoneMarker 流结束标记
const DoneMarker = "[DONE]"

// FrameEncoder 将统一事件编码为调用方帧 (OpenAI chunk 形状)
type FrameEncoder struct {
	ID      string
	Model   string
	Created int64
}

func NewFrameEncoder(model string) *FrameEncoder {
	return &FrameEncoder{
		ID:      "chatcmpl-" + strings.ReplaceAll(uuid.NewString(), "-", ""),
		Model:   model,
		Created: time.Now().Unix(),
	}
}

type chunkChoice struct {
	Index int `json:"index"`
	Delta any `json:"delta"`
}

type chunk struct {
	ID      string        `json:"id"`
	Object  string        `json:"object"`
	Created int64         `json:"created"`
	Model   string        `json:"model"`
	Choices []chunkChoice `json:"choices"`
}

// Encode 返回帧内容 (不含 "data: " 前缀) 以及是否为终止帧
func (e *FrameEncoder) Encode(ev models.StreamEvent) ([]byte, bool) {
	switch ev.Type {
	case models.EventContent:
		return e.chunk(map[string]string{"content": ev.Content}), false
	case models.EventMetadata:
		return e.chunk(ev.Metadata), false
	case models.EventDone:
		return []byte(DoneMarker), true
	}
	msg := ev.Message
	if msg == "" && ev.Err != nil {
		msg = ev.Err.Error()
	}
	b, _ := json.Marshal(models.ErrorResponse{Error: models.ErrorDetail{
		Message: msg,
		Type:    apierr.Type(ev.Err),
	}})
	return b, true
}

func (e *FrameEncoder) chunk(delta any) []byte {
	c := chunk{
		ID:      e.ID,
		Object:  "chat.completion.chunk",
		Created: e.Created,
		Model:   e.Model,
		Choices: []chunkChoice{{Index: 0, Delta: delta}},
	}
	b, err := json.Marshal(c)
	if err != nil {
		// metadata 含无法序列化的值
		c.Choices[0].Delta = map[string]string{}
		b, _ = json.Marshal(c)
	}
	return b
}

// Aggregate 非流式请求：拼接内容、合并 metadata
func Aggregate(events <-chan models.StreamEvent, model string) (*models.ChatCompletionResponse, error) {
	var content strings.Builder
	meta := make(map[string]any)
	var failure error

	for ev := range events {
		switch ev.Type {
		case models.EventContent:
			content.WriteString(ev.Content)
		case models.EventMetadata:
			for k, v := range ev.Metadata {
				meta[k] = v
			}
		case models.EventError:
			failure = ev.Err
			if failure == nil {
				failure = errors.New(ev.Message)
			}
		}
	}
	if failure != nil {
		return nil, failure
	}

	enc := NewFrameEncoder(model)
	resp := &models.ChatCompletionResponse{
		ID:      enc.ID,
		Object:  "chat.completion",
		Created: enc.Created,
		Model:   model,
		Choices: []models.ChatCompletionChoice{{
			Index:        0,
			Message:      models.ChatMessage{Role: "assistant", Content: content.String()},
			FinishReason: "stop",
		}},
	}
	if len(meta) > 0 {
		resp.Metadata = meta
	}
	if n := usageTokens(meta); n > 0 {
		resp.Usage = &models.ChatCompletionUsage{TotalTokens: int(n)}
	}
	return resp, nil
}
