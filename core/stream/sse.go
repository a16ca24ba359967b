package stream

import (
	"strings"

	"chat-gateway/core/apierr"
	"chat-gateway/models"

	"github.com/tidwall/gjson"
)

// Decoder 解码一条 SSE data 载荷，done 为 true 表示该帧是终止帧
type Decoder func(payload gjson.Result) (events []models.StreamEvent, done bool)

// SSEParser `data: ` 前缀的 SSE，`[DONE]` 终止
type SSEParser struct {
	*lineParser
	decode Decoder
}

// NewSSEParser 使用指定载荷解码器
func NewSSEParser(decode Decoder) *SSEParser {
	p := &SSEParser{lineParser: &lineParser{}, decode: decode}
	p.handle = p.handleLine
	return p
}

func (p *SSEParser) handleLine(line string) []models.StreamEvent {
	if !strings.HasPrefix(line, "data:") {
		// event: / id: / 注释行
		return nil
	}
	payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
	if payload == "" {
		return nil
	}
	if payload == "[DONE]" {
		p.finish()
		return nil
	}
	if !gjson.Valid(payload) {
		p.bad()
		return nil
	}
	events, done := p.decode(gjson.Parse(payload))
	if done {
		p.finish()
	}
	return events
}

// errorPayload 识别 {"error": {...}} 形式的后端错误
func errorPayload(r gjson.Result) (models.StreamEvent, bool) {
	e := r.Get("error")
	if !e.Exists() || e.Type == gjson.Null {
		return models.StreamEvent{}, false
	}
	msg := e.Get("message").String()
	if msg == "" {
		msg = e.String()
	}
	return models.ErrorEvent(msg, &apierr.UpstreamError{Body: msg}), true
}

// OpenAIDelta choices[0].delta.content，Qwen / Groq / StepFun 共用
func OpenAIDelta(r gjson.Result) ([]models.StreamEvent, bool) {
	if ev, ok := errorPayload(r); ok {
		return []models.StreamEvent{ev}, true
	}
	var out []models.StreamEvent
	if c := r.Get("choices.0.delta.content"); c.Type == gjson.String && c.Str != "" {
		out = append(out, models.ContentEvent(c.Str))
	}
	if u := r.Get("usage.total_tokens"); u.Exists() && u.Int() > 0 {
		out = append(out, models.MetadataEvent(map[string]any{
			"usage": map[string]any{"total_tokens": u.Int()},
		}))
	}
	return out, false
}

// ClaudeWebDecoder claude.ai 的 completion 流，兼容 messages API 的 typed 事件
func ClaudeWebDecoder(r gjson.Result) ([]models.StreamEvent, bool) {
	if ev, ok := errorPayload(r); ok {
		return []models.StreamEvent{ev}, true
	}
	var out []models.StreamEvent
	switch r.Get("type").String() {
	case "content_block_delta":
		if t := r.Get("delta.text"); t.Str != "" {
			out = append(out, models.ContentEvent(t.Str))
		}
		return out, false
	case "message_stop":
		return nil, true
	}
	if c := r.Get("completion"); c.Type == gjson.String && c.Str != "" {
		out = append(out, models.ContentEvent(c.Str))
	}
	if s := r.Get("stop_reason"); s.Type == gjson.String && s.Str != "" {
		return out, true
	}
	return out, false
}

// CohereDecoder v2 chat 流
func CohereDecoder(r gjson.Result) ([]models.StreamEvent, bool) {
	switch r.Get("type").String() {
	case "content-delta":
		if t := r.Get("delta.message.content.text"); t.Str != "" {
			return []models.StreamEvent{models.ContentEvent(t.Str)}, false
		}
	case "message-end":
		var out []models.StreamEvent
		if n := r.Get("delta.usage.tokens.output_tokens"); n.Exists() {
			total := n.Int() + r.Get("delta.usage.tokens.input_tokens").Int()
			out = append(out, models.MetadataEvent(map[string]any{
				"usage": map[string]any{"total_tokens": total},
			}))
		}
		return out, true
	}
	if ev, ok := errorPayload(r); ok {
		return []models.StreamEvent{ev}, true
	}
	return nil, false
}

// NewPerplexityDecoder output 为内容；backend_uuid / read_write_token / uuid 通过 onState 交给调用方
func NewPerplexityDecoder(onState func(key, value string)) Decoder {
	return func(r gjson.Result) ([]models.StreamEvent, bool) {
		if ev, ok := errorPayload(r); ok {
			return []models.StreamEvent{ev}, true
		}
		if onState != nil {
			for _, key := range []string{"backend_uuid", "read_write_token", "uuid"} {
				if v := r.Get(key); v.Type == gjson.String && v.Str != "" {
					onState(key, v.Str)
				}
			}
		}
		if o := r.Get("output"); o.Type == gjson.String && o.Str != "" {
			return []models.StreamEvent{models.ContentEvent(o.Str)}, false
		}
		return nil, false
	}
}
