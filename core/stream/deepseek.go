package stream

import (
	"strings"

	"chat-gateway/models"

	"github.com/tidwall/gjson"
)

// DeepSeekDecoder chat.deepseek.com 的 {p, o, v} patch 流
type DeepSeekDecoder struct {
	// Thinking 为 false 时丢弃 thinking_content
	Thinking bool
	// OnMessageID 收到 response_message_id 时回调，用作下一轮的 parent_message_id
	OnMessageID func(id int64)

	// 上一个 patch 的路径；只带 v 的后续帧沿用它
	lastPath string
	// 当前 fragment 是否为 THINK
	fragThink bool
}

// Decode 实现 Decoder
func (d *DeepSeekDecoder) Decode(r gjson.Result) ([]models.StreamEvent, bool) {
	if ev, ok := errorPayload(r); ok {
		return []models.StreamEvent{ev}, true
	}

	// 消息 id 帧，不是内容
	if r.Get("request_message_id").Exists() && r.Get("response_message_id").Exists() {
		if d.OnMessageID != nil {
			d.OnMessageID(r.Get("response_message_id").Int())
		}
		return nil, false
	}

	if c := r.Get("choices.0.delta.content"); c.Type == gjson.String && c.Str != "" {
		return []models.StreamEvent{models.ContentEvent(c.Str)}, false
	}

	path := r.Get("p").String()
	if path != "" {
		d.lastPath = path
	}
	v := r.Get("v")

	switch {
	case v.Type == gjson.String:
		p := path
		if p == "" {
			p = d.lastPath
		}
		return d.text(p, v.Str), false
	case r.Get("o").String() == "BATCH" && v.IsArray():
		for _, item := range v.Array() {
			if item.Get("p").String() == "accumulated_token_usage" && item.Get("v").Type == gjson.Number {
				return []models.StreamEvent{models.MetadataEvent(map[string]any{
					"usage": map[string]any{"total_tokens": item.Get("v").Int()},
				})}, false
			}
		}
	case v.IsArray() && strings.HasSuffix(path, "fragments"):
		var out []models.StreamEvent
		for _, frag := range v.Array() {
			d.fragThink = frag.Get("type").String() == "THINK"
			d.lastPath = "response/fragments/-1/content"
			out = append(out, d.text(d.lastPath, frag.Get("content").String())...)
		}
		return out, false
	case v.IsObject():
		// 首帧 {"v": {"response": {...fragments}}}
		var out []models.StreamEvent
		for _, frag := range v.Get("response.fragments").Array() {
			d.fragThink = frag.Get("type").String() == "THINK"
			d.lastPath = "response/fragments/-1/content"
			out = append(out, d.text(d.lastPath, frag.Get("content").String())...)
		}
		return out, false
	}
	return nil, false
}

func (d *DeepSeekDecoder) text(path, value string) []models.StreamEvent {
	if value == "" {
		return nil
	}
	switch {
	case strings.HasSuffix(path, "thinking_content"),
		d.fragThink && strings.Contains(path, "fragments") && strings.HasSuffix(path, "/content"):
		if !d.Thinking {
			return nil
		}
		return []models.StreamEvent{models.ContentEvent("[Thinking] " + value + "\n")}
	case path == "" || strings.HasSuffix(path, "/content"):
		return []models.StreamEvent{models.ContentEvent(value)}
	case strings.HasSuffix(path, "status"):
		// "FINISHED" 等状态字符串
		return nil
	}
	return nil
}

// NewDeepSeekParser 便捷构造
func NewDeepSeekParser(d *DeepSeekDecoder) *SSEParser {
	return NewSSEParser(d.Decode)
}
