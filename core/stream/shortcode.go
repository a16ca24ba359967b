package stream

import (
	"strings"

	"chat-gateway/models"

	"github.com/tidwall/gjson"
)

// ShortCodeParser `<code>:<payload>` 行（LMArena）
// a0 内容片段 (JSON 字符串)，a3 错误，ad 完成
type ShortCodeParser struct {
	*lineParser
}

func NewShortCodeParser() *ShortCodeParser {
	p := &ShortCodeParser{lineParser: &lineParser{}}
	p.handle = p.handleLine
	return p
}

func (p *ShortCodeParser) handleLine(line string) []models.StreamEvent {
	if strings.TrimSpace(line) == "" {
		return nil
	}
	code, payload, ok := strings.Cut(line, ":")
	if !ok {
		p.bad()
		return nil
	}
	switch code {
	case "a0":
		r := gjson.Parse(payload)
		if !gjson.Valid(payload) || r.Type != gjson.String {
			p.bad()
			return nil
		}
		if r.Str == "" {
			return nil
		}
		return []models.StreamEvent{models.ContentEvent(r.Str)}
	case "a3":
		msg := payload
		if gjson.Valid(payload) {
			msg = gjson.Parse(payload).String()
		}
		p.finish()
		return []models.StreamEvent{models.ErrorEvent(msg, nil)}
	case "ad":
		p.finish()
		if n := gjson.Get(payload, "usage.totalTokens"); gjson.Valid(payload) && n.Exists() {
			return []models.StreamEvent{models.MetadataEvent(map[string]any{
				"usage": map[string]any{"total_tokens": n.Int()},
			})}
		}
	}
	// 其他 code (ae/af/...) 忽略
	return nil
}
