package stream

import (
	"strings"

	"chat-gateway/models"

	"github.com/tidwall/gjson"
)

// JSONArrayParser 每行是一个 JSON 数组（或单个对象），body 结束即完成
// Gemini streamGenerateContent 使用
type JSONArrayParser struct {
	*lineParser
}

func NewJSONArrayParser() *JSONArrayParser {
	p := &JSONArrayParser{lineParser: &lineParser{}}
	p.handle = p.handleLine
	return p
}

func (p *JSONArrayParser) handleLine(line string) []models.StreamEvent {
	line = strings.TrimSpace(line)
	// 数组续行形式 ",{...}"
	line = strings.TrimSuffix(strings.TrimPrefix(line, ","), ",")
	if line == "" || line == "[" || line == "]" {
		return nil
	}
	if !gjson.Valid(line) {
		// 数组首尾元素 "[{...}" / "{...}]"
		trimmed := strings.TrimSuffix(strings.TrimPrefix(line, "["), "]")
		if !gjson.Valid(trimmed) {
			p.bad()
			return nil
		}
		line = trimmed
	}
	r := gjson.Parse(line)

	var items []gjson.Result
	switch {
	case r.IsArray():
		items = r.Array()
	case r.IsObject():
		items = []gjson.Result{r}
	default:
		p.bad()
		return nil
	}

	var out []models.StreamEvent
	for _, item := range items {
		if ev, ok := errorPayload(item); ok {
			p.finish()
			return append(out, ev)
		}
		if t := item.Get("candidates.0.content.parts.0.text"); t.Type == gjson.String && t.Str != "" {
			out = append(out, models.ContentEvent(t.Str))
		}
		if n := item.Get("usageMetadata.totalTokenCount"); n.Exists() && n.Int() > 0 {
			out = append(out, models.MetadataEvent(map[string]any{
				"usage": map[string]any{"total_tokens": n.Int()},
			}))
		}
	}
	return out
}
