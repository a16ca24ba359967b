package stream

import (
	"strings"

	"chat-gateway/models"

	"github.com/tidwall/gjson"
)

// IndexedParser `<index>:<json>` 行（tRPC 批量风格），body 结束即完成
type IndexedParser struct {
	*lineParser
}

func NewIndexedParser() *IndexedParser {
	p := &IndexedParser{lineParser: &lineParser{}}
	p.handle = p.handleLine
	return p
}

var patchEnvelopes = []string{
	"json.patches",
	"result.data.json.patches",
	"0.result.data.json.patches",
	"patches",
}

func (p *IndexedParser) handleLine(line string) []models.StreamEvent {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}
	colon := strings.IndexByte(line, ':')
	if colon <= 0 || !isDigits(line[:colon]) {
		p.bad()
		return nil
	}
	payload := line[colon+1:]
	if !gjson.Valid(payload) {
		p.bad()
		return nil
	}
	r := gjson.Parse(payload)

	if ev, ok := errorPayload(r.Get("json")); ok {
		return []models.StreamEvent{ev}
	}

	var out []models.StreamEvent
	for _, env := range patchEnvelopes {
		patches := r.Get(env)
		if !patches.IsArray() {
			continue
		}
		for _, patch := range patches.Array() {
			if text, ok := textPatch(patch); ok {
				out = append(out, models.ContentEvent(text))
			}
		}
		return out
	}

	// 旧版 message.append: {"result":{"data":{"json":{"content":"..."}}}}
	for _, path := range []string{"result.data.json.content", "0.result.data.json.content"} {
		if c := r.Get(path); c.Type == gjson.String && c.Str != "" {
			return []models.StreamEvent{models.ContentEvent(c.Str)}
		}
	}
	return nil
}

// textPatch {op, path, value}，path 指向 /text 的字符串值
func textPatch(patch gjson.Result) (string, bool) {
	value := patch.Get("value")
	if value.Type != gjson.String || value.Str == "" {
		return "", false
	}
	path := patch.Get("path").String()
	switch patch.Get("op").String() {
	case "append", "add":
		if strings.Contains(path, "/text") {
			return value.Str, true
		}
	}
	if strings.HasSuffix(path, "/text") {
		return value.Str, true
	}
	return "", false
}

func isDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return s != ""
}
