package stream

import (
	"strings"

	"chat-gateway/models"

	"github.com/tidwall/gjson"
)

// TokenStreamParser HuggingChat 的 NDJSON token 流
// {"type":"stream","token":"..."}，{"type":"finalAnswer"} 终止；行内可能带 NUL 填充
type TokenStreamParser struct {
	*lineParser
}

func NewTokenStreamParser() *TokenStreamParser {
	p := &TokenStreamParser{lineParser: &lineParser{}}
	p.handle = p.handleLine
	return p
}

func (p *TokenStreamParser) handleLine(line string) []models.StreamEvent {
	line = strings.ReplaceAll(line, "\x00", "")
	line = strings.ReplaceAll(line, `\u0000`, "")
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}
	if !gjson.Valid(line) {
		p.bad()
		return nil
	}
	r := gjson.Parse(line)
	switch r.Get("type").String() {
	case "stream":
		if t := r.Get("token").String(); t != "" {
			return []models.StreamEvent{models.ContentEvent(t)}
		}
	case "finalAnswer":
		p.finish()
	case "status":
		if r.Get("status").String() == "error" {
			p.finish()
			msg := r.Get("message").String()
			if msg == "" {
				msg = "backend reported an error"
			}
			return []models.StreamEvent{models.ErrorEvent(msg, nil)}
		}
	case "title":
		if t := r.Get("title").String(); t != "" {
			return []models.StreamEvent{models.MetadataEvent(map[string]any{"conversation_title": t})}
		}
	}
	return nil
}
