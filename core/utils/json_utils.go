package utils

import (
	"regexp"
	"strings"
)

// ExtractJSONArray 从文本中截取 key 之后的第一个 JSON 数组
// 按括号深度匹配，字符串内部的括号与转义字符不计入
func ExtractJSONArray(text, key string) (string, bool) {
	idx := strings.Index(text, key)
	if idx < 0 {
		return "", false
	}
	start := strings.IndexByte(text[idx+len(key):], '[')
	if start < 0 {
		return "", false
	}
	start += idx + len(key)

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		ch := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '[':
			depth++
		case ']':
			depth--
			if depth == 0 {
				return text[start : i+1], true
			}
		}
	}
	return "", false
}

// CookieValue 从 Cookie 头中取出指定名称的值
func CookieValue(cookie, name string) string {
	re := regexp.MustCompile(`(?:^|[;\s])` + regexp.QuoteMeta(name) + `=([^;]+)`)
	m := re.FindStringSubmatch(cookie)
	if m == nil {
		return ""
	}
	return strings.TrimSpace(m[1])
}
