// Package stream 把各后端的增量报文解析成统一的 StreamEvent
//
// 所有解析器都以行为单位工作：chunk 不保证落在记录边界上，
// 不完整的尾部片段会被缓存到下一次 Feed。单帧解析失败只计数，不中断流。
package stream

import (
	"bytes"
	"strings"

	"chat-gateway/models"
)

// Parser 增量解析器，每个请求独立一个实例，必须按到达顺序 Feed
type Parser interface {
	// Feed 喂入一段原始字节，返回解析出的事件
	Feed(chunk []byte) []models.StreamEvent
	// Flush body 结束时处理残留片段
	Flush() []models.StreamEvent
	// Done 是否已看到终止标记
	Done() bool
	// Malformed 被丢弃的畸形帧数量
	Malformed() int
}

// lineBuffer 按 '\n' 切行，保留不完整的尾部
type lineBuffer struct {
	buf []byte
}

func (b *lineBuffer) push(chunk []byte) []string {
	b.buf = append(b.buf, chunk...)
	var lines []string
	for {
		idx := bytes.IndexByte(b.buf, '\n')
		if idx < 0 {
			break
		}
		lines = append(lines, strings.TrimSuffix(string(b.buf[:idx]), "\r"))
		b.buf = b.buf[idx+1:]
	}
	// 避免底层数组无限增长
	if len(b.buf) == 0 {
		b.buf = nil
	}
	return lines
}

func (b *lineBuffer) rest() string {
	s := strings.TrimSuffix(string(b.buf), "\r")
	b.buf = nil
	return s
}

// lineParser 行解析器的公共骨架，具体格式由 handle 决定
type lineParser struct {
	buf       lineBuffer
	done      bool
	malformed int
	handle    func(line string) []models.StreamEvent
}

func (p *lineParser) Feed(chunk []byte) []models.StreamEvent {
	if p.done {
		return nil
	}
	var out []models.StreamEvent
	for _, line := range p.buf.push(chunk) {
		if p.done {
			break
		}
		out = append(out, p.handle(line)...)
	}
	return out
}

func (p *lineParser) Flush() []models.StreamEvent {
	if p.done {
		return nil
	}
	rest := p.buf.rest()
	if strings.TrimSpace(rest) == "" {
		return nil
	}
	return p.handle(rest)
}

func (p *lineParser) Done() bool { return p.done }

func (p *lineParser) Malformed() int { return p.malformed }

func (p *lineParser) finish() { p.done = true }

func (p *lineParser) bad() { p.malformed++ }
