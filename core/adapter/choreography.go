package adapter

import (
	"context"
	"errors"
	"io"
	"time"

	"chat-gateway/core/apierr"
	"chat-gateway/models"

	"github.com/sirupsen/logrus"
)

const (
	eventBuffer     = 16
	readChunkSize   = 4096
	defaultTitle    = "New Chat"
	defaultStopWait = 5 * time.Second
)

var errIdleTimeout = errors.New("backend stream idle timeout")

// Orchestrator 按固定顺序驱动 Choreography：
// Prepare -> Resolve -> Challenge -> Send -> 解析 -> 标题 -> 尾部 metadata -> Done
type Orchestrator struct {
	logger      *logrus.Logger
	stopTimeout time.Duration
	idleTimeout time.Duration // 0 表示不限制
}

func NewOrchestrator(logger *logrus.Logger, stopTimeout time.Duration) *Orchestrator {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if stopTimeout <= 0 {
		stopTimeout = defaultStopWait
	}
	return &Orchestrator{logger: logger, stopTimeout: stopTimeout}
}

// WithIdleTimeout 设置后端流两次读取之间的最长等待
func (o *Orchestrator) WithIdleTimeout(d time.Duration) *Orchestrator {
	o.idleTimeout = d
	return o
}

// Stream 返回事件 channel，最后一个事件必为 Done 或 Error，之后 channel 关闭
func (o *Orchestrator) Stream(ctx context.Context, c Choreography, acc *models.Account, req *models.ChatRequest) <-chan models.StreamEvent {
	out := make(chan models.StreamEvent, eventBuffer)
	go func() {
		defer close(out)
		run := &streamRun{o: o, c: c, acc: acc, req: req, out: out}
		run.terminal(ctx, run.execute(ctx))
	}()
	return out
}

type streamRun struct {
	o   *Orchestrator
	c   Choreography
	acc *models.Account
	req *models.ChatRequest
	out chan<- models.StreamEvent
	// 后端在流中已给出标题
	titleSent bool
}

func (r *streamRun) emit(ctx context.Context, ev models.StreamEvent) bool {
	select {
	case r.out <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

// terminal 终止事件：ctx 已取消时尽力投递，不阻塞
func (r *streamRun) terminal(ctx context.Context, ev models.StreamEvent) {
	select {
	case r.out <- ev:
	case <-ctx.Done():
		select {
		case r.out <- ev:
		default:
		}
	}
}

func (r *streamRun) fail(err error) models.StreamEvent {
	return models.ErrorEvent(err.Error(), err)
}

func (r *streamRun) execute(ctx context.Context) models.StreamEvent {
	s, err := r.c.Prepare(ctx, r.acc, r.req)
	if err != nil {
		return r.fail(err)
	}
	conv, err := r.c.Resolve(ctx, s, r.req)
	if err != nil {
		return r.fail(err)
	}
	if ch, ok := r.c.(Challenger); ok {
		if err := ch.Challenge(ctx, s, conv); err != nil {
			return r.fail(err)
		}
	}

	// 后端请求使用独立的可取消 ctx，空闲超时时以 errIdleTimeout 取消
	sendCtx, cancelSend := context.WithCancelCause(ctx)
	defer cancelSend(nil)
	resp, err := r.c.Send(sendCtx, s, conv, r.req)
	if err != nil {
		return r.fail(err)
	}
	defer resp.Body.Close()

	ev := r.relay(ctx, sendCtx, cancelSend, s, conv, resp.Body)
	// 无论取消发生在读 body 还是投递事件时，都通知后端停止
	if ev.Type != models.EventDone && ctx.Err() != nil {
		r.abort(ctx, s, conv)
		return models.ErrorEvent("request canceled", ctx.Err())
	}
	return ev
}

// relay 读取后端响应并转发事件，两次读取之间超过 idleTimeout 无数据则以 TransportError 结束
func (r *streamRun) relay(ctx, sendCtx context.Context, cancelSend context.CancelCauseFunc, s *Session, conv *Conversation, body io.Reader) models.StreamEvent {
	var idle *time.Timer
	if d := r.o.idleTimeout; d > 0 {
		idle = time.AfterFunc(d, func() { cancelSend(errIdleTimeout) })
		defer idle.Stop()
	}

	parser := r.c.NewParser(s, conv, r.req)
	buf := make([]byte, readChunkSize)
	for !parser.Done() {
		// 只计算等待后端的时间，不计算向调用方投递的时间
		if idle != nil {
			idle.Reset(r.o.idleTimeout)
		}
		n, readErr := body.Read(buf)
		if idle != nil {
			idle.Stop()
		}
		if n > 0 {
			if ev, stop := r.forward(ctx, parser.Feed(buf[:n])); stop {
				return ev
			}
		}
		if readErr == nil {
			continue
		}
		if errors.Is(readErr, io.EOF) {
			if ev, stop := r.forward(ctx, parser.Flush()); stop {
				return ev
			}
			break
		}
		if ctx.Err() != nil {
			return models.ErrorEvent("request canceled", ctx.Err())
		}
		if errors.Is(context.Cause(sendCtx), errIdleTimeout) {
			readErr = errIdleTimeout
		}
		return r.fail(&apierr.TransportError{Provider: r.c.Name(), Err: readErr})
	}
	if ctx.Err() != nil {
		return models.ErrorEvent("request canceled", ctx.Err())
	}

	if m := parser.Malformed(); m > 0 {
		s.Logger.WithError(apierr.ErrFrameParse).WithField("malformed", m).Debug("dropped malformed frames")
	}
	r.finalize(ctx, s, conv)
	return models.DoneEvent()
}

// forward 转发非终止事件；遇到 Error 事件返回它
func (r *streamRun) forward(ctx context.Context, events []models.StreamEvent) (models.StreamEvent, bool) {
	for _, ev := range events {
		switch ev.Type {
		case models.EventError:
			var upstream *apierr.UpstreamError
			if errors.As(ev.Err, &upstream) && upstream.Provider == "" {
				upstream.Provider = r.c.Name()
			}
			return ev, true
		case models.EventDone:
			continue
		case models.EventMetadata:
			if _, ok := ev.Metadata["conversation_title"]; ok {
				r.titleSent = true
			}
		}
		if !r.emit(ctx, ev) {
			return models.ErrorEvent("request canceled", ctx.Err()), true
		}
	}
	return models.StreamEvent{}, false
}

func (r *streamRun) finalize(ctx context.Context, s *Session, conv *Conversation) {
	if conv.IsNew && !r.titleSent {
		title := conv.Title
		if t, ok := r.c.(Titler); ok && title == "" {
			got, err := t.Title(ctx, s, conv)
			if err != nil {
				s.Logger.WithError(err).Debug("fetch title failed")
			}
			title = got
		}
		if title == "" {
			title = defaultTitle
		}
		r.emit(ctx, models.MetadataEvent(map[string]any{"conversation_title": title}))
	}

	meta := make(map[string]any, len(conv.Extra)+1)
	for k, v := range conv.Extra {
		meta[k] = v
	}
	if conv.ID != "" {
		meta["conversation_id"] = conv.ID
	}
	if len(meta) > 0 {
		r.emit(ctx, models.MetadataEvent(meta))
	}
}

// abort 客户端断开后尽力通知后端停止生成
func (r *streamRun) abort(parent context.Context, s *Session, conv *Conversation) {
	stopper, ok := r.c.(ResponseStopper)
	if !ok || conv.ID == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), r.o.stopTimeout)
	defer cancel()
	if err := stopper.StopResponse(ctx, r.acc, conv.ID, conv.MessageID); err != nil {
		s.Logger.WithError(err).Debug("stop response failed")
	}
}
