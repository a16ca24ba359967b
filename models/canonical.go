package models

// Message 对话消息，按时间顺序，最新的在最后
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ContinuityState 调用方需要在下一轮原样带回的后端状态，网关不解释其内容
type ContinuityState map[string]any

// ChatRequest 统一的聊天请求
type ChatRequest struct {
	Model           string
	Messages        []Message
	ConversationID  string
	ParentMessageID string
	Thinking        bool
	Search          bool
	RefFileIDs      []string
	Stream          bool
	Continuity      ContinuityState
}

// LastUserMessage 返回最后一条 user 消息
func (r *ChatRequest) LastUserMessage() string {
	for i := len(r.Messages) - 1; i >= 0; i-- {
		if r.Messages[i].Role == "user" {
			return r.Messages[i].Content
		}
	}
	return ""
}

// ContinuityString 读取 continuity 中的字符串字段
func (r *ChatRequest) ContinuityString(key string) string {
	if r.Continuity == nil {
		return ""
	}
	if v, ok := r.Continuity[key].(string); ok {
		return v
	}
	return ""
}

// EventType 流事件类型
type EventType int

const (
	EventContent EventType = iota
	EventMetadata
	EventDone
	EventError
)

func (t EventType) String() string {
	switch t {
	case EventContent:
		return "content"
	case EventMetadata:
		return "metadata"
	case EventDone:
		return "done"
	case EventError:
		return "error"
	}
	return "unknown"
}

// StreamEvent 统一流事件
// 每个流有且只有一个终止事件 (Done 或 Error)
type StreamEvent struct {
	Type     EventType
	Content  string
	Metadata map[string]any
	Message  string
	Err      error `json:"-"`
}

func ContentEvent(text string) StreamEvent {
	return StreamEvent{Type: EventContent, Content: text}
}

func MetadataEvent(m map[string]any) StreamEvent {
	return StreamEvent{Type: EventMetadata, Metadata: m}
}

func DoneEvent() StreamEvent {
	return StreamEvent{Type: EventDone}
}

func ErrorEvent(message string, cause error) StreamEvent {
	return StreamEvent{Type: EventError, Message: message, Err: cause}
}

// IsTerminal Done / Error
func (e StreamEvent) IsTerminal() bool {
	return e.Type == EventDone || e.Type == EventError
}

// ConversationSummary 后端会话列表项
type ConversationSummary struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	UpdatedAt string `json:"updated_at,omitempty"`
}

// ModelInfo 模型信息
type ModelInfo struct {
	ID      string `json:"id"`
	Name    string `json:"name,omitempty"`
	OwnedBy string `json:"owned_by,omitempty"`
}

// ProviderStatus provider 启用状态
type ProviderStatus struct {
	ID      string `json:"provider_id"`
	Name    string `json:"provider_name"`
	Enabled bool   `json:"is_enabled"`
}
