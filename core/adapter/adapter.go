package adapter

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"strings"
	"sync"

	"chat-gateway/core/apierr"
	"chat-gateway/core/stream"
	"chat-gateway/models"

	"github.com/sirupsen/logrus"
)

// Provider 所有后端都实现，其余能力按需实现
type Provider interface {
	// Name 返回 provider id，如 "deepseek"
	Name() string
}

// Choreography 流式聊天的各个步骤，由 Orchestrator 按固定顺序驱动
type Choreography interface {
	Provider
	// Prepare 构造请求头与 base URL
	Prepare(ctx context.Context, acc *models.Account, req *models.ChatRequest) (*Session, error)
	// Resolve 新建后端会话，或为已有会话定位 parent message
	Resolve(ctx context.Context, s *Session, req *models.ChatRequest) (*Conversation, error)
	// Send 提交消息，返回尚未读取的流式响应
	Send(ctx context.Context, s *Session, conv *Conversation, req *models.ChatRequest) (*http.Response, error)
	// NewParser 每个请求新建一个解析器
	NewParser(s *Session, conv *Conversation, req *models.ChatRequest) stream.Parser
}

// Challenger 需要工作量证明的后端
type Challenger interface {
	Challenge(ctx context.Context, s *Session, conv *Conversation) error
}

// Titler 新会话结束后获取标题
type Titler interface {
	Title(ctx context.Context, s *Session, conv *Conversation) (string, error)
}

// ConversationLister 会话列表
type ConversationLister interface {
	Provider
	ListConversations(ctx context.Context, acc *models.Account, page, limit int) ([]models.ConversationSummary, error)
}

// ConversationReader 会话详情，原样返回后端 JSON
type ConversationReader interface {
	Provider
	GetConversation(ctx context.Context, acc *models.Account, id string) (json.RawMessage, error)
}

// ConversationDeleter 删除会话
type ConversationDeleter interface {
	Provider
	DeleteConversation(ctx context.Context, acc *models.Account, id string) error
}

// ResponseStopper 停止正在生成的回复
type ResponseStopper interface {
	Provider
	StopResponse(ctx context.Context, acc *models.Account, conversationID, messageID string) error
}

// ModelLister 模型列表
type ModelLister interface {
	Provider
	ListModels(ctx context.Context, acc *models.Account) ([]models.ModelInfo, error)
}

// PoWSolver 工作量证明求解
type PoWSolver interface {
	Solve(ctx context.Context, c models.PoWChallenge) models.PoWSolution
}

// Options 构造 adapter 的公共参数
type Options struct {
	// BaseURL 覆盖默认地址，测试时指向 httptest server
	BaseURL string
	Client  *http.Client
	Logger  *logrus.Logger
}

// Registry provider 注册表
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
}

func NewRegistry(providers ...Provider) *Registry {
	r := &Registry{providers: make(map[string]Provider)}
	for _, p := range providers {
		r.Register(p)
	}
	return r
}

func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[strings.ToLower(p.Name())] = p
}

// Get 按 id 查找，忽略大小写
func (r *Registry) Get(name string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[strings.ToLower(name)]
	if !ok {
		return nil, apierr.ErrUnknownProvider
	}
	return p, nil
}

// Names 已注册的 provider id，按字母排序
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Capabilities provider 支持的能力列表
func (r *Registry) Capabilities(name string) []string {
	p, err := r.Get(name)
	if err != nil {
		return nil
	}
	var caps []string
	if _, ok := p.(Choreography); ok {
		caps = append(caps, "chat")
	}
	if _, ok := p.(ConversationLister); ok {
		caps = append(caps, "list_conversations")
	}
	if _, ok := p.(ConversationReader); ok {
		caps = append(caps, "conversation_detail")
	}
	if _, ok := p.(ConversationDeleter); ok {
		caps = append(caps, "delete_conversation")
	}
	if _, ok := p.(ResponseStopper); ok {
		caps = append(caps, "stop_response")
	}
	if _, ok := p.(ModelLister); ok {
		caps = append(caps, "list_models")
	}
	return caps
}

func capability[T any](r *Registry, name, op string) (T, error) {
	var zero T
	p, err := r.Get(name)
	if err != nil {
		return zero, err
	}
	c, ok := p.(T)
	if !ok {
		return zero, apierr.NotSupported(p.Name(), op)
	}
	return c, nil
}

func (r *Registry) Chat(name string) (Choreography, error) {
	return capability[Choreography](r, name, "streamChat")
}

func (r *Registry) Lister(name string) (ConversationLister, error) {
	return capability[ConversationLister](r, name, "listConversations")
}

func (r *Registry) Reader(name string) (ConversationReader, error) {
	return capability[ConversationReader](r, name, "getConversationDetail")
}

func (r *Registry) Deleter(name string) (ConversationDeleter, error) {
	return capability[ConversationDeleter](r, name, "deleteConversation")
}

func (r *Registry) Stopper(name string) (ResponseStopper, error) {
	return capability[ResponseStopper](r, name, "stopResponse")
}

func (r *Registry) Models(name string) (ModelLister, error) {
	return capability[ModelLister](r, name, "listModels")
}
