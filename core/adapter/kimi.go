package adapter

import "chat-gateway/models"

// Kimi 只占位注册，所有能力都返回 NotSupported
type Kimi struct {
	base
}

func NewKimi(opts Options) *Kimi {
	return &Kimi{base: newBase(models.ProviderKimi, "https://www.kimi.com", opts)}
}
