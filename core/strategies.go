package core

import (
	"errors"

	"chat-gateway/models"
)

var (
	ErrNoAccountsAvailable = errors.New("no accounts available for provider")
)

const (
	StrategyRoundRobin = "round_robin"
	StrategyPriority   = "priority"
	StrategyLeastUsed  = "least_used"
)

// RoundRobinStrategy 轮询策略
type RoundRobinStrategy struct{}

func (s *RoundRobinStrategy) Name() string { return StrategyRoundRobin }

func (s *RoundRobinStrategy) Select(candidates []*models.Account, cursor uint64, _ UsageCounter) (*models.Account, error) {
	if len(candidates) == 0 {
		return nil, ErrNoAccountsAvailable
	}
	// cursor 从 1 开始，所以使用 (cursor - 1)
	idx := int((cursor - 1) % uint64(len(candidates)))
	return candidates[idx], nil
}

// PriorityStrategy 总是返回第一个可用账号
type PriorityStrategy struct{}

func (s *PriorityStrategy) Name() string { return StrategyPriority }

func (s *PriorityStrategy) Select(candidates []*models.Account, _ uint64, _ UsageCounter) (*models.Account, error) {
	if len(candidates) == 0 {
		return nil, ErrNoAccountsAvailable
	}
	return candidates[0], nil
}

// LeastUsedStrategy 请求数最少者优先，相同时取靠前的
type LeastUsedStrategy struct{}

func (s *LeastUsedStrategy) Name() string { return StrategyLeastUsed }

func (s *LeastUsedStrategy) Select(candidates []*models.Account, _ uint64, usage UsageCounter) (*models.Account, error) {
	if len(candidates) == 0 {
		return nil, ErrNoAccountsAvailable
	}
	selected := candidates[0]
	if usage == nil {
		return selected, nil
	}
	min := usage.RequestCount(selected.ID)
	for _, acc := range candidates[1:] {
		if n := usage.RequestCount(acc.ID); n < min {
			min = n
			selected = acc
		}
	}
	return selected, nil
}
