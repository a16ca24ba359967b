package core

import (
	"sync"
	"time"
)

// AccountStatusType 账号健康状态枚举
type AccountStatusType int

const (
	AccountHealthy AccountStatusType = iota
	AccountCooldown
	AccountDead
)

func (s AccountStatusType) String() string {
	switch s {
	case AccountCooldown:
		return "cooldown"
	case AccountDead:
		return "dead"
	}
	return "healthy"
}

// AccountState 账号的健康信息
type AccountState struct {
	Status     AccountStatusType `json:"-"`
	UnlockTime time.Time         `json:"unlock_time,omitempty"`
}

// AccountHealth 账号健康状态管理器 (线程安全，仅内存)
type AccountHealth struct {
	states map[string]AccountState // AccountID -> State
	mutex  sync.RWMutex
	now    func() time.Time
}

func NewAccountHealth() *AccountHealth {
	return &AccountHealth{
		states: make(map[string]AccountState),
		now:    time.Now,
	}
}

// MarkCooldown 标记账号为冷却状态 (上游 429)
func (m *AccountHealth) MarkCooldown(id string, duration time.Duration) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.states[id] = AccountState{
		Status:     AccountCooldown,
		UnlockTime: m.now().Add(duration),
	}
}

// MarkDead 标记账号为失效 (上游 401/403)
func (m *AccountHealth) MarkDead(id string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.states[id] = AccountState{Status: AccountDead}
}

// MarkAvailable 恢复账号，账号被重新导入或更新时调用
func (m *AccountHealth) MarkAvailable(id string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	delete(m.states, id)
}

// IsAvailable 检查账号是否可用
func (m *AccountHealth) IsAvailable(id string) bool {
	m.mutex.RLock()
	state, exists := m.states[id]
	m.mutex.RUnlock()

	if !exists {
		return true // 默认可用
	}

	switch state.Status {
	case AccountDead:
		return false
	case AccountCooldown:
		if m.now().After(state.UnlockTime) {
			// 冷却结束，懒惰清理
			m.MarkAvailable(id)
			return true
		}
		return false
	}
	return true
}

// Snapshot 当前非健康账号，供 stats 接口展示
func (m *AccountHealth) Snapshot() map[string]string {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	out := make(map[string]string, len(m.states))
	for id, st := range m.states {
		if st.Status == AccountCooldown && m.now().After(st.UnlockTime) {
			continue
		}
		out[id] = st.Status.String()
	}
	return out
}
