// Package pow 工作量证明求解框架
//
// 哈希判定函数由外部注入，这里只负责输入拼装、nonce 搜索和截止时间控制。
// 求解失败时返回 answer=0 的合法结构，由后端决定是否拒绝。
package pow

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"chat-gateway/models"

	"github.com/sirupsen/logrus"
)

// Predicate 判定 nonce 是否满足挑战
type Predicate func(prefix, challenge string, nonce int64, difficulty int) bool

// Solver nonce 搜索器
type Solver struct {
	predicate Predicate
	budget    time.Duration
	logger    *logrus.Logger
	now       func() time.Time
}

// NewSolver predicate 为 nil 时所有挑战都直接返回 answer=0
func NewSolver(predicate Predicate, budget time.Duration, logger *logrus.Logger) *Solver {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Solver{
		predicate: predicate,
		budget:    budget,
		logger:    logger,
		now:       time.Now,
	}
}

// Prefix salt_expireAt_
func Prefix(c models.PoWChallenge) string {
	return c.Salt + "_" + strconv.FormatInt(c.ExpireAt, 10) + "_"
}

// Deadline min(expireAt, now+budget)；expireAt 为 0 表示后端没给
func (s *Solver) Deadline(c models.PoWChallenge) time.Time {
	deadline := s.now().Add(s.budget)
	if c.ExpireAt > 0 {
		if exp := time.UnixMilli(c.ExpireAt); exp.Before(deadline) {
			deadline = exp
		}
	}
	return deadline
}

// Solve 搜索满足 predicate 的 nonce，超时 / 取消 / 无 predicate 时 answer=0
func (s *Solver) Solve(ctx context.Context, c models.PoWChallenge) models.PoWSolution {
	sol := models.PoWSolution{
		Algorithm:  c.Algorithm,
		Challenge:  c.Challenge,
		Salt:       c.Salt,
		Signature:  c.Signature,
		TargetPath: c.TargetPath,
	}
	log := s.logger.WithFields(logrus.Fields{
		"algorithm":  c.Algorithm,
		"difficulty": c.Difficulty,
	})
	if s.predicate == nil {
		log.Warn("[PoW] no predicate configured, sending zero answer")
		return sol
	}

	deadline := s.Deadline(c)
	prefix := Prefix(c)
	start := s.now()

	// 每个 nonce 之前检查一次，慢 predicate 也不会越过截止时间
	ctx, cancel := context.WithTimeout(ctx, deadline.Sub(start))
	defer cancel()
	done := ctx.Done()

	for nonce := int64(0); nonce >= 0; nonce++ {
		select {
		case <-done:
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				log.WithField("tried", nonce).Warn("[PoW] deadline reached, sending zero answer")
			} else {
				log.Warn("[PoW] canceled, sending zero answer")
			}
			return sol
		default:
		}
		if s.predicate(prefix, c.Challenge, nonce, c.Difficulty) {
			sol.Answer = nonce
			log.WithFields(logrus.Fields{
				"answer":  nonce,
				"elapsed": s.now().Sub(start),
			}).Debug("[PoW] solved")
			return sol
		}
	}
	return sol
}

// EncodeHeader base64(JSON)，DeepSeek 的 X-Ds-Pow-Response 头
func EncodeHeader(sol models.PoWSolution) (string, error) {
	data, err := json.Marshal(sol)
	if err != nil {
		return "", fmt.Errorf("marshal pow solution: %w", err)
	}
	return base64.StdEncoding.EncodeToString(data), nil
}
