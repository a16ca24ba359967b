package pow

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"

	"chat-gateway/models"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func challenge(expireAt time.Time) models.PoWChallenge {
	return models.PoWChallenge{
		Algorithm:  "DeepSeekHashV1",
		Challenge:  "abc123",
		Salt:       "s4lt",
		Difficulty: 144000,
		Signature:  "sig",
		ExpireAt:   expireAt.UnixMilli(),
		TargetPath: "/api/v0/chat/completion",
	}
}

func TestSolveFindsAnswer(t *testing.T) {
	c := challenge(time.Now().Add(time.Minute))
	var gotPrefix string
	solver := NewSolver(func(prefix, ch string, nonce int64, difficulty int) bool {
		gotPrefix = prefix
		assert.Equal(t, "abc123", ch)
		assert.Equal(t, 144000, difficulty)
		return nonce == 4321
	}, 5*time.Second, logrus.New())

	sol := solver.Solve(context.Background(), c)
	assert.Equal(t, int64(4321), sol.Answer)
	assert.Equal(t, Prefix(c), gotPrefix)
	assert.Equal(t, c.Signature, sol.Signature)
	assert.Equal(t, c.TargetPath, sol.TargetPath)
}

func TestPrefixFormat(t *testing.T) {
	c := models.PoWChallenge{Salt: "abc", ExpireAt: 1700000000123}
	assert.Equal(t, "abc_1700000000123_", Prefix(c))
}

func TestSolveExpiredChallengeReturnsZeroPromptly(t *testing.T) {
	var calls atomic.Int64
	solver := NewSolver(func(string, string, int64, int) bool {
		calls.Add(1)
		return false
	}, time.Second, logrus.New())

	start := time.Now()
	sol := solver.Solve(context.Background(), challenge(time.Now().Add(-time.Minute)))
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, int64(0), sol.Answer)
	assert.Equal(t, "sig", sol.Signature)
	assert.Equal(t, int64(0), calls.Load())
}

func TestSolveHonorsBudget(t *testing.T) {
	solver := NewSolver(func(string, string, int64, int) bool { return false }, 50*time.Millisecond, logrus.New())

	start := time.Now()
	sol := solver.Solve(context.Background(), challenge(time.Now().Add(time.Hour)))
	assert.Equal(t, int64(0), sol.Answer)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestSolveSlowPredicateStopsAtDeadline(t *testing.T) {
	var calls atomic.Int64
	solver := NewSolver(func(string, string, int64, int) bool {
		calls.Add(1)
		time.Sleep(5 * time.Millisecond)
		return false
	}, 30*time.Millisecond, logrus.New())

	start := time.Now()
	sol := solver.Solve(context.Background(), challenge(time.Now().Add(time.Hour)))
	assert.Equal(t, int64(0), sol.Answer)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
	assert.Less(t, calls.Load(), int64(100))
}

func TestSolveHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	solver := NewSolver(func(string, string, int64, int) bool { return false }, time.Hour, logrus.New())
	sol := solver.Solve(ctx, challenge(time.Now().Add(time.Hour)))
	assert.Equal(t, int64(0), sol.Answer)
}

func TestSolveWithoutPredicate(t *testing.T) {
	solver := NewSolver(nil, time.Second, nil)
	sol := solver.Solve(context.Background(), challenge(time.Now().Add(time.Minute)))
	assert.Equal(t, int64(0), sol.Answer)
	assert.Equal(t, "abc123", sol.Challenge)
}

func TestEncodeHeader(t *testing.T) {
	sol := models.PoWSolution{Algorithm: "DeepSeekHashV1", Challenge: "c", Salt: "s", Answer: 7, Signature: "sig", TargetPath: "/p"}
	header, err := EncodeHeader(sol)
	require.NoError(t, err)

	raw, err := base64.StdEncoding.DecodeString(header)
	require.NoError(t, err)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, float64(7), decoded["answer"])
	assert.Equal(t, "/p", decoded["target_path"])
}
