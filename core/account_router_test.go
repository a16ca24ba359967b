package core

import (
	"context"
	"testing"
	"time"

	"chat-gateway/core/apierr"
	"chat-gateway/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func resolveIDs(t *testing.T, r *AccountRouter, q ResolveQuery, n int) []string {
	t.Helper()
	ids := make([]string, 0, n)
	for i := 0; i < n; i++ {
		acc, err := r.Resolve(context.Background(), q)
		require.NoError(t, err)
		ids = append(ids, acc.ID)
	}
	return ids
}

func TestRoundRobinSkipsDisabled(t *testing.T) {
	r := newTestRouter(t, StrategyRoundRobin, nil,
		account("a", "deepseek", "a@x.com", models.AccountActive),
		account("b", "deepseek", "b@x.com", models.AccountActive),
		account("c", "deepseek", "c@x.com", models.AccountDisabled),
	)
	ids := resolveIDs(t, r, ResolveQuery{Model: "deepseek-chat"}, 4)
	assert.Equal(t, []string{"a", "b", "a", "b"}, ids)
}

func TestSingleAccountResolvedByModel(t *testing.T) {
	r := newTestRouter(t, StrategyRoundRobin, nil,
		account("ds", "deepseek", "me@x.com", models.AccountActive),
		account("cl", "claude", "me@x.com", models.AccountActive),
	)
	acc, err := r.Resolve(context.Background(), ResolveQuery{Model: "deepseek-chat"})
	require.NoError(t, err)
	assert.Equal(t, "ds", acc.ID)
}

func TestInferProvider(t *testing.T) {
	tests := []struct {
		model    string
		provider string
	}{
		{"claude-3-5-sonnet", models.ProviderClaude},
		{"gpt-4o", models.ProviderChatGPT},
		{"auto", models.ProviderChatGPT},
		{"autopilot", ""},
		{"deepseek-reasoner", models.ProviderDeepSeek},
		{"mistral-large", models.ProviderMistral},
		{"moonshot-v1", models.ProviderKimi},
		{"kimi-k2", models.ProviderKimi},
		{"qwen-max", models.ProviderQwen},
		{"command-r7b-12-2024", models.ProviderCohere},
		{"pplx-70b", models.ProviderPerplexity},
		{"llama-3.3-70b-versatile", models.ProviderGroq},
		{"mixtral-8x7b", models.ProviderGroq},
		{"gemini-pro", models.ProviderGemini},
		{"antigravity-gemini-2.0", models.ProviderAntigravity},
		{"step-1-8k", models.ProviderStepFun},
		{"", ""},
		{"unknown-model", ""},
	}
	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			assert.Equal(t, tt.provider, InferProvider(tt.model))
		})
	}
}

func TestResolvePrecedence(t *testing.T) {
	r := newTestRouter(t, StrategyPriority, nil,
		account("q1", "qwen", "first@x.com", models.AccountActive),
		account("q2", "qwen", "Second@X.com", models.AccountActive),
		account("off", "qwen", "off@x.com", models.AccountDisabled),
	)
	ctx := context.Background()

	t.Run("token is account id", func(t *testing.T) {
		acc, err := r.Resolve(ctx, ResolveQuery{AuthToken: "q2", Model: "claude"})
		require.NoError(t, err)
		assert.Equal(t, "q2", acc.ID)
	})
	t.Run("token of disabled account falls through", func(t *testing.T) {
		acc, err := r.Resolve(ctx, ResolveQuery{AuthToken: "off", Provider: "qwen"})
		require.NoError(t, err)
		assert.Equal(t, "q1", acc.ID)
	})
	t.Run("token of disabled account alone is unauthorized", func(t *testing.T) {
		_, err := r.Resolve(ctx, ResolveQuery{AuthToken: "off"})
		assert.ErrorIs(t, err, apierr.ErrUnauthorized)
	})
	t.Run("explicit provider and email ignore case", func(t *testing.T) {
		acc, err := r.Resolve(ctx, ResolveQuery{Provider: "QWEN", Email: "second@x.com"})
		require.NoError(t, err)
		assert.Equal(t, "q2", acc.ID)
	})
	t.Run("email with inferred provider", func(t *testing.T) {
		acc, err := r.Resolve(ctx, ResolveQuery{Email: "second@x.com", Model: "qwen-max"})
		require.NoError(t, err)
		assert.Equal(t, "q2", acc.ID)
	})
	t.Run("unmatched email is unauthorized", func(t *testing.T) {
		_, err := r.Resolve(ctx, ResolveQuery{Email: "nobody@x.com", Model: "qwen-max"})
		assert.ErrorIs(t, err, apierr.ErrUnauthorized)
	})
	t.Run("disabled email is unauthorized", func(t *testing.T) {
		_, err := r.Resolve(ctx, ResolveQuery{Email: "off@x.com", Provider: "qwen"})
		assert.ErrorIs(t, err, apierr.ErrUnauthorized)
	})
	t.Run("no provider is unauthorized", func(t *testing.T) {
		_, err := r.Resolve(ctx, ResolveQuery{Model: "unknown"})
		assert.ErrorIs(t, err, apierr.ErrUnauthorized)
	})
	t.Run("provider without accounts is unauthorized", func(t *testing.T) {
		_, err := r.Resolve(ctx, ResolveQuery{Model: "claude-3"})
		assert.ErrorIs(t, err, apierr.ErrUnauthorized)
	})
}

func TestPriorityStrategy(t *testing.T) {
	r := newTestRouter(t, StrategyPriority, nil,
		account("p1", "groq", "", models.AccountActive),
		account("p2", "groq", "", models.AccountActive),
	)
	assert.Equal(t, []string{"p1", "p1", "p1"}, resolveIDs(t, r, ResolveQuery{Provider: "groq"}, 3))
}

func TestLeastUsedStrategy(t *testing.T) {
	r := newTestRouter(t, StrategyLeastUsed, nil,
		account("l1", "groq", "l1@x.com", models.AccountActive),
		account("l2", "groq", "l2@x.com", models.AccountActive),
	)
	// l1 先被显式使用两次
	for i := 0; i < 2; i++ {
		_, err := r.Resolve(context.Background(), ResolveQuery{Provider: "groq", Email: "l1@x.com"})
		require.NoError(t, err)
	}
	assert.Equal(t, []string{"l2", "l2", "l1", "l2"}, resolveIDs(t, r, ResolveQuery{Provider: "groq"}, 4))
	assert.Equal(t, uint64(3), r.RequestCount("l1"))
	assert.Equal(t, uint64(3), r.RequestCount("l2"))
}

func TestRoundRobinCursorsArePerProvider(t *testing.T) {
	r := newTestRouter(t, StrategyRoundRobin, nil,
		account("g1", "groq", "g1", models.AccountActive),
		account("g2", "groq", "g2", models.AccountActive),
		account("s1", "stepfun", "s1", models.AccountActive),
		account("s2", "stepfun", "s2", models.AccountActive),
	)
	ctx := context.Background()
	first, _ := r.Resolve(ctx, ResolveQuery{Provider: "groq"})
	other, _ := r.Resolve(ctx, ResolveQuery{Provider: "stepfun"})
	second, _ := r.Resolve(ctx, ResolveQuery{Provider: "groq"})
	assert.Equal(t, "g1", first.ID)
	assert.Equal(t, "s1", other.ID)
	assert.Equal(t, "g2", second.ID)
}

func TestHealthSkipsUnhealthyAccounts(t *testing.T) {
	health := NewAccountHealth()
	r := newTestRouter(t, StrategyRoundRobin, health,
		account("h1", "mistral", "h1", models.AccountActive),
		account("h2", "mistral", "h2", models.AccountActive),
	)

	health.MarkDead("h1")
	assert.Equal(t, []string{"h2", "h2", "h2"}, resolveIDs(t, r, ResolveQuery{Provider: "mistral"}, 3))

	// 全部不健康时仍然在 Active 账号中选择
	health.MarkCooldown("h2", time.Minute)
	ids := resolveIDs(t, r, ResolveQuery{Provider: "mistral"}, 2)
	assert.ElementsMatch(t, []string{"h1", "h2"}, ids)

	// 显式指定总是生效
	acc, err := r.Resolve(context.Background(), ResolveQuery{Provider: "mistral", Email: "h1"})
	require.NoError(t, err)
	assert.Equal(t, "h1", acc.ID)
}

func TestRefreshPicksUpNewAccounts(t *testing.T) {
	store := newTestStore(t)
	r, err := NewAccountRouter(context.Background(), store, nil, testLogger(), "")
	require.NoError(t, err)

	_, err = r.Resolve(context.Background(), ResolveQuery{Provider: "cohere"})
	assert.ErrorIs(t, err, apierr.ErrUnauthorized)

	_, err = store.Upsert(context.Background(), account("co", "cohere", "", models.AccountActive))
	require.NoError(t, err)
	require.NoError(t, r.Refresh(context.Background()))

	acc, err := r.Resolve(context.Background(), ResolveQuery{Provider: "cohere"})
	require.NoError(t, err)
	assert.Equal(t, "co", acc.ID)
	assert.Equal(t, 1, r.Stats().Accounts)
}

func TestUnknownStrategy(t *testing.T) {
	_, err := NewAccountRouter(context.Background(), newTestStore(t), nil, testLogger(), "random")
	assert.Error(t, err)
}
