package core

import (
	"context"
	"strings"
	"testing"
	"time"

	"chat-gateway/core/apierr"
	"chat-gateway/core/security"
	"chat-gateway/models"

	"github.com/hashicorp/go-multierror"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpsertDedupesByProviderAndEmail(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	first, err := store.Upsert(ctx, &models.Account{Provider: "Claude", Email: "Me@X.com", Credential: "old"})
	require.NoError(t, err)
	assert.NotEmpty(t, first.ID)
	assert.Equal(t, "claude", first.Provider)
	assert.Equal(t, models.AccountActive, first.Status)

	second, err := store.Upsert(ctx, &models.Account{Provider: "claude", Email: "me@x.com", Credential: "new"})
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID, "existing id preserved")

	all, err := store.GetAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "new", all[0].Credential)
}

func TestUpsertByIDKeepsStatusWhenOmitted(t *testing.T) {
	store := newTestStore(t, account("fixed", "qwen", "q@x.com", models.AccountDisabled))
	ctx := context.Background()

	updated, err := store.Upsert(ctx, &models.Account{ID: "fixed", Provider: "qwen", Credential: "rotated"})
	require.NoError(t, err)
	assert.Equal(t, models.AccountDisabled, updated.Status)
	assert.Equal(t, "q@x.com", updated.Email)

	got, err := store.GetByID(ctx, "fixed")
	require.NoError(t, err)
	assert.Equal(t, "rotated", got.Credential)
}

func TestEmptyEmailDoesNotDedupe(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	a, err := store.Upsert(ctx, &models.Account{Provider: "groq", Credential: "k1"})
	require.NoError(t, err)
	b, err := store.Upsert(ctx, &models.Account{Provider: "groq", Credential: "k2"})
	require.NoError(t, err)
	assert.NotEqual(t, a.ID, b.ID)
}

func TestImportAccounts(t *testing.T) {
	store := newTestStore(t, account("keep", "deepseek", "d@x.com", models.AccountActive))

	res, err := store.ImportAccounts(context.Background(), []*models.Account{
		{Provider: "deepseek", Email: "D@X.COM", Credential: "refreshed"},
		{Provider: "mistral", Email: "m@x.com", Credential: "m"},
		{Provider: "", Credential: "orphan"},
		{Provider: "qwen", Credential: "q", Status: "Paused"},
	})
	require.Error(t, err)
	var merr *multierror.Error
	require.ErrorAs(t, err, &merr)
	assert.Len(t, merr.Errors, 2)
	assert.Contains(t, merr.Errors[0].Error(), "account 2")

	assert.Equal(t, 1, res.Created)
	assert.Equal(t, 1, res.Updated)
	assert.Equal(t, "keep", res.Accounts[0].ID)
}

func TestDeleteAccount(t *testing.T) {
	store := newTestStore(t, account("gone", "cohere", "", models.AccountActive))
	ctx := context.Background()
	require.NoError(t, store.Delete(ctx, "gone"))
	assert.ErrorIs(t, store.Delete(ctx, "gone"), apierr.ErrAccountNotFound)
	_, err := store.GetByID(ctx, "gone")
	assert.ErrorIs(t, err, apierr.ErrAccountNotFound)
}

func TestCredentialEncryptedAtRest(t *testing.T) {
	sp, err := security.NewAESSecretProvider("a test passphrase")
	require.NoError(t, err)
	db := newTestDB(t)
	store := NewGormAccountStore(db, sp, testLogger())

	_, err = store.Upsert(context.Background(), account("enc", "claude", "e@x.com", ""))
	require.NoError(t, err)

	var raw models.Account
	require.NoError(t, db.Where("id = ?", "enc").First(&raw).Error)
	assert.True(t, strings.HasPrefix(raw.Credential, security.Prefix))

	got, err := store.GetByID(context.Background(), "enc")
	require.NoError(t, err)
	assert.Equal(t, "cred-enc", got.Credential)
}

func TestRecordUsageResetsDailyTokens(t *testing.T) {
	store := newTestStore(t, account("u", "gemini", "", models.AccountActive))
	ctx := context.Background()

	day1 := time.Date(2026, 3, 1, 23, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return day1 }
	require.NoError(t, store.RecordUsage(ctx, map[string]*UsageDelta{
		"u":       {Requests: 2, Successes: 1, DurationMS: 300, Tokens: 50, LastActive: day1},
		"missing": {Requests: 1},
	}))

	store.now = func() time.Time { return day1.Add(2 * time.Hour) }
	require.NoError(t, store.RecordUsage(ctx, map[string]*UsageDelta{
		"u": {Requests: 1, Successes: 1, DurationMS: 100, Tokens: 7},
	}))

	got, err := store.GetByID(ctx, "u")
	require.NoError(t, err)
	assert.Equal(t, int64(3), got.TotalRequests)
	assert.Equal(t, int64(2), got.SuccessfulRequests)
	assert.Equal(t, int64(400), got.TotalDuration)
	assert.Equal(t, int64(7), got.TokensToday)
	assert.Equal(t, "2026-03-02", got.StatsDate)
	require.NotNil(t, got.LastActive)
}
