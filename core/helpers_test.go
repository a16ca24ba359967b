package core

import (
	"context"
	"fmt"
	"io"
	"strings"
	"testing"

	"chat-gateway/models"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

// newTestDB 每个测试独立的内存数据库
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := OpenDatabase(fmt.Sprintf("file:%s?mode=memory&cache=shared", name))
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return db
}

func newTestStore(t *testing.T, accounts ...*models.Account) *GormAccountStore {
	t.Helper()
	store := NewGormAccountStore(newTestDB(t), nil, testLogger())
	for _, acc := range accounts {
		_, err := store.Upsert(context.Background(), acc)
		require.NoError(t, err)
	}
	return store
}

func newTestRouter(t *testing.T, strategy string, health HealthTracker, accounts ...*models.Account) *AccountRouter {
	t.Helper()
	r, err := NewAccountRouter(context.Background(), newTestStore(t, accounts...), health, testLogger(), strategy)
	require.NoError(t, err)
	return r
}

func account(id, provider, email string, status models.AccountStatus) *models.Account {
	return &models.Account{ID: id, Provider: provider, Email: email, Credential: "cred-" + id, Status: status}
}
