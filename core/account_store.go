package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"chat-gateway/core/apierr"
	"chat-gateway/models"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

const statsDateLayout = "2006-01-02"

// OpenDatabase 打开 sqlite 并迁移表结构
func OpenDatabase(path string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := models.AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return db, nil
}

// withTransaction 执行事务处理，自动处理错误回滚
func withTransaction(db *gorm.DB, fn func(*gorm.DB) error) error {
	tx := db.Begin()
	if tx.Error != nil {
		return tx.Error
	}
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
			panic(r) // re-panic after rollback
		}
	}()

	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}

	return tx.Commit().Error
}

// GormAccountStore 基于 gorm 的账号存储，凭证经 SecretProvider 加密落库
type GormAccountStore struct {
	db      *gorm.DB
	secrets SecretProvider
	logger  *logrus.Logger
	now     func() time.Time
}

func NewGormAccountStore(db *gorm.DB, sp SecretProvider, logger *logrus.Logger) *GormAccountStore {
	if sp == nil {
		sp = NewNoOpSecretProvider()
	}
	return &GormAccountStore{db: db, secrets: sp, logger: logger, now: time.Now}
}

// GetAll 按创建顺序返回全部账号 (凭证已解密)
func (s *GormAccountStore) GetAll(ctx context.Context) ([]*models.Account, error) {
	var rows []*models.Account
	if err := s.db.WithContext(ctx).Order("created_at asc, id asc").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to load accounts: %w", err)
	}
	out := rows[:0]
	for _, acc := range rows {
		if err := s.decrypt(acc); err != nil {
			s.logger.WithField("account", acc.ID).Errorf("Failed to decrypt credential: %v", err)
			continue
		}
		out = append(out, acc)
	}
	return out, nil
}

func (s *GormAccountStore) GetByID(ctx context.Context, id string) (*models.Account, error) {
	var acc models.Account
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&acc).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apierr.ErrAccountNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := s.decrypt(&acc); err != nil {
		return nil, fmt.Errorf("failed to decrypt credential: %w", err)
	}
	return &acc, nil
}

// Upsert 新增或更新账号，已存在的账号保留原 id
func (s *GormAccountStore) Upsert(ctx context.Context, acc *models.Account) (*models.Account, error) {
	var saved *models.Account
	err := withTransaction(s.db.WithContext(ctx), func(tx *gorm.DB) error {
		var err error
		saved, _, err = s.upsert(tx, acc)
		return err
	})
	return saved, err
}

// ImportResult 批量导入结果
type ImportResult struct {
	Created  int               `json:"created"`
	Updated  int               `json:"updated"`
	Accounts []*models.Account `json:"accounts"`
}

// ImportAccounts 批量导入，逐条校验；非法行汇总为 multierror，合法行照常写入
func (s *GormAccountStore) ImportAccounts(ctx context.Context, accounts []*models.Account) (*ImportResult, error) {
	res := &ImportResult{Accounts: make([]*models.Account, 0, len(accounts))}
	var result *multierror.Error

	err := withTransaction(s.db.WithContext(ctx), func(tx *gorm.DB) error {
		for i, acc := range accounts {
			if err := validateAccount(acc); err != nil {
				result = multierror.Append(result, fmt.Errorf("account %d: %w", i, err))
				continue
			}
			saved, created, err := s.upsert(tx, acc)
			if err != nil {
				return fmt.Errorf("account %d: %w", i, err)
			}
			if created {
				res.Created++
			} else {
				res.Updated++
			}
			res.Accounts = append(res.Accounts, saved)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, result.ErrorOrNil()
}

func validateAccount(acc *models.Account) error {
	if strings.TrimSpace(acc.Provider) == "" {
		return errors.New("provider is required")
	}
	if strings.TrimSpace(acc.Credential) == "" {
		return errors.New("credential is required")
	}
	switch acc.Status {
	case "", models.AccountActive, models.AccountDisabled:
	default:
		return fmt.Errorf("invalid status %q", acc.Status)
	}
	return nil
}

// upsert 去重顺序: id，其次 (provider, email) 忽略大小写；email 为空时不按身份去重
func (s *GormAccountStore) upsert(tx *gorm.DB, in *models.Account) (*models.Account, bool, error) {
	provider := strings.ToLower(strings.TrimSpace(in.Provider))
	email := strings.TrimSpace(in.Email)

	var existing models.Account
	var err error
	switch {
	case in.ID != "":
		err = tx.Where("id = ?", in.ID).First(&existing).Error
	case email != "":
		err = tx.Where("LOWER(provider) = ? AND LOWER(email) = ?", provider, strings.ToLower(email)).
			First(&existing).Error
	default:
		err = gorm.ErrRecordNotFound
	}
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, err
	}
	created := errors.Is(err, gorm.ErrRecordNotFound)

	cipher, err := s.secrets.Encrypt(in.Credential)
	if err != nil {
		return nil, false, fmt.Errorf("failed to encrypt credential: %w", err)
	}

	acc := existing
	if created {
		acc = models.Account{ID: in.ID, Status: models.AccountActive}
		if acc.ID == "" {
			acc.ID = uuid.NewString()
		}
	}
	acc.Provider = provider
	if email != "" || created {
		acc.Email = email
	}
	acc.Credential = cipher
	if in.Status != "" {
		acc.Status = in.Status
	}
	if in.UserAgent != "" {
		acc.UserAgent = in.UserAgent
	}

	if created {
		err = tx.Create(&acc).Error
	} else {
		err = tx.Save(&acc).Error
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to save account: %w", err)
	}
	acc.Credential = in.Credential
	return &acc, created, nil
}

func (s *GormAccountStore) Delete(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Where("id = ?", id).Delete(&models.Account{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return apierr.ErrAccountNotFound
	}
	return nil
}

// RecordUsage 累加使用统计，跨天时 TokensToday 归零
func (s *GormAccountStore) RecordUsage(ctx context.Context, deltas map[string]*UsageDelta) error {
	today := s.now().Format(statsDateLayout)
	return withTransaction(s.db.WithContext(ctx), func(tx *gorm.DB) error {
		for id, d := range deltas {
			var acc models.Account
			if err := tx.Where("id = ?", id).First(&acc).Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					continue // 统计期间账号已被删除
				}
				return err
			}
			if acc.StatsDate != today {
				acc.TokensToday = 0
			}
			updates := map[string]interface{}{
				"total_requests":      acc.TotalRequests + d.Requests,
				"successful_requests": acc.SuccessfulRequests + d.Successes,
				"total_duration":      acc.TotalDuration + d.DurationMS,
				"tokens_today":        acc.TokensToday + d.Tokens,
				"stats_date":          today,
			}
			if !d.LastActive.IsZero() {
				updates["last_active"] = d.LastActive
			}
			if err := tx.Model(&models.Account{}).Where("id = ?", id).UpdateColumns(updates).Error; err != nil {
				return fmt.Errorf("failed to update usage for %s: %w", id, err)
			}
		}
		return nil
	})
}

func (s *GormAccountStore) decrypt(acc *models.Account) error {
	plain, err := s.secrets.Decrypt(acc.Credential)
	if err != nil {
		return err
	}
	acc.Credential = plain
	return nil
}
