package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"VKMBot/model"
)

const (
	maxTitleRunes    = 500
	maxDurationRunes = 20
)

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// GormQuotaRepository persists quota counters and download history. Every
// mutation runs in a transaction holding the user's row lock.
type GormQuotaRepository struct {
	db *gorm.DB
}

func NewGormQuotaRepository(db *gorm.DB) *GormQuotaRepository {
	return &GormQuotaRepository{db: db}
}

// lockUser loads the user row FOR UPDATE, creating it first if needed.
func lockUser(tx *gorm.DB, userID int64) (*model.User, error) {
	if err := ensureRow(tx, userID); err != nil {
		return nil, err
	}
	var user model.User
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&user, "id = ?", userID).Error
	if err != nil {
		return nil, fmt.Errorf("failed to lock user %d: %w", userID, err)
	}
	return &user, nil
}

func saveCounters(tx *gorm.DB, user *model.User) error {
	return tx.Model(&model.User{}).Where("id = ?", user.ID).Updates(map[string]interface{}{
		"daily_downloads": user.DailyDownloads,
		"last_reset_date": user.LastResetDate,
		"total_downloads": user.TotalDownloads,
	}).Error
}

// GetQuota returns the stored record, or a fresh free-tier record for
// unknown users.
func (r *GormQuotaRepository) GetQuota(ctx context.Context, userID int64) (*model.QuotaRecord, error) {
	var user model.User
	err := r.db.WithContext(ctx).First(&user, "id = ?", userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &model.QuotaRecord{UserID: userID, Tier: model.TierFree}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load quota for user %d: %w", userID, err)
	}
	return user.QuotaRecord(), nil
}

func (r *GormQuotaRepository) Reserve(ctx context.Context, userID int64, now time.Time, freeLimit int) (*model.QuotaRecord, bool, error) {
	var (
		record  *model.QuotaRecord
		allowed bool
	)
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		user, err := lockUser(tx, userID)
		if err != nil {
			return err
		}
		record = user.QuotaRecord()
		before := *record
		allowed = record.TryReserve(now, freeLimit)
		if record.DownloadsToday == before.DownloadsToday && record.LastResetDate == before.LastResetDate {
			return nil
		}
		user.ApplyQuota(record)
		return saveCounters(tx, user)
	})
	if err != nil {
		return nil, false, fmt.Errorf("failed to reserve quota for user %d: %w", userID, err)
	}
	return record, allowed, nil
}

func (r *GormQuotaRepository) ReleaseReservation(ctx context.Context, userID int64, day string) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		user, err := lockUser(tx, userID)
		if err != nil {
			return err
		}
		record := user.QuotaRecord()
		if !record.ReleaseReservation(day) {
			return nil
		}
		user.ApplyQuota(record)
		return saveCounters(tx, user)
	})
	if err != nil {
		return fmt.Errorf("failed to release quota for user %d: %w", userID, err)
	}
	return nil
}

func (r *GormQuotaRepository) CommitDownload(ctx context.Context, userID int64, title, duration string) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		user, err := lockUser(tx, userID)
		if err != nil {
			return err
		}
		user.TotalDownloads++
		if err := saveCounters(tx, user); err != nil {
			return err
		}
		return tx.Create(&model.Download{
			UserID:   userID,
			Title:    truncateRunes(title, maxTitleRunes),
			Duration: truncateRunes(duration, maxDurationRunes),
		}).Error
	})
	if err != nil {
		return fmt.Errorf("failed to commit download for user %d: %w", userID, err)
	}
	return nil
}
