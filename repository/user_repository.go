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

// ErrUserNotFound is returned for ids that never interacted with the bot.
var ErrUserNotFound = errors.New("user not found")

// UserRepository defines the user profile and premium operations.
type UserRepository interface {
	// EnsureUser creates the user as free tier or refreshes the non-empty
	// profile fields of an existing one.
	EnsureUser(ctx context.Context, id int64, username, firstName string) (*model.User, error)
	GetByID(ctx context.Context, id int64) (*model.User, error)
	// SetPremium grants premium; a nil until means no expiry.
	SetPremium(ctx context.Context, id int64, until *time.Time) error
	RemovePremium(ctx context.Context, id int64) error
	ListDownloads(ctx context.Context, id int64, limit int) ([]*model.Download, error)
}

type gormUserRepository struct {
	db *gorm.DB
}

func NewGormUserRepository(db *gorm.DB) UserRepository {
	return &gormUserRepository{db: db}
}

func (r *gormUserRepository) EnsureUser(ctx context.Context, id int64, username, firstName string) (*model.User, error) {
	user := &model.User{ID: id, Username: username, FirstName: firstName}
	onConflict := clause.OnConflict{Columns: []clause.Column{{Name: "id"}}, DoNothing: true}
	var refresh []string
	if username != "" {
		refresh = append(refresh, "username")
	}
	if firstName != "" {
		refresh = append(refresh, "first_name")
	}
	if len(refresh) > 0 {
		onConflict = clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns(append(refresh, "updated_at")),
		}
	}
	err := r.db.WithContext(ctx).Clauses(onConflict).Create(user).Error
	if err != nil {
		return nil, fmt.Errorf("failed to upsert user %d: %w", id, err)
	}
	return r.GetByID(ctx, id)
}

func (r *gormUserRepository) GetByID(ctx context.Context, id int64) (*model.User, error) {
	var user model.User
	err := r.db.WithContext(ctx).First(&user, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load user %d: %w", id, err)
	}
	return &user, nil
}

func (r *gormUserRepository) SetPremium(ctx context.Context, id int64, until *time.Time) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := ensureRow(tx, id); err != nil {
			return err
		}
		return tx.Model(&model.User{}).Where("id = ?", id).Updates(map[string]interface{}{
			"is_premium":         true,
			"premium_expires_at": until,
		}).Error
	})
}

func (r *gormUserRepository) RemovePremium(ctx context.Context, id int64) error {
	res := r.db.WithContext(ctx).Model(&model.User{}).Where("id = ?", id).Updates(map[string]interface{}{
		"is_premium":         false,
		"premium_expires_at": nil,
	})
	if res.Error != nil {
		return fmt.Errorf("failed to remove premium for user %d: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrUserNotFound
	}
	return nil
}

func (r *gormUserRepository) ListDownloads(ctx context.Context, id int64, limit int) ([]*model.Download, error) {
	var downloads []*model.Download
	q := r.db.WithContext(ctx).Where("user_id = ?", id).Order("downloaded_at DESC, id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&downloads).Error; err != nil {
		return nil, fmt.Errorf("failed to list downloads for user %d: %w", id, err)
	}
	return downloads, nil
}

// ensureRow inserts a free-tier row for id unless one exists.
func ensureRow(tx *gorm.DB, id int64) error {
	err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&model.User{ID: id}).Error
	if err != nil {
		return fmt.Errorf("failed to create user %d: %w", id, err)
	}
	return nil
}
