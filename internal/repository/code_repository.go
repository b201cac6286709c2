package repository

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	customerrors "github.com/axellelanca/linkcloak/internal/errors"
	"github.com/axellelanca/linkcloak/internal/models"
)

// GormCodeRepository stores one-time extension codes in the SQL database.
type GormCodeRepository struct {
	db  *gorm.DB
	now func() time.Time
}

func NewCodeRepository(db *gorm.DB) *GormCodeRepository {
	return &GormCodeRepository{db: db, now: time.Now}
}

// Save persists a freshly issued code.
func (r *GormCodeRepository) Save(ctx context.Context, code, subject string, ttl time.Duration) error {
	row := &models.ExtensionCode{
		Code:      code,
		Subject:   subject,
		ExpiresAt: r.now().Add(ttl).UTC(),
	}
	if err := r.db.WithContext(ctx).Create(row).Error; err != nil {
		return fmt.Errorf("failed to save extension code: %w", err)
	}
	return nil
}

// Consume marks the code used and returns its subject. The conditional UPDATE
// matches at most once per code, so a replay or a racing second call gets
// ErrCodeInvalid.
func (r *GormCodeRepository) Consume(ctx context.Context, code string) (string, error) {
	now := r.now().UTC()
	var subject string

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.ExtensionCode{}).
			Where("code = ? AND consumed_at IS NULL AND expires_at > ?", code, now).
			Update("consumed_at", now)
		if res.Error != nil {
			return fmt.Errorf("failed to consume extension code: %w", res.Error)
		}
		if res.RowsAffected != 1 {
			return customerrors.ErrCodeInvalid
		}

		var row models.ExtensionCode
		if err := tx.Where("code = ?", code).Take(&row).Error; err != nil {
			return fmt.Errorf("failed to load extension code: %w", err)
		}
		subject = row.Subject
		return nil
	})
	if err != nil {
		return "", err
	}
	return subject, nil
}
