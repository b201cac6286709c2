package repository

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	customerrors "github.com/axellelanca/linkcloak/internal/errors"
	"github.com/axellelanca/linkcloak/internal/models"
)

// ClickRepository is the data access interface of the click ledger.
type ClickRepository interface {
	RecordClick(ctx context.Context, event *models.ClickEvent) (models.Totals, error)
	CountClicksBySlug(ctx context.Context, slug string) (int64, error)
	Breakdown(ctx context.Context, slug string) (*models.Breakdown, error)
}

// GormClickRepository implements ClickRepository with GORM.
type GormClickRepository struct {
	db *gorm.DB
}

// NewClickRepository creates a GormClickRepository.
func NewClickRepository(db *gorm.DB) *GormClickRepository {
	return &GormClickRepository{db: db}
}

// RecordClick inserts the event and bumps the link counters in one transaction.
//
// The counters are changed with a single UPDATE ... SET col = col + n so two
// concurrent hits on the same slug never lose an increment. The totals are read
// back inside the same transaction, after the update, so they include this hit.
func (r *GormClickRepository) RecordClick(ctx context.Context, event *models.ClickEvent) (models.Totals, error) {
	var totals models.Totals

	validInc := 0
	if event.IsValid {
		validInc = 1
	}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Link{}).
			Where("slug = ?", event.Slug).
			Updates(map[string]interface{}{
				"total_clicks": gorm.Expr("total_clicks + ?", 1),
				"valid_clicks": gorm.Expr("valid_clicks + ?", validInc),
			})
		if res.Error != nil {
			return fmt.Errorf("increment counters: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return customerrors.ErrLinkNotFound
		}

		if err := tx.Create(event).Error; err != nil {
			return fmt.Errorf("insert click event: %w", err)
		}

		return tx.Model(&models.Link{}).
			Select("total_clicks", "valid_clicks").
			Where("slug = ?", event.Slug).
			Take(&totals).Error
	})
	if err != nil {
		return models.Totals{}, err
	}
	return totals, nil
}

// CountClicksBySlug counts the ledger events recorded for a slug.
func (r *GormClickRepository) CountClicksBySlug(ctx context.Context, slug string) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&models.ClickEvent{}).Where("slug = ?", slug).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("failed to count clicks for slug %s: %w", slug, err)
	}
	return count, nil
}

// Breakdown groups the ledger rows of a slug by invalid reason and device type.
func (r *GormClickRepository) Breakdown(ctx context.Context, slug string) (*models.Breakdown, error) {
	out := &models.Breakdown{
		ByInvalidReason: make(map[models.InvalidReason]int64),
		ByDevice:        make(map[models.DeviceType]int64),
	}
	db := r.db.WithContext(ctx)

	var reasons []struct {
		InvalidReason models.InvalidReason
		Count         int64
	}
	if err := db.Model(&models.ClickEvent{}).
		Select("invalid_reason, COUNT(*) AS count").
		Where("slug = ? AND is_valid = ?", slug, false).
		Group("invalid_reason").
		Scan(&reasons).Error; err != nil {
		return nil, fmt.Errorf("failed to group reasons for slug %s: %w", slug, err)
	}
	for _, row := range reasons {
		out.ByInvalidReason[row.InvalidReason] = row.Count
	}

	var devices []struct {
		DeviceType models.DeviceType
		Count      int64
	}
	if err := db.Model(&models.ClickEvent{}).
		Select("device_type, COUNT(*) AS count").
		Where("slug = ?", slug).
		Group("device_type").
		Scan(&devices).Error; err != nil {
		return nil, fmt.Errorf("failed to group devices for slug %s: %w", slug, err)
	}
	for _, row := range devices {
		out.ByDevice[row.DeviceType] = row.Count
	}

	var last models.ClickEvent
	res := db.Where("slug = ?", slug).Order("timestamp DESC").Limit(1).Find(&last)
	if res.Error != nil {
		return nil, fmt.Errorf("failed to get last click for slug %s: %w", slug, res.Error)
	}
	if res.RowsAffected > 0 {
		ts := last.Timestamp.UTC().Truncate(time.Second)
		out.LastClickAt = &ts
	}

	return out, nil
}
