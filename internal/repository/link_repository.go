package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	customerrors "github.com/axellelanca/linkcloak/internal/errors"
	"github.com/axellelanca/linkcloak/internal/models"
)

// LinkRepository is the data access interface for links.
// Counters are never written here; only the ledger increments them.
type LinkRepository interface {
	CreateLink(ctx context.Context, link *models.Link) error
	GetLinkBySlug(ctx context.Context, slug string) (*models.Link, error)
	GetAllLinks(ctx context.Context) ([]models.Link, error)
	GetAvailableLinks(ctx context.Context, now time.Time) ([]models.Link, error)
	SlugExists(ctx context.Context, slug string) (bool, error)
}

// GormLinkRepository implements LinkRepository with GORM.
type GormLinkRepository struct {
	db *gorm.DB
}

// NewLinkRepository creates a GormLinkRepository.
func NewLinkRepository(db *gorm.DB) *GormLinkRepository {
	return &GormLinkRepository{db: db}
}

// CreateLink inserts a new link. A duplicate slug returns ErrSlugTaken.
func (r *GormLinkRepository) CreateLink(ctx context.Context, link *models.Link) error {
	if err := r.db.WithContext(ctx).Create(link).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return customerrors.ErrSlugTaken
		}
		return fmt.Errorf("failed to create link: %w", err)
	}
	return nil
}

// GetLinkBySlug fetches a link by slug, or ErrLinkNotFound.
// Retourne ErrLinkNotFound si le slug n'existe pas.
func (r *GormLinkRepository) GetLinkBySlug(ctx context.Context, slug string) (*models.Link, error) {
	var link models.Link
	if err := r.db.WithContext(ctx).Where("slug = ?", slug).First(&link).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, customerrors.ErrLinkNotFound
		}
		return nil, fmt.Errorf("failed to get link %s: %w", slug, err)
	}
	return &link, nil
}

// GetAllLinks returns every link.
func (r *GormLinkRepository) GetAllLinks(ctx context.Context) ([]models.Link, error) {
	var links []models.Link
	if err := r.db.WithContext(ctx).Order("id").Find(&links).Error; err != nil {
		return nil, fmt.Errorf("failed to retrieve all links: %w", err)
	}
	return links, nil
}

// GetAvailableLinks returns the links that are active and not expired at now.
func (r *GormLinkRepository) GetAvailableLinks(ctx context.Context, now time.Time) ([]models.Link, error) {
	var links []models.Link
	err := r.db.WithContext(ctx).
		Where("is_active = ?", true).
		Where("(expires_at IS NULL OR expires_at > ?)", now.UTC()).
		Order("id").
		Find(&links).Error
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve available links: %w", err)
	}
	return links, nil
}

// SlugExists reports whether a slug is already taken.
func (r *GormLinkRepository) SlugExists(ctx context.Context, slug string) (bool, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&models.Link{}).Where("slug = ?", slug).Count(&count).Error; err != nil {
		return false, fmt.Errorf("failed to check slug %s: %w", slug, err)
	}
	return count > 0, nil
}
