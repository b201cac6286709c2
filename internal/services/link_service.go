// Package services contains the business logic layer shared by the API and the CLI.
package services

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"net/url"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	customerrors "github.com/axellelanca/linkcloak/internal/errors"
	"github.com/axellelanca/linkcloak/internal/models"
	"github.com/axellelanca/linkcloak/internal/repository"
)

// charset defines the characters used for generated slugs.
// 62 symbols, so 62^7 (about 3.5 trillion) combinations for 7-character slugs.
const charset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

const (
	slugLength     = 7
	maxSlugRetries = 5
)

var slugPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// reservedSlugs collide with fixed routes.
var reservedSlugs = map[string]bool{"health": true, "api": true, "extension": true}

// LinkService provides business logic methods for managing cloaked links.
// It sits between the HTTP handlers / CLI commands and the repositories.
type LinkService struct {
	linkRepo  repository.LinkRepository
	clickRepo repository.ClickRepository
	logger    *zap.Logger
}

// NewLinkService creates and returns a new instance of LinkService.
func NewLinkService(linkRepo repository.LinkRepository, clickRepo repository.ClickRepository, logger *zap.Logger) *LinkService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LinkService{
		linkRepo:  linkRepo,
		clickRepo: clickRepo,
		logger:    logger.Named("links"),
	}
}

// CreateLinkInput carries what the CRUD layer may set on a new link.
// An empty Slug asks for a generated one; a nil IsActive means active.
type CreateLinkInput struct {
	TargetURL   string     `json:"target_url"`
	Slug        string     `json:"slug"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	ImageURL    string     `json:"image_url"`
	Content     string     `json:"content"`
	IsActive    *bool      `json:"is_active"`
	ExpiresAt   *time.Time `json:"expires_at"`
}

// GenerateSlug generates a cryptographically secure random slug.
func (s *LinkService) GenerateSlug(length int) (string, error) {
	code := make([]byte, length)
	for i := range code {
		num, err := rand.Int(rand.Reader, big.NewInt(int64(len(charset))))
		if err != nil {
			return "", fmt.Errorf("failed to generate random number: %w", err)
		}
		code[i] = charset[num.Int64()]
	}
	return string(code), nil
}

// CreateLink validates the input, resolves the slug and persists the link.
//
// A custom slug that is already taken fails with ErrSlugTaken. Generated
// slugs are retried on collision up to maxSlugRetries times.
func (s *LinkService) CreateLink(ctx context.Context, in CreateLinkInput) (*models.Link, error) {
	if err := validateHTTPURL(in.TargetURL); err != nil {
		return nil, err
	}
	if in.ImageURL != "" {
		if err := validateHTTPURL(in.ImageURL); err != nil {
			return nil, fmt.Errorf("image url: %w", err)
		}
	}

	slug := strings.TrimSpace(in.Slug)
	if slug != "" {
		if !slugPattern.MatchString(slug) || reservedSlugs[strings.ToLower(slug)] {
			return nil, customerrors.ErrInvalidSlug
		}
		exists, err := s.linkRepo.SlugExists(ctx, slug)
		if err != nil {
			return nil, fmt.Errorf("database error checking slug uniqueness: %w", err)
		}
		if exists {
			return nil, customerrors.ErrSlugTaken
		}
	} else {
		generated, err := s.uniqueSlug(ctx)
		if err != nil {
			return nil, err
		}
		slug = generated
	}

	active := true
	if in.IsActive != nil {
		active = *in.IsActive
	}
	var expiresAt *time.Time
	if in.ExpiresAt != nil {
		utc := in.ExpiresAt.UTC()
		expiresAt = &utc
	}

	link := &models.Link{
		Slug:        slug,
		TargetURL:   in.TargetURL,
		Title:       in.Title,
		Description: in.Description,
		ImageURL:    in.ImageURL,
		Content:     in.Content,
		IsActive:    active,
		ExpiresAt:   expiresAt,
	}
	if err := s.linkRepo.CreateLink(ctx, link); err != nil {
		return nil, fmt.Errorf("failed to create link: %w", err)
	}

	s.logger.Info("link created", zap.String("slug", link.Slug), zap.Bool("active", link.IsActive))
	return link, nil
}

func (s *LinkService) uniqueSlug(ctx context.Context) (string, error) {
	for i := 0; i < maxSlugRetries; i++ {
		code, err := s.GenerateSlug(slugLength)
		if err != nil {
			return "", fmt.Errorf("failed to generate slug: %w", err)
		}
		exists, err := s.linkRepo.SlugExists(ctx, code)
		if err != nil {
			return "", fmt.Errorf("database error checking slug uniqueness: %w", err)
		}
		if !exists {
			return code, nil
		}
		s.logger.Warn("slug collision, retrying", zap.String("slug", code), zap.Int("attempt", i+1))
	}
	return "", customerrors.ErrSlugGenerationFailed
}

// GetLinkBySlug is the lookup used on the redirect path.
func (s *LinkService) GetLinkBySlug(ctx context.Context, slug string) (*models.Link, error) {
	return s.linkRepo.GetLinkBySlug(ctx, slug)
}

// LinkStats combines the link counters with the ledger breakdown.
type LinkStats struct {
	Link      *models.Link      `json:"link"`
	Events    int64             `json:"events"`
	Breakdown *models.Breakdown `json:"breakdown"`
}

// GetLinkStats returns the counters kept on the link plus an aggregate of its
// ledger rows. Events and TotalClicks agree unless rows were written by hand.
func (s *LinkService) GetLinkStats(ctx context.Context, slug string) (*LinkStats, error) {
	link, err := s.linkRepo.GetLinkBySlug(ctx, slug)
	if err != nil {
		return nil, err
	}
	events, err := s.clickRepo.CountClicksBySlug(ctx, slug)
	if err != nil {
		return nil, err
	}
	breakdown, err := s.clickRepo.Breakdown(ctx, slug)
	if err != nil {
		return nil, err
	}
	return &LinkStats{Link: link, Events: events, Breakdown: breakdown}, nil
}

func validateHTTPURL(raw string) error {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return customerrors.ErrInvalidURL
	}
	return nil
}
