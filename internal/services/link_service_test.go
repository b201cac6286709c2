package services

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/axellelanca/linkcloak/internal/database/dbtest"
	customerrors "github.com/axellelanca/linkcloak/internal/errors"
	"github.com/axellelanca/linkcloak/internal/models"
	"github.com/axellelanca/linkcloak/internal/repository"
)

func newService(t *testing.T) (*LinkService, *repository.GormClickRepository) {
	t.Helper()
	db := dbtest.Open(t)
	clicks := repository.NewClickRepository(db)
	return NewLinkService(repository.NewLinkRepository(db), clicks, zap.NewNop()), clicks
}

func TestGenerateSlug(t *testing.T) {
	s := &LinkService{}
	slug, err := s.GenerateSlug(slugLength)
	require.NoError(t, err)
	assert.Len(t, slug, slugLength)
	assert.Regexp(t, `^[A-Za-z0-9]+$`, slug)
}

func TestCreateLink(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	t.Run("generated slug", func(t *testing.T) {
		link, err := svc.CreateLink(ctx, CreateLinkInput{TargetURL: "https://shop.example/a", Title: "A"})
		require.NoError(t, err)
		assert.Len(t, link.Slug, slugLength)
		assert.True(t, link.IsActive)
		assert.Zero(t, link.TotalClicks)
	})

	t.Run("custom slug", func(t *testing.T) {
		link, err := svc.CreateLink(ctx, CreateLinkInput{TargetURL: "https://shop.example/b", Slug: "deal1"})
		require.NoError(t, err)
		assert.Equal(t, "deal1", link.Slug)

		_, err = svc.CreateLink(ctx, CreateLinkInput{TargetURL: "https://shop.example/c", Slug: "deal1"})
		assert.ErrorIs(t, err, customerrors.ErrSlugTaken)
	})

	t.Run("inactive with expiry", func(t *testing.T) {
		off := false
		exp := time.Date(2030, 1, 1, 9, 0, 0, 0, time.FixedZone("ICT", 7*3600))
		link, err := svc.CreateLink(ctx, CreateLinkInput{TargetURL: "https://shop.example/d", Slug: "off", IsActive: &off, ExpiresAt: &exp})
		require.NoError(t, err)

		stored, err := svc.GetLinkBySlug(ctx, link.Slug)
		require.NoError(t, err)
		assert.False(t, stored.IsActive)
		require.NotNil(t, stored.ExpiresAt)
		assert.True(t, stored.ExpiresAt.Equal(exp))
	})

	invalid := []struct {
		name string
		in   CreateLinkInput
		want error
	}{
		{"missing scheme", CreateLinkInput{TargetURL: "shop.example/x"}, customerrors.ErrInvalidURL},
		{"javascript target", CreateLinkInput{TargetURL: "javascript:alert(1)"}, customerrors.ErrInvalidURL},
		{"bad image", CreateLinkInput{TargetURL: "https://shop.example/", ImageURL: "ftp://cdn/x.jpg"}, customerrors.ErrInvalidURL},
		{"slug with slash", CreateLinkInput{TargetURL: "https://shop.example/", Slug: "a/b"}, customerrors.ErrInvalidSlug},
		{"reserved slug", CreateLinkInput{TargetURL: "https://shop.example/", Slug: "Health"}, customerrors.ErrInvalidSlug},
	}
	for _, tt := range invalid {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.CreateLink(ctx, tt.in)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

type takenRepo struct {
	repository.LinkRepository
}

func (takenRepo) SlugExists(context.Context, string) (bool, error) { return true, nil }

func TestCreateLink_GivesUpAfterCollisions(t *testing.T) {
	svc := NewLinkService(takenRepo{}, nil, nil)
	_, err := svc.CreateLink(context.Background(), CreateLinkInput{TargetURL: "https://shop.example/"})
	assert.ErrorIs(t, err, customerrors.ErrSlugGenerationFailed)
}

func TestGetLinkStats(t *testing.T) {
	svc, clicks := newService(t)
	ctx := context.Background()

	_, err := svc.CreateLink(ctx, CreateLinkInput{TargetURL: "https://shop.example/", Slug: "deal1"})
	require.NoError(t, err)

	for i, valid := range []bool{true, true, false} {
		reason := models.ReasonNone
		if !valid {
			reason = models.ReasonDatacenter
		}
		_, err := clicks.RecordClick(ctx, &models.ClickEvent{
			ID: fmt.Sprintf("evt-%d", i), Slug: "deal1", Timestamp: time.Now().UTC(),
			DeviceType: models.DeviceDesktop, IsValid: valid, InvalidReason: reason,
		})
		require.NoError(t, err)
	}

	stats, err := svc.GetLinkStats(ctx, "deal1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats.Link.TotalClicks)
	assert.Equal(t, int64(2), stats.Link.ValidClicks)
	assert.Equal(t, int64(3), stats.Events)
	assert.Equal(t, int64(1), stats.Breakdown.ByInvalidReason[models.ReasonDatacenter])
	assert.Equal(t, int64(3), stats.Breakdown.ByDevice[models.DeviceDesktop])

	_, err = svc.GetLinkStats(ctx, "ghost")
	assert.ErrorIs(t, err, customerrors.ErrLinkNotFound)
}
