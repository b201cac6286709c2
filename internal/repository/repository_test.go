package repository

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/axellelanca/linkcloak/internal/database/dbtest"
	customerrors "github.com/axellelanca/linkcloak/internal/errors"
	"github.com/axellelanca/linkcloak/internal/models"
)

func seedLink(t *testing.T, repo *GormLinkRepository, slug string, active bool, expiresAt *time.Time) *models.Link {
	t.Helper()
	link := &models.Link{Slug: slug, TargetURL: "https://shop.example/" + slug, IsActive: active, ExpiresAt: expiresAt}
	require.NoError(t, repo.CreateLink(context.Background(), link))
	return link
}

func newEvent(slug string, valid bool, reason models.InvalidReason, device models.DeviceType) *models.ClickEvent {
	return &models.ClickEvent{
		ID:            uuid.NewString(),
		Slug:          slug,
		Timestamp:     time.Now().UTC(),
		IPAddress:     "203.0.113.7",
		UserAgent:     "Mozilla/5.0",
		DeviceType:    device,
		IsValid:       valid,
		InvalidReason: reason,
	}
}

func TestLinkRepository(t *testing.T) {
	db := dbtest.Open(t)
	repo := NewLinkRepository(db)
	ctx := context.Background()

	past := time.Now().UTC().Add(-time.Hour)
	future := time.Now().UTC().Add(time.Hour)
	seedLink(t, repo, "live", true, nil)
	seedLink(t, repo, "later", true, &future)
	seedLink(t, repo, "expired", true, &past)
	seedLink(t, repo, "off", false, nil)

	t.Run("get by slug", func(t *testing.T) {
		link, err := repo.GetLinkBySlug(ctx, "live")
		require.NoError(t, err)
		assert.Equal(t, "https://shop.example/live", link.TargetURL)
		assert.True(t, link.IsActive)
	})

	t.Run("unknown slug", func(t *testing.T) {
		_, err := repo.GetLinkBySlug(ctx, "nope")
		assert.ErrorIs(t, err, customerrors.ErrLinkNotFound)
	})

	t.Run("inactive stays inactive", func(t *testing.T) {
		link, err := repo.GetLinkBySlug(ctx, "off")
		require.NoError(t, err)
		assert.False(t, link.IsActive)
	})

	t.Run("available links", func(t *testing.T) {
		links, err := repo.GetAvailableLinks(ctx, time.Now())
		require.NoError(t, err)
		var slugs []string
		for _, l := range links {
			slugs = append(slugs, l.Slug)
		}
		assert.Equal(t, []string{"live", "later"}, slugs)
	})

	t.Run("slug exists", func(t *testing.T) {
		ok, err := repo.SlugExists(ctx, "live")
		require.NoError(t, err)
		assert.True(t, ok)
		ok, err = repo.SlugExists(ctx, "ghost")
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestClickRepository_RecordClick(t *testing.T) {
	db := dbtest.Open(t)
	links := NewLinkRepository(db)
	clicks := NewClickRepository(db)
	ctx := context.Background()
	seedLink(t, links, "deal1", true, nil)

	totals, err := clicks.RecordClick(ctx, newEvent("deal1", true, models.ReasonNone, models.DeviceMobile))
	require.NoError(t, err)
	assert.Equal(t, models.Totals{TotalClicks: 1, ValidClicks: 1}, totals)

	totals, err = clicks.RecordClick(ctx, newEvent("deal1", false, models.ReasonWrongCountry, models.DeviceDesktop))
	require.NoError(t, err)
	assert.Equal(t, models.Totals{TotalClicks: 2, ValidClicks: 1}, totals)

	t.Run("unknown slug writes nothing", func(t *testing.T) {
		_, err := clicks.RecordClick(ctx, newEvent("ghost", true, models.ReasonNone, models.DeviceMobile))
		assert.ErrorIs(t, err, customerrors.ErrLinkNotFound)

		n, err := clicks.CountClicksBySlug(ctx, "ghost")
		require.NoError(t, err)
		assert.Zero(t, n)
	})

	t.Run("breakdown", func(t *testing.T) {
		b, err := clicks.Breakdown(ctx, "deal1")
		require.NoError(t, err)
		assert.Equal(t, int64(1), b.ByInvalidReason[models.ReasonWrongCountry])
		assert.Equal(t, int64(1), b.ByDevice[models.DeviceMobile])
		assert.Equal(t, int64(1), b.ByDevice[models.DeviceDesktop])
		assert.NotNil(t, b.LastClickAt)
	})
}

func TestClickRepository_ConcurrentHitsLoseNothing(t *testing.T) {
	db := dbtest.Open(t)
	links := NewLinkRepository(db)
	clicks := NewClickRepository(db)
	seedLink(t, links, "hot", true, nil)

	const hits = 40
	var wg sync.WaitGroup
	errs := make(chan error, hits)
	for i := 0; i < hits; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			valid := i%4 != 0
			reason := models.ReasonNone
			if !valid {
				reason = models.ReasonDatacenter
			}
			_, err := clicks.RecordClick(context.Background(), newEvent("hot", valid, reason, models.DeviceMobile))
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	link, err := links.GetLinkBySlug(context.Background(), "hot")
	require.NoError(t, err)
	assert.Equal(t, int64(hits), link.TotalClicks)
	assert.Equal(t, int64(hits-hits/4), link.ValidClicks)

	n, err := clicks.CountClicksBySlug(context.Background(), "hot")
	require.NoError(t, err)
	assert.Equal(t, int64(hits), n)
}

func TestCodeRepository_ConsumeOnce(t *testing.T) {
	db := dbtest.Open(t)
	repo := NewCodeRepository(db)
	ctx := context.Background()

	require.NoError(t, repo.Save(ctx, "abc", "user@example.com", time.Minute))

	subject, err := repo.Consume(ctx, "abc")
	require.NoError(t, err)
	assert.Equal(t, "user@example.com", subject)

	_, err = repo.Consume(ctx, "abc")
	assert.ErrorIs(t, err, customerrors.ErrCodeInvalid)

	_, err = repo.Consume(ctx, "unknown")
	assert.ErrorIs(t, err, customerrors.ErrCodeInvalid)
}

func TestCodeRepository_Expired(t *testing.T) {
	db := dbtest.Open(t)
	repo := NewCodeRepository(db)
	ctx := context.Background()

	require.NoError(t, repo.Save(ctx, "old", "user@example.com", time.Minute))
	repo.now = func() time.Time { return time.Now().Add(2 * time.Minute) }

	_, err := repo.Consume(ctx, "old")
	assert.ErrorIs(t, err, customerrors.ErrCodeInvalid)
}

func TestCodeRepository_ConcurrentConsume(t *testing.T) {
	db := dbtest.Open(t)
	repo := NewCodeRepository(db)
	require.NoError(t, repo.Save(context.Background(), "race", "user@example.com", time.Minute))

	const callers = 8
	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := repo.Consume(context.Background(), "race"); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
}
