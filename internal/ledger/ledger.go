// Package ledger records every counted hit as an immutable ClickEvent and keeps
// the link counters in step through atomic storage-level increments.
package ledger

import (
	"context"
	"errors"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	customerrors "github.com/axellelanca/linkcloak/internal/errors"
	"github.com/axellelanca/linkcloak/internal/models"
	"github.com/axellelanca/linkcloak/internal/repository"
)

// Ledger is the synchronous write path. Recorder wraps it for the redirect handler.
type Ledger struct {
	clicks    repository.ClickRepository
	publisher Publisher
	logger    *zap.Logger
	now       func() time.Time
}

// New returns a ledger. A nil publisher disables the event feed.
func New(clicks repository.ClickRepository, publisher Publisher, logger *zap.Logger) *Ledger {
	if publisher == nil {
		publisher = NopPublisher{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ledger{
		clicks:    clicks,
		publisher: publisher,
		logger:    logger.Named("ledger"),
		now:       time.Now,
	}
}

// NewEvent builds the row for one hit. The ID is assigned here so a retried
// write of the same event cannot insert a second row.
func (l *Ledger) NewEvent(slug string, c models.VisitorClassification, referer string) *models.ClickEvent {
	return &models.ClickEvent{
		ID:            uuid.NewString(),
		Slug:          slug,
		Timestamp:     l.now().UTC(),
		IPAddress:     c.IPAddress,
		UserAgent:     truncate(c.UserAgent, 512),
		Referer:       truncate(referer, 1024),
		DeviceType:    c.DeviceType,
		CountryCode:   c.CountryCode(),
		IsDatacenter:  c.IsDatacenter(),
		IsValid:       c.IsValidClick,
		InvalidReason: c.InvalidReason,
	}
}

// RecordClick writes one event and returns the post-increment counters.
func (l *Ledger) RecordClick(ctx context.Context, slug string, c models.VisitorClassification, referer string) (models.Totals, error) {
	return l.Write(ctx, l.NewEvent(slug, c, referer))
}

// Write persists a prepared event. Publishing happens after commit and only
// logs on failure.
func (l *Ledger) Write(ctx context.Context, event *models.ClickEvent) (models.Totals, error) {
	totals, err := l.clicks.RecordClick(ctx, event)
	if err != nil {
		reason := "storage error"
		if errors.Is(err, customerrors.ErrLinkNotFound) {
			reason = "link not found"
		}
		return models.Totals{}, customerrors.ErrClickRecordingFailed{Slug: event.Slug, Reason: reason, Err: err}
	}

	if err := l.publisher.Publish(ctx, event); err != nil {
		l.logger.Warn("click event feed publish failed",
			zap.String("slug", event.Slug),
			zap.String("event_id", event.ID),
			zap.Error(err))
	}

	l.logger.Debug("click recorded",
		zap.String("slug", event.Slug),
		zap.Bool("valid", event.IsValid),
		zap.String("reason", string(event.InvalidReason)),
		zap.Int64("total_clicks", totals.TotalClicks),
		zap.Int64("valid_clicks", totals.ValidClicks))
	return totals, nil
}

// truncate cuts s to at most n bytes on a rune boundary; postgres rejects
// text columns holding invalid UTF-8.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
