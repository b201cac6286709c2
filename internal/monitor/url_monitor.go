// Package monitor periodically checks that the targets of available links still answer.
package monitor

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	customerrors "github.com/axellelanca/linkcloak/internal/errors"
	"github.com/axellelanca/linkcloak/internal/repository"
)

// Change is a target whose reachability flipped between two checks.
type Change struct {
	Slug      string
	TargetURL string
	Reachable bool
	Err       error
}

// UrlMonitor checks the target URL of every available link on an interval.
// It keeps the last known state per link and logs transitions.
type UrlMonitor struct {
	linkRepo    repository.LinkRepository
	interval    time.Duration
	knownStates map[uint]bool // link ID -> reachable
	mu          sync.Mutex
	httpClient  *http.Client
	logger      *zap.Logger
	now         func() time.Time
}

// NewUrlMonitor creates a monitor checking every interval.
func NewUrlMonitor(linkRepo repository.LinkRepository, interval time.Duration, logger *zap.Logger) *UrlMonitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &UrlMonitor{
		linkRepo:    linkRepo,
		interval:    interval,
		knownStates: make(map[uint]bool),
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
			// a redirecting affiliate target is still reachable
			CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse },
		},
		logger: logger.Named("monitor"),
		now:    time.Now,
	}
}

// Start runs an immediate check, then one per interval until ctx is done.
func (m *UrlMonitor) Start(ctx context.Context) {
	m.logger.Info("starting URL monitor", zap.Duration("interval", m.interval))
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.CheckOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			m.logger.Info("URL monitor stopped")
			return
		case <-ticker.C:
			m.CheckOnce(ctx)
		}
	}
}

// CheckOnce checks every available link and returns the transitions seen.
// The first observation of a link is recorded but is not a transition.
func (m *UrlMonitor) CheckOnce(ctx context.Context) []Change {
	links, err := m.linkRepo.GetAvailableLinks(ctx, m.now())
	if err != nil {
		m.logger.Error("failed to list links for monitoring", zap.Error(err))
		return nil
	}

	var changes []Change
	for _, link := range links {
		if ctx.Err() != nil {
			break
		}
		err := m.checkURL(ctx, link.TargetURL)
		current := err == nil

		m.mu.Lock()
		previous, seen := m.knownStates[link.ID]
		m.knownStates[link.ID] = current
		m.mu.Unlock()

		if !seen {
			m.logger.Debug("initial target state",
				zap.String("slug", link.Slug),
				zap.String("target", link.TargetURL),
				zap.String("state", formatState(current)))
			continue
		}
		if current != previous {
			change := Change{Slug: link.Slug, TargetURL: link.TargetURL, Reachable: current, Err: err}
			changes = append(changes, change)
			m.logger.Warn("target state changed",
				zap.String("slug", link.Slug),
				zap.String("target", link.TargetURL),
				zap.String("from", formatState(previous)),
				zap.String("to", formatState(current)),
				zap.Error(err))
		}
	}
	return changes
}

// checkURL sends a HEAD request; 2xx and 3xx count as reachable.
func (m *UrlMonitor) checkURL(ctx context.Context, url string) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return customerrors.ErrURLCheckFailed{URL: url, Reason: err.Error()}
	}
	resp, err := m.httpClient.Do(req)
	if err != nil {
		return customerrors.ErrURLCheckFailed{URL: url, Reason: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 400 {
		return customerrors.ErrURLCheckFailed{URL: url, Reason: fmt.Sprintf("status %d", resp.StatusCode)}
	}
	return nil
}

func formatState(reachable bool) string {
	if reachable {
		return "REACHABLE"
	}
	return "UNREACHABLE"
}
