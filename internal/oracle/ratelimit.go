package oracle

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"

	customerrors "github.com/axellelanca/linkcloak/internal/errors"
	"github.com/axellelanca/linkcloak/internal/models"
)

// RateLimited keeps the outbound lookup rate under the upstream quota.
// It never waits for a token: a redirect must not queue behind the limiter,
// so an exhausted bucket fails the lookup and the classifier falls back.
type RateLimited struct {
	next    Oracle
	limiter *rate.Limiter
}

func NewRateLimited(next Oracle, perSecond float64, burst int) *RateLimited {
	if burst < 1 {
		burst = 1
	}
	return &RateLimited{next: next, limiter: rate.NewLimiter(rate.Limit(perSecond), burst)}
}

func (r *RateLimited) Lookup(ctx context.Context, ip string) (models.Reputation, error) {
	if !r.limiter.Allow() {
		return models.Reputation{}, fmt.Errorf("%w: %s", customerrors.ErrOracleRateLimited, ip)
	}
	return r.next.Lookup(ctx, ip)
}
