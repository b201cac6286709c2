// Package oracle answers "which country is this IP in, and is it hosting traffic".
//
// The classifier only sees the Oracle interface. Concrete lookups are layered:
// an upstream client (IPAPIClient), optionally wrapped by RateLimited and
// Cached. Every failure mode is reported as an error wrapping
// errors.ErrOracleUnavailable or errors.ErrOracleRateLimited so the caller can
// apply its fallback policy.
package oracle

import (
	"context"
	"fmt"
	"strings"

	customerrors "github.com/axellelanca/linkcloak/internal/errors"
	"github.com/axellelanca/linkcloak/internal/models"
)

// Oracle resolves the reputation of an IP address.
type Oracle interface {
	Lookup(ctx context.Context, ip string) (models.Reputation, error)
}

// Func adapts a function to the Oracle interface.
type Func func(ctx context.Context, ip string) (models.Reputation, error)

func (f Func) Lookup(ctx context.Context, ip string) (models.Reputation, error) {
	return f(ctx, ip)
}

// Static is a fixed table, used in development and tests.
// Unknown addresses fail like an unreachable upstream would.
type Static map[string]models.Reputation

func (s Static) Lookup(ctx context.Context, ip string) (models.Reputation, error) {
	if err := ctx.Err(); err != nil {
		return models.Reputation{}, fmt.Errorf("%w: %v", customerrors.ErrOracleUnavailable, err)
	}
	rep, ok := s[ip]
	if !ok {
		return models.Reputation{}, fmt.Errorf("%w: no entry for %s", customerrors.ErrOracleUnavailable, ip)
	}
	rep.CountryCode = strings.ToUpper(rep.CountryCode)
	return rep, nil
}
