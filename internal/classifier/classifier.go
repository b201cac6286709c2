// Package classifier labels each inbound hit as preview bot or human, and
// human traffic as a valid or invalid click for the configured target market.
package classifier

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	customerrors "github.com/axellelanca/linkcloak/internal/errors"
	"github.com/axellelanca/linkcloak/internal/models"
	"github.com/axellelanca/linkcloak/internal/oracle"
)

// DefaultOracleTimeout bounds the reputation lookup when the policy leaves it unset.
const DefaultOracleTimeout = 800 * time.Millisecond

// Policy is the explicit configuration the classifier runs with.
type Policy struct {
	// TargetMarket is the ISO 3166-1 alpha-2 country whose residential traffic is monetized.
	TargetMarket string
	// FallbackValid decides the verdict when the oracle fails or times out.
	// The default (false) under-counts rather than over-counts.
	FallbackValid bool
	// OracleTimeout bounds each lookup.
	OracleTimeout time.Duration
}

// Classifier is safe for concurrent use; it holds no mutable state.
type Classifier struct {
	oracle     oracle.Oracle
	signatures []Signature
	policy     Policy
	logger     *zap.Logger
}

// New builds a classifier. A nil signature table selects DefaultSignatures.
func New(o oracle.Oracle, signatures []Signature, policy Policy, logger *zap.Logger) *Classifier {
	if signatures == nil {
		signatures = DefaultSignatures
	}
	if policy.OracleTimeout <= 0 {
		policy.OracleTimeout = DefaultOracleTimeout
	}
	policy.TargetMarket = strings.ToUpper(strings.TrimSpace(policy.TargetMarket))
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Classifier{
		oracle:     o,
		signatures: signatures,
		policy:     policy,
		logger:     logger.Named("classifier"),
	}
}

// Policy returns the normalized policy in use.
func (c *Classifier) Policy() Policy {
	return c.policy
}

// DetectBot reports the crawler family matched by ua, if any.
func (c *Classifier) DetectBot(ua string) (string, bool) {
	sig, ok := matchSignature(c.signatures, ua)
	return sig.Name, ok
}

// ClassifyAgent runs the user-agent stage only. Humans come back invalid with
// ReasonUnverified and no reputation; callers use it where the verdict is
// never recorded, such as unknown or expired slugs.
func (c *Classifier) ClassifyAgent(ip, ua string) models.VisitorClassification {
	out := models.VisitorClassification{IPAddress: ip, UserAgent: ua}
	if name, ok := c.DetectBot(ua); ok {
		out.IsPreviewBot = true
		out.BotType = name
		out.DeviceType = models.DeviceBot
		out.InvalidReason = models.ReasonBot
		return out
	}
	out.DeviceType = DetectDevice(ua)
	out.InvalidReason = models.ReasonUnverified
	return out
}

// Classify produces the full verdict for one hit. Preview bots short-circuit
// before the oracle; humans are checked against the target market and the
// hosting flag, with the fallback policy applied when the lookup fails.
func (c *Classifier) Classify(ctx context.Context, ip, ua string) models.VisitorClassification {
	out := c.ClassifyAgent(ip, ua)
	if out.IsPreviewBot {
		return out
	}
	out.InvalidReason = models.ReasonNone

	rep, err := c.lookup(ctx, ip)
	if err != nil {
		c.logger.Warn("reputation lookup failed, applying fallback",
			zap.String("ip", ip),
			zap.Bool("fallback_valid", c.policy.FallbackValid),
			zap.Error(err))
		if c.policy.FallbackValid {
			out.IsValidClick = true
		} else {
			out.InvalidReason = models.ReasonOracleUnavailable
		}
		return out
	}

	out.Reputation = &rep
	switch {
	case !strings.EqualFold(rep.CountryCode, c.policy.TargetMarket):
		out.InvalidReason = models.ReasonWrongCountry
	case rep.IsDatacenter:
		out.InvalidReason = models.ReasonDatacenter
	default:
		out.IsValidClick = true
	}
	return out
}

func (c *Classifier) lookup(ctx context.Context, ip string) (models.Reputation, error) {
	if c.oracle == nil {
		return models.Reputation{}, fmt.Errorf("%w: no oracle configured", customerrors.ErrOracleUnavailable)
	}
	ctx, cancel := context.WithTimeout(ctx, c.policy.OracleTimeout)
	defer cancel()

	type result struct {
		rep models.Reputation
		err error
	}
	// the oracle may ignore ctx; the select keeps the redirect bounded anyway
	ch := make(chan result, 1)
	go func() {
		rep, err := c.oracle.Lookup(ctx, ip)
		ch <- result{rep, err}
	}()
	select {
	case r := <-ch:
		return r.rep, r.err
	case <-ctx.Done():
		return models.Reputation{}, fmt.Errorf("%w: %v", customerrors.ErrOracleUnavailable, ctx.Err())
	}
}
