// Package pending stores issued challenges until they are proven or expire.
//
// Error contract for every store:
//   - ErrNotFound when no live request exists for the key (absent, expired or consumed)
//   - ErrConflict when a unique reference token could not be minted
//   - wrapped infrastructure errors otherwise
package pending

import (
	"time"

	"moltens/pkg/domain"
)

const (
	// DefaultTTL is how long a claimant has to publish the token and verify.
	DefaultTTL = 30 * time.Minute

	maxMintAttempts = 5
)

// TokenGenerator mints a fresh reference token for the given prefix.
type TokenGenerator func(prefix string) (domain.ReferenceToken, error)

type options struct {
	ttl    time.Duration
	prefix string
	clock  func() time.Time
	mint   TokenGenerator
}

func defaultOptions() options {
	return options{
		ttl:    DefaultTTL,
		prefix: domain.DefaultPrefix,
		clock:  time.Now,
		mint:   domain.NewReferenceToken,
	}
}

// Option configures either store implementation.
type Option func(*options)

func WithTTL(ttl time.Duration) Option {
	return func(o *options) {
		if ttl > 0 {
			o.ttl = ttl
		}
	}
}

func WithTokenPrefix(prefix string) Option {
	return func(o *options) {
		if prefix != "" {
			o.prefix = prefix
		}
	}
}

func WithClock(clock func() time.Time) Option {
	return func(o *options) {
		o.clock = clock
	}
}

// WithTokenGenerator replaces the random token source. Tests use it to force collisions.
func WithTokenGenerator(mint TokenGenerator) Option {
	return func(o *options) {
		o.mint = mint
	}
}
