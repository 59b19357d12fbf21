// Package oracle decides whether a claimant published their reference token on
// the public profile they claim to control.
//
// Profile pages are untrusted third-party content. The oracle never returns an
// error: every failure is folded into a negative ProofResult.
package oracle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"moltens/internal/claim/metrics"
	"moltens/internal/claim/models"
	"moltens/pkg/domain"
	"moltens/pkg/platform/circuit"
	"moltens/pkg/requestcontext"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultFetchTimeout = 10 * time.Second
	DefaultProbeTimeout = 5 * time.Second
)

// Evidence is what a strategy observed at one profile location.
type Evidence struct {
	LocationURL  string
	TokenPresent bool
}

// Strategy is one way of locating a profile and looking for the token on it.
// Returning ErrProfileNotFound says the location does not exist; any other
// error is treated as the host being unreachable.
type Strategy interface {
	Probe(ctx context.Context, label domain.Label, token domain.ReferenceToken) (*Evidence, error)
}

// Locator is implemented by strategies that can check existence cheaply.
type Locator interface {
	Exists(ctx context.Context, label domain.Label) (bool, error)
}

type named interface {
	Name() string
}

type Oracle struct {
	strategies   []Strategy
	names        []string
	breakers     []*circuit.Breaker
	fetchTimeout time.Duration
	probeTimeout time.Duration
	breakerOpts  []circuit.Option
	logger       *slog.Logger
	metrics      *metrics.Metrics
	tracer       trace.Tracer
	group        singleflight.Group
}

type Option func(*Oracle)

func WithFetchTimeout(d time.Duration) Option {
	return func(o *Oracle) {
		if d > 0 {
			o.fetchTimeout = d
		}
	}
}

func WithProbeTimeout(d time.Duration) Option {
	return func(o *Oracle) {
		if d > 0 {
			o.probeTimeout = d
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(o *Oracle) {
		o.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Oracle) {
		o.metrics = m
	}
}

// WithBreakerOptions configures the per-strategy circuit breakers.
func WithBreakerOptions(opts ...circuit.Option) Option {
	return func(o *Oracle) {
		o.breakerOpts = append(o.breakerOpts, opts...)
	}
}

// New builds an oracle that tries strategies in order.
func New(strategies []Strategy, opts ...Option) *Oracle {
	o := &Oracle{
		strategies:   strategies,
		fetchTimeout: DefaultFetchTimeout,
		probeTimeout: DefaultProbeTimeout,
		logger:       slog.Default(),
		tracer:       otel.Tracer("moltens/claim/oracle"),
	}
	for _, opt := range opts {
		opt(o)
	}

	o.names = make([]string, len(strategies))
	o.breakers = make([]*circuit.Breaker, len(strategies))
	for i, s := range strategies {
		name := fmt.Sprintf("strategy-%d", i)
		if n, ok := s.(named); ok {
			name = n.Name()
		}
		o.names[i] = name
		o.breakers[i] = circuit.New(name, append([]circuit.Option{
			circuit.WithFailureThreshold(5),
			circuit.WithSuccessThreshold(1),
		}, o.breakerOpts...)...)
	}
	return o
}

// NewProfilePages is the default oracle over profile URL templates.
func NewProfilePages(templates []string, opts ...Option) *Oracle {
	strategies := make([]Strategy, 0, len(templates))
	for _, t := range templates {
		strategies = append(strategies, NewProfilePage(t, nil))
	}
	return New(strategies, opts...)
}

// Budget is how long CheckProof can take when every strategy runs to its
// fetch timeout. Callers must give CheckProof at least this much time or the
// later strategies are never tried.
func (o *Oracle) Budget() time.Duration {
	return time.Duration(len(o.strategies)) * o.fetchTimeout
}

// CheckProof reports whether token is publicly visible on label's profile.
// Concurrent checks for the same pair share one round of fetches.
func (o *Oracle) CheckProof(ctx context.Context, label domain.Label, token domain.ReferenceToken) models.ProofResult {
	key := string(label) + "|" + string(token)
	ch := o.group.DoChan(key, func() (any, error) {
		return o.check(context.WithoutCancel(ctx), label, token), nil
	})

	select {
	case res := <-ch:
		return res.Val.(models.ProofResult)
	case <-ctx.Done():
		return models.ProofResult{Reason: models.ProofReasonUnavailable}
	}
}

func (o *Oracle) check(ctx context.Context, label domain.Label, token domain.ReferenceToken) models.ProofResult {
	ctx, span := o.tracer.Start(ctx, "oracle.CheckProof",
		trace.WithAttributes(attribute.String("claim.label", string(label))))
	defer span.End()

	transportOnly := true
	for i, s := range o.strategies {
		if !o.breakers[i].Allow() {
			o.logger.DebugContext(ctx, "skipping strategy with open breaker",
				"strategy", o.names[i],
				"request_id", requestcontext.RequestID(ctx),
			)
			continue
		}

		ev, err := o.attempt(ctx, i, s, label, token)
		if err == nil {
			o.recordSuccess(ctx, i)
			if ev.TokenPresent {
				span.SetAttributes(attribute.String("oracle.location", ev.LocationURL))
				return models.ProofResult{Found: true, LocationURL: ev.LocationURL}
			}
			return models.ProofResult{LocationURL: ev.LocationURL, Reason: models.ProofReasonTokenNotPresent}
		}

		if errors.Is(err, ErrProfileNotFound) {
			o.recordSuccess(ctx, i)
			transportOnly = false
			continue
		}
		o.recordFailure(ctx, i)
		o.logger.WarnContext(ctx, "profile probe failed",
			"strategy", o.names[i],
			"error", err,
			"request_id", requestcontext.RequestID(ctx),
		)
	}

	if transportOnly && len(o.strategies) > 0 {
		span.SetStatus(codes.Error, "no profile host reachable")
		return models.ProofResult{Reason: models.ProofReasonUnavailable}
	}
	return models.ProofResult{Reason: models.ProofReasonProfileNotLocatable}
}

func (o *Oracle) attempt(ctx context.Context, i int, s Strategy, label domain.Label, token domain.ReferenceToken) (ev *Evidence, err error) {
	ctx, cancel := context.WithTimeout(ctx, o.fetchTimeout)
	defer cancel()
	ctx, span := o.tracer.Start(ctx, "oracle.Probe",
		trace.WithAttributes(attribute.String("oracle.strategy", o.names[i])))
	defer span.End()

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			ev, err = nil, fmt.Errorf("strategy %s panicked: %v", o.names[i], r)
		}
		o.metrics.ObserveProbe(o.names[i], outcome(ev, err), time.Since(start))
		if err != nil {
			span.RecordError(err)
		}
	}()

	ev, err = s.Probe(ctx, label, token)
	if err == nil && ev == nil {
		err = fmt.Errorf("strategy %s returned no evidence", o.names[i])
	}
	return ev, err
}

// ProfileExists reports whether any strategy can locate label's profile.
func (o *Oracle) ProfileExists(ctx context.Context, label domain.Label) bool {
	for i, s := range o.strategies {
		loc, ok := s.(Locator)
		if !ok || !o.breakers[i].Allow() {
			continue
		}
		found, err := o.exists(ctx, loc, label)
		if err != nil {
			o.recordFailure(ctx, i)
			o.logger.WarnContext(ctx, "profile existence check failed",
				"strategy", o.names[i],
				"error", err,
				"request_id", requestcontext.RequestID(ctx),
			)
			continue
		}
		o.recordSuccess(ctx, i)
		if found {
			return true
		}
	}
	return false
}

func (o *Oracle) exists(ctx context.Context, loc Locator, label domain.Label) (found bool, err error) {
	ctx, cancel := context.WithTimeout(ctx, o.probeTimeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			found, err = false, fmt.Errorf("locator panicked: %v", r)
		}
	}()
	return loc.Exists(ctx, label)
}

func (o *Oracle) recordSuccess(ctx context.Context, i int) {
	if _, change := o.breakers[i].RecordSuccess(); change.Closed {
		o.metrics.IncrementBreakerTransition(o.names[i], circuit.StateClosed.String())
		o.logger.InfoContext(ctx, "profile strategy recovered", "strategy", o.names[i])
	}
}

func (o *Oracle) recordFailure(ctx context.Context, i int) {
	if _, change := o.breakers[i].RecordFailure(); change.Opened {
		o.metrics.IncrementBreakerTransition(o.names[i], circuit.StateOpen.String())
		o.logger.WarnContext(ctx, "profile strategy circuit opened", "strategy", o.names[i])
	}
}

func outcome(ev *Evidence, err error) string {
	switch {
	case errors.Is(err, ErrProfileNotFound):
		return "not_found"
	case err != nil:
		return "error"
	case ev.TokenPresent:
		return "found"
	default:
		return "token_absent"
	}
}
