package audit

import (
	"context"
	"errors"
	"time"
)

// EventCategory classifies audit events by their primary purpose so sinks can
// apply different retention and routing.
type EventCategory string

const (
	// CategoryCompliance covers events that grant something on-chain: a voucher
	// left the service.
	CategoryCompliance EventCategory = "compliance"

	// CategorySecurity covers forged or replayed proofs and misconfiguration.
	CategorySecurity EventCategory = "security"

	// CategoryOperations covers routine flow events that can be sampled.
	CategoryOperations EventCategory = "operations"
)

// Event is emitted from the claim flow. Keep it transport-agnostic so stores
// and sinks can fan out.
type Event struct {
	ID        string
	Category  EventCategory
	Timestamp time.Time
	Action    string
	Label     string
	Wallet    string
	// Subject is the reference token the event concerns, when one exists.
	Subject     string
	Decision    string
	Reason      string
	RequestID   string
	ClientIP    string
	ClientAgent string
}

type AuditEvent string

const (
	EventClaimInitiated      AuditEvent = "claim_initiated"
	EventClaimVerified       AuditEvent = "claim_verified"
	EventClaimRejected       AuditEvent = "claim_rejected"
	EventSignatureRejected   AuditEvent = "signature_rejected"
	EventProofMissing        AuditEvent = "proof_missing"
	EventClaimReplayed       AuditEvent = "claim_replayed"
	EventSigningUnconfigured AuditEvent = "signing_unconfigured"
)

var eventCategories = map[AuditEvent]EventCategory{
	EventClaimVerified: CategoryCompliance,

	EventSignatureRejected:   CategorySecurity,
	EventClaimReplayed:       CategorySecurity,
	EventSigningUnconfigured: CategorySecurity,

	EventClaimInitiated: CategoryOperations,
	EventClaimRejected:  CategoryOperations,
	EventProofMissing:   CategoryOperations,
}

// Category returns the EventCategory for this audit event.
// Unknown events default to CategoryOperations.
func (e AuditEvent) Category() EventCategory {
	if cat, ok := eventCategories[e]; ok {
		return cat
	}
	return CategoryOperations
}

// Store persists audit events.
type Store interface {
	Append(ctx context.Context, event Event) error
}

// Reader is implemented by stores that can be queried back.
type Reader interface {
	ListByWallet(ctx context.Context, wallet string) ([]Event, error)
}

// Fanout appends every event to each store and joins the failures.
type Fanout []Store

func (f Fanout) Append(ctx context.Context, event Event) error {
	var errs []error
	for _, s := range f {
		if err := s.Append(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ListByWallet reads from the first store that supports queries.
func (f Fanout) ListByWallet(ctx context.Context, wallet string) ([]Event, error) {
	for _, s := range f {
		if r, ok := s.(Reader); ok {
			return r.ListByWallet(ctx, wallet)
		}
	}
	return nil, nil
}
