// Package models holds the records and results exchanged between claim components.
package models

import (
	"fmt"
	"time"

	"moltens/pkg/domain"

	"github.com/ethereum/go-ethereum/common"
)

// PendingRequest is an issued challenge awaiting proof. Only the pending store
// creates, expires and removes these.
type PendingRequest struct {
	ReferenceToken domain.ReferenceToken `json:"reference_token"`
	Label          domain.Label          `json:"label"`
	Wallet         domain.WalletAddress  `json:"wallet"`
	CreatedAt      time.Time             `json:"created_at"`
	ExpiresAt      time.Time             `json:"expires_at"`
}

// NewPendingRequest builds a request expiring ttl after now.
func NewPendingRequest(token domain.ReferenceToken, label domain.Label, wallet domain.WalletAddress, now time.Time, ttl time.Duration) (*PendingRequest, error) {
	if token == "" || label == "" || wallet == "" {
		return nil, fmt.Errorf("pending request requires token, label and wallet")
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("pending request ttl must be positive, got %s", ttl)
	}
	return &PendingRequest{
		ReferenceToken: token,
		Label:          label,
		Wallet:         wallet,
		CreatedAt:      now,
		ExpiresAt:      now.Add(ttl),
	}, nil
}

// IsExpired reports whether the deadline has strictly passed.
func (p *PendingRequest) IsExpired(now time.Time) bool {
	return p.ExpiresAt.Before(now)
}

// Matches reports whether p belongs to the (label, wallet) pair.
func (p *PendingRequest) Matches(label domain.Label, wallet domain.WalletAddress) bool {
	return p.Label == label && p.Wallet == wallet
}

// Voucher is the registrar authorization handed to the claimant.
type Voucher struct {
	Label     domain.Label
	Deadline  int64
	Nonce     common.Hash
	Signature []byte
	// Signed is false when no signing key is configured and Signature is the
	// all-zero placeholder.
	Signed bool
}

// ProofReason explains a negative proof lookup.
type ProofReason string

const (
	ProofReasonNone                ProofReason = ""
	ProofReasonTokenNotPresent     ProofReason = "token_not_present"
	ProofReasonProfileNotLocatable ProofReason = "profile_not_locatable"
	ProofReasonUnavailable         ProofReason = "oracle_unavailable"
)

// ProofResult is the outcome of checking a claimant's public profile.
type ProofResult struct {
	Found       bool
	LocationURL string
	Reason      ProofReason
}

// InitiateResult is returned by a successful initiate.
type InitiateResult struct {
	ReferenceToken domain.ReferenceToken
	Label          domain.Label
	FullName       string
	Wallet         domain.WalletAddress
	ExpiresAt      time.Time
	PublishText    string
	ExpiresIn      time.Duration
}

// VerifyResult is returned by a successful verify.
type VerifyResult struct {
	Label      domain.Label
	FullName   string
	Wallet     domain.WalletAddress
	ProfileURL string
	Voucher    *Voucher
	Contract   common.Address
	ChainID    uint64
	Fee        string
}

// Availability is the read-only name check result. ProfileFound is set only
// when a profile probe was requested.
type Availability struct {
	Label        domain.Label
	FullName     string
	Available    bool
	ProfileFound *bool
}
