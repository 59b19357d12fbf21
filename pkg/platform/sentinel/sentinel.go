package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores and infrastructure layers return
// these (optionally wrapped) so services can translate them into domain errors.
//
//   - ErrNotFound: no live pending request for the key (absent, expired or already consumed)
//   - ErrConflict: the store could not allocate a unique reference token
//   - ErrExpired: a record was found but its deadline has passed
//   - ErrUnavailable: a backing service (Redis, a profile host) could not be reached
//
// For validation errors (bad input, missing fields), use pkg/domain-errors directly.
var (
	ErrNotFound    = errors.New("not found")
	ErrConflict    = errors.New("conflict")
	ErrExpired     = errors.New("expired")
	ErrUnavailable = errors.New("unavailable")
)
