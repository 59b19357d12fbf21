package claim

import (
	"log/slog"

	"moltens/internal/claim/handler"
	"moltens/internal/claim/service"
)

// Service exposes the initiate/verify claim protocol.
type Service = service.Service

// Handler wires HTTP endpoints to the claim service.
type Handler = handler.Handler

// Config carries naming and fee parameters for the claim service.
type Config = service.Config

// NewService constructs the claim service with its collaborators.
func NewService(
	cfg Config,
	store service.PendingStore,
	verifier service.SignatureVerifier,
	oracle service.ProofOracle,
	issuer service.VoucherIssuer,
	opts ...service.Option,
) *Service {
	return service.New(cfg, store, verifier, oracle, issuer, opts...)
}

// NewHandler constructs the public claim HTTP handler.
func NewHandler(s *Service, logger *slog.Logger) *Handler {
	return handler.New(s, logger)
}
