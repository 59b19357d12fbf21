// Package service orchestrates the two-phase claim protocol: initiate issues a
// reference token, verify checks the wallet signature and the public proof
// and then hands out a voucher, consuming the token exactly once.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"moltens/internal/claim/metrics"
	"moltens/internal/claim/models"
	"moltens/internal/claim/signature"
	"moltens/pkg/domain"
	dErrors "moltens/pkg/domain-errors"
	audit "moltens/pkg/platform/audit"
	"moltens/pkg/platform/sentinel"
	"moltens/pkg/requestcontext"

	"github.com/ethereum/go-ethereum/common"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// PendingStore holds unverified claims. Lookups of an expired request remove
// it and report sentinel.ErrNotFound. Consume is the only removal that tells
// the caller whether it won.
type PendingStore interface {
	Create(ctx context.Context, label domain.Label, wallet domain.WalletAddress) (*models.PendingRequest, error)
	FindByIdentityAndWallet(ctx context.Context, label domain.Label, wallet domain.WalletAddress) (*models.PendingRequest, error)
	FindByToken(ctx context.Context, token domain.ReferenceToken) (*models.PendingRequest, error)
	Delete(ctx context.Context, token domain.ReferenceToken) error
	Consume(ctx context.Context, token domain.ReferenceToken) error
}

type SignatureVerifier interface {
	Verify(wallet domain.WalletAddress, message, signatureHex string) (bool, error)
}

type ProofOracle interface {
	CheckProof(ctx context.Context, label domain.Label, token domain.ReferenceToken) models.ProofResult
	ProfileExists(ctx context.Context, label domain.Label) bool
}

type VoucherIssuer interface {
	Issue(wallet domain.WalletAddress, label domain.Label) (*models.Voucher, error)
	Contract() common.Address
	ChainID() uint64
}

type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// Config carries the naming and fee parameters shown to claimants.
type Config struct {
	ParentDomain    string
	ProtocolTag     string
	RegistrationFee string
	PendingTTL      time.Duration
	// AllowUnsigned lets verify succeed with placeholder vouchers when no
	// signing key is configured. Development only.
	AllowUnsigned bool
}

func DefaultConfig() Config {
	return Config{
		ParentDomain:    "moltbook.eth",
		ProtocolTag:     "#MoltENS",
		RegistrationFee: "0.005",
		PendingTTL:      30 * time.Minute,
	}
}

type Service struct {
	cfg            Config
	store          PendingStore
	verifier       SignatureVerifier
	oracle         ProofOracle
	issuer         VoucherIssuer
	logger         *slog.Logger
	metrics        *metrics.Metrics
	auditPublisher AuditPublisher
	tracer         trace.Tracer
	clock          func() time.Time
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func WithAuditPublisher(publisher AuditPublisher) Option {
	return func(s *Service) {
		s.auditPublisher = publisher
	}
}

func WithClock(clock func() time.Time) Option {
	return func(s *Service) {
		s.clock = clock
	}
}

func New(cfg Config, store PendingStore, verifier SignatureVerifier, oracle ProofOracle, issuer VoucherIssuer, opts ...Option) *Service {
	s := &Service{
		cfg:      cfg,
		store:    store,
		verifier: verifier,
		oracle:   oracle,
		issuer:   issuer,
		logger:   slog.Default(),
		tracer:   otel.Tracer("moltens/claim/service"),
		clock:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// PublishText is the exact post a claimant must make public.
func PublishText(label domain.Label, parentDomain, protocolTag string, token domain.ReferenceToken) string {
	return fmt.Sprintf("Claiming %s %s REF:%s", label.FullName(parentDomain), protocolTag, token)
}

// Initiate issues (or re-issues) the reference token for a (username, wallet) pair.
func (s *Service) Initiate(ctx context.Context, rawIdentity, rawWallet string) (*models.InitiateResult, error) {
	ctx, span := s.tracer.Start(ctx, "claim.Initiate")
	defer span.End()

	label, wallet, err := parseClaimant(rawIdentity, rawWallet)
	if err != nil {
		s.metrics.IncrementInitiation("rejected")
		return nil, err
	}
	span.SetAttributes(attribute.String("claim.label", string(label)))

	req, err := s.store.Create(ctx, label, wallet)
	if err != nil {
		s.metrics.IncrementInitiation("error")
		span.SetStatus(codes.Error, err.Error())
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to create pending request")
	}

	s.metrics.IncrementInitiation("created")
	s.emitAudit(ctx, audit.EventClaimInitiated, req.Label, req.Wallet, req.ReferenceToken, "pending", "")

	return &models.InitiateResult{
		ReferenceToken: req.ReferenceToken,
		Label:          req.Label,
		FullName:       req.Label.FullName(s.cfg.ParentDomain),
		Wallet:         req.Wallet,
		ExpiresAt:      req.ExpiresAt,
		ExpiresIn:      s.pendingTTL(),
		PublishText:    PublishText(req.Label, s.cfg.ParentDomain, s.cfg.ProtocolTag, req.ReferenceToken),
	}, nil
}

// Verify completes a claim. Checks run cheapest first and nothing removes the
// pending request until the voucher exists, so every failure is retryable.
func (s *Service) Verify(ctx context.Context, rawIdentity, rawWallet, signatureHex string) (*models.VerifyResult, error) {
	ctx, span := s.tracer.Start(ctx, "claim.Verify")
	defer span.End()
	start := time.Now()
	defer func() { s.metrics.ObserveVerifyLatency(time.Since(start)) }()

	res, err := s.verify(ctx, rawIdentity, rawWallet, signatureHex)
	if err != nil {
		code := dErrors.CodeOf(err)
		s.metrics.IncrementVerifyOutcome(string(code))
		span.SetStatus(codes.Error, string(code))
		return nil, err
	}
	s.metrics.IncrementVerifyOutcome("verified")
	return res, nil
}

func (s *Service) verify(ctx context.Context, rawIdentity, rawWallet, signatureHex string) (*models.VerifyResult, error) {
	label, wallet, err := parseClaimant(rawIdentity, rawWallet)
	if err != nil {
		return nil, err
	}

	message := signature.ClaimMessage(label, s.cfg.ParentDomain, wallet)
	ok, err := s.verifier.Verify(wallet, message, signatureHex)
	if errors.Is(err, signature.ErrMalformedSignature) {
		s.emitAudit(ctx, audit.EventSignatureRejected, label, wallet, "", "rejected", "malformed_signature")
		return nil, dErrors.New(dErrors.CodeMalformedSignature,
			"walletSignature must be a 0x-prefixed 65-byte hex signature")
	}
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to verify signature")
	}
	if !ok {
		s.emitAudit(ctx, audit.EventSignatureRejected, label, wallet, "", "rejected", "signature_mismatch")
		return nil, dErrors.New(dErrors.CodeSignatureInvalid,
			fmt.Sprintf("wallet signature verification failed; sign exactly: %q", message)).
			WithDetails(map[string]any{"expectedMessage": message})
	}

	pending, err := s.store.FindByIdentityAndWallet(ctx, label, wallet)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.New(dErrors.CodeNoPendingRequest,
			"no pending verification found; call /api/initiate first to get a reference ID")
	}
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load pending request")
	}
	if pending.IsExpired(s.clock()) {
		if err := s.store.Delete(ctx, pending.ReferenceToken); err != nil {
			s.logger.WarnContext(ctx, "failed to delete expired pending request",
				"error", err,
				"request_id", requestcontext.RequestID(ctx),
			)
		}
		s.emitAudit(ctx, audit.EventClaimRejected, label, wallet, pending.ReferenceToken, "rejected", "request_expired")
		return nil, dErrors.New(dErrors.CodeRequestExpired,
			"verification request expired; call /api/initiate again for a new reference ID")
	}

	proof := s.oracle.CheckProof(ctx, label, pending.ReferenceToken)
	if !proof.Found {
		s.emitAudit(ctx, audit.EventProofMissing, label, wallet, pending.ReferenceToken, "rejected", string(proof.Reason))
		return nil, s.proofError(pending, proof)
	}

	voucher, err := s.issuer.Issue(wallet, label)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to issue voucher")
	}
	if !voucher.Signed && !s.cfg.AllowUnsigned {
		s.logger.ErrorContext(ctx, "voucher signing key not configured",
			"label", label,
			"request_id", requestcontext.RequestID(ctx),
		)
		s.emitAudit(ctx, audit.EventSigningUnconfigured, label, wallet, pending.ReferenceToken, "rejected", "signing_unconfigured")
		return nil, dErrors.New(dErrors.CodeSigningUnconfigured,
			"voucher signing is not configured; proof accepted, retry once the operator configures a signer")
	}

	if err := s.store.Consume(ctx, pending.ReferenceToken); err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			s.emitAudit(ctx, audit.EventClaimReplayed, label, wallet, pending.ReferenceToken, "rejected", "already_consumed")
			return nil, dErrors.New(dErrors.CodeNoPendingRequest,
				"this verification was already completed or expired; call /api/initiate to start again")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to finalize verification")
	}

	s.metrics.IncrementVoucherIssued(voucher.Signed)
	s.emitAudit(ctx, audit.EventClaimVerified, label, wallet, pending.ReferenceToken, "voucher_issued", "")

	return &models.VerifyResult{
		Label:      label,
		FullName:   label.FullName(s.cfg.ParentDomain),
		Wallet:     wallet,
		ProfileURL: proof.LocationURL,
		Voucher:    voucher,
		Contract:   s.issuer.Contract(),
		ChainID:    s.issuer.ChainID(),
		Fee:        s.cfg.RegistrationFee,
	}, nil
}

func (s *Service) proofError(pending *models.PendingRequest, proof models.ProofResult) error {
	publish := PublishText(pending.Label, s.cfg.ParentDomain, s.cfg.ProtocolTag, pending.ReferenceToken)
	details := map[string]any{
		"referenceId": string(pending.ReferenceToken),
		"expiresAt":   pending.ExpiresAt.UnixMilli(),
		"instructions": map[string]string{
			"step1":    "Make sure you posted on Moltbook with this exact text:",
			"postText": publish,
			"step2":    "Wait a few seconds for the post to be visible, then try again",
			"step3":    "Make sure your Moltbook profile is public",
		},
	}
	if proof.LocationURL != "" {
		details["moltbookProfileUrl"] = proof.LocationURL
	}

	var err *dErrors.Error
	switch proof.Reason {
	case models.ProofReasonUnavailable:
		err = dErrors.New(dErrors.CodeOracleUnavailable,
			"could not reach Moltbook to check your post; try again shortly")
	case models.ProofReasonTokenNotPresent:
		err = dErrors.New(dErrors.CodeProofNotFound,
			fmt.Sprintf("reference %s not found on your Moltbook profile; post %q publicly and retry", pending.ReferenceToken, publish))
	default:
		err = dErrors.New(dErrors.CodeProofNotFound,
			fmt.Sprintf("could not find a Moltbook profile for %s; make sure it is public and post %q", pending.Label, publish))
	}
	return err.WithReason(string(proof.Reason)).WithDetails(details)
}

// CheckAvailability normalizes name and optionally probes for a Moltbook profile.
// Registry availability is decided on-chain; this service reports true.
func (s *Service) CheckAvailability(ctx context.Context, rawName string, probe bool) (*models.Availability, error) {
	label, err := domain.ParseLabel(rawName)
	if err != nil {
		return nil, err
	}
	res := &models.Availability{
		Label:     label,
		FullName:  label.FullName(s.cfg.ParentDomain),
		Available: true,
	}
	if probe {
		found := s.oracle.ProfileExists(ctx, label)
		res.ProfileFound = &found
	}
	return res, nil
}

func (s *Service) pendingTTL() time.Duration {
	if s.cfg.PendingTTL > 0 {
		return s.cfg.PendingTTL
	}
	return 30 * time.Minute
}

func parseClaimant(rawIdentity, rawWallet string) (domain.Label, domain.WalletAddress, error) {
	label, err := domain.ParseLabel(rawIdentity)
	if err != nil {
		return "", "", err
	}
	wallet, err := domain.ParseWallet(rawWallet)
	if err != nil {
		return "", "", err
	}
	return label, wallet, nil
}

func (s *Service) emitAudit(ctx context.Context, event audit.AuditEvent, label domain.Label, wallet domain.WalletAddress, token domain.ReferenceToken, decision, reason string) {
	requestID := requestcontext.RequestID(ctx)
	s.logger.InfoContext(ctx, string(event),
		"label", label,
		"wallet", wallet,
		"decision", decision,
		"reason", reason,
		"request_id", requestID,
		"log_type", "audit",
	)
	if s.auditPublisher == nil {
		return
	}
	err := s.auditPublisher.Emit(ctx, audit.Event{
		Action:      string(event),
		Label:       string(label),
		Wallet:      string(wallet),
		Subject:     string(token),
		Decision:    decision,
		Reason:      reason,
		RequestID:   requestID,
		ClientIP:    requestcontext.ClientIP(ctx),
		ClientAgent: requestcontext.ClientAgent(ctx),
	})
	if err != nil {
		s.logger.WarnContext(ctx, "failed to emit audit event",
			"event", string(event),
			"error", err,
			"request_id", requestID,
		)
	}
}
