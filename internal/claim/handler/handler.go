package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"moltens/internal/claim/models"
	dErrors "moltens/pkg/domain-errors"
	"moltens/pkg/platform/httputil"
	"moltens/pkg/requestcontext"
)

//go:generate mockgen -source=handler.go -destination=mocks/claim-mocks.go -package=mocks Service

// Service defines the claim operations exposed over HTTP.
type Service interface {
	Initiate(ctx context.Context, username, wallet string) (*models.InitiateResult, error)
	Verify(ctx context.Context, username, wallet, walletSignature string) (*models.VerifyResult, error)
	CheckAvailability(ctx context.Context, name string, probe bool) (*models.Availability, error)
}

// Handler wires the claim endpoints to the claim service.
type Handler struct {
	service Service
	logger  *slog.Logger
}

func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{
		service: service,
		logger:  logger,
	}
}

// Register mounts the claim endpoints on the router.
func (h *Handler) Register(r chi.Router) {
	r.Post("/api/initiate", h.HandleInitiate)
	r.Post("/api/verify", h.HandleVerify)
	r.Get("/api/check/{name}", h.HandleCheck)
	r.Post("/api/register", h.HandleRegister)
}

// HandleInitiate handles POST /api/initiate.
func (h *Handler) HandleInitiate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[InitiateRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	res, err := h.service.Initiate(ctx, req.Username, req.Wallet)
	if err != nil {
		h.logFailure(ctx, "claim initiation failed", err, "username", req.Username)
		httputil.WriteError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "claim initiated",
		"request_id", requestID,
		"label", res.Label,
		"wallet", res.Wallet,
		"expires_at", res.ExpiresAt.Format(time.RFC3339),
	)
	httputil.WriteJSON(w, http.StatusOK, FromInitiateResult(res))
}

// HandleVerify handles POST /api/verify.
func (h *Handler) HandleVerify(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	start := time.Now()

	req, ok := httputil.DecodeAndPrepare[VerifyRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	res, err := h.service.Verify(ctx, req.Username, req.Wallet, req.WalletSignature)
	if err != nil {
		h.logFailure(ctx, "claim verification failed", err, "username", req.Username)
		httputil.WriteError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "claim verified",
		"request_id", requestID,
		"label", res.Label,
		"wallet", res.Wallet,
		"signed", res.Voucher.Signed,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	httputil.WriteJSON(w, http.StatusOK, FromVerifyResult(res))
}

// HandleCheck handles GET /api/check/{name}[?probe=true].
func (h *Handler) HandleCheck(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	probe := false
	if raw := r.URL.Query().Get("probe"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "probe must be true or false"))
			return
		}
		probe = v
	}

	res, err := h.service.CheckAvailability(ctx, chi.URLParam(r, "name"), probe)
	if err != nil {
		h.logFailure(ctx, "availability check failed", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, FromAvailability(res))
}

// HandleRegister answers the retired single-step endpoint with the current flow.
func (h *Handler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusBadRequest, map[string]any{
		"error":             string(dErrors.CodeBadRequest),
		"error_description": "This endpoint has been replaced with the Moltbook post verification flow",
		"newFlow": map[string]any{
			"step1": map[string]any{
				"endpoint":    "POST /api/initiate",
				"description": "Start verification and get a reference ID",
				"body":        map[string]string{"username": "your_moltbook_username", "wallet": "0xYourWalletAddress"},
			},
			"step2": map[string]any{
				"description": "Post on Moltbook with the reference ID provided",
				"example":     "Claiming yourname.moltbook.eth #MoltENS REF:MOLT-ABC12345",
			},
			"step3": map[string]any{
				"endpoint":    "POST /api/verify",
				"description": "Complete verification after posting",
				"body": map[string]string{
					"username":        "your_moltbook_username",
					"wallet":          "0xYourWalletAddress",
					"walletSignature": "0xSignatureOf_Claim_yourname.moltbook.eth:_0xYourWallet",
				},
			},
		},
	})
}

// logFailure logs client errors at warn and everything else at error.
func (h *Handler) logFailure(ctx context.Context, msg string, err error, attrs ...any) {
	args := append([]any{
		"request_id", requestcontext.RequestID(ctx),
		"error", err,
		"code", string(dErrors.CodeOf(err)),
	}, attrs...)
	if dErrors.ToHTTPStatus(dErrors.CodeOf(err)) >= http.StatusInternalServerError {
		h.logger.ErrorContext(ctx, msg, args...)
		return
	}
	h.logger.WarnContext(ctx, msg, args...)
}
