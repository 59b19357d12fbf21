package handler

import (
	"strings"

	dErrors "moltens/pkg/domain-errors"
)

// InitiateRequest is the body of POST /api/initiate.
type InitiateRequest struct {
	Username string `json:"username"`
	Wallet   string `json:"wallet"`
}

// Validate checks presence only. Name and wallet format are enforced by the
// service so every entry point normalizes the same way.
func (r *InitiateRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	if strings.TrimSpace(r.Username) == "" {
		return dErrors.New(dErrors.CodeBadRequest, "username is required")
	}
	if strings.TrimSpace(r.Wallet) == "" {
		return dErrors.New(dErrors.CodeBadRequest, "wallet is required")
	}
	return nil
}

// VerifyRequest is the body of POST /api/verify.
type VerifyRequest struct {
	Username        string `json:"username"`
	Wallet          string `json:"wallet"`
	WalletSignature string `json:"walletSignature"`
}

func (r *VerifyRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	var missing []string
	if strings.TrimSpace(r.Username) == "" {
		missing = append(missing, "username")
	}
	if strings.TrimSpace(r.Wallet) == "" {
		missing = append(missing, "wallet")
	}
	if strings.TrimSpace(r.WalletSignature) == "" {
		missing = append(missing, "walletSignature")
	}
	if len(missing) > 0 {
		return dErrors.New(dErrors.CodeBadRequest, "missing required fields: "+strings.Join(missing, ", ")).
			WithDetails(map[string]any{"required": []string{"username", "wallet", "walletSignature"}})
	}
	r.WalletSignature = strings.TrimSpace(r.WalletSignature)
	return nil
}
