package handler

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"moltens/internal/claim/models"
)

// InitiateResponse is the HTTP response for POST /api/initiate.
type InitiateResponse struct {
	Success      bool                 `json:"success"`
	ReferenceID  string               `json:"referenceId"`
	Username     string               `json:"username"`
	FullName     string               `json:"fullName"`
	Wallet       string               `json:"wallet"`
	ExpiresAt    int64                `json:"expiresAt"`
	Instructions InitiateInstructions `json:"instructions"`
}

type InitiateInstructions struct {
	Step1     string `json:"step1"`
	PostText  string `json:"postText"`
	Step2     string `json:"step2"`
	ExpiresIn string `json:"expiresIn"`
	Note      string `json:"note"`
}

// VerifyResponse is the HTTP response for POST /api/verify.
type VerifyResponse struct {
	Success            bool               `json:"success"`
	Verified           bool               `json:"verified"`
	Name               string             `json:"name"`
	FullName           string             `json:"fullName"`
	Wallet             string             `json:"wallet"`
	MoltbookProfileURL string             `json:"moltbookProfileUrl"`
	Voucher            VoucherResponse    `json:"voucher"`
	Signed             bool               `json:"signed"`
	Contract           string             `json:"contract"`
	ChainID            uint64             `json:"chainId"`
	Fee                string             `json:"fee"`
	Instructions       VerifyInstructions `json:"instructions"`
}

// VoucherResponse carries the on-chain register arguments as hex strings.
type VoucherResponse struct {
	Label     string `json:"label"`
	Deadline  int64  `json:"deadline"`
	Nonce     string `json:"nonce"`
	Signature string `json:"signature"`
}

type VerifyInstructions struct {
	Step1   string `json:"step1"`
	Step2   string `json:"step2"`
	Example string `json:"example"`
}

// CheckResponse is the HTTP response for GET /api/check/{name}.
type CheckResponse struct {
	Available    bool   `json:"available"`
	Name         string `json:"name"`
	FullName     string `json:"fullName"`
	ProfileFound *bool  `json:"profileFound,omitempty"`
}

func FromInitiateResult(res *models.InitiateResult) *InitiateResponse {
	return &InitiateResponse{
		Success:     true,
		ReferenceID: string(res.ReferenceToken),
		Username:    string(res.Label),
		FullName:    res.FullName,
		Wallet:      string(res.Wallet),
		ExpiresAt:   res.ExpiresAt.UnixMilli(),
		Instructions: InitiateInstructions{
			Step1:     "Post on Moltbook with this exact text:",
			PostText:  res.PublishText,
			Step2:     "After posting, call /api/verify with your wallet signature to complete registration",
			ExpiresIn: humanDuration(res.ExpiresIn),
			Note:      "The reference ID must be visible in your public Moltbook posts",
		},
	}
}

func FromVerifyResult(res *models.VerifyResult) *VerifyResponse {
	v := res.Voucher
	nonce := v.Nonce.Hex()
	sig := hexutil.Encode(v.Signature)
	contract := res.Contract.Hex()
	return &VerifyResponse{
		Success:            true,
		Verified:           true,
		Name:               string(res.Label),
		FullName:           res.FullName,
		Wallet:             string(res.Wallet),
		MoltbookProfileURL: res.ProfileURL,
		Voucher: VoucherResponse{
			Label:     string(v.Label),
			Deadline:  v.Deadline,
			Nonce:     nonce,
			Signature: sig,
		},
		Signed:   v.Signed,
		Contract: contract,
		ChainID:  res.ChainID,
		Fee:      res.Fee,
		Instructions: VerifyInstructions{
			Step1: "Call the register function on the contract with the voucher",
			Step2: fmt.Sprintf("Send %s ETH with the transaction", res.Fee),
			Example: fmt.Sprintf(`cast send %s "register(string,uint256,bytes32,bytes)" "%s" %d %s %s --value %sether --private-key YOUR_PRIVATE_KEY`,
				contract, v.Label, v.Deadline, nonce, sig, res.Fee),
		},
	}
}

func FromAvailability(res *models.Availability) *CheckResponse {
	return &CheckResponse{
		Available:    res.Available,
		Name:         string(res.Label),
		FullName:     res.FullName,
		ProfileFound: res.ProfileFound,
	}
}

// humanDuration renders whole minutes or hours, e.g. "30 minutes".
func humanDuration(d time.Duration) string {
	switch {
	case d <= 0:
		return ""
	case d%time.Hour == 0:
		h := int(d / time.Hour)
		if h == 1 {
			return "1 hour"
		}
		return fmt.Sprintf("%d hours", h)
	case d%time.Minute == 0:
		m := int(d / time.Minute)
		if m == 1 {
			return "1 minute"
		}
		return fmt.Sprintf("%d minutes", m)
	default:
		return d.String()
	}
}
