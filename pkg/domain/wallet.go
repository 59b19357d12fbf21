package domain

import (
	"regexp"
	"strings"

	dErrors "moltens/pkg/domain-errors"

	"github.com/ethereum/go-ethereum/common"
)

var walletPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)

// WalletAddress is a lowercased 0x-prefixed Ethereum account address.
type WalletAddress string

// ParseWallet accepts any checksum casing and returns the lowercased form.
func ParseWallet(raw string) (WalletAddress, error) {
	if !walletPattern.MatchString(raw) {
		return "", dErrors.New(dErrors.CodeValidation, "wallet must be a 0x-prefixed 20-byte hex address").
			WithReason(ReasonInvalidWallet)
	}
	return WalletAddress(strings.ToLower(raw)), nil
}

func (w WalletAddress) String() string { return string(w) }

// Address returns the 20-byte form used in signatures and packed encodings.
func (w WalletAddress) Address() common.Address {
	return common.HexToAddress(string(w))
}
