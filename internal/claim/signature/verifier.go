// Package signature checks that a wallet owner signed a claim message with
// Ethereum personal_sign (EIP-191).
package signature

import (
	"errors"
	"fmt"

	"moltens/pkg/domain"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// ErrMalformedSignature is returned when the signature cannot be a secp256k1
// recoverable signature at all: not 0x-hex, wrong length or bad recovery id.
var ErrMalformedSignature = errors.New("malformed signature")

// ClaimMessage is the exact text a claimant signs to bind wallet to label.
func ClaimMessage(label domain.Label, parentDomain string, wallet domain.WalletAddress) string {
	return fmt.Sprintf("Claim %s: %s", label.FullName(parentDomain), wallet)
}

// Verifier is stateless and safe for concurrent use.
type Verifier struct{}

func NewVerifier() *Verifier {
	return &Verifier{}
}

// Verify reports whether signatureHex is wallet's personal_sign signature over
// message. Recovery failures report false; only structural problems are errors.
func (v *Verifier) Verify(wallet domain.WalletAddress, message, signatureHex string) (bool, error) {
	sig, err := decode(signatureHex)
	if err != nil {
		return false, err
	}

	pub, err := crypto.SigToPub(accounts.TextHash([]byte(message)), sig)
	if err != nil {
		return false, nil
	}
	return crypto.PubkeyToAddress(*pub) == wallet.Address(), nil
}

// decode parses a 65-byte [R || S || V] signature and normalizes V to {0,1}.
func decode(signatureHex string) ([]byte, error) {
	sig, err := hexutil.Decode(signatureHex)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedSignature, err)
	}
	if len(sig) != crypto.SignatureLength {
		return nil, fmt.Errorf("%w: want %d bytes, got %d", ErrMalformedSignature, crypto.SignatureLength, len(sig))
	}
	switch v := sig[crypto.RecoveryIDOffset]; v {
	case 0, 1:
	case 27, 28:
		sig[crypto.RecoveryIDOffset] = v - 27
	default:
		return nil, fmt.Errorf("%w: recovery id %d", ErrMalformedSignature, v)
	}
	return sig, nil
}
