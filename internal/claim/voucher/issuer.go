// Package voucher produces the signed registration authorization the registrar
// contract verifies on-chain.
package voucher

import (
	"crypto/ecdsa"
	"crypto/rand"
	"fmt"
	"io"
	"math/big"
	"strings"
	"time"

	"moltens/internal/claim/models"
	"moltens/pkg/domain"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// DefaultTTL is how long a voucher stays redeemable.
const DefaultTTL = time.Hour

// Config is the contract binding a voucher is issued for. SigningKey may be
// nil, in which case vouchers carry a zero placeholder signature.
type Config struct {
	Contract   common.Address
	ChainID    uint64
	TTL        time.Duration
	SigningKey *ecdsa.PrivateKey
}

// ParseSigningKey decodes a hex secp256k1 private key, with or without 0x.
// An empty string yields a nil key.
func ParseSigningKey(hexKey string) (*ecdsa.PrivateKey, error) {
	hexKey = strings.TrimPrefix(strings.TrimSpace(hexKey), "0x")
	if hexKey == "" {
		return nil, nil
	}
	key, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, fmt.Errorf("parse signer private key: %w", err)
	}
	return key, nil
}

type Issuer struct {
	cfg     Config
	clock   func() time.Time
	entropy io.Reader
}

type Option func(*Issuer)

func WithClock(clock func() time.Time) Option {
	return func(i *Issuer) {
		i.clock = clock
	}
}

// WithEntropy replaces the nonce salt source.
func WithEntropy(r io.Reader) Option {
	return func(i *Issuer) {
		i.entropy = r
	}
}

func NewIssuer(cfg Config, opts ...Option) *Issuer {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	i := &Issuer{
		cfg:     cfg,
		clock:   time.Now,
		entropy: rand.Reader,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

func (i *Issuer) Contract() common.Address { return i.cfg.Contract }

func (i *Issuer) ChainID() uint64 { return i.cfg.ChainID }

// Configured reports whether vouchers will carry a real signature.
func (i *Issuer) Configured() bool { return i.cfg.SigningKey != nil }

// SignerAddress is the address the contract must trust as voucher signer.
func (i *Issuer) SignerAddress() (common.Address, bool) {
	if i.cfg.SigningKey == nil {
		return common.Address{}, false
	}
	return crypto.PubkeyToAddress(i.cfg.SigningKey.PublicKey), true
}

// Issue builds a voucher for wallet to register label. It does not check
// whether a claim was proven; the caller must.
func (i *Issuer) Issue(wallet domain.WalletAddress, label domain.Label) (*models.Voucher, error) {
	now := i.clock()
	deadline := now.Add(i.cfg.TTL).Unix()

	nonce, err := i.nonce(wallet, label, now)
	if err != nil {
		return nil, err
	}

	v := &models.Voucher{
		Label:     label,
		Deadline:  deadline,
		Nonce:     nonce,
		Signature: make([]byte, crypto.SignatureLength),
	}
	if i.cfg.SigningKey == nil {
		return v, nil
	}

	digest := Digest(wallet.Address(), label, deadline, nonce, i.cfg.ChainID, i.cfg.Contract)
	sig, err := crypto.Sign(accounts.TextHash(digest.Bytes()), i.cfg.SigningKey)
	if err != nil {
		return nil, fmt.Errorf("sign voucher digest: %w", err)
	}
	sig[crypto.RecoveryIDOffset] += 27
	v.Signature = sig
	v.Signed = true
	return v, nil
}

// nonce = keccak256(wallet ‖ label ‖ uint256(unixNano) ‖ salt). The salt keeps
// nonces unique for vouchers issued in the same nanosecond.
func (i *Issuer) nonce(wallet domain.WalletAddress, label domain.Label, now time.Time) (common.Hash, error) {
	var salt [32]byte
	if _, err := io.ReadFull(i.entropy, salt[:]); err != nil {
		return common.Hash{}, fmt.Errorf("read nonce salt: %w", err)
	}
	return crypto.Keccak256Hash(
		wallet.Address().Bytes(),
		[]byte(label),
		uint256(big.NewInt(now.UnixNano())),
		salt[:],
	), nil
}

// Digest is keccak256(abi.encodePacked(address wallet, string label, uint256
// deadline, bytes32 nonce, uint256 chainId, address contract)).
func Digest(wallet common.Address, label domain.Label, deadline int64, nonce common.Hash, chainID uint64, contract common.Address) common.Hash {
	return crypto.Keccak256Hash(
		wallet.Bytes(),
		[]byte(label),
		uint256(big.NewInt(deadline)),
		nonce.Bytes(),
		uint256(new(big.Int).SetUint64(chainID)),
		contract.Bytes(),
	)
}

func uint256(v *big.Int) []byte {
	return common.LeftPadBytes(v.Bytes(), 32)
}
