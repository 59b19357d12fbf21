package domain

import (
	"crypto/rand"
	"fmt"
	"strings"
)

const (
	// TokenAlphabet omits 0, O, 1 and I so tokens survive manual transcription.
	TokenAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	TokenLength   = 8
	DefaultPrefix = "MOLT"
)

// ReferenceToken is the challenge a claimant publishes on their profile.
type ReferenceToken string

// NewReferenceToken draws TokenLength symbols uniformly from TokenAlphabet.
// The alphabet has 32 symbols, so masking a random byte to 5 bits is unbiased.
func NewReferenceToken(prefix string) (ReferenceToken, error) {
	var buf [TokenLength]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}
	var sb strings.Builder
	sb.Grow(len(prefix) + 1 + TokenLength)
	sb.WriteString(prefix)
	sb.WriteByte('-')
	for _, b := range buf {
		sb.WriteByte(TokenAlphabet[b&31])
	}
	return ReferenceToken(sb.String()), nil
}

// Valid reports whether t has the shape {prefix}-{8 alphabet symbols}.
func (t ReferenceToken) Valid(prefix string) bool {
	body, ok := strings.CutPrefix(string(t), prefix+"-")
	if !ok || len(body) != TokenLength {
		return false
	}
	for i := 0; i < len(body); i++ {
		if strings.IndexByte(TokenAlphabet, body[i]) < 0 {
			return false
		}
	}
	return true
}

func (t ReferenceToken) String() string { return string(t) }
