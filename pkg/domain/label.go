// Package domain holds the value types shared by every claim component: the
// normalized identity label, the claimant wallet address and the reference token.
package domain

import (
	"regexp"
	"strings"

	dErrors "moltens/pkg/domain-errors"
)

// MaxLabelLength is the DNS label limit in bytes.
const MaxLabelLength = 63

// Validation reasons carried on CodeValidation errors.
const (
	ReasonEmptyName     = "empty_name"
	ReasonTooLong       = "too_long"
	ReasonInvalidFormat = "invalid_format"
	ReasonInvalidWallet = "invalid_wallet"
)

var labelPattern = regexp.MustCompile(`^[a-z0-9]([a-z0-9_-]*[a-z0-9])?$`)

// Label is a normalized Moltbook username, usable as an ENS subname label.
type Label string

// ParseLabel trims and lowercases raw and validates the result.
// ParseLabel(string(l)) returns l for every valid Label l.
func ParseLabel(raw string) (Label, error) {
	s := strings.ToLower(strings.TrimSpace(raw))
	switch {
	case s == "":
		return "", dErrors.New(dErrors.CodeValidation, "name is required").WithReason(ReasonEmptyName)
	case len(s) > MaxLabelLength:
		return "", dErrors.New(dErrors.CodeValidation, "name must be at most 63 characters").WithReason(ReasonTooLong)
	case !labelPattern.MatchString(s):
		return "", dErrors.New(dErrors.CodeValidation,
			"name may contain only a-z, 0-9, '-' and '_' and must start and end with a letter or digit").
			WithReason(ReasonInvalidFormat)
	}
	return Label(s), nil
}

func (l Label) String() string { return string(l) }

// FullName appends the parent domain, e.g. "alice.moltbook.eth".
func (l Label) FullName(parent string) string {
	return string(l) + "." + parent
}
