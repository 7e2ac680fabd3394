package id

import (
	"fmt"
	"math/big"
	"regexp"
	"strings"

	apperr "github.com/ggonzalez94/chatswap/internal/errors"
)

var decimalPattern = regexp.MustCompile(`^[0-9]+(\.[0-9]+)?$`)

// DecimalToBaseUnits converts a human decimal like "1.5" into integer base
// units for a token with the given decimals.
func DecimalToBaseUnits(decimal string, decimals int) (*big.Int, error) {
	decimal = strings.TrimSpace(decimal)
	if decimals < 0 {
		return nil, apperr.New(apperr.CodeInvalidInput, "decimals must be >= 0")
	}
	if !decimalPattern.MatchString(decimal) {
		return nil, apperr.New(apperr.CodeInvalidInput, fmt.Sprintf("amount must be in decimal form like 1.23, got %q", decimal))
	}
	parts := strings.SplitN(decimal, ".", 2)
	intPart := parts[0]
	fracPart := ""
	if len(parts) == 2 {
		fracPart = strings.TrimRight(parts[1], "0")
	}
	if len(fracPart) > decimals {
		return nil, apperr.New(apperr.CodeInvalidInput, fmt.Sprintf("amount precision exceeds token decimals (%d)", decimals))
	}

	fracPart = fracPart + strings.Repeat("0", decimals-len(fracPart))
	combined := strings.TrimLeft(intPart+fracPart, "0")
	if combined == "" {
		return new(big.Int), nil
	}
	n, ok := new(big.Int).SetString(combined, 10)
	if !ok {
		return nil, apperr.New(apperr.CodeInvalidInput, "invalid decimal amount")
	}
	return n, nil
}

// FormatDecimal renders integer base units as a trimmed decimal string.
func FormatDecimal(baseUnits *big.Int, decimals int) string {
	if baseUnits == nil {
		return "0"
	}
	if decimals <= 0 {
		return baseUnits.String()
	}
	neg := baseUnits.Sign() < 0
	s := new(big.Int).Abs(baseUnits).String()
	if len(s) <= decimals {
		s = strings.Repeat("0", decimals-len(s)+1) + s
	}
	intPart := s[:len(s)-decimals]
	fracPart := strings.TrimRight(s[len(s)-decimals:], "0")
	out := intPart
	if fracPart != "" {
		out = intPart + "." + fracPart
	}
	if neg {
		return "-" + out
	}
	return out
}

// ParseBaseUnits parses a non-negative integer string as returned by RPC and
// router APIs.
func ParseBaseUnits(v string) (*big.Int, error) {
	v = strings.TrimSpace(v)
	n, ok := new(big.Int).SetString(v, 10)
	if !ok || n.Sign() < 0 {
		return nil, fmt.Errorf("invalid base-unit amount %q", v)
	}
	return n, nil
}
