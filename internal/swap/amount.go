package swap

import (
	"fmt"
	"math/big"
	"regexp"
	"strconv"
	"strings"

	apperr "github.com/ggonzalez94/chatswap/internal/errors"
	"github.com/ggonzalez94/chatswap/internal/id"
)

var literalPattern = regexp.MustCompile(`^[0-9]+(\.[0-9]+)?$`)

type AmountKind int

const (
	AmountAll AmountKind = iota
	AmountPercent
	AmountLiteral
)

// Amount is a parsed amount descriptor: everything, a percentage of the
// balance, or a literal decimal quantity.
type Amount struct {
	Kind    AmountKind
	Percent int
	Literal string
}

// ParseAmount accepts "all" (or "max"), "N%" with 1 <= N <= 100, or a
// positive decimal such as "1.5".
func ParseAmount(desc string) (Amount, error) {
	d := strings.ToLower(strings.TrimSpace(desc))
	switch {
	case d == "":
		return Amount{}, apperr.New(apperr.CodeInvalidInput, "amount is required")
	case d == "all" || d == "max":
		return Amount{Kind: AmountAll}, nil
	case strings.HasSuffix(d, "%"):
		n, err := strconv.Atoi(strings.TrimSpace(strings.TrimSuffix(d, "%")))
		if err != nil || n < 1 || n > 100 {
			return Amount{}, apperr.New(apperr.CodeInvalidInput, fmt.Sprintf("unrecognized amount %q: percentages must be between 1%% and 100%%", desc))
		}
		if n == 100 {
			return Amount{Kind: AmountAll}, nil
		}
		return Amount{Kind: AmountPercent, Percent: n}, nil
	}
	if !literalPattern.MatchString(d) {
		return Amount{}, apperr.New(apperr.CodeInvalidInput, fmt.Sprintf("unrecognized amount %q: use all, a percentage like 50%%, or a number like 1.5", desc))
	}
	if strings.Trim(strings.ReplaceAll(d, ".", ""), "0") == "" {
		return Amount{}, apperr.New(apperr.CodeInvalidInput, "amount must be greater than zero")
	}
	return Amount{Kind: AmountLiteral, Literal: d}, nil
}

func (a Amount) String() string {
	switch a.Kind {
	case AmountAll:
		return "all"
	case AmountPercent:
		return strconv.Itoa(a.Percent) + "%"
	default:
		return a.Literal
	}
}

// Quantity computes the base-unit amount to swap given the wallet's balance
// of tok.
func (a Amount) Quantity(balance *big.Int, tok id.Token) (*big.Int, error) {
	if balance == nil {
		balance = new(big.Int)
	}
	var qty *big.Int
	switch a.Kind {
	case AmountAll:
		qty = new(big.Int).Set(balance)
	case AmountPercent:
		qty = new(big.Int).Mul(balance, big.NewInt(int64(a.Percent)))
		qty.Quo(qty, big.NewInt(100))
	case AmountLiteral:
		v, err := id.DecimalToBaseUnits(a.Literal, tok.Decimals)
		if err != nil {
			return nil, err
		}
		if v.Cmp(balance) > 0 {
			return nil, insufficient(tok, balance, v)
		}
		qty = v
	default:
		return nil, apperr.New(apperr.CodeInvalidInput, "unknown amount kind")
	}
	if qty.Sign() <= 0 {
		return nil, insufficient(tok, balance, qty)
	}
	return qty, nil
}

func insufficient(tok id.Token, have, need *big.Int) error {
	msg := fmt.Sprintf("Insufficient %s balance: have %s", tok.Symbol, id.FormatDecimal(have, tok.Decimals))
	if need.Sign() > 0 {
		msg += ", need " + id.FormatDecimal(need, tok.Decimals)
	}
	return apperr.New(apperr.CodeInsufficientBalance, msg)
}
