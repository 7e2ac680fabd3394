package id

import (
	"fmt"
	"regexp"
	"strings"

	apperr "github.com/ggonzalez94/chatswap/internal/errors"
	"github.com/mr-tron/base58"
)

var (
	solanaAddressPattern = regexp.MustCompile(`^[1-9A-HJ-NP-Za-km-z]{32,44}$`)
	symbolPattern        = regexp.MustCompile(`^[A-Z0-9][A-Z0-9.\-]{0,11}$`)
)

const (
	// NativeSymbol is the chain's native asset. It never goes through the
	// token directory.
	NativeSymbol = "SOL"
	// NativeMint is the wrapped-SOL mint used as the native sentinel by routers.
	NativeMint     = "So11111111111111111111111111111111111111112"
	NativeDecimals = 9

	TokenProgramID = "TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA"
)

type Token struct {
	Symbol   string `json:"symbol"`
	Address  string `json:"address"`
	Decimals int    `json:"decimals"`
	Name     string `json:"name,omitempty"`
}

func (t Token) IsNative() bool {
	return t.Address == NativeMint
}

// Small bootstrap registry so the common pairs resolve before the directory
// has been fetched.
var seedTokens = []Token{
	{Symbol: "SOL", Address: NativeMint, Decimals: NativeDecimals, Name: "Solana"},
	{Symbol: "USDC", Address: "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v", Decimals: 6, Name: "USD Coin"},
	{Symbol: "USDT", Address: "Es9vMFrzaCERmJfrF4H2FYD4KCoNkY11McCe8BenwNYB", Decimals: 6, Name: "USDT"},
	{Symbol: "JUP", Address: "JUPyiwrYJFskUPiHa7hkeR8VUtAeFoSYbKedZNsDvCN", Decimals: 6, Name: "Jupiter"},
	{Symbol: "JTO", Address: "jtojtomepa8beP8AuQc6eXt5FriJwfFMwGQx2v2f9mCL", Decimals: 9, Name: "Jito"},
}

// NativeToken returns the fixed sentinel for the native asset.
func NativeToken() Token {
	return seedTokens[0]
}

func SeedTokens() []Token {
	out := make([]Token, len(seedTokens))
	copy(out, seedTokens)
	return out
}

// ValidateAddress checks that addr is a base58 encoded 32-byte public key.
func ValidateAddress(addr string) error {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return apperr.New(apperr.CodeInvalidInput, "wallet address is required")
	}
	if !solanaAddressPattern.MatchString(addr) {
		return apperr.New(apperr.CodeInvalidInput, fmt.Sprintf("invalid wallet address: %s", addr))
	}
	raw, err := base58.Decode(addr)
	if err != nil || len(raw) != 32 {
		return apperr.New(apperr.CodeInvalidInput, fmt.Sprintf("invalid wallet address: %s", addr))
	}
	return nil
}

// NormalizeSymbol upper-cases and validates a user supplied ticker.
func NormalizeSymbol(symbol string) (string, error) {
	norm := strings.ToUpper(strings.TrimSpace(symbol))
	if norm == "" {
		return "", apperr.New(apperr.CodeInvalidInput, "token symbol is required")
	}
	if !symbolPattern.MatchString(norm) {
		return "", apperr.New(apperr.CodeInvalidInput, fmt.Sprintf("invalid token symbol: %s", symbol))
	}
	return norm, nil
}

// IndexBySymbol builds a symbol lookup table. The first token listed for a
// symbol wins; seeds are applied last so they override directory entries.
func IndexBySymbol(tokens []Token) map[string]Token {
	out := make(map[string]Token, len(tokens)+len(seedTokens))
	for _, t := range tokens {
		sym := strings.ToUpper(strings.TrimSpace(t.Symbol))
		if sym == "" || !solanaAddressPattern.MatchString(t.Address) {
			continue
		}
		if _, exists := out[sym]; exists {
			continue
		}
		t.Symbol = sym
		out[sym] = t
	}
	for _, t := range seedTokens {
		out[t.Symbol] = t
	}
	return out
}

func LookupByAddress(tokens map[string]Token, address string) (Token, bool) {
	for _, t := range tokens {
		if t.Address == address {
			return t, true
		}
	}
	return Token{}, false
}
