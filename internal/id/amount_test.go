package id

import (
	"math/big"
	"testing"

	apperr "github.com/ggonzalez94/chatswap/internal/errors"
)

func TestDecimalToBaseUnits(t *testing.T) {
	cases := []struct {
		in       string
		decimals int
		want     string
	}{
		{"1.25", 6, "1250000"},
		{"2", 9, "2000000000"},
		{"0.000000001", 9, "1"},
		{"1.50", 1, "15"},
		{"0", 6, "0"},
		{"007", 0, "7"},
	}
	for _, tc := range cases {
		got, err := DecimalToBaseUnits(tc.in, tc.decimals)
		if err != nil {
			t.Fatalf("DecimalToBaseUnits(%q) failed: %v", tc.in, err)
		}
		if got.String() != tc.want {
			t.Fatalf("DecimalToBaseUnits(%q, %d) = %s, want %s", tc.in, tc.decimals, got, tc.want)
		}
	}
}

func TestDecimalToBaseUnitsValidation(t *testing.T) {
	if _, err := DecimalToBaseUnits("1.1234567", 6); !apperr.Is(err, apperr.CodeInvalidInput) {
		t.Fatalf("expected precision error, got %v", err)
	}
	if _, err := DecimalToBaseUnits("-1", 6); err == nil {
		t.Fatal("expected negative amount rejection")
	}
	if _, err := DecimalToBaseUnits("1e9", 6); err == nil {
		t.Fatal("expected exponent rejection")
	}
}

func TestFormatDecimal(t *testing.T) {
	if got := FormatDecimal(big.NewInt(1_000_000_000), 9); got != "1" {
		t.Fatalf("unexpected format: %s", got)
	}
	if got := FormatDecimal(big.NewInt(1_500_000), 6); got != "1.5" {
		t.Fatalf("unexpected format: %s", got)
	}
	if got := FormatDecimal(big.NewInt(42), 6); got != "0.000042" {
		t.Fatalf("unexpected format: %s", got)
	}
	if got := FormatDecimal(nil, 6); got != "0" {
		t.Fatalf("unexpected nil format: %s", got)
	}
}

func TestParseBaseUnits(t *testing.T) {
	n, err := ParseBaseUnits(" 2000000000 ")
	if err != nil || n.Int64() != 2_000_000_000 {
		t.Fatalf("unexpected parse: %v %v", n, err)
	}
	if _, err := ParseBaseUnits("-5"); err == nil {
		t.Fatal("expected negative rejection")
	}
	if _, err := ParseBaseUnits("abc"); err == nil {
		t.Fatal("expected garbage rejection")
	}
}
