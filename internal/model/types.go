package model

import "time"

const EnvelopeVersion = "v1"

// Envelope wraps every CLI response.
type Envelope struct {
	Version  string       `json:"version"`
	Success  bool         `json:"success"`
	Data     any          `json:"data,omitempty"`
	Error    *ErrorBody   `json:"error"`
	Warnings []string     `json:"warnings,omitempty"`
	Meta     EnvelopeMeta `json:"meta"`
}

type ErrorBody struct {
	Code    int    `json:"code"`
	Type    string `json:"type"`
	Message string `json:"message"`
}

type EnvelopeMeta struct {
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
	Command   string    `json:"command"`
}

// SwapRequest is what the user picked in chat. Amount is the raw descriptor
// ("all", "50%", "1.5").
type SwapRequest struct {
	FromSymbol string `json:"from_symbol"`
	ToSymbol   string `json:"to_symbol"`
	Amount     string `json:"amount"`
}

// Transaction is the unsigned artifact handed to the wallet for signing.
type Transaction struct {
	BuildID              string     `json:"build_id"`
	Encoding             string     `json:"encoding"`
	Blob                 string     `json:"blob"`
	Provider             string     `json:"provider"`
	Route                string     `json:"route"`
	FromSymbol           string     `json:"from_symbol"`
	ToSymbol             string     `json:"to_symbol"`
	FromMint             string     `json:"from_mint"`
	ToMint               string     `json:"to_mint"`
	InAmount             AmountInfo `json:"in_amount"`
	OutAmount            AmountInfo `json:"out_amount"`
	PriceImpactPct       float64    `json:"price_impact_pct"`
	LastValidBlockHeight uint64     `json:"last_valid_block_height,omitempty"`
	BuiltAt              time.Time  `json:"built_at"`
}

type AmountInfo struct {
	AmountBaseUnits string `json:"amount_base_units"`
	AmountDecimal   string `json:"amount_decimal"`
	Decimals        int    `json:"decimals"`
}

// Holding is one line of a wallet balance listing.
type Holding struct {
	Symbol string     `json:"symbol,omitempty"`
	Mint   string     `json:"mint"`
	Amount AmountInfo `json:"amount"`
}
