package providers

import (
	"context"
	"encoding/json"
	"math/big"

	"github.com/ggonzalez94/chatswap/internal/id"
	"github.com/ggonzalez94/chatswap/internal/model"
)

// DirectoryProvider lists the tokens a router knows about.
type DirectoryProvider interface {
	Name() string
	ListTokens(ctx context.Context) ([]id.Token, error)
}

// BalanceProvider reads live wallet balances.
type BalanceProvider interface {
	NativeBalance(ctx context.Context, owner string) (*big.Int, error)
	TokenBalance(ctx context.Context, owner, mint string) (*big.Int, error)
	TokenHoldings(ctx context.Context, owner string) ([]model.Holding, error)
}

type RouteRequest struct {
	InputMint   string
	OutputMint  string
	Amount      *big.Int
	SlippageBps int
}

// Route is one candidate swap path. Quote holds the provider's raw quote so it
// can be handed back unchanged when building the transaction.
type Route struct {
	Provider       string
	Label          string
	InAmount       *big.Int
	OutAmount      *big.Int
	PriceImpactPct float64
	Hops           int
	Quote          json.RawMessage
}

type UnsignedTx struct {
	Base64               string
	LastValidBlockHeight uint64
}

// RouteProvider quotes swap routes and assembles unsigned transactions.
// Providers return an empty slice, not an error, when no route exists.
type RouteProvider interface {
	Name() string
	Routes(ctx context.Context, req RouteRequest) ([]Route, error)
	BuildTransaction(ctx context.Context, route Route, wallet string) (UnsignedTx, error)
}

// Broadcaster submits a signed transaction once and waits for confirmation.
type Broadcaster interface {
	Broadcast(ctx context.Context, signedBase64 string) (string, error)
	Confirm(ctx context.Context, signature string) error
}
