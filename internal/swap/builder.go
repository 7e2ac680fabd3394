package swap

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"

	apperr "github.com/ggonzalez94/chatswap/internal/errors"
	"github.com/ggonzalez94/chatswap/internal/id"
	"github.com/ggonzalez94/chatswap/internal/model"
	"github.com/ggonzalez94/chatswap/internal/providers"
)

// BuildRequest is everything needed to assemble one unsigned swap.
type BuildRequest struct {
	FromSymbol string
	ToSymbol   string
	Amount     string
	Wallet     string
}

// Builder resolves symbols, sizes the swap against the live balance, picks a
// route and asks its router for the unsigned transaction. It never
// broadcasts.
type Builder struct {
	resolver *Resolver
	balances providers.BalanceProvider
	routes   *RouteSelector
	now      func() time.Time
	newID    func() string
}

func NewBuilder(resolver *Resolver, balances providers.BalanceProvider, routes *RouteSelector) *Builder {
	return &Builder{
		resolver: resolver,
		balances: balances,
		routes:   routes,
		now:      time.Now,
		newID:    uuid.NewString,
	}
}

// Validate checks a request without any I/O: symbol syntax and the amount
// descriptor.
func Validate(req model.SwapRequest) error {
	from, err := id.NormalizeSymbol(req.FromSymbol)
	if err != nil {
		return err
	}
	to, err := id.NormalizeSymbol(req.ToSymbol)
	if err != nil {
		return err
	}
	if from == to {
		return apperr.New(apperr.CodeInvalidInput, "cannot swap a token for itself")
	}
	_, err = ParseAmount(req.Amount)
	return err
}

func (b *Builder) Build(ctx context.Context, req BuildRequest) (model.Transaction, error) {
	amount, err := ParseAmount(req.Amount)
	if err != nil {
		return model.Transaction{}, err
	}
	if err := id.ValidateAddress(req.Wallet); err != nil {
		return model.Transaction{}, err
	}
	from, err := b.resolver.Resolve(ctx, req.FromSymbol)
	if err != nil {
		return model.Transaction{}, err
	}
	to, err := b.resolver.Resolve(ctx, req.ToSymbol)
	if err != nil {
		return model.Transaction{}, err
	}
	if from.Address == to.Address {
		return model.Transaction{}, apperr.New(apperr.CodeInvalidInput, "cannot swap a token for itself")
	}

	balance, err := b.balanceOf(ctx, req.Wallet, from)
	if err != nil {
		return model.Transaction{}, err
	}
	qty, err := amount.Quantity(balance, from)
	if err != nil {
		return model.Transaction{}, err
	}

	sel, err := b.routes.Select(ctx, providers.RouteRequest{
		InputMint:  from.Address,
		OutputMint: to.Address,
		Amount:     qty,
	})
	if err != nil {
		if apperr.Is(err, apperr.CodeNoRouteFound) {
			return model.Transaction{}, apperr.New(apperr.CodeNoRouteFound,
				fmt.Sprintf("No route found for %s %s to %s", id.FormatDecimal(qty, from.Decimals), from.Symbol, to.Symbol))
		}
		return model.Transaction{}, err
	}

	unsigned, err := sel.Router.BuildTransaction(ctx, sel.Route, req.Wallet)
	if err != nil {
		return model.Transaction{}, err
	}
	if _, err := decodeMessage(unsigned.Base64); err != nil {
		return model.Transaction{}, apperr.Wrap(apperr.CodeUnavailable, sel.Router.Name()+" returned a malformed transaction", err)
	}

	out := sel.Route.OutAmount
	if out == nil {
		out = new(big.Int)
	}
	return model.Transaction{
		BuildID:              b.newID(),
		Encoding:             "base64",
		Blob:                 unsigned.Base64,
		Provider:             sel.Router.Name(),
		Route:                sel.Route.Label,
		FromSymbol:           from.Symbol,
		ToSymbol:             to.Symbol,
		FromMint:             from.Address,
		ToMint:               to.Address,
		InAmount:             amountInfo(qty, from.Decimals),
		OutAmount:            amountInfo(out, to.Decimals),
		PriceImpactPct:       sel.Route.PriceImpactPct,
		LastValidBlockHeight: unsigned.LastValidBlockHeight,
		BuiltAt:              b.now().UTC(),
	}, nil
}

func (b *Builder) balanceOf(ctx context.Context, wallet string, tok id.Token) (*big.Int, error) {
	if tok.IsNative() {
		return b.balances.NativeBalance(ctx, wallet)
	}
	return b.balances.TokenBalance(ctx, wallet, tok.Address)
}

func amountInfo(v *big.Int, decimals int) model.AmountInfo {
	return model.AmountInfo{
		AmountBaseUnits: v.String(),
		AmountDecimal:   id.FormatDecimal(v, decimals),
		Decimals:        decimals,
	}
}
