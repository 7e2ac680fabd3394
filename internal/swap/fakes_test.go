package swap

import (
	"context"
	"encoding/base64"
	"math/big"
	"sync/atomic"

	"github.com/ggonzalez94/chatswap/internal/id"
	"github.com/ggonzalez94/chatswap/internal/model"
	"github.com/ggonzalez94/chatswap/internal/providers"
)

const (
	testWallet = "9WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWM"
	usdcMint   = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"
)

// encodeTx serializes a single-signer transaction with the given signature
// fill byte and message.
func encodeTx(sigFill byte, message []byte) string {
	raw := []byte{1}
	sig := make([]byte, signatureLen)
	for i := range sig {
		sig[i] = sigFill
	}
	raw = append(raw, sig...)
	raw = append(raw, message...)
	return base64.StdEncoding.EncodeToString(raw)
}

type fakeDirectory struct {
	tokens []id.Token
	err    error
	calls  atomic.Int32
}

func (f *fakeDirectory) Name() string { return "fake" }

func (f *fakeDirectory) ListTokens(context.Context) ([]id.Token, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return f.tokens, nil
}

type fakeBalances struct {
	native *big.Int
	tokens map[string]*big.Int
}

func (f *fakeBalances) NativeBalance(context.Context, string) (*big.Int, error) {
	if f.native == nil {
		return new(big.Int), nil
	}
	return new(big.Int).Set(f.native), nil
}

func (f *fakeBalances) TokenBalance(_ context.Context, _, mint string) (*big.Int, error) {
	if v, ok := f.tokens[mint]; ok {
		return new(big.Int).Set(v), nil
	}
	return new(big.Int), nil
}

func (f *fakeBalances) TokenHoldings(context.Context, string) ([]model.Holding, error) {
	return nil, nil
}

type fakeRouter struct {
	name     string
	routes   []providers.Route
	err      error
	blob     string
	lastReq  providers.RouteRequest
	quoteHit atomic.Int32
}

func (f *fakeRouter) Name() string { return f.name }

func (f *fakeRouter) Routes(_ context.Context, req providers.RouteRequest) ([]providers.Route, error) {
	f.quoteHit.Add(1)
	f.lastReq = req
	if f.err != nil {
		return nil, f.err
	}
	return f.routes, nil
}

func (f *fakeRouter) BuildTransaction(context.Context, providers.Route, string) (providers.UnsignedTx, error) {
	blob := f.blob
	if blob == "" {
		blob = encodeTx(0, []byte("message"))
	}
	return providers.UnsignedTx{Base64: blob, LastValidBlockHeight: 100}, nil
}
