// Package solana talks to a Solana JSON-RPC node for balances, broadcast and
// confirmation.
package solana

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/rpc"

	apperr "github.com/ggonzalez94/chatswap/internal/errors"
	"github.com/ggonzalez94/chatswap/internal/httpx"
	"github.com/ggonzalez94/chatswap/internal/id"
	"github.com/ggonzalez94/chatswap/internal/model"
)

const (
	DefaultRPCURL       = "https://api.mainnet-beta.solana.com"
	defaultCommitment   = "confirmed"
	defaultPollInterval = 2 * time.Second
)

type Client struct {
	rpc          *rpc.Client
	retries      int
	commitment   string
	pollInterval time.Duration
}

// Dial connects to url. retries bounds the extra attempts for read calls;
// sendTransaction is always attempted once.
func Dial(ctx context.Context, url string, retries int) (*Client, error) {
	c, err := rpc.DialContext(ctx, url)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeUnavailable, "dial solana rpc", err)
	}
	return New(c, retries), nil
}

func New(c *rpc.Client, retries int) *Client {
	if retries < 0 {
		retries = 0
	}
	return &Client{
		rpc:          c,
		retries:      retries,
		commitment:   defaultCommitment,
		pollInterval: defaultPollInterval,
	}
}

func (c *Client) SetPollInterval(d time.Duration) {
	if d > 0 {
		c.pollInterval = d
	}
}

func (c *Client) Close() {
	c.rpc.Close()
}

type balanceResult struct {
	Value uint64 `json:"value"`
}

func (c *Client) NativeBalance(ctx context.Context, owner string) (*big.Int, error) {
	var res balanceResult
	if err := c.read(ctx, &res, "getBalance", owner, map[string]any{"commitment": c.commitment}); err != nil {
		return nil, err
	}
	return new(big.Int).SetUint64(res.Value), nil
}

type tokenAccountsResult struct {
	Value []struct {
		Pubkey  string `json:"pubkey"`
		Account struct {
			Data struct {
				Parsed struct {
					Info struct {
						Mint        string `json:"mint"`
						TokenAmount struct {
							Amount   string `json:"amount"`
							Decimals int    `json:"decimals"`
						} `json:"tokenAmount"`
					} `json:"info"`
				} `json:"parsed"`
			} `json:"data"`
		} `json:"account"`
	} `json:"value"`
}

// TokenBalance sums every token account the owner holds for mint.
func (c *Client) TokenBalance(ctx context.Context, owner, mint string) (*big.Int, error) {
	var res tokenAccountsResult
	err := c.read(ctx, &res, "getTokenAccountsByOwner",
		owner,
		map[string]any{"mint": mint},
		map[string]any{"encoding": "jsonParsed", "commitment": c.commitment},
	)
	if err != nil {
		return nil, err
	}
	total := new(big.Int)
	for _, acct := range res.Value {
		n, err := id.ParseBaseUnits(acct.Account.Data.Parsed.Info.TokenAmount.Amount)
		if err != nil {
			return nil, apperr.Wrap(apperr.CodeUnavailable, "decode token account amount", err)
		}
		total.Add(total, n)
	}
	return total, nil
}

// TokenHoldings lists non-zero SPL balances aggregated by mint.
func (c *Client) TokenHoldings(ctx context.Context, owner string) ([]model.Holding, error) {
	var res tokenAccountsResult
	err := c.read(ctx, &res, "getTokenAccountsByOwner",
		owner,
		map[string]any{"programId": id.TokenProgramID},
		map[string]any{"encoding": "jsonParsed", "commitment": c.commitment},
	)
	if err != nil {
		return nil, err
	}

	byMint := map[string]*big.Int{}
	decimals := map[string]int{}
	for _, acct := range res.Value {
		info := acct.Account.Data.Parsed.Info
		n, err := id.ParseBaseUnits(info.TokenAmount.Amount)
		if err != nil {
			return nil, apperr.Wrap(apperr.CodeUnavailable, "decode token account amount", err)
		}
		if n.Sign() == 0 {
			continue
		}
		if byMint[info.Mint] == nil {
			byMint[info.Mint] = new(big.Int)
		}
		byMint[info.Mint].Add(byMint[info.Mint], n)
		decimals[info.Mint] = info.TokenAmount.Decimals
	}

	out := make([]model.Holding, 0, len(byMint))
	for mint, amount := range byMint {
		out = append(out, model.Holding{
			Mint: mint,
			Amount: model.AmountInfo{
				AmountBaseUnits: amount.String(),
				AmountDecimal:   id.FormatDecimal(amount, decimals[mint]),
				Decimals:        decimals[mint],
			},
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Mint < out[j].Mint })
	return out, nil
}

// Broadcast submits a signed transaction exactly once. A transport failure
// leaves the outcome unknown, so it is reported rather than retried.
func (c *Client) Broadcast(ctx context.Context, signedBase64 string) (string, error) {
	var sig string
	err := c.rpc.CallContext(ctx, &sig, "sendTransaction", signedBase64, map[string]any{
		"encoding":            "base64",
		"preflightCommitment": c.commitment,
	})
	if err != nil {
		var rpcErr rpc.Error
		if errors.As(err, &rpcErr) {
			return "", apperr.New(apperr.CodeBroadcastFailed, fmt.Sprintf("transaction rejected: %s", rpcErr.Error()))
		}
		return "", apperr.Wrap(apperr.CodeBroadcastFailed, "broadcast failed", err)
	}
	if sig == "" {
		return "", apperr.New(apperr.CodeBroadcastFailed, "rpc returned an empty signature")
	}
	return sig, nil
}

type signatureStatusesResult struct {
	Value []*struct {
		Slot               uint64 `json:"slot"`
		Confirmations      *int   `json:"confirmations"`
		Err                any    `json:"err"`
		ConfirmationStatus string `json:"confirmationStatus"`
	} `json:"value"`
}

// Confirm polls the signature until it is confirmed, fails on-chain, or ctx
// ends. Transient polling errors are ignored until the deadline.
func (c *Client) Confirm(ctx context.Context, signature string) error {
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()
	for {
		var res signatureStatusesResult
		err := c.rpc.CallContext(ctx, &res, "getSignatureStatuses", []string{signature}, map[string]any{"searchTransactionHistory": true})
		if err == nil && len(res.Value) > 0 && res.Value[0] != nil {
			status := res.Value[0]
			if status.Err != nil {
				return apperr.New(apperr.CodeBroadcastFailed, fmt.Sprintf("transaction %s failed on-chain: %v", signature, status.Err))
			}
			if status.ConfirmationStatus == "confirmed" || status.ConfirmationStatus == "finalized" {
				return nil
			}
		}
		select {
		case <-ctx.Done():
			return apperr.Wrap(apperr.CodeTimeout, fmt.Sprintf("timed out waiting for confirmation of %s", signature), ctx.Err())
		case <-ticker.C:
		}
	}
}

func (c *Client) read(ctx context.Context, out any, method string, args ...any) error {
	var lastErr error
	for attempt := 0; attempt <= c.retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return apperr.Wrap(apperr.CodeUnavailable, "request cancelled", ctx.Err())
			case <-time.After(httpx.Backoff(attempt)):
			}
		}
		err := c.rpc.CallContext(ctx, out, method, args...)
		if err == nil {
			return nil
		}
		var rpcErr rpc.Error
		if errors.As(err, &rpcErr) {
			return apperr.New(apperr.CodeInvalidInput, fmt.Sprintf("%s rejected: %s", method, rpcErr.Error()))
		}
		lastErr = apperr.Wrap(apperr.CodeUnavailable, method+" failed", err)
	}
	return lastErr
}
