package raydium

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	apperr "github.com/ggonzalez94/chatswap/internal/errors"
	"github.com/ggonzalez94/chatswap/internal/httpx"
	"github.com/ggonzalez94/chatswap/internal/id"
	"github.com/ggonzalez94/chatswap/internal/providers"
)

const (
	defaultTokenListURL = "https://api.raydium.io/v2/sdk/token/raydium.mainnet.json"
	defaultTradeBase    = "https://transaction-v1.raydium.io"
	txVersion           = "V0"
)

type Client struct {
	http         *httpx.Client
	tokenListURL string
	tradeBase    string
	priorityFee  string
}

// New builds a Raydium client. An empty tokenListURL selects the public
// mainnet list.
func New(httpClient *httpx.Client, tokenListURL string) *Client {
	if strings.TrimSpace(tokenListURL) == "" {
		tokenListURL = defaultTokenListURL
	}
	return &Client{
		http:         httpClient,
		tokenListURL: tokenListURL,
		tradeBase:    defaultTradeBase,
		priorityFee:  "100000",
	}
}

func (c *Client) Name() string { return "raydium" }

type tokenInfo struct {
	Symbol   string `json:"symbol"`
	Name     string `json:"name"`
	Mint     string `json:"mint"`
	Decimals int    `json:"decimals"`
}

type tokenListResponse struct {
	Official   []tokenInfo          `json:"official"`
	UnOfficial []tokenInfo          `json:"unOfficial"`
	Tokens     map[string]tokenInfo `json:"tokens"`
}

// ListTokens fetches the Raydium token list. Official entries come first so
// they win symbol collisions when indexed.
func (c *Client) ListTokens(ctx context.Context) ([]id.Token, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.tokenListURL, nil)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeInternal, "build raydium token request", err)
	}
	var resp tokenListResponse
	if _, err := c.http.DoJSON(ctx, req, &resp); err != nil {
		return nil, err
	}

	out := make([]id.Token, 0, len(resp.Official)+len(resp.UnOfficial)+len(resp.Tokens))
	add := func(t tokenInfo, mint string) {
		if mint == "" {
			mint = t.Mint
		}
		out = append(out, id.Token{Symbol: t.Symbol, Address: mint, Decimals: t.Decimals, Name: t.Name})
	}
	for _, t := range resp.Official {
		add(t, "")
	}
	for _, t := range resp.UnOfficial {
		add(t, "")
	}
	for mint, t := range resp.Tokens {
		add(t, mint)
	}
	if len(out) == 0 {
		return nil, apperr.New(apperr.CodeUnavailable, "raydium token list is empty")
	}
	return out, nil
}

type computeResponse struct {
	ID      string          `json:"id"`
	Success bool            `json:"success"`
	Msg     string          `json:"msg"`
	Data    json.RawMessage `json:"data"`
}

type computeData struct {
	InputAmount  string  `json:"inputAmount"`
	OutputAmount string  `json:"outputAmount"`
	PriceImpact  float64 `json:"priceImpactPct"`
	RoutePlan    []struct {
		PoolID string `json:"poolId"`
	} `json:"routePlan"`
}

// Routes computes a swap-base-in quote. Multi-hop plans are discarded.
func (c *Client) Routes(ctx context.Context, req providers.RouteRequest) ([]providers.Route, error) {
	if req.Amount == nil || req.Amount.Sign() <= 0 {
		return nil, apperr.New(apperr.CodeInvalidInput, "swap amount must be positive")
	}
	slippage := req.SlippageBps
	if slippage <= 0 {
		slippage = 50
	}
	vals := url.Values{}
	vals.Set("inputMint", req.InputMint)
	vals.Set("outputMint", req.OutputMint)
	vals.Set("amount", req.Amount.String())
	vals.Set("slippageBps", strconv.Itoa(slippage))
	vals.Set("txVersion", txVersion)

	endpoint := fmt.Sprintf("%s/compute/swap-base-in?%s", strings.TrimRight(c.tradeBase, "/"), vals.Encode())
	hReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeInternal, "build raydium quote request", err)
	}

	var resp computeResponse
	if _, err := c.http.DoJSON(ctx, hReq, &resp); err != nil {
		return nil, err
	}
	if !resp.Success {
		return []providers.Route{}, nil
	}

	var data computeData
	if err := json.Unmarshal(resp.Data, &data); err != nil {
		return nil, apperr.Wrap(apperr.CodeUnavailable, "decode raydium quote", err)
	}
	if len(data.RoutePlan) > 1 {
		return []providers.Route{}, nil
	}
	out, err := id.ParseBaseUnits(data.OutputAmount)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeUnavailable, "raydium quote output amount", err)
	}
	in := req.Amount
	if parsed, err := id.ParseBaseUnits(data.InputAmount); err == nil {
		in = parsed
	}

	label := "raydium"
	if len(data.RoutePlan) == 1 && data.RoutePlan[0].PoolID != "" {
		label = "raydium " + shortID(data.RoutePlan[0].PoolID)
	}
	raw, err := json.Marshal(resp)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeInternal, "encode raydium quote", err)
	}
	return []providers.Route{{
		Provider:       c.Name(),
		Label:          label,
		InAmount:       in,
		OutAmount:      out,
		PriceImpactPct: data.PriceImpact,
		Hops:           len(data.RoutePlan),
		Quote:          raw,
	}}, nil
}

type swapTxRequest struct {
	ComputeUnitPriceMicroLamports string          `json:"computeUnitPriceMicroLamports"`
	SwapResponse                  json.RawMessage `json:"swapResponse"`
	TxVersion                     string          `json:"txVersion"`
	Wallet                        string          `json:"wallet"`
	WrapSol                       bool            `json:"wrapSol"`
	UnwrapSol                     bool            `json:"unwrapSol"`
}

type swapTxResponse struct {
	Success bool   `json:"success"`
	Msg     string `json:"msg"`
	Data    []struct {
		Transaction string `json:"transaction"`
	} `json:"data"`
}

func (c *Client) BuildTransaction(ctx context.Context, route providers.Route, wallet string) (providers.UnsignedTx, error) {
	if len(route.Quote) == 0 {
		return providers.UnsignedTx{}, apperr.New(apperr.CodeInternal, "raydium route is missing its quote")
	}
	var quote struct {
		Data struct {
			InputMint  string `json:"inputMint"`
			OutputMint string `json:"outputMint"`
		} `json:"data"`
	}
	_ = json.Unmarshal(route.Quote, &quote)

	body := swapTxRequest{
		ComputeUnitPriceMicroLamports: c.priorityFee,
		SwapResponse:                  route.Quote,
		TxVersion:                     txVersion,
		Wallet:                        wallet,
		WrapSol:                       quote.Data.InputMint == id.NativeMint,
		UnwrapSol:                     quote.Data.OutputMint == id.NativeMint,
	}
	var resp swapTxResponse
	endpoint := strings.TrimRight(c.tradeBase, "/") + "/transaction/swap-base-in"
	if _, err := httpx.PostJSON(ctx, c.http, endpoint, body, nil, &resp); err != nil {
		return providers.UnsignedTx{}, err
	}
	if !resp.Success {
		msg := strings.TrimSpace(resp.Msg)
		if msg == "" {
			msg = "unknown error"
		}
		return providers.UnsignedTx{}, apperr.New(apperr.CodeUnavailable, "raydium could not build transaction: "+msg)
	}
	if len(resp.Data) == 0 || resp.Data[0].Transaction == "" {
		return providers.UnsignedTx{}, apperr.New(apperr.CodeUnavailable, "raydium returned no transaction")
	}
	return providers.UnsignedTx{Base64: resp.Data[0].Transaction}, nil
}

func shortID(v string) string {
	if len(v) <= 8 {
		return v
	}
	return v[:4] + ".." + v[len(v)-4:]
}
