package jupiter

import (
	"bytes"
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
	defaultLiteBase  = "https://lite-api.jup.ag"
	defaultProBase   = "https://api.jup.ag"
	defaultTokenPath = "/tokens/v2/tag?query=verified"
)

type Client struct {
	http    *httpx.Client
	baseURL string
	apiKey  string
}

func New(httpClient *httpx.Client, apiKey string) *Client {
	apiKey = strings.TrimSpace(apiKey)
	baseURL := defaultLiteBase
	if apiKey != "" {
		baseURL = defaultProBase
	}
	return &Client{
		http:    httpClient,
		baseURL: baseURL,
		apiKey:  apiKey,
	}
}

func (c *Client) Name() string { return "jupiter" }

type routePlanStep struct {
	SwapInfo struct {
		Label string `json:"label"`
	} `json:"swapInfo"`
}

type quoteResponse struct {
	InAmount       string          `json:"inAmount"`
	OutAmount      string          `json:"outAmount"`
	PriceImpactPct string          `json:"priceImpactPct"`
	RoutePlan      []routePlanStep `json:"routePlan"`
}

// Routes asks for a direct, single-hop quote. Jupiter answers 400 with an
// error code when no route exists; that is reported as an empty result.
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
	vals.Set("onlyDirectRoutes", "true")

	endpoint := fmt.Sprintf("%s/swap/v1/quote?%s", strings.TrimRight(c.baseURL, "/"), vals.Encode())
	hReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeInternal, "build jupiter quote request", err)
	}
	c.authorize(hReq.Header)

	var raw json.RawMessage
	if _, err := c.http.DoJSON(ctx, hReq, &raw); err != nil {
		if isNoRoute(err) {
			return []providers.Route{}, nil
		}
		return nil, err
	}

	var resp quoteResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, apperr.Wrap(apperr.CodeUnavailable, "decode jupiter quote", err)
	}
	if strings.TrimSpace(resp.OutAmount) == "" {
		return nil, apperr.New(apperr.CodeUnavailable, "jupiter quote missing output amount")
	}
	out, err := id.ParseBaseUnits(resp.OutAmount)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeUnavailable, "jupiter quote output amount", err)
	}
	in := req.Amount
	if resp.InAmount != "" {
		if parsed, err := id.ParseBaseUnits(resp.InAmount); err == nil {
			in = parsed
		}
	}

	return []providers.Route{{
		Provider:       c.Name(),
		Label:          routeLabel(resp.RoutePlan),
		InAmount:       in,
		OutAmount:      out,
		PriceImpactPct: parsePriceImpactPct(resp.PriceImpactPct),
		Hops:           len(resp.RoutePlan),
		Quote:          raw,
	}}, nil
}

type swapRequest struct {
	QuoteResponse           json.RawMessage `json:"quoteResponse"`
	UserPublicKey           string          `json:"userPublicKey"`
	WrapAndUnwrapSol        bool            `json:"wrapAndUnwrapSol"`
	DynamicComputeUnitLimit bool            `json:"dynamicComputeUnitLimit"`
}

type swapResponse struct {
	SwapTransaction      string `json:"swapTransaction"`
	LastValidBlockHeight uint64 `json:"lastValidBlockHeight"`
}

// BuildTransaction turns a quote into an unsigned versioned transaction with
// wallet as fee payer.
func (c *Client) BuildTransaction(ctx context.Context, route providers.Route, wallet string) (providers.UnsignedTx, error) {
	if len(route.Quote) == 0 {
		return providers.UnsignedTx{}, apperr.New(apperr.CodeInternal, "jupiter route is missing its quote")
	}
	body := swapRequest{
		QuoteResponse:           route.Quote,
		UserPublicKey:           wallet,
		WrapAndUnwrapSol:        true,
		DynamicComputeUnitLimit: true,
	}
	headers := map[string]string{}
	if c.apiKey != "" {
		headers["x-api-key"] = c.apiKey
	}

	var resp swapResponse
	endpoint := strings.TrimRight(c.baseURL, "/") + "/swap/v1/swap"
	if _, err := httpx.PostJSON(ctx, c.http, endpoint, body, headers, &resp); err != nil {
		return providers.UnsignedTx{}, err
	}
	if resp.SwapTransaction == "" {
		return providers.UnsignedTx{}, apperr.New(apperr.CodeUnavailable, "jupiter returned no transaction")
	}
	return providers.UnsignedTx{Base64: resp.SwapTransaction, LastValidBlockHeight: resp.LastValidBlockHeight}, nil
}

type tokenEntry struct {
	ID       string `json:"id"`
	Symbol   string `json:"symbol"`
	Name     string `json:"name"`
	Decimals int    `json:"decimals"`
}

// ListTokens returns Jupiter's verified token list.
func (c *Client) ListTokens(ctx context.Context) ([]id.Token, error) {
	endpoint := strings.TrimRight(c.baseURL, "/") + defaultTokenPath
	hReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeInternal, "build jupiter token request", err)
	}
	c.authorize(hReq.Header)

	var entries []tokenEntry
	if _, err := c.http.DoJSON(ctx, hReq, &entries); err != nil {
		return nil, err
	}
	out := make([]id.Token, 0, len(entries))
	for _, e := range entries {
		out = append(out, id.Token{Symbol: e.Symbol, Address: e.ID, Decimals: e.Decimals, Name: e.Name})
	}
	return out, nil
}

func (c *Client) authorize(h http.Header) {
	if c.apiKey != "" {
		h.Set("x-api-key", c.apiKey)
	}
}

func isNoRoute(err error) bool {
	status, ok := httpx.AsStatus(err)
	if !ok || status.StatusCode != http.StatusBadRequest {
		return false
	}
	return bytes.Contains(status.Body, []byte("COULD_NOT_FIND_ANY_ROUTE")) ||
		bytes.Contains(status.Body, []byte("NO_ROUTES_FOUND")) ||
		bytes.Contains(status.Body, []byte("TOKEN_NOT_TRADABLE"))
}

func parsePriceImpactPct(v string) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil || f < 0 {
		return 0
	}
	return f
}

func routeLabel(plan []routePlanStep) string {
	parts := make([]string, 0, len(plan))
	for _, hop := range plan {
		label := strings.TrimSpace(hop.SwapInfo.Label)
		if label == "" {
			continue
		}
		if len(parts) == 0 || parts[len(parts)-1] != label {
			parts = append(parts, label)
		}
	}
	if len(parts) == 0 {
		return "jupiter"
	}
	return strings.Join(parts, " > ")
}
