package jupiter

import (
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	apperr "github.com/ggonzalez94/chatswap/internal/errors"
	"github.com/ggonzalez94/chatswap/internal/httpx"
	"github.com/ggonzalez94/chatswap/internal/id"
	"github.com/ggonzalez94/chatswap/internal/providers"
)

const usdcMint = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"

func newTestClient(t *testing.T, mux *http.ServeMux, apiKey string) *Client {
	t.Helper()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	c := New(httpx.New(2*time.Second, 0), apiKey)
	c.baseURL = srv.URL
	return c
}

func TestRoutesParsesQuote(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/swap/v1/quote", func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("x-api-key"); got != "test-key" {
			t.Errorf("expected x-api-key header, got %q", got)
		}
		q := r.URL.Query()
		if q.Get("onlyDirectRoutes") != "true" || q.Get("amount") != "1000000000" || q.Get("inputMint") != id.NativeMint {
			t.Errorf("unexpected query: %s", r.URL.RawQuery)
		}
		_, _ = w.Write([]byte(`{
			"inAmount":"1000000000",
			"outAmount":"151230000",
			"priceImpactPct":"0.01",
			"routePlan":[{"swapInfo":{"label":"Raydium CLMM"}}]
		}`))
	})
	c := newTestClient(t, mux, "test-key")

	routes, err := c.Routes(context.Background(), providers.RouteRequest{
		InputMint:  id.NativeMint,
		OutputMint: usdcMint,
		Amount:     big.NewInt(1_000_000_000),
	})
	if err != nil {
		t.Fatalf("Routes failed: %v", err)
	}
	if len(routes) != 1 {
		t.Fatalf("expected one route, got %d", len(routes))
	}
	r := routes[0]
	if r.Provider != "jupiter" || r.Label != "Raydium CLMM" || r.OutAmount.String() != "151230000" || r.Hops != 1 {
		t.Fatalf("unexpected route: %+v", r)
	}
	if len(r.Quote) == 0 {
		t.Fatal("expected raw quote to be kept")
	}
}

func TestRoutesNoRouteIsEmpty(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/swap/v1/quote", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"Could not find any route","errorCode":"COULD_NOT_FIND_ANY_ROUTE"}`))
	})
	c := newTestClient(t, mux, "")

	routes, err := c.Routes(context.Background(), providers.RouteRequest{InputMint: "a", OutputMint: "b", Amount: big.NewInt(1)})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(routes) != 0 {
		t.Fatalf("expected no routes, got %+v", routes)
	}
}

func TestRoutesOtherBadRequestIsError(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/swap/v1/quote", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"invalid mint"}`))
	})
	c := newTestClient(t, mux, "")

	_, err := c.Routes(context.Background(), providers.RouteRequest{InputMint: "a", OutputMint: "b", Amount: big.NewInt(1)})
	if !apperr.Is(err, apperr.CodeUnsupported) {
		t.Fatalf("expected unsupported, got %v", err)
	}
}

func TestRoutesRejectsZeroAmount(t *testing.T) {
	c := New(httpx.New(time.Second, 0), "")
	_, err := c.Routes(context.Background(), providers.RouteRequest{Amount: big.NewInt(0)})
	if !apperr.Is(err, apperr.CodeInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

func TestBuildTransaction(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/swap/v1/swap", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode body: %v", err)
		}
		if body["userPublicKey"] != "Wallet111111111111111111111111111111111111" || body["wrapAndUnwrapSol"] != true {
			t.Errorf("unexpected swap body: %v", body)
		}
		if _, ok := body["quoteResponse"].(map[string]any); !ok {
			t.Errorf("expected quoteResponse object, got %T", body["quoteResponse"])
		}
		_, _ = w.Write([]byte(`{"swapTransaction":"AQIDBA==","lastValidBlockHeight":279632475}`))
	})
	c := newTestClient(t, mux, "")

	tx, err := c.BuildTransaction(context.Background(), providers.Route{Quote: json.RawMessage(`{"outAmount":"1"}`)}, "Wallet111111111111111111111111111111111111")
	if err != nil {
		t.Fatalf("BuildTransaction failed: %v", err)
	}
	if tx.Base64 != "AQIDBA==" || tx.LastValidBlockHeight != 279632475 {
		t.Fatalf("unexpected tx: %+v", tx)
	}
}

func TestListTokens(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/tokens/v2/tag", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[{"id":"DezXAZ8z7PnrnRJjz3wXBoRgixCa6xjnB7YaB1pPB263","symbol":"Bonk","name":"Bonk","decimals":5}]`))
	})
	c := newTestClient(t, mux, "")

	tokens, err := c.ListTokens(context.Background())
	if err != nil {
		t.Fatalf("ListTokens failed: %v", err)
	}
	if len(tokens) != 1 || tokens[0].Symbol != "Bonk" || tokens[0].Decimals != 5 {
		t.Fatalf("unexpected tokens: %+v", tokens)
	}
}

func TestRouteLabel(t *testing.T) {
	plan := []routePlanStep{{}, {}, {}}
	plan[0].SwapInfo.Label = "Orca"
	plan[1].SwapInfo.Label = "Orca"
	plan[2].SwapInfo.Label = "Meteora"
	if got := routeLabel(plan); got != "Orca > Meteora" {
		t.Fatalf("unexpected label %q", got)
	}
	if got := routeLabel(nil); got != "jupiter" {
		t.Fatalf("unexpected empty label %q", got)
	}
}
