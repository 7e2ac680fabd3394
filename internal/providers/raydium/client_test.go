package raydium

import (
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ggonzalez94/chatswap/internal/httpx"
	"github.com/ggonzalez94/chatswap/internal/id"
	"github.com/ggonzalez94/chatswap/internal/providers"
)

const usdcMint = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"

func newTestClient(t *testing.T, mux *http.ServeMux) *Client {
	t.Helper()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	c := New(httpx.New(2*time.Second, 0), srv.URL+"/tokens.json")
	c.tradeBase = srv.URL
	return c
}

func TestListTokensMergesSections(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/tokens.json", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{
			"official":[{"symbol":"USDC","name":"USD Coin","mint":"EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v","decimals":6}],
			"unOfficial":[{"symbol":"USDC","name":"Fake","mint":"FakeMint1111111111111111111111111111111111","decimals":6}],
			"tokens":{"DezXAZ8z7PnrnRJjz3wXBoRgixCa6xjnB7YaB1pPB263":{"symbol":"BONK","name":"Bonk","decimals":5}}
		}`))
	})
	c := newTestClient(t, mux)

	tokens, err := c.ListTokens(context.Background())
	if err != nil {
		t.Fatalf("ListTokens failed: %v", err)
	}
	if len(tokens) != 3 {
		t.Fatalf("expected 3 tokens, got %d", len(tokens))
	}
	if tokens[0].Symbol != "USDC" || tokens[0].Address != usdcMint {
		t.Fatalf("expected official USDC first, got %+v", tokens[0])
	}
	if tokens[2].Address != "DezXAZ8z7PnrnRJjz3wXBoRgixCa6xjnB7YaB1pPB263" || tokens[2].Decimals != 5 {
		t.Fatalf("expected mint from map key, got %+v", tokens[2])
	}
}

func TestRoutesSingleHop(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/compute/swap-base-in", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("txVersion") != "V0" {
			t.Errorf("expected V0 tx version, got %s", r.URL.RawQuery)
		}
		_, _ = w.Write([]byte(`{"id":"q1","success":true,"data":{
			"inputMint":"So11111111111111111111111111111111111111112",
			"outputMint":"EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v",
			"inputAmount":"1000000000","outputAmount":"150000000","priceImpactPct":0.02,
			"routePlan":[{"poolId":"58oQChx4yWmvKdwLLZzBi4ChoCc2fqCUWBkwMihLYQo2"}]}}`))
	})
	c := newTestClient(t, mux)

	routes, err := c.Routes(context.Background(), providers.RouteRequest{
		InputMint: id.NativeMint, OutputMint: usdcMint, Amount: big.NewInt(1_000_000_000),
	})
	if err != nil {
		t.Fatalf("Routes failed: %v", err)
	}
	if len(routes) != 1 || routes[0].OutAmount.String() != "150000000" || routes[0].Label != "raydium 58oQ..YQo2" {
		t.Fatalf("unexpected routes: %+v", routes)
	}
}

func TestRoutesMultiHopAndFailureAreEmpty(t *testing.T) {
	cases := map[string]string{
		"multi-hop": `{"success":true,"data":{"inputAmount":"1","outputAmount":"2","routePlan":[{"poolId":"a"},{"poolId":"b"}]}}`,
		"failure":   `{"success":false,"msg":"ROUTE_NOT_FOUND"}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			mux := http.NewServeMux()
			mux.HandleFunc("/compute/swap-base-in", func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(body))
			})
			c := newTestClient(t, mux)
			routes, err := c.Routes(context.Background(), providers.RouteRequest{InputMint: "a", OutputMint: "b", Amount: big.NewInt(1)})
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(routes) != 0 {
				t.Fatalf("expected no routes, got %+v", routes)
			}
		})
	}
}

func TestBuildTransactionWrapsNativeInput(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/transaction/swap-base-in", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode body: %v", err)
		}
		if body["wrapSol"] != true || body["unwrapSol"] != false || body["wallet"] != "Wallet1" {
			t.Errorf("unexpected body: %v", body)
		}
		_, _ = w.Write([]byte(`{"success":true,"data":[{"transaction":"AQID"}]}`))
	})
	c := newTestClient(t, mux)

	quote := json.RawMessage(`{"success":true,"data":{"inputMint":"So11111111111111111111111111111111111111112","outputMint":"EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"}}`)
	tx, err := c.BuildTransaction(context.Background(), providers.Route{Quote: quote}, "Wallet1")
	if err != nil {
		t.Fatalf("BuildTransaction failed: %v", err)
	}
	if tx.Base64 != "AQID" {
		t.Fatalf("unexpected tx: %+v", tx)
	}
}

func TestBuildTransactionReportsFailure(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/transaction/swap-base-in", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"success":false,"msg":"REQ_WALLET_ERROR"}`))
	})
	c := newTestClient(t, mux)

	_, err := c.BuildTransaction(context.Background(), providers.Route{Quote: json.RawMessage(`{}`)}, "Wallet1")
	if err == nil {
		t.Fatal("expected error")
	}
}
