package orchestrator

import (
	"context"
	"encoding/base64"
	"math/big"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	apperr "github.com/ggonzalez94/chatswap/internal/errors"
	"github.com/ggonzalez94/chatswap/internal/id"
	"github.com/ggonzalez94/chatswap/internal/ledger"
	"github.com/ggonzalez94/chatswap/internal/logging"
	"github.com/ggonzalez94/chatswap/internal/model"
	"github.com/ggonzalez94/chatswap/internal/providers"
	"github.com/ggonzalez94/chatswap/internal/session"
	"github.com/ggonzalez94/chatswap/internal/swap"
)

const testWallet = "9WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWM"

func encodeTx(sigFill byte, message []byte) string {
	raw := []byte{1}
	for i := 0; i < 64; i++ {
		raw = append(raw, sigFill)
	}
	raw = append(raw, message...)
	return base64.StdEncoding.EncodeToString(raw)
}

type sentMessage struct {
	owner string
	text  string
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []sentMessage
	err  error
}

func (f *fakeNotifier) SendMessage(_ context.Context, ownerID, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, sentMessage{owner: ownerID, text: text})
	return nil
}

func (f *fakeNotifier) messages() []sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]sentMessage, len(f.sent))
	copy(out, f.sent)
	return out
}

type fakeChain struct {
	native     *big.Int
	holdings   []model.Holding
	signature  string
	broadcast  atomic.Int32
	broadErr   error
	confirmErr error
	gate       chan struct{}
}

func (f *fakeChain) NativeBalance(context.Context, string) (*big.Int, error) {
	return new(big.Int).Set(f.native), nil
}

func (f *fakeChain) TokenBalance(context.Context, string, string) (*big.Int, error) {
	return big.NewInt(0), nil
}

func (f *fakeChain) TokenHoldings(context.Context, string) ([]model.Holding, error) {
	return f.holdings, nil
}

func (f *fakeChain) Broadcast(ctx context.Context, _ string) (string, error) {
	f.broadcast.Add(1)
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if f.broadErr != nil {
		return "", f.broadErr
	}
	return f.signature, nil
}

func (f *fakeChain) Confirm(context.Context, string) error {
	return f.confirmErr
}

type fakeDirectory struct{}

func (fakeDirectory) Name() string { return "fake" }

func (fakeDirectory) ListTokens(context.Context) ([]id.Token, error) {
	return id.SeedTokens(), nil
}

type fakeRouter struct {
	builds atomic.Int32
}

func (*fakeRouter) Name() string { return "jupiter" }

func (*fakeRouter) Routes(_ context.Context, req providers.RouteRequest) ([]providers.Route, error) {
	out := new(big.Int).Mul(req.Amount, big.NewInt(150))
	out.Quo(out, big.NewInt(1000))
	return []providers.Route{{
		Provider:  "jupiter",
		Label:     "Orca",
		InAmount:  req.Amount,
		OutAmount: out,
		Hops:      1,
		Quote:     []byte(`{"inAmount":"` + req.Amount.String() + `"}`),
	}}, nil
}

func (r *fakeRouter) BuildTransaction(_ context.Context, route providers.Route, wallet string) (providers.UnsignedTx, error) {
	n := r.builds.Add(1)
	msg := []byte("swap " + route.InAmount.String() + " for " + wallet + " #" + string(rune('0'+n)))
	return providers.UnsignedTx{Base64: encodeTx(0, msg), LastValidBlockHeight: 1000}, nil
}

type fakeRecorder struct {
	mu      sync.Mutex
	entries []ledger.Entry
}

func (f *fakeRecorder) Save(_ context.Context, e ledger.Entry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, e)
	return nil
}

type harness struct {
	svc      *Service
	store    *session.MemoryStore
	chain    *fakeChain
	router   *fakeRouter
	notifier *fakeNotifier
	ledger   *fakeRecorder
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	return newHarnessWithStore(t, nil)
}

// newHarnessWithStore lets a test wrap the memory store, e.g. to interleave
// writes with the orchestrator's own.
func newHarnessWithStore(t *testing.T, wrap func(*session.MemoryStore) session.Store) *harness {
	t.Helper()
	h := &harness{
		store:    session.NewMemoryStore(30 * time.Minute),
		chain:    &fakeChain{native: big.NewInt(2_000_000_000), signature: "sig123"},
		router:   &fakeRouter{},
		notifier: &fakeNotifier{},
		ledger:   &fakeRecorder{},
	}
	resolver := swap.NewResolver(fakeDirectory{}, nil, time.Hour, logging.Nop())
	builder := swap.NewBuilder(resolver, h.chain, swap.NewRouteSelector(50, logging.Nop(), h.router))
	var store session.Store = h.store
	if wrap != nil {
		store = wrap(h.store)
	}
	h.svc = New(Config{PublicURL: "https://swap.example/", SettleTimeout: 5 * time.Second}, Deps{
		Store:    store,
		Builder:  builder,
		Balances: h.chain,
		Tokens:   resolver,
		Chain:    h.chain,
		Notifier: h.notifier,
		Ledger:   h.ledger,
		Log:      logging.Nop(),
	})
	return h
}

// connect runs the wallet connect flow for owner and returns the session id.
func (h *harness) connect(t *testing.T, owner string) string {
	t.Helper()
	sid, err := h.svc.StartConnect(context.Background(), owner)
	if err != nil {
		t.Fatalf("StartConnect failed: %v", err)
	}
	if err := h.svc.ConnectWallet(context.Background(), sid, testWallet); err != nil {
		t.Fatalf("ConnectWallet failed: %v", err)
	}
	return sid
}

// signed re-signs the stored artifact without touching its message.
func signed(t *testing.T, blob string) string {
	t.Helper()
	raw, err := base64.StdEncoding.DecodeString(blob)
	if err != nil {
		t.Fatalf("decode blob: %v", err)
	}
	for i := 1; i <= 64; i++ {
		raw[i] = 0xAB
	}
	return base64.StdEncoding.EncodeToString(raw)
}

func requireCode(t *testing.T, err error, code apperr.Code) {
	t.Helper()
	if !apperr.Is(err, code) {
		t.Fatalf("expected %s, got %v", apperr.TypeName(code), err)
	}
}

// rebuildingStore replaces the artifact right before the first SUBMITTED
// transition, as a sign-page reload racing a submission would.
type rebuildingStore struct {
	*session.MemoryStore
	once     sync.Once
	replaced model.Transaction
}

func (r *rebuildingStore) Advance(ctx context.Context, id string, t session.Transition) error {
	if t.To == session.StateSubmitted {
		r.once.Do(func() {
			_ = r.MemoryStore.ReplaceTransaction(ctx, id, t.BuildID, r.replaced)
		})
	}
	return r.MemoryStore.Advance(ctx, id, t)
}
