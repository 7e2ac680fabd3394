package telegram

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ggonzalez94/chatswap/internal/chat"
	"github.com/ggonzalez94/chatswap/internal/httpx"
	"github.com/ggonzalez94/chatswap/internal/logging"
)

type recordingHandler struct {
	mu     sync.Mutex
	events []chat.Event
}

func (r *recordingHandler) Handle(_ context.Context, ev chat.Event) chat.Reply {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
	return chat.Reply{
		Text:     "reply to " + string(ev.Action.Kind),
		Keyboard: [][]chat.Button{{{Text: "Back", Action: &chat.Action{Kind: chat.ActionHome}}}},
	}
}

func (r *recordingHandler) snapshot() []chat.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]chat.Event(nil), r.events...)
}

type botAPI struct {
	mu      sync.Mutex
	calls   map[string][]map[string]any
	updates []string
	served  bool
	done    chan struct{}
}

func newBotAPI(updates ...string) *botAPI {
	return &botAPI{calls: map[string][]map[string]any{}, updates: updates, done: make(chan struct{})}
}

func (b *botAPI) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		method := strings.TrimPrefix(r.URL.Path, "/botTEST/")
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode %s body: %v", method, err)
		}
		b.mu.Lock()
		b.calls[method] = append(b.calls[method], body)
		first := !b.served
		b.served = true
		b.mu.Unlock()

		switch method {
		case "getUpdates":
			if first {
				_, _ = w.Write([]byte(`{"ok":true,"result":[` + strings.Join(b.updates, ",") + `]}`))
				return
			}
			select {
			case <-b.done:
			default:
				close(b.done)
			}
			time.Sleep(10 * time.Millisecond)
			_, _ = w.Write([]byte(`{"ok":true,"result":[]}`))
		default:
			_, _ = w.Write([]byte(`{"ok":true,"result":true}`))
		}
	}
}

func (b *botAPI) callsTo(method string) []map[string]any {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]map[string]any(nil), b.calls[method]...)
}

func newTestTransport(t *testing.T, api *botAPI) *Transport {
	t.Helper()
	srv := httptest.NewServer(api.handler(t))
	t.Cleanup(srv.Close)
	tr, err := New(Config{Token: "TEST"}, httpx.New(2*time.Second, 1), logging.Nop())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	tr.base = srv.URL + "/botTEST"
	return tr
}

func runUntilDrained(t *testing.T, tr *Transport, api *botAPI, h chat.Handler) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- tr.Run(ctx, h) }()
	select {
	case <-api.done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for second poll")
	}
	cancel()
	if err := <-errCh; err != nil {
		t.Fatalf("Run returned %v", err)
	}
}

func TestNewRequiresToken(t *testing.T) {
	if _, err := New(Config{}, httpx.New(time.Second, 0), logging.Nop()); err == nil {
		t.Fatal("expected error without token")
	}
}

func TestCallbackIsParsedAndEdited(t *testing.T) {
	api := newBotAPI(`{"update_id":7,"callback_query":{"id":"q1","data":"pair:SOL:USDC","message":{"message_id":55,"chat":{"id":42}}}}`)
	tr := newTestTransport(t, api)
	h := &recordingHandler{}

	runUntilDrained(t, tr, api, h)

	events := h.snapshot()
	if len(events) != 1 {
		t.Fatalf("expected one event, got %d", len(events))
	}
	ev := events[0]
	if ev.OwnerID != "tg:42" || ev.Action.Kind != chat.ActionPair || ev.Action.From != "SOL" || ev.Action.To != "USDC" {
		t.Fatalf("unexpected event %+v", ev)
	}
	edits := api.callsTo("editMessageText")
	if len(edits) != 1 || edits[0]["message_id"] != float64(55) || edits[0]["text"] != "reply to pair" {
		t.Fatalf("unexpected edit calls %+v", edits)
	}
	kb := edits[0]["reply_markup"].(map[string]any)["inline_keyboard"].([]any)
	btn := kb[0].([]any)[0].(map[string]any)
	if btn["callback_data"] != "home" {
		t.Fatalf("unexpected keyboard %+v", kb)
	}
	if len(api.callsTo("answerCallbackQuery")) != 1 {
		t.Fatal("expected callback to be answered")
	}
	polls := api.callsTo("getUpdates")
	if len(polls) < 2 || polls[1]["offset"] != float64(8) {
		t.Fatalf("expected offset to advance, got %+v", polls)
	}
}

func TestUnknownCallbackIsRejected(t *testing.T) {
	api := newBotAPI(`{"update_id":1,"callback_query":{"id":"q1","data":"swap_SOL_USDC","message":{"message_id":5,"chat":{"id":42}}}}`)
	tr := newTestTransport(t, api)
	h := &recordingHandler{}

	runUntilDrained(t, tr, api, h)

	if len(h.snapshot()) != 0 {
		t.Fatal("handler must not see invalid actions")
	}
	answers := api.callsTo("answerCallbackQuery")
	if len(answers) != 1 || answers[0]["text"] != "Unknown action" {
		t.Fatalf("unexpected answers %+v", answers)
	}
}

func TestStartCommandSendsMenu(t *testing.T) {
	api := newBotAPI(
		`{"update_id":3,"message":{"message_id":1,"chat":{"id":9},"text":"/start"}}`,
		`{"update_id":4,"message":{"message_id":2,"chat":{"id":9},"text":"hello"}}`,
	)
	tr := newTestTransport(t, api)
	h := &recordingHandler{}

	runUntilDrained(t, tr, api, h)

	events := h.snapshot()
	if len(events) != 1 || events[0].Action.Kind != chat.ActionHome || events[0].OwnerID != "tg:9" {
		t.Fatalf("unexpected events %+v", events)
	}
	sends := api.callsTo("sendMessage")
	if len(sends) != 1 || sends[0]["chat_id"] != "9" {
		t.Fatalf("unexpected sends %+v", sends)
	}
}

func TestSendIsNotRetried(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls++
		mu.Unlock()
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	tr, _ := New(Config{Token: "TEST"}, httpx.New(time.Second, 3), logging.Nop())
	tr.base = srv.URL + "/botTEST"
	if err := tr.Send(context.Background(), "42", chat.Reply{Text: "✅ Swap Successful! Transaction: sig"}); err == nil {
		t.Fatal("expected send error")
	}
	mu.Lock()
	defer mu.Unlock()
	if calls != 1 {
		t.Fatalf("expected a single attempt, got %d", calls)
	}
}

func TestCommandAction(t *testing.T) {
	tests := map[string]chat.ActionKind{
		"/start":             chat.ActionHome,
		"/connect@swap_bot":  chat.ActionConnect,
		"/balance":           chat.ActionBalance,
		"/SWAP":              chat.ActionSwap,
	}
	for in, want := range tests {
		got, ok := commandAction(in)
		if !ok || got.Kind != want {
			t.Fatalf("commandAction(%q) = %+v %v", in, got, ok)
		}
	}
	if _, ok := commandAction("gm"); ok {
		t.Fatal("plain text should be ignored")
	}
}
