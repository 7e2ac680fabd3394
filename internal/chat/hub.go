package chat

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	apperr "github.com/ggonzalez94/chatswap/internal/errors"
	"github.com/ggonzalez94/chatswap/internal/logging"
)

// Transport is one messaging network. Owner ids are "<Name()>:<chatID>".
type Transport interface {
	Name() string
	// Run receives events until ctx is done.
	Run(ctx context.Context, h Handler) error
	Send(ctx context.Context, chatID string, reply Reply) error
}

// OwnerID builds the owner id for a chat on transport.
func OwnerID(transport, chatID string) string {
	return transport + ":" + chatID
}

// Hub routes outbound messages to the transport that owns the chat and runs
// every registered transport.
type Hub struct {
	mu         sync.RWMutex
	transports map[string]Transport
	log        *logging.Logger
}

func NewHub(log *logging.Logger) *Hub {
	return &Hub{transports: map[string]Transport{}, log: log.Sub("chat")}
}

func (h *Hub) Register(t Transport) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.transports[t.Name()] = t
	h.log.Info().Str("transport", t.Name()).Msg("chat transport registered")
}

func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.transports)
}

// SendMessage implements the orchestrator's notifier.
func (h *Hub) SendMessage(ctx context.Context, ownerID, text string) error {
	name, chatID, ok := strings.Cut(ownerID, ":")
	if !ok || chatID == "" {
		return apperr.New(apperr.CodeInvalidInput, fmt.Sprintf("malformed owner id %q", ownerID))
	}
	h.mu.RLock()
	t, ok := h.transports[name]
	h.mu.RUnlock()
	if !ok {
		return apperr.New(apperr.CodeUnsupported, fmt.Sprintf("no chat transport %q", name))
	}
	return t.Send(ctx, chatID, Reply{Text: text})
}

// Run starts all transports and returns when ctx is done or one fails.
func (h *Hub) Run(ctx context.Context, handler Handler) error {
	h.mu.RLock()
	ts := make([]Transport, 0, len(h.transports))
	for _, t := range h.transports {
		ts = append(ts, t)
	}
	h.mu.RUnlock()

	g, gctx := errgroup.WithContext(ctx)
	for _, t := range ts {
		t := t
		g.Go(func() error {
			h.log.Info().Str("transport", t.Name()).Msg("starting chat transport")
			if err := t.Run(gctx, handler); err != nil && gctx.Err() == nil {
				return fmt.Errorf("%s: %w", t.Name(), err)
			}
			return nil
		})
	}
	return g.Wait()
}
