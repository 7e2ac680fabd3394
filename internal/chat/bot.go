package chat

import (
	"context"
	"fmt"
	"strings"

	apperr "github.com/ggonzalez94/chatswap/internal/errors"
	"github.com/ggonzalez94/chatswap/internal/id"
	"github.com/ggonzalez94/chatswap/internal/logging"
	"github.com/ggonzalez94/chatswap/internal/model"
	"github.com/ggonzalez94/chatswap/internal/orchestrator"
	"github.com/ggonzalez94/chatswap/internal/policy"
)

// Event is one inbound user action, already validated by its transport.
type Event struct {
	OwnerID string
	Action  Action
}

// Handler turns an event into the reply shown to the user.
type Handler interface {
	Handle(ctx context.Context, ev Event) Reply
}

// Service is the orchestrator surface the bot drives.
type Service interface {
	StartConnect(ctx context.Context, ownerID string) (string, error)
	RequestSwap(ctx context.Context, ownerID string, req model.SwapRequest) (string, error)
	Balance(ctx context.Context, ownerID string) (orchestrator.Balances, error)
	ConnectURL(sessionID string) string
	SignURL(sessionID string) string
}

type Bot struct {
	svc     Service
	pairs   []Pair
	allowed []string
	log     *logging.Logger
}

func NewBot(svc Service, pairs []Pair, log *logging.Logger) *Bot {
	if len(pairs) == 0 {
		pairs = DefaultPairs()
	}
	return &Bot{svc: svc, pairs: pairs, log: log.Sub("bot")}
}

// Restrict limits the bot to the listed owners. See policy.CheckOwnerAllowed.
func (b *Bot) Restrict(owners []string) *Bot {
	b.allowed = owners
	return b
}

func (b *Bot) Handle(ctx context.Context, ev Event) Reply {
	if err := policy.CheckOwnerAllowed(b.allowed, ev.OwnerID); err != nil {
		b.log.Info().Str("owner", ev.OwnerID).Msg("owner not on allowlist")
		return Reply{Text: apperr.UserMessage(err)}
	}
	switch ev.Action.Kind {
	case ActionHome:
		return homeMenu("Welcome to chatswap! Connect Phantom or do a swap:")
	case ActionConnect:
		sid, err := b.svc.StartConnect(ctx, ev.OwnerID)
		if err != nil {
			return b.failure(ev, err)
		}
		return linkReply("Open this link to connect Phantom:", "Connect Phantom (Web)", b.svc.ConnectURL(sid))
	case ActionBalance:
		bal, err := b.svc.Balance(ctx, ev.OwnerID)
		if err != nil {
			return b.failure(ev, err)
		}
		return backOnly(formatBalances(bal))
	case ActionSwap:
		return pairMenu(b.pairs)
	case ActionPair:
		return amountMenu(ev.Action.From, ev.Action.To)
	case ActionAmount:
		return confirmMenu(ev.Action)
	case ActionConfirm:
		sid, err := b.svc.RequestSwap(ctx, ev.OwnerID, model.SwapRequest{
			FromSymbol: ev.Action.From,
			ToSymbol:   ev.Action.To,
			Amount:     ev.Action.Amount,
		})
		if err != nil {
			return b.failure(ev, err)
		}
		return linkReply("Click below to sign with Phantom:", "Sign Transaction", b.svc.SignURL(sid))
	}
	return homeMenu("Unknown action.")
}

func (b *Bot) failure(ev Event, err error) Reply {
	lev := b.log.Warn()
	if !apperr.Is(err, apperr.CodeInvalidInput) {
		lev = b.log.Error()
	}
	lev.Err(err).Str("owner", ev.OwnerID).Str("action", string(ev.Action.Kind)).Msg("chat action failed")

	text := apperr.UserMessage(err)
	if ev.Action.Kind == ActionBalance && !apperr.Is(err, apperr.CodeInvalidInput) {
		text = "Error fetching balances: " + text
	}
	return backOnly(text)
}

func formatBalances(b orchestrator.Balances) string {
	var sb strings.Builder
	sb.WriteString("Your balances:\n")
	spl := 0
	for _, h := range b.Holdings {
		name := h.Symbol
		if name == "" {
			name = "Mint " + h.Mint
		}
		if !(h.Mint == id.NativeMint && h.Symbol == id.NativeSymbol) {
			spl++
		}
		fmt.Fprintf(&sb, "%s: %s\n", name, h.Amount.AmountDecimal)
	}
	if spl == 0 {
		sb.WriteString("No SPL tokens found.\n")
	}
	return sb.String()
}
