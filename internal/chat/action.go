package chat

import (
	"fmt"
	"strings"

	apperr "github.com/ggonzalez94/chatswap/internal/errors"
	"github.com/ggonzalez94/chatswap/internal/id"
	"github.com/ggonzalez94/chatswap/internal/swap"
)

type ActionKind string

const (
	ActionHome    ActionKind = "home"
	ActionConnect ActionKind = "connect"
	ActionBalance ActionKind = "balance"
	ActionSwap    ActionKind = "swap"
	ActionPair    ActionKind = "pair"
	ActionAmount  ActionKind = "amount"
	ActionConfirm ActionKind = "confirm"
)

// Action is a validated user intent. Transports turn button data or text
// commands into an Action before anything else sees them.
type Action struct {
	Kind   ActionKind
	From   string
	To     string
	Amount string
}

// ParseAction decodes button data produced by Encode.
func ParseAction(data string) (Action, error) {
	parts := strings.Split(strings.TrimSpace(data), ":")
	kind := ActionKind(parts[0])
	switch kind {
	case ActionHome, ActionConnect, ActionBalance, ActionSwap:
		if len(parts) != 1 {
			break
		}
		return Action{Kind: kind}, nil
	case ActionPair:
		if len(parts) != 3 {
			break
		}
		return newTrade(kind, parts[1], parts[2], "")
	case ActionAmount, ActionConfirm:
		if len(parts) != 4 {
			break
		}
		return newTrade(kind, parts[2], parts[3], parts[1])
	}
	return Action{}, apperr.New(apperr.CodeInvalidInput, fmt.Sprintf("unknown action %q", data))
}

// Encode renders a as compact button data.
func (a Action) Encode() string {
	switch a.Kind {
	case ActionPair:
		return strings.Join([]string{string(a.Kind), a.From, a.To}, ":")
	case ActionAmount, ActionConfirm:
		return strings.Join([]string{string(a.Kind), a.Amount, a.From, a.To}, ":")
	default:
		return string(a.Kind)
	}
}

func newTrade(kind ActionKind, from, to, amount string) (Action, error) {
	f, err := id.NormalizeSymbol(from)
	if err != nil {
		return Action{}, err
	}
	t, err := id.NormalizeSymbol(to)
	if err != nil {
		return Action{}, err
	}
	if f == t {
		return Action{}, apperr.New(apperr.CodeInvalidInput, "cannot swap a token for itself")
	}
	a := Action{Kind: kind, From: f, To: t}
	if kind == ActionPair {
		return a, nil
	}
	parsed, err := swap.ParseAmount(amount)
	if err != nil {
		return Action{}, err
	}
	a.Amount = parsed.String()
	return a, nil
}

// Pair is a swap direction offered in the menu.
type Pair struct {
	From string
	To   string
}

func DefaultPairs() []Pair {
	return []Pair{{From: "SOL", To: "USDC"}, {From: "USDC", To: "SOL"}}
}

// ParsePairs reads "SOL/USDC,USDC/SOL".
func ParsePairs(v string) ([]Pair, error) {
	var out []Pair
	for _, item := range strings.Split(v, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		from, to, ok := strings.Cut(item, "/")
		if !ok {
			return nil, apperr.New(apperr.CodeUsage, fmt.Sprintf("invalid pair %q, expected FROM/TO", item))
		}
		a, err := newTrade(ActionPair, from, to, "")
		if err != nil {
			return nil, err
		}
		out = append(out, Pair{From: a.From, To: a.To})
	}
	if len(out) == 0 {
		return DefaultPairs(), nil
	}
	return out, nil
}
