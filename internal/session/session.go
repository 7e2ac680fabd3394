package session

import (
	"time"

	apperr "github.com/ggonzalez94/chatswap/internal/errors"
	"github.com/ggonzalez94/chatswap/internal/model"
)

type State string

const (
	StateCreated         State = "CREATED"
	StateWalletConnected State = "WALLET_CONNECTED"
	StateSwapRequested   State = "SWAP_REQUESTED"
	StateTxBuilt         State = "TX_BUILT"
	StateSubmitted       State = "SUBMITTED"
	StateSettled         State = "SETTLED"
	StateFailed          State = "FAILED"
)

var stateOrder = map[State]int{
	StateCreated:         0,
	StateWalletConnected: 1,
	StateSwapRequested:   2,
	StateTxBuilt:         3,
	StateSubmitted:       4,
	StateSettled:         5,
	StateFailed:          5,
}

func (s State) Valid() bool {
	_, ok := stateOrder[s]
	return ok
}

func (s State) Terminal() bool {
	return s == StateSettled || s == StateFailed
}

// AtLeast reports whether s is at or past other on the happy path.
func (s State) AtLeast(other State) bool {
	return stateOrder[s] >= stateOrder[other]
}

func (s State) next() State {
	switch s {
	case StateCreated:
		return StateWalletConnected
	case StateWalletConnected:
		return StateSwapRequested
	case StateSwapRequested:
		return StateTxBuilt
	case StateTxBuilt:
		return StateSubmitted
	case StateSubmitted:
		return StateSettled
	}
	return ""
}

// Outcome is recorded when a session reaches a terminal state.
type Outcome struct {
	Signature string    `json:"signature,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	Code      string    `json:"code,omitempty"`
	At        time.Time `json:"at"`
}

type Session struct {
	ID            string             `json:"id"`
	OwnerID       string             `json:"owner_id"`
	WalletAddress string             `json:"wallet_address,omitempty"`
	SwapRequest   *model.SwapRequest `json:"swap_request,omitempty"`
	State         State              `json:"state"`
	Tx            *model.Transaction `json:"tx,omitempty"`
	Outcome       *Outcome           `json:"outcome,omitempty"`
	Delivered     bool               `json:"delivered"`
	CreatedAt     time.Time          `json:"created_at"`
	UpdatedAt     time.Time          `json:"updated_at"`
}

// Clone returns a deep copy so callers never alias store-owned records.
func (s Session) Clone() Session {
	out := s
	if s.SwapRequest != nil {
		req := *s.SwapRequest
		out.SwapRequest = &req
	}
	if s.Tx != nil {
		tx := *s.Tx
		out.Tx = &tx
	}
	if s.Outcome != nil {
		o := *s.Outcome
		out.Outcome = &o
	}
	return out
}

func (s Session) ExpiredAt(now time.Time, ttl time.Duration) bool {
	return ttl > 0 && now.Sub(s.CreatedAt) > ttl
}

// Transition is a compare-and-set request for Store.Advance. Tx must be set
// when entering TX_BUILT; Outcome is recorded when entering a terminal state.
// A non-empty BuildID must also match the stored artifact.
type Transition struct {
	From    State
	To      State
	BuildID string
	Tx      *model.Transaction
	Outcome *Outcome
}

// CheckTransition validates the shape of t without looking at stored state.
// Wallet and swap request transitions are owned by SetWallet and
// SetSwapRequest and are rejected here.
func CheckTransition(t Transition) error {
	if !t.From.Valid() || !t.To.Valid() {
		return apperr.New(apperr.CodeInvalidTransition, "unknown session state")
	}
	if t.From.Terminal() {
		return apperr.New(apperr.CodeInvalidTransition, "session already finished")
	}
	if t.To == StateFailed {
		return nil
	}
	if t.To == StateWalletConnected || t.To == StateSwapRequested {
		return apperr.New(apperr.CodeInvalidTransition, "state "+string(t.To)+" is set by its own operation")
	}
	if t.From.next() != t.To {
		return apperr.New(apperr.CodeInvalidTransition, "cannot move from "+string(t.From)+" to "+string(t.To))
	}
	if t.To == StateTxBuilt && t.Tx == nil {
		return apperr.New(apperr.CodeInvalidTransition, "TX_BUILT requires a transaction")
	}
	return nil
}

// ConnectWallet binds the wallet once and moves CREATED to WALLET_CONNECTED.
func (s *Session) ConnectWallet(wallet string, now time.Time) error {
	if s.WalletAddress != "" {
		return apperr.New(apperr.CodeInvalidTransition, "wallet already connected")
	}
	if s.State != StateCreated {
		return apperr.New(apperr.CodeInvalidTransition, "cannot connect a wallet in state "+string(s.State))
	}
	s.WalletAddress = wallet
	s.State = StateWalletConnected
	s.UpdatedAt = now
	return nil
}

// RequestSwap records the swap parameters once and moves WALLET_CONNECTED to
// SWAP_REQUESTED.
func (s *Session) RequestSwap(req model.SwapRequest, now time.Time) error {
	if s.SwapRequest != nil {
		return apperr.New(apperr.CodeInvalidTransition, "swap already requested")
	}
	if s.State != StateWalletConnected || s.WalletAddress == "" {
		return apperr.New(apperr.CodeInvalidTransition, "cannot request a swap in state "+string(s.State))
	}
	r := req
	s.SwapRequest = &r
	s.State = StateSwapRequested
	s.UpdatedAt = now
	return nil
}

// Advance applies t if the session is still in t.From.
func (s *Session) Advance(t Transition, now time.Time) error {
	if err := CheckTransition(t); err != nil {
		return err
	}
	if s.State != t.From {
		return apperr.New(apperr.CodeConflict, "session is "+string(s.State)+", expected "+string(t.From))
	}
	if t.BuildID != "" && (s.Tx == nil || s.Tx.BuildID != t.BuildID) {
		return apperr.New(apperr.CodeConflict, "transaction was rebuilt concurrently")
	}
	s.State = t.To
	if t.Tx != nil {
		tx := *t.Tx
		s.Tx = &tx
	}
	if t.Outcome != nil {
		o := *t.Outcome
		s.Outcome = &o
	}
	s.UpdatedAt = now
	return nil
}

// ReplaceTx swaps a stale artifact for a fresh one while still TX_BUILT.
func (s *Session) ReplaceTx(prevBuildID string, tx model.Transaction, now time.Time) error {
	if s.State != StateTxBuilt || s.Tx == nil {
		return apperr.New(apperr.CodeConflict, "session is "+string(s.State)+", expected "+string(StateTxBuilt))
	}
	if s.Tx.BuildID != prevBuildID {
		return apperr.New(apperr.CodeConflict, "transaction was rebuilt concurrently")
	}
	s.Tx = &tx
	s.UpdatedAt = now
	return nil
}

// Purgeable reports whether a terminal session can be dropped.
func (s Session) Purgeable(now time.Time, grace time.Duration) bool {
	return s.State.Terminal() && s.Delivered && now.Sub(s.UpdatedAt) > grace
}
