package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"sync"
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

// Notifier delivers a text message to a chat owner.
type Notifier interface {
	SendMessage(ctx context.Context, ownerID, text string) error
}

type Builder interface {
	Build(ctx context.Context, req swap.BuildRequest) (model.Transaction, error)
}

// TokenNamer names mints for balance listings.
type TokenNamer interface {
	ByMint(mint string) (id.Token, bool)
}

type Recorder interface {
	Save(ctx context.Context, e ledger.Entry) error
}

type Config struct {
	PublicURL string
	// RebuildAfter is how old a stored artifact may get before a sign page
	// reload builds a fresh one.
	RebuildAfter  time.Duration
	SettleTimeout time.Duration
}

type Deps struct {
	Store    session.Store
	Builder  Builder
	Balances providers.BalanceProvider
	Tokens   TokenNamer
	Chain    providers.Broadcaster
	Notifier Notifier
	// Ledger is optional.
	Ledger Recorder
	Log    *logging.Logger
}

// Service drives sessions through the swap state machine. It is the only
// component that calls Store.Advance.
type Service struct {
	store    session.Store
	builder  Builder
	balances providers.BalanceProvider
	tokens   TokenNamer
	chain    providers.Broadcaster
	notifier Notifier
	ledger   Recorder
	log      *logging.Logger
	cfg      Config
	now      func() time.Time

	settling sync.WaitGroup
}

func New(cfg Config, deps Deps) *Service {
	if cfg.RebuildAfter <= 0 {
		cfg.RebuildAfter = 60 * time.Second
	}
	if cfg.SettleTimeout <= 0 {
		cfg.SettleTimeout = 90 * time.Second
	}
	cfg.PublicURL = strings.TrimRight(cfg.PublicURL, "/")
	return &Service{
		store:    deps.Store,
		builder:  deps.Builder,
		balances: deps.Balances,
		tokens:   deps.Tokens,
		chain:    deps.Chain,
		notifier: deps.Notifier,
		ledger:   deps.Ledger,
		log:      deps.Log.Sub("orchestrator"),
		cfg:      cfg,
		now:      time.Now,
	}
}

func (s *Service) ConnectURL(sessionID string) string {
	return s.cfg.PublicURL + "/connect/" + sessionID
}

func (s *Service) SignURL(sessionID string) string {
	return s.cfg.PublicURL + "/sign/" + sessionID
}

// StartConnect opens a fresh session for owner. Every call creates a new
// session; earlier ones are left to expire.
func (s *Service) StartConnect(ctx context.Context, ownerID string) (string, error) {
	sid, err := s.store.Create(ctx, ownerID)
	if err != nil {
		return "", err
	}
	s.log.WithSession(sid).Info().Str("owner", ownerID).Msg("connect session created")
	return sid, nil
}

// ConnectWallet binds address to the session. A malformed address leaves the
// session untouched.
func (s *Service) ConnectWallet(ctx context.Context, sessionID, address string) error {
	address = strings.TrimSpace(address)
	if err := id.ValidateAddress(address); err != nil {
		return err
	}
	if err := s.store.SetWallet(ctx, sessionID, address); err != nil {
		return err
	}
	sess, err := s.store.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	log := s.log.WithSession(sessionID)
	log.Info().Str("wallet", address).Msg("wallet connected")
	s.notify(ctx, log, sess.OwnerID, fmt.Sprintf("🟢 Wallet connected: %s", shortAddress(address)))
	return nil
}

// RequestSwap records a confirmed swap selection on a new session bound to
// the owner's connected wallet and returns its id.
func (s *Service) RequestSwap(ctx context.Context, ownerID string, req model.SwapRequest) (string, error) {
	if err := swap.Validate(req); err != nil {
		return "", err
	}
	req.FromSymbol = strings.ToUpper(strings.TrimSpace(req.FromSymbol))
	req.ToSymbol = strings.ToUpper(strings.TrimSpace(req.ToSymbol))
	req.Amount = strings.TrimSpace(req.Amount)

	wallet, ok, err := s.store.FindActiveByOwner(ctx, ownerID)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", apperr.New(apperr.CodeInvalidInput, "No wallet connected. Please connect first.")
	}
	sid, err := s.store.Create(ctx, ownerID)
	if err != nil {
		return "", err
	}
	if err := s.store.SetWallet(ctx, sid, wallet); err != nil {
		return "", err
	}
	if err := s.store.SetSwapRequest(ctx, sid, req); err != nil {
		return "", err
	}
	s.log.WithSession(sid).Info().
		Str("owner", ownerID).
		Str("from", req.FromSymbol).
		Str("to", req.ToSymbol).
		Str("amount", req.Amount).
		Msg("swap requested")
	return sid, nil
}

// PrepareSigning returns the session with a current unsigned transaction,
// building it on first use and rebuilding it once it is older than the
// rebuild window. Build failures move the session to FAILED.
func (s *Service) PrepareSigning(ctx context.Context, sessionID string) (session.Session, error) {
	sess, err := s.store.Get(ctx, sessionID)
	if err != nil {
		return session.Session{}, err
	}
	switch sess.State {
	case session.StateSwapRequested:
		return s.buildFirst(ctx, sess)
	case session.StateTxBuilt:
		if sess.Tx != nil && s.now().Sub(sess.Tx.BuiltAt) <= s.cfg.RebuildAfter {
			return sess, nil
		}
		return s.rebuild(ctx, sess)
	case session.StateCreated, session.StateWalletConnected:
		return sess, apperr.New(apperr.CodeInvalidTransition, "no swap has been requested for this session")
	case session.StateSubmitted:
		return sess, apperr.New(apperr.CodeInvalidTransition, "this swap was already submitted")
	default:
		return sess, apperr.New(apperr.CodeInvalidTransition, "this swap has already finished")
	}
}

func (s *Service) buildFirst(ctx context.Context, sess session.Session) (session.Session, error) {
	tx, err := s.build(ctx, sess)
	if err != nil {
		return s.fail(ctx, sess, session.StateSwapRequested, err)
	}
	err = s.store.Advance(ctx, sess.ID, session.Transition{From: session.StateSwapRequested, To: session.StateTxBuilt, Tx: &tx})
	if apperr.Is(err, apperr.CodeConflict) {
		// A concurrent render won; use whatever it stored.
		return s.store.Get(ctx, sess.ID)
	}
	if err != nil {
		return sess, err
	}
	s.log.WithSession(sess.ID).Info().Str("build_id", tx.BuildID).Str("route", tx.Route).Msg("transaction built")
	return s.store.Get(ctx, sess.ID)
}

func (s *Service) rebuild(ctx context.Context, sess session.Session) (session.Session, error) {
	prev := ""
	if sess.Tx != nil {
		prev = sess.Tx.BuildID
	}
	tx, err := s.build(ctx, sess)
	if err != nil {
		return s.fail(ctx, sess, session.StateTxBuilt, err)
	}
	err = s.store.ReplaceTransaction(ctx, sess.ID, prev, tx)
	if err != nil && !apperr.Is(err, apperr.CodeConflict) {
		return sess, err
	}
	if err == nil {
		s.log.WithSession(sess.ID).Info().Str("build_id", tx.BuildID).Str("previous", prev).Msg("transaction rebuilt")
	}
	return s.store.Get(ctx, sess.ID)
}

func (s *Service) build(ctx context.Context, sess session.Session) (model.Transaction, error) {
	if sess.SwapRequest == nil {
		return model.Transaction{}, apperr.New(apperr.CodeInvalidTransition, "no swap has been requested for this session")
	}
	return s.builder.Build(ctx, swap.BuildRequest{
		FromSymbol: sess.SwapRequest.FromSymbol,
		ToSymbol:   sess.SwapRequest.ToSymbol,
		Amount:     sess.SwapRequest.Amount,
		Wallet:     sess.WalletAddress,
	})
}

// SubmitSigned accepts the wallet-signed transaction for the session's current
// build and hands it to the chain in the background. Only one submission per
// session wins; the rest get Conflict or InvalidTransition.
func (s *Service) SubmitSigned(ctx context.Context, sessionID, buildID, signedB64 string) (session.Session, error) {
	sess, err := s.store.Get(ctx, sessionID)
	if err != nil {
		return session.Session{}, err
	}
	if sess.State != session.StateTxBuilt || sess.Tx == nil {
		if sess.State.AtLeast(session.StateSubmitted) {
			return sess, apperr.New(apperr.CodeInvalidTransition, "this swap was already submitted")
		}
		return sess, apperr.New(apperr.CodeInvalidTransition, "there is no transaction to sign yet")
	}
	if strings.TrimSpace(buildID) != sess.Tx.BuildID {
		return sess, apperr.New(apperr.CodeInvalidInput, "This transaction is out of date. Reload the sign page and try again.")
	}
	signedB64 = strings.TrimSpace(signedB64)
	if err := swap.SameMessage(sess.Tx.Blob, signedB64); err != nil {
		return sess, err
	}

	err = s.store.Advance(ctx, sessionID, session.Transition{
		From:    session.StateTxBuilt,
		To:      session.StateSubmitted,
		BuildID: sess.Tx.BuildID,
	})
	if apperr.Is(err, apperr.CodeConflict) {
		if current, getErr := s.store.Get(ctx, sessionID); getErr == nil && current.State == session.StateTxBuilt {
			return current, apperr.New(apperr.CodeInvalidInput, "This transaction is out of date. Reload the sign page and try again.")
		}
		return sess, err
	}
	if err != nil {
		return sess, err
	}
	s.log.WithSession(sessionID).Info().Str("build_id", buildID).Msg("signed transaction accepted")

	sess.State = session.StateSubmitted
	s.settling.Add(1)
	go func(snap session.Session) {
		defer s.settling.Done()
		s.settle(context.WithoutCancel(ctx), snap, signedB64)
	}(sess.Clone())

	return sess, nil
}

// settle runs detached from the request. The settle timeout bounds only the
// chain calls so the outcome is still recorded after a confirmation timeout.
func (s *Service) settle(ctx context.Context, sess session.Session, signedB64 string) {
	chainCtx, cancel := context.WithTimeout(ctx, s.cfg.SettleTimeout)
	defer cancel()
	log := s.log.WithSession(sess.ID)

	sig, err := s.chain.Broadcast(chainCtx, signedB64)
	if err == nil {
		log.Info().Str("signature", sig).Msg("transaction broadcast")
		err = s.chain.Confirm(chainCtx, sig)
	}

	outcome := session.Outcome{Signature: sig, At: s.now().UTC()}
	to := session.StateSettled
	text := fmt.Sprintf("✅ Swap Successful! Transaction: %s", sig)
	if err != nil {
		to = session.StateFailed
		outcome.Reason = apperr.UserMessage(err)
		outcome.Code = apperr.TypeName(apperr.CodeOf(err))
		text = "❌ Swap Failed: " + outcome.Reason
		log.Error().Err(err).Str("signature", sig).Msg("settlement failed")
	}
	if err := s.store.Advance(ctx, sess.ID, session.Transition{From: session.StateSubmitted, To: to, Outcome: &outcome}); err != nil {
		log.Error().Err(err).Str("to", string(to)).Msg("record settlement")
	}
	s.finish(ctx, log, sess, to, outcome, text)
}

// fail records err as the session's outcome and tells the owner. It returns
// the current session and the original error.
func (s *Service) fail(ctx context.Context, sess session.Session, from session.State, cause error) (session.Session, error) {
	log := s.log.WithSession(sess.ID)
	outcome := session.Outcome{
		Reason: apperr.UserMessage(cause),
		Code:   apperr.TypeName(apperr.CodeOf(cause)),
		At:     s.now().UTC(),
	}
	err := s.store.Advance(ctx, sess.ID, session.Transition{From: from, To: session.StateFailed, Outcome: &outcome})
	if apperr.Is(err, apperr.CodeConflict) {
		current, getErr := s.store.Get(ctx, sess.ID)
		if getErr == nil && current.State == session.StateTxBuilt {
			// Another request built it meanwhile.
			return current, nil
		}
		return current, cause
	}
	if err != nil {
		log.Error().Err(err).Msg("record build failure")
		return sess, cause
	}
	if apperr.IsBuildFailure(cause) {
		log.Info().Str("reason", outcome.Reason).Msg("swap rejected before submission")
	} else {
		log.Warn().Err(cause).Msg("swap failed before submission")
	}
	s.finish(ctx, log, sess, session.StateFailed, outcome, "❌ Swap Failed: "+outcome.Reason)

	current, getErr := s.store.Get(ctx, sess.ID)
	if getErr != nil {
		return sess, cause
	}
	return current, cause
}

// finish notifies the owner, marks the outcome delivered, and appends it to
// the ledger. Only the goroutine that won the terminal transition calls it.
func (s *Service) finish(ctx context.Context, log *logging.Logger, sess session.Session, state session.State, outcome session.Outcome, text string) {
	if s.notify(ctx, log, sess.OwnerID, text) {
		if err := s.store.MarkDelivered(ctx, sess.ID); err != nil {
			log.Warn().Err(err).Msg("mark delivered")
		}
	}
	if s.ledger == nil {
		return
	}
	entry := ledger.Entry{
		SessionID:  sess.ID,
		OwnerID:    sess.OwnerID,
		Wallet:     sess.WalletAddress,
		Status:     ledger.StatusSettled,
		Signature:  outcome.Signature,
		CreatedAt:  sess.CreatedAt,
		FinishedAt: outcome.At,
	}
	if state == session.StateFailed {
		entry.Status = ledger.StatusFailed
		entry.Error = outcome.Reason
		entry.ErrorCode = outcome.Code
	}
	if sess.SwapRequest != nil {
		entry.FromSymbol = sess.SwapRequest.FromSymbol
		entry.ToSymbol = sess.SwapRequest.ToSymbol
		entry.Amount = sess.SwapRequest.Amount
	}
	if sess.Tx != nil {
		entry.InAmount = sess.Tx.InAmount.AmountDecimal
		entry.OutAmount = sess.Tx.OutAmount.AmountDecimal
		entry.Provider = sess.Tx.Provider
		entry.Route = sess.Tx.Route
	}
	if err := s.ledger.Save(ctx, entry); err != nil {
		log.Warn().Err(err).Msg("ledger write failed")
	}
}

func (s *Service) notify(ctx context.Context, log *logging.Logger, ownerID, text string) bool {
	if s.notifier == nil {
		return false
	}
	if err := s.notifier.SendMessage(ctx, ownerID, text); err != nil {
		log.Error().Err(err).Str("owner", ownerID).Msg("chat notification failed")
		return false
	}
	return true
}

// Balances is a wallet's native and SPL holdings.
type Balances struct {
	Wallet   string          `json:"wallet"`
	Holdings []model.Holding `json:"holdings"`
}

// Balance lists the holdings of the owner's connected wallet.
func (s *Service) Balance(ctx context.Context, ownerID string) (Balances, error) {
	wallet, ok, err := s.store.FindActiveByOwner(ctx, ownerID)
	if err != nil {
		return Balances{}, err
	}
	if !ok {
		return Balances{}, apperr.New(apperr.CodeInvalidInput, "No wallet connected. Please connect first.")
	}
	lamports, err := s.balances.NativeBalance(ctx, wallet)
	if err != nil {
		return Balances{}, err
	}
	holdings, err := s.balances.TokenHoldings(ctx, wallet)
	if err != nil {
		return Balances{}, err
	}

	out := Balances{Wallet: wallet, Holdings: make([]model.Holding, 0, len(holdings)+1)}
	out.Holdings = append(out.Holdings, model.Holding{
		Symbol: id.NativeSymbol,
		Mint:   id.NativeMint,
		Amount: model.AmountInfo{
			AmountBaseUnits: lamports.String(),
			AmountDecimal:   id.FormatDecimal(lamports, id.NativeDecimals),
			Decimals:        id.NativeDecimals,
		},
	})
	for _, h := range holdings {
		if h.Mint == id.NativeMint {
			h.Symbol = "wSOL"
		}
		if h.Symbol == "" && s.tokens != nil {
			if tok, ok := s.tokens.ByMint(h.Mint); ok {
				h.Symbol = tok.Symbol
			}
		}
		out.Holdings = append(out.Holdings, h)
	}
	return out, nil
}

func (s *Service) Session(ctx context.Context, sessionID string) (session.Session, error) {
	return s.store.Get(ctx, sessionID)
}

// Wait blocks until every background settlement has finished.
func (s *Service) Wait() {
	s.settling.Wait()
}

func shortAddress(addr string) string {
	if len(addr) <= 10 {
		return addr
	}
	return addr[:4] + "…" + addr[len(addr)-4:]
}
