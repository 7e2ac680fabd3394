package web

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"html/template"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	apperr "github.com/ggonzalez94/chatswap/internal/errors"
	"github.com/ggonzalez94/chatswap/internal/logging"
	"github.com/ggonzalez94/chatswap/internal/model"
	"github.com/ggonzalez94/chatswap/internal/session"
)

//go:embed templates/*.html
var templateFS embed.FS

var pages = template.Must(template.ParseFS(templateFS, "templates/*.html"))

// Service is the part of the orchestrator the browser talks to.
type Service interface {
	Session(ctx context.Context, sessionID string) (session.Session, error)
	ConnectWallet(ctx context.Context, sessionID, address string) error
	PrepareSigning(ctx context.Context, sessionID string) (session.Session, error)
	SubmitSigned(ctx context.Context, sessionID, buildID, signedB64 string) (session.Session, error)
}

type Server struct {
	svc Service
	log *logging.Logger
}

func New(svc Service, log *logging.Logger) *Server {
	return &Server{svc: svc, log: log.Sub("web")}
}

// Routes returns the HTTP handler for the wallet pages and their callbacks.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(s.log))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/connect/{sessionID}", s.handleConnectPage)
	r.Get("/phantom-callback", s.handlePhantomCallback)
	r.Get("/sign/{sessionID}", s.handleSignPage)
	r.Post("/swap-callback", s.handleSwapCallback)

	r.Route("/api/sessions/{sessionID}", func(api chi.Router) {
		api.Get("/", s.handleGetSession)
		api.Post("/wallet", s.handleWallet)
		api.Post("/signed", s.handleSigned)
	})
	return r
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", addr).Msg("web server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

type pageData struct {
	Title     string
	Message   string
	SessionID string
	Wallet    string
	Tx        *model.Transaction
}

func (s *Server) handleConnectPage(w http.ResponseWriter, r *http.Request) {
	sid := chi.URLParam(r, "sessionID")
	sess, err := s.svc.Session(r.Context(), sid)
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	if sess.WalletAddress != "" {
		s.renderError(w, r, apperr.New(apperr.CodeInvalidTransition, "wallet already connected"))
		return
	}
	s.render(w, r, http.StatusOK, "connect", pageData{Title: "Connect wallet", SessionID: sid})
}

func (s *Server) handleSignPage(w http.ResponseWriter, r *http.Request) {
	sid := chi.URLParam(r, "sessionID")
	sess, err := s.svc.PrepareSigning(r.Context(), sid)
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	s.render(w, r, http.StatusOK, "sign", pageData{
		Title:     "Sign swap",
		SessionID: sid,
		Wallet:    sess.WalletAddress,
		Tx:        sess.Tx,
	})
}

func (s *Server) handleWallet(w http.ResponseWriter, r *http.Request) {
	sid := chi.URLParam(r, "sessionID")
	var payload struct {
		PublicKey string `json:"publicKey"`
	}
	if err := decodeJSON(w, r, &payload); err != nil {
		respondError(w, err)
		return
	}
	if err := s.svc.ConnectWallet(r.Context(), sid, payload.PublicKey); err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"state": string(session.StateWalletConnected)})
}

// handlePhantomCallback keeps the query-string flow older connect pages use.
func (s *Server) handlePhantomCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if err := s.svc.ConnectWallet(r.Context(), q.Get("sessionId"), q.Get("publicKey")); err != nil {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(statusFor(err))
		_, _ = w.Write([]byte(apperr.UserMessage(err)))
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("Public key saved. You can return to chat now."))
}

type signedPayload struct {
	SessionID string `json:"sessionId"`
	BuildID   string `json:"buildId"`
	SignedTx  string `json:"signedTx"`
}

func (s *Server) handleSigned(w http.ResponseWriter, r *http.Request) {
	var payload signedPayload
	if err := decodeJSON(w, r, &payload); err != nil {
		respondError(w, err)
		return
	}
	sid := chi.URLParam(r, "sessionID")
	if payload.SessionID != "" && payload.SessionID != sid {
		respondError(w, apperr.New(apperr.CodeInvalidInput, "signed payload belongs to a different session"))
		return
	}
	s.submit(w, r, sid, payload)
}

func (s *Server) handleSwapCallback(w http.ResponseWriter, r *http.Request) {
	var payload signedPayload
	if err := decodeJSON(w, r, &payload); err != nil {
		respondError(w, err)
		return
	}
	s.submit(w, r, payload.SessionID, payload)
}

func (s *Server) submit(w http.ResponseWriter, r *http.Request, sid string, payload signedPayload) {
	if strings.TrimSpace(payload.SignedTx) == "" {
		respondError(w, apperr.New(apperr.CodeInvalidInput, "signedTx is required"))
		return
	}
	sess, err := s.svc.SubmitSigned(r.Context(), sid, payload.BuildID, payload.SignedTx)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]string{"state": string(sess.State)})
}

type sessionView struct {
	ID        string             `json:"id"`
	State     session.State      `json:"state"`
	Wallet    string             `json:"wallet,omitempty"`
	Swap      *model.SwapRequest `json:"swap,omitempty"`
	BuildID   string             `json:"build_id,omitempty"`
	InAmount  *model.AmountInfo  `json:"in_amount,omitempty"`
	OutAmount *model.AmountInfo  `json:"out_amount,omitempty"`
	Outcome   *session.Outcome   `json:"outcome,omitempty"`
	CreatedAt time.Time          `json:"created_at"`
	UpdatedAt time.Time          `json:"updated_at"`
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.svc.Session(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		respondError(w, err)
		return
	}
	view := sessionView{
		ID:        sess.ID,
		State:     sess.State,
		Wallet:    sess.WalletAddress,
		Swap:      sess.SwapRequest,
		Outcome:   sess.Outcome,
		CreatedAt: sess.CreatedAt,
		UpdatedAt: sess.UpdatedAt,
	}
	if sess.Tx != nil {
		view.BuildID = sess.Tx.BuildID
		view.InAmount = &sess.Tx.InAmount
		view.OutAmount = &sess.Tx.OutAmount
	}
	respondJSON(w, http.StatusOK, view)
}

func (s *Server) render(w http.ResponseWriter, r *http.Request, status int, name string, data pageData) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := pages.ExecuteTemplate(w, name, data); err != nil {
		s.log.Error().Err(err).Str("template", name).Str("request_id", middleware.GetReqID(r.Context())).Msg("render page")
	}
}

func (s *Server) renderError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	title := "Something went wrong"
	switch {
	case status == http.StatusUnprocessableEntity:
		title = "Swap failed"
	case status < http.StatusInternalServerError:
		title = http.StatusText(status)
	}
	s.render(w, r, status, "error", pageData{Title: title, Message: apperr.UserMessage(err)})
}

// statusFor maps error codes onto HTTP statuses.
func statusFor(err error) int {
	switch apperr.CodeOf(err) {
	case apperr.CodeInvalidInput, apperr.CodeUsage:
		return http.StatusBadRequest
	case apperr.CodeNotFound:
		return http.StatusNotFound
	case apperr.CodeExpired:
		return http.StatusGone
	case apperr.CodeInvalidTransition, apperr.CodeConflict:
		return http.StatusConflict
	case apperr.CodeUnknownSymbol, apperr.CodeNoRouteFound, apperr.CodeInsufficientBalance, apperr.CodeBroadcastFailed:
		return http.StatusUnprocessableEntity
	case apperr.CodeUnavailable, apperr.CodeRateLimited, apperr.CodeTimeout:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, out any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	if err := dec.Decode(out); err != nil {
		return apperr.Wrap(apperr.CodeInvalidInput, "invalid request body", err)
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, err error) {
	respondJSON(w, statusFor(err), map[string]string{
		"error": apperr.UserMessage(err),
		"code":  apperr.TypeName(apperr.CodeOf(err)),
	})
}
