// Package httpapi exposes an Engine over JSON HTTP.
//
// Routes:
//
//	GET    /healthz
//	GET    /v1/flows
//	POST   /v1/flows/{version}/sessions
//	GET    /v1/sessions/{id}
//	POST   /v1/sessions/{id}/events
//	POST   /v1/sessions/{id}/signals
//	GET    /v1/sessions/{id}/tickets
//	GET    /v1/slots
//	POST   /v1/sessions/{id}/reservations
//	POST   /v1/sessions/{id}/reservations/{rid}/confirm
//	DELETE /v1/sessions/{id}/reservations/{rid}
//	GET    /v1/call/{token}
//	GET    /v1/flows/{version}/chat (WebSocket)
//	GET    /v1/sessions/{id}/chat (WebSocket)
//	POST   /twilio/sms (when an SMS handler is mounted)
package httpapi

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/randalmurphal/intakeflow/pkg/intakeflow"
	"github.com/randalmurphal/intakeflow/pkg/intakeflow/handoff"
	"github.com/randalmurphal/intakeflow/pkg/intakeflow/runtime"
	"github.com/randalmurphal/intakeflow/pkg/intakeflow/scheduling"
	"github.com/randalmurphal/intakeflow/pkg/intakeflow/session"
	"github.com/randalmurphal/intakeflow/pkg/intakeflow/store"
)

// Server serves the engine API.
type Server struct {
	Router *mux.Router

	engine   *runtime.Engine
	logger   *slog.Logger
	upgrader websocket.Upgrader

	windowDays int
	maxSlots   int
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the request logger. Default: slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithSlotDefaults sets the window and count used by GET /v1/slots when
// the query omits them.
func WithSlotDefaults(windowDays, maxSlots int) Option {
	return func(s *Server) {
		s.windowDays = windowDays
		s.maxSlots = maxSlots
	}
}

// WithSMS mounts an inbound-message webhook at /twilio/sms.
func WithSMS(h http.Handler) Option {
	return func(s *Server) {
		s.Router.Handle("/twilio/sms", h).Methods(http.MethodPost)
	}
}

// NewServer creates a server over engine.
func NewServer(engine *runtime.Engine, opts ...Option) *Server {
	s := &Server{
		Router:     mux.NewRouter(),
		engine:     engine,
		logger:     slog.Default(),
		windowDays: 7,
		maxSlots:   3,
	}
	s.registerRoutes()
	for _, opt := range opts {
		opt(s)
	}
	s.Router.Use(s.logRequests)
	return s
}

func (s *Server) registerRoutes() {
	s.Router.HandleFunc("/healthz", s.health).Methods(http.MethodGet)

	api := s.Router.PathPrefix("/v1").Subrouter()
	api.HandleFunc("/flows", s.listFlows).Methods(http.MethodGet)
	api.HandleFunc("/flows/{version}/sessions", s.startSession).Methods(http.MethodPost)
	api.HandleFunc("/sessions/{id}", s.getSession).Methods(http.MethodGet)
	api.HandleFunc("/sessions/{id}/events", s.postEvent).Methods(http.MethodPost)
	api.HandleFunc("/sessions/{id}/signals", s.postSignal).Methods(http.MethodPost)
	api.HandleFunc("/sessions/{id}/tickets", s.listTickets).Methods(http.MethodGet)
	api.HandleFunc("/slots", s.listSlots).Methods(http.MethodGet)
	api.HandleFunc("/sessions/{id}/reservations", s.reserve).Methods(http.MethodPost)
	api.HandleFunc("/sessions/{id}/reservations/{rid}/confirm", s.confirm).Methods(http.MethodPost)
	api.HandleFunc("/sessions/{id}/reservations/{rid}", s.release).Methods(http.MethodDelete)
	api.HandleFunc("/call/{token}", s.resolveCall).Methods(http.MethodGet)
	api.HandleFunc("/flows/{version}/chat", s.startChat).Methods(http.MethodGet)
	api.HandleFunc("/sessions/{id}/chat", s.resumeChat).Methods(http.MethodGet)
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.Router.ServeHTTP(w, r)
}

// ListenAndServe serves on addr until ctx is done, then shuts down within
// shutdownTimeout.
func (s *Server) ListenAndServe(ctx context.Context, addr string, shutdownTimeout time.Duration) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", slog.String("addr", addr))
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Debug("http request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", rec.status),
			slog.Duration("duration", time.Since(start)),
		)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Hijack lets chat sockets upgrade through the logging middleware.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

// StepResponse is the body returned for session events.
type StepResponse struct {
	SessionID   string             `json:"sessionId"`
	FlowVersion string             `json:"flowVersion"`
	NodeID      string             `json:"nodeId"`
	Status      session.Status     `json:"status"`
	Kind        string             `json:"kind"`
	Outcome     intakeflow.Outcome `json:"outcome"`
	Messages    []string           `json:"messages,omitempty"`
	Ticket      *handoff.Ticket    `json:"ticket,omitempty"`
	CallURL     string             `json:"callUrl,omitempty"`
	Slots       []scheduling.Slot  `json:"slots,omitempty"`
}

func stepResponse(res *runtime.Result) StepResponse {
	return StepResponse{
		SessionID:   res.SessionID,
		FlowVersion: res.FlowVersion,
		NodeID:      res.NodeID,
		Status:      res.Status,
		Kind:        res.Outcome.Kind(),
		Outcome:     res.Outcome,
		Messages:    res.Messages,
		Ticket:      res.Ticket,
		CallURL:     res.CallURL,
		Slots:       res.Slots,
	}
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", slog.String("error", err.Error()))
	}
	writeJSON(w, status, ErrorResponse{Error: err.Error()})
}

var errBadBody = errors.New("invalid request body")

// statusFor maps engine errors to HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, errBadBody),
		errors.Is(err, scheduling.ErrInvalidSlot),
		errors.Is(err, scheduling.ErrSlotInPast):
		return http.StatusBadRequest
	case errors.Is(err, runtime.ErrUnknownFlow),
		errors.Is(err, store.ErrNotFound),
		errors.Is(err, scheduling.ErrReservationNotFound),
		errors.Is(err, scheduling.ErrReservationMismatch),
		errors.Is(err, handoff.ErrTokenNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrExists),
		errors.Is(err, store.ErrConflict),
		errors.Is(err, intakeflow.ErrSessionClosed),
		errors.Is(err, intakeflow.ErrFlowMismatch),
		errors.Is(err, scheduling.ErrSlotUnavailable),
		errors.Is(err, scheduling.ErrReservationConfirmed):
		return http.StatusConflict
	case errors.Is(err, handoff.ErrTokenExpired),
		errors.Is(err, scheduling.ErrReservationExpired):
		return http.StatusGone
	case errors.Is(err, runtime.ErrNoScheduler):
		return http.StatusNotImplemented
	default:
		return http.StatusInternalServerError
	}
}

func decode(r *http.Request, v any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return errors.Join(errBadBody, err)
	}
	return nil
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) listFlows(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]string{"flows": s.engine.Flows()})
}

// StartRequest is the body of POST /v1/flows/{version}/sessions.
type StartRequest struct {
	SessionID string `json:"sessionId,omitempty"`
	Contact   string `json:"contact,omitempty"`
}

func (s *Server) startSession(w http.ResponseWriter, r *http.Request) {
	var req StartRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	res, err := s.engine.Start(r.Context(), mux.Vars(r)["version"], req.SessionID, req.Contact)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, stepResponse(res))
}

func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	st, err := s.engine.Session(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// EventRequest is the body of POST /v1/sessions/{id}/events. An empty body
// re-renders the current prompt.
type EventRequest struct {
	FlowVersion string             `json:"flowVersion,omitempty"`
	Answer      *intakeflow.Answer `json:"answer,omitempty"`
}

func (s *Server) postEvent(w http.ResponseWriter, r *http.Request) {
	var req EventRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	res, err := s.engine.Advance(r.Context(), req.FlowVersion, mux.Vars(r)["id"], req.Answer)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stepResponse(res))
}

// SignalRequest is the body of POST /v1/sessions/{id}/signals.
type SignalRequest struct {
	Facts map[string]any `json:"facts"`
}

func (s *Server) postSignal(w http.ResponseWriter, r *http.Request) {
	var req SignalRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	if len(req.Facts) == 0 {
		s.writeError(w, errors.Join(errBadBody, errors.New("facts are required")))
		return
	}
	res, err := s.engine.Signal(r.Context(), mux.Vars(r)["id"], req.Facts)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stepResponse(res))
}

func (s *Server) listTickets(w http.ResponseWriter, r *http.Request) {
	tickets, err := s.engine.Tickets(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]handoff.Ticket{"tickets": tickets})
}

func (s *Server) listSlots(w http.ResponseWriter, r *http.Request) {
	windowDays, err := intParam(r, "windowDays", s.windowDays)
	if err != nil {
		s.writeError(w, err)
		return
	}
	maxSlots, err := intParam(r, "maxSlots", s.maxSlots)
	if err != nil {
		s.writeError(w, err)
		return
	}
	slots, err := s.engine.Slots(windowDays, maxSlots)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]scheduling.Slot{"slots": slots})
}

func intParam(r *http.Request, name string, fallback int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.Join(errBadBody, err)
	}
	return n, nil
}

// ReserveRequest is the body of POST /v1/sessions/{id}/reservations.
type ReserveRequest struct {
	SlotID string `json:"slotId"`
}

func (s *Server) reserve(w http.ResponseWriter, r *http.Request) {
	var req ReserveRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	res, err := s.engine.Reserve(r.Context(), mux.Vars(r)["id"], req.SlotID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (s *Server) confirm(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	res, err := s.engine.Confirm(r.Context(), vars["id"], vars["rid"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) release(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if err := s.engine.Release(r.Context(), vars["id"], vars["rid"]); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// CallResponse is the body of GET /v1/call/{token}.
type CallResponse struct {
	SessionID string         `json:"sessionId"`
	ExpiresAt time.Time      `json:"expiresAt"`
	Contact   string         `json:"contact,omitempty"`
	Status    session.Status `json:"status"`
	Collected map[string]any `json:"collected"`
}

func (s *Server) resolveCall(w http.ResponseWriter, r *http.Request) {
	tok, st, err := s.engine.ResolveCallToken(r.Context(), mux.Vars(r)["token"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, CallResponse{
		SessionID: tok.SessionID,
		ExpiresAt: tok.ExpiresAt,
		Contact:   st.Contact,
		Status:    st.Status,
		Collected: st.Collected,
	})
}
