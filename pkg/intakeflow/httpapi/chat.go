package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"slices"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/randalmurphal/intakeflow/pkg/intakeflow"
	"github.com/randalmurphal/intakeflow/pkg/intakeflow/runtime"
	"github.com/randalmurphal/intakeflow/pkg/intakeflow/session"
)

const (
	chatReadLimit    = 8 << 10
	chatWriteTimeout = 10 * time.Second
)

// ChatMessage is one client frame on a chat socket. Text answers the
// current prompt; Facts signals the session instead.
type ChatMessage struct {
	Text  string         `json:"text,omitempty"`
	Facts map[string]any `json:"facts,omitempty"`
}

// WithAllowedOrigins lets browsers on other origins open chat sockets.
// Default: same origin only; clients that send no Origin are accepted.
func WithAllowedOrigins(origins ...string) Option {
	return func(s *Server) {
		s.upgrader.CheckOrigin = func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || slices.Contains(origins, origin)
		}
	}
}

// startChat opens a socket on a new session.
func (s *Server) startChat(w http.ResponseWriter, r *http.Request) {
	version := mux.Vars(r)["version"]
	if _, ok := s.engine.Graph(version); !ok {
		s.writeError(w, runtime.ErrUnknownFlow)
		return
	}
	q := r.URL.Query()
	s.chat(w, r, func(ctx context.Context) (*runtime.Result, error) {
		return s.engine.Start(ctx, version, q.Get("sessionId"), q.Get("contact"))
	})
}

// resumeChat opens a socket on an existing session and re-sends its
// current prompt.
func (s *Server) resumeChat(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	st, err := s.engine.Session(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if !st.Active() {
		s.writeError(w, intakeflow.ErrSessionClosed)
		return
	}
	s.chat(w, r, func(ctx context.Context) (*runtime.Result, error) {
		return s.engine.Advance(ctx, "", id, nil)
	})
}

// chat runs one socket: a step response per client frame until the
// session ends or the client goes away.
func (s *Server) chat(w http.ResponseWriter, r *http.Request, open func(context.Context) (*runtime.Result, error)) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the error response.
		s.logger.Debug("chat upgrade failed", slog.String("error", err.Error()))
		return
	}
	defer conn.Close()
	conn.SetReadLimit(chatReadLimit)

	ctx := r.Context()
	res, err := open(ctx)
	if err != nil {
		s.closeChat(conn, websocket.CloseInternalServerErr, err.Error())
		return
	}
	sessionID := res.SessionID
	for {
		if res != nil {
			if err := s.writeChat(conn, stepResponse(res)); err != nil {
				return
			}
			if res.Status != session.StatusActive {
				s.closeChat(conn, websocket.CloseNormalClosure, string(res.Status))
				return
			}
		}

		var msg ChatMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug("chat read failed", slog.String("error", err.Error()))
			}
			return
		}

		res, err = s.step(ctx, sessionID, msg)
		if err != nil {
			if statusFor(err) >= http.StatusInternalServerError {
				s.closeChat(conn, websocket.CloseInternalServerErr, err.Error())
				return
			}
			// The session is unchanged; the client may retry.
			if err := s.writeChat(conn, ErrorResponse{Error: err.Error()}); err != nil {
				return
			}
		}
	}
}

func (s *Server) step(ctx context.Context, sessionID string, msg ChatMessage) (*runtime.Result, error) {
	if len(msg.Facts) > 0 {
		return s.engine.Signal(ctx, sessionID, msg.Facts)
	}
	return s.engine.Advance(ctx, "", sessionID, &intakeflow.Answer{Text: msg.Text})
}

func (s *Server) writeChat(conn *websocket.Conn, v any) error {
	_ = conn.SetWriteDeadline(time.Now().Add(chatWriteTimeout))
	if err := conn.WriteJSON(v); err != nil {
		s.logger.Debug("chat write failed", slog.String("error", err.Error()))
		return err
	}
	return nil
}

func (s *Server) closeChat(conn *websocket.Conn, code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(chatWriteTimeout))
}
