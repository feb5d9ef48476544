package transcript

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/angelotc/stream-pal-ai/domain"
	"github.com/angelotc/stream-pal-ai/telemetry"
)

// Handler receives each flushed utterance.
type Handler interface {
	HandleChat(ctx context.Context, ev domain.Event) error
}

// Fragment is one inbound WebSocket frame from the speech-to-text client.
type Fragment struct {
	Text    string `json:"text"`
	IsFinal bool   `json:"is_final"`
}

// reply is written back to the client.
type reply struct {
	Type    string `json:"type"`
	EventID string `json:"event_id,omitempty"`
	Text    string `json:"text,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Server upgrades transcript sessions and feeds them through a Buffer.
type Server struct {
	handler      Handler
	quiet        time.Duration
	readTimeout  time.Duration
	pingInterval time.Duration
	maxFrame     int64
	now          func() time.Time
	upgrader     websocket.Upgrader
}

type Option func(*Server)

// WithQuietPeriod sets the debounce period for utterance flushes.
func WithQuietPeriod(d time.Duration) Option { return func(s *Server) { s.quiet = d } }

// WithCheckOrigin replaces the upgrader's origin check.
func WithCheckOrigin(fn func(r *http.Request) bool) Option {
	return func(s *Server) { s.upgrader.CheckOrigin = fn }
}

func WithClock(now func() time.Time) Option { return func(s *Server) { s.now = now } }

func NewServer(h Handler, opts ...Option) *Server {
	s := &Server{
		handler:      h,
		quiet:        DefaultQuietPeriod,
		readTimeout:  60 * time.Second,
		pingInterval: 30 * time.Second,
		maxFrame:     64 << 10,
		now:          time.Now,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// ServeHTTP handles GET ?broadcaster_id=...&speaker=... and runs the session
// until the client disconnects. Pending text is flushed on disconnect.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	broadcasterID := strings.TrimSpace(r.URL.Query().Get("broadcaster_id"))
	if broadcasterID == "" {
		http.Error(w, "broadcaster_id required", http.StatusBadRequest)
		return
	}
	speaker := strings.TrimSpace(r.URL.Query().Get("speaker"))
	if speaker == "" {
		speaker = "streamer"
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		slog.Warn("transcript websocket upgrade failed", slog.Any("err", err))
		return
	}
	sess := &session{
		srv:           s,
		conn:          conn,
		broadcasterID: broadcasterID,
		speaker:       speaker,
		ctx:           context.WithoutCancel(r.Context()),
		done:          make(chan struct{}),
	}
	sess.buf = NewBuffer(s.quiet, sess.emit)
	sess.run()
}

type session struct {
	srv           *Server
	conn          *websocket.Conn
	buf           *Buffer
	broadcasterID string
	speaker       string
	ctx           context.Context
	done          chan struct{}

	writeMu sync.Mutex
}

func (s *session) log() *slog.Logger {
	return telemetry.LoggerWithCorr(s.ctx).With(
		slog.String("component", "transcript"),
		slog.String("broadcaster_id", s.broadcasterID),
	)
}

func (s *session) run() {
	defer func() {
		close(s.done)
		s.buf.Close()
		_ = s.conn.Close()
	}()
	s.log().Info("transcript session started")
	go s.pingLoop()

	s.conn.SetReadLimit(s.srv.maxFrame)
	_ = s.conn.SetReadDeadline(time.Now().Add(s.srv.readTimeout))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(s.srv.readTimeout))
	})

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log().Warn("transcript session read error", slog.Any("err", err))
			}
			s.log().Info("transcript session ended")
			return
		}
		_ = s.conn.SetReadDeadline(time.Now().Add(s.srv.readTimeout))
		var f Fragment
		if err := json.Unmarshal(data, &f); err != nil {
			s.write(reply{Type: "error", Error: "invalid fragment"})
			continue
		}
		if !f.IsFinal {
			continue
		}
		s.buf.Add(f.Text)
	}
}

func (s *session) pingLoop() {
	t := time.NewTicker(s.srv.pingInterval)
	defer t.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-t.C:
			s.writeMu.Lock()
			err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
			s.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

// emit turns a flushed utterance into a transcript event.
func (s *session) emit(text string) {
	ctx := telemetry.WithCorrelation(s.ctx, uuid.NewString())
	ev := domain.Event{
		BroadcasterID:     s.broadcasterID,
		ProviderMessageID: uuid.NewString(),
		ChatterID:         s.broadcasterID,
		ChatterName:       s.speaker,
		Text:              text,
		Source:            domain.SourceTranscript,
		CreatedAt:         s.srv.now().UTC(),
	}
	telemetry.RecordTranscriptFlush()
	if err := s.srv.handler.HandleChat(ctx, ev); err != nil {
		s.log().Error("transcript flush not stored", slog.Any("err", err))
		s.write(reply{Type: "error", Error: "utterance not stored"})
		return
	}
	s.write(reply{Type: "flushed", EventID: ev.ProviderMessageID, Text: text})
}

func (s *session) write(r reply) {
	select {
	case <-s.done:
		return
	default:
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if err := s.conn.WriteJSON(r); err != nil {
		s.log().Debug("transcript reply not written", slog.Any("err", err))
	}
}
