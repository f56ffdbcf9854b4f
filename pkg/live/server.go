// Package live carries adapter calls over WebSocket connections. A Server
// exports handlers under /lcars/{name}; a Conn dials one of them and makes
// request/reply calls over a single binary stream.
package live

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/recera/lcars/internal/logging"
	"github.com/recera/lcars/pkg/adapter"
)

// PathPrefix is the HTTP path exported names live under
const PathPrefix = "/lcars/"

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	sendBuffer = 64
)

// Server handles WebSocket connections for exported names
type Server struct {
	upgrader websocket.Upgrader
	mu       sync.RWMutex
	handlers map[string]adapter.Handler
	sessions map[string]*Session
	log      *slog.Logger
}

// Session is one accepted connection bound to an exported name
type Session struct {
	ID      string
	Name    string
	conn    *websocket.Conn
	handler adapter.Handler
	send    chan []byte
	ctx     context.Context
	cancel  context.CancelFunc
	once    sync.Once
	log     *slog.Logger
}

// NewServer creates a server with nothing exported
func NewServer() *Server {
	return &Server{
		upgrader: websocket.Upgrader{
			CheckOrigin:     func(r *http.Request) bool { return true },
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
		handlers: make(map[string]adapter.Handler),
		sessions: make(map[string]*Session),
		log:      logging.For("live"),
	}
}

// Handle exports h under name
func (s *Server) Handle(name string, h adapter.Handler) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.handlers[name]; dup {
		return fmt.Errorf("live: %s already exported", name)
	}
	s.handlers[name] = h
	return nil
}

// Remove unexports name and drops its open sessions
func (s *Server) Remove(name string) {
	s.mu.Lock()
	delete(s.handlers, name)
	var drop []*Session
	for _, sess := range s.sessions {
		if sess.Name == name {
			drop = append(drop, sess)
		}
	}
	s.mu.Unlock()
	for _, sess := range drop {
		sess.Close()
	}
}

// Sessions returns the number of open sessions
func (s *Server) Sessions() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// ServeHTTP upgrades requests for exported names. Unknown names get a 404
// so the dialer can tell a down peer from an unreachable host.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimPrefix(r.URL.Path, PathPrefix)
	if name == r.URL.Path || name == "" {
		http.Error(w, "name required", http.StatusBadRequest)
		return
	}
	s.mu.RLock()
	h, ok := s.handlers[name]
	s.mu.RUnlock()
	if !ok {
		http.NotFound(w, r)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("failed to upgrade connection", "name", name, "error", err)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	sess := &Session{
		ID:      uuid.NewString(),
		Name:    name,
		conn:    conn,
		handler: h,
		send:    make(chan []byte, sendBuffer),
		ctx:     ctx,
		cancel:  cancel,
	}
	sess.log = s.log.With("session", sess.ID, "name", name)

	s.mu.Lock()
	s.sessions[sess.ID] = sess
	s.mu.Unlock()

	go func() {
		sess.run()
		s.mu.Lock()
		delete(s.sessions, sess.ID)
		s.mu.Unlock()
	}()
}

// Close drops every session
func (s *Server) Close() {
	s.mu.Lock()
	sessions := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.mu.Unlock()
	for _, sess := range sessions {
		sess.Close()
	}
}

// ListenAndServe serves on addr until ctx is done
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle(PathPrefix, s)
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	s.log.Info("listening", "addr", addr)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	s.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Close ends the session
func (s *Session) Close() {
	s.once.Do(func() {
		s.cancel()
		s.conn.Close()
	})
}

func (s *Session) run() {
	defer s.Close()
	go s.writer()

	s.enqueue(EncodeMessage(&Message{Type: FrameHello, Method: s.ID}))
	s.log.Debug("session opened")

	s.conn.SetReadLimit(maxLen)
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		typ, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) && s.ctx.Err() == nil {
				s.log.Info("unexpected close", "error", err)
			}
			return
		}
		s.conn.SetReadDeadline(time.Now().Add(pongWait))
		if typ != websocket.BinaryMessage {
			continue
		}
		m, err := DecodeMessage(data)
		if err != nil {
			s.log.Warn("dropping frame", "error", err)
			continue
		}
		if m.Type != FrameCall {
			continue
		}
		// calls are served in arrival order
		s.serve(m)
	}
}

func (s *Session) serve(m *Message) {
	reply := &Message{Type: FrameReply, ID: m.ID}
	body, err := s.handler.Serve(s.ctx, m.Method, m.Body)
	if err != nil {
		reply.Err = err.Error()
		if reply.Err == "" {
			reply.Err = "error"
		}
	} else {
		reply.Body = body
	}
	s.enqueue(EncodeMessage(reply))
}

func (s *Session) enqueue(b []byte) {
	select {
	case s.send <- b:
	case <-s.ctx.Done():
	}
}

// writer owns all writes to the connection
func (s *Session) writer() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case b := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.BinaryMessage, b); err != nil {
				s.log.Warn("write failed", "error", err)
				s.Close()
				return
			}
		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.Close()
				return
			}
		case <-s.ctx.Done():
			s.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return
		}
	}
}
