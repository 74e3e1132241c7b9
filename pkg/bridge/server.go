package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/tinyland-inc/asbbridge/pkg/bus"
	"github.com/tinyland-inc/asbbridge/pkg/config"
	"github.com/tinyland-inc/asbbridge/pkg/events"
	"github.com/tinyland-inc/asbbridge/pkg/logger"
)

// Server accepts the extension's WebSocket connection and relays commands and
// responses for it.
type Server struct {
	cfg      *config.Config
	queue    *bus.CommandQueue
	emitter  *events.Emitter
	upgrader websocket.Upgrader

	slot slot

	listener   net.Listener
	httpServer *http.Server
	ctx        context.Context
	cancel     context.CancelFunc
	errs       chan error
}

func NewServer(cfg *config.Config, queue *bus.CommandQueue, emitter *events.Emitter) *Server {
	return &Server{
		cfg:     cfg,
		queue:   queue,
		emitter: emitter,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// The extension connects from a chrome-extension:// or
			// moz-extension:// origin; the listener is trusted.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		errs: make(chan error, 1),
	}
}

// Start binds the listener and begins serving in the background. It returns
// the bind error, if any, before anything is served.
func (s *Server) Start(ctx context.Context) error {
	if s.listener != nil {
		return errors.New("bridge server already started")
	}

	listener, err := net.Listen("tcp", s.cfg.ListenAddr())
	if err != nil {
		return err
	}

	s.listener = listener
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.errs <- fmt.Errorf("serving websocket: %w", err)
		}
	}()

	logger.InfoCF("bridge", "Listening", map[string]any{
		"addr": listener.Addr().String(),
		"url":  s.URL(),
	})
	return nil
}

// Errors reports a failure of the serve loop after Start succeeded.
func (s *Server) Errors() <-chan error {
	return s.errs
}

// Addr returns the bound address, or nil before Start.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// URL is the address advertised in the ready event. The port is the bound
// one, so it is correct when the configured port is 0.
func (s *Server) URL() string {
	port := strconv.Itoa(s.cfg.Server.Port)
	if addr, ok := s.Addr().(*net.TCPAddr); ok {
		port = strconv.Itoa(addr.Port)
	}
	return "ws://" + net.JoinHostPort(s.cfg.Server.Host, port) + s.cfg.Server.Path
}

// Connected reports the live peer's address.
func (s *Server) Connected() (string, bool) {
	if p := s.slot.current(); p != nil {
		return p.Client(), true
	}
	return "", false
}

// Stop closes the listener and the live peer, refuses new connections, and
// waits until ctx expires for any connection already past its claim,
// including one still mid-upgrade, to finish its teardown.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	s.cancel()
	pending := s.slot.shut()

	err := s.httpServer.Shutdown(ctx)

	if pending != nil {
		select {
		case <-pending:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

// Handler routes /health and hands every other path to the WebSocket upgrade.
func (s *Server) Handler() http.Handler {
	router := chi.NewRouter()
	router.Get("/health", s.handleHealth)
	router.HandleFunc("/*", s.handleWebSocket)
	return router
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	client := r.RemoteAddr
	logger.DebugCF("bridge", "Connection attempt", map[string]any{"client": client, "path": r.URL.Path})

	if err := s.slot.claim(); err != nil {
		if errors.Is(err, errSlotClosed) {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		current, _ := s.Connected()
		logger.WarnCF("bridge", "Peer already connected, rejecting", map[string]any{
			"client":  client,
			"current": current,
		})
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.slot.abandon()
		logger.WarnCF("bridge", "WebSocket upgrade failed", map[string]any{
			"client": client,
			"error":  err.Error(),
		})
		return
	}

	// Stop may have run during the upgrade; such a connection never
	// becomes a peer.
	if s.ctx.Err() != nil {
		conn.Close()
		s.slot.abandon()
		logger.DebugCF("bridge", "Connection arrived during shutdown", map[string]any{"client": client})
		return
	}

	p := newPeer(conn, client, s.cfg.WriteTimeout())
	s.slot.bind(p)

	logger.InfoCF("bridge", "Peer connected", map[string]any{
		"client":     client,
		"session_id": p.ID(),
		"queued":     s.queue.Len(),
	})
	if err := s.emit(events.Connected(client)); err != nil {
		p.Close()
	}

	if err := s.runSession(s.ctx, p); err != nil {
		logger.DebugCF("bridge", "Session ended with error", map[string]any{
			"session_id": p.ID(),
			"error":      err.Error(),
		})
	}

	logger.InfoCF("bridge", "Peer disconnected", map[string]any{
		"client":     client,
		"session_id": p.ID(),
		"queued":     s.queue.Len(),
	})
	// Released only after the event so a successor's connected event can
	// never precede it.
	s.emit(events.Disconnected(client))
	s.slot.release(p)
}

type healthResponse struct {
	Status    string `json:"status"`
	Connected bool   `json:"connected"`
	Client    string `json:"client,omitempty"`
	Queued    int    `json:"queued"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	client, connected := s.Connected()
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(healthResponse{
		Status:    "ok",
		Connected: connected,
		Client:    client,
		Queued:    s.queue.Len(),
	}); err != nil {
		logger.WarnCF("bridge", "Health response failed", map[string]any{"error": err.Error()})
	}
}

// emit writes evt to the event channel. Failures are already published on the
// emitter's Fatal channel, so here they are only logged.
func (s *Server) emit(evt events.Event) error {
	if err := s.emitter.Emit(evt); err != nil {
		logger.ErrorCF("bridge", "Event write failed", map[string]any{
			"type":  evt.Type,
			"error": err.Error(),
		})
		return err
	}
	return nil
}
