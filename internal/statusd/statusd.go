// Package statusd serves local observability endpoints: liveness, loop
// stats with per-broker health, and a websocket stream of reap events.
// The server is optional and binds to a loopback address by default.
package statusd

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"github.com/gale-rmm/reaper/internal/logging"
	"github.com/gale-rmm/reaper/internal/reaper"
)

var log = logging.L("statusd")

const eventBuffer = 32

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Loopback-only server; cross-origin browsers are fine.
		return true
	},
}

// Server exposes the reaper's state over HTTP.
type Server struct {
	addr    string
	reaper  *reaper.Reaper
	version string
	httpSrv *http.Server

	mu          sync.Mutex
	subscribers map[chan reaper.Event]struct{}
}

// New creates a status server for the given reaper. Register its Publish
// method via reaper.OnReap before starting the loop.
func New(addr string, r *reaper.Reaper, version string) *Server {
	s := &Server{
		addr:        addr,
		reaper:      r,
		version:     version,
		subscribers: make(map[chan reaper.Event]struct{}),
	}

	router := chi.NewRouter()
	router.Use(middleware.Recoverer)
	router.Get("/healthz", s.handleHealthz)
	router.Get("/status", s.handleStatus)
	router.Get("/events", s.handleEvents)

	s.httpSrv = &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Start begins serving. Blocks until Shutdown or a listener error.
func (s *Server) Start() error {
	log.Info("status server listening", "addr", s.addr)
	err := s.httpSrv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops the server and disconnects event subscribers.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	for ch := range s.subscribers {
		close(ch)
		delete(s.subscribers, ch)
	}
	s.mu.Unlock()

	return s.httpSrv.Shutdown(ctx)
}

// Publish fans a reap event out to all websocket subscribers. Slow
// subscribers drop events rather than stalling the reaper.
func (s *Server) Publish(e reaper.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for ch := range s.subscribers {
		select {
		case ch <- e:
		default:
			log.Debug("event subscriber buffer full, dropping event")
		}
	}
}

// Handler returns the underlying HTTP handler, for tests.
func (s *Server) Handler() http.Handler {
	return s.httpSrv.Handler
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	summary := s.reaper.HealthMonitor().Summary()
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(summary)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	payload := map[string]any{
		"version": s.version,
		"stats":   s.reaper.Stats(),
		"health":  s.reaper.HealthMonitor().Summary(),
		"brokers": s.reaper.HealthMonitor().All(),
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(payload)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn("websocket upgrade failed", logging.KeyError, err)
		return
	}

	ch := make(chan reaper.Event, eventBuffer)
	s.mu.Lock()
	s.subscribers[ch] = struct{}{}
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		if _, ok := s.subscribers[ch]; ok {
			close(ch)
			delete(s.subscribers, ch)
		}
		s.mu.Unlock()
		conn.Close()
	}()

	// Reader goroutine detects client disconnect; we never expect inbound
	// messages.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case e, ok := <-ch:
			if !ok {
				conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
				return
			}
			if err := conn.WriteJSON(e); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}
