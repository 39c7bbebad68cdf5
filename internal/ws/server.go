package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/printdialog/printdialog/internal/lifecycle"
	"github.com/printdialog/printdialog/internal/notify"
	"github.com/printdialog/printdialog/internal/provider"
	"github.com/printdialog/printdialog/internal/session"
	"github.com/printdialog/printdialog/internal/subscription"
)

const requestTimeout = 10 * time.Second

// Discoverer starts and restarts per-dialog discovery.
type Discoverer interface {
	Start(d *session.Dialog)
	Refresh(d *session.Dialog)
}

type Options struct {
	Registry  *session.Registry
	Discovery Discoverer
	Provider  provider.Provider
	Policy    *lifecycle.Policy

	// Stats and Subscription feed /api/status and may be nil.
	Stats        func() notify.Stats
	Subscription func() subscription.Status

	AuthToken      string
	AllowedOrigins []string
	Logger         zerolog.Logger
}

// Server is the bus layer: it turns websocket requests into dialog
// operations and exposes a small HTTP API for diagnostics.
type Server struct {
	hub            *Hub
	registry       *session.Registry
	discovery      Discoverer
	provider       provider.Provider
	policy         *lifecycle.Policy
	stats          func() notify.Stats
	subscription   func() subscription.Status
	authToken      string
	allowedOrigins map[string]bool
	allowedHosts   map[string]bool
	log            zerolog.Logger
}

func NewServer(hub *Hub, opts Options) *Server {
	s := &Server{
		hub:            hub,
		registry:       opts.Registry,
		discovery:      opts.Discovery,
		provider:       opts.Provider,
		policy:         opts.Policy,
		stats:          opts.Stats,
		subscription:   opts.Subscription,
		authToken:      opts.AuthToken,
		allowedOrigins: make(map[string]bool),
		allowedHosts:   make(map[string]bool),
		log:            opts.Logger.With().Str("component", "bus").Logger(),
	}

	for _, origin := range opts.AllowedOrigins {
		trimmed := strings.TrimSpace(origin)
		if trimmed == "" {
			continue
		}
		s.allowedOrigins[trimmed] = true
		if parsed, err := url.Parse(trimmed); err == nil && parsed.Host != "" {
			s.allowedHosts[parsed.Host] = true
		}
	}

	return s
}

// Handler returns the router serving the websocket bus and the HTTP API.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(s.recoverer)
	r.Use(securityHeaders)

	r.Get("/healthz", s.handleHealth)
	r.Group(func(r chi.Router) {
		r.Use(s.requireAuth)
		r.Get("/ws", s.handleWS)
		r.Get("/api/dialogs", s.handleDialogs)
		r.Get("/api/dialogs/{id}", s.handleDialog)
		r.Get("/api/status", s.handleStatus)
	})
	return r
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		CheckOrigin: s.checkOrigin,
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("ws upgrade failed")
		return
	}

	q := r.URL.Query()
	c, err := s.hub.Register(conn, q.Get("id"))
	if err != nil {
		s.log.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("rejecting frontend")
		msg := websocket.FormatCloseMessage(websocket.CloseTryAgainLater, err.Error())
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		conn.Close()
		return
	}
	pid := parsePID(q.Get("pid"))

	s.log.Info().Str("dialog_id", c.id).Int32("pid", pid).Str("remote", r.RemoteAddr).Msg("frontend connected")
	_ = s.hub.sendClient(c, WSMessage{Type: MsgHello, Payload: HelloPayload{ID: c.id}})

	s.readLoop(c, pid)
}

func (s *Server) readLoop(c *client, pid int32) {
	defer func() {
		s.hub.RemoveClient(c)
		s.log.Info().Str("dialog_id", c.id).Msg("frontend disconnected")
		s.stopListing(c.id)
	}()
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var req Request
		if err := json.Unmarshal(data, &req); err != nil {
			s.sendError(c, "", CodeBadRequest, "malformed message")
			continue
		}
		s.dispatch(c, pid, req)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleDialogs(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.registry.Snapshot())
}

func (s *Server) handleDialog(w http.ResponseWriter, r *http.Request) {
	d, ok := s.registry.Find(chi.URLParam(r, "id"))
	if !ok {
		http.Error(w, "dialog not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, d.Info())
}

// StatusResponse is served on /api/status.
type StatusResponse struct {
	Provider     string                   `json:"provider"`
	Health       *provider.HealthSnapshot `json:"health,omitempty"`
	Dialogs      int                      `json:"dialogs"`
	Connections  int                      `json:"connections"`
	Dispatch     *notify.Stats            `json:"dispatch,omitempty"`
	Subscription *subscription.Status     `json:"subscription,omitempty"`
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	resp := StatusResponse{
		Provider:    s.provider.Name(),
		Dialogs:     s.registry.Len(),
		Connections: s.hub.ClientCount(),
	}
	if hp, ok := s.provider.(interface{ Health() provider.HealthSnapshot }); ok {
		h := hp.Health()
		resp.Health = &h
	}
	if s.stats != nil {
		st := s.stats()
		resp.Dispatch = &st
	}
	if s.subscription != nil {
		sub := s.subscription()
		resp.Subscription = &sub
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) requestContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), requestTimeout)
}

func parsePID(raw string) int32 {
	pid, err := strconv.ParseInt(raw, 10, 32)
	if err != nil || pid < 0 {
		return 0
	}
	return int32(pid)
}

func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.authorize(r) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) authorize(r *http.Request) bool {
	if s.authToken == "" {
		return true
	}

	if r.URL.Query().Get("token") == s.authToken {
		return true
	}

	if r.Header.Get("X-Printdialog-Token") == s.authToken {
		return true
	}

	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") && strings.TrimPrefix(auth, "Bearer ") == s.authToken {
		return true
	}

	return false
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}

	if len(s.allowedOrigins) > 0 {
		if s.allowedOrigins[origin] {
			return true
		}
		if parsed, err := url.Parse(origin); err == nil && parsed.Host != "" {
			return s.allowedHosts[parsed.Host]
		}
		return false
	}

	parsed, err := url.Parse(origin)
	if err != nil {
		return false
	}

	host := parsed.Host
	if host == "" {
		return false
	}

	if host == r.Host {
		return true
	}

	switch parsed.Hostname() {
	case "localhost", "127.0.0.1", "::1":
		return true
	}
	return false
}

func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Content-Security-Policy", "default-src 'none'")
		next.ServeHTTP(w, r)
	})
}

func (s *Server) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				s.log.Error().Interface("panic", err).Str("path", r.URL.Path).Msg("handler panicked")
				http.Error(w, "internal error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}
