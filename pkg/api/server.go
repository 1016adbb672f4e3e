// wabridge HTTP API
// Outbound send route, health and status endpoints, and a WebSocket stream
// of relay events.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sipeed/wabridge/pkg/config"
	"github.com/sipeed/wabridge/pkg/domain"
	"github.com/sipeed/wabridge/pkg/infrastructure/eventbus"
	"github.com/sipeed/wabridge/pkg/logger"
	"github.com/sipeed/wabridge/pkg/message"
	"github.com/sipeed/wabridge/pkg/whatsapp"
)

// statusReporter is implemented by whatsapp.Manager.
type statusReporter interface {
	Status() whatsapp.Status
}

type Server struct {
	config      config.GatewayConfig
	sessions    message.SessionProvider
	events      domain.EventBus
	wsHub       *WSHub
	eventBridge *EventBridge
	stats       *RelayStats
	startTime   time.Time
	handler     http.Handler
	server      *http.Server
}

// NewServer builds the server and its routes. A nil event bus gets a private
// in-process one.
func NewServer(cfg config.GatewayConfig, sessions message.SessionProvider, events domain.EventBus) *Server {
	if events == nil {
		events = eventbus.New()
	}
	s := &Server{
		config:    cfg,
		sessions:  sessions,
		events:    events,
		stats:     NewRelayStats(),
		startTime: time.Now(),
	}
	s.wsHub = NewWSHub(s.snapshot, cfg.CORSOrigins)
	s.eventBridge = NewEventBridge(events, s.wsHub, s.stats)

	mux := http.NewServeMux()
	mux.HandleFunc("/api/health", s.handleHealth)
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/send-message", s.handleSendMessage)
	mux.HandleFunc("/api/ws", s.wsHub.HandleWebSocket)

	s.handler = corsMiddleware(cfg.CORSOrigins, authMiddleware(cfg.APIKey, mux))
	return s
}

// Handler returns the fully wrapped router.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start runs the WebSocket hub and begins listening. It returns immediately.
func (s *Server) Start(ctx context.Context) error {
	addr := s.config.Addr()
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	logger.InfoCF("api", "HTTP server starting", map[string]interface{}{
		"addr": addr,
	})

	go s.wsHub.Run(ctx)

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.ErrorCF("api", "Server error", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}()

	return nil
}

// Stop gracefully shuts down the server.
func (s *Server) Stop() error {
	if s.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

// --- Middleware ---

func corsMiddleware(origins []string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin == "" || isAllowedOrigin(origin, origins) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
		} else {
			w.Header().Set("Access-Control-Allow-Origin", "http://localhost")
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-API-Key")
		w.Header().Set("Access-Control-Allow-Credentials", "true")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// isAllowedOrigin accepts localhost addresses and any configured origin.
func isAllowedOrigin(origin string, extra []string) bool {
	for _, o := range extra {
		if origin == o {
			return true
		}
	}
	for _, prefix := range []string{"http://localhost", "http://127.0.0.1", "https://localhost", "https://127.0.0.1"} {
		if strings.HasPrefix(origin, prefix) {
			return true
		}
	}
	return false
}

// --- Handlers ---

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "GET required"})
		return
	}
	writeJSON(w, http.StatusOK, s.snapshot())
}

// snapshot is shared by /api/status and the WebSocket status frames.
func (s *Server) snapshot() map[string]interface{} {
	uptime := time.Since(s.startTime)
	_, connected := s.sessions.ActiveSession()

	session := map[string]interface{}{"connected": connected}
	if rep, ok := s.sessions.(statusReporter); ok {
		st := rep.Status()
		session["state"] = st.State
		session["jid"] = st.JID
		session["paired"] = st.Paired
		session["since"] = st.Since.UTC().Format(time.RFC3339)
	}

	return map[string]interface{}{
		"uptime_seconds": int(uptime.Seconds()),
		"uptime_human":   formatDuration(uptime),
		"session":        session,
		"relay":          s.stats.Snapshot(),
		"ws_clients":     s.wsHub.ClientCount(),
	}
}

// --- Helpers ---

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func formatDuration(d time.Duration) string {
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60
	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm", days, hours, minutes)
	}
	if hours > 0 {
		return fmt.Sprintf("%dh %dm", hours, minutes)
	}
	return fmt.Sprintf("%dm", minutes)
}
