package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// Pinger reports whether an external dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HTTPOptions configures the HTTP side server.
type HTTPOptions struct {
	Addr string

	// Gatherer backs /metrics. Nil disables the endpoint.
	Gatherer prometheus.Gatherer

	// Pinger is checked by /healthz. Nil reports redis as "disabled".
	Pinger Pinger

	// AllowedOrigins restricts WebSocket upgrades by Origin header.
	// Empty allows any origin.
	AllowedOrigins []string

	Logger *logrus.Logger
}

// HTTPServer serves health checks, metrics and the WebSocket gateway
// alongside the TCP listener.
type HTTPServer struct {
	srv      *Server
	opts     HTTPOptions
	log      *logrus.Entry
	upgrader websocket.Upgrader

	server   *http.Server
	listener net.Listener
}

// NewHTTPServer creates the side server for srv.
func NewHTTPServer(srv *Server, opts HTTPOptions) *HTTPServer {
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	h := &HTTPServer{
		srv:  srv,
		opts: opts,
		log:  opts.Logger.WithField("component", "http"),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

// Router returns the routed handler.
func (h *HTTPServer) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", h.healthCheckHandler)
	if h.opts.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(h.opts.Gatherer, promhttp.HandlerOpts{}))
	}
	r.Get("/ws", h.websocketHandler)
	return r
}

// Start binds the address and serves in the background. Bind errors are
// returned synchronously.
func (h *HTTPServer) Start() error {
	l, err := net.Listen("tcp", h.opts.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", h.opts.Addr, err)
	}
	h.listener = l
	h.server = &http.Server{
		Handler:           h.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := h.server.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
			h.log.WithError(err).Error("HTTP server error")
		}
	}()

	h.log.WithField("addr", l.Addr().String()).Info("HTTP server listening")
	return nil
}

// Addr returns the bound address, or nil before Start.
func (h *HTTPServer) Addr() net.Addr {
	if h.listener == nil {
		return nil
	}
	return h.listener.Addr()
}

// Shutdown gracefully stops the HTTP server. Hijacked WebSocket connections
// are closed by Server.Shutdown.
func (h *HTTPServer) Shutdown(ctx context.Context) error {
	if h.server == nil {
		return nil
	}
	return h.server.Shutdown(ctx)
}

// HealthResponse is the JSON body of GET /healthz.
type HealthResponse struct {
	Status   string `json:"status"`
	Sessions int    `json:"sessions"`
	Dim      int    `json:"dim"`
	Redis    string `json:"redis"`
	Error    string `json:"error,omitempty"`
}

// healthCheckHandler returns 200 when the server is up and the mirror (if
// configured) answers a ping, 503 otherwise.
func (h *HTTPServer) healthCheckHandler(w http.ResponseWriter, r *http.Request) {
	registry := h.srv.Registry()
	response := HealthResponse{
		Status:   "healthy",
		Sessions: registry.Len(),
		Dim:      registry.Dim(),
		Redis:    "disabled",
	}
	status := http.StatusOK

	if h.opts.Pinger != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := h.opts.Pinger.Ping(ctx); err != nil {
			response.Status = "unhealthy"
			response.Redis = "disconnected"
			response.Error = err.Error()
			status = http.StatusServiceUnavailable
		} else {
			response.Redis = "connected"
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(response)
}

func (h *HTTPServer) websocketHandler(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		h.log.WithError(err).Debug("WebSocket upgrade failed")
		return
	}
	h.srv.ServeTransport(NewWebSocketTransport(ws))
}

func (h *HTTPServer) checkOrigin(r *http.Request) bool {
	if len(h.opts.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range h.opts.AllowedOrigins {
		if allowed == origin {
			return true
		}
	}
	return false
}
