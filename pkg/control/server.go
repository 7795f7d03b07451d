package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/small-frappuccino/aperture/pkg/cache"
	"github.com/small-frappuccino/aperture/pkg/log"
	"github.com/small-frappuccino/aperture/pkg/service"
)

const (
	defaultMaxBodyBytes = 4 * 1024
	flushTimeout        = 10 * time.Second
)

// CacheSource is the part of the cache manager the control server reads.
type CacheSource interface {
	Stats() cache.Stats
	FlushUsage(ctx context.Context) (int, error)
}

// HealthFunc reports the health of every managed service by name.
type HealthFunc func(ctx context.Context) map[string]service.HealthStatus

// Server exposes metrics, health and cache introspection for a running
// Aperture instance.
type Server struct {
	addr       string
	cache      CacheSource
	health     HealthFunc
	httpServer *http.Server
	listener   net.Listener
}

// NewServer returns nil if addr is empty. A nil gatherer uses the default
// Prometheus registry.
func NewServer(addr string, src CacheSource, health HealthFunc, gatherer prometheus.Gatherer) *Server {
	addr = strings.TrimSpace(addr)
	if addr == "" || src == nil {
		return nil
	}
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	s := &Server{
		addr:   addr,
		cache:  src,
		health: health,
	}
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.routes(gatherer),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

func (s *Server) routes(gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/v1/cache", s.handleCacheStats)
	mux.HandleFunc("/v1/cache/flush", s.handleFlush)
	return mux
}

// Handler returns the server's routes, for embedding or tests.
func (s *Server) Handler() http.Handler {
	if s == nil || s.httpServer == nil {
		return http.NotFoundHandler()
	}
	return s.httpServer.Handler
}

// Start opens the control server listening socket.
func (s *Server) Start() error {
	if s == nil {
		return nil
	}

	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("bind control server: %w", err)
	}
	s.listener = ln

	log.ApplicationLogger().Info("Control server listening", "addr", ln.Addr().String())

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.ErrorLoggerRaw().Error("Control server stopped unexpectedly", "err", err)
		}
	}()

	return nil
}

// Addr returns the bound address once Start succeeded.
func (s *Server) Addr() string {
	if s == nil || s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop shuts down the control server.
func (s *Server) Stop(ctx context.Context) error {
	if s == nil || s.httpServer == nil {
		return nil
	}

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("shutdown control server: %w", err)
	}

	log.ApplicationLogger().Info("Control server stopped", "addr", s.addr)
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	stats := s.cache.Stats()
	healthy := stats.Filled
	var services map[string]service.HealthStatus
	if s.health != nil {
		services = s.health(r.Context())
		for _, h := range services {
			if !h.Healthy {
				healthy = false
			}
		}
	}

	status := http.StatusOK
	if !healthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]any{
		"healthy":     healthy,
		"cache_ready": stats.Filled,
		"services":    services,
	})
}

func (s *Server) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, s.cache.Stats())
}

func (s *Server) handleFlush(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, defaultMaxBodyBytes)
	defer r.Body.Close()

	ctx, cancel := context.WithTimeout(r.Context(), flushTimeout)
	defer cancel()

	n, err := s.cache.FlushUsage(ctx)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, cache.ErrNotFilled) {
			status = http.StatusConflict
		}
		http.Error(w, fmt.Sprintf("flush failed: %v", err), status)
		return
	}
	log.ApplicationLogger().Info("Usage flushed on request", "events", n)
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"flushed": n,
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.ErrorLoggerRaw().Error("Failed to encode control response", "err", err)
	}
}
