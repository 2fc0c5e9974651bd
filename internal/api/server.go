// Package api exposes the scanner over HTTP: one-shot scans, the continuous
// scanner's control and query surface, training-data export, and position
// sizing.
package api

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/sawpanic/momentumscan/internal/config"
	"github.com/sawpanic/momentumscan/internal/metrics"
	"github.com/sawpanic/momentumscan/internal/scan"
	"github.com/sawpanic/momentumscan/internal/store"
	"github.com/sawpanic/momentumscan/internal/stream"
)

// lastScan is the retained state of the most recent one-shot scan, served by
// the signals and status endpoints.
type lastScan struct {
	Signals   []WireSignal
	Exchanges []string
	Timeframe string
	Timestamp time.Time
}

// Server wires the scanner, the continuous loops, and the store behind the
// REST surface.
type Server struct {
	router *mux.Router
	server *http.Server
	cfg    *config.Config
	log    zerolog.Logger

	scanner    *scan.Scanner
	continuous *stream.Continuous
	store      *store.Store

	mu   sync.RWMutex
	last *lastScan
}

func NewServer(cfg *config.Config, scanner *scan.Scanner, continuous *stream.Continuous, st *store.Store, log zerolog.Logger) *Server {
	s := &Server{
		router:     mux.NewRouter(),
		cfg:        cfg,
		log:        log.With().Str("component", "api").Logger(),
		scanner:    scanner,
		continuous: continuous,
		store:      st,
	}
	s.setupMiddleware()
	s.setupRoutes()
	s.server = &http.Server{
		Addr:         cfg.API.Addr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: cfg.API.RequestTimeout + 10*time.Second,
		IdleTimeout:  120 * time.Second,
	}
	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(s.requestIDMiddleware)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(s.timeoutMiddleware)
	s.router.Use(s.corsMiddleware)
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.router.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	api := s.router.PathPrefix("/api").Subrouter()
	api.Use(jsonContentTypeMiddleware)

	api.HandleFunc("/scanner/scan", s.handleScan).Methods(http.MethodPost)
	api.HandleFunc("/scanner/signals", s.handleSignals).Methods(http.MethodGet)
	api.HandleFunc("/scanner/status", s.handleStatus).Methods(http.MethodGet)

	api.HandleFunc("/scanner/continuous/start", s.handleContinuousStart).Methods(http.MethodPost)
	api.HandleFunc("/scanner/continuous/stop", s.handleContinuousStop).Methods(http.MethodPost)
	api.HandleFunc("/scanner/continuous/status", s.handleContinuousStatus).Methods(http.MethodGet)
	api.HandleFunc("/scanner/continuous/signals", s.handleContinuousSignals).Methods(http.MethodGet)
	api.HandleFunc("/scanner/continuous/confluence/{symbol}", s.handleConfluence).Methods(http.MethodGet)
	api.HandleFunc("/scanner/continuous/market-state", s.handleMarketState).Methods(http.MethodGet)

	// Websocket does its own upgrade; registered on the root router so the
	// JSON content-type middleware stays out of the handshake.
	s.router.HandleFunc("/api/scanner/continuous/ws", s.handleWebsocket).Methods(http.MethodGet)

	api.HandleFunc("/scanner/training-data/{symbol}", s.handleTrainingData).Methods(http.MethodGet)
	api.HandleFunc("/position/calculate", s.handlePositionCalculate).Methods(http.MethodPost)

	s.router.NotFoundHandler = http.HandlerFunc(s.handleNotFound)
}

// Start blocks serving HTTP until Shutdown or a listener error.
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.server.Addr).Msg("http server starting")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests within the context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("http server shutting down")
	return s.server.Shutdown(ctx)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler { return s.router }

type contextKey string

const requestIDKey contextKey = "request_id"

func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()[:8]
		}
		w.Header().Set("X-Request-ID", id)
		ctx := context.WithValue(r.Context(), requestIDKey, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWrapper{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		id, _ := r.Context().Value(requestIDKey).(string)
		s.log.Info().
			Str("request_id", id).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", wrapped.statusCode).
			Dur("elapsed", time.Since(start)).
			Msg("request")
	})
}

func (s *Server) timeoutMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Websocket connections outlive any request deadline.
		if strings.HasSuffix(r.URL.Path, "/ws") {
			next.ServeHTTP(w, r)
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), s.cfg.API.RequestTimeout)
		defer cancel()
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", s.cfg.API.CORSOrigin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Request-ID")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func jsonContentTypeMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

// responseWrapper captures the status code for the request log.
type responseWrapper struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWrapper) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Hijack keeps the websocket upgrade working through the logging wrapper.
func (rw *responseWrapper) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	return h.Hijack()
}

func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeError(w, http.StatusNotFound, fmt.Sprintf("no route for %s %s", r.Method, r.URL.Path))
}
