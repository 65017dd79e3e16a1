// Package httpapi is the HTTP+GraphQL front door: it mounts the
// GraphQL handler alongside health/readiness/metrics endpoints and
// optional TLS/HTTP2/HTTP3/dual-stack transport, adapted from the
// teacher's internal/server.Server (trimmed of the mock-matching,
// proxy, recorder, SSE, template, and tracker concerns that have no
// analogue in this domain).
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/quic-go/quic-go/http3"
	"go.uber.org/zap"

	"github.com/rtmsg/broker/internal/graphqlapi"
	"github.com/rtmsg/broker/internal/observability"
	"github.com/rtmsg/broker/internal/tcpconn"
	"github.com/rtmsg/broker/internal/tcpserver"
)

// CORSConfig mirrors the teacher's server.CORSConfig exactly.
type CORSConfig struct {
	Enabled bool
	Origins string
	Methods string
	Headers string
}

// Server is the HTTP+GraphQL front door.
type Server struct {
	port           int
	graphqlHandler *graphqlapi.Handler
	connManager    *tcpconn.Manager
	tcpHandler     *tcpserver.Handler
	corsConfig     *CORSConfig
	enableMetrics  bool
	enableHealth   bool
	log            *zap.Logger
	mux            *http.ServeMux
	httpServer     *http.Server
}

// NewServer builds the HTTP front door. connManager/tcpHandler may be
// nil, in which case /stats reports tcp_enabled=false; when present they
// back the /stats endpoint with live connection counts.
func NewServer(port int, graphqlHandler *graphqlapi.Handler, connManager *tcpconn.Manager, tcpHandler *tcpserver.Handler, cors *CORSConfig, enableMetrics, enableHealth bool, log *zap.Logger) *Server {
	s := &Server{
		port:           port,
		graphqlHandler: graphqlHandler,
		connManager:    connManager,
		tcpHandler:     tcpHandler,
		corsConfig:     cors,
		enableMetrics:  enableMetrics,
		enableHealth:   enableHealth,
		log:            log,
		mux:            http.NewServeMux(),
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("/graphql", observability.TracingMiddleware(s.withCORS(s.graphqlHandler.ServeHTTP)))
	s.mux.HandleFunc("/graphql/ws", s.graphqlHandler.ServeWS)
	s.mux.HandleFunc("/stats", s.withCORS(s.handleStats))

	if s.enableHealth {
		s.mux.HandleFunc("/healthz", observability.HealthHandler())
		s.mux.HandleFunc("/readyz", observability.ReadinessHandler())
		s.mux.HandleFunc("/livez", observability.LivenessHandler())
	}
	if s.enableMetrics {
		s.mux.Handle("/metrics", observability.MetricsHandler())
	}
}

// withCORS applies the teacher's CORSConfig behavior: set headers when
// enabled, short-circuit preflight OPTIONS requests.
func (s *Server) withCORS(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.corsConfig != nil && s.corsConfig.Enabled {
			w.Header().Set("Access-Control-Allow-Origin", s.corsConfig.Origins)
			w.Header().Set("Access-Control-Allow-Methods", s.corsConfig.Methods)
			w.Header().Set("Access-Control-Allow-Headers", s.corsConfig.Headers)
			w.Header().Set("Access-Control-Max-Age", "86400")

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
		}
		next(w, r)
	}
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if s.connManager == nil || s.tcpHandler == nil {
		writeJSON(w, map[string]any{"tcp_enabled": false})
		return
	}

	connStats := s.connManager.GetStats()
	counters := s.tcpHandler.Stats()
	writeJSON(w, map[string]any{
		"tcp_enabled":        true,
		"connections_total":  connStats.TotalConnections,
		"connections_authed": connStats.AuthenticatedCount,
		"subscriptions":      counters.Subscriptions,
		"messages_processed": counters.MessagesProcessed,
		"messages_published": counters.MessagesPublished,
		"auth_attempts":      counters.AuthAttempts,
		"auth_successes":     counters.AuthSuccesses,
		"auth_failures":      counters.AuthFailures,
		"errors":             counters.Errors,
	})
}

// Start serves plain HTTP/1.1 (h2c is not enabled, so HTTP/2 is only
// offered by StartTLS and StartDualStack).
func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.port)
	s.log.Info("HTTP front door listening", zap.String("addr", addr))

	s.httpServer = &http.Server{Addr: addr, Handler: s.mux}
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// StartTLS serves HTTPS with HTTP/2 enabled, mirroring the teacher's
// server.StartTLS.
func (s *Server) StartTLS(certFile, keyFile string) error {
	addr := fmt.Sprintf(":%d", s.port)
	s.log.Info("HTTP front door listening (TLS)", zap.String("addr", addr))

	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: s.mux,
	}
	if err := s.httpServer.ListenAndServeTLS(certFile, keyFile); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// StartHTTP3 serves HTTP/3 over QUIC, mirroring the teacher's
// server.StartHTTP3.
func (s *Server) StartHTTP3(certFile, keyFile string) error {
	addr := fmt.Sprintf(":%d", s.port)
	s.log.Info("HTTP front door listening (HTTP/3)", zap.String("addr", addr))

	server := &http3.Server{Addr: addr, Handler: s.mux}
	return server.ListenAndServeTLS(certFile, keyFile)
}

// StartDualStack serves HTTP/2 and HTTP/3 concurrently on the same
// port, mirroring the teacher's server.StartDualStack.
func (s *Server) StartDualStack(certFile, keyFile string) error {
	addr := fmt.Sprintf(":%d", s.port)
	s.log.Info("HTTP front door listening (dual-stack)", zap.String("addr", addr))

	http3Server := &http3.Server{Addr: addr, Handler: s.mux}
	go func() {
		if err := http3Server.ListenAndServeTLS(certFile, keyFile); err != nil {
			s.log.Error("HTTP/3 server exited", zap.Error(err))
		}
	}()

	http2Server := &http.Server{
		Addr:    addr,
		Handler: s.mux,
	}
	return http2Server.ListenAndServeTLS(certFile, keyFile)
}

// Shutdown gracefully stops the server started via Start/StartTLS,
// mirroring tcpserver.Server.Stop in the ordered shutdown sequence
// (spec.md §5 Cancellation). A no-op for StartHTTP3/StartDualStack,
// which manage their own QUIC listener lifecycle.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) Handler() http.Handler {
	return s.mux
}

// Mount registers an additional handler on the front door's mux, used
// to serve the WebSocket Session alongside GraphQL/health/metrics on
// the same port.
func (s *Server) Mount(pattern string, handler http.Handler) {
	s.mux.Handle(pattern, handler)
}
