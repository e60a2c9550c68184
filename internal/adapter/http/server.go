package http

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/fixora/sqlaudit/internal/infra/logger"
)

// HealthChecker reports whether the durable store is reachable
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// Server represents the HTTP server
type Server struct {
	addr   string
	server *http.Server
	logger logger.Logger
}

// ServerConfig represents server configuration
type ServerConfig struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	// AllowedOrigins may read the API from a browser; empty disables CORS.
	AllowedOrigins []string
}

// NewServer creates a new HTTP server
func NewServer(config ServerConfig, handler *AuditHandler, tokens *TokenService, health HealthChecker, limiter RateLimiter, log logger.Logger) *Server {
	if log == nil {
		log = logger.NewNop()
	}

	// request contexts end on shutdown so open streams let go
	base, cancel := context.WithCancel(context.Background())
	server := &http.Server{
		Addr:         config.Addr,
		Handler:      withCORS(NewRouter(handler, tokens, health, limiter, log), config.AllowedOrigins),
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
		IdleTimeout:  config.IdleTimeout,
		BaseContext:  func(net.Listener) context.Context { return base },
	}
	server.RegisterOnShutdown(cancel)

	return &Server{
		addr:   config.Addr,
		logger: log,
		server: server,
	}
}

// NewRouter wires routes and middleware. /health is public; everything under
// /api/v1 needs a bearer token. A nil limiter turns rate limiting off.
func NewRouter(handler *AuditHandler, tokens *TokenService, health HealthChecker, limiter RateLimiter, log logger.Logger) *mux.Router {
	if log == nil {
		log = logger.NewNop()
	}

	router := mux.NewRouter()
	router.Use(correlationMiddleware)
	router.Use(loggingMiddleware(log))
	router.Use(recoveryMiddleware(log))

	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if health != nil {
			if err := health.Ping(r.Context()); err != nil {
				writeErrorResponse(w, http.StatusServiceUnavailable, "store_unavailable", "Store unavailable")
				return
			}
		}
		writeSuccessResponse(w, http.StatusOK, "ok", nil)
	}).Methods("GET")

	api := router.PathPrefix("/api/v1").Subrouter()
	if limiter != nil {
		api.Use(rateLimitMiddleware(limiter, log))
	}
	api.Use(authMiddleware(tokens))
	handler.RegisterRoutes(api)

	return router
}

// Start starts the HTTP server and blocks until it stops
func (s *Server) Start() error {
	s.logger.Info(context.Background(), fmt.Sprintf("Starting HTTP server on %s", s.addr), nil)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info(ctx, "Shutting down HTTP server", nil)
	return s.server.Shutdown(ctx)
}

// Middleware

const correlationHeader = "X-Correlation-ID"

func correlationMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(correlationHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(correlationHeader, id)
		next.ServeHTTP(w, r.WithContext(logger.WithCorrelationID(r.Context(), id)))
	})
}

func loggingMiddleware(log logger.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			next.ServeHTTP(w, r)
			log.Info(r.Context(), "HTTP request", map[string]interface{}{
				"method":      r.Method,
				"path":        r.URL.Path,
				"remote_addr": r.RemoteAddr,
				"duration_ms": time.Since(start).Milliseconds(),
			})
		})
	}
}

func recoveryMiddleware(log logger.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					log.Error(r.Context(), "Panic recovered", fmt.Errorf("%v", rec), nil)
					writeErrorResponse(w, http.StatusInternalServerError, "internal_error", "Internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func authMiddleware(tokens *TokenService) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			raw, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || raw == "" {
				writeErrorResponse(w, http.StatusUnauthorized, "unauthorized", "Missing bearer token")
				return
			}

			if _, err := tokens.Validate(raw); err != nil {
				message := "Invalid token"
				if errors.Is(err, ErrTokenExpired) {
					message = "Token expired"
				}
				writeErrorResponse(w, http.StatusUnauthorized, "unauthorized", message)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
