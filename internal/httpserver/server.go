// Package httpserver exposes the chat application's REST and SSE endpoints.
package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/Yuucas/DeepSeek-Chat-WebApp/internal/auth"
	"github.com/Yuucas/DeepSeek-Chat-WebApp/internal/chat"
	"github.com/Yuucas/DeepSeek-Chat-WebApp/internal/chatstore"
	"github.com/Yuucas/DeepSeek-Chat-WebApp/internal/health"
	"github.com/Yuucas/DeepSeek-Chat-WebApp/internal/metrics"
	"github.com/Yuucas/DeepSeek-Chat-WebApp/internal/userstore"
)

const (
	sessionCookie = "deepseek_chat_session"
	sessionTTL    = 24 * time.Hour
)

// Server exposes REST endpoints for the chat application.
type Server struct {
	chat  *chat.Service
	users userstore.Store
	chats chatstore.Store
	auth  *auth.Manager

	// optional wiring
	metrics *metrics.Collector
	checker *health.Checker

	// logging
	logger   *log.Logger
	logLevel string
}

// New constructs a Server with the required dependencies.
func New(chatSvc *chat.Service, users userstore.Store, chats chatstore.Store, authManager *auth.Manager) *Server {
	return &Server{
		chat:   chatSvc,
		users:  users,
		chats:  chats,
		auth:   authManager,
		logger: log.Default(),
	}
}

// SetLogger configures server-level logger and verbosity ("debug", "info", ...).
func (s *Server) SetLogger(level string, logger *log.Logger) {
	s.logLevel = strings.ToLower(strings.TrimSpace(level))
	if logger != nil {
		s.logger = logger
	}
}

// SetMetrics attaches the request/stream metrics collector.
func (s *Server) SetMetrics(collector *metrics.Collector) {
	s.metrics = collector
}

// SetHealthChecker attaches the component health checker used by /api/health.
func (s *Server) SetHealthChecker(checker *health.Checker) {
	s.checker = checker
}

func (s *Server) isDebug() bool { return s.logLevel == "debug" }
func (s *Server) debugf(format string, args ...any) {
	if s.logger != nil && s.isDebug() {
		s.logger.Printf("DEBUG "+format, args...)
	}
}

// Router returns a configured chi router for embedding in HTTP servers.
func (s *Server) Router() http.Handler {
	r := s.newBaseRouter()

	r.Route("/api", func(api chi.Router) {
		api.Post("/signup", s.instrument("signup", s.handleSignup))
		api.Post("/login", s.instrument("login", s.handleLogin))
		api.Post("/logout", s.instrument("logout", s.handleLogout))
		api.Get("/health", s.instrument("health", s.handleHealth))

		// The one-time handle is the capability; no session gate here.
		api.Get("/chat/stream/{streamID}", s.instrument("chat_stream", s.handleChatStream))

		api.Group(func(private chi.Router) {
			private.Use(s.sessionMiddleware)
			private.Get("/users/me", s.instrument("users_me", s.handleUsersMe))
			private.Get("/sessions", s.instrument("sessions_list", s.handleSessionList))
			private.Get("/sessions/{sessionID}", s.instrument("session_detail", s.handleSessionDetail))
			private.Delete("/sessions/{sessionID}", s.instrument("session_delete", s.handleSessionDelete))
			private.Post("/chat/initiate", s.instrument("chat_initiate", s.handleChatInitiate))
		})
	})

	r.Get("/metrics", s.handleMetrics)

	return r
}

func (s *Server) newBaseRouter() *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	return r
}

// instrument wraps a handler with per-endpoint request metrics.
func (s *Server) instrument(endpoint string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.metrics == nil {
			next(w, r)
			return
		}
		start := time.Now()
		s.metrics.RecordRequestStart(endpoint)
		defer s.metrics.RecordRequestEnd(endpoint)

		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next(sw, r)

		s.metrics.RecordRequest(endpoint, time.Since(start))
		if sw.status >= http.StatusBadRequest {
			s.metrics.RecordError(endpoint)
		}
	}
}

// statusWriter records the response status and keeps Flush available for SSE.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

type sessionContextKey struct{}

func (s *Server) sessionMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess, err := s.authenticateRequest(r)
		if err != nil {
			s.respondError(w, http.StatusUnauthorized, err)
			return
		}
		ctx := context.WithValue(r.Context(), sessionContextKey{}, sess)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) authenticateRequest(r *http.Request) (auth.Session, error) {
	if s.auth == nil {
		return auth.Session{}, errors.New("auth unavailable")
	}
	cookie, err := r.Cookie(sessionCookie)
	if err != nil || cookie.Value == "" {
		return auth.Session{}, errors.New("not authenticated")
	}
	sess, err := s.auth.ValidateToken(cookie.Value)
	if err != nil {
		s.debugf("session rejected: %v", err)
		return auth.Session{}, errors.New("not authenticated")
	}
	return sess, nil
}

func sessionFromContext(ctx context.Context) (auth.Session, bool) {
	sess, ok := ctx.Value(sessionContextKey{}).(auth.Session)
	return sess, ok
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, payload any) {
	if payload == nil {
		w.WriteHeader(status)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func (s *Server) respondError(w http.ResponseWriter, status int, err error) {
	if err == nil {
		err = errors.New("unknown error")
	}
	s.respondJSON(w, status, map[string]any{"error": err.Error()})
}
