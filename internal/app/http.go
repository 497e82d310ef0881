package app

import (
	"bufio"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"huddle/api/internal/auth"
	"huddle/api/internal/authpw"
	"huddle/api/internal/blob"
	"huddle/api/internal/email"
	"huddle/api/internal/metrics"
	"huddle/api/internal/realtime"
	"huddle/api/internal/session"
	"huddle/api/internal/store"
)

type HTTPServer struct {
	service    *Service
	corsOrigin string
	metrics    *metrics.Metrics
	hub        *realtime.Hub
	limiter    *limiterPool
	upgrader   websocket.Upgrader
	log        *slog.Logger
}

type HTTPOption func(*HTTPServer)

func WithRequestMetrics(m *metrics.Metrics) HTTPOption {
	return func(s *HTTPServer) { s.metrics = m }
}

// WithHub enables the /api/ws endpoint backed by hub.
func WithHub(hub *realtime.Hub) HTTPOption {
	return func(s *HTTPServer) { s.hub = hub }
}

func WithAuthRateLimit(rps float64, burst int) HTTPOption {
	return func(s *HTTPServer) { s.limiter = newLimiterPool(rps, burst) }
}

func NewHTTPServer(service *Service, corsOrigin string, opts ...HTTPOption) *HTTPServer {
	s := &HTTPServer{
		service:    service,
		corsOrigin: corsOrigin,
		log:        slog.Default().With("component", "http"),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(s.routes())
}

func (s *HTTPServer) routes() http.Handler {
	r := mux.NewRouter()
	r.Use(s.recordRoute)
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	})

	r.HandleFunc("/api/health", s.handleHealth).Methods(http.MethodGet, http.MethodHead)
	r.HandleFunc("/api/ready", s.handleReady).Methods(http.MethodGet, http.MethodHead)
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)
	}

	r.HandleFunc("/api/auth/signup", s.rateLimited(s.handleSignUp)).Methods(http.MethodPost)
	r.HandleFunc("/api/auth/signin", s.rateLimited(s.handleSignIn)).Methods(http.MethodPost)
	r.HandleFunc("/api/session/refresh", s.rateLimited(s.handleRefresh)).Methods(http.MethodPost)
	r.HandleFunc("/api/session/logout", s.handleLogout).Methods(http.MethodPost)
	r.HandleFunc("/api/users/me", s.handleCurrentUser).Methods(http.MethodGet)
	r.HandleFunc("/api/upload-url", s.handleUploadURL).Methods(http.MethodPost)

	r.HandleFunc("/api/workspaces", s.handleListWorkspaces).Methods(http.MethodGet)
	r.HandleFunc("/api/workspaces", s.handleCreateWorkspace).Methods(http.MethodPost)
	r.HandleFunc("/api/workspaces/{id}", s.handleGetWorkspace).Methods(http.MethodGet)
	r.HandleFunc("/api/workspaces/{id}", s.handleUpdateWorkspace).Methods(http.MethodPatch)
	r.HandleFunc("/api/workspaces/{id}", s.handleRemoveWorkspace).Methods(http.MethodDelete)
	r.HandleFunc("/api/workspaces/{id}/info", s.handleWorkspaceInfo).Methods(http.MethodGet)
	r.HandleFunc("/api/workspaces/{id}/join", s.handleJoinWorkspace).Methods(http.MethodPost)
	r.HandleFunc("/api/workspaces/{id}/join-code", s.handleNewJoinCode).Methods(http.MethodPost)
	r.HandleFunc("/api/workspaces/{id}/invite", s.handleInvite).Methods(http.MethodPost)
	r.HandleFunc("/api/workspaces/{id}/members", s.handleListMembers).Methods(http.MethodGet)
	r.HandleFunc("/api/workspaces/{id}/members/me", s.handleCurrentMember).Methods(http.MethodGet)
	r.HandleFunc("/api/workspaces/{id}/channels", s.handleListChannels).Methods(http.MethodGet)
	r.HandleFunc("/api/workspaces/{id}/channels", s.handleCreateChannel).Methods(http.MethodPost)
	r.HandleFunc("/api/workspaces/{id}/conversations", s.handleCreateConversation).Methods(http.MethodPost)
	r.HandleFunc("/api/workspaces/{id}/search", s.handleSearch).Methods(http.MethodGet)

	r.HandleFunc("/api/members/{id}", s.handleGetMember).Methods(http.MethodGet)
	r.HandleFunc("/api/members/{id}", s.handleUpdateMember).Methods(http.MethodPatch)
	r.HandleFunc("/api/members/{id}", s.handleRemoveMember).Methods(http.MethodDelete)

	r.HandleFunc("/api/channels/{id}", s.handleGetChannel).Methods(http.MethodGet)
	r.HandleFunc("/api/channels/{id}", s.handleUpdateChannel).Methods(http.MethodPatch)
	r.HandleFunc("/api/channels/{id}", s.handleRemoveChannel).Methods(http.MethodDelete)

	r.HandleFunc("/api/messages", s.handleListMessages).Methods(http.MethodGet)
	r.HandleFunc("/api/messages", s.handleCreateMessage).Methods(http.MethodPost)
	r.HandleFunc("/api/messages/{id}", s.handleGetMessage).Methods(http.MethodGet)
	r.HandleFunc("/api/messages/{id}", s.handleUpdateMessage).Methods(http.MethodPatch)
	r.HandleFunc("/api/messages/{id}", s.handleRemoveMessage).Methods(http.MethodDelete)
	r.HandleFunc("/api/messages/{id}/reactions", s.handleToggleReaction).Methods(http.MethodPost)

	r.HandleFunc("/api/ws", s.handleWebsocket).Methods(http.MethodGet)
	return r
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "ready"
	statusCode := http.StatusOK
	checks := map[string]any{
		"database": map[string]any{"status": "ok"},
	}

	if err := s.service.Ping(ctx); err != nil {
		status = "not_ready"
		statusCode = http.StatusServiceUnavailable
		checks["database"] = map[string]any{
			"status": "error",
			"error":  err.Error(),
		}
	}

	writeJSON(w, statusCode, map[string]any{
		"ok":     status == "ready",
		"status": status,
		"checks": checks,
	})
}

func (s *HTTPServer) rateLimited(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.limiter != nil && !s.limiter.Allow(clientIP(r)) {
			writeError(w, http.StatusTooManyRequests, "RATE_LIMITED", "Too many requests", nil)
			return
		}
		next(w, r)
	}
}

func (s *HTTPServer) requireSession(w http.ResponseWriter, r *http.Request) (Session, bool) {
	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return Session{}, false
	}
	return s.sessionFromToken(w, r, token)
}

// optionalSession resolves the caller when a token is present. Without a
// token the caller is anonymous and queries degrade to empty results.
func (s *HTTPServer) optionalSession(w http.ResponseWriter, r *http.Request) (Session, bool) {
	token := bearerToken(r)
	if token == "" {
		return Session{}, true
	}
	return s.sessionFromToken(w, r, token)
}

func (s *HTTPServer) sessionFromToken(w http.ResponseWriter, r *http.Request, token string) (Session, bool) {
	session, err := s.service.SessionFromToken(r.Context(), token)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredToken) || errors.Is(err, auth.ErrInvalidToken) {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
			return Session{}, false
		}
		s.log.ErrorContext(r.Context(), "session lookup failed", "error", err)
		writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "Session lookup failed", nil)
		return Session{}, false
	}
	return session, true
}

func (s *HTTPServer) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message, details := mapError(err)
	if status >= http.StatusInternalServerError {
		s.log.ErrorContext(r.Context(), "request failed", "request_id", requestIDFrom(r.Context()), "error", err)
	}
	writeError(w, status, code, message, details)
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		info := &routeInfo{template: "unmatched"}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		ctx = context.WithValue(ctx, routeInfoKey{}, info)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		if r.Method == http.MethodOptions {
			writer.WriteHeader(http.StatusNoContent)
		} else {
			next.ServeHTTP(writer, r)
		}

		elapsed := time.Since(started)
		if s.metrics != nil {
			s.metrics.ObserveRequest(info.template, r.Method, writer.status, elapsed)
		}
		s.log.InfoContext(ctx, "request",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"route", info.template,
			"status", writer.status,
			"duration_ms", elapsed.Milliseconds(),
		)
	})
}

// recordRoute stores the matched route template for the request log and
// metrics labels.
func (s *HTTPServer) recordRoute(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if info, ok := r.Context().Value(routeInfoKey{}).(*routeInfo); ok {
			if route := mux.CurrentRoute(r); route != nil {
				if template, err := route.GetPathTemplate(); err == nil {
					info.template = template
				}
			}
		}
		next.ServeHTTP(w, r)
	})
}

type requestIDKey struct{}

type routeInfoKey struct{}

type routeInfo struct {
	template string
}

func requestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// Hijack hands the connection to the websocket upgrader.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return hijacker.Hijack()
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PATCH,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	case errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrExpiredToken), errors.Is(err, session.ErrNotFound):
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	case errors.Is(err, authpw.ErrInvalidCredentials):
		return http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid email or password", nil
	case errors.Is(err, authpw.ErrEmailTaken):
		return http.StatusConflict, "EMAIL_EXISTS", "Email already registered", nil
	case errors.Is(err, authpw.ErrInvalidInput):
		return http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil
	case errors.Is(err, store.ErrInvalidCursor):
		return http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Invalid cursor", map[string]any{"field": "cursor"}
	case errors.Is(err, store.ErrConflict):
		return http.StatusConflict, "CONFLICT", "Conflict", nil
	case errors.Is(err, blob.ErrNotConfigured):
		return http.StatusServiceUnavailable, "UPLOADS_UNAVAILABLE", "File storage is not configured", nil
	case errors.Is(err, email.ErrNotConfigured):
		return http.StatusServiceUnavailable, "EMAIL_UNAVAILABLE", "Email delivery is not configured", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
