package app

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"sircharge/admin/internal/auth"
	"sircharge/admin/internal/metrics"
	"sircharge/admin/internal/rbac"
)

type HTTPServer struct {
	service    *Service
	corsOrigin string
	logger     *zap.Logger
}

func NewHTTPServer(service *Service, corsOrigin string, logger *zap.Logger) *HTTPServer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPServer{service: service, corsOrigin: corsOrigin, logger: logger}
}

// sessionHandler is a handler that runs after the session has been checked.
type sessionHandler func(w http.ResponseWriter, r *http.Request, session Session)

func (s *HTTPServer) Handler() http.Handler {
	r := mux.NewRouter()
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	})
	r.Use(routeRecorder)

	r.HandleFunc("/api/health", s.handleHealth).Methods(http.MethodGet, http.MethodHead)
	r.HandleFunc("/api/ready", s.handleReady).Methods(http.MethodGet, http.MethodHead)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	r.HandleFunc("/api/auth/signin", s.handleAuthSignIn).Methods(http.MethodPost)
	r.HandleFunc("/api/auth/reset-password/request", s.handleAuthRequestReset).Methods(http.MethodPost)
	r.HandleFunc("/api/auth/reset-password", s.handleAuthResetPassword).Methods(http.MethodPost)
	r.HandleFunc("/api/session", s.handleSession).Methods(http.MethodGet)
	r.HandleFunc("/api/session/refresh", s.handleSessionRefresh).Methods(http.MethodPost)
	r.HandleFunc("/api/session/logout", s.handleSessionLogout).Methods(http.MethodPost)
	r.HandleFunc("/api/public/content", s.handlePublicContent).Methods(http.MethodGet)

	admin := r.PathPrefix("/api/admin").Subrouter()
	read := func(path string, h sessionHandler) {
		admin.Handle(path, s.guard(rbac.ActionRead, h)).Methods(http.MethodGet)
	}
	action := func(method, path string, act rbac.Action, h sessionHandler) {
		admin.Handle(path, s.guard(act, h)).Methods(method)
	}

	read("/dashboard", s.handleDashboard)
	read("/search", s.handleSearch)
	read("/analytics/usage", s.handleUsageAnalytics)
	read("/analytics/features", s.handleFeatureAnalytics)
	read("/analytics/behavior", s.handleBehaviorAnalytics)
	read("/analytics/prompts", s.handlePromptAnalytics)
	read("/analytics/prompts/{id}/series", s.handlePromptSeries)
	action(http.MethodGet, "/export/{file}", rbac.ActionAdmin, s.handleExport)

	read("/prompts", s.handleListPrompts)
	action(http.MethodPost, "/prompts", rbac.ActionWrite, s.handleCreatePrompt)
	read("/prompts/{id}", s.handleGetPrompt)
	action(http.MethodPut, "/prompts/{id}", rbac.ActionWrite, s.handleSavePrompt)
	action(http.MethodDelete, "/prompts/{id}", rbac.ActionAdmin, s.handleArchivePrompt)
	read("/prompts/{id}/versions", s.handleListPromptVersions)
	read("/prompts/{id}/versions/{version:[0-9]+}", s.handleGetPromptVersion)
	read("/prompts/{id}/diff", s.handleDiffPrompt)
	action(http.MethodPost, "/prompts/{id}/activate", rbac.ActionWrite, s.handleActivatePrompt)

	read("/tiers", s.handleListTiers)
	action(http.MethodPost, "/tiers", rbac.ActionWrite, s.handleCreateTier)
	action(http.MethodPut, "/tiers/{id}", rbac.ActionWrite, s.handleUpdateTier)
	action(http.MethodDelete, "/tiers/{id}", rbac.ActionAdmin, s.handleDeleteTier)

	read("/users", s.handleListUsers)
	action(http.MethodPost, "/users", rbac.ActionAdmin, s.handleCreateOperator)
	read("/users/{id}", s.handleGetUser)
	action(http.MethodPut, "/users/{id}/role", rbac.ActionAdmin, s.handleUpdateUserRole)
	action(http.MethodPut, "/users/{id}/status", rbac.ActionSupport, s.handleUpdateUserStatus)
	action(http.MethodPut, "/users/{id}/tier", rbac.ActionWrite, s.handleUpdateUserTier)
	read("/users/{id}/overrides", s.handleListOverrides)
	action(http.MethodPost, "/users/{id}/overrides", rbac.ActionAdmin, s.handleCreateOverride)
	action(http.MethodDelete, "/users/{id}/overrides/{overrideId}", rbac.ActionAdmin, s.handleDeleteOverride)

	read("/notifications", s.handleListNotifications)
	read("/notifications/stats", s.handleNotificationStats)
	action(http.MethodPost, "/notifications", rbac.ActionSupport, s.handleSendNotification)

	read("/vocabulary", s.handleListVocabulary)
	action(http.MethodPost, "/vocabulary", rbac.ActionWrite, s.handleCreateVocabulary)
	action(http.MethodPost, "/vocabulary/import", rbac.ActionWrite, s.handleImportVocabulary)
	action(http.MethodPut, "/vocabulary/{id}", rbac.ActionWrite, s.handleUpdateVocabulary)
	action(http.MethodDelete, "/vocabulary/{id}", rbac.ActionWrite, s.handleDeleteVocabulary)

	read("/content", s.handleListContent)
	action(http.MethodPost, "/content", rbac.ActionWrite, s.handleCreateContent)
	read("/content/{id}", s.handleGetContent)
	action(http.MethodPut, "/content/{id}", rbac.ActionWrite, s.handleUpdateContent)
	action(http.MethodDelete, "/content/{id}", rbac.ActionWrite, s.handleDeleteContent)
	action(http.MethodPost, "/content/{id}/publish", rbac.ActionWrite, s.handlePublishContent(true))
	action(http.MethodPost, "/content/{id}/unpublish", rbac.ActionWrite, s.handlePublishContent(false))
	action(http.MethodPost, "/content/{id}/image", rbac.ActionWrite, s.handleUploadContentImage)

	c := cors.New(cors.Options{
		AllowedOrigins: strings.Split(s.corsOrigin, ","),
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID", "Content-Disposition"},
	})
	return s.withMiddleware(c.Handler(r))
}

// guard resolves the bearer session and checks the role before calling next.
func (s *HTTPServer) guard(action rbac.Action, next sessionHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		session, ok := s.requireSession(w, r)
		if !ok {
			return
		}
		if !session.can(action) {
			s.forbid(w, r, session, action)
			return
		}
		next(w, r, session)
	})
}

// forbid writes a 403 Forbidden response and logs the denial
func (s *HTTPServer) forbid(w http.ResponseWriter, r *http.Request, session Session, action rbac.Action) {
	s.logger.Info("permission denied",
		zap.String("request_id", requestID(r.Context())),
		zap.String("user_id", session.UserID),
		zap.String("role", session.Role),
		zap.String("action", string(action)),
		zap.String("path", r.URL.Path),
	)
	writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
}

func (s *HTTPServer) requireSession(w http.ResponseWriter, r *http.Request) (Session, bool) {
	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return Session{}, false
	}
	session, err := s.service.SessionFromToken(r.Context(), token)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredToken) || errors.Is(err, auth.ErrInvalidToken) {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
			return Session{}, false
		}
		s.logger.Error("session lookup", zap.String("request_id", requestID(r.Context())), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "Session lookup failed", nil)
		return Session{}, false
	}
	return session, true
}

// fail maps a service error to a response. Server errors are logged with the
// request id; everything else is the caller's problem.
func (s *HTTPServer) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message, details := mapError(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			zap.String("request_id", requestID(r.Context())),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
	}
	writeError(w, status, code, message, details)
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}
		info := &requestInfo{id: requestID}
		r = r.WithContext(context.WithValue(r.Context(), requestInfoKey{}, info))

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		writer.Header().Set("X-Request-ID", requestID)
		writer.Header().Set("Cache-Control", "no-store")
		writer.Header().Set("Content-Type", "application/json")

		next.ServeHTTP(writer, r)

		elapsed := time.Since(started)
		metrics.ObserveRequest(r.Method, info.route, writer.status, elapsed)
		s.logger.Info("request",
			zap.String("request_id", requestID),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", writer.status),
			zap.Int64("duration_ms", elapsed.Milliseconds()),
		)
	})
}

type requestInfoKey struct{}

// requestInfo is filled in as the request moves through the router so the
// outer middleware can label metrics with the route template.
type requestInfo struct {
	id    string
	route string
}

func routeRecorder(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if info, ok := r.Context().Value(requestInfoKey{}).(*requestInfo); ok {
			if route := mux.CurrentRoute(r); route != nil {
				if tpl, err := route.GetPathTemplate(); err == nil {
					info.route = tpl
				}
			}
		}
		next.ServeHTTP(w, r)
	})
}

func requestID(ctx context.Context) string {
	if info, ok := ctx.Value(requestInfoKey{}).(*requestInfo); ok {
		return info.id
	}
	return ""
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
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

// queryTime accepts RFC 3339 or a bare date. A bare date used as the end of
// a range covers that whole day.
func queryTime(r *http.Request, name string, end bool) (time.Time, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	t, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return time.Time{}, validationError(fmt.Sprintf("%s must be a date (YYYY-MM-DD) or RFC 3339 time", name), map[string]string{name: "invalid time"})
	}
	if end {
		t = t.Add(24 * time.Hour)
	}
	return t, nil
}

func queryInt(r *http.Request, name string) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, validationError(fmt.Sprintf("%s must be an integer", name), map[string]string{name: "invalid integer"})
	}
	return v, nil
}

func rangeQuery(r *http.Request) (RangeQuery, error) {
	from, err := queryTime(r, "from", false)
	if err != nil {
		return RangeQuery{}, err
	}
	to, err := queryTime(r, "to", true)
	if err != nil {
		return RangeQuery{}, err
	}
	q := r.URL.Query()
	return RangeQuery{
		From:        from,
		To:          to,
		Granularity: q.Get("granularity"),
		Feature:     strings.TrimSpace(q.Get("feature")),
	}, nil
}
