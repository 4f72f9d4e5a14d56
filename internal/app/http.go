package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kirbyniko/research-platform-sub006/internal/auth"
	"github.com/kirbyniko/research-platform-sub006/internal/errs"
	"github.com/kirbyniko/research-platform-sub006/internal/logging"
	"github.com/kirbyniko/research-platform-sub006/internal/util"
)

const maxWebhookBytes = 1 << 20

type HTTPServer struct {
	service    *Service
	corsOrigin string
}

func NewHTTPServer(service *Service, corsOrigin string) *HTTPServer {
	return &HTTPServer{service: service, corsOrigin: corsOrigin}
}

func (s *HTTPServer) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(s.withMiddleware)
	r.Use(s.recoverJSON)
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	})
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	})

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/ready", s.handleReady)
		r.Post("/auth/login", s.handleLogin)
		r.Post("/auth/refresh", s.handleRefresh)
		r.Post("/auth/logout", s.handleLogout)
		r.Post("/webhooks/payments", s.handlePaymentWebhook)

		r.Group(func(r chi.Router) {
			r.Use(s.requireSession)

			r.Get("/session", s.handleSession)
			r.Get("/credits/packages", s.handlePackages)

			r.Route("/incidents/{id}", func(r chi.Router) {
				r.Post("/review", s.handleIncidentReview)
				r.Post("/unpublish", s.handleIncidentUnpublish)
				r.Post("/reject", s.handleIncidentReject)
			})

			r.Route("/verifier", func(r chi.Router) {
				r.Get("/stats", s.handleVerifierStats)
				r.Get("/requests", s.handleVerifierQueue)
				r.Get("/requests/{id}", s.handleVerificationRequest)
				r.Post("/requests/{id}/claim", s.handleClaimRequest)
				r.Post("/requests/{id}/reject", s.handleRejectRequest)
				r.Post("/requests/{id}/approve", s.handleApproveRequest)
			})

			r.Route("/projects/{slug}", s.projectRoutes)
		})
	})
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
		logging.Warn(ctx, "readiness check failed", slog.Any("error", errs.Loggable(err)))
		status = "not_ready"
		statusCode = http.StatusServiceUnavailable
		checks["database"] = map[string]any{"status": "error", "error": sanitize(err.Error())}
	}
	writeJSON(w, statusCode, map[string]any{
		"ok":     status == "ready",
		"status": status,
		"checks": checks,
	})
}

func (s *HTTPServer) handleLogin(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	session, err := s.service.Login(r.Context(), body.Email, body.Password)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionView(session))
}

func (s *HTTPServer) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var body struct {
		RefreshToken string `json:"refreshToken"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	session, err := s.service.Refresh(r.Context(), body.RefreshToken)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionView(session))
}

func (s *HTTPServer) handleLogout(w http.ResponseWriter, r *http.Request) {
	var body struct {
		RefreshToken string `json:"refreshToken"`
	}
	_ = decodeBody(r, &body)
	s.service.Logout(r.Context(), body.RefreshToken)
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *HTTPServer) handleSession(w http.ResponseWriter, r *http.Request) {
	session := sessionFrom(r)
	writeJSON(w, http.StatusOK, map[string]any{
		"authenticated": true,
		"userId":        session.UserID,
		"userName":      session.UserName,
		"isVerifier":    session.IsVerifier,
	})
}

func sessionView(session Session) map[string]any {
	return map[string]any{
		"success":      true,
		"token":        session.Token,
		"refreshToken": session.RefreshToken,
		"expiresAt":    session.ExpiresAt,
		"user": map[string]any{
			"id":         session.UserID,
			"name":       session.UserName,
			"isVerifier": session.IsVerifier,
		},
	}
}

func (s *HTTPServer) handleIncidentReview(w http.ResponseWriter, r *http.Request) {
	recordID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	result, err := s.service.IncidentReview(r.Context(), sessionFrom(r).UserID, recordID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":             true,
		"verification_status": result.Record.Status.Label(result.Record.Family),
		"message":             result.Message,
		"incident":            recordView(result.Record, s.service.now()),
	})
}

func (s *HTTPServer) handleIncidentUnpublish(w http.ResponseWriter, r *http.Request) {
	recordID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var body struct {
		Reason string `json:"reason"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	result, err := s.service.IncidentUnpublish(r.Context(), sessionFrom(r).UserID, recordID, body.Reason)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"message":  result.Message,
		"incident": recordView(result.Record, s.service.now()),
	})
}

func (s *HTTPServer) handleIncidentReject(w http.ResponseWriter, r *http.Request) {
	recordID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var body struct {
		Reason string `json:"reason"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	result, err := s.service.IncidentReject(r.Context(), sessionFrom(r).UserID, recordID, body.Reason)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":             true,
		"verification_status": result.Record.Status.Label(result.Record.Family),
		"message":             result.Message,
		"incident":            recordView(result.Record, s.service.now()),
	})
}

func (s *HTTPServer) handleVerifierStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.service.VerifierStats(r.Context(), sessionFrom(r).UserID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":          true,
		"current_assigned": stats.CurrentAssigned,
		"max_concurrent":   stats.MaxConcurrent,
		"total_completed":  stats.TotalCompleted,
		"total_rejected":   stats.TotalRejected,
	})
}

func (s *HTTPServer) handleVerifierQueue(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryInt(w, r, "limit", 50)
	if !ok {
		return
	}
	items, err := s.service.VerifierQueue(r.Context(), sessionFrom(r).UserID, limit)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	out := make([]map[string]any, 0, len(items))
	for _, item := range items {
		out = append(out, requestView(item))
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "requests": out})
}

func (s *HTTPServer) handleVerificationRequest(w http.ResponseWriter, r *http.Request) {
	requestID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	req, items, err := s.service.VerificationRequest(r.Context(), sessionFrom(r).UserID, requestID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	out := make([]map[string]any, 0, len(items))
	for _, item := range items {
		out = append(out, historyView(item))
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "request": requestView(req), "history": out})
}

func (s *HTTPServer) handleClaimRequest(w http.ResponseWriter, r *http.Request) {
	requestID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	req, err := s.service.ClaimRequest(r.Context(), sessionFrom(r).UserID, requestID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "request": requestView(req)})
}

func (s *HTTPServer) handleRejectRequest(w http.ResponseWriter, r *http.Request) {
	requestID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var body struct {
		Reason string `json:"reason"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	req, err := s.service.RejectRequest(r.Context(), sessionFrom(r).UserID, requestID, body.Reason)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "request": requestView(req)})
}

func (s *HTTPServer) handleApproveRequest(w http.ResponseWriter, r *http.Request) {
	requestID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	req, err := s.service.ApproveRequest(r.Context(), sessionFrom(r).UserID, requestID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "request": requestView(req)})
}

func (s *HTTPServer) handlePackages(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "packages": s.service.Packages()})
}

func (s *HTTPServer) handlePaymentWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "Could not read body", nil)
		return
	}
	applied, err := s.service.HandlePaymentWebhook(r.Context(), body, r.Header.Get("X-Signature"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "applied": applied})
}

type sessionKey struct{}

func sessionFrom(r *http.Request) Session {
	session, _ := r.Context().Value(sessionKey{}).(Session)
	return session
}

func (s *HTTPServer) requireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
			return
		}
		session, err := s.service.SessionFromToken(r.Context(), token)
		if err != nil {
			if errors.Is(err, auth.ErrExpiredToken) || errors.Is(err, auth.ErrInvalidToken) {
				writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
				return
			}
			writeServiceError(w, r, err)
			return
		}
		ctx := logging.WithAttrs(r.Context(), slog.Int64("user_id", session.UserID))
		ctx = context.WithValue(ctx, sessionKey{}, session)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = util.NewID("")
		}
		ctx := logging.WithAttrs(r.Context(), slog.String("request_id", requestID))
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		if r.Method == http.MethodOptions {
			writer.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(writer, r)

		logging.Info(ctx, "http request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", writer.status),
			slog.Int64("duration_ms", time.Since(started).Milliseconds()),
		)
	})
}

// recoverJSON turns a handler panic into the standard server error body.
func (s *HTTPServer) recoverJSON(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rvr := recover()
			if rvr == nil {
				return
			}
			if rvr == http.ErrAbortHandler {
				panic(rvr)
			}
			logging.Error(r.Context(), "handler panic",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Any("panic", rvr),
				slog.String("stack", string(debug.Stack())))
			if r.Header.Get("Connection") != "Upgrade" {
				writeError(w, http.StatusInternalServerError, "SERVER_ERROR", serverErrorMessage, nil)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID, X-Signature, X-Source-URL")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,PATCH,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"success": false,
		"code":    code,
		"error":   message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

// writeServiceError maps err for the client. Server errors are logged in
// full here because the client only ever sees "Server error".
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message, details := mapError(err)
	if status >= http.StatusInternalServerError {
		logging.Error(r.Context(), "request failed",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("code", code),
			slog.Any("error", errs.Loggable(err)))
	}
	writeError(w, status, code, message, details)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, http.ErrBodyReadAfterClose) {
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

func pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "invalid id", nil)
		return 0, false
	}
	return id, true
}

func queryInt(w http.ResponseWriter, r *http.Request, name string, fallback int) (int, bool) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return fallback, true
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 0 {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", fmt.Sprintf("%s must be a non-negative integer", name), nil)
		return 0, false
	}
	return value, true
}
