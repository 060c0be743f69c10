package app

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"planner/api/internal/auth"
	"planner/api/internal/authpw"
)

type HTTPServer struct {
	service    *Service
	corsOrigin string
	logger     *slog.Logger
}

func NewHTTPServer(service *Service, corsOrigin string) *HTTPServer {
	return &HTTPServer{service: service, corsOrigin: corsOrigin, logger: slog.Default()}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
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
		return
	}

	// Auth routes (no session required)
	if r.Method == http.MethodPost && strings.HasPrefix(r.URL.Path, "/api/auth/") {
		s.handleAuth(w, r, strings.TrimPrefix(r.URL.Path, "/api/auth/"))
		return
	}

	session, ok := s.requireSession(w, r)
	if !ok {
		return
	}

	parts := splitPath(r.URL.Path)
	if len(parts) < 2 || parts[0] != "api" {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
		return
	}

	switch parts[1] {
	case "profile":
		s.handleProfile(w, r, session, parts[2:])
	case "projects":
		s.handleProjects(w, r, session, parts[2:])
	case "features":
		s.handleFeatures(w, r, session, parts[2:])
	case "user-stories":
		s.handleUserStories(w, r, session, parts[2:])
	case "tasks":
		s.handleTasks(w, r, session, parts[2:])
	case "search":
		s.handleSearch(w, r, session, parts[2:])
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
	}
}

func (s *HTTPServer) handleProfile(w http.ResponseWriter, r *http.Request, session Session, rest []string) {
	if len(rest) != 0 {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
		return
	}
	switch r.Method {
	case http.MethodGet:
		profile, err := s.service.GetProfile(r.Context(), session.UserID)
		s.respond(w, http.StatusOK, profile, err)
	case http.MethodPut:
		var body fieldUpdateBody
		if !decodeOrReject(w, r, &body) {
			return
		}
		profile, err := s.service.ChangeAccountDetail(r.Context(), session.UserID, body.Field, body.Value)
		s.respond(w, http.StatusOK, profile, err)
	default:
		methodNotAllowed(w)
	}
}

func (s *HTTPServer) handleProjects(w http.ResponseWriter, r *http.Request, session Session, rest []string) {
	ctx := r.Context()
	if len(rest) == 0 {
		switch r.Method {
		case http.MethodGet:
			result, err := s.service.GetUserProjects(ctx, session.UserID)
			s.respond(w, http.StatusOK, result, err)
		case http.MethodPost:
			var body createBody
			if !decodeOrReject(w, r, &body) {
				return
			}
			result, err := s.service.CreateProject(ctx, body.Name, body.Description, session.UserID)
			s.respond(w, http.StatusCreated, result, err)
		case http.MethodPut:
			var body fieldUpdateBody
			if !decodeOrReject(w, r, &body) {
				return
			}
			result, err := s.service.UpdateProject(ctx, body.Field, body.Value, session.UserID, int64(body.ProjectID))
			s.respond(w, http.StatusOK, result, err)
		default:
			methodNotAllowed(w)
		}
		return
	}

	projectID, ok := pathID(w, rest[0])
	if !ok {
		return
	}
	switch {
	case len(rest) == 1 && r.Method == http.MethodGet:
		project, err := s.service.GetProject(ctx, projectID, session.UserID)
		if err == nil && project == nil {
			err = notFound("Project not found")
		}
		s.respond(w, http.StatusOK, project, err)
	case len(rest) == 1 && r.Method == http.MethodDelete:
		result, err := s.service.DeleteProject(ctx, projectID, session.UserID)
		s.respond(w, http.StatusOK, result, err)
	case len(rest) == 2 && rest[1] == "export" && r.Method == http.MethodGet:
		result, err := s.service.ExportProject(ctx, projectID, session.UserID, r.URL.Query().Get("format"))
		if err != nil {
			s.fail(w, err)
			return
		}
		w.Header().Set("Content-Type", result.MimeType)
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", result.Filename))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(result.Data)
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
	}
}

func (s *HTTPServer) handleFeatures(w http.ResponseWriter, r *http.Request, session Session, rest []string) {
	ctx := r.Context()
	switch {
	case len(rest) == 0 && r.Method == http.MethodPost:
		var body createBody
		if !decodeOrReject(w, r, &body) {
			return
		}
		result, err := s.service.CreateFeature(ctx, body.Name, body.Description, session.UserID, int64(body.ProjectID))
		s.respond(w, http.StatusCreated, result, err)
	case len(rest) == 0 && r.Method == http.MethodPut:
		var body fieldUpdateBody
		if !decodeOrReject(w, r, &body) {
			return
		}
		result, err := s.service.UpdateFeature(ctx, body.Field, body.Value, session.UserID, int64(body.FeatureID))
		s.respond(w, http.StatusOK, result, err)
	case len(rest) == 1 && r.Method == http.MethodDelete:
		featureID, ok := pathID(w, rest[0])
		if !ok {
			return
		}
		result, err := s.service.DeleteFeature(ctx, featureID, session.UserID)
		s.respond(w, http.StatusOK, result, err)
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
	}
}

func (s *HTTPServer) handleUserStories(w http.ResponseWriter, r *http.Request, session Session, rest []string) {
	ctx := r.Context()
	switch {
	case len(rest) == 0 && r.Method == http.MethodPost:
		var body createBody
		if !decodeOrReject(w, r, &body) {
			return
		}
		result, err := s.service.CreateUserStory(ctx, body.Name, body.Description, session.UserID, int64(body.ProjectID), int64(body.FeatureID))
		s.respond(w, http.StatusCreated, result, err)
	case len(rest) == 0 && r.Method == http.MethodPut:
		var body fieldUpdateBody
		if !decodeOrReject(w, r, &body) {
			return
		}
		result, err := s.service.UpdateUserStory(ctx, body.Field, body.Value, session.UserID, int64(body.UserStoryID))
		s.respond(w, http.StatusOK, result, err)
	case len(rest) == 1 && r.Method == http.MethodDelete:
		userStoryID, ok := pathID(w, rest[0])
		if !ok {
			return
		}
		result, err := s.service.DeleteUserStory(ctx, userStoryID, session.UserID)
		s.respond(w, http.StatusOK, result, err)
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
	}
}

func (s *HTTPServer) handleTasks(w http.ResponseWriter, r *http.Request, session Session, rest []string) {
	ctx := r.Context()
	switch {
	case len(rest) == 0 && r.Method == http.MethodPost:
		var body createBody
		if !decodeOrReject(w, r, &body) {
			return
		}
		result, err := s.service.CreateTask(ctx, body.Name, session.UserID, int64(body.ProjectID), int64(body.FeatureID), int64(body.UserStoryID))
		s.respond(w, http.StatusCreated, result, err)
	case len(rest) == 0 && r.Method == http.MethodPut:
		var body fieldUpdateBody
		if !decodeOrReject(w, r, &body) {
			return
		}
		result, err := s.service.UpdateTask(ctx, body.Field, body.Value, session.UserID, int64(body.TaskID))
		s.respond(w, http.StatusOK, result, err)
	case len(rest) == 1 && r.Method == http.MethodDelete:
		taskID, ok := pathID(w, rest[0])
		if !ok {
			return
		}
		result, err := s.service.DeleteTask(ctx, taskID, session.UserID)
		s.respond(w, http.StatusOK, result, err)
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
	}
}

func (s *HTTPServer) handleSearch(w http.ResponseWriter, r *http.Request, session Session, rest []string) {
	if len(rest) != 0 || r.Method != http.MethodGet {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
		return
	}
	query := r.URL.Query()
	limit, err := queryInt(query.Get("limit"))
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "limit must be a number", nil)
		return
	}
	offset, err := queryInt(query.Get("offset"))
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "offset must be a number", nil)
		return
	}
	result, err := s.service.Search(r.Context(), session.UserID, query.Get("q"), query.Get("type"), limit, offset)
	s.respond(w, http.StatusOK, result, err)
}

// Request bodies. Ids accept JSON numbers and numeric strings.

type createBody struct {
	Name        string  `json:"name"`
	Description string  `json:"description"`
	ProjectID   idValue `json:"projectId"`
	FeatureID   idValue `json:"featureId"`
	UserStoryID idValue `json:"userStoryId"`
}

type fieldUpdateBody struct {
	Field       string  `json:"field"`
	Value       string  `json:"value"`
	ProjectID   idValue `json:"projectId"`
	FeatureID   idValue `json:"featureId"`
	UserStoryID idValue `json:"userStoryId"`
	TaskID      idValue `json:"taskId"`
}

type idValue int64

func (v *idValue) UnmarshalJSON(data []byte) error {
	raw := strings.Trim(string(data), `"`)
	if raw == "" || raw == "null" {
		*v = 0
		return nil
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid id %q", raw)
	}
	*v = idValue(n)
	return nil
}

func (s *HTTPServer) handleAuth(w http.ResponseWriter, r *http.Request, route string) {
	ctx := r.Context()
	switch route {
	case "signup":
		var body struct {
			Name     string `json:"name"`
			Email    string `json:"email"`
			Username string `json:"username"`
			Password string `json:"password"`
		}
		if !decodeOrReject(w, r, &body) {
			return
		}
		session, err := s.service.SignUp(ctx, authpw.SignUpRequest{
			Name:     body.Name,
			Email:    body.Email,
			Username: body.Username,
			Password: body.Password,
		})
		s.respond(w, http.StatusCreated, sessionPayload(session), err)

	case "login":
		var body struct {
			Username string `json:"username"`
			Password string `json:"password"`
		}
		if !decodeOrReject(w, r, &body) {
			return
		}
		session, err := s.service.Login(ctx, body.Username, body.Password)
		s.respond(w, http.StatusOK, sessionPayload(session), err)

	case "refresh":
		var body struct {
			RefreshToken string `json:"refreshToken"`
		}
		if !decodeOrReject(w, r, &body) {
			return
		}
		session, err := s.service.Refresh(ctx, body.RefreshToken)
		s.respond(w, http.StatusOK, sessionPayload(session), err)

	case "logout":
		session := Session{}
		if token := bearerToken(r); token != "" {
			if parsed, err := s.service.SessionFromToken(ctx, token); err == nil {
				session = parsed
			}
		}
		var body struct {
			RefreshToken string `json:"refreshToken"`
		}
		_ = decodeBody(r, &body)
		_ = s.service.Logout(ctx, session, body.RefreshToken)
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})

	case "reset-password/request":
		var body struct {
			Email string `json:"email"`
		}
		if !decodeOrReject(w, r, &body) {
			return
		}
		token, err := s.service.RequestPasswordReset(ctx, body.Email)
		if err != nil {
			s.fail(w, err)
			return
		}
		response := map[string]any{
			"message": "If an account exists, a reset email has been sent",
		}
		if token != "" {
			response["devResetToken"] = token
		}
		writeJSON(w, http.StatusOK, response)

	case "reset-password":
		var body struct {
			Token       string `json:"token"`
			NewPassword string `json:"newPassword"`
		}
		if !decodeOrReject(w, r, &body) {
			return
		}
		err := s.service.ResetPassword(ctx, body.Token, body.NewPassword)
		s.respond(w, http.StatusOK, map[string]string{"message": "Password reset successfully"}, err)

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
	}
}

func sessionPayload(session Session) map[string]any {
	return map[string]any{
		"accessToken":  session.Token,
		"refreshToken": session.RefreshToken,
		"userId":       session.UserID,
		"username":     session.Username,
		"expiresAt":    session.ExpiresAt.Unix(),
	}
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
		writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "Session lookup failed", nil)
		return Session{}, false
	}
	return session, true
}

func (s *HTTPServer) respond(w http.ResponseWriter, status int, payload any, err error) {
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, status, payload)
}

func (s *HTTPServer) fail(w http.ResponseWriter, err error) {
	status, code, message, details := mapError(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "error", err)
	}
	writeError(w, status, code, message, details)
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		s.logger.LogAttrs(ctx, slog.LevelInfo, "request",
			slog.String("request_id", requestID),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", writer.status),
			slog.Int64("duration_ms", time.Since(started).Milliseconds()),
		)
	})
}

type requestIDKey struct{}

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

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
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

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
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

func decodeOrReject(w http.ResponseWriter, r *http.Request, target any) bool {
	if err := decodeBody(r, target); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return false
	}
	return true
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func pathID(w http.ResponseWriter, raw string) (int64, bool) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "id must be a positive integer", nil)
		return 0, false
	}
	return id, true
}

func queryInt(raw string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	return strconv.Atoi(raw)
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	if errors.Is(err, sql.ErrNoRows) {
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	}
	if errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, auth.ErrExpiredToken) {
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
