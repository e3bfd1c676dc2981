package app

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"lectern/api/internal/auth"
	"lectern/api/internal/authpw"
	"lectern/api/internal/search"
	"lectern/api/internal/store"
)

type HTTPServer struct {
	service    *Service
	corsOrigin string
	log        *zap.Logger
}

func NewHTTPServer(service *Service, corsOrigin string) *HTTPServer {
	return &HTTPServer{service: service, corsOrigin: corsOrigin, log: service.log.Named("http")}
}

func (s *HTTPServer) Handler() http.Handler {
	mux := http.NewServeMux()
	if s.service.metrics != nil {
		mux.Handle("/metrics", s.service.metrics.Handler())
	}
	mux.Handle("/", s.withMiddleware(http.HandlerFunc(s.handle)))
	return mux
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

	if r.Method == http.MethodPost && r.URL.Path == "/api/auth/signin" {
		var body struct {
			Email    string `json:"email"`
			Password string `json:"password"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		session, err := s.service.SignIn(r.Context(), body.Email, body.Password)
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		s.writeSession(w, session)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/auth/refresh" {
		var body struct {
			RefreshToken string `json:"refreshToken"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		session, err := s.service.Refresh(r.Context(), body.RefreshToken)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Refresh token invalid", nil)
			return
		}
		s.writeSession(w, session)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/auth/logout" {
		session := s.optionalSession(r)
		var body struct {
			RefreshToken string `json:"refreshToken"`
		}
		_ = decodeBody(r, &body)
		if err := s.service.Logout(r.Context(), session, body.RefreshToken); err != nil {
			s.log.Warn("logout revoke failed", zap.String("user_id", session.UserID), zap.Error(err))
		}
		auth.ClearSessionCookie(w, s.service.CookieOptions())
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/session" {
		session := s.optionalSession(r)
		if session.UserID == "" {
			writeJSON(w, http.StatusOK, map[string]any{"authenticated": false, "userName": nil})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"authenticated": true,
			"userId":        session.UserID,
			"userName":      session.UserName,
			"email":         session.Email,
			"role":          session.Role,
		})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/search" {
		s.handleSearch(w, r)
		return
	}

	parts := splitPath(r.URL.Path)
	if len(parts) < 2 || parts[0] != "api" {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}

	if parts[1] == "admin" {
		session, ok := s.requireSession(w, r)
		if !ok {
			return
		}
		s.handleAdmin(w, r, session, parts[2:])
		return
	}

	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return
	}
	session := s.optionalSession(r)

	switch {
	case len(parts) == 2 && parts[1] == "subjects":
		tree, err := s.service.Tree(r.Context(), session)
		s.respond(w, r, tree, err)
	case len(parts) == 4 && parts[1] == "subjects" && parts[3] == "topics":
		topics, err := s.service.ListTopics(r.Context(), parts[2])
		s.respond(w, r, topics, err)
	case len(parts) == 4 && parts[1] == "topics" && parts[3] == "articles":
		articles, err := s.service.ListArticles(r.Context(), session, parts[2])
		s.respond(w, r, articles, err)
	case len(parts) == 4 && parts[1] == "topics" && parts[3] == "export.pdf":
		s.handleExport(w, r, session, parts[2])
	case len(parts) == 3 && parts[1] == "articles":
		article, err := s.service.GetArticle(r.Context(), session, parts[2])
		s.respond(w, r, article, err)
	case len(parts) == 4 && parts[1] == "articles" && parts[3] == "history":
		if session.UserID == "" {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
			return
		}
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		history, err := s.service.ArticleHistory(r.Context(), session, parts[2], limit)
		s.respond(w, r, history, err)
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

// contentBody is the union of the admin create, update and move payloads.
type contentBody struct {
	Title     string  `json:"title"`
	Slug      string  `json:"slug"`
	SubjectID string  `json:"subjectId"`
	TopicID   string  `json:"topicId"`
	Body      *string `json:"body"`
	Published *bool   `json:"published"`
	SHA       string  `json:"sha"`
	ParentID  string  `json:"parentId"`
	AfterID   string  `json:"afterId"`
	BeforeID  string  `json:"beforeId"`
}

func (b contentBody) position() store.Position {
	return store.Position{AfterID: strings.TrimSpace(b.AfterID), BeforeID: strings.TrimSpace(b.BeforeID)}
}

var adminKinds = map[string]store.Kind{
	"subjects": store.KindSubject,
	"topics":   store.KindTopic,
	"articles": store.KindArticle,
}

func (s *HTTPServer) handleAdmin(w http.ResponseWriter, r *http.Request, session Session, parts []string) {
	if len(parts) == 1 && parts[0] == "rank" && r.Method == http.MethodPost {
		var body struct {
			Before string `json:"before"`
			After  string `json:"after"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		result, err := s.service.ComputeRank(session, body.Before, body.After)
		s.respond(w, r, result, err)
		return
	}

	if len(parts) == 1 && parts[0] == "users" && r.Method == http.MethodPost {
		var body struct {
			Email       string `json:"email"`
			DisplayName string `json:"displayName"`
			Password    string `json:"password"`
			Role        string `json:"role"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		user, err := s.service.SaveUser(r.Context(), session, authpw.SaveUserRequest{
			Email:       body.Email,
			DisplayName: body.DisplayName,
			Password:    body.Password,
			Role:        body.Role,
		})
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, userView(user))
		return
	}

	if len(parts) == 0 {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}
	kind, ok := adminKinds[parts[0]]
	if !ok {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}

	if len(parts) == 2 && parts[1] == "rank-status" && r.Method == http.MethodGet {
		scope := store.Scope{Kind: kind, ParentID: strings.TrimSpace(r.URL.Query().Get("parentId"))}
		result, err := s.service.RankStatus(r.Context(), session, scope)
		s.respond(w, r, result, err)
		return
	}

	var body contentBody
	if r.Method == http.MethodPost || r.Method == http.MethodPut {
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
	}

	switch {
	case len(parts) == 1 && r.Method == http.MethodPost:
		result, err := s.create(r.Context(), session, kind, body)
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, result)
	case len(parts) == 2 && parts[1] == "rebalance" && r.Method == http.MethodPost:
		scope := store.Scope{Kind: kind, ParentID: strings.TrimSpace(body.ParentID)}
		result, err := s.service.Rebalance(r.Context(), session, scope)
		s.respond(w, r, result, err)
	case len(parts) == 2 && r.Method == http.MethodPut:
		result, err := s.update(r.Context(), session, kind, parts[1], body)
		s.respond(w, r, result, err)
	case len(parts) == 2 && r.Method == http.MethodDelete:
		err := s.remove(r.Context(), session, kind, parts[1])
		s.respond(w, r, map[string]any{"ok": true}, err)
	case len(parts) == 3 && parts[2] == "move" && r.Method == http.MethodPost:
		result, err := s.move(r.Context(), session, kind, parts[1], MoveInput{
			ParentID: strings.TrimSpace(body.ParentID),
			Position: body.position(),
		})
		s.respond(w, r, result, err)
	default:
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	}
}

func (s *HTTPServer) create(ctx context.Context, session Session, kind store.Kind, body contentBody) (map[string]any, error) {
	switch kind {
	case store.KindSubject:
		return s.service.CreateSubject(ctx, session, SubjectInput{Title: body.Title, Slug: body.Slug, Position: body.position()})
	case store.KindTopic:
		return s.service.CreateTopic(ctx, session, TopicInput{
			SubjectID: firstNonBlank(body.SubjectID, body.ParentID),
			Title:     body.Title,
			Slug:      body.Slug,
			Position:  body.position(),
		})
	default:
		return s.service.CreateArticle(ctx, session, ArticleInput{
			TopicID:   firstNonBlank(body.TopicID, body.ParentID),
			Title:     body.Title,
			Slug:      body.Slug,
			Body:      body.Body,
			Published: body.Published,
			Position:  body.position(),
		})
	}
}

func (s *HTTPServer) update(ctx context.Context, session Session, kind store.Kind, id string, body contentBody) (map[string]any, error) {
	switch kind {
	case store.KindSubject:
		return s.service.UpdateSubject(ctx, session, id, SubjectInput{Title: body.Title, Slug: body.Slug})
	case store.KindTopic:
		return s.service.UpdateTopic(ctx, session, id, TopicInput{Title: body.Title, Slug: body.Slug})
	default:
		return s.service.UpdateArticle(ctx, session, id, ArticleInput{
			Title:     body.Title,
			Slug:      body.Slug,
			Body:      body.Body,
			Published: body.Published,
			SHA:       body.SHA,
		})
	}
}

func (s *HTTPServer) move(ctx context.Context, session Session, kind store.Kind, id string, input MoveInput) (map[string]any, error) {
	switch kind {
	case store.KindSubject:
		return s.service.MoveSubject(ctx, session, id, input)
	case store.KindTopic:
		return s.service.MoveTopic(ctx, session, id, input)
	default:
		return s.service.MoveArticle(ctx, session, id, input)
	}
}

func (s *HTTPServer) remove(ctx context.Context, session Session, kind store.Kind, id string) error {
	switch kind {
	case store.KindSubject:
		return s.service.DeleteSubject(ctx, session, id)
	case store.KindTopic:
		return s.service.DeleteTopic(ctx, session, id)
	default:
		return s.service.DeleteArticle(ctx, session, id)
	}
}

func (s *HTTPServer) handleSearch(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	text := strings.TrimSpace(query.Get("q"))
	if text == "" {
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "q is required", nil)
		return
	}
	filter := search.ResultType(query.Get("type"))
	if filter != "" && !filter.Valid() {
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "type must be subject, topic or article", nil)
		return
	}
	limit, _ := strconv.Atoi(query.Get("limit"))
	offset, _ := strconv.Atoi(query.Get("offset"))

	result, err := s.service.Search(r.Context(), s.optionalSession(r), search.Query{
		Text:       text,
		FilterType: filter,
		Limit:      limit,
		Offset:     offset,
	})
	s.respond(w, r, result, err)
}

func (s *HTTPServer) handleExport(w http.ResponseWriter, r *http.Request, session Session, topicID string) {
	result, err := s.service.ExportTopic(r.Context(), session, topicID)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if result.URL != "" {
		writeJSON(w, http.StatusOK, map[string]any{
			"url":       result.URL,
			"expiresAt": result.ExpiresAt,
			"filename":  result.Filename,
		})
		return
	}
	w.Header().Set("Content-Type", result.MimeType)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, result.Filename))
	w.Header().Set("Content-Length", strconv.Itoa(len(result.Data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(result.Data)
}

func (s *HTTPServer) writeSession(w http.ResponseWriter, session Session) {
	auth.SetSessionCookie(w, s.service.CookieOptions(), session.Token, session.ExpiresAt)
	writeJSON(w, http.StatusOK, map[string]any{
		"accessToken":  session.Token,
		"refreshToken": session.RefreshToken,
		"userId":       session.UserID,
		"userName":     session.UserName,
		"role":         session.Role,
		"expiresAt":    session.ExpiresAt.Unix(),
	})
}

func (s *HTTPServer) respond(w http.ResponseWriter, r *http.Request, payload any, err error) {
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, payload)
}

func (s *HTTPServer) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message, details := mapError(err)
	if status >= http.StatusInternalServerError {
		s.log.Error("request failed",
			zap.String("request_id", requestID(r.Context())),
			zap.String("code", code),
			zap.Error(err),
		)
	}
	writeError(w, status, code, message, details)
}

func (s *HTTPServer) requireSession(w http.ResponseWriter, r *http.Request) (Session, bool) {
	token := auth.FromRequest(r, s.service.cfg.CookieName)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return Session{}, false
	}
	session, err := s.service.SessionFromToken(r.Context(), token)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredToken) || errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, sql.ErrNoRows) {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
			return Session{}, false
		}
		s.log.Error("session lookup failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "Session lookup failed", nil)
		return Session{}, false
	}
	return session, true
}

// optionalSession returns the caller's session, or an anonymous one when
// the request carries no valid token.
func (s *HTTPServer) optionalSession(r *http.Request) Session {
	token := auth.FromRequest(r, s.service.cfg.CookieName)
	if token == "" {
		return Session{}
	}
	session, err := s.service.SessionFromToken(r.Context(), token)
	if err != nil {
		return Session{}
	}
	return session
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = randomRequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", reqID)

		next.ServeHTTP(writer, r)

		elapsed := time.Since(started)
		s.service.metrics.ObserveHTTP(r.Method, routeClass(r.URL.Path), writer.status, elapsed)
		s.log.Info("request",
			zap.String("request_id", reqID),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", writer.status),
			zap.Int64("duration_ms", elapsed.Milliseconds()),
		)
	})
}

type requestIDKey struct{}

func requestID(ctx context.Context) string {
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

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

var routeLiterals = map[string]bool{
	"api": true, "health": true, "ready": true, "auth": true, "signin": true,
	"refresh": true, "logout": true, "session": true, "search": true,
	"subjects": true, "topics": true, "articles": true, "admin": true,
	"move": true, "rebalance": true, "rank": true, "rank-status": true,
	"users": true, "history": true, "export.pdf": true,
}

// routeClass replaces id segments with a placeholder to keep metric label
// cardinality bounded.
func routeClass(path string) string {
	parts := splitPath(path)
	if len(parts) == 0 {
		return "/"
	}
	for i, part := range parts {
		if !routeLiterals[part] {
			parts[i] = "{id}"
		}
	}
	return "/" + strings.Join(parts, "/")
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

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, http.ErrBodyReadAfterClose) || errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}
