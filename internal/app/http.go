package app

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"campushub/api/internal/auth"
	"campushub/api/internal/forum"
	"campushub/api/internal/identity"
	"campushub/api/internal/metrics"
	"campushub/api/internal/search"
	"campushub/api/internal/session"
	"campushub/api/internal/store"
)

type HTTPServer struct {
	service    *Service
	metrics    *metrics.Metrics
	corsOrigin string
}

func NewHTTPServer(service *Service, m *metrics.Metrics, corsOrigin string) *HTTPServer {
	return &HTTPServer{service: service, metrics: m, corsOrigin: corsOrigin}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/metrics" && s.metrics != nil {
		s.metrics.Handler().ServeHTTP(w, r)
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
	if r.Method == http.MethodPost && r.URL.Path == "/api/auth/signup" {
		s.handleAuthSignUp(w, r)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/auth/signin" {
		s.handleAuthSignIn(w, r)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/auth/verify-email" {
		s.handleAuthVerifyEmail(w, r)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/auth/magic-link" {
		s.handleMagicLinkRequest(w, r)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/auth/magic-link/consume" {
		s.handleMagicLinkConsume(w, r)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/auth/oauth/google" {
		s.handleGoogleStart(w, r)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/auth/oauth/google/callback" {
		s.handleGoogleCallback(w, r)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/session" {
		s.handleSessionInfo(w, r)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/session/refresh" {
		// Silent degrade: a failed refresh is a signed-out answer, not
		// an error response.
		if sess := s.service.RefreshSession(r.Context()); sess != nil {
			writeJSON(w, http.StatusOK, map[string]any{
				"authenticated": true,
				"userId":        sess.UserID,
				"email":         sess.Email,
				"expiresAt":     sess.ExpiresAt,
			})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"authenticated": false})
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/session/logout" {
		s.service.Logout(r.Context(), bearerToken(r))
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/profile/username" {
		s.handleChooseUsername(w, r)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/search" {
		s.handleSearch(w, r)
		return
	}

	parts := splitPath(r.URL.Path)
	if len(parts) >= 2 && parts[0] == "api" && parts[1] == "posts" {
		s.handlePosts(w, r, parts[2:])
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

// ---------------------------------------------------------------------------
// Auth

func (s *HTTPServer) handleAuthSignUp(w http.ResponseWriter, r *http.Request) {
	if !s.service.AllowAuthAttempt(clientKey(r)) {
		writeError(w, http.StatusTooManyRequests, "RATE_LIMITED", "Too many attempts, slow down", nil)
		return
	}
	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	profile, err := s.service.identity.SignUp(r.Context(), body.Email, body.Password)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"userId":              profile.ID,
		"email":               profile.Email,
		"requiresEmailVerify": true,
	})
}

func (s *HTTPServer) handleAuthSignIn(w http.ResponseWriter, r *http.Request) {
	if !s.service.AllowAuthAttempt(clientKey(r)) {
		writeError(w, http.StatusTooManyRequests, "RATE_LIMITED", "Too many attempts, slow down", nil)
		return
	}
	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	profile, err := s.service.identity.SignIn(r.Context(), body.Email, body.Password)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	s.writeSession(w, r, profile)
}

func (s *HTTPServer) handleAuthVerifyEmail(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Token string `json:"token"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	if err := s.service.identity.VerifyEmail(r.Context(), body.Token); err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleMagicLinkRequest(w http.ResponseWriter, r *http.Request) {
	if !s.service.AllowAuthAttempt(clientKey(r)) {
		writeError(w, http.StatusTooManyRequests, "RATE_LIMITED", "Too many attempts, slow down", nil)
		return
	}
	var body struct {
		Email string `json:"email"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	if _, err := s.service.identity.RequestMagicLink(r.Context(), body.Email); err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	// Same answer whether or not the address has an account.
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleMagicLinkConsume(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Token string `json:"token"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	profile, err := s.service.identity.ConsumeMagicLink(r.Context(), body.Token)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	s.writeSession(w, r, profile)
}

func (s *HTTPServer) handleGoogleStart(w http.ResponseWriter, r *http.Request) {
	if s.service.google == nil || !s.service.google.Configured() {
		writeError(w, http.StatusNotImplemented, "PROVIDER_DISABLED", "Google sign-in is not configured", nil)
		return
	}
	state := randomRequestID()
	writeJSON(w, http.StatusOK, map[string]any{
		"url":   s.service.google.AuthCodeURL(state),
		"state": state,
	})
}

func (s *HTTPServer) handleGoogleCallback(w http.ResponseWriter, r *http.Request) {
	if s.service.google == nil || !s.service.google.Configured() {
		writeError(w, http.StatusNotImplemented, "PROVIDER_DISABLED", "Google sign-in is not configured", nil)
		return
	}
	code := r.URL.Query().Get("code")
	if code == "" {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "missing code", nil)
		return
	}
	profile, err := s.service.identity.SignInWithGoogle(r.Context(), s.service.google, code)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "OAUTH_FAILED", "Google sign-in failed", nil)
		return
	}
	s.writeSession(w, r, profile)
}

func (s *HTTPServer) writeSession(w http.ResponseWriter, r *http.Request, profile store.Profile) {
	payload, err := s.service.IssueSession(r.Context(), profile)
	if err != nil {
		log.Printf("issue session for %s: %v", profile.ID, err)
		writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "Could not create session", nil)
		return
	}
	writeJSON(w, http.StatusOK, payload)
}

// ---------------------------------------------------------------------------
// Session + profile

func (s *HTTPServer) handleSessionInfo(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	if token == "" {
		writeJSON(w, http.StatusOK, map[string]any{"authenticated": false})
		return
	}
	sess, err := s.service.SessionFromToken(r.Context(), token)
	if err != nil {
		writeJSON(w, http.StatusOK, map[string]any{"authenticated": false})
		return
	}

	info := map[string]any{
		"authenticated": true,
		"userId":        sess.UserID,
		"email":         sess.Email,
		"expiresAt":     sess.ExpiresAt,
		"canPost":       s.service.CanPost(r.Context(), sess.UserID),
	}
	if profile, err := s.service.profiles.GetProfile(r.Context(), sess.UserID); err == nil && profile.Username != "" {
		info["username"] = profile.Username
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *HTTPServer) handleChooseUsername(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.requireSession(w, r)
	if !ok {
		return
	}
	var body struct {
		Username string `json:"username"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	if err := s.service.identity.ChooseUsername(r.Context(), sess.UserID, body.Username); err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "username": strings.ToLower(strings.TrimSpace(body.Username))})
}

// ---------------------------------------------------------------------------
// Posts, votes, comments

func (s *HTTPServer) handlePosts(w http.ResponseWriter, r *http.Request, rest []string) {
	switch {
	case len(rest) == 0 && r.Method == http.MethodGet:
		s.handleListPosts(w, r)
	case len(rest) == 0 && r.Method == http.MethodPost:
		s.handleCreatePost(w, r)
	case len(rest) == 1 && r.Method == http.MethodGet:
		s.handleGetPost(w, r, rest[0])
	case len(rest) == 2 && rest[1] == "vote" && r.Method == http.MethodPost:
		s.handleToggleVote(w, r, rest[0])
	case len(rest) == 2 && rest[1] == "vote" && r.Method == http.MethodGet:
		s.handleVoteState(w, r, rest[0])
	case len(rest) == 2 && rest[1] == "comments" && r.Method == http.MethodGet:
		s.handleListComments(w, r, rest[0])
	case len(rest) == 2 && rest[1] == "comments" && r.Method == http.MethodPost:
		s.handleAddComment(w, r, rest[0])
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleListPosts(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	limit, _ := strconv.Atoi(query.Get("limit"))
	posts, err := s.service.forum.ListPosts(r.Context(), query.Get("sort"), query.Get("tag"), limit)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"posts": postsJSON(posts)})
}

func (s *HTTPServer) handleCreatePost(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.requireSession(w, r)
	if !ok {
		return
	}
	var body forum.CreatePostInput
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	post, err := s.service.forum.CreatePost(r.Context(), sess.UserID, body)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusCreated, postJSON(post))
}

func (s *HTTPServer) handleGetPost(w http.ResponseWriter, r *http.Request, postID string) {
	post, err := s.service.forum.GetPost(r.Context(), postID)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	payload := postJSON(post)
	if sess, err := s.sessionFromRequest(r); err == nil {
		if voted, err := s.service.forum.HasVoted(r.Context(), postID, sess.UserID); err == nil {
			payload["viewerHasVoted"] = voted
		}
	}
	writeJSON(w, http.StatusOK, payload)
}

func (s *HTTPServer) handleToggleVote(w http.ResponseWriter, r *http.Request, postID string) {
	// An anonymous toggle is a 401, never a silent write.
	sess, ok := s.requireSession(w, r)
	if !ok {
		return
	}
	state, err := s.service.forum.ToggleVote(r.Context(), postID, sess.UserID)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"voted": state.Voted, "votes": state.Votes})
}

func (s *HTTPServer) handleVoteState(w http.ResponseWriter, r *http.Request, postID string) {
	userID := ""
	if sess, err := s.sessionFromRequest(r); err == nil {
		userID = sess.UserID
	}
	voted, err := s.service.forum.HasVoted(r.Context(), postID, userID)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"voted": voted})
}

func (s *HTTPServer) handleListComments(w http.ResponseWriter, r *http.Request, postID string) {
	comments, err := s.service.forum.ListComments(r.Context(), postID)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	items := make([]map[string]any, 0, len(comments))
	for _, comment := range comments {
		items = append(items, commentJSON(comment))
	}
	writeJSON(w, http.StatusOK, map[string]any{"comments": items})
}

func (s *HTTPServer) handleAddComment(w http.ResponseWriter, r *http.Request, postID string) {
	sess, ok := s.requireSession(w, r)
	if !ok {
		return
	}
	if !s.service.AllowComment(sess.UserID) {
		writeError(w, http.StatusTooManyRequests, "RATE_LIMITED", "You are commenting too fast", nil)
		return
	}
	var body struct {
		Content string `json:"content"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	comment, err := s.service.forum.AddComment(r.Context(), postID, sess.UserID, body.Content)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusCreated, commentJSON(comment))
}

// ---------------------------------------------------------------------------
// Search

func (s *HTTPServer) handleSearch(w http.ResponseWriter, r *http.Request) {
	if s.service.search == nil {
		writeError(w, http.StatusNotImplemented, "SEARCH_DISABLED", "Search is not configured", nil)
		return
	}
	query := r.URL.Query()
	limit, _ := strconv.Atoi(query.Get("limit"))
	offset, _ := strconv.Atoi(query.Get("offset"))
	response := s.service.search.Search(search.Query{
		Text:   strings.TrimSpace(query.Get("q")),
		Tag:    strings.TrimSpace(query.Get("tag")),
		Limit:  limit,
		Offset: offset,
	})
	writeJSON(w, http.StatusOK, response)
}

// ---------------------------------------------------------------------------
// Helpers

func (s *HTTPServer) sessionFromRequest(r *http.Request) (session.Session, error) {
	token := bearerToken(r)
	if token == "" {
		return session.Session{}, auth.ErrInvalidToken
	}
	return s.service.SessionFromToken(r.Context(), token)
}

func (s *HTTPServer) requireSession(w http.ResponseWriter, r *http.Request) (session.Session, bool) {
	sess, err := s.sessionFromRequest(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Sign in to continue", nil)
		return session.Session{}, false
	}
	return sess, true
}

func postJSON(post store.Post) map[string]any {
	return map[string]any{
		"id":           post.ID,
		"title":        post.Title,
		"content":      post.Content,
		"votes":        post.Votes,
		"authorId":     post.AuthorID,
		"authorName":   post.AuthorName,
		"tags":         post.Tags,
		"commentCount": post.CommentCount,
		"createdAt":    post.CreatedAt,
	}
}

func postsJSON(posts []store.Post) []map[string]any {
	items := make([]map[string]any, 0, len(posts))
	for _, post := range posts {
		items = append(items, postJSON(post))
	}
	return items
}

func commentJSON(comment store.Comment) map[string]any {
	return map[string]any{
		"id":            comment.ID,
		"postId":        comment.PostID,
		"authorDisplay": comment.AuthorDisplay,
		"content":       comment.Content,
		"createdAt":     comment.CreatedAt,
	}
}

func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
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

		elapsed := time.Since(started)
		if s.metrics != nil {
			s.metrics.ObserveRequest(r.Method, writer.status, elapsed)
		}
		log.Printf(`{"request_id":"%s","method":"%s","path":"%s","status":%d,"duration_ms":%d}`,
			requestID,
			r.Method,
			r.URL.Path,
			writer.status,
			elapsed.Milliseconds(),
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

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *forum.DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	if errors.Is(err, sql.ErrNoRows) {
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	}
	if errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, auth.ErrExpiredToken) {
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	}
	switch {
	case errors.Is(err, identity.ErrInvalidCredentials):
		return http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid email or password", nil
	case errors.Is(err, identity.ErrEmailNotVerified):
		return http.StatusForbidden, "EMAIL_NOT_VERIFIED", "Verify your email before signing in", nil
	case errors.Is(err, identity.ErrEmailTaken):
		return http.StatusConflict, "EMAIL_TAKEN", "Email already registered", nil
	case errors.Is(err, identity.ErrUsernameTaken):
		return http.StatusConflict, "USERNAME_TAKEN", "Username already taken", nil
	case errors.Is(err, identity.ErrLinkInvalid):
		return http.StatusUnauthorized, "LINK_INVALID", "Link invalid or expired", nil
	case errors.Is(err, identity.ErrWeakPassword),
		errors.Is(err, identity.ErrInvalidEmail),
		errors.Is(err, identity.ErrInvalidUsername):
		return http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil
	case errors.Is(err, store.ErrDuplicate):
		return http.StatusConflict, "DUPLICATE", "Already exists", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
