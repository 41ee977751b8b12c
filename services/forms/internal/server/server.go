package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"streamform/internal/actortoken"
	"streamform/internal/ratelimit"
	"streamform/internal/util"
	"streamform/pkg/domain"
	"streamform/pkg/schema"
	"streamform/services/forms/internal/app"
)

// SessionCookie is the anonymous session-token cookie, issued lazily on the
// first public form request without one.
const SessionCookie = "sf_session"

// Config wires required dependencies for the HTTP server.
type Config struct {
	App               *app.App
	TokenVerifier     *actortoken.Verifier
	Limiter           *ratelimit.FixedWindowLimiter
	TrustedProxies    *util.TrustedProxies
	SessionTTL        time.Duration
	MaxUploadBytes    int64
	AllowedExtensions []string
	FilesDir          string
	FilesBaseURL      string
}

// Server exposes the stream-form HTTP endpoints.
type Server struct {
	app            *app.App
	tokenVerifier  *actortoken.Verifier
	limiter        *ratelimit.FixedWindowLimiter
	trustedProxies *util.TrustedProxies
	mux            *http.ServeMux
	sessionTTL     time.Duration
	maxUploadBytes int64
	allowedExts    map[string]bool
}

// New constructs the server with routes configured.
func New(cfg Config) (*Server, error) {
	if cfg.App == nil {
		return nil, errors.New("app required")
	}
	maxUploadBytes := cfg.MaxUploadBytes
	if maxUploadBytes <= 0 {
		maxUploadBytes = 20 * 1024 * 1024
	}
	sessionTTL := cfg.SessionTTL
	if sessionTTL <= 0 {
		sessionTTL = 24 * time.Hour
	}
	exts := make(map[string]bool, len(cfg.AllowedExtensions))
	for _, e := range cfg.AllowedExtensions {
		exts[strings.ToLower(strings.TrimSpace(e))] = true
	}
	s := &Server{
		app:            cfg.App,
		tokenVerifier:  cfg.TokenVerifier,
		limiter:        cfg.Limiter,
		trustedProxies: cfg.TrustedProxies,
		mux:            http.NewServeMux(),
		sessionTTL:     sessionTTL,
		maxUploadBytes: maxUploadBytes,
		allowedExts:    exts,
	}
	s.routes(cfg)
	return s, nil
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return util.WithRequestID(util.WithRequestLog(util.WithSecurityHeaders(util.WithCORS(s.mux))))
}

func (s *Server) routes(cfg Config) {
	s.mux.HandleFunc("/healthz", s.handleHealth)

	// public form surface
	s.mux.HandleFunc("/api/pages/", s.handlePublicForm)

	// admin surface
	s.mux.Handle("/api/admin/pages", s.withAdmin(s.handleAdminPages))
	s.mux.Handle("/api/admin/pages/", s.withAdmin(s.handleAdminPage))

	// disk-backed uploads are served directly
	if cfg.FilesDir != "" && cfg.FilesBaseURL != "" {
		prefix := strings.TrimSuffix(cfg.FilesBaseURL, "/") + "/"
		s.mux.Handle(prefix, http.StripPrefix(prefix, http.FileServer(http.Dir(cfg.FilesDir))))
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// actor resolves who is filling the form: a verified bearer token wins, else
// the session cookie, else a fresh token set on the response.
func (s *Server) actor(w http.ResponseWriter, r *http.Request) (domain.Actor, bool) {
	if token, ok := bearerToken(r); ok {
		if s.tokenVerifier == nil {
			writeError(w, http.StatusInternalServerError, "auth not configured")
			return domain.Actor{}, false
		}
		identity, err := s.tokenVerifier.Verify(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return domain.Actor{}, false
		}
		return domain.Actor{UserID: identity.UserID}, true
	}

	if c, err := r.Cookie(SessionCookie); err == nil && c.Value != "" {
		return domain.Actor{SessionToken: c.Value}, true
	}

	token := util.NewID()
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    token,
		Path:     "/",
		MaxAge:   int(s.sessionTTL / time.Second),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	return domain.Actor{SessionToken: token}, true
}

// /api/pages/{slug}/form
func (s *Server) handlePublicForm(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/pages/")
	parts := strings.Split(path, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] != "form" {
		notFound(w, "not found")
		return
	}
	slug := parts[0]

	actor, ok := s.actor(w, r)
	if !ok {
		return
	}

	switch r.Method {
	case http.MethodGet:
		s.handleGetForm(w, r, slug, actor)
	case http.MethodPost:
		s.handleSubmitForm(w, r, slug, actor)
	case http.MethodDelete:
		s.handleAbandonForm(w, r, slug, actor)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleGetForm(w http.ResponseWriter, r *http.Request, slug string, actor domain.Actor) {
	stepNumber := 0
	if raw := r.URL.Query().Get("step"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "invalid step parameter")
			return
		}
		stepNumber = n
	}
	fc, err := s.app.GetContext(r.Context(), slug, actor, stepNumber)
	if err != nil {
		s.writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, fc)
}

func (s *Server) handleSubmitForm(w http.ResponseWriter, r *http.Request, slug string, actor domain.Actor) {
	if s.limiter != nil && !s.limiter.Allow(util.ClientIP(r, s.trustedProxies)) {
		writeError(w, http.StatusTooManyRequests, "too many requests")
		return
	}

	in, ok := s.parseSubmit(w, r)
	if !ok {
		return
	}
	res, err := s.app.SubmitStep(r.Context(), slug, actor, in)
	if err != nil {
		s.writeAppError(w, err)
		return
	}
	if res.FieldErrors != nil {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{"fieldErrors": res.FieldErrors})
		return
	}
	if res.Final != nil {
		writeJSON(w, http.StatusCreated, res.Final)
		return
	}
	writeJSON(w, http.StatusOK, res.Context)
}

// parseSubmit reads an urlencoded or multipart POST into a SubmitInput,
// enforcing the upload cap and extension allow-list.
func (s *Server) parseSubmit(w http.ResponseWriter, r *http.Request) (app.SubmitInput, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)

	in := app.SubmitInput{Files: map[string]app.Upload{}}
	contentType := r.Header.Get("Content-Type")
	if strings.HasPrefix(contentType, "multipart/form-data") {
		if err := r.ParseMultipartForm(32 << 20); err != nil {
			writeError(w, http.StatusBadRequest, "invalid form data")
			return in, false
		}
		for name, headers := range r.MultipartForm.File {
			if len(headers) == 0 {
				continue
			}
			header := headers[0]
			ext := strings.ToLower(filepath.Ext(header.Filename))
			if len(s.allowedExts) > 0 && !s.allowedExts[ext] {
				writeError(w, http.StatusBadRequest, "unsupported file type")
				return in, false
			}
			f, err := header.Open()
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid form data")
				return in, false
			}
			defer f.Close()
			in.Files[name] = app.Upload{Filename: header.Filename, Size: header.Size, Reader: f}
		}
	} else {
		if err := r.ParseForm(); err != nil {
			writeError(w, http.StatusBadRequest, "invalid form data")
			return in, false
		}
	}
	in.Values = r.PostForm
	in.Prev = r.PostForm.Get("step") == "prev"
	return in, true
}

func (s *Server) handleAbandonForm(w http.ResponseWriter, r *http.Request, slug string, actor domain.Actor) {
	if err := s.app.Abandon(r.Context(), slug, actor); err != nil {
		s.writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) withAdmin(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.tokenVerifier == nil {
			writeError(w, http.StatusInternalServerError, "auth not configured")
			return
		}
		token, ok := bearerToken(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		identity, err := s.tokenVerifier.Verify(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		if !identity.Admin() {
			writeError(w, http.StatusForbidden, "forbidden")
			return
		}
		next(w, r)
	})
}

// /api/admin/pages
func (s *Server) handleAdminPages(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		pages, err := s.app.ListPages()
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": pages, "count": len(pages)})
	case http.MethodPost:
		s.handleSavePage(w, r, "")
	default:
		methodNotAllowed(w)
	}
}

// /api/admin/pages/{slug}[/fields|/submissions|/session-submissions[/{id}[/revisions]]]
func (s *Server) handleAdminPage(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/admin/pages/")
	parts := strings.Split(path, "/")
	slug := parts[0]
	if slug == "" {
		notFound(w, "not found")
		return
	}

	switch {
	case len(parts) == 1:
		s.handleAdminPageBySlug(w, r, slug)
	case len(parts) == 2 && parts[1] == "fields":
		s.handleAdminFields(w, r, slug)
	case len(parts) == 2 && parts[1] == "submissions":
		s.handleAdminSubmissions(w, r, slug)
	case len(parts) == 2 && parts[1] == "session-submissions":
		s.handleAdminSessionSubmissions(w, r, slug)
	case len(parts) == 3 && parts[1] == "session-submissions" && parts[2] != "":
		s.handleAdminSessionSubmission(w, r, slug, parts[2])
	case len(parts) == 4 && parts[1] == "session-submissions" && parts[3] == "revisions":
		s.handleAdminRevisions(w, r, slug, parts[2])
	default:
		notFound(w, "not found")
	}
}

func (s *Server) handleAdminPageBySlug(w http.ResponseWriter, r *http.Request, slug string) {
	switch r.Method {
	case http.MethodGet:
		page, err := s.app.GetPage(slug)
		if err != nil {
			s.writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, page)
	case http.MethodPut:
		s.handleSavePage(w, r, slug)
	case http.MethodDelete:
		if err := s.app.DeletePage(slug); err != nil {
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	default:
		methodNotAllowed(w)
	}
}

type pageRequest struct {
	Slug       string          `json:"slug"`
	Title      string          `json:"title"`
	Definition json.RawMessage `json:"definition"`
}

func (s *Server) handleSavePage(w http.ResponseWriter, r *http.Request, slug string) {
	var req pageRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if slug != "" {
		req.Slug = slug
	}
	page, err := s.app.SavePage(domain.Page{
		Slug:       req.Slug,
		Title:      req.Title,
		Definition: req.Definition,
	})
	if err != nil {
		s.writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (s *Server) handleAdminFields(w http.ResponseWriter, r *http.Request, slug string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	byStep := r.URL.Query().Get("byStep") == "1"
	fields, err := s.app.DataFields(slug, byStep)
	if err != nil {
		s.writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"fields": fields})
}

func (s *Server) handleAdminSubmissions(w http.ResponseWriter, r *http.Request, slug string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	subs, err := s.app.ListSubmissions(slug)
	if err != nil {
		s.writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": subs, "count": len(subs)})
}

func (s *Server) handleAdminSessionSubmissions(w http.ResponseWriter, r *http.Request, slug string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	subs, err := s.app.ListSessionSubmissions(slug)
	if err != nil {
		s.writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": subs, "count": len(subs)})
}

type statusRequest struct {
	Status string `json:"status"`
}

func (s *Server) handleAdminSessionSubmission(w http.ResponseWriter, r *http.Request, slug, id string) {
	if r.Method != http.MethodPatch {
		methodNotAllowed(w)
		return
	}
	var req statusRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	sub, err := s.app.SetReviewStatus(slug, id, domain.SubmissionStatus(strings.ToLower(strings.TrimSpace(req.Status))))
	if err != nil {
		s.writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

func (s *Server) handleAdminRevisions(w http.ResponseWriter, r *http.Request, slug, id string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	revs, err := s.app.ListRevisions(slug, id)
	if err != nil {
		s.writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": revs, "count": len(revs)})
}

func (s *Server) writeAppError(w http.ResponseWriter, err error) {
	var se *schema.SchemaError
	switch {
	case errors.Is(err, app.ErrPageNotFound):
		notFound(w, "page not found")
	case errors.Is(err, app.ErrSubmissionNotFound):
		notFound(w, "submission not found")
	case errors.Is(err, app.ErrInvalidStatus):
		writeError(w, http.StatusBadRequest, "invalid status")
	case errors.As(err, &se):
		writeError(w, http.StatusBadRequest, se.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func notFound(w http.ResponseWriter, msg string) {
	writeError(w, http.StatusNotFound, msg)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

type errorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	RequestID string `json:"requestId,omitempty"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{
		Error:     msg,
		Code:      errorCodeForForms(status, msg),
		RequestID: strings.TrimSpace(w.Header().Get("X-Request-Id")),
	})
}

func errorCodeForForms(status int, msg string) string {
	message := strings.ToLower(strings.TrimSpace(msg))
	switch {
	case message == "auth not configured":
		return "SYSTEM_INTERNAL_ERROR"
	case message == "unauthorized":
		return "AUTH_INVALID_TOKEN"
	case message == "forbidden":
		return "AUTH_FORBIDDEN"
	case message == "page not found":
		return "FORM_PAGE_NOT_FOUND"
	case message == "submission not found":
		return "FORM_SUBMISSION_NOT_FOUND"
	case message == "invalid status":
		return "FORM_INVALID_STATUS"
	case message == "invalid step parameter":
		return "FORM_INVALID_STEP"
	case message == "unsupported file type":
		return "FORM_UNSUPPORTED_FILE_TYPE"
	case message == "invalid form data":
		return "FORM_INVALID_UPLOAD_FORM"
	case message == "invalid json body":
		return "FORM_INVALID_REQUEST"
	case message == "too many requests":
		return "RATE_LIMITED"
	case strings.HasPrefix(message, "schema:"):
		return "FORM_INVALID_DEFINITION"
	case message == "method not allowed":
		return "SYSTEM_METHOD_NOT_ALLOWED"
	case message == "not found":
		return "SYSTEM_NOT_FOUND"
	}

	switch status {
	case http.StatusBadRequest:
		return "FORM_INVALID_REQUEST"
	case http.StatusUnauthorized:
		return "AUTH_INVALID_TOKEN"
	case http.StatusForbidden:
		return "AUTH_FORBIDDEN"
	case http.StatusNotFound:
		return "FORM_NOT_FOUND"
	case http.StatusMethodNotAllowed:
		return "SYSTEM_METHOD_NOT_ALLOWED"
	default:
		if status >= http.StatusInternalServerError {
			return "SYSTEM_INTERNAL_ERROR"
		}
		return "REQUEST_ERROR"
	}
}

func bearerToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	if token == "" {
		return "", false
	}
	return token, true
}
