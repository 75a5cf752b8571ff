package api

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"html/template"
	"net/http"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/knowledge-engine/kwic/internal/engine"
	"github.com/knowledge-engine/kwic/internal/search"
	"github.com/knowledge-engine/kwic/internal/session"
	"github.com/knowledge-engine/kwic/internal/storage"
	"github.com/knowledge-engine/kwic/internal/upload"
)

// SessionHeader may carry the session token for clients without cookies.
const SessionHeader = "X-Session-ID"

// multipart framing on top of the raw upload limit
const multipartOverhead = 1 << 20

//go:embed templates/*.html
var templateFS embed.FS

type Server struct {
	Engine     *engine.Engine
	Logger     *logrus.Entry
	Router     *http.ServeMux
	templates  *template.Template
	httpServer *http.Server
}

func NewServer(eng *engine.Engine, logger *logrus.Entry) *Server {
	s := &Server{
		Engine:    eng,
		Logger:    logger,
		Router:    http.NewServeMux(),
		templates: template.Must(template.ParseFS(templateFS, "templates/*.html")),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.Router.HandleFunc("/", s.handleIndex)
	s.Router.HandleFunc("/upload", s.handleUploadPage)
	s.Router.HandleFunc("/search", s.handleSearchPage)

	s.Router.HandleFunc("/api/v1/documents", s.handleDocuments)
	s.Router.HandleFunc("/api/v1/documents/fetch", s.handleFetch)
	s.Router.HandleFunc("/api/v1/search", s.handleSearch)
	s.Router.HandleFunc("/api/v1/session", s.handleSession)
	s.Router.HandleFunc("/api/v1/status", s.handleStatus)
}

// Handler returns the router wrapped with request logging
func (s *Server) Handler() http.Handler {
	return s.logRequests(s.Router)
}

func (s *Server) Start(addr string) error {
	cfg := s.Engine.Config.Server
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	s.Logger.Infof("Starting API Server on %s", addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// Responses
type ErrorResponse struct {
	Error string `json:"error"`
}

type UploadResponse struct {
	SessionID string               `json:"session_id"`
	Files     []string             `json:"files"`
	Documents int                  `json:"documents"`
	Tokens    int                  `json:"tokens"`
	Errors    []session.Diagnostic `json:"errors,omitempty"`
}

type SearchResponse struct {
	*search.Results
	Total int `json:"total"`
}

type DocumentInfo struct {
	ID     string `json:"id"`
	Tokens int    `json:"tokens"`
}

type SessionResponse struct {
	ID          string               `json:"id"`
	Files       []string             `json:"files"`
	Documents   []DocumentInfo       `json:"documents"`
	Diagnostics []session.Diagnostic `json:"diagnostics,omitempty"`
	CreatedAt   time.Time            `json:"created_at"`
	ExpiresAt   time.Time            `json:"expires_at"`
}

type StatusResponse struct {
	Running         bool   `json:"running"`
	Uptime          string `json:"uptime"`
	Storage         string `json:"storage"`
	Sessions        int    `json:"sessions"`
	SessionsCreated int64  `json:"sessions_created"`
	Searches        int64  `json:"searches"`
}

type fetchRequest struct {
	URLs []string `json:"urls"`
}

// page is the data handed to every HTML template
type page struct {
	Title       string
	Query       string
	WindowSize  int
	Files       []string
	Diagnostics []session.Diagnostic
	Results     *search.Results
}

// Handlers

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	if r.Method == http.MethodPost {
		s.handleUploadPage(w, r)
		return
	}
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.render(w, http.StatusOK, "index.html", page{Title: "Upload"})
}

func (s *Server) handleUploadPage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	sess, err := s.ingestUpload(w, r)
	if err != nil {
		http.Error(w, err.Error(), statusFor(err))
		return
	}
	s.render(w, http.StatusOK, "search_page.html", page{
		Title:       "Search",
		Files:       sess.Files,
		Diagnostics: sess.Diagnostics,
	})
}

func (s *Server) handleSearchPage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	q := parseQuery(r)
	res, err := s.Engine.Search(r.Context(), s.sessionID(r), q, false)
	if err != nil {
		http.Error(w, err.Error(), statusFor(err))
		return
	}
	s.render(w, http.StatusOK, "search_results.html", page{
		Title:      "Results for " + res.Query,
		Query:      q.Word,
		WindowSize: q.WindowSize,
		Results:    res,
	})
}

func (s *Server) handleDocuments(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	sess, err := s.ingestUpload(w, r)
	if err != nil {
		jsonResponse(w, statusFor(err), ErrorResponse{Error: err.Error()})
		return
	}
	jsonResponse(w, http.StatusCreated, uploadResponse(sess))
}

func (s *Server) handleFetch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req fetchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonResponse(w, http.StatusBadRequest, ErrorResponse{Error: "Invalid JSON"})
		return
	}

	sess, err := s.Engine.IngestURLs(r.Context(), req.URLs)
	if err != nil {
		jsonResponse(w, statusFor(err), ErrorResponse{Error: err.Error()})
		return
	}
	s.replaceSession(w, r, sess)
	jsonResponse(w, http.StatusCreated, uploadResponse(sess))
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	q := parseQuery(r)
	wide, _ := strconv.ParseBool(r.URL.Query().Get("wide"))

	res, err := s.Engine.Search(r.Context(), s.sessionID(r), q, wide)
	if err != nil {
		jsonResponse(w, statusFor(err), ErrorResponse{Error: err.Error()})
		return
	}
	jsonResponse(w, http.StatusOK, SearchResponse{Results: res, Total: res.Total()})
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	id := s.sessionID(r)
	switch r.Method {
	case http.MethodGet:
		sess, err := s.Engine.Session(r.Context(), id)
		if err != nil {
			jsonResponse(w, statusFor(err), ErrorResponse{Error: err.Error()})
			return
		}
		resp := SessionResponse{
			ID:          sess.ID,
			Files:       sess.Files,
			Documents:   make([]DocumentInfo, 0, sess.Corpus.Len()),
			Diagnostics: sess.Diagnostics,
			CreatedAt:   sess.CreatedAt,
			ExpiresAt:   sess.ExpiresAt,
		}
		for _, docID := range sess.Corpus.IDs() {
			tokens, _ := sess.Corpus.Tokens(docID)
			resp.Documents = append(resp.Documents, DocumentInfo{ID: docID, Tokens: len(tokens)})
		}
		jsonResponse(w, http.StatusOK, resp)

	case http.MethodDelete:
		if err := s.Engine.EndSession(r.Context(), id); err != nil {
			jsonResponse(w, statusFor(err), ErrorResponse{Error: err.Error()})
			return
		}
		s.clearCookie(w)
		w.WriteHeader(http.StatusNoContent)

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	stats := s.Engine.GetStats()

	resp := StatusResponse{
		Running:         s.Engine.IsRunning(),
		Uptime:          time.Since(stats.StartTime).Round(time.Second).String(),
		Storage:         s.Engine.Storage.Name(),
		SessionsCreated: stats.SessionsCreated,
		Searches:        stats.Searches,
	}
	if n, err := s.Engine.Storage.Count(r.Context()); err == nil {
		resp.Sessions = n
	} else {
		s.Logger.WithError(err).Warn("Failed to count sessions")
	}

	jsonResponse(w, http.StatusOK, resp)
}

// ingestUpload validates the multipart upload and creates a session for it.
// The previous session of this client, if any, is dropped.
func (s *Server) ingestUpload(w http.ResponseWriter, r *http.Request) (*session.Session, error) {
	limit := s.Engine.Config.Upload.MaxTotalBytes
	if limit > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, limit+multipartOverhead)
	}
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, upload.ErrTooLarge
		}
		return nil, upload.ErrNoFiles
	}
	defer r.MultipartForm.RemoveAll()

	docs, err := s.Engine.Validator.ReadMultipart(r.MultipartForm.File["file[]"])
	if err != nil {
		return nil, err
	}
	sess, err := s.Engine.Ingest(r.Context(), docs)
	if err != nil {
		return nil, err
	}
	s.replaceSession(w, r, sess)
	return sess, nil
}

func (s *Server) replaceSession(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	if old := s.sessionID(r); old != "" && old != sess.ID {
		if err := s.Engine.EndSession(r.Context(), old); err != nil {
			s.Logger.WithError(err).Warn("Failed to drop previous session")
		}
	}
	cfg := s.Engine.Config.Session
	http.SetCookie(w, &http.Cookie{
		Name:     cfg.CookieName,
		Value:    sess.ID,
		Path:     "/",
		Expires:  sess.ExpiresAt,
		HttpOnly: true,
		Secure:   cfg.SecureCookie,
		SameSite: http.SameSiteLaxMode,
	})
}

func (s *Server) clearCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     s.Engine.Config.Session.CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
	})
}

func (s *Server) sessionID(r *http.Request) string {
	if id := r.Header.Get(SessionHeader); id != "" {
		return id
	}
	if c, err := r.Cookie(s.Engine.Config.Session.CookieName); err == nil {
		return c.Value
	}
	return ""
}

func (s *Server) render(w http.ResponseWriter, code int, name string, data page) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(code)
	if err := s.templates.ExecuteTemplate(w, name, data); err != nil {
		s.Logger.WithError(err).WithField("template", name).Error("Failed to render page")
	}
}

// parseQuery reads q_word and window_size. A malformed window size counts
// as absent.
func parseQuery(r *http.Request) search.QuerySpec {
	q := search.QuerySpec{Word: r.FormValue("q_word")}
	if ws, err := strconv.Atoi(r.FormValue("window_size")); err == nil {
		q.WindowSize = ws
	}
	return q
}

func uploadResponse(sess *session.Session) UploadResponse {
	return UploadResponse{
		SessionID: sess.ID,
		Files:     sess.Files,
		Documents: sess.Corpus.Len(),
		Tokens:    sess.Corpus.TokenCount(),
		Errors:    sess.Diagnostics,
	}
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, upload.ErrTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, upload.ErrNoFiles),
		errors.Is(err, upload.ErrTooManyFiles),
		errors.Is(err, upload.ErrExtensionNotAllowed),
		errors.Is(err, upload.ErrNotText),
		errors.Is(err, engine.ErrNoURLs),
		errors.Is(err, engine.ErrTooManyURLs):
		return http.StatusBadRequest
	case errors.Is(err, engine.ErrNothingFound):
		return http.StatusBadGateway
	case errors.Is(err, storage.ErrSessionNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func jsonResponse(w http.ResponseWriter, code int, payload interface{}) {
	response, _ := json.Marshal(payload)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}
