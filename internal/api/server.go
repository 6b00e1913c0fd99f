package api

import (
	"bufio"
	"context"
	"crypto/subtle"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/question-extractor/internal/metrics"
	"github.com/JakeFAU/question-extractor/internal/status"
	"github.com/JakeFAU/question-extractor/internal/worker"
)

//go:embed templates/*.html
var templateFS embed.FS

var views = template.Must(template.ParseFS(templateFS, "templates/*.html"))

const noOutputMessage = "No output file generated yet."

// Runner starts extraction runs.
type Runner interface {
	Start(urls []string) (string, error)
}

// StatusReader exposes the current run status.
type StatusReader interface {
	Snapshot() status.Snapshot
}

// LoginThrottle limits login attempts per client address.
type LoginThrottle interface {
	Allow(key string) bool
}

// Options configure the server.
type Options struct {
	InputPath      string
	OutputPath     string
	MaxUploadBytes int64
	RequestTimeout time.Duration
	// APIKey, when set, admits machine clients that send X-API-Key.
	APIKey        string
	LoginThrottle LoginThrottle
}

// Server wires HTTP handlers to the worker and status register.
type Server struct {
	router   chi.Router
	runner   Runner
	status   StatusReader
	sessions *Sessions
	opts     Options
	logger   *zap.Logger
}

// NewServer constructs a Server with middleware and routes. A nil sessions
// disables the login gate.
func NewServer(runner Runner, statusReader StatusReader, sessions *Sessions, opts Options, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = 1 << 20
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 60 * time.Second
	}
	metrics.Init()
	s := &Server{
		runner:   runner,
		status:   statusReader,
		sessions: sessions,
		opts:     opts,
		logger:   logger.Named("api"),
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(opts.RequestTimeout))

	r.Get("/healthz", s.healthz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())
	r.Get("/login", s.loginForm)
	r.Post("/login", s.login)
	r.Get("/logout", s.logout)

	r.Group(func(r chi.Router) {
		r.Use(s.requireSession)
		r.Get("/", s.index)
		r.Get("/status", s.statusJSON)
		r.Post("/upload", s.upload)
		r.Get("/download", s.download)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type loginView struct {
	Error string
}

type indexView struct {
	Status status.Snapshot
	Notice string
}

func (s *Server) loginForm(w http.ResponseWriter, r *http.Request) {
	if s.sessions == nil {
		http.Redirect(w, r, "/", http.StatusFound)
		return
	}
	s.render(w, http.StatusOK, "login.html", loginView{})
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	if s.sessions == nil {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}
	if s.opts.LoginThrottle != nil && !s.opts.LoginThrottle.Allow(clientHost(r)) {
		s.logger.Warn("login throttled", zap.String("remote", r.RemoteAddr))
		s.render(w, http.StatusTooManyRequests, "login.html", loginView{Error: "Too many login attempts, try again later"})
		return
	}
	if err := r.ParseForm(); err != nil {
		s.render(w, http.StatusBadRequest, "login.html", loginView{Error: "Invalid form submission"})
		return
	}
	username := r.PostFormValue("username")
	if !s.sessions.Authenticate(username, r.PostFormValue("password")) {
		s.logger.Warn("login rejected", zap.String("username", username), zap.String("remote", r.RemoteAddr))
		s.render(w, http.StatusUnauthorized, "login.html", loginView{Error: "Invalid Credentials"})
		return
	}
	if err := s.sessions.Issue(w, username); err != nil {
		s.logger.Error("issue session failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (s *Server) logout(w http.ResponseWriter, r *http.Request) {
	if s.sessions != nil {
		s.sessions.Clear(w)
	}
	http.Redirect(w, r, "/login", http.StatusFound)
}

func (s *Server) index(w http.ResponseWriter, r *http.Request) {
	view := indexView{Status: s.status.Snapshot()}
	if r.URL.Query().Get("busy") == "1" {
		view.Notice = status.ErrRunActive.Error()
	}
	s.render(w, http.StatusOK, "index.html", view)
}

func (s *Server) statusJSON(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.status.Snapshot())
}

// upload starts a run over the non-blank lines of the submitted list and,
// once the run is accepted, saves the list to the input path. Browser
// submissions are redirected back to the index page.
func (s *Server) upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxUploadBytes)
	file, header, err := r.FormFile("file")
	if err != nil || header.Filename == "" {
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				writeError(w, http.StatusRequestEntityTooLarge, "upload too large")
				return
			}
		}
		s.finishUpload(w, r, http.StatusBadRequest, map[string]string{"error": "file is required"})
		return
	}
	defer func() { _ = file.Close() }()

	staged, urls, err := s.stageInput(file)
	if err != nil {
		s.logger.Error("save upload failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to save upload")
		return
	}
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(staged)
		}
	}()
	if len(urls) == 0 {
		s.finishUpload(w, r, http.StatusBadRequest, map[string]string{"error": worker.ErrNoURLs.Error()})
		return
	}

	runID, err := s.runner.Start(urls)
	switch {
	case errors.Is(err, status.ErrRunActive):
		if wantsJSON(r) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		http.Redirect(w, r, "/?busy=1", http.StatusSeeOther)
		return
	case err != nil:
		s.logger.Error("start run failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to start run")
		return
	}
	if err := os.Rename(staged, s.opts.InputPath); err != nil {
		s.logger.Error("save input list failed", zap.String("run_id", runID), zap.Error(err))
	} else {
		committed = true
	}
	s.logger.Info("run submitted", zap.String("run_id", runID), zap.Int("urls", len(urls)))
	s.finishUpload(w, r, http.StatusAccepted, map[string]any{"run_id": runID, "total": len(urls)})
}

func (s *Server) finishUpload(w http.ResponseWriter, r *http.Request, code int, payload any) {
	if wantsJSON(r) {
		writeJSON(w, code, payload)
		return
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// stageInput copies the raw upload to a temp file next to the input path and
// returns that file with the upload's non-blank lines, trimmed. The caller
// renames or removes the temp file.
func (s *Server) stageInput(src io.Reader) (string, []string, error) {
	dir := filepath.Dir(s.opts.InputPath)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", nil, fmt.Errorf("create input dir: %w", err)
	}
	dst, err := os.CreateTemp(dir, ".upload-*")
	if err != nil {
		return "", nil, fmt.Errorf("create staging file: %w", err)
	}
	var urls []string
	scanner := bufio.NewScanner(io.TeeReader(src, dst))
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		if trimmed := strings.TrimSpace(scanner.Text()); trimmed != "" {
			urls = append(urls, trimmed)
		}
	}
	if err := scanner.Err(); err != nil {
		_ = dst.Close()
		_ = os.Remove(dst.Name())
		return "", nil, fmt.Errorf("save upload: %w", err)
	}
	if err := dst.Close(); err != nil {
		_ = os.Remove(dst.Name())
		return "", nil, fmt.Errorf("close staging file: %w", err)
	}
	return dst.Name(), urls, nil
}

func (s *Server) download(w http.ResponseWriter, r *http.Request) {
	// #nosec G304 -- path comes from configuration.
	f, err := os.Open(s.opts.OutputPath)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			s.logger.Error("open output failed", zap.Error(err))
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte(noOutputMessage))
		return
	}
	defer func() { _ = f.Close() }()
	info, err := f.Stat()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read output")
		return
	}
	name := filepath.Base(s.opts.OutputPath)
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	http.ServeContent(w, r, name, info.ModTime(), f)
}

// requireSession admits requests carrying a valid session cookie or the
// configured API key.
func (s *Server) requireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.sessions == nil {
			next.ServeHTTP(w, r)
			return
		}
		if s.validAPIKey(r.Header.Get("X-API-Key")) {
			next.ServeHTTP(w, r)
			return
		}
		if _, err := s.sessions.Verify(r); err == nil {
			next.ServeHTTP(w, r)
			return
		}
		if wantsJSON(r) {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		http.Redirect(w, r, "/login", http.StatusFound)
	})
}

func (s *Server) validAPIKey(got string) bool {
	if s.opts.APIKey == "" || got == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(s.opts.APIKey)) == 1
}

func (s *Server) render(w http.ResponseWriter, code int, name string, data any) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(code)
	if err := views.ExecuteTemplate(w, name, data); err != nil {
		s.logger.Error("render template failed", zap.String("template", name), zap.Error(err))
	}
}

func clientHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// wantsJSON reports whether the client asked for a JSON response.
func wantsJSON(r *http.Request) bool {
	return r.URL.Path == "/status" || strings.Contains(r.Header.Get("Accept"), "application/json")
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		s.logger.Info("request completed",
			zap.String("request_id", requestID(r.Context())),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", zap.Any("panic", rec), zap.String("path", r.URL.Path))
				writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		conn, buf, err := h.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("hijack connection: %w", err)
		}
		return conn, buf, nil
	}
	return nil, nil, errors.New("hijacker not supported")
}

type requestIDKey struct{}

func requestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
