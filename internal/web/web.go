package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"ttcatalog/internal/config"
	"ttcatalog/internal/ics"
	"ttcatalog/internal/importer"
	appLog "ttcatalog/internal/log"
	"ttcatalog/internal/model"
)

// Runner runs one import. *importer.Importer satisfies it.
type Runner interface {
	Run(ctx context.Context) (*importer.Result, error)
}

// Server provides a read-only HTTP view of the last imported catalog.
// 카탈로그는 import 가 성공할 때마다 Publish 로 교체된다.
type Server struct {
	cfg    *config.Config
	runner Runner
	mux    *http.ServeMux

	catalogMu sync.RWMutex
	catalog   *catalogState
}

// catalogState is the last successful import as served by the API.
type catalogState struct {
	courses    []model.Course
	skipped    int
	stamp      time.Time
	importedAt time.Time
}

// NewServer constructs a new Server. runner may be nil, in which case
// /api/refresh is unavailable.
func NewServer(cfg *config.Config, runner Runner) *Server {
	s := &Server{
		cfg:    cfg,
		runner: runner,
		mux:    http.NewServeMux(),
	}
	s.registerRoutes()
	return s
}

// Publish replaces the served catalog with the result of an import.
func (s *Server) Publish(res *importer.Result) {
	if res == nil {
		return
	}
	s.catalogMu.Lock()
	s.catalog = &catalogState{
		courses:    res.Courses,
		skipped:    len(res.Diagnostics),
		stamp:      res.Stamp,
		importedAt: res.FinishedAt,
	}
	s.catalogMu.Unlock()
}

func (s *Server) current() *catalogState {
	s.catalogMu.RLock()
	defer s.catalogMu.RUnlock()
	return s.catalog
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.mux)
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled", "listen", "http://"+s.cfg.Listen)
		return s.basicAuthMiddleware(h)
	}
	return h
}

// basicAuthEnabled reports whether HTTP Basic Auth is configured.
func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	// 빈 사용자명 또는 비밀번호가 설정된 경우에는 비활성화로 취급한다.
	return s.cfg.BasicAuth.Username != "" && s.cfg.BasicAuth.Password != ""
}

// basicAuthMiddleware wraps all handlers except /health with HTTP Basic Auth.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="ttcatalog", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// StartServer serves the API on cfg.Listen until ctx is canceled.
func (s *Server) StartServer(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			appLog.Error("HTTP server shutdown failed", err)
		}
	}()

	appLog.Info("starting HTTP server", "listen", "http://"+s.cfg.Listen)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /api/catalog", s.handleCatalog)
	s.mux.HandleFunc("GET /api/catalog.ics", s.handleCalendar)
	s.mux.HandleFunc("POST /api/refresh", s.handleRefresh)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// catalogResponse is the JSON response shape for /api/catalog.
type catalogResponse struct {
	Institution string         `json:"institution"`
	Year        string         `json:"year"`
	ImportedAt  time.Time      `json:"imported_at"`
	SkippedRows int            `json:"skipped_rows"`
	Courses     []model.Course `json:"courses"`
}

// handleCatalog returns the last imported catalog.
//
// GET /api/catalog?code=CCST9999&term=s1
//   - code: exact course code (optional, case-insensitive)
//   - term: s1, s2, ss or na (optional)
func (s *Server) handleCatalog(w http.ResponseWriter, r *http.Request) {
	st := s.current()
	if st == nil {
		writeError(w, http.StatusServiceUnavailable, "catalog not imported yet")
		return
	}

	q := r.URL.Query()
	courses := filterCourses(st.courses, q.Get("code"), q.Get("term"))

	writeJSON(w, http.StatusOK, catalogResponse{
		Institution: s.cfg.Institution,
		Year:        s.cfg.Year,
		ImportedAt:  st.importedAt,
		SkippedRows: st.skipped,
		Courses:     courses,
	})
}

// handleCalendar renders the (optionally filtered) catalog as iCalendar.
func (s *Server) handleCalendar(w http.ResponseWriter, r *http.Request) {
	st := s.current()
	if st == nil {
		writeError(w, http.StatusServiceUnavailable, "catalog not imported yet")
		return
	}

	q := r.URL.Query()
	courses := filterCourses(st.courses, q.Get("code"), q.Get("term"))

	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	opts := ics.ExportOptions{
		Domain: s.cfg.Institution,
		Name:   s.cfg.Institution + " " + s.cfg.Year,
		Stamp:  st.stamp,
	}
	if err := ics.Write(w, courses, opts); err != nil {
		appLog.Error("failed to write calendar response", err)
	}
}

// handleRefresh runs an import synchronously and publishes the result.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if s.runner == nil {
		writeError(w, http.StatusNotImplemented, "refresh not available")
		return
	}

	res, err := s.runner.Run(r.Context())
	if err != nil {
		appLog.Error("api refresh: import failed", err)
		writeError(w, http.StatusInternalServerError, "import failed: "+err.Error())
		return
	}
	s.Publish(res)

	writeJSON(w, http.StatusOK, map[string]any{
		"course_count": len(res.Courses),
		"skipped_rows": len(res.Diagnostics),
		"output":       res.OutputPath,
	})
}

func filterCourses(courses []model.Course, code, term string) []model.Course {
	code = strings.TrimSpace(code)
	term = strings.ToLower(strings.TrimSpace(term))
	if code == "" && term == "" {
		return courses
	}

	out := make([]model.Course, 0)
	for _, c := range courses {
		if code != "" && !strings.EqualFold(c.Code, code) {
			continue
		}
		if term != "" && string(c.Term) != term {
			continue
		}
		out = append(out, c)
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}
