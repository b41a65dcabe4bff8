package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/pbaille/scopes/internal/domain"
	"github.com/pbaille/scopes/internal/logging"
	"github.com/pbaille/scopes/internal/store"
)

// Bounds is the accepted range of a posted problem count
type Bounds struct {
	Min int
	Max int
}

// Server handles HTTP requests for the scope hierarchy and exams
type Server struct {
	store  *store.Store
	addr   string
	log    *logging.Logger
	bounds *Bounds
	shuf   func(n int, swap func(i, j int))
}

// New creates a new API server
func New(s *store.Store, addr string, log *logging.Logger) *Server {
	if log == nil {
		log = logging.Nop()
	}
	return &Server{store: s, addr: addr, log: log, shuf: rand.Shuffle}
}

// SetBounds declares the accepted problem-count range; nil accepts any
// positive count
func (s *Server) SetBounds(b *Bounds) {
	s.bounds = b
}

// Handler returns the routed handler with logging and CORS
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Hierarchy
	mux.HandleFunc("GET /scope/{$}", s.listRoots)
	mux.HandleFunc("GET /scope/{id}/{$}", s.listChildren)
	mux.HandleFunc("GET /scope/{id}/breadcrumbs", s.breadcrumbs)

	// Exams
	mux.HandleFunc("POST /exams/custom/", s.createExam)
	mux.HandleFunc("GET /exams", s.listExams)
	mux.HandleFunc("GET /exams/{id}", s.getExam)

	// Health check
	mux.HandleFunc("GET /health", s.health)

	return s.withLogging(withCORS(mux))
}

// Run starts the HTTP server and shuts it down when ctx is done
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("starting server", "addr", s.addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.log.Info("shutting down server")
		return srv.Shutdown(shutdownCtx)
	}
}

// withCORS adds CORS headers for frontend development
func withCORS(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		h.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) withLogging(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		h.ServeHTTP(rec, r)
		s.log.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start),
		)
	})
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ScopeItem is the wire form of a child listing
type ScopeItem struct {
	ID    int64  `json:"id"`
	Title string `json:"title"`
}

func toItems(scopes []store.Scope) []ScopeItem {
	items := make([]ScopeItem, len(scopes))
	for i, sc := range scopes {
		items[i] = ScopeItem{ID: sc.ID, Title: sc.Title}
	}
	return items
}

func (s *Server) listRoots(w http.ResponseWriter, r *http.Request) {
	roots, err := s.store.Roots()
	if err != nil {
		s.internalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toItems(roots))
}

func (s *Server) listChildren(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	children, err := s.store.Children(id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "scope not found")
		return
	}
	if err != nil {
		s.internalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toItems(children))
}

func (s *Server) breadcrumbs(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	path, err := s.store.Breadcrumbs(id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "scope not found")
		return
	}
	if err != nil {
		s.internalError(w, err)
		return
	}
	nodes := make([]domain.Node, len(path))
	for i, sc := range path {
		nodes[i] = sc.Node()
	}
	writeJSON(w, http.StatusOK, nodes)
}

// examRequest is a validated custom exam form
type examRequest struct {
	title  string
	mode   domain.Mode
	scopes []store.Scope
	count  int
}

func (s *Server) createExam(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest, "invalid form body")
		return
	}

	req, status, err := s.parseExamForm(r)
	if err != nil {
		writeError(w, status, err.Error())
		return
	}

	ids := make([]int64, len(req.scopes))
	refs := make([]domain.Ref, len(req.scopes))
	shallowest := domain.Lesson
	for i, sc := range req.scopes {
		ids[i] = sc.ID
		refs[i] = sc.Node().Ref()
		if sc.Level < shallowest {
			shallowest = sc.Level
		}
	}

	problems, err := s.store.ProblemsUnder(ids)
	if err != nil {
		s.internalError(w, err)
		return
	}
	if len(problems) == 0 {
		writeError(w, http.StatusBadRequest, "no problems found for the selected scopes")
		return
	}

	count := req.count
	if count == 0 {
		count = domain.DefaultProblemCount(shallowest)
	}
	s.shuf(len(problems), func(i, j int) { problems[i], problems[j] = problems[j], problems[i] })
	if count < len(problems) {
		problems = problems[:count]
	}

	exam := &domain.Exam{
		Title:        req.title,
		Mode:         req.mode,
		Scopes:       refs,
		ProblemCount: len(problems),
		ProblemIDs:   problems,
	}
	if err := s.store.CreateExam(exam); err != nil {
		s.internalError(w, err)
		return
	}

	s.log.Info("exam created", "exam", exam.ID, "mode", string(exam.Mode), "scopes", len(refs), "problems", len(problems))
	writeJSON(w, http.StatusCreated, exam)
}

// parseExamForm applies the same rules as the picker form
func (s *Server) parseExamForm(r *http.Request) (*examRequest, int, error) {
	req := &examRequest{title: strings.TrimSpace(r.PostForm.Get("title"))}
	if req.title == "" {
		return nil, http.StatusBadRequest, errors.New("title is required")
	}

	mode, err := domain.ParseMode(r.PostForm.Get("mode"))
	if err != nil {
		return nil, http.StatusBadRequest, err
	}
	req.mode = mode

	switch mode {
	case domain.ModeSingle:
		level, err := domain.ParseLevel(r.PostForm.Get("scope_type"))
		if err != nil {
			return nil, http.StatusBadRequest, fmt.Errorf("scope_type: %w", err)
		}
		sc, status, err := s.lookupScope(r.PostForm.Get("scope_id"), &level)
		if err != nil {
			return nil, status, err
		}
		req.scopes = []store.Scope{*sc}

	case domain.ModeMulti:
		ids := r.PostForm["scope_ids"]
		levels := r.PostForm["scope_levels"]
		if len(ids) == 0 {
			return nil, http.StatusBadRequest, errors.New("at least one scope is required")
		}
		if len(levels) != 0 && len(levels) != len(ids) {
			return nil, http.StatusBadRequest, errors.New("scope_levels must match scope_ids")
		}
		seen := map[int64]bool{}
		for i, raw := range ids {
			var want *domain.Level
			if len(levels) != 0 {
				l, err := domain.ParseLevel(levels[i])
				if err != nil {
					return nil, http.StatusBadRequest, fmt.Errorf("scope_levels: %w", err)
				}
				want = &l
			}
			sc, status, err := s.lookupScope(raw, want)
			if err != nil {
				return nil, status, err
			}
			if seen[sc.ID] {
				continue
			}
			seen[sc.ID] = true
			req.scopes = append(req.scopes, *sc)
		}
		if err := checkExclusive(s.store, req.scopes); err != nil {
			return nil, http.StatusBadRequest, err
		}
	}

	if raw := strings.TrimSpace(r.PostForm.Get("problem_count")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return nil, http.StatusBadRequest, errors.New("problem_count must be a positive whole number")
		}
		if s.bounds != nil && (n < s.bounds.Min || n > s.bounds.Max) {
			return nil, http.StatusBadRequest,
				fmt.Errorf("problem_count must be between %d and %d", s.bounds.Min, s.bounds.Max)
		}
		req.count = n
	}

	return req, 0, nil
}

func (s *Server) lookupScope(raw string, want *domain.Level) (*store.Scope, int, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return nil, http.StatusBadRequest, fmt.Errorf("invalid scope id %q", raw)
	}
	sc, err := s.store.GetScope(id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, http.StatusNotFound, fmt.Errorf("scope %d not found", id)
	}
	if err != nil {
		return nil, http.StatusInternalServerError, err
	}
	if want != nil && sc.Level != *want {
		return nil, http.StatusBadRequest, fmt.Errorf("scope %d is a %s, not a %s", id, sc.Level.Label(), want.Label())
	}
	return sc, 0, nil
}

// checkExclusive rejects a set where one scope lies under another
func checkExclusive(st *store.Store, scopes []store.Scope) error {
	chosen := make(map[int64]string, len(scopes))
	for _, sc := range scopes {
		chosen[sc.ID] = sc.Title
	}
	for _, sc := range scopes {
		path, err := st.Breadcrumbs(sc.ID)
		if err != nil {
			return err
		}
		for _, anc := range path[:len(path)-1] {
			if title, ok := chosen[anc.ID]; ok {
				return fmt.Errorf("%q is already covered by %q", sc.Title, title)
			}
		}
	}
	return nil
}

func (s *Server) getExam(w http.ResponseWriter, r *http.Request) {
	exam, err := s.store.GetExam(r.PathValue("id"))
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "exam not found")
		return
	}
	if err != nil {
		s.internalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, exam)
}

func (s *Server) listExams(w http.ResponseWriter, r *http.Request) {
	limit := 20
	offset := 0

	if l := r.URL.Query().Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 {
			limit = n
		}
	}
	if o := r.URL.Query().Get("offset"); o != "" {
		if n, err := strconv.Atoi(o); err == nil && n >= 0 {
			offset = n
		}
	}

	exams, err := s.store.ListExams(limit, offset)
	if err != nil {
		s.internalError(w, err)
		return
	}
	if exams == nil {
		exams = []domain.Exam{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"exams":  exams,
		"limit":  limit,
		"offset": offset,
	})
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid scope id")
		return 0, false
	}
	return id, true
}

func (s *Server) internalError(w http.ResponseWriter, err error) {
	s.log.Error("request failed", "error", err)
	writeError(w, http.StatusInternalServerError, err.Error())
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
