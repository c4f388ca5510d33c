package planwatch

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/hazyhaar/planwatch/planwatch/internal/shield"
	"github.com/hazyhaar/planwatch/planwatch/internal/store"
)

// Handler returns the read API router.
func (s *Service) Handler() http.Handler {
	r := chi.NewRouter()
	for _, mw := range shield.APIStack(s.logger) {
		r.Use(mw)
	}
	s.RegisterHTTP(r)
	return r
}

// RegisterHTTP mounts the read API on r.
//
//	GET  /health
//	GET  /api/councils
//	GET  /api/comments?council=&application_id=&missing_coordinates=&limit=
//	GET  /api/comments/table?council=&application_id=
//	GET  /api/count?council=&application_id=
//	POST /api/dedup
func (s *Service) RegisterHTTP(r chi.Router) {
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, 200, map[string]string{"status": "ok", "env": s.store.Env()})
	})
	r.Get("/api/councils", s.handleCouncils)
	r.Get("/api/comments", s.handleComments)
	r.Get("/api/comments/table", s.handleTable)
	r.Get("/api/count", s.handleCount)
	r.Post("/api/dedup", s.handleDedup)
}

func (s *Service) handleCouncils(w http.ResponseWriter, _ *http.Request) {
	out := make([]map[string]string, 0, len(s.cfg.Councils))
	for _, name := range s.cfg.CouncilNames() {
		out = append(out, map[string]string{"council": name, "url": s.cfg.Councils[name]})
	}
	writeJSON(w, 200, out)
}

func filterFromQuery(r *http.Request) (store.Filter, error) {
	q := r.URL.Query()
	f := store.Filter{
		Council:       q.Get("council"),
		ApplicationID: q.Get("application_id"),
	}
	if v := q.Get("missing_coordinates"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return f, errors.New("missing_coordinates must be a boolean")
		}
		f.MissingCoordinates = b
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return f, errors.New("limit must be a non-negative integer")
		}
		f.Limit = n
	}
	return f, nil
}

func (s *Service) handleComments(w http.ResponseWriter, r *http.Request) {
	f, err := filterFromQuery(r)
	if err != nil {
		writeError(w, 400, err)
		return
	}
	if f.Limit == 0 {
		f.Limit = 100
	}
	rows, err := s.store.Read(r.Context(), f)
	if err != nil {
		shield.GetLogger(r.Context()).Error("planwatch: read comments", "error", err)
		writeError(w, 500, err)
		return
	}
	if rows == nil {
		rows = []store.Comment{}
	}
	writeJSON(w, 200, rows)
}

func (s *Service) handleTable(w http.ResponseWriter, r *http.Request) {
	f, err := filterFromQuery(r)
	if err != nil {
		writeError(w, 400, err)
		return
	}
	t, err := s.store.ReadTable(r.Context(), f)
	if err != nil {
		writeError(w, 500, err)
		return
	}
	writeJSON(w, 200, t)
}

func (s *Service) handleCount(w http.ResponseWriter, r *http.Request) {
	council := r.URL.Query().Get("council")
	app := r.URL.Query().Get("application_id")
	if council == "" || app == "" {
		writeError(w, 400, errMissingArgs)
		return
	}
	n, err := s.store.CountFor(r.Context(), council, app)
	if err != nil {
		writeError(w, 500, err)
		return
	}
	writeJSON(w, 200, map[string]any{"council": council, "application_id": app, "count": n})
}

func (s *Service) handleDedup(w http.ResponseWriter, r *http.Request) {
	n, err := s.store.DeduplicateByContent(r.Context())
	if err != nil {
		writeError(w, 500, err)
		return
	}
	writeJSON(w, 200, map[string]any{"removed": n})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}
