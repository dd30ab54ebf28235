package fixture

import (
	"errors"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-logr/logr"
	"github.com/goccy/go-json"
)

// ServiceName is reported by the health endpoint.
const ServiceName = "TMHCC Policy Management"

// Server exposes a Store over the backend's REST surface.
type Server struct {
	store *Store
	log   logr.Logger
}

func NewServer(store *Store, log logr.Logger) (*Server, error) {
	if store == nil {
		return nil, errors.New("fixture: store is nil")
	}
	return &Server{store: store, log: log}, nil
}

func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Get("/health", s.handleHealth)
	r.Get("/policies/", s.handleList)
	r.Get("/policies/{policyNumber}", s.handleGet)
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy", "service": ServiceName})
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	recs, err := s.store.List(r.Context())
	if err != nil {
		s.log.Error(err, "list policies")
		writeDetail(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	out := make([]DisplayPolicy, 0, len(recs))
	for _, rec := range recs {
		out = append(out, Display(rec))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	n := chi.URLParam(r, "policyNumber")
	if r.URL.RawPath != "" {
		if u, err := url.PathUnescape(n); err == nil {
			n = u
		}
	}
	if err := ValidatePolicyNumber(n); err != nil {
		writeDetail(w, http.StatusBadRequest, err.Error())
		return
	}
	rec, err := s.store.Get(r.Context(), n)
	switch {
	case errors.Is(err, ErrNotFound):
		writeDetail(w, http.StatusNotFound, "Policy not found")
	case err != nil:
		s.log.Error(err, "get policy", "policyNumber", n)
		writeDetail(w, http.StatusInternalServerError, "Internal server error")
	default:
		writeJSON(w, http.StatusOK, Display(rec))
	}
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.V(1).Info("request", "method", r.Method, "path", r.URL.Path, "status", ww.Status(), "duration", time.Since(start))
	})
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
