package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/btcpulse/btcpulse/internal/store"
	"github.com/btcpulse/btcpulse/pkg/health"
)

// Server provides the HTTP API.
type Server struct {
	store    store.Store
	pipeline *health.Pipeline
	port     int
}

// New creates a new HTTP server.
func New(s store.Store, pipeline *health.Pipeline, port int) *Server {
	if port == 0 {
		port = 8080
	}
	return &Server{
		store:    s,
		pipeline: pipeline,
		port:     port,
	}
}

// Handler returns the chi router with all routes mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/score", s.handleScore)
		r.Get("/pillars", s.handlePillars)
		r.Get("/metrics", s.handleMetrics)
		r.Get("/metrics/{id}", s.handleMetric)
		r.Get("/timeseries/{kind}/{id}", s.handleTimeseries)
		r.Get("/runs", s.handleRuns)
		r.Get("/collectors", s.handleCollectors)
		r.Post("/recompute", s.handleRecompute)
	})

	r.Handle("/metrics", promhttp.Handler())

	return r
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe() error {
	addr := fmt.Sprintf(":%d", s.port)
	fmt.Printf("btcpulse server listening on %s\n", addr)
	return http.ListenAndServe(addr, s.Handler())
}

func (s *Server) handleScore(w http.ResponseWriter, r *http.Request) {
	score, err := s.store.LatestScore(r.Context(), health.KindOverall, "overall")
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if score == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no score computed yet"})
		return
	}
	writeJSON(w, http.StatusOK, score)
}

func (s *Server) handlePillars(w http.ResponseWriter, r *http.Request) {
	scores, err := s.store.LatestScores(r.Context(), health.KindPillar)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"data":  scores,
		"count": len(scores),
	})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	scores, err := s.store.LatestScores(r.Context(), health.KindMetric)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"data":  scores,
		"count": len(scores),
	})
}

func (s *Server) handleMetric(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	score, err := s.store.LatestScore(ctx, health.KindMetric, id)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if score == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown metric"})
		return
	}

	sample, err := s.store.Latest(ctx, id, time.Now().UTC().Unix())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	snapshot, err := s.store.LatestSnapshot(ctx, id)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"score":       score,
		"sample":      sample,
		"percentiles": snapshot,
	})
}

func (s *Server) handleTimeseries(w http.ResponseWriter, r *http.Request) {
	kind := health.ScoreKind(chi.URLParam(r, "kind"))
	switch kind {
	case health.KindMetric, health.KindPillar, health.KindOverall:
	default:
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "kind must be metric, pillar or overall"})
		return
	}
	id := chi.URLParam(r, "id")

	now := time.Now().UTC().Unix()
	from := now - 90*86400
	to := now
	if v := r.URL.Query().Get("from"); v != "" {
		if ts, err := strconv.ParseInt(v, 10, 64); err == nil {
			from = ts
		}
	}
	if v := r.URL.Query().Get("to"); v != "" {
		if ts, err := strconv.ParseInt(v, 10, 64); err == nil {
			to = ts
		}
	}

	series, err := s.store.ScoreSeries(r.Context(), kind, id, from, to)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"data":  series,
		"count": len(series),
	})
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	runs, err := s.store.RecentRuns(r.Context(), limit)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"data":  runs,
		"count": len(runs),
	})
}

func (s *Server) handleCollectors(w http.ResponseWriter, r *http.Request) {
	statuses, err := s.store.CollectorStatus(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"data":  statuses,
		"count": len(statuses),
	})
}

func (s *Server) handleRecompute(w http.ResponseWriter, r *http.Request) {
	res, err := s.pipeline.Run(r.Context(), time.Now().UTC().Unix())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
