// Package api exposes a small read-only HTTP surface for dashboards and
// operational checks.
package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/sells-group/sentinel/internal/store"
)

// Server serves the ops API.
type Server struct {
	store store.Store
}

func NewServer(st store.Store) *Server {
	return &Server{store: st}
}

// Router builds the chi handler.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet},
	}))

	r.Get("/health", s.handleHealth)
	r.Route("/v1", func(r chi.Router) {
		r.Get("/events/recent", s.handleRecentEvents)
		r.Get("/stats", s.handleStats)
	})
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type eventView struct {
	ID            string    `json:"id"`
	Summary       string    `json:"summary"`
	Signal        int       `json:"signal"`
	Alerted       bool      `json:"alerted"`
	Members       int       `json:"members"`
	Sources       []string  `json:"sources"`
	LastUpdatedAt time.Time `json:"lastUpdatedAt"`
}

func (s *Server) handleRecentEvents(w http.ResponseWriter, r *http.Request) {
	hours := queryInt(r, "hours", 24)
	since := time.Now().UTC().Add(-time.Duration(hours) * time.Hour)

	events, err := s.store.EventsSince(r.Context(), since)
	if err != nil {
		serverError(w, "list events", err)
		return
	}

	views := make([]eventView, 0, len(events))
	for _, ev := range events {
		members, err := s.store.EventMembers(r.Context(), ev.ID)
		if err != nil {
			serverError(w, "list event members", err)
			return
		}
		sources := make([]string, 0, len(members))
		for _, m := range members {
			sources = append(sources, m.SourceURL)
		}
		views = append(views, eventView{
			ID:            ev.ID,
			Summary:       ev.Summary,
			Signal:        ev.Signal,
			Alerted:       ev.Alerted,
			Members:       len(members),
			Sources:       sources,
			LastUpdatedAt: ev.LastUpdatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": views})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	hours := queryInt(r, "hours", 24)
	since := time.Now().UTC().Add(-time.Duration(hours) * time.Hour)

	records, err := s.store.IntelligenceSince(r.Context(), since)
	if err != nil {
		serverError(w, "list records", err)
		return
	}
	events, err := s.store.EventsSince(r.Context(), since)
	if err != nil {
		serverError(w, "list events", err)
		return
	}

	signalSum := 0
	for _, rec := range records {
		signalSum += rec.Signal
	}
	alerted := 0
	for _, ev := range events {
		if ev.Alerted {
			alerted++
		}
	}
	stats := map[string]any{
		"windowHours": hours,
		"records":     len(records),
		"events":      len(events),
		"alerted":     alerted,
	}
	if len(records) > 0 {
		stats["meanSignal"] = float64(signalSum) / float64(len(records))
	}
	writeJSON(w, http.StatusOK, stats)
}

func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func serverError(w http.ResponseWriter, op string, err error) {
	zap.L().Error("api request failed", zap.String("op", op), zap.Error(err))
	http.Error(w, `{"error":"internal"}`, http.StatusInternalServerError)
}
