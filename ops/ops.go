// Package ops serves the operator endpoints: health and schedule control.
package ops

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"kombat-farm-bot/logging"
	"kombat-farm-bot/scheduler"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

type Pinger interface {
	PingContext(ctx context.Context) error
}

type Schedules interface {
	List(ctx context.Context) ([]scheduler.Schedule, error)
	Process(ctx context.Context, action scheduler.Action, id scheduler.ID, trigger *scheduler.IntervalTrigger, args scheduler.Args) (*scheduler.Schedule, error)
	Run(ctx context.Context, id scheduler.ID) error
}

func NewRouter(db Pinger, schedules Schedules) *chi.Mux {
	log := logging.For(logging.Ops)

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(requestLog(log))

	r.Get("/healthz", healthHandler(db))
	r.Route("/schedules", func(r chi.Router) {
		r.Get("/", listHandler(schedules))
		r.Get("/{id}", getHandler(schedules))
		r.Post("/{id}/run", runHandler(schedules))
		r.Post("/{id}/pause", actionHandler(schedules, scheduler.ActionPause))
		r.Post("/{id}/resume", actionHandler(schedules, scheduler.ActionResume))
		r.Delete("/{id}", actionHandler(schedules, scheduler.ActionRemove))
	})
	return r
}

func healthHandler(db Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := db.PingContext(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{"ok": false, "db": "down"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "db": "up"})
	}
}

func listHandler(schedules Schedules) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		items, err := schedules.List(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal_error")
			return
		}
		out := make([]scheduleView, 0, len(items))
		for i := range items {
			out = append(out, viewOf(&items[i]))
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": out})
	}
}

func getHandler(schedules Schedules) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseID(w, r)
		if !ok {
			return
		}
		sch, err := schedules.Process(r.Context(), scheduler.ActionGet, id, nil, scheduler.Args{})
		respondSchedule(w, sch, err)
	}
}

func actionHandler(schedules Schedules, action scheduler.Action) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseID(w, r)
		if !ok {
			return
		}
		sch, err := schedules.Process(r.Context(), action, id, nil, scheduler.Args{})
		respondSchedule(w, sch, err)
	}
}

func runHandler(schedules Schedules) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseID(w, r)
		if !ok {
			return
		}
		if err := schedules.Run(r.Context(), id); err != nil {
			writeError(w, http.StatusInternalServerError, "internal_error")
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]any{"ok": true})
	}
}

type scheduleView struct {
	ID           string     `json:"id"`
	Kind         string     `json:"kind"`
	Interval     int64      `json:"interval_seconds"`
	NextFireTime *time.Time `json:"next_fire_time"`
	LastFireTime *time.Time `json:"last_fire_time"`
	Paused       bool       `json:"paused"`
	AccountID    int64      `json:"account_id,omitempty"`
}

func viewOf(s *scheduler.Schedule) scheduleView {
	return scheduleView{
		ID:           s.ID,
		Kind:         string(s.Kind),
		Interval:     s.IntervalSeconds,
		NextFireTime: s.NextFireTime,
		LastFireTime: s.LastFireTime,
		Paused:       s.Paused,
		AccountID:    s.Args.AccountID,
	}
}

func parseID(w http.ResponseWriter, r *http.Request) (scheduler.ID, bool) {
	id, err := scheduler.ParseKey(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_id")
		return scheduler.ID{}, false
	}
	return id, true
}

func respondSchedule(w http.ResponseWriter, sch *scheduler.Schedule, err error) {
	switch {
	case errors.Is(err, scheduler.ErrInvalidTrigger):
		writeError(w, http.StatusBadRequest, "invalid_trigger")
	case err != nil:
		writeError(w, http.StatusInternalServerError, "internal_error")
	case sch == nil:
		writeError(w, http.StatusNotFound, "not_found")
	default:
		writeJSON(w, http.StatusOK, viewOf(sch))
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]any{"error": code})
}

func requestLog(log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)

			route := r.URL.Path
			if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
				route = rc.RoutePattern()
			}
			log.Info().
				Str("request_id", chimw.GetReqID(r.Context())).
				Str("method", r.Method).
				Str("route", route).
				Int("status", ww.Status()).
				Dur("duration", time.Since(start)).
				Msg("request")
		})
	}
}
