// Package api is the renderer-facing surface: JSON endpoints for the live
// and history views and a WebSocket channel bound to one engine session.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"track-svr/internal/live"
	"track-svr/internal/pipeline"
	"track-svr/internal/session"
	"track-svr/internal/store"
	"track-svr/internal/track"
)

type Options struct {
	Source     store.Source
	Processor  *pipeline.Processor
	Sessions   *session.Manager
	Ingest     http.Handler
	Location   *time.Location
	LiveWindow time.Duration
	Timeout    time.Duration
}

type Server struct {
	opts   Options
	logger *slog.Logger
}

func New(opts Options, logger *slog.Logger) *Server {
	if opts.Processor == nil {
		opts.Processor = pipeline.NewProcessor(pipeline.DefaultOptions())
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.LiveWindow <= 0 {
		opts.LiveWindow = live.DefaultWindow
	}
	if opts.Timeout <= 0 {
		opts.Timeout = live.DefaultTimeout
	}
	return &Server{opts: opts, logger: logger.With("component", "api")}
}

func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/realtime/init", s.handleRealtimeInit)
	mux.HandleFunc("GET /api/realtime/update", s.handleRealtimeUpdate)
	mux.HandleFunc("GET /api/history", s.handleHistory)
	if s.opts.Sessions != nil {
		mux.HandleFunc("GET /ws", s.handleWS)
	}
	if s.opts.Ingest != nil {
		mux.Handle("/gps", s.opts.Ingest)
	}
	return mux
}

type pointsResponse struct {
	Data   []pipeline.TrackingObject `json:"data"`
	Status live.Status               `json:"status"`
}

// handleRealtimeInit answers the last window of fixes, or the single most
// recent fix when the window is empty.
func (s *Server) handleRealtimeInit(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.opts.Timeout)
	defer cancel()
	dev := r.URL.Query().Get("device_id")

	fixes, err := s.opts.Source.Fixes(ctx, store.WindowQuery(dev, s.opts.LiveWindow))
	if err != nil {
		s.queryFailed(w, err)
		return
	}
	if len(fixes) == 0 {
		latest, err := s.opts.Source.Latest(ctx, dev)
		if err != nil {
			s.queryFailed(w, err)
			return
		}
		if latest != nil {
			fixes = []track.Fix{*latest}
		}
	}
	writeJSON(w, http.StatusOK, pointsFor(fixes))
}

// handleRealtimeUpdate answers the fixes strictly newer than last_time.
func (s *Server) handleRealtimeUpdate(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	since, err := parseTime(q.Get("last_time"), s.opts.Location)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.opts.Timeout)
	defer cancel()
	fixes, err := s.opts.Source.Fixes(ctx, store.SinceQuery(q.Get("device_id"), since))
	if err != nil {
		s.queryFailed(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pointsFor(fixes))
}

// handleHistory answers one calendar day as a processed trajectory.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	date, err := time.ParseInLocation(time.DateOnly, q.Get("date"), s.opts.Location)
	if err != nil {
		writeError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
		return
	}

	proc := s.opts.Processor
	if v := q.Get("smooth"); v != "" {
		on, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "smooth must be a boolean")
			return
		}
		proc = proc.WithSmoothing(on)
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.opts.Timeout)
	defer cancel()
	dev := q.Get("device_id")
	fixes, err := s.opts.Source.Fixes(ctx, store.DateQuery(dev, date))
	if err != nil {
		s.queryFailed(w, err)
		return
	}

	traj, st := proc.Build(fixes)
	writeJSON(w, http.StatusOK, session.NewTrajectoryView(date.Format(time.DateOnly), dev, traj, st))
}

func (s *Server) queryFailed(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrInvalidQuery) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.logger.Error("fix query failed", "err", err)
	writeError(w, http.StatusServiceUnavailable, string(live.StatusConnError))
}

// pointsFor drops malformed fixes and resolves display speeds.
func pointsFor(fixes []track.Fix) pointsResponse {
	valid, _ := track.ValidOnly(fixes)
	resp := pointsResponse{
		Data:   pipeline.BuildTrackings(track.ResolveSpeeds(valid)),
		Status: live.StatusLive,
	}
	if len(valid) == 0 {
		resp.Status = live.StatusNoData
	}
	return resp
}

const localLayout = "2006-01-02 15:04:05"

// parseTime accepts unix seconds, "YYYY-MM-DD HH:MM:SS" in loc or RFC3339.
func parseTime(s string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("last_time is required")
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(n, 0).In(loc), nil
	}
	if t, err := time.ParseInLocation(localLayout, s, loc); err == nil {
		return t, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("last_time %q: unsupported format", s)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
