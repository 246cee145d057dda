package ingest

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"track-svr/internal/observability"
	"track-svr/internal/utilities"
)

// HTTPHandler serves GET /gps?device_id=&lat=&lng=&spd=&cog=&satcnt=&gpstime=
// and answers "1" once the report is handled, stored or not.
type HTTPHandler struct {
	writer *Writer
	loc    *time.Location
	raw    *utilities.RawLog
	logger *slog.Logger
	now    func() time.Time
}

func NewHTTPHandler(w *Writer, loc *time.Location, raw *utilities.RawLog, logger *slog.Logger) *HTTPHandler {
	if loc == nil {
		loc = time.Local
	}
	return &HTTPHandler{
		writer: w,
		loc:    loc,
		raw:    raw,
		logger: logger.With("component", "ingest-http"),
		now:    time.Now,
	}
}

func (h *HTTPHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.raw.CreateLog("HTTP", r.Form.Encode()); err != nil {
		h.logger.Warn("raw log failed", "err", err)
	}

	rep, err := reportFromForm(r.Form)
	if err != nil {
		observability.ParseErrors.WithLabelValues("http").Inc()
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	f, err := rep.Fix(h.loc, h.now())
	if err != nil {
		observability.ParseErrors.WithLabelValues("http").Inc()
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if _, err := h.writer.Write(r.Context(), "http", f); err != nil {
		h.logger.Error("write fix failed", "device", f.DeviceID, "err", err)
		writeError(w, http.StatusInternalServerError, "store unavailable")
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("1"))
}

func reportFromForm(v url.Values) (Report, error) {
	var (
		rep Report
		err error
	)
	rep.DeviceID = v.Get("device_id")
	rep.GPSTime = GPSTime(v.Get("gpstime"))

	if rep.Lat, err = floatParam(v, "lat"); err != nil {
		return Report{}, err
	}
	if rep.Lng, err = floatParam(v, "lng"); err != nil {
		return Report{}, err
	}
	if rep.Speed, err = floatParam(v, "spd"); err != nil {
		return Report{}, err
	}
	if rep.Heading, err = floatParam(v, "cog"); err != nil {
		return Report{}, err
	}
	if s := strings.TrimSpace(v.Get("satcnt")); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			return Report{}, fmt.Errorf("satcnt: %w", err)
		}
		rep.Satellites = &n
	}
	return rep, nil
}

func floatParam(v url.Values, key string) (*float64, error) {
	s := strings.TrimSpace(v.Get(key))
	if s == "" {
		return nil, nil
	}
	n, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", key, errors.Unwrap(err))
	}
	return &n, nil
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
