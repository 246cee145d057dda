package live

import (
	"context"
	"log/slog"
	"time"

	"track-svr/internal/observability"
	"track-svr/internal/store"
	"track-svr/internal/track"
)

const (
	DefaultWindow  = 2 * time.Hour
	DefaultTimeout = 5 * time.Second
)

// Status is the transient indicator shown next to the live view.
type Status string

const (
	StatusWaiting   Status = "waiting"
	StatusLive      Status = "live"
	StatusNoData    Status = "no data"
	StatusConnError Status = "connection error"
)

// Update is the outcome of one poll. Points are the appended fixes with
// their display speed resolved against the path.
type Update struct {
	DeviceID string      `json:"device_id,omitempty"`
	Points   []track.Fix `json:"points"`
	Status   Status      `json:"status"`
	LastSeen time.Time   `json:"last_seen"`
	Failures int         `json:"failures"`
}

type Options struct {
	Window  time.Duration
	Timeout time.Duration
}

// Monitor owns one cursor and the queries that feed it. It is not safe for
// concurrent use.
type Monitor struct {
	src      store.Source
	opts     Options
	cursor   *Cursor
	failures int
	logger   *slog.Logger
}

func NewMonitor(src store.Source, deviceID string, opts Options, logger *slog.Logger) *Monitor {
	if opts.Window <= 0 {
		opts.Window = DefaultWindow
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	return &Monitor{
		src:    src,
		opts:   opts,
		cursor: NewCursor(deviceID),
		logger: logger.With("component", "live", "device", deviceID),
	}
}

// Cursor exposes the monitor's cursor for inspection.
func (m *Monitor) Cursor() *Cursor { return m.cursor }

// Failures is the number of consecutive failed polls.
func (m *Monitor) Failures() int { return m.failures }

// Poll runs the first acquisition until it finds data, then incremental
// polls. Errors never escape: they are logged, counted and reported as
// StatusConnError so the next tick retries.
func (m *Monitor) Poll(ctx context.Context) Update {
	ctx, cancel := context.WithTimeout(ctx, m.opts.Timeout)
	defer cancel()

	observability.LivePolls.Inc()

	fixes, err := m.fetch(ctx)
	if err != nil {
		m.failures++
		observability.LivePollErrors.Inc()
		m.logger.Warn("live poll failed", "failures", m.failures, "err", err)
		return m.update(nil, StatusConnError)
	}
	m.failures = 0

	before := len(m.cursor.Path)
	appended := Reconcile(m.cursor, fixes)
	if dropped := countInvalid(fixes); dropped > 0 {
		observability.InvalidDropped.Add(float64(dropped))
	}

	status := StatusLive
	if len(m.cursor.Path) == 0 {
		status = StatusNoData
	}
	return m.update(resolveTail(m.cursor.Path, before, len(appended)), status)
}

func (m *Monitor) fetch(ctx context.Context) ([]track.Fix, error) {
	dev := m.cursor.DeviceID
	if m.cursor.Acquired() {
		return m.src.Fixes(ctx, store.SinceQuery(dev, m.cursor.LastSeen))
	}

	fixes, err := m.src.Fixes(ctx, store.WindowQuery(dev, m.opts.Window))
	if err != nil || len(fixes) > 0 {
		return fixes, err
	}
	latest, err := m.src.Latest(ctx, dev)
	if err != nil || latest == nil {
		return nil, err
	}
	return []track.Fix{*latest}, nil
}

func (m *Monitor) update(points []track.Fix, status Status) Update {
	return Update{
		DeviceID: m.cursor.DeviceID,
		Points:   points,
		Status:   status,
		LastSeen: m.cursor.LastSeen,
		Failures: m.failures,
	}
}

// resolveTail resolves display speeds for path[from:from+n], measuring the
// first against the point before it.
func resolveTail(path []track.Fix, from, n int) []track.Fix {
	if n == 0 {
		return nil
	}
	out := make([]track.Fix, n)
	for i := range n {
		var prev *track.Fix
		if j := from + i - 1; j >= 0 {
			prev = &path[j]
		}
		out[i] = track.AnnotatedFix{
			Fix:        path[from+i],
			Kinematics: track.DeriveSpeedHeading(prev, path[from+i]),
		}.Resolved()
	}
	return out
}

func countInvalid(fixes []track.Fix) int {
	n := 0
	for _, f := range fixes {
		if !f.Valid() {
			n++
		}
	}
	return n
}
