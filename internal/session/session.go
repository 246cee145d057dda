// Package session holds the engine state of one viewer: live following or
// replay of a day, never both, driven by one scheduler goroutine.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"track-svr/internal/live"
	"track-svr/internal/pipeline"
	"track-svr/internal/playback"
	"track-svr/internal/scheduler"
	"track-svr/internal/store"
	"track-svr/internal/track"
)

const (
	DefaultPollInterval = 5 * time.Second
	DefaultQueryTimeout = 5 * time.Second
)

var (
	ErrNoSegment = errors.New("session: no such segment")
	ErrDisposed  = errors.New("session: disposed")
)

type Mode int

const (
	ModeNone Mode = iota
	ModeLive
	ModeReplay
)

func (m Mode) String() string {
	switch m {
	case ModeLive:
		return "live"
	case ModeReplay:
		return "replay"
	default:
		return "none"
	}
}

func (m Mode) MarshalText() ([]byte, error) { return []byte(m.String()), nil }

type Config struct {
	Source       store.Source
	Processor    *pipeline.Processor
	Live         live.Options
	PollInterval time.Duration
	BaseInterval time.Duration
	QueryTimeout time.Duration
	Location     *time.Location
}

func (c Config) withDefaults() Config {
	if c.Processor == nil {
		c.Processor = pipeline.NewProcessor(pipeline.DefaultOptions())
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.BaseInterval <= 0 {
		c.BaseInterval = playback.DefaultBaseInterval
	}
	if c.QueryTimeout <= 0 {
		c.QueryTimeout = DefaultQueryTimeout
	}
	if c.Location == nil {
		c.Location = time.Local
	}
	return c
}

// Snapshot is the session state for UI binding.
type Snapshot struct {
	ID       string          `json:"id"`
	Mode     Mode            `json:"mode"`
	DeviceID string          `json:"device_id,omitempty"`
	Date     string          `json:"date,omitempty"`
	Segment  int             `json:"segment"`
	Segments int             `json:"segments"`
	Status   playback.Status `json:"status"`
	Index    int             `json:"index"`
	Rate     float64         `json:"rate"`
	Progress float64         `json:"progress"`
	PathLen  int             `json:"path_len"`
}

// Session is one viewer's engine context. Every exported method hops onto
// the runner, so callers may use it from any goroutine.
type Session struct {
	id     string
	cfg    Config
	runner scheduler.Runner
	sink   Sink
	logger *slog.Logger

	ctx        context.Context
	cancel     context.CancelFunc
	modeCtx    context.Context
	modeCancel context.CancelFunc
	disposed   bool

	mode     Mode
	deviceID string

	monitor *live.Monitor
	pollTok scheduler.Token

	date     time.Time
	traj     track.Trajectory
	selected int
	player   *playback.Controller
}

func New(ctx context.Context, id string, cfg Config, runner scheduler.Runner, sink Sink, logger *slog.Logger) *Session {
	if sink == nil {
		sink = func(Event) {}
	}
	ctx, cancel := context.WithCancel(ctx)
	s := &Session{
		id:         id,
		cfg:        cfg.withDefaults(),
		runner:     runner,
		sink:       sink,
		logger:     logger.With("component", "session", "session", id),
		ctx:        ctx,
		cancel:     cancel,
		modeCtx:    ctx,
		modeCancel: func() {},
		pollTok:    scheduler.Nop,
	}
	s.player = playback.NewController(runner, s.cfg.BaseInterval, s.renderFrame)
	return s
}

func (s *Session) ID() string { return s.id }

// do runs fn on the session goroutine and returns its error.
func (s *Session) do(fn func() error) error {
	err := ErrDisposed
	s.runner.Do(func() {
		if s.disposed {
			return
		}
		err = fn()
	})
	return err
}

// StartLive leaves replay mode and follows deviceID (all devices when empty).
// The first poll runs immediately.
func (s *Session) StartLive(deviceID string) error {
	return s.do(func() error {
		s.leaveMode()
		s.mode = ModeLive
		s.deviceID = deviceID
		s.monitor = live.NewMonitor(s.cfg.Source, deviceID, live.Options{
			Window:  s.cfg.Live.Window,
			Timeout: s.cfg.QueryTimeout,
		}, s.logger)
		s.pollLive()
		return nil
	})
}

// SelectDevice changes the followed device. In live mode the cursor is
// discarded and acquisition starts over; in replay mode the day is reloaded.
func (s *Session) SelectDevice(deviceID string) error {
	var mode Mode
	var date time.Time
	s.runner.Do(func() { mode, date = s.mode, s.date })
	switch mode {
	case ModeLive:
		return s.StartLive(deviceID)
	case ModeReplay:
		return s.StartReplay(date, deviceID)
	}
	return s.do(func() error {
		s.deviceID = deviceID
		return nil
	})
}

// StartReplay leaves live mode, loads the given calendar day and selects its
// first segment.
func (s *Session) StartReplay(date time.Time, deviceID string) error {
	return s.do(func() error {
		s.leaveMode()
		s.mode = ModeReplay
		s.deviceID = deviceID
		y, m, d := date.Date()
		s.date = time.Date(y, m, d, 0, 0, 0, 0, s.cfg.Location)

		ctx, cancel := context.WithTimeout(s.modeCtx, s.cfg.QueryTimeout)
		defer cancel()
		fixes, err := s.cfg.Source.Fixes(ctx, store.DateQuery(deviceID, s.date))
		if err != nil {
			s.logger.Warn("history query failed", "device", deviceID, "date", s.date.Format(time.DateOnly), "err", err)
			s.emitError(fmt.Errorf("%s: %w", live.StatusConnError, err))
			return err
		}

		traj, st := s.cfg.Processor.Build(fixes)
		s.traj = traj
		s.emit(Event{Type: EventTrajectory, Trajectory: NewTrajectoryView(s.date.Format(time.DateOnly), deviceID, traj, st)})
		if len(traj) == 0 {
			return nil
		}
		return s.selectSegment(0)
	})
}

// Select loads segment i of the replayed day.
func (s *Session) Select(i int) error {
	return s.do(func() error { return s.selectSegment(i) })
}

func (s *Session) Play() error  { return s.do(s.player.Play) }
func (s *Session) Pause() error { return s.do(s.player.Pause) }
func (s *Session) Stop() error  { return s.do(s.player.Stop) }

func (s *Session) Seek(fraction float64) error {
	return s.do(func() error { return s.player.Seek(fraction) })
}

func (s *Session) SetRate(rate float64) error {
	return s.do(func() error { return s.player.SetRate(rate) })
}

// Leave exits the current mode and clears every timer.
func (s *Session) Leave() error {
	return s.do(func() error {
		s.leaveMode()
		return nil
	})
}

// Dispose cancels all timers and pending queries. The session is unusable
// afterwards; a Loop runner is closed too.
func (s *Session) Dispose() {
	s.runner.Do(func() {
		if s.disposed {
			return
		}
		s.leaveMode()
		s.disposed = true
		s.cancel()
	})
	if c, ok := s.runner.(interface{ Close() }); ok {
		c.Close()
	}
}

func (s *Session) Snapshot() Snapshot {
	var snap Snapshot
	s.runner.Do(func() {
		st := s.player.State()
		snap = Snapshot{
			ID:       s.id,
			Mode:     s.mode,
			DeviceID: s.deviceID,
			Segment:  s.selected,
			Segments: len(s.traj),
			Status:   st.Status,
			Index:    st.Index,
			Rate:     st.Rate,
			Progress: s.player.Progress(),
		}
		if s.mode == ModeReplay {
			snap.Date = s.date.Format(time.DateOnly)
		}
		if s.monitor != nil {
			snap.PathLen = len(s.monitor.Cursor().Path)
		}
	})
	return snap
}

// leaveMode cancels the running mode's timer and query context and discards
// its state. The playback rate survives mode switches.
func (s *Session) leaveMode() {
	s.modeCancel()
	s.modeCtx, s.modeCancel = context.WithCancel(s.ctx)

	s.pollTok.Cancel()
	s.pollTok = scheduler.Nop
	s.monitor = nil

	s.player.Close()
	s.traj = nil
	s.selected = 0
	s.date = time.Time{}
	s.mode = ModeNone
}

func (s *Session) pollLive() {
	s.pollTok = scheduler.Nop
	if s.mode != ModeLive || s.monitor == nil {
		return
	}
	u := s.monitor.Poll(s.modeCtx)
	s.emit(Event{Type: EventLive, Live: liveView(u)})
	s.pollTok = s.runner.Schedule(s.cfg.PollInterval, s.pollLive)
}

func (s *Session) selectSegment(i int) error {
	if s.mode != ModeReplay || i < 0 || i >= len(s.traj) {
		return fmt.Errorf("%w: %d", ErrNoSegment, i)
	}
	s.selected = i
	return s.player.Load(s.traj[i])
}

func (s *Session) renderFrame(f playback.Frame) {
	s.emit(Event{Type: EventFrame, Frame: frameView(s.selected, f)})
}

func (s *Session) emit(ev Event) {
	ev.Session = s.id
	s.sink(ev)
}

func (s *Session) emitError(err error) {
	s.emit(Event{Type: EventError, Error: err.Error()})
}
