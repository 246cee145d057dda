// Package playback animates one segment at a configurable rate.
package playback

import (
	"errors"
	"math"
	"time"

	"track-svr/internal/scheduler"
	"track-svr/internal/track"
)

// DefaultBaseInterval is the time between two steps at rate 1.
const DefaultBaseInterval = 600 * time.Millisecond

// Bounds on the wait between two steps.
const (
	MinInterval = time.Millisecond
	MaxInterval = time.Hour
)

var (
	ErrNotLoaded    = errors.New("playback: no segment loaded")
	ErrEmptySegment = errors.New("playback: segment has no fixes")
	ErrInvalidRate  = errors.New("playback: rate must be a positive number")
)

// Status is the controller's position in its state machine.
type Status int

const (
	Idle Status = iota
	Loaded
	Playing
	Paused
	Stopped
)

func (s Status) String() string {
	switch s {
	case Loaded:
		return "loaded"
	case Playing:
		return "playing"
	case Paused:
		return "paused"
	case Stopped:
		return "stopped"
	default:
		return "idle"
	}
}

func (s Status) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// State is a snapshot for UI binding.
type State struct {
	Segment track.Segment
	Index   int
	Rate    float64
	Status  Status
}

// Frame is what the renderer draws after every index change.
type Frame struct {
	Fix      track.Fix `json:"fix"`
	Index    int       `json:"index"`
	Len      int       `json:"len"`
	Progress float64   `json:"progress"`
	Rate     float64   `json:"rate"`
	Status   Status    `json:"status"`
}

// Renderer receives frames. It runs on the controller's goroutine and must
// not call back into the controller.
type Renderer func(Frame)

// Controller is the playback state machine. It is not safe for concurrent
// use; callers run it on one goroutine (see scheduler.Loop).
type Controller struct {
	sched  scheduler.Scheduler
	base   time.Duration
	render Renderer

	seg    track.Segment
	index  int
	rate   float64
	status Status
	tick   scheduler.Token
}

// NewController builds an idle controller. A non-positive base falls back to
// DefaultBaseInterval; a nil renderer discards frames.
func NewController(sched scheduler.Scheduler, base time.Duration, render Renderer) *Controller {
	if base <= 0 {
		base = DefaultBaseInterval
	}
	if render == nil {
		render = func(Frame) {}
	}
	return &Controller{
		sched:  sched,
		base:   base,
		render: render,
		rate:   1,
		status: Idle,
		tick:   scheduler.Nop,
	}
}

// Load replaces the segment, rewinds and draws the first point.
func (c *Controller) Load(seg track.Segment) error {
	c.cancelTick()
	if seg.Len() == 0 {
		c.seg = track.Segment{}
		c.index = 0
		c.status = Idle
		return ErrEmptySegment
	}
	c.seg = seg
	c.index = 0
	c.status = Loaded
	c.emit()
	return nil
}

// Play starts stepping. At the last index it does nothing until Stop or Load
// rewinds; while already playing it does nothing either.
func (c *Controller) Play() error {
	if c.status == Idle {
		return ErrNotLoaded
	}
	if c.status == Playing || c.atEnd() {
		return nil
	}
	c.status = Playing
	c.emit()
	c.arm()
	return nil
}

// Pause stops the clock and keeps the index.
func (c *Controller) Pause() error {
	if c.status == Idle {
		return ErrNotLoaded
	}
	if c.status != Playing {
		return nil
	}
	c.cancelTick()
	c.status = Paused
	c.emit()
	return nil
}

// Stop stops the clock, rewinds to the first point and draws it.
func (c *Controller) Stop() error {
	if c.status == Idle {
		return ErrNotLoaded
	}
	c.cancelTick()
	c.index = 0
	c.status = Stopped
	c.emit()
	return nil
}

// Seek jumps to floor(fraction*(len-1)). The fraction is clamped to [0,1].
// A pending tick is left alone so playback continues from the new index
// without an extra step.
func (c *Controller) Seek(fraction float64) error {
	if c.status == Idle {
		return ErrNotLoaded
	}
	if math.IsNaN(fraction) || fraction < 0 {
		fraction = 0
	}
	if fraction > 1 {
		fraction = 1
	}
	c.index = c.clamp(int(math.Floor(fraction * float64(c.seg.Len()-1))))
	c.emit()
	return nil
}

// SetRate changes the speed multiplier. An already armed tick keeps its wait.
// Rates that would stretch one step beyond MaxInterval are rejected.
func (c *Controller) SetRate(rate float64) error {
	if math.IsNaN(rate) || math.IsInf(rate, 0) || rate <= 0 {
		return ErrInvalidRate
	}
	if float64(c.base)/rate > float64(MaxInterval) {
		return ErrInvalidRate
	}
	c.rate = rate
	return nil
}

// Close cancels any pending tick and forgets the segment.
func (c *Controller) Close() {
	c.cancelTick()
	c.seg = track.Segment{}
	c.index = 0
	c.status = Idle
}

func (c *Controller) State() State {
	return State{Segment: c.seg, Index: c.index, Rate: c.rate, Status: c.status}
}

// Progress is the index as a percentage of the segment, 0 for one point.
func (c *Controller) Progress() float64 {
	n := c.seg.Len()
	if n <= 1 {
		return 0
	}
	return float64(c.index) / float64(n-1) * 100
}

// Interval is the wait armed by the next scheduled tick, never below
// MinInterval.
func (c *Controller) Interval() time.Duration {
	d := time.Duration(float64(c.base) / c.rate)
	if d < MinInterval {
		return MinInterval
	}
	return d
}

// Frame describes the current point, or false when nothing is loaded.
func (c *Controller) Frame() (Frame, bool) {
	if c.status == Idle {
		return Frame{}, false
	}
	return Frame{
		Fix:      c.seg.At(c.index),
		Index:    c.index,
		Len:      c.seg.Len(),
		Progress: c.Progress(),
		Rate:     c.rate,
		Status:   c.status,
	}, true
}

func (c *Controller) step() {
	c.tick = scheduler.Nop
	if c.status != Playing {
		return
	}
	if c.atEnd() {
		c.status = Paused
		c.emit()
		return
	}
	c.index++
	if c.atEnd() {
		c.status = Paused
		c.emit()
		return
	}
	c.emit()
	c.arm()
}

func (c *Controller) arm() {
	c.cancelTick()
	c.tick = c.sched.Schedule(c.Interval(), c.step)
}

func (c *Controller) cancelTick() {
	c.tick.Cancel()
	c.tick = scheduler.Nop
}

func (c *Controller) atEnd() bool {
	return c.index >= c.seg.Len()-1
}

func (c *Controller) clamp(i int) int {
	if i < 0 {
		return 0
	}
	if last := c.seg.Len() - 1; i > last {
		return last
	}
	return i
}

func (c *Controller) emit() {
	if f, ok := c.Frame(); ok {
		c.render(f)
	}
}
