package scheduler

import (
	"sort"
	"time"
)

// Manual is a deterministic scheduler driven by Advance. Do runs inline, so
// code under test behaves as if it were on a Loop.
type Manual struct {
	now     time.Duration
	seq     int
	pending []*manualToken
}

type manualToken struct {
	at        time.Duration
	seq       int
	fn        func()
	cancelled bool
}

func (t *manualToken) Cancel() { t.cancelled = true }

// NewManual returns a scheduler whose clock starts at zero.
func NewManual() *Manual {
	return &Manual{}
}

func (m *Manual) Do(fn func()) { fn() }

func (m *Manual) Schedule(d time.Duration, fn func()) Token {
	m.seq++
	tok := &manualToken{at: m.now + d, seq: m.seq, fn: fn}
	m.pending = append(m.pending, tok)
	return tok
}

// Elapsed is the virtual time advanced so far.
func (m *Manual) Elapsed() time.Duration { return m.now }

// Pending counts armed, uncancelled callbacks.
func (m *Manual) Pending() int {
	n := 0
	for _, t := range m.pending {
		if !t.cancelled {
			n++
		}
	}
	return n
}

// Advance moves the clock forward by d and runs every callback that falls
// due, in due order. Callbacks scheduled while advancing run too when they
// fall inside the window.
func (m *Manual) Advance(d time.Duration) {
	target := m.now + d
	for {
		next := m.nextDue(target)
		if next == nil {
			break
		}
		m.now = next.at
		next.cancelled = true
		next.fn()
	}
	m.now = target
}

func (m *Manual) nextDue(limit time.Duration) *manualToken {
	live := m.pending[:0]
	for _, t := range m.pending {
		if !t.cancelled {
			live = append(live, t)
		}
	}
	m.pending = live
	sort.SliceStable(m.pending, func(i, j int) bool {
		if m.pending[i].at != m.pending[j].at {
			return m.pending[i].at < m.pending[j].at
		}
		return m.pending[i].seq < m.pending[j].seq
	})
	if len(m.pending) == 0 || m.pending[0].at > limit {
		return nil
	}
	return m.pending[0]
}
