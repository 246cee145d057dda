// Package scheduler runs session timers. Every callback of a session runs on
// one goroutine so engine state needs no locking of its own.
package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Token identifies one scheduled callback.
type Token interface {
	// Cancel prevents the callback from running. Safe to call more than once.
	Cancel()
}

// Scheduler arms one-shot callbacks.
type Scheduler interface {
	Schedule(d time.Duration, fn func()) Token
}

// Executor runs engine operations on the session's goroutine.
type Executor interface {
	Do(fn func())
}

// Runner is what a session needs: a place to run operations and to arm timers.
type Runner interface {
	Scheduler
	Executor
}

// noop is returned when there is nothing to cancel.
type noop struct{}

func (noop) Cancel() {}

// Nop is a token that cancels nothing; handy as a zero value.
var Nop Token = noop{}

// -------------------------------------------------------------------
//                              LOOP
// -------------------------------------------------------------------

// Loop is a single-goroutine executor. Timers fire by posting their callback
// onto the loop, and a cancelled token is checked on the loop right before
// the callback would run, so a cancelled tick never fires late.
type Loop struct {
	queue   chan func()
	done    chan struct{}
	stopped atomic.Bool
	once    sync.Once
}

// NewLoop starts the loop goroutine. It stops when ctx ends or Close is called.
func NewLoop(ctx context.Context) *Loop {
	l := &Loop{
		queue: make(chan func(), 64),
		done:  make(chan struct{}),
	}
	go l.run(ctx)
	return l
}

func (l *Loop) run(ctx context.Context) {
	defer l.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case <-l.done:
			return
		case fn := <-l.queue:
			fn()
		}
	}
}

func (l *Loop) post(fn func()) bool {
	if l.stopped.Load() {
		return false
	}
	select {
	case l.queue <- fn:
		return true
	case <-l.done:
		return false
	}
}

// Do runs fn on the loop and waits for it. It returns without running fn
// once the loop is closed.
func (l *Loop) Do(fn func()) {
	finished := make(chan struct{})
	if !l.post(func() {
		defer close(finished)
		fn()
	}) {
		return
	}
	select {
	case <-finished:
	case <-l.done:
	}
}

type loopToken struct {
	timer     *time.Timer
	cancelled atomic.Bool
}

func (t *loopToken) Cancel() {
	t.cancelled.Store(true)
	if t.timer != nil {
		t.timer.Stop()
	}
}

// Schedule arms fn to run on the loop after d.
func (l *Loop) Schedule(d time.Duration, fn func()) Token {
	tok := &loopToken{}
	tok.timer = time.AfterFunc(d, func() {
		l.post(func() {
			if tok.cancelled.Load() {
				return
			}
			fn()
		})
	})
	return tok
}

// Close stops the loop. Pending and future callbacks are dropped.
func (l *Loop) Close() {
	l.once.Do(func() {
		l.stopped.Store(true)
		close(l.done)
	})
}
