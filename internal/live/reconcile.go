// Package live follows a device in near real time: a watermark cursor, the
// reconciler that merges incremental polls into the path, and the monitor
// that drives the queries.
package live

import (
	"time"

	"track-svr/internal/track"
)

// Cursor is the live state of one session. LastSeen is the watermark: the
// timestamp of the newest fix consumed so far, zero before first acquisition.
type Cursor struct {
	DeviceID string
	LastSeen time.Time
	Path     []track.Fix
}

func NewCursor(deviceID string) *Cursor {
	return &Cursor{DeviceID: deviceID}
}

// Acquired reports whether the first acquisition has consumed any fix.
func (c *Cursor) Acquired() bool { return !c.LastSeen.IsZero() }

// Reconcile merges a poll result into the cursor and returns the fixes it
// appended. Only fixes strictly newer than the watermark are consumed, so an
// overlapping or repeated poll appends nothing twice. Malformed fixes move the
// watermark but never reach the path.
func Reconcile(c *Cursor, fixes []track.Fix) []track.Fix {
	var appended []track.Fix
	for _, f := range fixes {
		if c.Acquired() && !f.Timestamp.After(c.LastSeen) {
			continue
		}
		c.LastSeen = f.Timestamp
		if !f.Valid() {
			continue
		}
		c.Path = append(c.Path, f)
		appended = append(appended, f)
	}
	return appended
}
