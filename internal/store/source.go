package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"track-svr/internal/track"
)

// ErrInvalidQuery is returned when a query does not select exactly one mode.
var ErrInvalidQuery = errors.New("store: query must set exactly one of window, since or date")

// Query selects fixes by rolling window, strictly-after timestamp or
// calendar date. Exactly one of the three is set. An empty DeviceID matches
// every device.
type Query struct {
	DeviceID string
	Window   time.Duration
	Since    time.Time
	Date     time.Time
}

// WindowQuery selects the fixes of the last window.
func WindowQuery(deviceID string, window time.Duration) Query {
	return Query{DeviceID: deviceID, Window: window}
}

// SinceQuery selects fixes strictly newer than since.
func SinceQuery(deviceID string, since time.Time) Query {
	return Query{DeviceID: deviceID, Since: since}
}

// DateQuery selects the fixes of one calendar day. Only the year, month and
// day of date are used.
func DateQuery(deviceID string, date time.Time) Query {
	return Query{DeviceID: deviceID, Date: date}
}

func (q Query) Validate() error {
	set := 0
	if q.Window > 0 {
		set++
	}
	if !q.Since.IsZero() {
		set++
	}
	if !q.Date.IsZero() {
		set++
	}
	if set != 1 {
		return fmt.Errorf("%w (device=%q)", ErrInvalidQuery, q.DeviceID)
	}
	return nil
}

// Source is the read side of the fix store.
type Source interface {
	// Fixes returns the matching fixes in ascending timestamp order.
	Fixes(ctx context.Context, q Query) ([]track.Fix, error)
	// Latest returns the most recent fix, or nil when there is none.
	Latest(ctx context.Context, deviceID string) (*track.Fix, error)
}
