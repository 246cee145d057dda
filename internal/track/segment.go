package track

import (
	"sort"
	"time"
)

// DefaultIdleGap is the largest allowed pause between two fixes of one segment.
const DefaultIdleGap = 20 * time.Minute

// Segment is a contiguous run of fixes of one device with no pause longer
// than the idle gap. The fixes are never exposed for mutation.
type Segment struct {
	deviceID string
	fixes    []Fix
}

// NewSegment copies fixes into a segment. Callers are expected to pass a
// non-empty, time-ordered slice.
func NewSegment(fixes []Fix) Segment {
	s := Segment{fixes: append([]Fix(nil), fixes...)}
	if len(fixes) > 0 {
		s.deviceID = fixes[0].DeviceID
	}
	return s
}

func (s Segment) DeviceID() string { return s.deviceID }

func (s Segment) Len() int { return len(s.fixes) }

// At returns the fix at index i, clamped into range.
func (s Segment) At(i int) Fix {
	if i < 0 {
		i = 0
	}
	if i >= len(s.fixes) {
		i = len(s.fixes) - 1
	}
	return s.fixes[i]
}

// Fixes returns a copy of the segment's fixes.
func (s Segment) Fixes() []Fix {
	return append([]Fix(nil), s.fixes...)
}

func (s Segment) Start() time.Time {
	if len(s.fixes) == 0 {
		return time.Time{}
	}
	return s.fixes[0].Timestamp
}

func (s Segment) End() time.Time {
	if len(s.fixes) == 0 {
		return time.Time{}
	}
	return s.fixes[len(s.fixes)-1].Timestamp
}

func (s Segment) Duration() time.Duration {
	return s.End().Sub(s.Start())
}

// DistanceKm sums the great-circle legs of the segment.
func (s Segment) DistanceKm() float64 {
	var total float64
	for i := 1; i < len(s.fixes); i++ {
		total += DistanceKm(s.fixes[i-1], s.fixes[i])
	}
	return total
}

// Trajectory is the ordered set of segments for one query window.
type Trajectory []Segment

// Points counts the fixes across all segments.
func (t Trajectory) Points() int {
	n := 0
	for _, s := range t {
		n += s.Len()
	}
	return n
}

// Split cuts a time-ordered sequence of valid fixes into segments. A new
// segment starts whenever the pause since the previous fix is strictly
// longer than gap; a pause of exactly gap stays in the current segment.
func Split(fixes []Fix, gap time.Duration) []Segment {
	if len(fixes) == 0 {
		return nil
	}
	if gap <= 0 {
		gap = DefaultIdleGap
	}

	var out []Segment
	start := 0
	for i := 1; i < len(fixes); i++ {
		if fixes[i].Timestamp.Sub(fixes[i-1].Timestamp) > gap {
			out = append(out, NewSegment(fixes[start:i]))
			start = i
		}
	}
	return append(out, NewSegment(fixes[start:]))
}

// SplitByDevice splits a stream that may interleave several devices. Each
// device's fixes are segmented on their own and the result is ordered by
// first-fix timestamp, then device id.
func SplitByDevice(fixes []Fix, gap time.Duration) Trajectory {
	var order []string
	byDevice := make(map[string][]Fix)
	for _, f := range fixes {
		if _, ok := byDevice[f.DeviceID]; !ok {
			order = append(order, f.DeviceID)
		}
		byDevice[f.DeviceID] = append(byDevice[f.DeviceID], f)
	}

	var out Trajectory
	for _, dev := range order {
		out = append(out, Split(byDevice[dev], gap)...)
	}
	SortTrajectory(out)
	return out
}

// SortTrajectory orders segments by first-fix timestamp, then device id.
func SortTrajectory(t Trajectory) {
	sort.SliceStable(t, func(i, j int) bool {
		si, sj := t[i].Start(), t[j].Start()
		if !si.Equal(sj) {
			return si.Before(sj)
		}
		return t[i].DeviceID() < t[j].DeviceID()
	})
}
