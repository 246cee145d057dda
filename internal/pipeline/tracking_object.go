package pipeline

import (
	"time"

	"track-svr/internal/track"
)

// TrackingObject is the renderer-facing view of one fix.
type TrackingObject struct {
	DeviceID  string   `json:"device_id,omitempty"`
	Lat       float64  `json:"lat"`
	Lng       float64  `json:"lng"`
	Speed     float64  `json:"speed"`
	Heading   *float64 `json:"heading,omitempty"`
	Sats      *int     `json:"satcnt,omitempty"`
	Timestamp string   `json:"timestamp"`
	Directed  bool     `json:"directed"` // arrow marker when true, dot otherwise
}

const timestampLayout = "2006-01-02 15:04:05"

func BuildTracking(f track.Fix) TrackingObject {
	return TrackingObject{
		DeviceID:  f.DeviceID,
		Lat:       f.Lat,
		Lng:       f.Lng,
		Speed:     f.ReportedSpeed(),
		Heading:   f.Heading,
		Sats:      f.Satellites,
		Timestamp: f.Timestamp.Format(timestampLayout),
		Directed:  f.Directed(),
	}
}

func BuildTrackings(fixes []track.Fix) []TrackingObject {
	out := make([]TrackingObject, len(fixes))
	for i, f := range fixes {
		out[i] = BuildTracking(f)
	}
	return out
}

// SegmentSummary describes one segment in the trajectory list.
type SegmentSummary struct {
	Index      int     `json:"index"`
	DeviceID   string  `json:"device_id"`
	Start      string  `json:"start"`
	End        string  `json:"end"`
	Points     int     `json:"point_count"`
	DurationS  float64 `json:"duration_s"`
	DistanceKm float64 `json:"distance_km"`
}

func Summarize(i int, s track.Segment) SegmentSummary {
	return SegmentSummary{
		Index:      i,
		DeviceID:   s.DeviceID(),
		Start:      s.Start().Format(timestampLayout),
		End:        s.End().Format(timestampLayout),
		Points:     s.Len(),
		DurationS:  s.Duration().Round(time.Second).Seconds(),
		DistanceKm: s.DistanceKm(),
	}
}
