package session

import (
	"time"

	"track-svr/internal/live"
	"track-svr/internal/pipeline"
	"track-svr/internal/playback"
	"track-svr/internal/track"
)

type EventType string

const (
	EventLive       EventType = "live"
	EventFrame      EventType = "frame"
	EventTrajectory EventType = "trajectory"
	EventError      EventType = "error"
)

// Event is pushed to the viewer. Exactly one payload field is set.
type Event struct {
	Type       EventType       `json:"type"`
	Session    string          `json:"session"`
	Live       *LiveView       `json:"live,omitempty"`
	Frame      *FrameView      `json:"frame,omitempty"`
	Trajectory *TrajectoryView `json:"trajectory,omitempty"`
	Error      string          `json:"error,omitempty"`
}

// Sink receives events on the session's goroutine. It must not block for
// long and must not call back into the session.
type Sink func(Event)

type LiveView struct {
	DeviceID string                    `json:"device_id,omitempty"`
	Status   live.Status               `json:"status"`
	Points   []pipeline.TrackingObject `json:"points"`
	LastSeen string                    `json:"last_seen,omitempty"`
	Failures int                       `json:"failures"`
}

type FrameView struct {
	Segment  int                     `json:"segment"`
	Point    pipeline.TrackingObject `json:"point"`
	Index    int                     `json:"index"`
	Len      int                     `json:"len"`
	Progress float64                 `json:"progress"`
	Rate     float64                 `json:"rate"`
	Status   playback.Status         `json:"status"`
}

type SegmentView struct {
	pipeline.SegmentSummary
	Points []pipeline.TrackingObject `json:"points"`
}

type TrajectoryView struct {
	Date     string         `json:"date"`
	DeviceID string         `json:"device_id,omitempty"`
	Status   live.Status    `json:"status"`
	Stats    pipeline.Stats `json:"stats"`
	Segments []SegmentView  `json:"segments"`
}

func liveView(u live.Update) *LiveView {
	v := &LiveView{
		DeviceID: u.DeviceID,
		Status:   u.Status,
		Points:   pipeline.BuildTrackings(u.Points),
		Failures: u.Failures,
	}
	if !u.LastSeen.IsZero() {
		v.LastSeen = u.LastSeen.Format(time.RFC3339)
	}
	return v
}

func frameView(segment int, f playback.Frame) *FrameView {
	return &FrameView{
		Segment:  segment,
		Point:    pipeline.BuildTracking(f.Fix),
		Index:    f.Index,
		Len:      f.Len,
		Progress: f.Progress,
		Rate:     f.Rate,
		Status:   f.Status,
	}
}

// NewTrajectoryView renders a processed trajectory for the viewer.
func NewTrajectoryView(date, deviceID string, traj track.Trajectory, st pipeline.Stats) *TrajectoryView {
	v := &TrajectoryView{
		Date:     date,
		DeviceID: deviceID,
		Status:   live.StatusLive,
		Stats:    st,
		Segments: make([]SegmentView, len(traj)),
	}
	if len(traj) == 0 {
		v.Status = live.StatusNoData
	}
	for i, seg := range traj {
		v.Segments[i] = SegmentView{
			SegmentSummary: pipeline.Summarize(i, seg),
			Points:         pipeline.BuildTrackings(seg.Fixes()),
		}
	}
	return v
}
