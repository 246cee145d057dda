// Package pipeline turns raw fixes from the store into the trajectory the
// renderer draws: malformed fixes dropped, per-device segments, outliers
// removed, optional smoothing and resolved speeds.
package pipeline

import (
	"time"

	"track-svr/internal/observability"
	"track-svr/internal/track"
)

type Options struct {
	IdleGap      time.Duration
	Filter       track.FilterOptions
	Smooth       bool
	SmoothWindow int
}

func DefaultOptions() Options {
	return Options{
		IdleGap:      track.DefaultIdleGap,
		Filter:       track.DefaultFilterOptions(),
		SmoothWindow: track.DefaultSmoothWindow,
	}
}

// Stats counts what the pipeline threw away.
type Stats struct {
	Input    int `json:"input"`
	Invalid  int `json:"invalid"`
	Outliers int `json:"outliers"`
	Points   int `json:"points"`
}

type Processor struct {
	opts Options
}

func NewProcessor(opts Options) *Processor {
	if opts.IdleGap <= 0 {
		opts.IdleGap = track.DefaultIdleGap
	}
	if opts.SmoothWindow <= 0 {
		opts.SmoothWindow = track.DefaultSmoothWindow
	}
	return &Processor{opts: opts}
}

// WithSmoothing returns a processor with smoothing forced on or off.
func (p *Processor) WithSmoothing(on bool) *Processor {
	opts := p.opts
	opts.Smooth = on
	return &Processor{opts: opts}
}

// Build runs the stages in order. Segmentation happens before filtering so a
// jump across an idle gap is never judged as an outlier.
func (p *Processor) Build(fixes []track.Fix) (track.Trajectory, Stats) {
	st := Stats{Input: len(fixes)}

	valid, invalid := track.ValidOnly(fixes)
	st.Invalid = invalid

	var out track.Trajectory
	for _, seg := range track.SplitByDevice(valid, p.opts.IdleGap) {
		kept, dropped := track.FilterOutliers(seg.Fixes(), p.opts.Filter)
		st.Outliers += dropped
		// a dropped fix can leave a pause longer than the idle gap behind
		for _, part := range track.Split(kept, p.opts.IdleGap) {
			fixes := part.Fixes()
			if p.opts.Smooth {
				fixes = track.Smooth(fixes, p.opts.SmoothWindow)
			}
			out = append(out, track.NewSegment(track.ResolveSpeeds(fixes)))
		}
	}
	track.SortTrajectory(out)
	st.Points = out.Points()

	if st.Invalid > 0 {
		observability.InvalidDropped.Add(float64(st.Invalid))
	}
	if st.Outliers > 0 {
		observability.OutliersDropped.Add(float64(st.Outliers))
	}
	return out, st
}
