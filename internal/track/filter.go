package track

import "math"

// FilterOptions caps the motion implied between two accepted fixes.
type FilterOptions struct {
	MaxSpeedKmh   float64
	MaxDistanceKm float64
}

// DefaultFilterOptions returns the caps used when none are configured.
func DefaultFilterOptions() FilterOptions {
	return FilterOptions{
		MaxSpeedKmh:   200,
		MaxDistanceKm: 1,
	}
}

func (o FilterOptions) withDefaults() FilterOptions {
	d := DefaultFilterOptions()
	if o.MaxSpeedKmh <= 0 {
		o.MaxSpeedKmh = d.MaxSpeedKmh
	}
	if o.MaxDistanceKm <= 0 {
		o.MaxDistanceKm = d.MaxDistanceKm
	}
	return o
}

// impliedSpeedKmh is +Inf when no time elapsed between the two fixes.
func impliedSpeedKmh(from, to Fix, distKm float64) float64 {
	hours := to.Timestamp.Sub(from.Timestamp).Hours()
	if hours <= 0 {
		return math.Inf(1)
	}
	return distKm / hours
}

// FilterOutliers drops fixes that imply implausible motion. The scan is
// greedy: the first fix is always kept and every candidate is measured
// against the last accepted fix, so a rejected glitch never becomes the
// reference for later fixes. It returns the kept fixes and the drop count.
func FilterOutliers(fixes []Fix, opts FilterOptions) ([]Fix, int) {
	if len(fixes) == 0 {
		return nil, 0
	}
	opts = opts.withDefaults()

	out := make([]Fix, 0, len(fixes))
	out = append(out, fixes[0])
	last := fixes[0]
	for _, cand := range fixes[1:] {
		dist := DistanceKm(last, cand)
		if dist > opts.MaxDistanceKm {
			continue
		}
		if impliedSpeedKmh(last, cand, dist) > opts.MaxSpeedKmh {
			continue
		}
		out = append(out, cand)
		last = cand
	}
	return out, len(fixes) - len(out)
}
