package track

import "gonum.org/v1/gonum/stat"

// DefaultSmoothWindow is the moving-average width used when none is set.
const DefaultSmoothWindow = 3

// Smooth replaces the position of every interior fix with the mean position
// of the window centred on it. The first and last window/2 fixes are copied
// unchanged, as are all non-position fields. Inputs no longer than the
// window are returned as an unmodified copy.
func Smooth(fixes []Fix, window int) []Fix {
	if window < 1 {
		window = DefaultSmoothWindow
	}
	out := append([]Fix(nil), fixes...)
	if len(fixes) <= window {
		return out
	}

	half := window / 2
	if half == 0 {
		return out
	}

	lats := make([]float64, 0, 2*half+1)
	lngs := make([]float64, 0, 2*half+1)
	for i := half; i < len(fixes)-half; i++ {
		lats, lngs = lats[:0], lngs[:0]
		for _, f := range fixes[i-half : i+half+1] {
			lats = append(lats, f.Lat)
			lngs = append(lngs, f.Lng)
		}
		out[i].Lat = stat.Mean(lats, nil)
		out[i].Lng = stat.Mean(lngs, nil)
	}
	return out
}
