// Package track holds the position model and the pure trajectory stages:
// segmentation, outlier filtering, smoothing and speed derivation.
package track

import (
	"math"
	"time"
)

// Fix is one position report from a tracker.
type Fix struct {
	DeviceID   string    `json:"dev_id"`
	Lat        float64   `json:"lat"`
	Lng        float64   `json:"lng"`
	Speed      *float64  `json:"spd,omitempty"`    // km/h
	Heading    *float64  `json:"cog,omitempty"`    // course over ground, degrees
	Satellites *int      `json:"satcnt,omitempty"` // satellites in use
	Timestamp  time.Time `json:"log_tim"`
}

func coordsValid(lat, lng float64) bool {
	if math.IsNaN(lat) || math.IsNaN(lng) || math.IsInf(lat, 0) || math.IsInf(lng, 0) {
		return false
	}
	if lat == 0 && lng == 0 {
		return false
	}
	if lat < -90 || lat > 90 || lng < -180 || lng > 180 {
		return false
	}
	return true
}

// Valid reports whether the fix carries a usable position.
func (f Fix) Valid() bool {
	return coordsValid(f.Lat, f.Lng)
}

// Directed reports whether the device sent a usable course. A fix without
// one is drawn as a plain dot rather than an arrow.
func (f Fix) Directed() bool {
	return f.Heading != nil && *f.Heading > 0
}

// ReportedSpeed returns the reported speed, 0 when absent.
func (f Fix) ReportedSpeed() float64 {
	if f.Speed == nil {
		return 0
	}
	return *f.Speed
}

// ValidOnly returns the valid fixes of in, in order, and how many were dropped.
func ValidOnly(in []Fix) ([]Fix, int) {
	out := make([]Fix, 0, len(in))
	for _, f := range in {
		if f.Valid() {
			out = append(out, f)
		}
	}
	return out, len(in) - len(out)
}

// Float64 and Int are small helpers for the optional fields.
func Float64(v float64) *float64 { return &v }

func Int(v int) *int { return &v }
