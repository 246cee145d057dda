// Package ingest accepts fixes from trackers (HTTP, NMEA over TCP, MQTT),
// applies the stationary gate and writes what passes to the store.
package ingest

const (
	// MovingSpeedKmh is the speed from which a fix always counts as moving.
	MovingSpeedKmh = 5.0
	// GateDepth is how many previously stored fixes the gate looks at.
	GateDepth = 3
)

// ShouldStore is the stationary gate. recent holds the speeds of the most
// recently stored fixes of the device, newest first; only the first
// GateDepth are looked at. A fix is stored when it is moving, when the
// device has fewer than GateDepth stored fixes, or when any of the last
// GateDepth stored fixes was moving, so the start of a stop is kept.
func ShouldStore(speed float64, recent []float64) bool {
	if speed >= MovingSpeedKmh {
		return true
	}
	if len(recent) < GateDepth {
		return true
	}
	for _, s := range recent[:GateDepth] {
		if s >= MovingSpeedKmh {
			return true
		}
	}
	return false
}
