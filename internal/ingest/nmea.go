package ingest

import (
	"fmt"
	"strings"
	"time"

	nmea "github.com/adrianmo/go-nmea"

	"track-svr/internal/track"
)

// KnotsToKmh converts NMEA speed over ground to km/h.
const KnotsToKmh = 1.852

// NMEADecoder turns the sentence stream of one tracker into fixes. GGA
// sentences update the satellite count; each RMC with status A yields a fix
// carrying the latest count. Not safe for concurrent use.
type NMEADecoder struct {
	deviceID string
	sats     *int
}

func NewNMEADecoder(deviceID string) *NMEADecoder {
	return &NMEADecoder{deviceID: deviceID}
}

// Decode parses one line. It returns nil without error for sentences that
// do not produce a fix.
func (d *NMEADecoder) Decode(line string) (*track.Fix, error) {
	line = strings.TrimSpace(line)
	if line == "" || !strings.HasPrefix(line, "$") {
		return nil, nil
	}

	sentence, err := nmea.Parse(line)
	if err != nil {
		return nil, fmt.Errorf("nmea parse: %w", err)
	}

	switch sentence.DataType() {
	case nmea.TypeGGA:
		m := sentence.(nmea.GGA)
		if m.FixQuality != nmea.Invalid {
			d.sats = track.Int(int(m.NumSatellites))
		}
	case nmea.TypeRMC:
		m := sentence.(nmea.RMC)
		if m.Validity != nmea.ValidRMC {
			return nil, nil
		}
		ts, ok := rmcTime(m.Date, m.Time)
		if !ok {
			return nil, fmt.Errorf("nmea rmc: missing date or time")
		}
		f := &track.Fix{
			DeviceID:   d.deviceID,
			Lat:        m.Latitude,
			Lng:        m.Longitude,
			Speed:      track.Float64(m.Speed * KnotsToKmh),
			Heading:    track.Float64(m.Course),
			Satellites: d.sats,
			Timestamp:  ts,
		}
		return f, nil
	}
	return nil, nil
}

// rmcTime builds the UTC timestamp. Two-digit years below 80 are 20xx.
func rmcTime(d nmea.Date, t nmea.Time) (time.Time, bool) {
	if !d.Valid || !t.Valid {
		return time.Time{}, false
	}
	year := 1900 + d.YY
	if d.YY < 80 {
		year = 2000 + d.YY
	}
	return time.Date(year, time.Month(d.MM), d.DD, t.Hour, t.Minute, t.Second, 0, time.UTC), true
}
