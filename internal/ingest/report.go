package ingest

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"track-svr/internal/track"
)

var ErrMissingField = errors.New("ingest: missing required field")

// Report is one position report as the trackers send it, over HTTP query
// parameters or as an MQTT JSON payload.
type Report struct {
	DeviceID   string   `json:"device_id"`
	Lat        *float64 `json:"lat"`
	Lng        *float64 `json:"lng"`
	Speed      *float64 `json:"spd,omitempty"`
	Heading    *float64 `json:"cog,omitempty"`
	Satellites *int     `json:"satcnt,omitempty"`
	GPSTime    GPSTime  `json:"gpstime,omitempty"`
}

// GPSTime is the raw gpstime field. In JSON it may be a number or a string.
type GPSTime string

func (g *GPSTime) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*g = ""
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*g = GPSTime(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("gpstime: %w", err)
	}
	*g = GPSTime(n.String())
	return nil
}

var unixSeconds = regexp.MustCompile(`^\d{10}$`)

const localLayout = "2006-01-02 15:04:05"

// Parse resolves the device time. It accepts 10-digit unix seconds, a local
// "YYYY-MM-DD HH:MM:SS" in loc or RFC3339, and falls back to received.
func (g GPSTime) Parse(loc *time.Location, received time.Time) time.Time {
	s := strings.TrimSpace(string(g))
	switch {
	case s == "":
	case unixSeconds.MatchString(s):
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return time.Unix(n, 0).In(loc)
		}
	default:
		if t, err := time.ParseInLocation(localLayout, s, loc); err == nil {
			return t
		}
		if t, err := time.Parse(time.RFC3339, s); err == nil {
			return t.In(loc)
		}
	}
	return received.In(loc).Truncate(time.Second)
}

// Fix checks the required fields and builds the fix.
func (r Report) Fix(loc *time.Location, received time.Time) (track.Fix, error) {
	switch {
	case strings.TrimSpace(r.DeviceID) == "":
		return track.Fix{}, fmt.Errorf("%w: device_id", ErrMissingField)
	case r.Lat == nil:
		return track.Fix{}, fmt.Errorf("%w: lat", ErrMissingField)
	case r.Lng == nil:
		return track.Fix{}, fmt.Errorf("%w: lng", ErrMissingField)
	}
	return track.Fix{
		DeviceID:   strings.TrimSpace(r.DeviceID),
		Lat:        *r.Lat,
		Lng:        *r.Lng,
		Speed:      r.Speed,
		Heading:    r.Heading,
		Satellites: r.Satellites,
		Timestamp:  r.GPSTime.Parse(loc, received),
	}, nil
}
