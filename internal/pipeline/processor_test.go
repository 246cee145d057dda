package pipeline

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"track-svr/internal/track"
)

var t0 = time.Date(2025, time.March, 14, 8, 0, 0, 0, time.UTC)

func fix(dev string, min int, lat, lng float64) track.Fix {
	return track.Fix{DeviceID: dev, Lat: lat, Lng: lng, Timestamp: t0.Add(time.Duration(min) * time.Minute)}
}

func TestBuildDropsInvalidAndOutliers(t *testing.T) {
	t.Parallel()

	p := NewProcessor(DefaultOptions())
	in := []track.Fix{
		fix("a", 0, 24.2000, 120.6),
		fix("a", 1, 0, 0),
		fix("a", 2, 24.2009, 120.6),
		fix("a", 3, 25.5000, 121.8), // 150 km jump
		fix("a", 4, 24.2018, 120.6),
		fix("a", 40, 24.2027, 120.6),
	}

	traj, st := p.Build(in)
	require.Len(t, traj, 2)
	assert.Equal(t, 3, traj[0].Len())
	assert.Equal(t, 1, traj[1].Len())
	assert.Equal(t, Stats{Input: 6, Invalid: 1, Outliers: 1, Points: 4}, st)

	for _, s := range traj {
		for _, f := range s.Fixes() {
			require.NotNil(t, f.Speed, "speed resolved")
		}
	}
}

func TestBuildResplitsAfterDroppedOutlier(t *testing.T) {
	t.Parallel()

	// 15 minutes either side of the glitch, 30 once it is gone
	in := []track.Fix{
		fix("a", 0, 24.2000, 120.6),
		fix("a", 15, 25.5000, 121.8),
		fix("a", 30, 24.2009, 120.6),
		fix("a", 31, 24.2012, 120.6),
	}

	traj, st := NewProcessor(DefaultOptions()).Build(in)
	assert.Equal(t, 1, st.Outliers)
	require.Len(t, traj, 2)
	assert.Equal(t, 1, traj[0].Len())
	assert.Equal(t, 2, traj[1].Len())
	assert.Equal(t, 3, st.Points)

	gap := DefaultOptions().IdleGap
	for i, s := range traj {
		fixes := s.Fixes()
		for j := 1; j < len(fixes); j++ {
			assert.LessOrEqual(t, fixes[j].Timestamp.Sub(fixes[j-1].Timestamp), gap, "segment %d point %d", i, j)
		}
	}
}

func TestBuildSeparatesDevices(t *testing.T) {
	t.Parallel()

	p := NewProcessor(DefaultOptions())
	in := []track.Fix{
		fix("b", 0, 24.2000, 120.6),
		fix("a", 0, 22.6000, 120.3),
		fix("b", 1, 24.2009, 120.6),
		fix("a", 1, 22.6009, 120.3),
	}

	traj, st := p.Build(in)
	require.Len(t, traj, 2)
	assert.Equal(t, "a", traj[0].DeviceID())
	assert.Equal(t, "b", traj[1].DeviceID())
	assert.Zero(t, st.Outliers, "devices are not judged against each other")
}

func TestBuildSmoothing(t *testing.T) {
	t.Parallel()

	in := []track.Fix{
		fix("a", 0, 24.2000, 120.6),
		fix("a", 1, 24.2010, 120.6),
		fix("a", 2, 24.2011, 120.6),
		fix("a", 3, 24.2030, 120.6),
	}
	plain, _ := NewProcessor(DefaultOptions()).Build(in)
	smoothed, _ := NewProcessor(DefaultOptions()).WithSmoothing(true).Build(in)

	require.Len(t, smoothed, 1)
	assert.Equal(t, plain[0].Len(), smoothed[0].Len())
	assert.InDelta(t, 24.2010, plain[0].At(1).Lat, 1e-9)
	assert.InDelta(t, (24.2000+24.2010+24.2011)/3, smoothed[0].At(1).Lat, 1e-9)
}

func TestBuildEmpty(t *testing.T) {
	t.Parallel()

	traj, st := NewProcessor(Options{}).Build(nil)
	assert.Empty(t, traj)
	assert.Zero(t, st.Points)
}

func TestBuildTrackingView(t *testing.T) {
	t.Parallel()

	f := fix("a", 0, 24.2, 120.6)
	f.Speed = track.Float64(42)
	f.Heading = track.Float64(0)
	f.Satellites = track.Int(9)

	tr := BuildTracking(f)
	assert.False(t, tr.Directed, "zero course draws a dot")
	assert.Equal(t, 42.0, tr.Speed)
	assert.Equal(t, "2025-03-14 08:00:00", tr.Timestamp)

	b, err := json.Marshal(tr)
	require.NoError(t, err)
	assert.JSONEq(t, `{"device_id":"a","lat":24.2,"lng":120.6,"speed":42,"heading":0,"satcnt":9,"timestamp":"2025-03-14 08:00:00","directed":false}`, string(b))
}

func TestSummarize(t *testing.T) {
	t.Parallel()

	seg := track.NewSegment([]track.Fix{fix("a", 0, 24.2, 120.6), fix("a", 10, 24.2009, 120.6)})
	s := Summarize(3, seg)
	assert.Equal(t, 3, s.Index)
	assert.Equal(t, 2, s.Points)
	assert.Equal(t, 600.0, s.DurationS)
	assert.InDelta(t, 0.1, s.DistanceKm, 0.001)
}
