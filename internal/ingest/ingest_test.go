package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"track-svr/internal/store"
	"track-svr/internal/track"
)

var taipei = time.FixedZone("CST", 8*3600)

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestShouldStore(t *testing.T) {
	t.Parallel()

	for _, tc := range []struct {
		name   string
		speed  float64
		recent []float64
		want   bool
	}{
		{"moving", 5, []float64{0, 0, 0}, true},
		{"two prior rows", 2, []float64{3, 3}, true},
		{"three slow rows", 2, []float64{3, 1, 4.9}, false},
		{"one recent moving", 0, []float64{0, 0, 5}, true},
		{"only three looked at", 0, []float64{0, 0, 0, 60}, false},
		{"no history", 0, nil, true},
	} {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ShouldStore(tc.speed, tc.recent))
		})
	}
}

type memStore struct {
	fixes []track.Fix
	err   error
}

func (m *memStore) Insert(_ context.Context, f track.Fix) error {
	if m.err != nil {
		return m.err
	}
	m.fixes = append(m.fixes, f)
	return nil
}

func (m *memStore) RecentSpeeds(_ context.Context, dev string, n int) ([]float64, error) {
	if m.err != nil {
		return nil, m.err
	}
	var out []float64
	for i := len(m.fixes) - 1; i >= 0 && len(out) < n; i-- {
		if m.fixes[i].DeviceID == dev {
			out = append(out, m.fixes[i].ReportedSpeed())
		}
	}
	return out, nil
}

type forwarded struct{ fixes []track.Fix }

func (f *forwarded) SendFix(fx track.Fix) { f.fixes = append(f.fixes, fx) }

func slowFix(sec int, spd float64) track.Fix {
	return track.Fix{
		DeviceID:  "TucsonL",
		Lat:       24.2,
		Lng:       120.6,
		Speed:     track.Float64(spd),
		Timestamp: time.Date(2025, time.March, 14, 8, 0, sec, 0, taipei),
	}
}

func TestWriterStationaryGate(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	db := &memStore{}
	fwd := &forwarded{}
	w := NewWriter(db, nil, fwd, quietLogger())

	for i := 0; i < 2; i++ {
		ok, err := w.Write(ctx, "test", slowFix(i, 3))
		require.NoError(t, err)
		require.True(t, ok)
	}

	// two stored rows at 3 km/h: a 2 km/h fix is still written
	ok, err := w.Write(ctx, "test", slowFix(2, 2))
	require.NoError(t, err)
	assert.True(t, ok)

	// three stored rows all below 5 km/h: skipped
	ok, err = w.Write(ctx, "test", slowFix(3, 2))
	require.NoError(t, err)
	assert.False(t, ok)

	assert.Len(t, db.fixes, 3)
	assert.Len(t, fwd.fixes, 3)

	ok, err = w.Write(ctx, "test", slowFix(4, 30))
	require.NoError(t, err)
	assert.True(t, ok, "moving fixes always pass")
}

func TestWriterDropsMalformed(t *testing.T) {
	t.Parallel()

	db := &memStore{}
	w := NewWriter(db, nil, nil, quietLogger())
	f := slowFix(0, 50)
	f.Lat, f.Lng = 0, 0

	ok, err := w.Write(context.Background(), "test", f)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, db.fixes)
}

func TestWriterStoreError(t *testing.T) {
	t.Parallel()

	boom := errors.New("disk full")
	w := NewWriter(&memStore{err: boom}, nil, nil, quietLogger())
	_, err := w.Write(context.Background(), "test", slowFix(0, 50))
	assert.ErrorIs(t, err, boom)
}

func TestWriterUsesRedisCache(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	mr := miniredis.RunT(t)
	cache, err := store.NewRedis(mr.Addr(), 0)
	require.NoError(t, err)
	defer cache.Close()

	// the store already holds three slow rows from before the cache existed
	db := &memStore{fixes: []track.Fix{slowFix(0, 1), slowFix(1, 1), slowFix(2, 1)}}
	w := NewWriter(db, cache, nil, quietLogger())

	ok, err := w.Write(ctx, "test", slowFix(3, 1))
	require.NoError(t, err)
	assert.False(t, ok, "seeded from the store on a miss")

	speeds, hit, err := cache.RecentSpeeds(ctx, "TucsonL")
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, []float64{1, 1, 1}, speeds)

	ok, err = w.Write(ctx, "test", slowFix(4, 20))
	require.NoError(t, err)
	assert.True(t, ok)

	speeds, _, err = cache.RecentSpeeds(ctx, "TucsonL")
	require.NoError(t, err)
	assert.Equal(t, []float64{20, 1, 1}, speeds)

	// a cache failure falls back to the store
	mr.Close()
	ok, err = w.Write(ctx, "test", slowFix(5, 1))
	require.NoError(t, err)
	assert.True(t, ok, "store still has a moving fix among the last three")
}

func TestGPSTimeParse(t *testing.T) {
	t.Parallel()

	received := time.Date(2025, time.March, 14, 8, 0, 0, 500, taipei)
	for _, tc := range []struct {
		in   GPSTime
		want time.Time
	}{
		{"1741910400", time.Unix(1741910400, 0)},
		{"2025-03-14 07:30:00", time.Date(2025, time.March, 14, 7, 30, 0, 0, taipei)},
		{"2025-03-13T23:30:00Z", time.Date(2025, time.March, 13, 23, 30, 0, 0, time.UTC)},
		{"", received.Truncate(time.Second)},
		{"yesterday", received.Truncate(time.Second)},
		{"174191040", received.Truncate(time.Second)},
	} {
		got := tc.in.Parse(taipei, received)
		assert.True(t, tc.want.Equal(got), "%q: got %v want %v", tc.in, got, tc.want)
	}
}

func TestReportJSON(t *testing.T) {
	t.Parallel()

	var rep Report
	require.NoError(t, json.Unmarshal([]byte(`{"lat":24.2,"lng":120.6,"spd":12.5,"satcnt":7,"gpstime":1741910400}`), &rep))
	rep.DeviceID = "TucsonL"

	f, err := rep.Fix(taipei, time.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(1741910400), f.Timestamp.Unix())
	assert.Equal(t, 12.5, *f.Speed)
	assert.Equal(t, 7, *f.Satellites)
	assert.Nil(t, f.Heading)

	_, err = Report{DeviceID: "x"}.Fix(taipei, time.Now())
	assert.ErrorIs(t, err, ErrMissingField)
}

func TestHTTPIngestEndToEnd(t *testing.T) {
	t.Parallel()

	db, err := store.OpenSQLite(filepath.Join(t.TempDir(), "gps.db"), store.WithLocation(taipei))
	require.NoError(t, err)
	defer db.Close()

	h := NewHTTPHandler(NewWriter(db, nil, nil, quietLogger()), taipei, nil, quietLogger())
	srv := httptest.NewServer(h)
	defer srv.Close()

	get := func(query string) (int, string) {
		resp, err := http.Get(srv.URL + "/gps?" + query)
		require.NoError(t, err)
		defer resp.Body.Close()
		b, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		return resp.StatusCode, string(b)
	}

	for i, ts := range []string{"1741910400", "1741910410", "1741910420", "1741910430"} {
		code, body := get("device_id=TucsonL&lat=24.2&lng=120.6&spd=2&cog=0&satcnt=8&gpstime=" + ts)
		require.Equal(t, http.StatusOK, code, "request %d", i)
		assert.Equal(t, "1", body)
	}

	got, err := db.Fixes(context.Background(), store.SinceQuery("TucsonL", time.Unix(1741910399, 0)))
	require.NoError(t, err)
	assert.Len(t, got, 3, "fourth slow fix skipped by the gate")

	code, body := get("device_id=TucsonL&lat=abc&lng=120.6")
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Contains(t, body, "error")

	code, _ = get("lat=24.2&lng=120.6")
	assert.Equal(t, http.StatusBadRequest, code)
}

const (
	rmcLine = "$GPRMC,220516,A,5133.82,N,00042.24,W,173.8,231.8,130694,004.2,W*70"
	ggaLine = "$GPGGA,092750.000,5321.6802,N,00630.3372,W,1,8,1.03,61.7,M,55.2,M,,*76"
)

func TestNMEADecoder(t *testing.T) {
	t.Parallel()

	d := NewNMEADecoder("boat-1")

	f, err := d.Decode(ggaLine)
	require.NoError(t, err)
	assert.Nil(t, f, "GGA alone yields no fix")

	f, err = d.Decode(rmcLine + "\r\n")
	require.NoError(t, err)
	require.NotNil(t, f)
	assert.Equal(t, "boat-1", f.DeviceID)
	assert.InDelta(t, 51.5637, f.Lat, 1e-4)
	assert.InDelta(t, -0.704, f.Lng, 1e-4)
	assert.InDelta(t, 173.8*KnotsToKmh, *f.Speed, 1e-9)
	assert.InDelta(t, 231.8, *f.Heading, 1e-9)
	require.NotNil(t, f.Satellites)
	assert.Equal(t, 8, *f.Satellites)
	assert.Equal(t, time.Date(1994, time.June, 13, 22, 5, 16, 0, time.UTC), f.Timestamp)

	f, err = d.Decode("not a sentence")
	assert.NoError(t, err)
	assert.Nil(t, f)

	_, err = d.Decode("$GPRMC,220516,A,5133.82,N,00042.24,W,173.8,231.8,130694,004.2,W*00")
	assert.Error(t, err, "bad checksum")
}

type fakeMessage struct {
	topic   string
	payload []byte
}

func (m fakeMessage) Duplicate() bool   { return false }
func (m fakeMessage) Qos() byte         { return 1 }
func (m fakeMessage) Retained() bool    { return false }
func (m fakeMessage) Topic() string     { return m.topic }
func (m fakeMessage) MessageID() uint16 { return 1 }
func (m fakeMessage) Payload() []byte   { return m.payload }
func (m fakeMessage) Ack()              {}

func TestMQTTHandle(t *testing.T) {
	t.Parallel()

	db := &memStore{}
	s := NewMQTTSubscriber("tcp://localhost:1883", "test", "tracks/", NewWriter(db, nil, nil, quietLogger()), taipei, nil, quietLogger())
	assert.Equal(t, "tracks/+/fix", s.Topic())

	ctx := context.Background()
	s.handle(ctx, fakeMessage{topic: "tracks/TucsonL/fix", payload: []byte(`{"lat":24.2,"lng":120.6,"spd":40,"gpstime":"2025-03-14 08:00:00"}`)})
	s.handle(ctx, fakeMessage{topic: "tracks/TucsonL/status", payload: []byte(`{"lat":24.2,"lng":120.6}`)})
	s.handle(ctx, fakeMessage{topic: "tracks/Yaris/fix", payload: []byte(`{not json`)})

	require.Len(t, db.fixes, 1)
	assert.Equal(t, "TucsonL", db.fixes[0].DeviceID)
	assert.Equal(t, time.Date(2025, time.March, 14, 8, 0, 0, 0, taipei).Unix(), db.fixes[0].Timestamp.Unix())
}
