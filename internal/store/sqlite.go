package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"track-svr/internal/observability"
	"track-svr/internal/track"
)

const schema = `
	CREATE TABLE IF NOT EXISTS gps_log (
		id       INTEGER PRIMARY KEY AUTOINCREMENT,
		dev_id   TEXT    NOT NULL,
		lat      REAL    NOT NULL,
		lng      REAL    NOT NULL,
		spd      REAL,
		cog      REAL,
		satcnt   INTEGER,
		log_tim  INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_gps_log_tim ON gps_log (log_tim);
	CREATE INDEX IF NOT EXISTS idx_gps_log_dev_tim ON gps_log (dev_id, log_tim);
`

// SQLite is the fix store. Timestamps are kept as unix seconds; calendar
// days are resolved in the store's location.
type SQLite struct {
	*sql.DB
	loc *time.Location
	now func() time.Time
}

type SQLiteOption func(*SQLite)

// WithLocation sets the time zone used for calendar-day queries.
func WithLocation(loc *time.Location) SQLiteOption {
	return func(s *SQLite) {
		if loc != nil {
			s.loc = loc
		}
	}
}

// WithClock overrides the clock used for rolling-window queries.
func WithClock(now func() time.Time) SQLiteOption {
	return func(s *SQLite) {
		if now != nil {
			s.now = now
		}
	}
}

// OpenSQLite opens (and creates when needed) the database at path.
func OpenSQLite(path string, opts ...SQLiteOption) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite open %s: %w", path, err)
	}
	// one writer keeps sqlite free of SQLITE_BUSY between pooled connections
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}

	s := &SQLite{DB: db, loc: time.Local, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Insert stores one fix.
func (s *SQLite) Insert(ctx context.Context, f track.Fix) error {
	var sats sql.NullInt64
	if f.Satellites != nil {
		sats = sql.NullInt64{Int64: int64(*f.Satellites), Valid: true}
	}
	_, err := s.ExecContext(ctx,
		`INSERT INTO gps_log (dev_id, lat, lng, spd, cog, satcnt, log_tim) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		f.DeviceID, f.Lat, f.Lng, nullFloat(f.Speed), nullFloat(f.Heading), sats, f.Timestamp.Unix(),
	)
	if err != nil {
		return fmt.Errorf("insert fix for %s: %w", f.DeviceID, err)
	}
	return nil
}

// Fixes implements Source.
func (s *SQLite) Fixes(ctx context.Context, q Query) ([]track.Fix, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	defer observability.ObserveQueryLatency(time.Now())

	var (
		where []string
		args  []any
	)
	switch {
	case q.Window > 0:
		where = append(where, "log_tim >= ?")
		args = append(args, s.now().Add(-q.Window).Unix())
	case !q.Since.IsZero():
		where = append(where, "log_tim > ?")
		args = append(args, q.Since.Unix())
	default:
		y, m, d := q.Date.Date()
		start := time.Date(y, m, d, 0, 0, 0, 0, s.loc)
		where = append(where, "log_tim >= ?", "log_tim < ?")
		args = append(args, start.Unix(), start.AddDate(0, 0, 1).Unix())
	}
	if q.DeviceID != "" {
		where = append(where, "dev_id = ?")
		args = append(args, q.DeviceID)
	}

	query := `SELECT dev_id, lat, lng, spd, cog, satcnt, log_tim FROM gps_log WHERE ` +
		strings.Join(where, " AND ") + ` ORDER BY log_tim ASC, id ASC`
	rows, err := s.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query fixes: %w", err)
	}
	defer rows.Close()

	var out []track.Fix
	for rows.Next() {
		f, err := s.scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query fixes: %w", err)
	}
	return out, nil
}

// Latest implements Source.
func (s *SQLite) Latest(ctx context.Context, deviceID string) (*track.Fix, error) {
	defer observability.ObserveQueryLatency(time.Now())

	query := `SELECT dev_id, lat, lng, spd, cog, satcnt, log_tim FROM gps_log`
	var args []any
	if deviceID != "" {
		query += ` WHERE dev_id = ?`
		args = append(args, deviceID)
	}
	query += ` ORDER BY log_tim DESC, id DESC LIMIT 1`

	rows, err := s.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query latest fix: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	f, err := s.scan(rows)
	if err != nil {
		return nil, err
	}
	return &f, nil
}

// RecentSpeeds returns the speeds of the n most recently stored fixes of a
// device, newest first. A missing speed reads as 0.
func (s *SQLite) RecentSpeeds(ctx context.Context, deviceID string, n int) ([]float64, error) {
	rows, err := s.QueryContext(ctx,
		`SELECT spd FROM gps_log WHERE dev_id = ? ORDER BY log_tim DESC, id DESC LIMIT ?`,
		deviceID, n,
	)
	if err != nil {
		return nil, fmt.Errorf("query recent speeds: %w", err)
	}
	defer rows.Close()

	out := make([]float64, 0, n)
	for rows.Next() {
		var spd sql.NullFloat64
		if err := rows.Scan(&spd); err != nil {
			return nil, fmt.Errorf("scan speed: %w", err)
		}
		out = append(out, spd.Float64)
	}
	return out, rows.Err()
}

func (s *SQLite) scan(rows *sql.Rows) (track.Fix, error) {
	var (
		f        track.Fix
		spd, cog sql.NullFloat64
		sats     sql.NullInt64
		ts       int64
	)
	if err := rows.Scan(&f.DeviceID, &f.Lat, &f.Lng, &spd, &cog, &sats, &ts); err != nil {
		return track.Fix{}, fmt.Errorf("scan fix: %w", err)
	}
	if spd.Valid {
		f.Speed = track.Float64(spd.Float64)
	}
	if cog.Valid {
		f.Heading = track.Float64(cog.Float64)
	}
	if sats.Valid {
		f.Satellites = track.Int(int(sats.Int64))
	}
	f.Timestamp = time.Unix(ts, 0).In(s.loc)
	return f, nil
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}
