// Package flightlog records control ticks to SQLite and reads them back for
// replay.
//
// One Store owns a lazily opened write connection (WAL) and a separate
// read-only connection. Each run of the stabilizer is a session; ticks are
// appended to it in batches.
package flightlog

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"gopkg.in/yaml.v3"

	"wingleveler/internal/sensor"
)

//go:embed schema.sql
var schemaSQL string

// ErrNoData is returned when a query matches no sessions or ticks.
var ErrNoData = errors.New("flightlog: no data")

const (
	insertSessionSQL = `
INSERT INTO sessions (start_time, source, config)
VALUES (CURRENT_TIMESTAMP, ?, ?)`

	selectSessionSQL = `
SELECT id, start_time, source, config
FROM sessions
WHERE id = ?`

	selectLatestSessionSQL = `SELECT MAX(id) FROM sessions`

	insertTickSQL = `
INSERT INTO ticks (session_id, seq, time_ns,
                   raw_x, raw_y, raw_z,
                   accel_x, accel_y, accel_z,
                   roll, pitch, command,
                   left_duty, right_duty,
                   latitude, longitude)
VALUES `

	tickPlaceholder = "(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)"
	tickColumns     = 16

	selectRawSQL = `
SELECT raw_x, raw_y, raw_z
FROM ticks
WHERE session_id = ?
ORDER BY seq`

	countTicksSQL = `SELECT COUNT(*) FROM ticks WHERE session_id = ?`

	// Keeps a multi-row insert well under SQLite's bound-variable limit.
	maxRowsPerInsert = 60
)

// Tick is one control-loop iteration as written to the log.
type Tick struct {
	Seq       uint64
	Time      time.Time
	Raw       sensor.RawSample
	Accel     [3]float64
	RollDeg   float64
	PitchDeg  float64
	Command   float64
	LeftDuty  uint16
	RightDuty uint16

	// Set only while the GPS has a valid fix.
	LatDeg *float64
	LonDeg *float64
}

type Session struct {
	ID        int64
	StartTime time.Time
	Source    string
	Config    *string
}

type Store struct {
	path string

	writeDB     *sql.DB
	writeDBOnce sync.Once
	writeDBErr  error

	readDB     *sql.DB
	readDBOnce sync.Once
	readDBErr  error

	closeOnce sync.Once
	closeErr  error
}

// New returns a Store for the database at path. Nothing is opened until the
// first call that needs a connection.
func New(path string) *Store {
	return &Store{path: path}
}

func (s *Store) Path() string { return s.path }

func (s *Store) getWriteDB() (*sql.DB, error) {
	s.writeDBOnce.Do(func() {
		db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?%s", s.path, "_journal_mode=WAL&_synchronous=NORMAL"))
		if err != nil {
			s.writeDBErr = fmt.Errorf("flightlog: open write connection: %w", err)
			return
		}
		// One writer; database/sql would otherwise open more under contention.
		db.SetMaxOpenConns(1)

		if _, err = db.Exec(schemaSQL); err != nil {
			_ = db.Close()
			s.writeDBErr = fmt.Errorf("flightlog: init schema: %w", err)
			return
		}
		s.writeDB = db
	})
	return s.writeDB, s.writeDBErr
}

func (s *Store) getReadDB() (*sql.DB, error) {
	s.readDBOnce.Do(func() {
		db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?%s", s.path, "mode=ro"))
		if err != nil {
			s.readDBErr = fmt.Errorf("flightlog: open read connection: %w", err)
			return
		}
		s.readDB = db
	})
	return s.readDB, s.readDBErr
}

// BeginSession creates a session row and returns its id. config may be a
// string, raw bytes, or any value, which is stored as YAML.
func (s *Store) BeginSession(ctx context.Context, source string, config any) (id int64, err error) {
	var cfg sql.NullString
	switch c := config.(type) {
	case nil:
	case string:
		cfg = sql.NullString{String: c, Valid: true}
	case []byte:
		cfg = sql.NullString{String: string(c), Valid: true}
	default:
		p, mErr := yaml.Marshal(c)
		if mErr != nil {
			return 0, fmt.Errorf("flightlog: marshal config: %w", mErr)
		}
		cfg = sql.NullString{String: string(p), Valid: true}
	}

	db, err := s.getWriteDB()
	if err != nil {
		return 0, err
	}

	stmt, err := db.PrepareContext(ctx, insertSessionSQL)
	if err != nil {
		return 0, fmt.Errorf("flightlog: prepare session insert: %w", err)
	}
	defer closeWithError(stmt, &err)

	res, err := stmt.ExecContext(ctx, source, cfg)
	if err != nil {
		return 0, fmt.Errorf("flightlog: insert session: %w", err)
	}
	id, err = res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("flightlog: session id: %w", err)
	}
	return id, nil
}

// InsertTicks appends ticks to a session in a single transaction.
func (s *Store) InsertTicks(ctx context.Context, session int64, ticks []Tick) (err error) {
	if len(ticks) == 0 {
		return nil
	}

	db, err := s.getWriteDB()
	if err != nil {
		return err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("flightlog: begin: %w", err)
	}
	defer rollbackWithError(tx, &err)

	for start := 0; start < len(ticks); start += maxRowsPerInsert {
		end := min(start+maxRowsPerInsert, len(ticks))
		query, args := tickInsert(session, ticks[start:end])
		if _, err = tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("flightlog: insert ticks: %w", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("flightlog: commit: %w", err)
	}
	return nil
}

func tickInsert(session int64, ticks []Tick) (string, []any) {
	var sb strings.Builder
	sb.WriteString(insertTickSQL)
	args := make([]any, 0, len(ticks)*tickColumns)
	for i, t := range ticks {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(tickPlaceholder)
		args = append(args,
			session,
			int64(t.Seq),
			t.Time.UnixNano(),
			int64(t.Raw.X), int64(t.Raw.Y), int64(t.Raw.Z),
			t.Accel[0], t.Accel[1], t.Accel[2],
			t.RollDeg, t.PitchDeg, t.Command,
			int64(t.LeftDuty), int64(t.RightDuty),
			nullFloat(t.LatDeg), nullFloat(t.LonDeg),
		)
	}
	return sb.String(), args
}

func (s *Store) Session(ctx context.Context, id int64) (sess Session, err error) {
	db, err := s.getReadDB()
	if err != nil {
		return Session{}, err
	}

	stmt, err := db.PrepareContext(ctx, selectSessionSQL)
	if err != nil {
		return Session{}, fmt.Errorf("flightlog: prepare session select: %w", err)
	}
	defer closeWithError(stmt, &err)

	var cfg sql.NullString
	err = stmt.QueryRowContext(ctx, id).Scan(&sess.ID, &sess.StartTime, &sess.Source, &cfg)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, fmt.Errorf("flightlog: session %d: %w", id, ErrNoData)
	}
	if err != nil {
		return Session{}, fmt.Errorf("flightlog: scan session: %w", err)
	}
	if cfg.Valid {
		sess.Config = &cfg.String
	}
	return sess, nil
}

// LatestSession returns the id of the most recently created session.
func (s *Store) LatestSession(ctx context.Context) (int64, error) {
	db, err := s.getReadDB()
	if err != nil {
		return 0, err
	}
	var id sql.NullInt64
	if err := db.QueryRowContext(ctx, selectLatestSessionSQL).Scan(&id); err != nil {
		return 0, fmt.Errorf("flightlog: latest session: %w", err)
	}
	if !id.Valid {
		return 0, ErrNoData
	}
	return id.Int64, nil
}

// TickCount returns the number of ticks stored for a session.
func (s *Store) TickCount(ctx context.Context, session int64) (int64, error) {
	db, err := s.getReadDB()
	if err != nil {
		return 0, err
	}
	var n int64
	if err := db.QueryRowContext(ctx, countTicksSQL, session).Scan(&n); err != nil {
		return 0, fmt.Errorf("flightlog: count ticks: %w", err)
	}
	return n, nil
}

// Samples returns the raw sensor samples of a session in tick order.
func (s *Store) Samples(ctx context.Context, session int64) (out []sensor.RawSample, err error) {
	db, err := s.getReadDB()
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, selectRawSQL, session)
	if err != nil {
		return nil, fmt.Errorf("flightlog: query samples: %w", err)
	}
	defer closeWithError(rows, &err)

	for rows.Next() {
		var x, y, z int64
		if err = rows.Scan(&x, &y, &z); err != nil {
			return nil, fmt.Errorf("flightlog: scan sample: %w", err)
		}
		out = append(out, sensor.RawSample{X: uint16(x), Y: uint16(y), Z: uint16(z)})
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("flightlog: read samples: %w", err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("flightlog: session %d: %w", session, ErrNoData)
	}
	return out, nil
}

func (s *Store) Close() error {
	s.closeOnce.Do(func() {
		var errs []error
		if s.writeDB != nil {
			errs = append(errs, s.writeDB.Close())
			s.writeDB = nil
		}
		if s.readDB != nil {
			errs = append(errs, s.readDB.Close())
			s.readDB = nil
		}
		s.closeErr = errors.Join(errs...)
	})
	return s.closeErr
}

func closeWithError(cl interface{ Close() error }, err *error) {
	if cErr := cl.Close(); cErr != nil && *err == nil {
		*err = cErr
	}
}

func rollbackWithError(rb interface{ Rollback() error }, err *error) {
	if rErr := rb.Rollback(); rErr != nil && !errors.Is(rErr, sql.ErrTxDone) && *err == nil {
		*err = rErr
	}
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}
