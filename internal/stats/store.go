// Package stats persists daily usage aggregates and user feedback.
//
// Nothing in the signaling path reads this data back; it exists for
// operators. Writes go through a Recorder so a slow or failing database never
// delays signaling.
package stats

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"

	dayLayout       = "2006-01-02"
	timestampLayout = "2006-01-02 15:04:05"
)

// Delta is an increment applied to one day's totals.
type Delta struct {
	FlightsCreated int64
	FilesShared    int64
	MBTransferred  float64
	UsersConnected int64
}

func (d Delta) IsZero() bool { return d == Delta{} }

// Totals is one row of daily_stats.
type Totals struct {
	Day            string
	FlightsCreated int64
	FilesShared    int64
	MBTransferred  float64
	UsersConnected int64
}

type Feedback struct {
	Message   string
	ClientIP  string
	CreatedAt time.Time
}

type Store struct {
	db     *sql.DB
	driver string
}

// Open connects to the database and creates the tables if needed.
func Open(ctx context.Context, driver, dsn string) (*Store, error) {
	switch driver {
	case DriverSQLite, DriverPostgres:
	default:
		return nil, fmt.Errorf("stats: unsupported driver %q", driver)
	}
	if dsn == "" {
		return nil, errors.New("stats: empty database url")
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("stats: open db: %w", err)
	}
	s := &Store{db: db, driver: driver}

	if driver == DriverSQLite {
		// A single writer avoids "database is locked" under concurrency.
		db.SetMaxOpenConns(1)
		for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA busy_timeout=5000"} {
			if _, err := db.ExecContext(ctx, pragma); err != nil {
				_ = db.Close()
				return nil, fmt.Errorf("stats: %s: %w", pragma, err)
			}
		}
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("stats: ping: %w", err)
	}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("stats: migrate: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate(ctx context.Context) error {
	schema := sqliteSchema
	if s.driver == DriverPostgres {
		schema = postgresSchema
	}
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS daily_stats (
		day             TEXT    PRIMARY KEY,
		flights_created INTEGER NOT NULL DEFAULT 0,
		files_shared    INTEGER NOT NULL DEFAULT 0,
		mb_transferred  REAL    NOT NULL DEFAULT 0,
		users_connected INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE IF NOT EXISTS feedback (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		created_at TEXT    NOT NULL,
		message    TEXT    NOT NULL,
		client_ip  TEXT    NOT NULL DEFAULT ''
	)`,
}

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS daily_stats (
		day             DATE             PRIMARY KEY,
		flights_created BIGINT           NOT NULL DEFAULT 0,
		files_shared    BIGINT           NOT NULL DEFAULT 0,
		mb_transferred  DOUBLE PRECISION NOT NULL DEFAULT 0,
		users_connected BIGINT           NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE IF NOT EXISTS feedback (
		id         BIGSERIAL   PRIMARY KEY,
		created_at TIMESTAMPTZ NOT NULL,
		message    TEXT        NOT NULL,
		client_ip  TEXT        NOT NULL DEFAULT ''
	)`,
}

// AddDaily adds d to the totals of the UTC day containing at.
func (s *Store) AddDaily(ctx context.Context, at time.Time, d Delta) error {
	if d.IsZero() {
		return nil
	}
	const q = `INSERT INTO daily_stats (day, flights_created, files_shared, mb_transferred, users_connected)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (day) DO UPDATE SET
			flights_created = daily_stats.flights_created + excluded.flights_created,
			files_shared    = daily_stats.files_shared + excluded.files_shared,
			mb_transferred  = daily_stats.mb_transferred + excluded.mb_transferred,
			users_connected = daily_stats.users_connected + excluded.users_connected`
	_, err := s.db.ExecContext(ctx, s.rebind(q),
		at.UTC().Format(dayLayout), d.FlightsCreated, d.FilesShared, d.MBTransferred, d.UsersConnected)
	if err != nil {
		return fmt.Errorf("stats: upsert daily_stats: %w", err)
	}
	return nil
}

func (s *Store) InsertFeedback(ctx context.Context, f Feedback) error {
	if f.CreatedAt.IsZero() {
		f.CreatedAt = time.Now()
	}
	const q = `INSERT INTO feedback (created_at, message, client_ip) VALUES (?, ?, ?)`
	_, err := s.db.ExecContext(ctx, s.rebind(q), f.CreatedAt.UTC().Format(timestampLayout), f.Message, f.ClientIP)
	if err != nil {
		return fmt.Errorf("stats: insert feedback: %w", err)
	}
	return nil
}

// Daily returns the totals for the UTC day containing at. A day without
// activity yields zero totals.
func (s *Store) Daily(ctx context.Context, at time.Time) (Totals, error) {
	day := at.UTC().Format(dayLayout)
	t := Totals{Day: day}
	const q = `SELECT flights_created, files_shared, mb_transferred, users_connected FROM daily_stats WHERE day = ?`
	err := s.db.QueryRowContext(ctx, s.rebind(q), day).
		Scan(&t.FlightsCreated, &t.FilesShared, &t.MBTransferred, &t.UsersConnected)
	if errors.Is(err, sql.ErrNoRows) {
		return t, nil
	}
	if err != nil {
		return Totals{}, fmt.Errorf("stats: query daily_stats: %w", err)
	}
	return t, nil
}

// rebind rewrites ? placeholders to $n for postgres.
func (s *Store) rebind(q string) string {
	if s.driver != DriverPostgres {
		return q
	}
	var b strings.Builder
	n := 0
	for _, c := range q {
		if c == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(c)
	}
	return b.String()
}
