// Package store persists recordings in a local SQLite library.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"

	"github.com/offlinefirst/inputreplay/pkg/eventlog"
	"github.com/offlinefirst/inputreplay/pkg/input"
	"github.com/offlinefirst/inputreplay/pkg/store/migrations"
)

var (
	// ErrNotFound reports an unknown recording id or name.
	ErrNotFound = errors.New("recording not found")
	// ErrAlreadyExists reports an id collision on save.
	ErrAlreadyExists = errors.New("recording already exists")
)

// Recording describes one stored log.
type Recording struct {
	ID         string        `json:"id"`
	Name       string        `json:"name"`
	CreatedAt  time.Time     `json:"created_at"`
	Duration   time.Duration `json:"duration_ns"`
	EventCount int           `json:"event_count"`
}

// Store persists recordings in SQLite.
type Store struct {
	sqlDB *sql.DB
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// Open opens the library at path and applies embedded migrations.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	dsn := filepath.Clean(path) + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := applyMigrations(sqlDB, migrations.FS); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{sqlDB: sqlDB}, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// Save stores a frozen log under a fresh id. Events are renumbered 1..n in
// log order so tie-break order survives the round trip.
func (s *Store) Save(ctx context.Context, name string, log *eventlog.Log) (Recording, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return Recording{}, fmt.Errorf("generate recording id: %w", err)
	}
	return s.SaveWithID(ctx, id.String(), name, log)
}

// SaveWithID stores a frozen log under an explicit id, as used by import.
func (s *Store) SaveWithID(ctx context.Context, id, name string, log *eventlog.Log) (Recording, error) {
	if err := ctx.Err(); err != nil {
		return Recording{}, err
	}
	if s == nil || s.sqlDB == nil {
		return Recording{}, fmt.Errorf("storage is not configured")
	}
	if log == nil {
		return Recording{}, fmt.Errorf("event log is required")
	}
	if !log.Frozen() {
		return Recording{}, fmt.Errorf("event log must be frozen before saving")
	}
	id = strings.TrimSpace(id)
	if _, err := uuid.Parse(id); err != nil {
		return Recording{}, fmt.Errorf("invalid recording id %q: %w", id, err)
	}
	name = strings.TrimSpace(name)
	if name == "" {
		name = "recording " + log.CreatedAt().Local().Format("2006-01-02 15:04:05")
	}

	rec := Recording{
		ID:         id,
		Name:       name,
		CreatedAt:  log.CreatedAt().UTC(),
		Duration:   log.Duration(),
		EventCount: log.Len(),
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return Recording{}, fmt.Errorf("begin save: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(
		ctx,
		`INSERT INTO recordings (id, name, created_at, duration_ns, event_count) VALUES (?, ?, ?, ?, ?)`,
		rec.ID, rec.Name, toMillis(rec.CreatedAt), int64(rec.Duration), rec.EventCount,
	); err != nil {
		if isUniqueViolation(err) {
			return Recording{}, ErrAlreadyExists
		}
		return Recording{}, fmt.Errorf("insert recording: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO recording_events (
		   recording_id, seq, offset_ns, kind, x, y, relative, button, key, dx, dy
		 ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return Recording{}, fmt.Errorf("prepare event insert: %w", err)
	}
	defer stmt.Close()

	for i, ev := range log.Iter() {
		if _, err := stmt.ExecContext(
			ctx,
			rec.ID,
			i+1,
			int64(ev.Offset),
			ev.Kind.String(),
			ev.X,
			ev.Y,
			boolToInt(ev.Relative),
			int(ev.Button),
			int(ev.Key),
			ev.DX,
			ev.DY,
		); err != nil {
			return Recording{}, fmt.Errorf("insert event %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return Recording{}, fmt.Errorf("commit save: %w", err)
	}
	return rec, nil
}

// Get returns recording metadata by id.
func (s *Store) Get(ctx context.Context, id string) (Recording, error) {
	if err := ctx.Err(); err != nil {
		return Recording{}, err
	}
	row := s.sqlDB.QueryRowContext(
		ctx,
		`SELECT id, name, created_at, duration_ns, event_count FROM recordings WHERE id = ?`,
		strings.TrimSpace(id),
	)
	rec, err := scanRecording(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Recording{}, ErrNotFound
	}
	if err != nil {
		return Recording{}, fmt.Errorf("get recording: %w", err)
	}
	return rec, nil
}

// Resolve finds a recording by id, then by exact name. When several
// recordings share a name the newest wins.
func (s *Store) Resolve(ctx context.Context, ref string) (Recording, error) {
	rec, err := s.Get(ctx, ref)
	if err == nil || !errors.Is(err, ErrNotFound) {
		return rec, err
	}
	row := s.sqlDB.QueryRowContext(
		ctx,
		`SELECT id, name, created_at, duration_ns, event_count FROM recordings
		 WHERE name = ? ORDER BY created_at DESC, id DESC LIMIT 1`,
		strings.TrimSpace(ref),
	)
	rec, err = scanRecording(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Recording{}, ErrNotFound
	}
	if err != nil {
		return Recording{}, fmt.Errorf("resolve recording: %w", err)
	}
	return rec, nil
}

// Load returns the recording metadata and its frozen log.
func (s *Store) Load(ctx context.Context, id string) (Recording, *eventlog.Log, error) {
	rec, err := s.Get(ctx, id)
	if err != nil {
		return Recording{}, nil, err
	}

	rows, err := s.sqlDB.QueryContext(
		ctx,
		`SELECT seq, offset_ns, kind, x, y, relative, button, key, dx, dy
		 FROM recording_events WHERE recording_id = ? ORDER BY seq`,
		rec.ID,
	)
	if err != nil {
		return Recording{}, nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	events := make([]input.CapturedEvent, 0, rec.EventCount)
	for rows.Next() {
		var (
			seq                 int64
			offset              int64
			kindName            string
			x, y, dx, dy        int
			relative, btn, code int
		)
		if err := rows.Scan(&seq, &offset, &kindName, &x, &y, &relative, &btn, &code, &dx, &dy); err != nil {
			return Recording{}, nil, fmt.Errorf("scan event: %w", err)
		}
		kind, err := input.ParseKind(kindName)
		if err != nil {
			return Recording{}, nil, fmt.Errorf("event %d: %w", seq, err)
		}
		events = append(events, input.CapturedEvent{
			Event: input.Event{
				Kind:     kind,
				X:        x,
				Y:        y,
				Relative: relative != 0,
				Button:   input.Button(btn),
				Key:      input.KeyCode(code),
				DX:       dx,
				DY:       dy,
			},
			Offset: time.Duration(offset),
			Seq:    uint64(seq),
		})
	}
	if err := rows.Err(); err != nil {
		return Recording{}, nil, fmt.Errorf("iterate events: %w", err)
	}

	log, err := eventlog.FromEvents(rec.CreatedAt, events)
	if err != nil {
		return Recording{}, nil, fmt.Errorf("rebuild log %s: %w", rec.ID, err)
	}
	return rec, log, nil
}

// List returns recordings newest first.
func (s *Store) List(ctx context.Context) ([]Recording, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rows, err := s.sqlDB.QueryContext(
		ctx,
		`SELECT id, name, created_at, duration_ns, event_count FROM recordings ORDER BY created_at DESC, id DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("list recordings: %w", err)
	}
	defer rows.Close()

	var out []Recording
	for rows.Next() {
		rec, err := scanRecording(rows)
		if err != nil {
			return nil, fmt.Errorf("scan recording: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate recordings: %w", err)
	}
	return out, nil
}

// Delete removes a recording and its events.
func (s *Store) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	res, err := s.sqlDB.ExecContext(ctx, `DELETE FROM recordings WHERE id = ?`, strings.TrimSpace(id))
	if err != nil {
		return fmt.Errorf("delete recording: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete recording: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecording(row rowScanner) (Recording, error) {
	var (
		rec       Recording
		createdAt int64
		duration  int64
	)
	if err := row.Scan(&rec.ID, &rec.Name, &createdAt, &duration, &rec.EventCount); err != nil {
		return Recording{}, err
	}
	rec.CreatedAt = fromMillis(createdAt)
	rec.Duration = time.Duration(duration)
	return rec, nil
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}

func isUniqueViolation(err error) bool {
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}
