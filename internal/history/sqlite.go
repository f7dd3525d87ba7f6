package history

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	_ "modernc.org/sqlite"
)

// SQLiteSink writes lifecycle events to a local SQLite database, grounded
// on the teacher's internal/history/sqlite sink.
type SQLiteSink struct {
	db *sql.DB
}

// NewSQLiteSink opens dsn, accepting "sqlite:///path", a bare path, or
// ":memory:", and ensures the history table exists.
func NewSQLiteSink(dsn string) (*SQLiteSink, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, errors.New("empty sqlite DSN")
	}
	dsn = strings.TrimPrefix(dsn, "sqlite://")

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	sink := &SQLiteSink{db: db}
	if err := sink.ensureSchema(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return sink, nil
}

func (s *SQLiteSink) ensureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS entry_history(
		occurred_at TIMESTAMP NOT NULL,
		event TEXT NOT NULL,
		id TEXT NOT NULL,
		name TEXT NOT NULL,
		pid INTEGER NOT NULL,
		started_at TIMESTAMP,
		stopped_at TIMESTAMP,
		running BOOLEAN NOT NULL,
		exit_err TEXT,
		restart_count INTEGER NOT NULL
	);`)
	return err
}

func (s *SQLiteSink) Send(ctx context.Context, e Event) error {
	rec := e.Record
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO entry_history(occurred_at, event, id, name, pid, started_at, stopped_at, running, exit_err, restart_count)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?);`,
		e.OccurredAt.UTC(), string(e.Type), rec.ID, rec.Name, rec.PID, rec.StartedAt, rec.StoppedAt, rec.Running, rec.ExitErr, rec.RestartCount)
	return err
}

func (s *SQLiteSink) Close() error { return s.db.Close() }
