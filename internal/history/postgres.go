package history

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// PostgresSink writes lifecycle events to PostgreSQL, grounded on the
// teacher's internal/history/postgres sink.
type PostgresSink struct {
	db *sql.DB
}

func NewPostgresSink(dsn string) (*PostgresSink, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, errors.New("empty postgres DSN")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	sink := &PostgresSink{db: db}
	if err := sink.ensureSchema(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return sink, nil
}

func (s *PostgresSink) ensureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS entry_history(
		occurred_at TIMESTAMPTZ NOT NULL,
		event TEXT NOT NULL,
		id TEXT NOT NULL,
		name TEXT NOT NULL,
		pid INTEGER NOT NULL,
		started_at TIMESTAMPTZ,
		stopped_at TIMESTAMPTZ,
		running BOOLEAN NOT NULL,
		exit_err TEXT,
		restart_count INTEGER NOT NULL
	);`)
	return err
}

func (s *PostgresSink) Send(ctx context.Context, e Event) error {
	rec := e.Record
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO entry_history(occurred_at, event, id, name, pid, started_at, stopped_at, running, exit_err, restart_count)
		VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10);`,
		e.OccurredAt.UTC(), string(e.Type), rec.ID, rec.Name, rec.PID, rec.StartedAt, rec.StoppedAt, rec.Running, rec.ExitErr, rec.RestartCount)
	return err
}

func (s *PostgresSink) Close() error { return s.db.Close() }
