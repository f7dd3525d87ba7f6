package history

import (
	"context"
	"fmt"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
)

// ClickHouseSink writes lifecycle events via the official ClickHouse Go
// client, grounded on the teacher's internal/history/clickhouse sink.
type ClickHouseSink struct {
	conn  driver.Conn
	table string
}

func NewClickHouseSink(addr, table string) (*ClickHouseSink, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{addr},
		Auth: clickhouse.Auth{Database: "default", Username: "default"},
	})
	if err != nil {
		return nil, fmt.Errorf("connect clickhouse: %w", err)
	}
	if err := conn.Ping(context.Background()); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping clickhouse: %w", err)
	}
	return &ClickHouseSink{conn: conn, table: table}, nil
}

func (s *ClickHouseSink) Send(ctx context.Context, e Event) error {
	rec := e.Record
	query := fmt.Sprintf(`INSERT INTO %s (occurred_at, event, id, name, pid, started_at, stopped_at, running, exit_err, restart_count) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, s.table)
	if err := s.conn.Exec(ctx, query,
		e.OccurredAt, string(e.Type), rec.ID, rec.Name, rec.PID, rec.StartedAt, rec.StoppedAt, rec.Running, rec.ExitErr, rec.RestartCount,
	); err != nil {
		return fmt.Errorf("insert clickhouse event: %w", err)
	}
	return nil
}

func (s *ClickHouseSink) Close() error { return s.conn.Close() }
