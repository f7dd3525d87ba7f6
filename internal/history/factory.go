package history

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// NewSinkFromDSN constructs a Sink from a DSN, dispatching on scheme the way
// the teacher's internal/history/factory does:
//   - "clickhouse://host:port?table=..."
//   - "opensearch://host:port/index" (also accepts "elasticsearch://")
//   - "postgres://..." / "postgresql://..."
//   - "sqlite:///path/to/file.db", "sqlite://:memory:", ":memory:", or a
//     bare path ending in ".db"
func NewSinkFromDSN(dsn string) (Sink, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, errors.New("empty history sink DSN")
	}
	lower := strings.ToLower(dsn)

	switch {
	case strings.HasPrefix(lower, "clickhouse://"):
		u, err := url.Parse(dsn)
		if err != nil {
			return nil, fmt.Errorf("parse clickhouse DSN: %w", err)
		}
		table := u.Query().Get("table")
		if table == "" {
			table = "entry_history"
		}
		return NewClickHouseSink(u.Host, table)

	case strings.HasPrefix(lower, "opensearch://"), strings.HasPrefix(lower, "elasticsearch://"):
		u, err := url.Parse(dsn)
		if err != nil {
			return nil, fmt.Errorf("parse opensearch DSN: %w", err)
		}
		index := strings.TrimPrefix(u.Path, "/")
		if index == "" {
			index = "entry-history"
		}
		return NewOpenSearchSink("http://"+u.Host, index), nil

	case strings.HasPrefix(lower, "postgres://"), strings.HasPrefix(lower, "postgresql://"):
		return NewPostgresSink(dsn)

	case strings.HasPrefix(lower, "sqlite://"), strings.HasSuffix(lower, ".db"), lower == ":memory:":
		return NewSQLiteSink(dsn)

	default:
		return nil, fmt.Errorf("unrecognized history sink DSN scheme: %q", dsn)
	}
}
