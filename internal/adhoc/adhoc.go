// Package adhoc provides ad-hoc SQL over the NDJSON event store using an
// in-memory DuckDB database. It exists for diagnostics and exploration; the
// structured views in aggregate and msgquery are the supported query surface.
package adhoc

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	_ "github.com/marcboeker/go-duckdb"
)

// Service wraps one in-memory DuckDB connection. Safe for concurrent use;
// view registration and query execution are serialized.
type Service struct {
	mu sync.Mutex
	db *sql.DB

	stats Stats
}

// Stats holds query statistics.
type Stats struct {
	QueriesExecuted int64
	RowsReturned    int64
	Errors          int64
}

// Result is a generic rowset.
type Result struct {
	Columns []string         `json:"columns"`
	Rows    []map[string]any `json:"rows"`
}

// New opens an in-memory DuckDB database.
func New() (*Service, error) {
	db, err := sql.Open("duckdb", "")
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}
	return &Service{db: db}, nil
}

// Close closes the database.
func (s *Service) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// QueryLabel registers the label's NDJSON files as an `events` view and runs
// the query against it. DuckDB reads the raw record lines, so the view
// exposes the on-disk shape (type, ts, packet, myInfo, nodes), not the
// normalized Message shape.
func (s *Service) QueryLabel(ctx context.Context, root, label, query string) (*Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pattern := filepath.Join(root, label, label+"_*.ndjson")
	register := fmt.Sprintf(
		"CREATE OR REPLACE VIEW events AS SELECT * FROM read_json('%s', format='newline_delimited', union_by_name=true)",
		escapeSQLString(pattern),
	)
	if _, err := s.db.ExecContext(ctx, register); err != nil {
		s.stats.Errors++
		return nil, fmt.Errorf("register events view: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		s.stats.Errors++
		return nil, err
	}
	defer rows.Close()

	result, err := scanRows(rows)
	if err != nil {
		s.stats.Errors++
		return nil, err
	}

	s.stats.QueriesExecuted++
	s.stats.RowsReturned += int64(len(result.Rows))
	return result, nil
}

// Stats returns a copy of the service statistics.
func (s *Service) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

func scanRows(rows *sql.Rows) (*Result, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	result := &Result{Columns: columns, Rows: []map[string]any{}}

	for rows.Next() {
		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}

		row := make(map[string]any, len(columns))
		for i, col := range columns {
			row[col] = values[i]
		}
		result.Rows = append(result.Rows, row)
	}

	return result, rows.Err()
}

func escapeSQLString(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}
