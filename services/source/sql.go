package source

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"incentive-pipeline/services/pipeline"
)

// OpenFunc opens a database handle; sql.Open in production.
type OpenFunc func(driver, dsn string) (*sql.DB, error)

// SQLConnector reaches PostgreSQL and MySQL sources through database/sql.
type SQLConnector struct {
	open        OpenFunc
	dialTimeout time.Duration
}

func NewSQLConnector() *SQLConnector {
	return &SQLConnector{open: sql.Open, dialTimeout: 10 * time.Second}
}

func NewSQLConnectorWithOpener(open OpenFunc) *SQLConnector {
	return &SQLConnector{open: open, dialTimeout: 10 * time.Second}
}

func (c *SQLConnector) Connect(ctx context.Context, d Descriptor) (Conn, error) {
	dsn, err := d.DSN()
	if err != nil {
		return nil, err
	}

	db, err := c.open(d.driver(), dsn)
	if err != nil {
		return nil, pipeline.SourceUnavailable("failed to open source database", err)
	}

	// one query per run, one connection is enough
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pingCtx, cancel := context.WithTimeout(ctx, c.dialTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, pipeline.SourceUnavailable("failed to connect to source database", err)
	}

	zap.L().Debug("source connection opened", zap.String("source", d.Redacted()))
	return &sqlConn{db: db}, nil
}

type sqlConn struct {
	db *sql.DB
}

func (c *sqlConn) Query(ctx context.Context, query string, params ...any) ([]Row, error) {
	rows, err := c.db.QueryContext(ctx, query, params...)
	if err != nil {
		return nil, pipeline.SourceUnavailable("source query failed", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, pipeline.SourceUnavailable("failed to read source columns", err)
	}

	out := make([]Row, 0)
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, pipeline.SourceUnavailable("failed to scan source row", err)
		}

		row := make(Row, len(cols))
		for i, col := range cols {
			row[col] = normalize(values[i])
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, pipeline.SourceUnavailable("source row iteration failed", err)
	}
	return out, nil
}

func (c *sqlConn) Close() error {
	return c.db.Close()
}

func normalize(v any) any {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}
