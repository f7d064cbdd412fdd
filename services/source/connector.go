package source

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// Row is one source row keyed by column name.
type Row map[string]any

type Conn interface {
	// Query runs sql with positional parameters and returns every row.
	Query(ctx context.Context, sql string, params ...any) ([]Row, error)
	Close() error
}

type Connector interface {
	// Connect opens a connection. Connection and authentication failures are
	// returned as pipeline.ErrSourceUnavailable.
	Connect(ctx context.Context, d Descriptor) (Conn, error)
}

// WithConnection opens a connection, passes it to fn and closes it on every
// exit path, including a panic inside fn.
func WithConnection(ctx context.Context, connector Connector, d Descriptor, fn func(Conn) error) (err error) {
	conn, err := connector.Connect(ctx, d)
	if err != nil {
		return err
	}

	defer func() {
		if cerr := conn.Close(); cerr != nil {
			zap.L().Warn("failed to close source connection", zap.String("source", d.Redacted()), zap.Error(cerr))
		}
	}()

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("source connection: %w", err)
	}

	return fn(conn)
}
