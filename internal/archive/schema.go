package archive

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

const schema = `
CREATE TABLE IF NOT EXISTS stomp_frames (
	id          UUID PRIMARY KEY,
	received_at TIMESTAMPTZ NOT NULL,
	source      TEXT NOT NULL,
	destination TEXT NOT NULL,
	headers     JSONB NOT NULL DEFAULT '{}',
	body        BYTEA
);
CREATE INDEX IF NOT EXISTS stomp_frames_destination_received_at
	ON stomp_frames (destination, received_at);
`

// execer is satisfied by *pgxpool.Pool, *pgx.Conn and pgx.Tx.
type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// EnsureSchema creates the archive table and its index if they do not exist.
func EnsureSchema(ctx context.Context, db execer) error {
	if _, err := db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("create archive schema: %w", err)
	}
	return nil
}
