package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const schema = `
	CREATE TABLE IF NOT EXISTS associations (
		pair_id        UUID PRIMARY KEY,
		transaction_id TEXT NOT NULL,
		quantity       INTEGER NOT NULL,
		occurred_at    TIMESTAMP NOT NULL,
		observed_at    TIMESTAMP NOT NULL,
		attempts       INTEGER NOT NULL,
		forwarded_at   TIMESTAMPTZ NOT NULL
	);

	CREATE INDEX IF NOT EXISTS associations_forwarded_at_idx ON associations (forwarded_at DESC);

	CREATE TABLE IF NOT EXISTS association_items (
		pair_id  UUID NOT NULL REFERENCES associations (pair_id) ON DELETE CASCADE,
		position INTEGER NOT NULL,
		item_id  TEXT NOT NULL,
		PRIMARY KEY (pair_id, position)
	);
`

// EnsureSchema creates the journal tables when they do not exist yet.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ensure journal schema: %w", err)
	}
	return nil
}
