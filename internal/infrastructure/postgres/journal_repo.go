package postgres

import (
	"context"
	"fmt"

	"github.com/etiennerc-wobz/payement-item-association/internal/domain/journal"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type executor interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

// JournalRepository stores every association the downstream service accepted.
type JournalRepository struct {
	pool      *pgxpool.Pool
	txManager Transactor
}

var _ journal.Repository = (*JournalRepository)(nil)

func NewJournalRepository(pool *pgxpool.Pool, txManager Transactor) *JournalRepository {
	return &JournalRepository{pool: pool, txManager: txManager}
}

// Record writes the association and its items in one transaction. Recording
// the same pair twice is a no-op.
func (r *JournalRepository) Record(ctx context.Context, e *journal.Entry) error {
	return r.txManager.WithinTransaction(ctx, func(txCtx context.Context) error {
		var exec executor = r.pool
		if tx := GetTx(txCtx); tx != nil {
			exec = tx
		}

		const insertAssociation = `
			INSERT INTO associations (pair_id, transaction_id, quantity, occurred_at, observed_at, attempts, forwarded_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (pair_id) DO NOTHING
		`
		tag, err := exec.Exec(txCtx, insertAssociation,
			e.PairID, e.TransactionID, e.Quantity, e.OccurredAt, e.ObservedAt, e.Attempts, e.ForwardedAt)
		if err != nil {
			return fmt.Errorf("insert association: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return nil
		}

		const insertItem = `
			INSERT INTO association_items (pair_id, position, item_id)
			VALUES ($1, $2, $3)
		`
		for i, item := range e.Items {
			if _, err := exec.Exec(txCtx, insertItem, e.PairID, i, item); err != nil {
				return fmt.Errorf("insert association item: %w", err)
			}
		}

		return nil
	})
}

func (r *JournalRepository) ListRecent(ctx context.Context, limit int) ([]*journal.Entry, error) {
	const sql = `
		SELECT
			a.pair_id::text,
			a.transaction_id,
			a.quantity,
			COALESCE(array_agg(i.item_id ORDER BY i.position) FILTER (WHERE i.item_id IS NOT NULL), '{}'),
			a.occurred_at,
			a.observed_at,
			a.attempts,
			a.forwarded_at
		FROM associations a
		LEFT JOIN association_items i ON i.pair_id = a.pair_id
		GROUP BY a.pair_id
		ORDER BY a.forwarded_at DESC
		LIMIT $1
	`

	rows, err := r.pool.Query(ctx, sql, limit)
	if err != nil {
		return nil, fmt.Errorf("query associations: %w", err)
	}
	defer rows.Close()

	var entries []*journal.Entry
	for rows.Next() {
		e := &journal.Entry{}
		if err := rows.Scan(&e.PairID, &e.TransactionID, &e.Quantity, &e.Items, &e.OccurredAt, &e.ObservedAt, &e.Attempts, &e.ForwardedAt); err != nil {
			return nil, fmt.Errorf("scan association: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate associations: %w", err)
	}

	return entries, nil
}
