package journal

import (
	"context"
	"time"
)

// Entry is an audit row for a pair the downstream service accepted.
type Entry struct {
	PairID        string    `json:"pair_id"`
	TransactionID string    `json:"transaction_id"`
	Quantity      int       `json:"quantity"`
	Items         []string  `json:"items"`
	OccurredAt    time.Time `json:"occurred_at"`
	ObservedAt    time.Time `json:"observed_at"`
	Attempts      int       `json:"attempts"`
	ForwardedAt   time.Time `json:"forwarded_at"`
}

type Repository interface {
	Record(ctx context.Context, entry *Entry) error
	ListRecent(ctx context.Context, limit int) ([]*Entry, error)
}
