package deadletter

import (
	"context"
	"encoding/json"
	"time"
)

const (
	KindTransaction = "transaction"
	KindItemBatch   = "item_batch"
)

// Entry is a pending event evicted because it never found a counterpart.
type Entry struct {
	Kind      string          `json:"kind"`
	Reason    string          `json:"reason"`
	Event     json.RawMessage `json:"event"`
	EvictedAt time.Time       `json:"evicted_at"`
}

type Store interface {
	Push(ctx context.Context, entry *Entry) error
	List(ctx context.Context, limit int) ([]*Entry, error)
}
