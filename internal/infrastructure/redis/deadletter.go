package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/etiennerc-wobz/payement-item-association/internal/domain/deadletter"

	"github.com/redis/go-redis/v9"
)

const defaultDeadLetterCap = 10000

// DeadLetterStore keeps evicted events in a capped Redis list, newest first.
type DeadLetterStore struct {
	client *redis.Client
	key    string
	cap    int64
}

var _ deadletter.Store = (*DeadLetterStore)(nil)

func NewDeadLetterStore(client *redis.Client, key string) *DeadLetterStore {
	return &DeadLetterStore{client: client, key: key, cap: defaultDeadLetterCap}
}

func (s *DeadLetterStore) Push(ctx context.Context, entry *deadletter.Entry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal dead letter: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.LPush(ctx, s.key, data)
	pipe.LTrim(ctx, s.key, 0, s.cap-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("push dead letter: %w", err)
	}
	return nil
}

func (s *DeadLetterStore) List(ctx context.Context, limit int) ([]*deadletter.Entry, error) {
	if limit <= 0 {
		return nil, nil
	}

	raw, err := s.client.LRange(ctx, s.key, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("list dead letters: %w", err)
	}

	entries := make([]*deadletter.Entry, 0, len(raw))
	for _, r := range raw {
		e := &deadletter.Entry{}
		if err := json.Unmarshal([]byte(r), e); err != nil {
			return nil, fmt.Errorf("decode dead letter: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, nil
}
