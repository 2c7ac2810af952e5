package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/etiennerc-wobz/payement-item-association/internal/domain/journal"

	"github.com/redis/go-redis/v9"
)

var ErrJournalDisabled = errors.New("association journal is not configured")

const MaxListLimit = 500

// ListAssociations reads the journal. Results are cached in Redis for a
// second when a client is given.
type ListAssociations struct {
	redisClient *redis.Client
	journal     journal.Repository
}

func NewListAssociations(redisClient *redis.Client, journalRepo journal.Repository) *ListAssociations {
	return &ListAssociations{
		redisClient: redisClient,
		journal:     journalRepo,
	}
}

func (uc *ListAssociations) Execute(ctx context.Context, limit int) ([]*journal.Entry, error) {
	if uc.journal == nil {
		return nil, ErrJournalDisabled
	}
	limit = clampLimit(limit)

	cacheKey := fmt.Sprintf("associations:recent:%d", limit)

	if uc.redisClient != nil {
		val, err := uc.redisClient.Get(ctx, cacheKey).Result()
		if err == nil {
			var entries []*journal.Entry
			if err := json.Unmarshal([]byte(val), &entries); err == nil {
				return entries, nil
			}
		}
	}

	entries, err := uc.journal.ListRecent(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("list associations: %w", err)
	}
	if entries == nil {
		entries = []*journal.Entry{}
	}

	if uc.redisClient != nil {
		data, _ := json.Marshal(entries)
		uc.redisClient.Set(ctx, cacheKey, data, 1*time.Second)
	}

	return entries, nil
}

func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return 50
	case limit > MaxListLimit:
		return MaxListLimit
	default:
		return limit
	}
}
