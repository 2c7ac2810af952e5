package usecase

import (
	"context"
	"errors"
	"fmt"

	"github.com/etiennerc-wobz/payement-item-association/internal/domain/deadletter"
)

var ErrDeadLettersDisabled = errors.New("dead letter store is not configured")

type ListDeadLetters struct {
	store deadletter.Store
}

func NewListDeadLetters(store deadletter.Store) *ListDeadLetters {
	return &ListDeadLetters{store: store}
}

func (uc *ListDeadLetters) Execute(ctx context.Context, limit int) ([]*deadletter.Entry, error) {
	if uc.store == nil {
		return nil, ErrDeadLettersDisabled
	}

	entries, err := uc.store.List(ctx, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("list dead letters: %w", err)
	}
	if entries == nil {
		entries = []*deadletter.Entry{}
	}
	return entries, nil
}
