package usecase

import (
	"context"

	"github.com/etiennerc-wobz/payement-item-association/internal/correlation"
)

type StateDTO struct {
	PendingTransactions int                  `json:"pending_transactions_count"`
	PendingBatches      int                  `json:"pending_batches_count"`
	LinkedPairs         int                  `json:"linked_pairs_count"`
	Snapshot            correlation.Snapshot `json:"snapshot"`
}

type GetState struct {
	state *correlation.State
}

func NewGetState(state *correlation.State) *GetState {
	return &GetState{state: state}
}

func (uc *GetState) Execute(_ context.Context) *StateDTO {
	snap := uc.state.Snapshot()
	return &StateDTO{
		PendingTransactions: len(snap.Transactions),
		PendingBatches:      len(snap.Batches),
		LinkedPairs:         len(snap.Linked),
		Snapshot:            snap,
	}
}
