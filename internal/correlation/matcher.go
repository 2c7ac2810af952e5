package correlation

import (
	"sort"

	"github.com/etiennerc-wobz/payement-item-association/internal/domain/association"
)

// Match is one transaction/batch pairing produced by Pair.
type Match struct {
	Transaction *association.Transaction
	Batch       *association.ItemBatch
}

// Qualifies reports whether batch can hold the items bought in tx: the payment
// happened strictly before the scan and the quantities agree.
func Qualifies(tx *association.Transaction, batch *association.ItemBatch) bool {
	return tx.OccurredAt.Before(batch.ObservedAt) && tx.Quantity == len(batch.Items)
}

// SortTransactions orders txs by OccurredAt, keeping arrival order for ties.
func SortTransactions(txs []*association.Transaction) {
	sort.SliceStable(txs, func(i, j int) bool {
		return txs[i].OccurredAt.Before(txs[j].OccurredAt)
	})
}

// SortBatches orders batches by ObservedAt, keeping arrival order for ties.
func SortBatches(batches []*association.ItemBatch) {
	sort.SliceStable(batches, func(i, j int) bool {
		return batches[i].ObservedAt.Before(batches[j].ObservedAt)
	})
}

// Pair walks txs in order and gives each one the earliest qualifying batch
// still available. Both slices must already be sorted. Transactions for which
// skip returns true take no part. A batch is consumed by the first
// transaction that claims it.
func Pair(txs []*association.Transaction, batches []*association.ItemBatch, skip func(*association.Transaction) bool) []Match {
	taken := make([]bool, len(batches))
	var matches []Match

	for _, tx := range txs {
		if skip != nil && skip(tx) {
			continue
		}
		for i, batch := range batches {
			if taken[i] || !Qualifies(tx, batch) {
				continue
			}
			taken[i] = true
			matches = append(matches, Match{Transaction: tx, Batch: batch})
			break
		}
	}

	return matches
}
