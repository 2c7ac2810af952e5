package correlation

import (
	"testing"
	"time"

	"github.com/etiennerc-wobz/payement-item-association/internal/domain/association"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2024, 5, 14, 10, 0, 0, 0, time.UTC)

func at(offset time.Duration) time.Time {
	return base.Add(offset)
}

func tx(id string, qty int, offset time.Duration) *association.Transaction {
	return &association.Transaction{ID: association.StringID(id), Quantity: qty, OccurredAt: at(offset)}
}

func batch(offset time.Duration, items ...int64) *association.ItemBatch {
	b := &association.ItemBatch{ObservedAt: at(offset)}
	for _, it := range items {
		b.Items = append(b.Items, association.NumberID(it))
	}
	return b
}

func TestQualifies(t *testing.T) {
	tests := []struct {
		name  string
		tx    *association.Transaction
		batch *association.ItemBatch
		want  bool
	}{
		{"earlier and same quantity", tx("a", 2, 0), batch(time.Second, 1, 2), true},
		{"same second is not strictly earlier", tx("a", 2, 0), batch(0, 1, 2), false},
		{"payment after scan", tx("a", 2, 5*time.Second), batch(time.Second, 1, 2), false},
		{"quantity mismatch", tx("a", 3, 0), batch(time.Second, 1, 2), false},
		{"zero quantity against empty batch", tx("a", 0, 0), batch(time.Second), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Qualifies(tt.tx, tt.batch))
		})
	}
}

func TestPair_OrderingTieBreak(t *testing.T) {
	t1 := tx("T1", 3, 0)
	t2 := tx("T2", 3, 5*time.Second)
	b1 := batch(10*time.Second, 1, 2, 3)
	b2 := batch(20*time.Second, 4, 5, 6)

	txs := []*association.Transaction{t2, t1}
	batches := []*association.ItemBatch{b2, b1}
	SortTransactions(txs)
	SortBatches(batches)

	matches := Pair(txs, batches, nil)

	require.Len(t, matches, 2)
	assert.Same(t, t1, matches[0].Transaction)
	assert.Same(t, b1, matches[0].Batch)
	assert.Same(t, t2, matches[1].Transaction)
	assert.Same(t, b2, matches[1].Batch)
}

func TestPair_BatchConsumedOnce(t *testing.T) {
	t1 := tx("T1", 2, 0)
	t2 := tx("T2", 2, time.Second)
	only := batch(10*time.Second, 7, 8)

	matches := Pair([]*association.Transaction{t1, t2}, []*association.ItemBatch{only}, nil)

	require.Len(t, matches, 1)
	assert.Same(t, t1, matches[0].Transaction)
}

func TestPair_SkipsEarlierNonQualifyingBatches(t *testing.T) {
	t1 := tx("T1", 2, 30*time.Second)
	early := batch(10*time.Second, 1, 2)
	wrongSize := batch(40*time.Second, 1, 2, 3)
	good := batch(50*time.Second, 4, 5)

	matches := Pair([]*association.Transaction{t1}, []*association.ItemBatch{early, wrongSize, good}, nil)

	require.Len(t, matches, 1)
	assert.Same(t, good, matches[0].Batch)
}

func TestPair_SkipFunction(t *testing.T) {
	t1 := tx("T1", 1, 0)
	t2 := tx("T2", 1, time.Second)
	b1 := batch(10*time.Second, 1)

	matches := Pair([]*association.Transaction{t1, t2}, []*association.ItemBatch{b1}, func(tr *association.Transaction) bool {
		return tr == t1
	})

	require.Len(t, matches, 1)
	assert.Same(t, t2, matches[0].Transaction)
}

func TestSort_IsStableForEqualTimestamps(t *testing.T) {
	first := tx("first", 1, 0)
	second := tx("second", 1, 0)
	earlier := tx("earlier", 1, -time.Second)

	txs := []*association.Transaction{first, second, earlier}
	SortTransactions(txs)

	assert.Equal(t, []*association.Transaction{earlier, first, second}, txs)
}
