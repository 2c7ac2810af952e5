package correlation

import (
	"sync"
	"time"

	"github.com/etiennerc-wobz/payement-item-association/internal/domain/association"

	"github.com/google/uuid"
)

// State holds the pending transactions, the pending item batches and the
// linked pairs waiting to be forwarded.
//
// Each collection has its own lock. When more than one is needed they are
// always taken in the order transactions, batches, linked.
//
// A linked transaction stays in the pending transactions until the
// downstream service accepts its pair, but it is never matched again.
type State struct {
	txMu         sync.Mutex
	transactions []*association.Transaction
	pendingIDs   map[association.Identifier]int

	batchMu sync.Mutex
	batches []*association.ItemBatch

	linkMu   sync.Mutex
	linked   []*association.LinkedPair
	linkedTx map[*association.Transaction]*association.LinkedPair

	newID func() string
	now   func() time.Time
}

type Option func(*State)

// WithClock overrides the clock used to stamp LinkedAt.
func WithClock(now func() time.Time) Option {
	return func(s *State) { s.now = now }
}

// WithIDGenerator overrides the pair id generator.
func WithIDGenerator(newID func() string) Option {
	return func(s *State) { s.newID = newID }
}

func NewState(opts ...Option) *State {
	s := &State{
		pendingIDs: make(map[association.Identifier]int),
		linkedTx:   make(map[*association.Transaction]*association.LinkedPair),
		newID:      func() string { return uuid.New().String() },
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AppendTransaction adds tx to the pending transactions. It reports whether a
// transaction with the same id was already pending; tx is appended anyway.
func (s *State) AppendTransaction(tx *association.Transaction) (duplicate bool) {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	duplicate = s.pendingIDs[tx.ID] > 0
	s.pendingIDs[tx.ID]++
	s.transactions = append(s.transactions, tx)

	return duplicate
}

func (s *State) AppendBatch(batch *association.ItemBatch) {
	s.batchMu.Lock()
	defer s.batchMu.Unlock()

	s.batches = append(s.batches, batch)
}

// Correlate runs one matching pass and returns the pairs it created.
// Nothing happens unless both pending collections are non-empty. Both pending
// locks are held for the whole sort and match so the pass sees a consistent
// view of the two streams. Matched batches leave the pending batches at once.
func (s *State) Correlate() []*association.LinkedPair {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	s.batchMu.Lock()
	defer s.batchMu.Unlock()

	if len(s.transactions) == 0 || len(s.batches) == 0 {
		return nil
	}

	SortTransactions(s.transactions)
	SortBatches(s.batches)

	s.linkMu.Lock()
	defer s.linkMu.Unlock()

	matches := Pair(s.transactions, s.batches, func(tx *association.Transaction) bool {
		_, linked := s.linkedTx[tx]
		return linked
	})
	if len(matches) == 0 {
		return nil
	}

	consumed := make(map[*association.ItemBatch]struct{}, len(matches))
	created := make([]*association.LinkedPair, 0, len(matches))
	for _, m := range matches {
		pair := &association.LinkedPair{
			ID:          s.newID(),
			Transaction: m.Transaction,
			Batch:       m.Batch,
			LinkedAt:    s.now(),
		}
		s.linked = append(s.linked, pair)
		s.linkedTx[m.Transaction] = pair
		consumed[m.Batch] = struct{}{}
		created = append(created, pair)
	}

	remaining := s.batches[:0]
	for _, b := range s.batches {
		if _, ok := consumed[b]; !ok {
			remaining = append(remaining, b)
		}
	}
	clear(s.batches[len(remaining):])
	s.batches = remaining

	return created
}

// Linked returns a copy of the current linked pairs, oldest first.
func (s *State) Linked() []*association.LinkedPair {
	s.linkMu.Lock()
	defer s.linkMu.Unlock()

	out := make([]*association.LinkedPair, len(s.linked))
	copy(out, s.linked)
	return out
}

// RecordAttempt counts a forwarding attempt for pair.
func (s *State) RecordAttempt(pair *association.LinkedPair) int {
	s.linkMu.Lock()
	defer s.linkMu.Unlock()

	pair.Attempts++
	return pair.Attempts
}

// Complete marks pair as forwarded and removes it and its transaction from
// the state. It returns false when pair is no longer linked.
func (s *State) Complete(pair *association.LinkedPair) bool {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	s.linkMu.Lock()
	defer s.linkMu.Unlock()

	idx := -1
	for i, p := range s.linked {
		if p == pair {
			idx = i
			break
		}
	}
	if idx < 0 {
		return false
	}

	pair.Forwarded = true
	s.linked = append(s.linked[:idx], s.linked[idx+1:]...)
	delete(s.linkedTx, pair.Transaction)

	for i, tx := range s.transactions {
		if tx == pair.Transaction {
			s.transactions = append(s.transactions[:i], s.transactions[i+1:]...)
			s.forgetID(tx.ID)
			break
		}
	}

	return true
}

// Evict removes unlinked pending events received before cutoff and returns
// them. Linked transactions are kept: their pair is still being forwarded.
func (s *State) Evict(cutoff time.Time) ([]*association.Transaction, []*association.ItemBatch) {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	s.batchMu.Lock()
	defer s.batchMu.Unlock()
	s.linkMu.Lock()
	defer s.linkMu.Unlock()

	var evictedTx []*association.Transaction
	keptTx := s.transactions[:0]
	for _, tx := range s.transactions {
		_, linked := s.linkedTx[tx]
		if !linked && tx.ReceivedAt.Before(cutoff) {
			evictedTx = append(evictedTx, tx)
			s.forgetID(tx.ID)
			continue
		}
		keptTx = append(keptTx, tx)
	}
	clear(s.transactions[len(keptTx):])
	s.transactions = keptTx

	var evictedBatches []*association.ItemBatch
	keptBatches := s.batches[:0]
	for _, b := range s.batches {
		if b.ReceivedAt.Before(cutoff) {
			evictedBatches = append(evictedBatches, b)
			continue
		}
		keptBatches = append(keptBatches, b)
	}
	clear(s.batches[len(keptBatches):])
	s.batches = keptBatches

	return evictedTx, evictedBatches
}

func (s *State) forgetID(id association.Identifier) {
	if s.pendingIDs[id] <= 1 {
		delete(s.pendingIDs, id)
		return
	}
	s.pendingIDs[id]--
}

// Snapshot is a point-in-time copy of the state.
type Snapshot struct {
	Transactions []association.Transaction `json:"pending_transactions"`
	Batches      []association.ItemBatch   `json:"pending_batches"`
	Linked       []association.LinkedPair  `json:"linked_pairs"`
}

func (s *State) Snapshot() Snapshot {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	s.batchMu.Lock()
	defer s.batchMu.Unlock()
	s.linkMu.Lock()
	defer s.linkMu.Unlock()

	snap := Snapshot{
		Transactions: make([]association.Transaction, 0, len(s.transactions)),
		Batches:      make([]association.ItemBatch, 0, len(s.batches)),
		Linked:       make([]association.LinkedPair, 0, len(s.linked)),
	}
	for _, tx := range s.transactions {
		snap.Transactions = append(snap.Transactions, *tx)
	}
	for _, b := range s.batches {
		snap.Batches = append(snap.Batches, *b)
	}
	for _, p := range s.linked {
		snap.Linked = append(snap.Linked, *p)
	}
	return snap
}

// Counts returns the sizes of the three collections.
func (s *State) Counts() (transactions, batches, linked int) {
	s.txMu.Lock()
	transactions = len(s.transactions)
	s.txMu.Unlock()

	s.batchMu.Lock()
	batches = len(s.batches)
	s.batchMu.Unlock()

	s.linkMu.Lock()
	linked = len(s.linked)
	s.linkMu.Unlock()

	return transactions, batches, linked
}
