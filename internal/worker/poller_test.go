package worker

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/etiennerc-wobz/payement-item-association/internal/correlation"
	"github.com/etiennerc-wobz/payement-item-association/internal/domain/association"
	"github.com/etiennerc-wobz/payement-item-association/internal/domain/deadletter"
	"github.com/etiennerc-wobz/payement-item-association/internal/domain/journal"
	"github.com/etiennerc-wobz/payement-item-association/internal/ingress"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

type response struct {
	accepted bool
	err      error
}

// scriptedSink replays responses in order and accepts once they run out.
type scriptedSink struct {
	mu        sync.Mutex
	responses []response
	bodies    []string
}

func (s *scriptedSink) Submit(_ context.Context, a association.Association) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	body, err := json.Marshal(a)
	if err != nil {
		return false, err
	}
	s.bodies = append(s.bodies, string(body))

	if len(s.responses) == 0 {
		return true, nil
	}
	r := s.responses[0]
	s.responses = s.responses[1:]
	return r.accepted, r.err
}

type memoryJournal struct {
	entries []*journal.Entry
	err     error
}

func (j *memoryJournal) Record(_ context.Context, e *journal.Entry) error {
	if j.err != nil {
		return j.err
	}
	j.entries = append(j.entries, e)
	return nil
}

func (j *memoryJournal) ListRecent(_ context.Context, limit int) ([]*journal.Entry, error) {
	return j.entries, nil
}

type memoryDeadLetters struct {
	entries []*deadletter.Entry
}

func (d *memoryDeadLetters) Push(_ context.Context, e *deadletter.Entry) error {
	d.entries = append(d.entries, e)
	return nil
}

func (d *memoryDeadLetters) List(_ context.Context, limit int) ([]*deadletter.Entry, error) {
	return d.entries, nil
}

type harness struct {
	state   *correlation.State
	ingress *ingress.Ingress
	sink    *scriptedSink
	journal *memoryJournal
	dead    *memoryDeadLetters
	poller  *CorrelationPoller
}

func newHarness(cfg PollerConfig, responses ...response) *harness {
	h := &harness{
		state:   correlation.NewState(),
		sink:    &scriptedSink{responses: responses},
		journal: &memoryJournal{},
		dead:    &memoryDeadLetters{},
	}
	h.ingress = ingress.New(h.state, ingress.Config{
		ItemTopic:          "items",
		PaymentTopic:       "payments/rpi-01",
		PaymentClockOffset: 0,
	}, discard)
	fwd := NewForwarder(h.state, h.sink, h.journal, time.Second, discard)
	h.poller = NewCorrelationPoller(h.state, fwd, h.dead, cfg, discard)
	return h
}

func TestRunCycle_EndToEnd(t *testing.T) {
	h := newHarness(PollerConfig{})

	h.ingress.Handle("items", []byte(`{"item_list":[1,2,3],"time_stamp":"2024-05-14 10:00:00"}`))
	h.ingress.Handle("payments/rpi-01", []byte(`{"transactionId":"tx1","count":3,"createdAt":"2024-05-14 09:59:59"}`))

	res := h.poller.RunCycle(context.Background())

	assert.Equal(t, 1, res.Linked)
	assert.Equal(t, 1, res.Accepted)
	assert.Equal(t, []string{`{"id":"tx1","items":[1,2,3]}`}, h.sink.bodies)

	txs, batches, linked := h.state.Counts()
	assert.Zero(t, txs)
	assert.Zero(t, batches)
	assert.Zero(t, linked)

	require.Len(t, h.journal.entries, 1)
	assert.Equal(t, "tx1", h.journal.entries[0].TransactionID)
	assert.Equal(t, []string{"1", "2", "3"}, h.journal.entries[0].Items)
	assert.Equal(t, 1, h.journal.entries[0].Attempts)
}

func TestRunCycle_RetryUntilAccepted(t *testing.T) {
	h := newHarness(PollerConfig{},
		response{accepted: false},
		response{err: errors.New("connection refused")},
		response{err: context.DeadlineExceeded},
	)

	h.ingress.Handle("payments/rpi-01", []byte(`{"transactionId":7,"count":2,"createdAt":"2024-05-14 10:00:00"}`))
	h.ingress.Handle("items", []byte(`{"item_list":["a","b"],"time_stamp":"2024-05-14 10:00:03"}`))

	for i := 0; i < 3; i++ {
		res := h.poller.RunCycle(context.Background())
		assert.Equal(t, 1, res.Failed)

		txs, batches, linked := h.state.Counts()
		assert.Equal(t, 1, txs, "transaction must stay until accepted")
		assert.Zero(t, batches, "batch leaves pending as soon as it is matched")
		assert.Equal(t, 1, linked)
	}

	res := h.poller.RunCycle(context.Background())
	assert.Equal(t, 1, res.Accepted)
	assert.Zero(t, res.Linked, "no new pair is created on retries")

	require.Len(t, h.sink.bodies, 4)
	for _, body := range h.sink.bodies {
		assert.JSONEq(t, `{"id":7,"items":["a","b"]}`, body)
	}

	txs, batches, linked := h.state.Counts()
	assert.Zero(t, txs)
	assert.Zero(t, batches)
	assert.Zero(t, linked)

	require.Len(t, h.journal.entries, 1)
	assert.Equal(t, 4, h.journal.entries[0].Attempts)

	h.poller.RunCycle(context.Background())
	assert.Len(t, h.sink.bodies, 4, "accepted pair is never sent again")
}

func TestRunCycle_RetryWithoutPendingBatches(t *testing.T) {
	h := newHarness(PollerConfig{}, response{accepted: false})

	h.ingress.Handle("payments/rpi-01", []byte(`{"transactionId":"x","count":1,"createdAt":"2024-05-14 10:00:00"}`))
	h.ingress.Handle("items", []byte(`{"item_list":[9],"time_stamp":"2024-05-14 10:00:03"}`))

	h.poller.RunCycle(context.Background())
	_, batches, linked := h.state.Counts()
	require.Zero(t, batches)
	require.Equal(t, 1, linked)

	res := h.poller.RunCycle(context.Background())
	assert.Equal(t, 1, res.Accepted)
}

func TestRunCycle_OrderingTieBreak(t *testing.T) {
	h := newHarness(PollerConfig{})

	h.ingress.Handle("items", []byte(`{"item_list":["d","e","f"],"time_stamp":"2024-05-14 10:00:20"}`))
	h.ingress.Handle("payments/rpi-01", []byte(`{"transactionId":"T2","count":3,"createdAt":"2024-05-14 10:00:05"}`))
	h.ingress.Handle("items", []byte(`{"item_list":["a","b","c"],"time_stamp":"2024-05-14 10:00:10"}`))
	h.ingress.Handle("payments/rpi-01", []byte(`{"transactionId":"T1","count":3,"createdAt":"2024-05-14 10:00:00"}`))

	h.poller.RunCycle(context.Background())

	assert.Equal(t, []string{
		`{"id":"T1","items":["a","b","c"]}`,
		`{"id":"T2","items":["d","e","f"]}`,
	}, h.sink.bodies)
}

func TestRunCycle_UnmatchedTransactionRetained(t *testing.T) {
	h := newHarness(PollerConfig{})
	h.ingress.Handle("payments/rpi-01", []byte(`{"transactionId":"five","count":5,"createdAt":"2024-05-14 10:00:00"}`))

	for i := 0; i < 20; i++ {
		h.ingress.Handle("items", []byte(`{"item_list":[1,2],"time_stamp":"2024-05-14 10:00:30"}`))
		h.poller.RunCycle(context.Background())
	}

	snap := h.state.Snapshot()
	require.Len(t, snap.Transactions, 1)
	assert.Equal(t, association.StringID("five"), snap.Transactions[0].ID)
	assert.Len(t, snap.Batches, 20)
	assert.Empty(t, h.sink.bodies)
}

func TestRunCycle_JournalFailureDoesNotUndoForward(t *testing.T) {
	h := newHarness(PollerConfig{})
	h.journal.err = errors.New("db down")

	h.ingress.Handle("payments/rpi-01", []byte(`{"transactionId":"j","count":1,"createdAt":"2024-05-14 10:00:00"}`))
	h.ingress.Handle("items", []byte(`{"item_list":[1],"time_stamp":"2024-05-14 10:00:01"}`))

	res := h.poller.RunCycle(context.Background())

	assert.Equal(t, 1, res.Accepted)
	txs, _, linked := h.state.Counts()
	assert.Zero(t, txs)
	assert.Zero(t, linked)
}

func TestRunCycle_EvictsStaleEvents(t *testing.T) {
	h := newHarness(PollerConfig{MaxPendingAge: time.Minute})

	h.ingress.Handle("payments/rpi-01", []byte(`{"transactionId":"lonely","count":4,"createdAt":"2024-05-14 10:00:00"}`))
	h.ingress.Handle("items", []byte(`{"item_list":[1],"time_stamp":"2024-05-14 10:00:01"}`))

	h.poller.now = func() time.Time { return time.Now().Add(30 * time.Second) }
	res := h.poller.RunCycle(context.Background())
	assert.Zero(t, res.EvictedTx)
	assert.Zero(t, res.EvictedBatches)

	h.poller.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	res = h.poller.RunCycle(context.Background())
	assert.Equal(t, 1, res.EvictedTx)
	assert.Equal(t, 1, res.EvictedBatches)

	require.Len(t, h.dead.entries, 2)
	assert.Equal(t, deadletter.KindTransaction, h.dead.entries[0].Kind)
	assert.Contains(t, string(h.dead.entries[0].Event), `"lonely"`)
	assert.Equal(t, deadletter.KindItemBatch, h.dead.entries[1].Kind)
}

func TestRun_StopsOnFlagAndContext(t *testing.T) {
	h := newHarness(PollerConfig{Interval: 5 * time.Millisecond})

	done := make(chan error, 1)
	go func() { done <- h.poller.Run(context.Background()) }()

	require.Eventually(t, h.poller.Enabled, time.Second, time.Millisecond)
	h.poller.Stop()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("poller did not stop after Stop")
	}

	h = newHarness(PollerConfig{Interval: 5 * time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	go func() { done <- h.poller.Run(ctx) }()
	require.Eventually(t, h.poller.Enabled, time.Second, time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("poller did not stop after cancel")
	}
	assert.False(t, h.poller.Enabled())
}

func TestRun_StopBeforeRunIsHonoured(t *testing.T) {
	h := newHarness(PollerConfig{Interval: 5 * time.Millisecond})
	h.poller.Stop()

	done := make(chan error, 1)
	go func() { done <- h.poller.Run(context.Background()) }()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(500 * time.Millisecond):
		t.Fatal("Run ignored a Stop issued before it started")
	}
	assert.False(t, h.poller.Enabled())
}

func TestRun_ForwardsConcurrentIngestion(t *testing.T) {
	h := newHarness(PollerConfig{Interval: 2 * time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- h.poller.Run(ctx) }()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 20; i++ {
			h.ingress.Handle("payments/rpi-01", []byte(`{"transactionId":"t","count":1,"createdAt":"2024-05-14 10:00:00"}`))
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 20; i++ {
			h.ingress.Handle("items", []byte(`{"item_list":[1],"time_stamp":"2024-05-14 10:00:01"}`))
		}
	}()
	wg.Wait()

	require.Eventually(t, func() bool {
		txs, batches, linked := h.state.Counts()
		return txs == 0 && batches == 0 && linked == 0
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	<-done

	h.sink.mu.Lock()
	defer h.sink.mu.Unlock()
	assert.Len(t, h.sink.bodies, 20)
}
