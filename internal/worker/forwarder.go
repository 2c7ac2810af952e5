package worker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/etiennerc-wobz/payement-item-association/internal/correlation"
	"github.com/etiennerc-wobz/payement-item-association/internal/domain/association"
	"github.com/etiennerc-wobz/payement-item-association/internal/domain/journal"
)

// Sink is the downstream service. Submit reports true only when the service
// accepted the association.
type Sink interface {
	Submit(ctx context.Context, a association.Association) (bool, error)
}

type FlushResult struct {
	Accepted int
	Failed   int
}

// Forwarder pushes linked pairs to the sink. A pair leaves the state only
// after the sink accepted it; anything else leaves it for the next flush.
type Forwarder struct {
	state   *correlation.State
	sink    Sink
	journal journal.Repository
	timeout time.Duration
	now     func() time.Time
	logger  *slog.Logger
}

// NewForwarder builds a forwarder. journalRepo may be nil.
func NewForwarder(state *correlation.State, sink Sink, journalRepo journal.Repository, timeout time.Duration, logger *slog.Logger) *Forwarder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Forwarder{
		state:   state,
		sink:    sink,
		journal: journalRepo,
		timeout: timeout,
		now:     time.Now,
		logger:  logger,
	}
}

// Flush submits every pair in pairs. pairs must be a copy: accepted pairs are
// removed from the state while iterating.
func (f *Forwarder) Flush(ctx context.Context, pairs []*association.LinkedPair) FlushResult {
	var res FlushResult

	for _, pair := range pairs {
		if ctx.Err() != nil {
			break
		}
		if f.forward(ctx, pair) {
			res.Accepted++
		} else {
			res.Failed++
		}
	}

	return res
}

func (f *Forwarder) forward(ctx context.Context, pair *association.LinkedPair) bool {
	payload := pair.Association()
	attempt := f.state.RecordAttempt(pair)

	f.logger.Debug("sending association",
		"pair_id", pair.ID,
		"transaction_id", payload.ID.String(),
		"items", len(payload.Items),
		"attempt", attempt,
	)

	sendCtx, cancel := context.WithTimeout(ctx, f.timeout)
	started := time.Now()
	accepted, err := f.sink.Submit(sendCtx, payload)
	forwardDuration.Observe(time.Since(started).Seconds())
	cancel()

	if err != nil {
		reason := "error"
		if errors.Is(err, context.DeadlineExceeded) {
			reason = "timeout"
		}
		forwardErrors.WithLabelValues(reason).Inc()
		f.logger.Error("failed to forward association",
			"pair_id", pair.ID,
			"transaction_id", payload.ID.String(),
			"attempt", attempt,
			"error", err,
		)
		return false
	}
	if !accepted {
		forwardErrors.WithLabelValues("rejected").Inc()
		f.logger.Warn("association rejected by downstream",
			"pair_id", pair.ID,
			"transaction_id", payload.ID.String(),
			"attempt", attempt,
		)
		return false
	}

	if !f.state.Complete(pair) {
		f.logger.Warn("forwarded pair was no longer linked", "pair_id", pair.ID)
		return true
	}
	pairsForwarded.Inc()

	f.logger.Info("association forwarded",
		"pair_id", pair.ID,
		"transaction_id", payload.ID.String(),
		"items", len(payload.Items),
		"attempts", attempt,
	)

	f.record(ctx, pair, attempt)
	return true
}

func (f *Forwarder) record(ctx context.Context, pair *association.LinkedPair, attempts int) {
	if f.journal == nil {
		return
	}

	items := make([]string, len(pair.Batch.Items))
	for i, it := range pair.Batch.Items {
		items[i] = it.String()
	}

	entry := &journal.Entry{
		PairID:        pair.ID,
		TransactionID: pair.Transaction.ID.String(),
		Quantity:      pair.Transaction.Quantity,
		Items:         items,
		OccurredAt:    pair.Transaction.OccurredAt,
		ObservedAt:    pair.Batch.ObservedAt,
		Attempts:      attempts,
		ForwardedAt:   f.now().UTC(),
	}

	recordCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := f.journal.Record(recordCtx, entry); err != nil {
		f.logger.Error("failed to journal association", "pair_id", pair.ID, "error", err)
	}
}
