package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/etiennerc-wobz/payement-item-association/internal/correlation"
	"github.com/etiennerc-wobz/payement-item-association/internal/domain/deadletter"
)

type PollerConfig struct {
	Interval time.Duration
	// MaxPendingAge evicts unlinked events older than this. Zero keeps them
	// forever.
	MaxPendingAge time.Duration
}

type CycleResult struct {
	Linked         int
	Accepted       int
	Failed         int
	EvictedTx      int
	EvictedBatches int
}

// CorrelationPoller runs the correlation cycle on a ticker: match the pending
// streams, then flush every linked pair to the downstream service.
type CorrelationPoller struct {
	state       *correlation.State
	forwarder   *Forwarder
	deadLetters deadletter.Store
	cfg         PollerConfig
	enabled     atomic.Bool
	stopped     atomic.Bool
	now         func() time.Time
	logger      *slog.Logger
}

// NewCorrelationPoller builds the poller. deadLetters may be nil, in which case
// evicted events are only logged.
func NewCorrelationPoller(state *correlation.State, forwarder *Forwarder, deadLetters deadletter.Store, cfg PollerConfig, logger *slog.Logger) *CorrelationPoller {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 200 * time.Millisecond
	}
	return &CorrelationPoller{
		state:       state,
		forwarder:   forwarder,
		deadLetters: deadLetters,
		cfg:         cfg,
		now:         time.Now,
		logger:      logger,
	}
}

// Run loops until ctx is cancelled or Stop is called. Stop is final: a Stop
// issued before Run makes Run return at once. The latch is checked at the top
// of each cycle; a running cycle always completes.
func (p *CorrelationPoller) Run(ctx context.Context) error {
	if p.stopped.Load() {
		p.logger.Info("correlation poller already stopped")
		return nil
	}

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	p.enabled.Store(true)
	defer p.enabled.Store(false)

	p.logger.Info("correlation poller started", "interval", p.cfg.Interval.String(), "max_pending_age", p.cfg.MaxPendingAge.String())

	for {
		if p.stopped.Load() {
			p.logger.Info("correlation poller disabled")
			return nil
		}

		select {
		case <-ctx.Done():
			p.logger.Info("correlation poller stopped")
			return nil
		case <-ticker.C:
			if p.stopped.Load() {
				p.logger.Info("correlation poller disabled")
				return nil
			}
			p.RunCycle(ctx)
		}
	}
}

// Stop disables the poller for good. Run returns at the next cycle boundary.
func (p *CorrelationPoller) Stop() {
	p.stopped.Store(true)
	p.enabled.Store(false)
}

func (p *CorrelationPoller) Enabled() bool {
	return p.enabled.Load() && !p.stopped.Load()
}

// RunCycle performs one correlation pass.
func (p *CorrelationPoller) RunCycle(ctx context.Context) CycleResult {
	var res CycleResult

	created := p.state.Correlate()
	res.Linked = len(created)
	if len(created) > 0 {
		pairsLinked.Add(float64(len(created)))
		for _, pair := range created {
			p.logger.Info("transaction associated with items",
				"pair_id", pair.ID,
				"transaction_id", pair.Transaction.ID.String(),
				"quantity", pair.Transaction.Quantity,
				"occurred_at", pair.Transaction.OccurredAt,
				"observed_at", pair.Batch.ObservedAt,
			)
		}
	}

	// Flush even when a pending collection is empty so retries never wait for new events.
	if pairs := p.state.Linked(); len(pairs) > 0 {
		flushed := p.forwarder.Flush(ctx, pairs)
		res.Accepted = flushed.Accepted
		res.Failed = flushed.Failed
	}

	if p.cfg.MaxPendingAge > 0 {
		res.EvictedTx, res.EvictedBatches = p.evict(ctx)
	}

	txs, batches, linked := p.state.Counts()
	pendingGauge.WithLabelValues("transactions").Set(float64(txs))
	pendingGauge.WithLabelValues("batches").Set(float64(batches))
	pendingGauge.WithLabelValues("linked").Set(float64(linked))

	return res
}

func (p *CorrelationPoller) evict(ctx context.Context) (int, int) {
	now := p.now()
	txs, batches := p.state.Evict(now.Add(-p.cfg.MaxPendingAge))
	if len(txs) == 0 && len(batches) == 0 {
		return 0, 0
	}

	reason := "no counterpart within " + p.cfg.MaxPendingAge.String()
	for _, tx := range txs {
		eventsEvicted.WithLabelValues(deadletter.KindTransaction).Inc()
		p.deadLetter(ctx, deadletter.KindTransaction, reason, tx, now)
	}
	for _, b := range batches {
		eventsEvicted.WithLabelValues(deadletter.KindItemBatch).Inc()
		p.deadLetter(ctx, deadletter.KindItemBatch, reason, b, now)
	}

	return len(txs), len(batches)
}

func (p *CorrelationPoller) deadLetter(ctx context.Context, kind, reason string, ev any, now time.Time) {
	body, err := json.Marshal(ev)
	if err != nil {
		p.logger.Error("failed to marshal evicted event", "kind", kind, "error", err)
		return
	}

	p.logger.Warn("evicting pending event", "kind", kind, "reason", reason, "event", string(body))

	if p.deadLetters == nil {
		return
	}

	entry := &deadletter.Entry{
		Kind:      kind,
		Reason:    reason,
		Event:     body,
		EvictedAt: now.UTC(),
	}
	if err := p.deadLetters.Push(ctx, entry); err != nil {
		p.logger.Error("failed to push dead letter", "kind", kind, "error", err)
	}
}
