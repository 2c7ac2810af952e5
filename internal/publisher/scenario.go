package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/etiennerc-wobz/payement-item-association/internal/domain/association"
	"github.com/etiennerc-wobz/payement-item-association/internal/domain/event"
	"github.com/etiennerc-wobz/payement-item-association/internal/transport"

	"github.com/google/uuid"
)

// Step is one message of a scenario.
type Step struct {
	Topic   string
	Payload []byte
}

type ScenarioConfig struct {
	ItemTopic    string
	PaymentTopic string
	// PaymentClockOffset is subtracted from the payment timestamps so they
	// land on the scanner clock once the service adds it back.
	PaymentClockOffset time.Duration
	// Start is the scanner-clock time of the first payment.
	Start time.Time
	// NewID generates transaction ids. Defaults to uuid v4.
	NewID func() string
}

// Scenario is a generated sample session together with the associations a
// correct service must forward for it.
type Scenario struct {
	Steps    []Step
	Expected []association.Association
}

// BuildScenario reproduces the bench session: three payments of three items,
// each followed two seconds later by its scan, published out of order so that
// scans arrive before their payment.
func BuildScenario(cfg ScenarioConfig) (*Scenario, error) {
	if cfg.NewID == nil {
		cfg.NewID = func() string { return uuid.New().String() }
	}
	if cfg.Start.IsZero() {
		cfg.Start = time.Now().UTC()
	}

	const sessions = 3

	payments := make([]Step, sessions)
	scans := make([]Step, sessions)
	expected := make([]association.Association, sessions)

	for i := 0; i < sessions; i++ {
		paidAt := cfg.Start.Add(time.Duration(4*i) * time.Second)
		scannedAt := paidAt.Add(2 * time.Second)

		id := association.StringID(cfg.NewID())
		count := sessions
		items := make([]association.Identifier, count)
		for j := range items {
			items[j] = association.NumberID(int64(10*(i+1) + j + 1))
		}

		payment, err := json.Marshal(event.PaymentMessage{
			TransactionID: id,
			Count:         &count,
			CreatedAt:     paidAt.Add(-cfg.PaymentClockOffset).Format(event.TimestampLayout),
		})
		if err != nil {
			return nil, fmt.Errorf("marshal payment: %w", err)
		}
		scan, err := json.Marshal(event.ItemBatchMessage{
			ItemList:  items,
			TimeStamp: scannedAt.Format(event.TimestampLayout),
		})
		if err != nil {
			return nil, fmt.Errorf("marshal items: %w", err)
		}

		payments[i] = Step{Topic: cfg.PaymentTopic, Payload: payment}
		scans[i] = Step{Topic: cfg.ItemTopic, Payload: scan}
		expected[i] = association.Association{ID: id, Items: items}
	}

	return &Scenario{
		Steps: []Step{
			scans[0],
			scans[1],
			payments[1],
			scans[2],
			payments[0],
			payments[2],
		},
		Expected: expected,
	}, nil
}

// Run publishes the steps in order, waiting spacing between two messages.
func Run(ctx context.Context, pub transport.Publisher, steps []Step, spacing time.Duration, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}

	for i, step := range steps {
		if i > 0 && spacing > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(spacing):
			}
		}

		if err := pub.Publish(ctx, step.Topic, step.Payload); err != nil {
			return fmt.Errorf("publish step %d: %w", i+1, err)
		}
		logger.Info("message published", "step", i+1, "topic", step.Topic, "payload", string(step.Payload))
	}

	return nil
}
