package ingress

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/etiennerc-wobz/payement-item-association/internal/domain/association"
	"github.com/etiennerc-wobz/payement-item-association/internal/domain/event"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	ChannelPayments = "payments"
	ChannelItems    = "items"
)

var (
	ErrMalformedPayload = errors.New("malformed payload")
	ErrUnknownTopic     = errors.New("unknown topic")
)

var (
	eventsIngested = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "associator_ingress_events_total",
		Help: "The total number of events appended to the pending buffers",
	}, []string{"channel"})
	eventsMalformed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "associator_ingress_malformed_total",
		Help: "The total number of payloads dropped because they could not be parsed",
	}, []string{"channel"})
	duplicateTransactions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "associator_ingress_duplicate_transactions_total",
		Help: "The total number of transactions whose id was already pending",
	})
)

// Buffer is where parsed events go. correlation.State implements it.
type Buffer interface {
	AppendTransaction(tx *association.Transaction) (duplicate bool)
	AppendBatch(batch *association.ItemBatch)
}

type Config struct {
	ItemTopic    string
	PaymentTopic string
	// PaymentClockOffset is added to every payment createdAt to bring it onto
	// the scanner clock.
	PaymentClockOffset time.Duration
}

type Ingress struct {
	buffer Buffer
	cfg    Config
	now    func() time.Time
	logger *slog.Logger
}

func New(buffer Buffer, cfg Config, logger *slog.Logger) *Ingress {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ingress{
		buffer: buffer,
		cfg:    cfg,
		now:    time.Now,
		logger: logger,
	}
}

// Topics returns the topics to subscribe to.
func (in *Ingress) Topics() []string {
	return []string{in.cfg.ItemTopic, in.cfg.PaymentTopic}
}

// Handle routes a transport message to the right channel. Errors are logged
// and the message dropped; Handle never panics on bad input.
func (in *Ingress) Handle(topic string, payload []byte) {
	var err error
	switch topic {
	case in.cfg.ItemTopic:
		err = in.IngestItemBatch(payload)
	case in.cfg.PaymentTopic:
		err = in.IngestTransaction(payload)
	default:
		err = fmt.Errorf("%w: %s", ErrUnknownTopic, topic)
	}

	if err != nil {
		in.logger.Warn("dropping message", "topic", topic, "error", err)
	}
}

func (in *Ingress) IngestTransaction(payload []byte) error {
	tx, err := ParseTransaction(payload, in.cfg.PaymentClockOffset)
	if err != nil {
		eventsMalformed.WithLabelValues(ChannelPayments).Inc()
		return err
	}
	tx.ReceivedAt = in.now()

	if dup := in.buffer.AppendTransaction(tx); dup {
		duplicateTransactions.Inc()
		in.logger.Warn("transaction id already pending", "transaction_id", tx.ID.String())
	}
	eventsIngested.WithLabelValues(ChannelPayments).Inc()

	in.logger.Info("payment received",
		"transaction_id", tx.ID.String(),
		"quantity", tx.Quantity,
		"occurred_at", tx.OccurredAt.Format(event.TimestampLayout),
	)
	return nil
}

func (in *Ingress) IngestItemBatch(payload []byte) error {
	batch, err := ParseItemBatch(payload)
	if err != nil {
		eventsMalformed.WithLabelValues(ChannelItems).Inc()
		return err
	}
	batch.ReceivedAt = in.now()

	in.buffer.AppendBatch(batch)
	eventsIngested.WithLabelValues(ChannelItems).Inc()

	in.logger.Info("items received",
		"count", len(batch.Items),
		"observed_at", batch.ObservedAt.Format(event.TimestampLayout),
	)
	return nil
}

// ParseTransaction decodes a payment message and shifts createdAt by offset.
func ParseTransaction(payload []byte, offset time.Duration) (*association.Transaction, error) {
	var msg event.PaymentMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return nil, fmt.Errorf("%w: decode payment: %v", ErrMalformedPayload, err)
	}
	if msg.TransactionID.IsZero() {
		return nil, fmt.Errorf("%w: missing transactionId", ErrMalformedPayload)
	}
	if msg.Count == nil {
		return nil, fmt.Errorf("%w: missing count", ErrMalformedPayload)
	}
	if *msg.Count < 0 {
		return nil, fmt.Errorf("%w: negative count %d", ErrMalformedPayload, *msg.Count)
	}

	createdAt, err := parseTimestamp(msg.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("%w: createdAt: %v", ErrMalformedPayload, err)
	}

	return &association.Transaction{
		ID:         msg.TransactionID,
		Quantity:   *msg.Count,
		OccurredAt: createdAt.Add(offset),
	}, nil
}

func ParseItemBatch(payload []byte) (*association.ItemBatch, error) {
	var msg event.ItemBatchMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return nil, fmt.Errorf("%w: decode items: %v", ErrMalformedPayload, err)
	}
	if msg.ItemList == nil {
		return nil, fmt.Errorf("%w: missing item_list", ErrMalformedPayload)
	}
	for i, item := range msg.ItemList {
		if item.IsZero() {
			return nil, fmt.Errorf("%w: item %d is null", ErrMalformedPayload, i)
		}
	}

	observedAt, err := parseTimestamp(msg.TimeStamp)
	if err != nil {
		return nil, fmt.Errorf("%w: time_stamp: %v", ErrMalformedPayload, err)
	}

	return &association.ItemBatch{
		Items:      msg.ItemList,
		ObservedAt: observedAt,
	}, nil
}

func parseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, errors.New("missing")
	}
	return time.ParseInLocation(event.TimestampLayout, s, time.UTC)
}
