package kafka

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/etiennerc-wobz/payement-item-association/internal/transport"

	"github.com/segmentio/kafka-go"
)

const fetchRetryDelay = 1 * time.Second

type ConsumerConfig struct {
	Brokers []string
	GroupID string
	// StartOffset is used when the group has no committed offset yet:
	// "earliest" (default) or "latest".
	StartOffset string
}

// Consumer delivers messages of one consumer group to a transport.Handler.
// Offsets are committed after the handler returns; ingestion never fails a
// message, malformed ones are dropped by the handler itself.
type Consumer struct {
	cfg    ConsumerConfig
	logger *slog.Logger

	mu     sync.Mutex
	reader *kafka.Reader
	cancel context.CancelFunc
	done   chan struct{}
}

var _ transport.Subscriber = (*Consumer)(nil)

func NewConsumer(cfg ConsumerConfig, logger *slog.Logger) *Consumer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Consumer{cfg: cfg, logger: logger}
}

func (c *Consumer) Subscribe(ctx context.Context, topics []string, h transport.Handler) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.reader != nil {
		return errors.New("kafka consumer already subscribed")
	}

	startOffset := kafka.FirstOffset
	if strings.EqualFold(strings.TrimSpace(c.cfg.StartOffset), "latest") {
		startOffset = kafka.LastOffset
	}

	dialer := &kafka.Dialer{
		Timeout:   10 * time.Second,
		DualStack: false,
	}

	c.reader = kafka.NewReader(kafka.ReaderConfig{
		Brokers:     c.cfg.Brokers,
		GroupID:     c.cfg.GroupID,
		GroupTopics: topics,
		MinBytes:    1,
		MaxBytes:    10e6,
		MaxWait:     1 * time.Second,
		Dialer:      dialer,
		StartOffset: startOffset,
	})

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c.cancel = cancel
	c.done = make(chan struct{})

	go c.run(runCtx, c.reader, h)

	c.logger.Info("kafka consumer started", "topics", topics, "group_id", c.cfg.GroupID)
	return nil
}

func (c *Consumer) run(ctx context.Context, reader *kafka.Reader, h transport.Handler) {
	defer close(c.done)

	for {
		msg, err := reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Error("failed to fetch message", "error", err)
			if !pause(ctx, fetchRetryDelay) {
				return
			}
			continue
		}

		h(msg.Topic, msg.Value)

		if err := reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			c.logger.Error("failed to commit kafka message", "topic", msg.Topic, "offset", msg.Offset, "error", err)
		}
	}
}

// pause waits d or until ctx is done. It reports whether the full delay elapsed.
func pause(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func (c *Consumer) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.reader == nil {
		return nil
	}

	c.cancel()
	<-c.done

	if err := c.reader.Close(); err != nil {
		return fmt.Errorf("close kafka reader: %w", err)
	}
	c.reader = nil
	return nil
}
