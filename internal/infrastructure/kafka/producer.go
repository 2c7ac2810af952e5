package kafka

import (
	"context"
	"fmt"
	"time"

	"github.com/etiennerc-wobz/payement-item-association/internal/transport"

	"github.com/segmentio/kafka-go"
)

type ProducerConfig struct {
	Brokers []string
}

// Producer writes to whatever topic each Publish names.
type Producer struct {
	writer *kafka.Writer
}

var _ transport.Publisher = (*Producer)(nil)

func NewProducer(cfg ProducerConfig) *Producer {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Balancer:               &kafka.Hash{},
		MaxAttempts:            5,
		ReadTimeout:            10 * time.Second,
		WriteTimeout:           10 * time.Second,
		Async:                  false,
		AllowAutoTopicCreation: true,
	}

	return &Producer{writer: w}
}

func (p *Producer) Publish(ctx context.Context, topic string, payload []byte) error {
	err := p.writer.WriteMessages(ctx,
		kafka.Message{
			Topic: topic,
			Value: payload,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	return nil
}

func (p *Producer) Close() error {
	return p.writer.Close()
}
