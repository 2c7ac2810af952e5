package usecase

import (
	"context"
	"fmt"

	"github.com/etiennerc-wobz/payement-item-association/internal/ingress"
)

type EventIngester interface {
	IngestTransaction(payload []byte) error
	IngestItemBatch(payload []byte) error
}

// IngestEvent feeds an event received over HTTP into the same ingress as the
// broker messages.
type IngestEvent struct {
	ingress EventIngester
}

func NewIngestEvent(in EventIngester) *IngestEvent {
	return &IngestEvent{ingress: in}
}

func (uc *IngestEvent) Execute(ctx context.Context, channel string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	switch channel {
	case ingress.ChannelPayments:
		return uc.ingress.IngestTransaction(payload)
	case ingress.ChannelItems:
		return uc.ingress.IngestItemBatch(payload)
	default:
		return fmt.Errorf("%w: channel %s", ingress.ErrUnknownTopic, channel)
	}
}
