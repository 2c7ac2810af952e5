package association

import (
	"time"
)

// Transaction is a payment reported by the payment terminal.
// OccurredAt is already normalized to the scanner clock.
type Transaction struct {
	ID         Identifier `json:"id"`
	Quantity   int        `json:"quantity"`
	OccurredAt time.Time  `json:"occurred_at"`
	ReceivedAt time.Time  `json:"received_at"`
}

// ItemBatch is one read of the item scanner.
type ItemBatch struct {
	Items      []Identifier `json:"items"`
	ObservedAt time.Time    `json:"observed_at"`
	ReceivedAt time.Time    `json:"received_at"`
}

// LinkedPair is a transaction matched to the batch believed to hold its items.
type LinkedPair struct {
	ID          string       `json:"id"`
	Transaction *Transaction `json:"transaction"`
	Batch       *ItemBatch   `json:"batch"`
	Forwarded   bool         `json:"forwarded"`
	Attempts    int          `json:"attempts"`
	LinkedAt    time.Time    `json:"linked_at"`
}

// Association is the body posted to the downstream service.
type Association struct {
	ID    Identifier   `json:"id"`
	Items []Identifier `json:"items"`
}

func (p *LinkedPair) Association() Association {
	items := make([]Identifier, len(p.Batch.Items))
	copy(items, p.Batch.Items)

	return Association{
		ID:    p.Transaction.ID,
		Items: items,
	}
}
