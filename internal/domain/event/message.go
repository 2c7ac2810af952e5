package event

import (
	"github.com/etiennerc-wobz/payement-item-association/internal/domain/association"
)

// TimestampLayout is the clock format used by both device streams.
const TimestampLayout = "2006-01-02 15:04:05"

// ItemBatchMessage is the payload published on the item topic by the scanner.
type ItemBatchMessage struct {
	ItemList  []association.Identifier `json:"item_list"`
	TimeStamp string                   `json:"time_stamp"`
}

// PaymentMessage is the payload published on the per-device payment topic.
// Count is a pointer so a missing field can be told apart from zero.
type PaymentMessage struct {
	TransactionID association.Identifier `json:"transactionId"`
	Count         *int                   `json:"count"`
	CreatedAt     string                 `json:"createdAt"`
}
