// Package events carries ledger notifications to downstream consumers.
package events

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	TypeTransactionPosted   = "transaction.posted"
	TypeTransactionReversed = "transaction.reversed"
)

// LedgerEvent is emitted after a posting or reversal commits.
type LedgerEvent struct {
	Type          string          `json:"type"`
	TransactionID uuid.UUID       `json:"transactionId"`
	InstitutionID string          `json:"institutionId"`
	Number        string          `json:"number"`
	TotalAmount   decimal.Decimal `json:"totalAmount"`
	Currency      string          `json:"currency"`
	Actor         string          `json:"actor"`
	ReversalOf    *uuid.UUID      `json:"reversalOf,omitempty"`
	OccurredAt    time.Time       `json:"occurredAt"`
}
