package nats

import (
	"fmt"
	"time"

	"github.com/brojonat/pesalog/service/db"
	"github.com/shopspring/decimal"
)

// TransactionEvent represents a stored transaction published to NATS.
// This is published to the subject "txns.{provider}" in JetStream.
type TransactionEvent struct {
	// Transaction identifiers
	ID         int64  `json:"id"`
	ExternalID string `json:"external_id"`
	UserID     string `json:"user_id"`
	Provider   string `json:"provider"`

	// Transaction details
	Type      string          `json:"type"`
	Title     string          `json:"title"`
	Party     string          `json:"party"`
	Amount    decimal.Decimal `json:"amount"`
	Fee       decimal.Decimal `json:"fee"`
	Reference *string         `json:"reference,omitempty"`
	Source    string          `json:"source"`

	// Timing information
	OccurredAt time.Time `json:"occurred_at"`
	CreatedAt  time.Time `json:"created_at"`

	// Metadata
	PublishedAt time.Time `json:"published_at"`
}

// Subject returns the JetStream subject the event is published on.
func (e *TransactionEvent) Subject() string {
	return SubjectForProvider(e.Provider)
}

// SubjectForProvider returns "txns.{provider}", or the wildcard for "".
func SubjectForProvider(provider string) string {
	if provider == "" {
		return StreamSubjects
	}
	return fmt.Sprintf("txns.%s", provider)
}

// FromDBTransaction converts a database transaction to a TransactionEvent for publishing.
func FromDBTransaction(txn *db.Transaction) *TransactionEvent {
	return &TransactionEvent{
		ID:          txn.ID,
		ExternalID:  txn.ExternalID,
		UserID:      txn.UserID,
		Provider:    txn.Provider,
		Type:        txn.Type,
		Title:       txn.Title,
		Party:       txn.Party,
		Amount:      txn.Amount,
		Fee:         txn.Fee,
		Reference:   txn.Reference,
		Source:      txn.Source,
		OccurredAt:  txn.OccurredAt,
		CreatedAt:   txn.CreatedAt,
		PublishedAt: time.Now().UTC(),
	}
}
