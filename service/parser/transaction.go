package parser

import (
	"time"

	"github.com/shopspring/decimal"
)

// Provider identifies the service whose SMS grammar produced a transaction.
type Provider string

const (
	ProviderMpesa Provider = "mpesa"
	ProviderKCB   Provider = "kcb"
	ProviderLoop  Provider = "loop"

	// ProviderManual marks hand-entered records. No parser produces it.
	ProviderManual Provider = "manual"
)

// Valid reports whether p is a known provider.
func (p Provider) Valid() bool {
	switch p {
	case ProviderMpesa, ProviderKCB, ProviderLoop, ProviderManual:
		return true
	}
	return false
}

// TxType is the direction of money flow from the account holder's perspective.
type TxType string

const (
	TypeIncome  TxType = "income"
	TypeExpense TxType = "expense"
)

// Valid reports whether t is income or expense.
func (t TxType) Valid() bool {
	return t == TypeIncome || t == TypeExpense
}

// UnknownParty is used when no counterparty can be extracted.
const UnknownParty = "Unknown"

// Transaction is a normalized record parsed from a single SMS body.
//
// Absence policies: NewBalance nil means unknown balance, Fee zero means no fee
// charged, Party falls back to UnknownParty, Date and Time are empty when the
// message carries no timestamp and Timestamp is then the parse time.
type Transaction struct {
	ID        string          `json:"id"`
	Provider  Provider        `json:"provider"`
	Type      TxType          `json:"type"`
	Title     string          `json:"title"`
	Party     string          `json:"party"`
	Amount    decimal.Decimal `json:"amount"`
	Date      string          `json:"date"`
	Time      string          `json:"time"`
	Timestamp time.Time       `json:"timestamp"`
	Fee       decimal.Decimal `json:"fee"`

	NewBalance *decimal.Decimal `json:"new_balance,omitempty"` // M-Pesa only
	Reference  *string          `json:"reference,omitempty"`
	LoopRef    *string          `json:"loop_ref,omitempty"`  // LOOP only
	MpesaRef   *string          `json:"mpesa_ref,omitempty"` // LOOP only

	Body string `json:"body,omitempty"`
}

// HasReference reports whether the ID is a provider-issued reference rather
// than a generated fallback.
func (t *Transaction) HasReference() bool {
	return t.Reference != nil
}

// Parser turns one provider's SMS body into a Transaction.
// Parse returns nil when the body is not a recognized transaction.
type Parser interface {
	Provider() Provider
	Parse(body string) *Transaction
}
