package db

import (
	"fmt"
	"strings"
	"time"

	"github.com/brojonat/pesalog/service/parser"
	"github.com/shopspring/decimal"
)

const (
	TypeIncome  = string(parser.TypeIncome)
	TypeExpense = string(parser.TypeExpense)

	SourceSMS    = "sms"
	SourceManual = "manual"

	// minMpesaRefLen is the shortest M-Pesa receipt a LOOP record may carry.
	minMpesaRefLen = 10
)

// ValidationError reports a record rejected before reaching the database.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func invalid(field, format string, args ...interface{}) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// CreateTransactionParams contains the parameters for creating a transaction.
type CreateTransactionParams struct {
	UserID      string
	Provider    string
	ExternalID  string
	Type        string
	Title       string
	Party       string
	Category    *string
	Amount      decimal.Decimal
	Fee         decimal.Decimal
	NewBalance  *decimal.Decimal
	DisplayDate string
	DisplayTime string
	OccurredAt  time.Time
	Reference   *string
	LoopRef     *string
	MpesaRef    *string
	Source      string
	RawBody     *string
}

// Validate checks the fields the database cannot enforce with a useful message.
func (p *CreateTransactionParams) Validate() error {
	if strings.TrimSpace(p.UserID) == "" {
		return invalid("user_id", "is required")
	}
	if !parser.Provider(p.Provider).Valid() {
		return invalid("provider", "unknown provider %q", p.Provider)
	}
	if strings.TrimSpace(p.ExternalID) == "" {
		return invalid("id", "is required")
	}
	if !parser.TxType(p.Type).Valid() {
		return invalid("type", "must be income or expense")
	}
	if strings.TrimSpace(p.Title) == "" {
		return invalid("title", "is required")
	}
	if p.Amount.IsNegative() {
		return invalid("amount", "cannot be negative")
	}
	if p.Fee.IsNegative() {
		return invalid("fee", "cannot be negative")
	}
	if p.OccurredAt.IsZero() {
		return invalid("timestamp", "is required")
	}
	if p.Source != "" && p.Source != SourceSMS && p.Source != SourceManual {
		return invalid("source", "must be sms or manual")
	}
	if p.Provider == string(parser.ProviderLoop) && p.MpesaRef != nil && len(*p.MpesaRef) < minMpesaRefLen {
		return invalid("mpesa_ref", "must be at least %d characters", minMpesaRefLen)
	}
	return nil
}

// ParamsFromParsed maps a parsed SMS transaction onto insert parameters.
func ParamsFromParsed(userID string, tx *parser.Transaction) CreateTransactionParams {
	p := CreateTransactionParams{
		UserID:      userID,
		Provider:    string(tx.Provider),
		ExternalID:  tx.ID,
		Type:        string(tx.Type),
		Title:       tx.Title,
		Party:       tx.Party,
		Amount:      tx.Amount,
		Fee:         tx.Fee,
		NewBalance:  tx.NewBalance,
		DisplayDate: tx.Date,
		DisplayTime: tx.Time,
		OccurredAt:  tx.Timestamp,
		Reference:   tx.Reference,
		LoopRef:     tx.LoopRef,
		MpesaRef:    tx.MpesaRef,
		Source:      SourceSMS,
	}
	if tx.Body != "" {
		body := tx.Body
		p.RawBody = &body
	}
	return p
}
