package parser

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/shopspring/decimal"
)

// Display holds the presentation strings for a transaction.
type Display struct {
	Amount         string  `json:"amount"`
	Balance        *string `json:"balance,omitempty"`
	Fee            string  `json:"fee"`
	TypeLabel      string  `json:"type_label"`
	Reference      *string `json:"reference,omitempty"`
	MpesaReference *string `json:"mpesa_reference,omitempty"`
	DateLabel      string  `json:"date_label"`
}

// Currency returns the prefix a provider's own messages use.
func Currency(p Provider) string {
	if p == ProviderMpesa {
		return "Ksh"
	}
	return "KES"
}

// FormatMoney renders d as "Ksh 1,234.00".
func FormatMoney(currency string, d decimal.Decimal) string {
	return currency + " " + humanize.FormatFloat("#,###.##", d.Round(2).InexactFloat64())
}

// Format renders tx for display. It does not modify tx.
func Format(tx *Transaction) Display {
	cur := Currency(tx.Provider)
	d := Display{
		Amount:    FormatMoney(cur, tx.Amount),
		Fee:       "Free",
		TypeLabel: "Sent",
		DateLabel: fmt.Sprintf("%s %s, %d", humanize.Ordinal(tx.Timestamp.Day()), tx.Timestamp.Month(), tx.Timestamp.Year()),
	}
	if tx.Type == TypeIncome {
		d.TypeLabel = "Received"
	}
	if !tx.Fee.IsZero() {
		d.Fee = FormatMoney(cur, tx.Fee)
	}
	if tx.NewBalance != nil {
		d.Balance = strPtr(FormatMoney(cur, *tx.NewBalance))
	}

	switch tx.Provider {
	case ProviderLoop:
		if tx.LoopRef != nil {
			d.Reference = strPtr("LOOP: " + *tx.LoopRef)
		}
		if tx.MpesaRef != nil {
			d.MpesaReference = strPtr("M-Pesa: " + *tx.MpesaRef)
		}
	default:
		if tx.Reference != nil {
			d.Reference = strPtr("Ref: " + *tx.Reference)
		}
	}
	return d
}
