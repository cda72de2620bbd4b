// Package export writes parsed transactions to flat files.
package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/brojonat/pesalog/service/parser"
	"github.com/shopspring/decimal"
)

// Header is the column order of CSV exports.
var Header = []string{
	"id", "provider", "type", "title", "party",
	"amount", "fee", "balance",
	"date", "time", "timestamp",
	"reference", "loop_ref", "mpesa_ref",
}

// CSVWriter writes transactions as CSV.
type CSVWriter struct {
	// Comma overrides the field delimiter when non-zero.
	Comma rune
	// BOM prefixes a UTF-8 byte order mark for spreadsheet apps.
	BOM bool
}

// WriteFile writes txs to a new CSV file at path.
func (w *CSVWriter) WriteFile(path string, txs []*parser.Transaction) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create output file %q: %w", path, err)
	}
	defer f.Close()

	if err := w.Write(f, txs); err != nil {
		return err
	}
	return f.Close()
}

// Write writes a header row and one row per transaction, in the given order.
func (w *CSVWriter) Write(out io.Writer, txs []*parser.Transaction) error {
	if w.BOM {
		if _, err := out.Write([]byte{0xEF, 0xBB, 0xBF}); err != nil {
			return fmt.Errorf("failed to write BOM: %w", err)
		}
	}

	writer := csv.NewWriter(out)
	if w.Comma != 0 {
		writer.Comma = w.Comma
	}

	if err := writer.Write(Header); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}

	for _, tx := range txs {
		if err := writer.Write(Row(tx)); err != nil {
			return fmt.Errorf("failed to write CSV row for %s: %w", tx.ID, err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return fmt.Errorf("failed to flush CSV writer: %w", err)
	}
	return nil
}

// Row renders tx in Header order. Absent optional fields are empty.
func Row(tx *parser.Transaction) []string {
	return []string{
		tx.ID,
		string(tx.Provider),
		string(tx.Type),
		tx.Title,
		tx.Party,
		tx.Amount.StringFixed(2),
		tx.Fee.StringFixed(2),
		decimalOrEmpty(tx.NewBalance),
		tx.Date,
		tx.Time,
		tx.Timestamp.Format(time.RFC3339),
		stringOrEmpty(tx.Reference),
		stringOrEmpty(tx.LoopRef),
		stringOrEmpty(tx.MpesaRef),
	}
}

func decimalOrEmpty(d *decimal.Decimal) string {
	if d == nil {
		return ""
	}
	return d.StringFixed(2)
}

func stringOrEmpty(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
