package db

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/brojonat/pesalog/service/db/dbgen"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when a transaction does not exist for the user.
var ErrNotFound = errors.New("transaction not found")

// Store provides database operations for the service.
// It wraps the generated sqlc Querier interface with a concrete implementation.
type Store struct {
	pool *pgxpool.Pool
	q    *dbgen.Queries
}

// NewStore creates a new Store with the given database connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{
		pool: pool,
		q:    dbgen.New(pool),
	}
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Transaction is a stored transaction owned by a user.
type Transaction struct {
	ID          int64
	UserID      string
	Provider    string
	ExternalID  string // parsed reference or fallback id
	Type        string // "income" or "expense"
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
	Source      string // "sms" or "manual"
	RawBody     *string
	CreatedAt   time.Time
}

// CreateTransaction inserts a transaction. When a row with the same
// (user, provider, external id) already exists the existing row is returned
// with created set to false.
func (s *Store) CreateTransaction(ctx context.Context, params CreateTransactionParams) (txn *Transaction, created bool, err error) {
	if err := params.Validate(); err != nil {
		return nil, false, err
	}

	source := params.Source
	if source == "" {
		source = SourceSMS
	}
	sqlcParams := dbgen.InsertTransactionParams{
		UserID:      params.UserID,
		Provider:    params.Provider,
		ExternalID:  params.ExternalID,
		Type:        params.Type,
		Title:       params.Title,
		Party:       params.Party,
		Category:    pgtextFromStringPtr(params.Category),
		Amount:      pgnumericFromDecimal(params.Amount),
		Fee:         pgnumericFromDecimal(params.Fee),
		NewBalance:  pgnumericFromDecimalPtr(params.NewBalance),
		DisplayDate: params.DisplayDate,
		DisplayTime: params.DisplayTime,
		OccurredAt:  pgtype.Timestamptz{Time: params.OccurredAt, Valid: true},
		Reference:   pgtextFromStringPtr(params.Reference),
		LoopRef:     pgtextFromStringPtr(params.LoopRef),
		MpesaRef:    pgtextFromStringPtr(params.MpesaRef),
		Source:      source,
		RawBody:     pgtextFromStringPtr(params.RawBody),
	}

	result, err := s.q.InsertTransaction(ctx, sqlcParams)
	if err == nil {
		return dbTransactionToDomain(&result), true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, err
	}

	// ON CONFLICT DO NOTHING returns no row for a duplicate key.
	existing, err := s.q.GetTransactionByExternalID(ctx, dbgen.GetTransactionByExternalIDParams{
		UserID:     params.UserID,
		Provider:   params.Provider,
		ExternalID: params.ExternalID,
	})
	if err != nil {
		return nil, false, fmt.Errorf("load existing transaction: %w", err)
	}
	return dbTransactionToDomain(&existing), false, nil
}

// Item statuses reported by BulkCreateTransactions.
const (
	StatusCreated   = "created"
	StatusDuplicate = "duplicate"
	StatusFailed    = "failed"
)

// ItemResult is the outcome of one record in a bulk insert.
type ItemResult struct {
	Index       int          `json:"index"`
	ExternalID  string       `json:"id"`
	Status      string       `json:"status"`
	Error       string       `json:"error,omitempty"`
	Transaction *Transaction `json:"-"`
}

// BulkCreateTransactions inserts each record independently. A failing record
// does not stop the batch; its error is reported in its ItemResult.
func (s *Store) BulkCreateTransactions(ctx context.Context, params []CreateTransactionParams) []ItemResult {
	results := make([]ItemResult, len(params))
	for i, p := range params {
		res := ItemResult{Index: i, ExternalID: p.ExternalID}
		txn, created, err := s.CreateTransaction(ctx, p)
		switch {
		case err != nil:
			res.Status = StatusFailed
			res.Error = itemError(err)
		case created:
			res.Status = StatusCreated
			res.Transaction = txn
		default:
			res.Status = StatusDuplicate
			res.Transaction = txn
		}
		results[i] = res
	}
	return results
}

// itemError hides driver details for anything but validation failures.
func itemError(err error) string {
	var verr *ValidationError
	if errors.As(err, &verr) {
		return verr.Error()
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err.Error()
	}
	return "failed to store transaction"
}

// GetTransaction retrieves a transaction by id for a user.
func (s *Store) GetTransaction(ctx context.Context, userID string, id int64) (*Transaction, error) {
	result, err := s.q.GetTransaction(ctx, dbgen.GetTransactionParams{ID: id, UserID: userID})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return dbTransactionToDomain(&result), nil
}

// ListTransactionsParams filters a user's transactions. Nil filters are ignored.
type ListTransactionsParams struct {
	UserID    string
	Provider  *string
	Type      *string
	Party     *string // case-insensitive substring
	StartTime *time.Time
	EndTime   *time.Time // exclusive
	Limit     int32
	Offset    int32
}

// ListTransactions returns one page of transactions, newest first, and the
// total number of matching rows.
func (s *Store) ListTransactions(ctx context.Context, params ListTransactionsParams) ([]*Transaction, int64, error) {
	results, err := s.q.ListTransactions(ctx, dbgen.ListTransactionsParams{
		UserID:      params.UserID,
		Provider:    pgtextFromStringPtr(params.Provider),
		Type:        pgtextFromStringPtr(params.Type),
		Party:       pgtextFromStringPtr(params.Party),
		StartTime:   pgtimestamptzFromTimePtr(params.StartTime),
		EndTime:     pgtimestamptzFromTimePtr(params.EndTime),
		LimitCount:  params.Limit,
		OffsetCount: params.Offset,
	})
	if err != nil {
		return nil, 0, err
	}

	total, err := s.q.CountTransactions(ctx, dbgen.CountTransactionsParams{
		UserID:    params.UserID,
		Provider:  pgtextFromStringPtr(params.Provider),
		Type:      pgtextFromStringPtr(params.Type),
		Party:     pgtextFromStringPtr(params.Party),
		StartTime: pgtimestamptzFromTimePtr(params.StartTime),
		EndTime:   pgtimestamptzFromTimePtr(params.EndTime),
	})
	if err != nil {
		return nil, 0, err
	}

	transactions := make([]*Transaction, len(results))
	for i := range results {
		transactions[i] = dbTransactionToDomain(&results[i])
	}
	return transactions, total, nil
}

// DeleteTransaction removes a transaction owned by userID.
func (s *Store) DeleteTransaction(ctx context.Context, userID string, id int64) error {
	n, err := s.q.DeleteTransaction(ctx, dbgen.DeleteTransactionParams{ID: id, UserID: userID})
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// SummaryParams scopes a summary. Nil filters are ignored.
type SummaryParams struct {
	UserID    string
	Provider  *string
	StartTime *time.Time
	EndTime   *time.Time
}

// TypeSummary aggregates one transaction type.
type TypeSummary struct {
	Type    string          `json:"type"`
	Count   int64           `json:"count"`
	Total   decimal.Decimal `json:"total"`
	Average decimal.Decimal `json:"average"`
	Min     decimal.Decimal `json:"min"`
	Max     decimal.Decimal `json:"max"`
	Fees    decimal.Decimal `json:"fees"`
}

// Summary aggregates a user's transactions. Balance is income minus
// expenses minus fees.
type Summary struct {
	ByType       []TypeSummary   `json:"by_type"`
	Count        int64           `json:"count"`
	TotalIncome  decimal.Decimal `json:"total_income"`
	TotalExpense decimal.Decimal `json:"total_expense"`
	TotalFees    decimal.Decimal `json:"total_fees"`
	Balance      decimal.Decimal `json:"balance"`
}

// Summarize computes per-type aggregates and overall totals.
func (s *Store) Summarize(ctx context.Context, params SummaryParams) (*Summary, error) {
	rows, err := s.q.SummarizeTransactionsByType(ctx, dbgen.SummarizeTransactionsByTypeParams{
		UserID:    params.UserID,
		Provider:  pgtextFromStringPtr(params.Provider),
		StartTime: pgtimestamptzFromTimePtr(params.StartTime),
		EndTime:   pgtimestamptzFromTimePtr(params.EndTime),
	})
	if err != nil {
		return nil, err
	}

	byType := make([]TypeSummary, len(rows))
	for i, row := range rows {
		byType[i] = TypeSummary{
			Type:    row.Type,
			Count:   row.Count,
			Total:   decimalFromPgnumeric(row.Total),
			Average: decimalFromPgnumeric(row.Average).Round(2),
			Min:     decimalFromPgnumeric(row.MinAmount),
			Max:     decimalFromPgnumeric(row.MaxAmount),
			Fees:    decimalFromPgnumeric(row.Fees),
		}
	}
	return buildSummary(byType), nil
}

func buildSummary(byType []TypeSummary) *Summary {
	sum := &Summary{
		ByType:       byType,
		TotalIncome:  decimal.Zero,
		TotalExpense: decimal.Zero,
		TotalFees:    decimal.Zero,
	}
	for _, t := range byType {
		sum.Count += t.Count
		sum.TotalFees = sum.TotalFees.Add(t.Fees)
		switch t.Type {
		case TypeIncome:
			sum.TotalIncome = sum.TotalIncome.Add(t.Total)
		case TypeExpense:
			sum.TotalExpense = sum.TotalExpense.Add(t.Total)
		}
	}
	sum.Balance = sum.TotalIncome.Sub(sum.TotalExpense).Sub(sum.TotalFees)
	return sum
}

// Helper functions to convert between sqlc types and domain types

func dbTransactionToDomain(db *dbgen.Transaction) *Transaction {
	return &Transaction{
		ID:          db.ID,
		UserID:      db.UserID,
		Provider:    db.Provider,
		ExternalID:  db.ExternalID,
		Type:        db.Type,
		Title:       db.Title,
		Party:       db.Party,
		Category:    stringPtrFromPgtext(db.Category),
		Amount:      decimalFromPgnumeric(db.Amount),
		Fee:         decimalFromPgnumeric(db.Fee),
		NewBalance:  decimalPtrFromPgnumeric(db.NewBalance),
		DisplayDate: db.DisplayDate,
		DisplayTime: db.DisplayTime,
		OccurredAt:  db.OccurredAt.Time,
		Reference:   stringPtrFromPgtext(db.Reference),
		LoopRef:     stringPtrFromPgtext(db.LoopRef),
		MpesaRef:    stringPtrFromPgtext(db.MpesaRef),
		Source:      db.Source,
		RawBody:     stringPtrFromPgtext(db.RawBody),
		CreatedAt:   db.CreatedAt.Time,
	}
}

func pgtextFromStringPtr(s *string) pgtype.Text {
	if s == nil {
		return pgtype.Text{Valid: false}
	}
	return pgtype.Text{String: *s, Valid: true}
}

func stringPtrFromPgtext(t pgtype.Text) *string {
	if !t.Valid {
		return nil
	}
	return &t.String
}

func pgtimestamptzFromTimePtr(t *time.Time) pgtype.Timestamptz {
	if t == nil {
		return pgtype.Timestamptz{Valid: false}
	}
	return pgtype.Timestamptz{Time: *t, Valid: true}
}

func pgnumericFromDecimal(d decimal.Decimal) pgtype.Numeric {
	return pgtype.Numeric{Int: d.Coefficient(), Exp: d.Exponent(), Valid: true}
}

func pgnumericFromDecimalPtr(d *decimal.Decimal) pgtype.Numeric {
	if d == nil {
		return pgtype.Numeric{Valid: false}
	}
	return pgnumericFromDecimal(*d)
}

func decimalFromPgnumeric(n pgtype.Numeric) decimal.Decimal {
	if !n.Valid || n.NaN || n.InfinityModifier != pgtype.Finite {
		return decimal.Zero
	}
	if n.Int == nil {
		return decimal.NewFromBigInt(new(big.Int), n.Exp)
	}
	return decimal.NewFromBigInt(n.Int, n.Exp)
}

func decimalPtrFromPgnumeric(n pgtype.Numeric) *decimal.Decimal {
	if !n.Valid {
		return nil
	}
	d := decimalFromPgnumeric(n)
	return &d
}
