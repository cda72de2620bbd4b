package db

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/brojonat/pesalog/service/parser"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }

func sampleParams(userID, externalID string, typ string, amount string, at time.Time) CreateTransactionParams {
	return CreateTransactionParams{
		UserID:      userID,
		Provider:    "mpesa",
		ExternalID:  externalID,
		Type:        typ,
		Title:       "Money Received",
		Party:       "BENSON KHANDA",
		Amount:      decimal.RequireFromString(amount),
		Fee:         decimal.Zero,
		DisplayDate: "25/12/25",
		DisplayTime: "5:22 PM",
		OccurredAt:  at,
		Reference:   strPtr(externalID),
		Source:      SourceSMS,
	}
}

func TestValidate(t *testing.T) {
	at := time.Date(2025, 12, 25, 14, 22, 0, 0, time.UTC)

	tests := []struct {
		name   string
		mutate func(p *CreateTransactionParams)
		field  string
	}{
		{"valid", func(p *CreateTransactionParams) {}, ""},
		{"missing user", func(p *CreateTransactionParams) { p.UserID = " " }, "user_id"},
		{"bad provider", func(p *CreateTransactionParams) { p.Provider = "equity" }, "provider"},
		{"missing id", func(p *CreateTransactionParams) { p.ExternalID = "" }, "id"},
		{"bad type", func(p *CreateTransactionParams) { p.Type = "transfer" }, "type"},
		{"missing title", func(p *CreateTransactionParams) { p.Title = "" }, "title"},
		{"negative amount", func(p *CreateTransactionParams) { p.Amount = decimal.NewFromInt(-1) }, "amount"},
		{"negative fee", func(p *CreateTransactionParams) { p.Fee = decimal.NewFromInt(-1) }, "fee"},
		{"zero time", func(p *CreateTransactionParams) { p.OccurredAt = time.Time{} }, "timestamp"},
		{"bad source", func(p *CreateTransactionParams) { p.Source = "email" }, "source"},
		{"short loop mpesa ref", func(p *CreateTransactionParams) {
			p.Provider = "loop"
			p.MpesaRef = strPtr("TIQ6")
		}, "mpesa_ref"},
		{"short mpesa ref on mpesa is fine", func(p *CreateTransactionParams) { p.MpesaRef = strPtr("TIQ6") }, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := sampleParams("user-1", "TLP3V28BZJ", TypeIncome, "2030.00", at)
			tt.mutate(&p)
			err := p.Validate()
			if tt.field == "" {
				assert.NoError(t, err)
				return
			}
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.field, verr.Field)
		})
	}
}

func TestParamsFromParsed(t *testing.T) {
	ref := "TLP3V28BZJ"
	bal := decimal.RequireFromString("2032.47")
	tx := &parser.Transaction{
		ID:         ref,
		Provider:   parser.ProviderMpesa,
		Type:       parser.TypeIncome,
		Title:      "Money Received",
		Party:      "BENSON KHANDA",
		Amount:     decimal.RequireFromString("2030.00"),
		Date:       "25/12/25",
		Time:       "5:22 PM",
		Timestamp:  time.Date(2025, 12, 25, 14, 22, 0, 0, time.UTC),
		NewBalance: &bal,
		Reference:  &ref,
		Body:       "TLP3V28BZJ Confirmed.",
	}

	p := ParamsFromParsed("user-1", tx)
	require.NoError(t, p.Validate())
	assert.Equal(t, "mpesa", p.Provider)
	assert.Equal(t, ref, p.ExternalID)
	assert.Equal(t, "income", p.Type)
	assert.Equal(t, SourceSMS, p.Source)
	require.NotNil(t, p.RawBody)
	assert.Equal(t, tx.Body, *p.RawBody)
	assert.True(t, bal.Equal(*p.NewBalance))
}

func TestBuildSummary(t *testing.T) {
	sum := buildSummary([]TypeSummary{
		{Type: TypeExpense, Count: 2, Total: decimal.RequireFromString("140.00"), Fees: decimal.RequireFromString("7.00")},
		{Type: TypeIncome, Count: 1, Total: decimal.RequireFromString("2030.00"), Fees: decimal.Zero},
	})

	assert.Equal(t, int64(3), sum.Count)
	assert.Equal(t, "2030.00", sum.TotalIncome.StringFixed(2))
	assert.Equal(t, "140.00", sum.TotalExpense.StringFixed(2))
	assert.Equal(t, "7.00", sum.TotalFees.StringFixed(2))
	assert.Equal(t, "1883.00", sum.Balance.StringFixed(2))

	empty := buildSummary(nil)
	assert.True(t, empty.Balance.IsZero())
	assert.Zero(t, empty.Count)
}

func TestNumericRoundTrip(t *testing.T) {
	for _, s := range []string{"0", "2030.00", "1234567.5", "0.01"} {
		d := decimal.RequireFromString(s)
		assert.True(t, d.Equal(decimalFromPgnumeric(pgnumericFromDecimal(d))), s)
	}
	assert.Nil(t, decimalPtrFromPgnumeric(pgnumericFromDecimalPtr(nil)))
}

func TestCreateTransaction(t *testing.T) {
	SkipIfNoTestDB(t)

	store := NewTestStore(t)
	defer store.Close()
	defer store.Cleanup(t)

	ctx := context.Background()
	at := time.Now().UTC().Truncate(time.Microsecond)

	t.Run("create new", func(t *testing.T) {
		params := sampleParams("user-1", "TLP3V28BZJ", TypeIncome, "2030.00", at)
		params.RawBody = strPtr("TLP3V28BZJ Confirmed.You have received Ksh2,030.00")

		txn, created, err := store.CreateTransaction(ctx, params)
		require.NoError(t, err)
		require.True(t, created)

		assert.NotZero(t, txn.ID)
		assert.Equal(t, "TLP3V28BZJ", txn.ExternalID)
		assert.Equal(t, "2030.00", txn.Amount.StringFixed(2))
		assert.True(t, txn.Fee.IsZero())
		assert.Nil(t, txn.NewBalance)
		assert.Nil(t, txn.Category)
		require.NotNil(t, txn.RawBody)
		assert.WithinDuration(t, at, txn.OccurredAt, time.Microsecond)
		assert.WithinDuration(t, time.Now(), txn.CreatedAt, 5*time.Second)
	})

	t.Run("duplicate returns existing", func(t *testing.T) {
		params := sampleParams("user-1", "TLP3V28BZJ", TypeIncome, "9999.00", at)

		txn, created, err := store.CreateTransaction(ctx, params)
		require.NoError(t, err)
		assert.False(t, created)
		assert.Equal(t, "2030.00", txn.Amount.StringFixed(2))
	})

	t.Run("same reference for another user", func(t *testing.T) {
		params := sampleParams("user-2", "TLP3V28BZJ", TypeIncome, "2030.00", at)

		_, created, err := store.CreateTransaction(ctx, params)
		require.NoError(t, err)
		assert.True(t, created)
	})

	t.Run("invalid params never reach the database", func(t *testing.T) {
		params := sampleParams("user-1", "X1", "transfer", "1.00", at)

		_, _, err := store.CreateTransaction(ctx, params)
		var verr *ValidationError
		require.ErrorAs(t, err, &verr)
	})
}

func TestBulkCreateTransactions(t *testing.T) {
	SkipIfNoTestDB(t)

	store := NewTestStore(t)
	defer store.Close()
	defer store.Cleanup(t)

	ctx := context.Background()
	at := time.Now().UTC().Truncate(time.Microsecond)

	results := store.BulkCreateTransactions(ctx, []CreateTransactionParams{
		sampleParams("user-1", "AAA111AAAA", TypeIncome, "10.00", at),
		sampleParams("user-1", "AAA111AAAA", TypeIncome, "10.00", at),
		sampleParams("user-1", "BBB222BBBB", TypeExpense, "-5.00", at),
		sampleParams("user-1", "CCC333CCCC", TypeExpense, "5.00", at),
	})

	require.Len(t, results, 4)
	assert.Equal(t, StatusCreated, results[0].Status)
	assert.Equal(t, StatusDuplicate, results[1].Status)
	assert.Equal(t, StatusFailed, results[2].Status)
	assert.True(t, strings.HasPrefix(results[2].Error, "amount"))
	assert.Equal(t, StatusCreated, results[3].Status)
	for i, r := range results {
		assert.Equal(t, i, r.Index)
	}
}

func TestListTransactions(t *testing.T) {
	SkipIfNoTestDB(t)

	store := NewTestStore(t)
	defer store.Close()
	defer store.Cleanup(t)

	ctx := context.Background()
	base := time.Date(2025, 12, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		typ := TypeIncome
		if i%2 == 1 {
			typ = TypeExpense
		}
		p := sampleParams("user-1", "REF00000"+string(rune('A'+i)), typ, "100.00", base.Add(time.Duration(i)*24*time.Hour))
		if i == 4 {
			p.Party = "Justine arege"
		}
		_, _, err := store.CreateTransaction(ctx, p)
		require.NoError(t, err)
	}
	_, _, err := store.CreateTransaction(ctx, sampleParams("user-2", "OTHERUSER1", TypeIncome, "1.00", base))
	require.NoError(t, err)

	t.Run("all newest first", func(t *testing.T) {
		txns, total, err := store.ListTransactions(ctx, ListTransactionsParams{UserID: "user-1", Limit: 10})
		require.NoError(t, err)
		assert.Equal(t, int64(5), total)
		require.Len(t, txns, 5)
		assert.Equal(t, "REF00000E", txns[0].ExternalID)
		assert.Equal(t, "REF00000A", txns[4].ExternalID)
	})

	t.Run("pagination keeps total", func(t *testing.T) {
		txns, total, err := store.ListTransactions(ctx, ListTransactionsParams{UserID: "user-1", Limit: 2, Offset: 2})
		require.NoError(t, err)
		assert.Equal(t, int64(5), total)
		require.Len(t, txns, 2)
		assert.Equal(t, "REF00000C", txns[0].ExternalID)
	})

	t.Run("type filter", func(t *testing.T) {
		typ := TypeExpense
		txns, total, err := store.ListTransactions(ctx, ListTransactionsParams{UserID: "user-1", Type: &typ, Limit: 10})
		require.NoError(t, err)
		assert.Equal(t, int64(2), total)
		assert.Len(t, txns, 2)
	})

	t.Run("party filter is case insensitive", func(t *testing.T) {
		party := "AREGE"
		txns, _, err := store.ListTransactions(ctx, ListTransactionsParams{UserID: "user-1", Party: &party, Limit: 10})
		require.NoError(t, err)
		require.Len(t, txns, 1)
		assert.Equal(t, "Justine arege", txns[0].Party)
	})

	t.Run("time range", func(t *testing.T) {
		start := base.Add(24 * time.Hour)
		end := base.Add(3 * 24 * time.Hour)
		txns, total, err := store.ListTransactions(ctx, ListTransactionsParams{UserID: "user-1", StartTime: &start, EndTime: &end, Limit: 10})
		require.NoError(t, err)
		assert.Equal(t, int64(2), total)
		assert.Len(t, txns, 2)
	})
}

func TestGetAndDeleteTransaction(t *testing.T) {
	SkipIfNoTestDB(t)

	store := NewTestStore(t)
	defer store.Close()
	defer store.Cleanup(t)

	ctx := context.Background()
	txn, _, err := store.CreateTransaction(ctx, sampleParams("user-1", "TLP3V28BZJ", TypeIncome, "2030.00", time.Now()))
	require.NoError(t, err)

	got, err := store.GetTransaction(ctx, "user-1", txn.ID)
	require.NoError(t, err)
	assert.Equal(t, txn.ExternalID, got.ExternalID)

	_, err = store.GetTransaction(ctx, "user-2", txn.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	assert.ErrorIs(t, store.DeleteTransaction(ctx, "user-2", txn.ID), ErrNotFound)
	require.NoError(t, store.DeleteTransaction(ctx, "user-1", txn.ID))
	assert.ErrorIs(t, store.DeleteTransaction(ctx, "user-1", txn.ID), ErrNotFound)
}

func TestSummarize(t *testing.T) {
	SkipIfNoTestDB(t)

	store := NewTestStore(t)
	defer store.Close()
	defer store.Cleanup(t)

	ctx := context.Background()
	at := time.Now().UTC()

	in := sampleParams("user-1", "IN0000001A", TypeIncome, "2030.00", at)
	out := sampleParams("user-1", "OUT000001A", TypeExpense, "100.00", at)
	out.Fee = decimal.RequireFromString("7.00")
	out2 := sampleParams("user-1", "OUT000002A", TypeExpense, "40.00", at)
	for _, p := range []CreateTransactionParams{in, out, out2} {
		_, _, err := store.CreateTransaction(ctx, p)
		require.NoError(t, err)
	}

	sum, err := store.Summarize(ctx, SummaryParams{UserID: "user-1"})
	require.NoError(t, err)
	require.Len(t, sum.ByType, 2)
	assert.Equal(t, TypeExpense, sum.ByType[0].Type)
	assert.Equal(t, int64(2), sum.ByType[0].Count)
	assert.Equal(t, "70.00", sum.ByType[0].Average.StringFixed(2))
	assert.Equal(t, "40.00", sum.ByType[0].Min.StringFixed(2))
	assert.Equal(t, "1883.00", sum.Balance.StringFixed(2))

	provider := "kcb"
	sum, err = store.Summarize(ctx, SummaryParams{UserID: "user-1", Provider: &provider})
	require.NoError(t, err)
	assert.Empty(t, sum.ByType)
	assert.True(t, sum.Balance.IsZero())
}
