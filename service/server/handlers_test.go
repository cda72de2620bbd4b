package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/brojonat/pesalog/service/config"
	"github.com/brojonat/pesalog/service/db"
	natspkg "github.com/brojonat/pesalog/service/nats"
	"github.com/brojonat/pesalog/service/parser"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memStore is an in-memory TransactionStore with the same duplicate semantics as db.Store.
type memStore struct {
	mu           sync.Mutex
	nextID       int64
	rows         []*db.Transaction
	err          error
	summaryCalls int
	// afterSummarize runs once the summary is computed, before it is returned.
	afterSummarize func()
}

func newMemStore() *memStore { return &memStore{nextID: 1} }

func (m *memStore) CreateTransaction(ctx context.Context, p db.CreateTransactionParams) (*db.Transaction, bool, error) {
	if err := p.Validate(); err != nil {
		return nil, false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, false, m.err
	}
	for _, row := range m.rows {
		if row.UserID == p.UserID && row.Provider == p.Provider && row.ExternalID == p.ExternalID {
			return row, false, nil
		}
	}
	row := &db.Transaction{
		ID:          m.nextID,
		UserID:      p.UserID,
		Provider:    p.Provider,
		ExternalID:  p.ExternalID,
		Type:        p.Type,
		Title:       p.Title,
		Party:       p.Party,
		Category:    p.Category,
		Amount:      p.Amount,
		Fee:         p.Fee,
		NewBalance:  p.NewBalance,
		DisplayDate: p.DisplayDate,
		DisplayTime: p.DisplayTime,
		OccurredAt:  p.OccurredAt,
		Reference:   p.Reference,
		LoopRef:     p.LoopRef,
		MpesaRef:    p.MpesaRef,
		Source:      p.Source,
		RawBody:     p.RawBody,
		CreatedAt:   time.Now(),
	}
	m.nextID++
	m.rows = append(m.rows, row)
	return row, true, nil
}

func (m *memStore) BulkCreateTransactions(ctx context.Context, params []db.CreateTransactionParams) []db.ItemResult {
	out := make([]db.ItemResult, len(params))
	for i, p := range params {
		res := db.ItemResult{Index: i, ExternalID: p.ExternalID}
		txn, created, err := m.CreateTransaction(ctx, p)
		switch {
		case err != nil:
			res.Status, res.Error = db.StatusFailed, err.Error()
		case created:
			res.Status, res.Transaction = db.StatusCreated, txn
		default:
			res.Status, res.Transaction = db.StatusDuplicate, txn
		}
		out[i] = res
	}
	return out
}

func (m *memStore) GetTransaction(ctx context.Context, userID string, id int64) (*db.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, row := range m.rows {
		if row.ID == id && row.UserID == userID {
			return row, nil
		}
	}
	return nil, db.ErrNotFound
}

func (m *memStore) ListTransactions(ctx context.Context, p db.ListTransactionsParams) ([]*db.Transaction, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, 0, m.err
	}
	var match []*db.Transaction
	for _, row := range m.rows {
		if row.UserID != p.UserID {
			continue
		}
		if p.Provider != nil && row.Provider != *p.Provider {
			continue
		}
		if p.Type != nil && row.Type != *p.Type {
			continue
		}
		if p.Party != nil && !strings.Contains(strings.ToLower(row.Party), strings.ToLower(*p.Party)) {
			continue
		}
		if p.StartTime != nil && row.OccurredAt.Before(*p.StartTime) {
			continue
		}
		if p.EndTime != nil && !row.OccurredAt.Before(*p.EndTime) {
			continue
		}
		match = append(match, row)
	}
	sort.SliceStable(match, func(i, j int) bool { return match[i].OccurredAt.After(match[j].OccurredAt) })
	total := int64(len(match))
	start := int(p.Offset)
	if start > len(match) {
		start = len(match)
	}
	end := start + int(p.Limit)
	if end > len(match) {
		end = len(match)
	}
	return match[start:end], total, nil
}

func (m *memStore) DeleteTransaction(ctx context.Context, userID string, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, row := range m.rows {
		if row.ID == id && row.UserID == userID {
			m.rows = append(m.rows[:i], m.rows[i+1:]...)
			return nil
		}
	}
	return db.ErrNotFound
}

func (m *memStore) Summarize(ctx context.Context, p db.SummaryParams) (*db.Summary, error) {
	m.mu.Lock()
	m.summaryCalls++
	sum := &db.Summary{}
	for _, row := range m.rows {
		if row.UserID != p.UserID {
			continue
		}
		sum.Count++
		sum.TotalFees = sum.TotalFees.Add(row.Fee)
		if row.Type == db.TypeIncome {
			sum.TotalIncome = sum.TotalIncome.Add(row.Amount)
		} else {
			sum.TotalExpense = sum.TotalExpense.Add(row.Amount)
		}
	}
	sum.Balance = sum.TotalIncome.Sub(sum.TotalExpense).Sub(sum.TotalFees)
	hook := m.afterSummarize
	m.afterSummarize = nil
	m.mu.Unlock()

	if hook != nil {
		hook()
	}
	return sum, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testConfig() *config.Config {
	return &config.Config{
		MaxBulkItems:    3,
		SummaryCacheTTL: time.Minute,
		Timezone:        time.UTC,
	}
}

func newTestServer(t *testing.T, store TransactionStore, cfg *config.Config, publisher natspkg.Publisher) http.Handler {
	t.Helper()
	srv := New(":0", cfg, store, nil, publisher, nil, nil, testLogger())
	t.Cleanup(func() { srv.cache.close() })
	return srv.Handler()
}

func do(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

const mpesaJSON = `{
	"user_id": "user-1",
	"provider": "mpesa",
	"id": "TLP3V28BZJ",
	"type": "income",
	"title": "Money Received",
	"party": "BENSON KHANDA",
	"amount": "2030.00",
	"fee": 0,
	"new_balance": 2032.47,
	"date": "25/12/25",
	"time": "5:22 PM",
	"timestamp": 1766672520000,
	"reference": "TLP3V28BZJ"
}`

func TestCreateTransaction_CreatedThenDuplicate(t *testing.T) {
	store := newMemStore()
	pub := natspkg.NewMockPublisher()
	h := newTestServer(t, store, testConfig(), pub)

	w := do(t, h, "POST", "/api/v1/transactions", mpesaJSON)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	resp := decode(t, w)
	assert.Equal(t, false, resp["duplicate"])
	txn := resp["transaction"].(map[string]interface{})
	assert.Equal(t, "TLP3V28BZJ", txn["external_id"])
	assert.Equal(t, "2030", txn["amount"])
	assert.Equal(t, "2025-12-25T14:22:00Z", txn["timestamp"])

	w = do(t, h, "POST", "/api/v1/transactions", mpesaJSON)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decode(t, w)["duplicate"])

	// Only the first insert is published.
	events := pub.Events()
	require.Len(t, events, 1)
	assert.Equal(t, "txns.mpesa", events[0].Subject())
	assert.Equal(t, "user-1", events[0].UserID)
}

func TestCreateTransaction_Validation(t *testing.T) {
	h := newTestServer(t, newMemStore(), testConfig(), nil)

	tests := []struct {
		name string
		body string
		want string
	}{
		{"malformed JSON", `{"user_id":`, "invalid request body"},
		{"missing user", `{"provider":"mpesa","id":"X","type":"income","title":"t","amount":1,"timestamp":1}`, "user_id is required"},
		{"bad provider", `{"user_id":"u","provider":"equity","id":"X","type":"income","title":"t","amount":1,"timestamp":1}`, "provider"},
		{"bad type", `{"user_id":"u","provider":"kcb","id":"X","type":"transfer","title":"t","amount":1,"timestamp":1}`, "type"},
		{"negative amount", `{"user_id":"u","provider":"kcb","id":"X","type":"income","title":"t","amount":-1,"timestamp":1}`, "amount"},
		{"missing amount", `{"user_id":"u","provider":"kcb","id":"X2","type":"expense","title":"t","timestamp":1766672520000}`, "amount: is required"},
		{"short loop mpesa ref", `{"user_id":"u","provider":"loop","id":"X","type":"income","title":"t","amount":1,"timestamp":1,"mpesa_ref":"ABC"}`, "mpesa_ref"},
		{"bad timestamp", `{"user_id":"u","provider":"kcb","id":"X","type":"income","title":"t","amount":1,"timestamp":"yesterday"}`, "invalid request body"},
		{"too large", `{"title":"` + strings.Repeat("A", 2<<20) + `"}`, "request body too large"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, h, "POST", "/api/v1/transactions", tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Contains(t, decode(t, w)["error"], tt.want)
		})
	}
}

func TestCreateTransaction_ManualDefaults(t *testing.T) {
	store := newMemStore()
	h := newTestServer(t, store, testConfig(), nil)

	w := do(t, h, "POST", "/api/v1/transactions", `{"user_id":"u","provider":"manual","type":"expense","title":"Rent","amount":"15000","category":"housing"}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	require.Len(t, store.rows, 1)
	row := store.rows[0]
	assert.True(t, strings.HasPrefix(row.ExternalID, "MANUAL-"))
	assert.Equal(t, db.SourceManual, row.Source)
	assert.Equal(t, parser.UnknownParty, row.Party)
	assert.False(t, row.OccurredAt.IsZero())
	require.NotNil(t, row.Category)
	assert.Equal(t, "housing", *row.Category)
}

func TestCreateTransaction_StoreFailureHidesDetails(t *testing.T) {
	store := newMemStore()
	store.err = errors.New("pq: connection refused at 10.0.0.3")
	h := newTestServer(t, store, testConfig(), nil)

	w := do(t, h, "POST", "/api/v1/transactions", mpesaJSON)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "internal server error", decode(t, w)["error"])
}

func TestBulkCreate_PerItemResults(t *testing.T) {
	store := newMemStore()
	pub := natspkg.NewMockPublisher()
	h := newTestServer(t, store, testConfig(), pub)

	body := `{"user_id":"user-1","transactions":[
		` + mpesaJSON + `,
		` + mpesaJSON + `,
		{"provider":"kcb","id":"TLS1TWMBEB","type":"expense","title":"Money Sent","amount":"-4","timestamp":"2025-12-28T20:15:41+03:00"}
	]}`

	w := do(t, h, "POST", "/api/v1/transactions/bulk", body)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	resp := decode(t, w)
	assert.Equal(t, false, resp["success"])
	assert.Equal(t, 1.0, resp["created"])
	assert.Equal(t, 1.0, resp["duplicates"])
	assert.Equal(t, 1.0, resp["failed"])

	results := resp["results"].([]interface{})
	require.Len(t, results, 3)
	assert.Equal(t, "created", results[0].(map[string]interface{})["status"])
	assert.Equal(t, "duplicate", results[1].(map[string]interface{})["status"])
	third := results[2].(map[string]interface{})
	assert.Equal(t, "failed", third["status"])
	assert.Equal(t, "TLS1TWMBEB", third["id"])
	assert.Contains(t, third["error"], "amount")

	assert.Equal(t, 1, pub.EventCount())

	// Resubmission only yields duplicates and publishes nothing new.
	w = do(t, h, "POST", "/api/v1/transactions/bulk", `{"transactions":[`+mpesaJSON+`]}`)
	resp = decode(t, w)
	assert.Equal(t, true, resp["success"])
	assert.Equal(t, 1.0, resp["duplicates"])
	assert.Equal(t, 1, pub.EventCount())
}

func TestBulkCreate_Envelope(t *testing.T) {
	h := newTestServer(t, newMemStore(), testConfig(), nil)

	w := do(t, h, "POST", "/api/v1/transactions/bulk", `{"transactions":[]}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	items := strings.TrimSuffix(strings.Repeat(mpesaJSON+",", 4), ",")
	w = do(t, h, "POST", "/api/v1/transactions/bulk", `{"transactions":[`+items+`]}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, decode(t, w)["error"], "maximum is 3")

	// A malformed item is a per-item failure, not an envelope error.
	w = do(t, h, "POST", "/api/v1/transactions/bulk", `{"transactions":[{"provider":"kcb"}]}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp := decode(t, w)
	assert.Equal(t, 1.0, resp["failed"])
	assert.Equal(t, "user_id is required", resp["results"].([]interface{})[0].(map[string]interface{})["error"])
}

func TestBulkCreate_InvalidItemsDoNotAbortBatch(t *testing.T) {
	store := newMemStore()
	pub := natspkg.NewMockPublisher()
	h := newTestServer(t, store, testConfig(), pub)

	body := `{"transactions":[
		{"provider":"kcb","id":"TLS1TWMBEB","type":"expense","title":"Money Sent","amount":"40","timestamp":"2025-12-28T20:15:41+03:00"},
		` + mpesaJSON + `,
		{"user_id":"user-1","provider":"kcb","id":"TLS2NOAMNT","type":"expense","title":"Money Sent","timestamp":"2025-12-28T20:15:41+03:00"}
	]}`

	w := do(t, h, "POST", "/api/v1/transactions/bulk", body)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	resp := decode(t, w)
	assert.Equal(t, false, resp["success"])
	assert.Equal(t, 1.0, resp["created"])
	assert.Equal(t, 2.0, resp["failed"])

	results := resp["results"].([]interface{})
	require.Len(t, results, 3)
	for i, want := range []struct{ id, status, err string }{
		{"TLS1TWMBEB", "failed", "user_id is required"},
		{"TLP3V28BZJ", "created", ""},
		{"TLS2NOAMNT", "failed", "amount: is required"},
	} {
		item := results[i].(map[string]interface{})
		assert.Equal(t, float64(i), item["index"])
		assert.Equal(t, want.id, item["id"])
		assert.Equal(t, want.status, item["status"])
		if want.err != "" {
			assert.Equal(t, want.err, item["error"])
		}
	}

	require.Len(t, store.rows, 1)
	assert.Equal(t, "TLP3V28BZJ", store.rows[0].ExternalID)
	assert.Equal(t, 1, pub.EventCount())
}

func seed(t *testing.T, store *memStore) {
	t.Helper()
	base := time.Date(2025, 12, 1, 9, 0, 0, 0, time.UTC)
	for i, party := range []string{"BENSON KHANDA", "Justine arege", "FAADI INVESTMENT", "Justine arege"} {
		typ := db.TypeExpense
		if i == 0 {
			typ = db.TypeIncome
		}
		_, _, err := store.CreateTransaction(context.Background(), db.CreateTransactionParams{
			UserID:     "user-1",
			Provider:   "mpesa",
			ExternalID: "REF000000" + string(rune('A'+i)),
			Type:       typ,
			Title:      "t",
			Party:      party,
			Amount:     decimal.NewFromInt(int64(100 * (i + 1))),
			OccurredAt: base.AddDate(0, 0, i),
		})
		require.NoError(t, err)
	}
}

func TestListTransactions_FiltersAndPagination(t *testing.T) {
	store := newMemStore()
	seed(t, store)
	h := newTestServer(t, store, testConfig(), nil)

	w := do(t, h, "GET", "/api/v1/transactions?user_id=user-1&limit=2", "")
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode(t, w)
	assert.Equal(t, 2.0, resp["count"])
	pagination := resp["pagination"].(map[string]interface{})
	assert.Equal(t, 4.0, pagination["total"])
	first := resp["transactions"].([]interface{})[0].(map[string]interface{})
	assert.Equal(t, "REF000000D", first["external_id"])

	w = do(t, h, "GET", "/api/v1/transactions?user_id=user-1&party=AREGE&type=expense", "")
	assert.Equal(t, 2.0, decode(t, w)["count"])

	w = do(t, h, "GET", "/api/v1/transactions?user_id=user-1&start_date=2025-12-02&end_date=2025-12-03", "")
	assert.Equal(t, 2.0, decode(t, w)["count"])
}

func TestListTransactions_BadParams(t *testing.T) {
	h := newTestServer(t, newMemStore(), testConfig(), nil)

	tests := []struct {
		query string
		want  string
	}{
		{"", "user_id is required"},
		{"user_id=u&limit=0", "limit must be at least 1"},
		{"user_id=u&limit=5000", "limit cannot exceed 1000"},
		{"user_id=u&limit=abc", "invalid limit parameter"},
		{"user_id=u&offset=-1", "offset cannot be negative"},
		{"user_id=u&provider=equity", "invalid provider"},
		{"user_id=u&type=refund", "invalid type"},
		{"user_id=u&start_date=12/01/2025", "invalid start_date"},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			w := do(t, h, "GET", "/api/v1/transactions?"+tt.query, "")
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Contains(t, decode(t, w)["error"], tt.want)
		})
	}
}

func TestGetAndDeleteTransaction(t *testing.T) {
	store := newMemStore()
	seed(t, store)
	h := newTestServer(t, store, testConfig(), nil)

	w := do(t, h, "GET", "/api/v1/transactions/1?user_id=user-1", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "REF000000A", decode(t, w)["external_id"])

	assert.Equal(t, http.StatusNotFound, do(t, h, "GET", "/api/v1/transactions/1?user_id=user-2", "").Code)
	assert.Equal(t, http.StatusBadRequest, do(t, h, "GET", "/api/v1/transactions/abc?user_id=user-1", "").Code)

	assert.Equal(t, http.StatusNoContent, do(t, h, "DELETE", "/api/v1/transactions/1?user_id=user-1", "").Code)
	assert.Equal(t, http.StatusNotFound, do(t, h, "DELETE", "/api/v1/transactions/1?user_id=user-1", "").Code)
}

func TestSummary_CachedAndInvalidated(t *testing.T) {
	store := newMemStore()
	seed(t, store)
	h := newTestServer(t, store, testConfig(), nil)

	w := do(t, h, "GET", "/api/v1/summary?user_id=user-1", "")
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode(t, w)
	assert.Equal(t, "100", resp["total_income"])
	assert.Equal(t, "900", resp["total_expense"])
	assert.Equal(t, "-800", resp["balance"])

	do(t, h, "GET", "/api/v1/summary?user_id=user-1", "")
	assert.Equal(t, 1, store.summaryCalls)

	// A write for the user drops the cached entry.
	do(t, h, "DELETE", "/api/v1/transactions/2?user_id=user-1", "")
	w = do(t, h, "GET", "/api/v1/summary?user_id=user-1", "")
	assert.Equal(t, 2, store.summaryCalls)
	assert.Equal(t, "700", decode(t, w)["total_expense"])
}

func TestSummary_WriteDuringComputeIsNotCached(t *testing.T) {
	store := newMemStore()
	seed(t, store)
	h := newTestServer(t, store, testConfig(), nil)

	store.afterSummarize = func() {
		w := do(t, h, "POST", "/api/v1/transactions", mpesaJSON)
		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	}
	w := do(t, h, "GET", "/api/v1/summary?user_id=user-1", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "100", decode(t, w)["total_income"])

	// The summary computed before the write must not be served from cache.
	w = do(t, h, "GET", "/api/v1/summary?user_id=user-1", "")
	assert.Equal(t, 2, store.summaryCalls)
	assert.Equal(t, "2130", decode(t, w)["total_income"])
}

func TestParseEndpoint(t *testing.T) {
	cfg := testConfig()
	cfg.MaxBulkItems = 10
	h := newTestServer(t, newMemStore(), cfg, nil)

	body := `{"messages":[
		{"sender":"MPESA","body":"TLP3V28BZJ Confirmed.You have received Ksh2,030.00 from BENSON KHANDA 0715248638 on 25/12/25 at 5:22 PM New M-PESA balance is Ksh2,032.47."},
		{"sender":"MPESA","body":"TLTKD2C8VP Confirmed. Ksh100.00 sent to Justine arege 0114218371 on 29/12/25 at 2:37 PM. New M-PESA balance is Ksh1,932.47. Transaction cost, Ksh7.00."},
		{"sender":"Safaricom","body":"Get 1GB for Ksh 50"},
		{"sender":"MPESA","body":"Your M-PESA PIN was changed"}
	]}`

	w := do(t, h, "POST", "/api/v1/parse", body)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp := decode(t, w)
	assert.Equal(t, 2.0, resp["count"])
	assert.Equal(t, 2.0, resp["skipped"])

	txs := resp["transactions"].([]interface{})
	newest := txs[0].(map[string]interface{})
	assert.Equal(t, "TLTKD2C8VP", newest["id"])
	assert.Equal(t, "expense", newest["type"])
	display := newest["display"].(map[string]interface{})
	assert.Equal(t, "Ksh 100.00", display["amount"])
	assert.Equal(t, "Sent", display["type_label"])
	assert.Equal(t, "TLP3V28BZJ", txs[1].(map[string]interface{})["id"])
}

func TestParseEndpoint_TooManyMessages(t *testing.T) {
	h := newTestServer(t, newMemStore(), testConfig(), nil)

	msg := `{"sender":"MPESA","body":"Your M-PESA PIN was changed"}`
	body := `{"messages":[` + strings.TrimSuffix(strings.Repeat(msg+",", 4), ",") + `]}`

	w := do(t, h, "POST", "/api/v1/parse", body)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "too many messages: maximum is 3", decode(t, w)["error"])
}

func TestHealthAndCORS(t *testing.T) {
	h := newTestServer(t, newMemStore(), testConfig(), nil)

	w := do(t, h, "GET", "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "OK", w.Body.String())

	w = do(t, h, "OPTIONS", "/api/v1/transactions", "")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}
