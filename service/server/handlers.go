package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/brojonat/pesalog/service/db"
	natspkg "github.com/brojonat/pesalog/service/nats"
	"github.com/brojonat/pesalog/service/parser"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	maxRequestBodySize = 1 << 20 // 1MB
	maxBulkBodySize    = 8 << 20
	defaultListLimit   = 50
	maxListLimit       = 1000
)

// TransactionStore is the persistence the HTTP handlers need. *db.Store implements it.
type TransactionStore interface {
	CreateTransaction(ctx context.Context, params db.CreateTransactionParams) (*db.Transaction, bool, error)
	BulkCreateTransactions(ctx context.Context, params []db.CreateTransactionParams) []db.ItemResult
	GetTransaction(ctx context.Context, userID string, id int64) (*db.Transaction, error)
	ListTransactions(ctx context.Context, params db.ListTransactionsParams) ([]*db.Transaction, int64, error)
	DeleteTransaction(ctx context.Context, userID string, id int64) error
	Summarize(ctx context.Context, params db.SummaryParams) (*db.Summary, error)
}

// flexTime accepts RFC3339 strings or unix milliseconds.
type flexTime struct {
	time.Time
}

func (t *flexTime) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	if s == "null" || s == `""` {
		return nil
	}
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		t.Time = time.UnixMilli(ms).UTC()
		return nil
	}
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return fmt.Errorf("timestamp must be RFC3339 or unix milliseconds")
	}
	if ms, err := strconv.ParseInt(str, 10, 64); err == nil {
		t.Time = time.UnixMilli(ms).UTC()
		return nil
	}
	parsed, err := time.Parse(time.RFC3339, str)
	if err != nil {
		return fmt.Errorf("timestamp must be RFC3339 or unix milliseconds")
	}
	t.Time = parsed
	return nil
}

// transactionRequest is the JSON body for a single transaction, parsed or manual.
type transactionRequest struct {
	UserID     string           `json:"user_id"`
	Provider   string           `json:"provider"`
	ID         string           `json:"id"`
	Type       string           `json:"type"`
	Title      string           `json:"title"`
	Party      string           `json:"party"`
	Category   *string          `json:"category"`
	Amount     *decimal.Decimal `json:"amount"`
	Fee        decimal.Decimal  `json:"fee"`
	NewBalance *decimal.Decimal `json:"new_balance"`
	Date       string           `json:"date"`
	Time       string           `json:"time"`
	Timestamp  flexTime         `json:"timestamp"`
	Reference  *string          `json:"reference"`
	LoopRef    *string          `json:"loop_ref"`
	MpesaRef   *string          `json:"mpesa_ref"`
	Source     string           `json:"source"`
	Body       *string          `json:"body"`
}

// checkPresence reports fields that must be present in the body. A zero value
// is not the same as an absent one for amount.
func (req *transactionRequest) checkPresence() error {
	if req.Amount == nil {
		return &db.ValidationError{Field: "amount", Message: "is required"}
	}
	return nil
}

// toParams converts the request, filling defaults for manual entries.
func (req *transactionRequest) toParams(userID string, now time.Time) db.CreateTransactionParams {
	var amount decimal.Decimal
	if req.Amount != nil {
		amount = *req.Amount
	}
	p := db.CreateTransactionParams{
		UserID:      userID,
		Provider:    strings.ToLower(strings.TrimSpace(req.Provider)),
		ExternalID:  strings.TrimSpace(req.ID),
		Type:        strings.ToLower(strings.TrimSpace(req.Type)),
		Title:       strings.TrimSpace(req.Title),
		Party:       strings.TrimSpace(req.Party),
		Category:    req.Category,
		Amount:      amount,
		Fee:         req.Fee,
		NewBalance:  req.NewBalance,
		DisplayDate: req.Date,
		DisplayTime: req.Time,
		OccurredAt:  req.Timestamp.Time,
		Reference:   req.Reference,
		LoopRef:     req.LoopRef,
		MpesaRef:    req.MpesaRef,
		Source:      req.Source,
		RawBody:     req.Body,
	}
	if p.Provider == string(parser.ProviderManual) {
		if p.ExternalID == "" {
			p.ExternalID = "MANUAL-" + uuid.NewString()
		}
		if p.Source == "" {
			p.Source = db.SourceManual
		}
		if p.OccurredAt.IsZero() {
			p.OccurredAt = now
		}
	}
	if p.Party == "" {
		p.Party = parser.UnknownParty
	}
	return p
}

// transactionResponse is the JSON response format for a stored transaction.
type transactionResponse struct {
	ID         int64            `json:"id"`
	UserID     string           `json:"user_id"`
	Provider   string           `json:"provider"`
	ExternalID string           `json:"external_id"`
	Type       string           `json:"type"`
	Title      string           `json:"title"`
	Party      string           `json:"party"`
	Category   *string          `json:"category,omitempty"`
	Amount     decimal.Decimal  `json:"amount"`
	Fee        decimal.Decimal  `json:"fee"`
	NewBalance *decimal.Decimal `json:"new_balance,omitempty"`
	Date       string           `json:"date"`
	Time       string           `json:"time"`
	Timestamp  time.Time        `json:"timestamp"`
	Reference  *string          `json:"reference,omitempty"`
	LoopRef    *string          `json:"loop_ref,omitempty"`
	MpesaRef   *string          `json:"mpesa_ref,omitempty"`
	Source     string           `json:"source"`
	CreatedAt  time.Time        `json:"created_at"`
}

// transactionToResponse converts a domain Transaction to a response format.
func transactionToResponse(t *db.Transaction) transactionResponse {
	return transactionResponse{
		ID:         t.ID,
		UserID:     t.UserID,
		Provider:   t.Provider,
		ExternalID: t.ExternalID,
		Type:       t.Type,
		Title:      t.Title,
		Party:      t.Party,
		Category:   t.Category,
		Amount:     t.Amount,
		Fee:        t.Fee,
		NewBalance: t.NewBalance,
		Date:       t.DisplayDate,
		Time:       t.DisplayTime,
		Timestamp:  t.OccurredAt,
		Reference:  t.Reference,
		LoopRef:    t.LoopRef,
		MpesaRef:   t.MpesaRef,
		Source:     t.Source,
		CreatedAt:  t.CreatedAt,
	}
}

// decodeBody decodes a JSON body, reporting oversized bodies separately.
func decodeBody(w http.ResponseWriter, r *http.Request, limit int64, dst interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		if strings.Contains(err.Error(), "http: request body too large") {
			return errorf("request body too large: maximum size is %dMB", limit>>20)
		}
		return errorf("invalid request body: must be valid JSON")
	}
	return nil
}

// publishCreated emits an event for each newly stored transaction. Failures are logged only.
func publishCreated(ctx context.Context, publisher natspkg.Publisher, logger *slog.Logger, txns ...*db.Transaction) {
	if publisher == nil || len(txns) == 0 {
		return
	}
	events := make([]*natspkg.TransactionEvent, len(txns))
	for i, t := range txns {
		events[i] = natspkg.FromDBTransaction(t)
	}
	if err := publisher.PublishTransactionBatch(ctx, events); err != nil {
		logger.WarnContext(ctx, "failed to publish transaction events", "count", len(events), "error", err)
	}
}

// handleCreateTransaction returns a handler that stores one transaction.
// POST /api/v1/transactions
func handleCreateTransaction(store TransactionStore, cache *summaryCache, publisher natspkg.Publisher, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req transactionRequest
		if err := decodeBody(w, r, maxRequestBodySize, &req); err != nil {
			logger.Debug("failed to decode create request", "error", err)
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		userID, err := resolveUserID(r, req.UserID)
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		if err := req.checkPresence(); err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		txn, created, err := store.CreateTransaction(r.Context(), req.toParams(userID, time.Now().UTC()))
		if err != nil {
			var verr *db.ValidationError
			if errors.As(err, &verr) {
				writeError(w, verr.Error(), http.StatusBadRequest)
				return
			}
			logger.Error("failed to create transaction", "user_id", userID, "id", req.ID, "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}

		status := http.StatusOK
		if created {
			status = http.StatusCreated
			cache.invalidate(userID)
			publishCreated(r.Context(), publisher, logger, txn)
			logger.Info("transaction created", "user_id", userID, "provider", txn.Provider, "external_id", txn.ExternalID)
		}

		writeJSON(w, map[string]interface{}{
			"transaction": transactionToResponse(txn),
			"duplicate":   !created,
		}, status)
	})
}

// bulkResultResponse is one element of the bulk response.
type bulkResultResponse struct {
	Index  int    `json:"index"`
	ID     string `json:"id"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// handleBulkCreateTransactions returns a handler that stores many transactions,
// reporting an outcome per item.
// POST /api/v1/transactions/bulk
func handleBulkCreateTransactions(store TransactionStore, cache *summaryCache, publisher natspkg.Publisher, maxItems int, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			UserID       string               `json:"user_id"`
			Transactions []transactionRequest `json:"transactions"`
		}
		if err := decodeBody(w, r, maxBulkBodySize, &req); err != nil {
			logger.Debug("failed to decode bulk request", "error", err)
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		if len(req.Transactions) == 0 {
			writeError(w, "transactions must be a non-empty array", http.StatusBadRequest)
			return
		}
		if len(req.Transactions) > maxItems {
			writeError(w, fmt.Sprintf("too many transactions: maximum is %d", maxItems), http.StatusBadRequest)
			return
		}

		// Items rejected here are reported as failed; the rest still reach the store.
		now := time.Now().UTC()
		results := make([]db.ItemResult, len(req.Transactions))
		var params []db.CreateTransactionParams
		var positions []int
		for i := range req.Transactions {
			item := &req.Transactions[i]
			supplied := item.UserID
			if supplied == "" {
				supplied = req.UserID
			}
			userID, err := resolveUserID(r, supplied)
			if errors.Is(err, errUserMismatch) {
				writeError(w, fmt.Sprintf("transactions[%d]: %v", i, err), http.StatusBadRequest)
				return
			}
			if err == nil {
				err = item.checkPresence()
			}
			if err != nil {
				results[i] = db.ItemResult{
					Index:      i,
					ExternalID: strings.TrimSpace(item.ID),
					Status:     db.StatusFailed,
					Error:      err.Error(),
				}
				continue
			}
			params = append(params, item.toParams(userID, now))
			positions = append(positions, i)
		}

		if len(params) > 0 {
			for j, res := range store.BulkCreateTransactions(r.Context(), params) {
				res.Index = positions[j]
				results[positions[j]] = res
			}
		}

		var created, duplicates, failed int
		var fresh []*db.Transaction
		touched := make(map[string]struct{})
		resp := make([]bulkResultResponse, len(results))
		for i, res := range results {
			resp[i] = bulkResultResponse{Index: res.Index, ID: res.ExternalID, Status: res.Status, Error: res.Error}
			switch res.Status {
			case db.StatusCreated:
				created++
				fresh = append(fresh, res.Transaction)
				touched[res.Transaction.UserID] = struct{}{}
			case db.StatusDuplicate:
				duplicates++
			default:
				failed++
			}
		}
		for userID := range touched {
			cache.invalidate(userID)
		}
		publishCreated(r.Context(), publisher, logger, fresh...)

		logger.Info("bulk transactions processed",
			"total", len(results),
			"created", created,
			"duplicates", duplicates,
			"failed", failed,
		)

		writeJSON(w, map[string]interface{}{
			"success":    failed == 0,
			"created":    created,
			"duplicates": duplicates,
			"failed":     failed,
			"results":    resp,
		}, http.StatusOK)
	})
}

// parseListLimit parses limit and offset query parameters.
func parseListLimit(query map[string][]string) (limit, offset int32, err error) {
	get := func(k string) string {
		if v := query[k]; len(v) > 0 {
			return v[0]
		}
		return ""
	}

	limit = defaultListLimit
	if limitStr := get("limit"); limitStr != "" {
		var parsedLimit int
		if _, err := fmt.Sscanf(limitStr, "%d", &parsedLimit); err != nil {
			return 0, 0, errorf("invalid limit parameter: must be an integer")
		}
		if parsedLimit < 1 {
			return 0, 0, errorf("limit must be at least 1")
		}
		if parsedLimit > maxListLimit {
			return 0, 0, errorf("limit cannot exceed %d", maxListLimit)
		}
		limit = int32(parsedLimit)
	}

	if offsetStr := get("offset"); offsetStr != "" {
		var parsedOffset int
		if _, err := fmt.Sscanf(offsetStr, "%d", &parsedOffset); err != nil {
			return 0, 0, errorf("invalid offset parameter: must be an integer")
		}
		if parsedOffset < 0 {
			return 0, 0, errorf("offset cannot be negative")
		}
		offset = int32(parsedOffset)
	}
	return limit, offset, nil
}

// parseDateParam accepts RFC3339 or YYYY-MM-DD. A bare end date covers the whole day.
func parseDateParam(name, value string, endOfDay bool) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return &t, nil
	}
	t, err := time.Parse("2006-01-02", value)
	if err != nil {
		return nil, errorf("invalid %s: must be RFC3339 or YYYY-MM-DD", name)
	}
	if endOfDay {
		t = t.AddDate(0, 0, 1)
	}
	return &t, nil
}

func optionalParam(v string) *string {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	return &v
}

func validateProviderParam(p *string) error {
	if p != nil && !parser.Provider(*p).Valid() {
		return errorf("invalid provider: must be one of mpesa, kcb, loop, manual")
	}
	return nil
}

// handleListTransactions returns a handler that lists a user's transactions.
// GET /api/v1/transactions?user_id=U&provider=P&type=T&party=S&start_date=D&end_date=D&limit=N&offset=N
func handleListTransactions(store TransactionStore, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query()

		userID, err := resolveUserID(r, query.Get("user_id"))
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		limit, offset, err := parseListLimit(query)
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		params := db.ListTransactionsParams{
			UserID:   userID,
			Provider: optionalParam(strings.ToLower(query.Get("provider"))),
			Type:     optionalParam(strings.ToLower(query.Get("type"))),
			Party:    optionalParam(query.Get("party")),
			Limit:    limit,
			Offset:   offset,
		}
		if err := validateProviderParam(params.Provider); err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		if params.Type != nil && !parser.TxType(*params.Type).Valid() {
			writeError(w, "invalid type: must be income or expense", http.StatusBadRequest)
			return
		}
		if params.StartTime, err = parseDateParam("start_date", query.Get("start_date"), false); err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		if params.EndTime, err = parseDateParam("end_date", query.Get("end_date"), true); err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		transactions, total, err := store.ListTransactions(r.Context(), params)
		if err != nil {
			logger.Error("failed to list transactions", "user_id", userID, "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}

		logger.Debug("transactions listed", "user_id", userID, "count", len(transactions), "total", total)

		resp := make([]transactionResponse, len(transactions))
		for i := range transactions {
			resp[i] = transactionToResponse(transactions[i])
		}

		writeJSON(w, map[string]interface{}{
			"transactions": resp,
			"count":        len(resp),
			"pagination": map[string]interface{}{
				"total":  total,
				"limit":  limit,
				"offset": offset,
			},
		}, http.StatusOK)
	})
}

func parseIDPath(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id < 1 {
		return 0, errorf("invalid transaction id")
	}
	return id, nil
}

// handleGetTransaction returns a handler that fetches one transaction.
// GET /api/v1/transactions/{id}?user_id=U
func handleGetTransaction(store TransactionStore, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := parseIDPath(r)
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		userID, err := resolveUserID(r, r.URL.Query().Get("user_id"))
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		txn, err := store.GetTransaction(r.Context(), userID, id)
		if err != nil {
			if errors.Is(err, db.ErrNotFound) {
				writeError(w, "transaction not found", http.StatusNotFound)
				return
			}
			logger.Error("failed to get transaction", "user_id", userID, "id", id, "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}

		writeJSON(w, transactionToResponse(txn), http.StatusOK)
	})
}

// handleDeleteTransaction returns a handler that deletes one transaction.
// DELETE /api/v1/transactions/{id}?user_id=U
func handleDeleteTransaction(store TransactionStore, cache *summaryCache, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := parseIDPath(r)
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		userID, err := resolveUserID(r, r.URL.Query().Get("user_id"))
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		if err := store.DeleteTransaction(r.Context(), userID, id); err != nil {
			if errors.Is(err, db.ErrNotFound) {
				writeError(w, "transaction not found", http.StatusNotFound)
				return
			}
			logger.Error("failed to delete transaction", "user_id", userID, "id", id, "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}

		cache.invalidate(userID)
		logger.Info("transaction deleted", "user_id", userID, "id", id)
		w.WriteHeader(http.StatusNoContent)
	})
}

// handleSummary returns a handler that aggregates a user's transactions.
// GET /api/v1/summary?user_id=U&provider=P&start_date=D&end_date=D
func handleSummary(store TransactionStore, cache *summaryCache, recordLookup func(hit bool), logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query()

		userID, err := resolveUserID(r, query.Get("user_id"))
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		params := db.SummaryParams{
			UserID:   userID,
			Provider: optionalParam(strings.ToLower(query.Get("provider"))),
		}
		if err := validateProviderParam(params.Provider); err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		if params.StartTime, err = parseDateParam("start_date", query.Get("start_date"), false); err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		if params.EndTime, err = parseDateParam("end_date", query.Get("end_date"), true); err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		sum, hit := cache.get(params)
		if recordLookup != nil {
			recordLookup(hit)
		}
		if !hit {
			gen := cache.generation(userID)
			sum, err = store.Summarize(r.Context(), params)
			if err != nil {
				logger.Error("failed to summarize transactions", "user_id", userID, "error", err)
				writeError(w, "internal server error", http.StatusInternalServerError)
				return
			}
			cache.set(params, sum, gen)
		}

		writeJSON(w, sum, http.StatusOK)
	})
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]string{
		"error": message,
	})
}

// errorf is a helper to format error strings.
func errorf(format string, args ...interface{}) error {
	return &validationError{msg: strings.TrimSpace(fmt.Sprintf(format, args...))}
}

type validationError struct {
	msg string
}

func (e *validationError) Error() string {
	return e.msg
}
