package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/brojonat/pesalog/service/parser"
	"github.com/shopspring/decimal"
)

// Transaction is a stored transaction as returned by the server.
type Transaction struct {
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

// TransactionInput is the body of a create request. Empty Provider and ID
// produce a manual transaction.
type TransactionInput struct {
	UserID     string           `json:"user_id,omitempty"`
	Provider   string           `json:"provider,omitempty"`
	ID         string           `json:"id,omitempty"`
	Type       string           `json:"type"`
	Title      string           `json:"title,omitempty"`
	Party      string           `json:"party,omitempty"`
	Category   *string          `json:"category,omitempty"`
	Amount     decimal.Decimal  `json:"amount"`
	Fee        decimal.Decimal  `json:"fee"`
	NewBalance *decimal.Decimal `json:"new_balance,omitempty"`
	Date       string           `json:"date,omitempty"`
	Time       string           `json:"time,omitempty"`
	Timestamp  *time.Time       `json:"timestamp,omitempty"`
	Reference  *string          `json:"reference,omitempty"`
	LoopRef    *string          `json:"loop_ref,omitempty"`
	MpesaRef   *string          `json:"mpesa_ref,omitempty"`
	Source     string           `json:"source,omitempty"`
	Body       *string          `json:"body,omitempty"`
}

// InputFromParsed builds a create request from a parsed SMS transaction.
func InputFromParsed(tx *parser.Transaction) TransactionInput {
	ts := tx.Timestamp
	in := TransactionInput{
		Provider:   string(tx.Provider),
		ID:         tx.ID,
		Type:       string(tx.Type),
		Title:      tx.Title,
		Party:      tx.Party,
		Amount:     tx.Amount,
		Fee:        tx.Fee,
		NewBalance: tx.NewBalance,
		Date:       tx.Date,
		Time:       tx.Time,
		Timestamp:  &ts,
		Reference:  tx.Reference,
		LoopRef:    tx.LoopRef,
		MpesaRef:   tx.MpesaRef,
		Source:     "sms",
	}
	if tx.Body != "" {
		body := tx.Body
		in.Body = &body
	}
	return in
}

// BulkItem is the outcome of one element of a bulk create.
type BulkItem struct {
	Index  int    `json:"index"`
	ID     string `json:"id"`
	Status string `json:"status"` // created, duplicate, failed
	Error  string `json:"error,omitempty"`
}

// BulkResult is the response of a bulk create.
type BulkResult struct {
	Success    bool       `json:"success"`
	Created    int        `json:"created"`
	Duplicates int        `json:"duplicates"`
	Failed     int        `json:"failed"`
	Results    []BulkItem `json:"results"`
}

// ListOptions filters a list request. Zero values are omitted.
type ListOptions struct {
	UserID    string
	Provider  string
	Type      string
	Party     string
	StartDate string // RFC3339 or YYYY-MM-DD
	EndDate   string
	Limit     int
	Offset    int
}

func (o ListOptions) values() url.Values {
	q := url.Values{}
	set := func(k, v string) {
		if v != "" {
			q.Set(k, v)
		}
	}
	set("user_id", o.UserID)
	set("provider", o.Provider)
	set("type", o.Type)
	set("party", o.Party)
	set("start_date", o.StartDate)
	set("end_date", o.EndDate)
	if o.Limit > 0 {
		q.Set("limit", strconv.Itoa(o.Limit))
	}
	if o.Offset > 0 {
		q.Set("offset", strconv.Itoa(o.Offset))
	}
	return q
}

// ListResult is one page of transactions.
type ListResult struct {
	Transactions []*Transaction `json:"transactions"`
	Count        int            `json:"count"`
	Pagination   struct {
		Total  int64 `json:"total"`
		Limit  int   `json:"limit"`
		Offset int   `json:"offset"`
	} `json:"pagination"`
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

// Summary is the server's aggregate view of a user's transactions.
type Summary struct {
	ByType       []TypeSummary   `json:"by_type"`
	Count        int64           `json:"count"`
	TotalIncome  decimal.Decimal `json:"total_income"`
	TotalExpense decimal.Decimal `json:"total_expense"`
	TotalFees    decimal.Decimal `json:"total_fees"`
	Balance      decimal.Decimal `json:"balance"`
}

// SummaryOptions filters a summary request.
type SummaryOptions struct {
	UserID    string
	Provider  string
	StartDate string
	EndDate   string
}

// ParsedTransaction is a parse result with its display strings.
type ParsedTransaction struct {
	parser.Transaction
	Display parser.Display `json:"display"`
}

// ParseResult is the response of the parse endpoint.
type ParseResult struct {
	Transactions []ParsedTransaction `json:"transactions"`
	Count        int                 `json:"count"`
	Skipped      int                 `json:"skipped"`
}

// Client is the HTTP client for the pesalog transaction service.
type Client struct {
	baseURL    string
	httpClient *http.Client
	token      string
	logger     *slog.Logger
}

// NewClient creates a new transaction service client.
func NewClient(baseURL string, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
		logger:     logger,
	}
}

// WithToken returns a copy of c that sends token as a bearer credential.
func (c *Client) WithToken(token string) *Client {
	cp := *c
	cp.token = token
	return &cp
}

// do sends a request with an optional JSON body and decodes the response into
// out when the status matches one of want.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, in, out interface{}, want ...int) (int, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return 0, fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	ok := false
	for _, code := range want {
		if resp.StatusCode == code {
			ok = true
			break
		}
	}
	if !ok {
		return resp.StatusCode, c.parseErrorResponse(resp)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return resp.StatusCode, nil
}

// CreateTransaction stores one transaction. The boolean reports whether the
// record was new; a duplicate returns the existing record.
func (c *Client) CreateTransaction(ctx context.Context, in TransactionInput) (*Transaction, bool, error) {
	var resp struct {
		Transaction *Transaction `json:"transaction"`
		Duplicate   bool         `json:"duplicate"`
	}
	if _, err := c.do(ctx, http.MethodPost, "/api/v1/transactions", nil, in, &resp, http.StatusCreated, http.StatusOK); err != nil {
		return nil, false, err
	}
	c.logger.Debug("transaction stored", "id", resp.Transaction.ID, "duplicate", resp.Duplicate)
	return resp.Transaction, !resp.Duplicate, nil
}

// BulkCreate stores many transactions for userID. Items carrying their own
// user_id override it.
func (c *Client) BulkCreate(ctx context.Context, userID string, items []TransactionInput) (*BulkResult, error) {
	req := struct {
		UserID       string             `json:"user_id,omitempty"`
		Transactions []TransactionInput `json:"transactions"`
	}{UserID: userID, Transactions: items}

	var res BulkResult
	if _, err := c.do(ctx, http.MethodPost, "/api/v1/transactions/bulk", nil, req, &res, http.StatusOK); err != nil {
		return nil, err
	}
	c.logger.Debug("bulk create finished",
		"created", res.Created,
		"duplicates", res.Duplicates,
		"failed", res.Failed,
	)
	return &res, nil
}

// List retrieves one page of transactions.
func (c *Client) List(ctx context.Context, opts ListOptions) (*ListResult, error) {
	var res ListResult
	if _, err := c.do(ctx, http.MethodGet, "/api/v1/transactions", opts.values(), nil, &res, http.StatusOK); err != nil {
		return nil, err
	}
	return &res, nil
}

func userQuery(userID string) url.Values {
	if userID == "" {
		return nil
	}
	return url.Values{"user_id": {userID}}
}

// Get retrieves a transaction by its numeric id.
func (c *Client) Get(ctx context.Context, userID string, id int64) (*Transaction, error) {
	var txn Transaction
	path := "/api/v1/transactions/" + strconv.FormatInt(id, 10)
	if _, err := c.do(ctx, http.MethodGet, path, userQuery(userID), nil, &txn, http.StatusOK); err != nil {
		return nil, err
	}
	return &txn, nil
}

// Delete removes a transaction by its numeric id.
func (c *Client) Delete(ctx context.Context, userID string, id int64) error {
	path := "/api/v1/transactions/" + strconv.FormatInt(id, 10)
	if _, err := c.do(ctx, http.MethodDelete, path, userQuery(userID), nil, nil, http.StatusNoContent); err != nil {
		return err
	}
	c.logger.Debug("transaction deleted", "id", id)
	return nil
}

// Summary retrieves aggregate totals.
func (c *Client) Summary(ctx context.Context, opts SummaryOptions) (*Summary, error) {
	q := url.Values{}
	for k, v := range map[string]string{
		"user_id":    opts.UserID,
		"provider":   opts.Provider,
		"start_date": opts.StartDate,
		"end_date":   opts.EndDate,
	} {
		if v != "" {
			q.Set(k, v)
		}
	}

	var sum Summary
	if _, err := c.do(ctx, http.MethodGet, "/api/v1/summary", q, nil, &sum, http.StatusOK); err != nil {
		return nil, err
	}
	return &sum, nil
}

// Parse asks the server to parse raw messages without storing them.
func (c *Client) Parse(ctx context.Context, messages []parser.Message) (*ParseResult, error) {
	req := struct {
		Messages []parser.Message `json:"messages"`
	}{Messages: messages}

	var res ParseResult
	if _, err := c.do(ctx, http.MethodPost, "/api/v1/parse", nil, req, &res, http.StatusOK); err != nil {
		return nil, err
	}
	return &res, nil
}

// Health checks that the server is reachable.
func (c *Client) Health(ctx context.Context) error {
	_, err := c.do(ctx, http.MethodGet, "/health", nil, nil, nil, http.StatusOK)
	return err
}

// parseErrorResponse attempts to parse an error response from the server.
func (c *Client) parseErrorResponse(resp *http.Response) error {
	var errResp struct {
		Error string `json:"error"`
	}

	body, _ := io.ReadAll(resp.Body)
	if err := json.Unmarshal(body, &errResp); err != nil || errResp.Error == "" {
		return &APIError{StatusCode: resp.StatusCode, Message: string(body)}
	}
	return &APIError{StatusCode: resp.StatusCode, Message: errResp.Error}
}

// APIError is a non-success response from the server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server error (status %d): %s", e.StatusCode, e.Message)
}
