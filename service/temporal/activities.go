package temporal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/brojonat/pesalog/service/db"
	"github.com/brojonat/pesalog/service/importer"
	"github.com/brojonat/pesalog/service/metrics"
	natspkg "github.com/brojonat/pesalog/service/nats"
	"github.com/brojonat/pesalog/service/parser"
	"github.com/brojonat/pesalog/service/source"
	temporalsdk "go.temporal.io/sdk/temporal"
)

// Application error types raised by activities. Both are non-retryable.
const (
	SourceErrorType  = "SourceError"
	InvalidInputType = "InvalidInput"
)

// ImportMessagesInput contains the input parameters for an import run.
type ImportMessagesInput struct {
	UserID   string     `json:"user_id"`
	Path     string     `json:"path"`             // Export file, relative to the worker's import dir
	Format   string     `json:"format,omitempty"` // "xml" or "json"; inferred from the extension when empty
	Senders  []string   `json:"senders,omitempty"`
	MaxCount int        `json:"max_count,omitempty"`
	Since    *time.Time `json:"since,omitempty"`
}

// ImportMessagesResult summarizes an import run.
type ImportMessagesResult struct {
	UserID     string          `json:"user_id"`
	Fetched    int             `json:"fetched"`
	Parsed     int             `json:"parsed"`
	Created    int             `json:"created"`
	Duplicates int             `json:"duplicates"`
	Failed     int             `json:"failed"`
	Published  int             `json:"published"`
	Items      []db.ItemResult `json:"items,omitempty"`
	Message    string          `json:"message"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt time.Time       `json:"finished_at"`
}

// FetchMessagesInput contains parameters for the FetchMessages activity.
type FetchMessagesInput struct {
	Path     string     `json:"path"`
	Format   string     `json:"format,omitempty"`
	Senders  []string   `json:"senders,omitempty"`
	MaxCount int        `json:"max_count,omitempty"`
	Since    *time.Time `json:"since,omitempty"`
}

// FetchMessagesResult contains the messages read from the export.
type FetchMessagesResult struct {
	Messages []parser.Message `json:"messages"`
}

// ParseMessagesInput contains parameters for the ParseMessages activity.
type ParseMessagesInput struct {
	Messages []parser.Message `json:"messages"`
}

// ParseMessagesResult contains the parsed transactions, newest first.
type ParseMessagesResult struct {
	Transactions []*parser.Transaction `json:"transactions"`
}

// StoreTransactionsInput contains parameters for the StoreTransactions activity.
type StoreTransactionsInput struct {
	UserID       string                `json:"user_id"`
	Transactions []*parser.Transaction `json:"transactions"`
}

// StoreTransactionsResult contains per-item store outcomes.
type StoreTransactionsResult struct {
	Created    int               `json:"created"`
	Duplicates int               `json:"duplicates"`
	Failed     int               `json:"failed"`
	Items      []db.ItemResult   `json:"items"`
	Stored     []*db.Transaction `json:"stored"`
}

// PublishTransactionsInput contains parameters for the PublishTransactions activity.
type PublishTransactionsInput struct {
	Transactions []*db.Transaction `json:"transactions"`
}

// PublishTransactionsResult contains the number of events published.
type PublishTransactionsResult struct {
	Published int `json:"published"`
}

// Activities holds the dependencies needed by Temporal activities.
type Activities struct {
	importer  *importer.Importer
	importDir string
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// NewActivities creates a new Activities instance with explicit dependencies.
// publisher and m may be nil.
func NewActivities(
	store importer.Store,
	publisher natspkg.Publisher,
	registry *parser.Registry,
	importDir string,
	m *metrics.Metrics,
	logger *slog.Logger,
) *Activities {
	if logger == nil {
		logger = slog.Default()
	}
	if importDir == "" {
		importDir = "."
	}
	return &Activities{
		importer:  importer.New(registry, store, publisher, m, logger),
		importDir: importDir,
		metrics:   m,
		logger:    logger,
	}
}

func (a *Activities) recordDuration(activity string, start time.Time) {
	if a.metrics != nil {
		a.metrics.RecordActivityDuration(activity, time.Since(start).Seconds())
	}
}

// resolvePath confines path to the import directory.
func (a *Activities) resolvePath(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", fmt.Errorf("path is required")
	}
	base, err := filepath.Abs(a.importDir)
	if err != nil {
		return "", fmt.Errorf("invalid import dir: %w", err)
	}
	full := path
	if !filepath.IsAbs(full) {
		full = filepath.Join(base, full)
	}
	full = filepath.Clean(full)
	rel, err := filepath.Rel(base, full)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q is outside the import directory", path)
	}
	return full, nil
}

// FetchMessages reads SMS messages from an export file on the worker.
// Read failures are not retried: a missing or unreadable file stays that way.
func (a *Activities) FetchMessages(ctx context.Context, input FetchMessagesInput) (*FetchMessagesResult, error) {
	start := time.Now()
	defer a.recordDuration("FetchMessages", start)

	path, err := a.resolvePath(input.Path)
	if err != nil {
		return nil, temporalsdk.NewNonRetryableApplicationError(err.Error(), InvalidInputType, err)
	}
	src, err := source.Open(path, input.Format)
	if err != nil {
		return nil, temporalsdk.NewNonRetryableApplicationError(err.Error(), InvalidInputType, err)
	}

	opts := importer.Options{Senders: input.Senders, MaxCount: input.MaxCount}
	if input.Since != nil {
		opts.Since = *input.Since
	}

	msgs, err := a.importer.Fetch(ctx, src, opts)
	if err != nil {
		var serr *importer.SourceError
		if errors.As(err, &serr) {
			a.logger.ErrorContext(ctx, "failed to read message source",
				"path", path,
				"sender", serr.Sender,
				"error", err,
			)
			return nil, temporalsdk.NewNonRetryableApplicationError(err.Error(), SourceErrorType, err, serr.Sender)
		}
		return nil, fmt.Errorf("failed to fetch messages: %w", err)
	}

	a.logger.InfoContext(ctx, "fetched messages", "path", path, "count", len(msgs))
	return &FetchMessagesResult{Messages: msgs}, nil
}

// ParseMessages runs messages through the provider parsers.
func (a *Activities) ParseMessages(ctx context.Context, input ParseMessagesInput) (*ParseMessagesResult, error) {
	start := time.Now()
	defer a.recordDuration("ParseMessages", start)

	txs, err := a.importer.Parse(ctx, input.Messages)
	if err != nil {
		return nil, fmt.Errorf("failed to parse messages: %w", err)
	}

	a.logger.InfoContext(ctx, "parsed messages",
		"messages", len(input.Messages),
		"transactions", len(txs),
	)
	return &ParseMessagesResult{Transactions: txs}, nil
}

// StoreTransactions writes parsed transactions for a user. Per-item
// failures are reported in the result and do not fail the activity.
func (a *Activities) StoreTransactions(ctx context.Context, input StoreTransactionsInput) (*StoreTransactionsResult, error) {
	start := time.Now()
	defer a.recordDuration("StoreTransactions", start)

	if strings.TrimSpace(input.UserID) == "" {
		err := fmt.Errorf("user_id is required")
		return nil, temporalsdk.NewNonRetryableApplicationError(err.Error(), InvalidInputType, err)
	}

	res, err := a.importer.Store(ctx, input.UserID, input.Transactions)
	if err != nil {
		return nil, fmt.Errorf("failed to store transactions: %w", err)
	}

	return &StoreTransactionsResult{
		Created:    res.Created,
		Duplicates: res.Duplicates,
		Failed:     res.Failed,
		Items:      res.Items,
		Stored:     res.Stored,
	}, nil
}

// PublishTransactions emits events for newly stored transactions.
func (a *Activities) PublishTransactions(ctx context.Context, input PublishTransactionsInput) (*PublishTransactionsResult, error) {
	start := time.Now()
	defer a.recordDuration("PublishTransactions", start)

	n, err := a.importer.Publish(ctx, input.Transactions)
	if err != nil {
		a.logger.ErrorContext(ctx, "failed to publish transactions to NATS",
			"count", len(input.Transactions),
			"error", err,
		)
		return nil, err
	}

	a.logger.DebugContext(ctx, "published transactions", "count", n)
	return &PublishTransactionsResult{Published: n}, nil
}
