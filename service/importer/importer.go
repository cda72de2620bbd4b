// Package importer runs SMS inbox exports through the parsers and into the store.
package importer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/brojonat/pesalog/service/db"
	"github.com/brojonat/pesalog/service/metrics"
	natspkg "github.com/brojonat/pesalog/service/nats"
	"github.com/brojonat/pesalog/service/parser"
	"github.com/brojonat/pesalog/service/source"
)

// SourceError reports that messages for a sender could not be read. It
// wraps source.ErrPermissionDenied or source.ErrSourceUnavailable so callers
// can tell a failed read apart from an inbox with nothing in it.
type SourceError struct {
	Sender string
	Err    error
}

func (e *SourceError) Error() string {
	return fmt.Sprintf("read %s messages: %v", e.Sender, e.Err)
}

func (e *SourceError) Unwrap() error { return e.Err }

// IsPermissionDenied reports whether err is a source read refused by permissions.
func IsPermissionDenied(err error) bool {
	var serr *SourceError
	return errors.As(err, &serr) && errors.Is(serr.Err, source.ErrPermissionDenied)
}

// Store is the persistence the importer needs. *db.Store implements it.
type Store interface {
	BulkCreateTransactions(ctx context.Context, params []db.CreateTransactionParams) []db.ItemResult
}

// Options selects what an import reads.
type Options struct {
	UserID string
	// Senders defaults to every sender the registry knows.
	Senders []string
	// MaxCount caps messages per sender; zero uses source.DefaultMaxCount.
	MaxCount int
	Since    time.Time
}

// StoreResult tallies per-item store outcomes.
type StoreResult struct {
	Created    int             `json:"created"`
	Duplicates int             `json:"duplicates"`
	Failed     int             `json:"failed"`
	Items      []db.ItemResult `json:"items"`
	// Stored holds the newly created rows, in submission order.
	Stored []*db.Transaction `json:"stored"`
}

// Result is the outcome of a complete import.
type Result struct {
	Fetched      int                   `json:"fetched"`
	Transactions []*parser.Transaction `json:"transactions"`
	StoreResult
}

// Message is the user-facing summary line. Zero is a valid outcome.
func (r *Result) Message() string {
	return ImportedMessage(r.Created)
}

// ImportedMessage formats the import summary for n created records.
func ImportedMessage(n int) string {
	return fmt.Sprintf("%d transactions imported", n)
}

// Importer wires a registry to a store and an optional event publisher.
type Importer struct {
	registry  *parser.Registry
	store     Store
	publisher natspkg.Publisher
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// New creates an Importer. store, publisher and m may be nil; without a
// store Run only fetches and parses.
func New(registry *parser.Registry, store Store, publisher natspkg.Publisher, m *metrics.Metrics, logger *slog.Logger) *Importer {
	if registry == nil {
		registry = parser.NewRegistry()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Importer{
		registry:  registry,
		store:     store,
		publisher: publisher,
		metrics:   m,
		logger:    logger.With("component", "importer"),
	}
}

// Fetch reads the newest messages for each sender from src.
func (im *Importer) Fetch(ctx context.Context, src source.Source, opts Options) ([]parser.Message, error) {
	senders := opts.Senders
	if len(senders) == 0 {
		senders = im.registry.Senders()
	}

	var out []parser.Message
	for _, sender := range senders {
		msgs, err := src.ListMessages(ctx, source.Filter{
			Sender:   sender,
			MaxCount: opts.MaxCount,
			Since:    opts.Since,
		})
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			im.logger.WarnContext(ctx, "failed to read messages", "sender", sender, "error", err)
			return nil, &SourceError{Sender: sender, Err: err}
		}
		if im.metrics != nil {
			im.metrics.RecordMessagesFetched(sender, len(msgs))
		}
		im.logger.DebugContext(ctx, "fetched messages", "sender", sender, "count", len(msgs))
		for _, m := range msgs {
			out = append(out, parser.Message{Sender: m.Sender, Body: m.Body, Received: m.Received})
		}
	}
	return out, nil
}

// Parse turns messages into transactions, newest first. Unrecognized
// bodies and unknown senders are dropped.
func (im *Importer) Parse(ctx context.Context, msgs []parser.Message) ([]*parser.Transaction, error) {
	txs, err := im.registry.ParseMessagesConcurrent(ctx, msgs)
	if err != nil {
		return nil, err
	}

	if im.metrics != nil {
		matched := make(map[parser.Provider]int)
		for _, tx := range txs {
			matched[tx.Provider]++
		}
		seen := make(map[parser.Provider]int)
		for _, m := range msgs {
			if p, ok := im.registry.ProviderForSender(m.Sender); ok {
				seen[p]++
			}
		}
		for p, n := range seen {
			im.metrics.RecordMessagesParsed(string(p), "matched", matched[p])
			im.metrics.RecordMessagesParsed(string(p), "unmatched", n-matched[p])
		}
	}

	im.logger.DebugContext(ctx, "parsed messages", "messages", len(msgs), "transactions", len(txs))
	return txs, nil
}

// Store submits txs for userID and tallies the per-item outcomes. Item
// failures are reported in the result, not as an error.
func (im *Importer) Store(ctx context.Context, userID string, txs []*parser.Transaction) (*StoreResult, error) {
	if im.store == nil {
		return nil, fmt.Errorf("no transaction store configured")
	}
	res := &StoreResult{}
	if len(txs) == 0 {
		return res, nil
	}

	params := make([]db.CreateTransactionParams, len(txs))
	for i, tx := range txs {
		params[i] = db.ParamsFromParsed(userID, tx)
	}

	res.Items = im.store.BulkCreateTransactions(ctx, params)
	for _, item := range res.Items {
		switch item.Status {
		case db.StatusCreated:
			res.Created++
			if item.Transaction != nil {
				res.Stored = append(res.Stored, item.Transaction)
			}
		case db.StatusDuplicate:
			res.Duplicates++
		default:
			res.Failed++
			im.logger.WarnContext(ctx, "failed to store transaction",
				"user_id", userID,
				"external_id", item.ExternalID,
				"error", item.Error,
			)
		}
		if im.metrics != nil {
			im.metrics.RecordTransactionStored(params[item.Index].Provider, item.Status)
		}
	}

	im.logger.InfoContext(ctx, "stored transactions",
		"user_id", userID,
		"created", res.Created,
		"duplicates", res.Duplicates,
		"failed", res.Failed,
	)
	return res, nil
}

// Publish emits an event for each newly stored transaction and returns how
// many were sent. It is a no-op without a publisher.
func (im *Importer) Publish(ctx context.Context, stored []*db.Transaction) (int, error) {
	if im.publisher == nil || len(stored) == 0 {
		return 0, nil
	}
	events := make([]*natspkg.TransactionEvent, len(stored))
	for i, t := range stored {
		events[i] = natspkg.FromDBTransaction(t)
	}
	if err := im.publisher.PublishTransactionBatch(ctx, events); err != nil {
		return 0, fmt.Errorf("failed to publish transactions: %w", err)
	}
	return len(events), nil
}

// Run performs fetch, parse, store and publish in one call. A publish
// failure is logged; the records are already stored.
func (im *Importer) Run(ctx context.Context, src source.Source, opts Options) (*Result, error) {
	msgs, err := im.Fetch(ctx, src, opts)
	if err != nil {
		return nil, err
	}

	txs, err := im.Parse(ctx, msgs)
	if err != nil {
		return nil, err
	}

	res := &Result{Fetched: len(msgs), Transactions: txs}
	if im.store == nil {
		return res, nil
	}

	stored, err := im.Store(ctx, opts.UserID, txs)
	if err != nil {
		return nil, err
	}
	res.StoreResult = *stored

	if _, err := im.Publish(ctx, stored.Stored); err != nil {
		im.logger.WarnContext(ctx, "failed to publish imported transactions", "error", err)
	}

	im.logger.InfoContext(ctx, res.Message(),
		"user_id", opts.UserID,
		"fetched", res.Fetched,
		"parsed", len(txs),
	)
	return res, nil
}
