package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/brojonat/pesalog/client"
	"github.com/brojonat/pesalog/service/db"
	"github.com/brojonat/pesalog/service/export"
	"github.com/brojonat/pesalog/service/importer"
	"github.com/brojonat/pesalog/service/parser"
	"github.com/brojonat/pesalog/service/source"
	"github.com/dustin/go-humanize"
	"github.com/itchyny/gojq"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"
)

// sourceFlags select messages from an inbox export.
func sourceFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "file",
			Aliases: []string{"f"},
			Usage:   "Inbox export to read (SMS Backup XML or JSON dump)",
		},
		&cli.StringFlag{
			Name:  "format",
			Usage: "Export format (xml, json); inferred from the extension when empty",
		},
		&cli.StringSliceFlag{
			Name:  "senders",
			Usage: "Senders to read (MPESA, KCB, LOOP); all known senders when empty",
		},
		&cli.IntFlag{
			Name:  "max-count",
			Usage: "Newest messages to read per sender (0 uses the per-sender default)",
		},
		&cli.StringFlag{
			Name:  "since",
			Usage: "Skip messages received before this date (YYYY-MM-DD or RFC3339)",
		},
	}
}

// outputFlags control how parsed transactions are filtered and written.
func outputFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringSliceFlag{
			Name:  "must-jq",
			Usage: "jq expression evaluated against each transaction; all must be truthy (repeatable)",
		},
		&cli.StringFlag{
			Name:  "csv",
			Usage: "Write transactions as CSV to this path (- for stdout)",
		},
		&cli.StringFlag{
			Name:  "delimiter",
			Usage: "CSV field delimiter",
			Value: ",",
		},
		&cli.BoolFlag{
			Name:  "bom",
			Usage: "Prefix CSV output with a UTF-8 byte order mark",
		},
	}
}

func parseCommand() *cli.Command {
	return &cli.Command{
		Name:  "parse",
		Usage: "Parse SMS messages into transactions without storing them",
		Description: `Parse a single message or an inbox export.

Examples:
  pesalog parse --sender MPESA --body "TLP3V28BZJ Confirmed.You have received Ksh2,030.00 ..."
  pesalog parse --file sms-backup.xml --senders MPESA --must-jq '.type == "expense"'
  pesalog parse --file sms-backup.xml --csv transactions.csv`,
		Flags: append(append([]cli.Flag{
			&cli.StringFlag{
				Name:    "sender",
				Aliases: []string{"s"},
				Usage:   "Sender address of a single message",
			},
			&cli.StringFlag{
				Name:    "body",
				Aliases: []string{"b"},
				Usage:   "Body of a single message (- reads stdin)",
			},
		}, sourceFlags()...), outputFlags()...),
		Action: func(c *cli.Context) error {
			registry, err := newRegistry(c)
			if err != nil {
				return err
			}

			var txs []*parser.Transaction
			switch {
			case c.String("body") != "":
				tx, err := parseSingle(registry, c.String("sender"), c.String("body"), c.App.Reader)
				if err != nil {
					return err
				}
				txs = []*parser.Transaction{tx}
			case c.String("file") != "":
				src, opts, err := sourceFromFlags(c)
				if err != nil {
					return err
				}
				res, err := importer.New(registry, nil, nil, nil, cliLogger()).Run(c.Context, src, opts)
				if err != nil {
					return fmt.Errorf("failed to read export: %w", err)
				}
				fmt.Fprintf(c.App.ErrWriter, "Read %s messages\n", humanize.Comma(int64(res.Fetched)))
				txs = res.Transactions
			default:
				return fmt.Errorf("either --body or --file is required")
			}

			txs, err = filterTransactions(txs, c.StringSlice("must-jq"))
			if err != nil {
				return err
			}
			return writeTransactions(c, txs)
		},
	}
}

func importCommand() *cli.Command {
	return &cli.Command{
		Name:  "import",
		Usage: "Parse an inbox export and store the transactions on the server",
		Description: `Read an export locally, parse it, and submit the transactions to the
API server in batches. Records the server already holds are reported as
duplicates.

Example:
  pesalog import --file sms-backup.xml --user alice`,
		Flags: append(append([]cli.Flag{
			&cli.StringFlag{
				Name:     "user",
				Aliases:  []string{"u"},
				Usage:    "User the transactions belong to",
				Required: true,
			},
			&cli.IntFlag{
				Name:  "batch-size",
				Usage: "Transactions per bulk request",
				Value: 500,
			},
		}, sourceFlags()...), outputFlags()...),
		Action: func(c *cli.Context) error {
			if c.String("file") == "" {
				return fmt.Errorf("--file is required")
			}
			registry, err := newRegistry(c)
			if err != nil {
				return err
			}
			src, opts, err := sourceFromFlags(c)
			if err != nil {
				return err
			}
			opts.UserID = c.String("user")

			logger := cliLogger()
			store := &remoteStore{
				client:    newAPIClient(c, logger),
				batchSize: c.Int("batch-size"),
			}

			res, err := importer.New(registry, store, nil, nil, logger).Run(c.Context, src, opts)
			if err != nil {
				if importer.IsPermissionDenied(err) {
					return fmt.Errorf("cannot read export: permission denied")
				}
				return fmt.Errorf("import failed: %w", err)
			}

			if c.String("csv") != "" {
				if err := writeCSV(c, res.Transactions); err != nil {
					return err
				}
			}

			if c.Bool("json") {
				return outputJSONTo(c.App.Writer, map[string]interface{}{
					"message":    res.Message(),
					"fetched":    res.Fetched,
					"parsed":     len(res.Transactions),
					"created":    res.Created,
					"duplicates": res.Duplicates,
					"failed":     res.Failed,
					"items":      res.Items,
				})
			}

			fmt.Fprintln(c.App.Writer, res.Message())
			fmt.Fprintf(c.App.ErrWriter, "  Fetched:    %s\n", humanize.Comma(int64(res.Fetched)))
			fmt.Fprintf(c.App.ErrWriter, "  Parsed:     %s\n", humanize.Comma(int64(len(res.Transactions))))
			fmt.Fprintf(c.App.ErrWriter, "  Duplicates: %s\n", humanize.Comma(int64(res.Duplicates)))
			fmt.Fprintf(c.App.ErrWriter, "  Failed:     %s\n", humanize.Comma(int64(res.Failed)))
			for _, item := range res.Items {
				if item.Status == db.StatusFailed {
					fmt.Fprintf(c.App.ErrWriter, "  ✗ %s: %s\n", item.ExternalID, item.Error)
				}
			}
			return nil
		},
	}
}

func newRegistry(c *cli.Context) (*parser.Registry, error) {
	tz := c.String("timezone")
	if tz == "" {
		return parser.NewRegistry(), nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", tz, err)
	}
	return parser.NewRegistry(parser.WithLocation(loc)), nil
}

// cliLogger only reports errors so command output stays readable.
func cliLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func parseSingle(registry *parser.Registry, sender, body string, stdin io.Reader) (*parser.Transaction, error) {
	if sender == "" {
		return nil, fmt.Errorf("--sender is required with --body")
	}
	if body == "-" {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return nil, fmt.Errorf("failed to read stdin: %w", err)
		}
		body = strings.TrimSpace(string(data))
	}
	tx, err := registry.Parse(sender, body)
	if err != nil {
		return nil, err
	}
	if tx == nil {
		return nil, fmt.Errorf("message from %s is not a recognized transaction", sender)
	}
	return tx, nil
}

func sourceFromFlags(c *cli.Context) (source.Source, importer.Options, error) {
	src, err := source.Open(c.String("file"), c.String("format"))
	if err != nil {
		return nil, importer.Options{}, err
	}
	opts := importer.Options{
		Senders:  c.StringSlice("senders"),
		MaxCount: c.Int("max-count"),
	}
	if s := c.String("since"); s != "" {
		since, err := parseDate(s)
		if err != nil {
			return nil, importer.Options{}, fmt.Errorf("invalid --since: %w", err)
		}
		opts.Since = since
	}
	return src, opts, nil
}

func parseDate(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", s)
}

// compileJQ parses and compiles each filter.
func compileJQ(filters []string) ([]*gojq.Code, error) {
	codes := make([]*gojq.Code, len(filters))
	for i, filter := range filters {
		query, err := gojq.Parse(filter)
		if err != nil {
			return nil, fmt.Errorf("failed to parse jq filter %q: %w", filter, err)
		}
		codes[i], err = gojq.Compile(query)
		if err != nil {
			return nil, fmt.Errorf("failed to compile jq filter %q: %w", filter, err)
		}
	}
	return codes, nil
}

// matchesJQ reports whether every filter yields a truthy first result for v.
func matchesJQ(codes []*gojq.Code, v interface{}) bool {
	for _, code := range codes {
		iter := code.Run(v)
		out, ok := iter.Next()
		if !ok {
			return false
		}
		if _, isErr := out.(error); isErr {
			return false
		}
		if !isTruthy(out) {
			return false
		}
	}
	return true
}

// isTruthy follows jq semantics: only false and null are falsy.
func isTruthy(v interface{}) bool {
	if v == nil {
		return false
	}
	if b, ok := v.(bool); ok {
		return b
	}
	return true
}

// jqValue converts v into the plain maps and slices gojq operates on.
func jqValue(v interface{}) (interface{}, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out interface{}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func filterTransactions(txs []*parser.Transaction, filters []string) ([]*parser.Transaction, error) {
	if len(filters) == 0 {
		return txs, nil
	}
	codes, err := compileJQ(filters)
	if err != nil {
		return nil, err
	}
	out := make([]*parser.Transaction, 0, len(txs))
	for _, tx := range txs {
		v, err := jqValue(tx)
		if err != nil {
			return nil, fmt.Errorf("failed to encode transaction %s: %w", tx.ID, err)
		}
		if matchesJQ(codes, v) {
			out = append(out, tx)
		}
	}
	return out, nil
}

func csvWriter(c *cli.Context) (*export.CSVWriter, error) {
	delim := []rune(c.String("delimiter"))
	if len(delim) != 1 {
		return nil, fmt.Errorf("--delimiter must be a single character")
	}
	return &export.CSVWriter{Comma: delim[0], BOM: c.Bool("bom")}, nil
}

func writeCSV(c *cli.Context, txs []*parser.Transaction) error {
	w, err := csvWriter(c)
	if err != nil {
		return err
	}
	path := c.String("csv")
	if path == "-" {
		return w.Write(c.App.Writer, txs)
	}
	if err := w.WriteFile(path, txs); err != nil {
		return fmt.Errorf("failed to write CSV: %w", err)
	}
	fmt.Fprintf(c.App.ErrWriter, "Wrote %s transactions to %s\n", humanize.Comma(int64(len(txs))), path)
	return nil
}

type displayedTransaction struct {
	*parser.Transaction
	Display parser.Display `json:"display"`
}

func writeTransactions(c *cli.Context, txs []*parser.Transaction) error {
	if c.String("csv") != "" {
		return writeCSV(c, txs)
	}

	if c.Bool("json") {
		out := make([]displayedTransaction, len(txs))
		for i, tx := range txs {
			out[i] = displayedTransaction{Transaction: tx, Display: parser.Format(tx)}
		}
		return outputJSONTo(c.App.Writer, out)
	}

	w := tabwriter.NewWriter(c.App.Writer, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tPROVIDER\tTYPE\tAMOUNT\tFEE\tPARTY\tDATE")
	for _, tx := range txs {
		d := parser.Format(tx)
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			tx.ID,
			tx.Provider,
			d.TypeLabel,
			d.Amount,
			d.Fee,
			tx.Party,
			d.DateLabel,
		)
	}
	w.Flush()

	fmt.Fprintf(c.App.ErrWriter, "\nTotal: %s transactions\n", humanize.Comma(int64(len(txs))))
	return nil
}

// remoteStore submits imports through the API server's bulk endpoint.
type remoteStore struct {
	client    *client.Client
	batchSize int
}

// BulkCreateTransactions sends params in batches, up to four at a time. A
// failed request marks every item of its batch as failed.
func (s *remoteStore) BulkCreateTransactions(ctx context.Context, params []db.CreateTransactionParams) []db.ItemResult {
	size := s.batchSize
	if size < 1 {
		size = 500
	}
	results := make([]db.ItemResult, len(params))

	var g errgroup.Group
	g.SetLimit(4)
	for start := 0; start < len(params); start += size {
		start, end := start, min(start+size, len(params))
		g.Go(func() error {
			inputs := make([]client.TransactionInput, 0, end-start)
			for _, p := range params[start:end] {
				inputs = append(inputs, inputFromParams(p))
			}

			res, err := s.client.BulkCreate(ctx, "", inputs)
			if err != nil {
				for i := start; i < end; i++ {
					results[i] = db.ItemResult{Index: i, ExternalID: params[i].ExternalID, Status: db.StatusFailed, Error: err.Error()}
				}
				return nil
			}
			for _, item := range res.Results {
				idx := start + item.Index
				if item.Index < 0 || idx >= end {
					continue
				}
				results[idx] = db.ItemResult{Index: idx, ExternalID: item.ID, Status: item.Status, Error: item.Error}
			}
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func inputFromParams(p db.CreateTransactionParams) client.TransactionInput {
	ts := p.OccurredAt
	return client.TransactionInput{
		UserID:     p.UserID,
		Provider:   p.Provider,
		ID:         p.ExternalID,
		Type:       p.Type,
		Title:      p.Title,
		Party:      p.Party,
		Category:   p.Category,
		Amount:     p.Amount,
		Fee:        p.Fee,
		NewBalance: p.NewBalance,
		Date:       p.DisplayDate,
		Time:       p.DisplayTime,
		Timestamp:  &ts,
		Reference:  p.Reference,
		LoopRef:    p.LoopRef,
		MpesaRef:   p.MpesaRef,
		Source:     p.Source,
		Body:       p.RawBody,
	}
}
