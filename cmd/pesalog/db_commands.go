package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/brojonat/pesalog/service/db"
	"github.com/dustin/go-humanize"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/urfave/cli/v2"
)

func listTransactionsCommand() *cli.Command {
	return &cli.Command{
		Name:    "list-transactions",
		Usage:   "List a user's stored transactions",
		Aliases: []string{"ls"},
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "user",
				Aliases:  []string{"u"},
				Usage:    "User ID",
				Required: true,
			},
			&cli.StringFlag{
				Name:    "provider",
				Aliases: []string{"p"},
				Usage:   "Filter by provider (mpesa, kcb, loop, manual)",
			},
			&cli.StringFlag{
				Name:  "type",
				Usage: "Filter by type (income, expense)",
			},
			&cli.StringFlag{
				Name:  "party",
				Usage: "Filter by counterparty (case-insensitive substring)",
			},
			&cli.IntFlag{
				Name:    "limit",
				Aliases: []string{"n"},
				Usage:   "Maximum number of transactions to show",
				Value:   50,
			},
		},
		Action: func(c *cli.Context) error {
			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			params := db.ListTransactionsParams{
				UserID:   c.String("user"),
				Provider: optionalFlag(strings.ToLower(c.String("provider"))),
				Type:     optionalFlag(strings.ToLower(c.String("type"))),
				Party:    optionalFlag(c.String("party")),
				Limit:    int32(c.Int("limit")),
			}

			transactions, total, err := store.ListTransactions(context.Background(), params)
			if err != nil {
				return fmt.Errorf("failed to list transactions: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(transactions)
			}

			// Pretty table output
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tPROVIDER\tREF\tTYPE\tAMOUNT\tPARTY\tOCCURRED\tSTORED")
			for _, txn := range transactions {
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
					txn.ID,
					txn.Provider,
					txn.ExternalID,
					txn.Type,
					txn.Amount.StringFixed(2),
					txn.Party,
					txn.OccurredAt.Format(time.RFC3339),
					humanize.Time(txn.CreatedAt),
				)
			}
			w.Flush()

			fmt.Fprintf(os.Stderr, "\nShowing %d of %s transactions\n", len(transactions), humanize.Comma(total))
			return nil
		},
	}
}

func getTransactionCommand() *cli.Command {
	return &cli.Command{
		Name:      "get-transaction",
		Usage:     "Show one stored transaction",
		Aliases:   []string{"get"},
		ArgsUsage: "<id>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "user",
				Aliases:  []string{"u"},
				Usage:    "User ID",
				Required: true,
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: transaction ID")
			}
			id, err := strconv.ParseInt(c.Args().First(), 10, 64)
			if err != nil {
				return fmt.Errorf("invalid transaction ID %q", c.Args().First())
			}

			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			txn, err := store.GetTransaction(context.Background(), c.String("user"), id)
			if err != nil {
				return fmt.Errorf("failed to get transaction: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(txn)
			}

			fmt.Printf("ID:          %d\n", txn.ID)
			fmt.Printf("User:        %s\n", txn.UserID)
			fmt.Printf("Provider:    %s\n", txn.Provider)
			fmt.Printf("Reference:   %s\n", txn.ExternalID)
			fmt.Printf("Type:        %s\n", txn.Type)
			fmt.Printf("Title:       %s\n", txn.Title)
			fmt.Printf("Party:       %s\n", txn.Party)
			fmt.Printf("Amount:      %s\n", txn.Amount.StringFixed(2))
			fmt.Printf("Fee:         %s\n", txn.Fee.StringFixed(2))
			if txn.NewBalance != nil {
				fmt.Printf("Balance:     %s\n", txn.NewBalance.StringFixed(2))
			}
			if txn.MpesaRef != nil {
				fmt.Printf("M-PESA Ref:  %s\n", *txn.MpesaRef)
			}
			fmt.Printf("Occurred:    %s\n", txn.OccurredAt.Format(time.RFC3339))
			fmt.Printf("Source:      %s\n", txn.Source)
			fmt.Printf("Stored:      %s (%s)\n", txn.CreatedAt.Format(time.RFC3339), humanize.Time(txn.CreatedAt))
			return nil
		},
	}
}

func summaryCommand() *cli.Command {
	return &cli.Command{
		Name:  "summary",
		Usage: "Show income, expense and fee totals for a user",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "user",
				Aliases:  []string{"u"},
				Usage:    "User ID",
				Required: true,
			},
			&cli.StringFlag{
				Name:    "provider",
				Aliases: []string{"p"},
				Usage:   "Restrict to one provider",
			},
		},
		Action: func(c *cli.Context) error {
			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			sum, err := store.Summarize(context.Background(), db.SummaryParams{
				UserID:   c.String("user"),
				Provider: optionalFlag(strings.ToLower(c.String("provider"))),
			})
			if err != nil {
				return fmt.Errorf("failed to summarize transactions: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(sum)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "TYPE\tCOUNT\tTOTAL\tAVERAGE\tMIN\tMAX\tFEES")
			for _, t := range sum.ByType {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
					t.Type,
					humanize.Comma(t.Count),
					t.Total.StringFixed(2),
					t.Average.StringFixed(2),
					t.Min.StringFixed(2),
					t.Max.StringFixed(2),
					t.Fees.StringFixed(2),
				)
			}
			w.Flush()

			fmt.Printf("\nIncome:   %s\n", sum.TotalIncome.StringFixed(2))
			fmt.Printf("Expense:  %s\n", sum.TotalExpense.StringFixed(2))
			fmt.Printf("Fees:     %s\n", sum.TotalFees.StringFixed(2))
			fmt.Printf("Balance:  %s\n", sum.Balance.StringFixed(2))
			return nil
		},
	}
}

func optionalFlag(v string) *string {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	return &v
}

// Helper function to connect to database
func getStore(c *cli.Context) (*db.Store, func(), error) {
	pool, err := getPool(c)
	if err != nil {
		return nil, nil, err
	}
	return db.NewStore(pool), pool.Close, nil
}

func getPool(c *cli.Context) (*pgxpool.Pool, error) {
	dbURL := c.String("database-url")
	if dbURL == "" {
		dbURL = os.Getenv("DATABASE_URL")
	}
	if dbURL == "" {
		return nil, fmt.Errorf("database-url is required (set DATABASE_URL env var or use --database-url)")
	}

	pool, err := pgxpool.New(context.Background(), dbURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return pool, nil
}

func migrateCommand() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "Create the transactions table and indexes if missing",
		Action: func(c *cli.Context) error {
			pool, err := getPool(c)
			if err != nil {
				return err
			}
			defer pool.Close()

			if err := db.Migrate(c.Context, pool); err != nil {
				return err
			}
			fmt.Fprintln(c.App.Writer, "schema is up to date")
			return nil
		},
	}
}

// Helper function to output JSON
func outputJSON(v interface{}) error {
	return outputJSONTo(os.Stdout, v)
}

func outputJSONTo(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
