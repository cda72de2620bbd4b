package main

import (
	"fmt"
	"log/slog"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/brojonat/pesalog/client"
	"github.com/brojonat/pesalog/service/parser"
	"github.com/dustin/go-humanize"
	"github.com/shopspring/decimal"
	"github.com/urfave/cli/v2"
)

func newAPIClient(c *cli.Context, logger *slog.Logger) *client.Client {
	cl := client.NewClient(c.String("server-url"), nil, logger)
	if token := c.String("token"); token != "" {
		cl = cl.WithToken(token)
	}
	return cl
}

func clientCommands() *cli.Command {
	return &cli.Command{
		Name:  "client",
		Usage: "HTTP client commands for interacting with the pesalog service",
		Subcommands: []*cli.Command{
			clientAddCommand(),
			clientListCommand(),
			clientGetCommand(),
			clientDeleteCommand(),
			clientSummaryCommand(),
			clientParseCommand(),
		},
	}
}

func userFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "user",
		Aliases: []string{"u"},
		Usage:   "User ID (taken from the token when auth is enabled)",
	}
}

func clientAddCommand() *cli.Command {
	return &cli.Command{
		Name:  "add",
		Usage: "Record a manual transaction",
		Flags: []cli.Flag{
			userFlag(),
			&cli.StringFlag{
				Name:     "type",
				Usage:    "income or expense",
				Required: true,
			},
			&cli.StringFlag{
				Name:     "amount",
				Usage:    "Amount, e.g. 250.00",
				Required: true,
			},
			&cli.StringFlag{
				Name:     "title",
				Usage:    "Short description",
				Required: true,
			},
			&cli.StringFlag{
				Name:  "party",
				Usage: "Counterparty",
			},
			&cli.StringFlag{
				Name:  "category",
				Usage: "Category label",
			},
			&cli.StringFlag{
				Name:  "date",
				Usage: "When it happened (YYYY-MM-DD or RFC3339); now when empty",
			},
		},
		Action: func(c *cli.Context) error {
			amount, err := decimal.NewFromString(c.String("amount"))
			if err != nil {
				return fmt.Errorf("invalid amount %q", c.String("amount"))
			}
			in := client.TransactionInput{
				UserID:   c.String("user"),
				Type:     c.String("type"),
				Title:    c.String("title"),
				Party:    c.String("party"),
				Category: optionalFlag(c.String("category")),
				Amount:   amount,
			}
			if d := c.String("date"); d != "" {
				ts, err := parseDate(d)
				if err != nil {
					return fmt.Errorf("invalid --date: %w", err)
				}
				in.Timestamp = &ts
			}

			txn, created, err := newAPIClient(c, cliLogger()).CreateTransaction(c.Context, in)
			if err != nil {
				return err
			}
			if c.Bool("json") {
				return outputJSONTo(c.App.Writer, txn)
			}
			if created {
				fmt.Fprintf(c.App.Writer, "✓ Recorded transaction %d (%s)\n", txn.ID, txn.ExternalID)
			} else {
				fmt.Fprintf(c.App.Writer, "Transaction already recorded as %d\n", txn.ID)
			}
			return nil
		},
	}
}

func clientListCommand() *cli.Command {
	return &cli.Command{
		Name:    "list",
		Usage:   "List transactions",
		Aliases: []string{"ls"},
		Flags: []cli.Flag{
			userFlag(),
			&cli.StringFlag{Name: "provider", Aliases: []string{"p"}, Usage: "Filter by provider"},
			&cli.StringFlag{Name: "type", Usage: "Filter by type (income, expense)"},
			&cli.StringFlag{Name: "party", Usage: "Filter by counterparty substring"},
			&cli.StringFlag{Name: "start-date", Usage: "Inclusive start (YYYY-MM-DD or RFC3339)"},
			&cli.StringFlag{Name: "end-date", Usage: "End date; a bare date covers the whole day"},
			&cli.IntFlag{Name: "limit", Aliases: []string{"n"}, Value: 50, Usage: "Page size"},
			&cli.IntFlag{Name: "offset", Usage: "Rows to skip"},
		},
		Action: func(c *cli.Context) error {
			res, err := newAPIClient(c, cliLogger()).List(c.Context, client.ListOptions{
				UserID:    c.String("user"),
				Provider:  c.String("provider"),
				Type:      c.String("type"),
				Party:     c.String("party"),
				StartDate: c.String("start-date"),
				EndDate:   c.String("end-date"),
				Limit:     c.Int("limit"),
				Offset:    c.Int("offset"),
			})
			if err != nil {
				return err
			}
			if c.Bool("json") {
				return outputJSONTo(c.App.Writer, res)
			}

			w := tabwriter.NewWriter(c.App.Writer, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tPROVIDER\tREF\tTYPE\tAMOUNT\tPARTY\tOCCURRED")
			for _, txn := range res.Transactions {
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\t%s\n",
					txn.ID,
					txn.Provider,
					txn.ExternalID,
					txn.Type,
					txn.Amount.StringFixed(2),
					txn.Party,
					txn.Timestamp.Format(time.RFC3339),
				)
			}
			w.Flush()

			fmt.Fprintf(c.App.ErrWriter, "\nShowing %d of %s transactions\n", res.Count, humanize.Comma(res.Pagination.Total))
			return nil
		},
	}
}

func idArg(c *cli.Context) (int64, error) {
	if c.NArg() != 1 {
		return 0, fmt.Errorf("requires exactly one argument: transaction ID")
	}
	id, err := strconv.ParseInt(c.Args().First(), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid transaction ID %q", c.Args().First())
	}
	return id, nil
}

func clientGetCommand() *cli.Command {
	return &cli.Command{
		Name:      "get",
		Usage:     "Show one transaction",
		ArgsUsage: "<id>",
		Flags:     []cli.Flag{userFlag()},
		Action: func(c *cli.Context) error {
			id, err := idArg(c)
			if err != nil {
				return err
			}
			txn, err := newAPIClient(c, cliLogger()).Get(c.Context, c.String("user"), id)
			if err != nil {
				return err
			}
			return outputJSONTo(c.App.Writer, txn)
		},
	}
}

func clientDeleteCommand() *cli.Command {
	return &cli.Command{
		Name:      "delete",
		Usage:     "Delete one transaction",
		Aliases:   []string{"rm"},
		ArgsUsage: "<id>",
		Flags:     []cli.Flag{userFlag()},
		Action: func(c *cli.Context) error {
			id, err := idArg(c)
			if err != nil {
				return err
			}
			if err := newAPIClient(c, cliLogger()).Delete(c.Context, c.String("user"), id); err != nil {
				return err
			}
			fmt.Fprintf(c.App.Writer, "✓ Deleted transaction %d\n", id)
			return nil
		},
	}
}

func clientSummaryCommand() *cli.Command {
	return &cli.Command{
		Name:  "summary",
		Usage: "Show totals for a user",
		Flags: []cli.Flag{
			userFlag(),
			&cli.StringFlag{Name: "provider", Aliases: []string{"p"}, Usage: "Restrict to one provider"},
			&cli.StringFlag{Name: "start-date", Usage: "Inclusive start (YYYY-MM-DD or RFC3339)"},
			&cli.StringFlag{Name: "end-date", Usage: "End date; a bare date covers the whole day"},
		},
		Action: func(c *cli.Context) error {
			sum, err := newAPIClient(c, cliLogger()).Summary(c.Context, client.SummaryOptions{
				UserID:    c.String("user"),
				Provider:  c.String("provider"),
				StartDate: c.String("start-date"),
				EndDate:   c.String("end-date"),
			})
			if err != nil {
				return err
			}
			if c.Bool("json") {
				return outputJSONTo(c.App.Writer, sum)
			}

			fmt.Fprintf(c.App.Writer, "Transactions: %s\n", humanize.Comma(sum.Count))
			fmt.Fprintf(c.App.Writer, "Income:       %s\n", sum.TotalIncome.StringFixed(2))
			fmt.Fprintf(c.App.Writer, "Expense:      %s\n", sum.TotalExpense.StringFixed(2))
			fmt.Fprintf(c.App.Writer, "Fees:         %s\n", sum.TotalFees.StringFixed(2))
			fmt.Fprintf(c.App.Writer, "Balance:      %s\n", sum.Balance.StringFixed(2))
			return nil
		},
	}
}

func clientParseCommand() *cli.Command {
	return &cli.Command{
		Name:      "parse",
		Usage:     "Parse one message on the server",
		ArgsUsage: "<sender> <body>",
		Action: func(c *cli.Context) error {
			if c.NArg() != 2 {
				return fmt.Errorf("requires two arguments: sender and body")
			}
			res, err := newAPIClient(c, cliLogger()).Parse(c.Context, []parser.Message{
				{Sender: c.Args().Get(0), Body: c.Args().Get(1)},
			})
			if err != nil {
				return err
			}
			if res.Count == 0 {
				return fmt.Errorf("message is not a recognized transaction")
			}
			return outputJSONTo(c.App.Writer, res.Transactions[0])
		},
	}
}
