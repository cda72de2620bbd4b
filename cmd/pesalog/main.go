package main

import (
	"fmt"
	"log"
	"os"
	_ "time/tzdata"

	"github.com/urfave/cli/v2"
)

var (
	// Version information (set via ldflags during build)
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "pesalog",
		Usage: "Mobile money SMS transaction log CLI",
		Description: `A command-line tool for parsing M-PESA, KCB and LOOP SMS messages and
working with the pesalog service.

Use this CLI to parse exports locally, import them into the server, inspect
database state, start import workflows, and follow new transactions.`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		Commands: []*cli.Command{
			parseCommand(),
			importCommand(),
			// Database inspection commands
			{
				Name:  "db",
				Usage: "Database inspection commands",
				Subcommands: []*cli.Command{
					listTransactionsCommand(),
					getTransactionCommand(),
					summaryCommand(),
					migrateCommand(),
				},
			},
			// Temporal import workflows
			{
				Name:  "temporal",
				Usage: "Temporal import workflow commands",
				Subcommands: []*cli.Command{
					startImportCommand(),
					importStatusCommand(),
				},
			},
			// NATS transaction streaming commands
			{
				Name:  "nats",
				Usage: "NATS transaction streaming commands",
				Subcommands: []*cli.Command{
					subscribeCommand(),
					inspectStreamCommand(),
				},
			},
			sseCommands(),
			clientCommands(),
			// Server utility commands
			{
				Name:  "server",
				Usage: "Server utility commands",
				Subcommands: []*cli.Command{
					healthCommand(),
					versionCommand(),
				},
			},
		},
		// Global flags available to all commands
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "database-url",
				Usage:   "Database connection URL",
				EnvVars: []string{"DATABASE_URL"},
			},
			&cli.StringFlag{
				Name:    "temporal-host",
				Usage:   "Temporal server address",
				EnvVars: []string{"TEMPORAL_HOST"},
				Value:   "localhost:7233",
			},
			&cli.StringFlag{
				Name:    "temporal-namespace",
				Usage:   "Temporal namespace",
				EnvVars: []string{"TEMPORAL_NAMESPACE"},
				Value:   "default",
			},
			&cli.StringFlag{
				Name:    "temporal-task-queue",
				Usage:   "Temporal task queue of the import worker",
				EnvVars: []string{"TEMPORAL_TASK_QUEUE"},
				Value:   "pesalog-import",
			},
			&cli.StringFlag{
				Name:    "server-url",
				Usage:   "pesalog API server URL",
				EnvVars: []string{"SERVER_URL"},
				Value:   "http://localhost:8080",
			},
			&cli.StringFlag{
				Name:    "token",
				Usage:   "Bearer token for the API server",
				EnvVars: []string{"PESALOG_TOKEN"},
			},
			&cli.StringFlag{
				Name:    "nats-url",
				Usage:   "NATS server URL",
				EnvVars: []string{"NATS_URL"},
				Value:   "nats://localhost:4222",
			},
			&cli.StringFlag{
				Name:    "timezone",
				Usage:   "IANA zone message dates are read in",
				EnvVars: []string{"TIMEZONE"},
				Value:   "Africa/Nairobi",
			},
			&cli.BoolFlag{
				Name:    "json",
				Aliases: []string{"j"},
				Usage:   "Output in JSON format",
			},
		},
	}
}
