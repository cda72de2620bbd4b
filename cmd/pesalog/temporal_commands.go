package main

import (
	"context"
	"fmt"
	"time"

	"github.com/brojonat/pesalog/service/temporal"
	"github.com/dustin/go-humanize"
	"github.com/urfave/cli/v2"
)

func startImportCommand() *cli.Command {
	return &cli.Command{
		Name:  "start-import",
		Usage: "Start an import workflow for an export on the worker host",
		Description: `Start ImportMessagesWorkflow. The path is resolved against the worker's
IMPORT_DIR, so the export must already be on the worker host.

Example:
  pesalog temporal start-import --user alice --path alice/sms-backup.xml --wait`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "user",
				Aliases:  []string{"u"},
				Usage:    "User the transactions belong to",
				Required: true,
			},
			&cli.StringFlag{
				Name:     "path",
				Usage:    "Export path relative to the worker's import directory",
				Required: true,
			},
			&cli.StringFlag{
				Name:  "format",
				Usage: "Export format (xml, json); inferred from the extension when empty",
			},
			&cli.StringSliceFlag{
				Name:  "senders",
				Usage: "Senders to read; all known senders when empty",
			},
			&cli.IntFlag{
				Name:  "max-count",
				Usage: "Newest messages to read per sender",
			},
			&cli.StringFlag{
				Name:  "since",
				Usage: "Skip messages received before this date (YYYY-MM-DD or RFC3339)",
			},
			&cli.BoolFlag{
				Name:  "wait",
				Usage: "Wait for the workflow to finish and print its result",
			},
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "How long --wait polls before giving up",
				Value: 5 * time.Minute,
			},
		},
		Action: func(c *cli.Context) error {
			input := temporal.ImportMessagesInput{
				UserID:   c.String("user"),
				Path:     c.String("path"),
				Format:   c.String("format"),
				Senders:  c.StringSlice("senders"),
				MaxCount: c.Int("max-count"),
			}
			if s := c.String("since"); s != "" {
				since, err := parseDate(s)
				if err != nil {
					return fmt.Errorf("invalid --since: %w", err)
				}
				input.Since = &since
			}

			tc, err := getTemporalClient(c)
			if err != nil {
				return err
			}
			defer tc.Close()

			ctx := context.Background()
			workflowID, runID, err := tc.StartImport(ctx, input)
			if err != nil {
				return err
			}

			if !c.Bool("wait") {
				if c.Bool("json") {
					return outputJSON(map[string]string{"workflow_id": workflowID, "run_id": runID})
				}
				fmt.Printf("✓ Started import workflow\n")
				fmt.Printf("  Workflow ID: %s\n", workflowID)
				fmt.Printf("  Run ID:      %s\n", runID)
				return nil
			}

			status, err := waitForImport(ctx, tc, workflowID, runID, c.Duration("timeout"))
			if err != nil {
				return err
			}
			return printImportStatus(c, status)
		},
	}
}

func importStatusCommand() *cli.Command {
	return &cli.Command{
		Name:      "import-status",
		Usage:     "Show the status of an import workflow",
		Aliases:   []string{"status"},
		ArgsUsage: "<workflow-id>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "run-id",
				Usage: "Run ID (latest run when empty)",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: workflow ID")
			}

			tc, err := getTemporalClient(c)
			if err != nil {
				return err
			}
			defer tc.Close()

			status, err := tc.GetImportStatus(context.Background(), c.Args().First(), c.String("run-id"))
			if err != nil {
				return err
			}
			return printImportStatus(c, status)
		},
	}
}

// waitForImport polls until the workflow leaves the running state.
func waitForImport(ctx context.Context, tc *temporal.Client, workflowID, runID string, timeout time.Duration) (*temporal.ImportStatus, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		status, err := tc.GetImportStatus(ctx, workflowID, runID)
		if err != nil {
			return nil, err
		}
		if status.Status != "running" {
			return status, nil
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("timed out waiting for workflow %s", workflowID)
		case <-ticker.C:
		}
	}
}

func printImportStatus(c *cli.Context, status *temporal.ImportStatus) error {
	if c.Bool("json") {
		return outputJSON(status)
	}

	fmt.Printf("Workflow ID:  %s\n", status.WorkflowID)
	fmt.Printf("Run ID:       %s\n", status.RunID)
	fmt.Printf("Status:       %s\n", status.Status)
	if status.Error != "" {
		fmt.Printf("Error:        %s\n", status.Error)
		if status.ErrorType != "" {
			fmt.Printf("Error Type:   %s\n", status.ErrorType)
		}
	}
	if r := status.Result; r != nil {
		fmt.Printf("\n%s\n", r.Message)
		fmt.Printf("  Fetched:    %s\n", humanize.Comma(int64(r.Fetched)))
		fmt.Printf("  Parsed:     %s\n", humanize.Comma(int64(r.Parsed)))
		fmt.Printf("  Created:    %s\n", humanize.Comma(int64(r.Created)))
		fmt.Printf("  Duplicates: %s\n", humanize.Comma(int64(r.Duplicates)))
		fmt.Printf("  Failed:     %s\n", humanize.Comma(int64(r.Failed)))
		fmt.Printf("  Published:  %s\n", humanize.Comma(int64(r.Published)))
		if !r.FinishedAt.IsZero() {
			fmt.Printf("  Duration:   %s\n", r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond))
		}
	}
	return nil
}

func getTemporalClient(c *cli.Context) (*temporal.Client, error) {
	host := c.String("temporal-host")
	if host == "" {
		host = "localhost:7233"
	}
	namespace := c.String("temporal-namespace")
	if namespace == "" {
		namespace = "default"
	}
	taskQueue := c.String("temporal-task-queue")
	if taskQueue == "" {
		taskQueue = "pesalog-import"
	}
	return temporal.NewClient(host, namespace, taskQueue, cliLogger())
}
