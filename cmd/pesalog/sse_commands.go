package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	natspkg "github.com/brojonat/pesalog/service/nats"
	"github.com/dustin/go-humanize"
	"github.com/urfave/cli/v2"
)

func sseCommands() *cli.Command {
	return &cli.Command{
		Name:  "sse",
		Usage: "Server-Sent Events (SSE) streaming commands",
		Subcommands: []*cli.Command{
			streamCommand(),
		},
	}
}

func streamCommand() *cli.Command {
	return &cli.Command{
		Name:      "stream",
		Usage:     "Stream new transactions via SSE (HTTP)",
		ArgsUsage: "[provider]",
		Action: func(c *cli.Context) error {
			serverURL := c.String("server-url")
			provider := c.Args().First()
			jsonOutput := c.Bool("json")

			url := serverURL + "/api/v1/stream/transactions"
			if provider != "" {
				url += "/" + provider
			}

			// Create context that cancels on interrupt
			ctx, cancel := context.WithCancel(c.Context)
			defer cancel()

			sigChan := make(chan os.Signal, 1)
			signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
			go func() {
				<-sigChan
				cancel()
			}()

			req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
			if err != nil {
				return fmt.Errorf("failed to create request: %w", err)
			}
			req.Header.Set("Accept", "text/event-stream")
			if token := c.String("token"); token != "" {
				req.Header.Set("Authorization", "Bearer "+token)
			}

			client := &http.Client{
				Timeout: 0, // No timeout for streaming
			}
			resp, err := client.Do(req)
			if err != nil {
				return fmt.Errorf("failed to connect to SSE endpoint: %w", err)
			}
			defer resp.Body.Close()

			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("server returned status %d", resp.StatusCode)
			}

			if !jsonOutput {
				if provider != "" {
					fmt.Fprintf(os.Stderr, "Connected to SSE stream for provider: %s\n", provider)
				} else {
					fmt.Fprintf(os.Stderr, "Connected to SSE stream for all providers\n")
				}
				fmt.Fprintf(os.Stderr, "Streaming transactions... (Ctrl+C to stop)\n\n")
			}

			err = readSSE(resp.Body, func(event, data string) error {
				return handleSSEEvent(event, data, jsonOutput)
			})
			if err != nil && ctx.Err() != nil {
				if !jsonOutput {
					fmt.Fprintf(os.Stderr, "\nDisconnected\n")
				}
				return nil
			}
			return err
		},
	}
}

// readSSE calls handle for each complete event in r. Handler errors are
// reported and do not stop the stream.
func readSSE(r io.Reader, handle func(event, data string) error) error {
	scanner := bufio.NewScanner(r)
	var currentEvent, currentData string

	for scanner.Scan() {
		line := scanner.Text()

		// Empty line indicates end of event
		if line == "" {
			if currentEvent != "" && currentData != "" {
				if err := handle(currentEvent, currentData); err != nil {
					fmt.Fprintf(os.Stderr, "Error handling event: %v\n", err)
				}
			}
			currentEvent = ""
			currentData = ""
			continue
		}

		if strings.HasPrefix(line, "event:") {
			currentEvent = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		} else if strings.HasPrefix(line, "data:") {
			currentData = strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("error reading SSE stream: %w", err)
	}
	return nil
}

func handleSSEEvent(eventType, data string, jsonOutput bool) error {
	switch eventType {
	case "connected":
		if !jsonOutput {
			var info map[string]interface{}
			if err := json.Unmarshal([]byte(data), &info); err != nil {
				return err
			}
			if provider, ok := info["provider"].(string); ok {
				fmt.Fprintf(os.Stderr, "✓ Subscribed to: %s\n\n", provider)
			}
		}
		return nil

	case "transaction":
		var txn natspkg.TransactionEvent
		if err := json.Unmarshal([]byte(data), &txn); err != nil {
			return err
		}

		if jsonOutput {
			fmt.Println(data)
		} else {
			printTransaction(txn)
		}
		return nil

	case "error":
		var errInfo map[string]interface{}
		if err := json.Unmarshal([]byte(data), &errInfo); err != nil {
			return err
		}
		return fmt.Errorf("server error: %v", errInfo["error"])

	default:
		// Unknown event type, ignore
		return nil
	}
}

func printTransaction(txn natspkg.TransactionEvent) {
	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Printf("Reference:  %s\n", txn.ExternalID)
	fmt.Printf("Provider:   %s\n", txn.Provider)
	fmt.Printf("User:       %s\n", txn.UserID)
	fmt.Printf("Type:       %s\n", txn.Type)
	fmt.Printf("Amount:     %s\n", txn.Amount.StringFixed(2))
	if txn.Fee.IsPositive() {
		fmt.Printf("Fee:        %s\n", txn.Fee.StringFixed(2))
	}
	if txn.Party != "" {
		fmt.Printf("Party:      %s\n", txn.Party)
	}
	if !txn.OccurredAt.IsZero() {
		fmt.Printf("Occurred:   %s (%s)\n", txn.OccurredAt.Format(time.RFC3339), humanize.Time(txn.OccurredAt))
	}
	fmt.Printf("Published:  %s\n", txn.PublishedAt.Format(time.RFC3339))
	fmt.Println()
}
