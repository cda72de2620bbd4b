package temporal

import (
	"errors"
	"fmt"
	"time"

	"github.com/brojonat/pesalog/service/importer"
	temporalsdk "go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

var a *Activities // for type-safe activity invocation

// ImportMessagesWorkflow imports an SMS export for one user.
//
// The workflow performs these steps:
// 1. Read messages from the export file (FetchMessages)
// 2. Parse them into transactions (ParseMessages)
// 3. Store them, reporting per-item outcomes (StoreTransactions)
// 4. Publish events for newly created records (PublishTransactions)
//
// A source read failure fails the workflow with a non-retryable
// application error of type SourceError. A publish failure does not.
func ImportMessagesWorkflow(ctx workflow.Context, input ImportMessagesInput) (*ImportMessagesResult, error) {
	logger := workflow.GetLogger(ctx)
	logger.Info("ImportMessagesWorkflow started", "user_id", input.UserID, "path", input.Path)

	result := &ImportMessagesResult{
		UserID:    input.UserID,
		StartedAt: workflow.Now(ctx),
	}

	activityOptions := workflow.ActivityOptions{
		StartToCloseTimeout: 300 * time.Second,
		RetryPolicy: &temporalsdk.RetryPolicy{
			InitialInterval:        time.Second,
			BackoffCoefficient:     2.0,
			MaximumInterval:        30 * time.Second,
			MaximumAttempts:        3,
			NonRetryableErrorTypes: []string{SourceErrorType, InvalidInputType},
		},
	}
	ctx = workflow.WithActivityOptions(ctx, activityOptions)

	// Step 1: read the export
	var fetched *FetchMessagesResult
	err := workflow.ExecuteActivity(ctx, a.FetchMessages, FetchMessagesInput{
		Path:     input.Path,
		Format:   input.Format,
		Senders:  input.Senders,
		MaxCount: input.MaxCount,
		Since:    input.Since,
	}).Get(ctx, &fetched)
	if err != nil {
		logger.Error("failed to fetch messages", "path", input.Path, "error", err)
		var appErr *temporalsdk.ApplicationError
		if errors.As(err, &appErr) && appErr.Type() == SourceErrorType {
			return nil, temporalsdk.NewNonRetryableApplicationError(appErr.Error(), SourceErrorType, err)
		}
		return nil, fmt.Errorf("failed to fetch messages: %w", err)
	}
	result.Fetched = len(fetched.Messages)

	if result.Fetched == 0 {
		logger.Info("no messages found", "path", input.Path)
		return finish(ctx, result), nil
	}

	// Step 2: parse
	var parsed *ParseMessagesResult
	err = workflow.ExecuteActivity(ctx, a.ParseMessages, ParseMessagesInput{
		Messages: fetched.Messages,
	}).Get(ctx, &parsed)
	if err != nil {
		logger.Error("failed to parse messages", "error", err)
		return nil, fmt.Errorf("failed to parse messages: %w", err)
	}
	result.Parsed = len(parsed.Transactions)

	if result.Parsed == 0 {
		logger.Info("no transactions parsed", "fetched", result.Fetched)
		return finish(ctx, result), nil
	}

	// Step 3: store
	var stored *StoreTransactionsResult
	err = workflow.ExecuteActivity(ctx, a.StoreTransactions, StoreTransactionsInput{
		UserID:       input.UserID,
		Transactions: parsed.Transactions,
	}).Get(ctx, &stored)
	if err != nil {
		logger.Error("failed to store transactions", "user_id", input.UserID, "error", err)
		return nil, fmt.Errorf("failed to store transactions: %w", err)
	}
	result.Created = stored.Created
	result.Duplicates = stored.Duplicates
	result.Failed = stored.Failed
	result.Items = stored.Items

	// Step 4: publish. Records are already stored, so a failure is only logged.
	if len(stored.Stored) > 0 {
		var published *PublishTransactionsResult
		err = workflow.ExecuteActivity(ctx, a.PublishTransactions, PublishTransactionsInput{
			Transactions: stored.Stored,
		}).Get(ctx, &published)
		if err != nil {
			logger.Warn("failed to publish transactions", "count", len(stored.Stored), "error", err)
		} else {
			result.Published = published.Published
		}
	}

	logger.Info("ImportMessagesWorkflow completed successfully",
		"user_id", input.UserID,
		"fetched", result.Fetched,
		"parsed", result.Parsed,
		"created", result.Created,
		"duplicates", result.Duplicates,
		"failed", result.Failed,
	)

	return finish(ctx, result), nil
}

func finish(ctx workflow.Context, result *ImportMessagesResult) *ImportMessagesResult {
	result.Message = importer.ImportedMessage(result.Created)
	result.FinishedAt = workflow.Now(ctx)
	return result
}
