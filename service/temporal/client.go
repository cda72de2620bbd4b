package temporal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	enumspb "go.temporal.io/api/enums/v1"
	"go.temporal.io/api/workflowservice/v1"
	"go.temporal.io/sdk/client"
	temporalsdk "go.temporal.io/sdk/temporal"
)

// WorkflowStarter is the subset of the Temporal SDK client used here.
type WorkflowStarter interface {
	ExecuteWorkflow(ctx context.Context, options client.StartWorkflowOptions, workflow interface{}, args ...interface{}) (client.WorkflowRun, error)
	GetWorkflow(ctx context.Context, workflowID string, runID string) client.WorkflowRun
	DescribeWorkflowExecution(ctx context.Context, workflowID, runID string) (*workflowservice.DescribeWorkflowExecutionResponse, error)
	Close()
}

// Client starts and inspects import workflows.
type Client struct {
	client    WorkflowStarter
	taskQueue string
	logger    *slog.Logger
}

// NewClient creates a new Temporal client.
func NewClient(host, namespace, taskQueue string, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}

	logger.Info("connecting to temporal",
		"host", host,
		"namespace", namespace,
		"task_queue", taskQueue,
	)

	c, err := client.Dial(client.Options{
		HostPort:  host,
		Namespace: namespace,
		Logger:    newTemporalLogger(logger),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Temporal: %w", err)
	}

	logger.Info("connected to temporal successfully")

	return NewClientFromSDK(c, taskQueue, logger), nil
}

// NewClientFromSDK wraps an existing SDK client.
func NewClientFromSDK(c WorkflowStarter, taskQueue string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		client:    c,
		taskQueue: taskQueue,
		logger:    logger,
	}
}

// ImportWorkflowID returns a fresh workflow id for a user's import.
func ImportWorkflowID(userID string) string {
	return "import-" + userID + "-" + uuid.NewString()
}

// StartImport starts an ImportMessagesWorkflow and returns its workflow and run ids.
func (c *Client) StartImport(ctx context.Context, input ImportMessagesInput) (string, string, error) {
	if strings.TrimSpace(input.UserID) == "" {
		return "", "", fmt.Errorf("user_id is required")
	}
	if strings.TrimSpace(input.Path) == "" {
		return "", "", fmt.Errorf("path is required")
	}

	id := ImportWorkflowID(input.UserID)
	run, err := c.client.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:        id,
		TaskQueue: c.taskQueue,
		Memo: map[string]interface{}{
			"user_id":    input.UserID,
			"path":       input.Path,
			"created_by": "pesalog",
		},
	}, ImportMessagesWorkflow, input)
	if err != nil {
		c.logger.Error("failed to start import workflow",
			"user_id", input.UserID,
			"workflow_id", id,
			"error", err,
		)
		return "", "", fmt.Errorf("failed to start import workflow %q: %w", id, err)
	}

	c.logger.Info("import workflow started",
		"user_id", input.UserID,
		"path", input.Path,
		"workflow_id", run.GetID(),
		"run_id", run.GetRunID(),
	)
	return run.GetID(), run.GetRunID(), nil
}

// ImportStatus describes an import workflow execution.
type ImportStatus struct {
	WorkflowID string                `json:"workflow_id"`
	RunID      string                `json:"run_id"`
	Status     string                `json:"status"`
	Result     *ImportMessagesResult `json:"result,omitempty"`
	Error      string                `json:"error,omitempty"`
	// ErrorType is the application error type, e.g. SourceError.
	ErrorType string `json:"error_type,omitempty"`
}

// GetImportStatus reports the state of an import workflow. The result is
// included once the workflow has completed.
func (c *Client) GetImportStatus(ctx context.Context, workflowID, runID string) (*ImportStatus, error) {
	desc, err := c.client.DescribeWorkflowExecution(ctx, workflowID, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to describe workflow %q: %w", workflowID, err)
	}

	info := desc.GetWorkflowExecutionInfo()
	status := &ImportStatus{
		WorkflowID: workflowID,
		RunID:      info.GetExecution().GetRunId(),
		Status:     statusName(info.GetStatus()),
	}

	switch info.GetStatus() {
	case enumspb.WORKFLOW_EXECUTION_STATUS_COMPLETED:
		var result ImportMessagesResult
		if err := c.client.GetWorkflow(ctx, workflowID, status.RunID).Get(ctx, &result); err != nil {
			return nil, fmt.Errorf("failed to get workflow result: %w", err)
		}
		status.Result = &result
	case enumspb.WORKFLOW_EXECUTION_STATUS_FAILED:
		err := c.client.GetWorkflow(ctx, workflowID, status.RunID).Get(ctx, nil)
		if err != nil {
			status.Error = err.Error()
			var appErr *temporalsdk.ApplicationError
			if errors.As(err, &appErr) {
				status.ErrorType = appErr.Type()
			}
		}
	}

	c.logger.Debug("import workflow status",
		"workflow_id", workflowID,
		"status", status.Status,
	)
	return status, nil
}

// statusName returns the lower-case status name, e.g. "running".
func statusName(s enumspb.WorkflowExecutionStatus) string {
	return strings.ToLower(strings.TrimPrefix(s.String(), "WORKFLOW_EXECUTION_STATUS_"))
}

// TaskQueue returns the configured task queue for this client.
func (c *Client) TaskQueue() string {
	return c.taskQueue
}

// Close closes the Temporal client connection.
func (c *Client) Close() {
	c.logger.Info("closing temporal client")
	c.client.Close()
}

// temporalLogger adapts slog.Logger to Temporal's logger interface.
type temporalLogger struct {
	logger *slog.Logger
}

func newTemporalLogger(logger *slog.Logger) *temporalLogger {
	return &temporalLogger{logger: logger}
}

func (l *temporalLogger) Debug(msg string, keyvals ...interface{}) {
	l.logger.Debug(msg, keyvals...)
}

func (l *temporalLogger) Info(msg string, keyvals ...interface{}) {
	l.logger.Info(msg, keyvals...)
}

func (l *temporalLogger) Warn(msg string, keyvals ...interface{}) {
	l.logger.Warn(msg, keyvals...)
}

func (l *temporalLogger) Error(msg string, keyvals ...interface{}) {
	l.logger.Error(msg, keyvals...)
}
