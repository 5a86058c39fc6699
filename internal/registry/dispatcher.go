package registry

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/PhupaSirirat/dbank-copilot/internal/knowledge"
	"github.com/PhupaSirirat/dbank-copilot/internal/kpi"
	"github.com/PhupaSirirat/dbank-copilot/internal/warehouse"
	"github.com/PhupaSirirat/dbank-copilot/pkg/logging"
)

// CallRequest is the wire format accepted by POST /tools/call.
type CallRequest struct {
	Tool       string         `json:"tool" binding:"required"`
	Parameters map[string]any `json:"parameters"`
	UserID     string         `json:"user_id"`
	SessionID  string         `json:"session_id"`
}

// CallResponse is the wire format returned by POST /tools/call. Tool
// failures are data, not transport errors: Success is false and Error
// carries the message.
type CallResponse struct {
	Success         bool           `json:"success"`
	Result          any            `json:"result"`
	Error           string         `json:"error,omitempty"`
	ExecutionTimeMS int64          `json:"execution_time_ms"`
	ToolCallID      string         `json:"tool_call_id"`
	Metadata        map[string]any `json:"metadata"`
}

type sqlExecutor interface {
	Execute(ctx context.Context, req warehouse.Request) (*warehouse.Result, error)
}

type kbSearcher interface {
	Search(ctx context.Context, p knowledge.Params) (*knowledge.Response, error)
}

type kpiLookup interface {
	TopRootCauses(ctx context.Context, p kpi.RootCauseParams) ([]kpi.RootCause, error)
}

// Dispatcher routes tool calls to their backends and records every call in
// the audit log.
type Dispatcher struct {
	executor sqlExecutor
	searcher kbSearcher
	kpi      kpiLookup
	audit    *AuditLog
	logger   logging.Logger
}

type DispatcherConfig struct {
	Executor sqlExecutor
	Searcher kbSearcher
	KPI      kpiLookup
	Audit    *AuditLog
	Logger   logging.Logger
}

func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	return &Dispatcher{
		executor: cfg.Executor,
		searcher: cfg.Searcher,
		kpi:      cfg.KPI,
		audit:    cfg.Audit,
		logger:   cfg.Logger,
	}
}

// Dispatch runs one tool call end to end: route, execute, audit, respond.
func (d *Dispatcher) Dispatch(ctx context.Context, req CallRequest) CallResponse {
	start := time.Now()
	toolCallID := fmt.Sprintf("%s_%s", req.Tool, uuid.NewString())
	userID := req.UserID
	if userID == "" {
		userID = "anonymous"
	}

	d.logger.WithFields(logging.Fields{
		"tool":         req.Tool,
		"user_id":      userID,
		"tool_call_id": toolCallID,
	}).Info("Dispatching tool call")

	var (
		result  any
		summary string
		err     error
	)
	switch req.Tool {
	case ToolSQLQuery:
		result, summary, err = d.runSQLQuery(ctx, req.Parameters)
	case ToolKBSearch:
		result, summary, err = d.runKBSearch(ctx, req.Parameters)
	case ToolKPITopRootCauses:
		result, summary, err = d.runTopRootCauses(ctx, req.Parameters)
	default:
		err = fmt.Errorf("tool %q not found, available tools: %s", req.Tool, strings.Join(ToolNames(), ", "))
	}

	elapsed := time.Since(start).Milliseconds()
	status := "success"
	errMessage := ""
	if err != nil {
		status = "error"
		errMessage = err.Error()
		d.logger.WithError(err).WithField("tool", req.Tool).Warn("Tool call failed")
	}
	d.audit.Record(ctx, Entry{
		ToolName:        req.Tool,
		Parameters:      req.Parameters,
		UserID:          userID,
		SessionID:       req.SessionID,
		ExecutionTimeMS: elapsed,
		Status:          status,
		ResultSummary:   summary,
		ErrorMessage:    errMessage,
	})
	observeToolCall(req.Tool, status, time.Since(start))

	resp := CallResponse{
		Success:         err == nil,
		Result:          result,
		Error:           errMessage,
		ExecutionTimeMS: elapsed,
		ToolCallID:      toolCallID,
		Metadata: map[string]any{
			"tool":      req.Tool,
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		},
	}
	return resp
}

func (d *Dispatcher) runSQLQuery(ctx context.Context, params map[string]any) (any, string, error) {
	query, err := stringParam(params, "query", true)
	if err != nil {
		return nil, "", err
	}
	queryParams, err := mapParam(params, "parameters")
	if err != nil {
		return nil, "", err
	}
	maskPII, err := boolParam(params, "mask_pii", true)
	if err != nil {
		return nil, "", err
	}
	maxRows, err := intParam(params, "max_rows", 0)
	if err != nil {
		return nil, "", err
	}

	result, err := d.executor.Execute(ctx, warehouse.Request{
		Query:      query,
		Parameters: queryParams,
		MaskPII:    maskPII,
		MaxRows:    maxRows,
	})
	if err != nil {
		return nil, "", err
	}
	return result, fmt.Sprintf("Returned %d rows", result.RowCount), nil
}

func (d *Dispatcher) runKBSearch(ctx context.Context, params map[string]any) (any, string, error) {
	query, err := stringParam(params, "query", true)
	if err != nil {
		return nil, "", err
	}
	topK, err := intParam(params, "top_k", 5)
	if err != nil {
		return nil, "", err
	}
	category, err := stringParam(params, "category", false)
	if err != nil {
		return nil, "", err
	}
	minSimilarity, err := floatParam(params, "min_similarity", 0.7)
	if err != nil {
		return nil, "", err
	}
	fallback, err := boolParam(params, "enable_fallback", true)
	if err != nil {
		return nil, "", err
	}

	resp, err := d.searcher.Search(ctx, knowledge.Params{
		Query:          query,
		TopK:           topK,
		Category:       category,
		MinSimilarity:  minSimilarity,
		EnableFallback: fallback,
	})
	if err != nil {
		return nil, "", err
	}
	return resp, fmt.Sprintf("Returned %d chunks", resp.Count), nil
}

func (d *Dispatcher) runTopRootCauses(ctx context.Context, params map[string]any) (any, string, error) {
	year, err := intParam(params, "year", 0)
	if err != nil {
		return nil, "", err
	}
	if year == 0 {
		return nil, "", fmt.Errorf("parameter %q is required", "year")
	}
	month, err := intParam(params, "month", 0)
	if err != nil {
		return nil, "", err
	}
	topN, err := intParam(params, "top_n", 0)
	if err != nil {
		return nil, "", err
	}
	category, err := stringParam(params, "category_filter", false)
	if err != nil {
		return nil, "", err
	}
	severity, err := stringParam(params, "severity_filter", false)
	if err != nil {
		return nil, "", err
	}
	minTickets, err := intParam(params, "min_tickets", 0)
	if err != nil {
		return nil, "", err
	}

	causes, err := d.kpi.TopRootCauses(ctx, kpi.RootCauseParams{
		Year:       year,
		Month:      month,
		TopN:       topN,
		Category:   category,
		Severity:   severity,
		MinTickets: minTickets,
	})
	if err != nil {
		return nil, "", err
	}
	return causes, fmt.Sprintf("Returned %d root causes", len(causes)), nil
}
