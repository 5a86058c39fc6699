// Package warehouse executes gated, parameter-bound SQL against the dBank
// analytics store. Every query runs inside a read-only transaction with a
// statement timeout, and results pass through the PII masking layer unless
// the caller opts out.
package warehouse

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/PhupaSirirat/dbank-copilot/internal/pii"
	"github.com/PhupaSirirat/dbank-copilot/internal/sqlguard"
	"github.com/PhupaSirirat/dbank-copilot/pkg/logging"
)

const (
	// DefaultMaxRows caps result sets when the caller does not ask for less.
	DefaultMaxRows = 1000
	// DefaultTimeout bounds a single statement server-side.
	DefaultTimeout = 30 * time.Second
)

// Executor runs validated read-only queries.
type Executor struct {
	db      *sql.DB
	logger  logging.Logger
	timeout time.Duration
	maxRows int
}

// Config configures an Executor.
type Config struct {
	DB      *sql.DB
	Logger  logging.Logger
	Timeout time.Duration
	MaxRows int
}

// NewExecutor creates an Executor, filling in defaults for zero limits.
func NewExecutor(cfg Config) *Executor {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	maxRows := cfg.MaxRows
	if maxRows <= 0 {
		maxRows = DefaultMaxRows
	}
	return &Executor{
		db:      cfg.DB,
		logger:  cfg.Logger,
		timeout: timeout,
		maxRows: maxRows,
	}
}

// Request is a single query execution request.
type Request struct {
	Query      string
	Parameters map[string]any
	MaskPII    bool
	MaxRows    int
	// ExplainOnly returns the planner output instead of running the query.
	ExplainOnly bool
}

// Result is the outcome of a successful execution.
type Result struct {
	Results         []map[string]any `json:"results"`
	RowCount        int              `json:"row_count"`
	Columns         []string         `json:"columns"`
	Truncated       bool             `json:"truncated"`
	TablesAccessed  []string         `json:"tables_accessed"`
	ExecutionTimeMS float64          `json:"execution_time_ms"`
	Masked          bool             `json:"masked"`
	QueryPlan       string           `json:"query_plan,omitempty"`
	ExplainOnly     bool             `json:"explain_only,omitempty"`
	Timestamp       time.Time        `json:"timestamp"`
}

// Execute validates, binds and runs a query.
func (e *Executor) Execute(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()

	tables, err := sqlguard.Check(req.Query)
	if err != nil {
		return nil, fmt.Errorf("query validation failed: %w", err)
	}
	if err := sqlguard.ValidateParameters(req.Parameters); err != nil {
		return nil, fmt.Errorf("parameter validation failed: %w", err)
	}

	maxRows := req.MaxRows
	if maxRows <= 0 {
		maxRows = e.maxRows
	} else if maxRows > e.maxRows {
		e.logger.WithFields(logging.Fields{
			"requested": maxRows,
			"limit":     e.maxRows,
		}).Warn("Requested max_rows exceeds limit")
		maxRows = e.maxRows
	}

	query, args, err := sqlguard.BindParameters(req.Query, req.Parameters)
	if err != nil {
		return nil, fmt.Errorf("parameter binding failed: %w", err)
	}

	// LIMIT n+1 makes truncation observable without a second count query.
	if !strings.Contains(strings.ToUpper(query), "LIMIT") {
		query = fmt.Sprintf("%s LIMIT %d", strings.TrimRight(strings.TrimSpace(query), ";"), maxRows+1)
	}

	e.logger.WithFields(logging.Fields{
		"tables": strings.Join(tables, ","),
	}).Info("Executing warehouse query")

	tx, err := e.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("begin read-only transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, fmt.Sprintf("SET LOCAL statement_timeout = '%dms'", e.timeout.Milliseconds())); err != nil {
		return nil, fmt.Errorf("set statement timeout: %w", err)
	}

	if req.ExplainOnly {
		plan, err := e.explain(ctx, tx, query, args)
		if err != nil {
			return nil, err
		}
		return &Result{
			QueryPlan:       plan,
			ExplainOnly:     true,
			TablesAccessed:  tables,
			ExecutionTimeMS: float64(time.Since(start).Microseconds()) / 1000,
			Timestamp:       time.Now().UTC(),
		}, nil
	}

	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, e.describeError(err, tables)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("read columns: %w", err)
	}

	var results []map[string]any
	for rows.Next() {
		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		row := make(map[string]any, len(columns))
		for i, col := range columns {
			row[col] = normalizeValue(values[i])
		}
		results = append(results, row)
	}
	if err := rows.Err(); err != nil {
		return nil, e.describeError(err, tables)
	}

	truncated := len(results) > maxRows
	if truncated {
		results = results[:maxRows]
		e.logger.WithField("max_rows", maxRows).Warn("Results truncated")
	}

	masked := false
	if req.MaskPII && len(results) > 0 {
		results = pii.MaskRows(results)
		masked = true
	}

	elapsed := float64(time.Since(start).Microseconds()) / 1000
	e.logger.WithFields(logging.Fields{
		"rows":        len(results),
		"duration_ms": elapsed,
	}).Info("Warehouse query completed")

	return &Result{
		Results:         results,
		RowCount:        len(results),
		Columns:         columns,
		Truncated:       truncated,
		TablesAccessed:  tables,
		ExecutionTimeMS: elapsed,
		Masked:          masked,
		Timestamp:       time.Now().UTC(),
	}, nil
}

func (e *Executor) explain(ctx context.Context, tx *sql.Tx, query string, args []any) (string, error) {
	row := tx.QueryRowContext(ctx, "EXPLAIN (FORMAT JSON) "+query, args...)
	var plan string
	if err := row.Scan(&plan); err != nil {
		return "", fmt.Errorf("explain query: %w", err)
	}
	return plan, nil
}

// describeError maps driver errors to messages a support analyst can act on.
func (e *Executor) describeError(err error, tables []string) error {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "statement timeout") || strings.Contains(msg, "canceling statement"):
		return fmt.Errorf("query timeout after %s, try simplifying the query: %w", e.timeout, err)
	case strings.Contains(msg, "permission"):
		return fmt.Errorf("permission denied for tables %s: %w", strings.Join(tables, ", "), err)
	default:
		return fmt.Errorf("database error: %w", err)
	}
}

// normalizeValue converts driver byte slices to strings so results marshal
// as JSON text rather than base64.
func normalizeValue(v any) any {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}
