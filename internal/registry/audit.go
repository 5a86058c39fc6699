package registry

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/PhupaSirirat/dbank-copilot/pkg/logging"
)

// AuditLog persists every tool call to analytics.tool_call_logs. Writes are
// best effort: a failed insert is logged and never fails the call itself.
type AuditLog struct {
	db     *sql.DB
	logger logging.Logger
}

func NewAuditLog(db *sql.DB, logger logging.Logger) *AuditLog {
	return &AuditLog{db: db, logger: logger}
}

// Entry is one tool call to record.
type Entry struct {
	ToolName        string
	Parameters      map[string]any
	UserID          string
	SessionID       string
	ExecutionTimeMS int64
	Status          string
	ResultSummary   string
	ErrorMessage    string
}

func (a *AuditLog) Record(ctx context.Context, entry Entry) {
	if a == nil || a.db == nil {
		return
	}
	params, err := json.Marshal(entry.Parameters)
	if err != nil {
		params = []byte("{}")
	}
	_, err = a.db.ExecContext(ctx, `
		INSERT INTO analytics.tool_call_logs
			(tool_name, parameters, user_id, session_id, execution_time_ms, status, result_summary, error_message, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
	`, entry.ToolName, params, entry.UserID, nullString(entry.SessionID),
		entry.ExecutionTimeMS, entry.Status, nullString(entry.ResultSummary), nullString(entry.ErrorMessage))
	if err != nil && a.logger != nil {
		a.logger.WithError(err).WithFields(logging.Fields{
			"tool":   entry.ToolName,
			"status": entry.Status,
		}).Warn("Failed to persist tool call audit entry")
	}
}

// LogRecord is one audit row as served by /logs/recent.
type LogRecord struct {
	LogID           int64          `json:"log_id"`
	ToolName        string         `json:"tool_name"`
	Parameters      map[string]any `json:"parameters"`
	UserID          string         `json:"user_id"`
	ExecutionTimeMS int64          `json:"execution_time_ms"`
	Status          string         `json:"status"`
	ErrorMessage    string         `json:"error_message,omitempty"`
	Timestamp       time.Time      `json:"timestamp"`
}

// Filter narrows the recent-log listing. Zero values mean no filter.
type Filter struct {
	Limit    int
	ToolName string
	UserID   string
	Status   string
}

// Recent returns the newest audit entries, newest first.
func (a *AuditLog) Recent(ctx context.Context, f Filter) ([]LogRecord, error) {
	if f.Limit <= 0 {
		f.Limit = 50
	}

	query := `
		SELECT log_id, tool_name, parameters, user_id, execution_time_ms, status, error_message, created_at
		FROM analytics.tool_call_logs
		WHERE 1=1`
	var args []any
	if f.ToolName != "" {
		args = append(args, f.ToolName)
		query += fmt.Sprintf(" AND tool_name = $%d", len(args))
	}
	if f.UserID != "" {
		args = append(args, f.UserID)
		query += fmt.Sprintf(" AND user_id = $%d", len(args))
	}
	if f.Status != "" {
		args = append(args, f.Status)
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	args = append(args, f.Limit)
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d", len(args))

	rows, err := a.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit log: %w", err)
	}
	defer rows.Close()

	var records []LogRecord
	for rows.Next() {
		var (
			rec        LogRecord
			paramBytes []byte
			errMsg     sql.NullString
		)
		if err := rows.Scan(&rec.LogID, &rec.ToolName, &paramBytes, &rec.UserID,
			&rec.ExecutionTimeMS, &rec.Status, &errMsg, &rec.Timestamp); err != nil {
			return nil, fmt.Errorf("scan audit row: %w", err)
		}
		if len(paramBytes) > 0 {
			if err := json.Unmarshal(paramBytes, &rec.Parameters); err != nil {
				return nil, fmt.Errorf("decode audit parameters: %w", err)
			}
		}
		if errMsg.Valid {
			rec.ErrorMessage = errMsg.String
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit rows: %w", err)
	}
	return records, nil
}

// ToolUsage is one tool's call statistics over the stats window.
type ToolUsage struct {
	ToolName       string  `json:"tool_name"`
	TotalCalls     int     `json:"total_calls"`
	SuccessRate    float64 `json:"success_rate"`
	AvgExecutionMS float64 `json:"avg_execution_ms"`
	ErrorCount     int     `json:"error_count"`
}

// UsageStats summarizes tool usage over a trailing window.
type UsageStats struct {
	PeriodDays int         `json:"period_days"`
	Tools      []ToolUsage `json:"tools"`
}

func (a *AuditLog) Statistics(ctx context.Context, days int) (*UsageStats, error) {
	if days <= 0 {
		days = 7
	}

	rows, err := a.db.QueryContext(ctx, `
		SELECT tool_name,
			COUNT(*) AS call_count,
			AVG(execution_time_ms) AS avg_execution_time,
			SUM(CASE WHEN status = 'success' THEN 1 ELSE 0 END) AS success_count,
			SUM(CASE WHEN status = 'error' THEN 1 ELSE 0 END) AS error_count
		FROM analytics.tool_call_logs
		WHERE created_at >= CURRENT_DATE - $1 * INTERVAL '1 day'
		GROUP BY tool_name
		ORDER BY call_count DESC`, days)
	if err != nil {
		return nil, fmt.Errorf("query audit statistics: %w", err)
	}
	defer rows.Close()

	stats := &UsageStats{PeriodDays: days}
	for rows.Next() {
		var (
			usage          ToolUsage
			avgTime        sql.NullFloat64
			success, fails sql.NullInt64
		)
		if err := rows.Scan(&usage.ToolName, &usage.TotalCalls, &avgTime, &success, &fails); err != nil {
			return nil, fmt.Errorf("scan audit statistics: %w", err)
		}
		if usage.TotalCalls > 0 && success.Valid {
			usage.SuccessRate = roundPct(float64(success.Int64) / float64(usage.TotalCalls) * 100)
		}
		if avgTime.Valid {
			usage.AvgExecutionMS = roundPct(avgTime.Float64)
		}
		if fails.Valid {
			usage.ErrorCount = int(fails.Int64)
		}
		stats.Tools = append(stats.Tools, usage)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit statistics: %w", err)
	}
	return stats, nil
}

func roundPct(v float64) float64 {
	return float64(int64(v*100+0.5)) / 100
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
