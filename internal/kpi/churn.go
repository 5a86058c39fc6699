package kpi

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/PhupaSirirat/dbank-copilot/pkg/logging"
)

const churnMart = "analytics_marts.mart_churned_customers"

// RiskBucket is one churn-risk level with its share of churned customers.
type RiskBucket struct {
	Count      int     `json:"count"`
	Percentage float64 `json:"percentage"`
}

// ChurnSummary aggregates customers flagged as churned over a 30 or 90 day
// window, optionally broken down by risk level.
type ChurnSummary struct {
	ChurnPeriodDays int                   `json:"churn_period_days"`
	Segment         string                `json:"segment"`
	TotalChurned    int                   `json:"total_churned"`
	AvgDaysInactive float64               `json:"avg_days_inactive"`
	TotalCLVAtRisk  float64               `json:"total_clv_at_risk"`
	RiskBreakdown   map[string]RiskBucket `json:"risk_breakdown,omitempty"`
}

// ChurnSummaryForPeriod reports churn for a 30 or 90 day window. An empty
// segment means all segments.
func (s *Service) ChurnSummaryForPeriod(ctx context.Context, days int, segment string, includeBreakdown bool) (*ChurnSummary, error) {
	if days != 30 && days != 90 {
		return nil, fmt.Errorf("days must be 30 or 90")
	}

	// The churn flag column is derived from a validated constant, never from
	// caller input.
	query := fmt.Sprintf(`
		SELECT COUNT(*) AS total_churned,
			AVG(days_since_login) AS avg_days_inactive,
			SUM(estimated_clv) AS total_clv_at_risk,
			COUNT(CASE WHEN churn_risk_level = 'critical' THEN 1 END) AS critical_count,
			COUNT(CASE WHEN churn_risk_level = 'high' THEN 1 END) AS high_count,
			COUNT(CASE WHEN churn_risk_level = 'medium' THEN 1 END) AS medium_count,
			COUNT(CASE WHEN churn_risk_level = 'low' THEN 1 END) AS low_count
		FROM %s
		WHERE is_churned_%dd = true`, churnMart, days)
	var args []any
	if segment != "" {
		args = append(args, segment)
		query += " AND customer_segment = $1"
	}

	s.logger.WithFields(logging.Fields{"days": days, "segment": segment}).Info("Fetching churn summary")

	var (
		total                       sql.NullInt64
		avgInactive, clvAtRisk      sql.NullFloat64
		critical, high, medium, low sql.NullInt64
	)
	row := s.db.QueryRowContext(ctx, query, args...)
	if err := row.Scan(&total, &avgInactive, &clvAtRisk, &critical, &high, &medium, &low); err != nil {
		return nil, fmt.Errorf("query churn summary: %w", err)
	}

	segmentLabel := segment
	if segmentLabel == "" {
		segmentLabel = "all"
	}
	var nulls nullTracker
	summary := &ChurnSummary{
		ChurnPeriodDays: days,
		Segment:         segmentLabel,
		TotalChurned:    nulls.intOrZero(total),
		AvgDaysInactive: round1(nulls.floatOrZero(avgInactive)),
		TotalCLVAtRisk:  round2(nulls.floatOrZero(clvAtRisk)),
	}

	if includeBreakdown && summary.TotalChurned > 0 {
		bucket := func(count sql.NullInt64) RiskBucket {
			n := nulls.intOrZero(count)
			return RiskBucket{
				Count:      n,
				Percentage: round1(float64(n) * 100.0 / float64(summary.TotalChurned)),
			}
		}
		summary.RiskBreakdown = map[string]RiskBucket{
			"critical": bucket(critical),
			"high":     bucket(high),
			"medium":   bucket(medium),
			"low":      bucket(low),
		}
	}
	nulls.logCoercions(s.logger, churnMart)
	return summary, nil
}

// SegmentChurn is the 30-day churn picture for one customer segment.
type SegmentChurn struct {
	Segment         string  `json:"segment"`
	ChurnedCount    int     `json:"churned_count"`
	AvgCLVAtRisk    float64 `json:"avg_clv_at_risk"`
	AvgDaysInactive float64 `json:"avg_days_inactive"`
}

// ChurnBySegment breaks 30-day churn down by customer segment, busiest first.
func (s *Service) ChurnBySegment(ctx context.Context) ([]SegmentChurn, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT customer_segment,
			COUNT(*) AS churned_count,
			AVG(estimated_clv) AS avg_clv_at_risk,
			AVG(days_since_login) AS avg_days_inactive
		FROM `+churnMart+`
		WHERE is_churned_30d = true
		GROUP BY customer_segment
		ORDER BY churned_count DESC`)
	if err != nil {
		return nil, fmt.Errorf("query churn by segment: %w", err)
	}
	defer rows.Close()

	var segments []SegmentChurn
	var nulls nullTracker
	for rows.Next() {
		var (
			segment          sql.NullString
			count            sql.NullInt64
			avgCLV, inactive sql.NullFloat64
		)
		if err := rows.Scan(&segment, &count, &avgCLV, &inactive); err != nil {
			return nil, fmt.Errorf("scan segment churn: %w", err)
		}
		segments = append(segments, SegmentChurn{
			Segment:         stringOrEmpty(segment),
			ChurnedCount:    nulls.intOrZero(count),
			AvgCLVAtRisk:    round2(nulls.floatOrZero(avgCLV)),
			AvgDaysInactive: round1(nulls.floatOrZero(inactive)),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate segment churn: %w", err)
	}
	nulls.logCoercions(s.logger, churnMart)
	return segments, nil
}
