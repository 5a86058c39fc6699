package kpi

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/PhupaSirirat/dbank-copilot/pkg/logging"
)

const (
	minYear       = 2020
	maxTopN       = 100
	defaultTopN   = 5
	rootCauseMart = "analytics_marts.mart_top_root_causes"
)

var validSeverities = []string{"critical", "high", "medium", "low"}

// RootCauseParams filter the top-root-causes lookup. Month of 0 means the
// whole year; MinTickets of 0 means no threshold.
type RootCauseParams struct {
	Year       int
	Month      int
	TopN       int
	Category   string
	Severity   string
	MinTickets int
}

// RootCauseMetrics are the per-cause ticket aggregates.
type RootCauseMetrics struct {
	TotalTickets          int     `json:"total_tickets"`
	OpenTickets           int     `json:"open_tickets"`
	ResolvedTickets       int     `json:"resolved_tickets"`
	PctOfPeriod           float64 `json:"pct_of_period"`
	PctOpen               float64 `json:"pct_open"`
	AvgResolutionHours    float64 `json:"avg_resolution_hours"`
	MedianResolutionHours float64 `json:"median_resolution_hours"`
	AvgSatisfaction       float64 `json:"avg_satisfaction"`
	SatisfactionRate      float64 `json:"satisfaction_rate"`
}

// ReleaseImpact is the slice of tickets attributable to the v1.2 app release.
type ReleaseImpact struct {
	V12Tickets int     `json:"v12_tickets"`
	PctV12     float64 `json:"pct_v12"`
}

// TimePeriod identifies the mart bucket a row came from.
type TimePeriod struct {
	Year      int    `json:"year"`
	Month     int    `json:"month"`
	MonthName string `json:"month_name"`
}

// RootCause is one ranked root cause with its metrics.
type RootCause struct {
	RootCause       string           `json:"root_cause"`
	Severity        string           `json:"severity"`
	Category        string           `json:"category"`
	ProductCategory string           `json:"product_category"`
	Metrics         RootCauseMetrics `json:"metrics"`
	V12Impact       ReleaseImpact    `json:"v12_impact"`
	TimePeriod      TimePeriod       `json:"time_period"`
}

func (s *Service) validateRootCauseParams(p *RootCauseParams) error {
	currentYear := s.now().Year()
	if p.Year < minYear || p.Year > currentYear+1 {
		return fmt.Errorf("year must be between %d and %d", minYear, currentYear+1)
	}
	if p.Month != 0 && (p.Month < 1 || p.Month > 12) {
		return fmt.Errorf("month must be between 1 and 12")
	}
	if p.TopN == 0 {
		p.TopN = defaultTopN
	}
	if p.TopN < 1 || p.TopN > maxTopN {
		return fmt.Errorf("top_n must be between 1 and %d", maxTopN)
	}
	if p.Severity != "" {
		p.Severity = strings.ToLower(p.Severity)
		if !validSeverity(p.Severity) {
			return fmt.Errorf("severity must be one of: %s", strings.Join(validSeverities, ", "))
		}
	}
	return nil
}

// TopRootCauses returns the causes driving the most tickets in a period,
// ordered by ticket volume descending.
func (s *Service) TopRootCauses(ctx context.Context, p RootCauseParams) ([]RootCause, error) {
	if err := s.validateRootCauseParams(&p); err != nil {
		return nil, err
	}

	query := `
		SELECT root_cause_name,
			root_cause_severity,
			category_name,
			product_category,
			total_tickets,
			open_tickets,
			resolved_tickets,
			pct_of_period,
			pct_open,
			avg_resolution_hours,
			median_resolution_hours,
			avg_satisfaction_score,
			satisfaction_rate,
			v12_related_tickets,
			pct_v12_related,
			created_year,
			created_month,
			created_month_name
		FROM ` + rootCauseMart + `
		WHERE created_year = $1`
	args := []any{p.Year}

	if p.Month != 0 {
		args = append(args, p.Month)
		query += fmt.Sprintf(" AND created_month = $%d", len(args))
	}
	if p.Category != "" {
		args = append(args, p.Category)
		query += fmt.Sprintf(" AND category_name = $%d", len(args))
	}
	if p.Severity != "" {
		args = append(args, p.Severity)
		query += fmt.Sprintf(" AND root_cause_severity = $%d", len(args))
	}
	if p.MinTickets > 0 {
		args = append(args, p.MinTickets)
		query += fmt.Sprintf(" AND total_tickets >= $%d", len(args))
	}
	args = append(args, p.TopN)
	query += fmt.Sprintf(" ORDER BY total_tickets DESC LIMIT $%d", len(args))

	s.logger.WithFields(logging.Fields{
		"year":  p.Year,
		"month": p.Month,
		"top_n": p.TopN,
	}).Info("Fetching top root causes")

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query root causes: %w", err)
	}
	defer rows.Close()

	var causes []RootCause
	var nulls nullTracker
	for rows.Next() {
		var (
			rc                          RootCause
			severity, category, product sql.NullString
			monthName                   sql.NullString
			total, openCount, resolved  sql.NullInt64
			v12Tickets, year, month     sql.NullInt64
			pctPeriod, pctOpen, avgRes  sql.NullFloat64
			medianRes, avgSat, satRate  sql.NullFloat64
			pctV12                      sql.NullFloat64
		)
		if err := rows.Scan(&rc.RootCause, &severity, &category, &product,
			&total, &openCount, &resolved, &pctPeriod, &pctOpen, &avgRes, &medianRes,
			&avgSat, &satRate, &v12Tickets, &pctV12, &year, &month, &monthName); err != nil {
			return nil, fmt.Errorf("scan root cause: %w", err)
		}
		rc.Severity = stringOrEmpty(severity)
		rc.Category = stringOrEmpty(category)
		rc.ProductCategory = stringOrEmpty(product)
		rc.Metrics = RootCauseMetrics{
			TotalTickets:          nulls.intOrZero(total),
			OpenTickets:           nulls.intOrZero(openCount),
			ResolvedTickets:       nulls.intOrZero(resolved),
			PctOfPeriod:           nulls.floatOrZero(pctPeriod),
			PctOpen:               nulls.floatOrZero(pctOpen),
			AvgResolutionHours:    nulls.floatOrZero(avgRes),
			MedianResolutionHours: nulls.floatOrZero(medianRes),
			AvgSatisfaction:       nulls.floatOrZero(avgSat),
			SatisfactionRate:      nulls.floatOrZero(satRate),
		}
		rc.V12Impact = ReleaseImpact{
			V12Tickets: nulls.intOrZero(v12Tickets),
			PctV12:     nulls.floatOrZero(pctV12),
		}
		rc.TimePeriod = TimePeriod{
			Year:      nulls.intOrZero(year),
			Month:     nulls.intOrZero(month),
			MonthName: stringOrEmpty(monthName),
		}
		causes = append(causes, rc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate root causes: %w", err)
	}
	nulls.logCoercions(s.logger, rootCauseMart)

	s.logger.WithFields(logging.Fields{"count": len(causes)}).Info("Retrieved root causes")
	return causes, nil
}

// TrendPoint is one month of a root cause's history.
type TrendPoint struct {
	Year               int     `json:"year"`
	Month              int     `json:"month"`
	MonthName          string  `json:"month_name"`
	TotalTickets       int     `json:"total_tickets"`
	PctOpen            float64 `json:"pct_open"`
	AvgResolutionHours float64 `json:"avg_resolution_hours"`
	AvgSatisfaction    float64 `json:"avg_satisfaction"`
}

// RootCauseTrend returns monthly metrics for one root cause between two
// periods, inclusive. A zero end period defaults to the current month.
func (s *Service) RootCauseTrend(ctx context.Context, rootCause string, startYear, startMonth, endYear, endMonth int) ([]TrendPoint, error) {
	if strings.TrimSpace(rootCause) == "" {
		return nil, fmt.Errorf("root_cause is required")
	}
	if endYear == 0 {
		endYear = s.now().Year()
	}
	if endMonth == 0 {
		endMonth = int(s.now().Month())
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT created_year,
			created_month,
			created_month_name,
			total_tickets,
			pct_open,
			avg_resolution_hours,
			avg_satisfaction_score
		FROM `+rootCauseMart+`
		WHERE root_cause_name = $1
		  AND (created_year > $2 OR (created_year = $2 AND created_month >= $3))
		  AND (created_year < $4 OR (created_year = $4 AND created_month <= $5))
		ORDER BY created_year, created_month
	`, rootCause, startYear, startMonth, endYear, endMonth)
	if err != nil {
		return nil, fmt.Errorf("query root cause trend: %w", err)
	}
	defer rows.Close()

	var points []TrendPoint
	var nulls nullTracker
	for rows.Next() {
		var (
			year, month, total sql.NullInt64
			monthName          sql.NullString
			pctOpen, avgRes    sql.NullFloat64
			avgSat             sql.NullFloat64
		)
		if err := rows.Scan(&year, &month, &monthName, &total, &pctOpen, &avgRes, &avgSat); err != nil {
			return nil, fmt.Errorf("scan trend point: %w", err)
		}
		points = append(points, TrendPoint{
			Year:               nulls.intOrZero(year),
			Month:              nulls.intOrZero(month),
			MonthName:          stringOrEmpty(monthName),
			TotalTickets:       nulls.intOrZero(total),
			PctOpen:            nulls.floatOrZero(pctOpen),
			AvgResolutionHours: nulls.floatOrZero(avgRes),
			AvgSatisfaction:    nulls.floatOrZero(avgSat),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate trend points: %w", err)
	}
	nulls.logCoercions(s.logger, rootCauseMart)
	return points, nil
}

func validSeverity(severity string) bool {
	for _, s := range validSeverities {
		if s == severity {
			return true
		}
	}
	return false
}
