package kpi

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"

	"github.com/PhupaSirirat/dbank-copilot/pkg/logging"
)

func newTestService(t *testing.T) (*Service, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	svc := NewService(db, logging.NewLogger())
	svc.now = func() time.Time { return time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC) }
	return svc, mock
}

var rootCauseColumns = []string{
	"root_cause_name", "root_cause_severity", "category_name", "product_category",
	"total_tickets", "open_tickets", "resolved_tickets", "pct_of_period", "pct_open",
	"avg_resolution_hours", "median_resolution_hours", "avg_satisfaction_score",
	"satisfaction_rate", "v12_related_tickets", "pct_v12_related",
	"created_year", "created_month", "created_month_name",
}

func TestTopRootCausesFiltersAndShape(t *testing.T) {
	svc, mock := newTestService(t)

	rows := sqlmock.NewRows(rootCauseColumns).
		AddRow("App crash on login", "critical", "Mobile App", "digital",
			142, 23, 119, 18.5, 16.2, 9.4, 6.1, 3.2, 71.0, 98, 69.0, 2025, 10, "October").
		AddRow("Slow transfers", "high", "Payments", "transfer",
			77, nil, nil, nil, nil, nil, nil, nil, nil, nil, nil, 2025, 10, "October")

	mock.ExpectQuery(`FROM analytics_marts\.mart_top_root_causes`).
		WithArgs(2025, 10, "critical", 5).
		WillReturnRows(rows)

	causes, err := svc.TopRootCauses(context.Background(), RootCauseParams{
		Year:     2025,
		Month:    10,
		TopN:     5,
		Severity: "CRITICAL",
	})
	if err != nil {
		t.Fatalf("top root causes: %v", err)
	}
	if len(causes) != 2 {
		t.Fatalf("expected 2 causes, got %d", len(causes))
	}
	first := causes[0]
	if first.RootCause != "App crash on login" || first.Metrics.TotalTickets != 142 {
		t.Fatalf("unexpected first cause: %+v", first)
	}
	if first.V12Impact.V12Tickets != 98 || first.V12Impact.PctV12 != 69.0 {
		t.Fatalf("v1.2 impact not carried: %+v", first.V12Impact)
	}
	if first.TimePeriod.MonthName != "October" {
		t.Fatalf("time period not carried: %+v", first.TimePeriod)
	}

	// NULL aggregates come back as zero values, not errors.
	second := causes[1]
	if second.Metrics.OpenTickets != 0 || second.Metrics.AvgResolutionHours != 0 {
		t.Fatalf("null coercion failed: %+v", second.Metrics)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestNullAggregatesCoerceToZeroAndAreLogged(t *testing.T) {
	svc, mock := newTestService(t)
	hook := logtest.NewLocal(svc.logger)

	rows := sqlmock.NewRows(rootCauseColumns).
		AddRow("Slow transfers", "high", "Payments", "transfer",
			77, nil, nil, nil, nil, nil, nil, nil, nil, nil, nil, 2025, 10, "October")

	mock.ExpectQuery(`FROM analytics_marts\.mart_top_root_causes`).
		WithArgs(2025, 5).
		WillReturnRows(rows)

	causes, err := svc.TopRootCauses(context.Background(), RootCauseParams{Year: 2025})
	if err != nil {
		t.Fatalf("top root causes: %v", err)
	}
	if causes[0].Metrics.OpenTickets != 0 || causes[0].Metrics.AvgResolutionHours != 0 {
		t.Fatalf("null coercion failed: %+v", causes[0].Metrics)
	}

	var logged *logrus.Entry
	for _, entry := range hook.AllEntries() {
		if entry.Level == logrus.WarnLevel && entry.Data["coerced_nulls"] != nil {
			logged = entry
		}
	}
	if logged == nil {
		t.Fatal("expected a warning about coerced NULL aggregates")
	}
	if logged.Data["coerced_nulls"] != 10 || logged.Data["mart"] != rootCauseMart {
		t.Fatalf("coercion log fields = %+v", logged.Data)
	}
}

func TestNoCoercionWarningWhenAggregatesPresent(t *testing.T) {
	svc, mock := newTestService(t)
	hook := logtest.NewLocal(svc.logger)

	mock.ExpectQuery(`WHERE is_churned_30d = true`).
		WillReturnRows(sqlmock.NewRows([]string{
			"total_churned", "avg_days_inactive", "total_clv_at_risk",
			"critical_count", "high_count", "medium_count", "low_count",
		}).AddRow(40, 45.0, 125000.0, 10, 10, 12, 8))

	if _, err := svc.ChurnSummaryForPeriod(context.Background(), 30, "", false); err != nil {
		t.Fatalf("churn summary: %v", err)
	}
	for _, entry := range hook.AllEntries() {
		if entry.Level == logrus.WarnLevel {
			t.Fatalf("unexpected warning: %s %+v", entry.Message, entry.Data)
		}
	}
}

func TestTopRootCausesValidation(t *testing.T) {
	svc, _ := newTestService(t)

	cases := []RootCauseParams{
		{Year: 2019},
		{Year: 2028}, // beyond current year + 1
		{Year: 2025, Month: 13},
		{Year: 2025, TopN: 101},
		{Year: 2025, Severity: "catastrophic"},
	}
	for _, p := range cases {
		if _, err := svc.TopRootCauses(context.Background(), p); err == nil {
			t.Fatalf("expected params %+v to be rejected", p)
		}
	}
}

func TestTopRootCausesDefaultsTopN(t *testing.T) {
	svc, mock := newTestService(t)

	mock.ExpectQuery(`ORDER BY total_tickets DESC LIMIT \$2`).
		WithArgs(2025, 5).
		WillReturnRows(sqlmock.NewRows(rootCauseColumns))

	causes, err := svc.TopRootCauses(context.Background(), RootCauseParams{Year: 2025})
	if err != nil {
		t.Fatalf("top root causes: %v", err)
	}
	if len(causes) != 0 {
		t.Fatalf("expected empty result, got %d", len(causes))
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestRootCauseTrendWindow(t *testing.T) {
	svc, mock := newTestService(t)

	rows := sqlmock.NewRows([]string{
		"created_year", "created_month", "created_month_name",
		"total_tickets", "pct_open", "avg_resolution_hours", "avg_satisfaction_score",
	}).
		AddRow(2025, 9, "September", 61, 12.0, 8.3, 3.9).
		AddRow(2025, 10, "October", 142, 16.2, 9.4, 3.2)

	mock.ExpectQuery(`WHERE root_cause_name = \$1`).
		WithArgs("App crash on login", 2025, 9, 2025, 10).
		WillReturnRows(rows)

	points, err := svc.RootCauseTrend(context.Background(), "App crash on login", 2025, 9, 2025, 10)
	if err != nil {
		t.Fatalf("trend: %v", err)
	}
	if len(points) != 2 || points[1].TotalTickets != 142 {
		t.Fatalf("unexpected trend: %+v", points)
	}
}

func TestChurnSummaryBreakdown(t *testing.T) {
	svc, mock := newTestService(t)

	mock.ExpectQuery(`WHERE is_churned_30d = true AND customer_segment = \$1`).
		WithArgs("premium").
		WillReturnRows(sqlmock.NewRows([]string{
			"total_churned", "avg_days_inactive", "total_clv_at_risk",
			"critical_count", "high_count", "medium_count", "low_count",
		}).AddRow(40, 45.67, 125000.456, 10, 10, 12, 8))

	summary, err := svc.ChurnSummaryForPeriod(context.Background(), 30, "premium", true)
	if err != nil {
		t.Fatalf("churn summary: %v", err)
	}
	if summary.TotalChurned != 40 || summary.Segment != "premium" {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	if summary.AvgDaysInactive != 45.7 || summary.TotalCLVAtRisk != 125000.46 {
		t.Fatalf("rounding wrong: %+v", summary)
	}
	if summary.RiskBreakdown["critical"].Percentage != 25.0 {
		t.Fatalf("breakdown wrong: %+v", summary.RiskBreakdown)
	}
}

func TestChurnSummaryRejectsBadPeriod(t *testing.T) {
	svc, _ := newTestService(t)
	if _, err := svc.ChurnSummaryForPeriod(context.Background(), 60, "", false); err == nil {
		t.Fatal("expected 60-day period to be rejected")
	}
}

func TestV12ImpactSummaryWithDetails(t *testing.T) {
	svc, mock := newTestService(t)

	mock.ExpectQuery(`WHERE is_v12_related = true$`).
		WillReturnRows(sqlmock.NewRows([]string{
			"total_v12_tickets", "affected_products", "avg_resolution_hours", "still_open", "product_list",
		}).AddRow(200, 3, 11.239, 50, "loan, savings, transfer"))
	mock.ExpectQuery(`GROUP BY product_type`).
		WillReturnRows(sqlmock.NewRows([]string{
			"product_type", "ticket_count", "avg_resolution_hours", "open_count",
		}).
			AddRow("transfer", 120, 10.0, 30).
			AddRow("loan", 80, 13.0, 20))

	summary, err := svc.V12ImpactSummary(context.Background(), true)
	if err != nil {
		t.Fatalf("v1.2 impact: %v", err)
	}
	if summary.PctStillOpen != 25.0 || summary.PctResolved != 75.0 {
		t.Fatalf("open/resolved split wrong: %+v", summary)
	}
	if len(summary.ProductBreakdown) != 2 || summary.ProductBreakdown[0].PctOfTotal != 60.0 {
		t.Fatalf("breakdown wrong: %+v", summary.ProductBreakdown)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestComparePeriods(t *testing.T) {
	svc, mock := newTestService(t)

	mock.ExpectQuery(`FROM analytics_marts\.mart_top_root_causes`).
		WithArgs(2025, 9, 5).
		WillReturnRows(sqlmock.NewRows(rootCauseColumns).
			AddRow("App crash on login", "critical", "Mobile App", "digital",
				61, 5, 56, 10.0, 8.0, 8.3, 6.0, 3.9, 80.0, 20, 32.0, 2025, 9, "September").
			AddRow("OTP delays", "medium", "Auth", "security",
				30, 2, 28, 5.0, 6.0, 4.0, 3.0, 4.1, 85.0, 0, 0.0, 2025, 9, "September"))
	mock.ExpectQuery(`FROM analytics_marts\.mart_top_root_causes`).
		WithArgs(2025, 10, 5).
		WillReturnRows(sqlmock.NewRows(rootCauseColumns).
			AddRow("App crash on login", "critical", "Mobile App", "digital",
				142, 23, 119, 18.5, 16.2, 9.4, 6.1, 3.2, 71.0, 98, 69.0, 2025, 10, "October").
			AddRow("Card activation fails", "high", "Cards", "card",
				44, 10, 34, 6.0, 22.0, 12.0, 9.0, 3.5, 70.0, 12, 27.0, 2025, 10, "October"))

	comparison, err := svc.ComparePeriods(context.Background(), 2025, 9, 2025, 10, 5)
	if err != nil {
		t.Fatalf("compare periods: %v", err)
	}
	if comparison.Period1 != "2025-09" || comparison.Period2 != "2025-10" {
		t.Fatalf("period labels wrong: %+v", comparison)
	}
	if comparison.TotalPeriod1Tickets != 91 || comparison.TotalPeriod2Tickets != 186 {
		t.Fatalf("totals wrong: %+v", comparison)
	}

	// Sorted by absolute change: crash +81, card +44, OTP -30.
	trends := map[string]string{}
	for _, c := range comparison.Comparisons {
		trends[c.RootCause] = c.Trend
	}
	if trends["App crash on login"] != "increasing" ||
		trends["OTP delays"] != "resolved" ||
		trends["Card activation fails"] != "new" {
		t.Fatalf("trends wrong: %v", trends)
	}
	if comparison.Comparisons[0].RootCause != "App crash on login" || comparison.Comparisons[0].Change != 81 {
		t.Fatalf("sort order wrong: %+v", comparison.Comparisons[0])
	}
}
