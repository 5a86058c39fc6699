package kpi

import (
	"context"
	"fmt"
	"math"
	"sort"
)

// CauseComparison tracks how one root cause moved between two periods.
// Trend is "increasing", "decreasing", "stable", "resolved" (gone in period
// two) or "new" (absent in period one, where pct_change is undefined and
// reported as 0).
type CauseComparison struct {
	RootCause      string  `json:"root_cause"`
	Period1Tickets int     `json:"period1_tickets"`
	Period2Tickets int     `json:"period2_tickets"`
	Change         int     `json:"change"`
	PctChange      float64 `json:"pct_change"`
	Trend          string  `json:"trend"`
}

// PeriodComparison is the side-by-side view of two months.
type PeriodComparison struct {
	Period1             string            `json:"period1"`
	Period2             string            `json:"period2"`
	TotalPeriod1Tickets int               `json:"total_period1_tickets"`
	TotalPeriod2Tickets int               `json:"total_period2_tickets"`
	Comparisons         []CauseComparison `json:"comparisons"`
}

// ComparePeriods diffs the top root causes of two months, sorted by absolute
// ticket change.
func (s *Service) ComparePeriods(ctx context.Context, year1, month1, year2, month2, topN int) (*PeriodComparison, error) {
	period1, err := s.TopRootCauses(ctx, RootCauseParams{Year: year1, Month: month1, TopN: topN})
	if err != nil {
		return nil, fmt.Errorf("period 1: %w", err)
	}
	period2, err := s.TopRootCauses(ctx, RootCauseParams{Year: year2, Month: month2, TopN: topN})
	if err != nil {
		return nil, fmt.Errorf("period 2: %w", err)
	}

	byCause1 := make(map[string]RootCause, len(period1))
	for _, rc := range period1 {
		byCause1[rc.RootCause] = rc
	}
	byCause2 := make(map[string]RootCause, len(period2))
	for _, rc := range period2 {
		byCause2[rc.RootCause] = rc
	}

	seen := make(map[string]bool)
	var comparisons []CauseComparison
	for _, rc := range append(append([]RootCause{}, period1...), period2...) {
		if seen[rc.RootCause] {
			continue
		}
		seen[rc.RootCause] = true

		p1, in1 := byCause1[rc.RootCause]
		p2, in2 := byCause2[rc.RootCause]
		comp := CauseComparison{RootCause: rc.RootCause}
		switch {
		case in1 && in2:
			comp.Period1Tickets = p1.Metrics.TotalTickets
			comp.Period2Tickets = p2.Metrics.TotalTickets
			comp.Change = comp.Period2Tickets - comp.Period1Tickets
			if comp.Period1Tickets > 0 {
				comp.PctChange = round1(float64(comp.Change) / float64(comp.Period1Tickets) * 100)
			}
			switch {
			case comp.Change > 0:
				comp.Trend = "increasing"
			case comp.Change < 0:
				comp.Trend = "decreasing"
			default:
				comp.Trend = "stable"
			}
		case in1:
			comp.Period1Tickets = p1.Metrics.TotalTickets
			comp.Change = -p1.Metrics.TotalTickets
			comp.PctChange = -100.0
			comp.Trend = "resolved"
		default:
			comp.Period2Tickets = p2.Metrics.TotalTickets
			comp.Change = p2.Metrics.TotalTickets
			comp.Trend = "new"
		}
		comparisons = append(comparisons, comp)
	}

	sort.SliceStable(comparisons, func(i, j int) bool {
		return math.Abs(float64(comparisons[i].Change)) > math.Abs(float64(comparisons[j].Change))
	})

	return &PeriodComparison{
		Period1:             fmt.Sprintf("%d-%02d", year1, month1),
		Period2:             fmt.Sprintf("%d-%02d", year2, month2),
		TotalPeriod1Tickets: sumTickets(period1),
		TotalPeriod2Tickets: sumTickets(period2),
		Comparisons:         comparisons,
	}, nil
}

// TopCause is a compact root-cause line for the quick-stats payload.
type TopCause struct {
	Name     string `json:"name"`
	Tickets  int    `json:"tickets"`
	Severity string `json:"severity"`
}

// QuickStats is the one-screen overview of a month.
type QuickStats struct {
	TimePeriod          string `json:"time_period"`
	TotalTickets        int    `json:"total_tickets"`
	TopRootCause        string `json:"top_root_cause"`
	TopRootCauseTickets int    `json:"top_root_cause_tickets"`
	V12Impact           struct {
		TotalTickets int `json:"total_tickets"`
		StillOpen    int `json:"still_open"`
	} `json:"v12_impact"`
	Churn struct {
		TotalChurned int     `json:"total_churned"`
		CLVAtRisk    float64 `json:"clv_at_risk"`
	} `json:"churn"`
	Top5RootCauses []TopCause `json:"top_5_root_causes"`
}

// QuickStatsForPeriod stitches root causes, v1.2 impact and churn into a
// single overview for one month.
func (s *Service) QuickStatsForPeriod(ctx context.Context, year, month int) (*QuickStats, error) {
	causes, err := s.TopRootCauses(ctx, RootCauseParams{Year: year, Month: month, TopN: 5})
	if err != nil {
		return nil, err
	}
	v12, err := s.V12ImpactSummary(ctx, false)
	if err != nil {
		return nil, err
	}
	churn, err := s.ChurnSummaryForPeriod(ctx, 30, "", false)
	if err != nil {
		return nil, err
	}

	stats := &QuickStats{
		TimePeriod:     fmt.Sprintf("%d-%02d", year, month),
		TotalTickets:   sumTickets(causes),
		Top5RootCauses: make([]TopCause, 0, len(causes)),
	}
	if len(causes) > 0 {
		stats.TopRootCause = causes[0].RootCause
		stats.TopRootCauseTickets = causes[0].Metrics.TotalTickets
	}
	stats.V12Impact.TotalTickets = v12.TotalV12Tickets
	stats.V12Impact.StillOpen = v12.StillOpen
	stats.Churn.TotalChurned = churn.TotalChurned
	stats.Churn.CLVAtRisk = churn.TotalCLVAtRisk
	for _, rc := range causes {
		stats.Top5RootCauses = append(stats.Top5RootCauses, TopCause{
			Name:     rc.RootCause,
			Tickets:  rc.Metrics.TotalTickets,
			Severity: rc.Severity,
		})
	}
	return stats, nil
}

func sumTickets(causes []RootCause) int {
	total := 0
	for _, rc := range causes {
		total += rc.Metrics.TotalTickets
	}
	return total
}
