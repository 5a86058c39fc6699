package kpi

import (
	"context"
	"database/sql"
	"fmt"
)

const ticketMart = "analytics_marts.mart_ticket_analytics"

// ProductImpact is the v1.2 ticket load on one product.
type ProductImpact struct {
	Product            string  `json:"product"`
	TicketCount        int     `json:"ticket_count"`
	PctOfTotal         float64 `json:"pct_of_total"`
	AvgResolutionHours float64 `json:"avg_resolution_hours"`
	OpenCount          int     `json:"open_count"`
}

// ReleaseImpactSummary aggregates every ticket attributed to the v1.2 app
// release across the ticket mart.
type ReleaseImpactSummary struct {
	TotalV12Tickets    int             `json:"total_v12_tickets"`
	AffectedProducts   int             `json:"affected_products"`
	ProductList        string          `json:"product_list"`
	AvgResolutionHours float64         `json:"avg_resolution_hours"`
	StillOpen          int             `json:"still_open"`
	PctStillOpen       float64         `json:"pct_still_open"`
	PctResolved        float64         `json:"pct_resolved"`
	ProductBreakdown   []ProductImpact `json:"product_breakdown,omitempty"`
}

// V12ImpactSummary reports the blast radius of the v1.2 release, optionally
// broken down per product.
func (s *Service) V12ImpactSummary(ctx context.Context, includeDetails bool) (*ReleaseImpactSummary, error) {
	s.logger.Info("Fetching v1.2 impact summary")

	var (
		total, products, stillOpen sql.NullInt64
		avgRes                     sql.NullFloat64
		productList                sql.NullString
	)
	row := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) AS total_v12_tickets,
			COUNT(DISTINCT product_type) AS affected_products,
			AVG(resolution_time_hours) AS avg_resolution_hours,
			COUNT(CASE WHEN ticket_status = 'open' THEN 1 END) AS still_open,
			STRING_AGG(DISTINCT product_type, ', ') AS product_list
		FROM `+ticketMart+`
		WHERE is_v12_related = true`)
	if err := row.Scan(&total, &products, &avgRes, &stillOpen, &productList); err != nil {
		return nil, fmt.Errorf("query v1.2 impact: %w", err)
	}

	var nulls nullTracker
	summary := &ReleaseImpactSummary{
		TotalV12Tickets:    nulls.intOrZero(total),
		AffectedProducts:   nulls.intOrZero(products),
		ProductList:        stringOrEmpty(productList),
		AvgResolutionHours: round2(nulls.floatOrZero(avgRes)),
		StillOpen:          nulls.intOrZero(stillOpen),
	}
	nulls.logCoercions(s.logger, ticketMart)
	if summary.TotalV12Tickets > 0 {
		summary.PctStillOpen = round2(float64(summary.StillOpen) * 100.0 / float64(summary.TotalV12Tickets))
		summary.PctResolved = round2(float64(summary.TotalV12Tickets-summary.StillOpen) * 100.0 / float64(summary.TotalV12Tickets))
	}

	if includeDetails && summary.TotalV12Tickets > 0 {
		breakdown, err := s.v12ProductBreakdown(ctx, summary.TotalV12Tickets)
		if err != nil {
			return nil, err
		}
		summary.ProductBreakdown = breakdown
	}
	return summary, nil
}

func (s *Service) v12ProductBreakdown(ctx context.Context, totalTickets int) ([]ProductImpact, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT product_type,
			COUNT(*) AS ticket_count,
			AVG(resolution_time_hours) AS avg_resolution_hours,
			COUNT(CASE WHEN ticket_status = 'open' THEN 1 END) AS open_count
		FROM `+ticketMart+`
		WHERE is_v12_related = true
		GROUP BY product_type
		ORDER BY ticket_count DESC`)
	if err != nil {
		return nil, fmt.Errorf("query v1.2 product breakdown: %w", err)
	}
	defer rows.Close()

	var breakdown []ProductImpact
	var nulls nullTracker
	for rows.Next() {
		var (
			product   sql.NullString
			count     sql.NullInt64
			avgRes    sql.NullFloat64
			openCount sql.NullInt64
		)
		if err := rows.Scan(&product, &count, &avgRes, &openCount); err != nil {
			return nil, fmt.Errorf("scan product impact: %w", err)
		}
		impact := ProductImpact{
			Product:            stringOrEmpty(product),
			TicketCount:        nulls.intOrZero(count),
			AvgResolutionHours: round2(nulls.floatOrZero(avgRes)),
			OpenCount:          nulls.intOrZero(openCount),
		}
		impact.PctOfTotal = round1(float64(impact.TicketCount) * 100.0 / float64(totalTickets))
		breakdown = append(breakdown, impact)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate product impacts: %w", err)
	}
	nulls.logCoercions(s.logger, ticketMart)
	return breakdown, nil
}
