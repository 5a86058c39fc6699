// Package kpi serves pre-aggregated support metrics from the dbt marts in
// analytics_marts. Everything here is read-only and shaped for direct
// inclusion in tool results and dashboard payloads.
package kpi

import (
	"database/sql"
	"math"
	"time"

	"github.com/PhupaSirirat/dbank-copilot/pkg/logging"
)

// Service answers KPI lookups against the mart tables.
type Service struct {
	db     *sql.DB
	logger logging.Logger
	now    func() time.Time
}

func NewService(db *sql.DB, logger logging.Logger) *Service {
	return &Service{db: db, logger: logger, now: time.Now}
}

// nullTracker coerces nullable mart columns to zero and counts how many were
// NULL. Marts built from sparse months can carry NULL aggregates; callers
// always get a number, and each query logs what it coerced so a data-quality
// regression upstream stays visible.
type nullTracker struct {
	coerced int
}

func (t *nullTracker) intOrZero(v sql.NullInt64) int {
	if !v.Valid {
		t.coerced++
		return 0
	}
	return int(v.Int64)
}

func (t *nullTracker) floatOrZero(v sql.NullFloat64) float64 {
	if !v.Valid {
		t.coerced++
		return 0
	}
	return v.Float64
}

// logCoercions emits one entry per result set that had NULL aggregates.
func (t *nullTracker) logCoercions(logger logging.Logger, mart string) {
	if t.coerced == 0 {
		return
	}
	logger.WithFields(logging.Fields{
		"mart":          mart,
		"coerced_nulls": t.coerced,
	}).Warn("Coerced NULL mart aggregates to zero")
}

func stringOrEmpty(v sql.NullString) string {
	if !v.Valid {
		return ""
	}
	return v.String
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
