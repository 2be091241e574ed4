package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nulpointcorp/llmur-gateway/internal/usage"
)

// idColumn maps a graph.Resource (by its string form) to the request_logs
// column that references it.
var idColumn = map[string]string{
	"virtualkey": "virtual_key_id",
	"deployment": "deployment_id",
	"connection": "connection_id",
	"project":    "project_id",
}

// AggregateStats is the §4.2.4 DB aggregation fallback: it recomputes all
// three metrics across all four windows for one resource/id pair directly
// from request_logs, used when the KV cache reports an incomplete (any
// NotSet) stat bundle.
//
// Minute/hour/day use a conditional SUM so one query computes all three
// sub-windows in a single pass; month is unconditional because the query
// already filters request_ts >= the start of the current month.
func (s *Store) AggregateStats(ctx context.Context, resource string, id uuid.UUID, now time.Time) (budget, requests, tokens usage.PeriodStats, err error) {
	col, ok := idColumn[resource]
	if !ok {
		return budget, requests, tokens, fmt.Errorf("store: unknown resource %q", resource)
	}

	now = now.UTC()
	minuteStart := now.Truncate(time.Minute)
	hourStart := now.Truncate(time.Hour)
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)

	query := fmt.Sprintf(`
		SELECT
			COALESCE(SUM(CASE WHEN request_ts >= $2 THEN cost ELSE 0 END), 0)            AS budget_minute,
			COALESCE(SUM(CASE WHEN request_ts >= $3 THEN cost ELSE 0 END), 0)            AS budget_hour,
			COALESCE(SUM(CASE WHEN request_ts >= $4 THEN cost ELSE 0 END), 0)            AS budget_day,
			COALESCE(SUM(cost), 0)                                                      AS budget_month,
			COALESCE(SUM(CASE WHEN request_ts >= $2 THEN 1 ELSE 0 END), 0)               AS requests_minute,
			COALESCE(SUM(CASE WHEN request_ts >= $3 THEN 1 ELSE 0 END), 0)               AS requests_hour,
			COALESCE(SUM(CASE WHEN request_ts >= $4 THEN 1 ELSE 0 END), 0)               AS requests_day,
			COALESCE(COUNT(*), 0)                                                       AS requests_month,
			COALESCE(SUM(CASE WHEN request_ts >= $2 THEN input_tokens+output_tokens ELSE 0 END), 0) AS tokens_minute,
			COALESCE(SUM(CASE WHEN request_ts >= $3 THEN input_tokens+output_tokens ELSE 0 END), 0) AS tokens_hour,
			COALESCE(SUM(CASE WHEN request_ts >= $4 THEN input_tokens+output_tokens ELSE 0 END), 0) AS tokens_day,
			COALESCE(SUM(input_tokens+output_tokens), 0)                                AS tokens_month
		FROM request_logs
		WHERE %s = $1 AND request_ts >= $5`, col)

	row := s.pool.QueryRow(ctx, query, id, minuteStart, hourStart, dayStart, monthStart)

	var bMin, bHour, bDay, bMonth float64
	var rMin, rHour, rDay, rMonth int64
	var tMin, tHour, tDay, tMonth int64
	if err = row.Scan(&bMin, &bHour, &bDay, &bMonth, &rMin, &rHour, &rDay, &rMonth, &tMin, &tHour, &tDay, &tMonth); err != nil {
		return budget, requests, tokens, fmt.Errorf("store: aggregate %s/%s: %w", resource, id, err)
	}

	budget = usage.PeriodStats{
		Minute: usage.StatValue{Kind: usage.FloatValue, Flt: bMin},
		Hour:   usage.StatValue{Kind: usage.FloatValue, Flt: bHour},
		Day:    usage.StatValue{Kind: usage.FloatValue, Flt: bDay},
		Month:  usage.StatValue{Kind: usage.FloatValue, Flt: bMonth},
	}
	requests = usage.PeriodStats{
		Minute: usage.StatValue{Kind: usage.IntValue, Int: rMin},
		Hour:   usage.StatValue{Kind: usage.IntValue, Int: rHour},
		Day:    usage.StatValue{Kind: usage.IntValue, Int: rDay},
		Month:  usage.StatValue{Kind: usage.IntValue, Int: rMonth},
	}
	tokens = usage.PeriodStats{
		Minute: usage.StatValue{Kind: usage.IntValue, Int: tMin},
		Hour:   usage.StatValue{Kind: usage.IntValue, Int: tHour},
		Day:    usage.StatValue{Kind: usage.IntValue, Int: tDay},
		Month:  usage.StatValue{Kind: usage.IntValue, Int: tMonth},
	}
	return budget, requests, tokens, nil
}
