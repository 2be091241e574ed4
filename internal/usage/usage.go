// Package usage implements the two-tier usage counter engine: the Redis key
// scheme, StatValue decoding, the admission check, and the 48-key increment
// protocol described for the gateway's budget/requests/tokens ceilings.
package usage

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Period is one of the four accounting windows. Case matters in the wire key
// scheme below — do not change these letters.
type Period string

const (
	PeriodMinute Period = "M"
	PeriodHour   Period = "H"
	PeriodDay    Period = "d"
	PeriodMonth  Period = "m"
)

// periodOrder is the fixed admission-check evaluation order: month first
// (the widest, most expensive-to-violate window) down to minute.
var periodOrder = []Period{PeriodMonth, PeriodDay, PeriodHour, PeriodMinute}

// Metric is one of the three ceilings tracked per node.
type Metric string

const (
	MetricBudget   Metric = "budget"
	MetricRequests Metric = "requests"
	MetricTokens   Metric = "tokens"
)

// metricOrder is the fixed admission-check evaluation order within one
// period: budget, then requests, then tokens.
var metricOrder = []Metric{MetricBudget, MetricRequests, MetricTokens}

// StatValueKind distinguishes an absent counter (NotSet) from a present
// zero-valued one. NotSet is not the same as 0: it means "no cached value
// observed", which triggers a DB-authoritative reload rather than admitting
// the request against a false zero.
type StatValueKind int

const (
	NotSet StatValueKind = iota
	IntValue
	FloatValue
)

// StatValue is the decoded contents of one Redis key.
type StatValue struct {
	Kind StatValueKind
	Int  int64
	Flt  float64
}

func (v StatValue) Float() float64 {
	switch v.Kind {
	case IntValue:
		return float64(v.Int)
	case FloatValue:
		return v.Flt
	default:
		return 0
	}
}

// PeriodStats holds the four per-window values for one metric.
type PeriodStats struct {
	Minute StatValue
	Hour   StatValue
	Day    StatValue
	Month  StatValue
}

func (p PeriodStats) byPeriod(period Period) StatValue {
	switch period {
	case PeriodMinute:
		return p.Minute
	case PeriodHour:
		return p.Hour
	case PeriodDay:
		return p.Day
	case PeriodMonth:
		return p.Month
	default:
		return StatValue{Kind: NotSet}
	}
}

// Stats is the full counter bundle attached to every graph node.
type Stats struct {
	Budget   PeriodStats
	Requests PeriodStats
	Tokens   PeriodStats
}

func (s Stats) byMetric(m Metric) PeriodStats {
	switch m {
	case MetricBudget:
		return s.Budget
	case MetricRequests:
		return s.Requests
	case MetricTokens:
		return s.Tokens
	default:
		return PeriodStats{}
	}
}

// Key builds the wire-exact Redis key:
//
//	stats:{resource}:{id}:{metric}:{period_code}:{bucket}
func Key(resource string, id string, metric Metric, period Period, bucket time.Time) string {
	return fmt.Sprintf("stats:%s:%s:%s:%s:%s", resource, id, metric, period, bucketString(period, bucket))
}

func bucketString(period Period, t time.Time) string {
	t = t.UTC()
	switch period {
	case PeriodMinute:
		return t.Format("200601021504")
	case PeriodHour:
		return t.Format("2006010215")
	case PeriodDay:
		return t.Format("20060102")
	case PeriodMonth:
		return t.Format("200601")
	default:
		return t.Format("200601021504")
	}
}

// AllKeys returns the twelve wire keys (3 metrics × 4 periods) for one
// resource/id pair at time now.
func AllKeys(resource string, id string, now time.Time) []string {
	keys := make([]string, 0, 12)
	for _, m := range metricOrder {
		for _, p := range periodOrder {
			keys = append(keys, Key(resource, id, m, p, now))
		}
	}
	return keys
}

// Engine is the Redis-backed usage counter store. A nil *redis.Client puts
// the engine in local-only mode: every load reports NotSet so callers fall
// back to the DB aggregator (see internal/store's AggregateStats).
type Engine struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewEngine constructs an Engine. ttl is the TTL renewed on every write
// (§4.2.5; default 60s).
func NewEngine(rdb *redis.Client, ttl time.Duration) *Engine {
	if ttl <= 0 {
		ttl = 60 * time.Second
	}
	return &Engine{rdb: rdb, ttl: ttl}
}

// Load hydrates a Stats bundle for one resource/id pair via a single MGET of
// its 12 keys. Redis errors are reported to the caller but never treated as
// fatal — graph resolution falls back to the DB aggregator instead.
func (e *Engine) Load(ctx context.Context, resource string, id string, now time.Time) (Stats, error) {
	if e.rdb == nil {
		return Stats{}, nil
	}

	keys := AllKeys(resource, id, now)
	vals, err := e.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return Stats{}, fmt.Errorf("usage: mget %s/%s: %w", resource, id, err)
	}

	decode := func(idx int) StatValue {
		if idx >= len(vals) || vals[idx] == nil {
			return StatValue{Kind: NotSet}
		}
		s, ok := vals[idx].(string)
		if !ok {
			return StatValue{Kind: NotSet}
		}
		if i, err := strconv.ParseInt(s, 10, 64); err == nil {
			return StatValue{Kind: IntValue, Int: i}
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return StatValue{Kind: FloatValue, Flt: f}
		}
		return StatValue{Kind: NotSet}
	}

	var st Stats
	i := 0
	for _, m := range metricOrder {
		ps := PeriodStats{
			Month:  decode(i),
			Day:    decode(i + 1),
			Hour:   decode(i + 2),
			Minute: decode(i + 3),
		}
		i += 4
		switch m {
		case MetricBudget:
			st.Budget = ps
		case MetricRequests:
			st.Requests = ps
		case MetricTokens:
			st.Tokens = ps
		}
	}
	return st, nil
}

// Complete reports whether every one of the 12 values in s was present
// (none NotSet). An incomplete bundle triggers a DB-authoritative reload.
func (s Stats) Complete() bool {
	for _, ps := range []PeriodStats{s.Budget, s.Requests, s.Tokens} {
		for _, v := range []StatValue{ps.Minute, ps.Hour, ps.Day, ps.Month} {
			if v.Kind == NotSet {
				return false
			}
		}
	}
	return true
}

// SetAll cold-fills all 12 keys for one resource/id pair from DB-aggregated
// values and renews the TTL on every key (the cold-fill write path).
func (e *Engine) SetAll(ctx context.Context, resource string, id string, now time.Time, budget PeriodStats, requests PeriodStats, tokens PeriodStats) error {
	if e.rdb == nil {
		return nil
	}
	pipe := e.rdb.Pipeline()
	set := func(metric Metric, period Period, v StatValue) {
		key := Key(resource, id, metric, period, now)
		switch v.Kind {
		case FloatValue:
			pipe.Set(ctx, key, v.Flt, e.ttl)
		default:
			pipe.Set(ctx, key, v.Int, e.ttl)
		}
	}
	set(MetricBudget, PeriodMinute, budget.Minute)
	set(MetricBudget, PeriodHour, budget.Hour)
	set(MetricBudget, PeriodDay, budget.Day)
	set(MetricBudget, PeriodMonth, budget.Month)
	set(MetricRequests, PeriodMinute, requests.Minute)
	set(MetricRequests, PeriodHour, requests.Hour)
	set(MetricRequests, PeriodDay, requests.Day)
	set(MetricRequests, PeriodMonth, requests.Month)
	set(MetricTokens, PeriodMinute, tokens.Minute)
	set(MetricTokens, PeriodHour, tokens.Hour)
	set(MetricTokens, PeriodDay, tokens.Day)
	set(MetricTokens, PeriodMonth, tokens.Month)

	_, err := pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("usage: set_all %s/%s: %w", resource, id, err)
	}
	return nil
}

// Increment applies one completed attempt's cost/requests/tokens delta to
// all 12 keys for one resource/id pair via a single pipelined batch, and
// renews the TTL on each key (§4.2.5: increments SHOULD renew TTL).
func (e *Engine) Increment(ctx context.Context, resource string, id string, now time.Time, cost float64, requests int64, tokens int64) error {
	if e.rdb == nil {
		return nil
	}
	pipe := e.rdb.Pipeline()

	incrBudget := func(period Period) {
		key := Key(resource, id, MetricBudget, period, now)
		pipe.IncrByFloat(ctx, key, cost)
		pipe.Expire(ctx, key, e.ttl)
	}
	incrInt := func(metric Metric, period Period, delta int64) {
		key := Key(resource, id, metric, period, now)
		pipe.IncrBy(ctx, key, delta)
		pipe.Expire(ctx, key, e.ttl)
	}

	for _, p := range periodOrder {
		incrBudget(p)
		incrInt(MetricRequests, p, requests)
		incrInt(MetricTokens, p, tokens)
	}

	_, err := pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("usage: increment %s/%s: %w", resource, id, err)
	}
	return nil
}

// IncrementAll runs Increment for all four resource kinds in one request's
// accounting sweep (48 keys total), matching §4.2.5's increment protocol.
func IncrementAll(ctx context.Context, e *Engine, now time.Time, cost float64, requests int64, tokens int64,
	virtualKeyID, deploymentID, connectionID, projectID string) error {

	targets := []struct {
		resource string
		id       string
	}{
		{string(resourceVirtualKey), virtualKeyID},
		{string(resourceDeployment), deploymentID},
		{string(resourceConnection), connectionID},
		{string(resourceProject), projectID},
	}
	var firstErr error
	for _, t := range targets {
		if err := e.Increment(ctx, t.resource, t.id, now, cost, requests, tokens); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

const (
	resourceVirtualKey = "virtualkey"
	resourceDeployment = "deployment"
	resourceConnection = "connection"
	resourceProject    = "project"
)
