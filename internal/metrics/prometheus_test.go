package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestIncDecInFlight(t *testing.T) {
	r := New()
	r.IncInFlight()
	r.IncInFlight()
	r.DecInFlight()

	if got := testutil.ToFloat64(r.inFlight); got != 1 {
		t.Errorf("expected in-flight gauge = 1, got %v", got)
	}
}

func TestRecordRequest_IncrementsCounterAndLatency(t *testing.T) {
	r := New()
	r.RecordRequest("openai", 200, 120)
	r.RecordRequest("openai", 200, 80)

	if got := testutil.ToFloat64(r.requestsTotal.WithLabelValues("openai", "200")); got != 2 {
		t.Errorf("expected requestsTotal = 2, got %v", got)
	}
	if got := testutil.ToFloat64(r.latencyTotal.WithLabelValues("openai")); got != 200 {
		t.Errorf("expected summed latency = 200, got %v", got)
	}
}

func TestObserveHTTP_RecordsRequestAndResponseSize(t *testing.T) {
	r := New()
	r.ObserveHTTP("chat_completions", 200, 10*time.Millisecond, 128, 256)

	if got := testutil.ToFloat64(r.httpRequestsTotal.WithLabelValues("chat_completions", "200")); got != 1 {
		t.Errorf("expected httpRequestsTotal = 1, got %v", got)
	}
	if got := testutil.CollectAndCount(r.httpReqSize); got != 1 {
		t.Errorf("expected one request-size observation series, got %d", got)
	}
}

func TestObserveHTTP_NegativeSizesAreSkipped(t *testing.T) {
	r := New()
	r.ObserveHTTP("chat_completions", 200, time.Millisecond, -1, -1)

	if got := testutil.CollectAndCount(r.httpReqSize); got != 0 {
		t.Errorf("expected no request-size series when reqBytes is negative, got %d", got)
	}
	if got := testutil.CollectAndCount(r.httpRespSize); got != 0 {
		t.Errorf("expected no response-size series when respBytes is negative, got %d", got)
	}
}

func TestCacheHitMissBypass(t *testing.T) {
	r := New()
	r.CacheGetHit()
	r.CacheGetMiss()
	r.CacheGetMiss()
	r.CacheGetBypass()

	if got := testutil.ToFloat64(r.cacheHits); got != 1 {
		t.Errorf("expected 1 cache hit, got %v", got)
	}
	if got := testutil.ToFloat64(r.cacheMisses); got != 2 {
		t.Errorf("expected 2 cache misses, got %v", got)
	}
	if got := testutil.ToFloat64(r.cacheOps.WithLabelValues("get", "bypass")); got != 1 {
		t.Errorf("expected 1 bypass op, got %v", got)
	}
}

func TestAddTokens_SplitsInputOutputAndTotal(t *testing.T) {
	r := New()
	r.AddTokens("openai", "chat_completions", 10, 5, false)

	if got := testutil.ToFloat64(r.tokensTotal.WithLabelValues("openai", "chat_completions", "input", "miss")); got != 10 {
		t.Errorf("expected input tokens = 10, got %v", got)
	}
	if got := testutil.ToFloat64(r.tokensTotal.WithLabelValues("openai", "chat_completions", "output", "miss")); got != 5 {
		t.Errorf("expected output tokens = 5, got %v", got)
	}
	if got := testutil.ToFloat64(r.tokensTotal.WithLabelValues("openai", "chat_completions", "total", "miss")); got != 15 {
		t.Errorf("expected total tokens = 15, got %v", got)
	}
}

func TestAddTokens_ZeroTokensRecordsNothing(t *testing.T) {
	r := New()
	r.AddTokens("openai", "embeddings", 0, 0, true)

	if got := testutil.CollectAndCount(r.tokensTotal); got != 0 {
		t.Errorf("expected no token series for a zero-token call, got %d", got)
	}
}

func TestSetProviderHealth(t *testing.T) {
	r := New()
	r.SetProviderHealth("azure", true)
	if got := testutil.ToFloat64(r.providerHealth.WithLabelValues("azure")); got != 1 {
		t.Errorf("expected healthy=1, got %v", got)
	}

	r.SetProviderHealth("azure", false)
	if got := testutil.ToFloat64(r.providerHealth.WithLabelValues("azure")); got != 0 {
		t.Errorf("expected healthy=0, got %v", got)
	}
}

func TestSetCircuitBreaker_RecordsTransitionOnlyOnChange(t *testing.T) {
	r := New()
	r.SetCircuitBreaker("openai", 0)
	r.SetCircuitBreaker("openai", 0)
	r.SetCircuitBreaker("openai", 1)

	if got := testutil.ToFloat64(r.circuitBreakerState.WithLabelValues("openai")); got != 1 {
		t.Errorf("expected gauge = 1, got %v", got)
	}
	if got := testutil.ToFloat64(r.cbTransitions.WithLabelValues("openai", "0")); got != 1 {
		t.Errorf("expected exactly one transition into state 0, got %v", got)
	}
	if got := testutil.ToFloat64(r.cbTransitions.WithLabelValues("openai", "1")); got != 1 {
		t.Errorf("expected exactly one transition into state 1, got %v", got)
	}
}

func TestRecordCircuitBreakerRejection(t *testing.T) {
	r := New()
	r.RecordCircuitBreakerRejection("openai", "open")
	r.RecordCircuitBreakerRejection("openai", "open")

	if got := testutil.ToFloat64(r.cbRejections.WithLabelValues("openai", "open")); got != 2 {
		t.Errorf("expected 2 rejections, got %v", got)
	}
}

func TestRecordFailoverLifecycle(t *testing.T) {
	r := New()
	r.RecordFailover("gpt-4o", "conn-a", "conn-b", "5xx")
	r.RecordFailoverSuccess("gpt-4o", "conn-b")
	r.RecordFailoverExhausted("gpt-4o")

	if got := testutil.ToFloat64(r.failoverEvents.WithLabelValues("gpt-4o", "conn-a", "conn-b", "5xx")); got != 1 {
		t.Errorf("expected 1 failover event, got %v", got)
	}
	if got := testutil.ToFloat64(r.failoverSuccess.WithLabelValues("gpt-4o", "conn-b")); got != 1 {
		t.Errorf("expected 1 failover success, got %v", got)
	}
	if got := testutil.ToFloat64(r.failoverExhausted.WithLabelValues("gpt-4o")); got != 1 {
		t.Errorf("expected 1 failover exhaustion, got %v", got)
	}
}

func TestRecordRateLimit(t *testing.T) {
	r := New()
	r.RecordRateLimit("exceeded")
	if got := testutil.ToFloat64(r.rateLimitTotal.WithLabelValues("exceeded")); got != 1 {
		t.Errorf("expected 1, got %v", got)
	}
}

func TestRecordError(t *testing.T) {
	r := New()
	r.RecordError("openai", "timeout")
	if got := testutil.ToFloat64(r.providerErrors.WithLabelValues("openai", "timeout")); got != 1 {
		t.Errorf("expected 1, got %v", got)
	}
}

func TestSetBuildInfo(t *testing.T) {
	r := New()
	r.SetBuildInfo("v1.2.3")
	if got := testutil.ToFloat64(r.buildInfo.WithLabelValues("v1.2.3")); got != 1 {
		t.Errorf("expected the build_info gauge to be set, got %v", got)
	}
}

func TestHandler_IsNotNil(t *testing.T) {
	r := New()
	if r.Handler() == nil {
		t.Error("expected a non-nil metrics HTTP handler")
	}
}

func TestPromRegistry_ExposesUnderlyingRegistry(t *testing.T) {
	r := New()
	if r.PromRegistry() == nil {
		t.Error("expected a non-nil underlying prometheus registry")
	}
	families, err := r.PromRegistry().Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	if len(families) == 0 {
		t.Error("expected at least the Go/process collector metric families to be registered")
	}
}
