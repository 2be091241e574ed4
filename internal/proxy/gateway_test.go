package proxy

import (
	"testing"

	"github.com/valyala/fasthttp"

	"github.com/nulpointcorp/llmur-gateway/internal/dispatch"
)

func TestParseBearerToken(t *testing.T) {
	cases := map[string]string{
		"":                    "",
		"Bearer sk-abc":       "sk-abc",
		"bearer sk-abc":       "sk-abc",
		"Basic sk-abc":        "",
		"Bearer":              "",
		"Bearer  sk-abc ":     "sk-abc",
	}
	for header, want := range cases {
		if got := parseBearerToken(header); got != want {
			t.Errorf("parseBearerToken(%q) = %q, want %q", header, got, want)
		}
	}
}

func TestExtractVirtualKey_ReadsAuthorizationHeader(t *testing.T) {
	ctx := &fasthttp.RequestCtx{}
	ctx.Request.Header.Set("Authorization", "Bearer sk-test-123")

	if got := extractVirtualKey(ctx); got != "sk-test-123" {
		t.Errorf("expected sk-test-123, got %q", got)
	}
}

func TestRequestIDFrom_FallsBackWhenMissing(t *testing.T) {
	ctx := &fasthttp.RequestCtx{}
	if got := requestIDFrom(ctx); got != "req_unknown" {
		t.Errorf("expected req_unknown fallback, got %q", got)
	}
}

func TestRequestIDFrom_UsesUserValue(t *testing.T) {
	ctx := &fasthttp.RequestCtx{}
	ctx.SetUserValue("request_id", "req_abc")
	if got := requestIDFrom(ctx); got != "req_abc" {
		t.Errorf("expected req_abc, got %q", got)
	}
}

func TestWriteJSON_SetsContentTypeAndBody(t *testing.T) {
	ctx := &fasthttp.RequestCtx{}
	writeJSON(ctx, map[string]string{"status": "ok"})

	if string(ctx.Response.Header.ContentType()) != "application/json" {
		t.Errorf("expected application/json, got %s", ctx.Response.Header.ContentType())
	}
	if string(ctx.Response.Body()) != `{"status":"ok"}` {
		t.Errorf("unexpected body: %s", ctx.Response.Body())
	}
}

func TestHandleHealth_NilCheckerReportsOK(t *testing.T) {
	g := NewGateway(nil, nil, nil, nil, nil)
	ctx := &fasthttp.RequestCtx{}

	g.handleHealth(ctx)

	if string(ctx.Response.Body()) != `{"status":"ok"}` {
		t.Errorf("expected a bare ok status with no health checker wired, got %s", ctx.Response.Body())
	}
}

func TestHandleReadiness_NilCheckerReportsOK(t *testing.T) {
	g := NewGateway(nil, nil, nil, nil, nil)
	ctx := &fasthttp.RequestCtx{}

	g.handleReadiness(ctx)

	if ctx.Response.StatusCode() != fasthttp.StatusOK {
		t.Errorf("expected 200 with no health checker wired, got %d", ctx.Response.StatusCode())
	}
}

func TestHandleChatCompletions_MalformedBodyReturnsBadRequest(t *testing.T) {
	g := NewGateway(&dispatch.Dispatcher{}, nil, nil, nil, nil)
	ctx := &fasthttp.RequestCtx{}
	ctx.Request.SetBody([]byte("not json"))

	g.handleChatCompletions(ctx)

	if ctx.Response.StatusCode() != fasthttp.StatusBadRequest {
		t.Errorf("expected 400 for a malformed body, got %d", ctx.Response.StatusCode())
	}
}

func TestHandleChatCompletions_MissingBearerTokenIsRejected(t *testing.T) {
	g := NewGateway(&dispatch.Dispatcher{}, nil, nil, nil, nil)
	ctx := &fasthttp.RequestCtx{}
	ctx.Request.SetBody([]byte(`{"model":"gpt-4o","messages":[]}`))

	g.handleChatCompletions(ctx)

	if ctx.Response.StatusCode() != fasthttp.StatusUnauthorized {
		t.Errorf("expected 401 for a missing bearer token, got %d", ctx.Response.StatusCode())
	}
}

func TestHandleEmbeddings_MalformedBodyReturnsBadRequest(t *testing.T) {
	g := NewGateway(&dispatch.Dispatcher{}, nil, nil, nil, nil)
	ctx := &fasthttp.RequestCtx{}
	ctx.Request.SetBody([]byte("{not json"))

	g.handleEmbeddings(ctx)

	if ctx.Response.StatusCode() != fasthttp.StatusBadRequest {
		t.Errorf("expected 400 for a malformed body, got %d", ctx.Response.StatusCode())
	}
}

func TestHandleResponses_MissingBearerTokenIsRejected(t *testing.T) {
	g := NewGateway(&dispatch.Dispatcher{}, nil, nil, nil, nil)
	ctx := &fasthttp.RequestCtx{}
	ctx.Request.SetBody([]byte(`{"model":"gpt-4o","input":"hi"}`))

	g.handleResponses(ctx)

	if ctx.Response.StatusCode() != fasthttp.StatusUnauthorized {
		t.Errorf("expected 401 for a missing bearer token, got %d", ctx.Response.StatusCode())
	}
}
