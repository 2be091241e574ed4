package apierr

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/valyala/fasthttp"
)

func TestAuthenticationError_StatusAndMessage(t *testing.T) {
	e := &AuthenticationError{Reason: "unknown virtual key"}
	if e.HTTPStatus() != fasthttp.StatusUnauthorized {
		t.Errorf("expected 401, got %d", e.HTTPStatus())
	}
	if e.Error() == "" {
		t.Error("expected a non-empty message")
	}
}

func TestAuthorizationError_StatusAndMessage(t *testing.T) {
	e := &AuthorizationError{Reason: "deployment not entitled"}
	if e.HTTPStatus() != fasthttp.StatusForbidden {
		t.Errorf("expected 403, got %d", e.HTTPStatus())
	}
}

func TestDataAccessError_ClientAddressableVsInternal(t *testing.T) {
	clientErr := &DataAccessError{Op: "lookup", Cause: errors.New("bad id"), ClientAddressable: true}
	if clientErr.HTTPStatus() != fasthttp.StatusBadRequest {
		t.Errorf("expected 400 for a client-addressable data error, got %d", clientErr.HTTPStatus())
	}

	internalErr := &DataAccessError{Op: "query", Cause: errors.New("connection reset")}
	if internalErr.HTTPStatus() != fasthttp.StatusInternalServerError {
		t.Errorf("expected 500 for a non-client-addressable data error, got %d", internalErr.HTTPStatus())
	}
	if errors.Unwrap(internalErr) == nil {
		t.Error("expected Unwrap to expose the underlying cause")
	}
}

func TestGraphLoadError_StatusPerKind(t *testing.T) {
	cases := []struct {
		kind GraphLoadErrorKind
		want int
	}{
		{InvalidVirtualKey, fasthttp.StatusUnauthorized},
		{InvalidDeploymentName, fasthttp.StatusNotFound},
		{InvalidVirtualKeyDeployment, fasthttp.StatusNotFound},
		{InconsistentProject, fasthttp.StatusInternalServerError},
		{InconsistentConnectionDeployments, fasthttp.StatusInternalServerError},
		{InconsistentConnection, fasthttp.StatusInternalServerError},
	}
	for _, c := range cases {
		e := &GraphLoadError{Kind: c.kind}
		if got := e.HTTPStatus(); got != c.want {
			t.Errorf("kind %v: expected %d, got %d", c.kind, c.want, got)
		}
	}
}

func TestGraphLoadErrorKind_String(t *testing.T) {
	if got := InvalidVirtualKey.String(); got != "invalid_virtual_key" {
		t.Errorf("unexpected string: %q", got)
	}
	if got := GraphLoadErrorKind(999).String(); got != "unknown" {
		t.Errorf("expected unknown for an out-of-range kind, got %q", got)
	}
}

func TestUsageExceededError_StatusMessageAndCode(t *testing.T) {
	e := &UsageExceededError{Metric: "tokens", Period: "minute", Used: 100, Limit: 90}
	if e.HTTPStatus() != fasthttp.StatusTooManyRequests {
		t.Errorf("expected 429, got %d", e.HTTPStatus())
	}
	if e.Code() != "tokens_minute_over_limit" {
		t.Errorf("unexpected code: %q", e.Code())
	}
}

func TestProxyError_StatusByKind(t *testing.T) {
	returnErr := &ProxyError{Status: 404, Kind: "return"}
	if returnErr.HTTPStatus() != 404 {
		t.Errorf("expected a 4xx return error to forward its status, got %d", returnErr.HTTPStatus())
	}

	returnServerErr := &ProxyError{Status: 503, Kind: "return"}
	if returnServerErr.HTTPStatus() != fasthttp.StatusBadGateway {
		t.Errorf("expected a 5xx return error to map to 502, got %d", returnServerErr.HTTPStatus())
	}

	transportErr := &ProxyError{Kind: "transport"}
	if transportErr.HTTPStatus() != fasthttp.StatusBadGateway {
		t.Errorf("expected a transport error to map to 502, got %d", transportErr.HTTPStatus())
	}

	invalidErr := &ProxyError{Kind: "invalid_request"}
	if invalidErr.HTTPStatus() != fasthttp.StatusBadRequest {
		t.Errorf("expected invalid_request to map to 400, got %d", invalidErr.HTTPStatus())
	}

	defaultErr := &ProxyError{Kind: "internal"}
	if defaultErr.HTTPStatus() != fasthttp.StatusInternalServerError {
		t.Errorf("expected an unrecognized kind to map to 500, got %d", defaultErr.HTTPStatus())
	}
}

func TestProxyError_ErrorMessageReflectsCause(t *testing.T) {
	withCause := &ProxyError{Kind: "transport", Cause: errors.New("dial tcp: timeout")}
	if withCause.Error() == "" {
		t.Error("expected a non-empty message")
	}
	if errors.Unwrap(withCause) == nil {
		t.Error("expected Unwrap to expose the cause")
	}

	withBody := &ProxyError{Status: 400, Kind: "return", Body: `{"error":"bad request"}`}
	if withBody.Error() == "" {
		t.Error("expected a non-empty message")
	}
}

func decodeEnvelope(t *testing.T, body []byte) envelope {
	t.Helper()
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		t.Fatalf("unmarshal response body: %v", err)
	}
	return env
}

func TestWrite_SetsStatusAndBody(t *testing.T) {
	ctx := &fasthttp.RequestCtx{}
	Write(ctx, fasthttp.StatusBadRequest, "bad input", TypeInvalidRequest, CodeInvalidRequest)

	if ctx.Response.StatusCode() != fasthttp.StatusBadRequest {
		t.Errorf("expected 400, got %d", ctx.Response.StatusCode())
	}
	env := decodeEnvelope(t, ctx.Response.Body())
	if env.Error.Message != "bad input" || env.Error.Code != CodeInvalidRequest {
		t.Errorf("unexpected envelope: %+v", env.Error)
	}
}

func TestWriteError_UsageExceededIncludesUsedAndLimit(t *testing.T) {
	ctx := &fasthttp.RequestCtx{}
	WriteError(ctx, &UsageExceededError{Metric: "requests", Period: "hour", Used: 10, Limit: 5})

	if ctx.Response.StatusCode() != fasthttp.StatusTooManyRequests {
		t.Errorf("expected 429, got %d", ctx.Response.StatusCode())
	}
	env := decodeEnvelope(t, ctx.Response.Body())
	if env.Error.Type != TypeRateLimitError {
		t.Errorf("expected rate_limit_error, got %q", env.Error.Type)
	}
}

func TestWriteError_AuthenticationMapsTo401(t *testing.T) {
	ctx := &fasthttp.RequestCtx{}
	WriteError(ctx, &AuthenticationError{Reason: "no such key"})

	if ctx.Response.StatusCode() != fasthttp.StatusUnauthorized {
		t.Errorf("expected 401, got %d", ctx.Response.StatusCode())
	}
}

func TestWriteError_GraphLoadInconsistentMapsToServerError(t *testing.T) {
	ctx := &fasthttp.RequestCtx{}
	WriteError(ctx, &GraphLoadError{Kind: InconsistentProject})

	env := decodeEnvelope(t, ctx.Response.Body())
	if env.Error.Type != TypeServerError {
		t.Errorf("expected server_error for an inconsistent graph load, got %q", env.Error.Type)
	}
}

func TestWriteError_ProxyErrorDelegatesToProviderMapping(t *testing.T) {
	ctx := &fasthttp.RequestCtx{}
	WriteError(ctx, &ProxyError{Status: fasthttp.StatusTooManyRequests, Kind: "return"})

	if ctx.Response.StatusCode() != fasthttp.StatusTooManyRequests {
		t.Errorf("expected 429, got %d", ctx.Response.StatusCode())
	}
	if string(ctx.Response.Header.Peek("Retry-After")) != "60" {
		t.Error("expected a Retry-After header on a 429 provider response")
	}
}

func TestWriteError_UnknownErrorFallsBackTo500(t *testing.T) {
	ctx := &fasthttp.RequestCtx{}
	WriteError(ctx, errors.New("something unexpected"))

	if ctx.Response.StatusCode() != fasthttp.StatusInternalServerError {
		t.Errorf("expected 500 for an unrecognized error, got %d", ctx.Response.StatusCode())
	}
}

func TestWriteProviderError_MapsUpstream4xxVerbatim(t *testing.T) {
	ctx := &fasthttp.RequestCtx{}
	WriteProviderError(ctx, fasthttp.StatusNotFound, "model not found")

	if ctx.Response.StatusCode() != fasthttp.StatusNotFound {
		t.Errorf("expected the upstream 404 to forward verbatim, got %d", ctx.Response.StatusCode())
	}
}

func TestWriteProviderError_MapsUpstream5xxTo502(t *testing.T) {
	ctx := &fasthttp.RequestCtx{}
	WriteProviderError(ctx, fasthttp.StatusServiceUnavailable, "upstream down")

	if ctx.Response.StatusCode() != fasthttp.StatusBadGateway {
		t.Errorf("expected 502, got %d", ctx.Response.StatusCode())
	}
}

func TestWriteTimeout_Writes504(t *testing.T) {
	ctx := &fasthttp.RequestCtx{}
	WriteTimeout(ctx)

	if ctx.Response.StatusCode() != fasthttp.StatusGatewayTimeout {
		t.Errorf("expected 504, got %d", ctx.Response.StatusCode())
	}
}
