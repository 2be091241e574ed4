// Package apierr provides the structured error taxonomy shared across the
// gateway and a single HTTP-response dispatch point compatible with the
// OpenAI error envelope.
package apierr

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/valyala/fasthttp"
)

// ErrorType constants, mirroring the OpenAI error envelope "type" field.
const (
	TypeProviderError     = "provider_error"
	TypeRateLimitError    = "rate_limit_error"
	TypeInvalidRequest    = "invalid_request_error"
	TypeAuthenticationErr = "authentication_error"
	TypeAuthorizationErr  = "authorization_error"
	TypeServerError       = "server_error"
)

// Code constants.
const (
	CodeRateLimitExceeded = "rate_limit_exceeded"
	CodeInvalidAPIKey     = "invalid_api_key"
	CodeInternalError     = "internal_error"
	CodeProviderError     = "provider_error"
	CodeRequestTimeout    = "request_timeout"
	CodeNotImplemented    = "not_implemented"
	CodeInvalidRequest    = "invalid_request"
	CodeUnknownDeployment = "unknown_deployment"
)

// StatusCoder is implemented by every error kind in the taxonomy. The HTTP
// layer has a single dispatch point (WriteError) instead of a type switch
// per handler.
type StatusCoder interface {
	error
	HTTPStatus() int
}

// APIError is the structured error returned to clients.
type (
	APIError struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
		Used    any    `json:"used,omitempty"`
		Limit   any    `json:"limit,omitempty"`
	}
	envelope struct {
		Error APIError `json:"error"`
	}
)

// AuthenticationError — the presented virtual key does not resolve to any
// known record. Maps to 401.
type AuthenticationError struct{ Reason string }

func (e *AuthenticationError) Error() string   { return "authentication failed: " + e.Reason }
func (e *AuthenticationError) HTTPStatus() int { return fasthttp.StatusUnauthorized }

// AuthorizationError — the virtual key is known but not entitled to the
// requested deployment, or is blocked. Maps to 403.
type AuthorizationError struct{ Reason string }

func (e *AuthorizationError) Error() string   { return "not authorized: " + e.Reason }
func (e *AuthorizationError) HTTPStatus() int { return fasthttp.StatusForbidden }

// DataAccessError wraps a failure talking to the relational store or KV
// store. ClientAddressable errors (e.g. malformed id) map to 4xx; everything
// else maps to 5xx.
type DataAccessError struct {
	Op                string
	Cause             error
	ClientAddressable bool
}

func (e *DataAccessError) Error() string {
	return fmt.Sprintf("data access error during %s: %v", e.Op, e.Cause)
}

func (e *DataAccessError) Unwrap() error { return e.Cause }

func (e *DataAccessError) HTTPStatus() int {
	if e.ClientAddressable {
		return fasthttp.StatusBadRequest
	}
	return fasthttp.StatusInternalServerError
}

// GraphLoadErrorKind enumerates the failure points of the staged graph load.
type GraphLoadErrorKind int

const (
	InvalidVirtualKey GraphLoadErrorKind = iota
	InvalidDeploymentName
	InvalidVirtualKeyDeployment
	InconsistentProject
	InconsistentConnectionDeployments
	InconsistentConnection
)

// GraphLoadError — see internal/graph for where each kind is raised. The
// first three kinds are client-addressable (4xx); the Inconsistent* kinds
// indicate a referential-integrity gap in the relational store and are
// always 5xx.
type GraphLoadError struct {
	Kind  GraphLoadErrorKind
	Cause error
}

func (e *GraphLoadError) Error() string {
	return fmt.Sprintf("graph load error (%s): %v", e.Kind.String(), e.Cause)
}

func (e *GraphLoadError) Unwrap() error { return e.Cause }

func (e *GraphLoadError) HTTPStatus() int {
	switch e.Kind {
	case InvalidVirtualKey:
		return fasthttp.StatusUnauthorized
	case InvalidDeploymentName, InvalidVirtualKeyDeployment:
		return fasthttp.StatusNotFound
	default:
		return fasthttp.StatusInternalServerError
	}
}

func (k GraphLoadErrorKind) String() string {
	switch k {
	case InvalidVirtualKey:
		return "invalid_virtual_key"
	case InvalidDeploymentName:
		return "invalid_deployment_name"
	case InvalidVirtualKeyDeployment:
		return "invalid_virtual_key_deployment"
	case InconsistentProject:
		return "inconsistent_project"
	case InconsistentConnectionDeployments:
		return "inconsistent_connection_deployments"
	case InconsistentConnection:
		return "inconsistent_connection"
	default:
		return "unknown"
	}
}

// UsageExceededError — a budget/requests/tokens ceiling was reached for one
// of the four windows. Maps to 429. Metric matches the wire key scheme in
// internal/usage; Period is the long window name, not the wire period code.
type UsageExceededError struct {
	Metric string // "budget" | "requests" | "tokens"
	Period string // "minute" | "hour" | "day" | "month"
	Used   float64
	Limit  float64
}

func (e *UsageExceededError) Error() string {
	return fmt.Sprintf("%s %s limit exceeded: used=%v limit=%v", e.Period, e.Metric, e.Used, e.Limit)
}

func (e *UsageExceededError) HTTPStatus() int { return fasthttp.StatusTooManyRequests }

func (e *UsageExceededError) Code() string {
	return fmt.Sprintf("%s_%s_over_limit", e.Metric, e.Period)
}

// ProxyError is returned by the dispatcher when every connection attempt
// failed, or a single attempt is being recorded for a RequestLog row.
type ProxyError struct {
	// Status is the upstream's HTTP status, when one was received.
	Status int
	Body   string
	// Kind distinguishes a transport-level failure (no response at all) from
	// a proper upstream HTTP error response.
	Kind  string // "return" | "transport" | "invalid_request" | "internal"
	Cause error
}

func (e *ProxyError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("proxy error (%s, status=%d): %v", e.Kind, e.Status, e.Cause)
	}
	return fmt.Sprintf("proxy error (%s, status=%d): %s", e.Kind, e.Status, e.Body)
}

func (e *ProxyError) Unwrap() error { return e.Cause }

func (e *ProxyError) HTTPStatus() int {
	switch e.Kind {
	case "return":
		if e.Status >= 400 && e.Status < 500 {
			return e.Status
		}
		return fasthttp.StatusBadGateway
	case "transport":
		return fasthttp.StatusBadGateway
	case "invalid_request":
		return fasthttp.StatusBadRequest
	default:
		return fasthttp.StatusInternalServerError
	}
}

// Write writes the error as JSON to the fasthttp response with the given
// HTTP status.
func Write(ctx *fasthttp.RequestCtx, status int, message, errType, code string) {
	ctx.SetStatusCode(status)
	ctx.SetContentType("application/json")
	body, _ := json.Marshal(envelope{Error: APIError{
		Message: message,
		Type:    errType,
		Code:    code,
	}})
	ctx.SetBody(body)
}

// WriteError is the single dispatch point for the HTTP layer: it type
// switches on the taxonomy above (falling back to a generic StatusCoder or a
// 500) and writes the matching envelope.
func WriteError(ctx *fasthttp.RequestCtx, err error) {
	var ue *UsageExceededError
	if errors.As(err, &ue) {
		ctx.SetStatusCode(ue.HTTPStatus())
		ctx.SetContentType("application/json")
		body, _ := json.Marshal(envelope{Error: APIError{
			Message: ue.Error(),
			Type:    TypeRateLimitError,
			Code:    ue.Code(),
			Used:    ue.Used,
			Limit:   ue.Limit,
		}})
		ctx.SetBody(body)
		return
	}

	var authn *AuthenticationError
	if errors.As(err, &authn) {
		Write(ctx, authn.HTTPStatus(), authn.Error(), TypeAuthenticationErr, CodeInvalidAPIKey)
		return
	}

	var authz *AuthorizationError
	if errors.As(err, &authz) {
		Write(ctx, authz.HTTPStatus(), authz.Error(), TypeAuthorizationErr, CodeUnknownDeployment)
		return
	}

	var gle *GraphLoadError
	if errors.As(err, &gle) {
		code := CodeUnknownDeployment
		typ := TypeInvalidRequest
		if gle.HTTPStatus() >= 500 {
			typ = TypeServerError
			code = CodeInternalError
		}
		Write(ctx, gle.HTTPStatus(), gle.Error(), typ, code)
		return
	}

	var dae *DataAccessError
	if errors.As(err, &dae) {
		typ := TypeServerError
		code := CodeInternalError
		if dae.ClientAddressable {
			typ = TypeInvalidRequest
			code = CodeInvalidRequest
		}
		Write(ctx, dae.HTTPStatus(), dae.Error(), typ, code)
		return
	}

	var pe *ProxyError
	if errors.As(err, &pe) {
		WriteProviderError(ctx, pe.HTTPStatus(), pe.Error())
		return
	}

	var sc StatusCoder
	if errors.As(err, &sc) {
		Write(ctx, sc.HTTPStatus(), sc.Error(), TypeServerError, CodeInternalError)
		return
	}

	Write(ctx, fasthttp.StatusInternalServerError, err.Error(), TypeServerError, CodeInternalError)
}

// WriteProviderError maps an upstream HTTP status to the appropriate gateway
// status.
//
//	Upstream 429  → 429 + Retry-After: 60
//	Upstream 4xx  → forwarded verbatim
//	Upstream 5xx  → 502
//	Default       → 502
func WriteProviderError(ctx *fasthttp.RequestCtx, upstreamStatus int, msg string) {
	switch {
	case upstreamStatus == fasthttp.StatusTooManyRequests:
		ctx.Response.Header.Set("Retry-After", "60")
		Write(ctx, fasthttp.StatusTooManyRequests, msg, TypeRateLimitError, CodeRateLimitExceeded)
	case upstreamStatus >= 400 && upstreamStatus < 500:
		Write(ctx, upstreamStatus, msg, TypeProviderError, CodeProviderError)
	default:
		Write(ctx, fasthttp.StatusBadGateway, msg, TypeProviderError, CodeProviderError)
	}
}

// WriteTimeout writes a 504 timeout error.
func WriteTimeout(ctx *fasthttp.RequestCtx) {
	Write(ctx, fasthttp.StatusGatewayTimeout, "upstream request timed out", TypeProviderError, CodeRequestTimeout)
}
