// Package proxy exposes the public HTTP surface: the three OpenAI-compatible
// call routes (chat completions, responses, embeddings), health/readiness
// probes, Prometheus metrics, and an admin CRUD surface over the six
// persisted entities.
//
// Key design constraints carried over from the teacher:
//   - Logger and metrics are optional and nil-safe.
//   - All I/O uses context.Context so timeouts propagate correctly.
//   - Streaming responses are relayed to the client as SSE; the dispatcher's
//     upstream client reads the whole upstream body before it is relayed.
package proxy

import (
	"bufio"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/nulpointcorp/llmur-gateway/internal/dialect"
	"github.com/nulpointcorp/llmur-gateway/internal/dispatch"
	"github.com/nulpointcorp/llmur-gateway/internal/metrics"
	"github.com/nulpointcorp/llmur-gateway/pkg/apierr"
)

// Gateway is the proxy's HTTP-facing half: request parsing, virtual-key
// extraction, and response writing live here; the resolve → translate →
// dispatch → translate-back loop lives in internal/dispatch.
type Gateway struct {
	dispatcher  *dispatch.Dispatcher
	admin       *AdminAPI
	health      *HealthChecker
	metrics     *metrics.Registry
	corsOrigins []string
	log         *slog.Logger
}

// NewGateway creates a fully configured Gateway. admin may be nil to serve
// only the call surface without the CRUD routes.
func NewGateway(dispatcher *dispatch.Dispatcher, admin *AdminAPI, health *HealthChecker, met *metrics.Registry, log *slog.Logger) *Gateway {
	if log == nil {
		log = slog.Default()
	}
	return &Gateway{dispatcher: dispatcher, admin: admin, health: health, metrics: met, log: log}
}

// SetCORSOrigins configures the allowed CORS origins for the gateway.
func (g *Gateway) SetCORSOrigins(origins []string) {
	g.corsOrigins = origins
}

// extractVirtualKey reads the bearer token the client presented. Its
// plaintext is only ever passed to graph.Resolver.Resolve — it is never
// logged or persisted.
func extractVirtualKey(ctx *fasthttp.RequestCtx) string {
	raw := strings.TrimSpace(string(ctx.Request.Header.Peek("Authorization")))
	return parseBearerToken(raw)
}

func parseBearerToken(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func requestIDFrom(ctx *fasthttp.RequestCtx) string {
	if v, ok := ctx.UserValue("request_id").(string); ok && v != "" {
		return v
	}
	return "req_unknown"
}

// handleChatCompletions serves POST /v1/chat/completions. `model` selects
// the Deployment by name; it is replaced before dispatch with the matched
// Connection's concrete provider model identifier.
func (g *Gateway) handleChatCompletions(ctx *fasthttp.RequestCtx) {
	start := time.Now()
	route := "chat_completions"
	reqBytes := len(ctx.PostBody())
	requestID := requestIDFrom(ctx)

	if g.metrics != nil {
		g.metrics.IncInFlight()
	}

	var req dialect.ChatRequest
	if err := json.Unmarshal(ctx.PostBody(), &req); err != nil {
		g.finishNonStream(ctx, route, start, reqBytes)
		apierr.Write(ctx, fasthttp.StatusBadRequest, "malformed request body", apierr.TypeInvalidRequest, apierr.CodeInvalidRequest)
		return
	}

	vk := extractVirtualKey(ctx)
	if vk == "" {
		g.finishNonStream(ctx, route, start, reqBytes)
		apierr.WriteError(ctx, &apierr.AuthenticationError{Reason: "missing bearer token"})
		return
	}

	if req.Stream {
		g.streamChatCompletion(ctx, requestID, vk, req)
		return
	}

	defer g.finishNonStream(ctx, route, start, reqBytes)

	resp, err := g.dispatcher.ChatCompletion(ctx, requestID, vk, req.Model, req)
	if err != nil {
		g.log.ErrorContext(ctx, "chat_completion_failed", slog.String("request_id", requestID), slog.String("error", err.Error()))
		apierr.WriteError(ctx, err)
		return
	}
	writeJSON(ctx, resp)
}

func (g *Gateway) streamChatCompletion(ctx *fasthttp.RequestCtx, requestID, vk string, req dialect.ChatRequest) {
	ctx.SetContentType("text/event-stream")
	ctx.Response.Header.Set("Cache-Control", "no-cache")
	ctx.Response.Header.Set("Connection", "keep-alive")
	ctx.SetStatusCode(fasthttp.StatusOK)

	ctx.SetBodyStreamWriter(func(w *bufio.Writer) {
		defer func() { recover() }() //nolint:errcheck
		if g.metrics != nil {
			defer g.metrics.DecInFlight()
		}
		if err := g.dispatcher.ChatCompletionStream(ctx, requestID, vk, req.Model, req, w); err != nil {
			g.log.ErrorContext(ctx, "chat_stream_failed", slog.String("request_id", requestID), slog.String("error", err.Error()))
		}
		w.Flush() //nolint:errcheck
	})
}

// handleResponses serves POST /v1/responses by folding down to ChatRequest
// via the thin responses-API adapter and folding the reply back up.
func (g *Gateway) handleResponses(ctx *fasthttp.RequestCtx) {
	start := time.Now()
	route := "responses"
	reqBytes := len(ctx.PostBody())
	requestID := requestIDFrom(ctx)

	if g.metrics != nil {
		g.metrics.IncInFlight()
	}

	var rreq dialect.ResponsesRequest
	if err := json.Unmarshal(ctx.PostBody(), &rreq); err != nil {
		g.finishNonStream(ctx, route, start, reqBytes)
		apierr.Write(ctx, fasthttp.StatusBadRequest, "malformed request body", apierr.TypeInvalidRequest, apierr.CodeInvalidRequest)
		return
	}

	vk := extractVirtualKey(ctx)
	if vk == "" {
		g.finishNonStream(ctx, route, start, reqBytes)
		apierr.WriteError(ctx, &apierr.AuthenticationError{Reason: "missing bearer token"})
		return
	}

	chatReq := dialect.ToChatRequest(rreq)
	if rreq.Stream {
		chatReq.Stream = true
		g.streamChatCompletion(ctx, requestID, vk, chatReq)
		return
	}

	defer g.finishNonStream(ctx, route, start, reqBytes)

	chatResp, err := g.dispatcher.ChatCompletion(ctx, requestID, vk, chatReq.Model, chatReq)
	if err != nil {
		g.log.ErrorContext(ctx, "responses_failed", slog.String("request_id", requestID), slog.String("error", err.Error()))
		apierr.WriteError(ctx, err)
		return
	}
	writeJSON(ctx, dialect.FromChatResponse(chatResp))
}

// handleEmbeddings serves POST /v1/embeddings.
func (g *Gateway) handleEmbeddings(ctx *fasthttp.RequestCtx) {
	start := time.Now()
	route := "embeddings"
	reqBytes := len(ctx.PostBody())
	requestID := requestIDFrom(ctx)

	if g.metrics != nil {
		g.metrics.IncInFlight()
	}
	defer g.finishNonStream(ctx, route, start, reqBytes)

	var req dialect.EmbeddingsRequest
	if err := json.Unmarshal(ctx.PostBody(), &req); err != nil {
		apierr.Write(ctx, fasthttp.StatusBadRequest, "malformed request body", apierr.TypeInvalidRequest, apierr.CodeInvalidRequest)
		return
	}

	vk := extractVirtualKey(ctx)
	if vk == "" {
		apierr.WriteError(ctx, &apierr.AuthenticationError{Reason: "missing bearer token"})
		return
	}

	resp, err := g.dispatcher.Embeddings(ctx, requestID, vk, req.Model, req)
	if err != nil {
		g.log.ErrorContext(ctx, "embeddings_failed", slog.String("request_id", requestID), slog.String("error", err.Error()))
		apierr.WriteError(ctx, err)
		return
	}
	writeJSON(ctx, resp)
}

func (g *Gateway) finishNonStream(ctx *fasthttp.RequestCtx, route string, start time.Time, reqBytes int) {
	if g.metrics == nil {
		return
	}
	g.metrics.DecInFlight()
	status := ctx.Response.StatusCode()
	dur := time.Since(start)
	g.metrics.ObserveHTTP(route, status, dur, reqBytes, len(ctx.Response.Body()))
	g.metrics.RecordRequest(route, status, dur.Milliseconds())
}

func (g *Gateway) handleHealth(ctx *fasthttp.RequestCtx) {
	if g.health == nil {
		writeJSON(ctx, map[string]any{"status": "ok"})
		return
	}
	writeJSON(ctx, g.health.Snapshot())
}

func (g *Gateway) handleReadiness(ctx *fasthttp.RequestCtx) {
	if g.health == nil || g.health.ReadinessOK() {
		writeJSON(ctx, map[string]string{"status": "ok"})
		return
	}
	ctx.SetStatusCode(fasthttp.StatusServiceUnavailable)
	writeJSON(ctx, map[string]string{"status": "unavailable"})
}

func writeJSON(ctx *fasthttp.RequestCtx, v any) {
	ctx.SetContentType("application/json")
	data, _ := json.Marshal(v)
	ctx.SetBody(data)
}
