package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/nulpointcorp/llmur-gateway/internal/dialect"
	"github.com/nulpointcorp/llmur-gateway/internal/graph"
	"github.com/nulpointcorp/llmur-gateway/internal/loadbalancer"
	"github.com/nulpointcorp/llmur-gateway/internal/secret"
	"github.com/nulpointcorp/llmur-gateway/internal/usage"
	"github.com/nulpointcorp/llmur-gateway/pkg/apierr"
)

// LogEvent is one row destined for the request-log writer's ClickHouse
// sink (§5.1).
type LogEvent struct {
	RequestID    string
	VirtualKeyID uuid.UUID
	DeploymentID uuid.UUID
	ProjectID    uuid.UUID
	ConnectionID uuid.UUID
	Provider     string
	Model        string
	Status       int
	LatencyMs    int64
	InputTokens  int64
	OutputTokens int64
	Loss         []dialect.Loss
	Error        string
	Timestamp    time.Time
}

// UsageEvent is one admission-counted call destined for the usage writer's
// Redis sink (§4.2.5).
type UsageEvent struct {
	VirtualKeyID uuid.UUID
	DeploymentID uuid.UUID
	ProjectID    uuid.UUID
	ConnectionID uuid.UUID
	Cost         float64
	Tokens       int64
	Now          time.Time
}

// Dispatcher implements the dispatch-and-failover loop of §4.4: resolve the
// graph, pick a connection, translate, call upstream, translate back — and
// on a retryable failure, exclude that connection and pick again.
type Dispatcher struct {
	resolver   *graph.Resolver
	balancer   *loadbalancer.Balancer
	client     UpstreamClient
	envelope   *secret.Envelope
	usageEng   *usage.Engine
	cb         *CircuitBreaker
	log        *slog.Logger
	logCh      chan<- LogEvent
	usageCh    chan<- UsageEvent
	maxRetries int
}

func New(resolver *graph.Resolver, balancer *loadbalancer.Balancer, client UpstreamClient, envelope *secret.Envelope, usageEng *usage.Engine, log *slog.Logger, logCh chan<- LogEvent, usageCh chan<- UsageEvent, maxRetries int) *Dispatcher {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &Dispatcher{
		resolver: resolver, balancer: balancer, client: client, envelope: envelope,
		usageEng: usageEng, cb: NewCircuitBreaker(CBConfig{}), log: log, logCh: logCh, usageCh: usageCh, maxRetries: maxRetries,
	}
}

// SetCircuitBreakerConfig replaces the default per-connection circuit
// breaker thresholds. Safe to call once before the Dispatcher serves traffic.
func (d *Dispatcher) SetCircuitBreakerConfig(cfg CBConfig) {
	d.cb = NewCircuitBreaker(cfg)
}

// attemptResult is the per-candidate-connection outcome the failover loop
// accumulates before giving up.
type attemptResult struct {
	conn      graph.ConnectionNode
	chatResp  dialect.ChatResponse
	loss      []dialect.Loss
	latencyMs int64
	err       error
}

// ChatCompletion implements the non-streamed POST /v1/chat/completions path.
func (d *Dispatcher) ChatCompletion(ctx context.Context, requestID, plaintextKey, deploymentName string, req dialect.ChatRequest) (dialect.ChatResponse, error) {
	now := time.Now()
	g, err := d.resolver.Resolve(ctx, plaintextKey, deploymentName, false, now)
	if err != nil {
		return dialect.ChatResponse{}, err
	}

	if _, violation := g.CheckAll(nil); violation != nil {
		return dialect.ChatResponse{}, usageExceeded(*violation)
	}

	working := *g
	working.Connections = append([]graph.ConnectionNode(nil), g.Connections...)

	var lastErr error
	tried := map[uuid.UUID]bool{}
	attempts := 0

	for attempts < d.maxRetries && len(working.Connections) > 0 {
		cand, pickErr := d.balancer.Pick(&working)
		if pickErr != nil {
			if lastErr == nil {
				lastErr = pickErr
			}
			break
		}
		if tried[cand.ID] {
			working.Connections = removeConnection(working.Connections, cand.ID)
			continue
		}
		tried[cand.ID] = true
		attempts++

		if !d.cb.Allow(cand.ID) {
			working.Connections = removeConnection(working.Connections, cand.ID)
			lastErr = &apierr.ProxyError{Kind: "transport", Status: 503, Body: "connection circuit open"}
			continue
		}

		if _, violation := g.CheckAll(cand); violation != nil {
			d.log.WarnContext(ctx, "connection_limit_exceeded",
				slog.String("request_id", requestID), slog.String("connection_id", cand.ID.String()))
			working.Connections = removeConnection(working.Connections, cand.ID)
			lastErr = usageExceeded(*violation)
			continue
		}

		res := d.attemptChat(ctx, requestID, *g, *cand, req)
		d.logAttempt(requestID, *g, *cand, res, now)

		if res.err == nil {
			d.cb.RecordSuccess(cand.ID)
			d.recordUsage(*g, *cand, res.chatResp, now)
			return res.chatResp, nil
		}

		d.cb.RecordFailure(cand.ID)
		lastErr = res.err
		working.Connections = removeConnection(working.Connections, cand.ID)
		if !isRetryable(res.err) {
			break
		}
	}

	if lastErr == nil {
		lastErr = &apierr.ProxyError{Kind: "internal", Status: 500, Body: "no connections available"}
	}
	return dialect.ChatResponse{}, fmt.Errorf("dispatch: all connections failed after %d attempt(s): %w", attempts, lastErr)
}

// ChatCompletionStream implements the streamed POST /v1/chat/completions
// path: it picks one connection (no mid-stream failover, since headers and
// partial bytes may already be flushed to the client) and relays or
// transcodes the upstream SSE body directly to w.
func (d *Dispatcher) ChatCompletionStream(ctx context.Context, requestID, plaintextKey, deploymentName string, req dialect.ChatRequest, w io.Writer) error {
	now := time.Now()
	g, err := d.resolver.Resolve(ctx, plaintextKey, deploymentName, false, now)
	if err != nil {
		return err
	}
	if _, violation := g.CheckAll(nil); violation != nil {
		return usageExceeded(*violation)
	}

	working := *g
	working.Connections = append([]graph.ConnectionNode(nil), g.Connections...)

	cand, err := d.balancer.Pick(&working)
	if err != nil {
		return fmt.Errorf("dispatch: no connections available: %w", err)
	}
	if !d.cb.Allow(cand.ID) {
		return &apierr.ProxyError{Kind: "transport", Status: 503, Body: "connection circuit open"}
	}
	if _, violation := g.CheckAll(cand); violation != nil {
		return usageExceeded(*violation)
	}

	apiKey, err := d.envelope.Open(cand.EncryptedAPIKey, cand.Salt)
	if err != nil {
		return fmt.Errorf("dispatch: decrypt key: %w", err)
	}

	req.Stream = true
	var body []byte
	var loss []dialect.Loss
	switch cand.Variant.Provider {
	case "azure":
		body, loss = dialect.ToAzure(req, dialect.AzureAPIVersion(cand.Variant.APIVersion))
	case "gemini":
		gr, l := dialect.ToGemini(req)
		body, _ = json.Marshal(gr)
		loss = l
	default:
		body, _ = json.Marshal(req)
	}

	path, query := endpointFor(cand.Connection, SurfaceChatCompletions, true)

	d.balancer.MarkOpened(cand.ID)
	start := time.Now()
	upResp, err := d.client.Do(ctx, cand.Connection, path, query, apiKey, body, true)
	d.balancer.MarkClosed(cand.ID)
	if err != nil {
		d.cb.RecordFailure(cand.ID)
		d.logAttempt(requestID, *g, *cand, attemptResult{loss: loss, latencyMs: time.Since(start).Milliseconds(), err: err}, now)
		return err
	}
	defer upResp.Stream.Close()

	if upResp.Status >= 400 {
		d.cb.RecordFailure(cand.ID)
		errBody, _ := io.ReadAll(upResp.Stream)
		pe := &apierr.ProxyError{Status: upResp.Status, Body: string(errBody), Kind: classifyProxyKind(upResp.Status)}
		d.logAttempt(requestID, *g, *cand, attemptResult{loss: loss, latencyMs: time.Since(start).Milliseconds(), err: pe}, now)
		return pe
	}

	var usg dialect.Usage
	switch cand.Variant.Provider {
	case "gemini":
		usg, err = dialect.TranscodeGeminiStream(upResp.Stream, w, requestID, cand.Variant.Model)
	default:
		usg, err = dialect.PassthroughSSE(upResp.Stream, w)
	}
	latencyMs := time.Since(start).Milliseconds()

	resp := dialect.ChatResponse{ID: requestID, Usage: usg}
	res := attemptResult{conn: *cand, chatResp: resp, loss: loss, latencyMs: latencyMs, err: err}
	d.logAttempt(requestID, *g, *cand, res, now)
	if err != nil {
		d.cb.RecordFailure(cand.ID)
		return err
	}
	d.cb.RecordSuccess(cand.ID)
	d.recordUsage(*g, *cand, resp, now)
	return nil
}

// Embeddings implements POST /v1/embeddings. Gemini has no native batch
// embedding call, so multi-item inputs are fanned out one embedContent call
// per item and reassembled; other dialects pass the batch straight through.
func (d *Dispatcher) Embeddings(ctx context.Context, requestID, plaintextKey, deploymentName string, req dialect.EmbeddingsRequest) (dialect.EmbeddingsResponse, error) {
	now := time.Now()
	g, err := d.resolver.Resolve(ctx, plaintextKey, deploymentName, false, now)
	if err != nil {
		return dialect.EmbeddingsResponse{}, err
	}
	if _, violation := g.CheckAll(nil); violation != nil {
		return dialect.EmbeddingsResponse{}, usageExceeded(*violation)
	}

	working := *g
	working.Connections = append([]graph.ConnectionNode(nil), g.Connections...)

	var lastErr error
	tried := map[uuid.UUID]bool{}
	attempts := 0

	for attempts < d.maxRetries && len(working.Connections) > 0 {
		cand, pickErr := d.balancer.Pick(&working)
		if pickErr != nil {
			if lastErr == nil {
				lastErr = pickErr
			}
			break
		}
		if tried[cand.ID] {
			working.Connections = removeConnection(working.Connections, cand.ID)
			continue
		}
		tried[cand.ID] = true
		attempts++

		if !d.cb.Allow(cand.ID) {
			working.Connections = removeConnection(working.Connections, cand.ID)
			lastErr = &apierr.ProxyError{Kind: "transport", Status: 503, Body: "connection circuit open"}
			continue
		}

		if _, violation := g.CheckAll(cand); violation != nil {
			working.Connections = removeConnection(working.Connections, cand.ID)
			lastErr = usageExceeded(*violation)
			continue
		}

		resp, err := d.attemptEmbeddings(ctx, requestID, *g, *cand, req, now)
		if err == nil {
			d.cb.RecordSuccess(cand.ID)
			return resp, nil
		}
		d.cb.RecordFailure(cand.ID)
		lastErr = err
		working.Connections = removeConnection(working.Connections, cand.ID)
		if !isRetryable(err) {
			break
		}
	}

	if lastErr == nil {
		lastErr = &apierr.ProxyError{Kind: "internal", Status: 500, Body: "no connections available"}
	}
	return dialect.EmbeddingsResponse{}, fmt.Errorf("dispatch: all connections failed after %d attempt(s): %w", attempts, lastErr)
}

func (d *Dispatcher) attemptEmbeddings(ctx context.Context, requestID string, g graph.Graph, cand graph.ConnectionNode, req dialect.EmbeddingsRequest, now time.Time) (dialect.EmbeddingsResponse, error) {
	apiKey, err := d.envelope.Open(cand.EncryptedAPIKey, cand.Salt)
	if err != nil {
		return dialect.EmbeddingsResponse{}, fmt.Errorf("dispatch: decrypt key: %w", err)
	}

	path, query := endpointFor(cand.Connection, SurfaceEmbeddings, false)
	start := time.Now()

	var resp dialect.EmbeddingsResponse
	var loss []dialect.Loss

	switch cand.Variant.Provider {
	case "gemini":
		inputs := dialect.DecodeEmbeddingInputs(req.Input)
		values := make([][]float64, 0, len(inputs))
		for _, in := range inputs {
			body, _ := json.Marshal(dialect.ToGeminiEmbedding(in))
			d.balancer.MarkOpened(cand.ID)
			upResp, callErr := d.client.Do(ctx, cand.Connection, path, query, apiKey, body, false)
			d.balancer.MarkClosed(cand.ID)
			if callErr != nil {
				d.cb.RecordFailure(cand.ID)
				d.logAttempt(requestID, g, cand, attemptResult{loss: loss, latencyMs: time.Since(start).Milliseconds(), err: callErr}, now)
				return dialect.EmbeddingsResponse{}, callErr
			}
			if upResp.Status >= 400 {
				d.cb.RecordFailure(cand.ID)
				pe := &apierr.ProxyError{Status: upResp.Status, Body: string(upResp.Body), Kind: classifyProxyKind(upResp.Status)}
				d.logAttempt(requestID, g, cand, attemptResult{loss: loss, latencyMs: time.Since(start).Milliseconds(), err: pe}, now)
				return dialect.EmbeddingsResponse{}, pe
			}
			var gr dialect.GeminiEmbedContentResponse
			if err := json.Unmarshal(upResp.Body, &gr); err != nil {
				return dialect.EmbeddingsResponse{}, fmt.Errorf("dispatch: decode upstream response: %w", err)
			}
			values = append(values, gr.Embedding.Values)
		}
		resp = dialect.FromGeminiEmbedding(cand.Variant.Model, values)

	case "azure":
		body := dialect.ToAzureEmbeddings(req)
		d.balancer.MarkOpened(cand.ID)
		upResp, callErr := d.client.Do(ctx, cand.Connection, path, query, apiKey, body, false)
		d.balancer.MarkClosed(cand.ID)
		if callErr != nil {
			d.cb.RecordFailure(cand.ID)
			d.logAttempt(requestID, g, cand, attemptResult{loss: loss, latencyMs: time.Since(start).Milliseconds(), err: callErr}, now)
			return dialect.EmbeddingsResponse{}, callErr
		}
		if upResp.Status >= 400 {
			d.cb.RecordFailure(cand.ID)
			pe := &apierr.ProxyError{Status: upResp.Status, Body: string(upResp.Body), Kind: classifyProxyKind(upResp.Status)}
			d.logAttempt(requestID, g, cand, attemptResult{loss: loss, latencyMs: time.Since(start).Milliseconds(), err: pe}, now)
			return dialect.EmbeddingsResponse{}, pe
		}
		resp, err = dialect.FromAzureEmbeddings(upResp.Body)
		if err != nil {
			return dialect.EmbeddingsResponse{}, fmt.Errorf("dispatch: decode upstream response: %w", err)
		}

	default:
		body, _ := json.Marshal(req)
		d.balancer.MarkOpened(cand.ID)
		upResp, callErr := d.client.Do(ctx, cand.Connection, path, query, apiKey, body, false)
		d.balancer.MarkClosed(cand.ID)
		if callErr != nil {
			d.cb.RecordFailure(cand.ID)
			d.logAttempt(requestID, g, cand, attemptResult{loss: loss, latencyMs: time.Since(start).Milliseconds(), err: callErr}, now)
			return dialect.EmbeddingsResponse{}, callErr
		}
		if upResp.Status >= 400 {
			d.cb.RecordFailure(cand.ID)
			pe := &apierr.ProxyError{Status: upResp.Status, Body: string(upResp.Body), Kind: classifyProxyKind(upResp.Status)}
			d.logAttempt(requestID, g, cand, attemptResult{loss: loss, latencyMs: time.Since(start).Milliseconds(), err: pe}, now)
			return dialect.EmbeddingsResponse{}, pe
		}
		if err := json.Unmarshal(upResp.Body, &resp); err != nil {
			return dialect.EmbeddingsResponse{}, fmt.Errorf("dispatch: decode upstream response: %w", err)
		}
	}

	d.cb.RecordSuccess(cand.ID)
	latencyMs := time.Since(start).Milliseconds()
	chatResp := dialect.ChatResponse{ID: requestID, Usage: resp.Usage}
	d.logAttempt(requestID, g, cand, attemptResult{conn: cand, chatResp: chatResp, loss: loss, latencyMs: latencyMs}, now)
	d.recordUsage(g, cand, chatResp, now)
	return resp, nil
}

func (d *Dispatcher) attemptChat(ctx context.Context, requestID string, g graph.Graph, cand graph.ConnectionNode, req dialect.ChatRequest) attemptResult {
	apiKey, err := d.envelope.Open(cand.EncryptedAPIKey, cand.Salt)
	if err != nil {
		return attemptResult{conn: cand, err: fmt.Errorf("dispatch: decrypt key: %w", err)}
	}

	var body []byte
	var loss []dialect.Loss
	switch cand.Variant.Provider {
	case "azure":
		body, loss = dialect.ToAzure(req, dialect.AzureAPIVersion(cand.Variant.APIVersion))
	case "gemini":
		gr, l := dialect.ToGemini(req)
		body, _ = json.Marshal(gr)
		loss = l
	default:
		body, _ = json.Marshal(req)
	}

	path, query := endpointFor(cand.Connection, SurfaceChatCompletions, false)

	d.balancer.MarkOpened(cand.ID)
	start := time.Now()
	upResp, err := d.client.Do(ctx, cand.Connection, path, query, apiKey, body, false)
	latencyMs := time.Since(start).Milliseconds()
	d.balancer.MarkClosed(cand.ID)

	if err != nil {
		return attemptResult{conn: cand, loss: loss, latencyMs: latencyMs, err: err}
	}
	if upResp.Status >= 400 {
		return attemptResult{conn: cand, loss: loss, latencyMs: latencyMs, err: &apierr.ProxyError{
			Status: upResp.Status, Body: string(upResp.Body), Kind: classifyProxyKind(upResp.Status),
		}}
	}

	var resp dialect.ChatResponse
	switch cand.Variant.Provider {
	case "azure":
		resp, err = dialect.FromAzure(upResp.Body)
	case "gemini":
		var gr dialect.GeminiGenerateContentResponse
		if err = json.Unmarshal(upResp.Body, &gr); err == nil {
			resp = dialect.FromGemini(gr, cand.Variant.Model)
		}
	default:
		err = json.Unmarshal(upResp.Body, &resp)
	}
	if err != nil {
		return attemptResult{conn: cand, loss: loss, latencyMs: latencyMs, err: fmt.Errorf("dispatch: decode upstream response: %w", err)}
	}
	if resp.ID == "" {
		resp.ID = requestID
	}
	return attemptResult{conn: cand, chatResp: resp, loss: loss, latencyMs: latencyMs}
}

func (d *Dispatcher) logAttempt(requestID string, g graph.Graph, cand graph.ConnectionNode, res attemptResult, now time.Time) {
	ev := LogEvent{
		RequestID: requestID, VirtualKeyID: g.VirtualKey.ID, DeploymentID: g.Deployment.ID,
		ProjectID: g.Project.ID, ConnectionID: cand.ID, Provider: string(cand.Variant.Provider),
		Model: cand.Variant.Model, Loss: res.loss, Timestamp: now, LatencyMs: res.latencyMs,
	}
	if res.err != nil {
		ev.Error = res.err.Error()
		var pe *apierr.ProxyError
		if errors.As(res.err, &pe) {
			ev.Status = pe.Status
		}
	} else {
		ev.Status = 200
		ev.InputTokens = res.chatResp.Usage.PromptTokens
		ev.OutputTokens = res.chatResp.Usage.CompletionTokens
	}
	select {
	case d.logCh <- ev:
	default:
		d.log.Warn("request_log_channel_full", slog.String("request_id", requestID))
	}
}

func (d *Dispatcher) recordUsage(g graph.Graph, cand graph.ConnectionNode, resp dialect.ChatResponse, now time.Time) {
	ev := UsageEvent{
		VirtualKeyID: g.VirtualKey.ID, DeploymentID: g.Deployment.ID, ProjectID: g.Project.ID,
		ConnectionID: cand.ID, Tokens: resp.Usage.TotalTokens, Now: now,
	}
	select {
	case d.usageCh <- ev:
	default:
		d.log.Warn("usage_channel_full")
	}
}

func removeConnection(conns []graph.ConnectionNode, id uuid.UUID) []graph.ConnectionNode {
	out := conns[:0:0]
	for _, c := range conns {
		if c.ID != id {
			out = append(out, c)
		}
	}
	return out
}

func usageExceeded(v usage.Violation) *apierr.UsageExceededError {
	return &apierr.UsageExceededError{Metric: string(v.Metric), Period: v.Period.Name(), Used: v.Used, Limit: v.Limit}
}

// isRetryable mirrors the teacher's failover classification: 5xx and
// transport errors retry against the next connection, 4xx does not.
func isRetryable(err error) bool {
	var pe *apierr.ProxyError
	if errors.As(err, &pe) {
		return pe.Status >= 500
	}
	return true
}

func classifyProxyKind(status int) string {
	if status >= 500 {
		return "transport"
	}
	return "return"
}
