// Package dispatch implements the request dispatcher and failover loop
// (§4.4): given a resolved graph.Graph, it walks candidate connections in
// load-balancer order, translates the public request into each candidate's
// dialect, performs the upstream call, and translates the response back.
package dispatch

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/nulpointcorp/llmur-gateway/internal/graph"
)

// UpstreamResponse is the raw result of one provider call, before dialect
// translation back to the public schema.
type UpstreamResponse struct {
	Status int
	Body   []byte
	Stream io.ReadCloser // non-nil only for streamed requests
}

// UpstreamClient performs the literal HTTP call to one connection's
// endpoint. It is an interface so tests can substitute a scripted fake
// client without a real fasthttp dial.
type UpstreamClient interface {
	Do(ctx context.Context, conn graph.Connection, path string, query string, apiKey string, body []byte, stream bool) (*UpstreamResponse, error)
}

// FastHTTPClient is the production UpstreamClient, built on the same
// fasthttp client the gateway already uses for inbound routing.
type FastHTTPClient struct {
	client  *fasthttp.Client
	timeout time.Duration
}

func NewFastHTTPClient(timeout time.Duration) *FastHTTPClient {
	return &FastHTTPClient{
		client: &fasthttp.Client{
			ReadTimeout:  timeout,
			WriteTimeout: timeout,
		},
		timeout: timeout,
	}
}

func (c *FastHTTPClient) Do(ctx context.Context, conn graph.Connection, path, query, apiKey string, body []byte, stream bool) (*UpstreamResponse, error) {
	url := conn.Endpoint + path
	if query != "" {
		url += "?" + query
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)

	req.SetRequestURI(url)
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType("application/json")
	setAuthHeader(req, conn, apiKey)
	req.SetBody(body)

	deadline := time.Now().Add(c.timeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}

	if stream {
		// DoDeadline reads the whole upstream body before returning; for
		// streamed calls that body is copied and handed back as a reader
		// so the caller can relay it event by event.
		if err := c.client.DoDeadline(req, resp, deadline); err != nil {
			fasthttp.ReleaseResponse(resp)
			return nil, fmt.Errorf("dispatch: upstream call: %w", err)
		}
		status := resp.StatusCode()
		bodyCopy := append([]byte(nil), resp.Body()...)
		fasthttp.ReleaseResponse(resp)
		return &UpstreamResponse{Status: status, Stream: io.NopCloser(newByteReader(bodyCopy))}, nil
	}

	if err := c.client.DoDeadline(req, resp, deadline); err != nil {
		fasthttp.ReleaseResponse(resp)
		return nil, fmt.Errorf("dispatch: upstream call: %w", err)
	}
	status := resp.StatusCode()
	bodyCopy := append([]byte(nil), resp.Body()...)
	fasthttp.ReleaseResponse(resp)
	return &UpstreamResponse{Status: status, Body: bodyCopy}, nil
}

func setAuthHeader(req *fasthttp.Request, conn graph.Connection, apiKey string) {
	switch conn.Variant.Provider {
	case "azure":
		req.Header.Set("api-key", apiKey)
	case "gemini":
		req.Header.Set("x-goog-api-key", apiKey)
	default: // openai and openai-compatible
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}
}
