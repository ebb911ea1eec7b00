package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// inboundWhitelist are the only inbound headers copied onto the outbound
// request; everything else is dropped (spec.md §4.7).
var inboundWhitelist = []string{"content-type", "user-agent", "accept", "cache-control", "pragma"}

// Response is the parsed upstream reply (spec.md §4.7).
type Response struct {
	Status  int
	Headers http.Header
	// Body is the decoded JSON value when the body parsed as JSON, or the
	// raw string when it did not.
	Body any
}

// Client sends outbound requests to provider upstreams.
type Client struct {
	httpClient *http.Client
	breaker    *CircuitBreaker
}

// Option configures optional Client behaviour.
type Option func(*Client)

// WithCircuitBreaker trips per-provider once repeated transport faults are
// seen dispatching to that provider, short-circuiting further attempts
// until the half-open timeout elapses (see circuitbreaker.go). Without this
// option the Client always attempts the upstream call.
func WithCircuitBreaker(cb *CircuitBreaker) Option {
	return func(c *Client) { c.breaker = cb }
}

// New builds a Client. httpClient is typically configured with the
// pipeline's per-request deadline (spec.md §5); pass nil to use
// http.DefaultClient.
func New(httpClient *http.Client, opts ...Option) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	c := &Client{httpClient: httpClient}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Do builds and sends the outbound request to binding for the given
// upstream path (everything after the provider namespace segment,
// including any query string), method, inbound headers, and body.
//
// A non-nil error here is always a transport fault (connection, DNS,
// timeout) per spec.md §4.7 — any HTTP status the upstream actually
// returns, including 4xx/5xx, comes back as a Response with no error.
func (c *Client) Do(ctx context.Context, binding ProviderBinding, method, upstreamPath string, inboundHeaders http.Header, body []byte) (*Response, error) {
	if c.breaker != nil && !c.breaker.Allow(binding.Name) {
		return nil, fmt.Errorf("upstream: %s: circuit breaker open", binding.Name)
	}

	resp, err := c.do(ctx, binding, method, upstreamPath, inboundHeaders, body)
	if c.breaker != nil {
		if err != nil {
			c.breaker.RecordFailure(binding.Name)
		} else {
			c.breaker.RecordSuccess(binding.Name)
		}
	}
	return resp, err
}

func (c *Client) do(ctx context.Context, binding ProviderBinding, method, upstreamPath string, inboundHeaders http.Header, body []byte) (*Response, error) {
	url := binding.UpstreamBaseURL + upstreamPath

	var bodyReader io.Reader
	method = strings.ToUpper(method)
	if method != http.MethodGet && method != http.MethodHead && len(body) > 0 {
		bodyReader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("upstream: build request: %w", err)
	}

	applyHeaders(req, binding, inboundHeaders, bodyReader != nil)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("upstream: %s: %w", binding.Name, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("upstream: %s: read response body: %w", binding.Name, err)
	}

	return &Response{
		Status:  resp.StatusCode,
		Headers: resp.Header,
		Body:    parseBody(raw),
	}, nil
}

func applyHeaders(req *http.Request, binding ProviderBinding, inbound http.Header, hasBody bool) {
	for _, key := range inboundWhitelist {
		if v := inbound.Get(key); v != "" {
			req.Header.Set(key, v)
		}
	}

	// Strip framing/connection headers a whitelist copy wouldn't have
	// carried anyway — asserted here defensively, since callers sometimes
	// pass inbound headers straight through.
	req.Header.Del("content-length")
	req.Header.Del("transfer-encoding")
	req.Header.Del("host")
	req.Header.Del("connection")
	req.Header.Del("keep-alive")

	req.Header.Set("accept-encoding", "identity")
	if hasBody && req.Header.Get("content-type") == "" {
		req.Header.Set("content-type", "application/json")
	}

	switch binding.AuthStyle {
	case AuthStyleBearer:
		req.Header.Set("Authorization", "Bearer "+binding.Credential)
	case AuthStyleHeaderPair:
		req.Header.Set("x-api-key", binding.Credential)
		req.Header.Set(protocolVersionHeader, protocolVersion)
	}
}

// parseBody attempts to decode raw as JSON; on failure it returns the raw
// text unchanged (spec.md §4.7).
func parseBody(raw []byte) any {
	if len(raw) == 0 {
		return ""
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return string(raw)
	}
	return v
}
