package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/vietddude/conductor/internal/metrics"
)

// maxBodyBytes caps how much of a response is read.
const maxBodyBytes = 8 << 20

// HTTPProvider implements Provider for JSON-RPC and REST over HTTP.
type HTTPProvider struct {
	*BaseProvider
	endpoint   string
	httpClient *http.Client
	limiter    *rate.Limiter
	headers    http.Header
	nextID     atomic.Uint64
}

// HTTPOption configures an HTTPProvider.
type HTTPOption func(*HTTPProvider)

// WithRateLimit caps outgoing requests to rps with the given burst.
func WithRateLimit(rps float64, burst int) HTTPOption {
	return func(p *HTTPProvider) {
		if rps <= 0 {
			return
		}
		if burst <= 0 {
			burst = 1
		}
		p.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithHeader adds a header to every request, e.g. an API key.
func WithHeader(key, value string) HTTPOption {
	return func(p *HTTPProvider) {
		if value != "" {
			p.headers.Set(key, value)
		}
	}
}

// WithHTTPClient replaces the default client.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(p *HTTPProvider) {
		p.httpClient = c
	}
}

// NewHTTPProvider creates a new HTTP-based provider.
func NewHTTPProvider(name, endpoint string, timeout time.Duration, opts ...HTTPOption) *HTTPProvider {
	p := &HTTPProvider{
		BaseProvider: NewBaseProvider(name),
		endpoint:     strings.TrimRight(endpoint, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		headers: make(http.Header),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Endpoint returns the base URL.
func (p *HTTPProvider) Endpoint() string {
	return p.endpoint
}

// Call makes a single JSON-RPC 2.0 call and decodes the result into out.
// A null result leaves out untouched.
func (p *HTTPProvider) Call(ctx context.Context, method string, params []any, out any) error {
	if params == nil {
		params = []any{}
	}
	reqBody := map[string]any{
		"jsonrpc": "2.0",
		"method":  method,
		"params":  params,
		"id":      p.nextID.Add(1),
	}

	body, err := p.do(ctx, method, http.MethodPost, p.endpoint, reqBody)
	if err != nil {
		return err
	}

	var rpcResp struct {
		Result json.RawMessage `json:"result"`
		Error  *RPCError       `json:"error"`
	}
	if err := json.Unmarshal(body, &rpcResp); err != nil {
		p.fail(method)
		return fmt.Errorf("%s: parse response: %w", p.Name, err)
	}
	if rpcResp.Error != nil {
		if p.Monitor.DetectThrottlePattern(rpcResp.Error.Message) {
			p.Monitor.RecordThrottle(http.StatusTooManyRequests, "")
		}
		p.fail(method)
		return fmt.Errorf("%s: %w", p.Name, rpcResp.Error)
	}
	if out == nil || len(rpcResp.Result) == 0 || string(rpcResp.Result) == "null" {
		return nil
	}
	if err := json.Unmarshal(rpcResp.Result, out); err != nil {
		return fmt.Errorf("%s: decode %s result: %w", p.Name, method, err)
	}
	return nil
}

// Get performs a REST GET on path (relative to the endpoint, may carry a query).
func (p *HTTPProvider) Get(ctx context.Context, path string, out any) error {
	return p.rest(ctx, http.MethodGet, path, nil, out)
}

// Post performs a REST POST with a JSON body. A []byte body is sent as
// application/octet-stream.
func (p *HTTPProvider) Post(ctx context.Context, path string, body any, out any) error {
	return p.rest(ctx, http.MethodPost, path, body, out)
}

func (p *HTTPProvider) rest(ctx context.Context, method, path string, reqBody any, out any) error {
	url := p.endpoint + "/" + strings.TrimLeft(path, "/")
	label := method + " " + routeLabel(path)
	body, err := p.do(ctx, label, method, url, reqBody)
	if err != nil {
		return err
	}
	if out == nil || len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	if raw, ok := out.(*[]byte); ok {
		*raw = body
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%s: decode %s: %w", p.Name, label, err)
	}
	return nil
}

// do sends one request and returns the body of a 2xx response.
func (p *HTTPProvider) do(ctx context.Context, label, method, url string, reqBody any) ([]byte, error) {
	if status := p.Monitor.CheckProviderStatus(); status == StatusThrottled || status == StatusBlocked {
		return nil, fmt.Errorf("%s: provider %s, unavailable for %v", p.Name, status, p.Monitor.GetRetryAfter())
	}
	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("%s: rate limiter: %w", p.Name, err)
		}
	}

	var (
		reader      io.Reader
		contentType string
	)
	switch b := reqBody.(type) {
	case nil:
	case []byte:
		reader = bytes.NewReader(b)
		contentType = "application/octet-stream"
	default:
		data, err := json.Marshal(b)
		if err != nil {
			return nil, fmt.Errorf("%s: marshal request: %w", p.Name, err)
		}
		reader = bytes.NewReader(data)
		contentType = "application/json"
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("%s: create request: %w", p.Name, err)
	}
	for k, v := range p.headers {
		req.Header[k] = v
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")

	metrics.CollaboratorCallsTotal.WithLabelValues(p.Name, label).Inc()
	start := time.Now()
	resp, err := p.httpClient.Do(req)
	if err != nil {
		p.fail(label)
		return nil, fmt.Errorf("%s: %s: %w", p.Name, label, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	latency := time.Since(start)
	metrics.CollaboratorLatency.WithLabelValues(p.Name, label).Observe(latency.Seconds())
	if err != nil {
		p.fail(label)
		return nil, fmt.Errorf("%s: read response: %w", p.Name, err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusForbidden:
		p.Monitor.RecordThrottle(resp.StatusCode, resp.Header.Get("Retry-After"))
		p.fail(label)
		return nil, &StatusError{Provider: p.Name, Code: resp.StatusCode, Body: snippet(body)}
	case resp.StatusCode == http.StatusNotFound:
		// A 404 is an answer, not an outage.
		p.RecordSuccess(latency)
		return nil, &StatusError{Provider: p.Name, Code: resp.StatusCode, Body: snippet(body)}
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		p.fail(label)
		return nil, &StatusError{Provider: p.Name, Code: resp.StatusCode, Body: snippet(body)}
	}

	p.RecordSuccess(latency)
	return body, nil
}

func (p *HTTPProvider) fail(label string) {
	metrics.CollaboratorErrorsTotal.WithLabelValues(p.Name, label).Inc()
	p.RecordFailure()
}

// Close cleans up resources.
func (p *HTTPProvider) Close() error {
	p.httpClient.CloseIdleConnections()
	return nil
}

// IsNotFound reports whether err is a 404 from an HTTPProvider.
func IsNotFound(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.NotFound()
}

// routeLabel strips query strings and long path segments to keep metric cardinality bounded.
func routeLabel(path string) string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	parts := strings.Split(strings.Trim(path, "/"), "/")
	for i, part := range parts {
		if len(part) > 24 || strings.HasPrefix(part, "0x") {
			parts[i] = ":id"
		}
	}
	return "/" + strings.Join(parts, "/")
}

func snippet(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > 256 {
		s = s[:256]
	}
	return s
}
