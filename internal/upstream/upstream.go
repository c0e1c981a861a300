// Package upstream implements the timeout-wrapped HTTP client the Active
// state sends through (spec.md §4.8), grounded on resilience/circuit_
// breaker.go's ExecuteWithTimeout pattern and the shared *http.Client the
// AI provider clients (ai/providers/openai/client.go) reuse across calls.
package upstream

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/soldrproxy/soldr/internal/domain"
	"github.com/soldrproxy/soldr/internal/errs"
)

// maxResponseBody bounds how much of an upstream response body an Attempt
// row stores; an origin that streams gigabytes back should not OOM the
// proxy (spec.md's own bodies-buffered-in-full non-goal covers the
// inbound side, this is its outbound mirror).
const maxResponseBody = 1_000_000

// TimeoutStatus and TimeoutBody are the synthesized attempt spec.md §4.3
// requires on timeout expiry.
const (
	TimeoutStatus = 504
	TimeoutBody   = "Timeout"
)

// Client sends one delivery attempt to a resolved Origin. A single Client
// is shared across all drives so its underlying *http.Client pools
// connections (spec.md §5: "the upstream HTTP client is shared").
type Client struct {
	http *http.Client
}

// New returns a Client with a shared, connection-pooling transport. Per-
// call timeouts are applied via context, not the client's own Timeout
// field, since every origin has its own timeout_ms.
func New() *Client {
	return &Client{http: &http.Client{}}
}

// Send builds the upstream URL from o's scheme+authority and req's path-
// and-query, issues the request with o.TimeoutMS as a deadline, and
// returns the (status, body) pair an Attempt row should record.
//
// A timeout returns (504, "Timeout", nil) — not an error — per spec.md
// §4.3's "treat it as a normal attempt". Any other transport-level
// failure returns a non-nil error wrapping errs.ErrUpstreamTransport, and
// the caller must not record an Attempt row for it.
func (c *Client) Send(ctx context.Context, o domain.Origin, req domain.Request) (int, []byte, error) {
	target, err := buildUpstreamURL(o, req.URI)
	if err != nil {
		return 0, nil, errs.Wrap("upstream.build_url", o.Domain, err)
	}

	timeout := time.Duration(o.TimeoutMS) * time.Millisecond
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var bodyReader io.Reader
	if len(req.Body) > 0 {
		bodyReader = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(callCtx, req.Method, target, bodyReader)
	if err != nil {
		return 0, nil, errs.Wrap("upstream.new_request", o.Domain, err)
	}
	for _, h := range req.Headers {
		httpReq.Header.Add(h.Name, h.Value)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		if callCtx.Err() == context.DeadlineExceeded {
			return TimeoutStatus, []byte(TimeoutBody), nil
		}
		return 0, nil, errs.Wrap("upstream.send", o.Domain, fmt.Errorf("%w: %v", errs.ErrUpstreamTransport, err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return 0, nil, errs.Wrap("upstream.read_body", o.Domain, fmt.Errorf("%w: %v", errs.ErrUpstreamTransport, err))
	}

	return resp.StatusCode, body, nil
}

// buildUpstreamURL replaces o.OriginURI's path and query with
// requestURI's, keeping origin's scheme and authority (spec.md §4.3
// "Origin resolution").
func buildUpstreamURL(o domain.Origin, requestURI string) (string, error) {
	base, err := url.Parse(o.OriginURI)
	if err != nil {
		return "", err
	}
	reqURL, err := url.Parse(requestURI)
	if err != nil {
		return "", err
	}
	out := *base
	out.Path = reqURL.Path
	out.RawPath = reqURL.RawPath
	out.RawQuery = reqURL.RawQuery
	return out.String(), nil
}
