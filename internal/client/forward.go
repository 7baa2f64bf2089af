// Package client provides the outbound HTTP client that relays requests to
// their targets.
package client

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"target-forwarder/internal/config"
	"target-forwarder/internal/metrics"
	"target-forwarder/internal/model"
)

// ForwardClient sends a single outbound request per inbound request.
// Redirects are returned to the caller rather than followed, and nothing is
// retried.
type ForwardClient struct {
	httpClient *http.Client
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

// NewForwardClient creates a ForwardClient. A zero upstream timeout leaves
// the request bounded only by the inbound request's context.
// The metrics parameter is optional; pass nil to disable upstream metrics recording.
func NewForwardClient(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *ForwardClient {
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        cfg.Upstream.IdleConnections,
		MaxIdleConnsPerHost: cfg.Upstream.IdleConnections,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
		ForceAttemptHTTP2:   true,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
	}

	return &ForwardClient{
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   time.Duration(cfg.Upstream.TimeoutSeconds) * time.Second,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		logger:  logger.With("component", "forward_client"),
		metrics: m,
	}
}

// Do executes an HTTP request against the target and returns the raw response.
// The caller is responsible for closing the response body.
func (c *ForwardClient) Do(req *http.Request) (*model.ProxyResponse, error) {
	c.logger.Debug("upstream request",
		"method", req.Method,
		"host", req.URL.Host,
		"path", req.URL.Path,
	)

	start := time.Now()
	resp, err := c.httpClient.Do(req) //nolint:bodyclose // body ownership transfers to caller via ProxyResponse
	duration := time.Since(start).Seconds()

	method := metrics.NormalizeMethod(req.Method)

	if err != nil {
		if c.metrics != nil {
			c.metrics.UpstreamDuration.WithLabelValues(method).Observe(duration)
		}
		return nil, fmt.Errorf("upstream request: %w", err)
	}

	if c.metrics != nil {
		c.metrics.UpstreamDuration.WithLabelValues(method).Observe(duration)
		c.metrics.UpstreamResponses.WithLabelValues(method, metrics.StatusClass(resp.StatusCode)).Inc()
	}

	return &model.ProxyResponse{
		StatusCode: resp.StatusCode,
		Status:     resp.Status,
		Header:     resp.Header,
		Body:       resp.Body,
		Target:     req.URL.String(),
	}, nil
}

// DoStream executes a request whose body is streamed from body and returns
// the response body as a stream. The caller is responsible for closing the
// returned ReadCloser.
// The provided context controls the lifetime of the upstream request:
// when the context is canceled (e.g. client disconnects), the upstream
// request is also canceled.
func (c *ForwardClient) DoStream(ctx context.Context, method, url string, header http.Header, body io.Reader, contentLength int64) (*model.ProxyResponse, error) {
	if body == http.NoBody {
		body = nil
	}
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("build upstream request: %w", err)
	}
	req.Header = header
	// Server request bodies are opaque to NewRequest; carry the inbound length
	// so the transport does not fall back to chunked encoding.
	if body != nil && req.ContentLength == 0 && contentLength > 0 {
		req.ContentLength = contentLength
	}

	return c.Do(req)
}
