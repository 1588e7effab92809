// Package client provides the upstream HTTP client that performs forwarded calls.
package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"forward-proxy-go/internal/config"
	"forward-proxy-go/internal/metrics"
	"forward-proxy-go/internal/model"
)

const defaultUserAgent = "forward-proxy-go/1.0"

// UpstreamClient sends outbound requests to resolved targets.
type UpstreamClient struct {
	httpClient *http.Client
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

// NewUpstreamClient creates an UpstreamClient with connection pooling and timeouts.
// The metrics parameter is optional; pass nil to disable upstream metrics recording.
func NewUpstreamClient(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *UpstreamClient {
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        cfg.Upstream.IdleConnections,
		MaxIdleConnsPerHost: cfg.Upstream.IdleConnections,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
		// Relay upstream bytes as sent; never decompress on the caller's behalf.
		DisableCompression: true,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
	}

	return &UpstreamClient{
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   time.Duration(cfg.Upstream.TimeoutSeconds) * time.Second,
			// Redirects are relayed to the caller, not followed.
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		logger:  logger.With("component", "upstream_client"),
		metrics: m,
	}
}

// Do executes out against its target and returns the upstream response.
// Upstream error statuses are returned as responses, not errors; only
// network-level failures produce a *model.ProxyError.
// The caller is responsible for closing the response body.
func (c *UpstreamClient) Do(ctx context.Context, out *model.OutboundRequest) (*model.ProxyResponse, error) {
	var body io.Reader
	if len(out.Body) > 0 {
		body = bytes.NewReader(out.Body)
	}

	req, err := http.NewRequestWithContext(ctx, out.Method, out.URL, body)
	if err != nil {
		return nil, model.NewError(model.KindInternal, "build upstream request", err)
	}
	if out.Host != "" {
		if !strings.EqualFold(req.URL.Host, out.Host) {
			return nil, model.NewError(model.KindInternal,
				fmt.Sprintf("upstream host %q does not match resolved host %q", req.URL.Host, out.Host), nil)
		}
		req.Host = out.Host
	}
	req.Header = out.Header.Clone()
	if req.Header == nil {
		req.Header = make(http.Header)
	}
	if body != nil {
		req.Header.Set("Content-Type", out.ContentType)
		req.ContentLength = int64(len(out.Body))
	}
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", defaultUserAgent)
	}

	c.logger.Debug("upstream request",
		"method", req.Method,
		"host", req.URL.Host,
		"path", req.URL.Path,
	)

	start := time.Now()
	resp, err := c.httpClient.Do(req) //nolint:bodyclose // body ownership transfers to caller via ProxyResponse
	duration := time.Since(start).Seconds()

	method := metrics.NormalizeMethod(req.Method)
	if c.metrics != nil {
		c.metrics.UpstreamDuration.WithLabelValues(method).Observe(duration)
	}

	if err != nil {
		return nil, classify(err)
	}

	if c.metrics != nil {
		c.metrics.UpstreamResponses.WithLabelValues(method, strconv.Itoa(resp.StatusCode)).Inc()
	}

	return &model.ProxyResponse{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       resp.Body,
	}, nil
}

// classify maps a transport error to a timeout or unreachable ProxyError.
func classify(err error) *model.ProxyError {
	if errors.Is(err, context.DeadlineExceeded) {
		return model.NewError(model.KindUpstreamTimeout, "upstream did not respond in time", err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return model.NewError(model.KindUpstreamTimeout, "upstream did not respond in time", err)
	}
	if errors.Is(err, context.Canceled) {
		return model.NewError(model.KindUpstreamUnreachable, "request canceled before upstream responded", err)
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return model.NewError(model.KindUpstreamUnreachable, fmt.Sprintf("cannot resolve host %q", dnsErr.Name), err)
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return model.NewError(model.KindUpstreamUnreachable, "connection to upstream failed", err)
	}
	return model.NewError(model.KindUpstreamUnreachable, "upstream request failed", err)
}
