package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"
)

// HTTPClient posts JSON turns to the service endpoint.
type HTTPClient struct {
	endpoint string
	client   *http.Client
	logger   *slog.Logger
}

// NewHTTPClient creates a client for endpoint. A zero timeout means no
// client-side limit beyond the caller's context.
func NewHTTPClient(endpoint string, timeout time.Duration, logger *slog.Logger) (*HTTPClient, error) {
	if logger == nil {
		logger = slog.Default()
	}

	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse endpoint: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("endpoint %q: scheme must be http or https", endpoint)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("endpoint %q: missing host", endpoint)
	}

	return &HTTPClient{
		endpoint: u.String(),
		client:   &http.Client{Timeout: timeout},
		logger:   logger,
	}, nil
}

// Exchange implements Transport.
func (c *HTTPClient) Exchange(ctx context.Context, req Request) (*Reply, error) {
	body, err := json.Marshal(newWireRequest(req))
	if err != nil {
		return nil, networkError(fmt.Errorf("encode request: %w", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, networkError(err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.client.Do(httpReq)
	if err != nil {
		c.logger.Warn("Mentor request failed", "endpoint", c.endpoint, "error", err)
		return nil, networkError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxReplyBytes))
		c.logger.Warn("Mentor returned error status", "endpoint", c.endpoint, "status", resp.StatusCode)
		return nil, &TransportError{Kind: KindStatus, StatusCode: resp.StatusCode, Status: resp.Status}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxReplyBytes+1))
	if err != nil {
		return nil, networkError(fmt.Errorf("read body: %w", err))
	}
	if len(data) > maxReplyBytes {
		return nil, schemaError(errors.New("reply body too large"))
	}

	reply, err := decodeReply(data)
	if err != nil {
		c.logger.Warn("Mentor reply rejected", "endpoint", c.endpoint, "error", err)
		return nil, err
	}

	c.logger.Debug("Mentor exchange complete",
		"endpoint", c.endpoint,
		"duration", time.Since(start),
		"citations", len(reply.Citations),
		"follow_ups", len(reply.FollowUps),
	)
	return reply, nil
}

// Health sends OPTIONS to the endpoint. Any HTTP answer counts as reachable.
func (c *HTTPClient) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodOptions, c.endpoint, nil)
	if err != nil {
		return err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	_ = resp.Body.Close()
	return nil
}

// Close releases idle connections.
func (c *HTTPClient) Close() error {
	c.client.CloseIdleConnections()
	return nil
}
