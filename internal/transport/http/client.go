package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/mehdiazizian/node-metrics-pipeline/internal/transport/dto"
)

const (
	// IngestPath is the processor endpoint receiving snapshots.
	IngestPath = "/node_metrics"

	// DefaultTimeout bounds one delivery, connection setup included.
	DefaultTimeout = 10 * time.Second

	maxErrorBody = 4 << 10
)

// HTTPCommunicator implements ProcessorCommunicator over plain HTTP.
// Deliveries are attempted once; the caller decides what a failure means.
type HTTPCommunicator struct {
	httpClient *http.Client
	baseURL    string
}

// NewHTTPCommunicator creates a communicator for the processor at baseURL.
// A non-positive timeout selects DefaultTimeout.
func NewHTTPCommunicator(baseURL string, timeout time.Duration) (*HTTPCommunicator, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("processor base URL is required")
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        10,
		MaxConnsPerHost:     10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}

	return &HTTPCommunicator{
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   timeout,
		},
		baseURL: strings.TrimRight(baseURL, "/"),
	}, nil
}

// Endpoint returns the ingestion URL.
func (c *HTTPCommunicator) Endpoint() string {
	return c.baseURL + IngestPath
}

// PublishNodeMetrics POSTs the snapshot as JSON. Any 2xx status is success.
func (c *HTTPCommunicator) PublishNodeMetrics(ctx context.Context, snapshot *dto.NodeMetricsList) error {
	logger := log.FromContext(ctx).WithName("http-communicator")

	body, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("failed to marshal node metrics: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Endpoint(), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create POST request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to deliver node metrics: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return fmt.Errorf("processor returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(bodyBytes)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)

	logger.V(1).Info("Node metrics delivered",
		"endpoint", c.Endpoint(),
		"nodes", len(snapshot.Items),
		"status", resp.StatusCode)

	return nil
}

// Ping checks connectivity to the processor
func (c *HTTPCommunicator) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/healthz", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("ping failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("processor returned status %d", resp.StatusCode)
	}

	return nil
}

// Close cleans up resources
func (c *HTTPCommunicator) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}
