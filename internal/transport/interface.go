package transport

import (
	"context"

	"github.com/mehdiazizian/node-metrics-pipeline/internal/transport/dto"
)

// ProcessorCommunicator abstracts delivery of node metrics snapshots to the
// metrics processor (collector-side interface).
type ProcessorCommunicator interface {
	// PublishNodeMetrics delivers one snapshot to the processor
	PublishNodeMetrics(ctx context.Context, snapshot *dto.NodeMetricsList) error

	// Endpoint returns the ingestion URL, for logging
	Endpoint() string

	// Ping checks connectivity to the processor
	Ping(ctx context.Context) error

	// Close cleans up resources
	Close() error
}
