package publisher

import (
	"context"
	"fmt"
	"time"

	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/mehdiazizian/node-metrics-pipeline/internal/metrics"
	"github.com/mehdiazizian/node-metrics-pipeline/internal/observability"
	"github.com/mehdiazizian/node-metrics-pipeline/internal/transport/dto"
)

// NodeMetricsSource fetches one snapshot from the cluster.
type NodeMetricsSource interface {
	CollectNodeMetrics(ctx context.Context) (*dto.NodeMetricsList, error)
}

// SnapshotForwarder delivers a snapshot without reporting failures.
type SnapshotForwarder interface {
	Forward(ctx context.Context, snapshot *dto.NodeMetricsList)
}

// Scheduler runs the collection loop: fetch, forward, then sleep for the
// interval. Ticks never overlap; a slow tick delays the next one.
type Scheduler struct {
	source    NodeMetricsSource
	forwarder SnapshotForwarder
	interval  time.Duration
	recorder  *observability.Recorder
}

// NewScheduler creates a scheduler. The interval is fixed for the lifetime
// of the scheduler.
func NewScheduler(
	source NodeMetricsSource,
	forwarder SnapshotForwarder,
	interval time.Duration,
	recorder *observability.Recorder,
) *Scheduler {
	return &Scheduler{
		source:    source,
		forwarder: forwarder,
		interval:  interval,
		recorder:  recorder,
	}
}

// Start runs until ctx is cancelled or a fetch fails permanently. Transient
// fetch failures skip the current tick only.
func (s *Scheduler) Start(ctx context.Context) error {
	logger := log.FromContext(ctx).WithName("metrics-scheduler")
	if s.interval <= 0 {
		return fmt.Errorf("collection interval must be > 0, got %s", s.interval)
	}

	logger.Info("Starting node metrics scheduler", "interval", s.interval)

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("Stopping node metrics scheduler")
			return nil
		case <-timer.C:
		}
		if ctx.Err() != nil {
			logger.Info("Stopping node metrics scheduler")
			return nil
		}

		if err := s.tick(ctx); err != nil {
			return err
		}
		timer.Reset(s.interval)
	}
}

// NeedLeaderElection makes only the elected replica poll the metrics API.
func (s *Scheduler) NeedLeaderElection() bool {
	return true
}

func (s *Scheduler) tick(ctx context.Context) error {
	logger := log.FromContext(ctx).WithName("metrics-scheduler")
	s.recorder.RecordTick()

	snapshot, err := s.source.CollectNodeMetrics(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}

		transient := metrics.IsTransientError(err)
		s.recorder.RecordFetchFailure(transient)
		if transient {
			logger.Error(err, "Failed to collect node metrics, skipping this tick")
			return nil
		}
		return fmt.Errorf("failed to collect node metrics: %w", err)
	}

	s.forwarder.Forward(ctx, snapshot)
	return nil
}
