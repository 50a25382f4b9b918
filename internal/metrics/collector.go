package metrics

import (
	"context"
	"errors"
	"fmt"
	"time"

	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/client-go/dynamic"
	metricsv1beta1 "k8s.io/metrics/pkg/apis/metrics/v1beta1"
	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/mehdiazizian/node-metrics-pipeline/internal/transport/dto"
)

// NodeMetricsGVR is the cluster-scoped node usage resource of metrics-server.
var NodeMetricsGVR = metricsv1beta1.SchemeGroupVersion.WithResource("nodes")

// DefaultBackoff bounds retries of transient list failures within one tick.
var DefaultBackoff = wait.Backoff{
	Steps:    4,
	Duration: 500 * time.Millisecond,
	Factor:   2.0,
	Jitter:   0.1,
}

// Collector collects node usage metrics from the cluster
type Collector struct {
	Client  dynamic.Interface
	Backoff wait.Backoff
}

// NewCollector creates a collector with the default back-off.
func NewCollector(client dynamic.Interface) *Collector {
	return &Collector{Client: client, Backoff: DefaultBackoff}
}

// CollectNodeMetrics lists every NodeMetrics object. Transient API errors are
// retried; the returned error wraps the last failure.
func (c *Collector) CollectNodeMetrics(ctx context.Context) (*dto.NodeMetricsList, error) {
	logger := log.FromContext(ctx).WithName("metrics-collector")

	backoff := c.Backoff
	if backoff.Steps == 0 {
		backoff = DefaultBackoff
	}

	var list *unstructured.UnstructuredList
	var lastErr error
	err := wait.ExponentialBackoffWithContext(ctx, backoff, func(ctx context.Context) (bool, error) {
		var err error
		list, err = c.Client.Resource(NodeMetricsGVR).List(ctx, metav1.ListOptions{})
		if err == nil {
			return true, nil
		}

		if IsTransientError(err) {
			lastErr = err
			logger.Info("Transient error listing node metrics, retrying", "error", err.Error())
			return false, nil
		}

		return false, err
	})

	if err != nil {
		if lastErr != nil && wait.Interrupted(err) {
			return nil, fmt.Errorf("failed to list node metrics after retries: %w", lastErr)
		}
		return nil, fmt.Errorf("failed to list node metrics: %w", err)
	}

	snapshot, err := dto.FromUnstructuredList(list)
	if err != nil {
		return nil, err
	}

	logger.V(1).Info("Collected node metrics", "nodes", len(snapshot.Items))
	return snapshot, nil
}

// IsTransientError checks if error is temporary and the fetch may succeed on
// a later attempt.
func IsTransientError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	return apierrors.IsTimeout(err) ||
		apierrors.IsServerTimeout(err) ||
		apierrors.IsServiceUnavailable(err) ||
		apierrors.IsTooManyRequests(err) ||
		apierrors.IsInternalError(err)
}
