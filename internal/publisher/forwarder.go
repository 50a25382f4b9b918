package publisher

import (
	"context"

	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/mehdiazizian/node-metrics-pipeline/internal/observability"
	"github.com/mehdiazizian/node-metrics-pipeline/internal/transport"
	"github.com/mehdiazizian/node-metrics-pipeline/internal/transport/dto"
)

// Forwarder hands snapshots to the processor on a best-effort, at-most-once
// basis: a failed delivery drops that snapshot and is never retried.
type Forwarder struct {
	Communicator transport.ProcessorCommunicator
	Recorder     *observability.Recorder
}

// NewForwarder creates a forwarder over the given communicator.
func NewForwarder(communicator transport.ProcessorCommunicator, recorder *observability.Recorder) *Forwarder {
	return &Forwarder{Communicator: communicator, Recorder: recorder}
}

// Forward delivers the snapshot. Failures are logged and swallowed so the
// caller's loop is never interrupted.
func (f *Forwarder) Forward(ctx context.Context, snapshot *dto.NodeMetricsList) {
	logger := log.FromContext(ctx).WithName("forwarder")

	err := f.Communicator.PublishNodeMetrics(ctx, snapshot)
	f.Recorder.RecordForward(len(snapshot.Items), err)
	if err != nil {
		logger.Error(err, "Failed to forward node metrics, snapshot dropped",
			"endpoint", f.Communicator.Endpoint(),
			"nodes", len(snapshot.Items))
		return
	}

	logger.Info("Forwarded node metrics",
		"endpoint", f.Communicator.Endpoint(),
		"nodes", len(snapshot.Items))
}
