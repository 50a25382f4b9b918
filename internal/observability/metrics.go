package observability

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder exposes Prometheus metrics for the collector and the processor.
// Each binary only moves the series it owns. A nil Recorder records nothing.
type Recorder struct {
	ticksTotal           prometheus.Counter
	fetchFailuresTotal   *prometheus.CounterVec
	forwardedSamples     prometheus.Counter
	forwardFailures      prometheus.Counter
	ingestRequestsTotal  *prometheus.CounterVec
	rowsPersistedTotal   prometheus.Counter
	samplesRejectedTotal *prometheus.CounterVec
}

// NewRecorder constructs a recorder and registers its collectors on reg.
func NewRecorder(reg prometheus.Registerer) *Recorder {
	factory := promauto.With(reg)
	return &Recorder{
		ticksTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "node_metrics_collection_ticks_total",
			Help: "Number of collection cycles started by the collector",
		}),
		fetchFailuresTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "node_metrics_fetch_failures_total",
			Help: "Number of collection cycles whose metrics API fetch failed",
		}, []string{"kind"}),
		forwardedSamples: factory.NewCounter(prometheus.CounterOpts{
			Name: "node_metrics_forwarded_samples_total",
			Help: "Number of node samples delivered to the processor",
		}),
		forwardFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "node_metrics_forward_failures_total",
			Help: "Number of snapshots dropped because delivery to the processor failed",
		}),
		ingestRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "node_metrics_ingest_requests_total",
			Help: "Number of ingestion requests handled by the processor, by status code",
		}, []string{"code"}),
		rowsPersistedTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "node_metrics_rows_persisted_total",
			Help: "Number of node_metrics rows committed to the store",
		}),
		samplesRejectedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "node_metrics_samples_rejected_total",
			Help: "Number of node samples whose field could not be normalized, failing their batch",
		}, []string{"field"}),
	}
}

// RecordTick counts one collection cycle.
func (r *Recorder) RecordTick() {
	if r == nil {
		return
	}
	r.ticksTotal.Inc()
}

// RecordFetchFailure counts a failed fetch; transient failures skip the tick,
// permanent ones stop the collector.
func (r *Recorder) RecordFetchFailure(transient bool) {
	if r == nil {
		return
	}
	kind := "permanent"
	if transient {
		kind = "transient"
	}
	r.fetchFailuresTotal.WithLabelValues(kind).Inc()
}

// RecordForward counts the outcome of one delivery.
func (r *Recorder) RecordForward(samples int, err error) {
	if r == nil {
		return
	}
	if err != nil {
		r.forwardFailures.Inc()
		return
	}
	r.forwardedSamples.Add(float64(samples))
}

// RecordIngest counts one ingestion response and the rows it committed.
func (r *Recorder) RecordIngest(code, rows int) {
	if r == nil {
		return
	}
	r.ingestRequestsTotal.WithLabelValues(strconv.Itoa(code)).Inc()
	if rows > 0 {
		r.rowsPersistedTotal.Add(float64(rows))
	}
}

// RecordRejectedSample counts a sample that failed its batch because of field.
func (r *Recorder) RecordRejectedSample(field string) {
	if r == nil {
		return
	}
	r.samplesRejectedTotal.WithLabelValues(field).Inc()
}
