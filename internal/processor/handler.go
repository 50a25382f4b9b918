// Package processor implements the ingestion side of the pipeline: it accepts
// node metrics snapshots over HTTP, normalizes them and persists each
// snapshot as one batch.
package processor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-logr/logr"
	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/mehdiazizian/node-metrics-pipeline/internal/config"
	"github.com/mehdiazizian/node-metrics-pipeline/internal/normalize"
	"github.com/mehdiazizian/node-metrics-pipeline/internal/observability"
	"github.com/mehdiazizian/node-metrics-pipeline/internal/store"
	"github.com/mehdiazizian/node-metrics-pipeline/internal/transport/dto"
)

const (
	// IngestPath receives one snapshot per POST.
	IngestPath = "/node_metrics"

	maxBodyBytes = 16 << 20
)

// MetricsStore persists one normalized batch atomically.
type MetricsStore interface {
	InsertNodeMetrics(ctx context.Context, records []store.Record) error
}

// Handler serves the ingestion endpoint. Requests share no mutable state;
// each one gets its own store connection and transaction.
type Handler struct {
	database config.Database
	store    MetricsStore
	recorder *observability.Recorder
	logger   logr.Logger
}

// NewHandler creates the ingestion handler. store may be nil when the
// database configuration is incomplete; every request then fails with 500.
func NewHandler(database config.Database, st MetricsStore, recorder *observability.Recorder, logger logr.Logger) *Handler {
	return &Handler{
		database: database,
		store:    st,
		recorder: recorder,
		logger:   logger.WithName("ingest"),
	}
}

// Routes returns the processor's HTTP routes.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST "+IngestPath, h.ingestNodeMetrics)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	return mux
}

type messageResponse struct {
	Message string `json:"message"`
}

type errorResponse struct {
	Detail string `json:"detail"`
}

func (h *Handler) ingestNodeMetrics(w http.ResponseWriter, r *http.Request) {
	logger := h.logger.WithValues("remote", r.RemoteAddr)
	ctx := log.IntoContext(r.Context(), logger)

	if err := h.database.Validate(); err != nil {
		logger.Error(err, "Rejecting node metrics, database is not configured")
		h.fail(w, http.StatusInternalServerError, err.Error())
		return
	}
	// cmd/processor only leaves the store unset when Validate fails above;
	// a handler built without one still answers instead of panicking.
	if h.store == nil {
		h.fail(w, http.StatusServiceUnavailable, "Database unavailable")
		return
	}

	var snapshot dto.NodeMetricsList
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&snapshot); err != nil {
		logger.Error(err, "Cannot decode node metrics")
		h.fail(w, http.StatusUnprocessableEntity, fmt.Sprintf("Invalid request body: %v", err))
		return
	}
	if err := snapshot.Validate(); err != nil {
		logger.Error(err, "Rejecting incomplete node metrics")
		h.fail(w, http.StatusUnprocessableEntity, fmt.Sprintf("Invalid request body: %v", err))
		return
	}

	records, err := h.normalize(logger, snapshot.Items)
	if err != nil {
		h.fail(w, http.StatusBadRequest, err.Error())
		return
	}

	if len(records) > 0 {
		logger.V(1).Info("Inserting node metrics", "host", h.database.Host, "rows", len(records))
		if err := h.store.InsertNodeMetrics(ctx, records); err != nil {
			if errors.Is(err, store.ErrUnavailable) {
				logger.Error(err, "Cannot connect to database", "host", h.database.Host)
				h.fail(w, http.StatusServiceUnavailable, fmt.Sprintf("Database unavailable: %v", err))
				return
			}
			logger.Error(err, "Problem inserting node metrics", "host", h.database.Host, "rows", len(records))
			h.fail(w, http.StatusInternalServerError, fmt.Sprintf("Error inserting data: %v", err))
			return
		}
	}

	logger.Info("Stored node metrics", "rows", len(records), "received", len(snapshot.Items))
	h.recorder.RecordIngest(http.StatusOK, len(records))
	writeJSON(w, http.StatusOK, messageResponse{Message: "Got the node metrics"})
}

// normalize converts the items in order. The first timestamp or usage value
// that cannot be normalized fails the whole batch, so nothing is persisted.
func (h *Handler) normalize(logger logr.Logger, items []dto.NodeMetrics) ([]store.Record, error) {
	records := make([]store.Record, 0, len(items))

	for i, item := range items {
		name := item.Metadata.Name

		collectedAt, err := normalize.Timestamp(item.Timestamp)
		if err != nil {
			return nil, h.reject(logger, err, "timestamp", i, name)
		}
		cpu, err := normalize.NanocoresToMillicores(item.Usage.CPU.String())
		if err != nil {
			return nil, h.reject(logger, err, "cpu", i, name)
		}
		memory, err := normalize.KibibytesToMebibytes(item.Usage.Memory.String())
		if err != nil {
			return nil, h.reject(logger, err, "memory", i, name)
		}

		records = append(records, store.Record{
			NodeName:        name,
			CPUMillicores:   cpu,
			MemoryMebibytes: memory,
			CollectedAt:     collectedAt,
		})
	}

	return records, nil
}

func (h *Handler) reject(logger logr.Logger, err error, field string, index int, node string) error {
	logger.Error(err, "Rejecting batch", "item", index, "node", node, "field", field)
	h.recorder.RecordRejectedSample(field)
	return err
}

func (h *Handler) fail(w http.ResponseWriter, code int, detail string) {
	h.recorder.RecordIngest(code, 0)
	writeJSON(w, code, errorResponse{Detail: detail})
}

func writeJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}
