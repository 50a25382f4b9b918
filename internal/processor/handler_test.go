package processor_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"

	"github.com/go-logr/logr"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/mehdiazizian/node-metrics-pipeline/internal/config"
	"github.com/mehdiazizian/node-metrics-pipeline/internal/observability"
	"github.com/mehdiazizian/node-metrics-pipeline/internal/processor"
	"github.com/mehdiazizian/node-metrics-pipeline/internal/store"
)

type fakeStore struct {
	mu      sync.Mutex
	err     error
	batches [][]store.Record
}

func (s *fakeStore) InsertNodeMetrics(_ context.Context, records []store.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, records)
	return s.err
}

func (s *fakeStore) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.batches)
}

var validDatabase = config.Database{
	Host:     "mysql.default.svc",
	Port:     "3306",
	User:     "metrics",
	Password: "secret",
	Name:     "nodes",
}

func item(name, timestamp string, cpu, memory any) map[string]any {
	return map[string]any{
		"metadata":  map[string]any{"name": name},
		"timestamp": timestamp,
		"window":    "20s",
		"usage":     map[string]any{"cpu": cpu, "memory": memory},
	}
}

func snapshotBody(items ...map[string]any) string {
	if items == nil {
		items = []map[string]any{}
	}
	body, err := json.Marshal(map[string]any{
		"kind":       "NodeMetricsList",
		"apiVersion": "metrics.k8s.io/v1beta1",
		"metadata":   map[string]any{},
		"items":      items,
	})
	Expect(err).ToNot(HaveOccurred())
	return string(body)
}

func post(h http.Handler, body string) (*httptest.ResponseRecorder, map[string]string) {
	req := httptest.NewRequest(http.MethodPost, processor.IngestPath, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	decoded := map[string]string{}
	Expect(json.Unmarshal(rec.Body.Bytes(), &decoded)).To(Succeed())
	return rec, decoded
}

var _ = Describe("Ingestion Endpoint", func() {
	var (
		fake     *fakeStore
		registry *prometheus.Registry
		routes   http.Handler
	)

	BeforeEach(func() {
		fake = &fakeStore{}
		registry = prometheus.NewRegistry()
		routes = processor.NewHandler(validDatabase, fake, observability.NewRecorder(registry), logr.Discard()).Routes()
	})

	Context("with a valid snapshot", func() {
		It("should persist one row per node in a single batch", func() {
			rec, body := post(routes, snapshotBody(
				item("node1", "2025-12-24T10:57:07Z", "250000000n", "2048Ki"),
				item("node2", "2025-12-24T10:57:08.123456Z", 5000000, 1024),
				item("node3", "2025-12-24T10:57:09Z", "1000000", "512"),
			))

			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(body).To(HaveKeyWithValue("message", "Got the node metrics"))
			Expect(fake.calls()).To(Equal(1))
			Expect(fake.batches[0]).To(Equal([]store.Record{
				{NodeName: "node1", CPUMillicores: 250, MemoryMebibytes: 2, CollectedAt: "2025-12-24 10:57:07"},
				{NodeName: "node2", CPUMillicores: 5, MemoryMebibytes: 1, CollectedAt: "2025-12-24 10:57:08"},
				{NodeName: "node3", CPUMillicores: 1, MemoryMebibytes: 0.5, CollectedAt: "2025-12-24 10:57:09"},
			}))
		})

		It("should keep node names with quote characters intact", func() {
			rec, _ := post(routes, snapshotBody(item("o'brien-\"1\"", "2025-12-24T10:57:07Z", "1000000n", "1024Ki")))

			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(fake.batches[0][0].NodeName).To(Equal("o'brien-\"1\""))
		})

		It("should succeed without touching the store when there are no items", func() {
			rec, body := post(routes, snapshotBody())

			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(body).To(HaveKeyWithValue("message", "Got the node metrics"))
			Expect(fake.calls()).To(BeZero())
		})
	})

	Context("with invalid input", func() {
		It("should reject the whole batch when one timestamp is malformed", func() {
			rec, body := post(routes, snapshotBody(
				item("node1", "2025-12-24T10:57:07Z", "1000000n", "1024Ki"),
				item("node2", "yesterday", "1000000n", "1024Ki"),
				item("node3", "2025-12-24T10:57:09Z", "1000000n", "1024Ki"),
			))

			Expect(rec.Code).To(Equal(http.StatusBadRequest))
			Expect(body["detail"]).To(Equal("Invalid timestamp format: yesterday"))
			Expect(fake.calls()).To(BeZero())
		})

		It("should reject the whole batch when one usage value cannot be parsed", func() {
			rec, body := post(routes, snapshotBody(
				item("node1", "2025-12-24T10:57:07Z", "1000000n", "1024Ki"),
				item("node2", "2025-12-24T10:57:08Z", "lots", "1024Ki"),
			))

			Expect(rec.Code).To(Equal(http.StatusBadRequest))
			Expect(body["detail"]).To(ContainSubstring(`"lots"`))
			Expect(fake.calls()).To(BeZero())
		})

		DescribeTable("should name the offending usage value and persist nothing",
			func(cpu, memory any, field, raw string) {
				rec, body := post(routes, snapshotBody(
					item("node1", "2025-12-24T10:57:07Z", "1000000n", "1024Ki"),
					item("node2", "2025-12-24T10:57:08Z", cpu, memory),
				))

				Expect(rec.Code).To(Equal(http.StatusBadRequest))
				Expect(body["detail"]).To(ContainSubstring(field))
				Expect(body["detail"]).To(ContainSubstring(raw))
				Expect(fake.calls()).To(BeZero())

				expected := fmt.Sprintf(`
# HELP node_metrics_samples_rejected_total Number of node samples whose field could not be normalized, failing their batch
# TYPE node_metrics_samples_rejected_total counter
node_metrics_samples_rejected_total{field=%q} 1
`, field)
				Expect(testutil.GatherAndCompare(registry, strings.NewReader(expected), "node_metrics_samples_rejected_total")).To(Succeed())
			},
			Entry("cpu in millicores", "250m", "1024Ki", "cpu", "250m"),
			Entry("fractional cpu", 1.5, "1024Ki", "cpu", "1.5"),
			Entry("memory in mebibytes", "1000000n", "1024Mi", "memory", "1024Mi"),
		)

		DescribeTable("should answer 422 when required fields are missing",
			func(body, field string) {
				rec, decoded := post(routes, body)

				Expect(rec.Code).To(Equal(http.StatusUnprocessableEntity))
				Expect(decoded["detail"]).To(ContainSubstring(field))
				Expect(fake.calls()).To(BeZero())
			},
			Entry("empty object", `{}`, "items"),
			Entry("no kind", `{"apiVersion":"metrics.k8s.io/v1beta1","items":[]}`, "kind"),
			Entry("item without timestamp",
				`{"kind":"NodeMetricsList","apiVersion":"metrics.k8s.io/v1beta1","items":[{"metadata":{"name":"node1"},"window":"20s","usage":{"cpu":"1n","memory":"1Ki"}}]}`,
				"items[0].timestamp"),
			Entry("item without usage",
				`{"kind":"NodeMetricsList","apiVersion":"metrics.k8s.io/v1beta1","items":[{"metadata":{"name":"node1"},"timestamp":"2025-12-24T10:57:07Z","window":"20s"}]}`,
				"items[0].usage"),
			Entry("item without node name", snapshotBody(item("", "2025-12-24T10:57:07Z", "1n", "1Ki")), "items[0].metadata.name"),
		)

		It("should answer 422 for a malformed body", func() {
			rec, body := post(routes, `{"items": [`)

			Expect(rec.Code).To(Equal(http.StatusUnprocessableEntity))
			Expect(body["detail"]).To(ContainSubstring("Invalid request body"))
			Expect(fake.calls()).To(BeZero())
		})

		It("should not serve other methods", func() {
			rec := httptest.NewRecorder()
			routes.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, processor.IngestPath, nil))

			Expect(rec.Code).To(Equal(http.StatusMethodNotAllowed))
			Expect(fake.calls()).To(BeZero())
		})
	})

	Context("with an incomplete database configuration", func() {
		DescribeTable("should fail fast without a store call",
			func(clear func(*config.Database), missing string) {
				db := validDatabase
				clear(&db)
				h := processor.NewHandler(db, fake, nil, logr.Discard()).Routes()

				rec, body := post(h, snapshotBody(item("node1", "2025-12-24T10:57:07Z", "1n", "1Ki")))

				Expect(rec.Code).To(Equal(http.StatusInternalServerError))
				Expect(body["detail"]).To(ContainSubstring(missing))
				Expect(fake.calls()).To(BeZero())
			},
			Entry("host", func(d *config.Database) { d.Host = "" }, "DB_HOST"),
			Entry("port", func(d *config.Database) { d.Port = "" }, "DB_PORT"),
			Entry("user", func(d *config.Database) { d.User = "" }, "DB_USER"),
			Entry("password", func(d *config.Database) { d.Password = "" }, "DB_PASSWORD"),
		)
	})

	Context("when the store fails", func() {
		It("should answer 503 when the database cannot be reached", func() {
			fake.err = fmt.Errorf("%w: dial tcp 10.0.0.1:3306: connect: connection refused", store.ErrUnavailable)

			rec, body := post(routes, snapshotBody(item("node1", "2025-12-24T10:57:07Z", "1n", "1Ki")))

			Expect(rec.Code).To(Equal(http.StatusServiceUnavailable))
			Expect(body["detail"]).To(ContainSubstring("connection refused"))
		})

		It("should answer 500 with the underlying detail on execution failure", func() {
			fake.err = errors.New("Table 'nodes.node_metrics' doesn't exist")

			rec, body := post(routes, snapshotBody(item("node1", "2025-12-24T10:57:07Z", "1n", "1Ki")))

			Expect(rec.Code).To(Equal(http.StatusInternalServerError))
			Expect(body["detail"]).To(Equal("Error inserting data: Table 'nodes.node_metrics' doesn't exist"))

			expected := `
# HELP node_metrics_ingest_requests_total Number of ingestion requests handled by the processor, by status code
# TYPE node_metrics_ingest_requests_total counter
node_metrics_ingest_requests_total{code="500"} 1
`
			Expect(testutil.GatherAndCompare(registry, strings.NewReader(expected), "node_metrics_ingest_requests_total")).To(Succeed())
		})
	})

	It("should answer 503 when built without a store", func() {
		h := processor.NewHandler(validDatabase, nil, nil, logr.Discard()).Routes()

		rec, _ := post(h, snapshotBody(item("node1", "2025-12-24T10:57:07Z", "1n", "1Ki")))

		Expect(rec.Code).To(Equal(http.StatusServiceUnavailable))
	})

	It("should report liveness", func() {
		rec := httptest.NewRecorder()
		routes.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

		Expect(rec.Code).To(Equal(http.StatusOK))
	})
})
