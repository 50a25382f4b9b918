package processor_test

import (
	"context"
	"net/http"
	"time"

	"github.com/go-logr/logr"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/mehdiazizian/node-metrics-pipeline/internal/config"
	"github.com/mehdiazizian/node-metrics-pipeline/internal/processor"
)

var _ = Describe("Server", func() {
	It("should serve until the context is cancelled", func() {
		h := processor.NewHandler(config.Database{}, nil, nil, logr.Discard())
		srv, err := processor.NewServer("ingest", "127.0.0.1:0", h.Routes(), logr.Discard())
		Expect(err).ToNot(HaveOccurred())

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() { done <- srv.Run(ctx) }()

		Eventually(func() (int, error) {
			resp, err := http.Get("http://" + srv.Addr() + "/healthz")
			if err != nil {
				return 0, err
			}
			defer resp.Body.Close()
			return resp.StatusCode, nil
		}).WithTimeout(5 * time.Second).Should(Equal(http.StatusOK))

		cancel()
		Eventually(done).WithTimeout(10 * time.Second).Should(Receive(BeNil()))
	})

	It("should fail to bind an invalid address", func() {
		_, err := processor.NewServer("ingest", "not-an-address", http.NotFoundHandler(), logr.Discard())
		Expect(err).To(HaveOccurred())
	})
})
