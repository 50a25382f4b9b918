/*
Copyright 2025.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package main

import (
	"context"
	"errors"
	"flag"
	"io/fs"
	"net/http"
	"os"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/log/zap"

	"github.com/mehdiazizian/node-metrics-pipeline/internal/config"
	"github.com/mehdiazizian/node-metrics-pipeline/internal/observability"
	"github.com/mehdiazizian/node-metrics-pipeline/internal/processor"
	"github.com/mehdiazizian/node-metrics-pipeline/internal/store"
)

var setupLog = ctrl.Log.WithName("setup")

func main() {
	var listenAddr string
	var metricsAddr string
	var envFile string

	flag.StringVar(&listenAddr, "listen-address", ":9376", "The address the ingestion endpoint binds to.")
	flag.StringVar(&metricsAddr, "metrics-bind-address", ":8080",
		"The address the Prometheus metrics endpoint binds to. Use 0 to disable it.")
	flag.StringVar(&envFile, "env-file", ".env", "Optional dotenv file loaded before reading the environment.")

	opts := zap.Options{
		Development: true,
	}
	opts.BindFlags(flag.CommandLine)
	flag.Parse()

	ctrl.SetLogger(zap.New(zap.UseFlagOptions(&opts)))

	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		setupLog.Error(err, "unable to load env file", "path", envFile)
		os.Exit(1)
	}

	cfg := config.Load(setupLog)

	// A missing database configuration is reported per request, not at startup.
	var st processor.MetricsStore
	closeStore := func() error { return nil }
	if err := cfg.Database.Validate(); err != nil {
		setupLog.Error(err, "database is not configured, ingestion requests will fail")
	} else {
		s, err := store.Open(cfg.Database)
		if err != nil {
			setupLog.Error(err, "unable to open database")
			os.Exit(1)
		}
		st, closeStore = s, s.Close
		setupLog.Info("Using database", "host", cfg.Database.Host, "port", cfg.Database.Port, "schema", s.Schema())
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	recorder := observability.NewRecorder(registry)

	handler := processor.NewHandler(cfg.Database, st, recorder, ctrl.Log)
	servers := []*processor.Server{}

	ingest, err := processor.NewServer("ingest", listenAddr, handler.Routes(), ctrl.Log)
	if err != nil {
		setupLog.Error(err, "unable to bind ingestion endpoint")
		os.Exit(1)
	}
	servers = append(servers, ingest)

	if metricsAddr != "0" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}))
		metricsSrv, err := processor.NewServer("metrics", metricsAddr, mux, ctrl.Log)
		if err != nil {
			setupLog.Error(err, "unable to bind metrics endpoint")
			os.Exit(1)
		}
		servers = append(servers, metricsSrv)
	}

	ctx := ctrl.SetupSignalHandler()
	g, gctx := errgroup.WithContext(ctx)
	for _, srv := range servers {
		g.Go(func() error {
			return srv.Run(gctx)
		})
	}

	setupLog.Info("starting processor")
	err = g.Wait()
	_ = closeStore()
	if err != nil && !errors.Is(err, context.Canceled) {
		setupLog.Error(err, "problem running processor")
		os.Exit(1)
	}
}
