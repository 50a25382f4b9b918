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
	"crypto/tls"
	"flag"
	"os"
	"time"

	"k8s.io/apimachinery/pkg/runtime"
	utilruntime "k8s.io/apimachinery/pkg/util/runtime"
	"k8s.io/client-go/dynamic"
	clientgoscheme "k8s.io/client-go/kubernetes/scheme"
	// Import all Kubernetes client auth plugins (e.g. Azure, GCP, OIDC, etc.)
	// to ensure that exec-entrypoint and run can make use of them.
	_ "k8s.io/client-go/plugin/pkg/client/auth"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/healthz"
	"sigs.k8s.io/controller-runtime/pkg/log/zap"
	ctrlmetrics "sigs.k8s.io/controller-runtime/pkg/metrics"
	"sigs.k8s.io/controller-runtime/pkg/metrics/filters"
	metricsserver "sigs.k8s.io/controller-runtime/pkg/metrics/server"

	"github.com/mehdiazizian/node-metrics-pipeline/internal/config"
	"github.com/mehdiazizian/node-metrics-pipeline/internal/metrics"
	"github.com/mehdiazizian/node-metrics-pipeline/internal/observability"
	"github.com/mehdiazizian/node-metrics-pipeline/internal/publisher"
	transporthttp "github.com/mehdiazizian/node-metrics-pipeline/internal/transport/http"
)

var (
	scheme   = runtime.NewScheme()
	setupLog = ctrl.Log.WithName("setup")
)

func init() {
	utilruntime.Must(clientgoscheme.AddToScheme(scheme))
}

func main() {
	var metricsAddr string
	var probeAddr string
	var enableLeaderElection bool
	var secureMetrics bool
	var enableHTTP2 bool
	var tlsOpts []func(*tls.Config)

	flag.StringVar(&metricsAddr, "metrics-bind-address", "0", "The address the metrics endpoint binds to. "+
		"Use :8443 for HTTPS or :8080 for HTTP, or leave as 0 to disable the metrics service.")
	flag.StringVar(&probeAddr, "health-probe-bind-address", ":8081", "The address the probe endpoint binds to.")
	flag.BoolVar(&enableLeaderElection, "leader-elect", false,
		"Enable leader election for the collector. "+
			"Enabling this will ensure only one replica polls the metrics API.")
	flag.BoolVar(&secureMetrics, "metrics-secure", false,
		"If set, the metrics endpoint is served securely via HTTPS.")
	flag.BoolVar(&enableHTTP2, "enable-http2", false,
		"If set, HTTP/2 will be enabled for the metrics server")

	opts := zap.Options{
		Development: true,
	}
	opts.BindFlags(flag.CommandLine)
	flag.Parse()

	ctrl.SetLogger(zap.New(zap.UseFlagOptions(&opts)))

	cfg := config.Load(setupLog)
	deployment := cfg.Deployment
	setupLog.Info("Resolved configuration",
		"deployment", deployment.Name(),
		"processor", deployment.BaseURL(),
		"interval", cfg.MetricsResolution)

	restConfig, err := deployment.CredentialSource()
	if err != nil {
		setupLog.Error(err, "unable to load cluster credentials", "deployment", deployment.Name())
		os.Exit(1)
	}

	// http/2 stays off unless asked for, see GHSA-qppj-fm5r-hxr3 and GHSA-4374-p667-p6c8.
	if !enableHTTP2 {
		tlsOpts = append(tlsOpts, func(c *tls.Config) {
			setupLog.Info("disabling http/2")
			c.NextProtos = []string{"http/1.1"}
		})
	}

	metricsServerOptions := metricsserver.Options{
		BindAddress:   metricsAddr,
		SecureServing: secureMetrics,
		TLSOpts:       tlsOpts,
	}
	if secureMetrics {
		metricsServerOptions.FilterProvider = filters.WithAuthenticationAndAuthorization
	}

	mgr, err := ctrl.NewManager(restConfig, ctrl.Options{
		Scheme:                 scheme,
		Metrics:                metricsServerOptions,
		HealthProbeBindAddress: probeAddr,
		LeaderElection:         enableLeaderElection,
		LeaderElectionID:       "node-metrics-collector.custom-metrics-collection",
	})
	if err != nil {
		setupLog.Error(err, "unable to start manager")
		os.Exit(1)
	}

	dynamicClient, err := dynamic.NewForConfig(restConfig)
	if err != nil {
		setupLog.Error(err, "unable to create dynamic client")
		os.Exit(1)
	}

	communicator, err := transporthttp.NewHTTPCommunicator(deployment.BaseURL(), transporthttp.DefaultTimeout)
	if err != nil {
		setupLog.Error(err, "unable to create processor communicator")
		os.Exit(1)
	}

	pingCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	if err := communicator.Ping(pingCtx); err != nil {
		setupLog.Info("Processor not reachable yet, snapshots are dropped until it is",
			"endpoint", communicator.Endpoint(), "error", err.Error())
	}
	cancel()

	recorder := observability.NewRecorder(ctrlmetrics.Registry)
	scheduler := publisher.NewScheduler(
		metrics.NewCollector(dynamicClient),
		publisher.NewForwarder(communicator, recorder),
		cfg.MetricsResolution,
		recorder,
	)
	if err := mgr.Add(scheduler); err != nil {
		setupLog.Error(err, "unable to add scheduler to manager")
		os.Exit(1)
	}

	if err := mgr.AddHealthzCheck("healthz", healthz.Ping); err != nil {
		setupLog.Error(err, "unable to set up health check")
		os.Exit(1)
	}
	if err := mgr.AddReadyzCheck("readyz", healthz.Ping); err != nil {
		setupLog.Error(err, "unable to set up ready check")
		os.Exit(1)
	}

	setupLog.Info("starting manager")
	err = mgr.Start(ctrl.SetupSignalHandler())
	_ = communicator.Close()
	if err != nil {
		setupLog.Error(err, "problem running manager")
		os.Exit(1)
	}
}
