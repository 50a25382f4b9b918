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
	"os"
	"time"

	"github.com/joho/godotenv"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/log"
	"sigs.k8s.io/controller-runtime/pkg/log/zap"

	"github.com/mehdiazizian/node-metrics-pipeline/internal/config"
	"github.com/mehdiazizian/node-metrics-pipeline/internal/store"
)

var setupLog = ctrl.Log.WithName("setup")

func main() {
	var envFile string
	var sweepNow bool
	var skipSchema bool
	var timeout time.Duration

	flag.StringVar(&envFile, "env-file", ".env", "Optional dotenv file loaded before reading the environment.")
	flag.BoolVar(&sweepNow, "sweep-now", false, "Delete expired rows once after installing the retention event.")
	flag.BoolVar(&skipSchema, "skip-schema", false, "Do not create the schema and the node_metrics table.")
	flag.DurationVar(&timeout, "timeout", 30*time.Second, "Overall timeout for the setup.")

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
	st, err := store.Open(cfg.Database)
	if err != nil {
		setupLog.Error(err, "unable to open database")
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(ctrl.SetupSignalHandler(), timeout)
	ctx = log.IntoContext(ctx, ctrl.Log)
	err = run(ctx, st, skipSchema, sweepNow)
	cancel()
	_ = st.Close()
	if err != nil {
		setupLog.Error(err, "retention setup failed")
		os.Exit(1)
	}
}

func run(ctx context.Context, st *store.Store, skipSchema, sweepNow bool) error {
	if !skipSchema {
		if err := st.EnsureSchema(ctx); err != nil {
			return err
		}
	}

	policy := store.DefaultRetentionPolicy()
	status, err := st.SetupRetention(ctx, policy)
	if err != nil {
		return err
	}
	setupLog.Info("Retention event ready",
		"event", policy.EventName,
		"status", status,
		"interval", policy.Interval,
		"window", policy.Window)

	if sweepNow {
		deleted, err := st.SweepExpired(ctx, policy)
		if err != nil {
			return err
		}
		setupLog.Info("Expired rows deleted", "rows", deleted)
	}
	return nil
}
