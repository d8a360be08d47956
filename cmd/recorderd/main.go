// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/facebookincubator/below-sub000/internal/recorder"
	"github.com/facebookincubator/below-sub000/pkg/exitstat"
	"github.com/facebookincubator/below-sub000/pkg/sample"
	"github.com/facebookincubator/below-sub000/pkg/store"
)

var (
	storeDir    = flag.String("store-dir", "/var/lib/below", "Directory the recorder appends shard pairs to")
	procPath    = flag.String("proc-path", "/proc", "Path to proc filesystem")
	sysPath     = flag.String("sys-path", "/sys", "Path to sys filesystem")
	devPath     = flag.String("dev-path", "/dev", "Path to dev filesystem")
	cgroupRoot  = flag.String("cgroup-root", "/sys/fs/cgroup", "Path to the cgroup v2 hierarchy root")
	interval    = flag.Duration("interval", 5*time.Second, "Sampling interval")
	wireFormat  = flag.String("wire-format", "cbor", "Per-entry wire format: cbor or legacy")
	compression = flag.Bool("compress", true, "zstd-compress each written entry")
	enableGPU   = flag.Bool("enable-gpu", false, "Set the sampler's GPU gate (no GPU collector is registered, so no GPU data is sampled)")
	enableExit  = flag.Bool("enable-exitstat", false, "Attach the eBPF exit-stat tracker (requires root and a compiled BPF object)")
	exitBPFPath = flag.String("exitstat-bpf-path", "", "Path to the compiled exitstat BPF object (see ANTIMETAL_BPF_PATH)")
	metricsAddr = flag.String("metrics-bind-address", ":8080", "Address the Prometheus metrics endpoint binds to; 0 disables it")
	verbose     = flag.Bool("verbose", false, "Enable verbose (development) logging")
)

func main() {
	flag.Parse()

	logger := newLogger(*verbose)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	go func() {
		// Once the first signal arrives, restore default handling so a
		// second SIGINT/SIGTERM during shutdown terminates the process.
		<-ctx.Done()
		cancel()
	}()

	if err := run(ctx, logger); err != nil {
		logger.Error(err, "recorderd exited with error")
		os.Exit(1)
	}
}

func newLogger(verbose bool) logr.Logger {
	if verbose {
		zapLog, _ := zap.NewDevelopment()
		return zapr.NewLogger(zapLog)
	}
	zapLog, _ := zap.NewProduction()
	return zapr.NewLogger(zapLog)
}

func run(ctx context.Context, logger logr.Logger) error {
	format, err := parseWireFormat(*wireFormat)
	if err != nil {
		return err
	}
	comp := store.CompressionNone
	if *compression {
		comp = store.CompressionZstd
	}

	reg := prometheus.NewRegistry()
	stopMetrics := startMetricsServer(logger, reg, *metricsAddr)
	defer stopMetrics()

	var exited sample.ExitedPidSource
	if *enableExit {
		tracker := exitstat.New(logger, *exitBPFPath)
		if err := tracker.Start(ctx); err != nil {
			return fmt.Errorf("recorderd: starting exit-stat tracker: %w", err)
		}
		defer tracker.Stop()
		exited = tracker
	}

	config := sample.Config{
		HostProcPath:   *procPath,
		HostSysPath:    *sysPath,
		HostDevPath:    *devPath,
		CgroupRootPath: *cgroupRoot,
		EnableGPU:      *enableGPU,
	}
	sampler, err := sample.NewSampler(logger, config, exited)
	if err != nil {
		return fmt.Errorf("recorderd: constructing sampler: %w", err)
	}

	writer, err := store.Open(logger, *storeDir, comp, format, time.Now())
	if err != nil {
		return fmt.Errorf("recorderd: opening store: %w", err)
	}
	defer writer.Close()

	rec := recorder.New(logger, sampler, writer, *interval, reg)

	logger.Info("recorderd starting", "storeDir", *storeDir, "interval", *interval, "wireFormat", *wireFormat, "compress", *compression)
	err = rec.Run(ctx)
	if err != nil && err != context.Canceled {
		return err
	}
	return nil
}

func parseWireFormat(s string) (store.WireFormat, error) {
	switch s {
	case "cbor":
		return store.FormatCBOR, nil
	case "legacy":
		return store.FormatLegacy, nil
	default:
		return 0, fmt.Errorf("recorderd: unknown wire format %q (want cbor or legacy)", s)
	}
}

// startMetricsServer serves reg on addr and returns a func that shuts
// the server down; addr "0" disables the server entirely, matching the
// teacher's "set to 0 to disable" convention for its bind-address flags.
func startMetricsServer(logger logr.Logger, reg *prometheus.Registry, addr string) func() {
	if addr == "0" {
		return func() {}
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error(err, "metrics server failed")
		}
	}()

	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}
}
