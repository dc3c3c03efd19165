package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nainya/tismet/internal/tslog"
	"github.com/nainya/tismet/pkg/engine"
)

// runServeMetrics opens the engine and exposes its Prometheus
// collectors over HTTP until interrupted, the same graceful-shutdown
// shape as the teacher's cmd/treestore server loop, generalized from a
// gRPC listener to a metrics-scrape HTTP endpoint since this repo
// doesn't carry the teacher's RPC API (see DESIGN.md on the dropped
// grpc dependency).
func runServeMetrics(args []string) error {
	cf := newFlagSet("serve-metrics")
	addr := cf.fs.String("addr", ":9090", "listen address for /metrics")
	if err := cf.fs.Parse(args); err != nil {
		return err
	}
	cfg, err := cf.engineConfig()
	if err != nil {
		return err
	}

	tslog.InitGlobal(tslog.Config{Level: "info", Pretty: true})
	log := tslog.Global()

	reg := prometheus.NewRegistry()
	eng, err := engine.Open(cfg, reg, log)
	if err != nil {
		return fmt.Errorf("open: %w", err)
	}
	defer eng.Close()

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	srv := &http.Server{Addr: *addr, Handler: mux}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info("shutting down serve-metrics").Send()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}()

	log.Info("serving metrics").Str("addr", *addr).Send()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("serve: %w", err)
	}
	return nil
}
