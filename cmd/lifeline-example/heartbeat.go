// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/tombee/lifeline/pkg/daemon"
)

// heartbeat is the example worker.
type heartbeat struct {
	d           *daemon.Daemon
	every       time.Duration
	metricsAddr string

	beats atomic.Int64
}

// Run logs a beat every interval until ctx is cancelled.
func (h *heartbeat) Run(ctx context.Context) error {
	logger := h.d.Logger()

	if h.metricsAddr != "" {
		go h.serveMetrics(ctx, logger)
	}

	ticker := time.NewTicker(h.every)
	defer ticker.Stop()

	logger.Info("heartbeat started", "interval", h.every)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			logger.Info("heartbeat", "beat", h.beats.Add(1))
		}
	}
}

func (h *heartbeat) registry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		daemon.NewStatusCollector(h.d),
		collectors.NewGoCollector(),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: "lifeline_example",
			Name:      "heartbeats_total",
			Help:      "Heartbeats logged by this worker.",
		}, func() float64 { return float64(h.beats.Load()) }),
	)
	return reg
}

// serveMetrics exposes /metrics until ctx is cancelled. During a reload the
// outgoing worker still holds the port, so a busy address is retried.
func (h *heartbeat) serveMetrics(ctx context.Context, logger *slog.Logger) {
	ln, err := listenRetry(ctx, h.metricsAddr, 250*time.Millisecond)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			logger.Error("metrics listener failed", "addr", h.metricsAddr, "error", err)
		}
		return
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(h.registry(), promhttp.HandlerOpts{}))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("serving metrics", "addr", ln.Addr().String())
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("metrics server failed", "error", err)
	}
}

func listenRetry(ctx context.Context, addr string, every time.Duration) (net.Listener, error) {
	var lc net.ListenConfig
	for {
		ln, err := lc.Listen(ctx, "tcp", addr)
		if err == nil {
			return ln, nil
		}
		if !errors.Is(err, syscall.EADDRINUSE) {
			return nil, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(every):
		}
	}
}
