// Package server wires HTTP handlers into a ServeMux via routing helpers.
package server

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// SetupRoutes configures and returns an HTTP ServeMux with all application
// routes. Sessions started from /ws end when ctx is cancelled.
func SetupRoutes(ctx context.Context, registry *Registry, gatherer prometheus.Gatherer, logger *zap.Logger) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/", HealthHandler(registry))
	mux.HandleFunc("/ws", WebSocketHandler(ctx, registry, logger))
	mux.HandleFunc("/test", TestPageHandler(logger))
	if gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}
	return mux
}
