package handlers

// metrics.go wires the metrics.Recorder's private Prometheus registry up to GET /metrics
// via promhttp, per SPEC_FULL.md §6's expansion.

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/previewd/previewd/metrics"
)

// NewMetricsHandler returns an http.Handler serving recorder's collectors in the
// Prometheus exposition format.
func NewMetricsHandler(recorder *metrics.Recorder) http.Handler {
	return promhttp.HandlerFor(recorder.Registry, promhttp.HandlerOpts{})
}
