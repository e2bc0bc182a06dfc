// SPDX-License-Identifier: MIT

// Package metrics exposes Prometheus collectors for the pipeline and the
// HTTP surface.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PhaseDuration observes how long each pipeline phase takes.
	PhaseDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "anypod",
		Subsystem: "pipeline",
		Name:      "phase_duration_seconds",
		Help:      "Duration of pipeline phases.",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 14),
	}, []string{"phase"})

	// PhaseFailures counts failed phase runs.
	PhaseFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "anypod",
		Subsystem: "pipeline",
		Name:      "phase_failures_total",
		Help:      "Failed pipeline phase runs.",
	}, []string{"phase"})

	// FeedRuns counts completed per-feed pipeline runs by outcome.
	FeedRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "anypod",
		Subsystem: "pipeline",
		Name:      "feed_runs_total",
		Help:      "Completed per-feed pipeline runs.",
	}, []string{"result"})

	// DownloadsCompleted counts finished media downloads by outcome.
	DownloadsCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "anypod",
		Subsystem: "downloader",
		Name:      "downloads_total",
		Help:      "Media downloads by outcome.",
	}, []string{"result"})

	// FeedsRunning gauges feeds currently inside the pipeline.
	FeedsRunning = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "anypod",
		Subsystem: "pipeline",
		Name:      "feeds_running",
		Help:      "Feeds currently being processed.",
	})

	// HTTPRequests counts served requests by route and status class.
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "anypod",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "HTTP requests by route and status class.",
	}, []string{"route", "status"})

	// FileRequestsDenied counts refused file requests by reason.
	FileRequestsDenied = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "anypod",
		Subsystem: "http",
		Name:      "file_requests_denied_total",
		Help:      "Denied file requests by reason.",
	}, []string{"reason"})
)
