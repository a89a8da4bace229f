// SPDX-License-Identifier: MIT

// Package metrics provides Prometheus metrics for the tunecache pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ResolveTotal counts cache resolutions by outcome
	// (hit, miss_started, miss_in_progress, miss_failed).
	ResolveTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tunecache_resolve_total",
		Help: "Total number of cache resolutions, by outcome.",
	}, []string{"outcome"})

	// JobsInFlight tracks currently running cache jobs.
	JobsInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tunecache_jobs_in_flight",
		Help: "Current number of running cache jobs.",
	})

	// JobTotal counts finished cache jobs by result (completed, failed).
	JobTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tunecache_job_total",
		Help: "Total number of finished cache jobs, by result.",
	}, []string{"result"})

	// OriginStartTotal counts origin fetch subprocess starts by result.
	OriginStartTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tunecache_origin_start_total",
		Help: "Total number of origin fetch process starts, by result.",
	}, []string{"result"})

	// EncoderStartTotal counts transcode subprocess starts by result.
	EncoderStartTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tunecache_encoder_start_total",
		Help: "Total number of encoder process starts, by result.",
	}, []string{"result"})

	// UploadBytesTotal counts bytes written durably to the object store.
	UploadBytesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tunecache_upload_bytes_total",
		Help: "Total number of encoded bytes written to the durable store.",
	})

	// LiveListenerDropTotal counts live stream listeners dropped for lagging.
	LiveListenerDropTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tunecache_live_listener_drop_total",
		Help: "Total number of live listeners dropped for exceeding the lag limit.",
	})
)
