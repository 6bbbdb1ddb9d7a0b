// Package metrics exposes Shepherd's runtime counters as Prometheus
// collectors. Names follow the teacher's stats/*.go convention
// (counter, latency, size) translated into Prometheus's underscore
// naming instead of the teacher's dotted strings, and are registered
// against a private registry so a debug endpoint can scrape them
// without pulling in the default global registry's process/go runtime
// noise unless the caller explicitly wants it.
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package metrics

import "github.com/prometheus/client_golang/prometheus"

const namespace = "shepherd"

// Collectors groups every metric Shepherd's components increment. One
// instance is created per daemon and threaded through to whichever
// package needs to record against it.
type Collectors struct {
	Registry *prometheus.Registry

	// Reaper outcomes (spec §4.4's five-way classification, folded to
	// the four terminal kinds the record stage sees): "*.n" equivalent.
	ReapCount *prometheus.CounterVec // label "outcome": ok|temp|perm|error
	ReapSize  prometheus.Counter     // bytes written to the bucket store

	// Cycle/phase timing: "*.ns" equivalent, exposed as seconds per
	// Prometheus convention rather than the teacher's nanoseconds.
	PhaseDuration *prometheus.HistogramVec // label "phase"

	// Bucket store occupancy, sampled by the disk watchdog.
	BucketFileSize prometheus.Gauge
	BucketFreeDisk prometheus.Gauge

	// Control protocol.
	ControlConns    prometheus.Gauge
	ControlCommands *prometheus.CounterVec // label "cmd"

	// URL database.
	URLDBLookups *prometheus.CounterVec // label "hit"|"miss"
}

// New creates and registers a fresh Collectors against its own
// registry.
func New() *Collectors {
	reg := prometheus.NewRegistry()
	c := &Collectors{
		Registry: reg,
		ReapCount: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "reap", Name: "total",
			Help: "Reaper fetch outcomes by classification.",
		}, []string{"outcome"}),
		ReapSize: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "reap", Name: "bytes_total",
			Help: "Bytes written to the bucket store by the reaper.",
		}),
		PhaseDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "cycle", Name: "phase_duration_seconds",
			Help:    "Wall time spent in each cycle phase.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 16),
		}, []string{"phase"}),
		BucketFileSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "bucket", Name: "file_size_bytes",
			Help: "Current size of the bucket store file.",
		}),
		BucketFreeDisk: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "bucket", Name: "free_disk_bytes",
			Help: "Free bytes on the bucket store's filesystem, per the disk watchdog.",
		}),
		ControlConns: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "control", Name: "connections",
			Help: "Currently open control-protocol connections.",
		}),
		ControlCommands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "control", Name: "commands_total",
			Help: "Control-protocol commands received, by command name.",
		}, []string{"cmd"}),
		URLDBLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "urldb", Name: "lookups_total",
			Help: "Sorted-derivative lookups, by hit/miss.",
		}, []string{"hit"}),
	}
	reg.MustRegister(
		c.ReapCount, c.ReapSize, c.PhaseDuration, c.BucketFileSize, c.BucketFreeDisk,
		c.ControlConns, c.ControlCommands, c.URLDBLookups,
	)
	return c
}
