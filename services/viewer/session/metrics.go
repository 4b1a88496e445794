// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package session

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// Prometheus Metrics for Loads
// =============================================================================

var (
	// loadsTotal counts loads by outcome.
	// Labels: outcome (applied, stale, failed)
	loadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "viewer",
		Subsystem: "session",
		Name:      "loads_total",
		Help:      "Total loads by outcome",
	}, []string{"outcome"})

	// phaseSeconds measures each pipeline phase.
	// Labels: phase (beautify, decode, graph, reach, project, total)
	phaseSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "viewer",
		Subsystem: "session",
		Name:      "phase_seconds",
		Help:      "Pipeline phase duration",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
	}, []string{"phase"})

	// degradationsTotal counts degraded steps.
	// Labels: kind (reformat, decode, graph, no_focus)
	degradationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "viewer",
		Subsystem: "session",
		Name:      "degradations_total",
		Help:      "Degraded pipeline steps by kind",
	}, []string{"kind"})

	// decodeSegments tracks the size of decoded position maps.
	decodeSegments = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "viewer",
		Subsystem: "session",
		Name:      "decode_segments",
		Help:      "Segments per decoded position map",
		Buckets:   prometheus.ExponentialBuckets(16, 4, 8),
	})
)

func observePhase(phase string, d time.Duration) {
	phaseSeconds.WithLabelValues(phase).Observe(d.Seconds())
}

func recordOutcome(outcome string) {
	loadsTotal.WithLabelValues(outcome).Inc()
}
