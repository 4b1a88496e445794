// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package viewer

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// requestsTotal counts handled requests.
	// Labels: handler, code (error code or "ok")
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "viewer",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "Handled viewer requests by handler and result code",
	}, []string{"handler", "code"})

	// ingestedBytes tracks the size of ingested scripts.
	ingestedBytes = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "viewer",
		Subsystem: "http",
		Name:      "ingested_bytes",
		Help:      "Size of ingested scripts",
		Buckets:   prometheus.ExponentialBuckets(1024, 4, 8),
	})

	// wsClients is the number of connected push clients.
	wsClients = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "viewer",
		Subsystem: "ws",
		Name:      "clients",
		Help:      "Connected push clients",
	})
)
