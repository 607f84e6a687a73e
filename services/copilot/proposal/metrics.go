// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package proposal

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	proposalsIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "copilot",
			Subsystem: "proposal",
			Name:      "ingested_total",
			Help:      "Proposals admitted to a transcript as PENDING cards.",
		},
		[]string{"tool", "tier"},
	)

	proposalsDeduplicated = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "copilot",
			Subsystem: "proposal",
			Name:      "deduplicated_total",
			Help:      "Duplicate proposal deliveries dropped on ingest.",
		},
	)

	proposalsSuperseded = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "copilot",
			Subsystem: "proposal",
			Name:      "superseded_total",
			Help:      "PENDING proposals auto-rejected because a newer one arrived.",
		},
	)

	proposalsResolved = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "copilot",
			Subsystem: "proposal",
			Name:      "resolved_total",
			Help:      "Terminal proposal decisions by status.",
		},
		[]string{"tool", "status"},
	)

	redZoneRefusals = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "copilot",
			Subsystem: "proposal",
			Name:      "red_refusals_total",
			Help:      "Approval attempts refused because the proposal is RED tier.",
		},
		[]string{"tool"},
	)

	proposalsExpired = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "copilot",
			Subsystem: "proposal",
			Name:      "expired_total",
			Help:      "PENDING proposals rejected by the TTL sweep.",
		},
	)

	resolutionFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "copilot",
			Subsystem: "proposal",
			Name:      "resolution_failures_total",
			Help:      "Backend errors while carrying out a recorded decision.",
		},
		[]string{"tool"},
	)

	pendingAge = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "copilot",
			Subsystem: "proposal",
			Name:      "pending_age_seconds",
			Help:      "Seconds a proposal sat PENDING before a terminal decision.",
			Buckets:   []float64{1, 5, 15, 60, 300, 900, 3600},
		},
	)
)
