// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package narration

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	eventsDelivered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "copilot",
			Subsystem: "narration",
			Name:      "events_delivered_total",
			Help:      "Narration events delivered to subscriber channels.",
		},
		[]string{"type"},
	)

	eventsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "copilot",
			Subsystem: "narration",
			Name:      "events_dropped_total",
			Help:      "Narration events dropped because a subscriber buffer was full.",
		},
		[]string{"type"},
	)
)

func recordDelivered(eventType string) {
	eventsDelivered.WithLabelValues(eventType).Inc()
}

func recordDropped(eventType string) {
	eventsDropped.WithLabelValues(eventType).Inc()
}
