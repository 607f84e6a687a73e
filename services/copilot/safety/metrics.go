// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package safety

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/AleutianAI/BioCopilot/services/copilot/protocol"
)

// =============================================================================
// Prometheus Metrics for Safety Classification
// =============================================================================

var (
	// classificationsTotal counts classifications by tool and tier.
	// Labels: tool, tier (GREEN, YELLOW, RED)
	classificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "copilot",
		Subsystem: "safety",
		Name:      "classifications_total",
		Help:      "Total safety classifications by tool and tier",
	}, []string{"tool", "tier"})

	// coercionsTotal counts malformed action responses that were coerced
	// to the conservative default instead of crashing rendering.
	// Labels: tool
	coercionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "copilot",
		Subsystem: "safety",
		Name:      "coercions_total",
		Help:      "Total malformed actions coerced to the conservative tier",
	}, []string{"tool"})
)

// RecordClassification records one classification outcome.
func RecordClassification(tool string, tier protocol.SafetyTier) {
	classificationsTotal.WithLabelValues(metricTool(tool), string(tier)).Inc()
}

// RecordCoercion records one malformed-action coercion.
func RecordCoercion(tool string) {
	coercionsTotal.WithLabelValues(metricTool(tool)).Inc()
}

// metricTool keeps label cardinality bounded for tool-less responses.
func metricTool(tool string) string {
	if tool == "" {
		return "none"
	}
	return tool
}
