// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package safety implements the fixed arbitration policy mapping agent
// action descriptors to safety tiers. The policy is deterministic,
// side-effect-free, and evaluated before any mutation occurs:
//
//   - GREEN: read-only or strictly local-view. Auto-executed.
//   - YELLOW: mutates shared analysis state or triggers non-trivial
//     computation. Requires an explicit approve/reject decision.
//   - RED: irreversible, exports data externally, or names a tool outside
//     the whitelist. Only rejection is offered.
//
// An action with no tier and kind PROPOSED is treated as YELLOW (fail
// conservative, never fail open to GREEN).
//
// Thread Safety:
//
//	All exported types are safe for concurrent use. Registries are
//	read-only after construction; the classifier replaces its registry
//	atomically when tier overrides reload.
package safety

import (
	"fmt"
	"sync/atomic"

	"github.com/AleutianAI/BioCopilot/services/copilot/protocol"
)

// ToolDefinition describes one whitelisted tool the agent may invoke.
type ToolDefinition struct {
	// Name is the wire identifier the backend uses in tool calls.
	Name string

	// Label is the human-readable label shown on proposal cards.
	Label string

	// Tier is the fixed classification for this tool.
	Tier protocol.SafetyTier
}

// Registry is the recognized-tool whitelist with per-tool tiers.
//
// Thread Safety: Safe for concurrent use (read-only after construction).
type Registry struct {
	byName map[string]ToolDefinition
	order  []string
}

// NewRegistry builds a registry from tool definitions. Later definitions
// with a duplicate name overwrite earlier ones.
func NewRegistry(defs ...ToolDefinition) *Registry {
	r := &Registry{byName: make(map[string]ToolDefinition, len(defs))}
	for _, d := range defs {
		if _, seen := r.byName[d.Name]; !seen {
			r.order = append(r.order, d.Name)
		}
		r.byName[d.Name] = d
	}
	return r
}

// DefaultRegistry returns the copilot tool whitelist.
//
// Description:
//
//	Read-only visualization and lookup tools are GREEN. Enrichment and
//	threshold changes mutate shared analysis state and are YELLOW. Data
//	export leaves the workspace and is RED; so is any unregistered tool.
func DefaultRegistry() *Registry {
	return NewRegistry(
		ToolDefinition{Name: "render_pathway", Label: "Pathway Visualization", Tier: protocol.TierGreen},
		ToolDefinition{Name: "get_pathway_stats", Label: "Pathway Statistics", Tier: protocol.TierGreen},
		ToolDefinition{Name: "list_pathways", Label: "Pathway Portfolio", Tier: protocol.TierGreen},
		ToolDefinition{Name: "explain_pathway", Label: "Pathway Explainer", Tier: protocol.TierGreen},
		ToolDefinition{Name: "run_enrichment", Label: "Enrichment Analysis", Tier: protocol.TierYellow},
		ToolDefinition{Name: "update_thresholds", Label: "Update Thresholds", Tier: protocol.TierYellow},
		ToolDefinition{Name: "export_data", Label: "Export Data", Tier: protocol.TierRed},
	)
}

// Lookup returns the definition for a tool name.
func (r *Registry) Lookup(name string) (ToolDefinition, bool) {
	d, ok := r.byName[name]
	return d, ok
}

// Names returns the registered tool names in registration order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Definitions returns the registered definitions in registration order.
func (r *Registry) Definitions() []ToolDefinition {
	out := make([]ToolDefinition, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.byName[name])
	}
	return out
}

// NamesByTier returns the registered tool names carrying the given tier.
func (r *Registry) NamesByTier(tier protocol.SafetyTier) []string {
	var out []string
	for _, name := range r.order {
		if r.byName[name].Tier == tier {
			out = append(out, name)
		}
	}
	return out
}

// Classifier maps an action descriptor to a safety tier.
//
// Thread Safety: Safe for concurrent use. The registry is swapped
// atomically; each classification reads one consistent whitelist.
type Classifier struct {
	registry atomic.Pointer[Registry]
}

// NewClassifier creates a classifier over the given registry. A nil
// registry falls back to DefaultRegistry().
func NewClassifier(registry *Registry) *Classifier {
	if registry == nil {
		registry = DefaultRegistry()
	}
	c := &Classifier{}
	c.registry.Store(registry)
	return c
}

// Registry exposes the classifier's current whitelist.
func (c *Classifier) Registry() *Registry {
	return c.registry.Load()
}

// ReplaceRegistry swaps the whitelist. In-flight classifications keep
// the registry they started with; new ones see the replacement.
func (c *Classifier) ReplaceRegistry(registry *Registry) {
	if registry == nil {
		return
	}
	c.registry.Store(registry)
}

// Classify maps an action response to its safety tier.
//
// Description:
//
//	Pure function of the action descriptor. TEXT_ONLY and AUTO_EXECUTED
//	are GREEN by definition. PROPOSED actions take the stricter of the
//	registry tier and the tier the backend claims, floored at YELLOW so a
//	proposal can never classify approval-free. Tools outside the
//	whitelist are RED.
//
// Inputs:
//   - action: The action descriptor. Not mutated.
//
// Outputs:
//   - protocol.SafetyTier: The arbitration tier.
func (c *Classifier) Classify(action protocol.ActionResponse) protocol.SafetyTier {
	switch action.Kind {
	case protocol.KindTextOnly, protocol.KindAutoExecuted:
		return protocol.TierGreen
	}

	// PROPOSED (and anything unrecognized) from here down.
	def, registered := c.registry.Load().Lookup(action.ToolName)
	if !registered {
		return protocol.TierRed
	}

	tier := def.Tier
	if tier.Restrictiveness() < protocol.TierYellow.Restrictiveness() {
		// A green-registered tool the backend chose to propose anyway
		// still needs a decision.
		tier = protocol.TierYellow
	}

	// Honor a stricter claim from the backend, never a looser one.
	if claimed, known := protocol.ParseTier(string(action.SafetyTier)); known &&
		claimed.Restrictiveness() > tier.Restrictiveness() {
		tier = claimed
	}
	return tier
}

// Normalize validates an inbound action and stamps the arbitrated tier.
//
// Description:
//
//	The single entry point the session uses before ingestion. Malformed
//	responses are coerced rather than dropped: a PROPOSED response with a
//	missing or unknown tier gets the classifier's verdict, and an
//	AUTO_EXECUTED response is forced GREEN to hold the round-trip policy
//	invariant. Rendering never crashes on malformed input.
//
// Outputs:
//   - protocol.ActionResponse: Copy of the action with SafetyTier set to
//     the arbitrated value.
//   - error: ErrMalformedAction (wrapped) when a field invariant was
//     violated and coercion was applied. The returned action is still
//     usable; callers log the error and continue.
func (c *Classifier) Normalize(action protocol.ActionResponse) (protocol.ActionResponse, error) {
	verr := action.Validate()

	// A text answer cannot reference a proposal; dropping the stray ID
	// leaves a plain message.
	if action.Kind == protocol.KindTextOnly && action.ProposalID != "" {
		action.ProposalID = ""
	}

	tier := c.Classify(action)
	// Tier travels only on tool-bearing kinds; TEXT_ONLY stays bare.
	if action.Kind != protocol.KindTextOnly && action.SafetyTier != tier {
		if verr == nil && action.Kind == protocol.KindProposed && action.SafetyTier != "" {
			verr = fmt.Errorf("claimed tier %q overridden to %q: %w",
				string(action.SafetyTier), string(tier), protocol.ErrMalformedAction)
		}
		action.SafetyTier = tier
	}

	RecordClassification(action.ToolName, tier)
	if verr != nil {
		RecordCoercion(action.ToolName)
	}
	return action, verr
}
