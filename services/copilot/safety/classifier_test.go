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
	"errors"
	"testing"

	"github.com/AleutianAI/BioCopilot/services/copilot/protocol"
)

func proposed(tool string, tier protocol.SafetyTier) protocol.ActionResponse {
	return protocol.ActionResponse{
		Kind:       protocol.KindProposed,
		ProposalID: "p-test",
		ToolName:   tool,
		SafetyTier: tier,
	}
}

// TestClassify_RedTeamMatrix reproduces the adversarial tool-call matrix:
// the backend is assumed compromised or hallucinating, and only the local
// policy decides what executes.
func TestClassify_RedTeamMatrix(t *testing.T) {
	c := NewClassifier(nil)

	cases := []struct {
		name   string
		action protocol.ActionResponse
		want   protocol.SafetyTier
	}{
		{"render pathway passes", protocol.NewAutoExecuted("render_pathway", nil, nil, "done"), protocol.TierGreen},
		{"stats lookup passes", protocol.NewAutoExecuted("get_pathway_stats", nil, nil, "done"), protocol.TierGreen},
		{"list pathways passes", protocol.NewAutoExecuted("list_pathways", nil, nil, "done"), protocol.TierGreen},
		{"threshold change intercepted", proposed("update_thresholds", ""), protocol.TierYellow},
		{"enrichment intercepted", proposed("run_enrichment", ""), protocol.TierYellow},
		{"export blocked", proposed("export_data", ""), protocol.TierRed},
		{"hallucinated delete tool refused", proposed("delete_outliers_force", ""), protocol.TierRed},
		{"plain chat", protocol.NewTextOnly("hello"), protocol.TierGreen},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := c.Classify(tc.action); got != tc.want {
				t.Errorf("Classify = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestClassify_IsDeterministic(t *testing.T) {
	c := NewClassifier(nil)
	a := proposed("run_enrichment", "")
	first := c.Classify(a)
	for i := 0; i < 5; i++ {
		if got := c.Classify(a); got != first {
			t.Fatalf("Classify not deterministic: %q then %q", first, got)
		}
	}
}

func TestClassify_MissingTierFailsConservative(t *testing.T) {
	c := NewClassifier(nil)
	got := c.Classify(proposed("update_thresholds", ""))
	if got == protocol.TierGreen {
		t.Fatal("missing tier must never classify GREEN")
	}
	if got != protocol.TierYellow {
		t.Errorf("missing tier on whitelisted tool = %q, want YELLOW", got)
	}
}

func TestClassify_StricterClaimHonored(t *testing.T) {
	c := NewClassifier(nil)
	// Backend escalates a yellow-registered tool to RED: honor it.
	if got := c.Classify(proposed("update_thresholds", protocol.TierRed)); got != protocol.TierRed {
		t.Errorf("stricter claim = %q, want RED", got)
	}
	// Backend tries to relax export_data to YELLOW: registry wins.
	if got := c.Classify(proposed("export_data", protocol.TierYellow)); got != protocol.TierRed {
		t.Errorf("looser claim = %q, want RED", got)
	}
}

func TestClassify_ProposedGreenToolFloorsAtYellow(t *testing.T) {
	c := NewClassifier(nil)
	if got := c.Classify(proposed("render_pathway", "")); got != protocol.TierYellow {
		t.Errorf("proposed green-registered tool = %q, want YELLOW", got)
	}
}

func TestNormalize_AutoExecutedAlwaysGreen(t *testing.T) {
	c := NewClassifier(nil)
	a := protocol.ActionResponse{
		Kind:       protocol.KindAutoExecuted,
		ToolName:   "render_pathway",
		SafetyTier: protocol.TierYellow, // invariant violation on the wire
	}
	got, err := c.Normalize(a)
	if got.SafetyTier != protocol.TierGreen {
		t.Errorf("normalized tier = %q, want GREEN", got.SafetyTier)
	}
	if !errors.Is(err, protocol.ErrMalformedAction) {
		t.Errorf("expected malformed-action error, got %v", err)
	}
}

func TestNormalize_StampsArbitratedTier(t *testing.T) {
	c := NewClassifier(nil)
	got, err := c.Normalize(proposed("run_enrichment", ""))
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	if got.SafetyTier != protocol.TierYellow {
		t.Errorf("stamped tier = %q, want YELLOW", got.SafetyTier)
	}
}

func TestNormalize_TextOnlyLeavesTierEmpty(t *testing.T) {
	c := NewClassifier(nil)
	got, err := c.Normalize(protocol.NewTextOnly("hi"))
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	if got.SafetyTier != "" {
		t.Errorf("text-only tier = %q, want empty", got.SafetyTier)
	}
}

func TestNormalize_TextOnlyDropsStrayProposalID(t *testing.T) {
	c := NewClassifier(nil)
	a := protocol.ActionResponse{
		Kind:       protocol.KindTextOnly,
		Content:    "done",
		ProposalID: "p-stray",
	}
	got, err := c.Normalize(a)
	if !errors.Is(err, protocol.ErrMalformedAction) {
		t.Errorf("expected malformed-action error, got %v", err)
	}
	if got.ProposalID != "" {
		t.Errorf("proposal ID %q survived on a text answer", got.ProposalID)
	}
	if verr := got.Validate(); verr != nil {
		t.Errorf("coerced action still invalid: %v", verr)
	}
}

func TestDefaultRegistry_TierBuckets(t *testing.T) {
	r := DefaultRegistry()
	green := r.NamesByTier(protocol.TierGreen)
	if len(green) != 4 {
		t.Errorf("green tools = %v, want 4 entries", green)
	}
	yellow := r.NamesByTier(protocol.TierYellow)
	if len(yellow) != 2 {
		t.Errorf("yellow tools = %v, want 2 entries", yellow)
	}
	red := r.NamesByTier(protocol.TierRed)
	if len(red) != 1 || red[0] != "export_data" {
		t.Errorf("red tools = %v, want [export_data]", red)
	}
}

func TestRegistry_DuplicateNameOverwrites(t *testing.T) {
	r := NewRegistry(
		ToolDefinition{Name: "t", Label: "first", Tier: protocol.TierGreen},
		ToolDefinition{Name: "t", Label: "second", Tier: protocol.TierRed},
	)
	d, ok := r.Lookup("t")
	if !ok || d.Label != "second" || d.Tier != protocol.TierRed {
		t.Errorf("Lookup = %+v, want the later definition", d)
	}
	if names := r.Names(); len(names) != 1 {
		t.Errorf("Names = %v, want a single entry", names)
	}
}
