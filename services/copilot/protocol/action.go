// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package protocol defines the wire types exchanged with the BioCopilot
// action backend: agent action responses, safety tiers, chat transcript
// messages, proposal cards, and the ambient analysis context. The package
// is dependency-free so that every other copilot package can import it.
//
// Thread Safety:
//
//	All types in this package are value types. Safe to copy. Callers that
//	share slices or maps across goroutines must synchronize externally.
package protocol

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ActionKind discriminates the three shapes of an agent action response.
type ActionKind string

const (
	// KindTextOnly is a pure natural-language reply with no tool activity.
	KindTextOnly ActionKind = "TEXT_ONLY"

	// KindAutoExecuted is a tool call that already ran (green tier only).
	// The backend reports the result so the transcript can display it.
	KindAutoExecuted ActionKind = "AUTO_EXECUTED"

	// KindProposed is a tool call held for an explicit user decision.
	KindProposed ActionKind = "PROPOSED"
)

// Known reports whether the kind is one of the three recognized values.
func (k ActionKind) Known() bool {
	switch k {
	case KindTextOnly, KindAutoExecuted, KindProposed:
		return true
	default:
		return false
	}
}

// SafetyTier is the risk classification governing whether an agent action
// executes automatically, needs approval, or is blocked.
type SafetyTier string

const (
	// TierGreen actions are read-only or strictly local-view. Auto-executed.
	TierGreen SafetyTier = "GREEN"

	// TierYellow actions mutate shared analysis state or trigger non-trivial
	// computation. Held for an explicit approve/reject decision.
	TierYellow SafetyTier = "YELLOW"

	// TierRed actions are irreversible, export data externally, or name a
	// tool outside the whitelist. Only rejection is offered.
	TierRed SafetyTier = "RED"
)

// Known reports whether the tier is one of the three recognized values.
func (t SafetyTier) Known() bool {
	return t == TierGreen || t == TierYellow || t == TierRed
}

// Restrictiveness orders tiers for comparison: GREEN < YELLOW < RED.
// Unknown tiers rank above RED so that malformed input never relaxes policy.
func (t SafetyTier) Restrictiveness() int {
	switch t {
	case TierGreen:
		return 0
	case TierYellow:
		return 1
	case TierRed:
		return 2
	default:
		return 3
	}
}

// ParseTier converts a wire string to a SafetyTier.
//
// Outputs:
//   - SafetyTier: The matching tier. Defaults to TierYellow for unknown
//     or empty strings (fail conservative, never fail open to GREEN).
//   - bool: True if the input matched a known tier exactly.
func ParseTier(s string) (SafetyTier, bool) {
	switch SafetyTier(s) {
	case TierGreen:
		return TierGreen, true
	case TierYellow:
		return TierYellow, true
	case TierRed:
		return TierRed, true
	default:
		return TierYellow, false
	}
}

// =============================================================================
// Sentinel Errors
// =============================================================================

var (
	// ErrMalformedAction is returned when an ActionResponse is missing
	// required fields for its kind. Callers coerce to the conservative
	// default and continue; rendering never crashes on malformed input.
	ErrMalformedAction = errors.New("protocol: malformed action response")

	// ErrDuplicateProposal signals that a proposal with the same ID is
	// already present in the transcript. Absorbed silently by ingestion.
	ErrDuplicateProposal = errors.New("protocol: duplicate proposal")

	// ErrStaleEvent signals an inbound event whose receipt time predates
	// the current session mount. Dropped silently.
	ErrStaleEvent = errors.New("protocol: stale event")

	// ErrUnknownProposal is returned when a resolution targets a proposal
	// ID that does not appear in the transcript.
	ErrUnknownProposal = errors.New("protocol: unknown proposal")

	// ErrAlreadyResolved signals a resolution of a proposal that is no
	// longer pending. Treated as a no-op by the lifecycle manager.
	ErrAlreadyResolved = errors.New("protocol: proposal already resolved")

	// ErrRedZoneViolation is returned on an attempt to approve a RED-tier
	// proposal. A programming or UI error, never a user-facing message.
	ErrRedZoneViolation = errors.New("protocol: red-tier proposal cannot be approved")

	// ErrResolutionFailed wraps a failure of the external resolution
	// callback. Surfaced as a transcript message, not re-thrown.
	ErrResolutionFailed = errors.New("protocol: proposal resolution failed")
)

// ActionResponse is the unit exchanged with the action backend.
//
// Description:
//
//	Carries the agent's natural-language content plus, for tool-bearing
//	kinds, the tool call descriptor. PROPOSED responses additionally carry
//	a globally unique proposal ID and a human-readable justification.
//
// Invariants:
//   - Kind == KindAutoExecuted implies SafetyTier == TierGreen.
//   - Kind == KindProposed implies SafetyTier in {TierYellow, TierRed}.
//   - ProposalID is required and unique whenever Kind == KindProposed.
type ActionResponse struct {
	Kind    ActionKind `json:"kind"`
	Content string     `json:"content"`

	// Present only for AUTO_EXECUTED / PROPOSED.
	ToolName   string         `json:"tool_name,omitempty"`
	ToolArgs   map[string]any `json:"tool_args,omitempty"`
	ToolResult any            `json:"tool_result,omitempty"`

	// Present only for PROPOSED.
	ProposalID     string `json:"proposal_id,omitempty"`
	ProposalReason string `json:"proposal_reason,omitempty"`

	// Present only for PROPOSED / AUTO_EXECUTED.
	SafetyTier SafetyTier `json:"safety_tier,omitempty"`
}

// NewTextOnly creates a plain chat response.
func NewTextOnly(content string) ActionResponse {
	return ActionResponse{Kind: KindTextOnly, Content: content}
}

// NewAutoExecuted creates an executed action response (green tier).
func NewAutoExecuted(toolName string, toolArgs map[string]any, result any, summary string) ActionResponse {
	return ActionResponse{
		Kind:       KindAutoExecuted,
		Content:    summary,
		ToolName:   toolName,
		ToolArgs:   toolArgs,
		ToolResult: result,
		SafetyTier: TierGreen,
	}
}

// NewProposal creates a proposal awaiting user confirmation.
//
// Description:
//
//	Assigns a fresh UUID as the proposal ID. The content mirrors the
//	original desktop app's phrasing so existing transcripts read the same.
//
// Inputs:
//   - toolName: Registered tool name (e.g., "run_enrichment").
//   - toolLabel: Human label for the tool (e.g., "Enrichment Analysis").
//   - toolArgs: Arguments the tool would run with.
//   - tier: TierYellow or TierRed.
//   - reason: Why this action needs confirmation.
func NewProposal(toolName, toolLabel string, toolArgs map[string]any, tier SafetyTier, reason string) ActionResponse {
	return ActionResponse{
		Kind:           KindProposed,
		Content:        fmt.Sprintf("I'd like to %s. %s", toolLabel, reason),
		ToolName:       toolName,
		ToolArgs:       toolArgs,
		ProposalID:     uuid.New().String(),
		ProposalReason: reason,
		SafetyTier:     tier,
	}
}

// Validate checks the per-kind field invariants.
//
// Outputs:
//   - error: ErrMalformedAction (wrapped with detail) if a required field
//     is missing or a field carries a value forbidden for the kind. Nil
//     for well-formed responses.
func (a ActionResponse) Validate() error {
	if !a.Kind.Known() {
		return fmt.Errorf("unknown kind %q: %w", string(a.Kind), ErrMalformedAction)
	}
	switch a.Kind {
	case KindTextOnly:
		if a.ProposalID != "" {
			return fmt.Errorf("text-only response carries proposal_id: %w", ErrMalformedAction)
		}
	case KindAutoExecuted:
		if a.ToolName == "" {
			return fmt.Errorf("auto-executed response missing tool_name: %w", ErrMalformedAction)
		}
		if a.SafetyTier != TierGreen {
			return fmt.Errorf("auto-executed response must be green, got %q: %w", string(a.SafetyTier), ErrMalformedAction)
		}
	case KindProposed:
		if a.ProposalID == "" {
			return fmt.Errorf("proposed response missing proposal_id: %w", ErrMalformedAction)
		}
		if a.ToolName == "" {
			return fmt.Errorf("proposed response missing tool_name: %w", ErrMalformedAction)
		}
		if a.SafetyTier == TierGreen {
			return fmt.Errorf("proposed response cannot be green: %w", ErrMalformedAction)
		}
		if a.SafetyTier != "" && !a.SafetyTier.Known() {
			return fmt.Errorf("proposed response has unknown tier %q: %w", string(a.SafetyTier), ErrMalformedAction)
		}
	}
	return nil
}

// IsProposal reports whether the response requires a user decision.
func (a ActionResponse) IsProposal() bool {
	return a.Kind == KindProposed
}
