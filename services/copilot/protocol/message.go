// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package protocol

import (
	"reflect"
	"time"
)

// MessageRole identifies the author of a transcript message.
type MessageRole string

const (
	// RoleUser marks a message typed by the user.
	RoleUser MessageRole = "user"

	// RoleAssistant marks a message produced by the agent or by the
	// arbitration layer itself (e.g., resolution failure notices).
	RoleAssistant MessageRole = "assistant"
)

// MessageKind discriminates the transcript message variants. The union is
// a tagged variant checked exhaustively at render and resolution time,
// never guessed structurally.
type MessageKind string

const (
	// MessageText is an ordinary chat message.
	MessageText MessageKind = "text"

	// MessageProposal is a message carrying a proposal card.
	MessageProposal MessageKind = "proposal"
)

// ProposalStatus tracks a proposal card through its lifecycle.
// PENDING transitions once, to APPROVED or REJECTED; both are terminal.
type ProposalStatus string

const (
	// StatusPending marks a proposal awaiting a user decision.
	StatusPending ProposalStatus = "PENDING"

	// StatusApproved marks a proposal the user accepted.
	StatusApproved ProposalStatus = "APPROVED"

	// StatusRejected marks a proposal the user declined (or that the
	// arbitration layer expired or superseded).
	StatusRejected ProposalStatus = "REJECTED"
)

// Terminal reports whether the status permits no further transition.
func (s ProposalStatus) Terminal() bool {
	return s == StatusApproved || s == StatusRejected
}

// ProposalCard is the proposal extension carried by a transcript message.
//
// A card's Proposal.ProposalID appears at most once across the whole
// transcript; ingestion is idempotent under duplicate delivery.
type ProposalCard struct {
	Proposal ActionResponse `json:"proposal"`
	Status   ProposalStatus `json:"status"`

	// CanApprove is false for RED-tier proposals: the approve path is
	// structurally unavailable, not merely disabled by a flag.
	CanApprove bool `json:"can_approve"`
}

// ChatMessage is one entry of the conversation transcript.
//
// The transcript itself is owned by an external store; this subsystem
// mirrors it through the conversation reconciler.
type ChatMessage struct {
	Kind      MessageKind `json:"kind"`
	Role      MessageRole `json:"role"`
	Content   string      `json:"content"`
	Timestamp int64       `json:"timestamp"` // Unix milliseconds UTC

	// Card is set only when Kind == MessageProposal.
	Card *ProposalCard `json:"card,omitempty"`
}

// NewUserMessage creates a text message authored by the user.
func NewUserMessage(content string) ChatMessage {
	return ChatMessage{
		Kind:      MessageText,
		Role:      RoleUser,
		Content:   content,
		Timestamp: time.Now().UnixMilli(),
	}
}

// NewAssistantMessage creates a text message authored by the assistant.
func NewAssistantMessage(content string) ChatMessage {
	return ChatMessage{
		Kind:      MessageText,
		Role:      RoleAssistant,
		Content:   content,
		Timestamp: time.Now().UnixMilli(),
	}
}

// NewProposalMessage wraps a PROPOSED action response in a pending card.
//
// CanApprove is derived from the tier: RED cards never offer approval.
func NewProposalMessage(action ActionResponse) ChatMessage {
	return ChatMessage{
		Kind:      MessageProposal,
		Role:      RoleAssistant,
		Content:   action.Content,
		Timestamp: time.Now().UnixMilli(),
		Card: &ProposalCard{
			Proposal:   action,
			Status:     StatusPending,
			CanApprove: action.SafetyTier != TierRed,
		},
	}
}

// Equal compares two messages by value, including card contents.
//
// Tool arguments and results are compared with reflect.DeepEqual since
// they carry backend-defined JSON shapes.
func (m ChatMessage) Equal(other ChatMessage) bool {
	if m.Kind != other.Kind || m.Role != other.Role ||
		m.Content != other.Content || m.Timestamp != other.Timestamp {
		return false
	}
	if (m.Card == nil) != (other.Card == nil) {
		return false
	}
	if m.Card == nil {
		return true
	}
	if m.Card.Status != other.Card.Status || m.Card.CanApprove != other.Card.CanApprove {
		return false
	}
	return reflect.DeepEqual(m.Card.Proposal, other.Card.Proposal)
}

// MessagesEqual compares two transcripts by value, element-wise.
func MessagesEqual(a, b []ChatMessage) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !a[i].Equal(b[i]) {
			return false
		}
	}
	return true
}

// CloneMessages returns a defensive copy of a transcript. Card pointers
// are deep-copied so that a caller's later status transitions cannot
// mutate the clone.
func CloneMessages(msgs []ChatMessage) []ChatMessage {
	if msgs == nil {
		return nil
	}
	out := make([]ChatMessage, len(msgs))
	for i, m := range msgs {
		out[i] = m
		if m.Card != nil {
			card := *m.Card
			out[i].Card = &card
		}
	}
	return out
}

// FindProposal locates the message index carrying the given proposal ID.
//
// Outputs:
//   - int: Index into msgs, or -1 if absent.
func FindProposal(msgs []ChatMessage, proposalID string) int {
	for i, m := range msgs {
		if m.Kind == MessageProposal && m.Card != nil && m.Card.Proposal.ProposalID == proposalID {
			return i
		}
	}
	return -1
}
