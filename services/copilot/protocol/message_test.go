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

import "testing"

func TestNewProposalMessage_RedCardCannotApprove(t *testing.T) {
	red := ActionResponse{
		Kind: KindProposed, ProposalID: "p1", ToolName: "export_data", SafetyTier: TierRed,
	}
	msg := NewProposalMessage(red)
	if msg.Kind != MessageProposal || msg.Card == nil {
		t.Fatal("expected a proposal message with a card")
	}
	if msg.Card.Status != StatusPending {
		t.Errorf("status = %q, want PENDING", msg.Card.Status)
	}
	if msg.Card.CanApprove {
		t.Error("RED card must not offer approval")
	}
}

func TestNewProposalMessage_YellowCardCanApprove(t *testing.T) {
	yellow := ActionResponse{
		Kind: KindProposed, ProposalID: "p2", ToolName: "run_enrichment", SafetyTier: TierYellow,
	}
	msg := NewProposalMessage(yellow)
	if !msg.Card.CanApprove {
		t.Error("YELLOW card must offer approval")
	}
}

func TestMessagesEqual_ByValue(t *testing.T) {
	a := ChatMessage{Kind: MessageText, Role: RoleUser, Content: "hi", Timestamp: 42}
	b := ChatMessage{Kind: MessageText, Role: RoleUser, Content: "hi", Timestamp: 42}
	if !MessagesEqual([]ChatMessage{a}, []ChatMessage{b}) {
		t.Error("identical transcripts should compare equal")
	}
	b.Content = "bye"
	if MessagesEqual([]ChatMessage{a}, []ChatMessage{b}) {
		t.Error("differing content should compare unequal")
	}
	if MessagesEqual([]ChatMessage{a}, nil) {
		t.Error("differing lengths should compare unequal")
	}
}

func TestMessagesEqual_CardStatusMatters(t *testing.T) {
	action := ActionResponse{Kind: KindProposed, ProposalID: "p1", ToolName: "run_enrichment", SafetyTier: TierYellow}
	a := NewProposalMessage(action)
	b := a
	card := *a.Card
	b.Card = &card
	if !MessagesEqual([]ChatMessage{a}, []ChatMessage{b}) {
		t.Fatal("copies should compare equal")
	}
	b.Card.Status = StatusApproved
	if MessagesEqual([]ChatMessage{a}, []ChatMessage{b}) {
		t.Error("status transition should make transcripts unequal")
	}
}

func TestCloneMessages_DeepCopiesCards(t *testing.T) {
	action := ActionResponse{Kind: KindProposed, ProposalID: "p1", ToolName: "run_enrichment", SafetyTier: TierYellow}
	orig := []ChatMessage{NewProposalMessage(action)}
	clone := CloneMessages(orig)
	clone[0].Card.Status = StatusRejected
	if orig[0].Card.Status != StatusPending {
		t.Error("mutating a clone must not affect the original card")
	}
}

func TestFindProposal(t *testing.T) {
	action := ActionResponse{Kind: KindProposed, ProposalID: "p9", ToolName: "update_thresholds", SafetyTier: TierYellow}
	msgs := []ChatMessage{
		NewUserMessage("change the cutoff"),
		NewProposalMessage(action),
	}
	if idx := FindProposal(msgs, "p9"); idx != 1 {
		t.Errorf("FindProposal = %d, want 1", idx)
	}
	if idx := FindProposal(msgs, "absent"); idx != -1 {
		t.Errorf("FindProposal for absent id = %d, want -1", idx)
	}
}
