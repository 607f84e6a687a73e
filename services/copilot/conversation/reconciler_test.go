// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package conversation

import (
	"testing"

	"github.com/AleutianAI/BioCopilot/services/copilot/protocol"
)

// notifyRecorder captures every outbound notification.
type notifyRecorder struct {
	calls [][]protocol.ChatMessage
}

func (n *notifyRecorder) fn(messages []protocol.ChatMessage) {
	n.calls = append(n.calls, messages)
}

func history(contents ...string) []protocol.ChatMessage {
	msgs := make([]protocol.ChatMessage, 0, len(contents))
	for _, c := range contents {
		msgs = append(msgs, protocol.NewUserMessage(c))
	}
	return msgs
}

func TestSyncExternal_NoOutboundNotification(t *testing.T) {
	rec := &notifyRecorder{}
	r := NewReconciler(rec.fn, nil)

	r.SyncExternal(history("show me TP53", "here is TP53"))

	if len(rec.calls) != 0 {
		t.Fatalf("inbound sync produced %d notifications, want 0", len(rec.calls))
	}
	if r.Len() != 2 {
		t.Errorf("Len() = %d, want 2", r.Len())
	}
}

func TestSyncExternal_IdenticalHistoryIsNoOp(t *testing.T) {
	rec := &notifyRecorder{}
	r := NewReconciler(rec.fn, nil)

	h := history("a", "b")
	r.SyncExternal(h)
	r.SyncExternal(h)

	if len(rec.calls) != 0 {
		t.Fatalf("got %d notifications, want 0", len(rec.calls))
	}
	if r.Len() != 2 {
		t.Errorf("Len() = %d, want 2", r.Len())
	}
}

func TestAppend_ExactlyOneNotification(t *testing.T) {
	rec := &notifyRecorder{}
	r := NewReconciler(rec.fn, nil)

	r.Append(protocol.NewUserMessage("run enrichment"))

	if len(rec.calls) != 1 {
		t.Fatalf("got %d notifications, want 1", len(rec.calls))
	}
	got := rec.calls[0]
	if len(got) != 1 || got[0].Content != "run enrichment" {
		t.Errorf("notification payload = %+v, want single 'run enrichment' message", got)
	}
}

func TestSyncMarker_IsOneShot(t *testing.T) {
	rec := &notifyRecorder{}
	r := NewReconciler(rec.fn, nil)

	// Inbound sync swallows the marker; the next local mutation must
	// notify again.
	r.SyncExternal(history("a"))
	if len(rec.calls) != 0 {
		t.Fatalf("sync notified (%d calls), want 0", len(rec.calls))
	}

	r.Append(protocol.NewAssistantMessage("b"))
	if len(rec.calls) != 1 {
		t.Fatalf("append after sync gave %d notifications, want 1", len(rec.calls))
	}
	if got := len(rec.calls[0]); got != 2 {
		t.Errorf("notification carried %d messages, want 2", got)
	}
}

func TestMutate_NoChangeNoNotification(t *testing.T) {
	rec := &notifyRecorder{}
	r := NewReconciler(rec.fn, nil)
	r.SyncExternal(history("a"))

	r.Mutate(func(messages []protocol.ChatMessage) bool {
		return false
	})

	if len(rec.calls) != 0 {
		t.Fatalf("no-op mutation gave %d notifications, want 0", len(rec.calls))
	}
}

func TestMutate_InPlaceChangeNotifiesOnce(t *testing.T) {
	rec := &notifyRecorder{}
	r := NewReconciler(rec.fn, nil)

	action := protocol.NewProposal("run_enrichment", "run enrichment analysis", nil, protocol.TierYellow, "The pathway has 12 significant genes.")
	r.Append(protocol.NewProposalMessage(action))
	rec.calls = nil

	r.Mutate(func(messages []protocol.ChatMessage) bool {
		idx := protocol.FindProposal(messages, action.ProposalID)
		if idx < 0 {
			t.Fatal("proposal not found in working copy")
		}
		messages[idx].Card.Status = protocol.StatusApproved
		return true
	})

	if len(rec.calls) != 1 {
		t.Fatalf("got %d notifications, want 1", len(rec.calls))
	}
	card := rec.calls[0][0].Card
	if card == nil || card.Status != protocol.StatusApproved {
		t.Errorf("notified card = %+v, want APPROVED", card)
	}
}

func TestNotify_ReceivesDefensiveClone(t *testing.T) {
	rec := &notifyRecorder{}
	r := NewReconciler(rec.fn, nil)

	r.Append(protocol.NewUserMessage("original"))
	rec.calls[0][0].Content = "tampered"

	snap := r.Snapshot()
	if snap[0].Content != "original" {
		t.Errorf("working copy content = %q, tampering leaked through", snap[0].Content)
	}
}

func TestLocalEqualToExternal_StaysQuiet(t *testing.T) {
	rec := &notifyRecorder{}
	r := NewReconciler(rec.fn, nil)
	r.SyncExternal(history("a"))

	// A mutation that reports a change but leaves the transcript equal
	// to the external store must not echo it back.
	r.Mutate(func(messages []protocol.ChatMessage) bool { return true })

	if len(rec.calls) != 0 {
		t.Fatalf("converged mutation gave %d notifications, want 0", len(rec.calls))
	}
}

func TestNilNotify_DoesNotPanic(t *testing.T) {
	r := NewReconciler(nil, nil)
	r.Append(protocol.NewUserMessage("a"))
	if r.Len() != 1 {
		t.Errorf("Len() = %d, want 1", r.Len())
	}
}

func TestReentrantNotify_DoesNotDeadlock(t *testing.T) {
	var r *Reconciler
	depth := 0
	r = NewReconciler(func(messages []protocol.ChatMessage) {
		if depth > 0 {
			return
		}
		depth++
		// Callbacks are allowed to read the reconciler.
		_ = r.Snapshot()
	}, nil)

	r.Append(protocol.NewUserMessage("a"))
	if depth != 1 {
		t.Errorf("callback depth = %d, want 1", depth)
	}
}
