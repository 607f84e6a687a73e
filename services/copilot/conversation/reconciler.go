// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package conversation keeps a local working copy of the chat transcript
// consistent with the externally owned canonical copy without feedback
// loops. Synchronization is deliberately asymmetric:
//
//   - Inbound: when the external history changes and differs by value
//     from the working copy, the working copy is overwritten and a
//     one-shot "synced from parent" marker is set.
//   - Outbound: when the working copy changes, a set marker is cleared
//     and the notification skipped (the change came from the parent);
//     otherwise, if the new copy differs by value from the external
//     history, the parent's update callback fires once.
//
// A single local mutation therefore produces at most one outbound
// notification, and an inbound sync never produces one. This replaces
// bidirectional reactive binding between two co-owners of logically the
// same list, which is a classic source of infinite update cycles.
//
// Thread Safety:
//
//	Reconciler is safe for concurrent use via an internal mutex; the
//	working copy has exactly one writer at a time (either the inbound
//	sync path or an outbound mutation, never both).
package conversation

import (
	"log/slog"
	"sync"

	"github.com/AleutianAI/BioCopilot/services/copilot/protocol"
)

// NotifyFunc receives the new working copy when a local change must be
// pushed to the external owner. The slice is a defensive clone; the
// callee may retain it.
type NotifyFunc func(messages []protocol.ChatMessage)

// Reconciler mirrors the externally owned transcript.
type Reconciler struct {
	// mu also enforces the single-writer-per-tick rule: the inbound sync
	// path and outbound mutators serialize on it.
	mu sync.Mutex

	local    []protocol.ChatMessage
	external []protocol.ChatMessage

	// syncedFromParent is the one-shot, edge-triggered marker: set by an
	// inbound sync, consumed by the next local-change observation.
	syncedFromParent bool

	notify NotifyFunc
	logger *slog.Logger
}

// NewReconciler creates a reconciler.
//
// Inputs:
//   - notify: Callback invoked with the new working copy on outbound
//     changes. May be nil (changes are then kept local).
//   - logger: Structured logger. Nil falls back to slog.Default().
func NewReconciler(notify NotifyFunc, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{notify: notify, logger: logger}
}

// SyncExternal applies an externally authored history change.
//
// Description:
//
//	If the incoming history equals the working copy by value, nothing
//	happens. Otherwise the working copy is overwritten and the one-shot
//	marker is set so the resulting local change is not echoed back to
//	the parent.
func (r *Reconciler) SyncExternal(history []protocol.ChatMessage) {
	r.mu.Lock()
	r.external = protocol.CloneMessages(history)
	if protocol.MessagesEqual(history, r.local) {
		r.mu.Unlock()
		return
	}

	r.local = protocol.CloneMessages(history)
	r.syncedFromParent = true
	snapshot := r.onLocalChangedLocked()
	r.mu.Unlock()

	r.dispatch(snapshot)
}

// Append adds a message to the working copy and notifies the parent.
func (r *Reconciler) Append(msg protocol.ChatMessage) {
	r.mu.Lock()
	r.local = append(r.local, msg)
	snapshot := r.onLocalChangedLocked()
	r.mu.Unlock()

	r.dispatch(snapshot)
}

// Mutate runs fn against the working copy under the writer lock and
// treats any reported change as a local mutation.
//
// Inputs:
//   - fn: Receives the working copy for in-place modification and
//     returns true if it changed anything.
func (r *Reconciler) Mutate(fn func(messages []protocol.ChatMessage) bool) {
	r.mu.Lock()
	var snapshot []protocol.ChatMessage
	if fn(r.local) {
		snapshot = r.onLocalChangedLocked()
	}
	r.mu.Unlock()

	r.dispatch(snapshot)
}

// Snapshot returns a defensive copy of the working copy.
func (r *Reconciler) Snapshot() []protocol.ChatMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return protocol.CloneMessages(r.local)
}

// Len returns the number of messages in the working copy.
func (r *Reconciler) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.local)
}

// onLocalChangedLocked is the outbound edge. Caller must hold mu. It
// returns the transcript snapshot to hand to the notify callback, or
// nil when the change must stay quiet.
func (r *Reconciler) onLocalChangedLocked() []protocol.ChatMessage {
	if r.syncedFromParent {
		// This change originated upstream; clear the marker and stay quiet.
		r.syncedFromParent = false
		return nil
	}
	if protocol.MessagesEqual(r.local, r.external) {
		return nil
	}
	if r.notify == nil {
		return nil
	}
	return protocol.CloneMessages(r.local)
}

// dispatch invokes the notify callback outside the writer lock so the
// callback may call back into the reconciler.
func (r *Reconciler) dispatch(snapshot []protocol.ChatMessage) {
	if snapshot == nil {
		return
	}
	r.logger.Debug("transcript change pushed to external store",
		slog.Int("messages", len(snapshot)))
	r.notify(snapshot)
}
