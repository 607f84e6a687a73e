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
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/BioCopilot/services/copilot/protocol"
)

// DecisionAuditor produces structured audit log entries for proposal
// lifecycle events.
//
// Description:
//
//	Logs every proposal the agent surfaces and every decision the
//	researcher takes on it, using slog structured logging. Each entry
//	includes proposal_id, session_id, tool, safety tier, trace_id, and
//	a SHA256 hash of the proposal text (if enabled). This gives a
//	reviewable trail of which mutations were offered and who allowed
//	them, without storing the conversation itself.
//
// Thread Safety: Safe for concurrent use (slog.Logger is concurrent-safe).
type DecisionAuditor struct {
	logger      *slog.Logger
	enabled     bool
	hashContent bool
}

// NewDecisionAuditor creates a new auditor.
//
// Inputs:
//   - logger: The structured logger for audit output.
//   - enabled: Whether audit logging is active.
//   - hashContent: Whether to include SHA256 proposal-text hashes.
//
// Outputs:
//   - *DecisionAuditor: Configured auditor.
func NewDecisionAuditor(logger *slog.Logger, enabled, hashContent bool) *DecisionAuditor {
	return &DecisionAuditor{
		logger:      logger,
		enabled:     enabled,
		hashContent: hashContent,
	}
}

// LogProposed logs a proposal entering the transcript as PENDING.
//
// Inputs:
//   - ctx: Context containing trace information.
//   - sessionID: The owning chat session.
//   - action: The proposal action as normalized by the safety layer.
func (a *DecisionAuditor) LogProposed(ctx context.Context, sessionID string, action protocol.ActionResponse) {
	if !a.enabled {
		return
	}

	logger := a.loggerWithTrace(ctx)

	attrs := []any{
		slog.String("event", "proposal_pending"),
		slog.String("proposal_id", action.ProposalID),
		slog.String("session_id", sessionID),
		slog.String("tool", action.ToolName),
		slog.String("tier", string(action.SafetyTier)),
		slog.Int64("timestamp", time.Now().UnixMilli()),
	}

	if a.hashContent && action.Content != "" {
		attrs = append(attrs, slog.String("content_hash", HashContent([]byte(action.Content))))
	}

	logger.Info("proposal surfaced", attrs...)
}

// LogResolved logs a terminal decision on a proposal.
//
// Inputs:
//   - ctx: Context containing trace information.
//   - sessionID: The owning chat session.
//   - proposalID: The proposal that was decided.
//   - tool: The tool the proposal would invoke.
//   - status: The terminal status (APPROVED or REJECTED).
//   - durationMs: Milliseconds the proposal sat PENDING.
func (a *DecisionAuditor) LogResolved(
	ctx context.Context,
	sessionID, proposalID, tool string,
	status protocol.ProposalStatus,
	durationMs int64,
) {
	if !a.enabled {
		return
	}

	logger := a.loggerWithTrace(ctx)

	logger.Info("proposal resolved",
		slog.String("event", "proposal_resolved"),
		slog.String("proposal_id", proposalID),
		slog.String("session_id", sessionID),
		slog.String("tool", tool),
		slog.String("status", string(status)),
		slog.Int64("pending_ms", durationMs),
		slog.Int64("timestamp", time.Now().UnixMilli()),
	)
}

// LogRedZoneRefusal logs an approval attempt against a RED proposal.
func (a *DecisionAuditor) LogRedZoneRefusal(ctx context.Context, sessionID, proposalID, tool string) {
	if !a.enabled {
		return
	}

	logger := a.loggerWithTrace(ctx)

	logger.Warn("red zone approval refused",
		slog.String("event", "proposal_red_refused"),
		slog.String("proposal_id", proposalID),
		slog.String("session_id", sessionID),
		slog.String("tool", tool),
		slog.Int64("timestamp", time.Now().UnixMilli()),
	)
}

// LogExpired logs a proposal swept by the TTL janitor.
func (a *DecisionAuditor) LogExpired(ctx context.Context, sessionID, proposalID, tool string, ageMs int64) {
	if !a.enabled {
		return
	}

	logger := a.loggerWithTrace(ctx)

	logger.Info("proposal expired",
		slog.String("event", "proposal_expired"),
		slog.String("proposal_id", proposalID),
		slog.String("session_id", sessionID),
		slog.String("tool", tool),
		slog.Int64("age_ms", ageMs),
		slog.Int64("timestamp", time.Now().UnixMilli()),
	)
}

// LogResolutionFailure logs a backend error while carrying out an
// already-recorded decision.
func (a *DecisionAuditor) LogResolutionFailure(ctx context.Context, sessionID, proposalID, tool string, callErr error) {
	if !a.enabled {
		return
	}

	logger := a.loggerWithTrace(ctx)

	attrs := []any{
		slog.String("event", "proposal_resolution_failed"),
		slog.String("proposal_id", proposalID),
		slog.String("session_id", sessionID),
		slog.String("tool", tool),
		slog.Int64("timestamp", time.Now().UnixMilli()),
	}
	if callErr != nil {
		attrs = append(attrs, slog.String("error", callErr.Error()))
	}

	logger.Warn("proposal resolution failed", attrs...)
}

// loggerWithTrace returns a logger enriched with trace context.
func (a *DecisionAuditor) loggerWithTrace(ctx context.Context) *slog.Logger {
	spanCtx := trace.SpanContextFromContext(ctx)
	if !spanCtx.IsValid() {
		return a.logger
	}
	return a.logger.With(
		slog.String("trace_id", spanCtx.TraceID().String()),
		slog.String("span_id", spanCtx.SpanID().String()),
	)
}

// HashContent computes the SHA256 hex digest of proposal text for
// audit purposes. Returns empty string for empty input.
func HashContent(content []byte) string {
	if len(content) == 0 {
		return ""
	}
	sum := sha256.Sum256(content)
	return fmt.Sprintf("%x", sum)
}
