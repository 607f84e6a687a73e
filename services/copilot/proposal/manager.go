// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package proposal owns the lifecycle of agent action proposals: ingest
// into the transcript as PENDING cards, deduplication across remounts,
// supersession of stale PENDING cards, terminal APPROVED/REJECTED
// decisions, and the TTL sweep for abandoned proposals. All state
// transitions are one-way; a terminal card never moves again.
package proposal

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/BioCopilot/services/copilot/conversation"
	"github.com/AleutianAI/BioCopilot/services/copilot/protocol"
)

const tracerName = "aleutian.copilot"

// DefaultTTL is how long a proposal may sit PENDING before the sweep
// rejects it.
const DefaultTTL = time.Hour

// Resolver carries a recorded decision to the action backend.
//
// Description:
//
//	ResolveProposal is invoked exactly once per terminal decision,
//	together with the ambient analysis context the decision was made
//	under. The returned action, if non-empty, is the agent's follow-up
//	(for an approval, typically the executed tool's narration).
type Resolver interface {
	ResolveProposal(ctx context.Context, proposalID string, accepted bool, analysisCtx *protocol.AnalysisContext) (protocol.ActionResponse, error)
}

// Commander is the fallback path for backends without a structured
// resolve endpoint: the decision is replayed as a "confirm" or
// "reject" chat command carrying the proposal ID and context.
type Commander interface {
	SendCommand(ctx context.Context, command, proposalID string, analysisCtx *protocol.AnalysisContext) (protocol.ActionResponse, error)
}

// SessionCell survives transcript remounts. A frontend that unmounts
// and remounts its chat view replays the same backend actions; the
// cell remembers which proposal IDs this session has already admitted
// so replays do not spawn duplicate cards.
//
// Thread Safety: guarded by the owning Manager's mutex.
type SessionCell struct {
	seen map[string]struct{}
}

// NewSessionCell creates an empty cell.
func NewSessionCell() *SessionCell {
	return &SessionCell{seen: make(map[string]struct{})}
}

func (c *SessionCell) mark(proposalID string) {
	c.seen[proposalID] = struct{}{}
}

func (c *SessionCell) known(proposalID string) bool {
	_, ok := c.seen[proposalID]
	return ok
}

// Manager drives proposal state through a conversation reconciler.
//
// Thread Safety: all exported methods serialize on an internal mutex;
// safe for concurrent use.
type Manager struct {
	mu         sync.Mutex
	sessionID  string
	transcript *conversation.Reconciler
	cell       *SessionCell
	resolver   Resolver
	commander  Commander
	auditor    *DecisionAuditor
	logger     *slog.Logger
	now        func() time.Time
}

// Config assembles a Manager.
type Config struct {
	SessionID  string
	Transcript *conversation.Reconciler
	Cell       *SessionCell
	Resolver   Resolver
	Commander  Commander
	Auditor    *DecisionAuditor
	Logger     *slog.Logger
}

// NewManager creates a Manager. Transcript is required; a nil Cell gets
// a fresh one, a nil Logger falls back to slog.Default(), and a nil
// Auditor disables audit output.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.Transcript == nil {
		return nil, fmt.Errorf("proposal manager: transcript must not be nil")
	}
	cell := cfg.Cell
	if cell == nil {
		cell = NewSessionCell()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	auditor := cfg.Auditor
	if auditor == nil {
		auditor = NewDecisionAuditor(logger, false, false)
	}
	return &Manager{
		sessionID:  cfg.SessionID,
		transcript: cfg.Transcript,
		cell:       cell,
		resolver:   cfg.Resolver,
		commander:  cfg.Commander,
		auditor:    auditor,
		logger:     logger,
		now:        time.Now,
	}, nil
}

// Ingest admits one normalized agent action into the transcript.
//
// Description:
//
//	TEXT_ONLY and AUTO_EXECUTED actions append a plain assistant
//	message. PROPOSED actions append a PENDING card, after rejecting
//	any older PENDING card (the newest proposal is the agent's current
//	intent) and after dropping duplicate deliveries of an ID the
//	transcript or the session cell has already admitted.
//
// Outputs:
//   - error: ErrMalformedAction for an invalid action,
//     ErrDuplicateProposal when the ID was already admitted, nil
//     otherwise.
func (m *Manager) Ingest(ctx context.Context, action protocol.ActionResponse) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, span := otel.Tracer(tracerName).Start(ctx, "proposal.Manager.Ingest")
	defer span.End()

	if err := action.Validate(); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	span.SetAttributes(
		attribute.String("kind", string(action.Kind)),
		attribute.String("session_id", m.sessionID),
	)

	m.mu.Lock()
	defer m.mu.Unlock()

	switch action.Kind {
	case protocol.KindTextOnly:
		m.transcript.Append(protocol.NewAssistantMessage(action.Content))
		return nil

	case protocol.KindAutoExecuted:
		m.transcript.Append(protocol.NewAssistantMessage(action.Content))
		return nil

	case protocol.KindProposed:
		return m.ingestProposalLocked(ctx, span, action)

	default:
		span.SetStatus(codes.Error, "unknown action kind")
		return fmt.Errorf("action kind %q: %w", action.Kind, protocol.ErrMalformedAction)
	}
}

func (m *Manager) ingestProposalLocked(ctx context.Context, span oteltrace.Span, action protocol.ActionResponse) error {
	span.SetAttributes(
		attribute.String("proposal_id", action.ProposalID),
		attribute.String("tool", action.ToolName),
		attribute.String("tier", string(action.SafetyTier)),
	)

	if m.cell.known(action.ProposalID) || m.inTranscript(action.ProposalID) {
		proposalsDeduplicated.Inc()
		m.logger.Debug("duplicate proposal dropped",
			slog.String("proposal_id", action.ProposalID),
			slog.String("session_id", m.sessionID))
		return fmt.Errorf("proposal %s: %w", action.ProposalID, protocol.ErrDuplicateProposal)
	}

	m.supersedePendingLocked(ctx, action.ProposalID)

	m.transcript.Append(protocol.NewProposalMessage(action))
	m.cell.mark(action.ProposalID)

	proposalsIngested.WithLabelValues(action.ToolName, string(action.SafetyTier)).Inc()
	m.auditor.LogProposed(ctx, m.sessionID, action)
	return nil
}

// supersedePendingLocked rejects every PENDING card other than keepID.
// One live question at a time keeps the approve/reject affordance
// unambiguous.
func (m *Manager) supersedePendingLocked(ctx context.Context, keepID string) {
	var superseded []protocol.ChatMessage
	m.transcript.Mutate(func(messages []protocol.ChatMessage) bool {
		changed := false
		for i := range messages {
			card := messages[i].Card
			if card == nil || card.Status != protocol.StatusPending {
				continue
			}
			if card.Proposal.ProposalID == keepID {
				continue
			}
			card.Status = protocol.StatusRejected
			card.CanApprove = false
			superseded = append(superseded, messages[i])
			changed = true
		}
		return changed
	})

	for _, msg := range superseded {
		p := msg.Card.Proposal
		proposalsSuperseded.Inc()
		m.auditor.LogResolved(ctx, m.sessionID, p.ProposalID, p.ToolName,
			protocol.StatusRejected, m.ageMs(msg.Timestamp))
		m.logger.Info("pending proposal superseded",
			slog.String("proposal_id", p.ProposalID),
			slog.String("session_id", m.sessionID))
	}
}

// Resolve records a terminal decision on a PENDING proposal and carries
// it to the backend.
//
// Description:
//
//	The transcript transition is optimistic: the card flips to its
//	terminal status before the backend is called, and a backend
//	failure appends an explanatory assistant message rather than
//	reverting the card. Approving a RED proposal is refused before any
//	state changes. Resolving an already-terminal card is a no-op so a
//	double-click cannot double-execute.
//
// Outputs:
//   - error: ErrUnknownProposal, ErrRedZoneViolation, or a wrapped
//     ErrResolutionFailed from the backend call.
func (m *Manager) Resolve(ctx context.Context, proposalID string, accepted bool, analysisCtx *protocol.AnalysisContext) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, span := otel.Tracer(tracerName).Start(ctx, "proposal.Manager.Resolve")
	defer span.End()
	span.SetAttributes(
		attribute.String("proposal_id", proposalID),
		attribute.Bool("accepted", accepted),
		attribute.String("session_id", m.sessionID),
	)

	m.mu.Lock()
	defer m.mu.Unlock()

	var (
		found    bool
		terminal bool
		action   protocol.ActionResponse
		placedAt int64
	)
	for _, msg := range m.transcript.Snapshot() {
		if msg.Card == nil || msg.Card.Proposal.ProposalID != proposalID {
			continue
		}
		found = true
		terminal = msg.Card.Status.Terminal()
		action = msg.Card.Proposal
		placedAt = msg.Timestamp
		break
	}
	if !found {
		span.SetStatus(codes.Error, "unknown proposal")
		return fmt.Errorf("proposal %s: %w", proposalID, protocol.ErrUnknownProposal)
	}
	if terminal {
		m.logger.Debug("resolve on terminal proposal ignored",
			slog.String("proposal_id", proposalID),
			slog.String("session_id", m.sessionID))
		return nil
	}

	if accepted && action.SafetyTier == protocol.TierRed {
		redZoneRefusals.WithLabelValues(action.ToolName).Inc()
		m.auditor.LogRedZoneRefusal(ctx, m.sessionID, proposalID, action.ToolName)
		span.SetStatus(codes.Error, "red zone approval refused")
		return fmt.Errorf("proposal %s (%s): %w", proposalID, action.ToolName, protocol.ErrRedZoneViolation)
	}

	status := protocol.StatusRejected
	if accepted {
		status = protocol.StatusApproved
	}

	m.transcript.Mutate(func(messages []protocol.ChatMessage) bool {
		idx := protocol.FindProposal(messages, proposalID)
		if idx < 0 {
			return false
		}
		messages[idx].Card.Status = status
		messages[idx].Card.CanApprove = false
		return true
	})

	ageMs := m.ageMs(placedAt)
	proposalsResolved.WithLabelValues(action.ToolName, string(status)).Inc()
	pendingAge.Observe(float64(ageMs) / 1000.0)
	m.auditor.LogResolved(ctx, m.sessionID, proposalID, action.ToolName, status, ageMs)

	followUp, err := m.carryDecision(ctx, proposalID, accepted, analysisCtx)
	if err != nil {
		resolutionFailures.WithLabelValues(action.ToolName).Inc()
		m.auditor.LogResolutionFailure(ctx, m.sessionID, proposalID, action.ToolName, err)
		m.transcript.Append(protocol.NewAssistantMessage(
			fmt.Sprintf("I recorded your decision, but carrying it out failed: %v. The card above reflects what you chose.", err)))
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("proposal %s: %v: %w", proposalID, err, protocol.ErrResolutionFailed)
	}
	if followUp.Content != "" {
		m.transcript.Append(protocol.NewAssistantMessage(followUp.Content))
	}
	return nil
}

// carryDecision prefers the structured resolve endpoint and falls back
// to replaying the decision as a chat command.
func (m *Manager) carryDecision(ctx context.Context, proposalID string, accepted bool, analysisCtx *protocol.AnalysisContext) (protocol.ActionResponse, error) {
	if m.resolver != nil {
		return m.resolver.ResolveProposal(ctx, proposalID, accepted, analysisCtx)
	}
	if m.commander != nil {
		command := "reject"
		if accepted {
			command = "confirm"
		}
		return m.commander.SendCommand(ctx, command, proposalID, analysisCtx)
	}
	return protocol.ActionResponse{}, nil
}

// ExpireStale rejects every PENDING proposal older than ttl. Each
// expiry appends an informational assistant message; expiry is never
// surfaced as an error.
//
// Outputs:
//   - int: The number of proposals swept.
func (m *Manager) ExpireStale(ctx context.Context, ttl time.Duration) int {
	if ctx == nil {
		ctx = context.Background()
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := m.now().Add(-ttl).UnixMilli()
	var expired []protocol.ChatMessage
	m.transcript.Mutate(func(messages []protocol.ChatMessage) bool {
		changed := false
		for i := range messages {
			card := messages[i].Card
			if card == nil || card.Status != protocol.StatusPending {
				continue
			}
			if messages[i].Timestamp > cutoff {
				continue
			}
			card.Status = protocol.StatusRejected
			card.CanApprove = false
			expired = append(expired, messages[i])
			changed = true
		}
		return changed
	})

	for _, msg := range expired {
		p := msg.Card.Proposal
		proposalsExpired.Inc()
		m.auditor.LogExpired(ctx, m.sessionID, p.ProposalID, p.ToolName, m.ageMs(msg.Timestamp))
		m.transcript.Append(protocol.NewAssistantMessage(
			fmt.Sprintf("The proposal to run %s expired without a decision, so I set it aside. Ask again if you still want it.", p.ToolName)))
	}
	return len(expired)
}

// PendingCount returns the number of live PENDING cards.
func (m *Manager) PendingCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	count := 0
	for _, msg := range m.transcript.Snapshot() {
		if msg.Card != nil && msg.Card.Status == protocol.StatusPending {
			count++
		}
	}
	return count
}

func (m *Manager) inTranscript(proposalID string) bool {
	return protocol.FindProposal(m.transcript.Snapshot(), proposalID) >= 0
}

func (m *Manager) ageMs(placedAtMilli int64) int64 {
	age := m.now().UnixMilli() - placedAtMilli
	if age < 0 {
		return 0
	}
	return age
}
