// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package copilot

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
	"golang.org/x/time/rate"

	"github.com/AleutianAI/BioCopilot/services/copilot/backend"
	"github.com/AleutianAI/BioCopilot/services/copilot/conversation"
	"github.com/AleutianAI/BioCopilot/services/copilot/ingress"
	"github.com/AleutianAI/BioCopilot/services/copilot/narration"
	"github.com/AleutianAI/BioCopilot/services/copilot/proposal"
	"github.com/AleutianAI/BioCopilot/services/copilot/protocol"
	"github.com/AleutianAI/BioCopilot/services/copilot/safety"
)

const tracerName = "aleutian.copilot"

// Session is one researcher's long-lived chat with the agent.
//
// Description:
//
//	A session owns a transcript reconciler, a safety classifier, a
//	proposal manager, and an ingress gate, wired in a fixed pipeline:
//	backend action -> classifier normalization -> ingress gate ->
//	proposal manager -> transcript. The ambient analysis context rides
//	along with every query so the agent sees what the researcher sees.
//
// Thread Safety: all exported methods are safe for concurrent use.
type Session struct {
	ID string

	mu          sync.Mutex
	analysisCtx *protocol.AnalysisContext

	transcript *conversation.Reconciler
	classifier *safety.Classifier
	manager    *proposal.Manager
	gate       *ingress.Gate
	backend    backend.Client
	emitter    *narration.Emitter
	limiter    *rate.Limiter
	logger     *slog.Logger
}

// SessionConfig assembles a Session.
type SessionConfig struct {
	ID         string
	Backend    backend.Client
	Classifier *safety.Classifier
	Emitter    *narration.Emitter
	Auditor    *proposal.DecisionAuditor
	Logger     *slog.Logger

	// Notify, when set, receives the transcript after every locally
	// originated change (e.g. to persist it or push over a websocket).
	Notify conversation.NotifyFunc

	// QueryRPS and QueryBurst bound this session's query rate. A
	// QueryRPS <= 0 disables rate limiting.
	QueryRPS   float64
	QueryBurst int
}

// NewSession creates a mounted session.
func NewSession(cfg SessionConfig) (*Session, error) {
	if cfg.ID == "" {
		return nil, fmt.Errorf("session: ID must not be empty")
	}
	if cfg.Backend == nil {
		return nil, fmt.Errorf("session: backend must not be nil")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("session_id", cfg.ID))

	classifier := cfg.Classifier
	if classifier == nil {
		classifier = safety.NewClassifier(safety.DefaultRegistry())
	}
	emitter := cfg.Emitter
	if emitter == nil {
		emitter = narration.NewEmitter(logger)
	}

	transcript := conversation.NewReconciler(cfg.Notify, logger)
	manager, err := proposal.NewManager(proposal.Config{
		SessionID:  cfg.ID,
		Transcript: transcript,
		Resolver:   cfg.Backend,
		Commander:  cfg.Backend,
		Auditor:    cfg.Auditor,
		Logger:     logger,
	})
	if err != nil {
		return nil, err
	}
	gate, err := ingress.NewGate(manager, time.Now(), logger)
	if err != nil {
		return nil, err
	}

	var limiter *rate.Limiter
	if cfg.QueryRPS > 0 {
		burst := cfg.QueryBurst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.QueryRPS), burst)
	}

	return &Session{
		ID:         cfg.ID,
		transcript: transcript,
		classifier: classifier,
		manager:    manager,
		gate:       gate,
		backend:    cfg.Backend,
		emitter:    emitter,
		limiter:    limiter,
		logger:     logger,
	}, nil
}

// SetContext replaces the ambient analysis context for future queries.
func (s *Session) SetContext(analysisCtx *protocol.AnalysisContext) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.analysisCtx = analysisCtx
}

// Query runs one researcher turn end to end.
//
// Description:
//
//	Appends the user message, submits the query with bounded history
//	and ambient context, normalizes the returned action through the
//	safety classifier, and delivers it through the ingress gate into
//	the proposal manager. The returned action is post-normalization:
//	its tier is what the transcript shows, not what the backend
//	claimed.
func (s *Session) Query(ctx context.Context, query string) (protocol.ActionResponse, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, span := otel.Tracer(tracerName).Start(ctx, "copilot.Session.Query",
		oteltrace.WithAttributes(attribute.String("session_id", s.ID)),
	)
	defer span.End()

	if query == "" {
		return protocol.ActionResponse{}, fmt.Errorf("session: query must not be empty")
	}
	if s.limiter != nil && !s.limiter.Allow() {
		span.SetStatus(codes.Error, "rate limited")
		return protocol.ActionResponse{}, fmt.Errorf("session %s: %w", s.ID, ErrRateLimited)
	}

	s.mu.Lock()
	analysisCtx := s.analysisCtx
	s.mu.Unlock()

	history := s.transcript.Snapshot()
	s.transcript.Append(protocol.NewUserMessage(query))

	taskID := s.emitter.TaskStarted("agent_query")

	raw, err := s.backend.SubmitQuery(ctx, query, history, analysisCtx)
	if err != nil {
		s.emitter.TaskCompleted(taskID, "agent_query", narration.StepFailed)
		span.SetStatus(codes.Error, err.Error())
		return protocol.ActionResponse{}, fmt.Errorf("session: submitting query: %w", err)
	}

	action, nerr := s.classifier.Normalize(raw)
	if nerr != nil {
		// Coercion, not failure: the action carries the arbitrated tier
		// and still reaches the transcript.
		span.AddEvent("action coerced")
		s.logger.Warn("malformed backend action coerced",
			slog.String("tool", action.ToolName),
			slog.String("tier", string(action.SafetyTier)),
			slog.String("error", nerr.Error()))
	}

	err = s.gate.Deliver(ctx, ingress.Envelope{Action: action, ReceivedAt: time.Now()})
	if err != nil {
		s.emitter.TaskCompleted(taskID, "agent_query", narration.StepFailed)
		span.SetStatus(codes.Error, err.Error())
		return protocol.ActionResponse{}, fmt.Errorf("session: delivering action: %w", err)
	}

	s.emitter.TaskCompleted(taskID, "agent_query", narration.StepOK)
	s.logger.Info("query arbitrated",
		slog.String("kind", string(action.Kind)),
		slog.String("tier", string(action.SafetyTier)))
	return action, nil
}

// Resolve records a decision on a pending proposal. The session's
// ambient analysis context travels with the decision so the backend
// executes against the state the researcher was looking at.
func (s *Session) Resolve(ctx context.Context, proposalID string, accepted bool) error {
	s.mu.Lock()
	analysisCtx := s.analysisCtx
	s.mu.Unlock()
	return s.manager.Resolve(ctx, proposalID, accepted, analysisCtx)
}

// DeliverExternal admits an action that arrived over a transport
// channel (a frame on the events websocket) rather than from the
// synchronous query path. Normalization and receipt-time stamping
// happen at this boundary; the gate drops pre-mount replays.
func (s *Session) DeliverExternal(ctx context.Context, raw protocol.ActionResponse, receivedAt time.Time) error {
	if ctx == nil {
		ctx = context.Background()
	}
	action, nerr := s.classifier.Normalize(raw)
	if nerr != nil {
		s.logger.Warn("malformed transport action coerced",
			slog.String("tool", action.ToolName),
			slog.String("error", nerr.Error()))
	}
	return s.gate.Deliver(ctx, ingress.Envelope{Action: action, ReceivedAt: receivedAt})
}

// History returns a defensive copy of the transcript.
func (s *Session) History() []protocol.ChatMessage {
	return s.transcript.Snapshot()
}

// Remount reattaches a frontend view: the externally-held history is
// synced in without an echo and the staleness cutoff moves forward so
// replayed actions are dropped.
func (s *Session) Remount(history []protocol.ChatMessage) {
	s.gate.Remount(time.Now())
	s.transcript.SyncExternal(history)
}

// ExpireStale sweeps PENDING proposals older than ttl.
func (s *Session) ExpireStale(ctx context.Context, ttl time.Duration) int {
	return s.manager.ExpireStale(ctx, ttl)
}

// PendingCount returns the number of live PENDING cards.
func (s *Session) PendingCount() int {
	return s.manager.PendingCount()
}

// Events subscribes to this session's narration stream.
func (s *Session) Events() (<-chan narration.Event, func()) {
	return s.emitter.Subscribe()
}
