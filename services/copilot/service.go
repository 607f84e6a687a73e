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
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/BioCopilot/services/copilot/backend"
	"github.com/AleutianAI/BioCopilot/services/copilot/config"
	"github.com/AleutianAI/BioCopilot/services/copilot/conversation"
	"github.com/AleutianAI/BioCopilot/services/copilot/proposal"
	"github.com/AleutianAI/BioCopilot/services/copilot/protocol"
	"github.com/AleutianAI/BioCopilot/services/copilot/safety"
	"github.com/AleutianAI/BioCopilot/services/copilot/store"
)

// Service hosts the session registry and the background TTL sweep.
//
// Thread Safety: safe for concurrent use.
type Service struct {
	mu       sync.Mutex
	sessions map[string]*Session

	cfg          *config.Config
	backend      backend.Client
	classifier   *safety.Classifier
	baseRegistry *safety.Registry
	auditor      *proposal.DecisionAuditor
	store        *store.Store
	logger       *slog.Logger

	stopSweep chan struct{}
	sweepDone chan struct{}
}

// NewService creates a Service from loaded configuration.
//
// Description:
//
//	The tool registry starts from the built-in whitelist, admits any
//	extra GREEN tools the deployment names, and layers on file-based
//	tier overrides when configured. The auditor, backend client, and
//	session store are shared across sessions. st may be nil; sessions
//	then live in memory only.
func NewService(cfg *config.Config, client backend.Client, st *store.Store, logger *slog.Logger) *Service {
	if cfg == nil {
		cfg = config.Load()
	}
	if logger == nil {
		logger = slog.Default()
	}

	defs := safety.DefaultRegistry().Definitions()
	for name := range cfg.ExtraGreenTools {
		defs = append(defs, safety.ToolDefinition{
			Name:  name,
			Label: name,
			Tier:  protocol.TierGreen,
		})
	}
	baseRegistry := safety.NewRegistry(defs...)

	registry := baseRegistry
	if cfg.SafetyOverridesPath != "" {
		overrides, err := safety.LoadOverrides(cfg.SafetyOverridesPath)
		if err != nil {
			logger.Warn("tier overrides unusable, starting with built-in whitelist",
				slog.String("path", cfg.SafetyOverridesPath), slog.Any("error", err))
		} else {
			registry = overrides.Apply(baseRegistry)
		}
	}

	return &Service{
		sessions:     make(map[string]*Session),
		cfg:          cfg,
		backend:      client,
		classifier:   safety.NewClassifier(registry),
		baseRegistry: baseRegistry,
		auditor:      proposal.NewDecisionAuditor(logger, cfg.AuditEnabled, cfg.AuditHashContent),
		store:        st,
		logger:       logger,
	}
}

// WatchOverrides blocks watching the configured tier overrides file,
// swapping the classifier registry on every change. Returns nil
// immediately when no overrides path is configured.
func (s *Service) WatchOverrides(ctx context.Context) error {
	if s.cfg.SafetyOverridesPath == "" {
		return nil
	}
	return safety.WatchOverrides(ctx, s.cfg.SafetyOverridesPath, s.baseRegistry, s.classifier, s.logger)
}

// Session returns the session with the given ID, creating it on first use.
//
// Description:
//
//	New sessions are wired to the store when one is configured: the
//	stored transcript is synced back in (remount, no echo) and every
//	subsequent local change is persisted through the reconciler's
//	notify path.
func (s *Service) Session(id string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sess, ok := s.sessions[id]; ok {
		return sess, nil
	}

	var notify conversation.NotifyFunc
	if s.store != nil {
		notify = func(messages []protocol.ChatMessage) {
			if err := s.store.SaveTranscript(context.Background(), id, messages); err != nil {
				s.logger.Error("transcript persistence failed",
					slog.String("session_id", id), slog.Any("error", err))
			}
		}
	}

	sess, err := NewSession(SessionConfig{
		ID:         id,
		Backend:    s.backend,
		Classifier: s.classifier,
		Auditor:    s.auditor,
		Logger:     s.logger,
		Notify:     notify,
		QueryRPS:   s.cfg.QueryRPS,
		QueryBurst: s.cfg.QueryBurst,
	})
	if err != nil {
		return nil, err
	}

	if s.store != nil {
		stored, err := s.store.LoadTranscript(context.Background(), id)
		if err != nil {
			s.logger.Error("stored transcript unreadable, starting empty",
				slog.String("session_id", id), slog.Any("error", err))
		} else if len(stored) > 0 {
			sess.Remount(stored)
			s.logger.Info("session restored from store",
				slog.String("session_id", id), slog.Int("message_count", len(stored)))
		}
	}

	s.sessions[id] = sess
	s.logger.Info("session created", slog.String("session_id", id))
	return sess, nil
}

// Lookup returns an existing session without creating one.
func (s *Service) Lookup(id string) (*Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	return sess, ok
}

// SessionCount returns the number of live sessions.
func (s *Service) SessionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// StartSweep launches the background TTL sweep. Call StopSweep to halt.
func (s *Service) StartSweep() {
	s.mu.Lock()
	if s.stopSweep != nil {
		s.mu.Unlock()
		return
	}
	s.stopSweep = make(chan struct{})
	s.sweepDone = make(chan struct{})
	stop, done := s.stopSweep, s.sweepDone
	s.mu.Unlock()

	go s.sweepLoop(stop, done)
}

// StopSweep halts the background sweep and waits for it to exit.
func (s *Service) StopSweep() {
	s.mu.Lock()
	stop, done := s.stopSweep, s.sweepDone
	s.stopSweep, s.sweepDone = nil, nil
	s.mu.Unlock()

	if stop == nil {
		return
	}
	close(stop)
	<-done
}

func (s *Service) sweepLoop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	interval := s.cfg.SweepInterval
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.sweepOnce()
		}
	}
}

func (s *Service) sweepOnce() {
	s.mu.Lock()
	sessions := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.mu.Unlock()

	var mu sync.Mutex
	total := 0

	g, ctx := errgroup.WithContext(context.Background())
	g.SetLimit(4)
	for _, sess := range sessions {
		g.Go(func() error {
			n := sess.ExpireStale(ctx, s.cfg.ProposalTTL)
			mu.Lock()
			total += n
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	if total > 0 {
		s.logger.Info("proposal sweep complete", slog.Int("expired", total))
	}
}
