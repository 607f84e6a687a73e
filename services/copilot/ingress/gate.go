// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ingress gates agent actions on their way into a session.
// Actions that arrived before the current transcript view mounted are
// stale replays and get dropped; everything else is delivered to the
// sink one at a time, in arrival order.
package ingress

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/AleutianAI/BioCopilot/services/copilot/protocol"
)

var staleDropped = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: "copilot",
		Subsystem: "ingress",
		Name:      "stale_dropped_total",
		Help:      "Agent actions dropped because they predate the current mount.",
	},
)

// Envelope wraps an agent action with its arrival time.
type Envelope struct {
	Action     protocol.ActionResponse
	ReceivedAt time.Time
}

// Sink receives actions that pass the gate.
type Sink interface {
	Ingest(ctx context.Context, action protocol.ActionResponse) error
}

// Gate serializes delivery into a session and filters stale replays.
//
// Thread Safety: safe for concurrent use; deliveries are serialized so
// the sink observes arrival order.
type Gate struct {
	mu        sync.Mutex
	mountedAt time.Time
	sink      Sink
	logger    *slog.Logger
}

// NewGate creates a Gate mounted at the given instant. A nil logger
// falls back to slog.Default().
func NewGate(sink Sink, mountedAt time.Time, logger *slog.Logger) (*Gate, error) {
	if sink == nil {
		return nil, fmt.Errorf("ingress gate: sink must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{
		mountedAt: mountedAt,
		sink:      sink,
		logger:    logger,
	}, nil
}

// Remount moves the staleness cutoff forward, typically when the
// frontend reattaches and replays buffered actions.
func (g *Gate) Remount(at time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if at.After(g.mountedAt) {
		g.mountedAt = at
	}
}

// Deliver passes one envelope to the sink, or drops it as stale.
//
// Outputs:
//   - error: ErrStaleEvent for a pre-mount arrival, otherwise whatever
//     the sink returns.
func (g *Gate) Deliver(ctx context.Context, env Envelope) error {
	if ctx == nil {
		ctx = context.Background()
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if env.ReceivedAt.Before(g.mountedAt) {
		staleDropped.Inc()
		g.logger.Debug("stale agent action dropped",
			slog.String("kind", string(env.Action.Kind)),
			slog.String("proposal_id", env.Action.ProposalID),
			slog.Int64("received_at", env.ReceivedAt.UnixMilli()),
			slog.Int64("mounted_at", g.mountedAt.UnixMilli()))
		return fmt.Errorf("action received %s before mount: %w",
			g.mountedAt.Sub(env.ReceivedAt), protocol.ErrStaleEvent)
	}

	return g.sink.Ingest(ctx, env.Action)
}
