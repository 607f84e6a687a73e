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
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/AleutianAI/BioCopilot/services/copilot/config"
	"github.com/AleutianAI/BioCopilot/services/copilot/protocol"
	"github.com/AleutianAI/BioCopilot/services/copilot/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	opts := badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		t.Fatalf("failed to open in-memory badger: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	st, err := store.NewStore(db, 0, nil)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return st
}

func TestService_PersistsTranscriptAcrossRestart(t *testing.T) {
	st := newTestStore(t)
	backend := &scriptedBackend{
		actions: []protocol.ActionResponse{
			protocol.NewTextOnly("TP53 regulates the cell cycle."),
		},
	}

	// First service lifetime: one turn lands in the store.
	svc := NewService(config.Load(), backend, st, nil)
	sess, err := svc.Session("persisted")
	if err != nil {
		t.Fatalf("Session: %v", err)
	}
	if _, err := sess.Query(context.Background(), "what is TP53?"); err != nil {
		t.Fatalf("Query: %v", err)
	}
	if got := len(sess.History()); got != 2 {
		t.Fatalf("history has %d messages, want 2", got)
	}

	// Second service lifetime over the same store: the session comes
	// back with its transcript.
	svc2 := NewService(config.Load(), &scriptedBackend{}, st, nil)
	restored, err := svc2.Session("persisted")
	if err != nil {
		t.Fatalf("Session: %v", err)
	}
	history := restored.History()
	if len(history) != 2 {
		t.Fatalf("restored history has %d messages, want 2", len(history))
	}
	if history[0].Role != protocol.RoleUser || history[0].Content != "what is TP53?" {
		t.Errorf("restored first message = %+v", history[0])
	}
	if history[1].Role != protocol.RoleAssistant {
		t.Errorf("restored second message role = %q, want assistant", history[1].Role)
	}
}

func TestService_RestoreDoesNotEchoBackToStore(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	seed := []protocol.ChatMessage{protocol.NewUserMessage("earlier turn")}
	if err := st.SaveTranscript(ctx, "quiet", seed); err != nil {
		t.Fatalf("SaveTranscript: %v", err)
	}
	records, err := st.List(ctx, 10)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	wasUpdated := records[0].UpdatedAtMilli

	// Ensure an echo write would land on a later millisecond.
	time.Sleep(5 * time.Millisecond)

	svc := NewService(config.Load(), &scriptedBackend{}, st, nil)
	if _, err := svc.Session("quiet"); err != nil {
		t.Fatalf("Session: %v", err)
	}

	// Restoring a session syncs the stored transcript in without
	// writing it back out.
	records, err = st.List(ctx, 10)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if records[0].UpdatedAtMilli != wasUpdated {
		t.Error("session restore wrote the transcript back to the store")
	}
}

func TestService_RateLimitKicksIn(t *testing.T) {
	backend := &scriptedBackend{
		actions: []protocol.ActionResponse{
			protocol.NewTextOnly("one"),
			protocol.NewTextOnly("two"),
		},
	}
	cfg := config.Load()
	cfg.QueryRPS = 0.001
	cfg.QueryBurst = 1

	svc := NewService(cfg, backend, nil, nil)
	sess, err := svc.Session("limited")
	if err != nil {
		t.Fatalf("Session: %v", err)
	}

	if _, err := sess.Query(context.Background(), "first"); err != nil {
		t.Fatalf("first query: %v", err)
	}
	_, err = sess.Query(context.Background(), "second")
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("second query error = %v, want ErrRateLimited", err)
	}
}

func TestService_TierOverridesFileLoosensAtConstruction(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "overrides.yaml")
	content := "tools:\n  run_enrichment: GREEN\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg := config.Load()
	cfg.SafetyOverridesPath = path

	svc := NewService(cfg, &scriptedBackend{}, nil, nil)
	d, ok := svc.classifier.Registry().Lookup("run_enrichment")
	if !ok || d.Tier != protocol.TierGreen {
		t.Errorf("run_enrichment tier = %v, want GREEN from overrides file", d.Tier)
	}
}
