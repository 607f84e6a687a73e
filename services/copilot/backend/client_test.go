// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/AleutianAI/BioCopilot/services/copilot/protocol"
)

func TestSubmitQuery_BoundsHistoryTail(t *testing.T) {
	var got queryRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/agent/query" {
			t.Errorf("path = %s, want /agent/query", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Fatalf("decoding request: %v", err)
		}
		json.NewEncoder(w).Encode(protocol.NewTextOnly("ok"))
	}))
	defer srv.Close()

	c, err := NewHTTPClient(srv.URL, WithHistoryTurns(3))
	if err != nil {
		t.Fatalf("NewHTTPClient: %v", err)
	}

	var history []protocol.ChatMessage
	for i := 0; i < 8; i++ {
		history = append(history, protocol.NewUserMessage(fmt.Sprintf("turn %d", i)))
	}

	if _, err := c.SubmitQuery(context.Background(), "what about TP53?", history, nil); err != nil {
		t.Fatalf("SubmitQuery: %v", err)
	}

	if len(got.History) != 3 {
		t.Fatalf("backend saw %d history turns, want 3", len(got.History))
	}
	if got.History[0].Content != "turn 5" || got.History[2].Content != "turn 7" {
		t.Errorf("history tail = %+v, want turns 5..7", got.History)
	}
	if got.Query != "what about TP53?" {
		t.Errorf("query = %q", got.Query)
	}
}

func TestSubmitQuery_FlattensProposalCards(t *testing.T) {
	var got queryRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&got)
		json.NewEncoder(w).Encode(protocol.NewTextOnly("ok"))
	}))
	defer srv.Close()

	c, err := NewHTTPClient(srv.URL)
	if err != nil {
		t.Fatalf("NewHTTPClient: %v", err)
	}

	action := protocol.NewProposal("run_enrichment", "run enrichment analysis", nil,
		protocol.TierYellow, "Worth checking.")
	history := []protocol.ChatMessage{protocol.NewProposalMessage(action)}

	if _, err := c.SubmitQuery(context.Background(), "go on", history, nil); err != nil {
		t.Fatalf("SubmitQuery: %v", err)
	}
	if len(got.History) != 1 || got.History[0].Content != action.Content {
		t.Errorf("history = %+v, want flattened proposal content", got.History)
	}
}

func TestResolveProposal_RoundTrip(t *testing.T) {
	var got resolveRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/agent/proposals/resolve" {
			t.Errorf("path = %s", r.URL.Path)
		}
		json.NewDecoder(r.Body).Decode(&got)
		json.NewEncoder(w).Encode(protocol.NewTextOnly("Enrichment running."))
	}))
	defer srv.Close()

	c, err := NewHTTPClient(srv.URL)
	if err != nil {
		t.Fatalf("NewHTTPClient: %v", err)
	}

	analysisCtx := &protocol.AnalysisContext{
		Pathway: &protocol.PathwayRef{ID: "hsa04110", Name: "Cell cycle"},
	}
	action, err := c.ResolveProposal(context.Background(), "p-42", true, analysisCtx)
	if err != nil {
		t.Fatalf("ResolveProposal: %v", err)
	}
	if got.ProposalID != "p-42" || !got.Accepted {
		t.Errorf("backend saw %+v, want accepted p-42", got)
	}
	if got.Context == nil || got.Context.Pathway == nil || got.Context.Pathway.ID != "hsa04110" {
		t.Errorf("backend saw context %+v, want the decision's analysis context", got.Context)
	}
	if action.Content != "Enrichment running." {
		t.Errorf("action content = %q", action.Content)
	}
}

func TestPost_NonOKStatusIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c, err := NewHTTPClient(srv.URL)
	if err != nil {
		t.Fatalf("NewHTTPClient: %v", err)
	}
	if _, err := c.SubmitQuery(context.Background(), "hi", nil, nil); err == nil {
		t.Error("SubmitQuery succeeded on 503")
	}
}

func TestPost_InvalidActionRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// A PROPOSED action without a proposal ID is malformed.
		fmt.Fprint(w, `{"kind":"PROPOSED","tool_name":"run_enrichment","safety_tier":"YELLOW"}`)
	}))
	defer srv.Close()

	c, err := NewHTTPClient(srv.URL)
	if err != nil {
		t.Fatalf("NewHTTPClient: %v", err)
	}
	if _, err := c.SubmitQuery(context.Background(), "hi", nil, nil); err == nil {
		t.Error("SubmitQuery accepted a malformed backend action")
	}
}

func TestSendCommand_UsesQueryEndpoint(t *testing.T) {
	var got queryRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&got)
		json.NewEncoder(w).Encode(protocol.NewTextOnly("confirmed"))
	}))
	defer srv.Close()

	c, err := NewHTTPClient(srv.URL)
	if err != nil {
		t.Fatalf("NewHTTPClient: %v", err)
	}
	analysisCtx := &protocol.AnalysisContext{SignificantGenes: []string{"TP53"}}
	if _, err := c.SendCommand(context.Background(), "confirm", "p-7", analysisCtx); err != nil {
		t.Fatalf("SendCommand: %v", err)
	}
	if got.Query != "confirm" || len(got.History) != 0 {
		t.Errorf("backend saw %+v, want confirm with no history", got)
	}
	// The command must name its proposal; a bare "confirm" is
	// ambiguous once several proposals exist.
	if got.ProposalID != "p-7" {
		t.Errorf("backend saw proposal_id %q, want p-7", got.ProposalID)
	}
	if got.Context == nil || len(got.Context.SignificantGenes) != 1 {
		t.Errorf("backend saw context %+v, want the decision's analysis context", got.Context)
	}
}

func TestPost_CoercibleActionPassesThrough(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// An understated tier is not this client's problem: the safety
		// classifier repairs it downstream.
		fmt.Fprint(w, `{"kind":"PROPOSED","proposal_id":"p-9","tool_name":"export_data","safety_tier":"GREEN"}`)
	}))
	defer srv.Close()

	c, err := NewHTTPClient(srv.URL)
	if err != nil {
		t.Fatalf("NewHTTPClient: %v", err)
	}
	action, err := c.SubmitQuery(context.Background(), "export it", nil, nil)
	if err != nil {
		t.Fatalf("SubmitQuery rejected a repairable action: %v", err)
	}
	if action.ProposalID != "p-9" || action.SafetyTier != protocol.TierGreen {
		t.Errorf("action = %+v, want the claimed fields untouched", action)
	}
}

func TestWithLanguage_TravelsWithQuery(t *testing.T) {
	var got queryRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&got)
		json.NewEncoder(w).Encode(protocol.NewTextOnly("ok"))
	}))
	defer srv.Close()

	c, err := NewHTTPClient(srv.URL, WithLanguage("de"))
	if err != nil {
		t.Fatalf("NewHTTPClient: %v", err)
	}
	if _, err := c.SubmitQuery(context.Background(), "hallo", nil, nil); err != nil {
		t.Fatalf("SubmitQuery: %v", err)
	}
	if got.Language != "de" {
		t.Errorf("backend saw language %q, want de", got.Language)
	}
}

func TestWithAPIKey_SetsBearerHeader(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		json.NewEncoder(w).Encode(protocol.NewTextOnly("ok"))
	}))
	defer srv.Close()

	c, err := NewHTTPClient(srv.URL, WithAPIKey("sk-test-123"))
	if err != nil {
		t.Fatalf("NewHTTPClient: %v", err)
	}

	if _, err := c.SubmitQuery(context.Background(), "hello", nil, nil); err != nil {
		t.Fatalf("SubmitQuery: %v", err)
	}
	if gotAuth != "Bearer sk-test-123" {
		t.Errorf("Authorization = %q, want Bearer sk-test-123", gotAuth)
	}

	// The key survives across calls: the enclave reseals after each use.
	gotAuth = ""
	if _, err := c.SubmitQuery(context.Background(), "again", nil, nil); err != nil {
		t.Fatalf("SubmitQuery: %v", err)
	}
	if gotAuth != "Bearer sk-test-123" {
		t.Errorf("second call Authorization = %q, want Bearer sk-test-123", gotAuth)
	}
}
