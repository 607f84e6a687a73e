// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package backend talks to the agent action backend over HTTP. The
// backend runs the language model and tools; this client submits
// researcher queries with bounded conversation history and carries
// proposal decisions back.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/awnumar/memguard"

	"github.com/AleutianAI/BioCopilot/services/copilot/protocol"
)

// DefaultHistoryTurns bounds how many recent turns accompany a query.
const DefaultHistoryTurns = 10

// Client is the action backend surface the copilot service needs.
type Client interface {
	// SubmitQuery sends one researcher turn plus bounded history and
	// ambient analysis context, returning the agent's action.
	SubmitQuery(ctx context.Context, query string, history []protocol.ChatMessage, analysisCtx *protocol.AnalysisContext) (protocol.ActionResponse, error)

	// ResolveProposal reports a terminal decision on a proposal,
	// together with the analysis context the decision was made under.
	ResolveProposal(ctx context.Context, proposalID string, accepted bool, analysisCtx *protocol.AnalysisContext) (protocol.ActionResponse, error)

	// SendCommand replays a decision as a plain chat command (e.g.
	// "confirm"), carrying the proposal ID and analysis context so the
	// backend can tell which proposal the command answers.
	SendCommand(ctx context.Context, command, proposalID string, analysisCtx *protocol.AnalysisContext) (protocol.ActionResponse, error)
}

type queryRequest struct {
	Query      string                    `json:"query"`
	History    []historyTurn             `json:"history,omitempty"`
	Context    *protocol.AnalysisContext `json:"context,omitempty"`
	ProposalID string                    `json:"proposal_id,omitempty"`
	Language   string                    `json:"language,omitempty"`
}

type historyTurn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type resolveRequest struct {
	ProposalID string                    `json:"proposal_id"`
	Accepted   bool                      `json:"accepted"`
	Context    *protocol.AnalysisContext `json:"context,omitempty"`
}

// HTTPClient is the production Client backed by the backend's REST API.
//
// Thread Safety: safe for concurrent use; http.Client is concurrent-safe
// and all other state is read-only after construction.
type HTTPClient struct {
	baseURL      string
	httpClient   *http.Client
	historyTurns int
	language     string
	apiKey       *memguard.Enclave
	logger       *slog.Logger
}

// Option configures an HTTPClient.
type Option func(*HTTPClient)

// WithTimeout bounds each backend call.
func WithTimeout(d time.Duration) Option {
	return func(c *HTTPClient) {
		if d > 0 {
			c.httpClient.Timeout = d
		}
	}
}

// WithHistoryTurns overrides how many recent turns accompany a query.
func WithHistoryTurns(n int) Option {
	return func(c *HTTPClient) {
		if n > 0 {
			c.historyTurns = n
		}
	}
}

// WithLanguage asks the backend to answer in the given BCP 47 language
// tag. Empty means the backend's default.
func WithLanguage(lang string) Option {
	return func(c *HTTPClient) {
		c.language = lang
	}
}

// WithAPIKey attaches a bearer token to every backend call.
//
// Description:
//
//	The key is sealed in a memguard enclave immediately; the plaintext
//	argument is wiped before this option returns. The key is decrypted
//	only for the duration of each request.
func WithAPIKey(key string) Option {
	return func(c *HTTPClient) {
		if key == "" {
			return
		}
		// NewEnclave wipes the byte slice it is handed.
		c.apiKey = memguard.NewEnclave([]byte(key))
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *HTTPClient) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewHTTPClient creates a client for the backend at baseURL.
func NewHTTPClient(baseURL string, opts ...Option) (*HTTPClient, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("backend client: base URL must not be empty")
	}
	c := &HTTPClient{
		baseURL:      strings.TrimRight(baseURL, "/"),
		httpClient:   &http.Client{Timeout: 60 * time.Second},
		historyTurns: DefaultHistoryTurns,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// SubmitQuery sends one researcher turn to POST /agent/query.
//
// Description:
//
//	History is tail-bounded to the configured turn count before it
//	leaves the process: the model only ever needs recent context, and
//	bounding it here keeps payloads flat as a session grows. Proposal
//	cards are flattened to their text content.
func (c *HTTPClient) SubmitQuery(ctx context.Context, query string, history []protocol.ChatMessage, analysisCtx *protocol.AnalysisContext) (protocol.ActionResponse, error) {
	if query == "" {
		return protocol.ActionResponse{}, fmt.Errorf("backend client: query must not be empty")
	}
	payload := queryRequest{
		Query:    query,
		History:  tailTurns(history, c.historyTurns),
		Context:  analysisCtx,
		Language: c.language,
	}
	return c.post(ctx, "/agent/query", payload)
}

// ResolveProposal reports a decision to POST /agent/proposals/resolve.
func (c *HTTPClient) ResolveProposal(ctx context.Context, proposalID string, accepted bool, analysisCtx *protocol.AnalysisContext) (protocol.ActionResponse, error) {
	if proposalID == "" {
		return protocol.ActionResponse{}, fmt.Errorf("backend client: proposal ID must not be empty")
	}
	return c.post(ctx, "/agent/proposals/resolve", resolveRequest{
		ProposalID: proposalID,
		Accepted:   accepted,
		Context:    analysisCtx,
	})
}

// SendCommand replays a decision command as a query with no history.
// The proposal ID disambiguates which card the command answers when
// the session holds more than one.
func (c *HTTPClient) SendCommand(ctx context.Context, command, proposalID string, analysisCtx *protocol.AnalysisContext) (protocol.ActionResponse, error) {
	if command == "" {
		return protocol.ActionResponse{}, fmt.Errorf("backend client: command must not be empty")
	}
	return c.post(ctx, "/agent/query", queryRequest{
		Query:      command,
		ProposalID: proposalID,
		Context:    analysisCtx,
		Language:   c.language,
	})
}

func (c *HTTPClient) post(ctx context.Context, path string, payload any) (protocol.ActionResponse, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return protocol.ActionResponse{}, fmt.Errorf("backend client: encoding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+path, bytes.NewBuffer(body))
	if err != nil {
		return protocol.ActionResponse{}, fmt.Errorf("backend client: building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	if c.apiKey != nil {
		keyBuf, err := c.apiKey.Open()
		if err != nil {
			return protocol.ActionResponse{}, fmt.Errorf("backend client: unsealing API key: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+keyBuf.String())
		keyBuf.Destroy()
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return protocol.ActionResponse{}, fmt.Errorf("backend client: calling %s: %w", path, err)
	}
	defer resp.Body.Close()

	respBytes, readErr := io.ReadAll(resp.Body)
	if readErr != nil {
		return protocol.ActionResponse{}, fmt.Errorf("backend client: reading response body (status %d): %w", resp.StatusCode, readErr)
	}

	c.logger.Debug("backend call complete",
		slog.String("path", path),
		slog.Int("status", resp.StatusCode),
		slog.Int64("duration_ms", time.Since(start).Milliseconds()))

	if resp.StatusCode != http.StatusOK {
		return protocol.ActionResponse{}, fmt.Errorf("backend client: %s returned status %d: %s",
			path, resp.StatusCode, truncate(string(respBytes), 200))
	}

	var action protocol.ActionResponse
	if err := json.Unmarshal(respBytes, &action); err != nil {
		return protocol.ActionResponse{}, fmt.Errorf("backend client: decoding response: %w", err)
	}
	if err := action.Validate(); err != nil {
		if !coercible(action) {
			return protocol.ActionResponse{}, fmt.Errorf("backend client: backend sent invalid action: %w", err)
		}
		// Tier invariants are repaired downstream by the safety
		// classifier; only structurally unusable actions fail here.
		c.logger.Warn("backend sent malformed action",
			slog.String("path", path),
			slog.String("error", err.Error()))
	}
	return action, nil
}

// coercible reports whether a malformed action can still be repaired
// by tier arbitration: the kind is known and the fields a transcript
// entry needs are present.
func coercible(a protocol.ActionResponse) bool {
	if !a.Kind.Known() {
		return false
	}
	switch a.Kind {
	case protocol.KindAutoExecuted:
		return a.ToolName != ""
	case protocol.KindProposed:
		return a.ProposalID != "" && a.ToolName != ""
	}
	return true
}

// tailTurns flattens the most recent n messages to role/content pairs.
func tailTurns(history []protocol.ChatMessage, n int) []historyTurn {
	if n <= 0 {
		n = DefaultHistoryTurns
	}
	if len(history) > n {
		history = history[len(history)-n:]
	}
	turns := make([]historyTurn, 0, len(history))
	for _, msg := range history {
		content := msg.Content
		if content == "" && msg.Card != nil {
			content = msg.Card.Proposal.Content
		}
		if content == "" {
			continue
		}
		turns = append(turns, historyTurn{Role: string(msg.Role), Content: content})
	}
	return turns
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
