// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package copilot is the HTTP surface of the BioCopilot arbitration
// service. It hosts chat sessions that mediate between a researcher's
// frontend and the agent action backend: every agent action passes
// through safety classification and the proposal lifecycle before it
// reaches the transcript.
package copilot

import (
	"errors"

	"github.com/AleutianAI/BioCopilot/services/copilot/evidence"
	"github.com/AleutianAI/BioCopilot/services/copilot/protocol"
)

// ErrSessionNotFound indicates an operation referenced an unknown session.
var ErrSessionNotFound = errors.New("session not found")

// ErrRateLimited indicates a session exceeded its query rate allowance.
var ErrRateLimited = errors.New("query rate limit exceeded")

// ErrorResponse is the standard error envelope for API errors.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// QueryRequest is the request body for POST /copilot/query.
type QueryRequest struct {
	SessionID string                    `json:"session_id" binding:"required"`
	Query     string                    `json:"query" binding:"required"`
	Context   *protocol.AnalysisContext `json:"context,omitempty"`
}

// QueryResponse carries the agent's action after arbitration, plus the
// transcript as the session now holds it.
type QueryResponse struct {
	SessionID  string                  `json:"session_id"`
	Action     protocol.ActionResponse `json:"action"`
	Transcript []protocol.ChatMessage  `json:"transcript"`
}

// ResolveRequest is the request body for POST /copilot/proposals/:id/resolve.
type ResolveRequest struct {
	SessionID string `json:"session_id" binding:"required"`
	Accepted  bool   `json:"accepted"`
}

// ResolveResponse reports the terminal state of a resolved proposal.
type ResolveResponse struct {
	ProposalID string                  `json:"proposal_id"`
	Status     protocol.ProposalStatus `json:"status"`
	Transcript []protocol.ChatMessage  `json:"transcript"`
}

// HistoryResponse is the response body for GET /copilot/history.
type HistoryResponse struct {
	SessionID string                 `json:"session_id"`
	Messages  []protocol.ChatMessage `json:"messages"`
}

// RenderRequest is the request body for POST /copilot/render.
type RenderRequest struct {
	Text string `json:"text" binding:"required"`
}

// RenderResponse carries the structured blocks and the distinct entity
// references for a narration text.
type RenderResponse struct {
	Blocks   []evidence.Block           `json:"blocks"`
	Entities []evidence.EntityReference `json:"entities"`
}
