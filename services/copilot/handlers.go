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
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/AleutianAI/BioCopilot/services/copilot/evidence"
	"github.com/AleutianAI/BioCopilot/services/copilot/protocol"
)

// Handlers exposes the copilot service over HTTP.
type Handlers struct {
	svc      *Service
	upgrader websocket.Upgrader
}

// NewHandlers creates handlers bound to a service.
func NewHandlers(svc *Service) *Handlers {
	return &Handlers{
		svc: svc,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
	}
}

// getOrCreateRequestID returns the inbound X-Request-ID or mints one.
func getOrCreateRequestID(c *gin.Context) string {
	if id := c.GetHeader("X-Request-ID"); id != "" {
		return id
	}
	return uuid.New().String()
}

// HandleQuery handles POST /v1/copilot/query.
//
// Description:
//
//	Runs one researcher turn through the arbitration pipeline. The
//	response carries the post-normalization action (its tier is what
//	the transcript shows) and the transcript as the session now holds
//	it, so a thin frontend can render without a second round trip.
//
// Request Body:
//
//	QueryRequest (session_id and query required, context optional)
//
// Response:
//
//	200 OK: QueryResponse
//	400 Bad Request: Missing session_id or query
//	502 Bad Gateway: Backend call failed (malformed actions are
//	coerced, not failed)
//
// Thread Safety: This method is safe for concurrent use.
func (h *Handlers) HandleQuery(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleQuery")

	var req QueryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "session_id and query are required",
			Code:  "MISSING_PARAMETER",
		})
		return
	}

	sess, err := h.svc.Session(req.SessionID)
	if err != nil {
		logger.Error("session creation failed", slog.Any("error", err))
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error: "failed to create session: " + err.Error(),
			Code:  "SESSION_CREATE_FAILED",
		})
		return
	}
	if req.Context != nil {
		sess.SetContext(req.Context)
	}

	action, err := sess.Query(c.Request.Context(), req.Query)
	if errors.Is(err, ErrRateLimited) {
		logger.Warn("query rate limited", slog.String("session_id", req.SessionID))
		c.JSON(http.StatusTooManyRequests, ErrorResponse{
			Error: "query rate limit exceeded, retry shortly",
			Code:  "RATE_LIMITED",
		})
		return
	}
	if err != nil {
		logger.Error("query arbitration failed", slog.Any("error", err))
		c.JSON(http.StatusBadGateway, ErrorResponse{
			Error: "agent query failed: " + err.Error(),
			Code:  "AGENT_QUERY_FAILED",
		})
		return
	}

	logger.Info("query handled",
		slog.String("session_id", req.SessionID),
		slog.String("kind", string(action.Kind)))

	c.JSON(http.StatusOK, QueryResponse{
		SessionID:  req.SessionID,
		Action:     action,
		Transcript: sess.History(),
	})
}

// HandleResolve handles POST /v1/copilot/proposals/:id/resolve.
//
// Description:
//
//	Records an approve/reject decision on a pending proposal. Refusing
//	rules: RED proposals cannot be approved (403), unknown proposals
//	are 404, already-terminal proposals are a no-op 200.
//
// Request Body:
//
//	ResolveRequest (session_id required, accepted defaults to false)
//
// Response:
//
//	200 OK: ResolveResponse
//	403 Forbidden: Approval attempted on a RED proposal
//	404 Not Found: Unknown session or proposal
//	502 Bad Gateway: Decision recorded but backend execution failed
//
// Thread Safety: This method is safe for concurrent use.
func (h *Handlers) HandleResolve(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleResolve")

	proposalID := c.Param("id")
	if proposalID == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "proposal id is required",
			Code:  "MISSING_PARAMETER",
		})
		return
	}

	var req ResolveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "session_id is required",
			Code:  "MISSING_PARAMETER",
		})
		return
	}

	sess, ok := h.svc.Lookup(req.SessionID)
	if !ok {
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error: "session not found",
			Code:  "SESSION_NOT_FOUND",
		})
		return
	}

	err := sess.Resolve(c.Request.Context(), proposalID, req.Accepted)
	switch {
	case err == nil:
		// Fall through to the success response.
	case errors.Is(err, protocol.ErrUnknownProposal):
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error: "proposal not found",
			Code:  "PROPOSAL_NOT_FOUND",
		})
		return
	case errors.Is(err, protocol.ErrRedZoneViolation):
		logger.Warn("red zone approval refused",
			slog.String("proposal_id", proposalID),
			slog.String("session_id", req.SessionID))
		c.JSON(http.StatusForbidden, ErrorResponse{
			Error: "this action cannot be approved from chat",
			Code:  "RED_ZONE_VIOLATION",
		})
		return
	case errors.Is(err, protocol.ErrResolutionFailed):
		logger.Error("resolution execution failed", slog.Any("error", err))
		c.JSON(http.StatusBadGateway, ErrorResponse{
			Error: "decision recorded but execution failed: " + err.Error(),
			Code:  "RESOLUTION_FAILED",
		})
		return
	default:
		logger.Error("resolve failed", slog.Any("error", err))
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error: "resolve failed: " + err.Error(),
			Code:  "RESOLVE_FAILED",
		})
		return
	}

	status := protocol.StatusRejected
	if req.Accepted {
		status = protocol.StatusApproved
	}
	c.JSON(http.StatusOK, ResolveResponse{
		ProposalID: proposalID,
		Status:     status,
		Transcript: sess.History(),
	})
}

// HandleHistory handles GET /v1/copilot/history.
//
// Query Parameters:
//
//	session_id: The session whose transcript to return (required)
//
// Response:
//
//	200 OK: HistoryResponse
//	404 Not Found: Unknown session
//
// Thread Safety: This method is safe for concurrent use.
func (h *Handlers) HandleHistory(c *gin.Context) {
	sessionID := c.Query("session_id")
	if sessionID == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "session_id parameter is required",
			Code:  "MISSING_PARAMETER",
		})
		return
	}

	sess, ok := h.svc.Lookup(sessionID)
	if !ok {
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error: "session not found",
			Code:  "SESSION_NOT_FOUND",
		})
		return
	}

	c.JSON(http.StatusOK, HistoryResponse{
		SessionID: sessionID,
		Messages:  sess.History(),
	})
}

// HandleRender handles POST /v1/copilot/render.
//
// Description:
//
//	Parses narration text into structured blocks with clickable entity
//	spans. Pure and deterministic; safe to call repeatedly.
//
// Response:
//
//	200 OK: RenderResponse
//	400 Bad Request: Missing text
//
// Thread Safety: This method is safe for concurrent use.
func (h *Handlers) HandleRender(c *gin.Context) {
	var req RenderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "text is required",
			Code:  "MISSING_PARAMETER",
		})
		return
	}

	c.JSON(http.StatusOK, RenderResponse{
		Blocks:   evidence.Render(req.Text),
		Entities: evidence.References(req.Text),
	})
}

// HandleEvents handles GET /v1/copilot/events.
//
// Description:
//
//	Upgrades to a websocket and streams narration events for one
//	session until the client disconnects. Delivery is best-effort: a
//	slow client misses events rather than stalling the agent. Inbound
//	frames are agent actions delivered over the transport; they are
//	receipt-stamped here and admitted through the session's staleness
//	gate, so actions replayed from before the last remount are dropped.
//
// Query Parameters:
//
//	session_id: The session whose events to stream (required)
//
// Thread Safety: This method is safe for concurrent use.
func (h *Handlers) HandleEvents(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleEvents")

	sessionID := c.Query("session_id")
	if sessionID == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "session_id parameter is required",
			Code:  "MISSING_PARAMETER",
		})
		return
	}
	sess, ok := h.svc.Lookup(sessionID)
	if !ok {
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error: "session not found",
			Code:  "SESSION_NOT_FOUND",
		})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warn("websocket upgrade failed", slog.Any("error", err))
		return
	}
	defer conn.Close()

	events, cancel := sess.Events()
	defer cancel()

	// Reader goroutine admits inbound actions and notices disconnects.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var raw protocol.ActionResponse
			if err := json.Unmarshal(data, &raw); err != nil {
				logger.Debug("undecodable inbound frame dropped", slog.Any("error", err))
				continue
			}
			if err := sess.DeliverExternal(c.Request.Context(), raw, time.Now()); err != nil {
				logger.Debug("inbound action not admitted", slog.Any("error", err))
			}
		}
	}()

	logger.Info("event stream attached", slog.String("session_id", sessionID))
	for {
		select {
		case <-closed:
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := conn.WriteJSON(ev); err != nil {
				logger.Debug("event write failed, closing stream", slog.Any("error", err))
				return
			}
		}
	}
}

// HandleHealth handles GET /v1/copilot/health.
func (h *Handlers) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

// HandleReady handles GET /v1/copilot/ready.
func (h *Handlers) HandleReady(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":   "ready",
		"sessions": h.svc.SessionCount(),
	})
}
