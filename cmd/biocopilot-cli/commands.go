// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/BioCopilot/services/copilot/evidence"
)

// Tier badge styles for terminal output.
var (
	greenStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true)
	yellowStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Bold(true)
	redStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
)

// tierBadge renders a colored safety tier label.
func tierBadge(tier string) string {
	switch tier {
	case "GREEN":
		return greenStyle.Render(tier)
	case "YELLOW":
		return yellowStyle.Render(tier)
	case "RED":
		return redStyle.Render(tier)
	default:
		return tier
	}
}

// queryRequest is the payload for POST /v1/copilot/query.
type queryRequest struct {
	SessionID string `json:"session_id"`
	Query     string `json:"query"`
}

// resolveRequest is the payload for POST /v1/copilot/proposals/:id/resolve.
type resolveRequest struct {
	SessionID string `json:"session_id"`
	Accepted  bool   `json:"accepted"`
}

// wireAction mirrors the arbitrated action the server returns.
type wireAction struct {
	Kind           string `json:"kind"`
	Content        string `json:"content"`
	ToolName       string `json:"tool_name,omitempty"`
	ProposalID     string `json:"proposal_id,omitempty"`
	ProposalReason string `json:"proposal_reason,omitempty"`
	SafetyTier     string `json:"safety_tier,omitempty"`
}

// wireCard mirrors a proposal card embedded in a transcript message.
type wireCard struct {
	Proposal   wireAction `json:"proposal"`
	Status     string     `json:"status"`
	CanApprove bool       `json:"can_approve"`
}

// wireMessage mirrors one transcript entry.
type wireMessage struct {
	Kind      string    `json:"kind"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp int64     `json:"timestamp"`
	Card      *wireCard `json:"card,omitempty"`
}

// queryResponse is the response from POST /v1/copilot/query.
type queryResponse struct {
	SessionID  string        `json:"session_id"`
	Action     wireAction    `json:"action"`
	Transcript []wireMessage `json:"transcript"`
}

// resolveResponse is the response from POST /v1/copilot/proposals/:id/resolve.
type resolveResponse struct {
	ProposalID string        `json:"proposal_id"`
	Status     string        `json:"status"`
	Transcript []wireMessage `json:"transcript"`
}

// historyResponse is the response from GET /v1/copilot/history.
type historyResponse struct {
	SessionID string        `json:"session_id"`
	Messages  []wireMessage `json:"messages"`
}

// apiError is the server's standard error envelope.
type apiError struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func runAskCommand(_ *cobra.Command, args []string) {
	query := strings.TrimSpace(strings.Join(args, " "))
	if query == "" {
		log.Fatalf("Usage: biocopilot-cli ask <question>")
	}
	result := submitQuery(query)
	printAction(result.Action)
}

func runChatCommand(_ *cobra.Command, _ []string) {
	fmt.Printf("BioCopilot chat (session %q, server %s)\n", sessionFlag, serverFlag)
	fmt.Println("Type 'exit' to quit. Pending proposals: 'approve <id>' / 'reject <id>'.")

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "exit" || line == "quit" || line == "q" {
			fmt.Println("Goodbye.")
			break
		}

		if id, ok := strings.CutPrefix(line, "approve "); ok {
			resolveProposal(strings.TrimSpace(id), true)
			continue
		}
		if id, ok := strings.CutPrefix(line, "reject "); ok {
			resolveProposal(strings.TrimSpace(id), false)
			continue
		}

		result := submitQuery(line)
		printAction(result.Action)

		// A decidable proposal gets an inline prompt so the decision
		// lands while the context is fresh.
		if result.Action.Kind == "PROPOSED" && result.Action.SafetyTier != "RED" {
			promptDecision(result.Action)
		}
	}
}

// promptDecision asks for an approve/reject decision on a fresh proposal.
func promptDecision(action wireAction) {
	approve := false
	form := huh.NewForm(huh.NewGroup(
		huh.NewConfirm().
			Title(fmt.Sprintf("Run %s?", action.ToolName)).
			Description(action.ProposalReason).
			Affirmative("Approve").
			Negative("Reject").
			Value(&approve),
	))
	if err := form.Run(); err != nil {
		fmt.Printf("Decision skipped (%v). Decide later with: approve %s / reject %s\n",
			err, action.ProposalID, action.ProposalID)
		return
	}
	resolveProposal(action.ProposalID, approve)
}

func runApproveCommand(_ *cobra.Command, args []string) {
	resolveProposal(args[0], true)
}

func runRejectCommand(_ *cobra.Command, args []string) {
	resolveProposal(args[0], false)
}

func runHistoryCommand(_ *cobra.Command, _ []string) {
	url := fmt.Sprintf("%s/v1/copilot/history?session_id=%s", serverFlag, sessionFlag)
	body := doGet(url)

	var result historyResponse
	if err := json.Unmarshal(body, &result); err != nil {
		log.Fatalf("failed to decode history response: %v", err)
	}
	if len(result.Messages) == 0 {
		fmt.Println("(empty transcript)")
		return
	}
	for _, msg := range result.Messages {
		printMessage(msg)
	}
}

// submitQuery posts a question to the copilot server and returns the
// arbitrated result.
func submitQuery(query string) queryResponse {
	url := fmt.Sprintf("%s/v1/copilot/query", serverFlag)
	body := doPost(url, queryRequest{SessionID: sessionFlag, Query: query})

	var result queryResponse
	if err := json.Unmarshal(body, &result); err != nil {
		log.Fatalf("failed to decode query response: %v", err)
	}
	return result
}

// resolveProposal sends a decision for one pending proposal and prints
// the terminal status plus any follow-up the agent produced.
func resolveProposal(proposalID string, accepted bool) {
	url := fmt.Sprintf("%s/v1/copilot/proposals/%s/resolve", serverFlag, proposalID)
	body := doPost(url, resolveRequest{SessionID: sessionFlag, Accepted: accepted})

	var result resolveResponse
	if err := json.Unmarshal(body, &result); err != nil {
		log.Fatalf("failed to decode resolve response: %v", err)
	}
	fmt.Printf("Proposal %s: %s\n", result.ProposalID, result.Status)

	// The follow-up, if any, is the last assistant text message.
	for i := len(result.Transcript) - 1; i >= 0; i-- {
		msg := result.Transcript[i]
		if msg.Role == "assistant" && msg.Kind == "text" {
			fmt.Println(evidence.RenderPlainText(msg.Content))
			break
		}
	}
}

func doPost(url string, payload any) []byte {
	jsonPayload, err := json.Marshal(payload)
	if err != nil {
		log.Fatalf("failed to encode request: %v", err)
	}

	client := &http.Client{Timeout: 5 * time.Minute}
	resp, err := client.Post(url, "application/json", bytes.NewBuffer(jsonPayload))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: BioCopilot server unavailable at %s\n", serverFlag)
		fmt.Fprintf(os.Stderr, "Start it with: ./copilot -port 8090\n")
		fmt.Fprintf(os.Stderr, "Or set BIOCOPILOT_SERVER to override the default address.\n")
		log.Fatalf("connection failed: %v", err)
	}
	return readBody(resp)
}

func doGet(url string) []byte {
	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Get(url)
	if err != nil {
		log.Fatalf("connection failed: %v", err)
	}
	return readBody(resp)
}

func readBody(resp *http.Response) []byte {
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			slog.Error("failed to close response body", "error", closeErr)
		}
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		log.Fatalf("failed to read response: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		var apiErr apiError
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Error != "" {
			log.Fatalf("Server error (HTTP %d, %s): %s", resp.StatusCode, apiErr.Code, apiErr.Error)
		}
		log.Fatalf("Server error (HTTP %d): %s", resp.StatusCode, string(body))
	}
	return body
}

// printAction renders one arbitrated action for the terminal. Entity
// tags in the narration are flattened to their bare IDs.
func printAction(action wireAction) {
	content := evidence.RenderPlainText(action.Content)
	switch action.Kind {
	case "PROPOSED":
		fmt.Printf("\n%s\n", content)
		fmt.Printf("\n[%s] Proposed action: %s (id %s)\n",
			tierBadge(action.SafetyTier), action.ToolName, action.ProposalID)
		if action.ProposalReason != "" {
			fmt.Printf("Reason: %s\n", action.ProposalReason)
		}
		if action.SafetyTier == "RED" {
			fmt.Printf("This action cannot be approved here: reject it, or run it yourself outside the agent.\n")
		} else {
			fmt.Printf("Decide with: approve %s  /  reject %s\n", action.ProposalID, action.ProposalID)
		}
	case "AUTO_EXECUTED":
		fmt.Printf("\n%s\n", content)
		fmt.Printf("[ran %s]\n", action.ToolName)
	default:
		fmt.Printf("\n%s\n", content)
	}
}

// printMessage renders one transcript entry for the history command.
func printMessage(msg wireMessage) {
	ts := time.UnixMilli(msg.Timestamp).Format("15:04:05")
	if msg.Card != nil {
		fmt.Printf("[%s] %s: proposal %s (%s, %s) -> %s\n",
			ts, msg.Role, msg.Card.Proposal.ProposalID,
			msg.Card.Proposal.ToolName, tierBadge(msg.Card.Proposal.SafetyTier),
			msg.Card.Status)
		return
	}
	fmt.Printf("[%s] %s: %s\n", ts, msg.Role, evidence.RenderPlainText(msg.Content))
}
