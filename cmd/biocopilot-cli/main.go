// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command biocopilot-cli is a terminal client for the BioCopilot server.
//
// Usage:
//
//	biocopilot-cli ask "what is TP53?"
//	biocopilot-cli chat
//	biocopilot-cli approve <proposal-id>
//	biocopilot-cli reject <proposal-id>
//
// The server address defaults to http://localhost:8090 and can be
// overridden with --server or BIOCOPILOT_SERVER.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// serverFlag and sessionFlag hold global flag values.
var (
	serverFlag  string
	sessionFlag string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "biocopilot-cli",
		Short: "Terminal client for the BioCopilot arbitration server",
		Long: `biocopilot-cli talks to a running BioCopilot server: ask single
questions, hold an interactive chat, and decide on pending action
proposals from the terminal.`,
	}
	rootCmd.PersistentFlags().StringVar(&serverFlag, "server", defaultServer(),
		"BioCopilot server base URL")
	rootCmd.PersistentFlags().StringVar(&sessionFlag, "session", "cli",
		"Session ID to use")

	askCmd := &cobra.Command{
		Use:   "ask [question...]",
		Short: "Ask a single question and print the arbitrated response",
		Args:  cobra.MinimumNArgs(1),
		Run:   runAskCommand,
	}

	chatCmd := &cobra.Command{
		Use:   "chat",
		Short: "Interactive chat with inline proposal decisions",
		Run:   runChatCommand,
	}

	approveCmd := &cobra.Command{
		Use:   "approve <proposal-id>",
		Short: "Approve a pending proposal",
		Args:  cobra.ExactArgs(1),
		Run:   runApproveCommand,
	}

	rejectCmd := &cobra.Command{
		Use:   "reject <proposal-id>",
		Short: "Reject a pending proposal",
		Args:  cobra.ExactArgs(1),
		Run:   runRejectCommand,
	}

	historyCmd := &cobra.Command{
		Use:   "history",
		Short: "Print the session transcript",
		Run:   runHistoryCommand,
	}

	rootCmd.AddCommand(askCmd, chatCmd, approveCmd, rejectCmd, historyCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func defaultServer() string {
	if v := os.Getenv("BIOCOPILOT_SERVER"); v != "" {
		return v
	}
	return "http://localhost:8090"
}
