// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// session_store_dump inspects the BioCopilot session store.
//
// The copilot server persists session transcripts in BadgerDB between
// restarts. This tool opens the store read-only and prints a
// human-readable summary: session IDs, message and pending-proposal
// counts, last-write times, and TTL remaining. With --session it dumps
// one session's full transcript.
//
// Usage:
//
//	session_store_dump [--path /path/to/store] [--session <id>]
//
// If --path is not given, reads COPILOT_STORE_DIR from the environment,
// falling back to ~/.biocopilot/store/.
//
// Exit codes:
//
//	0 — success (including "empty store" which prints a message and exits 0)
//	1 — error opening or reading the database
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	dgbadger "github.com/dgraph-io/badger/v4"
)

// Key schema constants must match the store package exactly.
const (
	sessionKeyPrefix    = "copilot:session:"
	transcriptKeySuffix = ":transcript"
	metaKeySuffix       = ":meta"
)

// sessionRecord mirrors store.SessionRecord.
type sessionRecord struct {
	SessionID      string `json:"session_id"`
	UpdatedAtMilli int64  `json:"updated_at_milli"`
	MessageCount   int    `json:"message_count"`
	PendingCount   int    `json:"pending_count"`
}

// storedMessage is the subset of a transcript entry this tool prints.
type storedMessage struct {
	Kind      string `json:"kind"`
	Role      string `json:"role"`
	Content   string `json:"content"`
	Timestamp int64  `json:"timestamp"`
	Card      *struct {
		Proposal struct {
			ProposalID string `json:"proposal_id"`
			ToolName   string `json:"tool_name"`
			SafetyTier string `json:"safety_tier"`
		} `json:"proposal"`
		Status string `json:"status"`
	} `json:"card,omitempty"`
}

func main() {
	pathFlag := flag.String("path", "", "Path to session store BadgerDB directory (overrides COPILOT_STORE_DIR env var)")
	sessionFlag := flag.String("session", "", "Dump one session's full transcript")
	flag.Parse()

	dbPath := *pathFlag
	if dbPath == "" {
		dbPath = os.Getenv("COPILOT_STORE_DIR")
	}
	if dbPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			fatalf("cannot resolve home directory: %v", err)
		}
		dbPath = filepath.Join(home, ".biocopilot", "store")
	}

	fmt.Printf("Session store path: %s\n", dbPath)

	// Check existence before trying to open — gives a cleaner error message
	// than BadgerDB's "no such file or directory" buried in a long error.
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		fmt.Println("Store directory does not exist. The server has not yet persisted any sessions.")
		fmt.Println("Start the copilot server with COPILOT_STORE_DIR set to enable persistence.")
		os.Exit(0)
	}

	opts := dgbadger.DefaultOptions(dbPath).
		WithLogger(nil). // suppress BadgerDB internal logs
		WithReadOnly(true)

	db, err := dgbadger.Open(opts)
	if err != nil {
		fatalf("open BadgerDB at %s: %v", dbPath, err)
	}
	defer func() { _ = db.Close() }()

	if *sessionFlag != "" {
		dumpTranscript(db, *sessionFlag)
		return
	}

	type entry struct {
		record    sessionRecord
		expiresAt time.Time
		hasExpiry bool
		decodeErr error
	}

	var entries []entry

	err = db.View(func(txn *dgbadger.Txn) error {
		opts := dgbadger.DefaultIteratorOptions
		opts.PrefetchValues = true
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(sessionKeyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			key := string(item.Key())
			if !strings.HasSuffix(key, metaKeySuffix) {
				continue
			}

			var e entry
			if expiresAt := item.ExpiresAt(); expiresAt > 0 {
				e.hasExpiry = true
				e.expiresAt = time.Unix(int64(expiresAt), 0)
			}

			raw, err := item.ValueCopy(nil)
			if err != nil {
				e.decodeErr = fmt.Errorf("copy value: %w", err)
				entries = append(entries, e)
				continue
			}
			if err := json.Unmarshal(raw, &e.record); err != nil {
				e.decodeErr = fmt.Errorf("json decode: %w", err)
			}
			entries = append(entries, e)
		}
		return nil
	})
	if err != nil {
		fatalf("read BadgerDB: %v", err)
	}

	if len(entries) == 0 {
		fmt.Println("\nNo stored sessions found.")
		os.Exit(0)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].record.UpdatedAtMilli > entries[j].record.UpdatedAtMilli
	})

	fmt.Printf("\nFound %d stored session%s:\n", len(entries), plural(len(entries), "", "s"))
	fmt.Println(strings.Repeat("─", 80))

	for i, e := range entries {
		if e.decodeErr != nil {
			fmt.Printf("\n[%d] DECODE ERROR: %v\n", i+1, e.decodeErr)
			continue
		}
		fmt.Printf("\n[%d] Session:   %s\n", i+1, e.record.SessionID)
		fmt.Printf("    Messages:  %d (%d pending proposal%s)\n",
			e.record.MessageCount, e.record.PendingCount, plural(e.record.PendingCount, "", "s"))
		fmt.Printf("    Updated:   %s\n",
			time.UnixMilli(e.record.UpdatedAtMilli).Format("2006-01-02 15:04:05 MST"))

		if e.hasExpiry {
			remaining := time.Until(e.expiresAt)
			if remaining < 0 {
				fmt.Printf("    TTL:       EXPIRED (%s ago)\n", (-remaining).Round(time.Second))
			} else {
				fmt.Printf("    TTL:       %s remaining\n", remaining.Round(time.Second))
			}
		} else {
			fmt.Printf("    TTL:       no expiry set\n")
		}
	}

	fmt.Printf("\n%s\n", strings.Repeat("─", 80))
	fmt.Printf("Summary: %d session%s, store path: %s\n",
		len(entries), plural(len(entries), "", "s"), dbPath)
}

// dumpTranscript prints one session's stored transcript.
func dumpTranscript(db *dgbadger.DB, sessionID string) {
	key := sessionKeyPrefix + sessionID + transcriptKeySuffix

	var raw []byte
	err := db.View(func(txn *dgbadger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		raw, err = item.ValueCopy(nil)
		return err
	})
	if err == dgbadger.ErrKeyNotFound {
		fmt.Printf("\nNo stored transcript for session %q.\n", sessionID)
		os.Exit(0)
	}
	if err != nil {
		fatalf("read transcript for %s: %v", sessionID, err)
	}

	var messages []storedMessage
	if err := json.Unmarshal(raw, &messages); err != nil {
		fatalf("decode transcript for %s: %v", sessionID, err)
	}

	fmt.Printf("\nSession %q: %d message%s\n", sessionID, len(messages), plural(len(messages), "", "s"))
	fmt.Println(strings.Repeat("─", 80))

	for _, msg := range messages {
		ts := time.UnixMilli(msg.Timestamp).Format("15:04:05")
		if msg.Card != nil {
			fmt.Printf("[%s] %-9s  proposal %s  tool=%s  tier=%s  status=%s\n",
				ts, msg.Role, msg.Card.Proposal.ProposalID,
				msg.Card.Proposal.ToolName, msg.Card.Proposal.SafetyTier, msg.Card.Status)
			continue
		}
		content := msg.Content
		if len(content) > 100 {
			content = content[:100] + "..."
		}
		fmt.Printf("[%s] %-9s  %s\n", ts, msg.Role, content)
	}
}

// plural returns singular or plural suffix based on count.
func plural(n int, singular, pluralSuffix string) string {
	if n == 1 {
		return singular
	}
	return pluralSuffix
}

// fatalf prints to stderr and exits 1.
func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "session_store_dump: "+format+"\n", args...)
	os.Exit(1)
}
