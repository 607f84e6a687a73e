// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package store persists session transcripts in BadgerDB so sessions
// survive service restarts. The conversation reconciler treats this
// store as the external owner of the transcript: every locally
// originated change is pushed here, and on session creation the stored
// transcript is synced back in.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/AleutianAI/BioCopilot/services/copilot/protocol"
)

// BadgerDB key schema for session records.
const (
	keyPrefixSession    = "copilot:session:"
	keySuffixTranscript = ":transcript"
	keySuffixMeta       = ":meta"
)

// SessionRecord is the stored metadata for one session.
type SessionRecord struct {
	// SessionID is the session's identifier.
	SessionID string `json:"session_id"`

	// UpdatedAtMilli is when the transcript was last written (Unix
	// milliseconds UTC).
	UpdatedAtMilli int64 `json:"updated_at_milli"`

	// MessageCount is the number of transcript entries.
	MessageCount int `json:"message_count"`

	// PendingCount is the number of PENDING proposal cards in the
	// transcript at write time.
	PendingCount int `json:"pending_count"`
}

// Store manages saving and loading session transcripts in BadgerDB.
//
// Description:
//
//	Each session stores its full transcript as JSON plus a metadata
//	record for listing. Writes are transactional: transcript and
//	metadata always move together.
//
// Thread Safety:
//
//	Safe for concurrent use. BadgerDB handles its own concurrency
//	control.
type Store struct {
	db        *badger.DB
	retention time.Duration
	logger    *slog.Logger
}

// Open opens (or creates) a BadgerDB session store at path.
//
// Description:
//
//	Opens BadgerDB with internal logging suppressed and wraps it in a
//	Store. retention, when positive, sets an entry TTL on every write
//	so abandoned sessions age out of the database on their own.
//
// Inputs:
//
//	path - Directory for the BadgerDB files. Must not be empty.
//	retention - Entry TTL for session records. <= 0 means no expiry.
//	logger - Logger for diagnostic output. Nil falls back to slog.Default().
//
// Outputs:
//
//	*Store - The opened store. Callers own Close.
//	error - Non-nil if the database cannot be opened.
func Open(path string, retention time.Duration, logger *slog.Logger) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("store path must not be empty")
	}
	opts := badger.DefaultOptions(path).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening badger at %s: %w", path, err)
	}
	return NewStore(db, retention, logger)
}

// NewStore wraps an already-opened BadgerDB instance.
//
// Inputs:
//
//	db - An opened BadgerDB instance. Must not be nil.
//	retention - Entry TTL for session records. <= 0 means no expiry.
//	logger - Logger for diagnostic output. Nil falls back to slog.Default().
func NewStore(db *badger.DB, retention time.Duration, logger *slog.Logger) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("badger db must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{db: db, retention: retention, logger: logger}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveTranscript persists a session's transcript.
//
// Description:
//
//	Serializes the transcript to JSON and stores it together with a
//	refreshed SessionRecord in a single transaction.
//
// Key Schema:
//
//	copilot:session:{sessionID}:transcript → JSON([]protocol.ChatMessage)
//	copilot:session:{sessionID}:meta       → JSON(SessionRecord)
func (s *Store) SaveTranscript(ctx context.Context, sessionID string, messages []protocol.ChatMessage) error {
	if ctx == nil {
		return fmt.Errorf("ctx must not be nil")
	}
	if sessionID == "" {
		return fmt.Errorf("session ID must not be empty")
	}

	data, err := json.Marshal(messages)
	if err != nil {
		return fmt.Errorf("marshaling transcript: %w", err)
	}

	record := SessionRecord{
		SessionID:      sessionID,
		UpdatedAtMilli: time.Now().UnixMilli(),
		MessageCount:   len(messages),
		PendingCount:   countPending(messages),
	}
	recordJSON, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshaling session record: %w", err)
	}

	transcriptKey := keyPrefixSession + sessionID + keySuffixTranscript
	metaKey := keyPrefixSession + sessionID + keySuffixMeta

	err = s.db.Update(func(txn *badger.Txn) error {
		if err := txn.SetEntry(s.entry(transcriptKey, data)); err != nil {
			return fmt.Errorf("storing transcript: %w", err)
		}
		if err := txn.SetEntry(s.entry(metaKey, recordJSON)); err != nil {
			return fmt.Errorf("storing session record: %w", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("writing session %s to badger: %w", sessionID, err)
	}

	s.logger.Debug("transcript persisted",
		slog.String("session_id", sessionID),
		slog.Int("message_count", record.MessageCount),
		slog.Int("pending_count", record.PendingCount),
	)
	return nil
}

// LoadTranscript retrieves a session's stored transcript.
//
// Outputs:
//
//	[]protocol.ChatMessage - The stored transcript. Nil when the
//	session has no stored transcript; that is not an error.
//	error - Non-nil if the read or decode fails.
func (s *Store) LoadTranscript(ctx context.Context, sessionID string) ([]protocol.ChatMessage, error) {
	if ctx == nil {
		return nil, fmt.Errorf("ctx must not be nil")
	}
	if sessionID == "" {
		return nil, fmt.Errorf("session ID must not be empty")
	}

	transcriptKey := keyPrefixSession + sessionID + keySuffixTranscript

	var data []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(transcriptKey))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if err == badger.ErrKeyNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading transcript for %s: %w", sessionID, err)
	}

	var messages []protocol.ChatMessage
	if err := json.Unmarshal(data, &messages); err != nil {
		return nil, fmt.Errorf("unmarshaling transcript for %s: %w", sessionID, err)
	}
	return messages, nil
}

// List returns stored session records, newest first.
//
// Inputs:
//
//	ctx - Context for cancellation. Must not be nil.
//	limit - Maximum number of results. If <= 0, defaults to 100.
func (s *Store) List(ctx context.Context, limit int) ([]*SessionRecord, error) {
	if ctx == nil {
		return nil, fmt.Errorf("ctx must not be nil")
	}
	if limit <= 0 {
		limit = 100
	}

	var results []*SessionRecord

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(keyPrefixSession)

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek([]byte(keyPrefixSession)); it.Valid(); it.Next() {
			item := it.Item()
			key := string(item.Key())

			// Only process metadata keys
			if !isMetaKey(key) {
				continue
			}

			var record SessionRecord
			err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &record)
			})
			if err != nil {
				s.logger.Warn("skipping corrupt session record", slog.String("key", key), slog.Any("error", err))
				continue
			}

			results = append(results, &record)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}

	sortRecordsByDate(results)

	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// Delete removes a session's stored transcript and record.
func (s *Store) Delete(ctx context.Context, sessionID string) error {
	if ctx == nil {
		return fmt.Errorf("ctx must not be nil")
	}
	if sessionID == "" {
		return fmt.Errorf("session ID must not be empty")
	}

	transcriptKey := keyPrefixSession + sessionID + keySuffixTranscript
	metaKey := keyPrefixSession + sessionID + keySuffixMeta

	err := s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Delete([]byte(transcriptKey)); err != nil && err != badger.ErrKeyNotFound {
			return fmt.Errorf("deleting transcript: %w", err)
		}
		if err := txn.Delete([]byte(metaKey)); err != nil && err != badger.ErrKeyNotFound {
			return fmt.Errorf("deleting session record: %w", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("deleting session %s: %w", sessionID, err)
	}

	s.logger.Info("session deleted from store", slog.String("session_id", sessionID))
	return nil
}

// entry builds a badger entry, applying the retention TTL when set.
func (s *Store) entry(key string, value []byte) *badger.Entry {
	e := badger.NewEntry([]byte(key), value)
	if s.retention > 0 {
		e = e.WithTTL(s.retention)
	}
	return e
}

// countPending counts PENDING proposal cards in a transcript.
func countPending(messages []protocol.ChatMessage) int {
	n := 0
	for _, msg := range messages {
		if msg.Card != nil && msg.Card.Status == protocol.StatusPending {
			n++
		}
	}
	return n
}

// isMetaKey returns true if the key ends with the metadata suffix.
func isMetaKey(key string) bool {
	return len(key) > len(keySuffixMeta) && key[len(key)-len(keySuffixMeta):] == keySuffixMeta
}

// sortRecordsByDate sorts records by UpdatedAtMilli descending.
func sortRecordsByDate(records []*SessionRecord) {
	for i := 1; i < len(records); i++ {
		for j := i; j > 0 && records[j].UpdatedAtMilli > records[j-1].UpdatedAtMilli; j-- {
			records[j], records[j-1] = records[j-1], records[j]
		}
	}
}
