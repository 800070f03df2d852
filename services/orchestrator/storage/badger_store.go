// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/AleutianAI/AleutianRelay/services/orchestrator/datatypes"
)

// =============================================================================
// Configuration
// =============================================================================

// Config holds configuration for a BadgerDB-backed Store.
type Config struct {
	// Path is the directory for BadgerDB files.
	// Required for persistent databases. Ignored when InMemory is true.
	Path string

	// InMemory enables in-memory mode (no disk persistence).
	// Useful for testing.
	InMemory bool

	// SyncWrites enables synchronous writes for durability.
	// Default: true for production, false for testing.
	SyncWrites bool

	// Logger is the logger for BadgerDB operations.
	// If nil, BadgerDB's internal logging is disabled.
	Logger *slog.Logger
}

// DefaultConfig returns sensible defaults for production use.
func DefaultConfig(path string) Config {
	return Config{
		Path:       path,
		SyncWrites: true,
	}
}

// InMemoryConfig returns configuration optimized for testing.
func InMemoryConfig() Config {
	return Config{
		InMemory:   true,
		SyncWrites: false,
	}
}

// badgerLogger adapts slog.Logger to BadgerDB's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// =============================================================================
// BadgerStore
// =============================================================================

// Key layout. All segments are length-safe because Badger keys are raw
// bytes; the separator only has to keep prefixes unambiguous for scans.
//
//	msg/<user>/<workspace>/<session>/<nanos>-<i>  -> Message JSON
//	doc/<user>/<workspace>/<docID>                -> DocumentRecord JSON
//	idx/<user>/<workspace>                        -> index path string
//	ses/<user>/<workspace>/<sessionID>            -> SessionRecord JSON

// BadgerStore implements Store over a BadgerDB instance.
//
// Safe for concurrent use; Badger provides transactional isolation.
type BadgerStore struct {
	db     *badger.DB
	logger *slog.Logger
}

// NewBadgerStore opens (or creates) the database described by cfg.
func NewBadgerStore(cfg Config) (*BadgerStore, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if cfg.Path == "" {
			return nil, fmt.Errorf("badger store requires a path for persistent mode")
		}
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, fmt.Errorf("failed to create badger directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(filepath.Clean(cfg.Path))
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger database: %w", err)
	}

	return &BadgerStore{db: db, logger: logger.With("component", "storage")}, nil
}

// Close releases the underlying database.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}

// =============================================================================
// Messages
// =============================================================================

func messagePrefix(user, workspace, session string) []byte {
	return []byte(fmt.Sprintf("msg/%s/%s/%s/", user, workspace, session))
}

// LoadMessages implements Store. Keys embed a nanosecond timestamp, so a
// forward scan over the session prefix is chronological.
func (s *BadgerStore) LoadMessages(ctx context.Context, user, workspace, session string, limit int) ([]datatypes.Message, error) {
	prefix := messagePrefix(user, workspace, session)
	var msgs []datatypes.Message

	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Prefix: prefix, PrefetchValues: true})
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			err := it.Item().Value(func(val []byte) error {
				var m datatypes.Message
				if err := json.Unmarshal(val, &m); err != nil {
					return err
				}
				msgs = append(msgs, m)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, &StoreError{Op: "load_messages", Key: string(prefix), Err: err}
	}

	// Keep the most recent window when a limit applies: recency matters
	// more than depth for conversation context.
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return msgs, nil
}

// AppendMessages implements Store.
func (s *BadgerStore) AppendMessages(ctx context.Context, user, workspace, session string, msgs []datatypes.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	prefix := messagePrefix(user, workspace, session)
	now := time.Now().UnixNano()

	err := s.db.Update(func(txn *badger.Txn) error {
		for i, m := range msgs {
			if err := ctx.Err(); err != nil {
				return err
			}
			if m.CreatedAt.IsZero() {
				m.CreatedAt = time.Now().UTC()
			}
			val, err := json.Marshal(m)
			if err != nil {
				return err
			}
			key := fmt.Sprintf("%s%020d-%04d", prefix, now, i)
			if err := txn.Set([]byte(key), val); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return &StoreError{Op: "append_messages", Key: string(prefix), Err: err}
	}
	return nil
}

// =============================================================================
// Documents
// =============================================================================

func documentPrefix(user, workspace string) []byte {
	return []byte(fmt.Sprintf("doc/%s/%s/", user, workspace))
}

func indexPathKey(user, workspace string) []byte {
	return []byte(fmt.Sprintf("idx/%s/%s", user, workspace))
}

// ListWorkspaceDocuments implements Store.
func (s *BadgerStore) ListWorkspaceDocuments(ctx context.Context, user, workspace string) ([]datatypes.DocumentRecord, string, error) {
	prefix := documentPrefix(user, workspace)
	var records []datatypes.DocumentRecord
	var indexPath string

	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Prefix: prefix, PrefetchValues: true})
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			err := it.Item().Value(func(val []byte) error {
				var rec datatypes.DocumentRecord
				if err := json.Unmarshal(val, &rec); err != nil {
					return err
				}
				records = append(records, rec)
				return nil
			})
			if err != nil {
				return err
			}
		}

		item, err := txn.Get(indexPathKey(user, workspace))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			indexPath = string(val)
			return nil
		})
	})
	if err != nil {
		return nil, "", &StoreError{Op: "list_documents", Key: string(prefix), Err: err}
	}
	return records, indexPath, nil
}

// UpsertDocument implements Store.
func (s *BadgerStore) UpsertDocument(ctx context.Context, user, workspace string, rec datatypes.DocumentRecord) error {
	if rec.DocID == "" {
		return &StoreError{Op: "upsert_document", Key: rec.Path, Err: fmt.Errorf("missing doc_id")}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if rec.AddedAt.IsZero() {
		rec.AddedAt = time.Now().UTC()
	}
	key := fmt.Sprintf("%s%s", documentPrefix(user, workspace), rec.DocID)

	err := s.db.Update(func(txn *badger.Txn) error {
		val, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		if err := txn.Set([]byte(key), val); err != nil {
			return err
		}
		if rec.IndexPath != "" {
			return txn.Set(indexPathKey(user, workspace), []byte(rec.IndexPath))
		}
		return nil
	})
	if err != nil {
		return &StoreError{Op: "upsert_document", Key: key, Err: err}
	}
	return nil
}

// =============================================================================
// Sessions
// =============================================================================

func sessionPrefix(user, workspace string) []byte {
	return []byte(fmt.Sprintf("ses/%s/%s/", user, workspace))
}

// ListSessions implements Store.
func (s *BadgerStore) ListSessions(ctx context.Context, user, workspace string) ([]datatypes.SessionRecord, error) {
	prefix := sessionPrefix(user, workspace)
	var records []datatypes.SessionRecord

	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Prefix: prefix, PrefetchValues: true})
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			err := it.Item().Value(func(val []byte) error {
				var rec datatypes.SessionRecord
				if err := json.Unmarshal(val, &rec); err != nil {
					return err
				}
				records = append(records, rec)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, &StoreError{Op: "list_sessions", Key: string(prefix), Err: err}
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].UpdatedAt.After(records[j].UpdatedAt)
	})
	return records, nil
}

// UpsertSession implements Store.
func (s *BadgerStore) UpsertSession(ctx context.Context, user, workspace string, rec datatypes.SessionRecord) error {
	if rec.SessionID == "" {
		return &StoreError{Op: "upsert_session", Key: "", Err: fmt.Errorf("missing session_id")}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	now := time.Now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now
	key := fmt.Sprintf("%s%s", sessionPrefix(user, workspace), rec.SessionID)

	err := s.db.Update(func(txn *badger.Txn) error {
		// Preserve the original creation time and name across refreshes.
		if item, err := txn.Get([]byte(key)); err == nil {
			_ = item.Value(func(val []byte) error {
				var prev datatypes.SessionRecord
				if json.Unmarshal(val, &prev) == nil {
					rec.CreatedAt = prev.CreatedAt
					if rec.Name == "" {
						rec.Name = prev.Name
					}
				}
				return nil
			})
		}
		val, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		return txn.Set([]byte(key), val)
	})
	if err != nil {
		return &StoreError{Op: "upsert_session", Key: key, Err: err}
	}
	return nil
}

// Compile-time interface compliance.
var _ Store = (*BadgerStore)(nil)
