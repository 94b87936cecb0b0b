// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package profile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
)

// Key layout:
//
//	profile/<identityID>            -> Profile JSON
//	chat/<profileID>/<ts>-<uuid>    -> Message JSON
//
// The chat timestamp is zero-padded unix nanos so Badger's lexical key
// order is chronological order.
const (
	profilePrefix = "profile/"
	chatPrefix    = "chat/"
)

// incrementRetries bounds the optimistic-concurrency retry loop for
// IncrementUsage. Conflicts only happen when two requests for the same
// identity commit at once, so a handful of retries is plenty.
const incrementRetries = 8

// BadgerConfig holds configuration for the embedded profile store.
type BadgerConfig struct {
	// Path is the directory for BadgerDB files. Ignored when InMemory.
	Path string

	// InMemory enables in-memory mode (no disk persistence). For tests.
	InMemory bool

	// SyncWrites enables synchronous writes for durability.
	SyncWrites bool

	// Logger receives BadgerDB's internal logging. Nil disables it.
	Logger *slog.Logger

	// GCInterval is how often RunGC sweeps the value log. Default 5m.
	GCInterval time.Duration
}

// DefaultBadgerConfig returns production settings: durable synchronous
// writes and a five minute GC cadence.
func DefaultBadgerConfig(path string) BadgerConfig {
	return BadgerConfig{Path: path, SyncWrites: true, GCInterval: 5 * time.Minute}
}

// InMemoryBadgerConfig returns settings for tests: no disk IO, no GC.
func InMemoryBadgerConfig() BadgerConfig {
	return BadgerConfig{InMemory: true}
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

// BadgerStore implements Store on an embedded BadgerDB.
type BadgerStore struct {
	db         *badger.DB
	gcInterval time.Duration
	now        func() time.Time
}

// OpenBadger opens (or creates) the profile store.
func OpenBadger(cfg BadgerConfig) (*BadgerStore, error) {
	opts := badger.DefaultOptions(cfg.Path).
		WithInMemory(cfg.InMemory).
		WithSyncWrites(cfg.SyncWrites)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("profile: open badger at %q: %w", cfg.Path, err)
	}
	return &BadgerStore{db: db, gcInterval: cfg.GCInterval, now: time.Now}, nil
}

// Close releases the underlying database.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}

// RunGC sweeps the value log until ctx is cancelled. No-op when the
// configured interval is zero (in-memory mode).
func (s *BadgerStore) RunGC(ctx context.Context) {
	if s.gcInterval <= 0 {
		return
	}
	ticker := time.NewTicker(s.gcInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// ErrNoRewrite just means there was nothing worth collecting.
			if err := s.db.RunValueLogGC(0.5); err != nil && !errors.Is(err, badger.ErrNoRewrite) {
				slog.Warn("badger value log GC failed", "error", err)
			}
		}
	}
}

func profileKey(id string) []byte { return []byte(profilePrefix + id) }

func chatKey(profileID string, ts time.Time) []byte {
	return []byte(fmt.Sprintf("%s%s/%020d-%s", chatPrefix, profileID, ts.UnixNano(), uuid.NewString()))
}

// Get implements Store.
func (s *BadgerStore) Get(_ context.Context, id string) (*Profile, error) {
	var p Profile
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(profileKey(id))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &p)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("profile: get %s: %w", id, err)
	}
	return &p, nil
}

// Create implements Store. The existence check and the insert run in one
// transaction; two concurrent creators for the same id serialize through
// Badger's conflict detection, so exactly one insert wins and the loser
// sees ErrConflict.
func (s *BadgerStore) Create(_ context.Context, p *Profile) (*Profile, error) {
	if p == nil || p.ID == "" {
		return nil, fmt.Errorf("profile: create requires an id")
	}
	row := *p
	now := s.now().UTC()
	if row.CreatedAt.IsZero() {
		row.CreatedAt = now
	}
	row.UpdatedAt = now

	raw, err := json.Marshal(&row)
	if err != nil {
		return nil, fmt.Errorf("profile: encode %s: %w", row.ID, err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get(profileKey(row.ID))
		if err == nil {
			return ErrConflict
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return txn.Set(profileKey(row.ID), raw)
	})
	if errors.Is(err, ErrConflict) || errors.Is(err, badger.ErrConflict) {
		return nil, ErrConflict
	}
	if err != nil {
		return nil, fmt.Errorf("profile: create %s: %w", row.ID, err)
	}
	return &row, nil
}

// Update implements Store.
func (s *BadgerStore) Update(_ context.Context, id string, patch Patch) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(profileKey(id))
		if err != nil {
			return err
		}
		var p Profile
		if err := item.Value(func(val []byte) error { return json.Unmarshal(val, &p) }); err != nil {
			return err
		}
		if patch.Name != nil {
			p.Name = *patch.Name
		}
		if patch.Tier != nil {
			p.Tier = *patch.Tier
		}
		if patch.Status != nil {
			p.Status = *patch.Status
		}
		if patch.MessagesUsed != nil {
			p.MessagesUsed = *patch.MessagesUsed
		}
		p.UpdatedAt = s.now().UTC()
		raw, err := json.Marshal(&p)
		if err != nil {
			return err
		}
		return txn.Set(profileKey(id), raw)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("profile: update %s: %w", id, err)
	}
	return nil
}

// IncrementUsage implements Store. The read-modify-write runs inside one
// transaction and retries on commit conflicts, which makes the counter
// bump atomic even when two requests for the same identity land at once.
func (s *BadgerStore) IncrementUsage(_ context.Context, id string) (int, error) {
	var used int
	for attempt := 0; attempt < incrementRetries; attempt++ {
		err := s.db.Update(func(txn *badger.Txn) error {
			item, err := txn.Get(profileKey(id))
			if err != nil {
				return err
			}
			var p Profile
			if err := item.Value(func(val []byte) error { return json.Unmarshal(val, &p) }); err != nil {
				return err
			}
			p.MessagesUsed++
			p.UpdatedAt = s.now().UTC()
			used = p.MessagesUsed
			raw, err := json.Marshal(&p)
			if err != nil {
				return err
			}
			return txn.Set(profileKey(id), raw)
		})
		if errors.Is(err, badger.ErrConflict) {
			continue
		}
		if errors.Is(err, badger.ErrKeyNotFound) {
			return 0, ErrNotFound
		}
		if err != nil {
			return 0, fmt.Errorf("profile: increment usage %s: %w", id, err)
		}
		return used, nil
	}
	return 0, fmt.Errorf("profile: increment usage %s: gave up after %d conflicts", id, incrementRetries)
}

// AppendMessage implements Store.
func (s *BadgerStore) AppendMessage(_ context.Context, profileID string, m Message) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = s.now().UTC()
	}
	raw, err := json.Marshal(&m)
	if err != nil {
		return fmt.Errorf("profile: encode message: %w", err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(chatKey(profileID, m.CreatedAt), raw)
	})
	if err != nil {
		return fmt.Errorf("profile: append message for %s: %w", profileID, err)
	}
	return nil
}

// History implements Store.
func (s *BadgerStore) History(_ context.Context, profileID string, limit int) ([]Message, error) {
	prefix := []byte(chatPrefix + profileID + "/")
	var out []Message
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			var m Message
			if err := it.Item().Value(func(val []byte) error { return json.Unmarshal(val, &m) }); err != nil {
				return err
			}
			out = append(out, m)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("profile: history for %s: %w", profileID, err)
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}
