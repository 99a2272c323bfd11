// Copyright (C) 2025 Coastline AI (engineering@coastlineai.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package triggers

// =============================================================================
// PersistentRuleCache — Merged Rule Set Persistence
// =============================================================================
//
// A merged rule set is cheap to serve but moderately expensive to rebuild:
// four store reads plus the merge, on the hot path of the first call after a
// restart. This cache persists merged sets in BadgerDB between service
// restarts.
//
// Design choices:
//
//	1. The cache key is the resolver's (tenant, group, published version)
//	   key. Publishing a new version produces a different key, so stale
//	   entries become unreachable and age out via TTL — no explicit
//	   invalidation is needed for version bumps.
//
//	2. BadgerDB native TTL: expiry is enforced by BadgerDB's GC, not by
//	   application code. Expired keys return ErrKeyNotFound, which this
//	   cache treats as a miss.
//
//	3. Settings edits within a version DO need explicit invalidation; the
//	   TTL bounds how long a stale persistent entry can outlive an
//	   in-memory invalidation, so it is kept short (15 minutes).
//
// Storage layout:
//
//	triggers/rules/v1/{cacheKey}  →  gob-encoded []TriggerRule

import (
	"bytes"
	"context"
	"encoding/gob"
	"errors"
	"fmt"
	"log/slog"
	"time"

	dgbadger "github.com/dgraph-io/badger/v4"

	badgerstore "github.com/CoastlineAI/CoastlineVoice/services/callflow/storage/badger"
)

// ruleCacheDefaultTTL bounds how long a persisted rule set can serve after
// the in-memory tier was invalidated.
const ruleCacheDefaultTTL = 15 * time.Minute

// ruleCacheKeyPrefix is prepended to the resolver cache key to form the
// BadgerDB key. Versioned (v1) to allow future format changes without
// collision.
const ruleCacheKeyPrefix = "triggers/rules/v1/"

// errRuleCacheMiss distinguishes "key not found" from a genuine storage
// error inside Load.
var errRuleCacheMiss = errors.New("rule cache miss")

// PersistentRuleCache persists merged trigger-rule sets across service
// restarts, backed by a BadgerDB instance.
//
// # Description
//
// Rule sets are gob-encoded []TriggerRule. The cache is nil-safe at the
// resolver level: a resolver with no PersistentRuleCache operates
// memory-only, which is the correct behavior for tests and deployments
// without a cache directory.
//
// # Thread Safety
//
// Safe for concurrent use. BadgerDB transactions are per-goroutine.
type PersistentRuleCache struct {
	db     *badgerstore.DB
	ttl    time.Duration
	logger *slog.Logger
}

// NewPersistentRuleCache creates a PersistentRuleCache backed by the given
// DB instance.
//
// # Inputs
//
//   - db: Opened BadgerDB wrapper. Must not be nil; the caller owns its
//     lifecycle.
//   - ttl: Lifetime for each entry. Pass 0 to use the default (15 minutes).
//   - logger: Hit/miss diagnostics. May be nil.
//
// # Outputs
//
//   - *PersistentRuleCache: Ready to use. Never nil.
//
// # Thread Safety
//
// The returned cache is safe for concurrent use.
func NewPersistentRuleCache(db *badgerstore.DB, ttl time.Duration, logger *slog.Logger) *PersistentRuleCache {
	if db == nil {
		panic("NewPersistentRuleCache: db must not be nil")
	}
	if ttl <= 0 {
		ttl = ruleCacheDefaultTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PersistentRuleCache{db: db, ttl: ttl, logger: logger}
}

// Load retrieves a persisted rule set.
//
// # Outputs
//
//   - []TriggerRule: Nil on miss (key absent or TTL expired) and on error.
//   - error: Non-nil on storage or decode failure. Nil on miss and success.
//
// # Thread Safety
//
// Safe for concurrent use.
func (c *PersistentRuleCache) Load(ctx context.Context, cacheKey string) ([]TriggerRule, error) {
	key := []byte(ruleCacheKeyPrefix + cacheKey)

	var raw []byte
	err := c.db.WithReadTxn(ctx, func(txn *dgbadger.Txn) error {
		item, err := txn.Get(key)
		if errors.Is(err, dgbadger.ErrKeyNotFound) {
			return errRuleCacheMiss
		}
		if err != nil {
			return fmt.Errorf("get cache key: %w", err)
		}
		raw, err = item.ValueCopy(nil)
		if err != nil {
			return fmt.Errorf("copy value: %w", err)
		}
		return nil
	})

	if errors.Is(err, errRuleCacheMiss) {
		c.logger.Debug("rule cache: miss", slog.String("key", cacheKey))
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("rule cache load: %w", err)
	}

	var rules []TriggerRule
	if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&rules); err != nil {
		return nil, fmt.Errorf("rule cache decode: %w", err)
	}

	c.logger.Debug("rule cache: hit",
		slog.String("key", cacheKey),
		slog.Int("rule_count", len(rules)),
	)
	return rules, nil
}

// Save persists a merged rule set with the cache TTL.
//
// # Outputs
//
//   - error: Non-nil on encode or storage failure. The resolver logs it as
//     a warning and continues — persistence failure is non-fatal.
//
// # Thread Safety
//
// Safe for concurrent use.
func (c *PersistentRuleCache) Save(ctx context.Context, cacheKey string, rules []TriggerRule) error {
	if len(rules) == 0 {
		return nil
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(rules); err != nil {
		return fmt.Errorf("rule cache encode: %w", err)
	}

	key := []byte(ruleCacheKeyPrefix + cacheKey)
	err := c.db.WithTxn(ctx, func(txn *dgbadger.Txn) error {
		entry := dgbadger.NewEntry(key, buf.Bytes()).WithTTL(c.ttl)
		return txn.SetEntry(entry)
	})
	if err != nil {
		return fmt.Errorf("rule cache save: %w", err)
	}

	c.logger.Debug("rule cache: saved",
		slog.String("key", cacheKey),
		slog.Int("rule_count", len(rules)),
		slog.Duration("ttl", c.ttl),
	)
	return nil
}
