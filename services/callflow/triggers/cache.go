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

import (
	"strings"
	"sync"
	"time"
)

// =============================================================================
// In-Memory Rule Cache
// =============================================================================

// Cache is the resolver's cache abstraction. It lives behind an interface so
// the pure merge and routing logic stays independently testable without a
// cache dependency.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use. Concurrent writes to the
// same key are idempotent — the recomputed value is structurally identical —
// so last-writer-wins is acceptable.
type Cache interface {
	// Get returns the cached rule set for key, or (nil, false) on miss or
	// TTL expiry.
	Get(key string) ([]TriggerRule, bool)

	// Set stores a rule set under key with the cache's TTL.
	Set(key string, rules []TriggerRule)

	// Invalidate removes every entry whose key contains substr.
	Invalidate(substr string)

	// Clear removes all entries. Administrative reset.
	Clear()
}

// ruleCacheEntry pairs a rule set with its insertion time.
type ruleCacheEntry struct {
	rules      []TriggerRule
	insertedAt time.Time
}

// RuleCache is the process-wide in-memory Cache: fixed TTL per entry,
// substring invalidation, and oldest-inserted-first eviction once the soft
// capacity is reached. Eviction is a soft cap, not a correctness property —
// a dropped entry just costs one recompute.
type RuleCache struct {
	mu         sync.RWMutex
	entries    map[string]ruleCacheEntry
	order      []string // insertion order for FIFO eviction
	ttl        time.Duration
	maxEntries int
	now        func() time.Time
}

// NewRuleCache creates a RuleCache.
//
// # Inputs
//
//   - ttl: Per-entry lifetime. Values <= 0 use 5 minutes.
//   - maxEntries: Soft capacity. Values <= 0 use 256.
//
// # Thread Safety
//
// The returned cache is safe for concurrent use.
func NewRuleCache(ttl time.Duration, maxEntries int) *RuleCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if maxEntries <= 0 {
		maxEntries = 256
	}
	return &RuleCache{
		entries:    make(map[string]ruleCacheEntry),
		ttl:        ttl,
		maxEntries: maxEntries,
		now:        time.Now,
	}
}

// Get returns the cached rule set for key if present and within TTL.
func (c *RuleCache) Get(key string) ([]TriggerRule, bool) {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if c.now().Sub(entry.insertedAt) > c.ttl {
		// Expired. Leave removal to the next Set/eviction pass; an expired
		// entry is indistinguishable from a miss to callers.
		return nil, false
	}
	return entry.rules, true
}

// Set stores a rule set under key, evicting oldest-inserted entries past the
// soft capacity.
func (c *RuleCache) Set(key string, rules []TriggerRule) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists {
		c.order = append(c.order, key)
	}
	c.entries[key] = ruleCacheEntry{rules: rules, insertedAt: c.now()}

	for len(c.entries) > c.maxEntries && len(c.order) > 0 {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.entries, oldest)
	}
}

// Invalidate removes every entry whose key contains substr.
func (c *RuleCache) Invalidate(substr string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	kept := c.order[:0]
	for _, key := range c.order {
		if strings.Contains(key, substr) {
			delete(c.entries, key)
			continue
		}
		kept = append(kept, key)
	}
	c.order = kept
}

// Clear removes all entries.
func (c *RuleCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]ruleCacheEntry)
	c.order = nil
}

// Len returns the current entry count. Diagnostic use only.
func (c *RuleCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
