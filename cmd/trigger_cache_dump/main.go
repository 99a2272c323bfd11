// Copyright (C) 2025 Coastline AI (engineering@coastlineai.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// trigger_cache_dump inspects the Callflow service's persistent rule cache.
//
// The persistent cache stores merged trigger-rule sets in BadgerDB between
// service restarts, keyed by (tenant, group, published version). This tool
// opens the cache read-only and prints a human-readable summary: keys, TTL
// remaining, rule counts, and the priority order of each cached set.
//
// Usage:
//
//	trigger_cache_dump [--path /path/to/trigger/cache]
//
// If --path is not given, reads TRIGGER_CACHE_DIR from the environment,
// falling back to ~/.coastline/cache/triggers/.
//
// Exit codes:
//
//	0 — success (including "empty cache" which prints a message and exits 0)
//	1 — error opening or reading the database
package main

import (
	"bytes"
	"encoding/gob"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	dgbadger "github.com/dgraph-io/badger/v4"

	"github.com/CoastlineAI/CoastlineVoice/services/callflow/triggers"
)

// triggerCacheKeyPrefix must match persistent_cache.go exactly.
const triggerCacheKeyPrefix = "triggers/rules/v1/"

func main() {
	pathFlag := flag.String("path", "", "Path to trigger BadgerDB directory (overrides TRIGGER_CACHE_DIR env var)")
	flag.Parse()

	dbPath := *pathFlag
	if dbPath == "" {
		dbPath = os.Getenv("TRIGGER_CACHE_DIR")
	}
	if dbPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			fatalf("cannot resolve home directory: %v", err)
		}
		dbPath = filepath.Join(home, ".coastline", "cache", "triggers")
	}

	fmt.Printf("Trigger cache path: %s\n", dbPath)

	// Check existence before trying to open — gives a cleaner error message
	// than BadgerDB's "no such file or directory" buried in a long error.
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		fmt.Println("Cache directory does not exist. The service has not yet cached any rule sets.")
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

	type entry struct {
		key       string
		cacheKey  string
		expiresAt time.Time
		hasExpiry bool
		rules     []triggers.TriggerRule
		rawSize   int
		decodeErr error
	}

	var entries []entry

	err = db.View(func(txn *dgbadger.Txn) error {
		iopts := dgbadger.DefaultIteratorOptions
		iopts.PrefetchValues = true
		it := txn.NewIterator(iopts)
		defer it.Close()

		prefix := []byte(triggerCacheKeyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			key := string(item.Key())

			var e entry
			e.key = key
			e.cacheKey = strings.TrimPrefix(key, triggerCacheKeyPrefix)

			// TTL: item.ExpiresAt() returns Unix seconds, 0 = no expiry.
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
			e.rawSize = len(raw)

			var rules []triggers.TriggerRule
			if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&rules); err != nil {
				e.decodeErr = fmt.Errorf("gob decode: %w", err)
			} else {
				e.rules = rules
			}

			entries = append(entries, e)
		}
		return nil
	})
	if err != nil {
		fatalf("read BadgerDB: %v", err)
	}

	if len(entries) == 0 {
		fmt.Println("\nNo trigger cache entries found.")
		fmt.Println("The service has opened but no tenant rule set has been resolved yet.")
		os.Exit(0)
	}

	fmt.Printf("\nFound %d trigger cache entr%s:\n", len(entries), plural(len(entries), "y", "ies"))
	fmt.Println(strings.Repeat("─", 80))

	for i, e := range entries {
		fmt.Printf("\n[%d] Key:       %s\n", i+1, e.key)
		fmt.Printf("    Cache key: %s\n", e.cacheKey)

		if e.hasExpiry {
			remaining := time.Until(e.expiresAt)
			if remaining < 0 {
				fmt.Printf("    TTL:       EXPIRED (%s ago)\n", (-remaining).Round(time.Second))
			} else {
				fmt.Printf("    TTL:       %s remaining (expires %s)\n",
					remaining.Round(time.Second),
					e.expiresAt.Format("2006-01-02 15:04:05 MST"),
				)
			}
		} else {
			fmt.Printf("    TTL:       no expiry set\n")
		}

		fmt.Printf("    Raw size:  %d bytes\n", e.rawSize)

		if e.decodeErr != nil {
			fmt.Printf("    DECODE ERROR: %v\n", e.decodeErr)
			continue
		}

		fmt.Printf("    Rules:     %d\n", len(e.rules))
		fmt.Printf("\n    %-4s  %-28s  %-8s  %-10s  %s\n", "Prio", "Rule", "Scope", "Mode", "Audio")
		fmt.Printf("    %s  %s  %s  %s  %s\n",
			strings.Repeat("─", 4),
			strings.Repeat("─", 28),
			strings.Repeat("─", 8),
			strings.Repeat("─", 10),
			strings.Repeat("─", 5),
		)
		for _, rule := range e.rules {
			audio := "no"
			if rule.Answer.AudioURL != "" {
				audio = "yes"
			}
			fmt.Printf("    %-4d  %-28s  %-8s  %-10s  %s\n",
				rule.EffectivePriority(), rule.Key, rule.Scope, rule.ResponseMode, audio)
		}
	}

	fmt.Printf("\n%s\n", strings.Repeat("─", 80))
	fmt.Printf("Summary: %d entr%s, cache path: %s\n",
		len(entries), plural(len(entries), "y", "ies"), dbPath)
}

func plural(n int, singular, pluralForm string) string {
	if n == 1 {
		return singular
	}
	return pluralForm
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "trigger_cache_dump: "+format+"\n", args...)
	os.Exit(1)
}
