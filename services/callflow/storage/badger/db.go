// Copyright (C) 2025 Coastline AI (engineering@coastlineai.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package badger wraps a BadgerDB instance behind a small transactional API.
//
// The Callflow service uses BadgerDB for exactly one thing: a persistent
// cache tier for merged trigger-rule sets (see triggers.PersistentRuleCache).
// The wrapper exists so call sites deal in context-aware closures instead of
// raw *badger.DB handles, and so tests can open a throwaway in-memory
// instance with InMemoryConfig().
package badger

import (
	"context"
	"fmt"
	"log/slog"

	dgbadger "github.com/dgraph-io/badger/v4"
)

// Config controls how the database is opened.
type Config struct {
	// Dir is the on-disk directory for the database. Ignored when InMemory
	// is true.
	Dir string

	// InMemory opens a non-persistent instance. Used by tests and by
	// deployments that do not configure a cache directory.
	InMemory bool

	// Logger receives open/close diagnostics. May be nil.
	Logger *slog.Logger
}

// DefaultConfig returns a Config for an on-disk database at dir.
func DefaultConfig(dir string) Config {
	return Config{Dir: dir}
}

// InMemoryConfig returns a Config for a throwaway in-memory database.
func InMemoryConfig() Config {
	return Config{InMemory: true}
}

// DB is an opened BadgerDB instance.
//
// # Thread Safety
//
// Safe for concurrent use. BadgerDB transactions are per-goroutine.
type DB struct {
	db     *dgbadger.DB
	logger *slog.Logger
}

// OpenDB opens a BadgerDB instance described by cfg.
//
// # Description
//
// BadgerDB's own logger is suppressed; open/close events are reported through
// cfg.Logger instead. The caller owns the returned DB and must Close it.
//
// # Inputs
//
//   - cfg: Open configuration. Dir must be non-empty unless InMemory is set.
//
// # Outputs
//
//   - *DB: Opened database. Nil on error.
//   - error: Non-nil if the directory is missing or the open fails.
func OpenDB(cfg Config) (*DB, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var opts dgbadger.Options
	if cfg.InMemory {
		opts = dgbadger.DefaultOptions("").WithInMemory(true)
	} else {
		if cfg.Dir == "" {
			return nil, fmt.Errorf("badger.OpenDB: Dir must not be empty")
		}
		opts = dgbadger.DefaultOptions(cfg.Dir)
	}
	opts = opts.WithLogger(nil)

	db, err := dgbadger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("badger.OpenDB: %w", err)
	}

	logger.Debug("badger store opened",
		slog.String("dir", cfg.Dir),
		slog.Bool("in_memory", cfg.InMemory),
	)
	return &DB{db: db, logger: logger}, nil
}

// Close closes the underlying database. Safe to call once; subsequent
// transactions fail.
func (d *DB) Close() error {
	if err := d.db.Close(); err != nil {
		return fmt.Errorf("badger close: %w", err)
	}
	return nil
}

// WithTxn runs fn inside a read-write transaction and commits it if fn
// returns nil.
//
// # Inputs
//
//   - ctx: Checked before the transaction starts; an already-cancelled
//     context aborts without touching the database.
//   - fn: Transaction body. A non-nil return discards the transaction.
//
// # Outputs
//
//   - error: fn's error, the commit error, or the context error.
//
// # Thread Safety
//
// Safe for concurrent use.
func (d *DB) WithTxn(ctx context.Context, fn func(txn *dgbadger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return d.db.Update(fn)
}

// WithReadTxn runs fn inside a read-only transaction.
//
// # Inputs
//
//   - ctx: Checked before the transaction starts.
//   - fn: Transaction body.
//
// # Outputs
//
//   - error: fn's error or the context error.
//
// # Thread Safety
//
// Safe for concurrent use.
func (d *DB) WithReadTxn(ctx context.Context, fn func(txn *dgbadger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return d.db.View(fn)
}
