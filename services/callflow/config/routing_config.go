// Copyright (C) 2025 Coastline AI (engineering@coastlineai.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config holds the Callflow engine's embedded default configuration:
// the action-to-route tables consumed by the turn router, the phone capture
// retry bound, and the trigger-rule cache limits.
package config

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"gopkg.in/yaml.v3"
)

// =============================================================================
// Embedded Default Routing Tables
// =============================================================================

//go:embed routing_tables.yaml
var defaultRoutingTablesYAML []byte

// MaxYAMLFileSize is the upper bound on a loadable YAML document.
// Configuration documents are small; anything larger is a mistake or abuse.
const MaxYAMLFileSize = 1 << 20 // 1 MiB

var callflowConfigTracer = otel.Tracer("coastline.callflow.config")

// =============================================================================
// Configuration Types
// =============================================================================

// CallflowConfig is the engine's static configuration: routing tables,
// phone capture bounds, and trigger cache limits.
//
// Description:
//
//	Route values in the tables must be one of SCENARIO_ENGINE, BOOKING,
//	TRANSFER, MESSAGE_ONLY, END_CALL. The loader rejects anything else so a
//	typo in a table can never reach the router.
//
// Thread Safety: Immutable after loading; safe for concurrent use.
type CallflowConfig struct {
	// RuleActions maps a trigger rule's response mode to a route name.
	RuleActions map[string]string `yaml:"rule_actions"`

	// ClassifierActions maps the upstream classifier's action code to a
	// route name. Used only when no trigger rule matched.
	ClassifierActions map[string]string `yaml:"classifier_actions"`

	// EmergencyTransferTarget is the transfer target attached to the
	// synthetic emergency-override decision.
	EmergencyTransferTarget string `yaml:"emergency_transfer_target"`

	// PhoneCapture bounds the phone capture state machine.
	PhoneCapture PhoneCaptureConfig `yaml:"phone_capture"`

	// TriggerCache bounds the in-memory trigger-rule cache.
	TriggerCache TriggerCacheConfig `yaml:"trigger_cache"`
}

// PhoneCaptureConfig bounds the phone capture state machine.
type PhoneCaptureConfig struct {
	// MaxAttempts is the correction-attempt ceiling. The machine reaches
	// BAILED on the attempt after this bound.
	MaxAttempts int `yaml:"max_attempts"`
}

// TriggerCacheConfig bounds the in-memory trigger-rule cache.
type TriggerCacheConfig struct {
	// TTLSeconds is the per-entry lifetime.
	TTLSeconds int `yaml:"ttl_seconds"`

	// MaxEntries is the soft capacity; oldest-inserted entries are evicted
	// past it.
	MaxEntries int `yaml:"max_entries"`
}

// =============================================================================
// Defaults
// =============================================================================

const (
	// DefaultMaxAttempts is the default phone capture correction bound.
	DefaultMaxAttempts = 2

	// DefaultCacheTTLSeconds is the default trigger cache entry lifetime.
	DefaultCacheTTLSeconds = 300

	// DefaultCacheMaxEntries is the default trigger cache soft capacity.
	DefaultCacheMaxEntries = 256

	// DefaultEmergencyTransferTarget is used when the table omits one.
	DefaultEmergencyTransferTarget = "emergency_line"
)

// validRoutes is the closed set of route names a table entry may produce.
var validRoutes = map[string]bool{
	"SCENARIO_ENGINE": true,
	"BOOKING":         true,
	"TRANSFER":        true,
	"MESSAGE_ONLY":    true,
	"END_CALL":        true,
}

// =============================================================================
// Singleton Callflow Config
// =============================================================================

var (
	callflowConfigMu      sync.RWMutex
	callflowConfigOnce    sync.Once
	cachedCallflowConfig  *CallflowConfig
	callflowConfigLoadErr error
)

// GetCallflowConfig returns the cached engine configuration.
//
// Description:
//
//	Loads the embedded routing tables on first call and caches for
//	subsequent calls. Uses sync.Once for thread-safe initialization.
//
// Inputs:
//
//	ctx - Context for tracing. Must not be nil.
//
// Outputs:
//
//	*CallflowConfig - The loaded configuration. Never nil on success.
//	error - Non-nil if loading or validation failed.
//
// Thread Safety: Safe for concurrent use via sync.Once.
func GetCallflowConfig(ctx context.Context) (*CallflowConfig, error) {
	if ctx == nil {
		return nil, fmt.Errorf("GetCallflowConfig: ctx must not be nil")
	}

	callflowConfigMu.RLock()
	if cachedCallflowConfig != nil || callflowConfigLoadErr != nil {
		cfg, err := cachedCallflowConfig, callflowConfigLoadErr
		callflowConfigMu.RUnlock()
		return cfg, err
	}
	callflowConfigMu.RUnlock()

	callflowConfigMu.Lock()
	defer callflowConfigMu.Unlock()

	if cachedCallflowConfig != nil || callflowConfigLoadErr != nil {
		return cachedCallflowConfig, callflowConfigLoadErr
	}

	callflowConfigOnce.Do(func() {
		cachedCallflowConfig, callflowConfigLoadErr = LoadCallflowConfig(ctx, defaultRoutingTablesYAML)
	})

	return cachedCallflowConfig, callflowConfigLoadErr
}

// ResetCallflowConfig resets the cached config for testing.
//
// Thread Safety: Safe for concurrent use.
func ResetCallflowConfig() {
	callflowConfigMu.Lock()
	defer callflowConfigMu.Unlock()
	cachedCallflowConfig = nil
	callflowConfigLoadErr = nil
	callflowConfigOnce = sync.Once{}
}

// LoadCallflowConfig loads and validates a CallflowConfig from YAML bytes.
//
// Description:
//
//	Parses the YAML, applies defaults for missing fields, and validates
//	every table entry against the closed route set.
//
// Inputs:
//
//	ctx - Context for tracing.
//	data - Raw YAML bytes to parse.
//
// Outputs:
//
//	*CallflowConfig - The validated configuration.
//	error - Non-nil if parsing or validation fails.
func LoadCallflowConfig(ctx context.Context, data []byte) (*CallflowConfig, error) {
	_, span := callflowConfigTracer.Start(ctx, "config.LoadCallflowConfig")
	defer span.End()

	if len(data) == 0 {
		return nil, fmt.Errorf("LoadCallflowConfig: empty YAML data")
	}
	if len(data) > MaxYAMLFileSize {
		return nil, fmt.Errorf("LoadCallflowConfig: YAML data exceeds maximum size (%d > %d)", len(data), MaxYAMLFileSize)
	}

	var cfg CallflowConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("LoadCallflowConfig: parsing YAML: %w", err)
	}

	// Apply defaults for missing fields
	if cfg.PhoneCapture.MaxAttempts <= 0 {
		cfg.PhoneCapture.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.TriggerCache.TTLSeconds <= 0 {
		cfg.TriggerCache.TTLSeconds = DefaultCacheTTLSeconds
	}
	if cfg.TriggerCache.MaxEntries <= 0 {
		cfg.TriggerCache.MaxEntries = DefaultCacheMaxEntries
	}
	if cfg.EmergencyTransferTarget == "" {
		cfg.EmergencyTransferTarget = DefaultEmergencyTransferTarget
	}

	if err := validateCallflowConfig(&cfg); err != nil {
		return nil, fmt.Errorf("LoadCallflowConfig: validation: %w", err)
	}

	span.SetAttributes(
		attribute.Int("rule_actions", len(cfg.RuleActions)),
		attribute.Int("classifier_actions", len(cfg.ClassifierActions)),
		attribute.Int("phone_max_attempts", cfg.PhoneCapture.MaxAttempts),
	)

	slog.Info("callflow config loaded",
		slog.Int("rule_actions", len(cfg.RuleActions)),
		slog.Int("classifier_actions", len(cfg.ClassifierActions)),
		slog.Int("phone_max_attempts", cfg.PhoneCapture.MaxAttempts),
		slog.Int("cache_ttl_seconds", cfg.TriggerCache.TTLSeconds),
	)

	return &cfg, nil
}

// validateCallflowConfig checks every table entry against the closed route set.
func validateCallflowConfig(cfg *CallflowConfig) error {
	if len(cfg.RuleActions) == 0 {
		return fmt.Errorf("rule_actions must not be empty")
	}
	if len(cfg.ClassifierActions) == 0 {
		return fmt.Errorf("classifier_actions must not be empty")
	}
	for action, route := range cfg.RuleActions {
		if !validRoutes[route] {
			return fmt.Errorf("rule_actions[%s]: unknown route %q", action, route)
		}
	}
	for action, route := range cfg.ClassifierActions {
		if !validRoutes[route] {
			return fmt.Errorf("classifier_actions[%s]: unknown route %q", action, route)
		}
	}
	return nil
}
