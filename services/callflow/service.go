// Copyright (C) 2025 Coastline AI (engineering@coastlineai.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package callflow wires the decision engine's components — slot contract
// compilation, trigger resolution, turn routing, phone capture — behind one
// service facade and its HTTP surface.
package callflow

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/CoastlineAI/CoastlineVoice/services/callflow/config"
	"github.com/CoastlineAI/CoastlineVoice/services/callflow/phone"
	"github.com/CoastlineAI/CoastlineVoice/services/callflow/routing"
	"github.com/CoastlineAI/CoastlineVoice/services/callflow/triggers"
)

// Service is the call-time decision engine facade.
//
// # Thread Safety
//
// Safe for concurrent use; each call turn is processed on an independent
// logical task, and the only shared mutable state is the resolver's cache.
type Service struct {
	cfg      *config.CallflowConfig
	resolver *triggers.Resolver
	router   *routing.TurnRouter
	capture  *phone.Machine
	logger   *slog.Logger
}

// ServiceConfig assembles a Service.
type ServiceConfig struct {
	// Store supplies rule configuration documents. Must not be nil.
	Store triggers.Store

	// PersistentCache is the optional badger-backed rule cache tier.
	PersistentCache *triggers.PersistentRuleCache

	// Logger may be nil.
	Logger *slog.Logger
}

// NewService constructs the engine from loaded configuration.
//
// # Inputs
//
//   - ctx: Context for configuration loading and tracing.
//   - sc: Collaborators. sc.Store must not be nil.
//
// # Outputs
//
//   - *Service: Ready to serve decisions.
//   - error: Non-nil if configuration loading fails.
func NewService(ctx context.Context, sc ServiceConfig) (*Service, error) {
	if sc.Store == nil {
		return nil, fmt.Errorf("callflow.NewService: Store must not be nil")
	}
	logger := sc.Logger
	if logger == nil {
		logger = slog.Default()
	}

	cfg, err := config.GetCallflowConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("callflow.NewService: %w", err)
	}

	resolver := triggers.NewResolver(sc.Store, triggers.ResolverOpts{
		Cache: triggers.NewRuleCache(
			time.Duration(cfg.TriggerCache.TTLSeconds)*time.Second,
			cfg.TriggerCache.MaxEntries,
		),
		Persistent: sc.PersistentCache,
		Logger:     logger,
	})

	return &Service{
		cfg:      cfg,
		resolver: resolver,
		router:   routing.NewTurnRouter(cfg, logger),
		capture:  phone.NewMachine(cfg.PhoneCapture.MaxAttempts, logger),
		logger:   logger,
	}, nil
}

// RouteTurn resolves the tenant's rule set and routes one call turn.
//
// # Description
//
// A resolver failure (store unavailable, unpublished group) does not abort
// routing: the failure is logged and the router falls through to the
// classifier action tables, because a live call must always receive some
// route. The error is still distinguishable to operators via logs and the
// resolver's error metric.
//
// # Thread Safety
//
// Safe for concurrent use.
func (s *Service) RouteTurn(ctx context.Context, tenantID string, ev routing.CallTurnEvent) routing.RouteDecision {
	rules, err := s.resolver.LoadForTenant(ctx, tenantID)
	if err != nil {
		s.logger.Warn("trigger resolution failed, routing on classifier action only",
			slog.String("tenant_id", tenantID),
			slog.String("error", err.Error()),
		)
		rules = nil
	}
	return s.router.Route(ctx, ev, rules)
}

// Rules returns the tenant's merged, priority-ordered rule set.
func (s *Service) Rules(ctx context.Context, tenantID string) ([]triggers.TriggerRule, error) {
	return s.resolver.LoadForTenant(ctx, tenantID)
}

// StepPhoneCapture advances a phone capture context by one turn.
func (s *Service) StepPhoneCapture(ctx phone.CaptureContext, turn phone.CaptureTurn) phone.CaptureContext {
	return s.capture.Step(ctx, turn)
}

// NewPhoneCapture returns a fresh capture context for the first phone-field
// turn of a booking.
func (s *Service) NewPhoneCapture() phone.CaptureContext {
	return s.capture.NewContext()
}

// InvalidateTenant clears cached rule sets for a tenant.
func (s *Service) InvalidateTenant(tenantID string) { s.resolver.InvalidateTenant(tenantID) }

// InvalidateGroup clears cached rule sets derived from a global group.
func (s *Service) InvalidateGroup(groupID string) { s.resolver.InvalidateGroup(groupID) }

// ClearRuleCache removes every cached rule set.
func (s *Service) ClearRuleCache() { s.resolver.ClearCache() }
