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
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"
)

// =============================================================================
// Prometheus Metrics
// =============================================================================

var (
	resolverLoadTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "coastline",
		Subsystem: "callflow_triggers",
		Name:      "load_total",
		Help:      "Rule set loads by outcome: memory_hit, persistent_hit, miss, error",
	}, []string{"outcome"})

	resolverMergeLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "coastline",
		Subsystem: "callflow_triggers",
		Name:      "merge_latency_seconds",
		Help:      "Latency of the fetch-and-merge path on cache miss",
		Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 2.0},
	})
)

var resolverTracer = otel.Tracer("coastline.callflow.triggers")

// =============================================================================
// Resolver
// =============================================================================

// Resolver loads a tenant's merged trigger-rule set, caching per
// (tenant, active group, published version).
//
// # Description
//
// The published version is part of the cache key, so publishing a new group
// version naturally invalidates every tenant on that group without explicit
// cache work; explicit invalidation hooks exist for settings edits within a
// version. A storage read failure propagates to the caller — the resolver
// never converts "store unavailable" into an empty rule set.
//
// Documents arriving from the store are validated once here, at the
// ingestion boundary; nothing downstream re-checks shape.
//
// # Thread Safety
//
// Safe for concurrent use. Concurrent misses on the same key recompute and
// overwrite the same value, which is tolerated (structurally identical).
type Resolver struct {
	store      Store
	cache      Cache
	persistent *PersistentRuleCache // nil disables the persistent tier
	logger     *slog.Logger
	validate   *validator.Validate
}

// ResolverOpts configures optional resolver collaborators.
type ResolverOpts struct {
	// Cache is the in-memory tier. Nil uses a default RuleCache.
	Cache Cache

	// Persistent is the badger-backed tier. Nil disables persistence.
	Persistent *PersistentRuleCache

	// Logger may be nil.
	Logger *slog.Logger
}

// NewResolver creates a Resolver over the given store.
//
// # Inputs
//
//   - store: Read-only storage collaborator. Must not be nil.
//   - opts: Optional cache tiers and logger.
//
// # Outputs
//
//   - *Resolver: Ready to use. Never nil.
//
// # Thread Safety
//
// The returned resolver is safe for concurrent use.
func NewResolver(store Store, opts ResolverOpts) *Resolver {
	if store == nil {
		panic("NewResolver: store must not be nil")
	}
	cache := opts.Cache
	if cache == nil {
		cache = NewRuleCache(0, 0)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		store:      store,
		cache:      cache,
		persistent: opts.Persistent,
		logger:     logger,
		validate:   validator.New(validator.WithRequiredStructEnabled()),
	}
}

// CacheKey builds the canonical cache key for a tenant's resolved rule set.
// The key embeds tenant, group, and published version so any of the three
// changing reaches a fresh entry.
func CacheKey(tenantID, groupID string, version int) string {
	return fmt.Sprintf("tenant/%s/group/%s/v%d", tenantID, groupID, version)
}

// LoadForTenant returns the tenant's merged, priority-ordered rule set.
//
// # Description
//
// Resolves the tenant's active group and its published version (a group with
// no published version fails with ErrGroupUnpublished — draft content never
// serves). On a cache hit within TTL the cached set is returned verbatim.
// On a miss, global rules, local rules, and audio recordings are fetched
// concurrently, validated, merged (see MergeRules), cached, and returned.
//
// # Inputs
//
//   - ctx: Context for cancellation and tracing.
//   - tenantID: The tenant whose rules to resolve.
//
// # Outputs
//
//   - []TriggerRule: Merged rule set, ascending priority.
//   - error: Store failures, unpublished group, or invalid documents.
//
// # Thread Safety
//
// Safe for concurrent use.
func (r *Resolver) LoadForTenant(ctx context.Context, tenantID string) ([]TriggerRule, error) {
	ctx, span := resolverTracer.Start(ctx, "triggers.Resolver.LoadForTenant")
	defer span.End()
	span.SetAttributes(attribute.String("tenant_id", tenantID))

	settings, err := r.store.TenantSettings(ctx, tenantID)
	if err != nil {
		resolverLoadTotal.WithLabelValues("error").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "tenant settings load failed")
		return nil, fmt.Errorf("load tenant settings: %w", err)
	}
	if err := r.validate.Struct(settings); err != nil {
		resolverLoadTotal.WithLabelValues("error").Inc()
		span.RecordError(err)
		return nil, fmt.Errorf("tenant settings document %s: %w", tenantID, err)
	}

	meta, err := r.store.RuleGroup(ctx, settings.ActiveGroupID)
	if err != nil {
		resolverLoadTotal.WithLabelValues("error").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "rule group load failed")
		return nil, fmt.Errorf("load rule group %s: %w", settings.ActiveGroupID, err)
	}
	if !meta.Published {
		resolverLoadTotal.WithLabelValues("error").Inc()
		span.SetStatus(codes.Error, "group unpublished")
		return nil, fmt.Errorf("group %s: %w", settings.ActiveGroupID, ErrGroupUnpublished)
	}

	key := CacheKey(tenantID, settings.ActiveGroupID, meta.PublishedVersion)
	span.SetAttributes(
		attribute.String("group_id", settings.ActiveGroupID),
		attribute.Int("published_version", meta.PublishedVersion),
	)

	if rules, ok := r.cache.Get(key); ok {
		resolverLoadTotal.WithLabelValues("memory_hit").Inc()
		span.SetAttributes(attribute.String("cache", "memory_hit"), attribute.Int("rule_count", len(rules)))
		return rules, nil
	}

	if r.persistent != nil {
		rules, err := r.persistent.Load(ctx, key)
		if err != nil {
			// Persistent tier failure is non-fatal: fall through to the store.
			r.logger.Warn("persistent rule cache load failed",
				slog.String("key", key),
				slog.String("error", err.Error()),
			)
		} else if rules != nil {
			resolverLoadTotal.WithLabelValues("persistent_hit").Inc()
			span.SetAttributes(attribute.String("cache", "persistent_hit"), attribute.Int("rule_count", len(rules)))
			r.cache.Set(key, rules)
			return rules, nil
		}
	}

	start := time.Now()
	rules, err := r.fetchAndMerge(ctx, tenantID, settings, meta)
	if err != nil {
		resolverLoadTotal.WithLabelValues("error").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "fetch and merge failed")
		return nil, err
	}
	resolverMergeLatency.Observe(time.Since(start).Seconds())
	resolverLoadTotal.WithLabelValues("miss").Inc()

	r.cache.Set(key, rules)
	if r.persistent != nil {
		if err := r.persistent.Save(ctx, key, rules); err != nil {
			// Non-fatal; the set will be recomputed on the next cold start.
			r.logger.Warn("persistent rule cache save failed",
				slog.String("key", key),
				slog.String("error", err.Error()),
			)
		}
	}

	span.SetAttributes(attribute.String("cache", "miss"), attribute.Int("rule_count", len(rules)))
	r.logger.Debug("trigger rules resolved",
		slog.String("tenant_id", tenantID),
		slog.String("group_id", settings.ActiveGroupID),
		slog.Int("published_version", meta.PublishedVersion),
		slog.Int("rule_count", len(rules)),
	)
	return rules, nil
}

// fetchAndMerge pulls the three document sets concurrently, validates them,
// and merges.
func (r *Resolver) fetchAndMerge(ctx context.Context, tenantID string, settings TenantTriggerSettings, meta RuleGroupMeta) ([]TriggerRule, error) {
	var (
		globals    []TriggerRule
		locals     []TriggerRule
		recordings map[string]AudioRecording
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		globals, err = r.store.PublishedGlobalRules(gctx, settings.ActiveGroupID, meta.PublishedVersion)
		if err != nil {
			return fmt.Errorf("load global rules: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		locals, err = r.store.LocalRules(gctx, tenantID)
		if err != nil {
			return fmt.Errorf("load local rules: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		recordings, err = r.store.AudioRecordings(gctx, tenantID)
		if err != nil {
			return fmt.Errorf("load audio recordings: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for i, rule := range globals {
		if err := r.validate.Struct(rule); err != nil {
			return nil, fmt.Errorf("global rule[%d] (%s): %w", i, rule.Key, err)
		}
	}
	for i, rule := range locals {
		if err := r.validate.Struct(rule); err != nil {
			return nil, fmt.Errorf("local rule[%d] (%s): %w", i, rule.Key, err)
		}
	}

	return MergeRules(globals, locals, settings, recordings), nil
}

// =============================================================================
// Invalidation Hooks
// =============================================================================

// InvalidateTenant clears all cached rule sets for a tenant. Called when the
// tenant's settings or local rules change within a published version.
func (r *Resolver) InvalidateTenant(tenantID string) {
	r.cache.Invalidate("tenant/" + tenantID + "/")
	r.logger.Info("trigger cache invalidated", slog.String("tenant_id", tenantID))
}

// InvalidateGroup clears all cached rule sets derived from a global group.
func (r *Resolver) InvalidateGroup(groupID string) {
	r.cache.Invalidate("group/" + groupID + "/")
	r.logger.Info("trigger cache invalidated", slog.String("group_id", groupID))
}

// ClearCache removes every cached rule set. Administrative reset.
func (r *Resolver) ClearCache() {
	r.cache.Clear()
	r.logger.Info("trigger cache cleared")
}
