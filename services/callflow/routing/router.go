// Copyright (C) 2025 Coastline AI (engineering@coastlineai.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package routing

import (
	"context"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/CoastlineAI/CoastlineVoice/services/callflow/config"
	"github.com/CoastlineAI/CoastlineVoice/services/callflow/triggers"
)

// =============================================================================
// Prometheus Metrics
// =============================================================================

var routeDecisionTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "coastline",
	Subsystem: "callflow_routing",
	Name:      "decision_total",
	Help:      "Route decisions by route and reason",
}, []string{"route", "reason"})

var turnRouterTracer = otel.Tracer("coastline.callflow.routing")

// =============================================================================
// TurnRouter
// =============================================================================

// TurnRouter translates one classified call turn plus a tenant's merged rule
// set into a RouteDecision.
//
// # Description
//
// Priority order, first match wins:
//
//  1. Flags override everything. An emergency turn transfers with the
//     synthetic emergency-override marker, bypassing rule matching; spam
//     and wrong-number turns end the call.
//  2. Rule-set matching over the merged, priority-sorted rules: a rule is
//     rejected when any exclusion keyword appears in the intent tag, and
//     accepts when any of its keywords or phrases appears. A rule with no
//     keywords and no phrases never matches. The first accepting rule's
//     configured action is translated via the rule action table.
//  3. Fallback: the classifier's action code through the classifier action
//     table; unrecognized actions default to SCENARIO_ENGINE so a live call
//     always receives some route.
//
// # Thread Safety
//
// Safe for concurrent use; the router holds only immutable tables.
type TurnRouter struct {
	cfg    *config.CallflowConfig
	logger *slog.Logger
}

// NewTurnRouter creates a TurnRouter over the given configuration.
//
// # Inputs
//
//   - cfg: Loaded engine configuration (routing tables). Must not be nil.
//   - logger: Decision diagnostics. May be nil.
//
// # Thread Safety
//
// The returned router is safe for concurrent use.
func NewTurnRouter(cfg *config.CallflowConfig, logger *slog.Logger) *TurnRouter {
	if cfg == nil {
		panic("NewTurnRouter: cfg must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &TurnRouter{cfg: cfg, logger: logger}
}

// Route decides which downstream handler receives this turn.
//
// # Inputs
//
//   - ctx: Context for tracing.
//   - ev: The classifier's turn event.
//   - rules: The tenant's merged rule set. May be nil (e.g. when the rule
//     store was unreachable); routing then falls through to the action
//     tables — a live call must always receive some route.
//
// # Outputs
//
//   - RouteDecision: Never a zero value; Reason is always set.
//
// # Thread Safety
//
// Safe for concurrent use.
func (r *TurnRouter) Route(ctx context.Context, ev CallTurnEvent, rules []triggers.TriggerRule) RouteDecision {
	_, span := turnRouterTracer.Start(ctx, "routing.TurnRouter.Route")
	defer span.End()

	decision := r.decide(ev, rules)
	decision.DecisionID = uuid.NewString()
	decision.Hints = ev.ScenarioHints

	routeDecisionTotal.WithLabelValues(string(decision.Route), decision.Reason).Inc()
	span.SetAttributes(
		attribute.String("route", string(decision.Route)),
		attribute.String("reason", decision.Reason),
		attribute.String("matched_rule_id", decision.MatchedRuleID),
	)
	r.logger.Debug("turn routed",
		slog.String("decision_id", decision.DecisionID),
		slog.String("route", string(decision.Route)),
		slog.String("reason", decision.Reason),
		slog.String("matched_rule_id", decision.MatchedRuleID),
	)
	return decision
}

func (r *TurnRouter) decide(ev CallTurnEvent, rules []triggers.TriggerRule) RouteDecision {
	// 1. Flags override everything.
	if ev.IsEmergency {
		return RouteDecision{
			Route:          RouteTransfer,
			MatchedRuleID:  EmergencyOverrideMarker,
			TransferTarget: r.cfg.EmergencyTransferTarget,
			Reason:         ReasonEmergencyOverride,
		}
	}
	if ev.IsSpam {
		return RouteDecision{Route: RouteEndCall, Reason: ReasonSpam}
	}
	if ev.IsWrongNumber {
		return RouteDecision{Route: RouteEndCall, Reason: ReasonWrongNumber}
	}

	// 2. Rule-set matching, priority order, first accept wins.
	intentTag := strings.ToLower(ev.IntentTag)
	for _, rule := range rules {
		if !ruleAccepts(rule.Match, intentTag) {
			continue
		}
		route := r.ruleRoute(rule.ResponseMode)
		decision := RouteDecision{
			Route:           route,
			MatchedRuleID:   rule.Key.String(),
			MatchedRuleName: rule.Name,
			Reason:          ReasonRuleMatch,
		}
		if route == RouteTransfer {
			decision.TransferTarget = rule.FollowUp
		}
		return decision
	}

	// 3. Classifier action fallback.
	if route, ok := r.cfg.ClassifierActions[ev.Action]; ok {
		return RouteDecision{Route: Route(route), Reason: ReasonClassifierAction}
	}
	return RouteDecision{Route: RouteScenarioEngine, Reason: ReasonDefaultScenario}
}

// ruleRoute translates a rule's configured action through the rule action
// table. An unmapped action degrades to the scenario engine — the safest
// "let the general matcher try" default — rather than failing the turn.
func (r *TurnRouter) ruleRoute(responseMode string) Route {
	if route, ok := r.cfg.RuleActions[responseMode]; ok {
		return Route(route)
	}
	r.logger.Warn("rule action has no route mapping, using scenario engine",
		slog.String("response_mode", responseMode),
	)
	return RouteScenarioEngine
}

// ruleAccepts applies a rule's match condition to a lowercased intent tag.
//
// Exclusions are checked first and reject outright. A rule with no keywords
// and no phrases never accepts — it cannot become a universal catch-all by
// omission.
func ruleAccepts(match triggers.RuleMatch, intentTag string) bool {
	for _, neg := range match.NegativeKeywords {
		if neg != "" && strings.Contains(intentTag, strings.ToLower(neg)) {
			return false
		}
	}
	for _, kw := range match.Keywords {
		if kw != "" && strings.Contains(intentTag, strings.ToLower(kw)) {
			return true
		}
	}
	for _, phrase := range match.Phrases {
		if phrase != "" && strings.Contains(intentTag, strings.ToLower(phrase)) {
			return true
		}
	}
	return false
}
