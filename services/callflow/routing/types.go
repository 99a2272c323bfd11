// Copyright (C) 2025 Coastline AI (engineering@coastlineai.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package routing decides, for a single call turn, which downstream handler
// receives it: the scenario engine, the booking flow, a human transfer, a
// message-only response, or end-of-call.
package routing

// Route names a downstream handler.
type Route string

const (
	RouteScenarioEngine Route = "SCENARIO_ENGINE"
	RouteBooking        Route = "BOOKING"
	RouteTransfer       Route = "TRANSFER"
	RouteMessageOnly    Route = "MESSAGE_ONLY"
	RouteEndCall        Route = "END_CALL"
	RouteUnknown        Route = "UNKNOWN"
)

// CallTurnEvent is the upstream classifier's read of one call turn. The
// router treats it as opaque, already-final input: one per turn, never
// persisted here.
type CallTurnEvent struct {
	// Action is the classifier's suggested action code, used only when no
	// trigger rule matches.
	Action string `json:"action"`

	// IntentTag is the classifier's intent phrase matched against rule
	// keywords.
	IntentTag string `json:"intentTag"`

	// Flag fields override rule matching entirely.
	IsEmergency   bool `json:"isEmergency"`
	IsSpam        bool `json:"isSpam"`
	IsWrongNumber bool `json:"isWrongNumber"`

	// ScenarioHints pass through to the scenario engine untouched.
	ScenarioHints map[string]string `json:"scenarioHints,omitempty"`
}

// RouteDecision is the router's output: the chosen route plus full
// justification, so any turn's handling can be explained after the fact.
type RouteDecision struct {
	// DecisionID correlates this decision across logs and traces.
	DecisionID string `json:"decisionId"`

	// Route is the chosen downstream handler.
	Route Route `json:"route"`

	// MatchedRuleID and MatchedRuleName identify the trigger rule that
	// fired, when one did. MatchedRuleID is the synthetic marker
	// "emergency_override" for flag-forced transfers.
	MatchedRuleID   string `json:"matchedRuleId,omitempty"`
	MatchedRuleName string `json:"matchedRuleName,omitempty"`

	// Hints are the scenario hints passed through from the turn event.
	Hints map[string]string `json:"hints,omitempty"`

	// TransferTarget names the destination for TRANSFER routes.
	TransferTarget string `json:"transferTarget,omitempty"`

	// Reason is a short machine-readable justification code.
	Reason string `json:"reason"`
}

// Reason codes attached to route decisions.
const (
	ReasonEmergencyOverride = "emergency_override"
	ReasonSpam              = "spam"
	ReasonWrongNumber       = "wrong_number"
	ReasonRuleMatch         = "rule_match"
	ReasonClassifierAction  = "classifier_action"
	ReasonDefaultScenario   = "default_scenario"
)

// EmergencyOverrideMarker is the synthetic rule id attached to flag-forced
// emergency transfers, which bypass rule matching entirely.
const EmergencyOverrideMarker = "emergency_override"
