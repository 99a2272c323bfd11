// Copyright (C) 2025 Coastline AI (engineering@coastlineai.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package triggers loads, merges, and caches a tenant's matching-rule set.
//
// Rules live in two tiers: GLOBAL rules belong to a shared template-level
// rule group, LOCAL rules belong to one tenant. A tenant can hide a global
// trigger, replace a global rule entirely (full override), or substitute
// only its answer text (partial override). The resolver collapses both tiers
// into one canonical, priority-ordered rule set — at most one rule per key —
// and caches the result per (tenant, group, published version).
package triggers

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// =============================================================================
// Errors
// =============================================================================

// ErrGroupUnpublished is returned when a tenant's active rule group has no
// published version. Draft content never serves rules at runtime; this is a
// hard gate, not a soft preference.
var ErrGroupUnpublished = errors.New("rule group has no published version")

// =============================================================================
// Rule Identity
// =============================================================================

// RuleKey is the canonical cross-scope identity of a rule. A LOCAL rule that
// shares a key with a GLOBAL rule is final authority over that key.
//
// The type exists so override resolution can never silently collide on a raw
// string: keys are built through NewRuleKey, which enforces the canonical
// form, and nothing else in the package constructs one.
type RuleKey string

// NewRuleKey validates and canonicalizes a raw rule id.
//
// # Inputs
//
//   - raw: The stored rule id.
//
// # Outputs
//
//   - RuleKey: Trimmed canonical key.
//   - error: Non-nil when the id is empty or whitespace-only.
func NewRuleKey(raw string) (RuleKey, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", fmt.Errorf("rule key must not be empty")
	}
	return RuleKey(trimmed), nil
}

// String returns the canonical key text.
func (k RuleKey) String() string { return string(k) }

// =============================================================================
// Rule Types
// =============================================================================

// RuleScope distinguishes template-level rules from tenant-specific ones.
type RuleScope string

const (
	// ScopeGlobal marks a rule owned by a shared template rule group.
	ScopeGlobal RuleScope = "GLOBAL"

	// ScopeLocal marks a rule owned by one tenant.
	ScopeLocal RuleScope = "LOCAL"
)

// RuleMatch is a rule's matching condition against a turn's intent tag.
type RuleMatch struct {
	// Keywords: the rule accepts when any keyword appears in the intent
	// tag. A rule with no keywords and no phrases never matches — it cannot
	// become a universal catch-all by omission.
	Keywords []string `json:"keywords,omitempty" yaml:"keywords,omitempty"`

	// Phrases are exact phrases that accept like keywords.
	Phrases []string `json:"phrases,omitempty" yaml:"phrases,omitempty"`

	// NegativeKeywords reject the rule outright when any appears.
	NegativeKeywords []string `json:"negativeKeywords,omitempty" yaml:"negative_keywords,omitempty"`
}

// RuleAnswer is a rule's response content.
type RuleAnswer struct {
	// Text is the spoken answer. Partial overrides replace only this.
	Text string `json:"text" yaml:"text"`

	// AudioURL points at a tenant recording of Text. Populated by the merge
	// only when the recording is valid, has its binary, and its stored hash
	// matches the current Text; otherwise empty and the caller synthesizes.
	AudioURL string `json:"audioUrl,omitempty" yaml:"audio_url,omitempty"`
}

// TriggerRule is one canonical matching rule.
type TriggerRule struct {
	// Key is the canonical cross-scope identity.
	Key RuleKey `json:"ruleId" yaml:"rule_id" validate:"required"`

	// TriggerID names the trigger concept (e.g. "hours", "pricing"). Hidden
	// sets, partial overrides, and audio recordings key on it.
	TriggerID string `json:"triggerId" yaml:"trigger_id" validate:"required"`

	// Name is the human-readable rule name surfaced in route decisions.
	Name string `json:"name,omitempty" yaml:"name,omitempty"`

	// Priority orders matching: lower number = checked first. Nil sorts
	// last (treated as 9999).
	Priority *int `json:"priority,omitempty" yaml:"priority,omitempty"`

	// Match is the rule's acceptance condition.
	Match RuleMatch `json:"match" yaml:"match"`

	// ResponseMode is the configured action, translated to a route by the
	// turn router's rule action table.
	ResponseMode string `json:"responseMode" yaml:"response_mode" validate:"required"`

	// Answer is the response content.
	Answer RuleAnswer `json:"answer" yaml:"answer"`

	// FollowUp is an optional follow-up prompt or transfer target.
	FollowUp string `json:"followUp,omitempty" yaml:"follow_up,omitempty"`

	// Scope is GLOBAL or LOCAL.
	Scope RuleScope `json:"_scope" yaml:"scope" validate:"required,oneof=GLOBAL LOCAL"`

	// OverridesRuleID, on a LOCAL rule, declares a full override of the
	// GLOBAL rule with that key. The global contributes nothing — not even
	// as a fallback.
	OverridesRuleID string `json:"overridesRuleId,omitempty" yaml:"overrides_rule_id,omitempty"`

	// Enabled gates LOCAL rule insertion. Nil means enabled.
	Enabled *bool `json:"enabled,omitempty" yaml:"enabled,omitempty"`
}

// enabled reports whether the rule may be inserted into a merged set.
func (r TriggerRule) enabled() bool {
	return r.Enabled == nil || *r.Enabled
}

// EffectivePriority returns the declared priority, or 9999 when absent.
func (r TriggerRule) EffectivePriority() int {
	if r.Priority == nil {
		return 9999
	}
	return *r.Priority
}

// =============================================================================
// Tenant Settings & Audio
// =============================================================================

// TenantTriggerSettings is a tenant's rule-set configuration.
type TenantTriggerSettings struct {
	// TenantID identifies the tenant.
	TenantID string `json:"tenantId" yaml:"tenant_id" validate:"required"`

	// ActiveGroupID references the global rule group serving this tenant.
	ActiveGroupID string `json:"activeGroupId" yaml:"active_group_id" validate:"required"`

	// HiddenTriggerIDs lists global trigger ids this tenant suppresses.
	HiddenTriggerIDs []string `json:"hiddenTriggerIds,omitempty" yaml:"hidden_trigger_ids,omitempty"`

	// TextOverrides substitutes answer text per trigger id. Text only;
	// audio is always resolved independently per tenant.
	TextOverrides map[string]string `json:"textOverrides,omitempty" yaml:"text_overrides,omitempty"`
}

// RuleGroupMeta describes a global rule group's publication state.
type RuleGroupMeta struct {
	// ID identifies the group.
	ID string `json:"id" yaml:"id" validate:"required"`

	// PublishedVersion is the version counter gating runtime visibility.
	PublishedVersion int `json:"publishedVersion" yaml:"published_version"`

	// Published reports whether any version is live. A group that was never
	// published serves nothing, regardless of draft content.
	Published bool `json:"published" yaml:"published"`
}

// AudioRecording is a tenant's recording of one trigger's answer text.
type AudioRecording struct {
	// TriggerID keys the recording to its trigger.
	TriggerID string `json:"triggerId" yaml:"trigger_id" validate:"required"`

	// URL locates the audio asset.
	URL string `json:"url" yaml:"url"`

	// Valid is the recording's moderation/processing flag.
	Valid bool `json:"valid" yaml:"valid"`

	// HasBinary reports whether the binary payload is actually present.
	HasBinary bool `json:"hasBinary" yaml:"has_binary"`

	// TextHash is the answer-text hash captured when the recording was
	// made. A mismatch against the current text means the recording is
	// stale and must not be served.
	TextHash string `json:"textHash" yaml:"text_hash"`
}

// AnswerTextHash computes the canonical hash binding a recording to the
// answer text it was recorded for.
func AnswerTextHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}
