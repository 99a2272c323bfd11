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
	"sort"
)

// =============================================================================
// Two-Tier Merge
// =============================================================================

// MergeRules collapses a tenant's global and local rule tiers into one
// canonical, priority-ordered rule set.
//
// # Description
//
// The merge runs in a fixed order over a map keyed by canonical RuleKey:
//
//  1. Global pass. A global rule is skipped when its trigger id is in the
//     tenant's hidden set, or when any local rule declares a full override
//     of its key — local wins entirely, the global contributes nothing, not
//     even as a fallback. Surviving globals get a partial answer-text
//     substitution if one is registered for their trigger id, then audio
//     resolution (see resolveAudio).
//  2. Local pass. Each enabled local rule is inserted under its own key,
//     unconditionally overwriting any global entry with the same key.
//
// Full-override claims are collected from ALL local rules, enabled or not:
// a disabled local override still suppresses its global rule, so disabling
// an override silences the trigger instead of resurfacing template content
// the tenant chose to replace.
//
// The output contains at most one rule per key — a duplicate here is a
// correctness bug upstream, not a tie-break case — sorted ascending by
// effective priority (absent priority sorts last as 9999), stable for equal
// priorities.
//
// # Inputs
//
//   - globals: Published rules of the tenant's active group.
//   - locals: The tenant's own rules.
//   - settings: Hidden set and partial text overrides.
//   - recordings: Tenant audio recordings keyed by trigger id.
//
// # Outputs
//
//   - []TriggerRule: The merged, ordered rule set.
//
// # Thread Safety
//
// Stateless. Safe for concurrent use.
func MergeRules(globals, locals []TriggerRule, settings TenantTriggerSettings, recordings map[string]AudioRecording) []TriggerRule {
	hidden := make(map[string]bool, len(settings.HiddenTriggerIDs))
	for _, id := range settings.HiddenTriggerIDs {
		hidden[id] = true
	}

	// Full-override claims run before any enabled filtering.
	fullOverrides := make(map[RuleKey]bool)
	for _, local := range locals {
		if local.OverridesRuleID != "" {
			if key, err := NewRuleKey(local.OverridesRuleID); err == nil {
				fullOverrides[key] = true
			}
		}
	}

	merged := make(map[RuleKey]TriggerRule, len(globals)+len(locals))
	var order []RuleKey

	// 1. Global pass.
	for _, rule := range globals {
		if hidden[rule.TriggerID] {
			continue
		}
		if fullOverrides[rule.Key] {
			continue
		}
		if text, ok := settings.TextOverrides[rule.TriggerID]; ok {
			rule.Answer.Text = text
		}
		rule.Answer.AudioURL = resolveAudio(rule.Answer.Text, rule.TriggerID, recordings)

		if _, exists := merged[rule.Key]; !exists {
			order = append(order, rule.Key)
		}
		merged[rule.Key] = rule
	}

	// 2. Local pass: final authority over their own key.
	for _, rule := range locals {
		if !rule.enabled() {
			continue
		}
		rule.Answer.AudioURL = resolveAudio(rule.Answer.Text, rule.TriggerID, recordings)

		if _, exists := merged[rule.Key]; !exists {
			order = append(order, rule.Key)
		}
		merged[rule.Key] = rule
	}

	out := make([]TriggerRule, 0, len(merged))
	for _, key := range order {
		out = append(out, merged[key])
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].EffectivePriority() < out[j].EffectivePriority()
	})
	return out
}

// resolveAudio returns the recording URL for a trigger only when the
// recording is valid, its binary payload is present, and its stored hash
// matches the current answer text.
//
// A stale recording — e.g. after a text edit — degrades silently to "no
// audio" rather than serving speech that disagrees with the text.
func resolveAudio(answerText, triggerID string, recordings map[string]AudioRecording) string {
	rec, ok := recordings[triggerID]
	if !ok {
		return ""
	}
	if !rec.Valid || !rec.HasBinary {
		return ""
	}
	if rec.TextHash != AnswerTextHash(answerText) {
		return ""
	}
	return rec.URL
}
