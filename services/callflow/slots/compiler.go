// Copyright (C) 2025 Coastline AI (engineering@coastlineai.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package slots

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// Prometheus Metrics
// =============================================================================

var (
	contractCompileTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "coastline",
		Subsystem: "callflow_slots",
		Name:      "compile_total",
		Help:      "Slot contract compilations",
	})

	contractMissingRefTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "coastline",
		Subsystem: "callflow_slots",
		Name:      "missing_field_ref_total",
		Help:      "Field ids referenced by a group but absent from the library",
	})
)

// =============================================================================
// Compile
// =============================================================================

// Compile resolves a field library, its conditional groups, and the active
// call's context flags into one deterministic, ordered, deduplicated contract.
//
// # Description
//
// Compile is a pure function: for identical (library, groups, contextFlags)
// inputs the output — content hash included — is byte-identical. It never
// injects defaults; empty inputs produce an empty contract, so "no data" is
// never disguised as "sensible defaults".
//
// Groups are filtered to enabled ones whose When predicate matches the
// context, then stable-sorted: non-default groups first (ascending Order),
// default groups after them (ascending Order) even when a default group's
// Order is numerically lower. Field ids are collected in group walk order
// with first-occurrence dedup by id. Ids with no library entry are recorded
// in MissingFieldRefs and excluded from Fields but retained in FieldIDs.
//
// # Inputs
//
//   - library: The tenant's field definitions. May be empty.
//   - groups: Conditional groups referencing library ids. May be empty.
//   - contextFlags: Call-context flags matched against group predicates.
//
// # Outputs
//
//   - CompiledContract: The active field set. Never contains duplicates.
//
// # Thread Safety
//
// Stateless. Safe for concurrent use.
func Compile(library []FieldDefinition, groups []FieldGroup, contextFlags map[string]string) CompiledContract {
	contractCompileTotal.Inc()

	// 1-2. Enabled groups whose predicate matches the context.
	matched := make([]FieldGroup, 0, len(groups))
	for _, g := range groups {
		if g.enabled() && g.matches(contextFlags) {
			matched = append(matched, g)
		}
	}

	// 3. Non-default groups first, then defaults; ascending Order within
	// each band. Stable so equal-order groups keep input order.
	sort.SliceStable(matched, func(i, j int) bool {
		if matched[i].IsDefault != matched[j].IsDefault {
			return !matched[i].IsDefault
		}
		return matched[i].Order < matched[j].Order
	})

	byID := make(map[string]FieldDefinition, len(library))
	for _, def := range library {
		byID[def.ID] = def
	}

	// 4-5. Walk groups in order, dedup by id, resolve against the library.
	contract := CompiledContract{
		GroupIDs: make([]string, 0, len(matched)),
		FieldIDs: []string{},
		Fields:   []FieldDefinition{},
	}
	seen := make(map[string]bool)
	missingSeen := make(map[string]bool)

	for _, g := range matched {
		contract.GroupIDs = append(contract.GroupIDs, g.ID)
		for _, id := range g.Slots {
			if seen[id] {
				continue
			}
			seen[id] = true
			contract.FieldIDs = append(contract.FieldIDs, id)

			def, ok := byID[id]
			if !ok {
				if !missingSeen[id] {
					missingSeen[id] = true
					contract.MissingFieldRefs = append(contract.MissingFieldRefs, id)
					contractMissingRefTotal.Inc()
				}
				continue
			}
			contract.Fields = append(contract.Fields, def)
		}
	}

	// 6. Stable content hash over the decision inputs that shaped the list.
	contract.Hash = contractHash(contract.FieldIDs, contextFlags)

	return contract
}

// contractHash computes a deterministic SHA256 hash over the ordered field id
// list and the context flags.
//
// Flags are serialized in sorted key order so map iteration order can never
// leak into the hash. Tab-delimited fields; newline terminates each record.
func contractHash(fieldIDs []string, contextFlags map[string]string) string {
	flagKeys := make([]string, 0, len(contextFlags))
	for k := range contextFlags {
		flagKeys = append(flagKeys, k)
	}
	sort.Strings(flagKeys)

	h := sha256.New()
	for _, id := range fieldIDs {
		fmt.Fprintf(h, "field\t%s\n", id)
	}
	for _, k := range flagKeys {
		fmt.Fprintf(h, "flag\t%s\t%s\n", k, contextFlags[k])
	}
	return hex.EncodeToString(h.Sum(nil))
}

// =============================================================================
// Contract Diff
// =============================================================================

// ContractDiff describes how the active field set changed between two
// compilations, e.g. after a template edit mid-call-window.
type ContractDiff struct {
	Added   []string `json:"added,omitempty"`
	Removed []string `json:"removed,omitempty"`
}

// Changed reports whether the diff contains any change.
func (d ContractDiff) Changed() bool {
	return len(d.Added) > 0 || len(d.Removed) > 0
}

// Diff compares two compiled contracts by field id.
//
// Order changes without membership changes produce an empty diff; the
// consumer only cares which fields appeared or disappeared.
func Diff(old, new CompiledContract) ContractDiff {
	oldSet := make(map[string]bool, len(old.FieldIDs))
	for _, id := range old.FieldIDs {
		oldSet[id] = true
	}
	newSet := make(map[string]bool, len(new.FieldIDs))
	for _, id := range new.FieldIDs {
		newSet[id] = true
	}

	var diff ContractDiff
	for _, id := range new.FieldIDs {
		if !oldSet[id] {
			diff.Added = append(diff.Added, id)
		}
	}
	for _, id := range old.FieldIDs {
		if !newSet[id] {
			diff.Removed = append(diff.Removed, id)
		}
	}
	return diff
}
