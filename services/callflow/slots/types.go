// Copyright (C) 2025 Coastline AI (engineering@coastlineai.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package slots compiles a tenant's data-collection field configuration into
// the deterministic, ordered contract the booking flow walks during a call.
//
// A tenant's template defines a library of field definitions (name, phone,
// preferred time, ...) and a set of conditional groups that activate subsets
// of that library depending on call context (new vs. returning caller,
// after-hours, campaign line). Compile resolves library + groups + context
// into one flat, deduplicated field list; ToBookingFields translates that
// list into the legacy shape the booking executor still consumes.
package slots

// FieldType classifies a field definition. Well-known types map onto fixed
// legacy field ids in the booking transform; custom fields keep their own id.
type FieldType string

const (
	FieldTypeName     FieldType = "name"
	FieldTypePhone    FieldType = "phone"
	FieldTypeAddress  FieldType = "address"
	FieldTypeEmail    FieldType = "email"
	FieldTypeTime     FieldType = "time"
	FieldTypeDate     FieldType = "date"
	FieldTypeCustom   FieldType = "custom"
	FieldTypeDatetime FieldType = "datetime" // legacy alias, normalized to time semantics
)

// FieldDefinition is one entry in a tenant's field library.
//
// Definitions are immutable per template version; the compiler never mutates
// them, it only selects and orders them.
type FieldDefinition struct {
	// ID is the unique key within the library.
	ID string `json:"id" validate:"required"`

	// Type classifies the field for prompt generation and the legacy
	// booking transform.
	Type FieldType `json:"type" validate:"required"`

	// Question is the prompt spoken to collect this field.
	Question string `json:"question"`

	// Required marks the field as mandatory for a complete booking.
	Required bool `json:"required"`

	// Order is the position hint used by the legacy transform's final sort.
	Order int `json:"order"`

	// Validation is an optional validation rule name understood by the
	// booking executor.
	Validation string `json:"validation,omitempty"`

	// ConfirmBack makes the assistant read the captured value back.
	ConfirmBack bool `json:"confirmBack"`

	// EnumOptions restricts answers for enumerated custom fields.
	EnumOptions []string `json:"enumOptions,omitempty"`
}

// FieldGroup is a conditional bundle of field ids.
//
// Groups are evaluated, never mutated, at compile time. A group contributes
// its slots when it is enabled and its When predicate matches the call
// context.
type FieldGroup struct {
	// ID identifies the group in diagnostics and in CompiledContract.GroupIDs.
	ID string `json:"id" validate:"required"`

	// Enabled gates the group. Nil means enabled; only an explicit false
	// disables it.
	Enabled *bool `json:"enabled,omitempty"`

	// Order sorts matching groups within their default/non-default band.
	Order int `json:"order"`

	// IsDefault marks fallback groups, which always sort after non-default
	// groups regardless of Order.
	IsDefault bool `json:"isDefault"`

	// When is a flat equality predicate over call-context flags. Empty or
	// absent matches unconditionally; otherwise every key must equal the
	// corresponding context value.
	When map[string]string `json:"when,omitempty"`

	// Slots is the ordered list of field ids this group activates.
	Slots []string `json:"slots"`
}

// CompiledContract is the compiler's output: the active field set for one
// call, plus enough provenance to explain and cache the decision.
type CompiledContract struct {
	// Hash is a stable content hash over the ordered field id list and the
	// context flags. Identical inputs always produce an identical hash.
	Hash string `json:"hash"`

	// GroupIDs lists the matched groups in the order they were walked.
	GroupIDs []string `json:"groupIds"`

	// FieldIDs is the ordered, deduplicated active field id list. Ids with
	// no library entry are retained here so diagnostics can see them.
	FieldIDs []string `json:"fieldIds"`

	// Fields holds the resolved definitions for every id that exists in the
	// library, in FieldIDs order.
	Fields []FieldDefinition `json:"fields"`

	// MissingFieldRefs lists ids referenced by a matching group but absent
	// from the library. Never silently dropped.
	MissingFieldRefs []string `json:"missingFieldRefs,omitempty"`
}

// enabled reports whether the group participates in compilation.
func (g FieldGroup) enabled() bool {
	return g.Enabled == nil || *g.Enabled
}

// matches reports whether the group's When predicate holds for flags.
// An empty predicate matches unconditionally; a missing context key fails it.
func (g FieldGroup) matches(flags map[string]string) bool {
	for k, want := range g.When {
		got, ok := flags[k]
		if !ok || got != want {
			return false
		}
	}
	return true
}
