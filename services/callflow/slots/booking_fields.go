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
	"log/slog"
	"sort"
)

// =============================================================================
// Legacy Booking Field Transform
// =============================================================================

// BookingField is the flat field shape the booking executor consumes.
//
// The executor predates the group/contract model; it expects fixed ids for
// the well-known field types and everything (options included) at the top
// level of each entry.
type BookingField struct {
	SlotID   string    `json:"slotId"`
	Type     FieldType `json:"type"`
	Question string    `json:"question"`
	Required bool      `json:"required"`
	Order    int       `json:"order"`

	// Validation and Options are flattened from the definition; the
	// executor has no nested option object.
	Validation string   `json:"validation,omitempty"`
	Options    []string `json:"options,omitempty"`

	ConfirmBack bool `json:"confirmBack"`
}

// legacyFieldIDs maps well-known field types to the fixed ids the booking
// executor was built around. Custom and date fields keep their own id.
var legacyFieldIDs = map[FieldType]string{
	FieldTypeName:    "name",
	FieldTypePhone:   "phone_number",
	FieldTypeAddress: "address",
	FieldTypeEmail:   "email",
	FieldTypeTime:    "preferred_time",
}

// ToBookingFields converts a compiled contract into the legacy field list.
//
// # Description
//
// For each resolved field:
//
//   - The "datetime" type alias is normalized to the legacy "time" semantic.
//   - Well-known types (name/phone/address/email/time) map to fixed legacy
//     ids; custom types keep their own id.
//   - Entries lacking a resolved id or a question are skipped with a logged
//     diagnostic — a partially authored template degrades a field, it does
//     not fail the booking flow.
//   - Enum options are flattened onto the top level.
//
// The output is re-sorted by Order (then id, for determinism between fields
// sharing an Order value). Missing refs never reach this transform: only
// resolved definitions are translated.
//
// # Inputs
//
//   - contract: A compiled contract from Compile.
//   - logger: Diagnostic logger for skipped entries. May be nil.
//
// # Outputs
//
//   - []BookingField: Legacy-shaped fields, sorted for the executor.
//
// # Thread Safety
//
// Stateless. Safe for concurrent use.
func ToBookingFields(contract CompiledContract, logger *slog.Logger) []BookingField {
	if logger == nil {
		logger = slog.Default()
	}

	fields := make([]BookingField, 0, len(contract.Fields))
	for _, def := range contract.Fields {
		fieldType := def.Type
		if fieldType == FieldTypeDatetime {
			fieldType = FieldTypeTime
		}

		slotID := def.ID
		if legacy, ok := legacyFieldIDs[fieldType]; ok {
			slotID = legacy
		}

		if slotID == "" || def.Question == "" {
			logger.Warn("booking field skipped: incomplete definition",
				slog.String("field_id", def.ID),
				slog.String("type", string(def.Type)),
				slog.Bool("has_question", def.Question != ""),
			)
			continue
		}

		fields = append(fields, BookingField{
			SlotID:      slotID,
			Type:        fieldType,
			Question:    def.Question,
			Required:    def.Required,
			Order:       def.Order,
			Validation:  def.Validation,
			Options:     def.EnumOptions,
			ConfirmBack: def.ConfirmBack,
		})
	}

	sort.SliceStable(fields, func(i, j int) bool {
		if fields[i].Order != fields[j].Order {
			return fields[i].Order < fields[j].Order
		}
		return fields[i].SlotID < fields[j].SlotID
	})

	return fields
}
