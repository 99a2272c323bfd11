// Copyright (C) 2025 Coastline AI (engineering@coastlineai.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package phone

import (
	"testing"
)

// =============================================================================
// Normalization Tests
// =============================================================================

func TestNormalize(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
		ok   bool
	}{
		{"bare ten digits", "5551234567", "(555) 123-4567", true},
		{"already formatted", "(555) 123-4567", "(555) 123-4567", true},
		{"dashes and spaces", "555 123-4567", "(555) 123-4567", true},
		{"leading country code", "15551234567", "(555) 123-4567", true},
		{"plus country code", "+1 555 123 4567", "(555) 123-4567", true},
		{"too short", "555123", "", false},
		{"too long", "555123456789", "", false},
		{"eleven digits not starting with 1", "25551234567", "", false},
		{"no digits", "call me maybe", "", false},
		{"empty", "", "", false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := Normalize(tc.in)
			if ok != tc.ok {
				t.Fatalf("Normalize(%q) ok = %v, want %v", tc.in, ok, tc.ok)
			}
			if got != tc.want {
				t.Errorf("Normalize(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

// =============================================================================
// Initial Capture Tests
// =============================================================================

func TestStep_InitAdoptsExtractedNumber(t *testing.T) {
	m := NewMachine(2, nil)
	ctx := m.NewContext()

	next := m.Step(ctx, CaptureTurn{
		Utterance:      "it's 555 123 4567",
		ExtractedPhone: "5551234567",
	})

	if next.State != StateAwaitingConfirm {
		t.Fatalf("expected AWAITING_CONFIRM, got %s", next.State)
	}
	if next.Phone != "(555) 123-4567" {
		t.Errorf("expected canonical phone, got %q", next.Phone)
	}
	if next.LastOutcome != OutcomeReconfirm {
		t.Errorf("expected outcome %q, got %q", OutcomeReconfirm, next.LastOutcome)
	}
	if next.Attempts != 0 {
		t.Errorf("initial capture is not a correction, attempts = %d", next.Attempts)
	}
}

func TestStep_InitWithNothingUsableStaysPut(t *testing.T) {
	m := NewMachine(2, nil)
	ctx := m.NewContext()

	next := m.Step(ctx, CaptureTurn{Utterance: "um, hold on"})
	if next.State != StateInit {
		t.Errorf("expected INIT, got %s", next.State)
	}
	if next.LastOutcome != OutcomeNoInformation {
		t.Errorf("expected outcome %q, got %q", OutcomeNoInformation, next.LastOutcome)
	}
}

// =============================================================================
// Confirmation Tests
// =============================================================================

func TestStep_AffirmativeCompletesAndResetsAttempts(t *testing.T) {
	m := NewMachine(2, nil)
	ctx := CaptureContext{State: StateAwaitingConfirm, Phone: "(555) 123-4567", Attempts: 1, MaxAttempts: 2}

	next := m.Step(ctx, CaptureTurn{Utterance: "yes that's right", Affirmative: true})
	if next.State != StateComplete {
		t.Fatalf("expected COMPLETE, got %s", next.State)
	}
	if next.Attempts != 0 {
		t.Errorf("confirmation must reset attempts, got %d", next.Attempts)
	}
	if next.Phone != "(555) 123-4567" {
		t.Errorf("confirmed phone changed: %q", next.Phone)
	}
}

func TestStep_AffirmativeWinsOverCorrectionInSameTurn(t *testing.T) {
	// "yes" plus a stray 4-digit token: confirmation takes precedence.
	m := NewMachine(2, nil)
	ctx := CaptureContext{State: StateAwaitingConfirm, Phone: "(555) 123-4567", MaxAttempts: 2}

	next := m.Step(ctx, CaptureTurn{Utterance: "yes, 4567", Affirmative: true})
	if next.State != StateComplete {
		t.Fatalf("expected COMPLETE, got %s", next.State)
	}
	if next.Phone != "(555) 123-4567" {
		t.Errorf("held phone must not change on confirmation, got %q", next.Phone)
	}
}

// =============================================================================
// Correction Tests
// =============================================================================

func TestStep_FullReplacementNumber(t *testing.T) {
	m := NewMachine(2, nil)
	ctx := CaptureContext{State: StateAwaitingConfirm, Phone: "(555) 123-4567", MaxAttempts: 2}

	next := m.Step(ctx, CaptureTurn{
		Utterance:      "no, it's 555 987 6543",
		ExtractedPhone: "5559876543",
		Negative:       true,
	})

	if next.State != StateAwaitingConfirm {
		t.Fatalf("expected AWAITING_CONFIRM, got %s", next.State)
	}
	if next.Phone != "(555) 987-6543" {
		t.Errorf("expected replacement adopted, got %q", next.Phone)
	}
	if next.LastOutcome != OutcomeReconfirm {
		t.Errorf("expected outcome %q, got %q", OutcomeReconfirm, next.LastOutcome)
	}
	if next.Attempts != 1 {
		t.Errorf("replacement counts as a correction, attempts = %d", next.Attempts)
	}
}

func TestStep_SuffixRepair(t *testing.T) {
	// Caller holds (555) 123-4567, says "no it's 2202": only the last four
	// digits change.
	m := NewMachine(2, nil)
	ctx := CaptureContext{State: StateAwaitingConfirm, Phone: "(555) 123-4567", MaxAttempts: 2}

	next := m.Step(ctx, CaptureTurn{Utterance: "no it's 2202", Negative: true})

	if next.Phone != "(555) 123-2202" {
		t.Errorf("expected suffix repaired to (555) 123-2202, got %q", next.Phone)
	}
	if next.State != StateAwaitingConfirm {
		t.Errorf("expected AWAITING_CONFIRM for re-read-back, got %s", next.State)
	}
	if next.LastOutcome != OutcomeSuffixFixed {
		t.Errorf("expected outcome %q, got %q", OutcomeSuffixFixed, next.LastOutcome)
	}
	if next.Attempts != 1 {
		t.Errorf("suffix repair counts as a correction, attempts = %d", next.Attempts)
	}
}

func TestStep_IdenticalSuffixIsNotACorrection(t *testing.T) {
	// The token matches the held suffix already; nothing changes, and with
	// Negative set the turn falls through to a full-retry prompt.
	m := NewMachine(2, nil)
	ctx := CaptureContext{State: StateAwaitingConfirm, Phone: "(555) 123-4567", MaxAttempts: 2}

	next := m.Step(ctx, CaptureTurn{Utterance: "no, 4567", Negative: true})
	if next.LastOutcome != OutcomeRetryFull {
		t.Errorf("expected fall-through to %q, got %q", OutcomeRetryFull, next.LastOutcome)
	}
	if next.Phone != "(555) 123-4567" {
		t.Errorf("held phone must not change, got %q", next.Phone)
	}
}

func TestStep_MultipleFourDigitTokensAreAmbiguous(t *testing.T) {
	m := NewMachine(2, nil)
	ctx := CaptureContext{State: StateAwaitingConfirm, Phone: "(555) 123-4567", MaxAttempts: 2}

	next := m.Step(ctx, CaptureTurn{Utterance: "no, 2202 or maybe 3303", Negative: true})

	if next.Phone != "(555) 123-4567" {
		t.Errorf("ambiguous tokens must not repair, got %q", next.Phone)
	}
	if next.LastOutcome != OutcomeRetryFull {
		t.Errorf("expected %q, got %q", OutcomeRetryFull, next.LastOutcome)
	}
}

func TestStep_PlainRejectionAsksForFullNumber(t *testing.T) {
	m := NewMachine(2, nil)
	ctx := CaptureContext{State: StateAwaitingConfirm, Phone: "(555) 123-4567", MaxAttempts: 2}

	next := m.Step(ctx, CaptureTurn{Utterance: "no that's wrong", Negative: true})
	if next.State != StateAwaitingConfirm {
		t.Errorf("expected AWAITING_CONFIRM, got %s", next.State)
	}
	if next.LastOutcome != OutcomeRetryFull {
		t.Errorf("expected %q, got %q", OutcomeRetryFull, next.LastOutcome)
	}
	if next.Attempts != 1 {
		t.Errorf("expected attempts incremented, got %d", next.Attempts)
	}
}

func TestStep_UnparseableTurnIsNoInformation(t *testing.T) {
	m := NewMachine(2, nil)
	ctx := CaptureContext{State: StateAwaitingConfirm, Phone: "(555) 123-4567", MaxAttempts: 2}

	next := m.Step(ctx, CaptureTurn{Utterance: "can you hold a second"})
	if next.State != StateAwaitingConfirm || next.Attempts != 0 {
		t.Errorf("neutral turn must not advance or count, got %+v", next)
	}
	if next.LastOutcome != OutcomeNoInformation {
		t.Errorf("expected %q, got %q", OutcomeNoInformation, next.LastOutcome)
	}
}

// =============================================================================
// Attempt Bound Tests
// =============================================================================

func TestStep_BailsAfterExhaustingCorrections(t *testing.T) {
	m := NewMachine(2, nil)
	ctx := CaptureContext{State: StateAwaitingConfirm, Phone: "(555) 123-4567", MaxAttempts: 2}

	// Corrections 1 and 2 stay within the bound.
	ctx = m.Step(ctx, CaptureTurn{Utterance: "no", Negative: true})
	if ctx.State != StateAwaitingConfirm || ctx.Attempts != 1 {
		t.Fatalf("after correction 1: %+v", ctx)
	}
	ctx = m.Step(ctx, CaptureTurn{Utterance: "still no", Negative: true})
	if ctx.State != StateAwaitingConfirm || ctx.Attempts != 2 {
		t.Fatalf("after correction 2: %+v", ctx)
	}

	// Correction 3 crosses the bound.
	ctx = m.Step(ctx, CaptureTurn{Utterance: "no, wrong again", Negative: true})
	if ctx.State != StateBailed {
		t.Fatalf("expected BAILED after correction 3, got %s", ctx.State)
	}
	if ctx.LastOutcome != OutcomeBailed {
		t.Errorf("expected outcome %q, got %q", OutcomeBailed, ctx.LastOutcome)
	}
}

func TestStep_AdoptionPastBoundBails(t *testing.T) {
	// Even a usable replacement number bails once the bound is crossed; the
	// call has burned its correction budget.
	m := NewMachine(1, nil)
	ctx := CaptureContext{State: StateAwaitingConfirm, Phone: "(555) 123-4567", Attempts: 1, MaxAttempts: 1}

	next := m.Step(ctx, CaptureTurn{
		Utterance:      "no, 555 987 6543",
		ExtractedPhone: "5559876543",
		Negative:       true,
	})
	if next.State != StateBailed {
		t.Errorf("expected BAILED, got %s", next.State)
	}
}

// =============================================================================
// Terminal State Tests
// =============================================================================

func TestStep_TerminalStatesAreFinal(t *testing.T) {
	m := NewMachine(2, nil)

	for _, state := range []CaptureState{StateComplete, StateBailed} {
		ctx := CaptureContext{State: state, Phone: "(555) 123-4567", MaxAttempts: 2}
		next := m.Step(ctx, CaptureTurn{
			Utterance:      "no, 555 987 6543",
			ExtractedPhone: "5559876543",
			Negative:       true,
		})
		if next != ctx {
			t.Errorf("terminal state %s must be inert, got %+v", state, next)
		}
	}
}

func TestNewMachine_ClampsAttemptBound(t *testing.T) {
	m := NewMachine(0, nil)
	ctx := m.NewContext()
	if ctx.MaxAttempts != 1 {
		t.Errorf("expected bound clamped to 1, got %d", ctx.MaxAttempts)
	}
}
