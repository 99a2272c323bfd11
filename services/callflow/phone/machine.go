// Copyright (C) 2025 Coastline AI (engineering@coastlineai.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package phone converges a noisy spoken phone number to a confirmed value
// under a bounded number of correction attempts.
//
// The machine exists because phone capture is the single most error-prone
// exchange in a voice call: STT garbles area codes, callers interrupt the
// read-back with "no, it's 2202", and a bad connection can mis-transcribe
// the same number three times in a row. Without a hard attempt ceiling a
// stubborn mis-transcription loops the caller indefinitely; BAILED is the
// deliberate, caller-visible "give up cleanly" terminal state, at which
// point the surrounding flow escalates to a human or takes a message.
package phone

import (
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// States & Outcomes
// =============================================================================

// CaptureState is the machine's position in the capture conversation.
type CaptureState string

const (
	// StateInit is the state before any number has been heard.
	StateInit CaptureState = "INIT"

	// StateAwaitingConfirm means a candidate number is held and the caller
	// has been asked to confirm it.
	StateAwaitingConfirm CaptureState = "AWAITING_CONFIRM"

	// StateComplete is terminal: the caller confirmed the held number.
	StateComplete CaptureState = "COMPLETE"

	// StateBailed is terminal: the correction bound was exhausted.
	StateBailed CaptureState = "BAILED"
)

// Terminal reports whether no further transition can leave the state.
func (s CaptureState) Terminal() bool {
	return s == StateComplete || s == StateBailed
}

// Outcome codes describe what a Step did; the prompt layer selects the next
// utterance from them.
const (
	// OutcomeConfirmed: caller affirmed the held number.
	OutcomeConfirmed = "confirmed"

	// OutcomeReconfirm: a new candidate was adopted; read it back.
	OutcomeReconfirm = "reconfirm"

	// OutcomeSuffixFixed: the last four digits were repaired; read it back.
	OutcomeSuffixFixed = "suffix_fixed"

	// OutcomeRetryFull: the caller rejected the number with no usable
	// correction; ask for the full number again.
	OutcomeRetryFull = "retry_full"

	// OutcomeBailed: the attempt bound was exhausted.
	OutcomeBailed = "bailed"

	// OutcomeNoInformation: the turn carried nothing usable; state unchanged.
	OutcomeNoInformation = "no_information"
)

// =============================================================================
// Prometheus Metrics
// =============================================================================

var captureStepTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "coastline",
	Subsystem: "callflow_phone",
	Name:      "capture_step_total",
	Help:      "Phone capture transitions by outcome",
}, []string{"outcome"})

// =============================================================================
// Types
// =============================================================================

// CaptureContext is one capture conversation's state. It is created at the
// first phone-field turn, advanced turn-by-turn through Step, and discarded
// (or persisted by the caller) once a terminal state is reached.
type CaptureContext struct {
	// State is the machine position.
	State CaptureState `json:"state"`

	// Phone is the current best value in canonical "(AAA) BBB-CCCC" form.
	Phone string `json:"phone,omitempty"`

	// Attempts counts corrections since the last confirmed value.
	Attempts int `json:"attempts"`

	// MaxAttempts is the correction bound; the attempt after it bails.
	MaxAttempts int `json:"maxAttempts"`

	// LastOutcome is the outcome code of the most recent Step.
	LastOutcome string `json:"lastOutcome,omitempty"`
}

// CaptureTurn is the per-turn input: the raw utterance plus whatever the
// upstream extractor already pulled out of it.
type CaptureTurn struct {
	// Utterance is the raw STT text for this turn.
	Utterance string `json:"utterance"`

	// ExtractedPhone is a full phone number the upstream extractor found in
	// the utterance, if any. Empty otherwise.
	ExtractedPhone string `json:"extractedPhone,omitempty"`

	// Affirmative and Negative are the classifier's yes/no read of the turn.
	Affirmative bool `json:"affirmative"`
	Negative    bool `json:"negative"`
}

// Machine applies capture transitions. Stateless; all conversation state
// lives in the CaptureContext.
type Machine struct {
	maxAttempts int
	logger      *slog.Logger
}

// NewMachine creates a capture machine with the given correction bound.
//
// # Inputs
//
//   - maxAttempts: Correction ceiling. Values below 1 use 1.
//   - logger: Transition diagnostics. May be nil.
//
// # Thread Safety
//
// The returned machine is safe for concurrent use.
func NewMachine(maxAttempts int, logger *slog.Logger) *Machine {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Machine{maxAttempts: maxAttempts, logger: logger}
}

// NewContext returns a fresh capture context bound to the machine's attempt
// ceiling.
func (m *Machine) NewContext() CaptureContext {
	return CaptureContext{State: StateInit, MaxAttempts: m.maxAttempts}
}

// =============================================================================
// Step
// =============================================================================

// Step advances a capture context by one conversation turn.
//
// # Description
//
// Pure transition function: the input context is not mutated, the advanced
// copy is returned. Terminal states are final — stepping a COMPLETE or
// BAILED context returns it unchanged.
//
// In AWAITING_CONFIRM the rules apply in strict order:
//
//  1. Affirmative response: COMPLETE, attempt counter reset.
//  2. A new full number was extracted: adopt it, increment attempts,
//     bail past the bound, otherwise re-confirm.
//  3. No full number but the utterance contains exactly one 4-digit token:
//     replace the last four digits of the held number; if that changes the
//     value, proceed as rule 2. Multiple 4-digit tokens are ambiguous and
//     attempt no correction.
//  4. Explicit negative with no usable correction: increment attempts,
//     bail past the bound, otherwise ask for the full number again.
//
// Unparseable input is "no new information this turn", not a failure.
//
// # Inputs
//
//   - ctx: Current capture state.
//   - turn: This turn's utterance and extraction results.
//
// # Outputs
//
//   - CaptureContext: The advanced state, LastOutcome set.
//
// # Thread Safety
//
// Safe for concurrent use; contexts are independent per call.
func (m *Machine) Step(ctx CaptureContext, turn CaptureTurn) CaptureContext {
	if ctx.State.Terminal() {
		return ctx
	}
	if ctx.MaxAttempts < 1 {
		ctx.MaxAttempts = m.maxAttempts
	}

	next := m.transition(ctx, turn)
	captureStepTotal.WithLabelValues(next.LastOutcome).Inc()

	m.logger.Debug("phone capture step",
		slog.String("from", string(ctx.State)),
		slog.String("to", string(next.State)),
		slog.String("outcome", next.LastOutcome),
		slog.Int("attempts", next.Attempts),
	)
	return next
}

func (m *Machine) transition(ctx CaptureContext, turn CaptureTurn) CaptureContext {
	switch ctx.State {
	case StateInit:
		if normalized, ok := Normalize(turn.ExtractedPhone); ok {
			ctx.Phone = normalized
			ctx.State = StateAwaitingConfirm
			ctx.LastOutcome = OutcomeReconfirm
			return ctx
		}
		ctx.LastOutcome = OutcomeNoInformation
		return ctx

	case StateAwaitingConfirm:
		// 1. Confirmation wins over everything else in the turn.
		if turn.Affirmative {
			ctx.State = StateComplete
			ctx.Attempts = 0
			ctx.LastOutcome = OutcomeConfirmed
			return ctx
		}

		// 2. A full replacement number.
		if normalized, ok := Normalize(turn.ExtractedPhone); ok {
			return m.adopt(ctx, normalized, OutcomeReconfirm)
		}

		// 3. Suffix repair: exactly one 4-digit token in the utterance.
		if suffix, ok := singleFourDigitToken(turn.Utterance); ok {
			if repaired, changed := repairSuffix(ctx.Phone, suffix); changed {
				return m.adopt(ctx, repaired, OutcomeSuffixFixed)
			}
		}

		// 4. Rejection with nothing extractable.
		if turn.Negative {
			ctx.Attempts++
			if ctx.Attempts > ctx.MaxAttempts {
				ctx.State = StateBailed
				ctx.LastOutcome = OutcomeBailed
				return ctx
			}
			ctx.LastOutcome = OutcomeRetryFull
			return ctx
		}

		ctx.LastOutcome = OutcomeNoInformation
		return ctx
	}

	// Unknown state: treat as no information rather than inventing one.
	ctx.LastOutcome = OutcomeNoInformation
	return ctx
}

// adopt installs a new candidate number, counting it as a correction attempt
// and bailing past the bound.
func (m *Machine) adopt(ctx CaptureContext, phone, outcome string) CaptureContext {
	ctx.Phone = phone
	ctx.Attempts++
	if ctx.Attempts > ctx.MaxAttempts {
		ctx.State = StateBailed
		ctx.LastOutcome = OutcomeBailed
		return ctx
	}
	ctx.State = StateAwaitingConfirm
	ctx.LastOutcome = outcome
	return ctx
}

// singleFourDigitToken returns the utterance's 4-digit token when exactly one
// is present. Two or more 4-digit tokens are ambiguous — a caller reading
// back two groups — and no correction is attempted.
func singleFourDigitToken(utterance string) (string, bool) {
	var found string
	count := 0
	for _, tok := range digitTokens(utterance) {
		if len(tok) == 4 {
			found = tok
			count++
		}
	}
	if count != 1 {
		return "", false
	}
	return found, true
}

// repairSuffix replaces the last four digits of the held canonical number.
// Returns the repaired canonical number and whether it differs from held.
func repairSuffix(held, suffix string) (string, bool) {
	digits := Digits(held)
	if digits == "" {
		return "", false
	}
	repaired := digits[:6] + suffix
	if repaired == digits {
		return "", false
	}
	return formatDigits(repaired), true
}
