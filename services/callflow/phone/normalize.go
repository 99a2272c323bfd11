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

import "strings"

// Normalize converts a spoken or pre-formatted phone number into the
// canonical "(AAA) BBB-CCCC" form.
//
// # Description
//
// Accepts either an already-formatted string or raw digits with arbitrary
// punctuation. An 11-digit number with a leading country-code 1 is reduced
// to its 10 national digits. Anything that does not resolve to exactly 10
// digits is rejected.
//
// # Inputs
//
//   - raw: Candidate number, e.g. "5551234567", "1-555-123-4567",
//     "(555) 123-4567".
//
// # Outputs
//
//   - string: Canonical formatted number. Empty when ok is false.
//   - bool: False when the input does not resolve to 10 digits.
func Normalize(raw string) (string, bool) {
	digits := extractDigits(raw)
	if len(digits) == 11 && digits[0] == '1' {
		digits = digits[1:]
	}
	if len(digits) != 10 {
		return "", false
	}
	return formatDigits(digits), true
}

// Digits strips a canonical formatted number back to its 10 digits.
// Returns an empty string if value does not hold exactly 10 digits.
func Digits(value string) string {
	digits := extractDigits(value)
	if len(digits) != 10 {
		return ""
	}
	return digits
}

// formatDigits renders exactly 10 digits as "(AAA) BBB-CCCC".
func formatDigits(digits string) string {
	return "(" + digits[0:3] + ") " + digits[3:6] + "-" + digits[6:10]
}

// extractDigits returns only the ASCII digits of s, in order.
func extractDigits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// digitTokens returns the maximal digit runs in s, in order.
//
// "no it's 2202 not 4567" yields ["2202", "4567"]. Used to detect the
// "correct the last four digits" repair pattern without any NLU.
func digitTokens(s string) []string {
	var tokens []string
	var cur strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			cur.WriteRune(r)
			continue
		}
		if cur.Len() > 0 {
			tokens = append(tokens, cur.String())
			cur.Reset()
		}
	}
	if cur.Len() > 0 {
		tokens = append(tokens, cur.String())
	}
	return tokens
}
