// Package phone canonicalizes free-form phone strings into a single
// comparable digits-only form, reconciling the chat platform's and the CRM's
// divergent formatting of Mexican mobile numbers.
package phone

import "strings"

// mexicanMobilePrefixes are the leading digits of a bare 10-digit number that
// are treated as a Mexican mobile number rather than a US number.
var mexicanMobilePrefixes = map[byte]bool{'3': true, '5': true, '6': true, '8': true}

// Canonicalize strips every non-digit character and applies the Mexican
// long-form and US fallback rules. It returns "" when the input yields no
// digits at all (the spec's "null").
func Canonicalize(raw string) string {
	digits := onlyDigits(raw)
	if digits == "" {
		return ""
	}

	// CRM form: "52" + 10 digits, missing the mobile "1". Chat-platform form
	// already carries it ("521" + 10 digits) and must be left untouched.
	if strings.HasPrefix(digits, "52") && len(digits) == 12 && !strings.HasPrefix(digits, "521") {
		digits = "52" + "1" + digits[2:]
	} else if len(digits) == 10 {
		if mexicanMobilePrefixes[digits[0]] {
			digits = "521" + digits
		} else {
			digits = "1" + digits
		}
	}

	return digits
}

// onlyDigits removes every rune that is not an ASCII digit.
func onlyDigits(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// FormatForDisplay renders the canonical form with a leading "+", or ""
// when the input doesn't canonicalize to anything.
func FormatForDisplay(raw string) string {
	canon := Canonicalize(raw)
	if canon == "" {
		return ""
	}
	return "+" + canon
}

// FormatForChat renders a phone number the way the chat platform expects it
// on outbound sends: canonical digits, no "+" prefix.
func FormatForChat(raw string) string {
	return Canonicalize(raw)
}

// FormatForCRM renders a phone number the way the CRM expects it on writes:
// E.164-shaped, with a leading "+".
func FormatForCRM(raw string) string {
	return FormatForDisplay(raw)
}

// Match reports whether two phone strings refer to the same number once
// both are canonicalized. Two inputs that both fail to canonicalize are
// never considered a match.
func Match(a, b string) bool {
	canonA := Canonicalize(a)
	if canonA == "" {
		return false
	}
	return canonA == Canonicalize(b)
}
