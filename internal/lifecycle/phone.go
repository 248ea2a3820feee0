package lifecycle

import "strings"

// NormalizePhoneNumber strips every non-digit character from a
// caller-supplied phone number, so "+1 (555) 123-4567" becomes
// "15551234567".
func NormalizePhoneNumber(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// FormatPairingCode renders a raw pairing code as four-character groups
// joined by dashes: "ABCD1234" becomes "ABCD-1234". Codes shorter than
// one group pass through unchanged.
func FormatPairingCode(code string) string {
	const group = 4
	if len(code) <= group {
		return code
	}
	var b strings.Builder
	b.Grow(len(code) + len(code)/group)
	for i, r := range code {
		if i > 0 && i%group == 0 {
			b.WriteByte('-')
		}
		b.WriteRune(r)
	}
	return b.String()
}
