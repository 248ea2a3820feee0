package lifecycle

import "testing"

func TestNormalizePhoneNumber(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"+1 (555) 123-4567", "15551234567"},
		{"15551234567", "15551234567"},
		{"+46-70-123 45 67", "46701234567"},
		{"abc", ""},
		{"", ""},
		{"  +1.555.123.4567 ext", "15551234567"},
	}
	for _, tc := range tests {
		if got := NormalizePhoneNumber(tc.in); got != tc.want {
			t.Fatalf("NormalizePhoneNumber(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestFormatPairingCode(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"ABCD1234", "ABCD-1234"},
		{"ABCDEFGH1234", "ABCD-EFGH-1234"},
		{"ABCD", "ABCD"},
		{"ABC", "ABC"},
		{"", ""},
		{"ABCDE", "ABCD-E"},
	}
	for _, tc := range tests {
		if got := FormatPairingCode(tc.in); got != tc.want {
			t.Fatalf("FormatPairingCode(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
