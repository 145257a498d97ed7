package redact

import (
	"strings"
	"testing"
)

func TestEmail(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"john.doe@example.com", "j***@example.com"},
		{"a@b.co", "a***@b.co"},
		{"not-an-email", "not-an-email"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := Email(tt.in); got != tt.want {
			t.Errorf("Email(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestStringScrubsSecrets(t *testing.T) {
	in := "request failed: token=sk-abcdef1234567890 for user jane@corp.example"
	out := String(in)

	if strings.Contains(out, "sk-abcdef1234567890") {
		t.Fatalf("API key survived redaction: %q", out)
	}
	if strings.Contains(out, "jane@corp.example") {
		t.Fatalf("address survived redaction: %q", out)
	}
	if !strings.Contains(out, "@corp.example") {
		t.Fatalf("domain should survive for debuggability: %q", out)
	}
}

func TestEvidenceTruncates(t *testing.T) {
	long := strings.Repeat("a", 500)
	out := Evidence(long)
	if len(out) > maxEvidenceLen+10 {
		t.Fatalf("evidence not truncated: %d chars", len(out))
	}
	if !strings.HasSuffix(out, "...") {
		t.Fatalf("truncated evidence missing ellipsis: %q", out)
	}
}

func TestErrorNil(t *testing.T) {
	if Error(nil) != "" {
		t.Fatal("Error(nil) should be empty")
	}
}
