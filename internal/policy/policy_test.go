package policy

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestDetectPIICategories(t *testing.T) {
	cases := []struct {
		value    string
		category string
	}{
		{"reach me at jane@example.com", "email"},
		{"123-45-6789", "national_id"},
		{"4111 1111 1111 1111", "payment_card"},
		{"+1 (415) 555-0134", "phone"},
	}
	for _, tc := range cases {
		category, found := DetectPII(tc.value)
		if !found || category != tc.category {
			t.Fatalf("expected %q detected as %s, got %s found=%v", tc.value, tc.category, category, found)
		}
	}

	if _, found := DetectPII("Distributed Consensus"); found {
		t.Fatalf("expected plain concept name to pass")
	}
}

func TestMaskPIIString(t *testing.T) {
	masked := MaskPIIString("Owner jane@example.com, card 4111 1111 1111 1111")
	if strings.Contains(masked, "jane@example.com") {
		t.Fatalf("expected email masked, got %q", masked)
	}
	if !strings.Contains(masked, "[email_redacted]") {
		t.Fatalf("expected email placeholder, got %q", masked)
	}
	if !strings.Contains(masked, "**** **** **** 1111") {
		t.Fatalf("expected card masked to last 4, got %q", masked)
	}
}

func TestMaskPIIJSONWalksNestedValues(t *testing.T) {
	payload := json.RawMessage(`{
		"promoted":[{"name":"Routing Mesh","definition":"call 415-555-0134 for details"}],
		"errors":["contact admin@example.com"]
	}`)

	masked := string(MaskPIIJSON(payload))
	if strings.Contains(masked, "admin@example.com") || strings.Contains(masked, "415-555-0134") {
		t.Fatalf("expected nested pii masked, got %s", masked)
	}
	if !strings.Contains(masked, "Routing Mesh") {
		t.Fatalf("expected non-pii content preserved, got %s", masked)
	}

	var decoded map[string]any
	if err := json.Unmarshal(MaskPIIJSON(payload), &decoded); err != nil {
		t.Fatalf("expected masked payload to stay valid JSON: %v", err)
	}
}

func TestRejectCandidateName(t *testing.T) {
	cases := []struct {
		name   string
		reason string
	}{
		{"ab", "name_too_short"},
		{strings.Repeat("x", 101), "name_too_long"},
		{"The", "stopword"},
		{"tion", "word_fragment"},
		{"jane@example.com", "pii_email"},
	}
	for _, tc := range cases {
		reason, rejected := RejectCandidateName(tc.name)
		if !rejected || reason != tc.reason {
			t.Fatalf("expected %q rejected as %s, got %s rejected=%v", tc.name, tc.reason, reason, rejected)
		}
	}

	if reason, rejected := RejectCandidateName("Write-Ahead Log"); rejected {
		t.Fatalf("expected valid name accepted, got %s", reason)
	}
}
