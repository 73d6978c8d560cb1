package core

import (
	"testing"
)

func TestParseExtractionValidJSON(t *testing.T) {
	fields, fallback := parseExtraction(`{"claim_number":"ABC123","policy_holder":"Jane Roe"}`)
	if fallback {
		t.Fatal("valid JSON must not fall back")
	}
	if fields["claim_number"] != "ABC123" || fields["policy_holder"] != "Jane Roe" {
		t.Errorf("fields mismatch: %v", fields)
	}
}

func TestParseExtractionFallbackPreservesOutput(t *testing.T) {
	fields, fallback := parseExtraction("not json")
	if !fallback {
		t.Fatal("unparsable output must fall back")
	}
	if len(fields) != 1 || fields["raw_response"] != "not json" {
		t.Errorf("want single raw_response key, got %v", fields)
	}
}

func TestParseExtractionNonObjectJSONFallsBack(t *testing.T) {
	// A bare array or string parses as JSON but is not a field mapping.
	for _, in := range []string{`["a","b"]`, `"just a string"`, `null`} {
		fields, fallback := parseExtraction(in)
		if !fallback {
			t.Errorf("parseExtraction(%q): want fallback", in)
			continue
		}
		if fields["raw_response"] != in {
			t.Errorf("parseExtraction(%q): raw_response = %v", in, fields["raw_response"])
		}
	}
}

func TestParseExtractionStripsCodeFences(t *testing.T) {
	fenced := "```json\n{\"claim_number\": \"XY-99\"}\n```"
	fields, fallback := parseExtraction(fenced)
	if fallback {
		t.Fatalf("fenced JSON should parse, got fallback with %v", fields)
	}
	if fields["claim_number"] != "XY-99" {
		t.Errorf("fields mismatch: %v", fields)
	}
}

func TestStripCodeFences(t *testing.T) {
	cases := []struct{ in, want string }{
		{"{\"a\":1}", "{\"a\":1}"},
		{"```json\n{\"a\":1}\n```", "{\"a\":1}"},
		{"```\n{\"a\":1}\n```", "{\"a\":1}"},
		{"  {\"a\":1}  ", "{\"a\":1}"},
	}
	for _, c := range cases {
		if got := stripCodeFences(c.in); got != c.want {
			t.Errorf("stripCodeFences(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestTokenCostUSD(t *testing.T) {
	got := tokenCostUSD("gemini-2.5-flash", 1_000_000, 1_000_000)
	if got != 0.30+2.50 {
		t.Errorf("flash cost = %v", got)
	}

	// Unknown models price at the flash rate rather than zero.
	if tokenCostUSD("some-future-model", 1_000_000, 0) != 0.30 {
		t.Errorf("unknown model should use flash pricing")
	}

	if tokenCostUSD("gemini-2.5-flash", 0, 0) != 0 {
		t.Errorf("zero tokens must cost nothing")
	}
}
