package crisis

import (
	"strings"
	"testing"
)

func TestScrubPII(t *testing.T) {
	in := "Email me at jane.doe@example.com or call 555-123-4567, SSN 123-45-6789."
	out := ScrubPII(in)
	for _, leaked := range []string{"jane.doe@example.com", "555-123-4567", "123-45-6789"} {
		if strings.Contains(out, leaked) {
			t.Fatalf("identifier leaked through scrub: %q in %q", leaked, out)
		}
	}
	for _, placeholder := range []string{"[email]", "[phone]", "[ssn]"} {
		if !strings.Contains(out, placeholder) {
			t.Fatalf("placeholder %s missing from %q", placeholder, out)
		}
	}
}

func TestScrubPIIKeepsHotline(t *testing.T) {
	in := "please call or text 988 to reach the crisis line"
	if out := ScrubPII(in); out != in {
		t.Fatalf("short hotline number must survive scrubbing, got %q", out)
	}
}

func TestScrubPIIKeepsMeaning(t *testing.T) {
	in := "I want to die and nobody knows"
	if out := ScrubPII(in); out != in {
		t.Fatalf("meaning-bearing content must be untouched, got %q", out)
	}
}
