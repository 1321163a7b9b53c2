package crisis

import "regexp"

// The scrub patterns cover the identifiers most likely to leak into
// utterances sent to external classifiers or written to logs.
var (
	emailPattern = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)
	phonePattern = regexp.MustCompile(`\+?\d{1,3}[\s.\-]?\(?\d{3}\)?[\s.\-]?\d{3}[\s.\-]?\d{4}`)
	ssnPattern   = regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`)
)

// ScrubPII replaces direct identifiers with placeholders before the text
// reaches any external collaborator. Meaning-bearing content is untouched so
// risk detection still sees the full signal.
func ScrubPII(text string) string {
	text = emailPattern.ReplaceAllString(text, "[email]")
	text = ssnPattern.ReplaceAllString(text, "[ssn]")
	text = phonePattern.ReplaceAllString(text, "[phone]")
	return text
}
