// Package compliance redacts personal data from report text.
package compliance

import (
	"context"
	"regexp"
)

const (
	RedactedEmail = "[REDACTED_EMAIL]"
	RedactedPhone = "[REDACTED_PHONE]"
)

var (
	emailRe = regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`)
	phoneRe = regexp.MustCompile(`\b\d{3}[-.]?\d{3}[-.]?\d{4}\b`)
)

// Redactor replaces email addresses and phone numbers.
type Redactor struct{}

func (Redactor) Redact(_ context.Context, text string) (string, error) {
	return RedactText(text), nil
}

// RedactText applies the email then the phone pattern.
func RedactText(text string) string {
	text = emailRe.ReplaceAllString(text, RedactedEmail)
	return phoneRe.ReplaceAllString(text, RedactedPhone)
}
