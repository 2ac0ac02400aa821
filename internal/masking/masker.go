// Package masking detects sensitive data in free text, replaces it with
// partially redacted placeholders, and restores it afterwards.
package masking

import (
	"strings"
)

// PasswordPlaceholder replaces every password assignment in full.
const PasswordPlaceholder = "password=********"

// MaskedDocument is the result of one Mask call.
// Every key of Replacements occurs in MaskedText at creation time.
type MaskedDocument struct {
	MaskedText   string
	Replacements map[string]string
}

// Observer is notified once per masked span. It never sees the span text.
type Observer interface {
	SpanMasked(category Category)
}

// Masker turns text into a MaskedDocument. It is stateless between calls and
// safe for concurrent use.
type Masker struct {
	matcher  *Matcher
	observer Observer
}

// NewMasker creates a Masker over the given patterns. A nil observer is allowed.
func NewMasker(patterns []Pattern, observer Observer) *Masker {
	return &Masker{
		matcher:  NewMatcher(patterns),
		observer: observer,
	}
}

// Default returns a Masker with every built-in category enabled.
func Default() *Masker {
	return NewMasker(DefaultPatterns(), nil)
}

// Mask replaces each detected span with its placeholder.
// Empty input comes back unchanged with an empty map.
//
// When two different values produce the same placeholder in one call, the
// later one wins in Replacements.
func (m *Masker) Mask(text string) MaskedDocument {
	replacements := make(map[string]string)
	if text == "" {
		return MaskedDocument{MaskedText: text, Replacements: replacements}
	}

	spans := m.matcher.FindSpans(text)
	if len(spans) == 0 {
		return MaskedDocument{MaskedText: text, Replacements: replacements}
	}

	var sb strings.Builder
	sb.Grow(len(text))
	last := 0
	for _, span := range spans {
		placeholder := placeholderFor(span.Category, span.Text)
		sb.WriteString(text[last:span.Start])
		sb.WriteString(placeholder)
		last = span.End

		replacements[placeholder] = span.Text
		if m.observer != nil {
			m.observer.SpanMasked(span.Category)
		}
	}
	sb.WriteString(text[last:])

	return MaskedDocument{MaskedText: sb.String(), Replacements: replacements}
}

// placeholderFor builds the redacted stand-in for one span.
func placeholderFor(category Category, value string) string {
	switch category {
	case CategoryEmail:
		return maskEmail(value)
	case CategoryCard:
		return "XXXX-XXXX-XXXX-" + lastN(digitsOnly(value), 4)
	case CategoryNationalID:
		return "XXXX-XXXX-" + lastN(value, 4)
	case CategoryAlphaID:
		return maskAlphaID(value)
	case CategoryPassword:
		return PasswordPlaceholder
	case CategoryBirthDate:
		return "XX-XX-" + lastN(value, 4)
	case CategoryPhone:
		return "XXXXXX" + lastN(digitsOnly(value), 4)
	default:
		return "-------MASKED-------"
	}
}

func maskEmail(email string) string {
	at := strings.IndexByte(email, '@')
	if at <= 2 {
		return "****" + email[at:]
	}
	return email[:2] + "****" + email[at:]
}

func maskAlphaID(id string) string {
	if len(id) < 3 {
		return strings.Repeat("X", len(id))
	}
	return id[:2] + "XXXXX" + id[len(id)-1:]
}

func digitsOnly(s string) string {
	var sb strings.Builder
	sb.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] >= '0' && s[i] <= '9' {
			sb.WriteByte(s[i])
		}
	}
	return sb.String()
}

func lastN(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
