package masking

import (
	"regexp"
)

// Category is a class of sensitive data recognized by the Matcher.
type Category string

// Categories in priority order, highest first. When two categories match at
// the same offset, the earlier one wins.
const (
	CategoryEmail      Category = "EMAIL"
	CategoryCard       Category = "CARD"
	CategoryNationalID Category = "NATIONAL_ID_12"
	CategoryAlphaID    Category = "ALPHA_ID"
	CategoryPassword   Category = "PASSWORD"
	CategoryBirthDate  Category = "DATE_OF_BIRTH"
	CategoryPhone      Category = "PHONE"
)

// Pattern pairs a category with its detector.
//
// Go's regexp evaluates \b relative to the string it is given, so a leading
// \b cannot be expressed when the Matcher resumes scanning mid-text. Patterns
// that need one set LeadingBoundary and leave it out of the expression; the
// Matcher checks it against the full text instead. Trailing \b is fine since
// the scanned suffix always ends where the text ends.
type Pattern struct {
	Category        Category
	Regexp          *regexp.Regexp
	LeadingBoundary bool
}

// DefaultPatterns returns the built-in detectors in priority order.
func DefaultPatterns() []Pattern {
	return []Pattern{
		// local@domain.tld
		{
			Category: CategoryEmail,
			Regexp:   regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`),
		},
		// 13 to 16 digits, optionally separated by spaces or hyphens
		{
			Category:        CategoryCard,
			Regexp:          regexp.MustCompile(`(?:\d[ \-]*?){13,16}\b`),
			LeadingBoundary: true,
		},
		// exactly 12 digits
		{
			Category:        CategoryNationalID,
			Regexp:          regexp.MustCompile(`\d{12}\b`),
			LeadingBoundary: true,
		},
		// AAAAA9999A
		{
			Category: CategoryAlphaID,
			Regexp:   regexp.MustCompile(`[A-Z]{5}[0-9]{4}[A-Z]`),
		},
		// password: value, Password=value
		{
			Category: CategoryPassword,
			Regexp:   regexp.MustCompile(`(?i)password\s*[:=]\s*\S+`),
		},
		// dd-mm-yyyy, dd/mm/yyyy, dd.mm.yyyy
		{
			Category:        CategoryBirthDate,
			Regexp:          regexp.MustCompile(`\d{2}[-/.]\d{2}[-/.]\d{4}\b`),
			LeadingBoundary: true,
		},
		// +91 9876543210, 91-9876543210, 9876543210
		{
			Category:        CategoryPhone,
			Regexp:          regexp.MustCompile(`\+?91[- ]?[6-9]\d{9}\b|[6-9]\d{9}\b`),
			LeadingBoundary: true,
		},
	}
}

// PatternsFor returns the default patterns restricted to the given categories,
// keeping priority order. An empty list selects every category.
func PatternsFor(categories []Category) []Pattern {
	all := DefaultPatterns()
	if len(categories) == 0 {
		return all
	}

	enabled := make(map[Category]struct{}, len(categories))
	for _, c := range categories {
		enabled[c] = struct{}{}
	}

	var patterns []Pattern
	for _, p := range all {
		if _, ok := enabled[p.Category]; ok {
			patterns = append(patterns, p)
		}
	}
	return patterns
}

// ParseCategory maps a configuration name to a Category.
func ParseCategory(name string) (Category, bool) {
	for _, p := range DefaultPatterns() {
		if string(p.Category) == name {
			return p.Category, true
		}
	}
	return "", false
}
