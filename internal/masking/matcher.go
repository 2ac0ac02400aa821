package masking

// Span is one detected sensitive region of the input, by byte offset.
type Span struct {
	Category Category
	Start    int
	End      int
	Text     string
}

// Matcher finds non-overlapping sensitive spans, left to right.
// It holds no per-call state and is safe for concurrent use.
type Matcher struct {
	patterns []Pattern
}

// NewMatcher creates a Matcher over the given patterns. Slice order is the
// tie-break priority.
func NewMatcher(patterns []Pattern) *Matcher {
	return &Matcher{patterns: patterns}
}

// candidate is the next match of one pattern at or after the scan position.
type candidate struct {
	start, end int
	done       bool
}

// FindSpans returns every detected span. At each step the match with the
// smallest start offset is taken; equal starts go to the higher priority
// pattern. Scanning then resumes at the end of the taken span.
func (m *Matcher) FindSpans(text string) []Span {
	if text == "" || len(m.patterns) == 0 {
		return nil
	}

	next := make([]candidate, len(m.patterns))
	for i := range next {
		next[i].start = -1
	}

	var spans []Span
	pos := 0
	for pos < len(text) {
		best := -1
		for i, p := range m.patterns {
			c := &next[i]
			if c.done {
				continue
			}
			if c.start < pos {
				s, e, ok := findFrom(p, text, pos)
				if !ok {
					c.done = true
					continue
				}
				c.start, c.end = s, e
			}
			if best == -1 || c.start < next[best].start {
				best = i
			}
		}
		if best == -1 {
			break
		}

		c := next[best]
		spans = append(spans, Span{
			Category: m.patterns[best].Category,
			Start:    c.start,
			End:      c.end,
			Text:     text[c.start:c.end],
		})
		pos = c.end
	}

	return spans
}

// findFrom returns the leftmost match of p starting at or after from.
func findFrom(p Pattern, text string, from int) (int, int, bool) {
	for from <= len(text) {
		loc := p.Regexp.FindStringIndex(text[from:])
		if loc == nil {
			return 0, 0, false
		}
		start, end := from+loc[0], from+loc[1]
		if end == start {
			// patterns never match empty, but never loop on one either
			from = start + 1
			continue
		}
		if !p.LeadingBoundary || isWordBoundary(text, start) {
			return start, end, true
		}
		from = start + 1
	}
	return 0, 0, false
}

// isWordBoundary reports whether \b holds at offset i of text.
func isWordBoundary(text string, i int) bool {
	before := i > 0 && isWordByte(text[i-1])
	after := i < len(text) && isWordByte(text[i])
	return before != after
}

func isWordByte(b byte) bool {
	return b == '_' ||
		('0' <= b && b <= '9') ||
		('a' <= b && b <= 'z') ||
		('A' <= b && b <= 'Z')
}
