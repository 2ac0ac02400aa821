package masking

import (
	"sort"
	"strings"
)

// Unmask puts the original values back in place of their placeholders.
// Placeholders without an entry are left as they are.
//
// Replacement is a single left-to-right pass, trying longer placeholders
// first, so a short placeholder that is a substring of a longer one (the
// 12-digit ID form inside the card form, for example) never splits it, and
// restored values are never rescanned.
func Unmask(text string, replacements map[string]string) string {
	if text == "" || len(replacements) == 0 {
		return text
	}

	keys := make([]string, 0, len(replacements))
	for k := range replacements {
		if k != "" {
			keys = append(keys, k)
		}
	}
	sort.Slice(keys, func(i, j int) bool {
		if len(keys[i]) != len(keys[j]) {
			return len(keys[i]) > len(keys[j])
		}
		return keys[i] < keys[j]
	})

	pairs := make([]string, 0, 2*len(keys))
	for _, k := range keys {
		pairs = append(pairs, k, replacements[k])
	}
	return strings.NewReplacer(pairs...).Replace(text)
}
