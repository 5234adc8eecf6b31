package keylog

import (
	"strings"

	radix "github.com/armon/go-radix"
)

// Classifier decides whether accumulating keystroke text contains a
// sensitive-field marker such as "password". Matching is case-insensitive
// substring matching. The classifier itself is stateless and safe for
// concurrent use after construction; the sticky latch lives in the
// Aggregator's redaction state.
type Classifier struct {
	tree *radix.Tree
}

// NewClassifier indexes the marker set. Markers are lowercased; empty ones
// are dropped.
func NewClassifier(markers []string) *Classifier {
	tree := radix.New()
	for _, m := range markers {
		m = strings.ToLower(strings.TrimSpace(m))
		if m == "" {
			continue
		}
		tree.Insert(m, struct{}{})
	}
	return &Classifier{tree: tree}
}

// Sensitive reports whether text contains any marker. Each rune-start suffix
// of the lowercased text is probed with a longest-prefix lookup against the
// marker tree, which amounts to substring matching over the whole set in one
// pass per position.
func (c *Classifier) Sensitive(text string) bool {
	if text == "" || c.tree.Len() == 0 {
		return false
	}
	lower := strings.ToLower(text)
	for i := range lower {
		if marker, _, ok := c.tree.LongestPrefix(lower[i:]); ok && marker != "" {
			return true
		}
	}
	return false
}
