package domain

import "strings"

// Category is one entry of the live category catalog.
type Category struct {
	Value  string `json:"value"` // machine value, e.g. "groceries"
	Name   string `json:"name"`  // display name, e.g. "Groceries"
	Type   string `json:"type"`  // "expense" or "income"
	Active bool   `json:"active"`
}

// CategoryMiscellaneous is the fallback category the deterministic
// categorizer assigns when no rule matches.
const CategoryMiscellaneous = "miscellaneous"

// Catalog is the ordered collection of category definitions for one
// pipeline run. It is read-only input: it may change between runs but
// never within one.
type Catalog []Category

// Active returns the active subset, preserving order.
func (c Catalog) Active() Catalog {
	out := make(Catalog, 0, len(c))
	for _, cat := range c {
		if cat.Active {
			out = append(out, cat)
		}
	}
	return out
}

// Values returns the machine values of every active category.
func (c Catalog) Values() []string {
	vals := make([]string, 0, len(c))
	for _, cat := range c {
		if cat.Active {
			vals = append(vals, cat.Value)
		}
	}
	return vals
}

// Contains reports whether value names an active category,
// case-insensitively.
func (c Catalog) Contains(value string) bool {
	for _, cat := range c {
		if cat.Active && strings.EqualFold(cat.Value, value) {
			return true
		}
	}
	return false
}
