// Package text turns structured product records into the plain text that
// gets embedded.
package text

import "strings"

// DefaultFields is the canonical field order for product records.
var DefaultFields = []string{"title", "description", "price", "category", "brand"}

// Normalizer builds a document from record fields in a fixed order.
// It is safe for concurrent use.
type Normalizer struct {
	fields []string
	prefix string
}

// NewNormalizer returns a Normalizer over order. Field names are matched
// case-insensitively. prefix is prepended only to non-empty documents.
func NewNormalizer(order []string, prefix string) *Normalizer {
	fields := make([]string, 0, len(order))
	seen := make(map[string]bool, len(order))
	for _, f := range order {
		f = strings.ToLower(strings.TrimSpace(f))
		if f == "" || seen[f] {
			continue
		}
		seen[f] = true
		fields = append(fields, f)
	}
	return &Normalizer{fields: fields, prefix: prefix}
}

// Fields returns the canonical order.
func (n *Normalizer) Fields() []string {
	out := make([]string, len(n.fields))
	copy(out, n.fields)
	return out
}

// Normalize appends "<field> <value> " for every canonical field with a
// non-empty value and returns the trimmed result. Unknown fields are ignored.
// An empty string means no field matched.
func (n *Normalizer) Normalize(fields map[string]string) string {
	var b strings.Builder
	for _, name := range n.fields {
		v, ok := lookup(fields, name)
		if !ok {
			continue
		}
		b.WriteString(name)
		b.WriteByte(' ')
		b.WriteString(v)
		b.WriteByte(' ')
	}

	body := strings.TrimSpace(b.String())
	if body == "" {
		return ""
	}
	if n.prefix != "" {
		return strings.TrimSpace(n.prefix + body)
	}
	return body
}

var defaultNormalizer = NewNormalizer(DefaultFields, "")

// Normalize uses DefaultFields and no prefix.
func Normalize(fields map[string]string) string {
	return defaultNormalizer.Normalize(fields)
}

func lookup(fields map[string]string, name string) (string, bool) {
	if v, ok := fields[name]; ok {
		v = strings.TrimSpace(v)
		return v, v != ""
	}
	// Several spellings of one key resolve to the smallest, so the result
	// does not depend on map iteration order.
	var key string
	found := false
	for k := range fields {
		if strings.EqualFold(strings.TrimSpace(k), name) && (!found || k < key) {
			key, found = k, true
		}
	}
	if !found {
		return "", false
	}
	v := strings.TrimSpace(fields[key])
	return v, v != ""
}
