package core

import (
	"path"
	"regexp"
	"strings"
)

var indexSuffixRe = regexp.MustCompile(`\[\d+\]`)

// stripIndices turns "items[3].status" into "items.status".
func stripIndices(p string) string {
	p = indexSuffixRe.ReplaceAllString(p, "")
	return strings.TrimPrefix(p, ".")
}

// lastKey returns the final object key of a dotted path.
func lastKey(p string) string {
	p = stripIndices(p)
	if i := strings.LastIndex(p, "."); i >= 0 {
		return p[i+1:]
	}
	return p
}

// FieldRules matches field names or dotted paths against configured rules.
// Plain names ("status") match case-insensitively, globs ("*At", "*_id")
// match the key name as written, and dotted rules ("data.status") match a
// path suffix with array indices removed.
type FieldRules []string

// Match returns the first rule matching the field at p, or "".
func (r FieldRules) Match(p string) string {
	clean := stripIndices(p)
	key := lastKey(clean)
	for _, rule := range r {
		switch {
		case rule == "":
			continue
		case strings.Contains(rule, "."):
			if strings.EqualFold(clean, rule) || strings.HasSuffix(strings.ToLower(clean), "."+strings.ToLower(rule)) {
				return rule
			}
		case strings.ContainsAny(rule, "*?["):
			if ok, err := path.Match(rule, key); err == nil && ok {
				return rule
			}
		default:
			if strings.EqualFold(rule, key) {
				return rule
			}
		}
	}
	return ""
}

func (r FieldRules) Matches(p string) bool {
	return r.Match(p) != ""
}
