package core

import (
	"encoding/json"
	"fmt"
	"reflect"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// DifferenceKind classifies a single comparator finding.
type DifferenceKind string

const (
	DiffMissing        DifferenceKind = "missing"
	DiffNull           DifferenceKind = "null"
	DiffTypeMismatch   DifferenceKind = "type_mismatch"
	DiffLengthMismatch DifferenceKind = "length_mismatch"
	DiffValueMismatch  DifferenceKind = "value_mismatch"
)

// Difference is one path-annotated mismatch between actual and expected.
type Difference struct {
	Path     string         `json:"path"`
	Kind     DifferenceKind `json:"kind"`
	Expected interface{}    `json:"expected"`
	Actual   interface{}    `json:"actual"`
	Message  string         `json:"message"`
}

type ComparisonResult struct {
	IsEqual     bool         `json:"is_equal"`
	Differences []Difference `json:"differences"`
}

// CompareOptions tunes the comparator. The zero value gives the default behavior.
type CompareOptions struct {
	// CanonicalObjectOrder sorts arrays containing objects by the canonical JSON
	// of each element before the positional walk. Off by default, in which case
	// object elements keep their relative order.
	CanonicalObjectOrder bool
}

var primitiveNumberRe = regexp.MustCompile(`^-?\d+(\.\d+)?$`)

// Compare normalizes both sides and walks them in lock-step. Keys present only
// in actual are tolerated.
func Compare(actual, expected interface{}) ComparisonResult {
	return CompareWithOptions(actual, expected, CompareOptions{})
}

func CompareWithOptions(actual, expected interface{}, opts CompareOptions) ComparisonResult {
	c := comparer{opts: opts}
	c.walk("", Normalize(actual), Normalize(expected))
	return ComparisonResult{IsEqual: len(c.diffs) == 0, Differences: c.diffs}
}

type comparer struct {
	opts  CompareOptions
	diffs []Difference
}

func (c *comparer) add(path string, kind DifferenceKind, actual, expected interface{}, format string, args ...interface{}) {
	if path == "" {
		path = "$"
	}
	c.diffs = append(c.diffs, Difference{
		Path:     path,
		Kind:     kind,
		Expected: expected,
		Actual:   actual,
		Message:  fmt.Sprintf(format, args...),
	})
}

func (c *comparer) walk(path string, actual, expected interface{}) {
	if actual == nil || expected == nil {
		if actual != nil || expected != nil {
			c.add(path, DiffNull, actual, expected, "expected %s, got %s", describe(expected), describe(actual))
		}
		return
	}

	switch exp := expected.(type) {
	case map[string]interface{}:
		act, ok := actual.(map[string]interface{})
		if !ok {
			c.add(path, DiffTypeMismatch, actual, expected, "expected object, got %s", kindOf(actual))
			return
		}
		keys := make([]string, 0, len(exp))
		for k := range exp {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			childPath := joinPath(path, k)
			av, present := act[k]
			if !present {
				c.add(childPath, DiffMissing, nil, exp[k], "missing key %q", k)
				continue
			}
			c.walk(childPath, av, exp[k])
		}

	case []interface{}:
		act, ok := actual.([]interface{})
		if !ok {
			c.add(path, DiffTypeMismatch, actual, expected, "expected array, got %s", kindOf(actual))
			return
		}
		if len(act) != len(exp) {
			c.add(path, DiffLengthMismatch, len(act), len(exp), "expected array length %d, got %d", len(exp), len(act))
			return
		}
		sa, se := c.sortArray(act), c.sortArray(exp)
		for i := range se {
			c.walk(fmt.Sprintf("%s[%d]", path, i), sa[i], se[i])
		}

	default:
		if kindOf(actual) != kindOf(expected) {
			c.add(path, DiffTypeMismatch, actual, expected, "expected %s, got %s", kindOf(expected), kindOf(actual))
			return
		}
		if !primitiveEqual(actual, expected) {
			c.add(path, DiffValueMismatch, actual, expected, "expected %v, got %v", expected, actual)
		}
	}
}

// sortArray returns a sorted copy. Primitives sort by their string form; objects
// and arrays compare as equal to everything so the stable sort leaves them in
// place relative to each other, unless CanonicalObjectOrder is set.
func (c *comparer) sortArray(in []interface{}) []interface{} {
	out := make([]interface{}, len(in))
	copy(out, in)
	sort.SliceStable(out, func(i, j int) bool {
		ki, iok := c.sortKey(out[i])
		kj, jok := c.sortKey(out[j])
		if !iok || !jok {
			return false
		}
		return ki < kj
	})
	return out
}

func (c *comparer) sortKey(v interface{}) (string, bool) {
	switch v.(type) {
	case map[string]interface{}, []interface{}:
		if c.opts.CanonicalObjectOrder {
			return canonicalString(v), true
		}
		return "", false
	case nil:
		return "null", true
	default:
		return fmt.Sprint(v), true
	}
}

// Normalize decodes JSON-looking strings and coerces primitive-looking strings
// ("42", "12.5", "true", "false", "null") to typed values, recursively. Values
// it cannot interpret are returned unchanged.
func Normalize(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, val := range t {
			out[k] = Normalize(val)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, val := range t {
			out[i] = Normalize(val)
		}
		return out
	case string:
		return normalizeString(t)
	case json.Number:
		if f, err := t.Float64(); err == nil {
			return f
		}
		return t.String()
	case int:
		return float64(t)
	case int32:
		return float64(t)
	case int64:
		return float64(t)
	case float32:
		return float64(t)
	default:
		return v
	}
}

func normalizeString(s string) interface{} {
	trimmed := strings.TrimSpace(s)
	if strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[") {
		var parsed interface{}
		if err := json.Unmarshal([]byte(trimmed), &parsed); err == nil {
			return Normalize(parsed)
		}
		return s
	}
	switch trimmed {
	case "true":
		return true
	case "false":
		return false
	case "null":
		return nil
	}
	if primitiveNumberRe.MatchString(trimmed) {
		if f, err := strconv.ParseFloat(trimmed, 64); err == nil {
			return f
		}
	}
	return s
}

func primitiveEqual(a, b interface{}) bool {
	if af, ok := a.(float64); ok {
		if bf, ok := b.(float64); ok {
			return af == bf
		}
	}
	return reflect.DeepEqual(a, b)
}

func kindOf(v interface{}) string {
	switch v.(type) {
	case nil:
		return "null"
	case map[string]interface{}:
		return "object"
	case []interface{}:
		return "array"
	case string:
		return "string"
	case bool:
		return "boolean"
	case float64:
		return "number"
	default:
		return fmt.Sprintf("%T", v)
	}
}

func describe(v interface{}) string {
	if v == nil {
		return "null"
	}
	return kindOf(v)
}

func joinPath(parent, key string) string {
	if parent == "" {
		return key
	}
	return parent + "." + key
}

// canonicalString renders v with object keys sorted and arrays sorted by the
// canonical form of their elements, so that serialization order never matters.
func canonicalString(v interface{}) string {
	var b strings.Builder
	writeCanonical(&b, v)
	return b.String()
}

func writeCanonical(b *strings.Builder, v interface{}) {
	switch t := v.(type) {
	case map[string]interface{}:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				b.WriteByte(',')
			}
			b.WriteString(strconv.Quote(k))
			b.WriteByte(':')
			writeCanonical(b, t[k])
		}
		b.WriteByte('}')
	case []interface{}:
		parts := make([]string, len(t))
		for i, el := range t {
			parts[i] = canonicalString(el)
		}
		sort.Strings(parts)
		b.WriteByte('[')
		b.WriteString(strings.Join(parts, ","))
		b.WriteByte(']')
	case string:
		b.WriteString(strconv.Quote(t))
	case nil:
		b.WriteString("null")
	case float64:
		b.WriteString(strconv.FormatFloat(t, 'g', -1, 64))
	default:
		data, err := json.Marshal(t)
		if err != nil {
			b.WriteString(fmt.Sprint(t))
			return
		}
		b.Write(data)
	}
}
