package core

import (
	"encoding/json"
	"math/rand/v2"
	"strings"
	"sync"
	"time"
	"unicode"

	"curator/models"
)

const (
	upperChars    = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	lowerChars    = "abcdefghijklmnopqrstuvwxyz"
	digitChars    = "0123456789"
	hexChars      = "0123456789abcdef"
	alnumChars    = upperChars + lowerChars + digitChars
	defaultTokLen = 8
)

type SegmentKind string

const (
	SegmentLetters   SegmentKind = "letters"
	SegmentDigits    SegmentKind = "digits"
	SegmentDelimiter SegmentKind = "delimiter"
)

type LetterCase string

const (
	CaseNone  LetterCase = ""
	CaseUpper LetterCase = "upper"
	CaseLower LetterCase = "lower"
	CaseMixed LetterCase = "mixed"
)

// Segment is a maximal run of letters, digits, or delimiter characters.
type Segment struct {
	Kind SegmentKind
	Text string
	Case LetterCase
}

// ValueFormatProfile describes the shape of a string value.
type ValueFormatProfile struct {
	Length        int
	HasUpper      bool
	HasLower      bool
	HasDigits     bool
	HasDelimiters bool
	Segments      []Segment
}

// GenerationMode is the character class used when a value is not regenerated
// segment by segment.
type GenerationMode string

const (
	ModeDigits       GenerationMode = "digits"
	ModeAlphanumeric GenerationMode = "alphanumeric"
	ModeUpper        GenerationMode = "upper"
	ModeLower        GenerationMode = "lower"
	ModeMixed        GenerationMode = "mixed"
)

func runeKind(r rune) SegmentKind {
	switch {
	case unicode.IsLetter(r):
		return SegmentLetters
	case unicode.IsDigit(r):
		return SegmentDigits
	default:
		return SegmentDelimiter
	}
}

// ProfileValue splits s into letter/digit/delimiter runs and records case usage.
func ProfileValue(s string) ValueFormatProfile {
	runes := []rune(s)
	p := ValueFormatProfile{Length: len(runes)}
	for i := 0; i < len(runes); {
		kind := runeKind(runes[i])
		j := i
		var upper, lower bool
		for j < len(runes) && runeKind(runes[j]) == kind {
			if kind == SegmentLetters {
				if unicode.IsUpper(runes[j]) {
					upper = true
				} else {
					lower = true
				}
			}
			j++
		}
		seg := Segment{Kind: kind, Text: string(runes[i:j])}
		switch kind {
		case SegmentLetters:
			seg.Case = letterCase(upper, lower)
			p.HasUpper = p.HasUpper || upper
			p.HasLower = p.HasLower || lower
		case SegmentDigits:
			p.HasDigits = true
		case SegmentDelimiter:
			p.HasDelimiters = true
		}
		p.Segments = append(p.Segments, seg)
		i = j
	}
	return p
}

func letterCase(upper, lower bool) LetterCase {
	switch {
	case upper && lower:
		return CaseMixed
	case upper:
		return CaseUpper
	case lower:
		return CaseLower
	}
	return CaseNone
}

// Mode picks the generation mode implied by the profile.
func (p ValueFormatProfile) Mode() GenerationMode {
	hasLetters := p.HasUpper || p.HasLower
	switch {
	case p.HasDigits && !hasLetters:
		return ModeDigits
	case p.HasDigits && hasLetters:
		return ModeAlphanumeric
	case p.HasUpper && !p.HasLower:
		return ModeUpper
	case p.HasLower && !p.HasUpper:
		return ModeLower
	case hasLetters:
		return ModeMixed
	}
	return ModeUpper
}

func (m GenerationMode) charset() string {
	switch m {
	case ModeDigits:
		return digitChars
	case ModeAlphanumeric:
		return alnumChars
	case ModeLower:
		return lowerChars
	case ModeMixed:
		return upperChars + lowerChars
	}
	return upperChars
}

// SynthConfig controls a single synthesis.
type SynthConfig struct {
	// CustomPattern placeholders: A upper, a lower, # digit, x hex, * alphanumeric.
	// Any other character is copied literally.
	CustomPattern string
	Prefix        string
	Suffix        string
	// Length overrides the original length. A length that differs from the
	// original disables per-segment preservation.
	Length int
	// NoPreserve regenerates the whole value from the detected mode instead of
	// keeping delimiter positions.
	NoPreserve bool
}

// Synthesizer generates format-preserving replacement values. It is safe for
// concurrent use.
type Synthesizer struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewSynthesizer uses src for every random draw. A nil src is seeded from the clock.
func NewSynthesizer(src rand.Source) *Synthesizer {
	if src == nil {
		now := uint64(time.Now().UnixNano())
		src = rand.NewPCG(now, now>>7|1)
	}
	return &Synthesizer{rng: rand.New(src)}
}

// NewSeededSynthesizer is a reproducible synthesizer. Seed 0 means clock-seeded.
func NewSeededSynthesizer(seed uint64) *Synthesizer {
	if seed == 0 {
		return NewSynthesizer(nil)
	}
	return NewSynthesizer(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

// Synthesize returns a value shaped like original whose characters differ from
// the original at every generated position and never repeat the original's
// leading character, so the result cannot equal or contain the original.
func (s *Synthesizer) Synthesize(original string, cfg SynthConfig) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	orig := []rune(original)
	avoidFirst, hasFirst := rune(0), false
	if len(orig) > 0 && runeKind(orig[0]) != SegmentDelimiter {
		avoidFirst, hasFirst = orig[0], true
	}
	pick := func(i int, set string) rune {
		var avoid []rune
		if i >= 0 && i < len(orig) {
			avoid = append(avoid, orig[i])
		}
		if hasFirst {
			avoid = append(avoid, avoidFirst)
		}
		return s.pick(set, avoid)
	}

	if cfg.CustomPattern != "" {
		offset := len([]rune(cfg.Prefix))
		var b strings.Builder
		for i, r := range []rune(cfg.CustomPattern) {
			if set, ok := placeholderSets[r]; ok {
				b.WriteRune(pick(offset+i, set))
			} else {
				b.WriteRune(r)
			}
		}
		return cfg.Prefix + b.String() + cfg.Suffix
	}

	profile := ProfileValue(original)
	target := profile.Length
	if cfg.Length > 0 {
		target = cfg.Length
	}
	if target == 0 {
		target = defaultTokLen
	}

	var b strings.Builder
	hasAlnum := profile.HasDigits || profile.HasUpper || profile.HasLower
	if !cfg.NoPreserve && target == profile.Length && hasAlnum {
		for i, r := range orig {
			switch {
			case unicode.IsUpper(r):
				b.WriteRune(pick(i, upperChars))
			case unicode.IsLetter(r):
				b.WriteRune(pick(i, lowerChars))
			case unicode.IsDigit(r):
				b.WriteRune(pick(i, digitChars))
			default:
				b.WriteRune(r)
			}
		}
	} else {
		set := profile.Mode().charset()
		for i := 0; i < target; i++ {
			b.WriteRune(pick(i, set))
		}
	}
	return cfg.Prefix + b.String() + cfg.Suffix
}

var placeholderSets = map[rune]string{
	'A': upperChars,
	'a': lowerChars,
	'#': digitChars,
	'x': hexChars,
	'*': alnumChars,
}

func (s *Synthesizer) pick(set string, avoid []rune) rune {
	candidates := make([]rune, 0, len(set))
	for _, r := range set {
		excluded := false
		for _, a := range avoid {
			if r == a {
				excluded = true
				break
			}
		}
		if !excluded {
			candidates = append(candidates, r)
		}
	}
	return candidates[s.rng.IntN(len(candidates))]
}

// PrepareUniqueFields returns a copy of body with every configured string field
// regenerated, plus the dotted paths that were changed. Array bodies, absent
// fields, and non-string fields are left untouched. A JSON-text body comes back
// as JSON text; when nothing changes, body itself is returned.
func (s *Synthesizer) PrepareUniqueFields(body interface{}, fields []models.UniqueFieldConfig) (interface{}, []string) {
	if len(fields) == 0 {
		return body, nil
	}
	target := body
	if str, ok := body.(string); ok && strings.HasPrefix(strings.TrimSpace(str), "{") {
		var decoded map[string]interface{}
		if err := json.Unmarshal([]byte(str), &decoded); err == nil {
			target = decoded
		}
	}
	obj, ok := target.(map[string]interface{})
	if !ok {
		return body, nil
	}

	data := deepCopy(obj).(map[string]interface{})
	var modified []string
	for _, fc := range fields {
		parts := strings.Split(fc.Field, ".")
		parent := data
		for _, key := range parts[:len(parts)-1] {
			next, ok := parent[key].(map[string]interface{})
			if !ok {
				parent = nil
				break
			}
			parent = next
		}
		if parent == nil {
			continue
		}
		leaf := parts[len(parts)-1]
		current, ok := parent[leaf].(string)
		if !ok {
			continue
		}
		parent[leaf] = s.Synthesize(current, SynthConfig{
			CustomPattern: fc.CustomPattern,
			Prefix:        fc.Prefix,
			Suffix:        fc.Suffix,
			Length:        fc.Length,
		})
		modified = append(modified, fc.Field)
	}
	if len(modified) == 0 {
		return body, nil
	}
	if _, wasString := body.(string); wasString {
		if encoded, err := json.Marshal(data); err == nil {
			return string(encoded), modified
		}
	}
	return data, modified
}

func deepCopy(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, val := range t {
			out[k] = deepCopy(val)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, val := range t {
			out[i] = deepCopy(val)
		}
		return out
	default:
		return v
	}
}
