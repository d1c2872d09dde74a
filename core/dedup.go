package core

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"curator/logger"
	"curator/models"
)

// rarityDivisor sets the rare-value threshold: a value is rare when it occurs
// in fewer than 1/rarityDivisor (20%) of a group's records.
const rarityDivisor = 5

// DeduplicationResult is the curated subset plus counters for one pass.
type DeduplicationResult struct {
	Records []models.CuratedRecord    `json:"records" yaml:"records"`
	Stats   models.DeduplicationStats `json:"stats" yaml:"stats"`
}

// signatureGroup holds the records sharing a response signature, in input order.
type signatureGroup struct {
	signature string
	members   []*groupMember
}

type groupMember struct {
	order     int
	record    models.CapturedRecord
	edgeCases []models.EdgeCaseFinding
	rare      []models.EdgeCaseFinding
	preserved bool
	reason    models.SelectionReason
}

// RequestSignature fingerprints a record by endpoint, method, and request body.
// Object key order and array element order do not affect it.
func RequestSignature(rec models.CapturedRecord) string {
	return rec.Endpoint + "|" + strings.ToUpper(rec.Method) + "|" + canonicalString(Normalize(rec.RequestBody))
}

// ResponseSignature fingerprints a record's response. Ignored fields are
// dropped, significant fields outside arrays contribute their value, and every
// other field contributes only its presence and nesting.
func ResponseSignature(rec models.CapturedRecord, cfg models.DeduplicationConfig) string {
	var b strings.Builder
	writeShape(&b, "", Normalize(rec.ResponseBody), FieldRules(cfg.IgnoreFields), FieldRules(cfg.SignificantFields), false)
	sum := sha256.Sum256([]byte(b.String()))
	return fmt.Sprintf("%s|%s|%d|%s", rec.Endpoint, strings.ToUpper(rec.Method), rec.ResponseStatus, hex.EncodeToString(sum[:8]))
}

func writeShape(b *strings.Builder, p string, v interface{}, ignore, significant FieldRules, inArray bool) {
	switch t := v.(type) {
	case map[string]interface{}:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteByte('{')
		for _, k := range keys {
			childPath := joinPath(p, k)
			if ignore.Matches(childPath) {
				continue
			}
			b.WriteString(k)
			child := t[k]
			if !inArray && child != nil && significant.Matches(childPath) && isPrimitive(child) {
				b.WriteByte('=')
				b.WriteString(canonicalString(child))
			} else {
				b.WriteByte(':')
				writeShape(b, childPath, child, ignore, significant, inArray)
			}
			b.WriteByte(';')
		}
		b.WriteByte('}')
	case []interface{}:
		b.WriteString("[]")
	}
}

func isPrimitive(v interface{}) bool {
	switch v.(type) {
	case map[string]interface{}, []interface{}:
		return false
	}
	return true
}

// DetectEdgeCases lists empty arrays and null-valued fields in a response.
func DetectEdgeCases(body interface{}, ignore FieldRules) []models.EdgeCaseFinding {
	var findings []models.EdgeCaseFinding
	var walk func(p string, v interface{})
	walk = func(p string, v interface{}) {
		switch t := v.(type) {
		case map[string]interface{}:
			keys := make([]string, 0, len(t))
			for k := range t {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				childPath := joinPath(p, k)
				if ignore.Matches(childPath) {
					continue
				}
				if t[k] == nil {
					findings = append(findings, models.EdgeCaseFinding{Kind: models.EdgeCaseNullField, Path: childPath})
					continue
				}
				walk(childPath, t[k])
			}
		case []interface{}:
			if len(t) == 0 {
				findings = append(findings, models.EdgeCaseFinding{Kind: models.EdgeCaseEmptyArray, Path: p})
				return
			}
			for i, el := range t {
				walk(fmt.Sprintf("%s[%d]", p, i), el)
			}
		}
	}
	walk("", Normalize(body))
	return findings
}

// significantValues collects the distinct (path, value) pairs of significant
// primitive fields in body, with array indices removed from paths.
func significantValues(body interface{}, significant FieldRules) []models.EdgeCaseFinding {
	seen := map[string]bool{}
	var out []models.EdgeCaseFinding
	var walk func(p string, v interface{})
	walk = func(p string, v interface{}) {
		switch t := v.(type) {
		case map[string]interface{}:
			keys := make([]string, 0, len(t))
			for k := range t {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				childPath := joinPath(p, k)
				child := t[k]
				if isPrimitive(child) && child != nil && significant.Matches(childPath) {
					f := models.EdgeCaseFinding{Kind: models.EdgeCaseRareValue, Path: stripIndices(childPath), Value: child}
					if key := findingKey(f); !seen[key] {
						seen[key] = true
						out = append(out, f)
					}
					continue
				}
				walk(childPath, child)
			}
		case []interface{}:
			for i, el := range t {
				walk(fmt.Sprintf("%s[%d]", p, i), el)
			}
		}
	}
	walk("", Normalize(body))
	return out
}

func findingKey(f models.EdgeCaseFinding) string {
	key := string(f.Kind) + "|" + stripIndices(f.Path)
	if f.Kind == models.EdgeCaseRareValue {
		key += "=" + canonicalString(f.Value)
	}
	return key
}

func isPreserved(rec models.CapturedRecord, cfg models.DeduplicationConfig) bool {
	if !cfg.PreserveTaggedTests || rec.TestName == "" {
		return false
	}
	name := strings.ToLower(rec.TestName)
	for _, tag := range cfg.PreserveTags {
		if tag != "" && strings.Contains(name, strings.ToLower(tag)) {
			return true
		}
	}
	return false
}

// Deduplicate collapses records into a bounded set of representatives per
// response signature. Output order is group first-appearance order, then input
// order within each group, so running it again on its own output yields the
// same records.
func Deduplicate(records []models.CapturedRecord, cfg models.DeduplicationConfig) DeduplicationResult {
	result := DeduplicationResult{Stats: models.DeduplicationStats{InputRecords: len(records)}}

	if !cfg.Enabled {
		result.Records = make([]models.CuratedRecord, 0, len(records))
		for _, rec := range records {
			result.Records = append(result.Records, models.CuratedRecord{
				Record:    rec,
				Signature: ResponseSignature(rec, cfg),
				Reason:    models.SelectedAll,
			})
		}
		result.Stats.AfterBodyDedup = len(records)
		result.Stats.Selected = len(records)
		logger.Info("Deduplicate: disabled, passing through %d records", len(records))
		return result
	}

	// Stage 1: request-body dedup, first occurrence wins.
	seenRequests := make(map[string]bool, len(records))
	unique := make([]models.CapturedRecord, 0, len(records))
	for _, rec := range records {
		sig := RequestSignature(rec)
		if seenRequests[sig] {
			logger.Debug("Deduplicate: dropping record %d (%s %s), duplicate request body", rec.ID, rec.Method, rec.Endpoint)
			continue
		}
		seenRequests[sig] = true
		unique = append(unique, rec)
	}
	result.Stats.AfterBodyDedup = len(unique)

	// Stage 2: group by response signature in first-appearance order.
	ignore := FieldRules(cfg.IgnoreFields)
	significant := FieldRules(cfg.SignificantFields)
	groupIndex := map[string]int{}
	var groups []*signatureGroup
	for i, rec := range unique {
		sig := ResponseSignature(rec, cfg)
		idx, ok := groupIndex[sig]
		if !ok {
			idx = len(groups)
			groupIndex[sig] = idx
			groups = append(groups, &signatureGroup{signature: sig})
		}
		m := &groupMember{order: i, record: rec, preserved: isPreserved(rec, cfg)}
		if cfg.DetectEdgeCases {
			m.edgeCases = DetectEdgeCases(rec.ResponseBody, ignore)
		}
		groups[idx].members = append(groups[idx].members, m)
	}
	result.Stats.SignatureGroups = len(groups)

	// Stages 3 and 4 per group.
	for _, g := range groups {
		if cfg.DetectEdgeCases {
			markRareValues(g, significant)
		}
		selected := selectRepresentatives(g, cfg.MaxTestsPerEndpoint)
		for _, m := range selected {
			findings := append(append([]models.EdgeCaseFinding{}, m.edgeCases...), m.rare...)
			result.Records = append(result.Records, models.CuratedRecord{
				Record:    m.record,
				Signature: g.signature,
				Reason:    m.reason,
				Findings:  findings,
			})
			if m.preserved {
				result.Stats.Preserved++
			}
		}
		logger.Debug("Deduplicate: group %s kept %d of %d records", g.signature, len(selected), len(g.members))
	}
	result.Stats.Selected = len(result.Records)

	logger.Info("Deduplicate: %d input, %d after body dedup, %d groups, %d selected (%d preserved)",
		result.Stats.InputRecords, result.Stats.AfterBodyDedup, result.Stats.SignatureGroups,
		result.Stats.Selected, result.Stats.Preserved)
	return result
}

// markRareValues attaches rare_value findings: significant values present in
// fewer than 20% of the group's records.
func markRareValues(g *signatureGroup, significant FieldRules) {
	perMember := make([][]models.EdgeCaseFinding, len(g.members))
	counts := map[string]int{}
	for i, m := range g.members {
		perMember[i] = significantValues(m.record.ResponseBody, significant)
		for _, f := range perMember[i] {
			counts[findingKey(f)]++
		}
	}
	for i, m := range g.members {
		for _, f := range perMember[i] {
			if counts[findingKey(f)]*rarityDivisor < len(g.members) {
				m.rare = append(m.rare, f)
			}
		}
	}
}

// selectRepresentatives picks a baseline, then records carrying uncovered edge
// cases, then uncovered rare values, then fills the remaining quota in input
// order. Preserved records are always kept and do not count against quota.
// A quota of zero or less means unlimited.
func selectRepresentatives(g *signatureGroup, quota int) []*groupMember {
	covered := map[string]bool{}
	cover := func(m *groupMember) {
		for _, f := range m.edgeCases {
			covered[findingKey(f)] = true
		}
		for _, f := range m.rare {
			covered[findingKey(f)] = true
		}
	}
	used := 0
	hasRoom := func() bool { return quota <= 0 || used < quota }

	for _, m := range g.members {
		if m.preserved {
			m.reason = models.SelectedPreserved
			cover(m)
		}
	}

	uncovered := func(findings []models.EdgeCaseFinding) bool {
		for _, f := range findings {
			if !covered[findingKey(f)] {
				return true
			}
		}
		return false
	}
	pass := func(reason models.SelectionReason, eligible func(*groupMember) bool) {
		for _, m := range g.members {
			if !hasRoom() {
				return
			}
			if m.reason != "" || !eligible(m) {
				continue
			}
			m.reason = reason
			used++
			cover(m)
		}
	}

	first := true
	pass(models.SelectedBaseline, func(*groupMember) bool {
		if first {
			first = false
			return true
		}
		return false
	})
	pass(models.SelectedEdgeCase, func(m *groupMember) bool { return uncovered(m.edgeCases) })
	pass(models.SelectedRareValue, func(m *groupMember) bool { return uncovered(m.rare) })
	pass(models.SelectedFill, func(*groupMember) bool { return true })

	selected := make([]*groupMember, 0, used)
	for _, m := range g.members {
		if m.reason != "" {
			selected = append(selected, m)
		}
	}
	return selected
}
