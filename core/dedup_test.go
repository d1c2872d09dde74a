package core

import (
	"fmt"
	"testing"

	"curator/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rec(id int64, method, endpoint string, req, resp interface{}) models.CapturedRecord {
	return models.CapturedRecord{ID: id, Endpoint: endpoint, Method: method, RequestBody: req, ResponseBody: resp, ResponseStatus: 200}
}

func ids(records []models.CuratedRecord) []int64 {
	out := make([]int64, len(records))
	for i, r := range records {
		out[i] = r.Record.ID
	}
	return out
}

func plainRecords(curated []models.CuratedRecord) []models.CapturedRecord {
	out := make([]models.CapturedRecord, len(curated))
	for i, c := range curated {
		out[i] = c.Record
	}
	return out
}

func TestDeduplicateCollapsesReorderedRequestBodies(t *testing.T) {
	records := []models.CapturedRecord{
		rec(1, "POST", "/orders", map[string]interface{}{"a": 1, "b": 2}, map[string]interface{}{"id": 10}),
		rec(2, "POST", "/orders", map[string]interface{}{"b": 2, "a": 1}, map[string]interface{}{"id": 11}),
		rec(3, "POST", "/orders", `{"b":"2","a":1}`, map[string]interface{}{"id": 12}),
	}

	result := Deduplicate(records, models.DefaultDeduplicationConfig())
	assert.Equal(t, 1, result.Stats.AfterBodyDedup)
	assert.Equal(t, []int64{1}, ids(result.Records))
}

func TestDeduplicateRespectsQuota(t *testing.T) {
	var records []models.CapturedRecord
	for i := 0; i < 50; i++ {
		records = append(records, rec(int64(i+1), "GET", "/users/{id}",
			map[string]interface{}{"page": i},
			map[string]interface{}{"id": i, "name": fmt.Sprintf("user-%d", i), "status": "active", "createdAt": "2024-01-01"}))
	}
	cfg := models.DefaultDeduplicationConfig()
	cfg.MaxTestsPerEndpoint = 3

	result := Deduplicate(records, cfg)
	assert.Equal(t, 1, result.Stats.SignatureGroups)
	assert.Equal(t, []int64{1, 2, 3}, ids(result.Records))
	assert.Equal(t, models.SelectedBaseline, result.Records[0].Reason)
	assert.Equal(t, models.SelectedFill, result.Records[1].Reason)
}

func TestDeduplicateSplitsGroupsBySignificantValue(t *testing.T) {
	records := []models.CapturedRecord{
		rec(1, "GET", "/users", map[string]interface{}{"q": 1}, map[string]interface{}{"id": 1, "status": "active"}),
		rec(2, "GET", "/users", map[string]interface{}{"q": 2}, map[string]interface{}{"id": 2, "status": "archived"}),
		rec(3, "GET", "/users", map[string]interface{}{"q": 3}, map[string]interface{}{"id": 3, "status": "active"}),
	}
	cfg := models.DefaultDeduplicationConfig()
	cfg.MaxTestsPerEndpoint = 1

	result := Deduplicate(records, cfg)
	assert.Equal(t, 2, result.Stats.SignatureGroups)
	assert.Equal(t, []int64{1, 2}, ids(result.Records))
	assert.NotEqual(t, result.Records[0].Signature, result.Records[1].Signature)
}

func TestResponseSignatureNullSignificantValue(t *testing.T) {
	cfg := models.DefaultDeduplicationConfig()
	a := rec(1, "GET", "/users", map[string]interface{}{"q": 1}, map[string]interface{}{"status": nil, "name": "a"})
	b := rec(2, "GET", "/users", map[string]interface{}{"q": 2}, map[string]interface{}{"status": nil, "name": "b"})
	active := rec(3, "GET", "/users", map[string]interface{}{"q": 3}, map[string]interface{}{"status": "active", "name": "c"})

	assert.Equal(t, ResponseSignature(a, cfg), ResponseSignature(b, cfg))
	assert.NotEqual(t, ResponseSignature(a, cfg), ResponseSignature(active, cfg))

	result := Deduplicate([]models.CapturedRecord{a, b, active}, cfg)
	assert.Equal(t, 2, result.Stats.SignatureGroups)
	require.NotEmpty(t, result.Records[0].Findings)
	assert.Equal(t, models.EdgeCaseNullField, result.Records[0].Findings[0].Kind)
}

func TestDeduplicateIgnoresVolatileFields(t *testing.T) {
	a := rec(1, "GET", "/users", nil, map[string]interface{}{"id": 1, "updated_at": "x", "name": "a"})
	b := rec(2, "GET", "/users", map[string]interface{}{"q": 1}, map[string]interface{}{"id": 2, "name": "b"})
	cfg := models.DefaultDeduplicationConfig()
	assert.Equal(t, ResponseSignature(a, cfg), ResponseSignature(b, cfg))

	b.ResponseStatus = 201
	assert.NotEqual(t, ResponseSignature(a, cfg), ResponseSignature(b, cfg))
}

func TestDeduplicatePrefersEdgeCases(t *testing.T) {
	records := []models.CapturedRecord{
		rec(1, "GET", "/carts", map[string]interface{}{"q": 1}, map[string]interface{}{"items": []interface{}{1}, "note": "x"}),
		rec(2, "GET", "/carts", map[string]interface{}{"q": 2}, map[string]interface{}{"items": []interface{}{2}, "note": "y"}),
		rec(3, "GET", "/carts", map[string]interface{}{"q": 3}, map[string]interface{}{"items": []interface{}{}, "note": "z"}),
		rec(4, "GET", "/carts", map[string]interface{}{"q": 4}, map[string]interface{}{"items": []interface{}{4}, "note": nil}),
		rec(5, "GET", "/carts", map[string]interface{}{"q": 5}, map[string]interface{}{"items": []interface{}{}, "note": "w"}),
	}
	cfg := models.DefaultDeduplicationConfig()
	cfg.MaxTestsPerEndpoint = 3

	result := Deduplicate(records, cfg)
	require.Equal(t, []int64{1, 3, 4}, ids(result.Records))
	assert.Equal(t, models.SelectedEdgeCase, result.Records[1].Reason)
	assert.Equal(t, []models.EdgeCaseFinding{{Kind: models.EdgeCaseEmptyArray, Path: "items"}}, result.Records[1].Findings)
	assert.Equal(t, []models.EdgeCaseFinding{{Kind: models.EdgeCaseNullField, Path: "note"}}, result.Records[2].Findings)
}

func TestDeduplicatePrefersRareValues(t *testing.T) {
	var records []models.CapturedRecord
	for i := 0; i < 10; i++ {
		state := "active"
		if i == 6 {
			state = "archived"
		}
		records = append(records, rec(int64(i+1), "GET", "/projects", map[string]interface{}{"page": i},
			map[string]interface{}{"items": []interface{}{map[string]interface{}{"status": state}}}))
	}
	cfg := models.DefaultDeduplicationConfig()
	cfg.MaxTestsPerEndpoint = 2

	result := Deduplicate(records, cfg)
	require.Equal(t, []int64{1, 7}, ids(result.Records))
	assert.Equal(t, models.SelectedRareValue, result.Records[1].Reason)
	assert.Equal(t, []models.EdgeCaseFinding{{Kind: models.EdgeCaseRareValue, Path: "items.status", Value: "archived"}}, result.Records[1].Findings)
}

func TestDeduplicatePreservedRecordsBypassQuota(t *testing.T) {
	records := []models.CapturedRecord{
		rec(1, "GET", "/a", map[string]interface{}{"q": 1}, map[string]interface{}{"v": 1}),
		rec(2, "GET", "/a", map[string]interface{}{"q": 2}, map[string]interface{}{"v": 2}),
		rec(3, "GET", "/a", map[string]interface{}{"q": 3}, map[string]interface{}{"v": 3}),
	}
	records[2].TestName = "checkout regression @preserve"
	cfg := models.DefaultDeduplicationConfig()
	cfg.MaxTestsPerEndpoint = 1

	result := Deduplicate(records, cfg)
	assert.Equal(t, []int64{1, 3}, ids(result.Records))
	assert.Equal(t, models.SelectedPreserved, result.Records[1].Reason)
	assert.Equal(t, 1, result.Stats.Preserved)

	cfg.PreserveTaggedTests = false
	assert.Equal(t, []int64{1}, ids(Deduplicate(records, cfg).Records))
}

func TestDeduplicateIsIdempotent(t *testing.T) {
	var records []models.CapturedRecord
	for i := 0; i < 30; i++ {
		body := map[string]interface{}{"status": []string{"active", "active", "archived"}[i%3], "tags": []interface{}{}}
		if i%4 == 0 {
			body["tags"] = []interface{}{"x"}
		}
		if i%7 == 0 {
			body["owner"] = nil
		} else {
			body["owner"] = "someone"
		}
		records = append(records, rec(int64(i+1), "GET", "/items", map[string]interface{}{"i": i % 25}, body))
	}
	cfg := models.DefaultDeduplicationConfig()
	cfg.MaxTestsPerEndpoint = 2

	first := Deduplicate(records, cfg)
	second := Deduplicate(plainRecords(first.Records), cfg)
	assert.Equal(t, ids(first.Records), ids(second.Records))
}

func TestDeduplicateDisabledPassesThrough(t *testing.T) {
	records := []models.CapturedRecord{
		rec(1, "POST", "/orders", map[string]interface{}{"a": 1}, nil),
		rec(2, "POST", "/orders", map[string]interface{}{"a": 1}, nil),
	}
	cfg := models.DefaultDeduplicationConfig()
	cfg.Enabled = false

	result := Deduplicate(records, cfg)
	assert.Equal(t, []int64{1, 2}, ids(result.Records))
	assert.Equal(t, models.SelectedAll, result.Records[0].Reason)
}
