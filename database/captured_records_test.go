package database

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"curator/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestDB(t *testing.T) {
	t.Helper()
	require.NoError(t, InitDB(filepath.Join(t.TempDir(), "captures.db")))
	t.Cleanup(func() { CloseDB() })
}

func sampleRecords() []models.CapturedRecord {
	ts := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	return []models.CapturedRecord{
		{Endpoint: "/api/orders", Method: "POST", RequestBody: map[string]interface{}{"sku": "A-1", "qty": 2},
			ResponseBody: map[string]interface{}{"id": 1, "status": "open"}, ResponseStatus: 201, TestName: "creates order", Timestamp: ts},
		{Endpoint: "/api/orders", Method: "POST", RequestBody: map[string]interface{}{"qty": 2, "sku": "A-1"},
			ResponseBody: map[string]interface{}{"id": 2, "status": "open"}, ResponseStatus: 201, TestName: "creates order again", Timestamp: ts},
		{Endpoint: "/api/orders/{id}", RequestPath: "/api/orders/1", Method: "get",
			ResponseBody: map[string]interface{}{"id": 1, "status": "open"}, ResponseStatus: 200, Timestamp: ts},
		{Endpoint: "/api/orders/{id}", RequestPath: "/api/orders/9", Method: "GET",
			ResponseBody: "not json at all", ResponseStatus: 404, Timestamp: ts},
	}
}

func TestInsertAndQueryCapturedRecords(t *testing.T) {
	setupTestDB(t)
	ctx := context.Background()

	stored, err := InsertCapturedRecords(ctx, sampleRecords())
	require.NoError(t, err)
	assert.Equal(t, 4, stored)

	total, err := CountCapturedRecords(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(4), total)

	records, err := QueryCapturedRecords(ctx, models.RecordFilters{Endpoint: "/api/orders/{id}"})
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "GET", records[0].Method)
	assert.Equal(t, "/api/orders/1", records[0].RequestPath)
	assert.Nil(t, records[0].RequestBody)
	assert.Equal(t, map[string]interface{}{"id": float64(1), "status": "open"}, records[0].ResponseBody)
	assert.Equal(t, "not json at all", records[1].ResponseBody)

	records, err = QueryCapturedRecords(ctx, models.RecordFilters{StatusMin: 400, StatusMax: 499})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, 404, records[0].ResponseStatus)

	records, err = QueryCapturedRecords(ctx, models.RecordFilters{TestName: "again"})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "creates order again", records[0].TestName)

	records, err = QueryCapturedRecords(ctx, models.RecordFilters{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, int64(2), records[0].ID)
}

func TestInsertCapturedRecordsRejectsUnsupportedMethod(t *testing.T) {
	setupTestDB(t)
	ctx := context.Background()

	batch := sampleRecords()
	batch[1].Method = "TRACE"
	_, err := InsertCapturedRecords(ctx, batch)
	require.Error(t, err)

	total, err := CountCapturedRecords(ctx)
	require.NoError(t, err)
	assert.Zero(t, total, "a rejected batch must not be partially stored")
}

func TestEndpointSummariesAndUniqueRequests(t *testing.T) {
	setupTestDB(t)
	ctx := context.Background()

	batch := append(sampleRecords(), models.CapturedRecord{
		Endpoint: "/api/orders", Method: "POST", RequestBody: map[string]interface{}{"sku": "A-1", "qty": 2},
		ResponseBody: map[string]interface{}{"id": 3}, ResponseStatus: 201,
	})
	_, err := InsertCapturedRecords(ctx, batch)
	require.NoError(t, err)

	summaries, err := GetEndpointSummaries(ctx)
	require.NoError(t, err)
	assert.Equal(t, []models.EndpointSummary{
		{Endpoint: "/api/orders", Method: "POST", Count: 3},
		{Endpoint: "/api/orders/{id}", Method: "GET", Count: 2},
	}, summaries)

	unique, err := GetUniqueRequests(ctx)
	require.NoError(t, err)
	// json.Marshal sorts map keys, so the two key orders of the POST body collapse.
	require.Len(t, unique, 2)
	assert.Equal(t, int64(1), unique[0].ID)
	assert.Equal(t, int64(3), unique[1].ID)
}

func TestPurgeCapturedRecords(t *testing.T) {
	setupTestDB(t)
	ctx := context.Background()
	_, err := InsertCapturedRecords(ctx, sampleRecords())
	require.NoError(t, err)

	removed, err := PurgeCapturedRecords(ctx, "/api/orders/{id}")
	require.NoError(t, err)
	assert.Equal(t, int64(2), removed)

	removed, err = PurgeCapturedRecords(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, int64(2), removed)

	total, err := CountCapturedRecords(ctx)
	require.NoError(t, err)
	assert.Zero(t, total)
}
