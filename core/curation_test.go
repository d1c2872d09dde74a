package core

import (
	"context"
	"testing"

	"curator/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunCurationDeduplicatesThenValidates(t *testing.T) {
	records := []models.CapturedRecord{
		stored(1, "GET", "/users/1", 200, nil, map[string]interface{}{"id": 1, "name": "a"}),
		stored(2, "GET", "/users/1", 200, nil, map[string]interface{}{"id": 1, "name": "a"}),
		stored(3, "GET", "/users/2", 200, nil, map[string]interface{}{"id": 2, "name": "b"}),
	}
	live := &fakeLive{responses: map[string]*LiveResponse{
		"GET /users/1": {Status: 200, Body: map[string]interface{}{"id": 1, "name": "a"}},
		"GET /users/2": {Status: 404},
	}}
	valCfg := validationConfig()

	report, err := RunCuration(context.Background(), records, models.DefaultDeduplicationConfig(), valCfg, live)
	require.NoError(t, err)
	assert.NotEmpty(t, report.RunID)
	assert.Equal(t, 2, report.Deduplication.Stats.Selected)
	require.NotNil(t, report.Validation)
	assert.Equal(t, 1, report.Validation.DeletedCount)
	require.Len(t, report.Records, 1)
	assert.Equal(t, int64(1), report.Records[0].ID)
	assert.Len(t, live.received, 2)
}

func TestRunCurationRejectsMissingCallerBeforeWork(t *testing.T) {
	_, err := RunCuration(context.Background(), []models.CapturedRecord{stored(1, "GET", "/a", 200, nil, nil)},
		models.DefaultDeduplicationConfig(), validationConfig(), nil)
	assert.ErrorIs(t, err, ErrNoLiveCaller)
}

func TestRunCurationWithoutValidation(t *testing.T) {
	valCfg := validationConfig()
	valCfg.ValidateBeforeGeneration = false

	report, err := RunCuration(context.Background(), []models.CapturedRecord{stored(1, "GET", "/a", 200, nil, nil)},
		models.DefaultDeduplicationConfig(), valCfg, nil)
	require.NoError(t, err)
	assert.Nil(t, report.Validation)
	assert.Len(t, report.Records, 1)
}
