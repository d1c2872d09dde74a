package cmd

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"curator/config"
	"curator/database"
	"curator/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestWriteReportFormats(t *testing.T) {
	dir := t.TempDir()
	payload := models.CollectResponse{Received: 3, Stored: 2, Rejected: 1}

	jsonPath := filepath.Join(dir, "report.json")
	require.NoError(t, writeReport(jsonPath, "json", payload))
	data, err := os.ReadFile(jsonPath)
	require.NoError(t, err)
	var fromJSON models.CollectResponse
	require.NoError(t, json.Unmarshal(data, &fromJSON))
	assert.Equal(t, payload, fromJSON)

	yamlPath := filepath.Join(dir, "report.yaml")
	require.NoError(t, writeReport(yamlPath, "yaml", map[string]int{"stored": 2}))
	data, err = os.ReadFile(yamlPath)
	require.NoError(t, err)
	var fromYAML map[string]int
	require.NoError(t, yaml.Unmarshal(data, &fromYAML))
	assert.Equal(t, 2, fromYAML["stored"])

	assert.Error(t, writeReport(filepath.Join(dir, "x"), "xml", payload))
}

func TestLiveCallerWithoutBaseURLIsNil(t *testing.T) {
	saved := config.AppConfig
	t.Cleanup(func() { config.AppConfig = saved; curateBaseURL = "" })

	config.AppConfig.Live.BaseURL = ""
	curateBaseURL = ""
	caller, err := liveCaller()
	require.NoError(t, err)
	assert.Nil(t, caller)

	curateBaseURL = "http://127.0.0.1:9"
	caller, err = liveCaller()
	require.NoError(t, err)
	assert.NotNil(t, caller)
}

func TestImportRecords(t *testing.T) {
	require.NoError(t, database.InitDB(filepath.Join(t.TempDir(), "captures.db")))
	t.Cleanup(func() { database.CloseDB() })

	path := filepath.Join(t.TempDir(), "records.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"records": [
		{"request_path": "/api/users/7", "method": "GET", "response_body": {"id": 7}, "response_status": 200},
		{"endpoint": "/api/users", "method": "POST", "request_body": {"name": "a"}, "response_status": 201}
	]}`), 0o600))

	stored, err := importRecords(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, 2, stored)

	summaries, err := database.GetEndpointSummaries(context.Background())
	require.NoError(t, err)
	require.Len(t, summaries, 2)
	assert.Equal(t, "/api/users", summaries[0].Endpoint)
	assert.Equal(t, "/api/users/{id}", summaries[1].Endpoint)
}
