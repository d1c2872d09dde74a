package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"curator/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeLive serves canned responses keyed by "METHOD path" and records what it received.
type fakeLive struct {
	mu        sync.Mutex
	responses map[string]*LiveResponse
	failures  map[string]error
	received  []LiveRequest
}

func (f *fakeLive) Call(ctx context.Context, req LiveRequest) (*LiveResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.received = append(f.received, req)
	key := req.Method + " " + req.Path
	if err, ok := f.failures[key]; ok {
		return nil, err
	}
	if resp, ok := f.responses[key]; ok {
		return resp, nil
	}
	return nil, fmt.Errorf("no canned response for %s", key)
}

func stored(id int64, method, path string, status int, req, resp interface{}) models.CapturedRecord {
	return models.CapturedRecord{
		ID: id, Endpoint: path, RequestPath: path, Method: method,
		RequestBody: req, ResponseBody: resp, ResponseStatus: status,
	}
}

func validationConfig() models.ValidationConfig {
	cfg := models.DefaultValidationConfig()
	cfg.Enabled = true
	return cfg
}

func TestNewStalenessValidatorConfigErrors(t *testing.T) {
	_, err := NewStalenessValidator(validationConfig(), nil)
	assert.ErrorIs(t, err, ErrNoLiveCaller)

	cfg := validationConfig()
	cfg.OnStaleData = "archive"
	_, err = NewStalenessValidator(cfg, &fakeLive{})
	assert.ErrorIs(t, err, ErrInvalidConfig)

	cfg = validationConfig()
	cfg.SkipMessagePatterns = []string{"("}
	_, err = NewStalenessValidator(cfg, &fakeLive{})
	assert.ErrorIs(t, err, ErrInvalidConfig)

	cfg = validationConfig()
	cfg.Enabled = false
	_, err = NewStalenessValidator(cfg, nil)
	assert.NoError(t, err)
}

func TestValidateActionTable(t *testing.T) {
	live := &fakeLive{
		responses: map[string]*LiveResponse{
			"GET /users/1": {Status: 404, Body: map[string]interface{}{"detail": "Not Found"}},
			"GET /users/2": {Status: 200, Body: map[string]interface{}{"id": 2, "createdAt": "2024-06-01"}},
			"GET /users/3": {Status: 200, Body: map[string]interface{}{"id": 3, "status": "archived"}},
			"GET /users/4": {Status: 200, Body: map[string]interface{}{"id": 4, "name": "same", "extra": true}},
			"GET /users/6": {Status: 503, Body: map[string]interface{}{"error": "upstream unavailable"}},
			"GET /users/7": {Status: 401, Body: map[string]interface{}{"detail": "Not authenticated"}},
		},
		failures: map[string]error{"GET /users/5": errors.New("connection refused")},
	}
	records := []models.CapturedRecord{
		stored(1, "GET", "/users/1", 200, nil, map[string]interface{}{"id": 1}),
		stored(2, "GET", "/users/2", 200, nil, map[string]interface{}{"id": 2, "createdAt": "2024-01-01"}),
		stored(3, "GET", "/users/3", 200, nil, map[string]interface{}{"id": 3, "status": "active"}),
		stored(4, "GET", "/users/4", 200, nil, `{"id":"4","name":"same"}`),
		stored(5, "GET", "/users/5", 200, nil, map[string]interface{}{"id": 5}),
		stored(6, "GET", "/users/6", 200, nil, map[string]interface{}{"id": 6, "name": "ann"}),
		stored(7, "GET", "/users/7", 200, nil, map[string]interface{}{"id": 7}),
	}

	result, err := ValidateRequests(context.Background(), records, validationConfig(), live)
	require.NoError(t, err)
	require.Len(t, result.Outcomes, 7)

	assert.Equal(t, models.ActionDelete, result.Outcomes[0].Action)

	assert.Equal(t, models.ActionUpdate, result.Outcomes[1].Action)
	require.Len(t, result.Outcomes[1].Changes, 1)
	assert.Equal(t, "createdAt", result.Outcomes[1].Changes[0].Path)
	assert.False(t, result.Outcomes[1].Changes[0].IsSignificant)
	assert.Equal(t, "allow:*At", result.Outcomes[1].Changes[0].Rule)

	assert.Equal(t, models.ActionUpdate, result.Outcomes[2].Action)
	require.Len(t, result.Outcomes[2].Changes, 1)
	assert.True(t, result.Outcomes[2].Changes[0].IsSignificant)
	assert.Equal(t, "active", result.Outcomes[2].Changes[0].OldValue)
	assert.Equal(t, "archived", result.Outcomes[2].Changes[0].NewValue)

	assert.Equal(t, models.ActionKeep, result.Outcomes[3].Action)
	assert.False(t, result.Outcomes[3].IsStale)

	assert.Equal(t, models.ActionKeep, result.Outcomes[4].Action)
	assert.False(t, result.Outcomes[4].IsValid)
	assert.Contains(t, result.Outcomes[4].Error, "connection refused")

	for _, o := range result.Outcomes[5:] {
		assert.Equal(t, models.ActionKeep, o.Action, "server errors and auth rejections never overwrite stored data")
		assert.False(t, o.IsValid)
		assert.Empty(t, o.Changes)
	}
	assert.Equal(t, 503, result.Outcomes[5].LiveStatus)
	assert.Contains(t, result.Outcomes[5].Error, "503")

	assert.Equal(t, 4, result.KeptCount)
	assert.Equal(t, 2, result.UpdatedCount)
	assert.Equal(t, 1, result.DeletedCount)
	assert.Equal(t, 0, result.SkippedCount)
	assert.Equal(t, 3, result.FailedCount)

	require.Len(t, result.ValidRecords, 6)
	assert.Equal(t, int64(2), result.ValidRecords[0].ID)
	assert.Equal(t, map[string]interface{}{"id": 3, "status": "archived"}, result.ValidRecords[1].ResponseBody)
	assert.Equal(t, int64(5), result.ValidRecords[3].ID)
	assert.Equal(t, map[string]interface{}{"id": 5}, result.ValidRecords[3].ResponseBody)
	assert.Equal(t, 200, result.ValidRecords[4].ResponseStatus)
	assert.Equal(t, map[string]interface{}{"id": 6, "name": "ann"}, result.ValidRecords[4].ResponseBody)
}

func TestValidateServerErrorOnStoredErrorIsCompared(t *testing.T) {
	live := &fakeLive{responses: map[string]*LiveResponse{
		"GET /reports/1": {Status: 500, Body: map[string]interface{}{"error": "boom"}},
	}}
	records := []models.CapturedRecord{
		stored(1, "GET", "/reports/1", 500, nil, map[string]interface{}{"error": "boom"}),
	}

	result, err := ValidateRequests(context.Background(), records, validationConfig(), live)
	require.NoError(t, err)
	assert.Equal(t, models.ActionKeep, result.Outcomes[0].Action)
	assert.True(t, result.Outcomes[0].IsValid)
	assert.Zero(t, result.FailedCount)
}

func TestValidateIgnoresServerGeneratedIDsOnCreate(t *testing.T) {
	live := &fakeLive{responses: map[string]*LiveResponse{
		"POST /orders":  {Status: 201, Body: map[string]interface{}{"id": 99, "orderId": "o-99", "item": "book"}},
		"GET /orders/7": {Status: 200, Body: map[string]interface{}{"id": 8, "item": "book"}},
	}}
	records := []models.CapturedRecord{
		stored(1, "POST", "/orders", 201, map[string]interface{}{"item": "book"},
			map[string]interface{}{"id": 7, "orderId": "o-7", "item": "book"}),
		stored(2, "GET", "/orders/7", 200, nil, map[string]interface{}{"id": 7, "item": "book"}),
	}
	cfg := validationConfig()
	cfg.OnStaleData = models.StaleDelete

	result, err := ValidateRequests(context.Background(), records, cfg, live)
	require.NoError(t, err)

	created := result.Outcomes[0]
	assert.Equal(t, models.ActionUpdate, created.Action)
	require.Len(t, created.Changes, 2)
	for _, c := range created.Changes {
		assert.False(t, c.IsSignificant)
		assert.Equal(t, "generated_id", c.Rule)
	}

	fetched := result.Outcomes[1]
	assert.Equal(t, models.ActionDelete, fetched.Action, "an id change on a read is still significant")
	require.Len(t, fetched.Changes, 1)
	assert.Equal(t, "unclassified", fetched.Changes[0].Rule)

	require.Len(t, result.ValidRecords, 1)
	assert.Equal(t, int64(1), result.ValidRecords[0].ID)
}

func TestValidateStalePolicy(t *testing.T) {
	live := &fakeLive{responses: map[string]*LiveResponse{
		"GET /orders/1": {Status: 200, Body: map[string]interface{}{"state": "closed"}},
		"GET /orders/2": {Status: 200, Body: map[string]interface{}{"total": 12}},
	}}
	records := []models.CapturedRecord{
		stored(1, "GET", "/orders/1", 200, nil, map[string]interface{}{"state": "open"}),
		stored(2, "GET", "/orders/2", 200, nil, map[string]interface{}{"total": 10}),
	}

	cfg := validationConfig()
	cfg.OnStaleData = models.StaleSkip
	result, err := ValidateRequests(context.Background(), records, cfg, live)
	require.NoError(t, err)
	assert.Equal(t, models.ActionSkip, result.Outcomes[0].Action)
	assert.Equal(t, models.ActionSkip, result.Outcomes[1].Action, "unclassified changes are significant")
	assert.Equal(t, "unclassified", result.Outcomes[1].Changes[0].Rule)
	assert.Equal(t, 2, result.SkippedCount)
	assert.Empty(t, result.ValidRecords)

	cfg.OnStaleData = models.StaleDelete
	result, err = ValidateRequests(context.Background(), records, cfg, live)
	require.NoError(t, err)
	assert.Equal(t, 2, result.DeletedCount)
}

func TestValidateHarvests422Errors(t *testing.T) {
	live := &fakeLive{responses: map[string]*LiveResponse{
		"POST /signup": {Status: 422, Body: map[string]interface{}{
			"detail": []interface{}{map[string]interface{}{"loc": []interface{}{"body", "email"}, "msg": "Field 'email' must be unique"}},
		}},
		"POST /login":   {Status: 422, Body: map[string]interface{}{"detail": "Bad Request"}},
		"POST /profile": {Status: 422, Body: nil},
	}}
	records := []models.CapturedRecord{
		stored(1, "POST", "/signup", 201, map[string]interface{}{"email": "a@b.c"}, map[string]interface{}{"ok": true}),
		stored(2, "POST", "/login", 200, map[string]interface{}{"user": "x"}, nil),
		stored(3, "POST", "/profile", 200, map[string]interface{}{"bio": "x"}, nil),
		stored(4, "POST", "/signup", 201, map[string]interface{}{"email": "d@e.f"}, map[string]interface{}{"ok": true}),
	}

	result, err := ValidateRequests(context.Background(), records, validationConfig(), live)
	require.NoError(t, err)
	require.Len(t, result.Validation422Errors, 1, "seeds are unique per endpoint, method, and message")
	seed := result.Validation422Errors[0]
	assert.Equal(t, "/signup", seed.Endpoint)
	assert.Equal(t, "POST", seed.Method)
	assert.Equal(t, 422, seed.Status)
	assert.Equal(t, "Field 'email' must be unique", seed.DetailMessage)
	assert.Equal(t, map[string]interface{}{"email": "a@b.c"}, seed.RequestBody)

	assert.Equal(t, 2, result.BadRequestSkippedCount)
	assert.Equal(t, 1, result.CollapsedSeedCount, "the repeated /signup message is counted, not dropped")
	assert.Equal(t, 4, result.SkippedCount)
	for _, o := range result.Outcomes {
		assert.True(t, o.Is422Error)
		assert.Equal(t, models.ActionSkip, o.Action)
	}
}

func TestValidateHarvestsDuplicate400Errors(t *testing.T) {
	live := &fakeLive{responses: map[string]*LiveResponse{
		"POST /users":  {Status: 400, Body: map[string]interface{}{"message": "User with this email already exists"}},
		"POST /groups": {Status: 400, Body: map[string]interface{}{"message": "Bad Request"}},
		"POST /tags":   {Status: 400, Body: map[string]interface{}{"message": "name too long"}},
	}}
	records := []models.CapturedRecord{
		stored(1, "POST", "/users", 201, map[string]interface{}{"email": "jane@example.com", "name": "Jane"}, map[string]interface{}{"id": 1}),
		stored(2, "POST", "/groups", 201, map[string]interface{}{"name": "g"}, nil),
		stored(3, "POST", "/tags", 201, map[string]interface{}{"name": "t"}, nil),
	}

	result, err := ValidateRequests(context.Background(), records, validationConfig(), live, WithSynthesizer(NewSeededSynthesizer(7)))
	require.NoError(t, err)
	require.Len(t, result.Duplicate400Errors, 1)
	seed := result.Duplicate400Errors[0]
	assert.Equal(t, 400, seed.ExpectedStatus)
	assert.Equal(t, 201, seed.SuccessStatus)
	assert.Equal(t, []string{"email"}, seed.ConflictingFields)
	assert.Equal(t, "User with this email already exists", seed.DetailMessage)

	uniquified := seed.UniquifiedBody.(map[string]interface{})
	assert.NotEqual(t, "jane@example.com", uniquified["email"])
	assert.Equal(t, "Jane", uniquified["name"])

	assert.Equal(t, 1, result.BadRequest400SkippedCount)
	assert.Equal(t, 3, result.SkippedCount)
	assert.True(t, result.Outcomes[2].Is400Error)
}

func TestValidateUniquifiesMutatingRequests(t *testing.T) {
	live := &fakeLive{responses: map[string]*LiveResponse{}}
	caller := LiveCallerFunc(func(ctx context.Context, req LiveRequest) (*LiveResponse, error) {
		live.mu.Lock()
		live.received = append(live.received, req)
		live.mu.Unlock()
		body := req.Body.(map[string]interface{})
		return &LiveResponse{Status: 201, Body: map[string]interface{}{"email": body["email"], "role": "member"}}, nil
	})
	records := []models.CapturedRecord{
		stored(1, "POST", "/users", 201, map[string]interface{}{"email": "jane@example.com"},
			map[string]interface{}{"email": "jane@example.com", "role": "member"}),
		stored(2, "GET", "/users", 200, map[string]interface{}{"email": "jane@example.com"}, nil),
	}
	cfg := validationConfig()
	cfg.UniqueFields = []models.UniqueFieldConfig{{Field: "email"}}

	result, err := ValidateRequests(context.Background(), records, cfg, caller)
	require.NoError(t, err)
	require.Len(t, live.received, 2)
	sent := live.received[0].Body.(map[string]interface{})
	assert.NotEqual(t, "jane@example.com", sent["email"])
	assert.Equal(t, map[string]interface{}{"email": "jane@example.com"}, live.received[1].Body, "GET bodies are replayed as stored")

	outcome := result.Outcomes[0]
	assert.Equal(t, models.ActionUpdate, outcome.Action)
	require.Len(t, outcome.Changes, 1)
	assert.Equal(t, "uniquified", outcome.Changes[0].Rule)
	assert.False(t, outcome.Changes[0].IsSignificant)
	assert.Equal(t, map[string]interface{}{"email": "jane@example.com"}, records[0].RequestBody)
}

func TestValidateResolvesPathTemplates(t *testing.T) {
	live := &fakeLive{responses: map[string]*LiveResponse{
		"GET /orders/7":            {Status: 200, Body: map[string]interface{}{"orderId": 7}},
		"GET /tenants/acme/orders": {Status: 200, Body: nil},
	}}
	records := []models.CapturedRecord{
		{ID: 1, Endpoint: "/orders/{orderId}", Method: "GET", ResponseStatus: 200, ResponseBody: map[string]interface{}{"orderId": 7}},
		{ID: 2, Endpoint: "/tenants/{tenant}/orders", Method: "GET", ResponseStatus: 200},
		{ID: 3, Endpoint: "/carts/{cartId}", Method: "GET", ResponseStatus: 200},
	}
	cfg := validationConfig()
	cfg.PathParams = map[string]string{"tenant": "acme"}

	result, err := ValidateRequests(context.Background(), records, cfg, live)
	require.NoError(t, err)
	assert.Equal(t, models.ActionKeep, result.Outcomes[0].Action)
	assert.True(t, result.Outcomes[0].IsValid)
	assert.True(t, result.Outcomes[1].IsValid)
	assert.False(t, result.Outcomes[2].IsValid)
	assert.Contains(t, result.Outcomes[2].Error, "cartId")
	assert.Equal(t, 1, result.FailedCount)
	assert.Len(t, live.received, 2)
}

func TestValidateRequiredFieldOverridesAllowList(t *testing.T) {
	schema, err := ParseResponseSchema([]byte(`
paths:
  /things/{id}:
    get:
      responses:
        "200":
          schema:
            type: object
            required: [updatedAt]
            properties:
              updatedAt: {type: string}
`))
	require.NoError(t, err)
	live := &fakeLive{responses: map[string]*LiveResponse{
		"GET /things/1": {Status: 200, Body: map[string]interface{}{"name": "x"}},
	}}
	rec := stored(1, "GET", "/things/1", 200, nil, map[string]interface{}{"name": "x", "updatedAt": "2024-01-01"})
	rec.Endpoint = "/things/{id}"
	cfg := validationConfig()
	cfg.OnStaleData = models.StaleDelete

	result, err := ValidateRequests(context.Background(), []models.CapturedRecord{rec}, cfg, live, WithResponseSchema(schema))
	require.NoError(t, err)
	require.Len(t, result.Outcomes[0].Changes, 1)
	assert.Equal(t, "required", result.Outcomes[0].Changes[0].Rule)
	assert.Equal(t, models.ActionDelete, result.Outcomes[0].Action)

	result, err = ValidateRequests(context.Background(), []models.CapturedRecord{rec}, cfg, live)
	require.NoError(t, err)
	assert.Equal(t, models.ActionUpdate, result.Outcomes[0].Action, "without a schema the change is allow-listed")
}

func TestValidateConcurrentMatchesSequential(t *testing.T) {
	live := &fakeLive{responses: map[string]*LiveResponse{}, failures: map[string]error{}}
	var records []models.CapturedRecord
	for i := 0; i < 40; i++ {
		path := fmt.Sprintf("/items/%d", i)
		records = append(records, stored(int64(i), "GET", path, 200, nil, map[string]interface{}{"n": i}))
		switch i % 4 {
		case 0:
			live.responses["GET "+path] = &LiveResponse{Status: 200, Body: map[string]interface{}{"n": i}}
		case 1:
			live.responses["GET "+path] = &LiveResponse{Status: 404}
		case 2:
			live.responses["GET "+path] = &LiveResponse{Status: 200, Body: map[string]interface{}{"n": i + 1}}
		case 3:
			live.failures["GET "+path] = errors.New("timeout")
		}
	}

	sequential, err := ValidateRequests(context.Background(), records, validationConfig(), live)
	require.NoError(t, err)

	cfg := validationConfig()
	cfg.Concurrency = 8
	cfg.RequestsPerSecond = 10000
	concurrent, err := ValidateRequests(context.Background(), records, cfg, live)
	require.NoError(t, err)

	assert.Equal(t, sequential.Outcomes, concurrent.Outcomes)
	assert.Equal(t, sequential.ValidRecords, concurrent.ValidRecords)
	assert.Equal(t, 20, concurrent.KeptCount)
	assert.Equal(t, 10, concurrent.UpdatedCount)
	assert.Equal(t, 10, concurrent.DeletedCount)
	assert.Equal(t, 10, concurrent.FailedCount)
}

func TestValidateDisabledKeepsEverything(t *testing.T) {
	cfg := validationConfig()
	cfg.Enabled = false
	records := []models.CapturedRecord{stored(1, "GET", "/a", 200, nil, nil)}

	result, err := ValidateRequests(context.Background(), records, cfg, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, result.KeptCount)
	assert.Equal(t, records, result.ValidRecords)
}

func TestExtractDetailMessage(t *testing.T) {
	tests := []struct {
		name string
		body interface{}
		want string
	}{
		{"fastapi list", map[string]interface{}{"detail": []interface{}{map[string]interface{}{"msg": "value is not a valid email"}}}, "value is not a valid email"},
		{"detail string", map[string]interface{}{"detail": "Email taken"}, "Email taken"},
		{"nested error", map[string]interface{}{"error": map[string]interface{}{"message": "already exists"}}, "already exists"},
		{"errors list", map[string]interface{}{"errors": []interface{}{map[string]interface{}{"message": "bad sku"}}}, "bad sku"},
		{"raw text", " duplicate key ", "duplicate key"},
		{"nothing", map[string]interface{}{"code": 7}, ""},
		{"nil", nil, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractDetailMessage(tt.body))
		})
	}
}
