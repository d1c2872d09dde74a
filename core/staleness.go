package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"sort"
	"strings"

	"curator/logger"
	"curator/models"

	"github.com/tidwall/gjson"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

var (
	ErrNoLiveCaller        = errors.New("validation is enabled but no live caller is configured")
	ErrInvalidConfig       = errors.New("invalid configuration")
	ErrUnresolvedPathParam = errors.New("unresolved path parameter")
	ErrLiveUnavailable     = errors.New("live service refused or failed the call")
)

// detailPaths are probed in order to find a human-readable error message.
var detailPaths = []string{"detail.0.msg", "detail", "message", "error.message", "error", "errors.0.message", "errors.0", "title"}

const (
	ruleRequired   = "required"
	ruleUniquified = "uniquified"
	ruleStatusCode  = "status_code"
	ruleGeneratedID = "generated_id"
	ruleDefault     = "unclassified"
)

// generatedIDFields are response fields a server assigns on create. Replaying a
// mutating call always yields new values for them.
var generatedIDFields = FieldRules{"id", "*Id", "*_id", "uuid"}

// liveUnavailable reports statuses that say nothing about the stored data:
// server errors and auth rejections.
func liveUnavailable(status int) bool {
	return status >= 500 || status == http.StatusUnauthorized || status == http.StatusForbidden
}

// StalenessValidator replays records against a live system and decides what to
// do with each one.
type StalenessValidator struct {
	cfg        models.ValidationConfig
	caller     LiveCaller
	synth      *Synthesizer
	schema     *ResponseSchema
	limiter    *rate.Limiter
	allow      FieldRules
	stale      FieldRules
	skip422    []*regexp.Regexp
	skip400    []*regexp.Regexp
	duplicates []*regexp.Regexp
}

type ValidatorOption func(*StalenessValidator)

func WithSynthesizer(s *Synthesizer) ValidatorOption {
	return func(v *StalenessValidator) { v.synth = s }
}

// WithResponseSchema makes a required response field that disappears from the
// live response a significant change regardless of allow rules.
func WithResponseSchema(s *ResponseSchema) ValidatorOption {
	return func(v *StalenessValidator) { v.schema = s }
}

// NewStalenessValidator checks the configuration up front so that nothing is
// replayed when it is unusable.
func NewStalenessValidator(cfg models.ValidationConfig, caller LiveCaller, opts ...ValidatorOption) (*StalenessValidator, error) {
	if cfg.Enabled && caller == nil {
		return nil, ErrNoLiveCaller
	}
	switch cfg.OnStaleData {
	case "":
		cfg.OnStaleData = models.StaleUpdate
	case models.StaleUpdate, models.StaleSkip, models.StaleDelete:
	default:
		return nil, fmt.Errorf("%w: onStaleData must be update, skip, or delete (got %q)", ErrInvalidConfig, cfg.OnStaleData)
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}

	v := &StalenessValidator{
		cfg:    cfg,
		caller: caller,
		allow:  FieldRules(cfg.AllowChanges),
		stale:  FieldRules(cfg.StaleIfChanged),
	}
	var err error
	if v.skip422, err = compilePatterns(cfg.SkipMessagePatterns); err != nil {
		return nil, err
	}
	if v.skip400, err = compilePatterns(cfg.Skip400MessagePatterns); err != nil {
		return nil, err
	}
	if v.duplicates, err = compilePatterns(cfg.DuplicateMessagePatterns); err != nil {
		return nil, err
	}
	if cfg.RequestsPerSecond > 0 {
		v.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}
	for _, opt := range opts {
		opt(v)
	}
	if v.synth == nil {
		v.synth = NewSynthesizer(nil)
	}
	return v, nil
}

func compilePatterns(patterns []string) ([]*regexp.Regexp, error) {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("%w: message pattern %q: %v", ErrInvalidConfig, p, err)
		}
		out = append(out, re)
	}
	return out, nil
}

func matchesAny(patterns []*regexp.Regexp, s string) bool {
	for _, re := range patterns {
		if re.MatchString(s) {
			return true
		}
	}
	return false
}

// ValidateRequests builds a validator for one pass and runs it.
func ValidateRequests(ctx context.Context, records []models.CapturedRecord, cfg models.ValidationConfig, caller LiveCaller, opts ...ValidatorOption) (models.ValidationResult, error) {
	v, err := NewStalenessValidator(cfg, caller, opts...)
	if err != nil {
		return models.ValidationResult{}, err
	}
	return v.Validate(ctx, records)
}

// recordResult is what one record contributes to the pass. Results are merged
// in input order by a single goroutine.
type recordResult struct {
	outcome    models.ValidationOutcome
	record     models.CapturedRecord
	retained   bool
	failed     bool
	seed422    *models.Validation422Error
	seed400    *models.Duplicate400Error
	skipped422 bool
	skipped400 bool
}

// Validate replays every record once. A failed live call affects only its own
// record. The returned counters always account for every input record; the
// error is non-nil only when ctx ended during the pass.
func (v *StalenessValidator) Validate(ctx context.Context, records []models.CapturedRecord) (models.ValidationResult, error) {
	result := models.ValidationResult{
		ValidRecords:        []models.CapturedRecord{},
		Outcomes:            make([]models.ValidationOutcome, 0, len(records)),
		Validation422Errors: []models.Validation422Error{},
		Duplicate400Errors:  []models.Duplicate400Error{},
	}

	if !v.cfg.Enabled {
		for _, rec := range records {
			result.ValidRecords = append(result.ValidRecords, rec)
			result.Outcomes = append(result.Outcomes, models.ValidationOutcome{
				RecordID: rec.ID, Endpoint: rec.Endpoint, Method: rec.Method, IsValid: true, Action: models.ActionKeep,
			})
		}
		result.KeptCount = len(records)
		logger.Info("Validate: validation disabled, keeping %d records", len(records))
		return result, nil
	}

	slots := make([]recordResult, len(records))
	if v.cfg.Concurrency <= 1 {
		for i, rec := range records {
			slots[i] = v.validateOne(ctx, rec)
		}
	} else {
		g := new(errgroup.Group)
		g.SetLimit(v.cfg.Concurrency)
		for i, rec := range records {
			g.Go(func() error {
				slots[i] = v.validateOne(ctx, rec)
				return nil
			})
		}
		_ = g.Wait()
	}

	seen422 := map[string]bool{}
	seen400 := map[string]bool{}
	for _, slot := range slots {
		result.Outcomes = append(result.Outcomes, slot.outcome)
		if slot.retained {
			result.ValidRecords = append(result.ValidRecords, slot.record)
		}
		if slot.failed {
			result.FailedCount++
		}
		switch slot.outcome.Action {
		case models.ActionKeep:
			result.KeptCount++
		case models.ActionUpdate:
			result.UpdatedCount++
		case models.ActionDelete:
			result.DeletedCount++
		case models.ActionSkip:
			result.SkippedCount++
		}
		if slot.skipped422 {
			result.BadRequestSkippedCount++
		}
		if slot.skipped400 {
			result.BadRequest400SkippedCount++
		}
		if s := slot.seed422; s != nil {
			key := s.Endpoint + "|" + s.Method + "|" + s.DetailMessage
			if !seen422[key] {
				seen422[key] = true
				result.Validation422Errors = append(result.Validation422Errors, *s)
			} else {
				result.CollapsedSeedCount++
			}
		}
		if s := slot.seed400; s != nil {
			key := s.Endpoint + "|" + s.Method + "|" + s.DetailMessage
			if !seen400[key] {
				seen400[key] = true
				result.Duplicate400Errors = append(result.Duplicate400Errors, *s)
			} else {
				result.CollapsedSeedCount++
			}
		}
	}

	logger.Info("Validate: %d records: %d kept, %d updated, %d deleted, %d skipped, %d failed; %d validation seeds, %d duplicate seeds",
		len(records), result.KeptCount, result.UpdatedCount, result.DeletedCount, result.SkippedCount, result.FailedCount,
		len(result.Validation422Errors), len(result.Duplicate400Errors))
	return result, ctx.Err()
}

func (v *StalenessValidator) validateOne(ctx context.Context, rec models.CapturedRecord) recordResult {
	res := recordResult{
		record: rec,
		outcome: models.ValidationOutcome{
			RecordID: rec.ID,
			Endpoint: rec.Endpoint,
			Method:   strings.ToUpper(rec.Method),
		},
	}
	fail := func(err error) recordResult {
		logger.Warn("Validate: record %d (%s %s) left unchanged: %v", rec.ID, rec.Method, rec.Endpoint, err)
		res.outcome.Action = models.ActionKeep
		res.outcome.Error = err.Error()
		res.retained = true
		res.failed = true
		return res
	}

	path, err := v.resolvePath(rec)
	if err != nil {
		return fail(err)
	}

	body := rec.RequestBody
	var uniquified []string
	if models.IsMutatingMethod(rec.Method) {
		if fields := v.uniqueFieldsFor(rec.Endpoint); len(fields) > 0 {
			body, uniquified = v.synth.PrepareUniqueFields(body, fields)
		}
	}

	if v.limiter != nil {
		if err := v.limiter.Wait(ctx); err != nil {
			return fail(fmt.Errorf("waiting for rate limiter: %w", err))
		}
	}
	live, err := v.caller.Call(ctx, LiveRequest{Method: res.outcome.Method, Path: path, Body: body})
	if err != nil {
		return fail(err)
	}
	if live == nil {
		return fail(errors.New("live caller returned no response"))
	}
	res.outcome.LiveStatus = live.Status
	logger.Debug("Validate: record %d %s %s -> live %d (stored %d)", rec.ID, res.outcome.Method, path, live.Status, rec.ResponseStatus)

	switch {
	case liveUnavailable(live.Status) && rec.ResponseStatus >= 200 && rec.ResponseStatus < 300:
		return fail(fmt.Errorf("%w: live status %d", ErrLiveUnavailable, live.Status))

	case (live.Status == http.StatusNotFound || live.Status == http.StatusGone) && live.Status != rec.ResponseStatus:
		res.outcome.Action = models.ActionDelete
		res.outcome.IsStale = true
		return res

	case live.Status == http.StatusUnprocessableEntity && rec.ResponseStatus != http.StatusUnprocessableEntity:
		v.harvest422(&res, rec, live)
		return res

	case live.Status == http.StatusBadRequest && rec.ResponseStatus != http.StatusBadRequest:
		v.harvest400(&res, rec, live)
		return res
	}

	res.outcome.Changes = v.classify(rec, live, uniquified)
	if len(res.outcome.Changes) == 0 {
		res.outcome.Action = models.ActionKeep
		res.outcome.IsValid = true
		res.retained = true
		return res
	}

	res.outcome.IsStale = true
	significant := false
	for _, c := range res.outcome.Changes {
		if c.IsSignificant {
			significant = true
			break
		}
	}
	action := models.ActionUpdate
	if significant {
		action = models.ValidationAction(v.cfg.OnStaleData)
	}
	res.outcome.Action = action
	if action == models.ActionUpdate {
		res.outcome.IsValid = true
		res.outcome.UpdatedResponse = live.Body
		res.record.ResponseBody = live.Body
		res.record.ResponseStatus = live.Status
		res.retained = true
	}
	return res
}

// classify diffs the live response against the stored one. A difference that
// matches no rule is significant.
func (v *StalenessValidator) classify(rec models.CapturedRecord, live *LiveResponse, uniquified []string) []models.FieldChange {
	var changes []models.FieldChange
	if live.Status != rec.ResponseStatus {
		changes = append(changes, models.FieldChange{
			Path: "$status", OldValue: rec.ResponseStatus, NewValue: live.Status, IsSignificant: true, Rule: ruleStatusCode,
		})
	}

	echoed := FieldRules(uniquified)
	mutating := models.IsMutatingMethod(rec.Method)
	comparison := Compare(live.Body, rec.ResponseBody)
	for _, d := range comparison.Differences {
		change := models.FieldChange{Path: d.Path, OldValue: d.Expected, NewValue: d.Actual}
		vanished := d.Kind == DiffMissing || (d.Kind == DiffNull && d.Actual == nil)
		switch {
		case vanished && v.schema.IsRequired(rec.Method, rec.Endpoint, d.Path):
			change.IsSignificant, change.Rule = true, ruleRequired
		case echoed.Matches(d.Path):
			change.Rule = ruleUniquified
		case mutating && !vanished && generatedIDFields.Matches(d.Path):
			change.Rule = ruleGeneratedID
		case v.allow.Matches(d.Path):
			change.Rule = "allow:" + v.allow.Match(d.Path)
		case v.stale.Matches(d.Path):
			change.IsSignificant, change.Rule = true, "stale:"+v.stale.Match(d.Path)
		default:
			change.IsSignificant, change.Rule = true, ruleDefault
		}
		changes = append(changes, change)
	}
	return changes
}

func (v *StalenessValidator) harvest422(res *recordResult, rec models.CapturedRecord, live *LiveResponse) {
	res.outcome.Action = models.ActionSkip
	res.outcome.Is422Error = true
	res.outcome.ErrorResponseData = live.Body
	if !v.cfg.Collect422Errors {
		return
	}
	msg := ExtractDetailMessage(live.Body)
	if msg == "" || matchesAny(v.skip422, msg) {
		res.skipped422 = true
		return
	}
	res.seed422 = &models.Validation422Error{
		Endpoint:      rec.Endpoint,
		Method:        strings.ToUpper(rec.Method),
		RequestBody:   rec.RequestBody,
		Status:        live.Status,
		ResponseData:  live.Body,
		DetailMessage: msg,
		TestName:      rec.TestName,
	}
}

func (v *StalenessValidator) harvest400(res *recordResult, rec models.CapturedRecord, live *LiveResponse) {
	res.outcome.Action = models.ActionSkip
	res.outcome.Is400Error = true
	res.outcome.ErrorResponseData = live.Body
	if !v.cfg.Collect400Errors {
		return
	}
	msg := ExtractDetailMessage(live.Body)
	if msg == "" || matchesAny(v.skip400, msg) {
		res.skipped400 = true
		return
	}
	if !matchesAny(v.duplicates, msg) {
		logger.Debug("Validate: record %d got 400 %q, not a duplicate conflict", rec.ID, msg)
		return
	}

	conflicting := v.conflictingFields(rec, msg)
	fieldCfgs := make([]models.UniqueFieldConfig, 0, len(conflicting))
	configured := map[string]models.UniqueFieldConfig{}
	for _, fc := range v.uniqueFieldsFor(rec.Endpoint) {
		configured[fc.Field] = fc
	}
	for _, f := range conflicting {
		if fc, ok := configured[f]; ok {
			fieldCfgs = append(fieldCfgs, fc)
		} else {
			fieldCfgs = append(fieldCfgs, models.UniqueFieldConfig{Field: f})
		}
	}
	uniquified, _ := v.synth.PrepareUniqueFields(rec.RequestBody, fieldCfgs)

	successStatus := rec.ResponseStatus
	if successStatus < 200 || successStatus > 299 {
		successStatus = http.StatusOK
		if strings.EqualFold(rec.Method, http.MethodPost) {
			successStatus = http.StatusCreated
		}
	}
	res.seed400 = &models.Duplicate400Error{
		Endpoint:          rec.Endpoint,
		Method:            strings.ToUpper(rec.Method),
		RequestBody:       rec.RequestBody,
		ExpectedStatus:    live.Status,
		ResponseData:      live.Body,
		DetailMessage:     msg,
		ConflictingFields: conflicting,
		UniquifiedBody:    uniquified,
		SuccessStatus:     successStatus,
		TestName:          rec.TestName,
	}
}

// conflictingFields lists top-level string fields of the request body that the
// message mentions, plus configured unique fields present in the body.
func (v *StalenessValidator) conflictingFields(rec models.CapturedRecord, msg string) []string {
	body, ok := decodeObject(rec.RequestBody)
	if !ok {
		return []string{}
	}
	lowerMsg := strings.ToLower(msg)
	set := map[string]bool{}
	for k, val := range body {
		if _, isString := val.(string); isString && strings.Contains(lowerMsg, strings.ToLower(k)) {
			set[k] = true
		}
	}
	for _, fc := range v.uniqueFieldsFor(rec.Endpoint) {
		if gjsonLookup(body, fc.Field).Exists() {
			set[fc.Field] = true
		}
	}
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func (v *StalenessValidator) uniqueFieldsFor(endpoint string) []models.UniqueFieldConfig {
	var out []models.UniqueFieldConfig
	for _, fc := range v.cfg.UniqueFields {
		if fc.Field != "" && (fc.Endpoint == "" || fc.Endpoint == endpoint) {
			out = append(out, fc)
		}
	}
	return out
}

// resolvePath returns the concrete path to replay. Placeholders in the endpoint
// template are filled from configured path params, then from same-named fields
// of the request body, then of the stored response body.
func (v *StalenessValidator) resolvePath(rec models.CapturedRecord) (string, error) {
	if rec.RequestPath != "" {
		return rec.RequestPath, nil
	}
	var missing []string
	resolved := placeholderRe.ReplaceAllStringFunc(rec.Endpoint, func(ph string) string {
		name := ph[1 : len(ph)-1]
		if val, ok := v.cfg.PathParams[name]; ok {
			return url.PathEscape(val)
		}
		for _, source := range []interface{}{rec.RequestBody, rec.ResponseBody} {
			if r := gjsonLookup(source, name); r.Exists() && !r.IsObject() && !r.IsArray() && r.String() != "" {
				return url.PathEscape(r.String())
			}
		}
		missing = append(missing, name)
		return ph
	})
	if len(missing) > 0 {
		return "", fmt.Errorf("%w: %s in %s", ErrUnresolvedPathParam, strings.Join(missing, ", "), rec.Endpoint)
	}
	return resolved, nil
}

// ExtractDetailMessage finds the most specific error message in a 4xx payload.
func ExtractDetailMessage(body interface{}) string {
	if s, ok := body.(string); ok {
		return strings.TrimSpace(s)
	}
	data, err := json.Marshal(body)
	if err != nil {
		return ""
	}
	for _, p := range detailPaths {
		r := gjson.GetBytes(data, p)
		if r.Type == gjson.String && strings.TrimSpace(r.Str) != "" {
			return strings.TrimSpace(r.Str)
		}
	}
	return ""
}

func gjsonLookup(body interface{}, field string) gjson.Result {
	switch b := body.(type) {
	case nil:
		return gjson.Result{}
	case string:
		return gjson.Get(b, field)
	}
	data, err := json.Marshal(body)
	if err != nil {
		return gjson.Result{}
	}
	return gjson.GetBytes(data, field)
}

func decodeObject(body interface{}) (map[string]interface{}, bool) {
	switch b := body.(type) {
	case map[string]interface{}:
		return b, true
	case string:
		var m map[string]interface{}
		if err := json.Unmarshal([]byte(b), &m); err == nil {
			return m, true
		}
	}
	return nil, false
}
