package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"curator/logger"
	"curator/models"
)

const capturedRecordColumns = `id, endpoint, request_path, method, request_body, response_body,
	response_status, test_name, test_file, timestamp, created_at`

// InsertCapturedRecords stores a batch in one transaction and returns how many
// rows were written. Records with an unsupported method are rejected up front.
func InsertCapturedRecords(ctx context.Context, records []models.CapturedRecord) (int, error) {
	if DB == nil {
		logger.Error("InsertCapturedRecords: Database is not initialized.")
		return 0, fmt.Errorf("database not initialized")
	}
	if len(records) == 0 {
		return 0, nil
	}

	tx, err := DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("beginning captured record insert: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO captured_records (
		endpoint, request_path, method, request_body, response_body, response_status, test_name, test_file, timestamp
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, fmt.Errorf("preparing captured record insert: %w", err)
	}
	defer stmt.Close()

	stored := 0
	for i, rec := range records {
		if rec.Endpoint == "" || !models.IsSupportedMethod(rec.Method) {
			return 0, fmt.Errorf("record %d: endpoint is required and method must be GET/POST/PUT/PATCH/DELETE (got %q %q)", i, rec.Method, rec.Endpoint)
		}
		reqBody, err := models.EncodeBody(rec.RequestBody)
		if err != nil {
			return 0, fmt.Errorf("record %d: encoding request body: %w", i, err)
		}
		respBody, err := models.EncodeBody(rec.ResponseBody)
		if err != nil {
			return 0, fmt.Errorf("record %d: encoding response body: %w", i, err)
		}
		ts := rec.Timestamp
		if ts.IsZero() {
			ts = time.Now().UTC()
		}
		if _, err := stmt.ExecContext(ctx, rec.Endpoint, models.NullString(rec.RequestPath), strings.ToUpper(rec.Method),
			reqBody, respBody, rec.ResponseStatus, models.NullString(rec.TestName), models.NullString(rec.TestFile), ts); err != nil {
			logger.Error("InsertCapturedRecords: insert failed for %s %s: %v", rec.Method, rec.Endpoint, err)
			return 0, fmt.Errorf("record %d: inserting: %w", i, err)
		}
		stored++
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing captured records: %w", err)
	}
	logger.Debug("InsertCapturedRecords: stored %d records", stored)
	return stored, nil
}

func scanCapturedRecord(rows *sql.Rows) (models.CapturedRecord, error) {
	var rec models.CapturedRecord
	var requestPath, reqBody, respBody, testName, testFile sql.NullString
	if err := rows.Scan(&rec.ID, &rec.Endpoint, &requestPath, &rec.Method, &reqBody, &respBody,
		&rec.ResponseStatus, &testName, &testFile, &rec.Timestamp, &rec.CreatedAt); err != nil {
		return rec, err
	}
	rec.RequestPath = requestPath.String
	rec.RequestBody = models.DecodeBody(reqBody)
	rec.ResponseBody = models.DecodeBody(respBody)
	rec.TestName = testName.String
	rec.TestFile = testFile.String
	return rec, nil
}

func queryCapturedRecords(ctx context.Context, query string, args ...interface{}) ([]models.CapturedRecord, error) {
	if DB == nil {
		return nil, fmt.Errorf("database not initialized")
	}
	rows, err := DB.QueryContext(ctx, query, args...)
	if err != nil {
		logger.Error("queryCapturedRecords: query failed: %v. Query: %s. Args: %v", err, query, args)
		return nil, fmt.Errorf("querying captured records: %w", err)
	}
	defer rows.Close()

	records := []models.CapturedRecord{}
	for rows.Next() {
		rec, err := scanCapturedRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning captured record: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating captured records: %w", err)
	}
	return records, nil
}

// QueryCapturedRecords returns records matching filters, oldest first.
func QueryCapturedRecords(ctx context.Context, filters models.RecordFilters) ([]models.CapturedRecord, error) {
	whereClauses := []string{}
	args := []interface{}{}

	if filters.Endpoint != "" {
		whereClauses = append(whereClauses, "endpoint = ?")
		args = append(args, filters.Endpoint)
	}
	if filters.Method != "" {
		whereClauses = append(whereClauses, "method = ?")
		args = append(args, strings.ToUpper(filters.Method))
	}
	if filters.StatusMin > 0 {
		whereClauses = append(whereClauses, "response_status >= ?")
		args = append(args, filters.StatusMin)
	}
	if filters.StatusMax > 0 {
		whereClauses = append(whereClauses, "response_status <= ?")
		args = append(args, filters.StatusMax)
	}
	if filters.TestName != "" {
		whereClauses = append(whereClauses, "test_name LIKE ?")
		args = append(args, "%"+filters.TestName+"%")
	}

	query := "SELECT " + capturedRecordColumns + " FROM captured_records"
	if len(whereClauses) > 0 {
		query += " WHERE " + strings.Join(whereClauses, " AND ")
	}
	query += " ORDER BY id ASC"
	if filters.Limit > 0 {
		query += " LIMIT ? OFFSET ?"
		args = append(args, filters.Limit, filters.Offset)
	}
	return queryCapturedRecords(ctx, query, args...)
}

// GetUniqueRequests returns the first record of each distinct
// endpoint+method+request_body combination.
func GetUniqueRequests(ctx context.Context) ([]models.CapturedRecord, error) {
	query := "SELECT " + capturedRecordColumns + ` FROM captured_records
		WHERE id IN (
			SELECT MIN(id) FROM captured_records
			GROUP BY endpoint, method, COALESCE(request_body, '')
		)
		ORDER BY endpoint ASC, method ASC, id ASC`
	return queryCapturedRecords(ctx, query)
}

// GetEndpointSummaries lists distinct endpoint+method pairs with their record counts.
func GetEndpointSummaries(ctx context.Context) ([]models.EndpointSummary, error) {
	if DB == nil {
		return nil, fmt.Errorf("database not initialized")
	}
	rows, err := DB.QueryContext(ctx, `SELECT endpoint, method, COUNT(*) FROM captured_records
		GROUP BY endpoint, method ORDER BY endpoint ASC, method ASC`)
	if err != nil {
		return nil, fmt.Errorf("querying endpoint summaries: %w", err)
	}
	defer rows.Close()

	summaries := []models.EndpointSummary{}
	for rows.Next() {
		var s models.EndpointSummary
		if err := rows.Scan(&s.Endpoint, &s.Method, &s.Count); err != nil {
			return nil, fmt.Errorf("scanning endpoint summary: %w", err)
		}
		summaries = append(summaries, s)
	}
	return summaries, rows.Err()
}

// CountCapturedRecords returns the number of stored records.
func CountCapturedRecords(ctx context.Context) (int64, error) {
	if DB == nil {
		return 0, fmt.Errorf("database not initialized")
	}
	var total int64
	if err := DB.QueryRowContext(ctx, "SELECT COUNT(*) FROM captured_records").Scan(&total); err != nil {
		return 0, fmt.Errorf("counting captured records: %w", err)
	}
	return total, nil
}

// PurgeCapturedRecords deletes stored records. An empty endpoint purges every
// record; otherwise only that endpoint's records are removed.
func PurgeCapturedRecords(ctx context.Context, endpoint string) (int64, error) {
	if DB == nil {
		return 0, fmt.Errorf("database not initialized")
	}
	query := "DELETE FROM captured_records"
	var args []interface{}
	if endpoint != "" {
		query += " WHERE endpoint = ?"
		args = append(args, endpoint)
	}
	result, err := DB.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("purging captured records: %w", err)
	}
	return result.RowsAffected()
}
