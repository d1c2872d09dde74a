package models

import (
	"database/sql"
	"encoding/json"
)

// NullString converts an empty string to an invalid sql.NullString.
func NullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// EncodeBody serializes a JSON-like body for a TEXT column. nil stays NULL.
func EncodeBody(body interface{}) (sql.NullString, error) {
	if body == nil {
		return sql.NullString{}, nil
	}
	if s, ok := body.(string); ok {
		return sql.NullString{String: s, Valid: true}, nil
	}
	data, err := json.Marshal(body)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

// DecodeBody parses a TEXT column back into a JSON-like value. Text that is not
// valid JSON is returned unchanged as a string.
func DecodeBody(column sql.NullString) interface{} {
	if !column.Valid || column.String == "" {
		return nil
	}
	var v interface{}
	if err := json.Unmarshal([]byte(column.String), &v); err != nil {
		return column.String
	}
	return v
}
