package models

import (
	"strings"
	"time"
)

// CapturedRecord is one observed request/response pair. Records are produced by
// the capture path and treated as read-only by curation.
type CapturedRecord struct {
	ID             int64       `json:"id" yaml:"id" readOnly:"true"`
	Endpoint       string      `json:"endpoint" yaml:"endpoint" example:"/api/orders/{id}"`
	RequestPath    string      `json:"request_path,omitempty" yaml:"request_path,omitempty" example:"/api/orders/42"`
	Method         string      `json:"method" yaml:"method" example:"POST"`
	RequestBody    interface{} `json:"request_body" yaml:"request_body"`
	ResponseBody   interface{} `json:"response_body" yaml:"response_body"`
	ResponseStatus int         `json:"response_status" yaml:"response_status" example:"201"`
	TestName       string      `json:"test_name,omitempty" yaml:"test_name,omitempty"`
	TestFile       string      `json:"test_file,omitempty" yaml:"test_file,omitempty"`
	Timestamp      time.Time   `json:"timestamp" yaml:"timestamp"`
	CreatedAt      time.Time   `json:"created_at,omitempty" yaml:"created_at,omitempty" readOnly:"true"`
}

var supportedMethods = map[string]bool{
	"GET":    true,
	"POST":   true,
	"PUT":    true,
	"PATCH":  true,
	"DELETE": true,
}

// IsSupportedMethod reports whether method is one of GET/POST/PUT/PATCH/DELETE.
func IsSupportedMethod(method string) bool {
	return supportedMethods[strings.ToUpper(method)]
}

// IsMutatingMethod reports whether replaying method may create or change data.
func IsMutatingMethod(method string) bool {
	switch strings.ToUpper(method) {
	case "POST", "PUT", "PATCH":
		return true
	}
	return false
}

// EndpointSummary is one row of the distinct endpoint+method listing.
type EndpointSummary struct {
	Endpoint string `json:"endpoint"`
	Method   string `json:"method"`
	Count    int64  `json:"count"`
}
