package core

import (
	"bytes"
	"compress/gzip"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"curator/logger"

	"github.com/andybalholm/brotli"
)

// LiveRequest is one replayed call. Path is relative to the caller's base URL.
type LiveRequest struct {
	Method  string
	Path    string
	Headers map[string]string
	Body    interface{}
}

// LiveResponse carries the decoded body: parsed JSON when possible, otherwise
// the raw text, or nil when the body is empty.
type LiveResponse struct {
	Status   int
	Body     interface{}
	Headers  http.Header
	Duration time.Duration
}

// LiveCaller issues a request against the live system. Implementations own
// their timeout policy; a timeout is reported as an ordinary error.
type LiveCaller interface {
	Call(ctx context.Context, req LiveRequest) (*LiveResponse, error)
}

// LiveCallerFunc adapts a function to LiveCaller.
type LiveCallerFunc func(ctx context.Context, req LiveRequest) (*LiveResponse, error)

func (f LiveCallerFunc) Call(ctx context.Context, req LiveRequest) (*LiveResponse, error) {
	return f(ctx, req)
}

type HTTPLiveCallerOptions struct {
	BaseURL       string
	Timeout       time.Duration
	SkipTLSVerify bool
	Headers       map[string]string
}

// HTTPLiveCaller replays requests over net/http without following redirects.
type HTTPLiveCaller struct {
	baseURL string
	headers map[string]string
	client  *http.Client
}

func NewHTTPLiveCaller(opts HTTPLiveCallerOptions) (*HTTPLiveCaller, error) {
	if opts.BaseURL == "" {
		return nil, fmt.Errorf("%w: live base URL is empty", ErrInvalidConfig)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.SkipTLSVerify {
		logger.Warn("NewHTTPLiveCaller: TLS certificate verification is DISABLED for live calls to %s.", opts.BaseURL)
	}
	tr := &http.Transport{
		TLSClientConfig: &tls.Config{InsecureSkipVerify: opts.SkipTLSVerify},
	}
	return &HTTPLiveCaller{
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		headers: opts.Headers,
		client: &http.Client{
			Transport: tr,
			Timeout:   opts.Timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}, nil
}

func (c *HTTPLiveCaller) Call(ctx context.Context, req LiveRequest) (*LiveResponse, error) {
	var bodyReader io.Reader
	hasBody := false
	switch b := req.Body.(type) {
	case nil:
	case string:
		bodyReader = strings.NewReader(b)
		hasBody = true
	case []byte:
		bodyReader = bytes.NewReader(b)
		hasBody = true
	default:
		data, err := json.Marshal(b)
		if err != nil {
			return nil, fmt.Errorf("encoding request body: %w", err)
		}
		bodyReader = bytes.NewReader(data)
		hasBody = true
	}

	path := req.Path
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	httpRequest, err := http.NewRequestWithContext(ctx, strings.ToUpper(req.Method), c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	httpRequest.Header.Set("Accept", "application/json")
	httpRequest.Header.Set("Accept-Encoding", "gzip, br")
	if hasBody {
		httpRequest.Header.Set("Content-Type", "application/json")
	}
	for k, v := range c.headers {
		httpRequest.Header.Set(k, v)
	}
	for k, v := range req.Headers {
		httpRequest.Header.Set(k, v)
	}

	startTime := time.Now()
	httpResponse, err := c.client.Do(httpRequest)
	if err != nil {
		return nil, fmt.Errorf("executing %s %s: %w", httpRequest.Method, httpRequest.URL.Path, err)
	}
	defer httpResponse.Body.Close()

	raw, err := readDecodedBody(httpResponse)
	if err != nil {
		return nil, fmt.Errorf("reading response body of %s %s: %w", httpRequest.Method, httpRequest.URL.Path, err)
	}
	duration := time.Since(startTime)
	logger.Debug("HTTPLiveCaller: %s %s -> %d in %s", httpRequest.Method, httpRequest.URL.Path, httpResponse.StatusCode, duration)

	return &LiveResponse{
		Status:   httpResponse.StatusCode,
		Body:     decodeLiveBody(raw),
		Headers:  httpResponse.Header,
		Duration: duration,
	}, nil
}

func readDecodedBody(resp *http.Response) ([]byte, error) {
	switch strings.ToLower(resp.Header.Get("Content-Encoding")) {
	case "br":
		return io.ReadAll(brotli.NewReader(resp.Body))
	case "gzip":
		gzReader, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, err
		}
		defer gzReader.Close()
		return io.ReadAll(gzReader)
	default:
		return io.ReadAll(resp.Body)
	}
}

func decodeLiveBody(raw []byte) interface{} {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil
	}
	var v interface{}
	if err := json.Unmarshal(trimmed, &v); err != nil {
		return string(raw)
	}
	return v
}
