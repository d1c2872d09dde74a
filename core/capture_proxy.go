package core

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"io"
	"log"
	"net/http"
	"regexp"
	"strings"
	"sync"
	"time"

	"curator/logger"
	"curator/models"

	"github.com/elazarl/goproxy"
	"github.com/google/uuid"
)

var (
	numericSegmentRe = regexp.MustCompile(`^\d+$`)
	hexIDSegmentRe   = regexp.MustCompile(`^[0-9a-fA-F]{16,}$`)
)

// TemplatePath replaces id-like path segments (numbers, UUIDs, long hex ids)
// with {id}.
func TemplatePath(p string) string {
	segments := strings.Split(p, "/")
	for i, seg := range segments {
		if seg == "" {
			continue
		}
		if numericSegmentRe.MatchString(seg) || hexIDSegmentRe.MatchString(seg) {
			segments[i] = "{id}"
			continue
		}
		if _, err := uuid.Parse(seg); err == nil && len(seg) == 36 {
			segments[i] = "{id}"
		}
	}
	return strings.Join(segments, "/")
}

type CaptureProxyOptions struct {
	TestNameHeader  string
	TestFileHeader  string
	IncludePrefixes []string
	BatchSize       int
	FlushInterval   time.Duration
	// CA signs the per-host certificates for HTTPS interception. nil uses
	// goproxy's built-in CA.
	CA   *tls.Certificate
	Sink RecordSink
}

// CaptureProxy is a MITM proxy that turns JSON API traffic into captured
// records, buffered per test in CaptureSessions it owns.
type CaptureProxy struct {
	opts   CaptureProxyOptions
	server *goproxy.ProxyHttpServer

	mu       sync.Mutex
	sessions map[string]*CaptureSession
}

type captureContext struct {
	started  time.Time
	reqBody  []byte
	testName string
	testFile string
}

func NewCaptureProxy(opts CaptureProxyOptions) *CaptureProxy {
	if opts.TestNameHeader == "" {
		opts.TestNameHeader = "X-Test-Name"
	}
	if opts.TestFileHeader == "" {
		opts.TestFileHeader = "X-Test-File"
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 50
	}
	p := &CaptureProxy{opts: opts, sessions: map[string]*CaptureSession{}}

	ca := goproxy.GoproxyCa
	if opts.CA != nil {
		ca = *opts.CA
	}
	server := goproxy.NewProxyHttpServer()
	server.Logger = log.New(io.Discard, "", 0)
	server.OnRequest().HandleConnect(goproxy.FuncHttpsHandler(func(host string, ctx *goproxy.ProxyCtx) (*goproxy.ConnectAction, string) {
		logger.CaptureDebug("HandleConnect for session %d, host %s", ctx.Session, host)
		return &goproxy.ConnectAction{Action: goproxy.ConnectMitm, TLSConfig: goproxy.TLSConfigFromCA(&ca)}, host
	}))
	server.OnRequest().DoFunc(p.onRequest)
	server.OnResponse().DoFunc(p.onResponse)
	p.server = server
	return p
}

// Handler returns the proxy as an http.Handler.
func (p *CaptureProxy) Handler() http.Handler {
	return p.server
}

func (p *CaptureProxy) included(path string) bool {
	if len(p.opts.IncludePrefixes) == 0 {
		return true
	}
	for _, prefix := range p.opts.IncludePrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

func (p *CaptureProxy) onRequest(r *http.Request, ctx *goproxy.ProxyCtx) (*http.Request, *http.Response) {
	if r.URL == nil || !p.included(r.URL.Path) || !models.IsSupportedMethod(r.Method) {
		return r, nil
	}
	var body []byte
	if r.Body != nil {
		var err error
		body, err = io.ReadAll(r.Body)
		if err != nil {
			logger.CaptureError("REQ: Error reading request body for %s %s: %v", r.Method, r.URL.String(), err)
		}
		r.Body.Close()
		r.Body = io.NopCloser(bytes.NewBuffer(body))
	}
	ctx.UserData = &captureContext{
		started:  time.Now().UTC(),
		reqBody:  body,
		testName: r.Header.Get(p.opts.TestNameHeader),
		testFile: r.Header.Get(p.opts.TestFileHeader),
	}
	logger.CaptureDebug("REQ: %s %s (test %q)", r.Method, r.URL.String(), r.Header.Get(p.opts.TestNameHeader))
	return r, nil
}

func (p *CaptureProxy) onResponse(resp *http.Response, ctx *goproxy.ProxyCtx) *http.Response {
	cc, ok := ctx.UserData.(*captureContext)
	if !ok || cc == nil || resp == nil || ctx.Req == nil {
		return resp
	}
	contentType := strings.ToLower(resp.Header.Get("Content-Type"))
	if contentType != "" && !strings.Contains(contentType, "json") {
		logger.CaptureDebug("RESP: skipping %s %s, content type %s", ctx.Req.Method, ctx.Req.URL.Path, contentType)
		return resp
	}

	respBody, err := readDecodedBody(resp)
	if err != nil {
		logger.CaptureError("RESP: Error reading response body for %s %s: %v", ctx.Req.Method, ctx.Req.URL.String(), err)
		return resp
	}
	resp.Body.Close()
	resp.Body = io.NopCloser(bytes.NewBuffer(respBody))
	resp.Header.Del("Content-Encoding")
	resp.Header.Del("Content-Length")
	resp.ContentLength = int64(len(respBody))

	rec := models.CapturedRecord{
		Endpoint:       TemplatePath(ctx.Req.URL.Path),
		RequestPath:    ctx.Req.URL.Path,
		Method:         strings.ToUpper(ctx.Req.Method),
		RequestBody:    decodeLiveBody(cc.reqBody),
		ResponseBody:   decodeLiveBody(respBody),
		ResponseStatus: resp.StatusCode,
		TestName:       cc.testName,
		TestFile:       cc.testFile,
		Timestamp:      cc.started,
	}
	p.record(context.Background(), rec)
	logger.CaptureInfo("RESP: %d for %s %s as %s", resp.StatusCode, rec.Method, rec.RequestPath, rec.Endpoint)
	return resp
}

// Session returns the open session for testName, creating it if needed.
func (p *CaptureProxy) Session(testName, testFile string) *CaptureSession {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.sessions[testName]
	if !ok {
		s = NewCaptureSession(testName, testFile)
		p.sessions[testName] = s
		logger.CaptureInfo("Capture session %s created for test %q", s.ID, testName)
	}
	return s
}

func (p *CaptureProxy) record(ctx context.Context, rec models.CapturedRecord) {
	s := p.Session(rec.TestName, rec.TestFile)
	n, err := s.Collect(rec)
	if err != nil {
		logger.CaptureError("Dropping record for %s %s: %v", rec.Method, rec.Endpoint, err)
		return
	}
	if n >= p.opts.BatchSize {
		p.flushSession(ctx, s)
	}
}

func (p *CaptureProxy) flushSession(ctx context.Context, s *CaptureSession) {
	if p.opts.Sink == nil {
		return
	}
	stored, err := s.Flush(ctx, p.opts.Sink)
	if err != nil {
		logger.CaptureError("Flushing capture session %s (%q) failed: %v", s.ID, s.TestName, err)
		return
	}
	if stored > 0 {
		logger.CaptureInfo("Flushed %d records from capture session %s (%q)", stored, s.ID, s.TestName)
	}
}

// FlushAll flushes every session.
func (p *CaptureProxy) FlushAll(ctx context.Context) {
	p.mu.Lock()
	sessions := make([]*CaptureSession, 0, len(p.sessions))
	for _, s := range p.sessions {
		sessions = append(sessions, s)
	}
	p.mu.Unlock()
	for _, s := range sessions {
		p.flushSession(ctx, s)
	}
}

// EndSession flushes and deletes the session of testName.
func (p *CaptureProxy) EndSession(ctx context.Context, testName string) {
	p.mu.Lock()
	s, ok := p.sessions[testName]
	delete(p.sessions, testName)
	p.mu.Unlock()
	if !ok {
		return
	}
	p.flushSession(ctx, s)
	if dropped := s.Delete(); dropped > 0 {
		logger.CaptureError("Capture session %s (%q) deleted with %d unflushed records", s.ID, testName, dropped)
	}
}

// Run serves the proxy on addr until ctx is cancelled, flushing sessions on
// every FlushInterval tick and once more on shutdown.
func (p *CaptureProxy) Run(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: p.server}
	errCh := make(chan error, 1)
	go func() {
		logger.CaptureInfo("Capture proxy starting on %s", addr)
		errCh <- srv.ListenAndServe()
	}()

	var tick <-chan time.Time
	if p.opts.FlushInterval > 0 {
		ticker := time.NewTicker(p.opts.FlushInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-tick:
			p.FlushAll(ctx)
		case err := <-errCh:
			p.FlushAll(context.Background())
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return err
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.CaptureError("Capture proxy shutdown: %v", err)
			}
			p.FlushAll(shutdownCtx)
			logger.CaptureInfo("Capture proxy stopped")
			return nil
		}
	}
}
