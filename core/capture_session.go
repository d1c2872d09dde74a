package core

import (
	"context"
	"errors"
	"sync"
	"time"

	"curator/models"

	"github.com/google/uuid"
)

var ErrSessionClosed = errors.New("capture session is closed")

// RecordSink persists a batch and reports how many records were stored.
type RecordSink func(ctx context.Context, records []models.CapturedRecord) (int, error)

// CaptureSession buffers the records of one test run. Its lifecycle is
// create, Collect any number of times, Flush as often as needed, then Delete.
type CaptureSession struct {
	ID        string
	TestName  string
	TestFile  string
	CreatedAt time.Time

	mu      sync.Mutex
	pending []models.CapturedRecord
	flushed int
	closed  bool
}

func NewCaptureSession(testName, testFile string) *CaptureSession {
	return &CaptureSession{
		ID:        uuid.NewString(),
		TestName:  testName,
		TestFile:  testFile,
		CreatedAt: time.Now().UTC(),
	}
}

// Collect buffers rec, filling in the session's test name and file when the
// record has none. It returns the number of buffered records.
func (s *CaptureSession) Collect(rec models.CapturedRecord) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return len(s.pending), ErrSessionClosed
	}
	if rec.TestName == "" {
		rec.TestName = s.TestName
	}
	if rec.TestFile == "" {
		rec.TestFile = s.TestFile
	}
	s.pending = append(s.pending, rec)
	return len(s.pending), nil
}

func (s *CaptureSession) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Flushed is the number of records this session has handed to a sink.
func (s *CaptureSession) Flushed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flushed
}

// Flush hands the buffered records to sink. On error the batch stays buffered
// for the next attempt.
func (s *CaptureSession) Flush(ctx context.Context, sink RecordSink) (int, error) {
	s.mu.Lock()
	batch := s.pending
	s.pending = nil
	s.mu.Unlock()

	if len(batch) == 0 {
		return 0, nil
	}
	stored, err := sink(ctx, batch)
	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.pending = append(batch, s.pending...)
		return 0, err
	}
	s.flushed += stored
	return stored, nil
}

// Delete closes the session and drops anything not yet flushed.
func (s *CaptureSession) Delete() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	dropped := len(s.pending)
	s.pending = nil
	s.closed = true
	return dropped
}
