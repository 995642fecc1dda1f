package client

import (
	"io"
	"time"

	"github.com/google/uuid"
)

// Exchange summarizes one request/response pair for telemetry.
type Exchange struct {
	ID           uuid.UUID
	Timestamp    time.Time
	Method       string
	Path         string
	StatusCode   int
	Success      bool
	Stream       bool
	Error        string
	Duration     time.Duration
	RequestBytes int
}

// Recorder receives telemetry. Its methods are called on the request path
// and must not block: ProcessStream is handed a mirror of a streaming body
// that the recorder has to read until EOF from a goroutine of its own.
type Recorder interface {
	RecordExchange(ex Exchange)
	ProcessStream(requestID uuid.UUID, ts time.Time, body io.Reader)
	ProcessNonStream(requestID uuid.UUID, ts time.Time, body []byte)
}

type nopRecorder struct{}

func (nopRecorder) RecordExchange(Exchange) {}

func (nopRecorder) ProcessStream(_ uuid.UUID, _ time.Time, body io.Reader) {
	go io.Copy(io.Discard, body)
}

func (nopRecorder) ProcessNonStream(uuid.UUID, time.Time, []byte) {}
