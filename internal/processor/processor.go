// Package processor turns client telemetry into storage jobs. It runs off
// the request path: streams are decoded from a mirrored copy of the body.
package processor

import (
	"encoding/json"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/namikmesic/varys/internal/client"
	"github.com/namikmesic/varys/internal/storage"
	"github.com/namikmesic/varys/internal/stream"
	"github.com/rs/zerolog/log"
)

const readBufferSize = 32 * 1024

// Enqueuer accepts write jobs; *storage.BatchWriter is the production one.
type Enqueuer interface {
	Enqueue(job storage.WriteJob) bool
}

// Processor records every backend exchange and the decoded outcome of each
// reply.
type Processor struct {
	writer Enqueuer
	wg     sync.WaitGroup
}

func New(writer Enqueuer) *Processor {
	return &Processor{writer: writer}
}

var _ client.Recorder = (*Processor)(nil)

func (p *Processor) RecordExchange(ex client.Exchange) {
	p.writer.Enqueue(storage.InsertRequestJob(&storage.RequestRecord{
		ID:             ex.ID,
		Timestamp:      ex.Timestamp,
		Method:         ex.Method,
		Path:           ex.Path,
		StatusCode:     ex.StatusCode,
		Success:        ex.Success,
		ErrorMessage:   ex.Error,
		ResponseTimeMs: int(ex.Duration.Milliseconds()),
		RequestBytes:   ex.RequestBytes,
		IsStream:       ex.Stream,
	}))
}

// ProcessStream decodes the mirrored body in the background with its own
// decoder, stores the events and attaches the outcome to the request row.
func (p *Processor) ProcessStream(requestID uuid.UUID, ts time.Time, body io.Reader) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.processStream(requestID, ts, body)
	}()
}

func (p *Processor) processStream(requestID uuid.UUID, ts time.Time, body io.Reader) {
	events, outcome := decodeStream(body)

	if len(events) > 0 {
		p.writer.Enqueue(storage.InsertStreamEventsJob(requestID, ts, events))
	}
	p.writer.Enqueue(storage.UpdateRequestOutcomeJob(requestID, ts, outcome))

	log.Debug().
		Str("request_id", requestID.String()).
		Int("stream_events", len(events)).
		Str("outcome", outcome.Outcome).
		Int("content_length", outcome.ContentLength).
		Msg("stream processing complete")
}

// ProcessNonStream stores a buffered reply and its outcome in the
// background.
func (p *Processor) ProcessNonStream(requestID uuid.UUID, ts time.Time, body []byte) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.processNonStream(requestID, ts, body)
	}()
}

func (p *Processor) processNonStream(requestID uuid.UUID, ts time.Time, body []byte) {
	var parsed struct {
		Response string `json:"response"`
		Message  string `json:"message"`
		Error    string `json:"error"`
	}
	isJSON := json.Unmarshal(body, &parsed) == nil
	p.writer.Enqueue(storage.InsertResponseBodyJob(requestID, ts, body, isJSON))

	outcome := storage.ReplyOutcome{Outcome: storage.OutcomeComplete}
	switch {
	case !isJSON:
		outcome = storage.ReplyOutcome{Outcome: storage.OutcomeError, ErrorMessage: "malformed response body"}
	case parsed.Error != "":
		outcome = storage.ReplyOutcome{Outcome: storage.OutcomeError, ErrorMessage: parsed.Error, EventCount: 1}
	default:
		text := parsed.Response
		if text == "" {
			text = parsed.Message
		}
		outcome.ContentLength = len(text)
		outcome.EventCount = 1
		if text != "" {
			outcome.EventCount = 2
		}
	}
	p.writer.Enqueue(storage.UpdateRequestOutcomeJob(requestID, ts, outcome))
}

// Wait blocks until every body handed to ProcessStream or ProcessNonStream
// has been processed. Call it before shutting down the writer.
func (p *Processor) Wait() {
	p.wg.Wait()
}

// decodeStream reads body to the end. A body that stops without a terminal
// event, or that fails mid-read, is truncated.
func decodeStream(body io.Reader) ([]stream.Event, storage.ReplyOutcome) {
	dec := stream.NewDecoder()
	buf := make([]byte, readBufferSize)

	var events []stream.Event
	var readErr error
	for {
		n, err := body.Read(buf)
		if n > 0 {
			events = append(events, dec.Feed(buf[:n])...)
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				readErr = err
			}
			break
		}
	}
	if readErr == nil {
		events = append(events, dec.Finalize()...)
	}
	// drain so the writer side never blocks
	io.Copy(io.Discard, body)

	outcome := storage.ReplyOutcome{EventCount: len(events), Outcome: storage.OutcomeTruncated}
	for _, ev := range events {
		switch ev.Kind {
		case stream.KindContent:
			outcome.ContentLength += len(ev.Text)
		case stream.KindComplete:
			outcome.Outcome = storage.OutcomeComplete
		case stream.KindError:
			outcome.Outcome = storage.OutcomeError
			outcome.ErrorMessage = ev.Text
		}
	}
	if outcome.Outcome == storage.OutcomeTruncated && readErr != nil {
		outcome.ErrorMessage = readErr.Error()
	}
	return events, outcome
}
