package storage

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Outcomes recorded for a decoded reply.
const (
	OutcomeComplete  = "complete"
	OutcomeError     = "error"
	OutcomeTruncated = "truncated"
)

type RequestRecord struct {
	ID             uuid.UUID
	Timestamp      time.Time
	Method         string
	Path           string
	StatusCode     int
	Success        bool
	ErrorMessage   string
	ResponseTimeMs int
	RequestBytes   int
	IsStream       bool
}

func InsertRequestJob(r *RequestRecord) WriteJob {
	return WriteJobFunc(func(ctx context.Context, pool *pgxpool.Pool) error {
		_, err := pool.Exec(ctx, `
			INSERT INTO requests (
				id, ts, method, path, status_code, success, error_message,
				response_time_ms, request_bytes, is_stream
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
			ON CONFLICT (id, ts) DO NOTHING`,
			r.ID, r.Timestamp, r.Method, r.Path, r.StatusCode, r.Success,
			nilIfEmpty(r.ErrorMessage), r.ResponseTimeMs, r.RequestBytes, r.IsStream,
		)
		return err
	})
}

// ReplyOutcome summarizes a decoded reply.
type ReplyOutcome struct {
	Outcome       string
	ErrorMessage  string
	ContentLength int
	EventCount    int
}

// UpdateRequestOutcomeJob attaches the decoded outcome to a request row. A
// remote error marks the request unsuccessful.
func UpdateRequestOutcomeJob(requestID uuid.UUID, ts time.Time, o ReplyOutcome) WriteJob {
	return WriteJobFunc(func(ctx context.Context, pool *pgxpool.Pool) error {
		_, err := pool.Exec(ctx, `
			UPDATE requests SET
				outcome = $1,
				error_message = COALESCE($2, error_message),
				content_length = $3,
				event_count = $4,
				success = success AND $1 <> 'error'
			WHERE id = $5 AND ts = $6`,
			o.Outcome, nilIfEmpty(o.ErrorMessage), o.ContentLength, o.EventCount, requestID, ts,
		)
		return err
	})
}

// InsertResponseBodyJob keeps a non-streaming reply. Bodies that are valid
// JSON land in the body column, anything else in raw.
func InsertResponseBodyJob(requestID uuid.UUID, ts time.Time, body []byte, isJSON bool) WriteJob {
	return WriteJobFunc(func(ctx context.Context, pool *pgxpool.Pool) error {
		var jsonBody, raw []byte
		if isJSON {
			jsonBody = nilIfEmptyBytes(body)
		} else {
			raw = nilIfEmptyBytes(body)
		}
		_, err := pool.Exec(ctx, `
			INSERT INTO response_bodies (request_id, ts, body, raw)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (request_id, ts) DO NOTHING`,
			requestID, ts, jsonBody, raw,
		)
		return err
	})
}

func nilIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func nilIfEmptyBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	return b
}
