package storage

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/namikmesic/varys/internal/stream"
)

// InsertStreamEventsJob stores the decoded events of one reply using the
// COPY protocol.
func InsertStreamEventsJob(requestID uuid.UUID, ts time.Time, events []stream.Event) WriteJob {
	return WriteJobFunc(func(ctx context.Context, pool *pgxpool.Pool) error {
		if len(events) == 0 {
			return nil
		}
		rows := make([][]any, len(events))
		for i, ev := range events {
			rows[i] = []any{
				ts,
				requestID,
				ev.Index,
				ev.Kind.String(),
				nilIfEmpty(ev.Text),
			}
		}

		_, err := pool.CopyFrom(ctx,
			pgx.Identifier{"stream_events"},
			[]string{"ts", "request_id", "event_index", "kind", "text"},
			pgx.CopyFromRows(rows),
		)
		return err
	})
}
