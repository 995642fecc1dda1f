package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

type Metrics struct {
	TotalRequests   int64
	TotalErrors     int64
	StreamedReplies int64
	StreamEvents    int64
	AvgResponseMs   float64
}

// QueryMetrics aggregates telemetry recorded since the given time. A zero
// since covers everything.
func QueryMetrics(ctx context.Context, pool *pgxpool.Pool, since time.Time) (Metrics, error) {
	var m Metrics
	err := pool.QueryRow(ctx, `
		SELECT count(*),
		       count(*) FILTER (WHERE NOT success),
		       count(*) FILTER (WHERE is_stream),
		       COALESCE(sum(event_count), 0),
		       COALESCE(avg(response_time_ms), 0)
		FROM requests
		WHERE ts >= $1`,
		since,
	).Scan(&m.TotalRequests, &m.TotalErrors, &m.StreamedReplies, &m.StreamEvents, &m.AvgResponseMs)
	if err != nil {
		return Metrics{}, fmt.Errorf("query metrics: %w", err)
	}
	return m, nil
}
