package storage_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/namikmesic/varys/internal/chat"
	"github.com/namikmesic/varys/internal/storage"
	"github.com/namikmesic/varys/internal/stream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testPool connects to VARYS_TEST_DATABASE_URL, skipping when it is unset.
func testPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	url := os.Getenv("VARYS_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("VARYS_TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	pool, err := storage.NewPool(ctx, url)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	require.NoError(t, storage.RunMigrations(ctx, pool))
	return pool
}

func TestMessageStoreRoundTrip(t *testing.T) {
	pool := testPool(t)
	ctx := context.Background()
	store := storage.NewMessageStore(pool)

	conv := uuid.New()
	now := time.Now().UTC().Truncate(time.Millisecond)
	user := chat.Message{ID: uuid.New(), Role: chat.RoleUser, Content: "hi", Status: chat.StatusComplete, Timestamp: now}
	reply := chat.Message{ID: uuid.New(), Role: chat.RoleAssistant, Content: "first", Status: chat.StatusComplete, Timestamp: now.Add(time.Millisecond)}
	require.NoError(t, store.SaveMessages(ctx, conv, user, reply))

	reply.Content = "second"
	require.NoError(t, store.SaveMessages(ctx, conv, reply))

	got, err := store.Messages(ctx, conv)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "hi", got[0].Content)
	assert.Equal(t, "second", got[1].Content)
	assert.Equal(t, chat.RoleAssistant, got[1].Role)

	convs, err := store.Conversations(ctx, 50)
	require.NoError(t, err)
	var found bool
	for _, c := range convs {
		if c.ID == conv {
			found = true
			assert.Equal(t, 2, c.Messages)
			assert.Equal(t, "hi", c.Preview)
		}
	}
	assert.True(t, found)
}

func TestSettingsCache(t *testing.T) {
	pool := testPool(t)
	ctx := context.Background()
	cache := storage.NewSettingsCache(pool, "test-"+uuid.NewString())

	data, err := cache.Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, data)

	require.NoError(t, cache.Save(ctx, []byte(`{"model":"m"}`)))
	require.NoError(t, cache.Save(ctx, []byte(`{"model":"n"}`)))
	data, err = cache.Load(ctx)
	require.NoError(t, err)
	assert.JSONEq(t, `{"model":"n"}`, string(data))
}

func TestTelemetryJobs(t *testing.T) {
	pool := testPool(t)
	ctx := context.Background()

	id, ts := uuid.New(), time.Now().UTC()
	require.NoError(t, storage.InsertRequestJob(&storage.RequestRecord{
		ID: id, Timestamp: ts, Method: "POST", Path: "/chat", StatusCode: 200, Success: true, IsStream: true,
	}).Execute(ctx, pool))

	events := []stream.Event{stream.Content("a"), stream.Error("boom")}
	events[0].Index, events[1].Index = 1, 2
	require.NoError(t, storage.InsertStreamEventsJob(id, ts, events).Execute(ctx, pool))
	require.NoError(t, storage.UpdateRequestOutcomeJob(id, ts, storage.ReplyOutcome{
		Outcome: storage.OutcomeError, ErrorMessage: "boom", ContentLength: 1, EventCount: 2,
	}).Execute(ctx, pool))

	var success bool
	var outcome string
	var count int
	require.NoError(t, pool.QueryRow(ctx,
		`SELECT success, outcome, event_count FROM requests WHERE id = $1`, id,
	).Scan(&success, &outcome, &count))
	assert.False(t, success)
	assert.Equal(t, storage.OutcomeError, outcome)
	assert.Equal(t, 2, count)

	m, err := storage.QueryMetrics(ctx, pool, ts.Add(-time.Second))
	require.NoError(t, err)
	assert.GreaterOrEqual(t, m.TotalErrors, int64(1))
	assert.GreaterOrEqual(t, m.StreamEvents, int64(2))
}
