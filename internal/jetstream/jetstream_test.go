package jetstream_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/namikmesic/varys/internal/chat"
	"github.com/namikmesic/varys/internal/jetstream"
	nats "github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startJetStream(t *testing.T) nats.JetStreamContext {
	t.Helper()
	srv, err := jetstream.NewServer(t.TempDir(), 0)
	require.NoError(t, err)
	t.Cleanup(srv.Shutdown)

	nc, err := srv.Connect()
	require.NoError(t, err)
	t.Cleanup(nc.Close)

	js, err := nc.JetStream()
	require.NoError(t, err)
	require.NoError(t, jetstream.EnsureStream(js))
	require.NoError(t, jetstream.EnsureStream(js), "ensuring twice is fine")
	return js
}

func TestChatSubject(t *testing.T) {
	t.Parallel()

	id := uuid.MustParse("6f1c0f52-3f4e-4a55-9a57-8c0d2f0b7e11")
	assert.Equal(t, "varys.chat.6f1c0f52-3f4e-4a55-9a57-8c0d2f0b7e11", jetstream.ChatSubject(id))
	assert.Equal(t, "varys.chat.*", jetstream.ChatSubject(uuid.Nil))
}

func TestPublishAndWatch(t *testing.T) {
	t.Parallel()

	js := startJetStream(t)
	pub := jetstream.NewPublisher(js)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	conv, other := uuid.New(), uuid.New()
	msg := chat.Message{ID: uuid.New(), Role: chat.RoleAssistant, Status: chat.StatusThinking}
	require.NoError(t, pub.Publish(ctx, chat.Update{ConversationID: other, Message: msg}))
	require.NoError(t, pub.Publish(ctx, chat.Update{ConversationID: conv, Message: msg}))

	updates, err := jetstream.Watch(ctx, js, conv)
	require.NoError(t, err)

	msg.Status, msg.Content = chat.StatusComplete, "done"
	require.NoError(t, pub.Publish(ctx, chat.Update{ConversationID: conv, Message: msg}))

	var got []chat.Status
	for u := range updates {
		assert.Equal(t, conv, u.ConversationID)
		got = append(got, u.Message.Status)
		if u.Message.Status.Done() {
			break
		}
	}
	assert.Equal(t, []chat.Status{chat.StatusThinking, chat.StatusComplete}, got)
}

func TestWatchAllConversations(t *testing.T) {
	t.Parallel()

	js := startJetStream(t)
	pub := jetstream.NewPublisher(js)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for range 3 {
		require.NoError(t, pub.Publish(ctx, chat.Update{ConversationID: uuid.New()}))
	}

	updates, err := jetstream.Watch(ctx, js, uuid.Nil)
	require.NoError(t, err)
	seen := map[uuid.UUID]bool{}
	for u := range updates {
		seen[u.ConversationID] = true
		if len(seen) == 3 {
			break
		}
	}
	assert.Len(t, seen, 3)
}
