package jetstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"time"

	"github.com/google/uuid"
	"github.com/namikmesic/varys/internal/chat"
	nats "github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

const (
	StreamName    = "VARYS"
	SubjectPrefix = "varys.chat."
	maxAge        = 24 * time.Hour

	publishTimeout = 5 * time.Second
)

// EnsureStream creates the VARYS stream if it does not exist yet.
func EnsureStream(js nats.JetStreamContext) error {
	_, err := js.AddStream(&nats.StreamConfig{
		Name:      StreamName,
		Subjects:  []string{"varys.>"},
		Storage:   nats.FileStorage,
		MaxAge:    maxAge,
		Retention: nats.LimitsPolicy,
	})
	if err != nil && !errors.Is(err, nats.ErrStreamNameAlreadyInUse) {
		return fmt.Errorf("add stream %s: %w", StreamName, err)
	}
	return nil
}

// ChatSubject is the subject carrying one conversation's updates. The nil
// id selects every conversation.
func ChatSubject(conversationID uuid.UUID) string {
	if conversationID == uuid.Nil {
		return SubjectPrefix + "*"
	}
	return SubjectPrefix + conversationID.String()
}

// Publisher sends conversation updates to JetStream.
type Publisher struct {
	js nats.JetStreamContext
}

func NewPublisher(js nats.JetStreamContext) *Publisher {
	return &Publisher{js: js}
}

var _ chat.Publisher = (*Publisher)(nil)

// Publish waits for the stream's ack, at most publishTimeout.
func (p *Publisher) Publish(ctx context.Context, u chat.Update) error {
	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	data, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("encode update: %w", err)
	}
	if _, err := p.js.Publish(ChatSubject(u.ConversationID), data, nats.Context(ctx)); err != nil {
		return fmt.Errorf("publish update: %w", err)
	}
	return nil
}

// Watch replays and then follows the updates of a conversation (or of all
// conversations for the nil id) until ctx is done or the caller stops.
func Watch(ctx context.Context, js nats.JetStreamContext, conversationID uuid.UUID) (iter.Seq[chat.Update], error) {
	msgs := make(chan *nats.Msg, 64)
	sub, err := js.ChanSubscribe(ChatSubject(conversationID), msgs, nats.OrderedConsumer(), nats.DeliverAll())
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", ChatSubject(conversationID), err)
	}

	return func(yield func(chat.Update) bool) {
		defer sub.Unsubscribe()
		for {
			select {
			case <-ctx.Done():
				return
			case m := <-msgs:
				var u chat.Update
				if err := json.Unmarshal(m.Data, &u); err != nil {
					log.Debug().Err(err).Str("subject", m.Subject).Msg("skipping malformed update")
					continue
				}
				if !yield(u) {
					return
				}
			}
		}
	}, nil
}
