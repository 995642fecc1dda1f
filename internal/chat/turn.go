package chat

import (
	"context"
	"iter"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/namikmesic/varys/internal/client"
	"github.com/namikmesic/varys/internal/stream"
	"github.com/rs/zerolog/log"
)

// Turn is one request/reply exchange. Its assistant message is updated as
// events are pulled through Events.
type Turn struct {
	ctx     context.Context
	conv    *Conversation
	op      string
	failure string
	user    *Message
	reply   uuid.UUID

	mu       sync.Mutex
	stream   *client.Stream
	started  atomic.Bool
	canceled atomic.Bool

	once   sync.Once
	done   chan struct{}
	result Message
	err    error
}

func newTurn(ctx context.Context, conv *Conversation, op, failure string, user *Message, reply uuid.UUID) *Turn {
	return &Turn{
		ctx:     ctx,
		conv:    conv,
		op:      op,
		failure: failure,
		user:    user,
		reply:   reply,
		done:    make(chan struct{}),
	}
}

// MessageID identifies the assistant message this turn fills in.
func (t *Turn) MessageID() uuid.UUID {
	return t.reply
}

// attach hands the opened stream to the turn. It reports false if the turn
// was canceled while the request was being opened.
func (t *Turn) attach(s *client.Stream) bool {
	t.mu.Lock()
	t.stream = s
	t.mu.Unlock()
	if t.canceled.Load() {
		s.Cancel()
		t.finish(StatusError, t.failure, s.Err())
		return false
	}
	return true
}

// Events forwards the reply's events while updating the assistant message.
// It yields nothing once the turn has finished, and can be ranged over
// once. Stopping the iteration early cancels the turn.
func (t *Turn) Events() iter.Seq[stream.Event] {
	return func(yield func(stream.Event) bool) {
		if !t.started.CompareAndSwap(false, true) {
			return
		}
		t.mu.Lock()
		s := t.stream
		t.mu.Unlock()
		if s == nil || t.finished() {
			return
		}

		var text strings.Builder
		for ev := range s.Events() {
			switch ev.Kind {
			case stream.KindContent:
				text.WriteString(ev.Text)
				content := text.String()
				t.conv.update(t.reply, func(m *Message) {
					m.Content = content
					m.Status = StatusGenerating
				})
			case stream.KindComplete:
				t.finish(StatusComplete, text.String(), nil)
			case stream.KindError:
				t.finish(StatusError, "Error: "+ev.Text, &client.RemoteError{Op: t.op, Message: ev.Text})
			}
			if !yield(ev) {
				t.Cancel()
				break
			}
		}

		if t.finished() {
			return
		}
		err := s.Err()
		if err == nil {
			err = &client.TransportError{Op: t.op, Err: context.Canceled}
		}
		t.finish(StatusError, t.failure, err)
	}
}

// Wait drains the turn and returns the final assistant message. The error
// is a *client.RemoteError when the backend reported a failure and a
// *client.TransportError when the request itself failed.
func (t *Turn) Wait() (Message, error) {
	for range t.Events() {
	}
	<-t.done
	return t.result, t.err
}

// Done is closed once the assistant message has reached a final status.
func (t *Turn) Done() <-chan struct{} {
	return t.done
}

// Cancel aborts the turn. Calling it again, or after the turn finished, is
// a no-op.
func (t *Turn) Cancel() {
	if !t.canceled.CompareAndSwap(false, true) {
		return
	}
	t.mu.Lock()
	s := t.stream
	t.mu.Unlock()
	if s == nil {
		// still opening; attach finishes the turn
		return
	}
	s.Cancel()
	if t.started.CompareAndSwap(false, true) {
		t.finish(StatusError, t.failure, s.Err())
	}
}

func (t *Turn) finished() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

// finish settles the assistant message. Only the first call has an effect.
func (t *Turn) finish(status Status, content string, err error) {
	t.once.Do(func() {
		msg, _ := t.conv.update(t.reply, func(m *Message) {
			m.Content = content
			m.Status = status
		})
		t.result, t.err = msg, err
		t.conv.release(t)

		ev := log.Debug()
		if err != nil {
			ev = log.Warn().Err(err)
		}
		ev.Str("conversation_id", t.conv.id.String()).
			Str("message_id", t.reply.String()).
			Str("op", t.op).
			Str("status", string(status)).
			Msg("turn finished")

		if t.user != nil {
			t.conv.persist(t.ctx, *t.user, msg)
		} else {
			t.conv.persist(t.ctx, msg)
		}
		close(t.done)
	})
}
