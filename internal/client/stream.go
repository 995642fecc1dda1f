package client

import (
	"context"
	"errors"
	"io"
	"iter"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/namikmesic/varys/internal/stream"
)

const readBufferSize = 32 * 1024

// Stream is one reply from a chat-style endpoint. Events are pulled lazily
// through Events; a Stream can be iterated once.
type Stream struct {
	id      uuid.UUID
	op      string
	body    io.ReadCloser // nil for buffered (non-streaming) replies
	decoder *stream.Decoder
	pending []stream.Event
	cancel  context.CancelFunc
	dog     *watchdog

	started   atomic.Bool
	canceled  atomic.Bool
	closeOnce sync.Once

	mu       sync.Mutex
	err      error
	terminal bool
}

func newEventStream(id uuid.UUID, op string, body io.ReadCloser, cancel context.CancelFunc, dog *watchdog) *Stream {
	return &Stream{id: id, op: op, body: body, decoder: stream.NewDecoder(), cancel: cancel, dog: dog}
}

func newBufferedStream(id uuid.UUID, op string, events []stream.Event, cancel context.CancelFunc) *Stream {
	for i := range events {
		events[i].Index = i + 1
	}
	return &Stream{id: id, op: op, pending: events, cancel: cancel}
}

func (s *Stream) RequestID() uuid.UUID {
	return s.id
}

// Streaming reports whether the reply arrives as server-sent events.
func (s *Stream) Streaming() bool {
	return s.body != nil
}

// Events yields decoded events in arrival order. The sequence ends after a
// terminal event, on a transport failure (see Err), when the consumer
// stops, or once Cancel has been called.
func (s *Stream) Events() iter.Seq[stream.Event] {
	return func(yield func(stream.Event) bool) {
		if !s.started.CompareAndSwap(false, true) {
			return
		}
		defer s.close()

		if s.body == nil {
			s.deliver(yield, s.pending)
			return
		}
		s.read(yield)
	}
}

func (s *Stream) read(yield func(stream.Event) bool) {
	buf := make([]byte, readBufferSize)
	for {
		n, err := s.body.Read(buf)
		s.dog.kick()
		if n > 0 {
			if !s.deliver(yield, s.decoder.Feed(buf[:n])) || s.decoder.Finished() {
				return
			}
		}
		if err == nil {
			continue
		}
		if errors.Is(err, io.EOF) && !s.canceled.Load() {
			s.deliver(yield, s.decoder.Finalize())
			return
		}
		s.fail(err)
		return
	}
}

func (s *Stream) deliver(yield func(stream.Event) bool, events []stream.Event) bool {
	for _, ev := range events {
		if s.canceled.Load() {
			return false
		}
		if ev.Terminal() {
			s.mu.Lock()
			s.terminal = true
			s.mu.Unlock()
		}
		if !yield(ev) {
			return false
		}
	}
	return true
}

func (s *Stream) fail(err error) {
	terr := &TransportError{Op: s.op, Err: err}
	switch {
	case s.dog.fired():
		terr.Timeout = true
		terr.Err = ErrIdleTimeout
	case s.canceled.Load():
		terr.Err = context.Canceled
	}
	s.mu.Lock()
	s.err = terr
	s.mu.Unlock()
}

// Err reports the transport failure that ended the stream, if any. After
// Cancel it reports a TransportError wrapping context.Canceled unless a
// terminal event had already been delivered.
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err == nil && s.canceled.Load() && !s.terminal {
		return &TransportError{Op: s.op, Err: context.Canceled}
	}
	return s.err
}

// Cancel aborts the request. It is safe to call more than once and from
// any goroutine. Every event is checked against cancellation right before
// it is yielded, so when Cancel races with delivery from another goroutine
// at most the one event already being handed over still arrives.
func (s *Stream) Cancel() {
	if !s.canceled.CompareAndSwap(false, true) {
		return
	}
	s.cancel()
	if s.started.CompareAndSwap(false, true) {
		// never iterated: nobody else will release the body
		s.close()
	}
}

func (s *Stream) close() {
	s.closeOnce.Do(func() {
		s.dog.stop()
		if s.body != nil {
			s.body.Close()
		}
		s.cancel()
	})
}

// watchdog cancels a request when kick is not called within d. A nil
// watchdog is inert.
type watchdog struct {
	d     time.Duration
	timer *time.Timer
	hit   atomic.Bool
}

func startWatchdog(d time.Duration, cancel context.CancelFunc) *watchdog {
	if d <= 0 {
		return nil
	}
	w := &watchdog{d: d}
	w.timer = time.AfterFunc(d, func() {
		w.hit.Store(true)
		cancel()
	})
	return w
}

func (w *watchdog) kick() {
	if w == nil || w.hit.Load() {
		return
	}
	w.timer.Reset(w.d)
}

func (w *watchdog) stop() {
	if w != nil {
		w.timer.Stop()
	}
}

func (w *watchdog) fired() bool {
	return w != nil && w.hit.Load()
}
