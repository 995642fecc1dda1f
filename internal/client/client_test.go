package client_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/namikmesic/varys/internal/client"
	"github.com/namikmesic/varys/internal/settings"
	"github.com/namikmesic/varys/internal/stream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sse(w http.ResponseWriter, records ...string) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.WriteHeader(http.StatusOK)
	flusher := w.(http.Flusher)
	for _, r := range records {
		io.WriteString(w, r)
		flusher.Flush()
	}
}

func newClient(t *testing.T, url string, opts ...client.Option) *client.Client {
	t.Helper()
	c, err := client.New(url, opts...)
	require.NoError(t, err)
	return c
}

func collect(s *client.Stream) []stream.Event {
	var events []stream.Event
	for ev := range s.Events() {
		ev.Index = 0
		events = append(events, ev)
	}
	return events
}

func TestNewRejectsBadBaseURL(t *testing.T) {
	t.Parallel()

	_, err := client.New("ftp://example.com")
	assert.Error(t, err)
	_, err = client.New("://nope")
	assert.Error(t, err)
}

func TestChatStreaming(t *testing.T) {
	t.Parallel()

	var gotBody map[string]any
	var gotHeader http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)
		gotHeader = r.Header.Clone()
		json.NewDecoder(r.Body).Decode(&gotBody)
		sse(w,
			"data: {\"content\":\"Hel\"}\n\ndata: {\"con",
			"tent\":\"lo\"}\n\n",
			"data: [DONE]\n\n",
		)
	}))
	defer srv.Close()

	c := newClient(t, srv.URL+"/api", client.WithAPIKey("sk-test"))
	s, err := c.Chat(context.Background(), "hi", true)
	require.NoError(t, err)
	assert.True(t, s.Streaming())
	assert.NotEqual(t, uuid.Nil, s.RequestID())

	assert.Equal(t, []stream.Event{stream.Content("Hel"), stream.Content("lo"), stream.Complete()}, collect(s))
	assert.NoError(t, s.Err())

	assert.Equal(t, map[string]any{"message": "hi", "stream": true}, gotBody)
	assert.Equal(t, "Bearer sk-test", gotHeader.Get("Authorization"))
	assert.Equal(t, "identity", gotHeader.Get("Accept-Encoding"))
	assert.Equal(t, "application/json", gotHeader.Get("Content-Type"))
}

func TestChatStreamWithoutDone(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sse(w, "data: {\"content\":\"x\"}\n\ndata: {\"content\":\"tail\"}")
	}))
	defer srv.Close()

	s, err := newClient(t, srv.URL).Chat(context.Background(), "hi", true)
	require.NoError(t, err)
	assert.Equal(t, []stream.Event{stream.Content("x"), stream.Content("tail"), stream.Complete()}, collect(s))
	assert.NoError(t, s.Err())
}

func TestChatStreamRemoteError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sse(w, "data: {\"content\":\"partial\"}\n\n", "data: {\"error\":\"rate limited\"}\n\ndata: [DONE]\n\n")
	}))
	defer srv.Close()

	s, err := newClient(t, srv.URL).Chat(context.Background(), "hi", true)
	require.NoError(t, err)
	assert.Equal(t, []stream.Event{stream.Content("partial"), stream.Error("rate limited")}, collect(s))
	assert.NoError(t, s.Err())
}

func TestChatNonStreaming(t *testing.T) {
	t.Parallel()

	t.Run("response body", func(t *testing.T) {
		t.Parallel()
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			io.WriteString(w, `{"response":"hello there"}`)
		}))
		defer srv.Close()

		s, err := newClient(t, srv.URL).Chat(context.Background(), "hi", false)
		require.NoError(t, err)
		assert.False(t, s.Streaming())
		assert.Equal(t, []stream.Event{stream.Content("hello there"), stream.Complete()}, collect(s))
	})

	t.Run("error body", func(t *testing.T) {
		t.Parallel()
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			io.WriteString(w, `{"error":"no model"}`)
		}))
		defer srv.Close()

		s, err := newClient(t, srv.URL).Chat(context.Background(), "hi", false)
		require.NoError(t, err)
		assert.Equal(t, []stream.Event{stream.Error("no model")}, collect(s))
	})

	t.Run("garbage body", func(t *testing.T) {
		t.Parallel()
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			io.WriteString(w, `<html>`)
		}))
		defer srv.Close()

		_, err := newClient(t, srv.URL).Chat(context.Background(), "hi", false)
		var terr *client.TransportError
		require.ErrorAs(t, err, &terr)
	})
}

func TestChatNon2xx(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		io.WriteString(w, `{"error":"overloaded"}`)
	}))
	defer srv.Close()

	_, err := newClient(t, srv.URL).Chat(context.Background(), "hi", true)
	var terr *client.TransportError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, http.StatusServiceUnavailable, terr.StatusCode)
	assert.Equal(t, "overloaded", terr.Message)
	assert.Contains(t, terr.Error(), "503")
}

func TestChatConnectionRefused(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := newClient(t, url).Chat(context.Background(), "hi", true)
	var terr *client.TransportError
	require.ErrorAs(t, err, &terr)
	assert.Zero(t, terr.StatusCode)
}

func TestStreamTransportFailure(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sse(w, "data: {\"content\":\"a\"}\n\n")
		panic(http.ErrAbortHandler)
	}))
	defer srv.Close()

	s, err := newClient(t, srv.URL).Chat(context.Background(), "hi", true)
	require.NoError(t, err)

	events := collect(s)
	assert.Equal(t, []stream.Event{stream.Content("a")}, events)

	var terr *client.TransportError
	require.ErrorAs(t, s.Err(), &terr)
	assert.Equal(t, "chat", terr.Op)
}

func blockingSSE(first string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sse(w, first)
		<-r.Context().Done()
	}
}

func TestStreamCancel(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(blockingSSE("data: {\"content\":\"first\"}\n\n"))
	defer srv.Close()

	s, err := newClient(t, srv.URL).Chat(context.Background(), "hi", true)
	require.NoError(t, err)

	var events []stream.Event
	for ev := range s.Events() {
		events = append(events, ev)
		s.Cancel()
		s.Cancel()
	}

	require.Len(t, events, 1)
	assert.Equal(t, "first", events[0].Text)
	assert.ErrorIs(t, s.Err(), context.Canceled)
	assert.Empty(t, collect(s), "a stream is iterated once")
}

func TestStreamCancelFromOtherGoroutine(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(blockingSSE("data: {\"content\":\"first\"}\n\n"))
	defer srv.Close()

	s, err := newClient(t, srv.URL).Chat(context.Background(), "hi", true)
	require.NoError(t, err)

	got := make(chan stream.Event, 1)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range s.Events() {
			got <- ev
		}
	}()

	<-got
	s.Cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("iteration did not stop after cancel")
	}
	assert.ErrorIs(t, s.Err(), context.Canceled)
}

func TestStreamCancelRacingDelivery(t *testing.T) {
	t.Parallel()

	// three events decoded from a single read
	srv := httptest.NewServer(blockingSSE(
		"data: {\"content\":\"a\"}\n\ndata: {\"content\":\"b\"}\n\ndata: {\"content\":\"c\"}\n\n"))
	defer srv.Close()

	s, err := newClient(t, srv.URL).Chat(context.Background(), "hi", true)
	require.NoError(t, err)

	var events []stream.Event
	for ev := range s.Events() {
		events = append(events, ev)
		// the event in hand was already handed over; Cancel lands from
		// another goroutine before the next one is checked
		canceled := make(chan struct{})
		go func() {
			s.Cancel()
			close(canceled)
		}()
		<-canceled
	}

	require.Len(t, events, 1)
	assert.Equal(t, "a", events[0].Text)
	assert.ErrorIs(t, s.Err(), context.Canceled)
}

func TestStreamCancelBeforeIteration(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(blockingSSE("data: {\"content\":\"first\"}\n\n"))
	defer srv.Close()

	s, err := newClient(t, srv.URL).Chat(context.Background(), "hi", true)
	require.NoError(t, err)

	s.Cancel()
	assert.Empty(t, collect(s))
	assert.ErrorIs(t, s.Err(), context.Canceled)
}

func TestStreamIdleTimeout(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(blockingSSE("data: {\"content\":\"slow\"}\n\n"))
	defer srv.Close()

	c := newClient(t, srv.URL, client.WithIdleTimeout(100*time.Millisecond))
	s, err := c.Chat(context.Background(), "hi", true)
	require.NoError(t, err)

	assert.Equal(t, []stream.Event{stream.Content("slow")}, collect(s))

	var terr *client.TransportError
	require.ErrorAs(t, s.Err(), &terr)
	assert.True(t, terr.Timeout)
	assert.ErrorIs(t, s.Err(), client.ErrIdleTimeout)
}

func TestRegenerate(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/regenerate", r.URL.Path)
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		assert.Equal(t, map[string]any{"stream": true}, body)
		sse(w, "data: {\"content\":\"again\"}\n\ndata: [DONE]\n\n")
	}))
	defer srv.Close()

	s, err := newClient(t, srv.URL).Regenerate(context.Background(), true)
	require.NoError(t, err)
	assert.Equal(t, []stream.Event{stream.Content("again"), stream.Complete()}, collect(s))
}

func TestUpload(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/upload", r.URL.Path)
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "false", r.FormValue("stream"))
		f, hdr, err := r.FormFile("file")
		require.NoError(t, err)
		defer f.Close()
		data, _ := io.ReadAll(f)
		assert.Equal(t, "notes.md", hdr.Filename)
		assert.Equal(t, "# notes", string(data))
		io.WriteString(w, `{"success":true,"message":"summarized"}`)
	}))
	defer srv.Close()

	c := newClient(t, srv.URL)
	s, err := c.Upload(context.Background(), "/tmp/x/notes.md", strings.NewReader("# notes"), false)
	require.NoError(t, err)
	assert.Equal(t, []stream.Event{stream.Content("summarized"), stream.Complete()}, collect(s))

	_, err = c.Upload(context.Background(), "run.exe", strings.NewReader("MZ"), false)
	assert.ErrorIs(t, err, client.ErrFileTypeNotAllowed)
}

func TestAllowedUpload(t *testing.T) {
	t.Parallel()

	for _, name := range []string{"a.txt", "B.PDF", "c.doc", "d.docx", "e.md"} {
		assert.True(t, client.AllowedUpload(name), name)
	}
	for _, name := range []string{"a", "a.go", "md", "a.md.exe"} {
		assert.False(t, client.AllowedUpload(name), name)
	}
}

func TestCapabilities(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		io.WriteString(w, `{"streaming":true,"tools":["search_knowledge","get_current_time"],"model":"llama"}`)
	}))
	defer srv.Close()

	caps, err := newClient(t, srv.URL).Capabilities(context.Background())
	require.NoError(t, err)
	assert.Equal(t, client.Capabilities{
		Streaming: true,
		Tools:     []string{"search_knowledge", "get_current_time"},
		Model:     "llama",
	}, caps)
}

func TestRequestTimeout(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	c := newClient(t, srv.URL, client.WithRequestTimeout(50*time.Millisecond))
	_, err := c.Capabilities(context.Background())
	var terr *client.TransportError
	require.ErrorAs(t, err, &terr)
	assert.True(t, terr.Timeout)
}

func TestSettingsEndpoints(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	stored := settings.Default()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/settings":
			json.NewEncoder(w).Encode(map[string]any{"settings": stored, "success": true})
		case r.Method == http.MethodPut && r.URL.Path == "/settings":
			var body struct {
				Settings settings.Settings `json:"settings"`
			}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			if body.Settings.Model == "forbidden" {
				json.NewEncoder(w).Encode(map[string]any{"success": false, "message": "model not allowed"})
				return
			}
			stored = body.Settings
			json.NewEncoder(w).Encode(map[string]any{"settings": stored, "success": true})
		case r.Method == http.MethodPost && r.URL.Path == "/settings/reset":
			stored = settings.Default()
			json.NewEncoder(w).Encode(map[string]any{"success": true})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := newClient(t, srv.URL)
	ctx := context.Background()

	got, err := c.GetSettings(ctx)
	require.NoError(t, err)
	assert.Equal(t, settings.Default(), got)

	next := settings.Default()
	next.Temperature = 0.1
	got, err = c.UpdateSettings(ctx, next)
	require.NoError(t, err)
	assert.Equal(t, 0.1, got.Temperature)

	next.Model = "forbidden"
	_, err = c.UpdateSettings(ctx, next)
	var rerr *client.RemoteError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, "model not allowed", rerr.Message)

	got, err = c.ResetSettings(ctx)
	require.NoError(t, err)
	assert.Equal(t, settings.Default(), got)
}

func TestDebugEndpoints(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/debug/token":
			io.WriteString(w, `{"token":"dbg","expires_in":3600}`)
		case r.Header.Get("Authorization") != "Bearer dbg":
			w.WriteHeader(http.StatusUnauthorized)
		case r.Method == http.MethodGet && r.URL.Path == "/debug/logs":
			assert.Equal(t, "error", r.URL.Query().Get("type"))
			io.WriteString(w, `{"logs":[{"timestamp":"t","type":"error","data":{"k":1},"session_id":"s"}],
				"metrics":{"total_requests":2,"total_tokens":10,"total_errors":1,"avg_response_time":1.5}}`)
		case r.Method == http.MethodDelete && r.URL.Path == "/debug/logs":
			io.WriteString(w, `{"success":true}`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := newClient(t, srv.URL)
	ctx := context.Background()

	tok, err := c.DebugToken(ctx)
	require.NoError(t, err)
	assert.Equal(t, "dbg", tok.Token)
	assert.Equal(t, 3600, tok.ExpiresIn)

	logs, err := c.DebugLogs(ctx, "error", tok.Token)
	require.NoError(t, err)
	require.Len(t, logs.Logs, 1)
	assert.JSONEq(t, `{"k":1}`, string(logs.Logs[0].Data))
	assert.Equal(t, 10, logs.Metrics.TotalTokens)

	require.NoError(t, c.ClearDebugLogs(ctx, tok.Token))

	_, err = c.DebugLogs(ctx, "error", "stale")
	var terr *client.TransportError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, http.StatusUnauthorized, terr.HTTPStatus())
}

type fakeRecorder struct {
	mu        sync.Mutex
	exchanges []client.Exchange
	mirrored  chan string
	bodies    chan []byte
}

func (f *fakeRecorder) RecordExchange(ex client.Exchange) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.exchanges = append(f.exchanges, ex)
}

func (f *fakeRecorder) ProcessStream(_ uuid.UUID, _ time.Time, body io.Reader) {
	go func() {
		data, _ := io.ReadAll(body)
		f.mirrored <- string(data)
	}()
}

func (f *fakeRecorder) ProcessNonStream(_ uuid.UUID, _ time.Time, body []byte) {
	f.bodies <- body
}

func TestRecorderSeesStreams(t *testing.T) {
	t.Parallel()

	const body = "data: {\"content\":\"a\"}\n\ndata: [DONE]\n\n"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/capabilities" {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		sse(w, body)
	}))
	defer srv.Close()

	rec := &fakeRecorder{mirrored: make(chan string, 1), bodies: make(chan []byte, 1)}
	c := newClient(t, srv.URL, client.WithRecorder(rec))

	s, err := c.Chat(context.Background(), "hi", true)
	require.NoError(t, err)
	collect(s)

	select {
	case got := <-rec.mirrored:
		assert.Equal(t, body, got)
	case <-time.After(5 * time.Second):
		t.Fatal("recorder never saw the stream")
	}

	_, err = c.Capabilities(context.Background())
	require.Error(t, err)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.Len(t, rec.exchanges, 2)
	assert.True(t, rec.exchanges[0].Stream)
	assert.True(t, rec.exchanges[0].Success)
	assert.Equal(t, s.RequestID(), rec.exchanges[0].ID)
	assert.False(t, rec.exchanges[1].Success)
	assert.Equal(t, http.StatusInternalServerError, rec.exchanges[1].StatusCode)
}

func TestTransportErrorUnwrap(t *testing.T) {
	t.Parallel()

	inner := errors.New("dial tcp: refused")
	err := error(&client.TransportError{Op: "chat", Err: inner})
	assert.ErrorIs(t, err, inner)
	assert.Equal(t, "chat: dial tcp: refused", err.Error())
}
