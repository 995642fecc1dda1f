// Package client talks to the chat backend over HTTP. Streaming replies
// are exposed as a Stream of decoded events; every other endpoint is a
// plain JSON call.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const maxErrorBody = 4 << 10

// Client is safe for concurrent use. Construct one per backend and pass it
// to whatever needs it.
type Client struct {
	base           *url.URL
	http           *http.Client
	apiKey         string
	idleTimeout    time.Duration
	requestTimeout time.Duration
	recorder       Recorder
	recording      bool
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

func WithAPIKey(key string) Option {
	return func(c *Client) { c.apiKey = key }
}

// WithIdleTimeout bounds how long a chat request may go without receiving
// bytes, both before the response headers and between body reads.
func WithIdleTimeout(d time.Duration) Option {
	return func(c *Client) { c.idleTimeout = d }
}

// WithRequestTimeout bounds non-streaming endpoints (settings,
// capabilities, debug).
func WithRequestTimeout(d time.Duration) Option {
	return func(c *Client) { c.requestTimeout = d }
}

func WithRecorder(r Recorder) Option {
	return func(c *Client) {
		if r != nil {
			c.recorder = r
			c.recording = true
		}
	}
}

func New(baseURL string, opts ...Option) (*Client, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("parse base url: unsupported scheme %q", base.Scheme)
	}
	c := &Client{
		base: base,
		http: &http.Client{
			// No timeout: streaming responses can be long-lived. Idle and
			// request timeouts are applied per call.
			Timeout: 0,
		},
		recorder: nopRecorder{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) BaseURL() string {
	return c.base.String()
}

func (c *Client) newRequest(ctx context.Context, method, path string, query url.Values, body []byte, contentType string) (*http.Request, error) {
	var r io.Reader
	if body != nil {
		r = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, buildTargetURL(c.base, path, query), r)
	if err != nil {
		return nil, err
	}
	req.Header = requestHeaders(contentType, c.apiKey)
	return req, nil
}

// doJSON performs a non-streaming call. in and out may be nil.
func (c *Client) doJSON(ctx context.Context, op, method, path string, query url.Values, token string, in, out any) error {
	if c.requestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.requestTimeout)
		defer cancel()
	}

	var body []byte
	contentType := ""
	if in != nil {
		var err error
		if body, err = json.Marshal(in); err != nil {
			return fmt.Errorf("%s: encode request: %w", op, err)
		}
		contentType = "application/json"
	}

	req, err := c.newRequest(ctx, method, path, query, body, contentType)
	if err != nil {
		return fmt.Errorf("%s: create request: %w", op, err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	ex := Exchange{ID: uuid.New(), Timestamp: time.Now(), Method: method, Path: path, RequestBytes: len(body)}
	resp, err := c.http.Do(req)
	if err != nil {
		terr := &TransportError{Op: op, Err: err, Timeout: ctx.Err() == context.DeadlineExceeded}
		c.record(ex, 0, terr)
		return terr
	}
	defer resp.Body.Close()

	if !successStatus(resp.StatusCode) {
		terr := statusError(op, resp)
		c.record(ex, resp.StatusCode, terr)
		return terr
	}

	if out == nil {
		io.Copy(io.Discard, resp.Body)
		c.record(ex, resp.StatusCode, nil)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		terr := &TransportError{Op: op, Err: fmt.Errorf("decode response: %w", err)}
		c.record(ex, resp.StatusCode, terr)
		return terr
	}
	c.record(ex, resp.StatusCode, nil)
	return nil
}

func (c *Client) record(ex Exchange, status int, err error) {
	ex.StatusCode = status
	ex.Success = err == nil && successStatus(status)
	ex.Duration = time.Since(ex.Timestamp)
	if err != nil {
		ex.Error = err.Error()
	}
	c.recorder.RecordExchange(ex)

	ev := log.Debug()
	if err != nil {
		ev = log.Warn().Err(err)
	}
	ev.Str("request_id", ex.ID.String()).
		Str("method", ex.Method).
		Str("path", ex.Path).
		Int("status", status).
		Bool("stream", ex.Stream).
		Dur("duration", ex.Duration).
		Msg("backend request")
}

func successStatus(code int) bool {
	return code >= 200 && code < 300
}

// statusError builds the TransportError for a non-2xx response, keeping
// the backend's error message when the body carries one.
func statusError(op string, resp *http.Response) *TransportError {
	terr := &TransportError{Op: op, StatusCode: resp.StatusCode}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	var body struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if json.Unmarshal(data, &body) == nil {
		terr.Message = body.Error
		if terr.Message == "" {
			terr.Message = body.Message
		}
	}
	return terr
}
