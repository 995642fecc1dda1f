package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/namikmesic/varys/internal/stream"
)

var allowedUploadExtensions = map[string]bool{
	"txt": true, "pdf": true, "doc": true, "docx": true, "md": true,
}

type Capabilities struct {
	Streaming bool     `json:"streaming"`
	Tools     []string `json:"tools"`
	Model     string   `json:"model"`
}

type chatRequest struct {
	Message string `json:"message,omitempty"`
	Stream  bool   `json:"stream"`
}

// reply is a non-streaming chat body. /chat answers with response, /upload
// with message.
type reply struct {
	Response string `json:"response"`
	Message  string `json:"message"`
	Error    string `json:"error"`
}

func (c *Client) Capabilities(ctx context.Context) (Capabilities, error) {
	var caps Capabilities
	if err := c.doJSON(ctx, "capabilities", http.MethodGet, "/capabilities", nil, "", nil, &caps); err != nil {
		return Capabilities{}, err
	}
	return caps, nil
}

// Chat sends a user message. With stream set the backend may answer with
// server-sent events; either way the reply is surfaced as a Stream.
func (c *Client) Chat(ctx context.Context, message string, stream bool) (*Stream, error) {
	body, err := json.Marshal(chatRequest{Message: message, Stream: stream})
	if err != nil {
		return nil, fmt.Errorf("chat: encode request: %w", err)
	}
	return c.openStream(ctx, "chat", "/chat", body, "application/json")
}

// Regenerate asks the backend to answer the last user message again.
func (c *Client) Regenerate(ctx context.Context, stream bool) (*Stream, error) {
	body, err := json.Marshal(chatRequest{Stream: stream})
	if err != nil {
		return nil, fmt.Errorf("regenerate: encode request: %w", err)
	}
	return c.openStream(ctx, "regenerate", "/chat/regenerate", body, "application/json")
}

// Upload sends a file for the backend to process and returns its reply.
func (c *Client) Upload(ctx context.Context, filename string, r io.Reader, stream bool) (*Stream, error) {
	name := filepath.Base(filename)
	if !AllowedUpload(name) {
		return nil, fmt.Errorf("upload %s: %w", name, ErrFileTypeNotAllowed)
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", name)
	if err != nil {
		return nil, fmt.Errorf("upload: %w", err)
	}
	if _, err := io.Copy(fw, r); err != nil {
		return nil, fmt.Errorf("upload: read %s: %w", name, err)
	}
	if err := mw.WriteField("stream", strconv.FormatBool(stream)); err != nil {
		return nil, fmt.Errorf("upload: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("upload: %w", err)
	}
	return c.openStream(ctx, "upload", "/upload", buf.Bytes(), mw.FormDataContentType())
}

// AllowedUpload reports whether the backend accepts files named like name.
func AllowedUpload(name string) bool {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(name)), ".")
	return allowedUploadExtensions[ext]
}

func (c *Client) openStream(parent context.Context, op, path string, body []byte, contentType string) (*Stream, error) {
	ctx, cancel := context.WithCancel(parent)
	dog := startWatchdog(c.idleTimeout, cancel)

	req, err := c.newRequest(ctx, http.MethodPost, path, nil, body, contentType)
	if err != nil {
		dog.stop()
		cancel()
		return nil, fmt.Errorf("%s: create request: %w", op, err)
	}

	ex := Exchange{ID: uuid.New(), Timestamp: time.Now(), Method: http.MethodPost, Path: path, RequestBytes: len(body)}
	resp, err := c.http.Do(req)
	if err != nil {
		terr := &TransportError{Op: op, Err: err}
		if dog.fired() {
			terr.Timeout = true
			terr.Err = ErrIdleTimeout
		}
		dog.stop()
		cancel()
		c.record(ex, 0, terr)
		return nil, terr
	}
	dog.kick()

	if !successStatus(resp.StatusCode) {
		terr := statusError(op, resp)
		resp.Body.Close()
		dog.stop()
		cancel()
		c.record(ex, resp.StatusCode, terr)
		return nil, terr
	}

	if isStreamingResponse(resp) {
		ex.Stream = true
		c.record(ex, resp.StatusCode, nil)

		var respBody io.ReadCloser = resp.Body
		if c.recording {
			primary, mirror := stream.TeeBody(resp.Body)
			respBody = primary
			c.recorder.ProcessStream(ex.ID, ex.Timestamp, mirror)
		}
		return newEventStream(ex.ID, op, respBody, cancel, dog), nil
	}

	defer resp.Body.Close()
	defer dog.stop()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		cancel()
		terr := &TransportError{Op: op, Err: err}
		if dog.fired() {
			terr.Timeout = true
			terr.Err = ErrIdleTimeout
		}
		c.record(ex, resp.StatusCode, terr)
		return nil, terr
	}
	c.record(ex, resp.StatusCode, nil)
	if c.recording {
		c.recorder.ProcessNonStream(ex.ID, ex.Timestamp, data)
	}

	var r reply
	if err := json.Unmarshal(data, &r); err != nil {
		cancel()
		return nil, &TransportError{Op: op, Err: fmt.Errorf("decode response: %w", err)}
	}
	return newBufferedStream(ex.ID, op, replyEvents(r), cancel), nil
}

func replyEvents(r reply) []stream.Event {
	if r.Error != "" {
		return []stream.Event{stream.Error(r.Error)}
	}
	text := r.Response
	if text == "" {
		text = r.Message
	}
	if text == "" {
		return []stream.Event{stream.Complete()}
	}
	return []stream.Event{stream.Content(text), stream.Complete()}
}
