package stream

import (
	"errors"
	"io"
	"sync"
)

// ErrClosedEarly is what the mirror reports when the primary reader was
// closed before the body reached EOF.
var ErrClosedEarly = errors.New("body closed before end of stream")

// TeeReadCloser mirrors every byte read from a response body into a pipe
// for a background consumer. If the consumer goes away, mirroring stops
// but the primary reader keeps working.
type TeeReadCloser struct {
	body io.ReadCloser

	mu sync.Mutex
	pw *io.PipeWriter
}

// TeeBody splits body into:
//   - primary: the caller reads the response from this
//   - mirror: a background consumer sees the same bytes, then EOF or the read error
func TeeBody(body io.ReadCloser) (primary *TeeReadCloser, mirror *io.PipeReader) {
	pr, pw := io.Pipe()
	return &TeeReadCloser{body: body, pw: pw}, pr
}

func (t *TeeReadCloser) Read(p []byte) (int, error) {
	n, err := t.body.Read(p)
	if n > 0 {
		t.mirror(p[:n])
	}
	if err != nil {
		t.closeMirror(err)
	}
	return n, err
}

func (t *TeeReadCloser) Close() error {
	t.closeMirror(ErrClosedEarly)
	return t.body.Close()
}

func (t *TeeReadCloser) mirror(b []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.pw == nil {
		return
	}
	if _, err := t.pw.Write(b); err != nil {
		// consumer closed its end
		t.pw = nil
	}
}

func (t *TeeReadCloser) closeMirror(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.pw == nil {
		return
	}
	if err == io.EOF {
		t.pw.Close()
	} else {
		t.pw.CloseWithError(err)
	}
	t.pw = nil
}
