package stream

import (
	"encoding/json"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog/log"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

const (
	dataPrefix      = "data: "
	doneSentinel    = "[DONE]"
	recordSeparator = "\n\n"
)

// Decoder turns a fragmented SSE byte stream into Events. It keeps state
// across chunks so multi-byte characters and records may straddle reads.
// A Decoder serves exactly one stream and is not safe for concurrent use.
type Decoder struct {
	utf8     transform.Transformer
	pending  []byte          // trailing bytes of an incomplete UTF-8 sequence
	lines    strings.Builder // decoded text not yet framed into a record
	index    int
	finished bool
}

func NewDecoder() *Decoder {
	return &Decoder{utf8: unicode.UTF8.NewDecoder()}
}

// Finished reports whether a terminal event has been emitted.
func (d *Decoder) Finished() bool {
	return d.finished
}

// Feed decodes chunk and returns every event completed by it. Trailing
// partial records stay buffered for the next call. Feed is a no-op once
// the decoder has finished.
func (d *Decoder) Feed(chunk []byte) []Event {
	if d.finished {
		return nil
	}
	d.appendText(d.decode(chunk, false))

	buffered := d.lines.String()
	if !strings.Contains(buffered, recordSeparator) {
		return nil
	}

	records := strings.Split(buffered, recordSeparator)
	rest := records[len(records)-1]

	var events []Event
	for _, record := range records[:len(records)-1] {
		events = d.processRecord(record, events)
		if d.finished {
			d.lines.Reset()
			d.pending = nil
			return events
		}
	}

	d.lines.Reset()
	d.lines.WriteString(rest)
	return events
}

// Finalize is called at end of body. It flushes any buffered record and
// closes the session with Complete unless a terminal event was already
// emitted.
func (d *Decoder) Finalize() []Event {
	if d.finished {
		return nil
	}
	d.appendText(d.decode(nil, true))

	var events []Event
	if rest := d.lines.String(); strings.TrimSpace(rest) != "" {
		events = d.processRecord(rest, events)
	}
	d.lines.Reset()

	if !d.finished {
		events = d.emit(events, Complete())
		d.finished = true
	}
	return events
}

func (d *Decoder) decode(chunk []byte, atEOF bool) string {
	d.pending = append(d.pending, chunk...)
	if len(d.pending) == 0 {
		return ""
	}

	var out []byte
	dst := make([]byte, 3*len(d.pending)+utf8.UTFMax)
	for {
		nDst, nSrc, err := d.utf8.Transform(dst, d.pending, atEOF)
		out = append(out, dst[:nDst]...)
		d.pending = d.pending[nSrc:]
		if err != transform.ErrShortDst || len(d.pending) == 0 {
			break
		}
	}
	if len(d.pending) == 0 {
		d.pending = nil
	}
	return string(out)
}

func (d *Decoder) appendText(text string) {
	if text == "" {
		return
	}
	d.lines.WriteString(strings.ReplaceAll(text, "\r", ""))
}

func (d *Decoder) processRecord(record string, events []Event) []Event {
	record = strings.Trim(record, "\n")
	if !strings.HasPrefix(record, dataPrefix) {
		return events
	}
	data := strings.TrimRight(record[len(dataPrefix):], " \t\n")

	if data == doneSentinel {
		d.finished = true
		return d.emit(events, Complete())
	}

	var p payload
	if err := json.Unmarshal([]byte(data), &p); err != nil {
		log.Debug().Err(err).Str("data", truncate(data, 120)).Msg("skipping malformed stream record")
		return events
	}

	switch {
	case p.Content != nil:
		if *p.Content == "" {
			return events
		}
		return d.emit(events, Content(*p.Content))
	case p.Delta != nil && p.Delta.Content != nil:
		if *p.Delta.Content == "" {
			return events
		}
		return d.emit(events, Content(*p.Delta.Content))
	case p.Error != nil:
		d.finished = true
		return d.emit(events, Error(*p.Error))
	}

	log.Debug().Str("data", truncate(data, 120)).Msg("skipping unrecognized stream record")
	return events
}

func (d *Decoder) emit(events []Event, ev Event) []Event {
	d.index++
	ev.Index = d.index
	return append(events, ev)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
