// ABOUTME: Minimal Server-Sent Events reader for the Windlass backend event feed.
// ABOUTME: Frames events from an io.Reader, tolerating CR, LF, and CRLF line endings.
package stream

import (
	"bufio"
	"io"
	"strings"
)

// Frame is one SSE message as framed on the wire: an optional event name and
// the joined data lines. The backend feed puts its JSON payload in Data.
type Frame struct {
	Event string // from "event:" lines; empty means the default "message"
	Data  string // "data:" lines joined with newlines
	ID    string // from "id:" lines, when the backend sets one
}

// Reader frames SSE messages from a byte stream. It is not safe for
// concurrent use; the feed client owns one Reader per connection.
type Reader struct {
	br *bufio.Reader

	event string
	data  []string
	id    string
}

// NewReader wraps r in an SSE frame reader.
func NewReader(r io.Reader) *Reader {
	return &Reader{br: bufio.NewReaderSize(r, 4096)}
}

// Next returns the next frame, or io.EOF when the stream ends. A frame is
// dispatched on a blank line; a trailing unterminated frame at EOF is still
// delivered.
func (r *Reader) Next() (Frame, error) {
	for {
		line, err := r.readLine()
		if err != nil {
			if err == io.EOF && len(r.data) > 0 {
				f := r.take()
				return f, nil
			}
			return Frame{}, err
		}

		if line == "" {
			if len(r.data) == 0 {
				// Consecutive blank lines produce no frame.
				continue
			}
			return r.take(), nil
		}

		if strings.HasPrefix(line, ":") {
			// Comment line; servers use these as keepalives.
			continue
		}

		field, value := splitField(line)
		switch field {
		case "event":
			r.event = value
		case "data":
			r.data = append(r.data, value)
		case "id":
			r.id = value
		}
		// retry and unknown fields are ignored; reconnect pacing is the
		// client's concern, not the reader's.
	}
}

// take builds the accumulated frame and resets state for the next one.
func (r *Reader) take() Frame {
	f := Frame{
		Event: r.event,
		Data:  strings.Join(r.data, "\n"),
		ID:    r.id,
	}
	r.event = ""
	r.data = nil
	r.id = ""
	return f
}

// splitField splits "field: value" per the SSE spec: everything before the
// first colon is the field, a single leading space in the value is stripped.
func splitField(line string) (field, value string) {
	i := strings.IndexByte(line, ':')
	if i == -1 {
		return line, ""
	}
	field, value = line[:i], line[i+1:]
	if len(value) > 0 && value[0] == ' ' {
		value = value[1:]
	}
	return field, value
}

// readLine reads one line, treating CR, LF, and CRLF all as terminators.
// bufio.Scanner only understands LF and CRLF, so this is done by hand.
func (r *Reader) readLine() (string, error) {
	var b strings.Builder
	for {
		c, err := r.br.ReadByte()
		if err != nil {
			if err == io.EOF && b.Len() > 0 {
				return b.String(), nil
			}
			return "", err
		}
		switch c {
		case '\n':
			return b.String(), nil
		case '\r':
			next, err := r.br.ReadByte()
			if err == nil && next != '\n' {
				_ = r.br.UnreadByte()
			}
			return b.String(), nil
		default:
			b.WriteByte(c)
		}
	}
}
