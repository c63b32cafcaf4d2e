// internal/framing/framer.go
package framing

import (
	"bytes"
)

const (
	lineFeed       = '\n'
	carriageReturn = '\r'
)

// ByteFramer reassembles LF terminated lines from arbitrary byte chunks.
// It is not safe for concurrent use; each session owns one.
type ByteFramer struct {
	buf          []byte
	decoder      *Decoder
	maxLineBytes int
}

// NewByteFramer creates a framer. maxLineBytes > 0 caps the unterminated tail:
// once it reaches the cap it is emitted as a line of its own.
func NewByteFramer(decoder *Decoder, maxLineBytes int) *ByteFramer {
	if maxLineBytes < 0 {
		maxLineBytes = 0
	}
	return &ByteFramer{
		decoder:      decoder,
		maxLineBytes: maxLineBytes,
	}
}

// Feed consumes a chunk and returns the completed, non-empty lines
func (f *ByteFramer) Feed(chunk []byte) []string {
	var lines []string

	for len(chunk) > 0 {
		i := bytes.IndexByte(chunk, lineFeed)
		if i < 0 {
			lines = f.accumulate(chunk, lines)
			break
		}
		lines = f.accumulate(chunk[:i], lines)
		lines = f.complete(lines)
		chunk = chunk[i+1:]
	}

	return lines
}

// accumulate appends b to the tail, emitting capped lines as they fill up
func (f *ByteFramer) accumulate(b []byte, lines []string) []string {
	for len(b) > 0 {
		if f.maxLineBytes == 0 {
			f.buf = append(f.buf, b...)
			return lines
		}
		room := f.maxLineBytes - len(f.buf)
		if len(b) < room {
			f.buf = append(f.buf, b...)
			return lines
		}
		f.buf = append(f.buf, b[:room]...)
		b = b[room:]
		lines = f.complete(lines)
	}
	return lines
}

// complete turns the tail into a line and resets it
func (f *ByteFramer) complete(lines []string) []string {
	line := f.buf
	if n := len(line); n > 0 && line[n-1] == carriageReturn {
		line = line[:n-1]
	}
	if len(line) > 0 {
		if text := f.decoder.Render(line); text != "" {
			lines = append(lines, text)
		}
	}
	f.buf = f.buf[:0]
	return lines
}

// Pending returns a copy of the unterminated tail
func (f *ByteFramer) Pending() []byte {
	return append([]byte(nil), f.buf...)
}

// Reset drops the unterminated tail
func (f *ByteFramer) Reset() {
	f.buf = nil
}
