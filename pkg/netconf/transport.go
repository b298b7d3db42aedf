package netconf

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strconv"
)

// Framing selects how messages are delimited on the SSH channel.
type Framing int

const (
	// FramingEOM is the base:1.0 end-of-message marker framing.
	FramingEOM Framing = iota
	// FramingChunked is the base:1.1 chunked framing (RFC 6242 §4.2).
	FramingChunked
)

func (f Framing) String() string {
	if f == FramingChunked {
		return "chunked"
	}
	return "eom"
}

const (
	endOfMessage = "]]>]]>"
	// RFC 6242 §4.2 caps chunk-size at 4294967295.
	maxChunkSize = 4294967295
)

// transport reads and writes framed NETCONF messages over one channel.
// It is not safe for concurrent use; a Client serialises access.
type transport struct {
	r       *bufio.Reader
	w       io.Writer
	framing Framing
}

func newTransport(r io.Reader, w io.Writer) *transport {
	return &transport{
		r: bufio.NewReaderSize(r, 64*1024),
		w: w,
	}
}

// WriteMessage frames msg with the current framing and writes it.
func (t *transport) WriteMessage(msg []byte) error {
	var buf bytes.Buffer
	switch t.framing {
	case FramingChunked:
		if len(msg) > 0 {
			fmt.Fprintf(&buf, "\n#%d\n", len(msg))
			buf.Write(msg)
		}
		buf.WriteString("\n##\n")
	default:
		buf.Write(msg)
		buf.WriteString(endOfMessage)
	}
	if _, err := t.w.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("%w: write: %v", ErrProtocol, err)
	}
	return nil
}

// ReadMessage reads one complete message. Replies are not size-limited.
func (t *transport) ReadMessage() ([]byte, error) {
	if t.framing == FramingChunked {
		return t.readChunked()
	}
	return t.readEOM()
}

func (t *transport) readEOM() ([]byte, error) {
	var buf bytes.Buffer
	marker := []byte(endOfMessage)
	for {
		b, err := t.r.ReadByte()
		if err != nil {
			return nil, fmt.Errorf("%w: read: %v", ErrProtocol, err)
		}
		buf.WriteByte(b)
		if b == '>' && bytes.HasSuffix(buf.Bytes(), marker) {
			return buf.Bytes()[:buf.Len()-len(marker)], nil
		}
	}
}

func (t *transport) readChunked() ([]byte, error) {
	var msg bytes.Buffer
	for {
		if err := t.expect('\n', '#'); err != nil {
			return nil, err
		}
		next, err := t.r.ReadByte()
		if err != nil {
			return nil, fmt.Errorf("%w: read chunk header: %v", ErrProtocol, err)
		}
		if next == '#' {
			if err := t.expect('\n'); err != nil {
				return nil, err
			}
			return msg.Bytes(), nil
		}
		if next < '1' || next > '9' {
			return nil, fmt.Errorf("%w: invalid chunk size start %q", ErrProtocol, next)
		}

		digits := []byte{next}
		for {
			c, err := t.r.ReadByte()
			if err != nil {
				return nil, fmt.Errorf("%w: read chunk size: %v", ErrProtocol, err)
			}
			if c == '\n' {
				break
			}
			if c < '0' || c > '9' || len(digits) >= 10 {
				return nil, fmt.Errorf("%w: invalid chunk size %q", ErrProtocol, string(append(digits, c)))
			}
			digits = append(digits, c)
		}
		size, err := strconv.ParseUint(string(digits), 10, 64)
		if err != nil || size > maxChunkSize {
			return nil, fmt.Errorf("%w: invalid chunk size %q", ErrProtocol, string(digits))
		}
		if _, err := io.CopyN(&msg, t.r, int64(size)); err != nil {
			return nil, fmt.Errorf("%w: short chunk: %v", ErrProtocol, err)
		}
	}
}

func (t *transport) expect(want ...byte) error {
	for _, w := range want {
		b, err := t.r.ReadByte()
		if err != nil {
			return fmt.Errorf("%w: read: %v", ErrProtocol, err)
		}
		if b != w {
			return fmt.Errorf("%w: framing: got %q, want %q", ErrProtocol, b, w)
		}
	}
	return nil
}
