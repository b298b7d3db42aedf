package netconf

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func TestTransport_EOMRoundTrip(t *testing.T) {
	var wire bytes.Buffer
	w := newTransport(nil, &wire)
	if err := w.WriteMessage([]byte("<hello/>")); err != nil {
		t.Fatal(err)
	}
	if got := wire.String(); got != "<hello/>]]>]]>" {
		t.Fatalf("wire = %q", got)
	}

	r := newTransport(strings.NewReader(wire.String()+"<second/>]]>]]>"), nil)
	for _, want := range []string{"<hello/>", "<second/>"} {
		msg, err := r.ReadMessage()
		if err != nil {
			t.Fatalf("ReadMessage: %v", err)
		}
		if string(msg) != want {
			t.Errorf("msg = %q, want %q", msg, want)
		}
	}
}

func TestTransport_ChunkedWrite(t *testing.T) {
	var wire bytes.Buffer
	w := newTransport(nil, &wire)
	w.framing = FramingChunked
	if err := w.WriteMessage([]byte("<rpc/>")); err != nil {
		t.Fatal(err)
	}
	if got := wire.String(); got != "\n#6\n<rpc/>\n##\n" {
		t.Errorf("wire = %q", got)
	}
}

func TestTransport_ChunkedReadMultipleChunks(t *testing.T) {
	wire := "\n#4\n<rpc\n#18\n-reply><ok/></rpc-\n#6\nreply>\n##\n"
	r := newTransport(strings.NewReader(wire), nil)
	r.framing = FramingChunked

	msg, err := r.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	if string(msg) != "<rpc-reply><ok/></rpc-reply>" {
		t.Errorf("msg = %q", msg)
	}
}

func TestTransport_ChunkedReadErrors(t *testing.T) {
	tests := []struct {
		name string
		wire string
	}{
		{"missing hash", "\n4\nabcd\n##\n"},
		{"zero size", "\n#0\n\n##\n"},
		{"non-digit size", "\n#4a\nabcd\n##\n"},
		{"oversized", "\n#99999999999\nx\n##\n"},
		{"short chunk", "\n#10\nabc"},
		{"truncated end", "\n#3\nabc\n#"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newTransport(strings.NewReader(tt.wire), nil)
			r.framing = FramingChunked
			_, err := r.ReadMessage()
			if !errors.Is(err, ErrProtocol) {
				t.Errorf("err = %v, want ErrProtocol", err)
			}
		})
	}
}

func TestTransport_EOMTruncated(t *testing.T) {
	r := newTransport(strings.NewReader("<hello/>]]>"), nil)
	if _, err := r.ReadMessage(); !errors.Is(err, ErrProtocol) {
		t.Errorf("err = %v, want ErrProtocol", err)
	}
}

func TestFraming_String(t *testing.T) {
	if FramingEOM.String() != "eom" || FramingChunked.String() != "chunked" {
		t.Errorf("got %q/%q", FramingEOM, FramingChunked)
	}
}
