package output

import (
	"bytes"
	"encoding/xml"
	"errors"
	"io"
)

// Indent re-serialises an XML document with two-space indentation. Namespace
// prefixes and declarations are kept exactly as written, whitespace-only text
// between elements is dropped, and the XML declaration is omitted.
func Indent(doc []byte) ([]byte, error) {
	dec := xml.NewDecoder(bytes.NewReader(doc))
	dec.Strict = true

	var buf bytes.Buffer
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")

	depth := 0
	for {
		tok, err := dec.RawToken()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}

		switch t := tok.(type) {
		case xml.StartElement:
			depth++
			t.Name = flatten(t.Name)
			for i := range t.Attr {
				t.Attr[i].Name = flatten(t.Attr[i].Name)
			}
			tok = t
		case xml.EndElement:
			depth--
			t.Name = flatten(t.Name)
			tok = t
		case xml.CharData:
			if len(bytes.TrimSpace(t)) == 0 {
				continue
			}
		case xml.ProcInst:
			if t.Target == "xml" {
				continue
			}
		}
		if err := enc.EncodeToken(tok); err != nil {
			return nil, err
		}
	}
	if depth != 0 {
		return nil, errors.New("unexpected end of document")
	}
	if err := enc.Flush(); err != nil {
		return nil, err
	}
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}

// flatten folds a raw prefix into the local name so the encoder writes it
// back verbatim instead of inventing its own namespace declarations.
func flatten(n xml.Name) xml.Name {
	if n.Space == "" {
		return n
	}
	return xml.Name{Local: n.Space + ":" + n.Local}
}
