package operation

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/newtron-network/ncbulk/pkg/netconf"
	"github.com/newtron-network/ncbulk/pkg/util"
)

// NormalizeConfig returns doc as a <config> element in the NETCONF base
// namespace. A document already rooted there is returned unchanged (minus any
// XML declaration); any other root element is renamed to config. Namespace
// declarations on the old root are kept, and a non-base default namespace is
// pushed down onto the root's children so their names do not change.
func NormalizeConfig(doc []byte) ([]byte, error) {
	if len(bytes.TrimSpace(doc)) == 0 {
		return nil, util.NewValidationError("config document is empty")
	}

	dec := xml.NewDecoder(bytes.NewReader(doc))
	var (
		depth       int
		roots       int
		root        xml.StartElement
		rootStart   int64
		rootOpenEnd int64
		rootClose   int64
		childTags   []int64
	)

	for {
		off := dec.InputOffset()
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, util.NewValidationError(fmt.Sprintf("config document is not well-formed XML: %v", err))
		}
		switch t := tok.(type) {
		case xml.StartElement:
			depth++
			if depth == 1 {
				roots++
				root = t.Copy()
				rootStart = off
				rootOpenEnd = dec.InputOffset()
			} else if depth == 2 && !declaresDefaultNS(t.Attr) {
				childTags = append(childTags, off)
			}
		case xml.EndElement:
			if depth == 1 {
				rootClose = off
			}
			depth--
		case xml.CharData:
			if depth == 0 && len(bytes.TrimSpace(t)) > 0 {
				return nil, util.NewValidationError("config document has text outside the root element")
			}
		}
	}
	if roots != 1 {
		return nil, util.NewValidationError(fmt.Sprintf("config document must have exactly one root element, found %d", roots))
	}

	if root.Name.Local == "config" && root.Name.Space == netconf.BaseNamespace {
		return bytes.TrimSpace(doc[rootStart:]), nil
	}

	var inner []byte
	if rootClose > rootOpenEnd {
		inner = doc[rootOpenEnd:rootClose]
	}
	rootNS := defaultNS(root.Attr)
	if rootNS != "" && rootNS != netconf.BaseNamespace && len(childTags) > 0 {
		inner = injectDefaultNS(doc, rootOpenEnd, rootClose, childTags, rootNS)
	}

	var b bytes.Buffer
	fmt.Fprintf(&b, `<config xmlns="%s"`, netconf.BaseNamespace)
	for _, a := range root.Attr {
		if a.Name.Space == "xmlns" {
			fmt.Fprintf(&b, ` xmlns:%s="%s"`, a.Name.Local, escapeAttr(a.Value))
		}
	}
	b.WriteByte('>')
	b.Write(inner)
	b.WriteString("</config>")
	return b.Bytes(), nil
}

// injectDefaultNS copies doc[from:to], adding xmlns="ns" to the start tags
// found at the given offsets.
func injectDefaultNS(doc []byte, from, to int64, tags []int64, ns string) []byte {
	decl := fmt.Sprintf(` xmlns="%s"`, escapeAttr(ns))
	return injectAttrs(doc, from, to, tags, func(int64) string { return decl })
}

// injectAttrs copies doc[from:to], inserting attrs(tag) right after the
// element name of each start tag found at the given offsets.
func injectAttrs(doc []byte, from, to int64, tags []int64, attrs func(tag int64) string) []byte {
	sort.Slice(tags, func(i, j int) bool { return tags[i] < tags[j] })

	var b bytes.Buffer
	pos := from
	for _, tag := range tags {
		nameEnd := tag + 1
		for nameEnd < to && !isTagNameEnd(doc[nameEnd]) {
			nameEnd++
		}
		b.Write(doc[pos:nameEnd])
		b.WriteString(attrs(tag))
		pos = nameEnd
	}
	b.Write(doc[pos:to])
	return b.Bytes()
}

func isTagNameEnd(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '/' || c == '>'
}

func declaresDefaultNS(attrs []xml.Attr) bool {
	for _, a := range attrs {
		if a.Name.Space == "" && a.Name.Local == "xmlns" {
			return true
		}
	}
	return false
}

func defaultNS(attrs []xml.Attr) string {
	for _, a := range attrs {
		if a.Name.Space == "" && a.Name.Local == "xmlns" {
			return a.Value
		}
	}
	return ""
}

func escapeAttr(s string) string {
	var b strings.Builder
	xml.EscapeText(&b, []byte(s))
	return b.String()
}

// checkWellFormed reports whether doc parses as XML. When fragment is true,
// doc may contain several top-level elements (a subtree filter).
func checkWellFormed(doc []byte, fragment bool) error {
	if fragment {
		doc = append(append([]byte("<fragment>"), doc...), "</fragment>"...)
	}
	dec := xml.NewDecoder(bytes.NewReader(doc))
	for {
		_, err := dec.Token()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("not well-formed XML: %v", err)
		}
	}
}
