package operation

import (
	"bufio"
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/newtron-network/ncbulk/pkg/netconf"
	"github.com/newtron-network/ncbulk/pkg/util"
)

// Inventory is the YAML form of a device list.
type Inventory struct {
	Devices []string `yaml:"devices"`
}

// ParseDevices reads one device identifier per line. Surrounding whitespace
// is trimmed; blank lines and lines starting with '#' are skipped.
// Duplicates are kept: each one is its own task.
func ParseDevices(r io.Reader) ([]string, error) {
	var (
		devices []string
		vb      util.ValidationBuilder
		lineNum int
	)
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if strings.ContainsAny(line, " \t") {
			vb.AddErrorf("line %d: device %q contains whitespace", lineNum, line)
			continue
		}
		devices = append(devices, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading device list: %w", err)
	}
	if err := vb.Build(); err != nil {
		return nil, err
	}
	if len(devices) == 0 {
		return nil, util.NewValidationError("device list is empty")
	}
	return devices, nil
}

// LoadDevices reads a device list file. Files ending in .yaml or .yml are
// parsed as an Inventory; anything else as one device per line.
func LoadDevices(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading device list: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		var inv Inventory
		if err := yaml.Unmarshal(data, &inv); err != nil {
			return nil, util.NewValidationError(fmt.Sprintf("parsing inventory %s: %v", path, err))
		}
		var b strings.Builder
		for _, d := range inv.Devices {
			b.WriteString(d)
			b.WriteByte('\n')
		}
		return ParseDevices(strings.NewReader(b.String()))
	default:
		return ParseDevices(bytes.NewReader(data))
	}
}

// LoadSubtreeFilter reads a subtree filter file. A file whose single root is
// a <filter> element contributes that element's content.
func LoadSubtreeFilter(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("reading filter: %w", err)
	}
	return NormalizeSubtree(data)
}

// NormalizeSubtree strips any XML declaration and unwraps a <filter> root.
// Namespace declarations on the unwrapped root are copied onto each of its
// top-level children, so the filter selects the same names.
func NormalizeSubtree(data []byte) (string, error) {
	body := bytes.TrimSpace(stripXMLDecl(data))
	if err := checkWellFormed(body, true); err != nil {
		return "", util.NewValidationError(fmt.Sprintf("subtree filter: %v", err))
	}

	dec := xml.NewDecoder(bytes.NewReader(body))
	var (
		depth, roots int
		root         xml.StartElement
		openEnd      int64
		closeStart   int64
		children     []nsInsert
	)
	for {
		off := dec.InputOffset()
		tok, err := dec.Token()
		if err != nil {
			break
		}
		switch t := tok.(type) {
		case xml.StartElement:
			depth++
			if depth == 1 {
				roots++
				root = t.Copy()
				openEnd = dec.InputOffset()
			} else if depth == 2 {
				children = append(children, nsInsert{offset: off, attrs: t.Copy().Attr})
			}
		case xml.EndElement:
			if depth == 1 {
				closeStart = off
			}
			depth--
		}
	}
	if roots != 1 || root.Name.Local != "filter" {
		return string(body), nil
	}
	if closeStart <= openEnd {
		return "", nil
	}

	var tags []int64
	decls := make(map[int64]string, len(children))
	for _, c := range children {
		if d := inheritedDecls(root.Attr, c.attrs); d != "" {
			tags = append(tags, c.offset)
			decls[c.offset] = d
		}
	}
	inner := injectAttrs(body, openEnd, closeStart, tags, func(off int64) string { return decls[off] })
	return string(bytes.TrimSpace(inner)), nil
}

type nsInsert struct {
	offset int64
	attrs  []xml.Attr
}

// inheritedDecls renders the namespace declarations of parent that child
// does not redeclare. A default namespace equal to the NETCONF base is
// dropped since the enclosing <rpc> already supplies it.
func inheritedDecls(parent, child []xml.Attr) string {
	declared := make(map[string]bool)
	for _, a := range child {
		switch {
		case a.Name.Space == "xmlns":
			declared["xmlns:"+a.Name.Local] = true
		case a.Name.Space == "" && a.Name.Local == "xmlns":
			declared["xmlns"] = true
		}
	}

	var b strings.Builder
	for _, a := range parent {
		switch {
		case a.Name.Space == "xmlns":
			if !declared["xmlns:"+a.Name.Local] {
				fmt.Fprintf(&b, ` xmlns:%s="%s"`, a.Name.Local, escapeAttr(a.Value))
			}
		case a.Name.Space == "" && a.Name.Local == "xmlns":
			if !declared["xmlns"] && a.Value != netconf.BaseNamespace {
				fmt.Fprintf(&b, ` xmlns="%s"`, escapeAttr(a.Value))
			}
		}
	}
	return b.String()
}

// LoadConfigDocument reads a configuration document and normalises it.
func LoadConfigDocument(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return NormalizeConfig(data)
}

func stripXMLDecl(data []byte) []byte {
	trimmed := bytes.TrimLeft(data, " \t\r\n\ufeff")
	if !bytes.HasPrefix(trimmed, []byte("<?xml")) {
		return data
	}
	end := bytes.Index(trimmed, []byte("?>"))
	if end < 0 {
		return data
	}
	return trimmed[end+2:]
}
