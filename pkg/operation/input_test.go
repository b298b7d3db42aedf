package operation

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/newtron-network/ncbulk/pkg/util"
)

func TestParseDevices(t *testing.T) {
	in := "b.example\n\n  a.example  \n# spare\n\t\nb.example\r\n"
	got, err := ParseDevices(strings.NewReader(in))
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"b.example", "a.example", "b.example"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ParseDevices = %v, want %v", got, want)
	}
}

func TestParseDevices_Invalid(t *testing.T) {
	tests := []struct {
		name string
		in   string
	}{
		{"empty", ""},
		{"only comments", "# nothing\n\n"},
		{"embedded whitespace", "a.example\nb example\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseDevices(strings.NewReader(tt.in))
			if !errors.Is(err, util.ErrValidationFailed) {
				t.Errorf("err = %v, want validation error", err)
			}
		})
	}
}

func TestLoadDevices(t *testing.T) {
	dir := t.TempDir()

	txt := filepath.Join(dir, "devices.txt")
	os.WriteFile(txt, []byte("r2\nr1\n"), 0644)
	got, err := LoadDevices(txt)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(got, []string{"r2", "r1"}) {
		t.Errorf("text list = %v", got)
	}

	yml := filepath.Join(dir, "inventory.yaml")
	os.WriteFile(yml, []byte("devices:\n  - leaf1.example\n  - ' spine1.example '\n"), 0644)
	got, err = LoadDevices(yml)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(got, []string{"leaf1.example", "spine1.example"}) {
		t.Errorf("inventory = %v", got)
	}

	bad := filepath.Join(dir, "bad.yml")
	os.WriteFile(bad, []byte("devices: {oops"), 0644)
	if _, err := LoadDevices(bad); !errors.Is(err, util.ErrValidationFailed) {
		t.Errorf("bad inventory: err = %v, want validation error", err)
	}

	if _, err := LoadDevices(filepath.Join(dir, "missing.txt")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestLoadSubtreeFilter(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bulk_filter.xml")
	os.WriteFile(path, []byte(`<?xml version="1.0" encoding="UTF-8"?>
<filter>
  <native xmlns="http://cisco.com/ns/yang/Cisco-IOS-XE-native"><hostname/></native>
</filter>
`), 0644)

	got, err := LoadSubtreeFilter(path)
	if err != nil {
		t.Fatal(err)
	}
	want := `<native xmlns="http://cisco.com/ns/yang/Cisco-IOS-XE-native"><hostname/></native>`
	if got != want {
		t.Errorf("got  %s\nwant %s", got, want)
	}
}

func TestLoadConfigDocument(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bulk_config.xml")
	os.WriteFile(path, []byte(`<config><system xmlns="urn:example:sys"/></config>`), 0644)

	got, err := LoadConfigDocument(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(got), `<config xmlns="urn:ietf:params:xml:ns:netconf:base:1.0">`) {
		t.Errorf("payload = %s", got)
	}
}

func TestNormalizeSubtree_KeepsNamespaces(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			"prefixed",
			`<filter xmlns:if="urn:ietf:params:xml:ns:yang:ietf-interfaces"><if:interfaces/></filter>`,
			`<if:interfaces xmlns:if="urn:ietf:params:xml:ns:yang:ietf-interfaces"/>`,
		},
		{
			"default namespace",
			`<filter xmlns="urn:example:sys"><system/></filter>`,
			`<system xmlns="urn:example:sys"/>`,
		},
		{
			"base namespace wrapper",
			`<filter xmlns="urn:ietf:params:xml:ns:netconf:base:1.0" type="subtree"><top xmlns="urn:x"/></filter>`,
			`<top xmlns="urn:x"/>`,
		},
		{
			"child redeclares",
			`<filter xmlns="urn:a"><x><leaf/></x><y xmlns="urn:b"/></filter>`,
			`<x xmlns="urn:a"><leaf/></x><y xmlns="urn:b"/>`,
		},
		{
			"not wrapped",
			`<system xmlns="urn:x"/>`,
			`<system xmlns="urn:x"/>`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizeSubtree([]byte(tt.in))
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Errorf("got  %s\nwant %s", got, tt.want)
			}
		})
	}
}
