// Package operation defines the operation shared by every device of a batch
// and the parsing of batch inputs: device lists, filters and configuration
// documents. All validation happens here, once, before any device is
// contacted.
package operation

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/newtron-network/ncbulk/pkg/netconf"
	"github.com/newtron-network/ncbulk/pkg/util"
)

// Kind discriminates the Descriptor union.
type Kind string

const (
	KindRead  Kind = "read"
	KindApply Kind = "apply"
)

// FilterMode is how a read selects data.
type FilterMode string

const (
	FilterSubtree FilterMode = "subtree"
	FilterXPath   FilterMode = "xpath"
)

// ReadOp is a filtered <get>.
type ReadOp struct {
	Mode FilterMode `json:"mode"`
	Body string     `json:"body"`
}

// ApplyOp is an <edit-config> of Payload into Target.
type ApplyOp struct {
	Target string `json:"target"`
	// Payload is a <config> element in the NETCONF base namespace.
	Payload []byte `json:"-"`
}

type applyOpJSON struct {
	Target  string `json:"target"`
	Payload string `json:"payload"`
}

// MarshalJSON renders the payload as XML text rather than base64. HTML
// escaping is left to the caller's encoder.
func (a ApplyOp) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(applyOpJSON{Target: a.Target, Payload: string(a.Payload)}); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// UnmarshalJSON is the inverse of MarshalJSON.
func (a *ApplyOp) UnmarshalJSON(data []byte) error {
	var v applyOpJSON
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	a.Target = v.Target
	a.Payload = []byte(v.Payload)
	return nil
}

// Descriptor is the one operation of a batch. It is built once, before
// dispatch, and never modified afterwards; tasks only read it.
type Descriptor struct {
	Kind  Kind     `json:"kind"`
	Read  *ReadOp  `json:"read,omitempty"`
	Apply *ApplyOp `json:"apply,omitempty"`
}

// NewRead builds a validated read descriptor. A subtree body is normalised
// with NormalizeSubtree.
func NewRead(mode FilterMode, body string) (*Descriptor, error) {
	body = strings.TrimSpace(body)
	if mode == FilterSubtree && body != "" {
		var err error
		if body, err = NormalizeSubtree([]byte(body)); err != nil {
			return nil, err
		}
	}
	d := &Descriptor{
		Kind: KindRead,
		Read: &ReadOp{Mode: mode, Body: body},
	}
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return d, nil
}

// NewApply normalises doc into a <config> element and builds a validated
// apply descriptor targeting the running datastore.
func NewApply(doc []byte) (*Descriptor, error) {
	payload, err := NormalizeConfig(doc)
	if err != nil {
		return nil, err
	}
	d := &Descriptor{
		Kind:  KindApply,
		Apply: &ApplyOp{Target: netconf.DatastoreRunning, Payload: payload},
	}
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return d, nil
}

// Validate checks that exactly one arm of the union is populated and well formed.
func (d *Descriptor) Validate() error {
	if d == nil {
		return util.NewValidationError("operation is nil")
	}

	var vb util.ValidationBuilder
	switch d.Kind {
	case KindRead:
		vb.Add(d.Read != nil, "read operation has no filter")
		vb.Add(d.Apply == nil, "read operation must not carry a config payload")
		if d.Read != nil {
			switch d.Read.Mode {
			case FilterSubtree:
				if d.Read.Body != "" {
					if err := checkWellFormed([]byte(d.Read.Body), true); err != nil {
						vb.AddErrorf("subtree filter: %v", err)
					}
				}
			case FilterXPath:
				vb.Add(d.Read.Body != "", "xpath filter expression is empty")
			default:
				vb.AddErrorf("unknown filter mode %q (valid: subtree, xpath)", d.Read.Mode)
			}
		}
	case KindApply:
		vb.Add(d.Apply != nil, "apply operation has no config payload")
		vb.Add(d.Read == nil, "apply operation must not carry a filter")
		if d.Apply != nil {
			vb.Add(len(d.Apply.Payload) > 0, "config payload is empty")
			switch d.Apply.Target {
			case netconf.DatastoreRunning, netconf.DatastoreCandidate, netconf.DatastoreStartup:
			default:
				vb.AddErrorf("unknown target datastore %q", d.Apply.Target)
			}
		}
	default:
		vb.AddErrorf("unknown operation kind %q", d.Kind)
	}
	return vb.Build()
}

// Filter converts a read descriptor into the gateway's filter type.
func (r *ReadOp) Filter() netconf.Filter {
	if r.Mode == FilterXPath {
		return netconf.Filter{Type: netconf.FilterXPath, Body: r.Body}
	}
	return netconf.Filter{Type: netconf.FilterSubtree, Body: r.Body}
}

func (d *Descriptor) String() string {
	if d == nil {
		return "no operation"
	}
	switch d.Kind {
	case KindRead:
		return fmt.Sprintf("read (%s filter)", d.Read.Mode)
	case KindApply:
		return fmt.Sprintf("apply (edit-config %s)", d.Apply.Target)
	default:
		return string(d.Kind)
	}
}
