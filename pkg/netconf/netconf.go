// Package netconf implements a minimal NETCONF client over SSH (RFC 6241,
// RFC 6242): session establishment with capability exchange, <get> with
// subtree or XPath filters, <edit-config>, and <close-session>.
package netconf

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// XML namespace and capability URNs.
const (
	BaseNamespace = "urn:ietf:params:xml:ns:netconf:base:1.0"
	CapBase10     = "urn:ietf:params:netconf:base:1.0"
	CapBase11     = "urn:ietf:params:netconf:base:1.1"
	CapXPath      = "urn:ietf:params:netconf:capability:xpath:1.0"
)

// DefaultPort is the IANA-assigned NETCONF over SSH port.
const DefaultPort = 830

// DefaultTimeout bounds session establishment when Config.Timeout is unset.
const DefaultTimeout = 30 * time.Second

// Sentinel errors. Callers classify failures with errors.Is.
var (
	ErrDial     = errors.New("netconf: connect failed")
	ErrAuth     = errors.New("netconf: authentication failed")
	ErrProtocol = errors.New("netconf: protocol error")
	ErrRPC      = errors.New("netconf: rpc rejected")
	ErrClosed   = errors.New("netconf: session closed")
)

// Credentials authenticate the SSH transport.
type Credentials struct {
	Username string
	Password string
}

// Config holds everything needed to open a session to any device.
type Config struct {
	Credentials

	// Port defaults to DefaultPort.
	Port int

	// Timeout bounds TCP connect, SSH handshake and <hello> exchange.
	Timeout time.Duration

	// KnownHostsFile enables host key verification. Empty disables it.
	KnownHostsFile string
}

func (c Config) port() int {
	if c.Port == 0 {
		return DefaultPort
	}
	return c.Port
}

func (c Config) timeout() time.Duration {
	if c.Timeout <= 0 {
		return DefaultTimeout
	}
	return c.Timeout
}

// FilterType is the type attribute of a <filter> element.
type FilterType string

const (
	FilterSubtree FilterType = "subtree"
	FilterXPath   FilterType = "xpath"
)

// Filter selects the portion of the datastore returned by <get>.
type Filter struct {
	Type FilterType
	// Body is the subtree XML for FilterSubtree or the expression for FilterXPath.
	Body string
}

// Datastore names accepted as <edit-config> targets.
const (
	DatastoreRunning   = "running"
	DatastoreCandidate = "candidate"
	DatastoreStartup   = "startup"
)

// RPCError is one <rpc-error> element from a reply.
type RPCError struct {
	Type     string `xml:"error-type"`
	Tag      string `xml:"error-tag"`
	Severity string `xml:"error-severity"`
	Path     string `xml:"error-path"`
	Message  string `xml:"error-message"`
}

func (e *RPCError) Error() string {
	var b strings.Builder
	b.WriteString("rpc-error")
	if e.Tag != "" {
		fmt.Fprintf(&b, " %s", e.Tag)
	}
	if e.Type != "" {
		fmt.Fprintf(&b, " (%s)", e.Type)
	}
	if msg := strings.TrimSpace(e.Message); msg != "" {
		fmt.Fprintf(&b, ": %s", msg)
	}
	return b.String()
}

func (e *RPCError) Unwrap() error {
	return ErrRPC
}

// RPCErrors is returned when a reply carries more than one error-severity
// <rpc-error>.
type RPCErrors []*RPCError

func (e RPCErrors) Error() string {
	msgs := make([]string, len(e))
	for i, re := range e {
		msgs[i] = re.Error()
	}
	return strings.Join(msgs, "; ")
}

func (e RPCErrors) Unwrap() error {
	return ErrRPC
}
