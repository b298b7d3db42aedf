// Package testutil provides test helpers: an in-process NETCONF server for
// unit tests and Redis helpers for integration tests.
package testutil

import (
	"bufio"
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/xml"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"testing"

	"golang.org/x/crypto/ssh"
)

const (
	netconfBase   = "urn:ietf:params:xml:ns:netconf:base:1.0"
	netconfCap10  = "urn:ietf:params:netconf:base:1.0"
	netconfCap11  = "urn:ietf:params:netconf:base:1.1"
	netconfCapXP  = "urn:ietf:params:netconf:capability:xpath:1.0"
	eomMarker     = "]]>]]>"
	TestUser      = "admin"
	TestPassword  = "admin123"
	closeSessOper = "close-session"
)

// RPC is one request received by a NetconfServer.
type RPC struct {
	MessageID string
	// Operation is the local name of the first element inside <rpc>.
	Operation string
	// Body is the raw inner XML of the <rpc> element.
	Body string
}

// NetconfServerConfig shapes the behaviour of a test NETCONF server.
type NetconfServerConfig struct {
	// Capabilities announced in the server <hello>. Defaults to base:1.0,
	// base:1.1 and :xpath.
	Capabilities []string

	// Handler returns the inner XML of the <rpc-reply>. Defaults to "<ok/>"
	// for everything except <get>, which returns an empty <data/>.
	Handler func(rpc RPC) string

	// Stall accepts SSH sessions but never sends a <hello>.
	Stall bool
}

// NetconfServer is an in-process NETCONF over SSH server on 127.0.0.1.
type NetconfServer struct {
	Host string
	Port int

	cfg      NetconfServerConfig
	listener net.Listener
	sshCfg   *ssh.ServerConfig

	mu       sync.Mutex
	rpcs     []RPC
	sessions int
	conns    []net.Conn

	wg sync.WaitGroup
}

// StartNetconfServer starts a server that accepts TestUser/TestPassword and
// stops it when the test ends.
func StartNetconfServer(t *testing.T, cfg NetconfServerConfig) *NetconfServer {
	t.Helper()

	if len(cfg.Capabilities) == 0 {
		cfg.Capabilities = []string{netconfCap10, netconfCap11, netconfCapXP}
	}
	if cfg.Handler == nil {
		cfg.Handler = defaultHandler
	}

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generating host key: %v", err)
	}
	signer, err := ssh.NewSignerFromKey(priv)
	if err != nil {
		t.Fatalf("host key signer: %v", err)
	}

	sshCfg := &ssh.ServerConfig{
		PasswordCallback: func(c ssh.ConnMetadata, pass []byte) (*ssh.Permissions, error) {
			if c.User() == TestUser && string(pass) == TestPassword {
				return nil, nil
			}
			return nil, fmt.Errorf("password rejected for %q", c.User())
		},
	}
	sshCfg.AddHostKey(signer)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	s := &NetconfServer{
		Host:     "127.0.0.1",
		Port:     ln.Addr().(*net.TCPAddr).Port,
		cfg:      cfg,
		listener: ln,
		sshCfg:   sshCfg,
	}

	s.wg.Add(1)
	go s.acceptLoop()
	t.Cleanup(s.Close)
	return s
}

// Close stops the listener and drops every open connection.
func (s *NetconfServer) Close() {
	s.listener.Close()
	s.mu.Lock()
	for _, c := range s.conns {
		c.Close()
	}
	s.mu.Unlock()
	s.wg.Wait()
}

// RPCs returns the requests received so far, in arrival order.
func (s *NetconfServer) RPCs() []RPC {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]RPC(nil), s.rpcs...)
}

// Sessions returns the number of NETCONF subsystems started.
func (s *NetconfServer) Sessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessions
}

func (s *NetconfServer) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}
		s.mu.Lock()
		s.conns = append(s.conns, conn)
		s.mu.Unlock()

		s.wg.Add(1)
		go s.serveConn(conn)
	}
}

func (s *NetconfServer) serveConn(conn net.Conn) {
	defer s.wg.Done()
	defer conn.Close()

	sshConn, chans, reqs, err := ssh.NewServerConn(conn, s.sshCfg)
	if err != nil {
		return
	}
	defer sshConn.Close()
	go ssh.DiscardRequests(reqs)

	for nc := range chans {
		if nc.ChannelType() != "session" {
			nc.Reject(ssh.UnknownChannelType, "session only")
			continue
		}
		ch, chReqs, err := nc.Accept()
		if err != nil {
			return
		}
		s.wg.Add(1)
		go s.serveSession(ch, chReqs)
	}
}

func (s *NetconfServer) serveSession(ch ssh.Channel, reqs <-chan *ssh.Request) {
	defer s.wg.Done()
	defer ch.Close()

	started := false
	for req := range reqs {
		if req.Type == "subsystem" && !started && subsystemName(req.Payload) == "netconf" {
			req.Reply(true, nil)
			started = true
			s.mu.Lock()
			s.sessions++
			s.mu.Unlock()
			go func() {
				s.serveNetconf(ch)
				ch.Close()
			}()
			continue
		}
		req.Reply(false, nil)
	}
}

func subsystemName(payload []byte) string {
	if len(payload) < 4 {
		return ""
	}
	return string(payload[4:])
}

func (s *NetconfServer) serveNetconf(ch ssh.Channel) {
	if s.cfg.Stall {
		io.Copy(io.Discard, ch)
		return
	}

	var hello bytes.Buffer
	fmt.Fprintf(&hello, `<hello xmlns="%s"><capabilities>`, netconfBase)
	for _, c := range s.cfg.Capabilities {
		fmt.Fprintf(&hello, "<capability>%s</capability>", c)
	}
	hello.WriteString("</capabilities><session-id>42</session-id></hello>")
	if _, err := ch.Write(append(hello.Bytes(), eomMarker...)); err != nil {
		return
	}

	r := bufio.NewReader(ch)
	clientHello, err := readEOM(r)
	if err != nil {
		return
	}
	chunked := strings.Contains(clientHello, netconfCap11) && hasCap(s.cfg.Capabilities, netconfCap11)

	for {
		var msg string
		if chunked {
			msg, err = readChunked(r)
		} else {
			msg, err = readEOM(r)
		}
		if err != nil {
			return
		}

		rpc := parseRPC(msg)
		s.mu.Lock()
		s.rpcs = append(s.rpcs, rpc)
		s.mu.Unlock()

		var inner string
		if rpc.Operation == closeSessOper {
			inner = "<ok/>"
		} else {
			inner = s.cfg.Handler(rpc)
		}
		reply := fmt.Sprintf(`<rpc-reply message-id="%s" xmlns="%s">%s</rpc-reply>`, rpc.MessageID, netconfBase, inner)
		if chunked {
			_, err = fmt.Fprintf(ch, "\n#%d\n%s\n##\n", len(reply), reply)
		} else {
			_, err = io.WriteString(ch, reply+eomMarker)
		}
		if err != nil || rpc.Operation == closeSessOper {
			return
		}
	}
}

func defaultHandler(rpc RPC) string {
	if rpc.Operation == "get" {
		return "<data/>"
	}
	return "<ok/>"
}

// RPCError renders an <rpc-error> reply body.
func RPCError(tag, message string) string {
	return fmt.Sprintf("<rpc-error><error-type>application</error-type><error-tag>%s</error-tag>"+
		"<error-severity>error</error-severity><error-message>%s</error-message></rpc-error>", tag, message)
}

func hasCap(caps []string, want string) bool {
	for _, c := range caps {
		if c == want {
			return true
		}
	}
	return false
}

func parseRPC(msg string) RPC {
	var env struct {
		MessageID string `xml:"message-id,attr"`
		Inner     string `xml:",innerxml"`
	}
	xml.Unmarshal([]byte(msg), &env)

	rpc := RPC{MessageID: env.MessageID, Body: env.Inner}
	dec := xml.NewDecoder(strings.NewReader(env.Inner))
	for {
		tok, err := dec.Token()
		if err != nil {
			break
		}
		if se, ok := tok.(xml.StartElement); ok {
			rpc.Operation = se.Name.Local
			break
		}
	}
	return rpc
}

func readEOM(r *bufio.Reader) (string, error) {
	var buf bytes.Buffer
	for {
		b, err := r.ReadByte()
		if err != nil {
			return "", err
		}
		buf.WriteByte(b)
		if bytes.HasSuffix(buf.Bytes(), []byte(eomMarker)) {
			return string(buf.Bytes()[:buf.Len()-len(eomMarker)]), nil
		}
	}
}

func readChunked(r *bufio.Reader) (string, error) {
	var msg bytes.Buffer
	for {
		header, err := r.ReadString('\n')
		if err != nil {
			return "", err
		}
		if header == "\n" {
			continue
		}
		header = strings.TrimSuffix(header, "\n")
		if header == "##" {
			return msg.String(), nil
		}
		size, err := strconv.Atoi(strings.TrimPrefix(header, "#"))
		if err != nil {
			return "", fmt.Errorf("bad chunk header %q", header)
		}
		if _, err := io.CopyN(&msg, r, int64(size)); err != nil {
			return "", err
		}
	}
}
