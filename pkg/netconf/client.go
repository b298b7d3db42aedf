package netconf

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// closeTimeout bounds the best-effort <close-session> exchange.
const closeTimeout = 2 * time.Second

// Client is one NETCONF session to one device. RPCs are serialised; a Client
// is owned by a single caller and is not meant to be shared.
type Client struct {
	addr      string
	sshClient *ssh.Client
	session   *ssh.Session
	t         *transport

	sessionID    string
	capabilities []string

	mu        sync.Mutex
	msgID     uint64
	aborted   atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

// Dial connects to host, opens the "netconf" SSH subsystem and exchanges
// <hello> messages. The whole sequence is bounded by cfg.Timeout and ctx.
func Dial(ctx context.Context, host string, cfg Config) (*Client, error) {
	addr := net.JoinHostPort(host, strconv.Itoa(cfg.port()))

	sshCfg, err := cfg.sshConfig()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, cfg.timeout())
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrDial, addr, withContext(ctx, err))
	}

	// Closing the conn unblocks the handshake and hello reads on expiry.
	stop := context.AfterFunc(ctx, func() { conn.Close() })

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, sshCfg)
	if err != nil {
		stop()
		conn.Close()
		if strings.Contains(err.Error(), "unable to authenticate") {
			return nil, fmt.Errorf("%w: %s: %v", ErrAuth, addr, err)
		}
		return nil, fmt.Errorf("%w: %s: ssh handshake: %w", ErrDial, addr, withContext(ctx, err))
	}
	sshClient := ssh.NewClient(sshConn, chans, reqs)

	c, err := startSession(sshClient, addr)
	if err != nil {
		stop()
		sshClient.Close()
		return nil, withContext(ctx, err)
	}

	if !stop() {
		c.abort()
		return nil, fmt.Errorf("%w: %s: %w", ErrDial, addr, ctx.Err())
	}
	return c, nil
}

func startSession(sshClient *ssh.Client, addr string) (*Client, error) {
	session, err := sshClient.NewSession()
	if err != nil {
		return nil, fmt.Errorf("%w: %s: open channel: %v", ErrProtocol, addr, err)
	}
	stdin, err := session.StdinPipe()
	if err != nil {
		session.Close()
		return nil, fmt.Errorf("%w: %s: stdin: %v", ErrProtocol, addr, err)
	}
	stdout, err := session.StdoutPipe()
	if err != nil {
		session.Close()
		return nil, fmt.Errorf("%w: %s: stdout: %v", ErrProtocol, addr, err)
	}
	if err := session.RequestSubsystem("netconf"); err != nil {
		session.Close()
		return nil, fmt.Errorf("%w: %s: netconf subsystem: %v", ErrProtocol, addr, err)
	}

	c := &Client{
		addr:      addr,
		sshClient: sshClient,
		session:   session,
		t:         newTransport(stdout, stdin),
	}
	if err := c.exchangeHello(); err != nil {
		session.Close()
		return nil, fmt.Errorf("%s: %w", addr, err)
	}
	return c, nil
}

func (c *Client) exchangeHello() error {
	if err := c.t.WriteMessage(clientHello()); err != nil {
		return err
	}
	msg, err := c.t.ReadMessage()
	if err != nil {
		return err
	}
	h, err := parseHello(msg)
	if err != nil {
		return err
	}
	c.sessionID = h.SessionID
	c.capabilities = h.Capabilities
	if hasCapability(h.Capabilities, CapBase11) {
		c.t.framing = FramingChunked
	} else if !hasCapability(h.Capabilities, CapBase10) {
		return fmt.Errorf("%w: device supports neither base:1.0 nor base:1.1", ErrProtocol)
	}
	return nil
}

func (cfg Config) sshConfig() (*ssh.ClientConfig, error) {
	hostKey := ssh.InsecureIgnoreHostKey()
	if cfg.KnownHostsFile != "" {
		cb, err := knownhosts.New(cfg.KnownHostsFile)
		if err != nil {
			return nil, fmt.Errorf("netconf: known hosts: %w", err)
		}
		hostKey = cb
	}

	password := cfg.Password
	return &ssh.ClientConfig{
		User: cfg.Username,
		Auth: []ssh.AuthMethod{
			ssh.Password(password),
			// Many network operating systems only offer keyboard-interactive.
			ssh.KeyboardInteractive(func(_, _ string, questions []string, _ []bool) ([]string, error) {
				answers := make([]string, len(questions))
				for i := range answers {
					answers[i] = password
				}
				return answers, nil
			}),
		},
		HostKeyCallback: hostKey,
		Timeout:         cfg.timeout(),
	}, nil
}

// SessionID returns the session-id announced in the device's <hello>.
func (c *Client) SessionID() string {
	return c.sessionID
}

// Capabilities returns the capabilities announced by the device.
func (c *Client) Capabilities() []string {
	return c.capabilities
}

// Framing returns the negotiated message framing.
func (c *Client) Framing() Framing {
	return c.t.framing
}

// Get issues <get> with the given filter and returns the reply's <data>
// element as a standalone document.
func (c *Client) Get(ctx context.Context, f Filter) ([]byte, error) {
	if f.Type == FilterXPath && !hasCapability(c.capabilities, CapXPath) {
		return nil, &RPCError{
			Type:     "protocol",
			Tag:      "operation-not-supported",
			Severity: "error",
			Message:  "device does not advertise the :xpath capability",
		}
	}
	body, err := getBody(f)
	if err != nil {
		return nil, err
	}
	reply, err := c.call(ctx, body)
	if err != nil {
		return nil, err
	}
	if err := reply.err(); err != nil {
		return nil, err
	}
	return reply.dataDocument(), nil
}

// EditConfig loads config, which must be a <config> element, into target.
func (c *Client) EditConfig(ctx context.Context, target string, config []byte) error {
	body, err := editConfigBody(target, config)
	if err != nil {
		return err
	}
	reply, err := c.call(ctx, body)
	if err != nil {
		return err
	}
	return reply.err()
}

// Close ends the session with <close-session> (best effort) and tears down
// the SSH connection. It is idempotent and safe after any failure.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		if !c.aborted.Load() {
			ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
			c.call(ctx, "<close-session/>")
			cancel()
		}
		c.aborted.Store(true)
		c.session.Close()
		if err := c.sshClient.Close(); err != nil && !errors.Is(err, net.ErrClosed) && !errors.Is(err, io.EOF) {
			c.closeErr = err
		}
	})
	return c.closeErr
}

func (c *Client) call(ctx context.Context, body string) (*rpcReply, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.aborted.Load() {
		return nil, ErrClosed
	}
	c.msgID++
	id := c.msgID

	stop := context.AfterFunc(ctx, c.abort)
	defer stop()

	if err := c.t.WriteMessage(rpcMessage(id, body)); err != nil {
		return nil, withContext(ctx, err)
	}
	msg, err := c.t.ReadMessage()
	if err != nil {
		return nil, withContext(ctx, err)
	}
	return parseReply(msg, id)
}

// abort drops the transport without any further exchange.
func (c *Client) abort() {
	c.aborted.Store(true)
	c.sshClient.Close()
}

// withContext attributes err to ctx expiry when the context is done, so that
// callers see context.DeadlineExceeded rather than a closed-connection error.
func withContext(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(err, ctxErr) {
		return fmt.Errorf("%w (%v)", ctxErr, err)
	}
	return err
}
