package bulk

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/newtron-network/ncbulk/pkg/netconf"
)

// behavior scripts how the fake gateway treats one device.
type behavior struct {
	openErr  error
	opErr    error
	delay    time.Duration
	block    bool // ignore ctx and never return
	panicMsg string
	payload  string
}

type fakeGateway struct {
	behaviors map[string]behavior

	mu       sync.Mutex
	opened   int
	closed   int
	inFlight int
	peak     int
	order    []string
}

func newFakeGateway(b map[string]behavior) *fakeGateway {
	if b == nil {
		b = map[string]behavior{}
	}
	return &fakeGateway{behaviors: b}
}

func (g *fakeGateway) Open(ctx context.Context, device string) (Session, error) {
	b := g.behaviors[device]
	if b.openErr != nil {
		return nil, b.openErr
	}
	g.mu.Lock()
	g.opened++
	g.inFlight++
	if g.inFlight > g.peak {
		g.peak = g.inFlight
	}
	g.mu.Unlock()
	return &fakeSession{g: g, device: device, b: b}, nil
}

func (g *fakeGateway) stats() (opened, closed, peak int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.opened, g.closed, g.peak
}

func (g *fakeGateway) completionOrder() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.order...)
}

type fakeSession struct {
	g      *fakeGateway
	device string
	b      behavior
	once   sync.Once
}

func (s *fakeSession) run(ctx context.Context) error {
	if s.b.block {
		select {}
	}
	if s.b.delay > 0 {
		select {
		case <-time.After(s.b.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if s.b.panicMsg != "" {
		panic(s.b.panicMsg)
	}
	s.g.mu.Lock()
	s.g.order = append(s.g.order, s.device)
	s.g.mu.Unlock()
	return s.b.opErr
}

func (s *fakeSession) Get(ctx context.Context, f netconf.Filter) ([]byte, error) {
	if err := s.run(ctx); err != nil {
		return nil, err
	}
	payload := s.b.payload
	if payload == "" {
		payload = fmt.Sprintf("<data><hostname>%s</hostname></data>", s.device)
	}
	return []byte(payload), nil
}

func (s *fakeSession) EditConfig(ctx context.Context, target string, config []byte) error {
	return s.run(ctx)
}

func (s *fakeSession) Close() error {
	s.once.Do(func() {
		s.g.mu.Lock()
		s.g.closed++
		s.g.inFlight--
		s.g.mu.Unlock()
	})
	return nil
}

// memSink records read results per device.
type memSink struct {
	mu   sync.Mutex
	docs map[string]string
	err  error
}

func (s *memSink) WriteDevice(device string, doc []byte) error {
	if s.err != nil {
		return s.err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.docs == nil {
		s.docs = map[string]string{}
	}
	s.docs[device] = string(doc)
	return nil
}
