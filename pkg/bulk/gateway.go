package bulk

import (
	"context"

	"github.com/newtron-network/ncbulk/pkg/netconf"
)

// Gateway opens management sessions to devices.
type Gateway interface {
	Open(ctx context.Context, device string) (Session, error)
}

// Session is one live management session, owned by a single task.
// Close must be safe to call after any failure.
type Session interface {
	Get(ctx context.Context, filter netconf.Filter) ([]byte, error)
	EditConfig(ctx context.Context, target string, config []byte) error
	Close() error
}

// NetconfGateway opens NETCONF over SSH sessions with one shared Config.
type NetconfGateway struct {
	Config netconf.Config
}

// NewNetconfGateway returns a Gateway using the given credentials and settings.
func NewNetconfGateway(cfg netconf.Config) *NetconfGateway {
	return &NetconfGateway{Config: cfg}
}

// Open dials device.
func (g *NetconfGateway) Open(ctx context.Context, device string) (Session, error) {
	c, err := netconf.Dial(ctx, device, g.Config)
	if err != nil {
		return nil, err
	}
	return c, nil
}
