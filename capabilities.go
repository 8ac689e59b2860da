package qga

import (
	"context"
	"sync"

	"github.com/virtkit/qga/protocol"
)

// capabilitySet memoizes which commands the agent advertises. populated
// with a nil set is the degraded state: discovery failed, so every command
// is assumed supported and the agent itself rejects what it cannot do.
type capabilitySet struct {
	mu        sync.Mutex
	populated bool
	names     map[string]struct{}
}

// HasCommand reports whether the guest agent supports cmd, discovering the
// supported command set on first use. The set is cached for the lifetime of
// the client; an agent upgraded in place needs a new client to be seen.
//
// When discovery fails the check degrades to true for every command rather
// than wedging all agent interaction on one failed guest-info.
func (c *Client) HasCommand(ctx context.Context, cmd string) bool {
	c.caps.mu.Lock()
	defer c.caps.mu.Unlock()

	if !c.caps.populated {
		// Concurrent first checks block here and reuse this discovery.
		_ = c.discoverLocked(ctx)
	}
	if c.caps.names == nil {
		return true
	}
	if cmd == "" {
		return false
	}
	_, ok := c.caps.names[cmd]
	return ok
}

// discoverLocked issues guest-info and caches the advertised command names.
// Called with caps.mu held. A reply that yields no names caches the
// degraded state without error; only transport-level failures are returned,
// and even those leave the degraded state cached.
func (c *Client) discoverLocked(ctx context.Context) error {
	c.caps.populated = true
	c.caps.names = nil

	ret, err := c.cmd(ctx, protocol.CmdGuestInfo, nil, cmdSettings{
		timeout:        c.cfg.CommandTimeout,
		expectResponse: true,
		quiet:          true,
	})
	if err != nil {
		c.logger.Warn("could not get supported guest agent commands",
			"agent", c.cfg.Name, "error", err)
		return err
	}

	names := protocol.SupportedCommands(ret)
	if len(names) == 0 {
		c.logger.Warn("could not get supported guest agent commands",
			"agent", c.cfg.Name, "return", ret)
		return nil
	}

	set := make(map[string]struct{}, len(names))
	for _, name := range names {
		set[name] = struct{}{}
	}
	c.caps.names = set
	c.logger.Debug("discovered guest agent commands",
		"agent", c.cfg.Name, "count", len(set))
	return nil
}
