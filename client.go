package qga

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/jackc/puddle/v2"
	"github.com/sony/gobreaker/v2"

	"github.com/virtkit/qga/protocol"
)

// Default timeouts applied by NewClient.
const (
	DefaultCommandTimeout = 20 * time.Second
	DefaultReadTimeout    = 5 * time.Second
	DefaultLockTimeout    = 20 * time.Second
	DefaultConnectTimeout = 5 * time.Second
)

// Commander is the command-issuing surface of Client. Callers that want to
// fake the agent in their own tests can depend on this instead of *Client.
type Commander interface {
	Cmd(ctx context.Context, name string, args map[string]any, opts ...CmdOption) (any, error)
	CmdRaw(ctx context.Context, data []byte, opts ...CmdOption) (protocol.Reply, error)
	CmdObj(ctx context.Context, obj any, opts ...CmdOption) (protocol.Reply, error)
}

// Config holds configuration for a guest agent client.
type Config struct {
	// Name identifies the agent channel in logs and circuit breaker state.
	// If empty, DefaultAgentName is used.
	Name string

	// CommandTimeout bounds one command's await-reply phase when neither a
	// WithTimeout option nor a tighter context deadline applies.
	// If zero, DefaultCommandTimeout is used.
	CommandTimeout time.Duration

	// ReadTimeout bounds one decode attempt over partially received lines,
	// and the pre-send drain of stale data.
	// If zero, DefaultReadTimeout is used.
	ReadTimeout time.Duration

	// LockTimeout bounds waiting for the in-flight command to release the
	// channel. If zero, DefaultLockTimeout is used.
	LockTimeout time.Duration

	// ConnectTimeout bounds each dial of the channel endpoint.
	// If zero, DefaultConnectTimeout is used.
	ConnectTimeout time.Duration

	// WriteTimeout bounds one send on the channel.
	// Zero means sends carry no deadline.
	WriteTimeout time.Duration

	// Dialer is the net.Dialer used to reach the channel endpoint.
	// If nil, the default net.Dialer is used.
	Dialer *net.Dialer

	// Logger receives client debug and warning records.
	// If nil, slog.Default() is used.
	Logger *slog.Logger

	// GetSupportedCommands makes NewClient discover the supported command
	// set eagerly instead of on the first HasCommand call.
	GetSupportedCommands bool

	// SuppressErrors makes NewClient log setup failures instead of
	// returning them. Commands on such a client dial as needed.
	SuppressErrors bool

	// NewCircuitBreaker creates a circuit breaker guarding raw command
	// execution. Called once with the agent name.
	// If nil, no circuit breaker is used.
	NewCircuitBreaker func(agentName string) CircuitBreaker

	// for testing purposes only
	dial func(ctx context.Context) (Transport, error)
}

// Client issues commands to a QEMU guest agent over a single channel. One
// command is in flight at a time; concurrent callers queue on the exclusive
// command slot. Client is safe for concurrent use.
type Client struct {
	cfg     Config
	port    Port
	logger  *slog.Logger
	slot    *channelSlot
	breaker CircuitBreaker // nil if not configured
	caps    capabilitySet
	stats   *clientStatsCollector
}

var _ Commander = (*Client)(nil)

// NewClient connects to the guest agent reachable through port.
//
// The channel is dialed eagerly; with Config.GetSupportedCommands the
// supported command set is discovered eagerly too. Setup failures are
// returned unless Config.SuppressErrors is set, in which case they are
// logged and the first command redials.
func NewClient(port Port, config Config) (*Client, error) {
	if port == nil && config.dial == nil {
		return nil, fmt.Errorf("no port provided")
	}

	if config.Name == "" {
		config.Name = DefaultAgentName
	}
	if config.CommandTimeout <= 0 {
		config.CommandTimeout = DefaultCommandTimeout
	}
	if config.ReadTimeout <= 0 {
		config.ReadTimeout = DefaultReadTimeout
	}
	if config.LockTimeout <= 0 {
		config.LockTimeout = DefaultLockTimeout
	}
	if config.ConnectTimeout <= 0 {
		config.ConnectTimeout = DefaultConnectTimeout
	}
	if config.Dialer == nil {
		config.Dialer = &net.Dialer{}
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	client := &Client{
		cfg:    config,
		port:   port,
		logger: logger,
		stats:  newClientStatsCollector(),
	}
	if config.NewCircuitBreaker != nil {
		client.breaker = config.NewCircuitBreaker(config.Name)
	}

	slot, err := newChannelSlot(client.connect)
	if err != nil {
		return nil, err
	}
	client.slot = slot

	if err := client.setup(); err != nil {
		if !config.SuppressErrors {
			client.slot.Close()
			return nil, err
		}
		client.logger.Warn("guest agent setup failed", "agent", config.Name, "error", err)
	}

	return client, nil
}

// setup dials the channel and optionally discovers the supported command
// set, reporting the first failure.
func (c *Client) setup() error {
	if err := c.slot.Connect(context.Background()); err != nil {
		return err
	}
	if c.cfg.GetSupportedCommands {
		c.caps.mu.Lock()
		defer c.caps.mu.Unlock()
		return c.discoverLocked(context.Background())
	}
	return nil
}

// connect dials the channel endpoint. It is the slot constructor, invoked
// at construction and again whenever a broken channel was destroyed.
func (c *Client) connect(ctx context.Context) (Transport, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.ConnectTimeout)
	defer cancel()

	if c.cfg.dial != nil {
		tr, err := c.cfg.dial(ctx)
		if err != nil {
			var connectErr *ConnectError
			if errors.As(err, &connectErr) {
				return nil, err
			}
			return nil, &ConnectError{Err: err}
		}
		return tr, nil
	}

	network, addr, err := c.port.Resolve()
	if err != nil {
		return nil, &ConnectError{Err: err}
	}
	conn, err := c.cfg.Dialer.DialContext(ctx, network, addr)
	if err != nil {
		return nil, &ConnectError{Network: network, Addr: addr, Err: err}
	}
	c.logger.Debug("connected to guest agent", "agent", c.cfg.Name, "network", network, "addr", addr)
	return newSocketTransport(conn, c.cfg.WriteTimeout), nil
}

// Close tears down the channel and makes subsequent commands fail with
// ErrClientClosed. Blocks until an in-flight command releases the slot.
func (c *Client) Close() {
	c.slot.Close()
}

// cmdSettings collects the per-call options of one command.
type cmdSettings struct {
	timeout        time.Duration
	expectResponse bool
	quiet          bool
}

// CmdOption adjusts how a single command is issued.
type CmdOption func(*cmdSettings)

// WithTimeout overrides the client-wide command timeout for this call. The
// context deadline, when tighter, still wins.
func WithTimeout(d time.Duration) CmdOption {
	return func(s *cmdSettings) { s.timeout = d }
}

// NoResponse marks a command the agent answers with silence, such as
// guest-shutdown. The call returns as soon as the command is sent instead
// of waiting out the timeout for a reply that never comes.
func NoResponse() CmdOption {
	return func(s *cmdSettings) { s.expectResponse = false }
}

func (c *Client) settings(opts []CmdOption) cmdSettings {
	s := cmdSettings{
		timeout:        c.cfg.CommandTimeout,
		expectResponse: true,
	}
	for _, opt := range opts {
		opt(&s)
	}
	return s
}

// Cmd sends a guest agent command and returns the reply's return payload.
//
// A reply carrying an error payload fails with *CmdError. No reply before
// the deadline fails with *ProtocolError; the command may still have been
// executed by the agent. With the NoResponse option the returned payload
// is always nil.
func (c *Client) Cmd(ctx context.Context, name string, args map[string]any, opts ...CmdOption) (any, error) {
	return c.cmd(ctx, name, args, c.settings(opts))
}

func (c *Client) cmd(ctx context.Context, name string, args map[string]any, s cmdSettings) (any, error) {
	if !s.quiet {
		c.logger.Debug("sending guest agent command", "agent", c.cfg.Name, "cmd", name)
	}

	data, err := protocol.NewCommand(name, args).Encode()
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", name, err)
	}

	reply, err := c.cmdRaw(ctx, data, s)
	if err != nil {
		return nil, err
	}
	if !s.expectResponse {
		return nil, nil
	}

	if ret, ok := reply.Return(); ok {
		if !s.quiet && nonEmptyPayload(ret) {
			c.logger.Debug("guest agent response", "agent", c.cfg.Name, "cmd", name, "return", ret)
		}
		return ret, nil
	}
	if payload, ok := reply.ErrorPayload(); ok {
		c.stats.recordErrorReply()
		return nil, &CmdError{Cmd: name, Args: args, Data: payload}
	}

	// Unreachable: cmdRaw only returns objects carrying return or error.
	return nil, &ProtocolError{Data: data}
}

// nonEmptyPayload reports whether a return payload carries information
// worth logging. guest-ping answers with an empty object.
func nonEmptyPayload(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case map[string]any:
		return len(t) > 0
	case []any:
		return len(t) > 0
	case string:
		return t != ""
	}
	return true
}

// CmdRaw sends an already encoded line to the guest agent and returns the
// raw reply object. Unlike Cmd it performs no checks on the reply: an error
// reply is returned to the caller, not converted to a *CmdError.
func (c *Client) CmdRaw(ctx context.Context, data []byte, opts ...CmdOption) (protocol.Reply, error) {
	return c.cmdRaw(ctx, data, c.settings(opts))
}

// cmdRaw executes one raw command, wrapped with the circuit breaker when
// one is configured.
func (c *Client) cmdRaw(ctx context.Context, data []byte, s cmdSettings) (protocol.Reply, error) {
	if c.breaker != nil {
		return c.breaker.Execute(func() (protocol.Reply, error) {
			return c.cmdRawDirect(ctx, data, s)
		})
	}
	return c.cmdRawDirect(ctx, data, s)
}

// cmdRawDirect performs the actual command execution without the circuit
// breaker. It handles acquiring the exclusive slot, the drain-send-await
// cycle, and releasing or destroying the channel based on error conditions.
func (c *Client) cmdRawDirect(ctx context.Context, data []byte, s cmdSettings) (protocol.Reply, error) {
	resource, err := c.acquireSlot(ctx)
	if err != nil {
		return nil, err
	}
	tr := resource.Value()

	reply, err := c.exchange(ctx, tr, data, s)
	if err != nil {
		if ShouldCloseChannel(err) {
			resource.Destroy()
		} else {
			resource.Release()
		}
		return nil, err
	}

	resource.Release()
	return reply, nil
}

// acquireSlot takes the exclusive command slot, dialing a channel when the
// previous one was destroyed. Waiting is bounded by LockTimeout and the
// caller's context, whichever is tighter.
func (c *Client) acquireSlot(ctx context.Context) (*puddle.Resource[Transport], error) {
	if c.cfg.LockTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.LockTimeout)
		defer cancel()
	}

	resource, err := c.slot.Acquire(ctx)
	if err == nil {
		return resource, nil
	}

	var connectErr *ConnectError
	switch {
	case errors.As(err, &connectErr):
		return nil, err
	case errors.Is(err, puddle.ErrClosedPool):
		return nil, ErrClientClosed
	default:
		c.stats.recordLockFailure()
		return nil, &LockError{Err: err}
	}
}

// exchange performs one drain-send-await cycle on the held channel.
func (c *Client) exchange(ctx context.Context, tr Transport, data []byte, s cmdSettings) (protocol.Reply, error) {
	c.drainStale(tr)

	c.stats.recordCommand()
	if err := tr.Send(data); err != nil {
		c.stats.recordTransportError()
		return nil, &SocketError{Op: "send", Data: data, Err: err}
	}
	c.logger.Debug("sent", "agent", c.cfg.Name, "data", string(data))

	if !s.expectResponse {
		return protocol.Reply{}, nil
	}

	reply, found, err := c.getResponse(ctx, tr, s.timeout)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		c.stats.recordTransportError()
		return nil, &SocketError{Op: "receive", Data: data, Err: err}
	}
	if !found {
		c.stats.recordTimeout()
		return nil, &ProtocolError{Data: data}
	}

	c.stats.recordReply()
	return reply, nil
}

// CmdObj encodes obj as one line, sends it, and returns the raw reply
// object. Unlike Cmd it performs no checks on the reply. Useful for
// commands built from structs or for deliberately malformed envelopes.
func (c *Client) CmdObj(ctx context.Context, obj any, opts ...CmdOption) (protocol.Reply, error) {
	data, err := json.Marshal(obj)
	if err != nil {
		return nil, fmt.Errorf("encode object: %w", err)
	}
	return c.cmdRaw(ctx, append(data, '\n'), c.settings(opts))
}

// VerifyResponsive checks that the agent answers a guest-ping. An agent
// whose command set is known not to include guest-ping passes vacuously.
func (c *Client) VerifyResponsive(ctx context.Context) error {
	if !c.HasCommand(ctx, protocol.CmdGuestPing) {
		return nil
	}
	s := c.settings(nil)
	s.quiet = true
	_, err := c.cmd(ctx, protocol.CmdGuestPing, nil, s)
	return err
}

// Shutdown asks the guest to power down. guest-shutdown never replies, so
// the call returns once the command is sent; whether the guest actually
// went down is for the caller to observe. An agent whose command set is
// known not to include guest-shutdown makes this a no-op.
func (c *Client) Shutdown(ctx context.Context) error {
	if !c.HasCommand(ctx, protocol.CmdGuestShutdown) {
		return nil
	}
	s := c.settings(nil)
	s.expectResponse = false
	_, err := c.cmd(ctx, protocol.CmdGuestShutdown, nil, s)
	return err
}

// Stats returns a snapshot of client statistics.
func (c *Client) Stats() ClientStats {
	return c.stats.snapshot()
}

// ChannelStats returns a snapshot of channel slot statistics.
func (c *Client) ChannelStats() ChannelStats {
	return c.slot.Stats()
}

// CircuitBreakerState reports the state of the configured circuit breaker.
// ok is false when no circuit breaker is configured.
func (c *Client) CircuitBreakerState() (state gobreaker.State, ok bool) {
	if c.breaker == nil {
		return 0, false
	}
	return c.breaker.State(), true
}
