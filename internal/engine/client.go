package engine

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"sync"

	"github.com/Amebis/eduvpn-client/internal/discovery"
)

// Client consumes the provisioning engine over a local socket. Events and
// responses arrive as JSON lines on one connection; requests are JSON
// lines going the other way. Cancelling an operation's context sends a
// cancel request referencing it and returns the context error.
type Client struct {
	conn   net.Conn
	events chan Event

	writeMu sync.Mutex
	enc     *json.Encoder

	mu      sync.Mutex
	pending map[uint64]chan envelope
	nextID  uint64
	closed  bool
}

// Compile-time check that Client satisfies the engine contract.
var _ Engine = (*Client)(nil)

// Dial connects to the engine's control socket.
func Dial(ctx context.Context, socketPath string) (*Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to engine: %w", err)
	}
	return newClient(conn), nil
}

// newClient wraps an established connection; split from Dial for tests.
func newClient(conn net.Conn) *Client {
	c := &Client{
		conn:    conn,
		events:  make(chan Event, 16),
		enc:     json.NewEncoder(conn),
		pending: make(map[uint64]chan envelope),
	}
	go c.readLoop()
	return c
}

// Close tears down the connection. Pending operations fail and the event
// channel closes.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Events implements Engine.
func (c *Client) Events() <-chan Event {
	return c.events
}

// readLoop routes incoming lines to the event channel or a pending call.
func (c *Client) readLoop() {
	scanner := bufio.NewScanner(c.conn)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	for scanner.Scan() {
		var env envelope
		if err := json.Unmarshal(scanner.Bytes(), &env); err != nil {
			slog.Warn("failed to decode engine message", "error", err)
			continue
		}

		switch env.Type {
		case msgEvent:
			c.dispatchEvent(env)
		case msgResponse:
			c.mu.Lock()
			ch, ok := c.pending[env.ID]
			if ok {
				delete(c.pending, env.ID)
			}
			c.mu.Unlock()
			if ok {
				ch <- env
			}
		default:
			slog.Warn("unknown engine message type", "type", env.Type)
		}
	}

	// Connection gone: fail everything that is still waiting.
	c.mu.Lock()
	c.closed = true
	pending := c.pending
	c.pending = make(map[uint64]chan envelope)
	c.mu.Unlock()

	for _, ch := range pending {
		close(ch)
	}
	close(c.events)
}

// dispatchEvent converts a wire event and delivers it, dropping events
// when the consumer has fallen far behind.
func (c *Client) dispatchEvent(env envelope) {
	state, ok := stateFromName(env.State)
	if !ok {
		slog.Warn("unknown engine state", "state", env.State)
		return
	}

	ev := Event{
		State:     state,
		Locations: env.Locations,
		AuthURL:   env.AuthURL,
		Reason:    reasonFromName(env.Reason),
	}
	for _, p := range env.Profiles {
		ev.Profiles = append(ev.Profiles, Profile{ID: p.ID, DisplayName: p.DisplayName})
	}

	select {
	case c.events <- ev:
	default:
		slog.Warn("engine event dropped, consumer too slow", "state", env.State)
	}
}

// send writes one request line.
func (c *Client) send(req request) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.enc.Encode(req); err != nil {
		return fmt.Errorf("failed to send engine request: %w", err)
	}
	return nil
}

// call performs one request/response round trip. On context cancellation
// a cancel request referencing the operation is sent and the context
// error is returned.
func (c *Client) call(ctx context.Context, req request) (*envelope, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, fmt.Errorf("engine connection closed")
	}
	c.nextID++
	req.ID = c.nextID
	ch := make(chan envelope, 1)
	c.pending[req.ID] = ch
	c.mu.Unlock()

	if err := c.send(req); err != nil {
		c.mu.Lock()
		delete(c.pending, req.ID)
		c.mu.Unlock()
		return nil, err
	}

	select {
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending, req.ID)
		c.mu.Unlock()
		if err := c.send(request{Op: opCancel, Ref: req.ID}); err != nil {
			slog.Debug("failed to send cancel", "error", err)
		}
		return nil, ctx.Err()
	case env, ok := <-ch:
		if !ok {
			return nil, fmt.Errorf("engine connection closed")
		}
		if env.Error != "" {
			return nil, fmt.Errorf("engine: %s", env.Error)
		}
		return &env, nil
	}
}

// AddServer implements Engine.
func (c *Client) AddServer(ctx context.Context, identity string) error {
	_, err := c.call(ctx, request{Op: opAddServer, Server: identity})
	return err
}

// RemoveServer implements Engine.
func (c *Client) RemoveServer(ctx context.Context, identity string) error {
	_, err := c.call(ctx, request{Op: opRemoveServer, Server: identity})
	return err
}

// GetConfig implements Engine.
func (c *Client) GetConfig(ctx context.Context, identity string, preferTCP bool) (*Config, error) {
	env, err := c.call(ctx, request{Op: opGetConfig, Server: identity, PreferTCP: preferTCP})
	if err != nil {
		return nil, err
	}
	if env.Config == nil {
		return nil, fmt.Errorf("engine returned no configuration")
	}
	return &Config{
		Payload:        env.Config.Payload,
		Protocol:       env.Config.Protocol,
		DefaultGateway: env.Config.DefaultGateway,
	}, nil
}

// Disconnect implements Engine.
func (c *Client) Disconnect(ctx context.Context) error {
	_, err := c.call(ctx, request{Op: opDisconnect})
	return err
}

// SetProfileID implements Engine.
func (c *Client) SetProfileID(ctx context.Context, profileID string) error {
	_, err := c.call(ctx, request{Op: opSetProfileID, ProfileID: profileID})
	return err
}

// SetSecureInternetLocation implements Engine.
func (c *Client) SetSecureInternetLocation(ctx context.Context, countryCode string) error {
	_, err := c.call(ctx, request{Op: opSetLocation, CountryCode: countryCode})
	return err
}

// RenewSession implements Engine.
func (c *Client) RenewSession(ctx context.Context, identity string) error {
	_, err := c.call(ctx, request{Op: opRenewSession, Server: identity})
	return err
}

// CurrentServer implements Engine.
func (c *Client) CurrentServer(ctx context.Context) (*discovery.Server, error) {
	env, err := c.call(ctx, request{Op: opCurrentServer})
	if err != nil {
		return nil, err
	}
	if env.Server == nil {
		return nil, nil
	}
	s := serverFromPayload(*env.Server)
	return &s, nil
}

// ExpiryTimes implements Engine.
func (c *Client) ExpiryTimes(ctx context.Context) (*Expiry, error) {
	env, err := c.call(ctx, request{Op: opExpiryTimes})
	if err != nil {
		return nil, err
	}
	if env.Expiry == nil {
		return &Expiry{}, nil
	}
	return &Expiry{
		StartTime:  env.Expiry.StartTime,
		EndTime:    env.Expiry.EndTime,
		ButtonTime: env.Expiry.ButtonTime,
	}, nil
}

// ServerList implements Engine.
func (c *Client) ServerList(ctx context.Context) ([]discovery.Server, error) {
	env, err := c.call(ctx, request{Op: opServerList})
	if err != nil {
		return nil, err
	}
	servers := make([]discovery.Server, 0, len(env.Servers))
	for _, p := range env.Servers {
		servers = append(servers, serverFromPayload(p))
	}
	return servers, nil
}
