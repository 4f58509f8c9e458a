package ipc

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"time"
)

// Client forwards a command to the running instance.
type Client struct {
	socketPath string
	timeout    time.Duration
}

// NewClient creates an instance-control client.
func NewClient(socketPath string) *Client {
	return &Client{
		socketPath: socketPath,
		timeout:    5 * time.Second,
	}
}

// Send forwards one command and waits for the result.
func (c *Client) Send(ctx context.Context, cmd *Command) (*Result, error) {
	cmd.Type = MessageTypeCommand

	conn, err := net.DialTimeout("unix", c.socketPath, c.timeout)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to running instance: %w", err)
	}
	defer func() { _ = conn.Close() }()

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(c.timeout)
	}
	if err := conn.SetDeadline(deadline); err != nil {
		return nil, fmt.Errorf("failed to set connection deadline: %w", err)
	}

	if err := json.NewEncoder(conn).Encode(cmd); err != nil {
		return nil, fmt.Errorf("failed to send command: %w", err)
	}

	var res Result
	if err := json.NewDecoder(conn).Decode(&res); err != nil {
		return nil, fmt.Errorf("failed to read result: %w", err)
	}
	if res.Type != MessageTypeResult {
		return nil, fmt.Errorf("invalid result type: %s", res.Type)
	}
	return &res, nil
}
