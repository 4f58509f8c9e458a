// Package ipc lets a second client invocation forward its command to the
// running instance over a local socket, keeping a single instance in
// charge of the one live VPN session.
package ipc

// MessageType represents the type of IPC message.
type MessageType string

const (
	// MessageTypeCommand is sent from a forwarding invocation to the
	// running instance.
	MessageTypeCommand MessageType = "command"
	// MessageTypeResult is sent from the running instance back to the
	// forwarding invocation.
	MessageTypeResult MessageType = "result"
)

// Command names.
const (
	CommandStatus     = "status"
	CommandConnect    = "connect"
	CommandDisconnect = "disconnect"
	CommandRenew      = "renew"
	CommandForget     = "forget"
)

// Command is a forwarded client command.
type Command struct {
	Type MessageType `json:"type"`
	Name string      `json:"name"`

	// Server is the server identity for the commands that target one.
	Server string `json:"server,omitempty"`
}

// Result is the running instance's reply.
type Result struct {
	Type   MessageType `json:"type"`
	Status string      `json:"status"` // "ok" or "error"

	// Page is the currently presented page, for CommandStatus.
	Page string `json:"page,omitempty"`

	// Server is the active session's server identity, for CommandStatus.
	Server string `json:"server,omitempty"`

	Error string `json:"error,omitempty"`
}

// Result status values.
const (
	StatusOK    = "ok"
	StatusError = "error"
)
