package ipc

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"sync"

	"github.com/Amebis/eduvpn-client/internal/logsanitize"
)

// CommandHandler handles one forwarded command.
type CommandHandler func(ctx context.Context, cmd *Command) (*Result, error)

// Server listens on the instance socket for forwarded commands.
type Server struct {
	socketPath string
	handler    CommandHandler

	mu       sync.Mutex
	listener net.Listener
	wg       sync.WaitGroup
	stopChan chan struct{}
}

// NewServer creates an instance-control server.
func NewServer(socketPath string, handler CommandHandler) *Server {
	return &Server{
		socketPath: socketPath,
		handler:    handler,
		stopChan:   make(chan struct{}),
	}
}

// Start binds the socket and begins accepting commands. An already-bound
// socket from a crashed instance is replaced.
func (s *Server) Start(ctx context.Context) error {
	dir := filepath.Dir(s.socketPath)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create socket directory: %w", err)
	}

	if err := os.Remove(s.socketPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove old socket: %w", err)
	}

	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("failed to create listener: %w", err)
	}

	// Only the owning user may drive the client.
	if err := os.Chmod(s.socketPath, 0600); err != nil {
		_ = listener.Close()
		return fmt.Errorf("failed to set socket permissions: %w", err)
	}

	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()

	slog.Info("instance control socket ready", "socket", s.socketPath)

	s.wg.Add(1)
	go s.acceptLoop(ctx)
	return nil
}

func (s *Server) acceptLoop(ctx context.Context) {
	defer s.wg.Done()

	for {
		select {
		case <-s.stopChan:
			return
		default:
		}

		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.stopChan:
				return
			default:
				slog.Error("failed to accept connection", "error", err)
				continue
			}
		}

		s.wg.Add(1)
		go s.handleConnection(ctx, conn)
	}
}

func (s *Server) handleConnection(ctx context.Context, conn net.Conn) {
	defer s.wg.Done()
	defer func() { _ = conn.Close() }()

	var cmd Command
	if err := json.NewDecoder(conn).Decode(&cmd); err != nil {
		slog.Error("failed to decode command", "error", err)
		s.sendError(conn, "invalid command format")
		return
	}

	if cmd.Type != MessageTypeCommand {
		slog.Error("invalid message type", "type", string(cmd.Type))
		s.sendError(conn, "invalid message type")
		return
	}

	slog.Debug("forwarded command received",
		"name", logsanitize.Sanitize(cmd.Name),
		"server", logsanitize.Sanitize(cmd.Server),
	)

	res, err := s.handler(ctx, &cmd)
	if err != nil {
		s.sendError(conn, err.Error())
		return
	}

	res.Type = MessageTypeResult
	if err := json.NewEncoder(conn).Encode(res); err != nil {
		slog.Error("failed to send result", "error", err)
	}
}

func (s *Server) sendError(conn net.Conn, msg string) {
	res := &Result{
		Type:   MessageTypeResult,
		Status: StatusError,
		Error:  msg,
	}
	if err := json.NewEncoder(conn).Encode(res); err != nil {
		slog.Error("failed to send error result", "error", err)
	}
}

// Stop closes the socket and waits for in-flight commands.
func (s *Server) Stop() error {
	close(s.stopChan)

	s.mu.Lock()
	if s.listener != nil {
		if err := s.listener.Close(); err != nil {
			slog.Warn("failed to close listener", "error", err)
		}
	}
	s.mu.Unlock()

	s.wg.Wait()

	if err := os.Remove(s.socketPath); err != nil && !os.IsNotExist(err) {
		slog.Warn("failed to remove socket file", "error", err)
	}
	return nil
}
