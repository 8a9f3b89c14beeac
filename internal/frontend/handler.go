// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatelock Contributors

package frontend

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/gatelock/gatelock/internal/session"
)

// client adapts a net.Conn to the session.Connection contract.
type client struct {
	conn     net.Conn
	nickname string

	mu     sync.Mutex
	closed bool
	logger *slog.Logger
}

func (c *client) Username() string   { return c.nickname }
func (c *client) RemoteAddr() string { return c.conn.RemoteAddr().String() }

func (c *client) SendMessage(msg string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	if _, err := fmt.Fprintln(c.conn, msg); err != nil {
		c.logger.Debug("failed to send message to client", "error", err)
	}
}

func (c *client) Disconnect(reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	if _, err := fmt.Fprintln(c.conn, reason); err != nil {
		c.logger.Debug("failed to send disconnect reason", "error", err)
	}
	c.closed = true
	if err := c.conn.Close(); err != nil {
		c.logger.Debug("error closing connection", "error", err)
	}
}

func (c *client) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

var _ session.Connection = (*client)(nil)

// ConnectionHandler drives a single line-protocol connection through the
// authentication flow.
type ConnectionHandler struct {
	conn     net.Conn
	reader   *bufio.Reader
	svc      *session.Service
	logger   *slog.Logger
	client   *client
	sess     *session.AuthSession
	quitting bool
}

// NewConnectionHandler creates a new handler.
func NewConnectionHandler(conn net.Conn, svc *session.Service, logger *slog.Logger) *ConnectionHandler {
	return &ConnectionHandler{
		conn:   conn,
		reader: bufio.NewReader(conn),
		svc:    svc,
		logger: logger,
	}
}

// Handle processes the connection until closed.
func (h *ConnectionHandler) Handle(ctx context.Context) {
	// Close is a no-op when a kick already closed the connection.
	defer func() { _ = h.conn.Close() }()

	h.send("gatelock: introduce yourself with: hello <nickname> [uuid]")

	lineCh := make(chan string)
	errCh := make(chan error, 1)
	done := make(chan struct{})
	defer close(done)

	go func() {
		for {
			line, err := h.reader.ReadString('\n')
			if err != nil {
				errCh <- err
				return
			}
			select {
			case lineCh <- strings.TrimSpace(line):
			case <-done:
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case err := <-errCh:
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				h.logger.Debug("connection read error", "error", err)
			}
			if h.sess != nil {
				h.sess.Disconnect()
			}
			return

		case line := <-lineCh:
			h.processLine(ctx, line)
			if h.quitting || (h.client != nil && h.client.isClosed()) {
				return
			}
		}
	}
}

func (h *ConnectionHandler) processLine(ctx context.Context, line string) {
	cmd, arg := parseCommand(line)

	switch cmd {
	case "hello":
		h.handleHello(ctx, arg)
	case "register":
		h.handleRegister(ctx, arg)
	case "login":
		h.handleLogin(ctx, arg)
	case "2fa":
		h.handleTOTP(ctx, arg)
	case "changepassword":
		h.handleChangePassword(ctx, arg)
	case "2faenable":
		h.handleTOTPEnable(ctx, arg)
	case "2fadisable":
		h.handleTOTPDisable(ctx, arg)
	case "quit":
		h.handleQuit()
	default:
		if cmd != "" {
			h.send("Unknown command: " + cmd)
		}
	}
}

// handleHello registers the identity and runs connection classification.
// An optional second argument is the externally verified UUID, for frontends
// that already performed the verification handshake.
func (h *ConnectionHandler) handleHello(ctx context.Context, arg string) {
	if h.client != nil {
		h.send("Already introduced.")
		return
	}

	parts := strings.Fields(arg)
	if len(parts) < 1 || len(parts) > 2 {
		h.send("Usage: hello <nickname> [uuid]")
		return
	}

	h.client = &client{conn: h.conn, nickname: parts[0], logger: h.logger}

	var verified *uuid.UUID
	onlineMode := false
	if len(parts) == 2 {
		id, err := uuid.Parse(parts[1])
		if err != nil {
			h.send("Malformed uuid.")
			h.client = nil
			return
		}
		verified = &id
		onlineMode = true
	}

	sess, err := h.svc.HandleConnection(ctx, h.client, onlineMode, verified)
	if err != nil {
		// The service already told the client why.
		return
	}
	h.sess = sess
}

func (h *ConnectionHandler) handleRegister(ctx context.Context, arg string) {
	if h.sess == nil {
		h.send("No authentication in progress.")
		return
	}
	parts := strings.Fields(arg)
	password, confirm := "", ""
	if len(parts) > 0 {
		password = parts[0]
	}
	if len(parts) > 1 {
		confirm = parts[1]
	}
	h.sess.HandleRegister(ctx, password, confirm)
}

func (h *ConnectionHandler) handleLogin(ctx context.Context, arg string) {
	if h.sess == nil {
		h.send("No authentication in progress.")
		return
	}
	parts := strings.Fields(arg)
	password, code := "", ""
	if len(parts) > 0 {
		password = parts[0]
	}
	if len(parts) > 1 {
		code = parts[1]
	}
	h.sess.HandlePassword(ctx, password, code)
}

func (h *ConnectionHandler) handleTOTP(ctx context.Context, arg string) {
	if h.sess == nil {
		h.send("No authentication in progress.")
		return
	}
	h.sess.HandleTOTP(ctx, strings.TrimSpace(arg))
}

func (h *ConnectionHandler) handleChangePassword(ctx context.Context, arg string) {
	if h.client == nil {
		h.send("Introduce yourself first.")
		return
	}
	if h.sess == nil || h.sess.State() != session.StateCompleted {
		h.send("Authenticate before changing your password.")
		return
	}
	parts := strings.Fields(arg)
	if len(parts) != 2 {
		h.send("Usage: changepassword <old> <new>")
		return
	}
	if err := h.svc.ChangePassword(ctx, h.client.Username(), parts[0], parts[1]); err != nil {
		h.send("Password change failed.")
		return
	}
	h.send("Password changed.")
}

// handleTOTPEnable enrolls a second factor. The recovery codes are shown on
// this connection only; they are never retrievable again.
func (h *ConnectionHandler) handleTOTPEnable(ctx context.Context, arg string) {
	if h.client == nil {
		h.send("Introduce yourself first.")
		return
	}
	if h.sess == nil || h.sess.State() != session.StateCompleted {
		h.send("Authenticate before enabling a second factor.")
		return
	}
	if arg == "" || len(strings.Fields(arg)) != 1 {
		h.send("Usage: 2faenable <password>")
		return
	}
	enrollment, err := h.svc.EnableTOTP(ctx, h.client.Username(), arg)
	if err != nil {
		h.send("Second-factor enrollment failed.")
		return
	}
	h.send("Second factor enabled. Add this secret to your authenticator:")
	h.send(enrollment.URI)
	h.send("Recovery codes (single use, shown once): " + strings.Join(enrollment.RecoveryCodes, " "))
}

func (h *ConnectionHandler) handleTOTPDisable(ctx context.Context, arg string) {
	if h.client == nil {
		h.send("Introduce yourself first.")
		return
	}
	if h.sess == nil || h.sess.State() != session.StateCompleted {
		h.send("Authenticate before disabling your second factor.")
		return
	}
	if arg == "" || len(strings.Fields(arg)) != 1 {
		h.send("Usage: 2fadisable <code>")
		return
	}
	if err := h.svc.DisableTOTP(ctx, h.client.Username(), arg); err != nil {
		h.send("Second-factor removal failed.")
		return
	}
	h.send("Second factor disabled.")
}

func (h *ConnectionHandler) handleQuit() {
	h.send("Goodbye.")
	if h.sess != nil {
		h.sess.Disconnect()
	}
	h.quitting = true
}

func (h *ConnectionHandler) send(msg string) {
	if _, err := fmt.Fprintln(h.conn, msg); err != nil {
		h.logger.Debug("failed to send message to client", "error", err)
	}
}

// parseCommand splits a line into its command word and argument remainder.
func parseCommand(line string) (string, string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return "", ""
	}
	cmd, arg, _ := strings.Cut(line, " ")
	return strings.ToLower(cmd), strings.TrimSpace(arg)
}
