package gateway

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/winlogon/minechat/internal/core/debug"
	"github.com/winlogon/minechat/internal/data"
	"github.com/winlogon/minechat/internal/protocol"
	"github.com/winlogon/minechat/internal/registry"
)

// Display prefix attached to chat relayed from external clients.
const chatPrefix = "[MineChat] "

// Frames are single chat lines; anything larger than this is a misbehaving client.
const maxFrameSize = 64 * 1024

// Connection is the per-socket state machine for one external client. A
// connection starts unauthenticated, becomes authenticated by at most one
// successful AUTH, and ends closed when the socket does.
//
// The client field is only written by the connection's own reader goroutine,
// so frame handling needs no additional locking.
type Connection struct {
	gateway *Gateway
	conn    net.Conn

	writeMu sync.Mutex
	writer  *bufio.Writer

	client    *data.Client
	closeOnce sync.Once
}

func newConnection(conn net.Conn, g *Gateway) *Connection {
	return &Connection{
		gateway: g,
		conn:    conn,
		writer:  bufio.NewWriter(conn),
	}
}

func (c *Connection) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// run reads frames off the socket until the client disconnects, the socket
// fails, or the client sends something unparseable. It only returns once the
// connection is finished and cleaned up.
func (c *Connection) run(ctx context.Context) {
	defer c.teardown()

	scanner := bufio.NewScanner(c.conn)
	scanner.Buffer(make([]byte, 0, 4096), maxFrameSize)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		frame, err := protocol.Decode(line)
		if err != nil {
			c.gateway.Logger.Warnf("client error (%s): %s", c.RemoteAddr(), err)
			return
		}
		if frame == nil {
			// Unrecognized frame type from a newer client.
			continue
		}

		if c.gateway.Config.Debugging.FrameLoggingEnabled {
			debug.LogFrame(c.gateway.Logger, "recv", c.RemoteAddr().String(), frame)
		}

		switch f := frame.(type) {
		case protocol.Auth:
			c.handleAuth(f)
		case protocol.Chat:
			c.handleChat(f)
		case protocol.Disconnect:
			return
		}
	}

	if err := scanner.Err(); err != nil && !errors.Is(err, net.ErrClosed) {
		c.gateway.Logger.Warnf("client error (%s): %s", c.RemoteAddr(), err)
	}
}

// handleAuth runs both authentication paths: redeeming a link code for a fresh
// binding, or re-authenticating a previously bound client by its identifier.
// Failures leave the connection open and unauthenticated so the client can
// retry.
func (c *Connection) handleAuth(frame protocol.Auth) {
	if c.client != nil {
		// The binding for a socket is set at most once.
		c.sendFrame(protocol.AuthAck{
			Status:  protocol.StatusFailure,
			Message: "Already authenticated",
		})
		return
	}

	if frame.LinkCode != "" {
		link, err := c.gateway.LinkCodes.Redeem(frame.LinkCode)
		if err != nil {
			c.sendFrame(protocol.AuthAck{
				Status:  protocol.StatusFailure,
				Message: "Invalid or expired link code",
			})
			return
		}

		client := c.gateway.Clients.Bind(frame.ClientUUID, link.MinecraftUUID, link.MinecraftUsername)
		c.client = &client

		c.sendFrame(protocol.AuthAck{
			Status:        protocol.StatusSuccess,
			Message:       fmt.Sprintf("Linked to %s", client.MinecraftUsername),
			MinecraftUUID: client.MinecraftUUID,
			Username:      client.MinecraftUsername,
		})
		c.gateway.World.AnnounceAuthSuccess(client.MinecraftUsername)
		c.announceJoin(client.MinecraftUsername)
		return
	}

	client, err := c.gateway.Clients.Lookup(frame.ClientUUID)
	if err != nil {
		if !errors.Is(err, registry.ErrNotFound) {
			c.gateway.Logger.Errorf("error looking up client %s: %s", frame.ClientUUID, err)
		}
		c.sendFrame(protocol.AuthAck{
			Status:  protocol.StatusFailure,
			Message: "Client not registered",
		})
		return
	}
	c.client = &client

	c.sendFrame(protocol.AuthAck{
		Status:        protocol.StatusSuccess,
		Message:       fmt.Sprintf("Welcome back, %s", client.MinecraftUsername),
		MinecraftUUID: client.MinecraftUUID,
		Username:      client.MinecraftUsername,
	})
	c.gateway.World.AnnounceJoin(client.MinecraftUsername)
	c.announceJoin(client.MinecraftUsername)
}

func (c *Connection) announceJoin(username string) {
	c.gateway.broadcast(protocol.System{
		Event:    protocol.EventJoin,
		Username: username,
		Message:  fmt.Sprintf("%s has joined the chat.", username),
	}, c)
}

// handleChat relays a message to the world and to every other live client.
// Chat from an unauthenticated connection is dropped without a response; the
// client has no identity to attribute the message to.
func (c *Connection) handleChat(frame protocol.Chat) {
	if c.client == nil {
		return
	}

	c.gateway.World.SendChat(c.client.MinecraftUsername, frame.Message)
	c.gateway.broadcast(protocol.Broadcast{
		From:    chatPrefix + c.client.MinecraftUsername,
		Message: frame.Message,
	}, c)
}

// teardown announces the departure of an authenticated client, then releases
// the socket and deregisters the connection.
func (c *Connection) teardown() {
	if c.client != nil {
		username := c.client.MinecraftUsername
		c.gateway.World.AnnounceLeave(username)
		c.gateway.broadcast(protocol.System{
			Event:    protocol.EventLeave,
			Username: username,
			Message:  fmt.Sprintf("%s has left the chat.", username),
		}, c)
	}

	c.close()
	c.gateway.unregister(c)
	c.gateway.Logger.Infof("[GATEWAY] disconnected client %s", c.RemoteAddr())
}

// send writes one pre-encoded frame to the socket. Safe for concurrent use by
// the broadcast fan-out and the connection's own handlers.
func (c *Connection) send(line []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if _, err := c.writer.Write(line); err != nil {
		return err
	}
	return c.writer.Flush()
}

func (c *Connection) sendFrame(frame protocol.Outbound) {
	line, err := protocol.Encode(frame)
	if err != nil {
		c.gateway.Logger.Errorf("error encoding frame for %s: %s", c.RemoteAddr(), err)
		return
	}

	if c.gateway.Config.Debugging.FrameLoggingEnabled {
		debug.LogFrame(c.gateway.Logger, "send", c.RemoteAddr().String(), frame)
	}

	if err := c.send(line); err != nil {
		c.gateway.Logger.Warnf("error sending message to client %s: %s", c.RemoteAddr(), err)
	}
}

func (c *Connection) close() {
	c.closeOnce.Do(func() {
		_ = c.conn.Close()
	})
}
