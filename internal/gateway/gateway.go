package gateway

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/winlogon/minechat/internal/core"
	"github.com/winlogon/minechat/internal/protocol"
	"github.com/winlogon/minechat/internal/registry"
	"github.com/winlogon/minechat/internal/world"
)

// How long Shutdown waits for per-connection goroutines before flushing the
// registries anyway.
const shutdownWait = 10 * time.Second

// Gateway owns the listening socket and the set of live client connections.
// It accepts external chat clients, fans broadcasts out to them, and relays
// their traffic to the world and to each other.
type Gateway struct {
	Config    *core.Config
	Logger    *logrus.Logger
	World     world.World
	LinkCodes *registry.LinkCodeRegistry
	Clients   *registry.ClientRegistry

	listener net.Listener

	mu          sync.Mutex
	connections map[*Connection]struct{}
	closed      bool

	connWg   sync.WaitGroup
	shutdown sync.Once
}

func New(cfg *core.Config, logger *logrus.Logger, w world.World,
	linkCodes *registry.LinkCodeRegistry, clients *registry.ClientRegistry) *Gateway {
	return &Gateway{
		Config:      cfg,
		Logger:      logger,
		World:       w,
		LinkCodes:   linkCodes,
		Clients:     clients,
		connections: make(map[*Connection]struct{}),
	}
}

// Start binds the listening socket and spins off the accept loop. A bind
// failure is terminal for the gateway and is returned to the caller.
func (g *Gateway) Start(ctx context.Context) error {
	addr := g.Config.GatewayAddress()
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("error listening on %s: %w", addr, err)
	}
	g.listener = listener

	g.Logger.Infof("[GATEWAY] waiting for connections on %v", listener.Addr())
	go g.acceptLoop(ctx)
	return nil
}

// Addr returns the bound listener address. Only valid after Start.
func (g *Gateway) Addr() net.Addr {
	return g.listener.Addr()
}

func (g *Gateway) acceptLoop(ctx context.Context) {
	for {
		// Poll until we can accept more clients.
		for g.Config.GatewayServer.MaxConnections > 0 &&
			g.connectionCount() >= g.Config.GatewayServer.MaxConnections {
			if g.isClosed() {
				return
			}
			time.Sleep(time.Second)
		}

		conn, err := g.listener.Accept()
		if err != nil {
			if g.isClosed() || ctx.Err() != nil {
				return
			}
			g.Logger.Warnf("failed to accept connection: %s", err)
			continue
		}

		c := newConnection(conn, g)
		g.register(c)
		g.Logger.Infof("[GATEWAY] accepted connection from %s", c.RemoteAddr())

		g.connWg.Add(1)
		go func() {
			defer g.connWg.Done()
			c.run(ctx)
		}()
	}
}

// GenerateLinkCode issues a link code for an in-world participant using the
// configured TTL. The host-side command adapter is responsible for showing the
// code to the player.
func (g *Gateway) GenerateLinkCode(minecraftUUID, minecraftUsername string) string {
	code := g.LinkCodes.Issue(minecraftUUID, minecraftUsername, g.Config.LinkCodeTTL())
	g.Logger.Infof("[GATEWAY] issued link code for %s", minecraftUsername)
	return code
}

// HandleWorldChat relays an in-world chat message to every connected client.
// It is the hook the host-side chat event adapter calls.
func (g *Gateway) HandleWorldChat(sender, message string) {
	g.BroadcastFrame(protocol.Broadcast{From: sender, Message: message})
}

// BroadcastFrame sends a frame to every live connection. A send failure on one
// connection drops that connection without aborting delivery to the others.
func (g *Gateway) BroadcastFrame(frame protocol.Outbound) {
	g.broadcast(frame, nil)
}

func (g *Gateway) broadcast(frame protocol.Outbound, except *Connection) {
	line, err := protocol.Encode(frame)
	if err != nil {
		g.Logger.Errorf("error encoding broadcast frame: %s", err)
		return
	}

	for _, c := range g.snapshot() {
		if c == except {
			continue
		}
		if err := c.send(line); err != nil {
			g.Logger.Warnf("error sending message to client %s: %s", c.RemoteAddr(), err)
			g.unregister(c)
			c.close()
		}
	}
}

// Shutdown stops accepting connections, closes every live connection, waits
// for their goroutines to finish, and flushes both registries. It is safe to
// call more than once.
func (g *Gateway) Shutdown() {
	g.shutdown.Do(func() {
		g.Logger.Infof("[GATEWAY] shutting down (waiting for connections to close)")

		g.mu.Lock()
		g.closed = true
		g.mu.Unlock()

		if g.listener != nil {
			if err := g.listener.Close(); err != nil {
				g.Logger.Warnf("error closing listener: %s", err)
			}
		}

		for _, c := range g.snapshot() {
			c.close()
		}
		if !waitTimeout(&g.connWg, shutdownWait) {
			g.Logger.Warnf("timed out waiting for connections to close")
		}

		if err := g.LinkCodes.Persist(); err != nil {
			g.Logger.Errorf("%s", err)
		}
		if err := g.Clients.Persist(); err != nil {
			g.Logger.Errorf("%s", err)
		}

		g.Logger.Infof("[GATEWAY] exited")
	})
}

func (g *Gateway) register(c *Connection) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.connections[c] = struct{}{}
}

func (g *Gateway) unregister(c *Connection) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.connections, c)
}

// snapshot copies the live connection set so broadcasts can iterate without
// holding the lock across socket writes.
func (g *Gateway) snapshot() []*Connection {
	g.mu.Lock()
	defer g.mu.Unlock()

	conns := make([]*Connection, 0, len(g.connections))
	for c := range g.connections {
		conns = append(conns, c)
	}
	return conns
}

func (g *Gateway) connectionCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.connections)
}

func (g *Gateway) isClosed() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.closed
}

func waitTimeout(wg *sync.WaitGroup, timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}
