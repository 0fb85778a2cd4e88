package internal

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/winlogon/minechat/internal/core"
	"github.com/winlogon/minechat/internal/core/debug"
	"github.com/winlogon/minechat/internal/data"
	"github.com/winlogon/minechat/internal/gateway"
	"github.com/winlogon/minechat/internal/registry"
	"github.com/winlogon/minechat/internal/world"
)

// Controller is the main entrypoint for the gateway. It's responsible for
// initializing the shared resources (logging, storage, registries), wiring
// them into the Gateway and scheduler, and shutting everything down in order.
type Controller struct {
	Config *core.Config
	// World receives in-world announcements and relayed chat. When nil, a
	// log-backed implementation is used so the gateway can run standalone.
	World world.World

	logger *logrus.Logger
}

// Start runs the gateway until ctx is cancelled. Failure to acquire any
// startup resource (log file, storage, listening socket) is terminal and
// returned to the caller.
func (c *Controller) Start(ctx context.Context) error {
	var err error
	c.logger, err = core.NewLogger(c.Config)
	if err != nil {
		return fmt.Errorf("error initializing logger: %w", err)
	}

	if c.Config.Debugging.PprofEnabled {
		debug.StartPprofServer(c.logger, c.Config.Debugging.PprofPort)
	}

	store, err := data.Open(c.Config)
	if err != nil {
		return fmt.Errorf("error opening %s store: %w", c.Config.Database.Engine, err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			c.logger.Warnf("%s", err)
		}
	}()

	linkCodes := registry.NewLinkCodeRegistry(store)
	clients := registry.NewClientRegistry(store)
	if err := linkCodes.Restore(); err != nil {
		return err
	}
	if err := clients.Restore(); err != nil {
		return err
	}
	c.logger.Infof("restored %d link code(s) and %d client binding(s)", linkCodes.Len(), clients.Len())

	w := c.World
	if w == nil {
		w = world.NewLogWorld(c.logger)
	}

	gw := gateway.New(c.Config, c.logger, w, linkCodes, clients)
	if err := gw.Start(ctx); err != nil {
		return err
	}

	scheduler := gateway.NewPersistenceScheduler(linkCodes, clients, c.Config.FlushInterval(), c.logger)
	scheduler.Start()

	<-ctx.Done()

	scheduler.Stop()
	gw.Shutdown()
	return ctx.Err()
}
