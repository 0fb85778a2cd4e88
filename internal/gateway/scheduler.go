package gateway

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/winlogon/minechat/internal/registry"
)

// PersistenceScheduler periodically expires stale link codes and flushes both
// registries to storage. It runs on its own goroutine so that a slow flush
// never blocks the accept loop or any connection. Persistence failures are
// logged; the in-memory registries stay authoritative until the next
// successful flush.
type PersistenceScheduler struct {
	LinkCodes *registry.LinkCodeRegistry
	Clients   *registry.ClientRegistry
	Interval  time.Duration
	Logger    *logrus.Logger

	stop     chan struct{}
	stopOnce sync.Once
}

func NewPersistenceScheduler(linkCodes *registry.LinkCodeRegistry, clients *registry.ClientRegistry,
	interval time.Duration, logger *logrus.Logger) *PersistenceScheduler {
	return &PersistenceScheduler{
		LinkCodes: linkCodes,
		Clients:   clients,
		Interval:  interval,
		Logger:    logger,
		stop:      make(chan struct{}),
	}
}

// Start launches the periodic sweep/flush loop.
func (s *PersistenceScheduler) Start() {
	go s.run()
}

func (s *PersistenceScheduler) run() {
	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.RunOnce()
		}
	}
}

// RunOnce performs a single sweep-and-flush pass.
func (s *PersistenceScheduler) RunOnce() {
	s.LinkCodes.SweepExpired()
	if err := s.LinkCodes.Persist(); err != nil {
		s.Logger.Warnf("%s", err)
	}
	if err := s.Clients.Persist(); err != nil {
		s.Logger.Warnf("%s", err)
	}
}

// Stop halts the loop. Safe to call more than once.
func (s *PersistenceScheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
}
