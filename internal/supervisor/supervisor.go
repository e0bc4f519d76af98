// Package supervisor wires the hotplug discovery pipeline to actor
// lifecycle and bus publication: enumerate existing hidraw nodes, match
// each against the device database, spawn an actor and publish it,
// then follow the netlink add/remove stream for as long as the process
// runs.
package supervisor

import (
	"context"
	"sync"

	"github.com/godbus/dbus/v5"
	"github.com/sirupsen/logrus"

	"github.com/ratbagd/ratbagd/internal/actor"
	"github.com/ratbagd/ratbagd/internal/devicedb"
	"github.com/ratbagd/ratbagd/internal/driver"
	"github.com/ratbagd/ratbagd/internal/hidraw"
	"github.com/ratbagd/ratbagd/internal/hotplug"
	"github.com/ratbagd/ratbagd/internal/state"
)

const featureReportSize = 20

// publisher is the subset of *busadapter.Manager the supervisor depends
// on, narrowed to an interface so tests can substitute a fake bus.
type publisher interface {
	Publish(sysname string, act *actor.Actor) (dbus.ObjectPath, error)
	Withdraw(sysname string)
}

// Supervisor owns the lifetime of every per-device actor, driven by
// hotplug events and resolved against the device database.
type Supervisor struct {
	db      *devicedb.Database
	manager publisher
	log     *logrus.Entry

	// Overridable for tests; default to the real udev/hidraw/driver-
	// registry implementations.
	enumerate  func() ([]hotplug.Event, error)
	watch      func(ctx context.Context) (<-chan hotplug.Event, error)
	openDevice func(path string) (hidraw.IO, error)
	newDriver  func(name string, quirks map[string]any) (driver.Driver, error)

	mu      sync.Mutex
	active  map[string]*actor.Actor
	pending map[string]*pendingReplace
}

// pendingReplace holds a re-add event for a sysname whose previous actor
// hasn't finished tearing down yet, so the new actor is spawned only
// after the old one reaches Gone — never two actors racing over the
// same sysname.
type pendingReplace struct {
	event hotplug.Event
}

// New builds a Supervisor over an already-loaded device database and a
// published bus Manager.
func New(db *devicedb.Database, manager publisher, log *logrus.Entry) *Supervisor {
	return &Supervisor{
		db:      db,
		manager: manager,
		log:     log,
		active:  make(map[string]*actor.Actor),
		pending: make(map[string]*pendingReplace),

		enumerate: hotplug.Enumerate,
		watch:     hotplug.Watch,
		openDevice: func(path string) (hidraw.IO, error) {
			return hidraw.Open(path, featureReportSize)
		},
		newDriver: driver.New,
	}
}

// Run enumerates existing hidraw nodes, spawns actors for every match,
// then follows the netlink stream until ctx is cancelled.
func (s *Supervisor) Run(ctx context.Context) error {
	existing, err := s.enumerate()
	if err != nil {
		return err
	}
	for _, ev := range existing {
		s.handleEvent(ctx, ev)
	}

	events, err := s.watch(ctx)
	if err != nil {
		return err
	}
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			s.handleEvent(ctx, ev)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (s *Supervisor) handleEvent(ctx context.Context, ev hotplug.Event) {
	switch ev.Kind {
	case hotplug.Add:
		s.handleAdd(ctx, ev)
	case hotplug.Remove:
		s.handleRemove(ev)
	}
}

func (s *Supervisor) handleAdd(ctx context.Context, ev hotplug.Event) {
	s.mu.Lock()
	if _, busy := s.active[ev.Sysname]; busy {
		s.pending[ev.Sysname] = &pendingReplace{event: ev}
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	s.spawn(ctx, ev)
}

func (s *Supervisor) spawn(ctx context.Context, ev hotplug.Event) {
	entry, ok := s.db.Lookup(ev.Bus, ev.VendorID, ev.ProductID, ev.Name)
	if !ok {
		s.log.WithField("sysname", ev.Sysname).Debug("no device database match, ignoring")
		return
	}

	drv, err := s.newDriver(entry.Driver, entry.Quirks)
	if err != nil {
		s.log.WithError(err).WithField("sysname", ev.Sysname).Warn("no such driver dialect")
		return
	}

	io, err := s.openDevice(ev.DevicePath)
	if err != nil {
		s.log.WithError(err).WithField("sysname", ev.Sysname).Warn("failed to open hidraw node")
		return
	}

	identity := state.Identity{
		Sysname:    ev.Sysname,
		BusType:    ev.Bus,
		VendorID:   ev.VendorID,
		ProductID:  ev.ProductID,
		DevicePath: ev.DevicePath,
		Name:       ev.Name,
		Model:      entry.Name,
	}

	act := actor.New(identity, io, drv, s.log.WithField("sysname", ev.Sysname))
	act.SetCapabilityOverride(entry.ApplyOverrides)

	s.mu.Lock()
	s.active[ev.Sysname] = act
	s.mu.Unlock()

	actorCtx, cancel := context.WithCancel(ctx)
	go act.Run(actorCtx)
	go s.watchActor(ev.Sysname, act, cancel)

	// Wait for the initial probe to resolve before publishing: a failed
	// probe takes the actor straight to Gone without ever serving a
	// command, so publishing unconditionally here would hand out a bus
	// path for a device that can never answer a ReadSnapshot.
	select {
	case <-act.Ready():
	case <-actorCtx.Done():
		return
	}
	if err := act.ProbeErr(); err != nil {
		s.log.WithError(err).WithField("sysname", ev.Sysname).Warn("probe failed, not publishing")
		return
	}

	if _, err := s.manager.Publish(ev.Sysname, act); err != nil {
		s.log.WithError(err).WithField("sysname", ev.Sysname).Warn("failed to publish device")
	}
}

// watchActor blocks until act reaches a terminal state, then withdraws
// its bus objects and spawns any re-add event that arrived while it was
// still tearing down.
func (s *Supervisor) watchActor(sysname string, act *actor.Actor, cancel context.CancelFunc) {
	<-act.Done()
	cancel()
	s.manager.Withdraw(sysname)

	s.mu.Lock()
	delete(s.active, sysname)
	replay, hasReplay := s.pending[sysname]
	if hasReplay {
		delete(s.pending, sysname)
	}
	s.mu.Unlock()

	if hasReplay {
		s.spawn(context.Background(), replay.event)
	}
}

func (s *Supervisor) handleRemove(ev hotplug.Event) {
	s.mu.Lock()
	act, ok := s.active[ev.Sysname]
	s.mu.Unlock()
	if !ok {
		return
	}
	reply := make(chan struct{})
	act.Send(actor.Shutdown{Reply: reply})
	<-reply
}
