package actor

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/ratbagd/ratbagd/internal/capability"
	"github.com/ratbagd/ratbagd/internal/driver"
	"github.com/ratbagd/ratbagd/internal/hidraw"
	"github.com/ratbagd/ratbagd/internal/raterr"
	"github.com/ratbagd/ratbagd/internal/state"
)

const commandQueueCapacity = 64

// Actor owns one device's hidraw.IO, driver.Driver, and state.Device
// exclusively, processing commands off a single bounded FIFO channel.
type Actor struct {
	identity state.Identity
	io       hidraw.IO
	drv      driver.Driver
	device   *state.Device
	log      *logrus.Entry

	commands chan command
	done     chan struct{}

	// ready closes once the initial probe/load_profiles sequence has
	// resolved, successfully or not. probeErr is only meaningful after
	// ready has closed.
	ready    chan struct{}
	probeErr error

	st actorState

	// capOverride, when set, widens or narrows a freshly probed
	// Capabilities before it becomes part of the device model — the
	// device database's capability_overrides applied by the supervisor.
	capOverride func(capability.Capabilities) capability.Capabilities
}

// New constructs an actor in the Spawned state. The caller must call Run
// in its own goroutine to actually probe the device and start serving
// commands.
func New(identity state.Identity, io hidraw.IO, drv driver.Driver, log *logrus.Entry) *Actor {
	return &Actor{
		identity: identity,
		io:       io,
		drv:      drv,
		log:      log,
		commands: make(chan command, commandQueueCapacity),
		done:     make(chan struct{}),
		ready:    make(chan struct{}),
		st:       Spawned,
	}
}

// State returns the actor's current lifecycle state. Safe to call from
// any goroutine only because actorState is a plain int read; callers
// wanting a consistent view alongside device data should use
// ReadSnapshot instead.
func (a *Actor) State() actorState { return a.st }

// Done closes once the actor reaches Gone, used by the supervisor's
// dedup logic to know when it is safe to spawn a replacement actor for
// the same sysname.
func (a *Actor) Done() <-chan struct{} { return a.done }

// Ready closes once probe and load_profiles have resolved, whether or
// not they succeeded. Callers that must not act on the device before it
// is confirmed usable (publishing it on the bus, for instance) should
// wait on this before touching anything else, then check ProbeErr.
func (a *Actor) Ready() <-chan struct{} { return a.ready }

// ProbeErr returns the error from the initial probe, if any. It is only
// meaningful once Ready has closed; before that it is always nil.
func (a *Actor) ProbeErr() error { return a.probeErr }

// SetCapabilityOverride installs a function applied to the driver's
// probed Capabilities before the device model is built. Must be called
// before Run.
func (a *Actor) SetCapabilityOverride(fn func(capability.Capabilities) capability.Capabilities) {
	a.capOverride = fn
}

// Send enqueues a command, blocking if the queue is full. Shutdown uses
// this: callers that must guarantee delivery (and can tolerate a brief
// wait) should use it instead of TrySend.
func (a *Actor) Send(cmd command) {
	a.commands <- cmd
}

// TrySend enqueues a command without blocking. If the queue is full it
// returns a Busy error immediately instead of waiting for room, per the
// back-pressure contract every bus-facing command path must honor.
func (a *Actor) TrySend(cmd command) error {
	select {
	case a.commands <- cmd:
		return nil
	default:
		return raterr.New("send", raterr.Busy, nil)
	}
}

// Run probes the device, loads its initial state, then serves commands
// until ctx is cancelled or a Shutdown command is processed. An I/O
// error from the driver, including a Disconnected one, is returned to
// the command's caller and does not stop the actor. It is meant to be
// called as `go actor.Run(ctx)`.
func (a *Actor) Run(ctx context.Context) {
	defer close(a.done)

	a.st = Probing
	caps, profiles, err := a.probe(ctx)
	if err != nil {
		a.st, _ = transition(a.st, eventProbeFailed)
		a.probeErr = err
		close(a.ready)
		a.log.WithError(err).Warn("probe failed")
		return
	}
	a.device = state.New(a.identity, caps, profiles)
	a.st, _ = transition(a.st, eventProbeOK)
	close(a.ready)
	a.log.Info("device ready")

	for {
		select {
		case cmd := <-a.commands:
			a.handle(ctx, cmd)
			if a.st == Gone {
				return
			}
		case <-ctx.Done():
			a.teardown()
			return
		}
	}
}

func (a *Actor) probe(ctx context.Context) (capability.Capabilities, []*state.Profile, error) {
	caps, err := a.drv.Probe(ctx, a.io)
	if err != nil {
		return capability.Capabilities{}, nil, err
	}
	if a.capOverride != nil {
		caps = a.capOverride(caps)
	}
	profiles, err := a.drv.LoadProfiles(ctx, a.io, caps)
	if err != nil {
		return capability.Capabilities{}, nil, err
	}
	return caps, profiles, nil
}

func (a *Actor) handle(ctx context.Context, cmd command) {
	var busyErr error
	a.st, busyErr = transition(a.st, eventCommandStart)
	if busyErr != nil {
		a.replyBusy(cmd)
		return
	}

	switch c := cmd.(type) {
	case Mutate:
		c.Reply <- a.device.Apply(c.Mutation)
	case Commit:
		c.Reply <- a.commit(ctx)
	case Reload:
		c.Reply <- a.reload(ctx)
	case ReadSnapshot:
		c.Reply <- a.device.Snapshot()
	case Shutdown:
		a.teardown()
		close(c.Reply)
		return
	}

	a.st, _ = transition(a.st, eventCommandDone)
}

func (a *Actor) replyBusy(cmd command) {
	err := raterr.New("handle", raterr.Busy, nil)
	switch c := cmd.(type) {
	case Mutate:
		c.Reply <- err
	case Commit:
		c.Reply <- err
	case Reload:
		c.Reply <- err
	case ReadSnapshot:
		close(c.Reply)
	case Shutdown:
		close(c.Reply)
	}
}

func (a *Actor) commit(ctx context.Context) error {
	diff := a.device.Diff()
	if diff.Empty() {
		return nil
	}
	if err := a.drv.Commit(ctx, a.io, diff); err != nil {
		if rerr, ok := err.(*raterr.Error); ok && rerr.Kind == raterr.PartialCommit {
			a.device.CommitPartialFailure(diff)
		}
		return err
	}
	a.device.CommitSuccess()
	return nil
}

func (a *Actor) reload(ctx context.Context) error {
	profiles, err := a.drv.LoadProfiles(ctx, a.io, a.device.Capabilities)
	if err != nil {
		return err
	}
	a.device.Reload(profiles)
	return nil
}

func (a *Actor) teardown() {
	a.st, _ = transition(a.st, eventDisconnected)
	if err := a.io.Close(); err != nil {
		a.log.WithError(err).Debug("close during teardown")
	}
	a.st, _ = transition(a.st, eventTeardownComplete)
}
