package actor

import "github.com/ratbagd/ratbagd/internal/state"

// command is the closed set of messages the bus adapter and supervisor
// send to a running actor, each carrying its own reply channel.
type command interface {
	isCommand()
}

// Mutate applies one state.Mutation to the device's pending tree and
// replies with the validation result; it never touches the wire.
type Mutate struct {
	Mutation state.Mutation
	Reply    chan error
}

func (Mutate) isCommand() {}

// Commit flushes the current diff to the device via the driver, then
// calls commit_success or commit_partial_failure on the state model
// depending on the outcome.
type Commit struct {
	Reply chan error
}

func (Commit) isCommand() {}

// Reload discards pending and last-committed state and re-reads the
// device from scratch via the driver's LoadProfiles.
type Reload struct {
	Reply chan error
}

func (Reload) isCommand() {}

// ReadSnapshot returns a deep, immutable copy of current state. It is
// safe to send even while a Commit is outstanding on a future send —
// the actor serialises all commands, so a ReadSnapshot queued behind a
// Commit simply waits its turn.
type ReadSnapshot struct {
	Reply chan state.Snapshot
}

func (ReadSnapshot) isCommand() {}

// Shutdown asks the actor to close its hidraw.IO and exit. Reply closes
// once the actor has fully torn down (reached Gone).
type Shutdown struct {
	Reply chan struct{}
}

func (Shutdown) isCommand() {}
