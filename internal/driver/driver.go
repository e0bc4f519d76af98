// Package driver defines the uniform probe/load-profiles/commit
// capability surface every protocol dialect implements, and a registry
// dialects register themselves into by name, so the supervisor can
// resolve a concrete implementation from a single database-supplied tag
// without any runtime reflection.
package driver

import (
	"context"
	"fmt"
	"sync"

	"github.com/ratbagd/ratbagd/internal/capability"
	"github.com/ratbagd/ratbagd/internal/hidraw"
	"github.com/ratbagd/ratbagd/internal/state"
)

// Driver is the interface every protocol dialect implements.
type Driver interface {
	// Probe confirms the device speaks this dialect and discovers its
	// fixed counts and feature set. It must be side-effect-free on the
	// device's persistent state; fails Unsupported, ProtocolError, or
	// Disconnected.
	Probe(ctx context.Context, io hidraw.IO) (capability.Capabilities, error)

	// LoadProfiles reads the device's complete current state, with
	// Active/IsDefault flags populated correctly.
	LoadProfiles(ctx context.Context, io hidraw.IO, caps capability.Capabilities) ([]*state.Profile, error)

	// Commit applies the minimal set of writes derived from diff, in
	// the order the wire protocol requires, failing PartialCommit if a
	// mid-sequence write fails after earlier writes already landed.
	Commit(ctx context.Context, io hidraw.IO, diff state.DiffTree) error
}

// Factory constructs a fresh Driver instance, given the quirks map from
// a device database entry.
type Factory func(quirks map[string]any) Driver

var (
	registryMu sync.RWMutex
	registry   = map[string]Factory{}
)

// Register adds a dialect to the registry under name. Called from each
// dialect package's init().
func Register(name string, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = f
}

// New resolves name to a Driver instance. The supervisor calls this
// exactly once per actor spawn, with the name taken verbatim from the
// device database's match entry.
func New(name string, quirks map[string]any) (Driver, error) {
	registryMu.RLock()
	f, ok := registry[name]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("driver: no dialect registered as %q", name)
	}
	return f(quirks), nil
}

// Names returns the currently registered dialect names.
func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for n := range registry {
		names = append(names, n)
	}
	return names
}
