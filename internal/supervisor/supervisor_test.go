package supervisor

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/stretchr/testify/require"

	"github.com/ratbagd/ratbagd/internal/actor"
	"github.com/ratbagd/ratbagd/internal/capability"
	"github.com/ratbagd/ratbagd/internal/devicedb"
	"github.com/ratbagd/ratbagd/internal/driver"
	"github.com/ratbagd/ratbagd/internal/hidraw"
	"github.com/ratbagd/ratbagd/internal/hotplug"
	"github.com/ratbagd/ratbagd/internal/logging"
	"github.com/ratbagd/ratbagd/internal/raterr"
	"github.com/ratbagd/ratbagd/internal/state"
)

const sampleDB = `
devices:
  - name: Test Mouse
    match:
      bus: usb
      vendor_id: 0x1234
      product_id: 0x5678
    driver: faketest
  - name: Fails Probe
    match:
      bus: usb
      vendor_id: 0x1234
      product_id: 0x9999
    driver: faketest-fail
`

func loadTestDB(t *testing.T) *devicedb.Database {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "builtin.yaml"), []byte(sampleDB), 0o644))
	db, err := devicedb.Load(dir)
	require.NoError(t, err)
	return db
}

// fakePublisher records Publish/Withdraw calls instead of touching a
// real dbus connection.
type fakePublisher struct {
	mu        sync.Mutex
	published []string
	withdrawn []string
}

func (p *fakePublisher) Publish(sysname string, act *actor.Actor) (dbus.ObjectPath, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.published = append(p.published, sysname)
	return dbus.ObjectPath("/org/ratbag/ratbagd/Device0"), nil
}

func (p *fakePublisher) Withdraw(sysname string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.withdrawn = append(p.withdrawn, sysname)
}

func (p *fakePublisher) publishCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.published)
}

func (p *fakePublisher) withdrawCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.withdrawn)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition never became true")
}

func fakeOpenDevice(path string) (hidraw.IO, error) {
	return hidraw.NewStub(nil), nil
}

func testCaps() capability.Capabilities {
	return capability.Capabilities{
		ProfileCount: 1, ResolutionCount: 1, ButtonCount: 1, LEDCount: 1,
		DPI: capability.Range{Min: 400, Max: 3200, Step: 100},
	}
}

func testProfiles() []*state.Profile {
	return []*state.Profile{{
		Index: 0, Name: "Default", Enabled: true, Active: true,
		Resolutions: []*state.Resolution{{Index: 0, DPIX: 800, DPIY: 800, Enabled: true, Active: true, IsDefault: true}},
		Buttons:     []*state.Button{{Index: 0, Action: state.NoAction{}}},
		LEDs:        []*state.LED{{Index: 0, Mode: state.LEDOff}},
	}}
}

// stubDriver satisfies driver.Driver without any wire traffic, enough to
// take an actor through probe and shutdown.
type stubDriver struct{}

func (stubDriver) Probe(ctx context.Context, io hidraw.IO) (capability.Capabilities, error) {
	return testCaps(), nil
}
func (stubDriver) LoadProfiles(ctx context.Context, io hidraw.IO, caps capability.Capabilities) ([]*state.Profile, error) {
	return testProfiles(), nil
}
func (stubDriver) Commit(ctx context.Context, io hidraw.IO, diff state.DiffTree) error { return nil }

// failingProbeDriver always fails Probe, to exercise the path where a
// device is never published and must not wedge the supervisor's event
// loop for devices that come after it.
type failingProbeDriver struct{}

func (failingProbeDriver) Probe(ctx context.Context, io hidraw.IO) (capability.Capabilities, error) {
	return capability.Capabilities{}, raterr.New("Probe", raterr.Unsupported, nil)
}
func (failingProbeDriver) LoadProfiles(ctx context.Context, io hidraw.IO, caps capability.Capabilities) ([]*state.Profile, error) {
	return nil, nil
}
func (failingProbeDriver) Commit(ctx context.Context, io hidraw.IO, diff state.DiffTree) error {
	return nil
}

func addEvent(sysname string) hotplug.Event {
	return hotplug.Event{Kind: hotplug.Add, Sysname: sysname, DevicePath: "/dev/" + sysname, Bus: "usb", VendorID: 0x1234, ProductID: 0x5678, Name: "Test Mouse"}
}

func addFailingProbeEvent(sysname string) hotplug.Event {
	return hotplug.Event{Kind: hotplug.Add, Sysname: sysname, DevicePath: "/dev/" + sysname, Bus: "usb", VendorID: 0x1234, ProductID: 0x9999, Name: "Fails Probe"}
}

func removeEvent(sysname string) hotplug.Event {
	return hotplug.Event{Kind: hotplug.Remove, Sysname: sysname}
}

func newTestSupervisor(t *testing.T, pub *fakePublisher) (*Supervisor, chan hotplug.Event) {
	events := make(chan hotplug.Event, 8)
	s := New(loadTestDB(t), pub, logging.Discard())
	s.enumerate = func() ([]hotplug.Event, error) { return nil, nil }
	s.watch = func(ctx context.Context) (<-chan hotplug.Event, error) { return events, nil }
	s.openDevice = fakeOpenDevice
	s.newDriver = func(name string, quirks map[string]any) (driver.Driver, error) {
		if name == "faketest-fail" {
			return failingProbeDriver{}, nil
		}
		return stubDriver{}, nil
	}
	return s, events
}

func TestSupervisorSpawnsMatchedDevice(t *testing.T) {
	pub := &fakePublisher{}
	s, events := newTestSupervisor(t, pub)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	events <- addEvent("hidraw0")
	waitFor(t, func() bool { return pub.publishCount() == 1 })
	require.Equal(t, []string{"hidraw0"}, pub.published)
}

func TestSupervisorIgnoresUnmatchedDevice(t *testing.T) {
	pub := &fakePublisher{}
	s, events := newTestSupervisor(t, pub)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	ev := addEvent("hidraw1")
	ev.VendorID = 0xDEAD
	events <- ev

	time.Sleep(50 * time.Millisecond)
	require.Equal(t, 0, pub.publishCount())
}

func TestSupervisorDedupsReAddAndReplaysAfterTeardown(t *testing.T) {
	pub := &fakePublisher{}
	s, events := newTestSupervisor(t, pub)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	events <- addEvent("hidraw0")
	waitFor(t, func() bool { return pub.publishCount() == 1 })

	// A re-add while the first actor is still active must be held as a
	// pending replace, not spawn a second actor immediately.
	events <- addEvent("hidraw0")
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, 1, pub.publishCount())

	s.mu.Lock()
	_, hasPending := s.pending["hidraw0"]
	s.mu.Unlock()
	require.True(t, hasPending)

	events <- removeEvent("hidraw0")
	waitFor(t, func() bool { return pub.withdrawCount() == 1 })
	waitFor(t, func() bool { return pub.publishCount() == 2 })

	require.Equal(t, []string{"hidraw0", "hidraw0"}, pub.published)
}

// TestSupervisorProbeFailureDoesNotWedgeEventLoop reproduces the
// deadlock a maintainer flagged: a device whose probe fails must never
// be published, and the event loop must keep serving devices that come
// after it instead of hanging forever waiting on the failed one.
func TestSupervisorProbeFailureDoesNotWedgeEventLoop(t *testing.T) {
	pub := &fakePublisher{}
	s, events := newTestSupervisor(t, pub)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	events <- addFailingProbeEvent("hidraw-fails-probe")
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, 0, pub.publishCount())

	// A second, independent spawn must still go through afterwards: proof
	// the event loop never wedged on the first device's failed probe.
	events <- addEvent("hidraw-ok")
	waitFor(t, func() bool { return pub.publishCount() == 1 })
	require.Equal(t, []string{"hidraw-ok"}, pub.published)
}

func TestSupervisorRemoveOfUnknownSysnameIsNoop(t *testing.T) {
	pub := &fakePublisher{}
	s, events := newTestSupervisor(t, pub)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	events <- removeEvent("never-seen")
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, 0, pub.withdrawCount())
}
