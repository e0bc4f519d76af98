package busadapter

import (
	"context"
	"testing"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/stretchr/testify/require"

	"github.com/ratbagd/ratbagd/internal/actor"
	"github.com/ratbagd/ratbagd/internal/capability"
	"github.com/ratbagd/ratbagd/internal/hidraw"
	"github.com/ratbagd/ratbagd/internal/logging"
	"github.com/ratbagd/ratbagd/internal/raterr"
	"github.com/ratbagd/ratbagd/internal/state"
)

// fakeDriver drives a real actor through probe/mutate/commit without any
// wire protocol, mirroring the actor package's own test fixture.
type fakeDriver struct {
	caps      capability.Capabilities
	profiles  []*state.Profile
	commitErr error
}

func (f *fakeDriver) Probe(ctx context.Context, io hidraw.IO) (capability.Capabilities, error) {
	return f.caps, nil
}
func (f *fakeDriver) LoadProfiles(ctx context.Context, io hidraw.IO, caps capability.Capabilities) ([]*state.Profile, error) {
	return f.profiles, nil
}
func (f *fakeDriver) Commit(ctx context.Context, io hidraw.IO, diff state.DiffTree) error {
	return f.commitErr
}

func testCapabilities() capability.Capabilities {
	return capability.Capabilities{
		ProfileCount: 1, ResolutionCount: 2, ButtonCount: 1, LEDCount: 1,
		DPI:      capability.Range{Min: 400, Max: 1200, Step: 400},
		Features: capability.NewSet(capability.FeatureLEDOff, capability.FeatureLEDSolid, capability.FeatureAngleSnapping, capability.FeatureButtonLogical),
	}
}

func testDeviceProfile() *state.Profile {
	return &state.Profile{
		Index: 0, Name: "Default", Enabled: true, Active: true, ReportRate: 1000,
		Resolutions: []*state.Resolution{
			{Index: 0, DPIX: 800, DPIY: 800, Enabled: true, Active: true, IsDefault: true},
			{Index: 1, DPIX: 1200, DPIY: 1200, Enabled: true},
		},
		Buttons: []*state.Button{{Index: 0, Action: state.NoAction{}}},
		LEDs:    []*state.LED{{Index: 0, Mode: state.LEDOff}},
	}
}

func newTestActorForBus(t *testing.T) (*actor.Actor, context.CancelFunc) {
	drv := &fakeDriver{caps: testCapabilities(), profiles: []*state.Profile{testDeviceProfile()}}
	return newTestActorForBusWithDriver(t, drv)
}

func newTestActorForBusWithDriver(t *testing.T, drv *fakeDriver) (*actor.Actor, context.CancelFunc) {
	stub := hidraw.NewStub(nil)
	a := actor.New(state.Identity{Sysname: "hidraw0", Name: "Test Mouse", Model: "TM1"}, stub, drv, logging.Discard())
	ctx, cancel := context.WithCancel(context.Background())
	go a.Run(ctx)

	// block until probe completes so property reads below don't race it
	reply := make(chan state.Snapshot, 1)
	deadline := time.After(time.Second)
	for {
		a.Send(actor.ReadSnapshot{Reply: reply})
		select {
		case s := <-reply:
			if len(s.Profiles) > 0 {
				return a, cancel
			}
		case <-deadline:
			t.Fatal("actor never finished probing")
		}
	}
}

func TestDevicePathBuilders(t *testing.T) {
	require.Equal(t, dbus.ObjectPath("/org/ratbag/ratbagd/Device0"), devicePath(0))
	require.Equal(t, dbus.ObjectPath("/org/ratbag/ratbagd/Device0/Profile1"), profilePath(0, 1))
	require.Equal(t, dbus.ObjectPath("/org/ratbag/ratbagd/Device0/Profile1/Resolution2"), resolutionPath(0, 1, 2))
	require.Equal(t, dbus.ObjectPath("/org/ratbag/ratbagd/Device0/Profile1/Button3"), buttonPath(0, 1, 3))
	require.Equal(t, dbus.ObjectPath("/org/ratbag/ratbagd/Device0/Profile1/Led4"), ledPath(0, 1, 4))
}

func TestCapabilityBitmap(t *testing.T) {
	caps := capability.Capabilities{Features: capability.NewSet(capability.FeatureLEDOff, capability.FeatureAngleSnapping)}
	bits := capabilityBitmap(caps)
	require.NotZero(t, bits&(1<<uint(capability.FeatureLEDOff)))
	require.NotZero(t, bits&(1<<uint(capability.FeatureAngleSnapping)))
	require.Zero(t, bits&(1<<uint(capability.FeatureLEDCycle)))
}

func TestEnumerateRange(t *testing.T) {
	require.Equal(t, []int{400, 800, 1200}, enumerateRange(capability.Range{Min: 400, Max: 1200, Step: 400}))
	require.Nil(t, enumerateRange(capability.Range{Min: 800, Max: 400, Step: 100}))
}

func TestEnumerateRangeCapsDegenerateStep(t *testing.T) {
	values := enumerateRange(capability.Range{Min: 0, Max: 1 << 30, Step: 0})
	require.Len(t, values, 4096)
}

func TestSupportedLEDModes(t *testing.T) {
	caps := capability.Capabilities{Features: capability.NewSet(capability.FeatureLEDOff, capability.FeatureLEDSolid)}
	modes := supportedLEDModes(caps)
	require.ElementsMatch(t, []string{"off", "solid"}, modes)
}

func TestDescribeAction(t *testing.T) {
	require.Equal(t, "none", describeAction(state.NoAction{}))
	require.Equal(t, "button", describeAction(state.LogicalButtonAction{Button: 3}))
	require.Equal(t, "special", describeAction(state.SpecialAction{Code: 1}))
	require.Equal(t, "key", describeAction(state.KeyAction{Keycode: 30}))
	require.Equal(t, "macro", describeAction(state.MacroAction{Events: []state.MacroEvent{{Keycode: 30, Press: true}}}))
}

func TestToDBusErrorMapsRaterrKind(t *testing.T) {
	err := raterr.New("busadapter", raterr.OutOfRange, nil)
	derr := toDBusError(err)
	require.Equal(t, errorNamePrefix+"OutOfRange", derr.Name)
}

func TestToDBusErrorFallsBackToProtocolError(t *testing.T) {
	derr := toDBusError(context.DeadlineExceeded)
	require.Equal(t, errorNamePrefix+"ProtocolError", derr.Name)
}

func TestDeviceObjectGetAllAndCommit(t *testing.T) {
	a, cancel := newTestActorForBus(t)
	defer cancel()

	dev := &deviceObject{act: a, index: 0}
	props, derr := dev.GetAll(ifacePrefix + "Device")
	require.Nil(t, derr)
	require.Equal(t, "Test Mouse", props["Name"].Value())
	require.Equal(t, "TM1", props["Model"].Value())
	require.Len(t, props["Profiles"].Value().([]dbus.ObjectPath), 1)

	require.Nil(t, dev.Commit())
}

func TestResolutionObjectSetAndGetAll(t *testing.T) {
	a, cancel := newTestActorForBus(t)
	defer cancel()

	res := &resolutionObject{act: a, profile: 0, slot: 0}
	require.Nil(t, res.SetResolution(1200, 1200))

	props, derr := res.GetAll(ifacePrefix + "Resolution")
	require.Nil(t, derr)
	require.Equal(t, 1200, props["DpiX"].Value())
	require.Equal(t, []int{400, 800, 1200}, props["DpiList"].Value())
	require.Equal(t, false, props["IsUnknown"].Value())
}

// TestResolutionObjectSurfacesUnknownAfterPartialCommit exercises the bus
// layer's side of a PartialCommit: the mutated resolution must report
// IsUnknown over the bus alongside its possibly stale value.
func TestResolutionObjectSurfacesUnknownAfterPartialCommit(t *testing.T) {
	drv := &fakeDriver{
		caps: testCapabilities(), profiles: []*state.Profile{testDeviceProfile()},
		commitErr: raterr.New("Commit", raterr.PartialCommit, nil),
	}
	a, cancel := newTestActorForBusWithDriver(t, drv)
	defer cancel()

	res := &resolutionObject{act: a, profile: 0, slot: 0}
	require.Nil(t, res.SetResolution(1200, 1200))

	dev := &deviceObject{act: a, index: 0}
	require.NotNil(t, dev.Commit())

	props, derr := res.GetAll(ifacePrefix + "Resolution")
	require.Nil(t, derr)
	require.Equal(t, true, props["IsUnknown"].Value())
}

func TestProfileObjectSetNameAndEnable(t *testing.T) {
	a, cancel := newTestActorForBus(t)
	defer cancel()

	prof := &profileObject{act: a, devIdx: 0, profile: 0}
	require.Nil(t, prof.SetName("Gaming"))
	require.Nil(t, prof.Disable())

	props, derr := prof.GetAll(ifacePrefix + "Profile")
	require.Nil(t, derr)
	require.Equal(t, "Gaming", props["Name"].Value())
	require.Equal(t, false, props["Enabled"].Value())
}

func TestButtonObjectDisableMapsToNoAction(t *testing.T) {
	a, cancel := newTestActorForBus(t)
	defer cancel()

	btn := &buttonObject{act: a, profile: 0, slot: 0}
	require.Nil(t, btn.SetButtonMapping(5))
	require.Nil(t, btn.Disable())

	props, derr := btn.GetAll(ifacePrefix + "Button")
	require.Nil(t, derr)
	require.Equal(t, "none", props["Mapping"].Value())
}

func TestLedObjectGetAllExposesModes(t *testing.T) {
	a, cancel := newTestActorForBus(t)
	defer cancel()

	led := &ledObject{act: a, profile: 0, slot: 0}
	require.Nil(t, led.SetMode("solid"))

	props, derr := led.GetAll(ifacePrefix + "Led")
	require.Nil(t, derr)
	require.Equal(t, "solid", props["Mode"].Value())
	require.ElementsMatch(t, []string{"off", "solid"}, props["Modes"].Value())
}
