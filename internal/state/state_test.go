package state

import (
	"testing"

	"github.com/ratbagd/ratbagd/internal/capability"
	"github.com/stretchr/testify/require"
)

func testCapabilities() capability.Capabilities {
	return capability.Capabilities{
		Features: capability.NewSet(
			capability.FeatureProfile,
			capability.FeatureReportRate,
			capability.FeatureButtonLogical,
			capability.FeatureButtonMacro,
			capability.FeatureLEDSolid,
			capability.FeatureDistinctDefaultResolution,
		),
		ProfileCount:    1,
		ResolutionCount: 3,
		ButtonCount:     1,
		LEDCount:        1,
		MacroMaxLength:  4,
		DPI:             capability.Range{Min: 400, Max: 3200, Step: 100},
		ReportRates:     capability.DiscreteSet{125, 500, 1000},
		DebounceTime:    capability.DiscreteSet{0, 4, 8},
	}
}

func testDevice() *Device {
	profile := &Profile{
		Index: 0, Name: "default", Enabled: true, Active: true, ReportRate: 1000,
		Resolutions: []*Resolution{
			{Index: 0, DPIX: 400, DPIY: 400, Enabled: true},
			{Index: 1, DPIX: 800, DPIY: 800, Enabled: true, Active: true, IsDefault: true},
			{Index: 2, DPIX: 1600, DPIY: 1600, Enabled: true},
		},
		Buttons: []*Button{{Index: 0, Action: NoAction{}}},
		LEDs:    []*LED{{Index: 0, Mode: LEDOff}},
	}
	return New(Identity{Sysname: "hidraw0"}, testCapabilities(), []*Profile{profile})
}

func TestExactlyOneActiveInvariant(t *testing.T) {
	d := testDevice()
	snap := d.Snapshot()
	activeResolutions := 0
	for _, r := range snap.Profiles[0].Resolutions {
		if r.Active {
			activeResolutions++
		}
	}
	require.Equal(t, 1, activeResolutions)
	require.True(t, snap.Profiles[0].Active)
}

func TestSetDPIAndCommit(t *testing.T) {
	d := testDevice()
	require.NoError(t, d.Apply(ResolutionSet{Profile: 0, Slot: 2, DPIX: 3200, DPIY: 3200}))

	snap := d.Snapshot()
	require.Equal(t, 3200, snap.Profiles[0].Resolutions[2].DPIX)
	require.True(t, snap.Profiles[0].Dirty)

	diff := d.Diff()
	require.False(t, diff.Empty())
	d.CommitSuccess()

	snap = d.Snapshot()
	require.False(t, snap.Profiles[0].Dirty)
}

func TestRejectOutOfRangeDPI(t *testing.T) {
	d := testDevice()
	err := d.Apply(ResolutionSet{Profile: 0, Slot: 0, DPIX: 5000, DPIY: 5000})
	require.Error(t, err)

	snap := d.Snapshot()
	require.Equal(t, 400, snap.Profiles[0].Resolutions[0].DPIX)
}

func TestMacroLengthLimit(t *testing.T) {
	d := testDevice()
	ok := make([]MacroEvent, 4)
	require.NoError(t, d.Apply(ButtonSetAction{Profile: 0, Slot: 0, Action: MacroAction{Events: ok}}))

	tooLong := make([]MacroEvent, 5)
	err := d.Apply(ButtonSetAction{Profile: 0, Slot: 0, Action: MacroAction{Events: tooLong}})
	require.Error(t, err)
}

func TestPartialCommitMarksUnknown(t *testing.T) {
	d := testDevice()
	require.NoError(t, d.Apply(LEDSetMode{Profile: 0, Slot: 0, Mode: LEDSolid}))
	diff := d.Diff()
	d.CommitPartialFailure(diff)

	require.True(t, d.UnknownLED(0, 0))
	snap := d.Snapshot()
	require.True(t, snap.Profiles[0].LEDs[0].Unknown)

	// Reload clears the fault.
	d.Reload(cloneProfiles(d.pending))
	require.False(t, d.UnknownLED(0, 0))
}

func TestDirtyClearsWhenValueRestored(t *testing.T) {
	d := testDevice()
	require.NoError(t, d.Apply(ProfileSetName{Profile: 0, Name: "changed"}))
	require.True(t, d.IsDirty(0))

	require.NoError(t, d.Apply(ProfileSetName{Profile: 0, Name: "default"}))
	require.False(t, d.IsDirty(0))
}

func TestSwitchActiveProfile(t *testing.T) {
	p0 := &Profile{Index: 0, Active: true, ReportRate: 1000}
	p1 := &Profile{Index: 1, Active: false, ReportRate: 1000}
	d := New(Identity{Sysname: "hidraw0"}, testCapabilities(), []*Profile{p0, p1})

	require.NoError(t, d.Apply(ProfileSetActive{Profile: 1}))
	d.CommitSuccess()

	snap := d.Snapshot()
	require.False(t, snap.Profiles[0].Active)
	require.True(t, snap.Profiles[1].Active)
}
