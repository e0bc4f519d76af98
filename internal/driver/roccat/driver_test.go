package roccat

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ratbagd/ratbagd/internal/capability"
	"github.com/ratbagd/ratbagd/internal/hidraw"
	"github.com/ratbagd/ratbagd/internal/state"
)

var errFeatureWrite = errors.New("feature report write failed")

// stubIO is a minimal hidraw.IO exercising only the feature-report
// surface this dialect uses; Roccat controllers never go through
// Request/ReadReport at all.
type stubIO struct {
	pages map[byte][]byte
	fail  bool
}

func (s *stubIO) WriteReport([]byte) error                        { return nil }
func (s *stubIO) ReadReport(context.Context) ([]byte, error)       { return nil, nil }
func (s *stubIO) Close() error                                      { return nil }
func (s *stubIO) Request(context.Context, []byte, hidraw.Matcher, time.Duration, int) ([]byte, error) {
	return nil, nil
}

func (s *stubIO) FeatureReportGet(reportID byte, length int) ([]byte, error) {
	if reportID == regFirmwareVersion {
		return []byte{1, 0}, nil
	}
	page, ok := s.pages[reportID]
	if !ok {
		return make([]byte, length), nil
	}
	return page, nil
}

func (s *stubIO) FeatureReportSet(data []byte) error {
	if s.fail {
		return errFeatureWrite
	}
	s.pages[data[0]] = append([]byte(nil), data[1:]...)
	return nil
}

func testCaps() capability.Capabilities {
	return capability.Capabilities{ProfileCount: 3, ResolutionCount: 1, ButtonCount: 2, LEDCount: 1}
}

func TestProbeReadsFirmwareRegister(t *testing.T) {
	d := New(map[string]any{"profile_count": 3, "button_count": 2}).(*Dialect)
	io := &stubIO{pages: map[byte][]byte{}}
	caps, err := d.Probe(context.Background(), io)
	require.NoError(t, err)
	require.Equal(t, 3, caps.ProfileCount)
	require.Equal(t, 2, caps.ButtonCount)
}

func TestCommitThenLoadRoundTrip(t *testing.T) {
	caps := testCaps()
	io := &stubIO{pages: map[byte][]byte{}}
	d := &Dialect{profileCount: 3, resolutionCount: 1, buttonCount: 2, ledCount: 1}

	profile := &state.Profile{
		Index: 1, Name: "Work", Enabled: true, Active: true, ReportRate: 500,
		Resolutions: []*state.Resolution{{Index: 0, DPIX: 1200, DPIY: 1200, Enabled: true, Active: true}},
		Buttons: []*state.Button{
			{Index: 0, Action: state.LogicalButtonAction{Button: 3}},
			{Index: 1, Action: state.NoAction{}},
		},
		LEDs: []*state.LED{{Index: 0, Mode: state.LEDSolid, Primary: state.Color{G: 255}, Brightness: 200}},
	}
	diff := state.DiffTree{Profiles: []state.ProfileDiff{{Index: 1, Profile: profile}}}

	require.NoError(t, d.Commit(context.Background(), io, diff))

	loaded, err := d.LoadProfiles(context.Background(), io, caps)
	require.NoError(t, err)
	require.Equal(t, "Work", loaded[1].Name)
	require.Equal(t, 1200, loaded[1].Resolutions[0].DPIX)
	require.Equal(t, state.LogicalButtonAction{Button: 3}, loaded[1].Buttons[0].Action)
}

func TestCommitFailureIsPartial(t *testing.T) {
	io := &stubIO{pages: map[byte][]byte{}, fail: true}
	d := &Dialect{profileCount: 1, resolutionCount: 1, buttonCount: 1, ledCount: 1}
	profile := &state.Profile{Index: 0, Name: "X"}
	diff := state.DiffTree{Profiles: []state.ProfileDiff{{Index: 0, Profile: profile}}}
	err := d.Commit(context.Background(), io, diff)
	require.Error(t, err)
}
