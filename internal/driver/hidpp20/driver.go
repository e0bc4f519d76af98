package hidpp20

import (
	"context"
	"encoding/binary"

	"github.com/ratbagd/ratbagd/internal/capability"
	"github.com/ratbagd/ratbagd/internal/driver"
	"github.com/ratbagd/ratbagd/internal/hidraw"
	"github.com/ratbagd/ratbagd/internal/raterr"
	"github.com/ratbagd/ratbagd/internal/state"
)

const (
	fnGetCounts       = 0x0
	fnReadChunk       = 0x1
	fnWriteChunk      = 0x2
	fnWriteDirectory  = 0x3
	fnCommit          = 0x4

	chunkSize = 16
)

// Dialect implements driver.Driver for the HID++ 2.0 ONBOARD_PROFILES
// family.
type Dialect struct {
	deviceIndex byte
	features    map[uint16]byte
}

// New constructs a fresh HID++ 2.0 dialect instance. quirks may set
// "device_index" to override the default 0xFF addressing used by
// wired/receiverless mice.
func New(quirks map[string]any) driver.Driver {
	idx := byte(deviceIndexDefault)
	if v, ok := quirks["device_index"]; ok {
		if iv, ok := v.(int); ok {
			idx = byte(iv)
		}
	}
	return &Dialect{deviceIndex: idx, features: map[uint16]byte{}}
}

func init() {
	driver.Register("hidpp20", New)
}

func (d *Dialect) resolve(ctx context.Context, io hidraw.IO, featureID uint16) (byte, error) {
	if idx, ok := d.features[featureID]; ok {
		return idx, nil
	}
	idx, err := getFeatureIndex(ctx, io, d.deviceIndex, featureID)
	if err != nil {
		return 0, err
	}
	d.features[featureID] = idx
	return idx, nil
}

// Probe confirms the device answers Root feature queries and has the
// ONBOARD_PROFILES feature, reading its fixed counts, DPI range and macro
// length from the device; report rates and debounce times are fixed
// tables of this dialect. It issues no writes.
func (d *Dialect) Probe(ctx context.Context, io hidraw.IO) (capability.Capabilities, error) {
	// Root is always feature index 0 by definition; confirm the device
	// answers it at all before trusting anything else it says.
	if _, err := call(ctx, io, d.deviceIndex, featureRoot, 0x00, 0, 0); err != nil {
		return capability.Capabilities{}, raterr.New("Probe", raterr.Unsupported, err)
	}

	onboardIdx, err := d.resolve(ctx, io, featureOnboardProfiles)
	if err != nil {
		return capability.Capabilities{}, raterr.New("Probe", raterr.Unsupported, err)
	}

	resp, err := call(ctx, io, d.deviceIndex, onboardIdx, fnGetCounts)
	if err != nil {
		return capability.Capabilities{}, raterr.New("Probe", raterr.ProtocolError, err)
	}
	p := resp[4:]
	caps := capability.Capabilities{
		Features:        capability.NewSet(capability.FeatureProfile, capability.FeatureReportRate, capability.FeatureDistinctDefaultResolution),
		ProfileCount:    int(p[0]),
		ResolutionCount: int(p[1]),
		ButtonCount:     int(p[2]),
		LEDCount:        int(p[3]),
		DPI: capability.Range{
			Min:  int(binary.LittleEndian.Uint16(p[4:6])),
			Max:  int(binary.LittleEndian.Uint16(p[6:8])),
			Step: int(binary.LittleEndian.Uint16(p[8:10])),
		},
		MacroMaxLength: int(p[10]),
		ReportRates:    capability.DiscreteSet{125, 250, 500, 1000},
		DebounceTime:   capability.DiscreteSet{0, 2, 4, 8, 12, 16},
	}

	optional := map[uint16]capability.Feature{
		featureAdjustableDPI:    capability.FeatureSeparateXYResolution,
		featureReprogControlsV4: capability.FeatureButtonKey,
		featureColorLEDEffects:  capability.FeatureLEDSolid,
	}
	for fid, feat := range optional {
		if _, err := d.resolve(ctx, io, fid); err == nil {
			caps.Features.Add(feat)
		}
	}
	caps.Features.Add(capability.FeatureButtonLogical)
	caps.Features.Add(capability.FeatureButtonSpecial)
	caps.Features.Add(capability.FeatureButtonMacro)
	caps.Features.Add(capability.FeatureLEDOff)
	caps.Features.Add(capability.FeatureAngleSnapping)
	caps.Features.Add(capability.FeatureDebounce)

	return caps, nil
}

func (d *Dialect) readBlob(ctx context.Context, io hidraw.IO, onboardIdx, profileIndex byte, size int) ([]byte, error) {
	blob := make([]byte, 0, size)
	for chunk := byte(0); len(blob) < size; chunk++ {
		resp, err := call(ctx, io, d.deviceIndex, onboardIdx, fnReadChunk, profileIndex, chunk)
		if err != nil {
			return nil, err
		}
		remaining := size - len(blob)
		n := chunkSize
		if remaining < n {
			n = remaining
		}
		blob = append(blob, resp[4:4+n]...)
	}
	return blob, nil
}

func (d *Dialect) writeBlob(ctx context.Context, io hidraw.IO, onboardIdx, profileIndex byte, blob []byte) error {
	for chunk := byte(0); int(chunk)*chunkSize < len(blob); chunk++ {
		start := int(chunk) * chunkSize
		end := start + chunkSize
		if end > len(blob) {
			end = len(blob)
		}
		params := append([]byte{profileIndex, chunk}, blob[start:end]...)
		if _, err := call(ctx, io, d.deviceIndex, onboardIdx, fnWriteChunk, params...); err != nil {
			return err
		}
	}
	return nil
}

// LoadProfiles reads every onboard profile page in full.
func (d *Dialect) LoadProfiles(ctx context.Context, io hidraw.IO, caps capability.Capabilities) ([]*state.Profile, error) {
	onboardIdx, err := d.resolve(ctx, io, featureOnboardProfiles)
	if err != nil {
		return nil, raterr.New("LoadProfiles", raterr.ProtocolError, err)
	}
	size := profileByteSize(caps)
	profiles := make([]*state.Profile, caps.ProfileCount)
	for i := 0; i < caps.ProfileCount; i++ {
		blob, err := d.readBlob(ctx, io, onboardIdx, byte(i), size)
		if err != nil {
			return nil, raterr.New("LoadProfiles", raterr.ProtocolError, err)
		}
		profile, err := decodeProfile(i, blob, caps)
		if err != nil {
			return nil, raterr.New("LoadProfiles", raterr.ProtocolError, err)
		}
		profiles[i] = profile
	}
	return profiles, nil
}

// Commit writes every dirty profile page, then the profile directory
// (which profile is active), then issues the feature's own commit call
// to flush onboard memory. This order leaves a mid-sequence failure in a
// recoverable, identifiable state (PartialCommit).
func (d *Dialect) Commit(ctx context.Context, io hidraw.IO, diff state.DiffTree) error {
	if diff.Empty() {
		return nil
	}
	onboardIdx, err := d.resolve(ctx, io, featureOnboardProfiles)
	if err != nil {
		return raterr.New("Commit", raterr.ProtocolError, err)
	}

	var activeProfile byte
	var sawActive bool
	for _, pd := range diff.Profiles {
		caps := capability.Capabilities{
			ResolutionCount: len(pd.Profile.Resolutions),
			ButtonCount:     len(pd.Profile.Buttons),
			LEDCount:        len(pd.Profile.LEDs),
			MacroMaxLength:  macroMaxFromButtons(pd.Profile.Buttons),
		}
		blob := encodeProfile(pd.Profile, caps)
		if err := d.writeBlob(ctx, io, onboardIdx, byte(pd.Index), blob); err != nil {
			return raterr.New("Commit", raterr.PartialCommit, err)
		}
		if pd.Profile.Active {
			activeProfile = byte(pd.Index)
			sawActive = true
		}
	}

	if sawActive {
		if _, err := call(ctx, io, d.deviceIndex, onboardIdx, fnWriteDirectory, activeProfile); err != nil {
			return raterr.New("Commit", raterr.PartialCommit, err)
		}
	}

	resp, err := call(ctx, io, d.deviceIndex, onboardIdx, fnCommit)
	if err != nil {
		return raterr.New("Commit", raterr.PartialCommit, err)
	}
	if resp[4] != 0 {
		return raterr.New("Commit", raterr.PartialCommit, nil)
	}
	return nil
}

func macroMaxFromButtons(buttons []*state.Button) int {
	max := 0
	for _, b := range buttons {
		if m, ok := b.Action.(state.MacroAction); ok && len(m.Events) > max {
			max = len(m.Events)
		}
	}
	if max == 0 {
		max = 1
	}
	return max
}

var _ driver.Driver = (*Dialect)(nil)
