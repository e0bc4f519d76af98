// Package roccat implements a fixed-register protocol using feature
// reports: no request/response framing at
// all, just HIDIOCGFEATURE/HIDIOCSFEATURE against numbered control
// registers. Every static fact about a device (profile/resolution/button/
// LED counts, DPI range) is supplied by the device database's quirks map
// rather than discovered on the wire, since these controllers don't
// expose a feature-discovery protocol the way HID++ 2.0 does.
package roccat

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/ratbagd/ratbagd/internal/capability"
	"github.com/ratbagd/ratbagd/internal/driver"
	"github.com/ratbagd/ratbagd/internal/hidraw"
	"github.com/ratbagd/ratbagd/internal/raterr"
	"github.com/ratbagd/ratbagd/internal/state"
)

func init() {
	driver.Register("roccat", New)
}

const (
	regFirmwareVersion = 0x01
	regProfileBase     = 0x20 // regProfileBase+index addresses one profile's page

	nameFieldLength      = 24
	profileHeaderSize    = 1 + nameFieldLength + 1 + 1 + 2 // len+name+enabled+active+rate
	resolutionRecordSize = 4                                // dpi(2) flags(1) pad(1); X==Y always
	buttonRecordSize     = 2                                // tag(1) param(1); no macros
	ledRecordSize        = 5                                // mode(1) rgb(3) brightness(1)
)

// Dialect implements driver.Driver for fixed-register Roccat-family
// controllers. Counts come entirely from quirks; Probe only confirms the
// device answers at all.
type Dialect struct {
	profileCount, resolutionCount, buttonCount, ledCount int
	dpi                                                   capability.Range
}

func intQuirk(quirks map[string]any, key string, def int) int {
	if v, ok := quirks[key]; ok {
		if iv, ok := v.(int); ok {
			return iv
		}
	}
	return def
}

// New builds a Roccat dialect instance from a device database quirks
// map: "profile_count", "resolution_count", "button_count", "led_count",
// "dpi_min", "dpi_max", "dpi_step".
func New(quirks map[string]any) driver.Driver {
	return &Dialect{
		profileCount:    intQuirk(quirks, "profile_count", 5),
		resolutionCount: intQuirk(quirks, "resolution_count", 1),
		buttonCount:     intQuirk(quirks, "button_count", 8),
		ledCount:        intQuirk(quirks, "led_count", 1),
		dpi: capability.Range{
			Min:  intQuirk(quirks, "dpi_min", 400),
			Max:  intQuirk(quirks, "dpi_max", 8200),
			Step: intQuirk(quirks, "dpi_step", 50),
		},
	}
}

// Probe reads the firmware-version register; any successful feature
// report read is taken as confirmation the device speaks this dialect,
// since there is no feature-discovery handshake to fail more precisely.
func (d *Dialect) Probe(ctx context.Context, io hidraw.IO) (capability.Capabilities, error) {
	if _, err := io.FeatureReportGet(regFirmwareVersion, 2); err != nil {
		return capability.Capabilities{}, raterr.New("Probe", raterr.Unsupported, err)
	}
	return capability.Capabilities{
		Features: capability.NewSet(
			capability.FeatureProfile,
			capability.FeatureReportRate,
			capability.FeatureButtonLogical,
			capability.FeatureButtonSpecial,
			capability.FeatureLEDOff,
			capability.FeatureLEDSolid,
		),
		ProfileCount:    d.profileCount,
		ResolutionCount: d.resolutionCount,
		ButtonCount:     d.buttonCount,
		LEDCount:        d.ledCount,
		DPI:             d.dpi,
		ReportRates:     capability.DiscreteSet{125, 500, 1000},
	}, nil
}

func profileByteSize(caps capability.Capabilities) int {
	return profileHeaderSize +
		caps.ResolutionCount*resolutionRecordSize +
		caps.ButtonCount*buttonRecordSize +
		caps.LEDCount*ledRecordSize
}

// LoadProfiles reads one feature report per profile; the register holds
// the page verbatim, so no directory/chunking dance is needed.
func (d *Dialect) LoadProfiles(ctx context.Context, io hidraw.IO, caps capability.Capabilities) ([]*state.Profile, error) {
	size := profileByteSize(caps)
	profiles := make([]*state.Profile, caps.ProfileCount)
	for i := 0; i < caps.ProfileCount; i++ {
		buf, err := io.FeatureReportGet(byte(regProfileBase+i), size)
		if err != nil {
			return nil, raterr.New("LoadProfiles", raterr.ProtocolError, err)
		}
		p, err := decodeProfile(i, buf, caps)
		if err != nil {
			return nil, raterr.New("LoadProfiles", raterr.ProtocolError, err)
		}
		profiles[i] = p
	}
	return profiles, nil
}

// Commit writes the full page of every dirty profile. There is no
// separate "flush to persistent memory" step: HIDIOCSFEATURE against
// these registers commits immediately, so a failure partway through a
// multi-profile diff is reported as PartialCommit — earlier profiles in
// the loop have already landed on the device.
func (d *Dialect) Commit(ctx context.Context, io hidraw.IO, diff state.DiffTree) error {
	for _, pd := range diff.Profiles {
		caps := capability.Capabilities{
			ResolutionCount: len(pd.Profile.Resolutions),
			ButtonCount:     len(pd.Profile.Buttons),
			LEDCount:        len(pd.Profile.LEDs),
		}
		buf := encodeProfile(pd.Profile, caps)
		if err := io.FeatureReportSet(append([]byte{byte(regProfileBase + pd.Index)}, buf...)); err != nil {
			return raterr.New("Commit", raterr.PartialCommit, err)
		}
	}
	return nil
}

func encodeProfile(p *state.Profile, caps capability.Capabilities) []byte {
	buf := make([]byte, profileByteSize(caps))
	off := 0
	name := p.Name
	if len(name) > nameFieldLength-1 {
		name = name[:nameFieldLength-1]
	}
	buf[off] = byte(len(name))
	off++
	copy(buf[off:off+nameFieldLength], name)
	off += nameFieldLength
	if p.Enabled {
		buf[off] = 1
	}
	off++
	if p.Active {
		buf[off] = 1
	}
	off++
	binary.LittleEndian.PutUint16(buf[off:], uint16(p.ReportRate))
	off += 2

	for _, r := range p.Resolutions {
		binary.LittleEndian.PutUint16(buf[off:], uint16(r.DPIX))
		var flags byte
		if r.Enabled {
			flags |= 1
		}
		if r.Active {
			flags |= 2
		}
		buf[off+2] = flags
		off += resolutionRecordSize
	}
	for _, b := range p.Buttons {
		switch a := b.Action.(type) {
		case state.LogicalButtonAction:
			buf[off] = 1
			buf[off+1] = byte(a.Button)
		case state.SpecialAction:
			buf[off] = 2
			buf[off+1] = byte(a.Code)
		default:
			buf[off] = 0
		}
		off += buttonRecordSize
	}
	for _, l := range p.LEDs {
		if l.Mode == state.LEDSolid {
			buf[off] = 1
		}
		buf[off+1], buf[off+2], buf[off+3] = l.Primary.R, l.Primary.G, l.Primary.B
		buf[off+4] = l.Brightness
		off += ledRecordSize
	}
	return buf
}

func decodeProfile(index int, buf []byte, caps capability.Capabilities) (*state.Profile, error) {
	if len(buf) < profileByteSize(caps) {
		return nil, fmt.Errorf("roccat: short profile page (%d < %d)", len(buf), profileByteSize(caps))
	}
	off := 0
	nameLen := int(buf[off])
	off++
	name := string(buf[off : off+nameLen])
	off += nameFieldLength
	enabled := buf[off] != 0
	off++
	active := buf[off] != 0
	off++
	rate := int(binary.LittleEndian.Uint16(buf[off:]))
	off += 2

	p := &state.Profile{Index: index, Name: name, Enabled: enabled, Active: active, ReportRate: rate}

	p.Resolutions = make([]*state.Resolution, caps.ResolutionCount)
	for i := 0; i < caps.ResolutionCount; i++ {
		dpi := int(binary.LittleEndian.Uint16(buf[off:]))
		flags := buf[off+2]
		p.Resolutions[i] = &state.Resolution{
			Index: i, DPIX: dpi, DPIY: dpi,
			Enabled: flags&1 != 0, Active: flags&2 != 0, IsDefault: flags&2 != 0,
		}
		off += resolutionRecordSize
	}
	p.Buttons = make([]*state.Button, caps.ButtonCount)
	for i := 0; i < caps.ButtonCount; i++ {
		var action state.ButtonAction = state.NoAction{}
		switch buf[off] {
		case 1:
			action = state.LogicalButtonAction{Button: uint(buf[off+1])}
		case 2:
			action = state.SpecialAction{Code: uint(buf[off+1])}
		}
		p.Buttons[i] = &state.Button{Index: i, Action: action}
		off += buttonRecordSize
	}
	p.LEDs = make([]*state.LED, caps.LEDCount)
	for i := 0; i < caps.LEDCount; i++ {
		mode := state.LEDOff
		if buf[off] == 1 {
			mode = state.LEDSolid
		}
		p.LEDs[i] = &state.LED{
			Index: i, Mode: mode,
			Primary:    state.Color{R: buf[off+1], G: buf[off+2], B: buf[off+3]},
			Brightness: buf[off+4],
			Depth:      state.ColorDepth24,
		}
		off += ledRecordSize
	}
	return p, nil
}

var _ driver.Driver = (*Dialect)(nil)
