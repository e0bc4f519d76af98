package state

import (
	"github.com/ratbagd/ratbagd/internal/capability"
	"github.com/ratbagd/ratbagd/internal/raterr"
)

// Mutation is the sum type of every field-level write the bus adapter can
// submit through an actor Mutate command. apply
// validates against capabilities and object bounds before touching
// pending state — InputInvalid mutations never reach the driver.
type Mutation interface {
	apply(d *Device) *raterr.Error
}

func outOfRange(op string) *raterr.Error {
	return raterr.New(op, raterr.OutOfRange, nil)
}

func unsupported(op string) *raterr.Error {
	return raterr.New(op, raterr.UnsupportedCapability, nil)
}

func (d *Device) profile(idx int, op string) (*Profile, *raterr.Error) {
	if idx < 0 || idx >= len(d.pending) {
		return nil, outOfRange(op)
	}
	return d.pending[idx], nil
}

func (d *Device) resolution(profileIdx, slot int, op string) (*Resolution, *raterr.Error) {
	p, err := d.profile(profileIdx, op)
	if err != nil {
		return nil, err
	}
	if slot < 0 || slot >= len(p.Resolutions) {
		return nil, outOfRange(op)
	}
	return p.Resolutions[slot], nil
}

func (d *Device) button(profileIdx, slot int, op string) (*Button, *raterr.Error) {
	p, err := d.profile(profileIdx, op)
	if err != nil {
		return nil, err
	}
	if slot < 0 || slot >= len(p.Buttons) {
		return nil, outOfRange(op)
	}
	return p.Buttons[slot], nil
}

func (d *Device) led(profileIdx, slot int, op string) (*LED, *raterr.Error) {
	p, err := d.profile(profileIdx, op)
	if err != nil {
		return nil, err
	}
	if slot < 0 || slot >= len(p.LEDs) {
		return nil, outOfRange(op)
	}
	return p.LEDs[slot], nil
}

// Apply validates and applies one mutation to pending state, then
// recomputes dirty flags for the affected profile. It is the only
// exported entry point the actor calls for Mutate commands.
func (d *Device) Apply(m Mutation) error {
	if err := m.apply(d); err != nil {
		return err
	}
	return nil
}

// --- Profile-level mutations ---

type ProfileSetName struct {
	Profile int
	Name    string
}

const maxProfileNameLength = 64

func (m ProfileSetName) apply(d *Device) *raterr.Error {
	p, err := d.profile(m.Profile, "SetName")
	if err != nil {
		return err
	}
	if len(m.Name) > maxProfileNameLength {
		return outOfRange("SetName")
	}
	p.Name = m.Name
	d.recomputeDirty(m.Profile)
	return nil
}

type ProfileSetEnabled struct {
	Profile int
	Enabled bool
}

func (m ProfileSetEnabled) apply(d *Device) *raterr.Error {
	p, err := d.profile(m.Profile, "SetEnabled")
	if err != nil {
		return err
	}
	p.Enabled = m.Enabled
	d.recomputeDirty(m.Profile)
	return nil
}

// ProfileSetActive makes m.Profile the sole active profile, clearing
// Active on every other profile, preserving the device-wide invariant
// "exactly one profile is active".
type ProfileSetActive struct {
	Profile int
}

func (m ProfileSetActive) apply(d *Device) *raterr.Error {
	if _, err := d.profile(m.Profile, "SetActive"); err != nil {
		return err
	}
	for i, p := range d.pending {
		p.Active = i == m.Profile
	}
	for i := range d.pending {
		d.recomputeDirty(i)
	}
	return nil
}

type ProfileSetReportRate struct {
	Profile int
	Hz      int
}

func (m ProfileSetReportRate) apply(d *Device) *raterr.Error {
	p, err := d.profile(m.Profile, "SetReportRate")
	if err != nil {
		return err
	}
	if !d.Capabilities.ReportRates.Contains(m.Hz) {
		return outOfRange("SetReportRate")
	}
	p.ReportRate = m.Hz
	d.recomputeDirty(m.Profile)
	return nil
}

type ProfileSetAngleSnapping struct {
	Profile int
	On      bool
}

func (m ProfileSetAngleSnapping) apply(d *Device) *raterr.Error {
	p, err := d.profile(m.Profile, "SetAngleSnapping")
	if err != nil {
		return err
	}
	if !d.Capabilities.Features.Has(capability.FeatureAngleSnapping) {
		return unsupported("SetAngleSnapping")
	}
	p.AngleSnapping = m.On
	d.recomputeDirty(m.Profile)
	return nil
}

type ProfileSetDebounce struct {
	Profile int
	Ms      int
}

func (m ProfileSetDebounce) apply(d *Device) *raterr.Error {
	p, err := d.profile(m.Profile, "SetDebounce")
	if err != nil {
		return err
	}
	if !d.Capabilities.DebounceTime.Contains(m.Ms) {
		return outOfRange("SetDebounce")
	}
	p.Debounce = m.Ms
	d.recomputeDirty(m.Profile)
	return nil
}

// --- Resolution mutations ---

type ResolutionSet struct {
	Profile, Slot  int
	DPIX, DPIY     int
}

func (m ResolutionSet) apply(d *Device) *raterr.Error {
	r, err := d.resolution(m.Profile, m.Slot, "SetResolution")
	if err != nil {
		return err
	}
	if !d.Capabilities.DPI.Contains(m.DPIX) || !d.Capabilities.DPI.Contains(m.DPIY) {
		return outOfRange("SetResolution")
	}
	if m.DPIX != m.DPIY && !d.Capabilities.Features.Has(capability.FeatureSeparateXYResolution) {
		return unsupported("SetResolution")
	}
	r.DPIX, r.DPIY = m.DPIX, m.DPIY
	d.recomputeDirty(m.Profile)
	return nil
}

type ResolutionSetDefault struct {
	Profile, Slot int
}

func (m ResolutionSetDefault) apply(d *Device) *raterr.Error {
	p, err := d.profile(m.Profile, "SetDefault")
	if err != nil {
		return err
	}
	if _, err := d.resolution(m.Profile, m.Slot, "SetDefault"); err != nil {
		return err
	}
	if !d.Capabilities.Features.Has(capability.FeatureDistinctDefaultResolution) {
		return raterr.New("SetDefault", raterr.UnsupportedCapability, nil)
	}
	for i, r := range p.Resolutions {
		r.IsDefault = i == m.Slot
	}
	d.recomputeDirty(m.Profile)
	return nil
}

type ResolutionSetActive struct {
	Profile, Slot int
}

func (m ResolutionSetActive) apply(d *Device) *raterr.Error {
	p, err := d.profile(m.Profile, "SetActiveResolution")
	if err != nil {
		return err
	}
	if _, err := d.resolution(m.Profile, m.Slot, "SetActiveResolution"); err != nil {
		return err
	}
	for i, r := range p.Resolutions {
		r.Active = i == m.Slot
		if !d.Capabilities.Features.Has(capability.FeatureDistinctDefaultResolution) {
			r.IsDefault = r.Active
		}
	}
	d.recomputeDirty(m.Profile)
	return nil
}

type ResolutionSetEnabled struct {
	Profile, Slot int
	Enabled       bool
}

func (m ResolutionSetEnabled) apply(d *Device) *raterr.Error {
	r, err := d.resolution(m.Profile, m.Slot, "SetResolutionEnabled")
	if err != nil {
		return err
	}
	if !m.Enabled && r.Active {
		return raterr.New("SetResolutionEnabled", raterr.Rejected, nil)
	}
	r.Enabled = m.Enabled
	d.recomputeDirty(m.Profile)
	return nil
}

// --- Button mutations ---

const maxMacroLength = 32

type ButtonSetAction struct {
	Profile, Slot int
	Action        ButtonAction
}

func (m ButtonSetAction) apply(d *Device) *raterr.Error {
	b, err := d.button(m.Profile, m.Slot, "SetButtonMapping")
	if err != nil {
		return err
	}
	switch a := m.Action.(type) {
	case NoAction:
		// always permitted
	case LogicalButtonAction:
		if !d.Capabilities.Features.Has(capability.FeatureButtonLogical) {
			return unsupported("SetButtonMapping")
		}
	case SpecialAction:
		if !d.Capabilities.Features.Has(capability.FeatureButtonSpecial) {
			return unsupported("SetSpecialMapping")
		}
	case KeyAction:
		if !d.Capabilities.Features.Has(capability.FeatureButtonKey) {
			return unsupported("SetKeyMapping")
		}
	case MacroAction:
		if !d.Capabilities.Features.Has(capability.FeatureButtonMacro) {
			return unsupported("SetMacro")
		}
		if len(a.Events) > d.macroMaxLength() {
			return raterr.New("SetMacro", raterr.MalformedMacro, nil)
		}
	default:
		return unsupported("SetButtonMapping")
	}
	b.Action = m.Action
	d.recomputeDirty(m.Profile)
	return nil
}

func (d *Device) macroMaxLength() int {
	if d.Capabilities.MacroMaxLength > 0 {
		return d.Capabilities.MacroMaxLength
	}
	return maxMacroLength
}

// --- LED mutations ---

type LEDSetMode struct {
	Profile, Slot int
	Mode          LEDMode
}

func (m LEDSetMode) apply(d *Device) *raterr.Error {
	l, err := d.led(m.Profile, m.Slot, "SetMode")
	if err != nil {
		return err
	}
	if !d.Capabilities.Features.Has(m.Mode.feature()) {
		return unsupported("SetMode")
	}
	l.Mode = m.Mode
	d.recomputeDirty(m.Profile)
	return nil
}

type ledColorSlot int

const (
	ledPrimary ledColorSlot = iota
	ledSecondary
	ledTertiary
)

type LEDSetColor struct {
	Profile, Slot int
	Which         ledColorSlot
	Color         Color
}

func (m LEDSetColor) apply(d *Device) *raterr.Error {
	l, err := d.led(m.Profile, m.Slot, "SetColor")
	if err != nil {
		return err
	}
	switch m.Which {
	case ledPrimary:
		l.Primary = m.Color
	case ledSecondary:
		l.Secondary = m.Color
	case ledTertiary:
		l.Tertiary = m.Color
	default:
		return outOfRange("SetColor")
	}
	d.recomputeDirty(m.Profile)
	return nil
}

type LEDSetBrightness struct {
	Profile, Slot int
	Brightness    uint8
}

func (m LEDSetBrightness) apply(d *Device) *raterr.Error {
	l, err := d.led(m.Profile, m.Slot, "SetBrightness")
	if err != nil {
		return err
	}
	l.Brightness = m.Brightness
	d.recomputeDirty(m.Profile)
	return nil
}

type LEDSetEffectDuration struct {
	Profile, Slot int
	Milliseconds  uint
}

func (m LEDSetEffectDuration) apply(d *Device) *raterr.Error {
	l, err := d.led(m.Profile, m.Slot, "SetEffectDuration")
	if err != nil {
		return err
	}
	l.EffectDuration = m.Milliseconds
	d.recomputeDirty(m.Profile)
	return nil
}

// Exported constructors for the color-slot mutations, so the bus adapter
// doesn't need to know about the unexported ledColorSlot type.
func NewLEDSetColor(profile, slot int, c Color) LEDSetColor {
	return LEDSetColor{Profile: profile, Slot: slot, Which: ledPrimary, Color: c}
}

func NewLEDSetSecondaryColor(profile, slot int, c Color) LEDSetColor {
	return LEDSetColor{Profile: profile, Slot: slot, Which: ledSecondary, Color: c}
}

func NewLEDSetTertiaryColor(profile, slot int, c Color) LEDSetColor {
	return LEDSetColor{Profile: profile, Slot: slot, Which: ledTertiary, Color: c}
}
