// Package state implements the canonical in-memory device model:
// profiles, resolutions, buttons and LEDs, with dirty tracking and
// apply/diff/commit-success/commit-partial-failure/snapshot operations.
//
// A *Device is owned exclusively by one actor goroutine (internal/actor)
// for the purpose of mutation; this package itself performs no locking,
// relying on that single-writer discipline. Readers never hold a *Device
// across a suspension point — they ask the actor for a Snapshot instead.
package state

import "github.com/ratbagd/ratbagd/internal/capability"

// ButtonAction is the closed tagged union of a button's mapping.
// The unexported marker method keeps the sum type closed to this
// package's concrete implementations.
type ButtonAction interface {
	isButtonAction()
}

type NoAction struct{}

func (NoAction) isButtonAction() {}

type LogicalButtonAction struct{ Button uint }

func (LogicalButtonAction) isButtonAction() {}

type SpecialAction struct{ Code uint }

func (SpecialAction) isButtonAction() {}

type KeyAction struct {
	Keycode   uint
	Modifiers []uint
}

func (KeyAction) isButtonAction() {}

// MacroEvent is one press/release event of a macro sequence.
type MacroEvent struct {
	Keycode uint
	Press   bool // true = press, false = release
}

type MacroAction struct{ Events []MacroEvent }

func (MacroAction) isButtonAction() {}

// LEDMode enumerates the supported lighting modes, intersected
// per-device with capability.Set at validation time.
type LEDMode string

const (
	LEDOff       LEDMode = "off"
	LEDSolid     LEDMode = "solid"
	LEDCycle     LEDMode = "cycle"
	LEDWave      LEDMode = "wave"
	LEDStarlight LEDMode = "starlight"
	LEDBreathing LEDMode = "breathing"
	LEDTricolor  LEDMode = "tricolor"
)

func (m LEDMode) feature() capability.Feature {
	switch m {
	case LEDSolid:
		return capability.FeatureLEDSolid
	case LEDCycle:
		return capability.FeatureLEDCycle
	case LEDWave:
		return capability.FeatureLEDWave
	case LEDStarlight:
		return capability.FeatureLEDStarlight
	case LEDBreathing:
		return capability.FeatureLEDBreathing
	case LEDTricolor:
		return capability.FeatureLEDTricolor
	default:
		return capability.FeatureLEDOff
	}
}

// Color is a 24-bit RGB value.
type Color struct {
	R, G, B uint8
}

// ColorDepth is a read-only property of an LED, reported by the driver.
type ColorDepth int

const (
	ColorDepth1  ColorDepth = 1
	ColorDepth8  ColorDepth = 8
	ColorDepth24 ColorDepth = 24
)

// LED is one addressable LED slot.
type LED struct {
	Index          int
	Mode           LEDMode
	Primary        Color
	Secondary      Color
	Tertiary       Color
	Brightness     uint8
	EffectDuration uint
	Depth          ColorDepth

	dirty bool
}

func (l *LED) clone() *LED {
	c := *l
	return &c
}

// Resolution is one DPI slot within a profile.
type Resolution struct {
	Index    int
	DPIX     int
	DPIY     int
	Enabled  bool
	Active   bool
	IsDefault bool

	dirty bool
}

func (r *Resolution) clone() *Resolution {
	c := *r
	return &c
}

// Button is one remappable button slot.
type Button struct {
	Index  int
	Action ButtonAction

	dirty bool
}

func (b *Button) clone() *Button {
	c := *b
	if m, ok := b.Action.(MacroAction); ok {
		events := append([]MacroEvent(nil), m.Events...)
		c.Action = MacroAction{Events: events}
	}
	return &c
}

// Profile is one ordered, fixed-size bank of settings.
type Profile struct {
	Index         int
	Name          string
	Enabled       bool
	Active        bool
	ReportRate    int
	AngleSnapping bool
	Debounce      int

	Resolutions []*Resolution
	Buttons     []*Button
	LEDs        []*LED

	dirty bool
}

func (p *Profile) clone() *Profile {
	c := *p
	c.Resolutions = make([]*Resolution, len(p.Resolutions))
	for i, r := range p.Resolutions {
		c.Resolutions[i] = r.clone()
	}
	c.Buttons = make([]*Button, len(p.Buttons))
	for i, b := range p.Buttons {
		c.Buttons[i] = b.clone()
	}
	c.LEDs = make([]*LED, len(p.LEDs))
	for i, l := range p.LEDs {
		c.LEDs[i] = l.clone()
	}
	return &c
}

// Identity is the stable, immutable identity of a device, known from the
// moment the supervisor spawns the actor.
type Identity struct {
	Sysname    string
	BusType    string
	VendorID   uint16
	ProductID  uint16
	DevicePath string
	Name       string
	Model      string
}

// Device is the canonical state root: one Identity, one Capabilities, and
// two parallel Profile trees — last-committed and pending.
type Device struct {
	Identity     Identity
	Capabilities capability.Capabilities

	lastCommitted []*Profile
	pending       []*Profile

	// unknown marks fields invalidated by a PartialCommit; cleared by
	// commit_success and Reload. Keyed by "profile.field" style paths
	// built by commit_partial_failure.
	unknown map[string]bool
}

// New builds a Device from the profiles a driver's load_profiles
// returned. The same tree is used to seed both last-committed and
// pending; the device starts out with IsDirty == false everywhere.
func New(id Identity, caps capability.Capabilities, profiles []*Profile) *Device {
	d := &Device{
		Identity:     id,
		Capabilities: caps,
		unknown:      make(map[string]bool),
	}
	d.lastCommitted = profiles
	d.pending = cloneProfiles(profiles)
	return d
}

func cloneProfiles(in []*Profile) []*Profile {
	out := make([]*Profile, len(in))
	for i, p := range in {
		out[i] = p.clone()
	}
	return out
}
