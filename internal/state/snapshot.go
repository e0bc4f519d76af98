package state

import "github.com/ratbagd/ratbagd/internal/capability"

// Snapshot is an immutable, versioned view of a device's pending state,
// safe to read without synchronizing against the owning actor. It is a
// deep copy: nothing in a Snapshot aliases the actor's live Device.
type Snapshot struct {
	Identity     Identity
	Capabilities capability.Capabilities
	Profiles     []SnapshotProfile
}

type SnapshotProfile struct {
	Index         int
	Name          string
	Enabled       bool
	Active        bool
	ReportRate    int
	AngleSnapping bool
	Debounce      int
	Dirty         bool
	Unknown       bool

	Resolutions []SnapshotResolution
	Buttons     []SnapshotButton
	LEDs        []SnapshotLED
}

type SnapshotResolution struct {
	Index     int
	DPIX      int
	DPIY      int
	Enabled   bool
	Active    bool
	IsDefault bool
	Unknown   bool
}

type SnapshotButton struct {
	Index   int
	Action  ButtonAction
	Unknown bool
}

type SnapshotLED struct {
	Index          int
	Mode           LEDMode
	Primary        Color
	Secondary      Color
	Tertiary       Color
	Brightness     uint8
	EffectDuration uint
	Depth          ColorDepth
	Unknown        bool
}

// Snapshot copies the current pending state (plus Unknown markers from
// any unresolved PartialCommit) into an immutable value the caller can
// hold onto indefinitely.
func (d *Device) Snapshot() Snapshot {
	s := Snapshot{
		Identity:     d.Identity,
		Capabilities: d.Capabilities.Clone(),
		Profiles:     make([]SnapshotProfile, len(d.pending)),
	}
	for i, p := range d.pending {
		sp := SnapshotProfile{
			Index:         p.Index,
			Name:          p.Name,
			Enabled:       p.Enabled,
			Active:        p.Active,
			ReportRate:    p.ReportRate,
			AngleSnapping: p.AngleSnapping,
			Debounce:      p.Debounce,
			Dirty:         p.dirty,
			Unknown:       d.UnknownProfile(i),
		}
		sp.Resolutions = make([]SnapshotResolution, len(p.Resolutions))
		for j, r := range p.Resolutions {
			sp.Resolutions[j] = SnapshotResolution{
				Index: r.Index, DPIX: r.DPIX, DPIY: r.DPIY,
				Enabled: r.Enabled, Active: r.Active, IsDefault: r.IsDefault,
				Unknown: d.UnknownResolution(i, j),
			}
		}
		sp.Buttons = make([]SnapshotButton, len(p.Buttons))
		for j, b := range p.Buttons {
			sp.Buttons[j] = SnapshotButton{Index: b.Index, Action: b.Action, Unknown: d.UnknownButton(i, j)}
		}
		sp.LEDs = make([]SnapshotLED, len(p.LEDs))
		for j, l := range p.LEDs {
			sp.LEDs[j] = SnapshotLED{
				Index: l.Index, Mode: l.Mode, Primary: l.Primary, Secondary: l.Secondary,
				Tertiary: l.Tertiary, Brightness: l.Brightness, EffectDuration: l.EffectDuration,
				Depth: l.Depth, Unknown: d.UnknownLED(i, j),
			}
		}
		s.Profiles[i] = sp
	}
	return s
}
