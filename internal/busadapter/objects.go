package busadapter

import (
	"time"

	"github.com/godbus/dbus/v5"

	"github.com/ratbagd/ratbagd/internal/actor"
	"github.com/ratbagd/ratbagd/internal/capability"
	"github.com/ratbagd/ratbagd/internal/raterr"
	"github.com/ratbagd/ratbagd/internal/state"
)

const sendTimeout = 5 * time.Second

// errDeviceGone is reported when an actor stops answering a reply
// channel, meaning the underlying device disconnected mid-request.
var errDeviceGone = raterr.New("busadapter", raterr.Disconnected, nil)

// trySnapshot asks act for a fresh snapshot without blocking the dbus
// dispatch goroutine on a full command queue: a full queue surfaces as
// Busy immediately, per the back-pressure contract every bus method must
// honor.
func trySnapshot(act *actor.Actor) (state.Snapshot, *dbus.Error) {
	reply := make(chan state.Snapshot, 1)
	if err := act.TrySend(actor.ReadSnapshot{Reply: reply}); err != nil {
		return state.Snapshot{}, toDBusError(err)
	}
	select {
	case s, ok := <-reply:
		if !ok {
			return state.Snapshot{}, toDBusError(errDeviceGone)
		}
		return s, nil
	case <-time.After(sendTimeout):
		return state.Snapshot{}, toDBusError(errDeviceGone)
	}
}

// tryMutate submits m without blocking on a full command queue, same
// contract as trySnapshot.
func tryMutate(act *actor.Actor, m state.Mutation) *dbus.Error {
	reply := make(chan error, 1)
	if err := act.TrySend(actor.Mutate{Mutation: m, Reply: reply}); err != nil {
		return toDBusError(err)
	}
	select {
	case err := <-reply:
		return toDBusError(err)
	case <-time.After(sendTimeout):
		return toDBusError(errDeviceGone)
	}
}

// deviceObject exports the Device interface at .../Device<N>. Property
// reads always go through a fresh ReadSnapshot so two concurrent dbus
// clients never see a torn view of a profile mid-mutation.
type deviceObject struct {
	act   *actor.Actor
	index int
}

func (o *deviceObject) snapshot() (state.Snapshot, *dbus.Error) {
	return trySnapshot(o.act)
}

// Commit flushes pending mutations to the device.
func (o *deviceObject) Commit() *dbus.Error {
	reply := make(chan error, 1)
	if err := o.act.TrySend(actor.Commit{Reply: reply}); err != nil {
		return toDBusError(err)
	}
	select {
	case err := <-reply:
		return toDBusError(err)
	case <-time.After(sendTimeout):
		return toDBusError(errDeviceGone)
	}
}

// GetAll implements org.freedesktop.DBus.Properties.GetAll for the
// Device interface.
func (o *deviceObject) GetAll(iface string) (map[string]dbus.Variant, *dbus.Error) {
	snap, derr := o.snapshot()
	if derr != nil {
		return nil, derr
	}
	profilePaths := make([]dbus.ObjectPath, len(snap.Profiles))
	for i := range snap.Profiles {
		profilePaths[i] = profilePath(o.index, i)
	}
	return map[string]dbus.Variant{
		"Name":         dbus.MakeVariant(snap.Identity.Name),
		"Model":        dbus.MakeVariant(snap.Identity.Model),
		"Profiles":     dbus.MakeVariant(profilePaths),
		"Capabilities": dbus.MakeVariant(capabilityBitmap(snap.Capabilities)),
	}, nil
}

func capabilityBitmap(caps capability.Capabilities) uint64 {
	var bits uint64
	for f := range caps.Features {
		bits |= 1 << uint(f)
	}
	return bits
}

// profileObject exports the Profile interface at
// .../Device<N>/Profile<M>.
type profileObject struct {
	act     *actor.Actor
	devIdx  int
	profile int
}

func (o *profileObject) snapshot() (state.SnapshotProfile, *dbus.Error) {
	s, derr := trySnapshot(o.act)
	if derr != nil {
		return state.SnapshotProfile{}, derr
	}
	if o.profile >= len(s.Profiles) {
		return state.SnapshotProfile{}, toDBusError(errDeviceGone)
	}
	return s.Profiles[o.profile], nil
}

func (o *profileObject) mutate(m state.Mutation) *dbus.Error {
	return tryMutate(o.act, m)
}

func (o *profileObject) SetActive() *dbus.Error {
	return o.mutate(state.ProfileSetActive{Profile: o.profile})
}
func (o *profileObject) SetName(name string) *dbus.Error {
	return o.mutate(state.ProfileSetName{Profile: o.profile, Name: name})
}
func (o *profileObject) SetReportRate(hz int) *dbus.Error {
	return o.mutate(state.ProfileSetReportRate{Profile: o.profile, Hz: hz})
}
func (o *profileObject) SetAngleSnapping(on bool) *dbus.Error {
	return o.mutate(state.ProfileSetAngleSnapping{Profile: o.profile, On: on})
}
func (o *profileObject) SetDebounce(ms int) *dbus.Error {
	return o.mutate(state.ProfileSetDebounce{Profile: o.profile, Ms: ms})
}
func (o *profileObject) Enable() *dbus.Error {
	return o.mutate(state.ProfileSetEnabled{Profile: o.profile, Enabled: true})
}
func (o *profileObject) Disable() *dbus.Error {
	return o.mutate(state.ProfileSetEnabled{Profile: o.profile, Enabled: false})
}

func (o *profileObject) GetAll(iface string) (map[string]dbus.Variant, *dbus.Error) {
	p, derr := o.snapshot()
	if derr != nil {
		return nil, derr
	}
	resPaths := make([]dbus.ObjectPath, len(p.Resolutions))
	for i := range p.Resolutions {
		resPaths[i] = resolutionPath(o.devIdx, o.profile, i)
	}
	btnPaths := make([]dbus.ObjectPath, len(p.Buttons))
	for i := range p.Buttons {
		btnPaths[i] = buttonPath(o.devIdx, o.profile, i)
	}
	ledPaths := make([]dbus.ObjectPath, len(p.LEDs))
	for i := range p.LEDs {
		ledPaths[i] = ledPath(o.devIdx, o.profile, i)
	}
	return map[string]dbus.Variant{
		"Name":          dbus.MakeVariant(p.Name),
		"Enabled":       dbus.MakeVariant(p.Enabled),
		"IsActive":      dbus.MakeVariant(p.Active),
		"ReportRate":    dbus.MakeVariant(p.ReportRate),
		"AngleSnapping": dbus.MakeVariant(p.AngleSnapping),
		"Debounce":      dbus.MakeVariant(p.Debounce),
		"Resolutions":   dbus.MakeVariant(resPaths),
		"Buttons":       dbus.MakeVariant(btnPaths),
		"Leds":          dbus.MakeVariant(ledPaths),
		"IsDirty":       dbus.MakeVariant(p.Dirty),
		"IsUnknown":     dbus.MakeVariant(p.Unknown),
	}, nil
}

// resolutionObject exports the Resolution interface.
type resolutionObject struct {
	act     *actor.Actor
	profile int
	slot    int
}

func (o *resolutionObject) mutate(m state.Mutation) *dbus.Error {
	return tryMutate(o.act, m)
}

func (o *resolutionObject) SetResolution(x, y int) *dbus.Error {
	return o.mutate(state.ResolutionSet{Profile: o.profile, Slot: o.slot, DPIX: x, DPIY: y})
}
func (o *resolutionObject) SetDefault() *dbus.Error {
	return o.mutate(state.ResolutionSetDefault{Profile: o.profile, Slot: o.slot})
}
func (o *resolutionObject) SetActive() *dbus.Error {
	return o.mutate(state.ResolutionSetActive{Profile: o.profile, Slot: o.slot})
}
func (o *resolutionObject) Enable() *dbus.Error {
	return o.mutate(state.ResolutionSetEnabled{Profile: o.profile, Slot: o.slot, Enabled: true})
}
func (o *resolutionObject) Disable() *dbus.Error {
	return o.mutate(state.ResolutionSetEnabled{Profile: o.profile, Slot: o.slot, Enabled: false})
}

func (o *resolutionObject) findSnapshot() (state.Snapshot, state.SnapshotResolution, *dbus.Error) {
	s, derr := trySnapshot(o.act)
	if derr != nil {
		return state.Snapshot{}, state.SnapshotResolution{}, derr
	}
	if o.profile >= len(s.Profiles) || o.slot >= len(s.Profiles[o.profile].Resolutions) {
		return state.Snapshot{}, state.SnapshotResolution{}, toDBusError(errDeviceGone)
	}
	return s, s.Profiles[o.profile].Resolutions[o.slot], nil
}

func (o *resolutionObject) GetAll(iface string) (map[string]dbus.Variant, *dbus.Error) {
	s, r, derr := o.findSnapshot()
	if derr != nil {
		return nil, derr
	}
	return map[string]dbus.Variant{
		"Index":      dbus.MakeVariant(r.Index),
		"DpiX":       dbus.MakeVariant(r.DPIX),
		"DpiY":       dbus.MakeVariant(r.DPIY),
		"DpiList":    dbus.MakeVariant(enumerateRange(s.Capabilities.DPI)),
		"IsActive":   dbus.MakeVariant(r.Active),
		"IsDefault":  dbus.MakeVariant(r.IsDefault),
		"IsDisabled": dbus.MakeVariant(!r.Enabled),
		"IsUnknown":  dbus.MakeVariant(r.Unknown),
	}, nil
}

// enumerateRange expands a stepped range into the discrete list a bus
// client expects for DpiList — capped to keep a degenerate (Step<=0 with
// a wide Min/Max) device database entry from producing an unbounded
// slice.
func enumerateRange(r capability.Range) []int {
	if r.Max <= r.Min {
		return nil
	}
	step := r.Step
	if step <= 0 {
		step = 1
	}
	const maxEntries = 4096
	values := make([]int, 0, (r.Max-r.Min)/step+1)
	for v := r.Min; v <= r.Max && len(values) < maxEntries; v += step {
		values = append(values, v)
	}
	return values
}

// buttonObject exports the Button interface.
type buttonObject struct {
	act     *actor.Actor
	profile int
	slot    int
}

func (o *buttonObject) mutate(m state.Mutation) *dbus.Error {
	return tryMutate(o.act, m)
}

func (o *buttonObject) SetNone() *dbus.Error {
	return o.mutate(state.ButtonSetAction{Profile: o.profile, Slot: o.slot, Action: state.NoAction{}})
}
func (o *buttonObject) SetButtonMapping(button uint) *dbus.Error {
	return o.mutate(state.ButtonSetAction{Profile: o.profile, Slot: o.slot, Action: state.LogicalButtonAction{Button: button}})
}
func (o *buttonObject) SetSpecialMapping(code uint) *dbus.Error {
	return o.mutate(state.ButtonSetAction{Profile: o.profile, Slot: o.slot, Action: state.SpecialAction{Code: code}})
}
func (o *buttonObject) SetKeyMapping(keycode uint, modifiers []uint) *dbus.Error {
	return o.mutate(state.ButtonSetAction{Profile: o.profile, Slot: o.slot, Action: state.KeyAction{Keycode: keycode, Modifiers: modifiers}})
}
func (o *buttonObject) SetMacro(events []state.MacroEvent) *dbus.Error {
	return o.mutate(state.ButtonSetAction{Profile: o.profile, Slot: o.slot, Action: state.MacroAction{Events: events}})
}
func (o *buttonObject) Disable() *dbus.Error {
	return o.mutate(state.ButtonSetAction{Profile: o.profile, Slot: o.slot, Action: state.NoAction{}})
}

func (o *buttonObject) GetAll(iface string) (map[string]dbus.Variant, *dbus.Error) {
	s, derr := trySnapshot(o.act)
	if derr != nil {
		return nil, derr
	}
	if o.profile >= len(s.Profiles) || o.slot >= len(s.Profiles[o.profile].Buttons) {
		return nil, toDBusError(errDeviceGone)
	}
	b := s.Profiles[o.profile].Buttons[o.slot]
	return map[string]dbus.Variant{
		"Index":     dbus.MakeVariant(b.Index),
		"Mapping":   dbus.MakeVariant(describeAction(b.Action)),
		"IsUnknown": dbus.MakeVariant(b.Unknown),
	}, nil
}

func describeAction(a state.ButtonAction) string {
	switch v := a.(type) {
	case state.NoAction:
		return "none"
	case state.LogicalButtonAction:
		return "button"
	case state.SpecialAction:
		return "special"
	case state.KeyAction:
		return "key"
	case state.MacroAction:
		return "macro"
	default:
		_ = v
		return "none"
	}
}

// ledObject exports the LED interface.
type ledObject struct {
	act     *actor.Actor
	profile int
	slot    int
}

func (o *ledObject) mutate(m state.Mutation) *dbus.Error {
	return tryMutate(o.act, m)
}

func (o *ledObject) SetMode(mode string) *dbus.Error {
	return o.mutate(state.LEDSetMode{Profile: o.profile, Slot: o.slot, Mode: state.LEDMode(mode)})
}
func (o *ledObject) SetColor(r, g, b byte) *dbus.Error {
	return o.mutate(state.NewLEDSetColor(o.profile, o.slot, state.Color{R: r, G: g, B: b}))
}
func (o *ledObject) SetColorSecondary(r, g, b byte) *dbus.Error {
	return o.mutate(state.NewLEDSetSecondaryColor(o.profile, o.slot, state.Color{R: r, G: g, B: b}))
}
func (o *ledObject) SetColorTertiary(r, g, b byte) *dbus.Error {
	return o.mutate(state.NewLEDSetTertiaryColor(o.profile, o.slot, state.Color{R: r, G: g, B: b}))
}
func (o *ledObject) SetBrightness(v byte) *dbus.Error {
	return o.mutate(state.LEDSetBrightness{Profile: o.profile, Slot: o.slot, Brightness: v})
}
func (o *ledObject) SetEffectDuration(ms uint) *dbus.Error {
	return o.mutate(state.LEDSetEffectDuration{Profile: o.profile, Slot: o.slot, Milliseconds: ms})
}

func (o *ledObject) GetAll(iface string) (map[string]dbus.Variant, *dbus.Error) {
	s, derr := trySnapshot(o.act)
	if derr != nil {
		return nil, derr
	}
	if o.profile >= len(s.Profiles) || o.slot >= len(s.Profiles[o.profile].LEDs) {
		return nil, toDBusError(errDeviceGone)
	}
	l := s.Profiles[o.profile].LEDs[o.slot]
	caps := s.Capabilities
	return map[string]dbus.Variant{
		"Index":          dbus.MakeVariant(l.Index),
		"Mode":           dbus.MakeVariant(string(l.Mode)),
		"Color":          dbus.MakeVariant([3]byte{l.Primary.R, l.Primary.G, l.Primary.B}),
		"ColorSecondary": dbus.MakeVariant([3]byte{l.Secondary.R, l.Secondary.G, l.Secondary.B}),
		"ColorTertiary":  dbus.MakeVariant([3]byte{l.Tertiary.R, l.Tertiary.G, l.Tertiary.B}),
		"ColorDepth":     dbus.MakeVariant(int(l.Depth)),
		"Brightness":     dbus.MakeVariant(l.Brightness),
		"EffectDuration": dbus.MakeVariant(l.EffectDuration),
		"Modes":          dbus.MakeVariant(supportedLEDModes(caps)),
		"IsUnknown":      dbus.MakeVariant(l.Unknown),
	}, nil
}

var ledModeFeatures = []struct {
	mode    state.LEDMode
	feature capability.Feature
}{
	{state.LEDOff, capability.FeatureLEDOff},
	{state.LEDSolid, capability.FeatureLEDSolid},
	{state.LEDCycle, capability.FeatureLEDCycle},
	{state.LEDWave, capability.FeatureLEDWave},
	{state.LEDStarlight, capability.FeatureLEDStarlight},
	{state.LEDBreathing, capability.FeatureLEDBreathing},
	{state.LEDTricolor, capability.FeatureLEDTricolor},
}

func supportedLEDModes(caps capability.Capabilities) []string {
	modes := make([]string, 0, len(ledModeFeatures))
	for _, mf := range ledModeFeatures {
		if caps.Features.Has(mf.feature) {
			modes = append(modes, string(mf.mode))
		}
	}
	return modes
}
