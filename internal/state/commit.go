package state

import "fmt"

// CommitSuccess advances last-committed to pending and clears every
// dirty flag. Called by the actor after a driver's Commit returns
// successfully.
func (d *Device) CommitSuccess() {
	d.lastCommitted = cloneProfiles(d.pending)
	for _, p := range d.pending {
		p.dirty = false
		for _, r := range p.Resolutions {
			r.dirty = false
		}
		for _, b := range p.Buttons {
			b.dirty = false
		}
		for _, l := range p.LEDs {
			l.dirty = false
		}
	}
	d.unknown = make(map[string]bool)
}

// CommitPartialFailure marks the subtree named by the diff as dirty-and-
// unknown: subsequent reads of those fields return "Unknown" until
// Reload. Called by the actor when a driver's Commit fails with
// PartialCommit after some writes already landed on the device.
func (d *Device) CommitPartialFailure(diff DiffTree) {
	for _, pd := range diff.Profiles {
		d.unknown[profileKey(pd.Index)] = true
		for _, j := range pd.Resolutions {
			d.unknown[resolutionKey(pd.Index, j)] = true
		}
		for _, j := range pd.Buttons {
			d.unknown[buttonKey(pd.Index, j)] = true
		}
		for _, j := range pd.LEDs {
			d.unknown[ledKey(pd.Index, j)] = true
		}
	}
}

// Reload replaces both pending and last-committed with the driver's
// freshly read state and clears every Unknown marker.
func (d *Device) Reload(profiles []*Profile) {
	d.lastCommitted = profiles
	d.pending = cloneProfiles(profiles)
	d.unknown = make(map[string]bool)
}

// UnknownProfile reports whether profile idx was left in an unknown
// state by a prior PartialCommit.
func (d *Device) UnknownProfile(idx int) bool { return d.unknown[profileKey(idx)] }

// UnknownResolution reports the same for one resolution slot.
func (d *Device) UnknownResolution(profile, slot int) bool {
	return d.unknown[profileKey(profile)] || d.unknown[resolutionKey(profile, slot)]
}

// UnknownButton reports the same for one button slot.
func (d *Device) UnknownButton(profile, slot int) bool {
	return d.unknown[profileKey(profile)] || d.unknown[buttonKey(profile, slot)]
}

// UnknownLED reports the same for one LED slot.
func (d *Device) UnknownLED(profile, slot int) bool {
	return d.unknown[profileKey(profile)] || d.unknown[ledKey(profile, slot)]
}

func profileKey(p int) string          { return fmt.Sprintf("profile[%d]", p) }
func resolutionKey(p, s int) string    { return fmt.Sprintf("profile[%d].resolution[%d]", p, s) }
func buttonKey(p, s int) string        { return fmt.Sprintf("profile[%d].button[%d]", p, s) }
func ledKey(p, s int) string           { return fmt.Sprintf("profile[%d].led[%d]", p, s) }
