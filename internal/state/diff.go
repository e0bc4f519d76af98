package state

// DiffTree is the minimal set of fields that differ between pending and
// last-committed state, handed to a DeviceDriver's commit method.
// Drivers are free to ignore it and rewrite everything; the field is
// there so drivers that support granular updates can avoid needless
// wire traffic.
type DiffTree struct {
	Profiles []ProfileDiff
}

// ProfileDiff names one dirty profile and the subset of its descendants
// that changed.
type ProfileDiff struct {
	Index       int
	Profile     *Profile // pending snapshot for convenience
	Resolutions []int    // dirty resolution slot indices
	Buttons     []int    // dirty button slot indices
	LEDs        []int    // dirty LED slot indices
}

// Diff computes the DiffTree for the device's current pending state. It
// is pure and side-effect-free; calling it repeatedly without mutating
// or committing returns the same result.
func (d *Device) Diff() DiffTree {
	var tree DiffTree
	for i, p := range d.pending {
		if !p.dirty {
			continue
		}
		pd := ProfileDiff{Index: i, Profile: p}
		for j, r := range p.Resolutions {
			if r.dirty {
				pd.Resolutions = append(pd.Resolutions, j)
			}
		}
		for j, b := range p.Buttons {
			if b.dirty {
				pd.Buttons = append(pd.Buttons, j)
			}
		}
		for j, l := range p.LEDs {
			if l.dirty {
				pd.LEDs = append(pd.LEDs, j)
			}
		}
		tree.Profiles = append(tree.Profiles, pd)
	}
	return tree
}

// Empty reports whether the diff carries no changes at all, used by the
// actor to skip calling the driver's Commit when there is nothing to
// flush.
func (t DiffTree) Empty() bool {
	return len(t.Profiles) == 0
}
