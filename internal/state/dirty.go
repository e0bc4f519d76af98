package state

import "reflect"

// recomputeDirty recomputes the dirty flag for profile idx (and its
// descendants) by comparing pending against last-committed field by
// field: the dirty flag on a profile is true iff at least one of its
// fields or a descendant's field differs from the last successfully
// committed value. This makes dirty tracking correct even when a
// mutation sets a field back to its committed value.
func (d *Device) recomputeDirty(idx int) {
	pending := d.pending[idx]
	committed := d.lastCommitted[idx]

	anyDirty := pending.Name != committed.Name ||
		pending.Enabled != committed.Enabled ||
		pending.Active != committed.Active ||
		pending.ReportRate != committed.ReportRate ||
		pending.AngleSnapping != committed.AngleSnapping ||
		pending.Debounce != committed.Debounce

	for i, r := range pending.Resolutions {
		cr := committed.Resolutions[i]
		r.dirty = r.DPIX != cr.DPIX || r.DPIY != cr.DPIY ||
			r.Enabled != cr.Enabled || r.Active != cr.Active || r.IsDefault != cr.IsDefault
		anyDirty = anyDirty || r.dirty
	}
	for i, b := range pending.Buttons {
		cb := committed.Buttons[i]
		b.dirty = !reflect.DeepEqual(b.Action, cb.Action)
		anyDirty = anyDirty || b.dirty
	}
	for i, l := range pending.LEDs {
		cl := committed.LEDs[i]
		l.dirty = l.Mode != cl.Mode || l.Primary != cl.Primary || l.Secondary != cl.Secondary ||
			l.Tertiary != cl.Tertiary || l.Brightness != cl.Brightness || l.EffectDuration != cl.EffectDuration
		anyDirty = anyDirty || l.dirty
	}

	pending.dirty = anyDirty
}

// IsDirty reports whether profile idx currently differs from its
// last-committed snapshot.
func (d *Device) IsDirty(idx int) bool {
	return d.pending[idx].dirty
}
