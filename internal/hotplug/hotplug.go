// Package hotplug discovers hidraw character devices via udev: Enumerate
// lists devices already present, Watch streams subsequent add/remove
// events. Built over github.com/jochenvg/go-udev, following the same
// enumerate-then-monitor pattern as canonical-lxd's unix-hotplug device
// layer.
package hotplug

import (
	"context"
	"strconv"

	"github.com/jochenvg/go-udev"
)

// EventKind distinguishes a node appearing (Add) from one disappearing
// (Remove). Every Enumerate result is an Add.
type EventKind int

const (
	Add EventKind = iota
	Remove
)

// Event describes one hidraw node appearing or disappearing.
type Event struct {
	Kind       EventKind
	Sysname    string
	DevicePath string
	Bus        string
	VendorID   uint16
	ProductID  uint16
	Name       string
}

// Enumerate lists every hidraw node currently present, used at startup
// before subscribing to the netlink stream.
func Enumerate() ([]Event, error) {
	u := udev.Udev{}
	e := u.NewEnumerate()
	if err := e.AddMatchProperty("SUBSYSTEM", "hidraw"); err != nil {
		return nil, err
	}
	if err := e.AddMatchIsInitialized(); err != nil {
		return nil, err
	}
	devices, err := e.Devices()
	if err != nil {
		return nil, err
	}
	events := make([]Event, 0, len(devices))
	for _, d := range devices {
		events = append(events, toEvent(Add, d))
	}
	return events, nil
}

// Watch streams add/remove events from the udev netlink monitor until
// ctx is cancelled. The returned channel is closed when the monitor
// stops.
func Watch(ctx context.Context) (<-chan Event, error) {
	u := udev.Udev{}
	m := u.NewMonitorFromNetlink("udev")
	if err := m.FilterAddMatchSubsystem("hidraw"); err != nil {
		return nil, err
	}
	deviceCh, err := m.DeviceChan(ctx)
	if err != nil {
		return nil, err
	}

	out := make(chan Event)
	go func() {
		defer close(out)
		for d := range deviceCh {
			var kind EventKind
			switch d.Action() {
			case "remove":
				kind = Remove
			default:
				kind = Add
			}
			select {
			case out <- toEvent(kind, d):
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func toEvent(kind EventKind, d *udev.Device) Event {
	ev := Event{
		Kind:       kind,
		Sysname:    d.Sysname(),
		DevicePath: d.Devnode(),
		Bus:        "usb",
	}
	parent := d.ParentWithSubsystemDevtype("usb", "usb_device")
	if parent != nil {
		if v, err := strconv.ParseUint(parent.PropertyValue("ID_VENDOR_ID"), 16, 16); err == nil {
			ev.VendorID = uint16(v)
		}
		if v, err := strconv.ParseUint(parent.PropertyValue("ID_MODEL_ID"), 16, 16); err == nil {
			ev.ProductID = uint16(v)
		}
		ev.Name = parent.PropertyValue("ID_MODEL")
	}
	return ev
}
