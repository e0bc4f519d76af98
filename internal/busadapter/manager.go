// Package busadapter exports the canonical device state onto the dbus
// system (or session) bus: one Manager object at a fixed root path, one
// Device object per connected mouse, and nested Profile/Resolution/
// Button/LED objects beneath each Device. Every exported method either
// reads a state.Snapshot requested fresh from the actor or translates a write into an
// actor.Mutate/Commit send — this package itself holds no device state.
package busadapter

import (
	"fmt"
	"sync"

	"github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/introspect"
	"github.com/sirupsen/logrus"

	"github.com/ratbagd/ratbagd/internal/actor"
	"github.com/ratbagd/ratbagd/internal/state"
)

const (
	rootPath  = dbus.ObjectPath("/org/ratbag/ratbagd")
	ifacePrefix = "org.ratbag.ratbagd1."

	apiVersion = 1
)

// readSnapshotFor fetches one snapshot from a freshly spawned actor,
// used only at Publish time to learn how many profile/resolution/
// button/LED objects to export. Callers are expected to have already
// waited on act.Ready(); this still fails fast rather than hanging if
// the actor terminates (or its queue is full) before replying.
func readSnapshotFor(act *actor.Actor) (state.Snapshot, error) {
	reply := make(chan state.Snapshot, 1)
	if err := act.TrySend(actor.ReadSnapshot{Reply: reply}); err != nil {
		return state.Snapshot{}, err
	}
	select {
	case s, ok := <-reply:
		if !ok {
			return state.Snapshot{}, fmt.Errorf("busadapter: actor closed before yielding a snapshot")
		}
		return s, nil
	case <-act.Done():
		return state.Snapshot{}, fmt.Errorf("busadapter: actor terminated before yielding a snapshot")
	}
}

func devicePath(index int) dbus.ObjectPath {
	return dbus.ObjectPath(fmt.Sprintf("%s/Device%d", rootPath, index))
}

func profilePath(deviceIndex, profileIndex int) dbus.ObjectPath {
	return dbus.ObjectPath(fmt.Sprintf("%s/Profile%d", devicePath(deviceIndex), profileIndex))
}

func resolutionPath(deviceIndex, profileIndex, slot int) dbus.ObjectPath {
	return dbus.ObjectPath(fmt.Sprintf("%s/Resolution%d", profilePath(deviceIndex, profileIndex), slot))
}

func buttonPath(deviceIndex, profileIndex, slot int) dbus.ObjectPath {
	return dbus.ObjectPath(fmt.Sprintf("%s/Button%d", profilePath(deviceIndex, profileIndex), slot))
}

func ledPath(deviceIndex, profileIndex, slot int) dbus.ObjectPath {
	return dbus.ObjectPath(fmt.Sprintf("%s/Led%d", profilePath(deviceIndex, profileIndex), slot))
}

// managedDevice bundles a published Device's actor handle with the
// object paths exported for it, so Withdraw can unregister every path
// it registered.
type managedDevice struct {
	index int
	act   *actor.Actor
	paths []dbus.ObjectPath
}

// Manager owns the root Manager object plus the registry of currently
// published Device object trees. One Manager exists per daemon process.
type Manager struct {
	conn *dbus.Conn
	log  *logrus.Entry

	mu       sync.Mutex
	nextIdx  int
	bySysname map[string]*managedDevice
}

// NewManager creates and exports the root Manager object at
// /org/ratbag/ratbagd. The bus name is held until conn is closed.
func NewManager(conn *dbus.Conn, log *logrus.Entry) (*Manager, error) {
	m := &Manager{conn: conn, log: log, bySysname: make(map[string]*managedDevice)}
	if err := conn.Export(m, rootPath, ifacePrefix+"Manager"); err != nil {
		return nil, fmt.Errorf("busadapter: export Manager: %w", err)
	}
	if err := conn.Export(propertiesAdaptor{m.getAllManager}, rootPath, "org.freedesktop.DBus.Properties"); err != nil {
		return nil, fmt.Errorf("busadapter: export Manager properties: %w", err)
	}
	node := &introspect.Node{
		Name: string(rootPath),
		Interfaces: []introspect.Interface{
			introspect.IntrospectData,
			{
				Name: ifacePrefix + "Manager",
				Properties: []introspect.Property{
					{Name: "Devices", Type: "ao", Access: "read"},
					{Name: "APIVersion", Type: "i", Access: "read"},
				},
			},
		},
	}
	if err := conn.Export(introspect.NewIntrospectable(node), rootPath, "org.freedesktop.DBus.Introspectable"); err != nil {
		return nil, fmt.Errorf("busadapter: export Manager introspection: %w", err)
	}
	if _, err := conn.RequestName("org.ratbag.ratbagd1", dbus.NameFlagDoNotQueue); err != nil {
		return nil, fmt.Errorf("busadapter: request bus name: %w", err)
	}
	return m, nil
}

func (m *Manager) getAllManager(iface string) (map[string]dbus.Variant, *dbus.Error) {
	return map[string]dbus.Variant{
		"Devices":    dbus.MakeVariant(m.devicePaths()),
		"APIVersion": dbus.MakeVariant(apiVersion),
	}, nil
}

func (m *Manager) devicePaths() []dbus.ObjectPath {
	m.mu.Lock()
	defer m.mu.Unlock()
	paths := make([]dbus.ObjectPath, 0, len(m.bySysname))
	for _, d := range m.bySysname {
		paths = append(paths, devicePath(d.index))
	}
	return paths
}

// Publish registers a fresh Device object tree for a newly spawned
// actor, one object per profile/resolution/button/LED the device
// reports. It is a no-op error if sysname is already published.
func (m *Manager) Publish(sysname string, act *actor.Actor) (dbus.ObjectPath, error) {
	m.mu.Lock()
	if _, exists := m.bySysname[sysname]; exists {
		m.mu.Unlock()
		return "", fmt.Errorf("busadapter: %s already published", sysname)
	}
	index := m.nextIdx
	m.nextIdx++
	m.mu.Unlock()

	snap, err := readSnapshotFor(act)
	if err != nil {
		return "", err
	}

	md := &managedDevice{index: index, act: act}
	devPath := devicePath(index)

	dev := &deviceObject{act: act, index: index}
	if err := m.conn.Export(dev, devPath, ifacePrefix+"Device"); err != nil {
		return "", fmt.Errorf("busadapter: export Device: %w", err)
	}
	if err := m.conn.Export(propertiesAdaptor{dev.GetAll}, devPath, "org.freedesktop.DBus.Properties"); err != nil {
		return "", fmt.Errorf("busadapter: export Device properties: %w", err)
	}
	md.paths = append(md.paths, devPath)

	for pi, p := range snap.Profiles {
		profPath := profilePath(index, pi)
		prof := &profileObject{act: act, devIdx: index, profile: pi}
		if err := m.conn.Export(prof, profPath, ifacePrefix+"Profile"); err != nil {
			return "", fmt.Errorf("busadapter: export Profile: %w", err)
		}
		if err := m.conn.Export(propertiesAdaptor{prof.GetAll}, profPath, "org.freedesktop.DBus.Properties"); err != nil {
			return "", fmt.Errorf("busadapter: export Profile properties: %w", err)
		}
		md.paths = append(md.paths, profPath)

		for ri := range p.Resolutions {
			resPath := resolutionPath(index, pi, ri)
			res := &resolutionObject{act: act, profile: pi, slot: ri}
			if err := m.conn.Export(res, resPath, ifacePrefix+"Resolution"); err != nil {
				return "", fmt.Errorf("busadapter: export Resolution: %w", err)
			}
			if err := m.conn.Export(propertiesAdaptor{res.GetAll}, resPath, "org.freedesktop.DBus.Properties"); err != nil {
				return "", fmt.Errorf("busadapter: export Resolution properties: %w", err)
			}
			md.paths = append(md.paths, resPath)
		}

		for bi := range p.Buttons {
			btnPath := buttonPath(index, pi, bi)
			btn := &buttonObject{act: act, profile: pi, slot: bi}
			if err := m.conn.Export(btn, btnPath, ifacePrefix+"Button"); err != nil {
				return "", fmt.Errorf("busadapter: export Button: %w", err)
			}
			if err := m.conn.Export(propertiesAdaptor{btn.GetAll}, btnPath, "org.freedesktop.DBus.Properties"); err != nil {
				return "", fmt.Errorf("busadapter: export Button properties: %w", err)
			}
			md.paths = append(md.paths, btnPath)
		}

		for li := range p.LEDs {
			ledP := ledPath(index, pi, li)
			led := &ledObject{act: act, profile: pi, slot: li}
			if err := m.conn.Export(led, ledP, ifacePrefix+"Led"); err != nil {
				return "", fmt.Errorf("busadapter: export Led: %w", err)
			}
			if err := m.conn.Export(propertiesAdaptor{led.GetAll}, ledP, "org.freedesktop.DBus.Properties"); err != nil {
				return "", fmt.Errorf("busadapter: export Led properties: %w", err)
			}
			md.paths = append(md.paths, ledP)
		}
	}

	m.mu.Lock()
	m.bySysname[sysname] = md
	m.mu.Unlock()

	m.log.WithField("sysname", sysname).WithField("path", devPath).Info("published device")
	m.emitDevicesChanged()
	return devPath, nil
}

// Withdraw unregisters every object path published for sysname. Called
// by the supervisor when an actor's Done channel closes.
func (m *Manager) Withdraw(sysname string) {
	m.mu.Lock()
	md, ok := m.bySysname[sysname]
	if ok {
		delete(m.bySysname, sysname)
	}
	m.mu.Unlock()
	if !ok {
		return
	}
	for _, p := range md.paths {
		m.conn.Export(nil, p, ifacePrefix+"Device")
		m.conn.Export(nil, p, ifacePrefix+"Profile")
		m.conn.Export(nil, p, ifacePrefix+"Resolution")
		m.conn.Export(nil, p, ifacePrefix+"Button")
		m.conn.Export(nil, p, ifacePrefix+"Led")
		m.conn.Export(nil, p, "org.freedesktop.DBus.Properties")
	}
	m.log.WithField("sysname", sysname).Info("withdrew device")
	m.emitDevicesChanged()
}

func (m *Manager) emitDevicesChanged() {
	m.conn.Emit(rootPath, "org.freedesktop.DBus.Properties.PropertiesChanged",
		ifacePrefix+"Manager", map[string]dbus.Variant{"Devices": dbus.MakeVariant(m.devicePaths())}, []string{})
}

// propertiesAdaptor implements org.freedesktop.DBus.Properties.{Get,GetAll}
// over a single GetAll-style accessor, following the same pattern every
// object type in this package uses for its property surface.
type propertiesAdaptor struct {
	getAll func(iface string) (map[string]dbus.Variant, *dbus.Error)
}

func (p propertiesAdaptor) GetAll(iface string) (map[string]dbus.Variant, *dbus.Error) {
	return p.getAll(iface)
}

func (p propertiesAdaptor) Get(iface, name string) (dbus.Variant, *dbus.Error) {
	all, err := p.getAll(iface)
	if err != nil {
		return dbus.Variant{}, err
	}
	v, ok := all[name]
	if !ok {
		return dbus.Variant{}, toDBusError(fmt.Errorf("busadapter: no such property %s.%s", iface, name))
	}
	return v, nil
}
