//go:build devhooks

package busadapter

import (
	"context"
	"fmt"
	"sync"

	"github.com/godbus/dbus/v5"
	"gopkg.in/yaml.v3"

	"github.com/ratbagd/ratbagd/internal/actor"
	"github.com/ratbagd/ratbagd/internal/driver"
	"github.com/ratbagd/ratbagd/internal/hidraw"
	"github.com/ratbagd/ratbagd/internal/state"
)

// testFixture is the YAML payload LoadTestDevice accepts: enough to
// synthesize an Identity and spawn a driver against an in-memory
// hidraw.Stub. Only feature-report dialects (roccat, steelseries) are
// usable here — hidraw.Stub answers FeatureReportGet/Set unconditionally,
// but the HID++ request/response dialect needs a scripted Responder this
// fixture format has no room to express.
type testFixture struct {
	Sysname string         `yaml:"sysname"`
	Name    string         `yaml:"name"`
	Model   string         `yaml:"model"`
	Driver  string         `yaml:"driver"`
	Quirks  map[string]any `yaml:"quirks"`
}

type testDeviceHandle struct {
	sysname string
	act     *actor.Actor
}

var (
	testDevicesMu sync.Mutex
	testDevices   []testDeviceHandle
)

// LoadTestDevice synthesizes a fake device from a YAML fixture and
// publishes it exactly as a real hotplugged device would be, so
// integration tests and ratbagctl developers can exercise the bus API
// without real hardware.
func (m *Manager) LoadTestDevice(data []byte) (dbus.ObjectPath, *dbus.Error) {
	var fx testFixture
	if err := yaml.Unmarshal(data, &fx); err != nil {
		return "", toDBusError(fmt.Errorf("busadapter: parse test fixture: %w", err))
	}
	if fx.Sysname == "" {
		return "", toDBusError(fmt.Errorf("busadapter: test fixture missing sysname"))
	}
	if fx.Driver == "" {
		fx.Driver = "roccat"
	}

	drv, err := driver.New(fx.Driver, fx.Quirks)
	if err != nil {
		return "", toDBusError(err)
	}

	identity := state.Identity{
		Sysname: fx.Sysname,
		BusType: "test",
		Name:    fx.Name,
		Model:   fx.Model,
	}

	stub := hidraw.NewStub(nil)
	act := actor.New(identity, stub, drv, m.log.WithField("sysname", fx.Sysname))

	ctx, cancel := context.WithCancel(context.Background())
	go act.Run(ctx)
	go func() {
		<-act.Done()
		cancel()
		m.Withdraw(fx.Sysname)
	}()

	<-act.Ready()
	if err := act.ProbeErr(); err != nil {
		cancel()
		return "", toDBusError(fmt.Errorf("busadapter: test device probe failed: %w", err))
	}

	path, err := m.Publish(fx.Sysname, act)
	if err != nil {
		cancel()
		return "", toDBusError(err)
	}

	testDevicesMu.Lock()
	testDevices = append(testDevices, testDeviceHandle{sysname: fx.Sysname, act: act})
	testDevicesMu.Unlock()

	return path, nil
}

// ResetTestDevice tears down every device LoadTestDevice created,
// restoring the bus to its pre-test state.
func (m *Manager) ResetTestDevice() *dbus.Error {
	testDevicesMu.Lock()
	handles := testDevices
	testDevices = nil
	testDevicesMu.Unlock()

	for _, h := range handles {
		reply := make(chan struct{})
		h.act.Send(actor.Shutdown{Reply: reply})
		<-reply
	}
	return nil
}
