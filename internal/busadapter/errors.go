package busadapter

import (
	"errors"

	"github.com/godbus/dbus/v5"

	"github.com/ratbagd/ratbagd/internal/raterr"
)

const errorNamePrefix = "org.ratbag.ratbagd1.Error."

// toDBusError maps a raterr.Kind onto the fixed textual dbus error name
// of the same family, org.ratbag.ratbagd1.Error.<Kind>.
func toDBusError(err error) *dbus.Error {
	if err == nil {
		return nil
	}
	var rerr *raterr.Error
	if errors.As(err, &rerr) {
		return dbus.NewError(errorNamePrefix+string(rerr.Kind), []interface{}{rerr.Error()})
	}
	return dbus.NewError(errorNamePrefix+"ProtocolError", []interface{}{err.Error()})
}
