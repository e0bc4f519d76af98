// Package config resolves daemon startup configuration from flags and
// environment.
package config

import (
	"flag"
	"os"
)

const (
	envDeviceDBPath = "RATBAGD_DEVICE_DB_PATH"
	envVerbose      = "RATBAGD_VERBOSE"

	defaultDeviceDBPath = "/usr/share/ratbagd/devices"
)

// Config is the complete set of daemon startup parameters.
type Config struct {
	// DeviceDBPath is the directory searched for *.yaml device database
	// files (internal/devicedb).
	DeviceDBPath string
	// Verbose enables debug-level logging.
	Verbose bool
	// SystemBus selects the dbus system bus at startup; false uses the
	// session bus, useful for running un-privileged during development.
	SystemBus bool
}

// Parse builds a Config from CLI args (flag.CommandLine-style) layered
// over environment variables, environment losing to an explicit flag.
func Parse(args []string) (Config, error) {
	fs := flag.NewFlagSet("ratbagd", flag.ContinueOnError)

	cfg := Config{
		DeviceDBPath: envOr(envDeviceDBPath, defaultDeviceDBPath),
		Verbose:      os.Getenv(envVerbose) != "",
		SystemBus:    true,
	}

	fs.StringVar(&cfg.DeviceDBPath, "device-db", cfg.DeviceDBPath, "directory of device database YAML files")
	fs.BoolVar(&cfg.Verbose, "verbose", cfg.Verbose, "enable debug logging")
	fs.BoolVar(&cfg.SystemBus, "system-bus", cfg.SystemBus, "connect to the dbus system bus (false = session bus)")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
