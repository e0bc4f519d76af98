// Command ratbagd is the long-running daemon: it loads the device
// database, connects to dbus, and hands control to the supervisor for
// as long as the process runs.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/godbus/dbus/v5"

	"github.com/ratbagd/ratbagd/internal/busadapter"
	"github.com/ratbagd/ratbagd/internal/config"
	"github.com/ratbagd/ratbagd/internal/devicedb"
	_ "github.com/ratbagd/ratbagd/internal/driver/hidpp20"
	_ "github.com/ratbagd/ratbagd/internal/driver/roccat"
	_ "github.com/ratbagd/ratbagd/internal/driver/steelseries"
	"github.com/ratbagd/ratbagd/internal/logging"
	"github.com/ratbagd/ratbagd/internal/supervisor"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "ratbagd:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Parse(os.Args[1:])
	if err != nil {
		return fmt.Errorf("parsing flags: %w", err)
	}

	root := logging.New(cfg.Verbose)
	log := root.WithField("component", "main")

	db, err := devicedb.Load(cfg.DeviceDBPath)
	if err != nil {
		return fmt.Errorf("loading device database from %s: %w", cfg.DeviceDBPath, err)
	}
	log.WithField("entries", len(db.Entries())).Info("loaded device database")

	var conn *dbus.Conn
	if cfg.SystemBus {
		conn, err = dbus.ConnectSystemBus()
	} else {
		conn, err = dbus.ConnectSessionBus()
	}
	if err != nil {
		return fmt.Errorf("connecting to dbus: %w", err)
	}
	defer conn.Close()

	manager, err := busadapter.NewManager(conn, log.WithField("component", "busadapter"))
	if err != nil {
		return fmt.Errorf("publishing manager object: %w", err)
	}

	sup := supervisor.New(db, manager, log.WithField("component", "supervisor"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.WithField("signal", sig).Info("shutting down")
		cancel()
	}()

	log.Info("ratbagd starting")
	if err := sup.Run(ctx); err != nil && ctx.Err() == nil {
		return fmt.Errorf("supervisor: %w", err)
	}
	return nil
}
