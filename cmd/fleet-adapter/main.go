// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// fleet-adapter connects one fleet to the dispatch hub. It bids on
// task types it has a duration estimate for and runs the tasks it is
// handed, reporting their status back to the dispatcher. Execution is
// simulated: each task occupies the fleet for its configured duration.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/dispatch/lib/action"
	"github.com/bureau-foundation/dispatch/lib/bidding"
	"github.com/bureau-foundation/dispatch/lib/clock"
	"github.com/bureau-foundation/dispatch/lib/config"
	"github.com/bureau-foundation/dispatch/lib/process"
	"github.com/bureau-foundation/dispatch/lib/task"
	"github.com/bureau-foundation/dispatch/lib/version"
	"github.com/bureau-foundation/dispatch/transport"
)

func main() {
	if err := run(); err != nil {
		process.Fatal(err)
	}
}

func run() error {
	var (
		configPath  string
		logLevel    string
		fleetName   string
		showVersion bool
	)
	flags := pflag.NewFlagSet("fleet-adapter", pflag.ContinueOnError)
	flags.StringVar(&configPath, "config", "", "path to dispatch.yaml (default: $"+config.EnvironmentVariable+")")
	flags.StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")
	flags.StringVar(&fleetName, "fleet", "", "fleet name (overrides fleet.name)")
	flags.BoolVar(&showVersion, "version", false, "print version information and exit")
	if err := flags.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	if showVersion {
		fmt.Printf("fleet-adapter %s\n", version.Info())
		return nil
	}

	var (
		cfg *config.Config
		err error
	)
	if configPath != "" {
		cfg, err = config.LoadFile(configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if fleetName != "" {
		cfg.Fleet.Name = fleetName
	}
	if cfg.Fleet.Name == "" {
		return errors.New("fleet name is required: set fleet.name or pass --fleet")
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logger := process.NewLogger(logLevel).With("fleet", cfg.Fleet.Name)
	logger.Info("starting fleet adapter", version.LogAttrs()...)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	options, err := cfg.Hub.Options("fleet-"+cfg.Fleet.Name, logger.With("component", "bus"))
	if err != nil {
		return err
	}
	bus, err := transport.DialHub(ctx, cfg.Hub.SocketPath, options)
	if err != nil {
		return err
	}
	defer bus.Close()

	clk := clock.Real()
	server, err := action.NewServer(bus, cfg.Fleet.Name, logger, clk)
	if err != nil {
		return err
	}
	simulated := newFleet(cfg.Fleet.Name, cfg.Fleet.BidBaseCost, cfg.Fleet.TaskDurations, clk, server, logger)
	server.RegisterCallbacks(simulated.add, func(profile task.Profile) bool {
		return simulated.cancel(ctx, profile)
	})
	if err := server.Start(ctx); err != nil {
		return err
	}

	bidder, err := bidding.NewBidder(cfg.Fleet.Name, bus, simulated.estimate, logger)
	if err != nil {
		return err
	}
	if err := bidder.Start(ctx); err != nil {
		return err
	}

	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		simulated.run(ctx)
	}()

	logger.Info("fleet adapter running",
		"hub", cfg.Hub.SocketPath,
		"task_types", len(cfg.Fleet.TaskDurations),
		"bid_base_cost", cfg.Fleet.BidBaseCost,
	)

	var runErr error
	select {
	case <-ctx.Done():
	case <-bus.Done():
		runErr = transport.ErrHubClosed
	}
	logger.Info("shutting down")
	stop()
	<-workerDone
	return runErr
}
