// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// dispatcher runs the auctioning task dispatcher: it accepts tasks over
// its service socket, auctions them to fleets on the message hub, and
// tracks them through the winning fleet's action server.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/dispatch/dispatcher"
	"github.com/bureau-foundation/dispatch/lib/clock"
	"github.com/bureau-foundation/dispatch/lib/config"
	"github.com/bureau-foundation/dispatch/lib/process"
	"github.com/bureau-foundation/dispatch/lib/service"
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
		embedHub    bool
		showVersion bool
	)
	flags := pflag.NewFlagSet("dispatcher", pflag.ContinueOnError)
	flags.StringVar(&configPath, "config", "", "path to dispatch.yaml (default: $"+config.EnvironmentVariable+")")
	flags.StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")
	flags.BoolVar(&embedHub, "embedded-hub", false, "serve the message hub in this process")
	flags.BoolVar(&showVersion, "version", false, "print version information and exit")
	if err := flags.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	if showVersion {
		fmt.Printf("dispatcher %s\n", version.Info())
		return nil
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	logger := process.NewLogger(logLevel)
	logger.Info("starting dispatcher", version.LogAttrs()...)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	hubDone := make(chan error, 1)
	if embedHub {
		hub := transport.NewHub(cfg.Hub.SocketPath, logger.With("component", "hub"))
		go func() {
			hubDone <- hub.Serve(ctx)
		}()
		select {
		case <-hub.Ready():
		case err := <-hubDone:
			return fmt.Errorf("starting hub: %w", err)
		}
	} else {
		close(hubDone)
	}

	options, err := cfg.Hub.Options("dispatcher", logger.With("component", "bus"))
	if err != nil {
		return err
	}
	bus, err := transport.DialHub(ctx, cfg.Hub.SocketPath, options)
	if err != nil {
		return err
	}
	defer bus.Close()

	dispatch, err := dispatcher.New(bus, clock.Real(), logger, dispatcher.Config{
		BidWindow:        cfg.Dispatcher.BidWindow,
		DefaultEvaluator: cfg.Evaluator(),
		HandoffTimeout:   cfg.Dispatcher.HandoffTimeout,
		TerminatedLimit:  cfg.Dispatcher.TerminatedLimit,
	})
	if err != nil {
		return err
	}
	if err := dispatch.Start(ctx); err != nil {
		return fmt.Errorf("starting dispatcher: %w", err)
	}

	socketServer := service.NewSocketServer(cfg.Dispatcher.SocketPath, logger.With("component", "service"))
	dispatch.RegisterActions(socketServer)

	socketDone := make(chan error, 1)
	go func() {
		socketDone <- socketServer.Serve(ctx)
	}()

	logger.Info("dispatcher running",
		"socket", cfg.Dispatcher.SocketPath,
		"hub", cfg.Hub.SocketPath,
		"embedded_hub", embedHub,
		"evaluator", cfg.Evaluator(),
		"bid_window", cfg.Dispatcher.BidWindow,
	)

	var runErr error
	select {
	case <-ctx.Done():
	case <-bus.Done():
		runErr = transport.ErrHubClosed
	case err := <-socketDone:
		runErr = fmt.Errorf("service socket: %w", err)
		socketDone = nil
	}
	logger.Info("shutting down")
	stop()

	dispatch.Wait()
	if socketDone != nil {
		if err := <-socketDone; err != nil {
			logger.Error("socket server error", "error", err)
		}
	}
	if err := <-hubDone; err != nil {
		logger.Error("hub error", "error", err)
	}
	return runErr
}

// loadConfig reads the file named by --config, or by the environment
// when the flag is empty, and validates it.
func loadConfig(path string) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if path != "" {
		cfg, err = config.LoadFile(path)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}
