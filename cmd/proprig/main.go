package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/dustin/go-humanize/english"

	"github.com/itohio/proprig/pkg/bench"
	"github.com/itohio/proprig/pkg/config"
	"github.com/itohio/proprig/pkg/link"
)

func main() {
	var (
		configFlag  = flag.String("config", "config.yaml", "Configuration file path")
		mockFlag    = flag.Bool("mock", false, "Use a simulated rig instead of serial ports")
		portFlag    = flag.String("p", "", "Controller serial port override (e.g., COM3 or /dev/ttyACM0)")
		opticalFlag = flag.String("o", "", "Optical tachometer serial port override")
		propFlag    = flag.String("prop", "", "Propeller name, used for the output file name")
		sideFlag    = flag.String("side", "", "Propeller side, used with -prop")
		listFlag    = flag.Bool("list", false, "List serial ports and exit")
	)
	flag.Parse()

	if *listFlag {
		if err := listPorts(); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to list serial ports: %v\n", err)
			os.Exit(1)
		}
		return
	}

	cfg, err := config.Load(*configFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	if *portFlag != "" {
		cfg.Serial.ControllerPort = *portFlag
	}
	if *opticalFlag != "" {
		cfg.Serial.OpticalPort = *opticalFlag
	}
	if *propFlag != "" {
		cfg.Output.Propeller = *propFlag
		cfg.Output.Side = *sideFlag
	}

	var level slog.LevelVar
	if err := level.UnmarshalText([]byte(cfg.Settings.LogLevel)); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid log level %q, using INFO\n", cfg.Settings.LogLevel)
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: &level}))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	deps, err := bench.NewDeps(cfg, *mockFlag, logger)
	if err != nil {
		logger.Error("startup failed", "error", err)
		os.Exit(1)
	}

	if err := bench.Run(ctx, cfg, deps, logger); err != nil {
		logger.Error("session failed", "error", err)
		stop()
		os.Exit(1)
	}
}

func listPorts() error {
	ports, err := link.Ports()
	if err != nil {
		return err
	}
	if len(ports) == 0 {
		fmt.Println("No serial ports found")
		return nil
	}

	fmt.Printf("%s found:\n", english.Plural(len(ports), "serial port", "serial ports"))
	for _, p := range ports {
		if p.Description != "" && !strings.EqualFold(p.Description, p.Name) {
			fmt.Printf("  %s (%s)\n", p.Name, p.Description)
		} else {
			fmt.Printf("  %s\n", p.Name)
		}
	}
	return nil
}
