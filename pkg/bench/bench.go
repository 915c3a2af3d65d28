// Package bench runs one logging session: calibration, warm-up, arming the
// sequencer and the acquisition tasks until the session is cancelled.
package bench

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/itohio/proprig/pkg/acquire"
	"github.com/itohio/proprig/pkg/aero"
	"github.com/itohio/proprig/pkg/calibration"
	"github.com/itohio/proprig/pkg/config"
	"github.com/itohio/proprig/pkg/link"
	"github.com/itohio/proprig/pkg/record"
	"github.com/itohio/proprig/pkg/sensor"
	"github.com/itohio/proprig/pkg/sequencer"
	"github.com/itohio/proprig/pkg/window"
)

// zeroed lists the channels tared during warm-up.
var zeroed = []sensor.ID{sensor.Torque, sensor.Thrust, sensor.ESCCurrent, sensor.PowerCurrent}

// Run executes a session. Startup failures are returned before any
// acquisition task starts. Cancelling ctx stops the session and returns nil.
// Run closes every collaborator in deps before returning.
func Run(ctx context.Context, cfg *config.Config, deps *Deps, logger *slog.Logger) (err error) {
	defer func() {
		if cerr := deps.Close(); cerr != nil {
			logger.Warn("failed to release hardware", "error", cerr)
		}
	}()

	store := deps.Calibration
	if store == nil {
		store, err = calibration.LoadStore(cfg.Calibration.File)
		if err != nil {
			return err
		}
	}
	logger.Info("calibration loaded", "file", cfg.Calibration.File,
		"torque_slope", store.TorqueSlope,
		"thrust_slope", store.ThrustSlope,
	)

	if err := deps.Controller.Connect(); err != nil {
		return fmt.Errorf("failed to connect controller: %w", err)
	}
	if err := deps.Optical.Connect(); err != nil {
		return fmt.Errorf("failed to connect tachometer: %w", err)
	}
	connectedAt := time.Now()

	channels, err := openChannels(cfg.Channels, deps)
	if err != nil {
		return err
	}
	defer func() {
		for id, ch := range channels {
			if cerr := ch.Close(); cerr != nil {
				logger.Debug("failed to close channel", "channel", id, "error", cerr)
			}
		}
	}()

	logger.Info("measuring zero offsets", "duration", cfg.Calibration.WarmupDuration)
	warm := make(map[sensor.ID]sensor.Channel, len(zeroed))
	for _, id := range zeroed {
		warm[id] = channels[id]
	}
	zero, err := calibration.MeasureZeros(ctx, warm, calibration.Warmup{
		Delay:    cfg.Calibration.WarmupDelay,
		Duration: cfg.Calibration.WarmupDuration,
		Interval: cfg.Calibration.WarmupInterval,
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}
	for _, id := range zeroed {
		logger.Info("zero offset", "channel", id, "value", zero[id])
	}
	model := calibration.NewModel(*store, zero, cfg.Acquisition.VoltageDivider)

	// Give the controllers time to come out of reset.
	if wait := cfg.Serial.OpenDelay - time.Since(connectedAt); wait > 0 {
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return nil
		}
	}

	rec, err := record.Create(cfg.Output.Directory, cfg.OutputBase(), record.WithLogger(logger))
	if err != nil {
		return err
	}
	defer func() {
		if cerr := rec.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	collector := window.New()

	bindings := make([]acquire.Binding, 0, len(sensor.BoardChannels))
	for _, id := range sensor.BoardChannels {
		bindings = append(bindings, acquire.Binding{ID: id, Channel: channels[id]})
	}
	poller := acquire.NewPoller(collector, bindings, cfg.Acquisition.PollInterval,
		acquire.WithLogger(logger.With("driver", "poller")))
	optical := acquire.NewOpticalReader(collector,
		acquire.WithLogger(logger.With("driver", "optical")))

	loop := sequencer.New(collector, model, rec,
		sequencer.WithLogger(logger.With("loop", "sequencer")),
		sequencer.WithMarker(cfg.Acquisition.MarkerToken),
		sequencer.WithSettle(cfg.Acquisition.SettleDuration),
		sequencer.WithMinFields(cfg.Acquisition.MinDataFields),
	)
	if cfg.Aero.Diameter > 0 {
		params := aero.Params{Diameter: cfg.Aero.Diameter, RPMSource: cfg.Aero.RPMSource}
		loop.OnRecord(func(r record.StepRecord) {
			c, err := aero.Compute(r, params)
			if err != nil {
				logger.Debug("no coefficients", "pwm", r.Setpoint, "error", err)
				return
			}
			logger.Info("coefficients", "pwm", r.Setpoint, "rpm", c.RPM, "ct", c.CT, "cp", c.CP, "efficiency", c.Efficiency)
		})
	}

	if err := link.Arm(deps.Controller); err != nil {
		return fmt.Errorf("failed to arm controller: %w", err)
	}
	logger.Info("sequencer armed", "output", rec.Path())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return poller.Run(gctx) })
	g.Go(func() error { return optical.Run(gctx, deps.Optical.Lines()) })
	g.Go(func() error { return loop.Run(gctx, deps.Controller.Lines()) })

	runErr := g.Wait()

	accepted, rejected := optical.Stats()
	logger.Info("session finished",
		"records", loop.Records(),
		"ignored_lines", loop.Ignored(),
		"optical_accepted", accepted,
		"optical_rejected", rejected,
		"torque_faults", poller.Faults(sensor.Torque),
		"thrust_faults", poller.Faults(sensor.Thrust),
	)

	if errors.Is(runErr, sequencer.ErrLinkClosed) && ctx.Err() != nil {
		return nil
	}
	return runErr
}

func openChannels(ch config.ChannelsConfig, deps *Deps) (map[sensor.ID]sensor.Channel, error) {
	plan := []struct {
		id    sensor.ID
		board sensor.Board
		index int
	}{
		{sensor.Torque, deps.Bridge, ch.Torque},
		{sensor.Thrust, deps.Bridge, ch.Thrust},
		{sensor.ESCCurrent, deps.Analog, ch.ESCCurrent},
		{sensor.PowerCurrent, deps.Analog, ch.PowerCurrent},
		{sensor.PowerVoltage, deps.Analog, ch.PowerVoltage},
	}

	channels := make(map[sensor.ID]sensor.Channel, len(plan))
	for _, p := range plan {
		c, err := p.board.Open(p.index)
		if err != nil {
			for _, opened := range channels {
				opened.Close()
			}
			return nil, fmt.Errorf("failed to open %s channel: %w", p.id, err)
		}
		channels[p.id] = c
	}
	return channels, nil
}
