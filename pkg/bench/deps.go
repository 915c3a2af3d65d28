package bench

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/itohio/proprig/pkg/calibration"
	"github.com/itohio/proprig/pkg/config"
	"github.com/itohio/proprig/pkg/link"
	"github.com/itohio/proprig/pkg/sensor"
)

// Deps are the hardware collaborators of a session.
type Deps struct {
	Controller link.Link    // sequencer MCU
	Optical    link.Link    // optical tachometer MCU
	Bridge     sensor.Board // torque and thrust cells
	Analog     sensor.Board // current sensors and voltage divider

	// Calibration overrides the calibration file when set.
	Calibration *calibration.Store
}

// Close releases every collaborator. Errors are joined.
func (d *Deps) Close() error {
	var errs []error
	for _, b := range []sensor.Board{d.Bridge, d.Analog} {
		if b != nil {
			errs = append(errs, b.Close())
		}
	}
	for _, l := range []link.Link{d.Controller, d.Optical} {
		if l != nil {
			errs = append(errs, l.Close())
		}
	}
	return errors.Join(errs...)
}

// NewDeps builds serial or simulated collaborators. Serial boards are opened
// immediately, the controller links are connected by Run.
func NewDeps(cfg *config.Config, mock bool, logger *slog.Logger) (*Deps, error) {
	if mock {
		return newMockDeps(cfg), nil
	}

	d := &Deps{
		Controller: link.New(cfg.Serial.ControllerPort, cfg.Serial.BaudRate, link.DefaultBufferSize,
			link.WithLogger(logger.With("link", "controller")),
			link.WithReadTimeout(cfg.Serial.ControllerTimeout),
		),
		Optical: link.New(cfg.Serial.OpticalPort, cfg.Serial.BaudRate, link.DefaultBufferSize,
			link.WithLogger(logger.With("link", "optical")),
			link.WithReadTimeout(cfg.Serial.OpticalTimeout),
		),
	}

	bridge, err := openBoard("bridge", cfg.Boards.Bridge, logger)
	if err != nil {
		return nil, err
	}
	d.Bridge = bridge

	analog, err := openBoard("analog", cfg.Boards.Analog, logger)
	if err != nil {
		bridge.Close()
		return nil, err
	}
	d.Analog = analog

	return d, nil
}

func openBoard(name string, cfg config.BoardConfig, logger *slog.Logger) (*sensor.SerialBoard, error) {
	l := link.New(cfg.Port, cfg.BaudRate, link.DefaultBufferSize,
		link.WithLogger(logger.With("board", name)),
	)
	b, err := sensor.OpenSerialBoard(name, l, cfg.StaleAfter, sensor.WithBoardLogger(logger.With("board", name)))
	if err != nil {
		return nil, fmt.Errorf("failed to open %s board on %s: %w", name, cfg.Port, err)
	}
	return b, nil
}

func newMockDeps(cfg *config.Config) *Deps {
	m := &cfg.Mock
	controller := link.NewMock(m)

	return &Deps{
		Controller:  controller,
		Optical:     link.NewMockTachometer(m, controller.Throttle),
		Bridge:      sensor.NewMockBridge(m, controller.Throttle),
		Analog:      sensor.NewMockAnalog(m, controller.Throttle),
		Calibration: mockCalibration(m),
	}
}

// mockCalibration scales the simulated full-throttle outputs onto a small
// 0.5 Nm / 15 N / 40 A rig.
func mockCalibration(m *config.MockConfig) *calibration.Store {
	scale := func(full, span float64) float64 {
		if span == 0 {
			return 0
		}
		return full / span
	}
	return &calibration.Store{
		TorqueSlope:       scale(0.5, m.TorqueRange),
		ThrustSlope:       scale(15, m.ThrustRange),
		ESCCurrentSlope:   scale(40, m.CurrentRange),
		PowerCurrentSlope: scale(40, m.CurrentRange),
	}
}
