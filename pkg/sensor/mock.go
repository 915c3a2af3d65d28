package sensor

import (
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/itohio/proprig/pkg/config"
)

// Signal maps the current throttle (0-1) onto a raw channel value.
type Signal func(throttle float64) float64

// MockBoard simulates a transducer interface board whose channels follow the
// throttle of a simulated motor.
type MockBoard struct {
	cfg      *config.MockConfig
	throttle func() float64
	signals  []Signal

	mu        sync.Mutex
	startTime time.Time
	reads     int
}

// Ensure MockBoard implements Board.
var _ Board = (*MockBoard)(nil)

// NewMockBoard creates a simulated board with one channel per signal.
func NewMockBoard(cfg *config.MockConfig, throttle func() float64, signals ...Signal) *MockBoard {
	if cfg == nil {
		cfg = &config.Default().Mock
	}
	if throttle == nil {
		throttle = func() float64 { return 0 }
	}

	return &MockBoard{
		cfg:       cfg,
		throttle:  throttle,
		signals:   signals,
		startTime: time.Now(),
	}
}

// NewMockBridge creates a simulated bridge board: torque on 0, thrust on 1.
func NewMockBridge(cfg *config.MockConfig, throttle func() float64) *MockBoard {
	if cfg == nil {
		cfg = &config.Default().Mock
	}
	return NewMockBoard(cfg, throttle,
		func(th float64) float64 { return cfg.TorqueBias + cfg.TorqueRange*th*th },
		func(th float64) float64 { return cfg.ThrustBias + cfg.ThrustRange*th*th },
	)
}

// NewMockAnalog creates a simulated analog board: ESC current sensor on 0,
// power current sensor on 1, supply voltage divider (1:5) on 2.
func NewMockAnalog(cfg *config.MockConfig, throttle func() float64) *MockBoard {
	if cfg == nil {
		cfg = &config.Default().Mock
	}
	current := func(th float64) float64 { return cfg.CurrentBias + cfg.CurrentRange*th*th*th }
	return NewMockBoard(cfg, throttle,
		current,
		current,
		func(th float64) float64 { return cfg.SupplyVoltage * (1 - 0.05*th) / 5 },
	)
}

// Open returns the simulated channel at index.
func (b *MockBoard) Open(index int) (Channel, error) {
	if index < 0 || index >= len(b.signals) {
		return nil, fmt.Errorf("mock board: no channel %d", index)
	}
	return &mockChannel{board: b, index: index}, nil
}

// Close is a no-op for the simulated board.
func (b *MockBoard) Close() error {
	return nil
}

func (b *MockBoard) read(index int) (float64, error) {
	b.mu.Lock()
	b.reads++
	reads := b.reads
	elapsed := float64(time.Since(b.startTime).Nanoseconds())
	b.mu.Unlock()

	if b.cfg.FaultEvery > 0 && reads%b.cfg.FaultEvery == 0 {
		return 0, fmt.Errorf("%w: simulated fault on channel %d", ErrRead, index)
	}

	v := b.signals[index](b.throttle())
	n := (math.Sin(elapsed*0.001+float64(index)) + math.Cos(elapsed*0.0013)) * b.cfg.NoiseLevel * 0.5
	return v * (1 + n), nil
}

type mockChannel struct {
	board  *MockBoard
	index  int
	closed atomic.Bool
}

func (c *mockChannel) ReadScalar() (float64, error) {
	if c.closed.Load() {
		return 0, ErrClosed
	}
	return c.board.read(c.index)
}

func (c *mockChannel) Close() error {
	c.closed.Store(true)
	return nil
}
