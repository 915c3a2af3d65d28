package link

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/itohio/proprig/pkg/config"
)

// MockController simulates the sequencer MCU. Once armed it walks the PWM
// staircase, emitting a marker line, waiting for the step duration and then
// emitting one data line per step.
type MockController struct {
	cfg *config.MockConfig

	lines     chan string
	done      chan struct{}
	armed     chan struct{}
	armOnce   sync.Once
	mu        sync.RWMutex
	ctx       context.Context
	cancel    context.CancelFunc
	connected bool

	startTime time.Time
	pwm       int
}

// NewMock creates a new simulated sequencer.
func NewMock(cfg *config.MockConfig) *MockController {
	if cfg == nil {
		cfg = &config.Default().Mock
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &MockController{
		cfg:    cfg,
		lines:  make(chan string, DefaultBufferSize),
		done:   make(chan struct{}),
		armed:  make(chan struct{}),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Connect starts the simulated sequencer; it idles until armed.
func (m *MockController) Connect() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.connected {
		return fmt.Errorf("already connected")
	}

	m.connected = true
	m.startTime = time.Now()

	go m.runSequence()

	return nil
}

// Close stops the simulated sequencer.
func (m *MockController) Close() error {
	m.mu.Lock()
	if !m.connected {
		m.mu.Unlock()
		return nil
	}
	m.cancel()
	m.connected = false
	m.mu.Unlock()

	<-m.done
	return nil
}

// Lines returns the channel of emitted lines.
func (m *MockController) Lines() <-chan string {
	return m.lines
}

// Write arms the sequence when the start command is received.
func (m *MockController) Write(p []byte) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if !m.connected {
		return 0, ErrNotConnected
	}

	if bytes.IndexByte(p, ArmCommand) >= 0 {
		m.armOnce.Do(func() { close(m.armed) })
	}
	return len(p), nil
}

// IsConnected returns whether the mock is running.
func (m *MockController) IsConnected() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.connected
}

// Throttle returns the commanded throttle in the range [0, 1].
func (m *MockController) Throttle() float64 {
	m.mu.RLock()
	pwm := m.pwm
	m.mu.RUnlock()

	return pwmToThrottle(pwm)
}

func (m *MockController) runSequence() {
	defer close(m.done)
	defer close(m.lines)

	select {
	case <-m.armed:
	case <-m.ctx.Done():
		return
	}

	for _, pwm := range m.cfg.PWMSteps {
		m.mu.Lock()
		m.pwm = pwm
		m.mu.Unlock()

		if !m.emit(fmt.Sprintf("PWM:%d", pwm)) {
			return
		}

		select {
		case <-time.After(m.cfg.StepDuration):
		case <-m.ctx.Done():
			return
		}

		rpm := pwmToThrottle(pwm) * m.cfg.MaxRPM * (1 + noise(m.startTime, m.cfg.NoiseLevel))
		if !m.emit(fmt.Sprintf("%d,%.0f,%.4f", pwm, rpm, m.cfg.AirDensity)) {
			return
		}
	}

	m.mu.Lock()
	m.pwm = 0
	m.mu.Unlock()

	<-m.ctx.Done()
}

func (m *MockController) emit(line string) bool {
	select {
	case m.lines <- line:
		return true
	case <-m.ctx.Done():
		return false
	}
}

// MockTachometer simulates the optical tachometer MCU, printing one RPM line
// per period derived from a throttle source. Every tenth line is protocol
// noise (garbage or zero) when noise is enabled.
type MockTachometer struct {
	cfg      *config.MockConfig
	throttle func() float64

	lines     chan string
	done      chan struct{}
	mu        sync.RWMutex
	ctx       context.Context
	cancel    context.CancelFunc
	connected bool
	startTime time.Time
}

// NewMockTachometer creates a new simulated tachometer.
func NewMockTachometer(cfg *config.MockConfig, throttle func() float64) *MockTachometer {
	if cfg == nil {
		cfg = &config.Default().Mock
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &MockTachometer{
		cfg:      cfg,
		throttle: throttle,
		lines:    make(chan string, DefaultBufferSize),
		done:     make(chan struct{}),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Connect starts emitting RPM lines.
func (m *MockTachometer) Connect() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.connected {
		return fmt.Errorf("already connected")
	}

	m.connected = true
	m.startTime = time.Now()

	go m.generateLines()

	return nil
}

// Close stops the simulated tachometer.
func (m *MockTachometer) Close() error {
	m.mu.Lock()
	if !m.connected {
		m.mu.Unlock()
		return nil
	}
	m.cancel()
	m.connected = false
	m.mu.Unlock()

	<-m.done
	return nil
}

// Lines returns the channel of emitted lines.
func (m *MockTachometer) Lines() <-chan string {
	return m.lines
}

// Write is accepted and ignored.
func (m *MockTachometer) Write(p []byte) (int, error) {
	if !m.IsConnected() {
		return 0, ErrNotConnected
	}
	return len(p), nil
}

// IsConnected returns whether the mock is running.
func (m *MockTachometer) IsConnected() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.connected
}

func (m *MockTachometer) generateLines() {
	defer close(m.done)
	defer close(m.lines)

	ticker := time.NewTicker(m.cfg.TachRate)
	defer ticker.Stop()

	var count int
	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			count++
			line := m.nextLine(count)
			select {
			case m.lines <- line:
			case <-m.ctx.Done():
				return
			default:
				// Channel full, skip
			}
		}
	}
}

func (m *MockTachometer) nextLine(count int) string {
	if m.cfg.NoiseLevel > 0 && count%10 == 0 {
		if count%20 == 0 {
			return "0"
		}
		return "#"
	}

	rpm := m.throttle() * m.cfg.MaxRPM * (1 + noise(m.startTime, m.cfg.NoiseLevel))
	return fmt.Sprintf("%.1f", rpm)
}

// pwmToThrottle maps a 1000-2000 us ESC pulse onto [0, 1].
func pwmToThrottle(pwm int) float64 {
	return math.Max(0, math.Min(1, float64(pwm-1000)/1000))
}

// noise returns a deterministic pseudo-noise term in [-level, level].
func noise(start time.Time, level float64) float64 {
	elapsed := float64(time.Since(start).Nanoseconds())
	return (math.Sin(elapsed*0.001) + math.Cos(elapsed*0.0013)) * level * 0.5
}
