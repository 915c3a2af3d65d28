package link

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"
)

// DefaultReadTimeout bounds a single read on the port.
const DefaultReadTimeout = time.Second

// Port represents a serial port.
type Port struct {
	Name        string
	Description string
}

// Serial is a line link to a rig MCU over a serial port.
type Serial struct {
	port        string
	baudRate    int
	bufSize     int
	readTimeout time.Duration
	logger      *slog.Logger

	conn      serial.Port
	lines     chan string
	done      chan struct{}
	mu        sync.RWMutex
	ctx       context.Context
	cancel    context.CancelFunc
	connected bool
}

// New creates a new Serial link with the specified port, baud rate, and buffer size.
func New(port string, baudRate int, bufSize int, options ...Option) *Serial {
	if baudRate == 0 {
		baudRate = DefaultBaudRate
	}
	if bufSize == 0 {
		bufSize = DefaultBufferSize
	}

	ctx, cancel := context.WithCancel(context.Background())

	s := &Serial{
		port:        port,
		baudRate:    baudRate,
		bufSize:     bufSize,
		readTimeout: DefaultReadTimeout,
		logger:      discardLogger(),
		lines:       make(chan string, bufSize),
		done:        make(chan struct{}),
		ctx:         ctx,
		cancel:      cancel,
	}

	for _, option := range options {
		option(s)
	}

	return s
}

// Ports returns a list of available serial ports. USB ports carry their
// product name and VID:PID as description.
func Ports() ([]Port, error) {
	details, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, fmt.Errorf("failed to list serial ports: %w", err)
	}

	result := make([]Port, 0, len(details))
	for _, d := range details {
		p := Port{Name: d.Name}
		if d.IsUSB {
			p.Description = strings.TrimSpace(fmt.Sprintf("%s %s:%s", d.Product, d.VID, d.PID))
		}
		result = append(result, p)
	}

	return result, nil
}

// Connect opens the serial port and starts reading lines.
func (s *Serial) Connect() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.connected {
		return fmt.Errorf("already connected")
	}

	port, err := serial.Open(s.port, &serial.Mode{
		BaudRate: s.baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return fmt.Errorf("failed to open serial port %s: %w", s.port, err)
	}

	if err := port.SetReadTimeout(s.readTimeout); err != nil {
		port.Close()
		return fmt.Errorf("failed to set read timeout on %s: %w", s.port, err)
	}

	s.conn = port
	s.connected = true

	go s.readLines(port)

	return nil
}

// Close stops the reader, closes the port and the lines channel.
func (s *Serial) Close() error {
	s.mu.Lock()
	if !s.connected {
		s.mu.Unlock()
		return nil
	}

	s.cancel()

	var err error
	if s.conn != nil {
		err = s.conn.Close()
		s.conn = nil
	}
	s.connected = false
	s.mu.Unlock()

	// The reader owns the lines channel and closes it on exit.
	<-s.done

	if err != nil {
		return fmt.Errorf("failed to close serial port %s: %w", s.port, err)
	}
	return nil
}

// Lines returns the channel of received lines.
func (s *Serial) Lines() <-chan string {
	return s.lines
}

// Write sends raw bytes to the MCU.
func (s *Serial) Write(p []byte) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.connected {
		return 0, ErrNotConnected
	}

	n, err := s.conn.Write(p)
	if err != nil {
		return n, fmt.Errorf("failed to write to %s: %w", s.port, err)
	}
	return n, nil
}

// IsConnected returns whether the link is currently connected.
func (s *Serial) IsConnected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connected
}

// readLines reads the port until shutdown, splitting the stream into lines.
// A read that times out returns no data, which gives the loop a chance to
// observe cancellation.
func (s *Serial) readLines(port serial.Port) {
	defer close(s.done)
	defer close(s.lines)

	var lb lineBuffer
	buf := make([]byte, 256)
	for {
		if s.ctx.Err() != nil {
			return
		}

		n, err := port.Read(buf)
		if err != nil {
			if s.ctx.Err() == nil {
				s.logger.Error("error reading from serial port", slog.Any("error", err))
			}
			return
		}
		if n == 0 {
			continue
		}

		for _, line := range lb.Feed(buf[:n]) {
			select {
			case s.lines <- line:
			case <-s.ctx.Done():
				return
			default:
				s.logger.Warn("lines channel full, dropping line", slog.String("line", line))
			}
		}
	}
}
