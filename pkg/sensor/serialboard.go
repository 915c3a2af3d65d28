package sensor

import (
	"fmt"
	"io"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/itohio/proprig/pkg/link"
)

// SerialBoard is a transducer interface MCU that streams its sub-channel
// readings as comma-separated lines ("r0,r1,...") over a link. Each channel
// reads the most recent value of its field.
type SerialBoard struct {
	name       string
	link       link.Link
	staleAfter time.Duration
	now        func() time.Time
	logger     *slog.Logger

	mu       sync.RWMutex
	readings []reading
	done     chan struct{}
}

type reading struct {
	value float64
	at    time.Time
}

// BoardOption configures a SerialBoard.
type BoardOption func(b *SerialBoard)

// WithBoardLogger sets the logger for the board.
func WithBoardLogger(logger *slog.Logger) BoardOption {
	return func(b *SerialBoard) {
		b.logger = logger.With(slog.String("board", b.name))
	}
}

// WithClock overrides the time source used for staleness checks.
func WithClock(now func() time.Time) BoardOption {
	return func(b *SerialBoard) {
		b.now = now
	}
}

// OpenSerialBoard connects the link and starts tracking the board's readings.
func OpenSerialBoard(name string, l link.Link, staleAfter time.Duration, options ...BoardOption) (*SerialBoard, error) {
	b := &SerialBoard{
		name:       name,
		link:       l,
		staleAfter: staleAfter,
		now:        time.Now,
		logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		done:       make(chan struct{}),
	}

	for _, option := range options {
		option(b)
	}

	if err := l.Connect(); err != nil {
		return nil, fmt.Errorf("failed to open board %s: %w", name, err)
	}

	go b.consume()

	return b, nil
}

// Open returns the channel reading field index of the board's lines.
func (b *SerialBoard) Open(index int) (Channel, error) {
	if index < 0 {
		return nil, fmt.Errorf("board %s: invalid channel index %d", b.name, index)
	}
	return &boardChannel{board: b, index: index}, nil
}

// Close disconnects the board and waits for the reader to exit.
func (b *SerialBoard) Close() error {
	err := b.link.Close()
	<-b.done
	return err
}

func (b *SerialBoard) consume() {
	defer close(b.done)

	for line := range b.link.Lines() {
		values, err := parseReadings(line)
		if err != nil {
			b.logger.Debug("discarding board line", slog.String("line", line), slog.Any("error", err))
			continue
		}

		at := b.now()
		b.mu.Lock()
		if len(b.readings) < len(values) {
			b.readings = append(b.readings, make([]reading, len(values)-len(b.readings))...)
		}
		for i, v := range values {
			b.readings[i] = reading{value: v, at: at}
		}
		b.mu.Unlock()
	}
}

func (b *SerialBoard) latest(index int) (float64, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if index >= len(b.readings) || b.readings[index].at.IsZero() {
		return 0, fmt.Errorf("%w: board %s channel %d has no reading", ErrRead, b.name, index)
	}

	r := b.readings[index]
	if b.staleAfter > 0 && b.now().Sub(r.at) > b.staleAfter {
		return 0, fmt.Errorf("%w: board %s channel %d last updated %s ago", ErrStale, b.name, index, b.now().Sub(r.at))
	}
	return r.value, nil
}

// parseReadings parses a board line into its field values.
// Format: r0,r1,...,rN
// Example: 0.000124,-0.000051
func parseReadings(line string) ([]float64, error) {
	parts := strings.Split(line, ",")
	values := make([]float64, len(parts))
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid reading %d: %w", i, err)
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("invalid reading %d: %q is not finite", i, p)
		}
		values[i] = v
	}
	return values, nil
}

type boardChannel struct {
	board  *SerialBoard
	index  int
	closed atomic.Bool
}

func (c *boardChannel) ReadScalar() (float64, error) {
	if c.closed.Load() {
		return 0, ErrClosed
	}
	return c.board.latest(c.index)
}

func (c *boardChannel) Close() error {
	c.closed.Store(true)
	return nil
}
