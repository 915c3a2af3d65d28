// Package acquire feeds raw channel readings into the shared collection
// window. Board channels are polled on a fixed interval and the optical
// tachometer is read line by line; both only append while a window is open.
package acquire

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/itohio/proprig/pkg/sensor"
	"github.com/itohio/proprig/pkg/window"
)

// DefaultPollInterval matches the fastest data interval of the boards.
const DefaultPollInterval = 8 * time.Millisecond

var (
	// ErrMalformed is returned for a tachometer line that is not a finite number.
	ErrMalformed = errors.New("malformed tachometer line")
	// ErrNonPositive is returned for a tachometer reading of zero or less.
	ErrNonPositive = errors.New("non-positive tachometer reading")
)

// Option configures a Poller or an OpticalReader.
type Option func(*options)

type options struct {
	logger *slog.Logger
}

// WithLogger sets the logger. Defaults to a discarding logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

func newOptions(opts []Option) options {
	o := options{logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Binding attaches an opened channel to its rig channel ID.
type Binding struct {
	ID      sensor.ID
	Channel sensor.Channel
}

// Poller samples board channels into the collector.
type Poller struct {
	collector *window.Collector
	bindings  []Binding
	interval  time.Duration
	logger    *slog.Logger

	faults [sensor.Count]atomic.Int64
}

// NewPoller creates a poller for the given channels.
func NewPoller(c *window.Collector, bindings []Binding, interval time.Duration, opts ...Option) *Poller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	o := newOptions(opts)
	return &Poller{
		collector: c,
		bindings:  bindings,
		interval:  interval,
		logger:    o.logger,
	}
}

// Run polls until the context is cancelled.
func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			p.Poll()
		}
	}
}

// Poll reads every channel once and returns how many samples were kept.
// Nothing is read while the window is closed. Read faults are skipped and
// counted.
func (p *Poller) Poll() int {
	if !p.collector.Collecting() {
		return 0
	}

	kept := 0
	for _, b := range p.bindings {
		v, err := b.Channel.ReadScalar()
		if err != nil {
			if p.faults[b.ID].Add(1) == 1 {
				p.logger.Warn("channel read failed", "channel", b.ID, "error", err)
			}
			continue
		}
		if p.collector.TryAppend(b.ID, v) {
			kept++
		}
	}
	return kept
}

// Faults returns the number of failed reads of a channel.
func (p *Poller) Faults(id sensor.ID) int64 {
	return p.faults[id].Load()
}

// ParseRPM parses one tachometer line.
func ParseRPM(line string) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(line), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("%w: %q", ErrMalformed, line)
	}
	if v <= 0 {
		return 0, ErrNonPositive
	}
	return v, nil
}

// OpticalReader appends tachometer readings to the collector.
type OpticalReader struct {
	collector *window.Collector
	logger    *slog.Logger

	accepted atomic.Int64
	rejected atomic.Int64
}

// NewOpticalReader creates a tachometer reader.
func NewOpticalReader(c *window.Collector, opts ...Option) *OpticalReader {
	o := newOptions(opts)
	return &OpticalReader{
		collector: c,
		logger:    o.logger,
	}
}

// Run consumes lines until the context is cancelled or the line source closes.
func (r *OpticalReader) Run(ctx context.Context, lines <-chan string) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				r.logger.Info("tachometer line source closed")
				return nil
			}
			r.HandleLine(line)
		}
	}
}

// HandleLine appends a single tachometer line. Zero, negative, non-finite
// and unparseable readings are dropped.
func (r *OpticalReader) HandleLine(line string) bool {
	rpm, err := ParseRPM(line)
	if err != nil {
		r.rejected.Add(1)
		r.logger.Debug("tachometer line dropped", "line", line, "error", err)
		return false
	}
	if !r.collector.TryAppend(sensor.OpticalRPM, rpm) {
		return false
	}
	r.accepted.Add(1)
	return true
}

// Stats returns the accepted and rejected line counts.
func (r *OpticalReader) Stats() (accepted, rejected int64) {
	return r.accepted.Load(), r.rejected.Load()
}
