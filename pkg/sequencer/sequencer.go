// Package sequencer implements the step-boundary trigger protocol that turns
// the controller's line stream into one record per completed window.
//
// A marker line closes and clears the current window, then after a settle
// period a new window is opened. The next data line drains the window,
// applies the calibration and emits a record. Data lines that arrive with no
// open window are ignored.
package sequencer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/itohio/proprig/pkg/calibration"
	"github.com/itohio/proprig/pkg/record"
	"github.com/itohio/proprig/pkg/sensor"
	"github.com/itohio/proprig/pkg/window"
)

const (
	DefaultMarker    = "PWM:"
	DefaultSettle    = 3 * time.Second
	DefaultMinFields = 3
)

var (
	// ErrShortLine is returned for a data line with too few fields.
	ErrShortLine = errors.New("data line has too few fields")
	// ErrLinkClosed is returned by Run when the line source closes.
	ErrLinkClosed = errors.New("controller line source closed")
)

// State is the control loop state.
type State int

const (
	AwaitingMarker State = iota
	Settling
	Collecting
)

func (s State) String() string {
	switch s {
	case AwaitingMarker:
		return "awaiting_marker"
	case Settling:
		return "settling"
	case Collecting:
		return "collecting"
	default:
		return "unknown"
	}
}

// LineKind classifies a controller line.
type LineKind int

const (
	LineEmpty LineKind = iota
	LineMarker
	LineData
)

// Classify returns the kind of a controller line.
func Classify(line, marker string) LineKind {
	line = strings.TrimSpace(line)
	switch {
	case line == "":
		return LineEmpty
	case strings.HasPrefix(line, marker):
		return LineMarker
	default:
		return LineData
	}
}

// DataLine holds the controller fields of a data line.
type DataLine struct {
	Fields []string
}

// ParseDataLine splits a data line into its comma separated fields.
func ParseDataLine(line string, minFields int) (DataLine, error) {
	fields := strings.Split(strings.TrimSpace(line), ",")
	if len(fields) < minFields {
		return DataLine{}, fmt.Errorf("%w: %d < %d", ErrShortLine, len(fields), minFields)
	}
	for i := range fields {
		fields[i] = strings.TrimSpace(fields[i])
	}
	return DataLine{Fields: fields}, nil
}

func (d DataLine) field(i int) string {
	if i < len(d.Fields) {
		return d.Fields[i]
	}
	return ""
}

// Recorder persists step records.
type Recorder interface {
	Record(rec record.StepRecord) error
}

// Option configures a Loop.
type Option func(*Loop)

// WithLogger sets the logger. Defaults to a discarding logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Loop) {
		l.logger = logger
	}
}

// WithMarker sets the step marker prefix.
func WithMarker(marker string) Option {
	return func(l *Loop) {
		l.marker = marker
	}
}

// WithSettle sets the settle duration after a marker.
func WithSettle(d time.Duration) Option {
	return func(l *Loop) {
		l.settle = d
	}
}

// WithMinFields sets the minimum number of fields of a data line.
func WithMinFields(n int) Option {
	return func(l *Loop) {
		l.minFields = n
	}
}

// WithTimer replaces the settle timer source.
func WithTimer(after func(time.Duration) <-chan time.Time) Option {
	return func(l *Loop) {
		l.after = after
	}
}

// Loop is the control loop state machine.
type Loop struct {
	collector *window.Collector
	model     *calibration.Model
	recorder  Recorder

	marker    string
	settle    time.Duration
	minFields int
	after     func(time.Duration) <-chan time.Time
	logger    *slog.Logger

	mu        sync.RWMutex
	state     State
	settleC   <-chan time.Time
	step      string
	records   int
	ignored   int
	callbacks []func(rec record.StepRecord)
}

// New creates a loop in the AwaitingMarker state.
func New(c *window.Collector, model *calibration.Model, recorder Recorder, opts ...Option) *Loop {
	l := &Loop{
		collector: c,
		model:     model,
		recorder:  recorder,
		marker:    DefaultMarker,
		settle:    DefaultSettle,
		minFields: DefaultMinFields,
		after:     time.After,
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		state:     AwaitingMarker,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// OnRecord registers a callback invoked after each record is persisted.
func (l *Loop) OnRecord(fn func(rec record.StepRecord)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.callbacks = append(l.callbacks, fn)
}

// State returns the current state.
func (l *Loop) State() State {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state
}

// Records returns the number of records emitted.
func (l *Loop) Records() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.records
}

// Ignored returns the number of data lines dropped.
func (l *Loop) Ignored() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.ignored
}

// Run processes controller lines until the context is cancelled (returns
// nil), the line source closes (ErrLinkClosed) or recording fails.
// A window still open on return is discarded.
func (l *Loop) Run(ctx context.Context, lines <-chan string) error {
	defer l.collector.Discard()

	for {
		l.mu.RLock()
		settleC := l.settleC
		l.mu.RUnlock()

		select {
		case <-ctx.Done():
			return nil
		case <-settleC:
			l.EndSettle()
		case line, ok := <-lines:
			if !ok {
				return ErrLinkClosed
			}
			if err := l.HandleLine(line); err != nil {
				return err
			}
		}
	}
}

// HandleLine applies one controller line to the state machine. Only a
// recording failure is returned.
func (l *Loop) HandleLine(line string) error {
	switch Classify(line, l.marker) {
	case LineMarker:
		l.beginStep(strings.TrimSpace(line))
		return nil
	case LineData:
		return l.endWindow(line)
	default:
		return nil
	}
}

func (l *Loop) beginStep(line string) {
	l.collector.Discard()

	l.mu.Lock()
	l.state = Settling
	l.step = strings.TrimSpace(strings.TrimPrefix(line, l.marker))
	l.settleC = l.after(l.settle)
	l.mu.Unlock()

	l.logger.Info("step", "marker", line, "settle", l.settle)
}

// EndSettle opens the collection window of the current step. It has no
// effect outside the Settling state.
func (l *Loop) EndSettle() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.state != Settling {
		return
	}
	l.settleC = nil
	l.state = Collecting
	l.collector.BeginWindow()
	l.logger.Debug("collecting", "step", l.step)
}

func (l *Loop) endWindow(line string) error {
	l.mu.Lock()
	if l.state != Collecting {
		l.ignored++
		state := l.state
		l.mu.Unlock()
		l.logger.Debug("data line ignored", "state", state, "line", line)
		return nil
	}

	data, err := ParseDataLine(line, l.minFields)
	if err != nil {
		l.ignored++
		l.mu.Unlock()
		l.logger.Debug("data line dropped", "line", line, "error", err)
		return nil
	}

	snap := l.collector.DrainWindow()
	l.state = AwaitingMarker
	l.mu.Unlock()

	rec := record.StepRecord{
		Setpoint:   data.field(0),
		MechRPM:    data.field(1),
		AirDensity: data.field(2),
		OpticalRPM: snap.Mean(sensor.OpticalRPM),
		Quantities: l.model.Apply(snap),
	}

	if err := l.recorder.Record(rec); err != nil {
		return fmt.Errorf("failed to record step %s: %w", rec.Setpoint, err)
	}

	l.mu.Lock()
	l.records++
	callbacks := make([]func(record.StepRecord), len(l.callbacks))
	copy(callbacks, l.callbacks)
	l.mu.Unlock()

	l.logger.Info("record",
		"pwm", rec.Setpoint,
		"mech_rpm", rec.MechRPM,
		"opt_rpm", rec.OpticalRPM,
		"opt_samples", snap.Count(sensor.OpticalRPM),
		"torque", rec.Torque,
		"thrust", rec.Thrust,
	)

	for _, fn := range callbacks {
		fn(rec)
	}
	return nil
}
