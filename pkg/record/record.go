// Package record defines the per-step output row and the CSV recorder that
// persists it.
package record

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/dustin/go-humanize"

	"github.com/itohio/proprig/pkg/calibration"
)

// Header is the fixed column layout of the output file.
var Header = []string{
	"PWM",
	"Mech_RPM",
	"Opt_RPM",
	"Air_Density",
	"Torque (Nm)",
	"Thrust (N)",
	"ESC_Current",
	"Power_Current",
	"Power_Voltage",
}

// ErrClosed is returned when recording after Close.
var ErrClosed = errors.New("recorder closed")

// StepRecord is one completed window. Controller fields are kept as received.
type StepRecord struct {
	Setpoint   string  // commanded PWM
	MechRPM    string  // controller-measured RPM
	AirDensity string  // third controller field
	OpticalRPM float64 // 0 when no tachometer pulses were observed

	calibration.Quantities
}

// Row formats the record in Header order.
func (r StepRecord) Row() []string {
	return []string{
		r.Setpoint,
		r.MechRPM,
		formatFloat(r.OpticalRPM),
		r.AirDensity,
		formatFloat(r.Torque),
		formatFloat(r.Thrust),
		formatFloat(r.ESCCurrent),
		formatFloat(r.PowerCurrent),
		formatFloat(r.PowerVoltage),
	}
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// UniquePath returns the first of base.csv, base_1.csv, base_2.csv, ...
// that does not exist in dir.
func UniquePath(dir, base string) (string, error) {
	for i := 0; ; i++ {
		name := base + ".csv"
		if i > 0 {
			name = fmt.Sprintf("%s_%d.csv", base, i)
		}
		path := filepath.Join(dir, name)

		_, err := os.Stat(path)
		if os.IsNotExist(err) {
			return path, nil
		}
		if err != nil {
			return "", fmt.Errorf("failed to check %s: %w", path, err)
		}
	}
}

// Option configures a CSVRecorder.
type Option func(*CSVRecorder)

// WithLogger sets the logger. Defaults to a discarding logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *CSVRecorder) {
		r.logger = logger
	}
}

// CSVRecorder appends step records to a CSV file, flushing every row.
type CSVRecorder struct {
	mu     sync.Mutex
	file   *os.File
	w      *csv.Writer
	path   string
	rows   int
	closed bool
	logger *slog.Logger
}

// Create opens a fresh output file under a non-colliding name and writes
// the header.
func Create(dir, base string, opts ...Option) (*CSVRecorder, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	var file *os.File
	var path string
	for {
		p, err := UniquePath(dir, base)
		if err != nil {
			return nil, err
		}
		file, err = os.OpenFile(p, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
		if errors.Is(err, os.ErrExist) {
			// Taken between the check and the open.
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to create output file: %w", err)
		}
		path = p
		break
	}

	r := &CSVRecorder{
		file:   file,
		w:      csv.NewWriter(file),
		path:   path,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(r)
	}

	if err := r.writeRow(Header); err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to write header: %w", err)
	}

	r.logger.Info("recording", "file", path)
	return r, nil
}

// Record appends one row and flushes it to the file.
func (r *CSVRecorder) Record(rec StepRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrClosed
	}
	if err := r.writeRow(rec.Row()); err != nil {
		return fmt.Errorf("failed to write record: %w", err)
	}
	r.rows++
	return nil
}

func (r *CSVRecorder) writeRow(row []string) error {
	if err := r.w.Write(row); err != nil {
		return err
	}
	r.w.Flush()
	return r.w.Error()
}

// Path returns the output file path.
func (r *CSVRecorder) Path() string {
	return r.path
}

// Rows returns the number of records written.
func (r *CSVRecorder) Rows() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rows
}

// Close flushes and closes the file. It is safe to call more than once.
func (r *CSVRecorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true

	r.w.Flush()
	flushErr := r.w.Error()

	var size int64
	if info, err := r.file.Stat(); err == nil {
		size = info.Size()
	}

	if err := r.file.Close(); err != nil {
		return fmt.Errorf("failed to close output file: %w", err)
	}
	if flushErr != nil {
		return fmt.Errorf("failed to flush output file: %w", flushErr)
	}

	r.logger.Info("recording closed",
		"file", r.path,
		"rows", humanize.Comma(int64(r.rows)),
		"size", humanize.Bytes(uint64(size)),
	)
	return nil
}
