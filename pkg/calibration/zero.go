package calibration

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/stat"

	"github.com/itohio/proprig/pkg/sensor"
)

// ErrNoReadings is returned when a warm-up collected no valid reading.
var ErrNoReadings = errors.New("no readings during warm-up")

// Warmup controls the zero-offset measurement.
type Warmup struct {
	Delay    time.Duration // Wait before the first reading
	Duration time.Duration // Averaging period
	Interval time.Duration // Time between readings
}

// MeasureZero averages a channel's raw output over the warm-up period.
// Read faults are skipped.
func MeasureZero(ctx context.Context, ch sensor.Channel, w Warmup) (float64, error) {
	if w.Delay > 0 {
		select {
		case <-time.After(w.Delay):
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}

	interval := w.Interval
	if interval <= 0 {
		interval = 10 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var readings []float64
	deadline := time.Now().Add(w.Duration)
	for {
		if v, err := ch.ReadScalar(); err == nil {
			readings = append(readings, v)
		}

		if !time.Now().Before(deadline) {
			break
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}

	if len(readings) == 0 {
		return 0, ErrNoReadings
	}
	return stat.Mean(readings, nil), nil
}

// MeasureZeros runs the warm-up on several channels concurrently.
// Channels absent from the map keep a zero offset of 0.
func MeasureZeros(ctx context.Context, channels map[sensor.ID]sensor.Channel, w Warmup) ([sensor.Count]float64, error) {
	var zero [sensor.Count]float64
	results := make([]float64, sensor.Count)

	g, ctx := errgroup.WithContext(ctx)
	for id, ch := range channels {
		id, ch := id, ch
		g.Go(func() error {
			v, err := MeasureZero(ctx, ch, w)
			if err != nil {
				return fmt.Errorf("zero offset of %s: %w", id, err)
			}
			results[id] = v
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return zero, err
	}

	copy(zero[:], results)
	return zero, nil
}
