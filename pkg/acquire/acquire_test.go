package acquire

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itohio/proprig/pkg/sensor"
	"github.com/itohio/proprig/pkg/window"
)

type stubChannel struct {
	value float64
	err   error
	reads int
}

func (c *stubChannel) ReadScalar() (float64, error) {
	c.reads++
	return c.value, c.err
}

func (c *stubChannel) Close() error { return nil }

func TestParseRPM(t *testing.T) {
	tests := []struct {
		line    string
		want    float64
		wantErr error
	}{
		{"4800.0", 4800, nil},
		{" 123.5\r", 123.5, nil},
		{"0", 0, ErrNonPositive},
		{"-5", 0, ErrNonPositive},
		{"#", 0, ErrMalformed},
		{"", 0, ErrMalformed},
		{"nan", 0, ErrMalformed},
		{"NaN", 0, ErrMalformed},
		{"+Inf", 0, ErrMalformed},
		{"-inf", 0, ErrMalformed},
	}

	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			v, err := ParseRPM(tt.line)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, v)
		})
	}
}

func TestPoller_Poll(t *testing.T) {
	c := window.New()
	torque := &stubChannel{value: 0.5}
	thrust := &stubChannel{err: sensor.ErrRead}

	p := NewPoller(c, []Binding{
		{ID: sensor.Torque, Channel: torque},
		{ID: sensor.Thrust, Channel: thrust},
	}, 0)
	assert.Equal(t, DefaultPollInterval, p.interval)

	assert.Equal(t, 0, p.Poll(), "closed window")
	assert.Equal(t, 0, torque.reads)

	c.BeginWindow()
	assert.Equal(t, 1, p.Poll())
	assert.Equal(t, 1, p.Poll())

	s := c.DrainWindow()
	assert.Equal(t, 2, s.Count(sensor.Torque))
	assert.Equal(t, 0.5, s.Mean(sensor.Torque))
	assert.Equal(t, 0, s.Count(sensor.Thrust))
	assert.Equal(t, int64(2), p.Faults(sensor.Thrust))
	assert.Equal(t, int64(0), p.Faults(sensor.Torque))
}

func TestPoller_RunStopsOnCancel(t *testing.T) {
	c := window.New()
	c.BeginWindow()
	ch := &stubChannel{value: 1}
	p := NewPoller(c, []Binding{{ID: sensor.ESCCurrent, Channel: ch}}, time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	require.NoError(t, p.Run(ctx))
	assert.Greater(t, c.DrainWindow().Count(sensor.ESCCurrent), 0)
}

func TestOpticalReader_HandleLine(t *testing.T) {
	c := window.New()
	r := NewOpticalReader(c)

	assert.False(t, r.HandleLine("4800"), "closed window")

	c.BeginWindow()
	assert.True(t, r.HandleLine("4800"))
	assert.True(t, r.HandleLine("4900"))
	assert.False(t, r.HandleLine("0"))
	assert.False(t, r.HandleLine("#"))

	s := c.DrainWindow()
	assert.Equal(t, 4850.0, s.Mean(sensor.OpticalRPM))

	accepted, rejected := r.Stats()
	assert.Equal(t, int64(2), accepted)
	assert.Equal(t, int64(2), rejected)
}

func TestOpticalReader_NonFiniteLineKeepsMean(t *testing.T) {
	c := window.New()
	c.BeginWindow()
	r := NewOpticalReader(c)

	assert.True(t, r.HandleLine("4800"))
	assert.False(t, r.HandleLine("nan"))
	assert.False(t, r.HandleLine("+Inf"))
	assert.True(t, r.HandleLine("4810"))

	s := c.DrainWindow()
	assert.Equal(t, 2, s.Count(sensor.OpticalRPM))
	assert.Equal(t, 4805.0, s.Mean(sensor.OpticalRPM))
}

func TestOpticalReader_RunUntilClosed(t *testing.T) {
	c := window.New()
	c.BeginWindow()
	r := NewOpticalReader(c)

	lines := make(chan string, 3)
	lines <- "100"
	lines <- "300"
	lines <- "garbage"
	close(lines)

	require.NoError(t, r.Run(context.Background(), lines))
	s := c.DrainWindow()
	assert.Equal(t, 2, s.Count(sensor.OpticalRPM))
	assert.Equal(t, 200.0, s.Mean(sensor.OpticalRPM))
}

func TestOpticalReader_RunCancel(t *testing.T) {
	r := NewOpticalReader(window.New())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.NoError(t, r.Run(ctx, make(chan string)))
}
