package bench

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itohio/proprig/pkg/config"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()

	cfg.Serial.OpenDelay = 0
	cfg.Calibration.File = filepath.Join(t.TempDir(), "missing.json")
	cfg.Calibration.WarmupDelay = 0
	cfg.Calibration.WarmupDuration = 20 * time.Millisecond
	cfg.Calibration.WarmupInterval = time.Millisecond
	cfg.Acquisition.PollInterval = 2 * time.Millisecond
	cfg.Acquisition.SettleDuration = 10 * time.Millisecond
	cfg.Output.Directory = t.TempDir()
	cfg.Output.Propeller = "APC"
	cfg.Output.Side = "left"
	cfg.Aero.Diameter = 0.2

	cfg.Mock.NoiseLevel = 0
	cfg.Mock.PWMSteps = []int{1500, 2000}
	cfg.Mock.StepDuration = 60 * time.Millisecond
	cfg.Mock.TachRate = 2 * time.Millisecond
	return cfg
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func readRows(path string) []string {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	return strings.Split(strings.TrimSpace(string(data)), "\n")
}

func TestRun_MockSession(t *testing.T) {
	cfg := testConfig(t)
	deps, err := NewDeps(cfg, true, testLogger())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- Run(ctx, cfg, deps, testLogger()) }()

	out := filepath.Join(cfg.Output.Directory, "APC_left.csv")
	assert.Eventually(t, func() bool { return len(readRows(out)) == 3 }, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("session did not stop")
	}

	rows := readRows(out)
	require.Len(t, rows, 3)
	assert.True(t, strings.HasPrefix(rows[0], "PWM,Mech_RPM,Opt_RPM"))

	first := strings.Split(rows[1], ",")
	require.Len(t, first, 9)
	assert.Equal(t, "1500", first[0])
	assert.Equal(t, "6000", first[1])
	assert.Equal(t, "1.2250", first[3])
	assert.NotEqual(t, "0", first[2], "tachometer samples collected")

	second := strings.Split(rows[2], ",")
	assert.Equal(t, "2000", second[0])
	assert.Equal(t, "12000", second[1])

	assert.False(t, deps.Controller.IsConnected())
	assert.False(t, deps.Optical.IsConnected())
}

func TestRun_MissingCalibration(t *testing.T) {
	cfg := testConfig(t)
	deps, err := NewDeps(cfg, true, testLogger())
	require.NoError(t, err)
	deps.Calibration = nil

	err = Run(context.Background(), cfg, deps, testLogger())
	require.Error(t, err)

	entries, err := os.ReadDir(cfg.Output.Directory)
	require.NoError(t, err)
	assert.Empty(t, entries, "no output file before startup succeeds")
	assert.False(t, deps.Controller.IsConnected())
}

func TestRun_CalibrationFile(t *testing.T) {
	cfg := testConfig(t)
	cfg.Mock.PWMSteps = []int{1500}
	cfg.Calibration.File = filepath.Join(t.TempDir(), "cal.json")
	require.NoError(t, os.WriteFile(cfg.Calibration.File, []byte(`{
"torque_slope": 1000, "thrust_slope": 1000,
"esc_current_slope": 10, "esc_current_offset": 0,
"power_current_slope": 10, "power_current_offset": 0}`), 0644))

	deps, err := NewDeps(cfg, true, testLogger())
	require.NoError(t, err)
	deps.Calibration = nil

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- Run(ctx, cfg, deps, testLogger()) }()

	out := filepath.Join(cfg.Output.Directory, "APC_left.csv")
	assert.Eventually(t, func() bool { return len(readRows(out)) == 2 }, 5*time.Second, 10*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
}

func TestRun_BadChannel(t *testing.T) {
	cfg := testConfig(t)
	cfg.Channels.PowerVoltage = 9

	deps, err := NewDeps(cfg, true, testLogger())
	require.NoError(t, err)

	err = Run(context.Background(), cfg, deps, testLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "power_voltage")
}

func TestRun_CancelDuringWarmup(t *testing.T) {
	cfg := testConfig(t)
	cfg.Calibration.WarmupDuration = time.Hour

	deps, err := NewDeps(cfg, true, testLogger())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	assert.NoError(t, Run(ctx, cfg, deps, testLogger()))
}

func TestMockCalibration(t *testing.T) {
	m := config.Default().Mock
	s := mockCalibration(&m)
	assert.InDelta(t, 0.5, s.TorqueSlope*m.TorqueRange, 1e-9)
	assert.InDelta(t, 15, s.ThrustSlope*m.ThrustRange, 1e-9)

	m.CurrentRange = 0
	assert.Equal(t, 0.0, mockCalibration(&m).ESCCurrentSlope)
}
