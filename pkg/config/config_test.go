package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.NotNil(t, cfg)
	assert.Equal(t, "COM3", cfg.Serial.ControllerPort)
	assert.Equal(t, "COM7", cfg.Serial.OpticalPort)
	assert.Equal(t, 115200, cfg.Serial.BaudRate)
	assert.Equal(t, 2*time.Second, cfg.Serial.ControllerTimeout)
	assert.Equal(t, 1*time.Second, cfg.Serial.OpticalTimeout)
	assert.Equal(t, 8*time.Millisecond, cfg.Acquisition.PollInterval)
	assert.Equal(t, 3*time.Second, cfg.Acquisition.SettleDuration)
	assert.Equal(t, "PWM:", cfg.Acquisition.MarkerToken)
	assert.Equal(t, 3, cfg.Acquisition.MinDataFields)
	assert.Equal(t, float64(5), cfg.Acquisition.VoltageDivider)
	assert.Equal(t, 10*time.Second, cfg.Calibration.WarmupDuration)
	assert.Equal(t, 2, cfg.Channels.PowerVoltage)
	assert.Equal(t, "combined_data_log", cfg.Output.BaseName)
}

func TestLoad_FileNotExists(t *testing.T) {
	cfg, err := Load("nonexistent.yaml")
	require.NoError(t, err)
	assert.NotNil(t, cfg)
	assert.Equal(t, "COM3", cfg.Serial.ControllerPort)
}

func TestLoad_ValidYAML(t *testing.T) {
	tmpfile, err := os.CreateTemp("", "test_config_*.yaml")
	require.NoError(t, err)
	defer os.Remove(tmpfile.Name())

	yamlContent := `
settings:
  log_level: DEBUG

serial:
  controller_port: "/dev/ttyACM0"
  optical_port: "/dev/ttyACM1"
  baud_rate: 57600
  controller_timeout: 500ms

boards:
  bridge:
    port: "/dev/ttyUSB0"
    stale_after: 50ms

channels:
  torque: 1
  thrust: 0

acquisition:
  poll_interval: 4ms
  settle_duration: 2s
  marker_token: "STEP:"

calibration:
  file: cal.yaml
  warmup_duration: 5s

output:
  propeller: APC0838
  side: L

aero:
  diameter: 0.21
  rpm_source: opt
`

	_, err = tmpfile.WriteString(yamlContent)
	require.NoError(t, err)
	require.NoError(t, tmpfile.Close())

	cfg, err := Load(tmpfile.Name())
	require.NoError(t, err)
	assert.NotNil(t, cfg)

	assert.Equal(t, "DEBUG", cfg.Settings.LogLevel)
	assert.Equal(t, "/dev/ttyACM0", cfg.Serial.ControllerPort)
	assert.Equal(t, "/dev/ttyACM1", cfg.Serial.OpticalPort)
	assert.Equal(t, 57600, cfg.Serial.BaudRate)
	assert.Equal(t, 500*time.Millisecond, cfg.Serial.ControllerTimeout)
	assert.Equal(t, "/dev/ttyUSB0", cfg.Boards.Bridge.Port)
	assert.Equal(t, 50*time.Millisecond, cfg.Boards.Bridge.StaleAfter)
	assert.Equal(t, 115200, cfg.Boards.Bridge.BaudRate) // default
	assert.Equal(t, 1, cfg.Channels.Torque)
	assert.Equal(t, 0, cfg.Channels.Thrust)
	assert.Equal(t, 4*time.Millisecond, cfg.Acquisition.PollInterval)
	assert.Equal(t, 2*time.Second, cfg.Acquisition.SettleDuration)
	assert.Equal(t, "STEP:", cfg.Acquisition.MarkerToken)
	assert.Equal(t, "cal.yaml", cfg.Calibration.File)
	assert.Equal(t, 5*time.Second, cfg.Calibration.WarmupDuration)
	assert.Equal(t, 0.21, cfg.Aero.Diameter)
	assert.Equal(t, "opt", cfg.Aero.RPMSource)
	assert.Equal(t, "APC0838_L", cfg.OutputBase())
}

func TestLoad_InvalidYAML(t *testing.T) {
	tmpfile, err := os.CreateTemp("", "test_config_*.yaml")
	require.NoError(t, err)
	defer os.Remove(tmpfile.Name())

	_, err = tmpfile.WriteString("invalid: yaml: content: [")
	require.NoError(t, err)
	require.NoError(t, tmpfile.Close())

	cfg, err := Load(tmpfile.Name())
	assert.Error(t, err)
	assert.Nil(t, cfg)
}

func TestLoad_PartialYAML(t *testing.T) {
	tmpfile, err := os.CreateTemp("", "test_config_*.yaml")
	require.NoError(t, err)
	defer os.Remove(tmpfile.Name())

	yamlContent := `
serial:
  controller_port: "/dev/ttyACM0"
acquisition:
  marker_token: ""
  min_data_fields: 0
`

	_, err = tmpfile.WriteString(yamlContent)
	require.NoError(t, err)
	require.NoError(t, tmpfile.Close())

	cfg, err := Load(tmpfile.Name())
	require.NoError(t, err)
	assert.NotNil(t, cfg)

	// Should use defaults for missing or zeroed fields
	assert.Equal(t, "/dev/ttyACM0", cfg.Serial.ControllerPort)
	assert.Equal(t, "COM7", cfg.Serial.OpticalPort)
	assert.Equal(t, "PWM:", cfg.Acquisition.MarkerToken)
	assert.Equal(t, 3, cfg.Acquisition.MinDataFields)
	assert.Equal(t, 10*time.Second, cfg.Calibration.WarmupDuration)
}

func TestSave(t *testing.T) {
	cfg := Default()
	cfg.Serial.ControllerPort = "/dev/ttyUSB0"
	cfg.Acquisition.SettleDuration = 4 * time.Second

	path := filepath.Join(t.TempDir(), "config.yaml")

	err := cfg.Save(path)
	require.NoError(t, err)

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/dev/ttyUSB0", loaded.Serial.ControllerPort)
	assert.Equal(t, 4*time.Second, loaded.Acquisition.SettleDuration)
	assert.Equal(t, cfg.Mock.PWMSteps, loaded.Mock.PWMSteps)
}

func TestConfig_OutputBase(t *testing.T) {
	cfg := Default()
	assert.Equal(t, "combined_data_log", cfg.OutputBase())

	cfg.Output.Propeller = "AIR2"
	cfg.Output.Side = "right"
	assert.Equal(t, "AIR2_right", cfg.OutputBase())
}
