package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration.
type Config struct {
	Settings    SettingsConfig    `yaml:"settings"`
	Serial      SerialConfig      `yaml:"serial"`
	Boards      BoardsConfig      `yaml:"boards"`
	Channels    ChannelsConfig    `yaml:"channels"`
	Acquisition AcquisitionConfig `yaml:"acquisition"`
	Calibration CalibrationConfig `yaml:"calibration"`
	Output      OutputConfig      `yaml:"output"`
	Aero        AeroConfig        `yaml:"aero"`
	Mock        MockConfig        `yaml:"mock"`
}

// SettingsConfig contains global application settings.
type SettingsConfig struct {
	LogLevel string `yaml:"log_level"`
}

// SerialConfig contains the controller serial links configuration.
type SerialConfig struct {
	ControllerPort    string        `yaml:"controller_port"`    // Sequencer MCU (markers and data lines)
	OpticalPort       string        `yaml:"optical_port"`       // Optical tachometer MCU
	BaudRate          int           `yaml:"baud_rate"`          // Shared by both links
	ControllerTimeout time.Duration `yaml:"controller_timeout"` // Read timeout of the sequencer link
	OpticalTimeout    time.Duration `yaml:"optical_timeout"`    // Read timeout of the tachometer link
	OpenDelay         time.Duration `yaml:"open_delay"`         // Wait after opening before arming (MCU reset)
}

// BoardConfig contains a transducer interface board configuration.
type BoardConfig struct {
	Port       string        `yaml:"port"`
	BaudRate   int           `yaml:"baud_rate"`
	StaleAfter time.Duration `yaml:"stale_after"` // Readings older than this are rejected
}

// BoardsConfig contains the bridge (ratiometric) and analog (voltage) boards.
type BoardsConfig struct {
	Bridge BoardConfig `yaml:"bridge"`
	Analog BoardConfig `yaml:"analog"`
}

// ChannelsConfig maps rig channels to sub-channel indices on their boards.
type ChannelsConfig struct {
	Torque       int `yaml:"torque"`        // bridge board
	Thrust       int `yaml:"thrust"`        // bridge board
	ESCCurrent   int `yaml:"esc_current"`   // analog board
	PowerCurrent int `yaml:"power_current"` // analog board
	PowerVoltage int `yaml:"power_voltage"` // analog board, behind the voltage divider
}

// AcquisitionConfig contains sampling and step protocol parameters.
type AcquisitionConfig struct {
	PollInterval   time.Duration `yaml:"poll_interval"`
	SettleDuration time.Duration `yaml:"settle_duration"`
	MarkerToken    string        `yaml:"marker_token"`
	MinDataFields  int           `yaml:"min_data_fields"`
	VoltageDivider float64       `yaml:"voltage_divider"` // Power voltage = divider reading * ratio
}

// CalibrationConfig contains the calibration store location and warm-up timing.
type CalibrationConfig struct {
	File           string        `yaml:"file"`
	WarmupDelay    time.Duration `yaml:"warmup_delay"`
	WarmupDuration time.Duration `yaml:"warmup_duration"`
	WarmupInterval time.Duration `yaml:"warmup_interval"`
}

// OutputConfig contains the output file naming.
type OutputConfig struct {
	Directory string `yaml:"directory"`
	BaseName  string `yaml:"base_name"`
	Propeller string `yaml:"propeller"` // When set, files are named <propeller>_<side>
	Side      string `yaml:"side"`
}

// AeroConfig contains parameters for the per-step coefficient summary.
type AeroConfig struct {
	Diameter  float64 `yaml:"diameter"`   // Propeller diameter (m), 0 disables coefficients
	RPMSource string  `yaml:"rpm_source"` // mech, opt or both
}

// MockConfig contains simulated rig configuration.
type MockConfig struct {
	NoiseLevel    float64       `yaml:"noise_level"`    // Relative noise amplitude
	MaxRPM        float64       `yaml:"max_rpm"`        // RPM at full throttle
	AirDensity    float64       `yaml:"air_density"`    // Reported by the sequencer (kg/m^3)
	PWMSteps      []int         `yaml:"pwm_steps"`      // Commanded PWM staircase (us)
	StepDuration  time.Duration `yaml:"step_duration"`  // Time between marker and data line
	TachRate      time.Duration `yaml:"tach_rate"`      // Tachometer line period
	TorqueBias    float64       `yaml:"torque_bias"`    // Bridge ratio at rest
	TorqueRange   float64       `yaml:"torque_range"`   // Bridge ratio change at full throttle
	ThrustBias    float64       `yaml:"thrust_bias"`    // Bridge ratio at rest
	ThrustRange   float64       `yaml:"thrust_range"`   // Bridge ratio change at full throttle
	CurrentBias   float64       `yaml:"current_bias"`   // Current sensor output at 0 A (V)
	CurrentRange  float64       `yaml:"current_range"`  // Current sensor output change at full throttle (V)
	SupplyVoltage float64       `yaml:"supply_voltage"` // Supply voltage before the divider (V)
	FaultEvery    int           `yaml:"fault_every"`    // Inject a read fault every N reads (0 = never)
}

// Default returns a default configuration with sensible values.
func Default() *Config {
	return &Config{
		Settings: SettingsConfig{
			LogLevel: "INFO",
		},
		Serial: SerialConfig{
			ControllerPort:    "COM3", // "/dev/ttyACM0" on Linux
			OpticalPort:       "COM7",
			BaudRate:          115200,
			ControllerTimeout: 2 * time.Second,
			OpticalTimeout:    1 * time.Second,
			OpenDelay:         2 * time.Second,
		},
		Boards: BoardsConfig{
			Bridge: BoardConfig{Port: "COM4", BaudRate: 115200, StaleAfter: 100 * time.Millisecond},
			Analog: BoardConfig{Port: "COM5", BaudRate: 115200, StaleAfter: 100 * time.Millisecond},
		},
		Channels: ChannelsConfig{
			Torque:       0,
			Thrust:       1,
			ESCCurrent:   0,
			PowerCurrent: 1,
			PowerVoltage: 2,
		},
		Acquisition: AcquisitionConfig{
			PollInterval:   8 * time.Millisecond,
			SettleDuration: 3 * time.Second,
			MarkerToken:    "PWM:",
			MinDataFields:  3,
			VoltageDivider: 5,
		},
		Calibration: CalibrationConfig{
			File:           "phidget_calibration.json",
			WarmupDelay:    1 * time.Second,
			WarmupDuration: 10 * time.Second,
			WarmupInterval: 10 * time.Millisecond,
		},
		Output: OutputConfig{
			Directory: ".",
			BaseName:  "combined_data_log",
		},
		Aero: AeroConfig{
			Diameter:  0,
			RPMSource: "both",
		},
		Mock: MockConfig{
			NoiseLevel:    0.01,
			MaxRPM:        12000,
			AirDensity:    1.225,
			PWMSteps:      []int{1100, 1200, 1300, 1400, 1500, 1600, 1700},
			StepDuration:  5 * time.Second,
			TachRate:      50 * time.Millisecond,
			TorqueBias:    0.00012,
			TorqueRange:   0.00040,
			ThrustBias:    -0.00005,
			ThrustRange:   0.00150,
			CurrentBias:   2.5,
			CurrentRange:  1.2,
			SupplyVoltage: 16.8,
			FaultEvery:    0,
		},
	}
}

// Load loads configuration from a YAML file. If the file doesn't exist or
// fields are missing, it uses default values.
func Load(filename string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.ensureDefaults()

	return cfg, nil
}

// Save saves the configuration to a YAML file.
func (c *Config) Save(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// OutputBase returns the output file base name for the session.
func (c *Config) OutputBase() string {
	if c.Output.Propeller == "" {
		return c.Output.BaseName
	}
	return c.Output.Propeller + "_" + c.Output.Side
}

// ensureDefaults ensures that all required fields have default values if missing.
func (c *Config) ensureDefaults() {
	def := Default()

	if c.Settings.LogLevel == "" {
		c.Settings.LogLevel = def.Settings.LogLevel
	}

	if c.Serial.BaudRate == 0 {
		c.Serial.BaudRate = def.Serial.BaudRate
	}
	if c.Serial.ControllerTimeout == 0 {
		c.Serial.ControllerTimeout = def.Serial.ControllerTimeout
	}
	if c.Serial.OpticalTimeout == 0 {
		c.Serial.OpticalTimeout = def.Serial.OpticalTimeout
	}

	ensureBoard(&c.Boards.Bridge, def.Boards.Bridge)
	ensureBoard(&c.Boards.Analog, def.Boards.Analog)

	if c.Acquisition.PollInterval == 0 {
		c.Acquisition.PollInterval = def.Acquisition.PollInterval
	}
	if c.Acquisition.MarkerToken == "" {
		c.Acquisition.MarkerToken = def.Acquisition.MarkerToken
	}
	if c.Acquisition.MinDataFields == 0 {
		c.Acquisition.MinDataFields = def.Acquisition.MinDataFields
	}
	if c.Acquisition.VoltageDivider == 0 {
		c.Acquisition.VoltageDivider = def.Acquisition.VoltageDivider
	}

	if c.Calibration.File == "" {
		c.Calibration.File = def.Calibration.File
	}
	if c.Calibration.WarmupDuration == 0 {
		c.Calibration.WarmupDuration = def.Calibration.WarmupDuration
	}
	if c.Calibration.WarmupInterval == 0 {
		c.Calibration.WarmupInterval = def.Calibration.WarmupInterval
	}

	if c.Output.Directory == "" {
		c.Output.Directory = def.Output.Directory
	}
	if c.Output.BaseName == "" {
		c.Output.BaseName = def.Output.BaseName
	}

	if c.Aero.RPMSource == "" {
		c.Aero.RPMSource = def.Aero.RPMSource
	}

	if len(c.Mock.PWMSteps) == 0 {
		c.Mock.PWMSteps = def.Mock.PWMSteps
	}
	if c.Mock.StepDuration == 0 {
		c.Mock.StepDuration = def.Mock.StepDuration
	}
	if c.Mock.TachRate == 0 {
		c.Mock.TachRate = def.Mock.TachRate
	}
	if c.Mock.MaxRPM == 0 {
		c.Mock.MaxRPM = def.Mock.MaxRPM
	}
	if c.Mock.AirDensity == 0 {
		c.Mock.AirDensity = def.Mock.AirDensity
	}
}

func ensureBoard(b *BoardConfig, def BoardConfig) {
	if b.BaudRate == 0 {
		b.BaudRate = def.BaudRate
	}
	if b.StaleAfter == 0 {
		b.StaleAfter = def.StaleAfter
	}
}
