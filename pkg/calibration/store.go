package calibration

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Store keys, as written by the calibration tools.
const (
	KeyTorqueSlope        = "torque_slope"
	KeyThrustSlope        = "thrust_slope"
	KeyESCCurrentSlope    = "esc_current_slope"
	KeyESCCurrentOffset   = "esc_current_offset"
	KeyPowerCurrentSlope  = "power_current_slope"
	KeyPowerCurrentOffset = "power_current_offset"
)

var requiredKeys = []string{
	KeyTorqueSlope,
	KeyThrustSlope,
	KeyESCCurrentSlope,
	KeyESCCurrentOffset,
	KeyPowerCurrentSlope,
	KeyPowerCurrentOffset,
}

// ErrMissingKey is returned when the calibration store lacks a required entry.
var ErrMissingKey = errors.New("calibration key missing")

// Store holds the fitted calibration coefficients.
type Store struct {
	TorqueSlope        float64 `yaml:"torque_slope" json:"torque_slope"`
	ThrustSlope        float64 `yaml:"thrust_slope" json:"thrust_slope"`
	ESCCurrentSlope    float64 `yaml:"esc_current_slope" json:"esc_current_slope"`
	ESCCurrentOffset   float64 `yaml:"esc_current_offset" json:"esc_current_offset"`
	PowerCurrentSlope  float64 `yaml:"power_current_slope" json:"power_current_slope"`
	PowerCurrentOffset float64 `yaml:"power_current_offset" json:"power_current_offset"`
}

// LoadStore reads the calibration store. The file may be YAML or the legacy
// JSON layout (a JSON object is valid YAML). Every coefficient is required.
func LoadStore(filename string) (*Store, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read calibration file: %w", err)
	}

	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse calibration file: %w", err)
	}

	values := make(map[string]float64, len(requiredKeys))
	for _, key := range requiredKeys {
		v, ok := raw[key]
		if !ok {
			return nil, fmt.Errorf("%w: %s in %s", ErrMissingKey, key, filename)
		}
		f, ok := toFloat(v)
		if !ok {
			return nil, fmt.Errorf("calibration key %s: invalid value %v", key, v)
		}
		values[key] = f
	}

	return &Store{
		TorqueSlope:        values[KeyTorqueSlope],
		ThrustSlope:        values[KeyThrustSlope],
		ESCCurrentSlope:    values[KeyESCCurrentSlope],
		ESCCurrentOffset:   values[KeyESCCurrentOffset],
		PowerCurrentSlope:  values[KeyPowerCurrentSlope],
		PowerCurrentOffset: values[KeyPowerCurrentOffset],
	}, nil
}

// Save merges the coefficients into the file, keeping any other entries it
// already holds. Files with a .json extension are written as JSON.
func (s *Store) Save(filename string) error {
	merged := map[string]any{}

	if data, err := os.ReadFile(filename); err == nil {
		if err := yaml.Unmarshal(data, &merged); err != nil {
			return fmt.Errorf("failed to parse calibration file: %w", err)
		}
		if merged == nil {
			merged = map[string]any{}
		}
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("failed to read calibration file: %w", err)
	}

	merged[KeyTorqueSlope] = s.TorqueSlope
	merged[KeyThrustSlope] = s.ThrustSlope
	merged[KeyESCCurrentSlope] = s.ESCCurrentSlope
	merged[KeyESCCurrentOffset] = s.ESCCurrentOffset
	merged[KeyPowerCurrentSlope] = s.PowerCurrentSlope
	merged[KeyPowerCurrentOffset] = s.PowerCurrentOffset

	var data []byte
	var err error
	if strings.EqualFold(filepath.Ext(filename), ".json") {
		data, err = json.MarshalIndent(merged, "", "    ")
	} else {
		data, err = yaml.Marshal(merged)
	}
	if err != nil {
		return fmt.Errorf("failed to marshal calibration: %w", err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write calibration file: %w", err)
	}
	return nil
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	default:
		return 0, false
	}
}
