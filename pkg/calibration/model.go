package calibration

import (
	"github.com/itohio/proprig/pkg/sensor"
	"github.com/itohio/proprig/pkg/window"
)

// DefaultVoltageDivider is the supply divider ratio of the power-voltage channel.
const DefaultVoltageDivider = 5.0

// Quantities are the calibrated physical values of one window.
type Quantities struct {
	Torque       float64 // Nm
	Thrust       float64 // N
	ESCCurrent   float64 // A
	PowerCurrent float64 // A
	PowerVoltage float64 // V
}

// Model converts window means into physical units. It is immutable for the
// duration of a logging session.
type Model struct {
	Store          Store
	Zero           [sensor.Count]float64 // tare measured at session start
	VoltageDivider float64
}

// NewModel creates a model from stored coefficients and measured zero offsets.
func NewModel(store Store, zero [sensor.Count]float64, divider float64) *Model {
	if divider == 0 {
		divider = DefaultVoltageDivider
	}
	return &Model{
		Store:          store,
		Zero:           zero,
		VoltageDivider: divider,
	}
}

// Bridge converts a ratiometric reading. Bridge cells pass through the origin
// once the tare is removed.
func Bridge(raw, slope, zero float64) float64 {
	return (raw - zero) * slope
}

// Linear converts an analog reading with a fitted intercept.
func Linear(raw, slope, offset, zero float64) float64 {
	return (raw-zero)*slope + offset
}

// Apply converts every board channel of a snapshot.
func (m *Model) Apply(s window.Snapshot) Quantities {
	return Quantities{
		Torque:       Bridge(s.Mean(sensor.Torque), m.Store.TorqueSlope, m.Zero[sensor.Torque]),
		Thrust:       Bridge(s.Mean(sensor.Thrust), m.Store.ThrustSlope, m.Zero[sensor.Thrust]),
		ESCCurrent:   Linear(s.Mean(sensor.ESCCurrent), m.Store.ESCCurrentSlope, m.Store.ESCCurrentOffset, m.Zero[sensor.ESCCurrent]),
		PowerCurrent: Linear(s.Mean(sensor.PowerCurrent), m.Store.PowerCurrentSlope, m.Store.PowerCurrentOffset, m.Zero[sensor.PowerCurrent]),
		PowerVoltage: s.Mean(sensor.PowerVoltage) * m.VoltageDivider,
	}
}
