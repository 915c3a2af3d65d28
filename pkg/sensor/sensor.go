package sensor

import "errors"

var (
	// ErrRead is returned for a transient fault while reading a channel.
	ErrRead = errors.New("sensor read failed")
	// ErrStale is returned when the most recent reading is too old to use.
	ErrStale = errors.New("sensor reading is stale")
	// ErrClosed is returned when reading a channel that has been closed.
	ErrClosed = errors.New("sensor channel closed")
)

// ID identifies one physical measurement source on the rig.
type ID int

const (
	Torque ID = iota
	Thrust
	ESCCurrent
	PowerCurrent
	PowerVoltage
	OpticalRPM

	// Count is the number of channels on the rig.
	Count int = iota
)

// Kind describes the raw-value semantics of a channel.
type Kind int

const (
	// Bridge channels report a dimensionless voltage ratio (strain gauges).
	Bridge Kind = iota
	// Analog channels report an absolute voltage.
	Analog
	// Pulse channels report a frequency derived from optical pulses.
	Pulse
)

var idNames = [...]string{"torque", "thrust", "esc_current", "power_current", "power_voltage", "optical_rpm"}

func (id ID) String() string {
	if id >= 0 && int(id) < len(idNames) {
		return idNames[id]
	}
	return "unknown"
}

// Kind returns the raw-value semantics of the channel.
func (id ID) Kind() Kind {
	switch id {
	case Torque, Thrust:
		return Bridge
	case OpticalRPM:
		return Pulse
	default:
		return Analog
	}
}

// BoardChannels lists the channels served by the transducer boards, in polling order.
var BoardChannels = []ID{Torque, Thrust, ESCCurrent, PowerCurrent, PowerVoltage}

// Channel reads the current scalar value of one transducer channel.
type Channel interface {
	ReadScalar() (float64, error)
	Close() error
}

// Board opens channels on a transducer interface board by sub-channel index.
type Board interface {
	Open(index int) (Channel, error)
	Close() error
}
