// Package aero derives static propeller coefficients from a step record.
package aero

import (
	"errors"
	"fmt"
	"math"
	"strconv"

	"github.com/itohio/proprig/pkg/record"
)

// RPM sources.
const (
	SourceMech = "mech"
	SourceOpt  = "opt"
	SourceBoth = "both"
)

var (
	ErrNoRPM      = errors.New("no positive rpm")
	ErrNoDensity  = errors.New("no positive air density")
	ErrNoThrust   = errors.New("no positive thrust")
	ErrNoDiameter = errors.New("propeller diameter not set")
)

// Params selects the propeller geometry and the RPM source.
type Params struct {
	Diameter  float64 // m
	RPMSource string  // mech, opt or both (default)
}

// Coefficients are the derived values of one step.
type Coefficients struct {
	RPM        float64
	N          float64 // revolutions per second
	ShaftPower float64 // W, 2*pi*n*Q
	ESCPower   float64 // W, I_esc * V
	CT         float64
	CP         float64
	Efficiency float64 // shaft power / ESC power, 0 when ESC power is 0
}

// Compute derives the coefficients of a record. Torque sign depends on the
// rotation direction and only its magnitude is used. Thrust must be positive.
func Compute(rec record.StepRecord, p Params) (Coefficients, error) {
	if p.Diameter <= 0 {
		return Coefficients{}, ErrNoDiameter
	}

	if !(rec.Thrust > 0) {
		return Coefficients{}, ErrNoThrust
	}

	rpm, err := selectRPM(rec, p.RPMSource)
	if err != nil {
		return Coefficients{}, err
	}

	rho, err := strconv.ParseFloat(rec.AirDensity, 64)
	if err != nil {
		return Coefficients{}, fmt.Errorf("air density %q: %w", rec.AirDensity, err)
	}
	if rho <= 0 {
		return Coefficients{}, ErrNoDensity
	}

	n := rpm / 60
	torque := math.Abs(rec.Torque)
	c := Coefficients{
		RPM:        rpm,
		N:          n,
		ShaftPower: 2 * math.Pi * n * torque,
		ESCPower:   rec.ESCCurrent * rec.PowerVoltage,
	}

	d := p.Diameter
	c.CT = rec.Thrust / (rho * n * n * math.Pow(d, 4))
	c.CP = c.ShaftPower / (rho * n * n * n * math.Pow(d, 5))
	if c.ESCPower > 0 {
		c.Efficiency = c.ShaftPower / c.ESCPower
	}
	return c, nil
}

func selectRPM(rec record.StepRecord, source string) (float64, error) {
	mech, err := strconv.ParseFloat(rec.MechRPM, 64)
	if err != nil && source != SourceOpt {
		return 0, fmt.Errorf("mechanical rpm %q: %w", rec.MechRPM, err)
	}

	var rpm float64
	switch source {
	case SourceMech:
		rpm = mech
	case SourceOpt:
		rpm = rec.OpticalRPM
	case SourceBoth, "":
		if mech <= 0 || rec.OpticalRPM <= 0 {
			return 0, ErrNoRPM
		}
		rpm = (mech + rec.OpticalRPM) / 2
	default:
		return 0, fmt.Errorf("unknown rpm source %q", source)
	}

	if rpm <= 0 {
		return 0, ErrNoRPM
	}
	return rpm, nil
}
