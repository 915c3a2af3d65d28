package calibration

import (
	"errors"

	"gonum.org/v1/gonum/stat"
)

// ErrNoPoints is returned when fitting an empty set of points.
var ErrNoPoints = errors.New("no calibration points")

// Point pairs a raw channel reading with the known reference value.
type Point struct {
	Raw       float64
	Reference float64
}

// FitLine fits reference = slope*raw + offset by ordinary least squares.
// When every raw value is identical the slope is 0 and the offset is the
// mean reference.
func FitLine(points []Point) (slope, offset float64, err error) {
	if len(points) == 0 {
		return 0, 0, ErrNoPoints
	}

	xs := make([]float64, len(points))
	ys := make([]float64, len(points))
	for i, p := range points {
		xs[i] = p.Raw
		ys[i] = p.Reference
	}

	if constant(xs) {
		return 0, stat.Mean(ys, nil), nil
	}

	offset, slope = stat.LinearRegression(xs, ys, nil, false)
	return slope, offset, nil
}

func constant(xs []float64) bool {
	for _, x := range xs[1:] {
		if x != xs[0] {
			return false
		}
	}
	return true
}
