package kinematics

import (
	"errors"

	"deltastage/stage"
)

// Cartesian implements a 1:1 XYZ passthrough, used to drive an ordinary
// GRBL machine with the same console for dry runs
type Cartesian struct {
	limits stage.Limits
}

// NewCartesian creates a new Cartesian kinematics instance
func NewCartesian(limits stage.Limits) (*Cartesian, error) {
	if limits.Min.X > limits.Max.X || limits.Min.Y > limits.Max.Y || limits.Min.Z > limits.Max.Z {
		return nil, errors.New("cartesian limits: min exceeds max")
	}

	return &Cartesian{
		limits: limits,
	}, nil
}

// Solve returns the TCP coordinate unchanged after checking limits
func (k *Cartesian) Solve(pos stage.Position) (stage.Displacements, error) {
	if err := k.CheckLimits(pos); err != nil {
		return stage.Displacements{}, err
	}
	return stage.Displacements{pos.X, pos.Y, pos.Z}, nil
}

// AxisNames returns the axis names for Cartesian kinematics
func (k *Cartesian) AxisNames() [3]string {
	return [3]string{"X", "Y", "Z"}
}

// CheckLimits validates that a position is within configured limits.
// Zero-valued limits leave the machine unbounded.
func (k *Cartesian) CheckLimits(pos stage.Position) error {
	if k.limits == (stage.Limits{}) {
		return nil
	}

	if pos.X < k.limits.Min.X || pos.X > k.limits.Max.X {
		return &UnreachableError{TCP: pos, Tower: 0, Reason: "X position out of limits"}
	}
	if pos.Y < k.limits.Min.Y || pos.Y > k.limits.Max.Y {
		return &UnreachableError{TCP: pos, Tower: 1, Reason: "Y position out of limits"}
	}
	if pos.Z < k.limits.Min.Z || pos.Z > k.limits.Max.Z {
		return &UnreachableError{TCP: pos, Tower: 2, Reason: "Z position out of limits"}
	}

	return nil
}
