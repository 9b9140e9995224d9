package kinematics

import (
	"fmt"

	"deltastage/stage"
)

// Kinematics maps a TCP coordinate to controller axis values
type Kinematics interface {
	// Solve converts a TCP position into the three driven axis values
	Solve(tcp stage.Position) (stage.Displacements, error)

	// AxisNames returns the controller axis letters, in output order
	AxisNames() [3]string
}

// New creates the kinematics named in the config
func New(cfg *stage.MachineConfig) (Kinematics, error) {
	switch cfg.Kinematics {
	case "", "delta":
		return NewDelta(cfg.Geometry)
	case "cartesian":
		return NewCartesian(cfg.Limits)
	default:
		return nil, fmt.Errorf("unsupported kinematics: %q", cfg.Kinematics)
	}
}
