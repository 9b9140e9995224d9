package stage

import "strings"

// Position represents a TCP coordinate in work space (mm)
type Position struct {
	X float64
	Y float64
	Z float64
}

// Add returns the component-wise sum of two positions
func (p Position) Add(o Position) Position {
	return Position{X: p.X + o.X, Y: p.Y + o.Y, Z: p.Z + o.Z}
}

// Get returns the value of a single axis
func (p Position) Get(axis Axis) float64 {
	switch axis {
	case AxisX:
		return p.X
	case AxisY:
		return p.Y
	case AxisZ:
		return p.Z
	}
	return 0
}

// With returns a copy of p with the given axis set to v
func (p Position) With(axis Axis, v float64) Position {
	switch axis {
	case AxisX:
		p.X = v
	case AxisY:
		p.Y = v
	case AxisZ:
		p.Z = v
	}
	return p
}

// Displacements holds the longitudinal displacement of each tower joint,
// ordered A, B, C (0, 120 and 240 degrees around the stage)
type Displacements [3]float64

// Sub subtracts o component-wise
func (d Displacements) Sub(o Displacements) Displacements {
	return Displacements{d[0] - o[0], d[1] - o[1], d[2] - o[2]}
}

// Axis is a bitmask of logical TCP axes
type Axis uint8

const (
	AxisX Axis = 1 << iota
	AxisY
	AxisZ

	AxisXY  = AxisX | AxisY
	AxisXYZ = AxisX | AxisY | AxisZ
)

// Axes lists the single axes in X, Y, Z order
var Axes = []Axis{AxisX, AxisY, AxisZ}

// Has reports whether every axis in o is set in a
func (a Axis) Has(o Axis) bool {
	return a&o == o && o != 0
}

func (a Axis) String() string {
	var b strings.Builder
	if a&AxisX != 0 {
		b.WriteByte('X')
	}
	if a&AxisY != 0 {
		b.WriteByte('Y')
	}
	if a&AxisZ != 0 {
		b.WriteByte('Z')
	}
	return b.String()
}

// ParseAxes parses an axis set such as "xy" or "Z". Unknown letters yield 0.
func ParseAxes(s string) Axis {
	var a Axis
	for _, c := range strings.ToUpper(s) {
		switch c {
		case 'X':
			a |= AxisX
		case 'Y':
			a |= AxisY
		case 'Z':
			a |= AxisZ
		default:
			return 0
		}
	}
	return a
}

// Geometry describes the physical delta stage
type Geometry struct {
	StageRadius float64 `json:"stage_radius" yaml:"stage_radius"` // radius of the joint triangle around the TCP (mm)
	StageHeight float64 `json:"stage_height" yaml:"stage_height"` // TCP height above the base at the origin (mm)
	LeverLength float64 `json:"lever_length" yaml:"lever_length"` // hinge to pivot (mm)
	BaseRadius  float64 `json:"base_radius" yaml:"base_radius"`   // radius of the fixed base joint triangle (mm)

	// ArmLength is derived from LeverLength and StageHeight. A configured
	// value must agree with the derived one.
	ArmLength float64 `json:"arm_length,omitempty" yaml:"arm_length,omitempty"`
}

// Point3 is a plain XYZ triple used in configuration files
type Point3 struct {
	X float64 `json:"x" yaml:"x"`
	Y float64 `json:"y" yaml:"y"`
	Z float64 `json:"z" yaml:"z"`
}

// SerialConfig holds the transport settings for the motion controller
type SerialConfig struct {
	Device        string `json:"device" yaml:"device"`
	Baud          int    `json:"baud" yaml:"baud"`
	ReadTimeoutMs int    `json:"read_timeout_ms" yaml:"read_timeout_ms"`
	AckTimeoutMs  int    `json:"ack_timeout_ms" yaml:"ack_timeout_ms"`
	IdlePauseMs   int    `json:"idle_pause_ms" yaml:"idle_pause_ms"`
	Retries       int    `json:"retries" yaml:"retries"`
}

// JogConfig holds the interactive jog settings
type JogConfig struct {
	StepSize   float64 `json:"step_size" yaml:"step_size"`
	WaitForAck bool    `json:"wait_for_ack" yaml:"wait_for_ack"`
}

// SegmenterConfig holds the dip-probe G-code rewriting parameters
type SegmenterConfig struct {
	SafeTravelZ     float64 `json:"safe_travel_z" yaml:"safe_travel_z"`         // travel height above the active layer
	DipSafeZ        float64 `json:"dip_safe_z" yaml:"dip_safe_z"`               // height for travel to and from the reservoir
	MaxZFeedRate    float64 `json:"max_z_feed_rate" yaml:"max_z_feed_rate"`     // ceiling for every emitted feed rate (mm/min)
	TravelFeedRate  float64 `json:"travel_feed_rate" yaml:"travel_feed_rate"`   // planar travel feed (mm/min)
	TouchFeedRate   float64 `json:"touch_feed_rate" yaml:"touch_feed_rate"`     // touch-down and retract feed (mm/min)
	SegmentLength   float64 `json:"segment_length" yaml:"segment_length"`       // maximum planar sub-segment length
	ProbePointLimit int     `json:"probe_point_limit" yaml:"probe_point_limit"` // touches between dips, 0 disables dipping
	Reservoir       Point3  `json:"reservoir" yaml:"reservoir"`
	ScaleFactor     float64 `json:"scale_factor" yaml:"scale_factor"`
	SkimHeight      float64 `json:"skim_height" yaml:"skim_height"`
	UVLongSeconds   float64 `json:"uv_long_seconds" yaml:"uv_long_seconds"`
	UVShortSeconds  float64 `json:"uv_short_seconds" yaml:"uv_short_seconds"`
	UVEnabled       bool    `json:"uv_enabled" yaml:"uv_enabled"`
	UVHoldRise      float64 `json:"uv_hold_rise" yaml:"uv_hold_rise"` // Z travelled during a timed exposure hold
	UVOnCommand     string  `json:"uv_on_command" yaml:"uv_on_command"`
	UVOffCommand    string  `json:"uv_off_command" yaml:"uv_off_command"`
	ExposeOnDip     bool    `json:"expose_on_dip" yaml:"expose_on_dip"`
	ExtruderAxis    string  `json:"extruder_axis" yaml:"extruder_axis"`
	Precision       int     `json:"precision" yaml:"precision"`
	InitialLayer    float64 `json:"initial_layer" yaml:"initial_layer"`
}

// DippingEnabled reports whether periodic probe dips are active
func (c SegmenterConfig) DippingEnabled() bool {
	return c.ProbePointLimit > 0
}

// MachineConfig represents the complete machine configuration
type MachineConfig struct {
	Kinematics string          `json:"kinematics" yaml:"kinematics"` // "delta" or "cartesian"
	Geometry   Geometry        `json:"geometry" yaml:"geometry"`
	Limits     Limits          `json:"limits" yaml:"limits"`
	Serial     SerialConfig    `json:"serial" yaml:"serial"`
	Jog        JogConfig       `json:"jog" yaml:"jog"`
	Dipify     SegmenterConfig `json:"dipify" yaml:"dipify"`
}

// Limits bounds the TCP for the cartesian passthrough kinematics
type Limits struct {
	Min Point3 `json:"min" yaml:"min"`
	Max Point3 `json:"max" yaml:"max"`
}
