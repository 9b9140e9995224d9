package kinematics

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r3"

	"deltastage/stage"
)

// ErrUnreachable is returned when a TCP position cannot be reached by the
// lever/arm geometry
var ErrUnreachable = errors.New("unreachable pose")

// UnreachableError describes which tower failed the law-of-cosines solve
type UnreachableError struct {
	TCP    stage.Position
	Tower  int
	Cosine float64 // argument to acos, outside [-1, 1] when set
	Reason string
}

func (e *UnreachableError) Error() string {
	return fmt.Sprintf("unreachable pose X%.5f Y%.5f Z%.5f: tower %c: %s",
		e.TCP.X, e.TCP.Y, e.TCP.Z, 'A'+rune(e.Tower), e.Reason)
}

func (e *UnreachableError) Unwrap() error {
	return ErrUnreachable
}

// armTolerance is how far a configured arm length may stray from the derived one
const armTolerance = 1e-6

// Delta implements inverse kinematics for the lever-driven delta stage.
// Each tower hinge sits on the fixed base triangle; a lever of LeverLength
// joins it to a pivot, and an arm of ArmLength joins the pivot to the stage.
type Delta struct {
	geom stage.Geometry
	base [3]r3.Vec
}

// NewDelta validates the geometry and caches the base joint positions
func NewDelta(g stage.Geometry) (*Delta, error) {
	if err := ValidateGeometry(&g); err != nil {
		return nil, err
	}

	return &Delta{
		geom: g,
		base: TrianglePoints(r3.Vec{Z: -g.StageHeight}, g.BaseRadius),
	}, nil
}

// ValidateGeometry checks the stage constants and fills in the derived arm length
func ValidateGeometry(g *stage.Geometry) error {
	if g.StageRadius <= 0 {
		return fmt.Errorf("stage_radius must be positive, got %v", g.StageRadius)
	}
	if g.BaseRadius <= 0 {
		return fmt.Errorf("base_radius must be positive, got %v", g.BaseRadius)
	}
	if g.StageHeight <= 0 {
		return fmt.Errorf("stage_height must be positive, got %v", g.StageHeight)
	}
	if g.LeverLength <= 0 {
		return fmt.Errorf("lever_length must be positive, got %v", g.LeverLength)
	}

	arm := math.Hypot(g.LeverLength, g.StageHeight)
	if g.ArmLength != 0 && math.Abs(g.ArmLength-arm) > armTolerance {
		return fmt.Errorf("arm_length %v does not match sqrt(lever_length^2 + stage_height^2) = %v",
			g.ArmLength, arm)
	}
	g.ArmLength = arm

	return nil
}

// TrianglePoints returns three points spaced 120 degrees apart around center,
// starting on the +X axis
func TrianglePoints(center r3.Vec, radius float64) [3]r3.Vec {
	var pts [3]r3.Vec
	for i := range pts {
		rot := r3.NewRotation(float64(i)*2*math.Pi/3, r3.Vec{Z: 1})
		pts[i] = r3.Add(center, rot.Rotate(r3.Vec{X: radius}))
	}
	return pts
}

// Geometry returns the validated stage geometry
func (d *Delta) Geometry() stage.Geometry {
	return d.geom
}

// AxisNames returns the GRBL axes driving towers A, B and C
func (d *Delta) AxisNames() [3]string {
	return [3]string{"X", "Y", "Z"}
}

// Solve computes the tower displacements that place the TCP at tcp
func (d *Delta) Solve(tcp stage.Position) (stage.Displacements, error) {
	var out stage.Displacements

	center := r3.Vec{X: tcp.X, Y: tcp.Y, Z: tcp.Z}
	joints := TrianglePoints(center, d.geom.StageRadius)

	// Height of the TCP above the base plane
	height := tcp.Z + d.geom.StageHeight
	if height <= 0 {
		return out, &UnreachableError{TCP: tcp, Reason: "TCP at or below the base plane"}
	}

	lever := d.geom.LeverLength
	arm := d.geom.ArmLength

	for i := range joints {
		t, b := joints[i], d.base[i]

		l := r3.Norm(r3.Sub(t, b))
		if l == 0 {
			return out, &UnreachableError{TCP: tcp, Tower: i, Reason: "stage joint coincides with base joint"}
		}

		// Signed planar distance from the Z axis, stage joint minus base joint
		dtx := math.Hypot(t.X, t.Y) - math.Hypot(b.X, b.Y)

		// Law of cosines for the angle at the base pivot
		cosAlpha := (l*l + lever*lever - arm*arm) / (2 * l * lever)
		if cosAlpha < -1 || cosAlpha > 1 || math.IsNaN(cosAlpha) {
			return out, &UnreachableError{
				TCP:    tcp,
				Tower:  i,
				Cosine: cosAlpha,
				Reason: fmt.Sprintf("law of cosines argument %.6f outside [-1, 1]", cosAlpha),
			}
		}
		alpha := math.Acos(cosAlpha)

		theta := alpha + math.Atan(dtx/height)
		out[i] = lever * math.Cos(theta)
	}

	return out, nil
}
