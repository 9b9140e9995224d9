package gcode

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// DistanceXY returns the planar distance between two points
func DistanceXY(a, b r3.Vec) float64 {
	return math.Hypot(a.X-b.X, a.Y-b.Y)
}

// MaxSegments bounds the number of points SegmentPath returns for one move
const MaxSegments = 100000

// SegmentPath breaks the planar path from start to end into equal steps no
// longer than length. A path no longer than length yields just end. The last
// point is always end; intermediate points keep start's Z. Paths needing
// more than MaxSegments steps are split into MaxSegments longer ones.
func SegmentPath(start, end r3.Vec, length float64) []r3.Vec {
	total := DistanceXY(start, end)
	if !(total > length) {
		return []r3.Vec{end}
	}

	n := int(math.Min(math.Ceil(total/length), MaxSegments))
	dx := (end.X - start.X) / float64(n)
	dy := (end.Y - start.Y) / float64(n)

	points := make([]r3.Vec, 0, n)
	for i := 1; i < n; i++ {
		points = append(points, r3.Vec{
			X: start.X + float64(i)*dx,
			Y: start.Y + float64(i)*dy,
			Z: start.Z,
		})
	}
	return append(points, end)
}
