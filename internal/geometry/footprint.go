package geometry

import (
	"math"
	"sort"
)

// Point is an equatorial coordinate pair in degrees.
type Point struct {
	X float64
	Y float64
}

// Footprint holds the four corners of an image's sky-projected rectangle,
// sorted by ascending X+Y. The order carries no winding guarantee.
type Footprint [4]Point

// corner sign combinations (m1, m2)
var cornerSigns = [4][2]float64{
	{-1, 1},
	{-1, -1},
	{1, 1},
	{1, -1},
}

// CalculatePoly returns the corners of a width x height rectangle (degrees)
// centred on center and rotated by the position angle. Position angles grow
// clockwise from north, so the angle is mirrored before use.
func CalculatePoly(center Point, width, height, positionAngle float64) Footprint {
	angle := deg2rad(360 - positionAngle)
	diag := math.Sqrt(width*width+height*height) / 2
	phi := math.Atan2(height, width)

	var fp Footprint
	for i, m := range cornerSigns {
		m1, m2 := m[0], m[1]
		fp[i] = Point{
			X: diag*m1*math.Cos(angle+m2*phi) + center.X,
			Y: diag*m1*math.Sin(angle+m2*phi) + center.Y,
		}
	}
	SortBySum(fp[:])
	return fp
}

// SortBySum orders points by ascending coordinate sum. Ties keep their
// relative order.
func SortBySum(points []Point) {
	sort.SliceStable(points, func(i, j int) bool {
		return points[i].X+points[i].Y < points[j].X+points[j].Y
	})
}

// Points returns the corners as a slice.
func (f Footprint) Points() []Point {
	out := make([]Point, len(f))
	copy(out, f[:])
	return out
}

// FootprintFromPoints converts a four point polygon into a Footprint without
// reordering it.
func FootprintFromPoints(points []Point) (Footprint, bool) {
	var fp Footprint
	if len(points) != len(fp) {
		return fp, false
	}
	copy(fp[:], points)
	return fp, true
}

func deg2rad(deg float64) float64 {
	return deg * math.Pi / 180
}
