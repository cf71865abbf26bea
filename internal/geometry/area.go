package geometry

import "fmt"

// Area is an axis-aligned box in equatorial coordinates given by its
// lower-left and upper-right corners.
type Area struct {
	LowerLeft  Point
	UpperRight Point
}

// Validate reports whether the corners describe a non-empty box.
func (a Area) Validate() error {
	if a.LowerLeft.X >= a.UpperRight.X || a.LowerLeft.Y >= a.UpperRight.Y {
		return fmt.Errorf("area lower-left %v must be below and left of upper-right %v", a.LowerLeft, a.UpperRight)
	}
	return nil
}

// PointWithinArea reports whether p lies strictly inside the area.
func PointWithinArea(p Point, a Area) bool {
	return a.LowerLeft.X < p.X && p.X < a.UpperRight.X &&
		a.LowerLeft.Y < p.Y && p.Y < a.UpperRight.Y
}

// PolyWithinArea reports whether every point lies strictly inside the area.
func PolyWithinArea(points []Point, a Area) bool {
	for _, p := range points {
		if !PointWithinArea(p, a) {
			return false
		}
	}
	return true
}
