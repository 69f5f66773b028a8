package geom

import "math"

// Vec2 captures a 2D point or vector in scene pixels.
type Vec2 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Add returns the component-wise sum of two vectors.
func (v Vec2) Add(o Vec2) Vec2 {
	return Vec2{X: v.X + o.X, Y: v.Y + o.Y}
}

// Sub returns the component-wise difference of two vectors.
func (v Vec2) Sub(o Vec2) Vec2 {
	return Vec2{X: v.X - o.X, Y: v.Y - o.Y}
}

// Length returns the euclidean length of the vector.
func (v Vec2) Length() float64 {
	return math.Hypot(v.X, v.Y)
}

// Distance returns the euclidean distance between two points.
func Distance(a, b Vec2) float64 {
	return math.Hypot(a.X-b.X, a.Y-b.Y)
}

// Segment is a directed line segment between two points.
type Segment struct {
	A Vec2
	B Vec2
}

// WallKind distinguishes which interactions a wall blocks.
type WallKind string

const (
	// WallSight blocks line of sight only.
	WallSight WallKind = "sight"
	// WallMove blocks movement only.
	WallMove WallKind = "move"
	// WallBoth blocks both sight and movement.
	WallBoth WallKind = "both"
)

// Wall is a blocking segment on a scene.
type Wall struct {
	Segment Segment
	Kind    WallKind
}

// BlocksSight reports whether the wall participates in sight collision tests.
func (w Wall) BlocksSight() bool {
	return w.Kind == WallSight || w.Kind == WallBoth
}

// BlocksMove reports whether the wall participates in movement collision tests.
func (w Wall) BlocksMove() bool {
	return w.Kind == WallMove || w.Kind == WallBoth
}

// SegmentsIntersect reports whether two segments cross or touch.
func SegmentsIntersect(s, t Segment) bool {
	d1 := orientation(t.A, t.B, s.A)
	d2 := orientation(t.A, t.B, s.B)
	d3 := orientation(s.A, s.B, t.A)
	d4 := orientation(s.A, s.B, t.B)

	if ((d1 > 0 && d2 < 0) || (d1 < 0 && d2 > 0)) &&
		((d3 > 0 && d4 < 0) || (d3 < 0 && d4 > 0)) {
		return true
	}

	if d1 == 0 && onSegment(t.A, t.B, s.A) {
		return true
	}
	if d2 == 0 && onSegment(t.A, t.B, s.B) {
		return true
	}
	if d3 == 0 && onSegment(s.A, s.B, t.A) {
		return true
	}
	if d4 == 0 && onSegment(s.A, s.B, t.B) {
		return true
	}
	return false
}

func orientation(a, b, p Vec2) float64 {
	return (b.X-a.X)*(p.Y-a.Y) - (b.Y-a.Y)*(p.X-a.X)
}

func onSegment(a, b, p Vec2) bool {
	return math.Min(a.X, b.X) <= p.X && p.X <= math.Max(a.X, b.X) &&
		math.Min(a.Y, b.Y) <= p.Y && p.Y <= math.Max(a.Y, b.Y)
}

// AngleFromNorth returns the angle in degrees from `from` to `to`, measured
// clockwise with 0 pointing north (negative Y).
func AngleFromNorth(from, to Vec2) float64 {
	dx := to.X - from.X
	dy := to.Y - from.Y
	deg := math.Atan2(dx, -dy) * 180 / math.Pi
	if deg < 0 {
		deg += 360
	}
	return deg
}

// ShortestArcDeg returns the absolute shortest angular distance between two
// headings in degrees, always in [0, 180].
func ShortestArcDeg(a, b float64) float64 {
	diff := math.Mod(a-b, 360)
	if diff < -180 {
		diff += 360
	} else if diff > 180 {
		diff -= 360
	}
	return math.Abs(diff)
}

// SnapToGrid snaps a point to the center of its containing grid cell.
func SnapToGrid(p Vec2, gridSize float64) Vec2 {
	if gridSize <= 0 {
		return p
	}
	col := math.Floor(p.X / gridSize)
	row := math.Floor(p.Y / gridSize)
	return Vec2{
		X: col*gridSize + gridSize/2,
		Y: row*gridSize + gridSize/2,
	}
}

// Clamp bounds v to [min, max].
func Clamp(v, min, max float64) float64 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
