package collision

import (
	"math"
	"sort"
)

// Point is a position in viewport coordinates.
type Point struct {
	X, Y float64
}

// Rect is an axis-aligned rectangle in viewport coordinates.
type Rect struct {
	Left, Top, Width, Height float64
}

func (r Rect) Right() float64  { return r.Left + r.Width }
func (r Rect) Bottom() float64 { return r.Top + r.Height }

// Contains reports whether p lies inside r, edges included.
func (r Rect) Contains(p Point) bool {
	return p.X >= r.Left && p.X <= r.Right() && p.Y >= r.Top && p.Y <= r.Bottom()
}

// Corners returns top-left, top-right, bottom-left and bottom-right.
func (r Rect) Corners() [4]Point {
	return [4]Point{
		{r.Left, r.Top},
		{r.Right(), r.Top},
		{r.Left, r.Bottom()},
		{r.Right(), r.Bottom()},
	}
}

func distance(a, b Point) float64 {
	return math.Hypot(a.X-b.X, a.Y-b.Y)
}

// Collision is a candidate target with its score; lower is closer.
type Collision struct {
	ID       string
	Kind     Kind
	Distance float64
}

// PointerWithin returns the droppables whose bounds contain the pointer,
// closest first by mean corner distance to the pointer.
func PointerWithin(pointer Point, droppables []Droppable) []Collision {
	var out []Collision
	for _, d := range droppables {
		if !d.Rect.Contains(pointer) {
			continue
		}
		var sum float64
		for _, c := range d.Rect.Corners() {
			sum += distance(c, pointer)
		}
		out = append(out, Collision{ID: d.ID, Kind: d.Kind, Distance: round4(sum / 4)})
	}
	sortCollisions(out)
	return out
}

// ClosestCorners ranks droppables by the mean distance between the corners of
// rect and the matching corners of each droppable.
func ClosestCorners(rect Rect, droppables []Droppable) []Collision {
	out := make([]Collision, 0, len(droppables))
	from := rect.Corners()
	for _, d := range droppables {
		to := d.Rect.Corners()
		var sum float64
		for i := range from {
			sum += distance(from[i], to[i])
		}
		out = append(out, Collision{ID: d.ID, Kind: d.Kind, Distance: round4(sum / 4)})
	}
	sortCollisions(out)
	return out
}

// sortCollisions orders by distance; ties keep droppable order so results are
// stable across frames.
func sortCollisions(c []Collision) {
	sort.SliceStable(c, func(i, j int) bool { return c[i].Distance < c[j].Distance })
}

func round4(v float64) float64 {
	return math.Round(v*1e4) / 1e4
}
