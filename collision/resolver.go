// Package collision decides which column or card a dragged item is over.
//
// Resolution is a pure function of the drag geometry plus the id resolved on
// the previous frame, so it can be exercised without any rendering layer.
package collision

// Kind tells columns and cards apart.
type Kind int

const (
	KindColumn Kind = iota
	KindCard
)

func (k Kind) String() string {
	if k == KindColumn {
		return "column"
	}
	return "card"
}

// Droppable is a rendered orderable container or item. ColumnID is the
// owning column for cards and the column's own id for columns.
type Droppable struct {
	ID       string
	Kind     Kind
	ColumnID string
	Rect     Rect
}

// Frame is the geometry of one animation frame of a drag.
type Frame struct {
	ActiveID   string
	ActiveKind Kind
	// ActiveRect is the dragged element's current (translated) bounds.
	ActiveRect Rect
	// Pointer is nil when the drag is not pointer driven.
	Pointer    *Point
	Droppables []Droppable
}

// Droppable looks up a droppable by id.
func (f Frame) Droppable(id string) (Droppable, bool) {
	for _, d := range f.Droppables {
		if d.ID == id {
			return d, true
		}
	}
	return Droppable{}, false
}

// Resolver resolves drop targets for one drag gesture and remembers the last
// resolved id. Reset it between gestures.
type Resolver struct {
	last string
}

// NewResolver returns a Resolver with an empty cache.
func NewResolver() *Resolver { return &Resolver{} }

// Reset clears the cached target.
func (r *Resolver) Reset() { r.last = "" }

// Last returns the most recently resolved target.
func (r *Resolver) Last() (string, bool) { return r.last, r.last != "" }

// Resolve returns the drop target for the frame.
func (r *Resolver) Resolve(f Frame) (string, bool) {
	if f.ActiveKind == KindColumn {
		return r.resolveColumn(f)
	}
	return r.resolveCard(f)
}

func (r *Resolver) resolveColumn(f Frame) (string, bool) {
	columns := filter(f.Droppables, func(d Droppable) bool { return d.Kind == KindColumn })
	if f.Pointer != nil {
		if within := PointerWithin(*f.Pointer, columns); len(within) > 0 {
			return r.remember(within[0].ID)
		}
	}
	if closest := ClosestCorners(f.ActiveRect, columns); len(closest) > 0 {
		return r.remember(closest[0].ID)
	}
	return r.Last()
}

func (r *Resolver) resolveCard(f Frame) (string, bool) {
	var within []Collision
	if f.Pointer != nil {
		within = PointerWithin(*f.Pointer, f.Droppables)
	}
	if len(within) == 0 {
		return r.Last()
	}
	first := within[0]
	if first.Kind != KindColumn {
		return r.remember(first.ID)
	}
	// Pointer is over empty space inside a column: pick the nearest card of
	// that column instead of the container.
	siblings := filter(f.Droppables, func(d Droppable) bool {
		return d.Kind == KindCard && d.ColumnID == first.ID && d.ID != f.ActiveID
	})
	if closest := ClosestCorners(f.ActiveRect, siblings); len(closest) > 0 {
		return r.remember(closest[0].ID)
	}
	return r.remember(first.ID)
}

func (r *Resolver) remember(id string) (string, bool) {
	r.last = id
	return id, true
}

func filter(in []Droppable, keep func(Droppable) bool) []Droppable {
	out := make([]Droppable, 0, len(in))
	for _, d := range in {
		if keep(d) {
			out = append(out, d)
		}
	}
	return out
}
