// Package geom provides the damage region used by frame diffing and painting.
package geom

import "image"

// Region is a union of axis-aligned rectangles. The zero value is empty.
//
// Rectangles may overlap; Add drops empty rectangles and rectangles
// already covered by a single member, and replaces members the new
// rectangle covers. A Region is not safe for concurrent mutation.
type Region struct {
	rects []image.Rectangle
}

// RegionOf returns a region holding the given rectangles
func RegionOf(rs ...image.Rectangle) Region {
	var g Region
	for _, r := range rs {
		g.Add(r)
	}
	return g
}

// Add unions r into the region
func (g *Region) Add(r image.Rectangle) {
	r = r.Canon()
	if r.Empty() {
		return
	}
	kept := make([]image.Rectangle, 0, len(g.rects)+1)
	for _, m := range g.rects {
		if r.In(m) {
			return
		}
		if !m.In(r) {
			kept = append(kept, m)
		}
	}
	g.rects = append(kept, r)
}

// Empty reports whether the region covers no pixels
func (g Region) Empty() bool {
	return len(g.rects) == 0
}

// Rects returns a copy of the member rectangles
func (g Region) Rects() []image.Rectangle {
	out := make([]image.Rectangle, len(g.rects))
	copy(out, g.rects)
	return out
}

// Len returns the number of member rectangles
func (g Region) Len() int {
	return len(g.rects)
}

// Bounds returns the smallest rectangle containing the region
func (g Region) Bounds() image.Rectangle {
	var b image.Rectangle
	for _, r := range g.rects {
		b = b.Union(r)
	}
	return b
}

// Intersects reports whether r overlaps any member rectangle
func (g Region) Intersects(r image.Rectangle) bool {
	r = r.Canon()
	if r.Empty() {
		return false
	}
	for _, m := range g.rects {
		if m.Overlaps(r) {
			return true
		}
	}
	return false
}

// Clip returns the part of the region inside r
func (g Region) Clip(r image.Rectangle) Region {
	var out Region
	for _, m := range g.rects {
		out.Add(m.Intersect(r))
	}
	return out
}

// Within reports whether every member rectangle lies inside r
func (g Region) Within(r image.Rectangle) bool {
	for _, m := range g.rects {
		if !m.In(r) {
			return false
		}
	}
	return true
}

// Contains reports whether the point p is covered by the region
func (g Region) Contains(p image.Point) bool {
	for _, m := range g.rects {
		if p.In(m) {
			return true
		}
	}
	return false
}

// Clone returns an independent copy of the region
func (g Region) Clone() Region {
	return Region{rects: g.Rects()}
}
