// internal/scene/zorder.go
package scene

import (
	"math"
	"sort"
)

// ZStep is the gap between a new item's z value and the current maximum
const ZStep = 0.001

// MaxZ returns the largest z value in items, or 0 for an empty slice
func MaxZ(items []Item) float64 {
	if len(items) == 0 {
		return 0
	}
	maxZ := math.Inf(-1)
	for _, it := range items {
		if z := it.Place().Z; z > maxZ {
			maxZ = z
		}
	}
	return maxZ
}

// NextZ returns the z value for an item placed above everything in items
func NextZ(items []Item) float64 {
	if len(items) == 0 {
		return 0
	}
	return MaxZ(items) + ZStep
}

// NextZ returns the z value for a new topmost item in the snapshot
func (s *Snapshot) NextZ() float64 {
	return NextZ(s.Items)
}

// PaintOrder returns the items sorted bottom to top. Equal z values keep
// their insertion order. The snapshot itself is not reordered.
func (s *Snapshot) PaintOrder() []Item {
	out := make([]Item, len(s.Items))
	copy(out, s.Items)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Place().Z < out[j].Place().Z
	})
	return out
}

// Bounds returns the smallest rect containing every item position. Item
// extents are a rendering concern, so only anchor points are considered.
func (s *Snapshot) Bounds() Rect {
	if len(s.Items) == 0 {
		return Rect{}
	}
	first := s.Items[0].Place()
	minX, minY, maxX, maxY := first.X, first.Y, first.X, first.Y
	for _, it := range s.Items[1:] {
		p := it.Place()
		minX = math.Min(minX, p.X)
		minY = math.Min(minY, p.Y)
		maxX = math.Max(maxX, p.X)
		maxY = math.Max(maxY, p.Y)
	}
	return Rect{X: minX, Y: minY, Width: maxX - minX, Height: maxY - minY}
}
