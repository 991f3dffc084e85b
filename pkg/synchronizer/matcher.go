package synchronizer

import (
	"math"

	"slicesync/internal/models"
	"slicesync/pkg/geometry"
	"slicesync/pkg/viewport"
)

// GeometrySource returns cached frame metadata. *cache.Cache implements it.
type GeometrySource interface {
	Lookup(ref models.FrameRef) (models.FrameDescriptor, bool)
}

// Matcher picks the target frame whose plane lies closest to the source
// frame along the source's scan axis.
type Matcher struct {
	Geometry  GeometrySource
	Threshold float64
}

// Match returns the index in target.Frames nearest to source's current
// frame. ok is false when either current frame lacks geometry, when the
// two series are not coplanar, or when no target frame has a position.
//
// Target positions are projected onto the source normal so that depths are
// comparable even when the target series uses the opposite normal sign.
// Exactly equidistant candidates resolve to the earliest in sequence order.
func (m Matcher) Match(source, target viewport.State) (index int, ok bool) {
	srcRef, ok := source.CurrentFrame()
	if !ok {
		return 0, false
	}
	tgtRef, ok := target.CurrentFrame()
	if !ok {
		return 0, false
	}
	src, ok := m.Geometry.Lookup(srcRef)
	if !ok || !src.HasGeometry() {
		return 0, false
	}
	tgt, ok := m.Geometry.Lookup(tgtRef)
	if !ok || !tgt.HasGeometry() {
		return 0, false
	}

	srcNormal, ok := geometry.FrameNormal(src)
	if !ok {
		return 0, false
	}
	tgtNormal, ok := geometry.FrameNormal(tgt)
	if !ok {
		return 0, false
	}
	if !geometry.Coplanar(srcNormal, tgtNormal, m.threshold()) {
		return 0, false
	}

	srcDepth := geometry.Depth(src.Position, srcNormal)
	best, bestDiff := -1, math.Inf(1)
	for i, ref := range target.Frames {
		d, ok := m.Geometry.Lookup(ref)
		if !ok || !d.HasPosition {
			continue
		}
		diff := math.Abs(geometry.Depth(d.Position, srcNormal) - srcDepth)
		if diff < bestDiff {
			best, bestDiff = i, diff
		}
	}
	if best < 0 {
		return 0, false
	}
	return best, true
}

func (m Matcher) threshold() float64 {
	if m.Threshold <= 0 {
		return geometry.DefaultCoplanarityThreshold
	}
	return m.Threshold
}
