// Package geometry provides the patient-space plane math shared by the
// metadata cache and the anatomical matcher.
package geometry

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"

	"slicesync/internal/models"
)

// DefaultCoplanarityThreshold is the minimum |cos| between two plane normals
// for their frames to be compared by depth.
const DefaultCoplanarityThreshold = 0.90

// Normal returns row x column.
func Normal(row, column r3.Vec) r3.Vec {
	return r3.Cross(row, column)
}

// FrameNormal returns the unit plane normal of a frame, or false when the
// frame carries no usable orientation.
func FrameNormal(d models.FrameDescriptor) (r3.Vec, bool) {
	if !d.HasOrientation {
		return r3.Vec{}, false
	}
	n := Normal(d.RowCosines, d.ColumnCosines)
	if r3.Norm(n) == 0 {
		return r3.Vec{}, false
	}
	return r3.Unit(n), true
}

// Depth projects a position onto a normal.
func Depth(position, normal r3.Vec) float64 {
	return r3.Dot(position, normal)
}

// Coplanar reports whether |a.b| >= threshold.
func Coplanar(a, b r3.Vec, threshold float64) bool {
	return math.Abs(r3.Dot(a, b)) >= threshold
}
