package models

import "gonum.org/v1/gonum/spatial/r3"

// Camera is the subset of a viewport camera that synchronization touches.
type Camera struct {
	// ParallelScale is the orthographic zoom factor
	ParallelScale float64

	FocalPoint      r3.Vec
	ViewPlaneNormal r3.Vec
}

// SyncKind is the property a sync group propagates.
type SyncKind int

const (
	SyncSlicePosition SyncKind = iota + 1
	SyncZoom
	SyncPan
	SyncVOI
)

func (k SyncKind) String() string {
	switch k {
	case SyncSlicePosition:
		return "slice-position"
	case SyncZoom:
		return "zoom"
	case SyncPan:
		return "pan"
	case SyncVOI:
		return "voi"
	default:
		return "unknown"
	}
}

// ParseSyncKind maps the names returned by String back to kinds.
func ParseSyncKind(s string) (SyncKind, bool) {
	for _, k := range []SyncKind{SyncSlicePosition, SyncZoom, SyncPan, SyncVOI} {
		if k.String() == s {
			return k, true
		}
	}
	return 0, false
}
