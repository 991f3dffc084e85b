// Package viewport models the display surfaces the synchronizer keeps in
// step. A Registry owns every State and hands out ids; callers never hold a
// mutable alias to a State.
//
// Nothing here locks. All mutation happens on the single goroutine that
// drives user and display events.
package viewport

import (
	"slicesync/internal/models"
)

// ID is the handle of a viewport in its registry.
type ID string

// State is one viewport's display model.
type State struct {
	ID       ID
	EngineID string

	// Index is the current position in Frames
	Index  int
	Frames []models.FrameRef

	Camera models.Camera
	VOI    models.VOIRange

	// SyncEnabled gates every synchronization rule touching this viewport
	SyncEnabled bool
}

// CurrentFrame returns the frame at Index.
func (s State) CurrentFrame() (models.FrameRef, bool) {
	if s.Index < 0 || s.Index >= len(s.Frames) {
		return models.FrameRef{}, false
	}
	return s.Frames[s.Index], true
}

func (s *State) clone() State {
	c := *s
	c.Frames = append([]models.FrameRef(nil), s.Frames...)
	return c
}

// EventKind is the kind of state change a viewport reports.
type EventKind int

const (
	// ImageChanged: the current frame index changed
	ImageChanged EventKind = iota + 1
	// CameraModified: zoom or pan changed
	CameraModified
	// VOIModified: the display window changed
	VOIModified
	// Removed: the viewport was torn down and must leave every group
	Removed
)

func (k EventKind) String() string {
	switch k {
	case ImageChanged:
		return "image-changed"
	case CameraModified:
		return "camera-modified"
	case VOIModified:
		return "voi-modified"
	case Removed:
		return "removed"
	default:
		return "unknown"
	}
}

// Event is the payload a viewport sends to its engine after a user mutation
// or teardown.
type Event struct {
	Kind   EventKind
	Source ID
}

// Notifier receives viewport events. The synchronization engine implements it.
type Notifier interface {
	Notify(Event)
}
