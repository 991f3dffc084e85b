package viewport

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/spatial/r3"

	"slicesync/internal/models"
)

var (
	ErrNotFound        = errors.New("viewport not found")
	ErrDuplicate       = errors.New("viewport already registered")
	ErrIndexOutOfRange = errors.New("frame index out of range")
)

// Spec describes a viewport to create.
type Spec struct {
	// ID is optional; a random one is assigned when empty
	ID          ID
	EngineID    string
	Frames      []models.FrameRef
	Index       int
	Camera      models.Camera
	VOI         models.VOIRange
	SyncEnabled bool
}

// Registry owns viewport states.
//
// User-interaction mutators (Scroll, SetZoom, SetPan, SetVOI) notify the
// registry's Notifier. Apply* mutators are for the synchronizer acting on a
// target's behalf; they never notify, so propagation does not chain.
type Registry struct {
	states    map[ID]*State
	order     []ID
	notifier  Notifier
	scheduler *Scheduler
}

// NewRegistry returns an empty registry with its own scheduler.
func NewRegistry() *Registry {
	return &Registry{
		states:    make(map[ID]*State),
		scheduler: NewScheduler(),
	}
}

// SetNotifier sets who receives user-mutation events.
func (r *Registry) SetNotifier(n Notifier) { r.notifier = n }

// Scheduler returns the registry's render scheduler.
func (r *Registry) Scheduler() *Scheduler { return r.scheduler }

// Create registers a new viewport and returns its id.
func (r *Registry) Create(spec Spec) (ID, error) {
	id := spec.ID
	if id == "" {
		id = ID(uuid.NewString())
	}
	if _, ok := r.states[id]; ok {
		return "", fmt.Errorf("%w: %s", ErrDuplicate, id)
	}
	if len(spec.Frames) > 0 && (spec.Index < 0 || spec.Index >= len(spec.Frames)) {
		return "", fmt.Errorf("%w: %d of %d", ErrIndexOutOfRange, spec.Index, len(spec.Frames))
	}
	cam := spec.Camera
	if cam.ParallelScale == 0 {
		cam.ParallelScale = 1
	}
	voi := spec.VOI
	if voi != (models.VOIRange{}) {
		voi = voi.Normalize()
	}
	r.states[id] = &State{
		ID:          id,
		EngineID:    spec.EngineID,
		Index:       spec.Index,
		Frames:      append([]models.FrameRef(nil), spec.Frames...),
		Camera:      cam,
		VOI:         voi,
		SyncEnabled: spec.SyncEnabled,
	}
	r.order = append(r.order, id)
	return id, nil
}

// Get returns a copy of the viewport's state.
func (r *Registry) Get(id ID) (State, bool) {
	s, ok := r.states[id]
	if !ok {
		return State{}, false
	}
	return s.clone(), true
}

// IDs returns registered ids in creation order.
func (r *Registry) IDs() []ID {
	return append([]ID(nil), r.order...)
}

// Len returns the number of registered viewports.
func (r *Registry) Len() int { return len(r.states) }

// Remove tears a viewport down and sends a Removed event so the engine
// drops it from every group. It reports whether the viewport existed.
func (r *Registry) Remove(id ID) bool {
	if _, ok := r.states[id]; !ok {
		return false
	}
	delete(r.states, id)
	for i, v := range r.order {
		if v == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	r.scheduler.Forget(id)
	if r.notifier != nil {
		r.notifier.Notify(Event{Kind: Removed, Source: id})
	}
	return true
}

func (r *Registry) lookup(id ID) (*State, error) {
	s, ok := r.states[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return s, nil
}

func (r *Registry) notify(kind EventKind, id ID) {
	r.scheduler.MarkDirty(id)
	if r.notifier != nil {
		r.notifier.Notify(Event{Kind: kind, Source: id})
	}
}

// SetSyncEnabled toggles synchronization for a viewport.
func (r *Registry) SetSyncEnabled(id ID, enabled bool) error {
	s, err := r.lookup(id)
	if err != nil {
		return err
	}
	s.SyncEnabled = enabled
	return nil
}

// SetFrames replaces the frame sequence and current index without notifying.
func (r *Registry) SetFrames(id ID, frames []models.FrameRef, index int) error {
	s, err := r.lookup(id)
	if err != nil {
		return err
	}
	if len(frames) > 0 && (index < 0 || index >= len(frames)) {
		return fmt.Errorf("%w: %d of %d", ErrIndexOutOfRange, index, len(frames))
	}
	s.Frames = append([]models.FrameRef(nil), frames...)
	s.Index = index
	r.scheduler.MarkDirty(id)
	return nil
}

// Scroll moves the viewport to a frame index.
func (r *Registry) Scroll(id ID, index int) error {
	s, err := r.lookup(id)
	if err != nil {
		return err
	}
	if index < 0 || index >= len(s.Frames) {
		return fmt.Errorf("%w: %d of %d", ErrIndexOutOfRange, index, len(s.Frames))
	}
	if s.Index == index {
		return nil
	}
	s.Index = index
	r.notify(ImageChanged, id)
	return nil
}

// SetZoom sets the camera's parallel scale.
func (r *Registry) SetZoom(id ID, scale float64) error {
	s, err := r.lookup(id)
	if err != nil {
		return err
	}
	s.Camera.ParallelScale = scale
	r.notify(CameraModified, id)
	return nil
}

// SetPan sets the camera focal point and view-plane normal.
func (r *Registry) SetPan(id ID, focal, normal r3.Vec) error {
	s, err := r.lookup(id)
	if err != nil {
		return err
	}
	s.Camera.FocalPoint = focal
	s.Camera.ViewPlaneNormal = normal
	r.notify(CameraModified, id)
	return nil
}

// SetVOI sets the display window. Degenerate ranges are widened to one.
func (r *Registry) SetVOI(id ID, voi models.VOIRange) error {
	s, err := r.lookup(id)
	if err != nil {
		return err
	}
	s.VOI = voi.Normalize()
	r.notify(VOIModified, id)
	return nil
}

// ApplyIndex sets a target's index on the synchronizer's behalf. It reports
// whether the index changed.
func (r *Registry) ApplyIndex(id ID, index int) bool {
	s, ok := r.states[id]
	if !ok || index < 0 || index >= len(s.Frames) || s.Index == index {
		return false
	}
	s.Index = index
	r.scheduler.MarkDirty(id)
	return true
}

// ApplyParallelScale copies a zoom factor onto a target.
func (r *Registry) ApplyParallelScale(id ID, scale float64) bool {
	s, ok := r.states[id]
	if !ok || s.Camera.ParallelScale == scale {
		return false
	}
	s.Camera.ParallelScale = scale
	r.scheduler.MarkDirty(id)
	return true
}

// ApplyPan copies focal point and view-plane normal onto a target.
func (r *Registry) ApplyPan(id ID, focal, normal r3.Vec) bool {
	s, ok := r.states[id]
	if !ok || (s.Camera.FocalPoint == focal && s.Camera.ViewPlaneNormal == normal) {
		return false
	}
	s.Camera.FocalPoint = focal
	s.Camera.ViewPlaneNormal = normal
	r.scheduler.MarkDirty(id)
	return true
}

// ApplyVOI copies a display window onto a target.
func (r *Registry) ApplyVOI(id ID, voi models.VOIRange) bool {
	s, ok := r.states[id]
	if !ok {
		return false
	}
	voi = voi.Normalize()
	if s.VOI == voi {
		return false
	}
	s.VOI = voi
	r.scheduler.MarkDirty(id)
	return true
}
