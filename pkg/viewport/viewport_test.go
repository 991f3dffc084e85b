package viewport

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"

	"slicesync/internal/models"
)

type recorder struct {
	events []Event
}

func (r *recorder) Notify(e Event) { r.events = append(r.events, e) }

func frames(n int) []models.FrameRef {
	out := make([]models.FrameRef, n)
	for i := range out {
		out[i] = models.FrameRef{Path: "/s", Frame: i}
	}
	return out
}

func TestCreateAssignsID(t *testing.T) {
	r := NewRegistry()
	id, err := r.Create(Spec{Frames: frames(2)})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	s, ok := r.Get(id)
	require.True(t, ok)
	assert.Equal(t, 1.0, s.Camera.ParallelScale, "zero zoom defaults to one")

	_, err = r.Create(Spec{ID: id})
	assert.ErrorIs(t, err, ErrDuplicate)

	_, err = r.Create(Spec{Frames: frames(2), Index: 5})
	assert.ErrorIs(t, err, ErrIndexOutOfRange)
}

func TestGetReturnsCopy(t *testing.T) {
	r := NewRegistry()
	id, err := r.Create(Spec{ID: "a", Frames: frames(3)})
	require.NoError(t, err)

	s, _ := r.Get(id)
	s.Index = 2
	s.Frames[0].Path = "/mutated"

	again, _ := r.Get(id)
	assert.Equal(t, 0, again.Index)
	assert.Equal(t, "/s", again.Frames[0].Path)
}

func TestUserMutationsNotify(t *testing.T) {
	r := NewRegistry()
	rec := &recorder{}
	r.SetNotifier(rec)
	id, err := r.Create(Spec{ID: "a", Frames: frames(3)})
	require.NoError(t, err)

	require.NoError(t, r.Scroll(id, 2))
	require.NoError(t, r.Scroll(id, 2)) // unchanged: no event
	require.NoError(t, r.SetZoom(id, 2))
	require.NoError(t, r.SetPan(id, r3.Vec{X: 1}, r3.Vec{Z: 1}))
	require.NoError(t, r.SetVOI(id, models.VOIRange{Lower: 5, Upper: 5}))

	assert.Equal(t, []Event{
		{Kind: ImageChanged, Source: id},
		{Kind: CameraModified, Source: id},
		{Kind: CameraModified, Source: id},
		{Kind: VOIModified, Source: id},
	}, rec.events)

	s, _ := r.Get(id)
	assert.Equal(t, models.VOIRange{Lower: 5, Upper: 6}, s.VOI)

	assert.ErrorIs(t, r.Scroll(id, 3), ErrIndexOutOfRange)
	assert.ErrorIs(t, r.Scroll("nope", 0), ErrNotFound)
}

func TestApplyDoesNotNotify(t *testing.T) {
	r := NewRegistry()
	rec := &recorder{}
	r.SetNotifier(rec)
	id, _ := r.Create(Spec{ID: "a", Frames: frames(3)})

	assert.True(t, r.ApplyIndex(id, 1))
	assert.False(t, r.ApplyIndex(id, 1))
	assert.False(t, r.ApplyIndex(id, 9))
	assert.True(t, r.ApplyParallelScale(id, 3))
	assert.True(t, r.ApplyPan(id, r3.Vec{Y: 2}, r3.Vec{Z: -1}))
	assert.True(t, r.ApplyVOI(id, models.VOIRange{Lower: 0, Upper: 100}))
	assert.False(t, r.ApplyVOI(id, models.VOIRange{Lower: 0, Upper: 100}))
	assert.Empty(t, rec.events)

	s, _ := r.Get(id)
	assert.Equal(t, 1, s.Index)
	assert.Equal(t, 3.0, s.Camera.ParallelScale)
	assert.Equal(t, r3.Vec{Y: 2}, s.Camera.FocalPoint)
}

func TestRemove(t *testing.T) {
	r := NewRegistry()
	rec := &recorder{}
	r.SetNotifier(rec)
	a, _ := r.Create(Spec{ID: "a", Frames: frames(2)})
	b, _ := r.Create(Spec{ID: "b", Frames: frames(2)})
	r.ApplyIndex(a, 1)

	assert.True(t, r.Remove(a))
	assert.False(t, r.Remove(a))
	assert.Equal(t, []ID{b}, r.IDs())
	assert.False(t, r.Scheduler().IsDirty(a))
	assert.Equal(t, []Event{{Kind: Removed, Source: a}}, rec.events, "teardown notifies once")
}

func TestSchedulerCoalesces(t *testing.T) {
	s := NewScheduler()
	assert.True(t, s.MarkDirty("a"))
	assert.True(t, s.MarkDirty("b"))
	assert.False(t, s.MarkDirty("a"))
	assert.Equal(t, []ID{"a", "b"}, s.Pending())

	var rendered []ID
	n := s.Flush(func(id ID) { rendered = append(rendered, id) })
	assert.Equal(t, 2, n)
	assert.Equal(t, []ID{"a", "b"}, rendered)

	// next tick starts clean
	assert.True(t, s.MarkDirty("a"))
	s.Forget("a")
	assert.Empty(t, s.Pending())
}

func TestCurrentFrame(t *testing.T) {
	s := State{Frames: frames(2), Index: 1}
	f, ok := s.CurrentFrame()
	require.True(t, ok)
	assert.Equal(t, 1, f.Frame)

	_, ok = State{}.CurrentFrame()
	assert.False(t, ok)
}
