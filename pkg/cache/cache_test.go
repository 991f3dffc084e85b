package cache

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"

	"slicesync/internal/models"
)

// fakeStore serves series from memory and counts queries
type fakeStore struct {
	paths   map[string]string
	series  map[string][]models.FrameDescriptor
	failing map[string]error
	queries int
}

func (s *fakeStore) SeriesForPath(_ context.Context, path string) (string, bool, error) {
	uid, ok := s.paths[NormalizePath(path)]
	return uid, ok, nil
}

func (s *fakeStore) SeriesFrames(_ context.Context, uid string) ([]models.FrameDescriptor, error) {
	s.queries++
	if err := s.failing[uid]; err != nil {
		return nil, err
	}
	return s.series[uid], nil
}

func axialFrame(path string, z float64) models.FrameDescriptor {
	return models.FrameDescriptor{
		Ref:            models.FrameRef{Path: path},
		Rows:           2,
		Columns:        2,
		RowCosines:     r3.Vec{X: 1},
		ColumnCosines:  r3.Vec{Y: 1},
		Position:       r3.Vec{Z: z},
		HasOrientation: true,
		HasPosition:    true,
	}
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		paths: map[string]string{
			"/data/ct/1.dcm": "ct",
			"/data/ct/2.dcm": "ct",
			"/data/ct/3.dcm": "ct",
		},
		series: map[string][]models.FrameDescriptor{
			"ct": {
				axialFrame(`/data/CT/1.dcm`, 0),
				axialFrame(`/data/CT/2.dcm`, 2.5),
				axialFrame(`/data/CT/3.dcm`, 5),
			},
		},
	}
}

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{`C:\Studies\CT\IM1.dcm`, "c:/studies/ct/im1.dcm"},
		{"/data//ct/./a.DCM", "/data/ct/a.dcm"},
		{"/data/ct/../ct/a.dcm", "/data/ct/a.dcm"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizePath(tt.in), tt.in)
	}
}

func TestEquivalentSpellingsShareSlot(t *testing.T) {
	c := New(nil)
	c.Put(axialFrame(`C:\Study\IM1.dcm`, 3))

	d, ok := c.Lookup(models.FrameRef{Path: "c:/study/im1.DCM"})
	require.True(t, ok)
	assert.Equal(t, 3.0, d.Position.Z)
	assert.Equal(t, 1, c.Len())
}

func TestMultiFrameKeysAreDistinct(t *testing.T) {
	c := New(nil)
	a := axialFrame("/m.dcm", 0)
	b := axialFrame("/m.dcm", 1)
	b.Ref.Frame = 1
	c.Put(a)
	c.Put(b)
	assert.Equal(t, 2, c.Len())

	d, ok := c.Lookup(models.FrameRef{Path: "/m.dcm", Frame: 1})
	require.True(t, ok)
	assert.Equal(t, 1.0, d.Position.Z)
}

func TestPrefetchResolvesSeriesInBulk(t *testing.T) {
	store := newFakeStore()
	c := New(store)

	refs := []models.FrameRef{
		{Path: "/data/ct/1.dcm"},
		{Path: "/data/ct/2.dcm"},
		{Path: "/data/ct/3.dcm"},
	}
	report, err := c.Prefetch(context.Background(), refs)
	require.NoError(t, err)

	assert.Equal(t, 1, store.queries, "one query per series")
	assert.Equal(t, 3, report.Resolved)
	assert.Equal(t, 1, report.Series)
	assert.Empty(t, report.Missing)

	d, ok := c.Lookup(refs[1])
	require.True(t, ok)
	assert.Equal(t, "ct", d.Ref.SeriesUID)
	assert.InDelta(t, 2.5, d.SliceThickness, 1e-9)

	// already cached: no further queries
	_, err = c.Prefetch(context.Background(), refs)
	require.NoError(t, err)
	assert.Equal(t, 1, store.queries)
}

func TestPrefetchUnresolvedIsSoftMiss(t *testing.T) {
	c := New(newFakeStore())
	refs := []models.FrameRef{
		{Path: "/data/ct/1.dcm"},
		{Path: "/elsewhere/unknown.dcm"},
	}
	report, err := c.Prefetch(context.Background(), refs)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Resolved)
	assert.Equal(t, []models.FrameRef{refs[1]}, report.Missing)
}

func TestPrefetchStoreFailureIsolatedPerSeries(t *testing.T) {
	store := newFakeStore()
	store.series["mr"] = []models.FrameDescriptor{axialFrame("/data/mr/1.dcm", 0)}
	store.failing = map[string]error{"ct": errors.New("disk gone")}
	c := New(store)

	refs := []models.FrameRef{
		{Path: "/data/ct/1.dcm", SeriesUID: "ct"},
		{Path: "/data/mr/1.dcm", SeriesUID: "mr"},
	}
	report, err := c.Prefetch(context.Background(), refs)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk gone")
	assert.Equal(t, 1, report.Resolved)
	assert.Equal(t, []models.FrameRef{refs[0]}, report.Missing)
}

func TestPrefetchWithoutStore(t *testing.T) {
	report, err := New(nil).Prefetch(context.Background(), []models.FrameRef{{Path: "/a"}})
	assert.ErrorIs(t, err, ErrNoStore)
	assert.Len(t, report.Missing, 1)
}

func TestSliceThickness(t *testing.T) {
	tests := []struct {
		name   string
		depths []float64
		want   float64
	}{
		{"regular", []float64{0, 5, 10}, 5},
		{"unsorted with duplicates", []float64{10, 0, 10, 3, 0}, 3},
		{"single depth", []float64{4, 4, 4}, 1},
		{"empty", nil, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var frames []models.FrameDescriptor
			for _, z := range tt.depths {
				frames = append(frames, axialFrame("/x", z))
			}
			assert.InDelta(t, tt.want, SliceThickness(frames), 1e-9)
		})
	}
}

func TestSliceThicknessUsesSeriesNormal(t *testing.T) {
	// sagittal: row = y, column = z, normal = x
	var frames []models.FrameDescriptor
	for _, x := range []float64{-4, 0, 4} {
		frames = append(frames, models.FrameDescriptor{
			RowCosines:     r3.Vec{Y: 1},
			ColumnCosines:  r3.Vec{Z: -1},
			Position:       r3.Vec{X: x, Z: 100},
			HasOrientation: true,
			HasPosition:    true,
		})
	}
	assert.InDelta(t, 4.0, SliceThickness(frames), 1e-9)
}

func TestClearSeriesAndClear(t *testing.T) {
	c := New(nil)
	a := axialFrame("/a", 0)
	a.Ref.SeriesUID = "s1"
	b := axialFrame("/b", 0)
	b.Ref.SeriesUID = "s2"
	c.Put(a)
	c.Put(b)

	c.ClearSeries("s1")
	_, ok := c.Lookup(a.Ref)
	assert.False(t, ok)
	_, ok = c.Lookup(b.Ref)
	assert.True(t, ok)

	c.Clear()
	assert.Equal(t, 0, c.Len())
}

func TestDefaultLifecycle(t *testing.T) {
	t.Cleanup(Reset)

	d := Default()
	require.NotNil(t, d)
	assert.Same(t, d, Default())

	Reset()
	assert.NotSame(t, d, Default())

	isolated := New(nil)
	SetDefault(isolated)
	assert.Same(t, isolated, Default())
}
