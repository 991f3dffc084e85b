package catalog

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"

	"slicesync/internal/models"
	"slicesync/internal/testdicom"
	"slicesync/pkg/cache"
	"slicesync/pkg/decoder"
)

func openTemp(t *testing.T) *Catalog {
	t.Helper()
	c, err := Open(filepath.Join(t.TempDir(), "catalog.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func frame(path, series string, z float64) models.FrameDescriptor {
	return models.FrameDescriptor{
		Ref:               models.FrameRef{Path: path, SeriesUID: series},
		Rows:              2,
		Columns:           2,
		SamplesPerPixel:   1,
		BitsAllocated:     16,
		BitsStored:        12,
		NumberOfFrames:    1,
		TransferSyntaxUID: decoder.ExplicitVRLittleEndian,
		RescaleSlope:      1,
		RescaleIntercept:  -1024,
		WindowCenter:      40,
		WindowWidth:       400,
		RowCosines:        r3.Vec{X: 1},
		ColumnCosines:     r3.Vec{Y: 1},
		Position:          r3.Vec{X: -125.5, Y: 3, Z: z},
		HasOrientation:    true,
		HasPosition:       true,
		SliceThickness:    2.5,
		Modality:          "CT",
	}
}

func TestOpenIsRepeatable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.db")
	c, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, c.Close())

	c, err = Open(path)
	require.NoError(t, err)
	require.NoError(t, c.Close())
}

func TestUpsertAndQuery(t *testing.T) {
	ctx := context.Background()
	c := openTemp(t)

	require.NoError(t, c.Upsert(ctx, []models.FrameDescriptor{
		frame(`C:\Data\CT\2.dcm`, "ct", 2.5),
		frame(`C:\Data\CT\1.dcm`, "ct", 0),
		frame(`/mr/1.dcm`, "mr", 0),
	}))

	uid, ok, err := c.SeriesForPath(ctx, "c:/data/ct/1.dcm")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "ct", uid)

	_, ok, err = c.SeriesForPath(ctx, "/nowhere.dcm")
	require.NoError(t, err)
	assert.False(t, ok)

	frames, err := c.SeriesFrames(ctx, "ct")
	require.NoError(t, err)
	require.Len(t, frames, 2)
	assert.Equal(t, `C:\Data\CT\1.dcm`, frames[0].Ref.Path)
	assert.Equal(t, frame(`C:\Data\CT\1.dcm`, "ct", 0), frames[0])

	series, err := c.Series(ctx)
	require.NoError(t, err)
	assert.Equal(t, []SeriesSummary{{UID: "ct", Modality: "CT", Frames: 2}, {UID: "mr", Modality: "CT", Frames: 1}}, series)
}

func TestUpsertReplacesRow(t *testing.T) {
	ctx := context.Background()
	c := openTemp(t)

	require.NoError(t, c.Upsert(ctx, []models.FrameDescriptor{frame("/a.dcm", "old", 0)}))
	moved := frame("/A.dcm", "new", 7)
	moved.HasOrientation = false
	moved.RowCosines, moved.ColumnCosines = r3.Vec{}, r3.Vec{}
	require.NoError(t, c.Upsert(ctx, []models.FrameDescriptor{moved}))

	old, err := c.SeriesFrames(ctx, "old")
	require.NoError(t, err)
	assert.Empty(t, old)

	got, err := c.SeriesFrames(ctx, "new")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.False(t, got[0].HasOrientation)
	assert.Equal(t, 7.0, got[0].Position.Z)
}

func TestUpsertRequiresSeries(t *testing.T) {
	c := openTemp(t)
	err := c.Upsert(context.Background(), []models.FrameDescriptor{frame("/a.dcm", "", 0)})
	assert.Error(t, err)
}

func TestDeleteSeries(t *testing.T) {
	ctx := context.Background()
	c := openTemp(t)
	require.NoError(t, c.Upsert(ctx, []models.FrameDescriptor{frame("/a.dcm", "s", 0)}))
	require.NoError(t, c.DeleteSeries(ctx, "s"))

	_, ok, err := c.SeriesForPath(ctx, "/a.dcm")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCatalogFeedsCachePrefetch(t *testing.T) {
	ctx := context.Background()
	c := openTemp(t)
	require.NoError(t, c.Upsert(ctx, []models.FrameDescriptor{
		frame("/ct/1.dcm", "ct", 0),
		frame("/ct/2.dcm", "ct", 1.25),
		frame("/ct/3.dcm", "ct", 2.5),
	}))

	mc := cache.New(c)
	report, err := mc.Prefetch(ctx, []models.FrameRef{{Path: "/CT/1.dcm"}})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Resolved)
	assert.Equal(t, 1, report.Series)
	assert.Equal(t, 3, mc.Len())

	d, ok := mc.Lookup(models.FrameRef{Path: "/ct/3.dcm"})
	require.True(t, ok)
	assert.InDelta(t, 1.25, d.SliceThickness, 1e-9)
}

func instance(t *testing.T, path, series string, z float64) {
	t.Helper()
	require.NoError(t, testdicom.Axial(series, z).Write(path))
}

func TestParseHeader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "1.dcm")
	instance(t, path, "1.2.3.4", 12.5)

	descs, err := ParseHeader(path)
	require.NoError(t, err)
	require.Len(t, descs, 1)
	d := descs[0]

	assert.Equal(t, "1.2.3.4", d.Ref.SeriesUID)
	assert.Equal(t, "CT", d.Modality)
	assert.Equal(t, 2, d.Rows)
	assert.Equal(t, 2, d.Columns)
	assert.Equal(t, 12, d.BitsStored)
	assert.Equal(t, -1024.0, d.RescaleIntercept)
	assert.Equal(t, "MONOCHROME2", d.Photometric)
	assert.False(t, d.Compressed)
	assert.True(t, d.HasGeometry())
	assert.Equal(t, r3.Vec{Z: 12.5}, d.Position)
	assert.Equal(t, r3.Vec{Y: 1}, d.ColumnCosines)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	offset, _, err := decoder.PixelData(data, decoder.ExplicitVRLittleEndian)
	require.NoError(t, err)
	assert.Equal(t, offset, d.PixelDataOffset)
}

func TestParseHeaderMultiFrame(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stack.dcm")
	require.NoError(t, testdicom.AxialStack("1.2.3.5", 0, 2.5, 5).Write(path))

	descs, err := ParseHeader(path)
	require.NoError(t, err)
	require.Len(t, descs, 3)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	offset, _, err := decoder.PixelData(data, decoder.ExplicitVRLittleEndian)
	require.NoError(t, err)

	for i, d := range descs {
		assert.Equal(t, i, d.Ref.Frame)
		assert.Equal(t, 3, d.NumberOfFrames)
		assert.True(t, d.HasGeometry(), "frame %d", i)
		assert.Equal(t, r3.Vec{X: 1}, d.RowCosines)
		assert.Equal(t, r3.Vec{Y: 1}, d.ColumnCosines)
		assert.Equal(t, offset, d.PixelDataOffset)
	}
	assert.Equal(t, r3.Vec{Z: 0}, descs[0].Position)
	assert.Equal(t, r3.Vec{Z: 2.5}, descs[1].Position)
	assert.Equal(t, r3.Vec{Z: 5}, descs[2].Position)
}

func TestIngestMultiFrame(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	require.NoError(t, testdicom.AxialStack("1.2.3.5", 10, 12, 14, 16).Write(filepath.Join(dir, "stack.dcm")))

	c := openTemp(t)
	report, err := c.Ingest(ctx, dir)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Files)
	assert.Equal(t, 4, report.Frames)

	frames, err := c.SeriesFrames(ctx, "1.2.3.5")
	require.NoError(t, err)
	require.Len(t, frames, 4)
	for i, f := range frames {
		assert.True(t, f.HasPosition, "frame %d", i)
		assert.Equal(t, 10+2*float64(i), f.Position.Z)
	}
	assert.InDelta(t, 2.0, cache.SliceThickness(frames), 1e-9)
}

func TestIngest(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "sub"), 0o755))
	instance(t, filepath.Join(dir, "1.dcm"), "1.2.3", 0)
	instance(t, filepath.Join(dir, "sub", "2.dcm"), "1.2.3", 5)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("not dicom"), 0o644))

	c := openTemp(t)
	report, err := c.Ingest(ctx, dir)
	require.NoError(t, err)
	assert.Equal(t, 3, report.Files)
	assert.Equal(t, 2, report.Frames)
	assert.Equal(t, 1, report.Skipped)
	assert.Equal(t, map[string]int{"1.2.3": 2}, report.Series)

	frames, err := c.SeriesFrames(ctx, "1.2.3")
	require.NoError(t, err)
	require.Len(t, frames, 2)
	assert.InDelta(t, 5.0, cache.SliceThickness(frames), 1e-9)
}

func TestIngestCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	dir := t.TempDir()
	instance(t, filepath.Join(dir, "1.dcm"), "1.2.3", 0)

	_, err := openTemp(t).Ingest(ctx, dir)
	assert.ErrorIs(t, err, context.Canceled)
}
