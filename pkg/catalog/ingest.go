package catalog

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"
	"gonum.org/v1/gonum/spatial/r3"

	"slicesync/internal/models"
	"slicesync/pkg/decoder"
)

// ErrNoSeries is returned by ParseHeader for instances without a series uid.
var ErrNoSeries = errors.New("dicom instance has no series instance uid")

// IngestReport summarizes an Ingest run.
type IngestReport struct {
	Files   int
	Frames  int
	Skipped int
	Series  map[string]int
}

// Ingest walks dir, reads the header of every DICOM file it finds and
// upserts one row per frame. Files that are not DICOM are skipped.
func (c *Catalog) Ingest(ctx context.Context, dir string) (IngestReport, error) {
	report := IngestReport{Series: make(map[string]int)}
	var batch []models.FrameDescriptor

	err := filepath.WalkDir(dir, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if entry.IsDir() || !entry.Type().IsRegular() {
			return nil
		}
		report.Files++
		descs, err := ParseHeader(path)
		if err != nil {
			report.Skipped++
			c.logger.Debug("skipping file", "path", path, "err", err)
			return nil
		}
		for _, d := range descs {
			report.Series[d.Ref.SeriesUID]++
		}
		report.Frames += len(descs)
		batch = append(batch, descs...)
		return nil
	})
	if err != nil {
		return report, fmt.Errorf("ingest %s: %w", dir, err)
	}
	if err := c.Upsert(ctx, batch); err != nil {
		return report, fmt.Errorf("ingest %s: %w", dir, err)
	}
	c.logger.Info("ingest complete", "dir", dir, "files", report.Files, "frames", report.Frames, "skipped", report.Skipped, "series", len(report.Series))
	return report, nil
}

// ParseHeader reads one DICOM file and returns a descriptor per frame.
//
// Enhanced multi-frame instances take each frame's position from the
// per-frame functional groups and the orientation from the per-frame or
// shared groups. Without per-frame groups every frame shares the instance
// orientation and only frame 0 carries the instance position.
func ParseHeader(path string) ([]models.FrameDescriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	ds, err := dicom.Parse(bytes.NewReader(data), int64(len(data)), nil, dicom.SkipPixelData())
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	h := header{elems: ds.Elements}
	uid := h.text(tag.SeriesInstanceUID)
	if uid == "" {
		return nil, fmt.Errorf("%s: %w", path, ErrNoSeries)
	}
	d := models.FrameDescriptor{
		Ref:                 models.FrameRef{Path: path, SeriesUID: uid},
		Rows:                h.integer(tag.Rows, 0),
		Columns:             h.integer(tag.Columns, 0),
		SamplesPerPixel:     h.integer(tag.SamplesPerPixel, 1),
		BitsAllocated:       h.integer(tag.BitsAllocated, 16),
		PixelRepresentation: models.PixelRepresentation(h.integer(tag.PixelRepresentation, 0)),
		Photometric:         h.text(tag.PhotometricInterpretation),
		NumberOfFrames:      h.integer(tag.NumberOfFrames, 1),
		TransferSyntaxUID:   h.text(tag.TransferSyntaxUID),
		RescaleSlope:        h.decimal(tag.RescaleSlope, 1),
		RescaleIntercept:    h.decimal(tag.RescaleIntercept, 0),
		WindowCenter:        h.decimal(tag.WindowCenter, 0),
		WindowWidth:         h.decimal(tag.WindowWidth, 0),
		SliceThickness:      h.decimal(tag.SliceThickness, 0),
		Modality:            h.text(tag.Modality),
	}
	d.BitsStored = h.integer(tag.BitsStored, d.BitsAllocated)
	d.Compressed = !decoder.IsNative(d.TransferSyntaxUID)
	if d.NumberOfFrames < 1 {
		d.NumberOfFrames = 1
	}
	d.RowCosines, d.ColumnCosines, d.HasOrientation = h.orientation()
	d.Position, d.HasPosition = h.position()
	if shared, ok := h.item(tag.SharedFunctionalGroupsSequence); ok {
		if plane, ok := shared.item(tag.PlaneOrientationSequence); ok {
			if row, col, ok := plane.orientation(); ok {
				d.RowCosines, d.ColumnCosines, d.HasOrientation = row, col, true
			}
		}
	}
	if offset, _, err := decoder.PixelData(data, d.TransferSyntaxUID); err == nil {
		d.PixelDataOffset = offset
	}

	perFrame := h.items(tag.PerFrameFunctionalGroupsSequence)
	out := make([]models.FrameDescriptor, d.NumberOfFrames)
	for i := range out {
		f := d
		f.Ref.Frame = i
		switch {
		case len(perFrame) > 0:
			f.Position, f.HasPosition = r3.Vec{}, false
			if i >= len(perFrame) {
				break
			}
			if plane, ok := perFrame[i].item(tag.PlanePositionSequence); ok {
				f.Position, f.HasPosition = plane.position()
			}
			if plane, ok := perFrame[i].item(tag.PlaneOrientationSequence); ok {
				if row, col, ok := plane.orientation(); ok {
					f.RowCosines, f.ColumnCosines, f.HasOrientation = row, col, true
				}
			}
		case i > 0:
			f.Position, f.HasPosition = r3.Vec{}, false
		}
		out[i] = f
	}
	return out, nil
}

// header reads typed values out of a dataset or one sequence item. Missing
// or malformed elements fall back to the caller's default.
type header struct {
	elems []*dicom.Element
}

func (h header) find(t tag.Tag) *dicom.Element {
	for _, el := range h.elems {
		if el.Tag == t && el.Value != nil {
			return el
		}
	}
	return nil
}

// items returns the items of a sequence element.
func (h header) items(t tag.Tag) []header {
	el := h.find(t)
	if el == nil {
		return nil
	}
	seq, ok := el.Value.GetValue().([]*dicom.SequenceItemValue)
	if !ok {
		return nil
	}
	out := make([]header, 0, len(seq))
	for _, item := range seq {
		if elems, ok := item.GetValue().([]*dicom.Element); ok {
			out = append(out, header{elems: elems})
		}
	}
	return out
}

func (h header) item(t tag.Tag) (header, bool) {
	if items := h.items(t); len(items) > 0 {
		return items[0], true
	}
	return header{}, false
}

func (h header) orientation() (row, col r3.Vec, ok bool) {
	o := h.decimals(tag.ImageOrientationPatient)
	if len(o) != 6 {
		return r3.Vec{}, r3.Vec{}, false
	}
	return r3.Vec{X: o[0], Y: o[1], Z: o[2]}, r3.Vec{X: o[3], Y: o[4], Z: o[5]}, true
}

func (h header) position() (r3.Vec, bool) {
	p := h.decimals(tag.ImagePositionPatient)
	if len(p) != 3 {
		return r3.Vec{}, false
	}
	return r3.Vec{X: p[0], Y: p[1], Z: p[2]}, true
}

func (h header) values(t tag.Tag) []string {
	el := h.find(t)
	if el == nil {
		return nil
	}
	switch v := el.Value.GetValue().(type) {
	case []string:
		out := make([]string, len(v))
		for i, s := range v {
			out[i] = strings.Trim(s, " \x00")
		}
		return out
	case []int:
		out := make([]string, len(v))
		for i, n := range v {
			out[i] = strconv.Itoa(n)
		}
		return out
	case []float64:
		out := make([]string, len(v))
		for i, f := range v {
			out[i] = strconv.FormatFloat(f, 'g', -1, 64)
		}
		return out
	default:
		return nil
	}
}

func (h header) text(t tag.Tag) string {
	if v := h.values(t); len(v) > 0 {
		return v[0]
	}
	return ""
}

func (h header) integer(t tag.Tag, def int) int {
	n, err := strconv.Atoi(h.text(t))
	if err != nil {
		return def
	}
	return n
}

func (h header) decimal(t tag.Tag, def float64) float64 {
	f, err := strconv.ParseFloat(h.text(t), 64)
	if err != nil {
		return def
	}
	return f
}

// decimals parses a multi-valued numeric element. Any malformed value voids
// the whole element.
func (h header) decimals(t tag.Tag) []float64 {
	vals := h.values(t)
	out := make([]float64, 0, len(vals))
	for _, s := range vals {
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil
		}
		out = append(out, f)
	}
	return out
}
