package models

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// FrameRef identifies one frame: a single-frame file or one sub-image of a
// multi-frame file.
type FrameRef struct {
	// Path is the file path as the host spells it
	Path string

	// Frame is the zero-based frame index inside the file
	Frame int

	// SeriesUID is the logical series the frame belongs to, if known
	SeriesUID string
}

func (r FrameRef) String() string {
	return fmt.Sprintf("%s#%d", r.Path, r.Frame)
}

// PixelRepresentation tells whether stored samples are two's complement.
type PixelRepresentation int

const (
	Unsigned PixelRepresentation = iota
	Signed
)

// FrameDescriptor holds everything needed to decode one frame and to place it
// in patient space. It is immutable once cached.
type FrameDescriptor struct {
	Ref FrameRef

	// Pixel layout
	Rows                int
	Columns             int
	SamplesPerPixel     int
	BitsAllocated       int
	BitsStored          int
	PixelRepresentation PixelRepresentation
	Photometric         string
	NumberOfFrames      int

	// PixelDataOffset is the byte offset of the pixel data value inside the
	// file. Zero means unknown; the decoder locates it by scanning.
	PixelDataOffset int

	// TransferSyntaxUID selects native or compressed decoding
	TransferSyntaxUID string
	Compressed        bool

	// Rescale maps stored values to physical units: v*slope + intercept
	RescaleSlope     float64
	RescaleIntercept float64

	// Default VOI from the header; zero values mean "not present"
	WindowCenter float64
	WindowWidth  float64

	// Patient-space geometry
	RowCosines     r3.Vec
	ColumnCosines  r3.Vec
	Position       r3.Vec
	HasOrientation bool
	HasPosition    bool
	SliceThickness float64

	Modality string
}

// SampleCount is rows*columns*samplesPerPixel.
func (d FrameDescriptor) SampleCount() int {
	spp := d.SamplesPerPixel
	if spp < 1 {
		spp = 1
	}
	return d.Rows * d.Columns * spp
}

// FrameSize is the byte length of one natively encoded frame.
func (d FrameDescriptor) FrameSize() int {
	return d.SampleCount() * (d.BitsAllocated / 8)
}

// HasGeometry reports whether both orientation and position are known.
func (d FrameDescriptor) HasGeometry() bool {
	return d.HasOrientation && d.HasPosition
}

// Slope returns the rescale slope, treating a missing (zero) slope as identity.
func (d FrameDescriptor) Slope() float64 {
	if d.RescaleSlope == 0 {
		return 1
	}
	return d.RescaleSlope
}

// VOIRange is the [Lower, Upper] sample window mapped to displayed intensity.
type VOIRange struct {
	Lower float64
	Upper float64
}

// VOIFromWindow converts a DICOM window center/width into a range.
func VOIFromWindow(center, width float64) VOIRange {
	return VOIRange{Lower: center - width/2, Upper: center + width/2}.Normalize()
}

// Normalize returns a range with Upper > Lower and a width of at least one.
func (v VOIRange) Normalize() VOIRange {
	if math.IsNaN(v.Lower) || math.IsNaN(v.Upper) {
		return VOIRange{Lower: 0, Upper: 1}
	}
	if v.Upper < v.Lower {
		v.Lower, v.Upper = v.Upper, v.Lower
	}
	if v.Upper-v.Lower < 1 {
		v.Upper = math.Max(v.Lower+1, math.Nextafter(v.Lower, math.Inf(1)))
	}
	return v
}

// Center returns the window center.
func (v VOIRange) Center() float64 { return (v.Lower + v.Upper) / 2 }

// Width returns the window width.
func (v VOIRange) Width() float64 { return v.Upper - v.Lower }

// DecodedFrame is a frame converted to physical units
type DecodedFrame struct {
	// Samples holds rows*columns*samplesPerPixel values, row-major, interleaved
	Samples []float64

	Rows            int
	Columns         int
	SamplesPerPixel int

	// Min and Max of Samples; Max > Min is guaranteed
	Min float64
	Max float64

	// VOI is the default display range
	VOI VOIRange
}
