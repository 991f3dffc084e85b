package decoder

import (
	"encoding/binary"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"

	"slicesync/internal/models"
)

// DecodeFrame turns the bytes of a file into physical-unit samples for the
// frame desc describes. It never reads outside data.
func (d *Decoder) DecodeFrame(desc models.FrameDescriptor, data []byte) (*models.DecodedFrame, error) {
	syntax := desc.TransferSyntaxUID

	var (
		raw []int64
		err error
	)
	switch {
	case !desc.Compressed && IsNative(syntax):
		raw, err = nativeSamples(desc, data)
	case IsRecognizedCompressed(syntax):
		raw, err = d.compressedSamples(desc, data)
	default:
		err = fmt.Errorf("%w: transfer syntax %q", ErrUnsupportedCompression, syntax)
	}
	if err != nil {
		return nil, err
	}
	return rescale(desc, raw), nil
}

// nativeSamples reads one uncompressed frame as stored integers.
func nativeSamples(desc models.FrameDescriptor, data []byte) ([]int64, error) {
	bytesPer := desc.BitsAllocated / 8
	if desc.BitsAllocated%8 != 0 || (bytesPer != 1 && bytesPer != 2 && bytesPer != 4) {
		return nil, fmt.Errorf("%w: %d bits allocated", ErrUnsupportedLayout, desc.BitsAllocated)
	}

	base := desc.PixelDataOffset
	if base <= 0 {
		off, _, err := PixelData(data, desc.TransferSyntaxUID)
		if err != nil {
			return nil, err
		}
		base = off
	}

	count := desc.SampleCount()
	frameSize := desc.FrameSize()
	offset := base + desc.Ref.Frame*frameSize
	if desc.Ref.Frame < 0 || offset < 0 || offset+frameSize > len(data) {
		return nil, fmt.Errorf("%w: frame %d needs bytes [%d,%d), buffer has %d",
			ErrBufferUnderrun, desc.Ref.Frame, offset, offset+frameSize, len(data))
	}

	var order binary.ByteOrder = binary.LittleEndian
	if isBigEndian(desc.TransferSyntaxUID) {
		order = binary.BigEndian
	}

	buf := data[offset : offset+frameSize]
	out := make([]int64, count)
	for i := range out {
		var v uint64
		switch bytesPer {
		case 1:
			v = uint64(buf[i])
		case 2:
			v = uint64(order.Uint16(buf[i*2:]))
		case 4:
			v = uint64(order.Uint32(buf[i*4:]))
		}
		out[i] = storedValue(v, desc)
	}
	return out, nil
}

// storedValue applies the bits-stored precision. Unsigned samples keep only
// the low bitsStored bits; signed samples are sign-extended from bitsStored.
func storedValue(v uint64, desc models.FrameDescriptor) int64 {
	bits := desc.BitsStored
	if bits <= 0 || bits > desc.BitsAllocated {
		bits = desc.BitsAllocated
	}
	v &= (uint64(1) << uint(bits)) - 1
	if desc.PixelRepresentation == models.Signed {
		shift := uint(64 - bits)
		return int64(v<<shift) >> shift
	}
	return int64(v)
}

// rescale applies slope/intercept, the degenerate-range guard and the default
// VOI selection.
func rescale(desc models.FrameDescriptor, raw []int64) *models.DecodedFrame {
	slope, intercept := desc.Slope(), desc.RescaleIntercept

	samples := make([]float64, len(raw))
	for i, v := range raw {
		samples[i] = float64(v)*slope + intercept
	}

	var lo, hi float64
	if len(samples) > 0 {
		lo, hi = floats.Min(samples), floats.Max(samples)
	}
	if lo == hi {
		// lo+1 rounds back to lo past 2^53
		hi = math.Max(lo+1, math.Nextafter(lo, math.Inf(1)))
	}

	frame := &models.DecodedFrame{
		Samples:         samples,
		Rows:            desc.Rows,
		Columns:         desc.Columns,
		SamplesPerPixel: max(desc.SamplesPerPixel, 1),
		Min:             lo,
		Max:             hi,
	}
	if desc.WindowCenter != 0 && desc.WindowWidth != 0 {
		frame.VOI = models.VOIFromWindow(desc.WindowCenter, desc.WindowWidth)
	} else {
		frame.VOI = models.VOIRange{Lower: lo, Upper: hi}.Normalize()
	}
	return frame
}
