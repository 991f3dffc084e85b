package decoder

import (
	"encoding/binary"
	"fmt"
)

// RLECodec decodes DICOM RLE Lossless frames (PS3.5 Annex G).
type RLECodec struct{}

func (RLECodec) Name() string { return "rle" }

func (RLECodec) UIDs() []string { return []string{RLELossless} }

// Decode splits the frame into byte segments, one per sample and per byte
// of the allocated width (most significant first), and recombines them.
func (RLECodec) Decode(req Request) ([]int32, error) {
	frame, err := frameBytes(req)
	if err != nil {
		return nil, err
	}
	desc := req.Descriptor

	bytesPer := desc.BitsAllocated / 8
	if desc.BitsAllocated%8 != 0 || bytesPer < 1 || bytesPer > 4 {
		return nil, fmt.Errorf("%w: rle with %d bits allocated", ErrUnsupportedLayout, desc.BitsAllocated)
	}
	spp := max(desc.SamplesPerPixel, 1)
	pixels := desc.Rows * desc.Columns

	if len(frame) < 64 {
		return nil, fmt.Errorf("%w: rle header needs 64 bytes, have %d", ErrBufferUnderrun, len(frame))
	}
	numSegments := int(binary.LittleEndian.Uint32(frame))
	if numSegments != spp*bytesPer || numSegments > 15 {
		return nil, fmt.Errorf("%w: %d rle segments for %d samples of %d bytes", ErrUnsupportedLayout, numSegments, spp, bytesPer)
	}
	offsets := make([]int, numSegments+1)
	for i := 0; i < numSegments; i++ {
		offsets[i] = int(binary.LittleEndian.Uint32(frame[4+4*i:]))
	}
	offsets[numSegments] = len(frame)

	out := make([]uint32, pixels*spp)
	for seg := 0; seg < numSegments; seg++ {
		start, end := offsets[seg], offsets[seg+1]
		if start < 64 || start > end || end > len(frame) {
			return nil, fmt.Errorf("%w: rle segment %d spans [%d,%d)", ErrBufferUnderrun, seg, start, end)
		}
		plane, err := unpackBits(frame[start:end], pixels)
		if err != nil {
			return nil, fmt.Errorf("rle segment %d: %w", seg, err)
		}
		sample, byteIdx := seg/bytesPer, seg%bytesPer
		shift := uint(8 * (bytesPer - 1 - byteIdx))
		for p, b := range plane {
			out[p*spp+sample] |= uint32(b) << shift
		}
	}

	values := make([]int32, len(out))
	for i, v := range out {
		values[i] = int32(storedValue(uint64(v), desc))
	}
	return values, nil
}

// unpackBits expands one PackBits-encoded segment to exactly n bytes.
func unpackBits(src []byte, n int) ([]byte, error) {
	dst := make([]byte, 0, n)
	for i := 0; i < len(src) && len(dst) < n; {
		c := int(int8(src[i]))
		i++
		switch {
		case c >= 0:
			run := c + 1
			if i+run > len(src) {
				return nil, fmt.Errorf("%w: literal run past segment end", ErrBufferUnderrun)
			}
			dst = append(dst, src[i:i+run]...)
			i += run
		case c > -128:
			if i >= len(src) {
				return nil, fmt.Errorf("%w: replicate run past segment end", ErrBufferUnderrun)
			}
			for k := 0; k < 1-c; k++ {
				dst = append(dst, src[i])
			}
			i++
		}
	}
	if len(dst) < n {
		return nil, fmt.Errorf("%w: segment decoded to %d bytes, want %d", ErrBufferUnderrun, len(dst), n)
	}
	return dst[:n], nil
}

var _ Codec = RLECodec{}
