package decoder

import (
	"bytes"
	"fmt"
	"image/color"
	"image/jpeg"
)

// JPEGBaselineCodec decodes 8-bit baseline JPEG frames with image/jpeg.
// Grayscale frames yield one sample per pixel, color frames three (RGB).
type JPEGBaselineCodec struct{}

func (JPEGBaselineCodec) Name() string { return "jpeg-baseline" }

func (JPEGBaselineCodec) UIDs() []string { return []string{JPEGBaseline} }

func (JPEGBaselineCodec) Decode(req Request) ([]int32, error) {
	frame, err := frameBytes(req)
	if err != nil {
		return nil, err
	}
	img, err := jpeg.Decode(bytes.NewReader(frame))
	if err != nil {
		return nil, fmt.Errorf("decode jpeg: %w", err)
	}

	desc := req.Descriptor
	b := img.Bounds()
	if b.Dx() != desc.Columns || b.Dy() != desc.Rows {
		return nil, fmt.Errorf("%w: jpeg is %dx%d, descriptor says %dx%d",
			ErrUnsupportedLayout, b.Dx(), b.Dy(), desc.Columns, desc.Rows)
	}

	spp := max(desc.SamplesPerPixel, 1)
	out := make([]int32, 0, b.Dx()*b.Dy()*spp)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			switch spp {
			case 1:
				g := color.GrayModel.Convert(img.At(x, y)).(color.Gray)
				out = append(out, int32(g.Y))
			case 3:
				c := color.RGBAModel.Convert(img.At(x, y)).(color.RGBA)
				out = append(out, int32(c.R), int32(c.G), int32(c.B))
			default:
				return nil, fmt.Errorf("%w: jpeg with %d samples per pixel", ErrUnsupportedLayout, spp)
			}
		}
	}
	return out, nil
}

var _ Codec = JPEGBaselineCodec{}
