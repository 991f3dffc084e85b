// Package visualization turns decoded frames into displayable 8-bit images.
package visualization

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"math"
	"os"
	"path/filepath"

	"slicesync/internal/models"
	"slicesync/pkg/viewport"
)

// Window applies a linear VOI LUT: samples at or below voi.Lower map to 0,
// at or above voi.Upper to 255. Multi-sample pixels are averaged first.
func Window(frame *models.DecodedFrame, voi models.VOIRange) *image.Gray {
	voi = voi.Normalize()
	img := image.NewGray(image.Rect(0, 0, frame.Columns, frame.Rows))
	spp := max(frame.SamplesPerPixel, 1)
	width := voi.Upper - voi.Lower

	for y := 0; y < frame.Rows; y++ {
		for x := 0; x < frame.Columns; x++ {
			base := (y*frame.Columns + x) * spp
			if base+spp > len(frame.Samples) {
				return img
			}
			var v float64
			for s := 0; s < spp; s++ {
				v += frame.Samples[base+s]
			}
			v /= float64(spp)

			level := (v - voi.Lower) / width * 255
			level = math.Max(0, math.Min(255, math.Round(level)))
			img.SetGray(x, y, color.Gray{Y: uint8(level)})
		}
	}
	return img
}

// SaveFrame saves a windowed frame as a JPEG image
func SaveFrame(img image.Image, filename string) error {
	if err := os.MkdirAll(filepath.Dir(filename), 0755); err != nil {
		return err
	}
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	return jpeg.Encode(file, img, &jpeg.Options{Quality: 90})
}

// FrameDecoder decodes one frame. *decoder.Decoder implements it.
type FrameDecoder interface {
	Decode(ctx context.Context, ref models.FrameRef) (*models.DecodedFrame, error)
}

// Renderer produces the image a viewport currently shows.
type Renderer struct {
	Registry *viewport.Registry
	Decoder  FrameDecoder
}

// Render decodes a viewport's current frame and windows it with the
// viewport's VOI, or the frame's default VOI when the viewport has none. The
// decoded frame is returned alongside the image.
func (r Renderer) Render(ctx context.Context, id viewport.ID) (*image.Gray, *models.DecodedFrame, error) {
	s, ok := r.Registry.Get(id)
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", viewport.ErrNotFound, id)
	}
	ref, ok := s.CurrentFrame()
	if !ok {
		return nil, nil, fmt.Errorf("render %s: no frames", id)
	}
	frame, err := r.Decoder.Decode(ctx, ref)
	if err != nil {
		return nil, nil, err
	}
	voi := s.VOI
	if voi == (models.VOIRange{}) {
		voi = frame.VOI
	}
	return Window(frame, voi), frame, nil
}
