package decoder

import (
	"errors"
	"fmt"

	"slicesync/internal/models"
)

// Failure codes. Every one of them is scoped to a single frame.
var (
	// ErrMetadataMissing means no descriptor is cached for the frame; the
	// caller must prefetch first.
	ErrMetadataMissing = errors.New("metadata missing")

	// ErrBufferUnderrun means the frame's bytes extend past the buffer.
	ErrBufferUnderrun = errors.New("buffer underrun")

	// ErrUnsupportedCompression means the transfer syntax is outside the
	// recognized table.
	ErrUnsupportedCompression = errors.New("unsupported compression")

	// ErrCodecUnavailable means the transfer syntax is recognized but no
	// codec is registered for it.
	ErrCodecUnavailable = errors.New("codec unavailable")

	// ErrUnsupportedLayout means the pixel layout cannot be decoded, e.g.
	// 1-bit samples or a fragment table that cannot be split into frames.
	ErrUnsupportedLayout = errors.New("unsupported pixel layout")

	// ErrFileNotFound is the absence signal of a FileSource.
	ErrFileNotFound = errors.New("file not found")
)

var codes = []error{
	ErrMetadataMissing,
	ErrBufferUnderrun,
	ErrUnsupportedCompression,
	ErrCodecUnavailable,
	ErrUnsupportedLayout,
	ErrFileNotFound,
}

// DecodeError reports why one frame could not be decoded.
type DecodeError struct {
	Ref models.FrameRef
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s: %v", e.Ref, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Code returns the failure code of err, or nil when err carries none of the
// decoder's codes.
func Code(err error) error {
	for _, c := range codes {
		if errors.Is(err, c) {
			return c
		}
	}
	return nil
}

// outcome is the metrics label for an error.
func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	switch Code(err) {
	case ErrMetadataMissing:
		return "metadata_missing"
	case ErrBufferUnderrun:
		return "buffer_underrun"
	case ErrUnsupportedCompression:
		return "unsupported_compression"
	case ErrCodecUnavailable:
		return "codec_unavailable"
	case ErrUnsupportedLayout:
		return "unsupported_layout"
	case ErrFileNotFound:
		return "file_not_found"
	default:
		return "error"
	}
}
