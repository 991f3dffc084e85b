package decoder

import (
	"fmt"
	"sync"

	"slicesync/internal/models"
)

// Request is one compressed frame handed to a codec.
type Request struct {
	// Data is the whole file buffer
	Data []byte

	TransferSyntax string
	Frame          int

	// Descriptor carries the pixel layout the codec must produce
	Descriptor models.FrameDescriptor
}

// Codec decodes compressed frames for one or more transfer syntaxes. The
// result holds rows*columns*samplesPerPixel stored integers, interleaved.
type Codec interface {
	Decode(req Request) ([]int32, error)

	// UIDs lists the transfer syntaxes the codec handles
	UIDs() []string

	Name() string
}

// Registry maps transfer syntax UIDs to codecs.
type Registry struct {
	mu     sync.RWMutex
	codecs map[string]Codec
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{codecs: make(map[string]Codec)}
}

// DefaultRegistry returns a registry holding the builtin codecs.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	// builtin codecs only claim syntaxes from the fixed table
	_ = r.Register(RLECodec{})
	_ = r.Register(JPEGBaselineCodec{})
	return r
}

// Register adds c for every UID it claims. UIDs outside the recognized
// compressed table are rejected.
func (r *Registry) Register(c Codec) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, uid := range c.UIDs() {
		if !IsRecognizedCompressed(uid) {
			return fmt.Errorf("%w: codec %s claims %q", ErrUnsupportedCompression, c.Name(), uid)
		}
	}
	for _, uid := range c.UIDs() {
		r.codecs[uid] = c
	}
	return nil
}

// Lookup returns the codec registered for uid.
func (r *Registry) Lookup(uid string) (Codec, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.codecs[uid]
	return c, ok
}

func (d *Decoder) compressedSamples(desc models.FrameDescriptor, data []byte) ([]int64, error) {
	syntax := desc.TransferSyntaxUID
	codec, ok := d.codecs.Lookup(syntax)
	if !ok {
		return nil, fmt.Errorf("%w: no codec for %s (%s)", ErrCodecUnavailable, SyntaxName(syntax), syntax)
	}

	values, err := codec.Decode(Request{
		Data:           data,
		TransferSyntax: syntax,
		Frame:          desc.Ref.Frame,
		Descriptor:     desc,
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", codec.Name(), err)
	}
	if want := desc.SampleCount(); len(values) != want {
		return nil, fmt.Errorf("%w: %s produced %d samples, want %d", ErrUnsupportedLayout, codec.Name(), len(values), want)
	}

	out := make([]int64, len(values))
	for i, v := range values {
		out[i] = int64(v)
	}
	return out, nil
}

// frameBytes extracts the compressed bytes of the requested frame.
func frameBytes(req Request) ([]byte, error) {
	desc := req.Descriptor
	offset := desc.PixelDataOffset
	if offset <= 0 {
		off, _, err := PixelData(req.Data, req.TransferSyntax)
		if err != nil {
			return nil, err
		}
		offset = off
	}
	return EncapsulatedFrame(req.Data, offset, req.Frame, desc.NumberOfFrames)
}
