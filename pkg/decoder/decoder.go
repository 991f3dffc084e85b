// Package decoder turns raw per-frame bytes plus cached metadata into
// physical-unit sample arrays and a default display range.
//
// Native frames are read straight from the buffer; compressed frames are
// handed to a codec chosen by transfer syntax. Every failure is scoped to a
// single frame: a batch decode reports one result per frame and never stops
// on the first bad one.
package decoder

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"slicesync/internal/models"
	"slicesync/pkg/cache"
	"slicesync/pkg/gate"
)

// FileSource resolves a path to the bytes of the file. A missing file is
// reported with ErrFileNotFound.
type FileSource interface {
	ReadFile(ctx context.Context, path string) ([]byte, error)
}

// OSFiles reads files from the local filesystem.
type OSFiles struct{}

func (OSFiles) ReadFile(_ context.Context, path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrFileNotFound, path)
	}
	return data, err
}

// Decoder decodes frames whose metadata lives in a cache.
type Decoder struct {
	cache  *cache.Cache
	files  FileSource
	gate   *gate.Gate
	codecs *Registry
	logger *slog.Logger

	frames *prometheus.CounterVec
}

// Option configures a Decoder.
type Option func(*Decoder)

// WithGate sets the gate file reads go through.
func WithGate(g *gate.Gate) Option {
	return func(d *Decoder) { d.gate = g }
}

// WithCodecs replaces the builtin codec registry.
func WithCodecs(r *Registry) Option {
	return func(d *Decoder) { d.codecs = r }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Decoder) { d.logger = l }
}

// WithRegisterer registers the decode outcome counter with reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(d *Decoder) { reg.MustRegister(d.frames) }
}

// New creates a decoder reading metadata from c and bytes from files.
func New(c *cache.Cache, files FileSource, opts ...Option) *Decoder {
	d := &Decoder{
		cache:  c,
		files:  files,
		gate:   gate.New(gate.DefaultCeiling),
		codecs: DefaultRegistry(),
		logger: slog.Default(),
		frames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "slicesync",
			Subsystem: "decoder",
			Name:      "frames_total",
			Help:      "Frames decoded, by outcome.",
		}, []string{"outcome"}),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Decode decodes one frame. The frame's descriptor must already be cached.
func (d *Decoder) Decode(ctx context.Context, ref models.FrameRef) (*models.DecodedFrame, error) {
	desc, ok := d.cache.Lookup(ref)
	if !ok {
		return nil, d.fail(ref, fmt.Errorf("%w: prefetch %s first", ErrMetadataMissing, ref.Path))
	}
	data, err := d.read(ctx, ref.Path)
	if err != nil {
		return nil, d.fail(ref, err)
	}
	return d.decodeCached(ref, desc, data)
}

// Result is the outcome of decoding one frame of a batch.
type Result struct {
	Ref   models.FrameRef
	Frame *models.DecodedFrame
	Err   error
}

// DecodeBatch decodes every ref and returns results in input order. Each
// file is read once through the gate, however many of its frames are asked
// for; files are read concurrently up to the gate ceiling.
func (d *Decoder) DecodeBatch(ctx context.Context, refs []models.FrameRef) []Result {
	results := make([]Result, len(refs))
	byFile := make(map[string][]int)
	var files []string
	for i, ref := range refs {
		results[i].Ref = ref
		k := cache.NormalizePath(ref.Path)
		if _, ok := byFile[k]; !ok {
			files = append(files, k)
		}
		byFile[k] = append(byFile[k], i)
	}

	var wg sync.WaitGroup
	for _, k := range files {
		idx := byFile[k]
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.decodeFile(ctx, refs, idx, results)
		}()
	}
	wg.Wait()

	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
		}
	}
	d.logger.Debug("batch decoded", "frames", len(refs), "files", len(files), "failed", failed)
	return results
}

func (d *Decoder) decodeFile(ctx context.Context, refs []models.FrameRef, idx []int, results []Result) {
	var (
		descs  = make(map[int]models.FrameDescriptor, len(idx))
		wanted []int
	)
	for _, i := range idx {
		desc, ok := d.cache.Lookup(refs[i])
		if !ok {
			results[i].Err = d.fail(refs[i], fmt.Errorf("%w: prefetch %s first", ErrMetadataMissing, refs[i].Path))
			continue
		}
		descs[i] = desc
		wanted = append(wanted, i)
	}
	if len(wanted) == 0 {
		return
	}

	data, err := d.read(ctx, refs[wanted[0]].Path)
	for _, i := range wanted {
		if err != nil {
			results[i].Err = d.fail(refs[i], err)
			continue
		}
		results[i].Frame, results[i].Err = d.decodeCached(refs[i], descs[i], data)
	}
}

func (d *Decoder) read(ctx context.Context, path string) ([]byte, error) {
	var data []byte
	err := d.gate.Do(ctx, func() error {
		var err error
		data, err = d.files.ReadFile(ctx, path)
		return err
	})
	return data, err
}

func (d *Decoder) decodeCached(ref models.FrameRef, desc models.FrameDescriptor, data []byte) (*models.DecodedFrame, error) {
	// the cached descriptor may have been stored under another spelling
	desc.Ref.Frame = ref.Frame
	frame, err := d.DecodeFrame(desc, data)
	if err != nil {
		return nil, d.fail(ref, err)
	}
	d.frames.WithLabelValues(outcome(nil)).Inc()
	return frame, nil
}

func (d *Decoder) fail(ref models.FrameRef, err error) error {
	d.frames.WithLabelValues(outcome(err)).Inc()
	d.logger.Warn("frame decode failed", "frame", ref.String(), "error", err)
	return &DecodeError{Ref: ref, Err: err}
}
