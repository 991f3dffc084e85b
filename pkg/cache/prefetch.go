package cache

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/spatial/r3"

	"slicesync/internal/models"
	"slicesync/pkg/geometry"
)

// ErrNoStore is returned by Prefetch when the cache has no backing store.
var ErrNoStore = errors.New("cache: no backing store")

// Store is the persistent-store query capability the cache is filled from.
type Store interface {
	// SeriesForPath resolves the series a file belongs to. ok is false when
	// the store knows nothing about the path.
	SeriesForPath(ctx context.Context, path string) (seriesUID string, ok bool, err error)

	// SeriesFrames returns one descriptor per frame of a series.
	SeriesFrames(ctx context.Context, seriesUID string) ([]models.FrameDescriptor, error)
}

// Report summarizes a prefetch. Missing refs are soft misses: they decode
// without geometry support.
type Report struct {
	Requested int
	Resolved  int
	Series    int
	Missing   []models.FrameRef
}

// Prefetch resolves every ref in bulk, one store query per series. Refs the
// store cannot resolve are listed in Report.Missing rather than failing the
// batch. A store failure for one series does not stop the others; all such
// failures are joined into the returned error.
func (c *Cache) Prefetch(ctx context.Context, refs []models.FrameRef) (Report, error) {
	report := Report{Requested: len(refs)}
	if c.store == nil {
		report.Missing = append(report.Missing, refs...)
		return report, ErrNoStore
	}

	var errs []error
	pending := make(map[string]struct{})
	var order []string
	for _, ref := range refs {
		if _, ok := c.Lookup(ref); ok {
			continue
		}
		uid := ref.SeriesUID
		if uid == "" {
			var ok bool
			var err error
			uid, ok, err = c.store.SeriesForPath(ctx, ref.Path)
			if err != nil {
				errs = append(errs, fmt.Errorf("resolve series for %s: %w", ref.Path, err))
				continue
			}
			if !ok {
				continue
			}
		}
		if _, seen := pending[uid]; !seen {
			pending[uid] = struct{}{}
			order = append(order, uid)
		}
	}

	for _, uid := range order {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		frames, err := c.store.SeriesFrames(ctx, uid)
		if err != nil {
			errs = append(errs, fmt.Errorf("load series %s: %w", uid, err))
			continue
		}
		c.putSeries(uid, frames)
		report.Series++
	}

	for _, ref := range refs {
		if _, ok := c.Lookup(ref); ok {
			report.Resolved++
		} else {
			report.Missing = append(report.Missing, ref)
		}
	}
	if len(report.Missing) > 0 {
		c.logger.Debug("prefetch left frames unresolved",
			"requested", report.Requested,
			"missing", len(report.Missing))
	}
	return report, errors.Join(errs...)
}

func (c *Cache) putSeries(uid string, frames []models.FrameDescriptor) {
	thickness := SliceThickness(frames)

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, d := range frames {
		d.Ref.SeriesUID = uid
		d.SliceThickness = thickness
		c.putLocked(d)
	}
	c.logger.Debug("series cached", "series", uid, "frames", len(frames), "thickness", thickness)
}

// depthTolerance treats depths closer than this as the same plane.
const depthTolerance = 1e-4

// SliceThickness is the smallest nonzero gap between the distinct plane
// depths of a series, measured along the series' own normal. It is 1.0 when
// fewer than two distinct depths exist.
func SliceThickness(frames []models.FrameDescriptor) float64 {
	var normal r3.Vec
	found := false
	for _, d := range frames {
		if n, ok := geometry.FrameNormal(d); ok {
			normal, found = n, true
			break
		}
	}
	if !found {
		return 1.0
	}

	var depths []float64
	for _, d := range frames {
		if d.HasPosition {
			depths = append(depths, geometry.Depth(d.Position, normal))
		}
	}
	sort.Float64s(depths)

	best := math.Inf(1)
	for i := 1; i < len(depths); i++ {
		gap := depths[i] - depths[i-1]
		if gap > depthTolerance && gap < best {
			best = gap
		}
	}
	if math.IsInf(best, 1) {
		return 1.0
	}
	return best
}
