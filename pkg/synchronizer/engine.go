// Package synchronizer keeps groups of viewports in step.
//
// A group binds a propagation kind to an ordered set of viewports. When a
// member reports a qualifying change, the group's rule runs once for every
// other member; it never runs source to source. Targets are mutated through
// the registry's Apply* methods, which do not raise events, so one change
// never cascades into another round of propagation.
//
// The engine is not safe for concurrent use. It runs on the goroutine that
// serializes user and display events, and every target mutation caused by
// one event completes before Notify returns.
package synchronizer

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"slicesync/internal/models"
	"slicesync/pkg/cache"
	"slicesync/pkg/geometry"
	"slicesync/pkg/viewport"
)

var (
	// ErrKindMismatch: the group exists with another propagation kind
	ErrKindMismatch = errors.New("sync group kind mismatch")

	// ErrAlreadyGrouped: the viewport is in another group of the same kind
	ErrAlreadyGrouped = errors.New("viewport already in a group of this kind")
)

// Group is a snapshot of one sync group.
type Group struct {
	ID      string
	Kind    models.SyncKind
	Members []viewport.ID
}

type group struct {
	id      string
	kind    models.SyncKind
	members []viewport.ID
}

func (g *group) has(id viewport.ID) bool {
	return slices.Contains(g.members, id)
}

// Engine owns the sync groups of one rendering engine's viewports.
type Engine struct {
	id       string
	registry *viewport.Registry
	matcher  Matcher
	groups   map[string]*group
	order    []string
	logger   *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithCoplanarityThreshold overrides the minimum |cos| between plane normals
// for slice matching.
func WithCoplanarityThreshold(t float64) Option {
	return func(e *Engine) { e.matcher.Threshold = t }
}

// WithID names the engine in logs.
func WithID(id string) Option {
	return func(e *Engine) { e.id = id }
}

// New creates an engine over registry and installs itself as the registry's
// notifier. geom supplies frame geometry for slice matching.
func New(registry *viewport.Registry, geom GeometrySource, opts ...Option) *Engine {
	e := &Engine{
		id:       "default",
		registry: registry,
		matcher:  Matcher{Geometry: geom, Threshold: geometry.DefaultCoplanarityThreshold},
		groups:   make(map[string]*group),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	registry.SetNotifier(e)
	return e
}

var (
	defaultMu     sync.Mutex
	defaultEngine *Engine
)

// Default returns the process-wide engine, creating it on first use over a
// fresh registry and the process-wide metadata cache.
func Default() *Engine {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultEngine == nil {
		defaultEngine = New(viewport.NewRegistry(), cache.Default())
	}
	return defaultEngine
}

// SetDefault replaces the process-wide engine.
func SetDefault(e *Engine) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	defaultEngine = e
}

// Reset drops the process-wide engine and all of its groups.
func Reset() { SetDefault(nil) }

// Registry returns the registry the engine drives.
func (e *Engine) Registry() *viewport.Registry { return e.registry }

// Add puts a viewport in a group, creating the group on first use. Adding a
// member twice is a no-op.
func (e *Engine) Add(groupID string, kind models.SyncKind, id viewport.ID) error {
	if _, ok := e.registry.Get(id); !ok {
		return fmt.Errorf("%w: %s", viewport.ErrNotFound, id)
	}
	g, ok := e.groups[groupID]
	if ok && g.kind != kind {
		return fmt.Errorf("%w: group %s is %s, not %s", ErrKindMismatch, groupID, g.kind, kind)
	}
	if ok && g.has(id) {
		return nil
	}
	for _, gid := range e.order {
		other := e.groups[gid]
		if gid != groupID && other.kind == kind && other.has(id) {
			return fmt.Errorf("%w: %s is in %s", ErrAlreadyGrouped, id, gid)
		}
	}
	if !ok {
		g = &group{id: groupID, kind: kind}
		e.groups[groupID] = g
		e.order = append(e.order, groupID)
	}
	g.members = append(g.members, id)
	return nil
}

// Remove takes a viewport out of a group. Removing an absent member, or from
// an absent group, is a no-op.
func (e *Engine) Remove(groupID string, id viewport.ID) {
	g, ok := e.groups[groupID]
	if !ok {
		return
	}
	if i := slices.Index(g.members, id); i >= 0 {
		g.members = slices.Delete(g.members, i, i+1)
	}
}

// RemoveViewport tears a viewport down: it leaves every group and the
// registry, and receives no further events. Removing the viewport through
// the registry has the same effect while the engine is its notifier.
func (e *Engine) RemoveViewport(id viewport.ID) {
	e.forget(id)
	e.registry.Remove(id)
}

func (e *Engine) forget(id viewport.ID) {
	for _, gid := range e.order {
		e.Remove(gid, id)
	}
}

// Group returns a snapshot of a group.
func (e *Engine) Group(groupID string) (Group, bool) {
	g, ok := e.groups[groupID]
	if !ok {
		return Group{}, false
	}
	return Group{ID: g.id, Kind: g.kind, Members: slices.Clone(g.members)}, true
}

// Groups returns group ids in creation order.
func (e *Engine) Groups() []string {
	return slices.Clone(e.order)
}

// Outcome records one rule run against one target.
type Outcome struct {
	Group  string
	Kind   models.SyncKind
	Target viewport.ID

	// Applied is false when the rule was skipped: sync disabled on either
	// side, a missing viewport, or no slice match
	Applied bool

	// Changed is true when the target's state actually moved
	Changed bool
}

// Notify implements viewport.Notifier.
func (e *Engine) Notify(ev viewport.Event) {
	e.Propagate(ev)
}

// Propagate runs every group reacting to the event kind and containing the
// source against the other members, in group then membership order. A
// Removed event drops the source from every group instead.
func (e *Engine) Propagate(ev viewport.Event) []Outcome {
	if ev.Kind == viewport.Removed {
		e.forget(ev.Source)
		return nil
	}
	var out []Outcome
	for _, gid := range e.order {
		g := e.groups[gid]
		if !reacts(g.kind, ev.Kind) || !g.has(ev.Source) {
			continue
		}
		for _, target := range g.members {
			if target == ev.Source {
				continue
			}
			applied, changed := e.apply(g, ev.Source, target)
			out = append(out, Outcome{Group: g.id, Kind: g.kind, Target: target, Applied: applied, Changed: changed})
		}
	}
	return out
}

// reacts maps event kinds to the group kinds they trigger.
func reacts(kind models.SyncKind, ev viewport.EventKind) bool {
	switch kind {
	case models.SyncSlicePosition:
		return ev == viewport.ImageChanged
	case models.SyncZoom, models.SyncPan:
		return ev == viewport.CameraModified
	case models.SyncVOI:
		return ev == viewport.VOIModified
	default:
		return false
	}
}

func (e *Engine) apply(g *group, sourceID, targetID viewport.ID) (applied, changed bool) {
	source, ok := e.registry.Get(sourceID)
	if !ok {
		return false, false
	}
	target, ok := e.registry.Get(targetID)
	if !ok {
		return false, false
	}
	if !source.SyncEnabled || !target.SyncEnabled {
		return false, false
	}

	switch g.kind {
	case models.SyncSlicePosition:
		index, ok := e.matcher.Match(source, target)
		if !ok {
			e.logger.Debug("slice match skipped", "engine", e.id, "group", g.id, "source", sourceID, "target", targetID)
			return false, false
		}
		changed = e.registry.ApplyIndex(targetID, index)
	case models.SyncZoom:
		changed = e.registry.ApplyParallelScale(targetID, source.Camera.ParallelScale)
	case models.SyncPan:
		changed = e.registry.ApplyPan(targetID, source.Camera.FocalPoint, source.Camera.ViewPlaneNormal)
	case models.SyncVOI:
		changed = e.registry.ApplyVOI(targetID, source.VOI)
	}
	if changed {
		e.logger.Debug("sync applied", "engine", e.id, "group", g.id, "kind", g.kind.String(), "source", sourceID, "target", targetID)
	}
	return true, changed
}

// Flush renders every viewport marked dirty since the last flush, once each.
func (e *Engine) Flush(render func(viewport.ID)) int {
	return e.registry.Scheduler().Flush(render)
}
