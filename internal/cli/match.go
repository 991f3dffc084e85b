package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"slicesync/internal/models"
	"slicesync/pkg/cache"
	"slicesync/pkg/catalog"
	"slicesync/pkg/geometry"
	"slicesync/pkg/synchronizer"
	"slicesync/pkg/viewport"
)

type matchOutput struct {
	SourcePath  string  `json:"sourcePath"`
	SourceFrame int     `json:"sourceFrame"`
	Series      string  `json:"targetSeries"`
	Matched     bool    `json:"matched"`
	Index       int     `json:"index"`
	TargetPath  string  `json:"targetPath,omitempty"`
	TargetFrame int     `json:"targetFrame"`
	Distance    float64 `json:"distance"`
}

// NewMatchCommand creates the match command.
func NewMatchCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		dbPath string
		frame  int
	)
	cmd := &cobra.Command{
		Use:   "match <source-file> <target-series-uid>",
		Short: "Find the target frame at the same anatomical position",
		Long: `Put the source frame and the target series in a slice-position sync group
and report which target frame the group moves to. Both series must be in the
catalog. Series whose planes are not parallel within the coplanarity
threshold do not match.`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cat, err := openCatalog(rootOpts, dbPath)
			if err != nil {
				return err
			}
			defer cat.Close()

			source := models.FrameRef{Path: args[0], Frame: frame}
			sourceSeries, ok, err := cat.SeriesForPath(ctx, source.Path)
			if err != nil {
				return WrapExitError(ExitCommandError, "resolve source", err)
			}
			if !ok {
				return NewExitError(ExitCommandError, fmt.Sprintf("%s is not in the catalog", source.Path))
			}
			sourceRefs, err := seriesRefs(ctx, cat, sourceSeries)
			if err != nil {
				return err
			}
			targetRefs, err := seriesRefs(ctx, cat, args[1])
			if err != nil {
				return err
			}
			if len(targetRefs) == 0 {
				return NewExitError(ExitCommandError, fmt.Sprintf("series %s is not in the catalog", args[1]))
			}

			mc := cache.New(cat, cache.WithLogger(rootOpts.Logger))
			if _, err := mc.Prefetch(ctx, append(sourceRefs, targetRefs...)); err != nil {
				return WrapExitError(ExitCommandError, "prefetch", err)
			}
			sourceIndex := indexOf(sourceRefs, source)
			if sourceIndex < 0 {
				return NewExitError(ExitCommandError, fmt.Sprintf("%s has no frame %d", source.Path, source.Frame))
			}

			reg := viewport.NewRegistry()
			engine := synchronizer.New(reg, mc,
				synchronizer.WithLogger(rootOpts.Logger),
				synchronizer.WithCoplanarityThreshold(rootOpts.Config.Sync.CoplanarityThreshold),
			)
			src, err := reg.Create(viewport.Spec{ID: "source", Frames: sourceRefs, Index: sourceIndex, SyncEnabled: true})
			if err != nil {
				return err
			}
			tgt, err := reg.Create(viewport.Spec{ID: "target", Frames: targetRefs, SyncEnabled: true})
			if err != nil {
				return err
			}
			for _, id := range []viewport.ID{src, tgt} {
				if err := engine.Add("slice", models.SyncSlicePosition, id); err != nil {
					return err
				}
			}

			out := matchOutput{SourcePath: source.Path, SourceFrame: source.Frame, Series: args[1]}
			// the host's image-rendered event for the source drives the group
			for _, o := range engine.Propagate(viewport.Event{Kind: viewport.ImageChanged, Source: src}) {
				if o.Target == tgt {
					out.Matched = o.Applied
				}
			}
			tgtState, _ := reg.Get(tgt)
			if out.Matched {
				ref := targetRefs[tgtState.Index]
				out.Index, out.TargetPath, out.TargetFrame = tgtState.Index, ref.Path, ref.Frame
				out.Distance = depthDistance(mc, sourceRefs[sourceIndex], ref)
			}

			err = write(cmd.OutOrStdout(), rootOpts.Format, out, func(w io.Writer) error {
				if !out.Matched {
					fmt.Fprintf(w, "no match in %s\n", out.Series)
					return nil
				}
				fmt.Fprintf(w, "%s#%d -> [%d] %s#%d (%.3f mm)\n", out.SourcePath, out.SourceFrame, out.Index, out.TargetPath, out.TargetFrame, out.Distance)
				return nil
			})
			if err == nil && !out.Matched {
				return NewExitError(ExitFailure, "no match")
			}
			return err
		},
	}
	cmd.Flags().StringVar(&dbPath, "db", "", "catalog database (overrides catalog.path)")
	cmd.Flags().IntVarP(&frame, "frame", "f", 0, "frame index inside a multi-frame source file")
	return cmd
}

func seriesRefs(ctx context.Context, cat *catalog.Catalog, uid string) ([]models.FrameRef, error) {
	descs, err := cat.SeriesFrames(ctx, uid)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "load series "+uid, err)
	}
	refs := make([]models.FrameRef, len(descs))
	for i, d := range descs {
		refs[i] = d.Ref
	}
	return refs, nil
}

func indexOf(refs []models.FrameRef, ref models.FrameRef) int {
	want := cache.KeyOf(ref)
	for i, r := range refs {
		if cache.KeyOf(r) == want {
			return i
		}
	}
	return -1
}

// depthDistance is the gap between two frames along the first one's normal.
func depthDistance(g synchronizer.GeometrySource, a, b models.FrameRef) float64 {
	da, _ := g.Lookup(a)
	db, _ := g.Lookup(b)
	n, ok := geometry.FrameNormal(da)
	if !ok {
		return 0
	}
	d := geometry.Depth(db.Position, n) - geometry.Depth(da.Position, n)
	if d < 0 {
		d = -d
	}
	return d
}
