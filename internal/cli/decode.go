package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"slicesync/internal/models"
	"slicesync/pkg/cache"
	"slicesync/pkg/catalog"
	"slicesync/pkg/decoder"
	"slicesync/pkg/gate"
	"slicesync/pkg/viewport"
	"slicesync/pkg/visualization"
)

type decodeOutput struct {
	Path           string  `json:"path"`
	Frame          int     `json:"frame"`
	TransferSyntax string  `json:"transferSyntax"`
	Rows           int     `json:"rows"`
	Columns        int     `json:"columns"`
	Min            float64 `json:"min"`
	Max            float64 `json:"max"`
	VOILower       float64 `json:"voiLower"`
	VOIUpper       float64 `json:"voiUpper"`
	Image          string  `json:"image,omitempty"`
}

// NewDecodeCommand creates the decode command.
func NewDecodeCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		dbPath  string
		frame   int
		outPath string
		center  float64
		width   float64
	)
	cmd := &cobra.Command{
		Use:   "decode <file>",
		Short: "Decode one frame and report its value range",
		Long: `Decode a frame to physical units and print its size, value range and VOI
window. With --out the frame is windowed to 8 bits and written as JPEG,
using --center and --width when given and the frame's default VOI otherwise.

Metadata comes from the catalog when --db is given, otherwise from the file's
own header.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			ref := models.FrameRef{Path: args[0], Frame: frame}

			var store cache.Store
			if dbPath != "" {
				cat, err := openCatalog(rootOpts, dbPath)
				if err != nil {
					return err
				}
				defer cat.Close()
				store = cat
			}
			mc := cache.New(store, cache.WithLogger(rootOpts.Logger))
			if err := loadMetadata(ctx, mc, ref); err != nil {
				return err
			}

			reg := prometheus.NewRegistry()
			dec := decoder.New(mc, decoder.OSFiles{},
				decoder.WithGate(gate.New(rootOpts.Config.Gate.Ceiling, gate.WithRegisterer(reg))),
				decoder.WithLogger(rootOpts.Logger),
				decoder.WithRegisterer(reg),
			)
			views := viewport.NewRegistry()
			spec := viewport.Spec{Frames: []models.FrameRef{ref}}
			if cmd.Flags().Changed("width") {
				spec.VOI = models.VOIFromWindow(center, width)
			}
			id, err := views.Create(spec)
			if err != nil {
				return WrapExitError(ExitCommandError, "decode", err)
			}
			img, decoded, err := visualization.Renderer{Registry: views, Decoder: dec}.Render(ctx, id)
			if err != nil {
				return WrapExitError(ExitCommandError, "decode", err)
			}
			desc, _ := mc.Lookup(ref)
			voi := decoded.VOI
			if spec.VOI != (models.VOIRange{}) {
				voi = spec.VOI
			}

			out := decodeOutput{
				Path:           ref.Path,
				Frame:          ref.Frame,
				TransferSyntax: decoder.SyntaxName(desc.TransferSyntaxUID),
				Rows:           decoded.Rows,
				Columns:        decoded.Columns,
				Min:            decoded.Min,
				Max:            decoded.Max,
				VOILower:       voi.Lower,
				VOIUpper:       voi.Upper,
			}
			if outPath != "" {
				if err := visualization.SaveFrame(img, outPath); err != nil {
					return WrapExitError(ExitCommandError, "write image", err)
				}
				out.Image = outPath
			}
			return write(cmd.OutOrStdout(), rootOpts.Format, out, func(w io.Writer) error {
				fmt.Fprintf(w, "%s#%d %dx%d %s\n", out.Path, out.Frame, out.Columns, out.Rows, out.TransferSyntax)
				fmt.Fprintf(w, "range [%g, %g] voi [%g, %g]\n", out.Min, out.Max, out.VOILower, out.VOIUpper)
				if out.Image != "" {
					fmt.Fprintf(w, "wrote %s\n", out.Image)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&dbPath, "db", "", "catalog database to read metadata from")
	cmd.Flags().IntVarP(&frame, "frame", "f", 0, "frame index inside a multi-frame file")
	cmd.Flags().StringVarP(&outPath, "out", "o", "", "write the windowed frame as JPEG")
	cmd.Flags().Float64Var(&center, "center", 0, "window center for --out")
	cmd.Flags().Float64Var(&width, "width", 0, "window width for --out")
	return cmd
}

// loadMetadata fills the cache for ref, from the store when there is one and
// from the file header otherwise.
func loadMetadata(ctx context.Context, mc *cache.Cache, ref models.FrameRef) error {
	if _, err := mc.Prefetch(ctx, []models.FrameRef{ref}); err == nil {
		if _, ok := mc.Lookup(ref); ok {
			return nil
		}
	}
	descs, err := catalog.ParseHeader(ref.Path)
	if err != nil {
		return WrapExitError(ExitCommandError, "read header", err)
	}
	for _, d := range descs {
		mc.Put(d)
	}
	return nil
}
