package cli

import (
	"fmt"
	"io"
	"maps"
	"slices"

	"github.com/spf13/cobra"

	"slicesync/pkg/catalog"
)

type ingestOutput struct {
	Dir     string         `json:"dir"`
	Files   int            `json:"files"`
	Frames  int            `json:"frames"`
	Skipped int            `json:"skipped"`
	Series  map[string]int `json:"series"`
}

// NewIngestCommand creates the ingest command.
func NewIngestCommand(rootOpts *RootOptions) *cobra.Command {
	var dbPath string
	cmd := &cobra.Command{
		Use:   "ingest <dir>",
		Short: "Index the DICOM files under a directory",
		Long: `Walk a directory, read every DICOM header and record one catalog row per
frame. Files that are not DICOM are skipped. Re-ingesting a file replaces its rows.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cat, err := openCatalog(rootOpts, dbPath)
			if err != nil {
				return err
			}
			defer cat.Close()

			report, err := cat.Ingest(cmd.Context(), args[0])
			if err != nil {
				return WrapExitError(ExitCommandError, "ingest", err)
			}
			out := ingestOutput{Dir: args[0], Files: report.Files, Frames: report.Frames, Skipped: report.Skipped, Series: report.Series}
			return write(cmd.OutOrStdout(), rootOpts.Format, out, func(w io.Writer) error {
				fmt.Fprintf(w, "indexed %d frames from %d files (%d skipped)\n", out.Frames, out.Files, out.Skipped)
				for _, uid := range slices.Sorted(maps.Keys(out.Series)) {
					fmt.Fprintf(w, "  %s: %d\n", uid, out.Series[uid])
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&dbPath, "db", "", "catalog database (overrides catalog.path)")
	return cmd
}

func openCatalog(opts *RootOptions, override string) (*catalog.Catalog, error) {
	path := opts.Config.Catalog.Path
	if override != "" {
		path = override
	}
	cat, err := catalog.Open(path, catalog.WithLogger(opts.Logger))
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "open catalog", err)
	}
	return cat, nil
}
