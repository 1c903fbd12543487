package cli

import (
	"fmt"
	"io"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/banshee-data/bathy.ensemble/internal/agreement"
	"github.com/banshee-data/bathy.ensemble/internal/granule"
	"github.com/banshee-data/bathy.ensemble/internal/monitoring"
	"github.com/banshee-data/bathy.ensemble/internal/report"
	"github.com/banshee-data/bathy.ensemble/internal/version"
)

func (a *app) corrCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "corr GRANULE...",
		Short: "Correlate detector labels",
		Long: `corr merges the granules and prints the pairwise correlation of the label
columns three times: over all labels, with sea surface blanked and with
bathymetry blanked.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			files, err := a.inputs(args)
			if err != nil {
				return err
			}
			p, err := a.pipeline()
			if err != nil {
				return err
			}
			tables, err := p.Load(cmd.Context(), files)
			if err != nil {
				return err
			}
			merged, _, err := granule.Concat("corr", tables...)
			if err != nil {
				return err
			}

			columns := a.cfg.GetStringSlice("columns")
			if len(columns) == 0 {
				columns = append(p.Algorithms(merged), p.Reference())
			}
			ms, err := agreement.CorrelateAll(merged, columns, agreement.DefaultLenses)
			if err != nil {
				return err
			}
			return a.output(cmd.OutOrStdout(), func(w io.Writer) error {
				return agreement.WriteTSV(w, ms)
			})
		},
	}
}

func (a *app) plotCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "plot REPORT",
		Short: "Chart a score report",
		Long: `plot draws the scores of one view of a report as grouped bars, one group
per algorithm. Use --png for an image and --html for an interactive page;
undefined metrics are drawn as zero.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pngPath, htmlPath := a.cfg.GetString("png"), a.cfg.GetString("html")
			if pngPath == "" && htmlPath == "" {
				return fmt.Errorf("nothing to do: set --png or --html")
			}
			records, err := a.readReport(args[0])
			if err != nil {
				return err
			}
			view := a.cfg.GetString("view")
			title := a.cfg.GetString("title")
			if title == "" {
				title = fmt.Sprintf("%s scores: %s", view, filepath.Base(args[0]))
			}
			chart, err := report.Build(title, view, records, a.cfg.GetStringSlice("exclude"))
			if err != nil {
				return err
			}
			if chart.Undefined > 0 {
				monitoring.Logf("%d undefined metric(s) drawn as 0", chart.Undefined)
			}

			targets := []struct {
				path string
				r    report.Renderer
			}{
				{pngPath, report.DefaultPNG},
				{htmlPath, report.HTML{}},
			}
			for _, t := range targets {
				if t.path == "" {
					continue
				}
				if err := a.render(t.path, t.r, chart); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

func (a *app) render(path string, r report.Renderer, c report.Chart) error {
	f, err := a.fs.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := r.Render(f, c); err != nil {
		f.Close()
		return fmt.Errorf("render %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return err
	}
	monitoring.Logf("wrote %s", path)
	return nil
}

func versionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "bathy %s\n", version.String())
		},
	}
}

