package cli

import (
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/banshee-data/bathy.ensemble/internal/crossval"
	"github.com/banshee-data/bathy.ensemble/internal/monitoring"
	"github.com/banshee-data/bathy.ensemble/internal/scoring"
	"github.com/banshee-data/bathy.ensemble/internal/storage/sqlite"
)

func (a *app) scoreCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "score GRANULE...",
		Short: "Score prediction columns against the reference labels",
		Long: `score merges the granules and compares each prediction column with the
reference column under every requested view. Binary views report
Accuracy, F1, BA, calF1, MCC and avg4; the all view reports multiclass
accuracy and F1 averages. Metrics with a zero denominator are reported
as undefined.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			files, err := a.inputs(args)
			if err != nil {
				return err
			}
			views, err := scoring.ParseViews(a.cfg.GetStringSlice("views"))
			if err != nil {
				return err
			}
			p, err := a.pipeline()
			if err != nil {
				return err
			}
			p.Engine.Canonical = a.cfg.GetBool("canonical")

			tables, err := p.Load(cmd.Context(), files)
			if err != nil {
				return err
			}
			records, err := p.Score(tables, a.cfg.GetStringSlice("algorithms"), views)
			if err != nil {
				return err
			}
			if a.cfg.GetBool("archive") {
				if err := a.archive(p.Reference(), []*sqlite.Run{{Fold: sqlite.NoFold, Records: records}}); err != nil {
					return err
				}
			}
			return a.output(cmd.OutOrStdout(), func(w io.Writer) error {
				return scoring.WriteReport(w, records)
			})
		},
	}
}

func (a *app) averageCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "average REPORT...",
		Short: "Average score reports across folds",
		Long: `average reads reports written by score and writes their per-metric mean.
Every report must list the same views and algorithms; an undefined
metric in any report leaves the average undefined.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			files, err := a.inputs(args)
			if err != nil {
				return err
			}
			folds := make([][]scoring.Record, len(files))
			for i, path := range files {
				if folds[i], err = a.readReport(path); err != nil {
					return err
				}
			}
			avg, err := scoring.Average(folds)
			if err != nil {
				return err
			}
			return a.output(cmd.OutOrStdout(), func(w io.Writer) error {
				return scoring.WriteReport(w, avg)
			})
		},
	}
}

func (a *app) readReport(path string) ([]scoring.Record, error) {
	f, err := a.fs.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open report: %w", err)
	}
	defer f.Close()
	records, err := scoring.ReadReport(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return records, nil
}

func (a *app) crossvalCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "crossval GRANULE...",
		Short: "Cross-validate the ensemble classifier",
		Long: `crossval splits the granules into --folds folds, trains on all but one
fold, classifies and scores the held-out fold, and reports the average of
the fold scores.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			files, err := a.inputs(args)
			if err != nil {
				return err
			}
			views, err := scoring.ParseViews(a.cfg.GetStringSlice("views"))
			if err != nil {
				return err
			}
			p, err := a.pipeline()
			if err != nil {
				return err
			}
			res, err := crossval.Run(cmd.Context(), p, files, a.cfg.GetInt("folds"), views)
			if err != nil {
				return err
			}
			if a.cfg.GetBool("archive") {
				runs := make([]*sqlite.Run, 0, len(res.Folds)+1)
				for i, f := range res.Folds {
					runs = append(runs, &sqlite.Run{Fold: i, Records: f})
				}
				runs = append(runs, &sqlite.Run{Fold: sqlite.NoFold, Records: res.Average})
				if err := a.archive(p.Reference(), runs); err != nil {
					return err
				}
			}
			return a.output(cmd.OutOrStdout(), func(w io.Writer) error {
				return scoring.WriteReport(w, res.Average)
			})
		},
	}
}

// archive stores runs in the --db archive under the --label label.
func (a *app) archive(reference string, runs []*sqlite.Run) error {
	store, err := sqlite.Open(a.cfg.GetString("db"))
	if err != nil {
		return err
	}
	defer store.Close()

	for _, r := range runs {
		r.Label = a.cfg.GetString("label")
		r.Reference = reference
		if err := store.Insert(r); err != nil {
			return err
		}
		monitoring.Logf("archived run %s (%d records)", r.RunID, len(r.Records))
	}
	return nil
}

func (a *app) runsCommand() *cobra.Command {
	runs := &cobra.Command{
		Use:   "runs",
		Short: "Inspect archived scoring runs",
	}
	runs.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List archived runs, newest first",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return a.withStore(func(s *sqlite.Store) error {
					list, err := s.List()
					if err != nil {
						return err
					}
					tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
					fmt.Fprintln(tw, "RUN\tCREATED\tLABEL\tFOLD\tREFERENCE")
					for _, r := range list {
						fold := "-"
						if r.Fold != sqlite.NoFold {
							fold = strconv.Itoa(r.Fold)
						}
						created := time.Unix(0, r.CreatedAt).UTC().Format(time.RFC3339)
						fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", r.RunID, created, r.Label, fold, r.Reference)
					}
					return tw.Flush()
				})
			},
		},
		&cobra.Command{
			Use:   "show RUN",
			Short: "Print the report of an archived run",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return a.withStore(func(s *sqlite.Store) error {
					run, err := s.Get(args[0])
					if err != nil {
						return err
					}
					return scoring.WriteReport(cmd.OutOrStdout(), run.Records)
				})
			},
		},
		&cobra.Command{
			Use:   "delete RUN",
			Short: "Delete an archived run",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return a.withStore(func(s *sqlite.Store) error {
					return s.Delete(args[0])
				})
			},
		},
	)
	return runs
}

func (a *app) withStore(fn func(*sqlite.Store) error) error {
	store, err := sqlite.Open(a.cfg.GetString("db"))
	if err != nil {
		return err
	}
	defer store.Close()
	return fn(store)
}
