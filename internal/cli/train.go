package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/banshee-data/bathy.ensemble/internal/monitoring"
	"github.com/banshee-data/bathy.ensemble/internal/oracle"
	"github.com/banshee-data/bathy.ensemble/internal/oracle/remote"
	"github.com/banshee-data/bathy.ensemble/internal/oracle/softmax"
)

func (a *app) trainCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "train GRANULE...",
		Short: "Train the ensemble classifier",
		Long: `train adds the density feature to every granule, merges them and fits the
ensemble classifier on the manually labelled reference. The model is
written to --model.`,
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
			trained, err := p.Fit(cmd.Context(), files)
			if err != nil {
				return err
			}

			path := a.cfg.GetString("model")
			if err := trained.Model.Save(a.fs, path); err != nil {
				return err
			}
			monitoring.Logf("saved model to %s", path)

			if a.cfg.GetBool("verbose") {
				if err := writeSection(cmd.OutOrStdout(), "coefficient importances", trained.Model.Importances()); err != nil {
					return err
				}
			}
			if repeats := a.cfg.GetInt("importances"); repeats > 0 {
				imp, err := oracle.PermutationImportance(trained.Model, trained.Set.X, trained.Set.Labels,
					repeats, uint64(a.cfg.GetInt("seed")))
				if err != nil {
					return err
				}
				return writeSection(cmd.OutOrStdout(), "permutation importances", imp)
			}
			return nil
		},
	}
}

func writeSection(w io.Writer, title string, imp []oracle.Importance) error {
	if _, err := fmt.Fprintf(w, "# %s\n", title); err != nil {
		return err
	}
	return oracle.WriteImportances(w, imp)
}

func (a *app) classifyCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "classify GRANULE...",
		Short: "Classify granules with a trained model",
		Long: `classify adds the density feature to every granule, runs the model given
by --model and writes each granule to --output-dir with the ensemble
prediction and its bathymetry probability appended. A grpc:// model is
queried over the network.`,
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
			o, err := a.resolver().Load(a.cfg.GetString("model"))
			if err != nil {
				return err
			}
			if c, ok := o.(io.Closer); ok {
				defer c.Close()
			}

			tables, err := p.Classify(cmd.Context(), o, files)
			if err != nil {
				return err
			}
			paths, err := p.WriteOutputs(a.cfg.GetString("output-dir"), tables)
			if err != nil {
				return err
			}
			for _, path := range paths {
				fmt.Fprintln(cmd.OutOrStdout(), path)
			}
			return nil
		},
	}
}

func (a *app) resolver() oracle.Resolver {
	return oracle.Resolver{
		Local:  softmax.Loader{FS: a.fs},
		Remote: remote.Loader{},
	}
}

func (a *app) serveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve a trained model over gRPC",
		Long: `serve loads the model artifact given by --model and answers prediction
requests on --addr until interrupted. Clients reach it with
--model grpc://host:port.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := softmax.Load(a.fs, a.cfg.GetString("model"))
			if err != nil {
				return err
			}
			return remote.Serve(cmd.Context(), a.cfg.GetString("addr"), m, softmax.Kind)
		},
	}
}
