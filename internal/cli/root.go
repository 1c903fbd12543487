// Package cli implements the bathy command line.
//
// Every option can also be set in a configuration file (--config) or through
// an environment variable named BATHY_<OPTION>, with dashes replaced by
// underscores.
package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/banshee-data/bathy.ensemble/internal/config"
	"github.com/banshee-data/bathy.ensemble/internal/fsutil"
	"github.com/banshee-data/bathy.ensemble/internal/monitoring"
	"github.com/banshee-data/bathy.ensemble/internal/pipeline"
	"github.com/banshee-data/bathy.ensemble/internal/scoring"
)

// EnvPrefix prefixes the environment variables read by viper.
const EnvPrefix = "BATHY"

// option is one configuration value, registered as a flag on the first
// flag set and shared with the rest.
type option struct {
	name, usage, shorthand string
	defaultVal             any
	flagsets               []*pflag.FlagSet
}

// app carries the state shared by the commands of one root.
type app struct {
	cfg *viper.Viper
	fs  fsutil.FileSystem
}

// NewRootCommand builds the bathy command tree on fsys.
func NewRootCommand(fsys fsutil.FileSystem) *cobra.Command {
	a := &app{cfg: viper.New(), fs: fsys}

	root := &cobra.Command{
		Use:   "bathy",
		Short: "Bathymetry ensemble classifier for photon-counting lidar granules.",
		Long: `bathy merges the per-photon labels of several bathymetry detectors into
one ensemble classification. It builds a density feature per granule,
trains and runs the ensemble classifier, and scores any prediction column
against a manually labelled reference.

Options can be given as flags, in a configuration file passed with
--config, or as environment variables named BATHY_<OPTION>.`,
		SilenceUsage:      true,
		DisableAutoGenTag: true,
		PersistentPreRunE: func(*cobra.Command, []string) error { return a.setConfig() },
	}

	trainCmd := a.trainCommand()
	classifyCmd := a.classifyCommand()
	scoreCmd := a.scoreCommand()
	averageCmd := a.averageCommand()
	crossvalCmd := a.crossvalCommand()
	corrCmd := a.corrCommand()
	plotCmd := a.plotCommand()
	serveCmd := a.serveCommand()
	runsCmd := a.runsCommand()
	root.AddCommand(trainCmd, classifyCmd, scoreCmd, averageCmd, crossvalCmd,
		corrCmd, plotCmd, serveCmd, runsCmd, versionCommand())

	a.register([]option{
		{
			name:     "config",
			usage:    "configuration file (any format viper reads)",
			flagsets: []*pflag.FlagSet{root.PersistentFlags()},
		},
		{
			name:       "verbose",
			shorthand:  "v",
			usage:      "enable debug output",
			defaultVal: false,
			flagsets:   []*pflag.FlagSet{root.PersistentFlags()},
		},
		{
			name:     "tuning",
			usage:    "tuning parameters JSON file; built-in defaults when empty",
			flagsets: []*pflag.FlagSet{root.PersistentFlags()},
		},
		{
			name:       "workers",
			usage:      "granules processed in parallel; 0 uses the tuning value",
			defaultVal: 0,
			flagsets:   []*pflag.FlagSet{root.PersistentFlags()},
		},
		{
			name:       "db",
			usage:      "SQLite archive of scoring runs",
			defaultVal: "bathy.db",
			flagsets:   []*pflag.FlagSet{root.PersistentFlags()},
		},
		{
			name:       "model",
			shorthand:  "m",
			usage:      "model artifact path, or grpc://host:port for a served model",
			defaultVal: "model.json",
			flagsets:   []*pflag.FlagSet{trainCmd.Flags(), classifyCmd.Flags(), serveCmd.Flags()},
		},
		{
			name:       "importances",
			usage:      "permutation importance repeats to report after training; 0 disables",
			defaultVal: 0,
			flagsets:   []*pflag.FlagSet{trainCmd.Flags()},
		},
		{
			name:       "seed",
			usage:      "seed of the permutation importance shuffles",
			defaultVal: 1,
			flagsets:   []*pflag.FlagSet{trainCmd.Flags()},
		},
		{
			name:       "output-dir",
			shorthand:  "o",
			usage:      "directory for classified granules",
			defaultVal: "classified",
			flagsets:   []*pflag.FlagSet{classifyCmd.Flags()},
		},
		{
			name:      "output",
			shorthand: "O",
			usage:     "report file; standard output when empty",
			flagsets:  []*pflag.FlagSet{scoreCmd.Flags(), averageCmd.Flags(), crossvalCmd.Flags(), corrCmd.Flags()},
		},
		{
			name:       "views",
			usage:      "scoring views: " + strings.Join(scoring.ViewNames(), ", "),
			defaultVal: scoring.ViewNames(),
			flagsets:   []*pflag.FlagSet{scoreCmd.Flags(), crossvalCmd.Flags()},
		},
		{
			name:       "algorithms",
			usage:      "prediction columns to score; every detector and the ensemble when empty",
			defaultVal: []string{},
			flagsets:   []*pflag.FlagSet{scoreCmd.Flags()},
		},
		{
			name:       "canonical",
			usage:      "labels are already canonical classes {0,1,2}",
			defaultVal: false,
			flagsets:   []*pflag.FlagSet{scoreCmd.Flags()},
		},
		{
			name:       "archive",
			usage:      "store the records in the --db archive",
			defaultVal: false,
			flagsets:   []*pflag.FlagSet{scoreCmd.Flags(), crossvalCmd.Flags()},
		},
		{
			name:     "label",
			usage:    "label of the archived run",
			flagsets: []*pflag.FlagSet{scoreCmd.Flags(), crossvalCmd.Flags()},
		},
		{
			name:       "folds",
			shorthand:  "k",
			usage:      "number of cross-validation folds",
			defaultVal: 5,
			flagsets:   []*pflag.FlagSet{crossvalCmd.Flags()},
		},
		{
			name:       "columns",
			usage:      "columns to correlate; the detectors and the reference when empty",
			defaultVal: []string{},
			flagsets:   []*pflag.FlagSet{corrCmd.Flags()},
		},
		{
			name:       "view",
			usage:      "view to plot",
			defaultVal: scoring.ViewBathy.Name,
			flagsets:   []*pflag.FlagSet{plotCmd.Flags()},
		},
		{
			name:     "png",
			usage:    "write the chart as a PNG image",
			flagsets: []*pflag.FlagSet{plotCmd.Flags()},
		},
		{
			name:     "html",
			usage:    "write the chart as an HTML page",
			flagsets: []*pflag.FlagSet{plotCmd.Flags()},
		},
		{
			name:     "title",
			usage:    "chart title",
			flagsets: []*pflag.FlagSet{plotCmd.Flags()},
		},
		{
			name:       "exclude",
			usage:      "algorithms left out of the chart",
			defaultVal: []string{},
			flagsets:   []*pflag.FlagSet{plotCmd.Flags()},
		},
		{
			name:       "addr",
			usage:      "listen address of the model server",
			defaultVal: ":50051",
			flagsets:   []*pflag.FlagSet{serveCmd.Flags()},
		},
	})
	return root
}

// register adds each option as a flag and binds it to the viper instance.
func (a *app) register(options []option) {
	a.cfg.SetEnvPrefix(EnvPrefix)
	a.cfg.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	a.cfg.AutomaticEnv()

	for _, o := range options {
		if o.defaultVal == nil {
			o.defaultVal = ""
		}
		for i, set := range o.flagsets {
			if i != 0 {
				set.AddFlag(o.flagsets[0].Lookup(o.name))
				continue
			}
			switch v := o.defaultVal.(type) {
			case string:
				set.StringP(o.name, o.shorthand, v, o.usage)
			case []string:
				set.StringSliceP(o.name, o.shorthand, v, o.usage)
			case bool:
				set.BoolP(o.name, o.shorthand, v, o.usage)
			case int:
				set.IntP(o.name, o.shorthand, v, o.usage)
			default:
				panic("invalid option type for " + o.name)
			}
			if err := a.cfg.BindPFlag(o.name, set.Lookup(o.name)); err != nil {
				panic(err)
			}
		}
	}
}

// setConfig reads the configuration file, if there is one, and applies the
// logging options.
func (a *app) setConfig() error {
	if path := a.cfg.GetString("config"); path != "" {
		a.cfg.SetConfigFile(path)
		if err := a.cfg.ReadInConfig(); err != nil {
			return fmt.Errorf("read configuration file: %w", err)
		}
	}
	monitoring.SetVerbose(a.cfg.GetBool("verbose"))
	return nil
}

// tuning loads the tuning parameters with the --workers override applied.
func (a *app) tuning() (*config.TuningConfig, error) {
	cfg := config.DefaultTuningConfig()
	if path := a.cfg.GetString("tuning"); path != "" {
		var err error
		if cfg, err = config.LoadTuningConfig(path); err != nil {
			return nil, err
		}
	}
	if w := a.cfg.GetInt("workers"); w > 0 {
		cfg.Workers = &w
	}
	return cfg, nil
}

func (a *app) pipeline() (*pipeline.Pipeline, error) {
	cfg, err := a.tuning()
	if err != nil {
		return nil, err
	}
	return pipeline.New(cfg, a.fs), nil
}

// inputs expands glob patterns among args. A pattern matching nothing or a
// plain path that does not exist is an error.
func (a *app) inputs(args []string) ([]string, error) {
	var out []string
	for _, arg := range args {
		if !strings.ContainsAny(arg, "*?[") {
			if !a.fs.Exists(arg) {
				return nil, fmt.Errorf("no such file: %s", arg)
			}
			out = append(out, arg)
			continue
		}
		matches, err := a.fs.Glob(arg)
		if err != nil {
			return nil, fmt.Errorf("expand %s: %w", arg, err)
		}
		if len(matches) == 0 {
			return nil, fmt.Errorf("no files match %s", arg)
		}
		out = append(out, matches...)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no input files")
	}
	return out, nil
}

// output runs write against the --output file, or w when none is set.
func (a *app) output(w io.Writer, write func(io.Writer) error) error {
	path := a.cfg.GetString("output")
	if path == "" {
		return write(w)
	}
	f, err := a.fs.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := write(f); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return err
	}
	monitoring.Logf("wrote %s", path)
	return nil
}
