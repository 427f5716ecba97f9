// Package cli holds the stayinalive commands.
package cli

import (
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/JGCRI/stayinalive/internal/archive"
	"github.com/JGCRI/stayinalive/internal/convert"
	"github.com/JGCRI/stayinalive/internal/layout"
	"github.com/JGCRI/stayinalive/internal/logging"
)

// Version is the version of stayinalive.
const Version = "0.4.0"

// Cfg holds configuration information.
var Cfg *viper.Viper

// Log is set up from the log-level and log-format options before any
// command runs.
var Log logrus.FieldLogger = logrus.StandardLogger()

var options []struct {
	name, usage, shorthand string
	defaultVal             interface{}
	flagsets               []*pflag.FlagSet
}

func init() {
	options = []struct {
		name, usage, shorthand string
		defaultVal             interface{}
		flagsets               []*pflag.FlagSet
	}{
		{
			name: "config",
			usage: `
              config specifies the configuration file location.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{Root.PersistentFlags()},
		},
		{
			name: "layout",
			usage: `
              layout is a YAML file giving grid_size, batch_size, models,
              scenarios and variables. The built-in layout is used when
              it is empty.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{Root.PersistentFlags()},
		},
		{
			name: "log-level",
			usage: `
              log-level is one of trace, debug, info, warn, error.`,
			defaultVal: "info",
			flagsets:   []*pflag.FlagSet{Root.PersistentFlags()},
		},
		{
			name: "log-format",
			usage: `
              log-format is text or json.`,
			defaultVal: "text",
			flagsets:   []*pflag.FlagSet{Root.PersistentFlags()},
		},
		{
			name: "policy",
			usage: `
              policy decides what happens to a table whose row count is not
              a multiple of the grid size. skip logs it and moves on, strict
              stops the run.`,
			defaultVal: string(convert.PolicySkip),
			flagsets:   []*pflag.FlagSet{convertCmd.Flags()},
		},
		{
			name: "codec",
			usage: `
              codec is the batch archive format: ` + strings.Join(archive.Codecs(), ", ") + `.`,
			defaultVal: archive.CodecZarr,
			flagsets:   []*pflag.FlagSet{reorganizeCmd.Flags()},
		},
		{
			name: "compressor",
			usage: `
              compressor compresses zarr chunks: zstd, gzip or none.`,
			defaultVal: archive.DefaultOptions.Compressor,
			flagsets:   []*pflag.FlagSet{reorganizeCmd.Flags()},
		},
		{
			name: "chunk-cells",
			usage: `
              chunk-cells is the number of cells in each zarr chunk.`,
			defaultVal: archive.DefaultOptions.ChunkCells,
			flagsets:   []*pflag.FlagSet{reorganizeCmd.Flags()},
		},
		{
			name: "tempdir",
			usage: `
              tempdir holds netcdf archives while they are written.
              The system default is used when it is empty.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{reorganizeCmd.Flags()},
		},
		{
			name: "min-duration",
			usage: `
              min-duration removes droughts shorter than this many months
              from duration archives. 0 keeps every drought.`,
			defaultVal: 0,
			flagsets:   []*pflag.FlagSet{reorganizeCmd.Flags()},
		},
		{
			name: "decode",
			usage: `
              decode prints the batch, scenario and model of this job index.`,
			defaultVal: -1,
			flagsets:   []*pflag.FlagSet{jobsCmd.Flags()},
		},
		{
			name: "batch",
			usage: `
              batch, with scenario and model, prints the job index of that
              combination.`,
			defaultVal: -1,
			flagsets:   []*pflag.FlagSet{jobsCmd.Flags()},
		},
		{
			name: "scenario",
			usage: `
              scenario name used with batch.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{jobsCmd.Flags()},
		},
		{
			name: "model",
			usage: `
              model name used with batch.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{jobsCmd.Flags()},
		},
		{
			name: "cell",
			usage: `
              cell is the grid cell to summarize. The first cell of the
              archive is used when it is negative.`,
			shorthand:  "c",
			defaultVal: -1,
			flagsets:   []*pflag.FlagSet{inspectCmd.Flags()},
		},
	}

	Cfg = viper.New()

	// Set the prefix for configuration environment variables.
	Cfg.SetEnvPrefix("STAYINALIVE")
	Cfg.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	Cfg.AutomaticEnv()

	for _, option := range options {
		for i, set := range option.flagsets {
			if i != 0 { // We don't want to create the same flag twice.
				set.AddFlag(option.flagsets[0].Lookup(option.name))
				continue
			}
			switch option.defaultVal.(type) {
			case string:
				if option.shorthand == "" {
					set.String(option.name, option.defaultVal.(string), option.usage)
				} else {
					set.StringP(option.name, option.shorthand, option.defaultVal.(string), option.usage)
				}
			case int:
				if option.shorthand == "" {
					set.Int(option.name, option.defaultVal.(int), option.usage)
				} else {
					set.IntP(option.name, option.shorthand, option.defaultVal.(int), option.usage)
				}
			default:
				panic("invalid argument type")
			}
			Cfg.BindPFlag(option.name, set.Lookup(option.name))
		}
	}
}

func init() {
	// Link the commands together.
	Root.AddCommand(versionCmd)
	Root.AddCommand(convertCmd)
	Root.AddCommand(reorganizeCmd)
	Root.AddCommand(jobsCmd)
	Root.AddCommand(inspectCmd)
}

// setConfig finds and reads in the configuration file, if there is one,
// and sets up the logger.
func setConfig(cmd *cobra.Command) error {
	if cfgpath := Cfg.GetString("config"); cfgpath != "" {
		Cfg.SetConfigFile(cfgpath)
		if err := Cfg.ReadInConfig(); err != nil {
			return fmt.Errorf("stayinalive: problem reading configuration file: %v", err)
		}
	}
	log, err := logging.New(Cfg.GetString("log-level"), Cfg.GetString("log-format"), cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	Log = log
	return nil
}

// loadLayout returns the layout named by the layout option, or the built-in
// one.
func loadLayout() (layout.Layout, error) {
	path := Cfg.GetString("layout")
	if path == "" {
		return layout.Default(), nil
	}
	return layout.Load(path)
}

// Root is the main command.
var Root = &cobra.Command{
	Use:   "stayinalive",
	Short: "Reorganize drought index output into per-cell matrices.",
	Long: `stayinalive reorganizes drought index output (duration, severity,
intensity) from parquet tables into per-cell (run x month) matrices.
It runs in two stages, each meant to be run as an array job:
'convert' turns parquet tables into .npy run arrays, and 'reorganize'
collects one batch of cells from every run array of a model and scenario.

Configuration can be changed by using a configuration file (and providing the
path to the file using the --config flag), by using command-line arguments,
or by setting environment variables in the format 'STAYINALIVE_VAR' where 'VAR'
is the name of the option to be set with dashes replaced by underscores.
Refer to https://github.com/spf13/viper for additional configuration information.`,
	DisableAutoGenTag: true,
	SilenceUsage:      true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error { return setConfig(cmd) },
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Long:  "version prints the version number of this version of stayinalive.",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "stayinalive v%s\n", Version)
	},
	DisableAutoGenTag: true,
}
