package cli

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cast"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	"github.com/JGCRI/stayinalive/internal/archive"
	"github.com/JGCRI/stayinalive/internal/convert"
	"github.com/JGCRI/stayinalive/internal/reorg"
	"github.com/JGCRI/stayinalive/internal/table"
	"github.com/JGCRI/stayinalive/zarr"
)

// convertCmd runs one converter worker.
var convertCmd = &cobra.Command{
	Use:   "convert <input> <worker_index> [<worker_count> [<output> [<variable>]]]",
	Short: "Convert parquet tables into .npy run arrays.",
	Long: `convert converts this worker's share of the parquet tables in input
into one int16 .npy array per field, written to output. Tables are shared out
by sorting their names and splitting the list into worker_count contiguous
blocks. worker_count defaults to 100, output to the current directory and
variable to duration.`,
	Args: cobra.RangeArgs(2, 5),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext(cmd)
		defer cancel()

		index, err := cast.ToIntE(args[1])
		if err != nil {
			return fmt.Errorf("stayinalive: worker_index: %w", err)
		}
		workers, output, variable := 100, ".", "duration"
		if len(args) > 2 {
			if workers, err = cast.ToIntE(args[2]); err != nil {
				return fmt.Errorf("stayinalive: worker_count: %w", err)
			}
		}
		if len(args) > 3 {
			output = args[3]
		}
		if len(args) > 4 {
			variable = args[4]
		}
		policy, err := convert.ParsePolicy(Cfg.GetString("policy"))
		if err != nil {
			return err
		}
		l, err := loadLayout()
		if err != nil {
			return err
		}

		in, err := zarr.OpenStore(ctx, args[0])
		if err != nil {
			return err
		}
		defer in.Close()
		out, err := zarr.OpenStore(ctx, output)
		if err != nil {
			return err
		}
		defer out.Close()

		c := &convert.Converter{
			Layout:   l,
			Variable: variable,
			Opener:   table.Parquet{},
			Policy:   policy,
			Log:      Log,
		}
		res, err := c.Run(ctx, in, out, "", index, workers)
		if err != nil {
			return err
		}
		for _, w := range res.Written {
			fmt.Fprintln(cmd.OutOrStdout(), w)
		}
		if n := len(multierr.Errors(res.Defects)); n > 0 {
			Log.WithField("defective", n).Warn("some tables were not converted")
		}
		return nil
	},
	DisableAutoGenTag: true,
}

// reorganizeCmd writes the batch archive of one job.
var reorganizeCmd = &cobra.Command{
	Use:   "reorganize <input> <output> <job_index> <variable>",
	Short: "Collect one batch of cells into a per-cell archive.",
	Long: `reorganize decodes job_index into a batch, a scenario and a model,
reads that batch's rows from every run array of the variable, model and
scenario in input, and writes one archive of (run x month) matrices, one per
cell, to output. The archive key is printed on success.`,
	Args: cobra.ExactArgs(4),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext(cmd)
		defer cancel()

		jobIndex, err := cast.ToIntE(args[2])
		if err != nil {
			return fmt.Errorf("stayinalive: job_index: %w", err)
		}
		l, err := loadLayout()
		if err != nil {
			return err
		}
		codec, err := archive.NewCodec(Cfg.GetString("codec"), archive.Options{
			Compressor: Cfg.GetString("compressor"),
			ChunkCells: Cfg.GetInt("chunk-cells"),
			TempDir:    Cfg.GetString("tempdir"),
		})
		if err != nil {
			return err
		}

		in, err := zarr.OpenStore(ctx, args[0])
		if err != nil {
			return err
		}
		defer in.Close()
		out, err := zarr.OpenStore(ctx, args[1])
		if err != nil {
			return err
		}
		defer out.Close()

		r := &reorg.Reorganizer{
			Layout:      l,
			Codec:       codec,
			MinDuration: Cfg.GetInt("min-duration"),
			Log:         Log,
		}
		key, err := r.Run(ctx, in, out, jobIndex, args[3])
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), key)
		return nil
	},
	DisableAutoGenTag: true,
}

// jobsCmd describes the job index space of the layout.
var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Print the number of reorganize jobs.",
	Long: `jobs prints the number of reorganize jobs in the layout, which is the
array size to give the scheduler. With --decode it prints the job behind an
index, and with --batch, --scenario and --model it prints the index of a job.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		l, err := loadLayout()
		if err != nil {
			return err
		}
		if err := l.Validate(); err != nil {
			return err
		}
		w := cmd.OutOrStdout()
		if i := Cfg.GetInt("decode"); i >= 0 {
			j, err := l.Decode(i)
			if err != nil {
				return err
			}
			start, end := l.BatchRange(j.Batch)
			fmt.Fprintf(w, "%s cells [%d, %d)\n", j, start, end)
			return nil
		}
		if b := Cfg.GetInt("batch"); b >= 0 {
			j, err := l.Lookup(b, Cfg.GetString("scenario"), Cfg.GetString("model"))
			if err != nil {
				return err
			}
			fmt.Fprintln(w, j.Index)
			return nil
		}
		fmt.Fprintln(w, l.NumJobs())
		return nil
	},
	DisableAutoGenTag: true,
}

// inspectCmd summarizes a batch archive.
var inspectCmd = &cobra.Command{
	Use:   "inspect <archive>",
	Short: "Print the shape, run labels and statistics of a batch archive.",
	Long: `inspect reads a batch archive written by reorganize and prints its
shape, its run labels and per-run statistics for one cell.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext(cmd)
		defer cancel()

		location, key, err := splitLocation(args[0])
		if err != nil {
			return err
		}
		codec, err := archive.CodecFor(key)
		if err != nil {
			return err
		}
		store, err := zarr.OpenStore(ctx, location)
		if err != nil {
			return err
		}
		defer store.Close()
		a, err := codec.Read(ctx, store, key)
		if err != nil {
			return err
		}
		cell := Cfg.GetInt("cell")
		if cell < 0 {
			cell = a.CellStart
		}
		m, err := a.Cell(cell)
		if err != nil {
			return err
		}

		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "%s %s %s batch %d\n", a.Key.Variable, a.Key.Model, a.Key.Scenario, a.Key.Batch)
		fmt.Fprintf(w, "cells [%d, %d), %d runs, %d months\n", a.CellStart, a.CellStart+len(a.Cells), len(a.Runs), a.Months)
		fmt.Fprintf(w, "cell %d\n", cell)
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "row\trun\tfield\tmean\tstddev\tmin\tmax\tdrought months")
		for k, s := range archive.Summarize(a.Runs, m) {
			fmt.Fprintf(tw, "%d\t%s\t%d\t%.3f\t%.3f\t%g\t%g\t%d\n",
				k, s.Label.Run, s.Label.Field, s.Mean, s.StdDev, s.Min, s.Max, s.DroughtMonths)
		}
		return tw.Flush()
	},
	DisableAutoGenTag: true,
}

// signalContext is cancelled on interrupt or termination.
func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
}

// splitLocation splits an archive location into the store holding it and
// the archive key within that store. Bucket URLs open the whole bucket.
func splitLocation(loc string) (store, key string, err error) {
	loc = strings.TrimSuffix(loc, "/")
	u, err := url.Parse(loc)
	if err != nil || u.Scheme == "" || len(u.Scheme) == 1 {
		return filepath.Dir(loc), filepath.Base(loc), nil
	}
	key = strings.TrimPrefix(u.Path, "/")
	if key == "" {
		return "", "", fmt.Errorf("stayinalive: no archive in %q", loc)
	}
	u.Path = ""
	return u.String(), key, nil
}
