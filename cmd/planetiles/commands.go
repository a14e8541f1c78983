package main

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/pspoerri/planetiles/internal/fetch"
	"github.com/pspoerri/planetiles/internal/pipeline"
	"github.com/pspoerri/planetiles/internal/tilestore"
)

func (a *app) fetchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "fetch",
		Short: "Download the .IMG/.LBL products listed under a volume's data/ directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			start := time.Now()
			sum, err := pipeline.Fetch(cmd.Context(), a.cfg, fetch.NewClient(a.cfg.UserAgent))
			if err != nil {
				return err
			}
			fmt.Printf("Done: %d downloaded (%s), %d already present, %d failed in %v → %s\n",
				sum.Downloaded, humanize.Bytes(uint64(sum.Bytes)), sum.Skipped, len(sum.Failures),
				time.Since(start).Round(time.Millisecond), a.cfg.RawDir)
			return nil
		},
	}
}

func (a *app) convertCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "convert",
		Short: "Convert raw PDS images into GeoTIFFs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sum, err := pipeline.Convert(cmd.Context(), a.cfg)
			if err != nil {
				return err
			}
			fmt.Printf("Done: %d converted, %d up to date, %d failed → %s\n",
				sum.Converted, sum.Skipped, len(sum.Failures), a.cfg.InputPath)
			if sum.Converted+sum.Skipped == 0 && len(sum.Failures) > 0 {
				return pipeline.ErrNoUsableRasters
			}
			return nil
		},
	}
}

func (a *app) labelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "label",
		Short: "Write JSON metadata sidecars from PDS labels",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sum, err := pipeline.Label(a.cfg)
			if err != nil {
				return err
			}
			fmt.Printf("Done: %d sidecars, %d failed → %s\n", sum.Written, len(sum.Failures), a.cfg.MetadataDir)
			return nil
		},
	}
}

func (a *app) tileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tile [input]",
		Short: "Cut GeoTIFFs into level/x/y tile pyramids",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a.inputArg(args)
			return a.tile(cmd, func(store tilestore.Store) (pipeline.Summary, error) {
				return pipeline.TileDir(cmd.Context(), a.cfg, store)
			})
		},
	}
}

func (a *app) runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Fetch, convert, label and tile in one go",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client := fetch.NewClient(a.cfg.UserAgent)
			return a.tile(cmd, func(store tilestore.Store) (pipeline.Summary, error) {
				return pipeline.Run(cmd.Context(), a.cfg, client, store)
			})
		},
	}
}

// tile opens the tile store, runs fn and prints its summary.
func (a *app) tile(cmd *cobra.Command, fn func(tilestore.Store) (pipeline.Summary, error)) error {
	enc, err := a.cfg.Encoder()
	if err != nil {
		return err
	}
	store, err := tilestore.Open(cmd.Context(), a.cfg.OutputRoot, enc.FileExtension())
	if err != nil {
		return err
	}

	fmt.Printf("planetiles %s\n", version)
	fmt.Printf("  %-14s %s (quality: %d)\n", "Format:", enc.Format(), a.cfg.Quality)
	fmt.Printf("  %-14s %dpx\n", "Tile size:", a.cfg.TileSize)
	fmt.Printf("  %-14s %d\n", "Min level:", a.cfg.MinLevel)
	fmt.Printf("  %-14s %d\n", "Concurrency:", a.cfg.Concurrency)
	fmt.Printf("  %-14s %s\n", "Input:", a.cfg.InputPath)
	fmt.Printf("  %-14s %s\n", "Output:", a.cfg.OutputRoot)

	start := time.Now()
	sum, err := fn(store)
	if cerr := store.Close(); err == nil {
		err = cerr
	}
	if len(sum.Failures) > 0 {
		fmt.Printf("Failed rasters:\n%s", pipeline.FailureReport(sum.Failures))
	}
	if err != nil {
		return err
	}
	fmt.Printf("Done: %s in %v → %s\n", sum, time.Since(start).Round(time.Millisecond), a.cfg.OutputRoot)
	return nil
}

func (a *app) mergeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "merge [input]",
		Short: "Mosaic GeoTIFFs into a single basemap",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a.inputArg(args)
			start := time.Now()
			res, err := pipeline.Merge(cmd.Context(), a.cfg)
			if err != nil {
				return err
			}
			for _, s := range res.Skipped {
				fmt.Printf("  skipped %s: %v\n", s.Path, s.Err)
			}
			if res.Reason != nil {
				fmt.Printf("  fallback: %v\n", res.Reason)
			}
			fmt.Printf("Done: %dx%d %s mosaic of %d rasters in %v → %s\n",
				res.Width, res.Height, res.Status, len(res.Placements),
				time.Since(start).Round(time.Millisecond), res.Output)
			return nil
		},
	}
}
