// Package pipeline runs the batch stages over directories: download,
// conversion, metadata extraction, tiling and merging. Per-file failures are
// collected into summaries; only a stage with nothing usable fails as a
// whole.
package pipeline

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log"
	"path/filepath"
	"slices"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/samber/lo"

	"github.com/pspoerri/planetiles/internal/config"
	"github.com/pspoerri/planetiles/internal/fetch"
	"github.com/pspoerri/planetiles/internal/mosaic"
	"github.com/pspoerri/planetiles/internal/pds"
	"github.com/pspoerri/planetiles/internal/pyramid"
	"github.com/pspoerri/planetiles/internal/raster"
	"github.com/pspoerri/planetiles/internal/tilestore"
)

// ErrNoUsableRasters is returned when every input of a batch failed.
var ErrNoUsableRasters = errors.New("no usable rasters")

// Failure is one raster that could not be processed.
type Failure struct {
	Path string
	Kind raster.Kind
	Err  error
}

// Summary aggregates a TileDir run.
type Summary struct {
	Processed   int
	Failures    []Failure
	Tiles       int64
	Bytes       int64
	FailedTiles int
}

// Err returns ErrNoUsableRasters when inputs existed but none succeeded.
func (s Summary) Err() error {
	if s.Processed == 0 {
		return ErrNoUsableRasters
	}
	return nil
}

// String renders the one-line report printed after a run.
func (s Summary) String() string {
	return fmt.Sprintf("%d rasters tiled, %d failed; %s tiles (%s), %d tiles failed",
		s.Processed, len(s.Failures), humanize.Comma(s.Tiles), humanize.Bytes(uint64(s.Bytes)), s.FailedTiles)
}

// FailuresByKind counts failures per error kind.
func (s Summary) FailuresByKind() map[raster.Kind]int {
	return lo.CountValuesBy(s.Failures, func(f Failure) raster.Kind { return f.Kind })
}

// TileDir tiles every GeoTIFF under cfg.InputPath into store. Each raster is
// opened, read and closed before its pyramid is generated. The returned
// error is non-nil when the input cannot be listed, ctx is cancelled, or no
// raster could be tiled.
func TileDir(ctx context.Context, cfg config.Config, store tilestore.Store) (Summary, error) {
	var sum Summary
	paths, err := CollectTIFFs(cfg.InputPath)
	if err != nil {
		return sum, err
	}
	if len(paths) == 0 {
		return sum, fmt.Errorf("%w: no GeoTIFFs in %s", ErrNoUsableRasters, cfg.InputPath)
	}
	enc, err := cfg.Encoder()
	if err != nil {
		return sum, err
	}

	for i, p := range paths {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		log.Printf("[%d/%d] Tiling %s", i+1, len(paths), filepath.Base(p))

		band, nodata, hasNoData, err := readRaster(p)
		if err != nil {
			log.Printf("Warning: skipping %s: %v", filepath.Base(p), err)
			sum.Failures = append(sum.Failures, Failure{Path: p, Kind: raster.KindOf(err), Err: err})
			continue
		}

		stats, err := pyramid.Generate(ctx, pyramid.Config{
			TileSize:    cfg.TileSize,
			MinLevel:    cfg.MinLevel,
			Concurrency: cfg.Concurrency,
			FromSource:  cfg.FromSource,
			Encoder:     enc,
			NoData:      nodata,
			HasNoData:   hasNoData,
			Verbose:     cfg.Verbose,
			Progress:    true,
		}, SourceName(p), band, store)
		sum.Tiles += stats.TileCount
		sum.Bytes += stats.TotalBytes
		sum.FailedTiles += stats.Failed()
		if err != nil {
			if ctx.Err() != nil {
				return sum, ctx.Err()
			}
			sum.Failures = append(sum.Failures, Failure{Path: p, Kind: raster.KindOf(err), Err: err})
			continue
		}
		sum.Processed++
	}
	return sum, sum.Err()
}

// readRaster loads band 1 and releases the file before returning.
func readRaster(path string) (b *raster.Band, nodata float64, hasNoData bool, err error) {
	r, err := raster.Open(path)
	if err != nil {
		return nil, 0, false, err
	}
	defer r.Close()
	nodata, hasNoData = r.NoData()
	b, err = r.ReadBand()
	return b, nodata, hasNoData, err
}

// Merge mosaics the GeoTIFFs under cfg.InputPath into cfg.MergeOutput, in
// name order. With cfg.RequireMetadata only rasters that have a metadata
// sidecar are used.
func Merge(ctx context.Context, cfg config.Config) (*mosaic.Result, error) {
	paths, err := CollectTIFFs(cfg.InputPath)
	if err != nil {
		return nil, err
	}
	if cfg.RequireMetadata {
		n := len(paths)
		paths = WithMetadata(paths, cfg.MetadataDir)
		if cfg.Verbose {
			log.Printf("%d of %d rasters have metadata in %s", len(paths), n, cfg.MetadataDir)
		}
	}
	log.Printf("Merging %d rasters into %s", len(paths), cfg.MergeOutput)
	return mosaic.Merge(ctx, paths, cfg.MergeOutput, mosaic.Options{
		WorkDir:        cfg.WorkDir,
		FixOrientation: cfg.FixOrientation,
		Compression:    cfg.GeoTIFFCompression(),
		Verbose:        cfg.Verbose,
	})
}

// Fetch lists the products of cfg.VolumeURL and downloads them into
// cfg.RawDir.
func Fetch(ctx context.Context, cfg config.Config, c *fetch.Client) (fetch.Summary, error) {
	if cfg.VolumeURL == "" {
		return fetch.Summary{}, fmt.Errorf("no volume URL configured (--%s)", config.KeyVolumeURL)
	}
	links, err := c.ListLinks(ctx, cfg.VolumeURL)
	if err != nil {
		return fetch.Summary{}, err
	}
	log.Printf("Found %d products under %s", len(links), fetch.DataURL(cfg.VolumeURL))
	return c.Download(ctx, links, cfg.RawDir, fetch.Options{
		Limit:   cfg.DownloadLimit,
		Delay:   cfg.Delay,
		Verbose: cfg.Verbose,
	})
}

// Convert turns the raw images in cfg.RawDir into GeoTIFFs in
// cfg.InputPath.
func Convert(ctx context.Context, cfg config.Config) (pds.ConvertSummary, error) {
	return pds.ConvertDir(ctx, cfg.RawDir, cfg.InputPath, pds.ConvertOptions{
		Compression: cfg.GeoTIFFCompression(),
		Concurrency: cfg.Concurrency,
		Verbose:     cfg.Verbose,
	})
}

// Label writes metadata sidecars for the raw images in cfg.RawDir.
func Label(cfg config.Config) (pds.SidecarSummary, error) {
	return pds.WriteSidecars(cfg.RawDir, cfg.MetadataDir)
}

// Run executes fetch, convert, label and tile in order. Fetch is skipped
// when no volume URL is configured, so previously downloaded files can be
// reprocessed offline.
func Run(ctx context.Context, cfg config.Config, c *fetch.Client, store tilestore.Store) (Summary, error) {
	if cfg.VolumeURL != "" {
		fs, err := Fetch(ctx, cfg, c)
		if err != nil {
			return Summary{}, fmt.Errorf("fetch: %w", err)
		}
		log.Printf("Fetch: %d downloaded (%s), %d already present, %d failed",
			fs.Downloaded, humanize.Bytes(uint64(fs.Bytes)), fs.Skipped, len(fs.Failures))
	} else {
		log.Printf("No volume URL configured; using files already in %s", cfg.RawDir)
	}

	cs, err := Convert(ctx, cfg)
	if err != nil {
		return Summary{}, fmt.Errorf("convert: %w", err)
	}
	log.Printf("Convert: %d converted, %d up to date, %d failed", cs.Converted, cs.Skipped, len(cs.Failures))

	ls, err := Label(cfg)
	if err != nil {
		return Summary{}, fmt.Errorf("label: %w", err)
	}
	log.Printf("Label: %d sidecars, %d failed", ls.Written, len(ls.Failures))

	sum, err := TileDir(ctx, cfg, store)
	if err != nil {
		return sum, fmt.Errorf("tile: %w", err)
	}
	return sum, nil
}

// FailureReport lists failures one per line, ordered by kind then path.
func FailureReport(fs []Failure) string {
	sorted := slices.Clone(fs)
	slices.SortStableFunc(sorted, func(a, b Failure) int {
		if c := cmp.Compare(a.Kind, b.Kind); c != 0 {
			return c
		}
		return strings.Compare(a.Path, b.Path)
	})
	var b strings.Builder
	for _, f := range sorted {
		fmt.Fprintf(&b, "  %s: %s: %v\n", f.Kind, filepath.Base(f.Path), f.Err)
	}
	return b.String()
}
