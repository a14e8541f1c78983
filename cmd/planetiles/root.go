package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/pspoerri/planetiles/internal/config"
	"github.com/pspoerri/planetiles/internal/logging"
)

// app carries state shared by the subcommands of one invocation.
type app struct {
	v       *viper.Viper
	cfgFile string
	cfg     config.Config
	logs    io.Closer
}

func newRootCmd() *cobra.Command {
	return newApp().rootCmd()
}

func newApp() *app {
	return &app{v: viper.New()}
}

func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "planetiles",
		Short: "Tile pyramids and basemaps from planetary raster products",
		Long: `planetiles turns raw PDS image products into web-viewable tile pyramids.

Stages can run one at a time or end to end:
  fetch     scrape a volume's data/ listing and download .IMG/.LBL products
  convert   convert raw .IMG products into GeoTIFFs
  label     write JSON metadata sidecars from the product labels
  tile      cut every GeoTIFF into a {source}/level_{L}/{x}_{y}.jpg pyramid
  merge     mosaic the GeoTIFFs into one basemap GeoTIFF
  run       fetch, convert, label and tile in sequence

Examples:
  planetiles run --volume-url https://pds-imaging.jpl.nasa.gov/data/mro/ctx/mrox_0001 --download-limit 5
  planetiles tile --input ctx_tif --output s3tiles --min-level 5
  planetiles merge --input ctx_tif --merge-output ctx_basemap.tif`,
		Version:       fmt.Sprintf("%s (commit %s, built %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.logs != nil {
				a.logs.Close()
			}
		},
	}

	a.bindFlags(root)
	root.AddCommand(
		a.fetchCmd(),
		a.convertCmd(),
		a.labelCmd(),
		a.tileCmd(),
		a.mergeCmd(),
		a.runCmd(),
	)
	return root
}

func (a *app) bindFlags(root *cobra.Command) {
	d := config.Default()
	f := root.PersistentFlags()

	f.StringVar(&a.cfgFile, "config", "", "config file (default is $HOME/.planetiles.yaml)")
	f.BoolP(config.KeyVerbose, "v", d.Verbose, "verbose progress output")
	f.String(config.KeyLogFile, d.LogFile, "also write log messages to this rotating file")
	f.Int(config.KeyLogMaxSize, d.LogMaxSizeMB, "rotate the log file after this many MB")
	f.Int(config.KeyLogMaxAge, d.LogMaxAgeDays, "delete rotated log files older than this many days")

	f.StringP(config.KeyInput, "i", d.InputPath, "GeoTIFF file or directory (convert output, tile and merge input)")
	f.StringP(config.KeyOutput, "o", d.OutputRoot, "tile root directory or bucket URL (file://, mem://, gs://)")
	f.Int(config.KeyTileSize, d.TileSize, "tile size in pixels")
	f.Int(config.KeyMinLevel, d.MinLevel, "coarsest pyramid level to write")
	f.Int(config.KeyDownloadLimit, d.DownloadLimit, "download at most this many products (0 = all)")
	f.Duration(config.KeyDelay, d.Delay, "pause between downloads")
	f.String(config.KeyVolumeURL, d.VolumeURL, "PDS volume URL whose data/ listing is downloaded")
	f.String(config.KeyRawDir, d.RawDir, "directory for downloaded raw products")
	f.String(config.KeyMetadataDir, d.MetadataDir, "directory for JSON metadata sidecars")
	f.String(config.KeyMergeOutput, d.MergeOutput, "merged basemap GeoTIFF")
	f.String(config.KeyWorkDir, d.WorkDir, "directory for orientation-fixed copies (default: beside each input)")
	f.String(config.KeyFormat, d.Format, "tile encoding: jpeg, png, webp")
	f.Int(config.KeyQuality, d.Quality, "JPEG/WebP quality 1-100")
	f.String(config.KeyCompression, d.Compression, "GeoTIFF compression: lzw, deflate, none")
	f.Int(config.KeyConcurrency, d.Concurrency, "parallel tile encoders and converters")
	f.Bool(config.KeyFromSource, d.FromSource, "resample every level from full resolution")
	f.Bool(config.KeyFixOrientation, d.FixOrientation, "flip rasters stored upside down before merging")
	f.Bool(config.KeyRequireMeta, d.RequireMetadata, "merge only rasters that have a metadata sidecar")
	f.String(config.KeyUserAgent, d.UserAgent, "HTTP User-Agent header")

	f.VisitAll(func(fl *pflag.Flag) {
		if fl.Name != "config" {
			a.v.BindPFlag(fl.Name, fl)
		}
	})
}

// setup reads the config file and environment, builds the Config and sets
// up logging. It runs before every subcommand.
func (a *app) setup() error {
	config.SetDefaults(a.v)
	config.BindEnv(a.v)

	if a.cfgFile != "" {
		a.v.SetConfigFile(a.cfgFile)
	} else if home, err := os.UserHomeDir(); err == nil {
		a.v.AddConfigPath(home)
		a.v.SetConfigType("yaml")
		a.v.SetConfigName(".planetiles")
	}
	if err := a.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) || a.cfgFile != "" {
			return fmt.Errorf("reading config: %w", err)
		}
	} else {
		fmt.Fprintln(os.Stderr, "Using config file:", a.v.ConfigFileUsed())
	}

	cfg, err := config.FromViper(a.v)
	if err != nil {
		return fmt.Errorf("invalid configuration:\n%w", err)
	}
	a.cfg = cfg
	a.logs = logging.Setup(logging.Options{
		File:       cfg.LogFile,
		MaxSizeMB:  cfg.LogMaxSizeMB,
		MaxAgeDays: cfg.LogMaxAgeDays,
		Verbose:    cfg.Verbose,
	})
	return nil
}

// inputArg lets tile and merge take the input path positionally.
func (a *app) inputArg(args []string) {
	if len(args) == 1 {
		a.cfg.InputPath = filepath.Clean(args[0])
	}
}
