// Package config holds the settings shared by every planetiles command.
// A Config is built once, from defaults overlaid with viper (flags, config
// file, PLANETILES_* environment), and passed explicitly to each stage.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/pspoerri/planetiles/internal/encode"
	"github.com/pspoerri/planetiles/internal/fetch"
	"github.com/pspoerri/planetiles/internal/pyramid"
	"github.com/pspoerri/planetiles/internal/raster"
)

// Keys used for flags, config files and environment variables.
const (
	KeyInput          = "input"
	KeyOutput         = "output"
	KeyTileSize       = "tile-size"
	KeyMinLevel       = "min-level"
	KeyDownloadLimit  = "download-limit"
	KeyDelay          = "delay"
	KeyVolumeURL      = "volume-url"
	KeyRawDir         = "raw-dir"
	KeyMetadataDir    = "metadata-dir"
	KeyMergeOutput    = "merge-output"
	KeyWorkDir        = "work-dir"
	KeyFormat         = "format"
	KeyQuality        = "quality"
	KeyCompression    = "compression"
	KeyConcurrency    = "concurrency"
	KeyFromSource     = "from-source"
	KeyFixOrientation = "fix-orientation"
	KeyRequireMeta    = "require-metadata"
	KeyVerbose        = "verbose"
	KeyLogFile        = "log-file"
	KeyLogMaxSize     = "log-max-size"
	KeyLogMaxAge      = "log-max-age"
	KeyUserAgent      = "user-agent"
)

// EnvPrefix is prepended to every key for environment lookups, with dashes
// turned into underscores: PLANETILES_TILE_SIZE.
const EnvPrefix = "PLANETILES"

// Config is the full set of pipeline settings.
type Config struct {
	InputPath     string        // GeoTIFF file or directory to tile and merge
	OutputRoot    string        // tile root: directory or bucket URL
	TileSize      int           // full tile edge in pixels
	MinLevel      int           // coarsest pyramid level written; clamped to the pyramid
	DownloadLimit int           // 0 downloads every listed product
	Delay         time.Duration // pause between downloads

	VolumeURL   string // PDS volume root; its data/ listing is scraped
	RawDir      string // downloaded .IMG/.LBL files
	MetadataDir string // JSON sidecars
	MergeOutput string // mosaic GeoTIFF
	WorkDir     string // orientation-fixed copies; empty means beside each input

	Format          string // jpeg, png or webp
	Quality         int
	Compression     string // GeoTIFF compression: lzw, deflate or none
	Concurrency     int
	FromSource      bool
	FixOrientation  bool
	RequireMetadata bool // merge only rasters that have a metadata sidecar

	Verbose       bool
	LogFile       string
	LogMaxSizeMB  int
	LogMaxAgeDays int
	UserAgent     string
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		InputPath:      "ctx_tif",
		OutputRoot:     "tiles",
		TileSize:       pyramid.DefaultTileSize,
		Delay:          time.Second,
		RawDir:         "ctx_raw",
		MetadataDir:    "ctx_metadata",
		MergeOutput:    "ctx_basemap.tif",
		Format:         "jpeg",
		Quality:        encode.DefaultQuality,
		Compression:    "lzw",
		Concurrency:    1,
		FixOrientation: true,
		LogMaxSizeMB:   100,
		LogMaxAgeDays:  28,
		UserAgent:      fetch.DefaultUserAgent,
	}
}

// SetDefaults registers Default() with v so unset keys resolve to it.
func SetDefaults(v *viper.Viper) {
	d := Default()
	for k, val := range map[string]any{
		KeyInput:          d.InputPath,
		KeyOutput:         d.OutputRoot,
		KeyTileSize:       d.TileSize,
		KeyMinLevel:       d.MinLevel,
		KeyDownloadLimit:  d.DownloadLimit,
		KeyDelay:          d.Delay,
		KeyVolumeURL:      d.VolumeURL,
		KeyRawDir:         d.RawDir,
		KeyMetadataDir:    d.MetadataDir,
		KeyMergeOutput:    d.MergeOutput,
		KeyWorkDir:        d.WorkDir,
		KeyFormat:         d.Format,
		KeyQuality:        d.Quality,
		KeyCompression:    d.Compression,
		KeyConcurrency:    d.Concurrency,
		KeyFromSource:     d.FromSource,
		KeyFixOrientation: d.FixOrientation,
		KeyRequireMeta:    d.RequireMetadata,
		KeyVerbose:        d.Verbose,
		KeyLogFile:        d.LogFile,
		KeyLogMaxSize:     d.LogMaxSizeMB,
		KeyLogMaxAge:      d.LogMaxAgeDays,
		KeyUserAgent:      d.UserAgent,
	} {
		v.SetDefault(k, val)
	}
}

// BindEnv makes v consult PLANETILES_* variables.
func BindEnv(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
}

// FromViper builds a validated Config from v.
func FromViper(v *viper.Viper) (Config, error) {
	c := Config{
		InputPath:       v.GetString(KeyInput),
		OutputRoot:      v.GetString(KeyOutput),
		TileSize:        v.GetInt(KeyTileSize),
		MinLevel:        v.GetInt(KeyMinLevel),
		DownloadLimit:   v.GetInt(KeyDownloadLimit),
		Delay:           v.GetDuration(KeyDelay),
		VolumeURL:       v.GetString(KeyVolumeURL),
		RawDir:          v.GetString(KeyRawDir),
		MetadataDir:     v.GetString(KeyMetadataDir),
		MergeOutput:     v.GetString(KeyMergeOutput),
		WorkDir:         v.GetString(KeyWorkDir),
		Format:          v.GetString(KeyFormat),
		Quality:         v.GetInt(KeyQuality),
		Compression:     v.GetString(KeyCompression),
		Concurrency:     v.GetInt(KeyConcurrency),
		FromSource:      v.GetBool(KeyFromSource),
		FixOrientation:  v.GetBool(KeyFixOrientation),
		RequireMetadata: v.GetBool(KeyRequireMeta),
		Verbose:         v.GetBool(KeyVerbose),
		LogFile:         v.GetString(KeyLogFile),
		LogMaxSizeMB:    v.GetInt(KeyLogMaxSize),
		LogMaxAgeDays:   v.GetInt(KeyLogMaxAge),
		UserAgent:       v.GetString(KeyUserAgent),
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate checks every field and reports all problems at once.
func (c Config) Validate() error {
	var errs []error
	if c.TileSize < 16 || c.TileSize > 4096 {
		errs = append(errs, fmt.Errorf("%s must be in [16, 4096], got %d", KeyTileSize, c.TileSize))
	}
	if c.DownloadLimit < 0 {
		errs = append(errs, fmt.Errorf("%s must be >= 0, got %d", KeyDownloadLimit, c.DownloadLimit))
	}
	if c.Delay < 0 {
		errs = append(errs, fmt.Errorf("%s must be >= 0, got %s", KeyDelay, c.Delay))
	}
	if c.Quality < 1 || c.Quality > 100 {
		errs = append(errs, fmt.Errorf("%s must be in [1, 100], got %d", KeyQuality, c.Quality))
	}
	if c.Concurrency < 1 {
		errs = append(errs, fmt.Errorf("%s must be >= 1, got %d", KeyConcurrency, c.Concurrency))
	}
	if _, err := encode.NewEncoder(c.Format, c.Quality); err != nil {
		errs = append(errs, err)
	}
	if _, err := raster.ParseCompression(c.Compression); err != nil {
		errs = append(errs, err)
	}
	if c.LogMaxSizeMB < 0 || c.LogMaxAgeDays < 0 {
		errs = append(errs, fmt.Errorf("log rotation limits must be >= 0"))
	}
	return errors.Join(errs...)
}

// Encoder returns the tile encoder for Format and Quality.
func (c Config) Encoder() (encode.Encoder, error) {
	return encode.NewEncoder(c.Format, c.Quality)
}

// GeoTIFFCompression returns the parsed Compression setting.
func (c Config) GeoTIFFCompression() raster.Compression {
	comp, err := raster.ParseCompression(c.Compression)
	if err != nil {
		return raster.CompressionLZW
	}
	return comp
}
