// Package mosaic merges several single-band rasters into one basemap.
//
// Inputs are merged in caller order. When every input carries a compatible
// north-up or south-up transform they are placed by world position and the
// first input wins wherever inputs overlap. Otherwise they are stacked side
// by side on a blank canvas and the result is marked StatusPositional.
package mosaic

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log"
	"os"
	"path/filepath"

	"github.com/pspoerri/planetiles/internal/raster"
)

var (
	// ErrNoInputs is returned when none of the inputs could be loaded.
	ErrNoInputs = errors.New("no usable mosaic inputs")
	// ErrGeoMergeInfeasible marks transforms that cannot be merged by world
	// position. It triggers the positional fallback and is never fatal.
	ErrGeoMergeInfeasible = errors.New("geo-merge infeasible")
)

// DefaultMaxPixels bounds the geo-merge canvas (about 4 GiB of float32).
const DefaultMaxPixels = 1 << 30

// Status tells how the output canvas was assembled.
type Status int

const (
	StatusGeoreferenced Status = iota
	StatusPositional
)

func (s Status) String() string {
	switch s {
	case StatusGeoreferenced:
		return "georeferenced"
	case StatusPositional:
		return "positional"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// Options controls Merge.
type Options struct {
	// WorkDir receives orientation-fixed copies. Empty means next to the source.
	WorkDir string
	// FixOrientation rewrites inputs with a negative vertical coefficient
	// flipped and without georeferencing before merging.
	FixOrientation bool
	// MaxPixels caps the geo-merge canvas; larger unions fall back.
	MaxPixels   int64
	Compression raster.Compression
	Verbose     bool
}

// DefaultOptions returns the options used by the command line tool.
func DefaultOptions() Options {
	return Options{
		FixOrientation: true,
		MaxPixels:      DefaultMaxPixels,
		Compression:    raster.CompressionLZW,
	}
}

// Skipped records an input that could not be used.
type Skipped struct {
	Path string
	Kind raster.Kind
	Err  error
}

// Placement is where an input's pixel (0,0) landed on the canvas.
type Placement struct {
	Path   string
	Origin image.Point
}

// Result describes a written mosaic.
type Result struct {
	Output        string
	Width, Height int
	Transform     raster.GeoTransform
	Georeferenced bool
	Status        Status
	// Reason holds the geo-merge rejection when Status is StatusPositional.
	Reason     error
	Placements []Placement
	Skipped    []Skipped
	Fixed      []string // orientation-fixed files written during load
}

// Merge combines the rasters at paths, in the given order, into one
// single-band GeoTIFF at output. Unreadable inputs are skipped and listed in
// the result. Only an empty input set or a failed output write is fatal; no
// partial output file is left behind in either case.
func Merge(ctx context.Context, paths []string, output string, opts Options) (*Result, error) {
	if opts.MaxPixels <= 0 {
		opts.MaxPixels = DefaultMaxPixels
	}

	res := &Result{Output: output}
	inputs := load(ctx, paths, opts, res)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(inputs) == 0 {
		return res, ErrNoInputs
	}

	m, err := geoMerge(ctx, inputs, opts.MaxPixels)
	if errors.Is(err, ErrGeoMergeInfeasible) {
		log.Printf("Geo-merge not possible (%v); stacking %d inputs side by side", err, len(inputs))
		res.Reason = err
		m, err = positionalMerge(ctx, inputs)
	}
	if err != nil {
		return nil, err
	}

	res.Width, res.Height = m.canvas.Width, m.canvas.Height
	res.Transform = m.transform
	res.Georeferenced = m.georeferenced
	res.Status = m.status
	res.Placements = m.placements

	if opts.Verbose {
		log.Printf("Mosaic %dx%d (%s) from %d inputs", m.canvas.Width, m.canvas.Height, m.status, len(inputs))
	}

	wo := raster.WriteOptions{
		Transform:     m.transform,
		Georeferenced: m.georeferenced,
		Compression:   opts.Compression,
	}
	if m.georeferenced {
		wo.GeoKeys = &inputs[0].keys
	}
	if first := inputs[0]; first.hasNoData {
		wo.NoData, wo.HasNoData = first.nodata, true
	}
	if err := os.MkdirAll(filepath.Dir(output), 0o755); err != nil {
		return nil, &raster.Error{Kind: raster.MergeWriteFailure, Path: output, Err: err}
	}
	if err := raster.WriteFile(output, m.canvas, wo); err != nil {
		return nil, &raster.Error{Kind: raster.MergeWriteFailure, Path: output, Err: err}
	}
	return res, nil
}

// merged is an assembled canvas before it is written.
type merged struct {
	canvas        *raster.Band
	transform     raster.GeoTransform
	georeferenced bool
	status        Status
	placements    []Placement
}
