package mosaic

import (
	"context"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/pspoerri/planetiles/internal/raster"
)

// FixedSuffix is appended to the base name of orientation-fixed copies.
const FixedSuffix = "_fixed"

// input is a loaded mosaic source. The reader is closed as soon as the band
// has been extracted.
type input struct {
	path          string
	band          *raster.Band
	transform     raster.GeoTransform
	georeferenced bool
	epsg          int
	keys          raster.GeoKeys
	nodata        float64
	hasNoData     bool
}

// load reads every path in order. Failures are recorded in res.Skipped.
func load(ctx context.Context, paths []string, opts Options, res *Result) []input {
	var inputs []input
	for _, p := range paths {
		if ctx.Err() != nil {
			return nil
		}
		in, err := loadOne(p)
		if err == nil && opts.FixOrientation && in.georeferenced && in.transform.Flipped() {
			var fixed string
			fixed, err = fixOrientation(in, opts.WorkDir)
			if err == nil {
				log.Printf("Flipped %s -> %s", filepath.Base(p), filepath.Base(fixed))
				res.Fixed = append(res.Fixed, fixed)
				in, err = loadOne(fixed)
				in.path = p
			}
		}
		if err != nil {
			log.Printf("Warning: skipping %s: %v", p, err)
			res.Skipped = append(res.Skipped, Skipped{Path: p, Kind: raster.KindOf(err), Err: err})
			continue
		}
		inputs = append(inputs, in)
	}
	return inputs
}

func loadOne(path string) (input, error) {
	r, err := raster.Open(path)
	if err != nil {
		return input{}, err
	}
	defer r.Close()

	band, err := r.ReadBand()
	if err != nil {
		return input{}, err
	}
	nd, hasND := r.NoData()
	return input{
		path:          path,
		band:          band,
		transform:     r.Transform(),
		georeferenced: r.Georeferenced(),
		epsg:          r.EPSG(),
		keys:          *r.GeoKeys(),
		nodata:        nd,
		hasNoData:     hasND,
	}, nil
}

// FixedPath returns where the orientation-fixed copy of src is written.
func FixedPath(src, workDir string) string {
	dir := workDir
	if dir == "" {
		dir = filepath.Dir(src)
	}
	base := strings.TrimSuffix(filepath.Base(src), filepath.Ext(src))
	return filepath.Join(dir, base+FixedSuffix+".tif")
}

// fixOrientation writes in's band flipped vertically, so that row 0 is the
// world-maximum row, with no georeferencing. The work directory is created
// when missing. A failed write is a MergeWriteFailure for the fixed copy;
// the source itself was read fine.
func fixOrientation(in input, workDir string) (string, error) {
	fixed := FixedPath(in.path, workDir)
	if err := os.MkdirAll(filepath.Dir(fixed), 0o755); err != nil {
		return "", &raster.Error{Kind: raster.MergeWriteFailure, Path: fixed, Err: err}
	}
	in.band.FlipVertical()
	err := raster.WriteFile(fixed, in.band, raster.WriteOptions{
		NoData:    in.nodata,
		HasNoData: in.hasNoData,
	})
	if err != nil {
		return "", &raster.Error{Kind: raster.MergeWriteFailure, Path: fixed, Err: err}
	}
	return fixed, nil
}
