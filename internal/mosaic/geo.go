package mosaic

import (
	"context"
	"fmt"
	"image"
	"math"

	"github.com/paulmach/orb"

	"github.com/pspoerri/planetiles/internal/raster"
)

// infeasible wraps a reason as a GeoMergeInfeasible error.
func infeasible(path, format string, args ...any) error {
	return &raster.Error{
		Kind: raster.GeoMergeInfeasible,
		Path: path,
		Err:  fmt.Errorf("%w: %s", ErrGeoMergeInfeasible, fmt.Sprintf(format, args...)),
	}
}

// checkCompatible reports why inputs cannot be merged by world position.
func checkCompatible(inputs []input) error {
	first := inputs[0]
	for _, in := range inputs {
		gt := in.transform
		switch {
		case !in.georeferenced:
			return infeasible(in.path, "no georeferencing")
		case gt.Rotated():
			return infeasible(in.path, "rotated transform %v", gt)
		case gt[1] == 0 || gt[5] == 0:
			return infeasible(in.path, "degenerate transform %v", gt)
		case math.Signbit(gt[1]) != math.Signbit(first.transform[1]) ||
			math.Signbit(gt[5]) != math.Signbit(first.transform[5]):
			return infeasible(in.path, "axis orientation differs from %s", first.path)
		case in.epsg != 0 && first.epsg != 0 && in.epsg != first.epsg:
			return infeasible(in.path, "EPSG:%d differs from EPSG:%d", in.epsg, first.epsg)
		}
	}
	return nil
}

// snapCeil is math.Ceil that treats values within floating-point noise of
// an integer as that integer.
func snapCeil(v float64) int {
	if r := math.Round(v); math.Abs(v-r) < 1e-6 {
		return int(r)
	}
	return int(math.Ceil(v))
}

func snapFloor(v float64) int {
	if r := math.Round(v); math.Abs(v-r) < 1e-6 {
		return int(r)
	}
	return int(math.Floor(v))
}

// geoMerge places every input by world position on a canvas covering the
// union of their footprints at the finest input resolution. Inputs are
// copied in order and a canvas pixel, once written, is never overwritten.
func geoMerge(ctx context.Context, inputs []input, maxPixels int64) (*merged, error) {
	if err := checkCompatible(inputs); err != nil {
		return nil, err
	}

	first := inputs[0]
	px, py := math.Inf(1), math.Inf(1)
	var union orb.Bound
	for i, in := range inputs {
		b := raster.FootprintOf(in.transform, in.band.Width, in.band.Height)
		if i == 0 {
			union = b
		} else {
			union = union.Union(b)
		}
		px = min(px, math.Abs(in.transform[1]))
		py = min(py, math.Abs(in.transform[5]))
	}

	width := snapCeil((union.Max[0] - union.Min[0]) / px)
	height := snapCeil((union.Max[1] - union.Min[1]) / py)
	if width <= 0 || height <= 0 {
		return nil, infeasible("", "empty union %v", union)
	}
	if int64(width)*int64(height) > maxPixels {
		return nil, infeasible("", "canvas %dx%d exceeds %d pixels", width, height, maxPixels)
	}

	// Same axis directions as the first input, origin at the union corner.
	gt := first.transform
	gt[1] = math.Copysign(px, gt[1])
	gt[5] = math.Copysign(py, gt[5])
	gt[0] = union.Min[0]
	if gt[1] < 0 {
		gt[0] = union.Max[0]
	}
	gt[3] = union.Min[1]
	if gt[5] < 0 {
		gt[3] = union.Max[1]
	}

	canvas := raster.NewBand(width, height, first.band.Type)
	if first.hasNoData {
		canvas.Fill(float32(first.nodata))
	}
	written := make([]bool, width*height)

	m := &merged{canvas: canvas, transform: gt, georeferenced: true, status: StatusGeoreferenced}
	for _, in := range inputs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		origin, err := place(canvas, written, gt, in)
		if err != nil {
			return nil, err
		}
		m.placements = append(m.placements, Placement{Path: in.path, Origin: origin})
	}
	return m, nil
}

// place copies in onto canvas by nearest-sample lookup at canvas pixel
// centres, skipping pixels already written and the input's nodata value.
// It returns the canvas position of the input's pixel (0,0).
func place(canvas *raster.Band, written []bool, gt raster.GeoTransform, in input) (image.Point, error) {
	// Canvas pixel rectangle covered by the input.
	fp := raster.FootprintOf(in.transform, in.band.Width, in.band.Height)
	c0, r0, err := gt.Invert(fp.Min[0], fp.Min[1])
	if err != nil {
		return image.Point{}, err
	}
	c1, r1, err := gt.Invert(fp.Max[0], fp.Max[1])
	if err != nil {
		return image.Point{}, err
	}
	rect := image.Rect(snapFloor(min(c0, c1)), snapFloor(min(r0, r1)), snapCeil(max(c0, c1)), snapCeil(max(r0, r1)))
	rect = rect.Intersect(canvas.Bounds())

	ox, oy, err := gt.Invert(in.transform.Apply(0, 0))
	if err != nil {
		return image.Point{}, err
	}
	origin := image.Pt(snapFloor(ox), snapFloor(oy))

	nd := float32(in.nodata)
	for cy := rect.Min.Y; cy < rect.Max.Y; cy++ {
		for cx := rect.Min.X; cx < rect.Max.X; cx++ {
			i := cy*canvas.Width + cx
			if written[i] {
				continue
			}
			sc, sr, _ := in.transform.Invert(gt.Apply(float64(cx)+0.5, float64(cy)+0.5))
			x, y := int(math.Floor(sc)), int(math.Floor(sr))
			if x < 0 || y < 0 || x >= in.band.Width || y >= in.band.Height {
				continue
			}
			v := in.band.At(x, y)
			if in.hasNoData && v == nd {
				continue
			}
			canvas.Set(cx, cy, v)
			written[i] = true
		}
	}
	return origin, nil
}
