package mosaic

import (
	"context"
	"image"

	"github.com/samber/lo"

	"github.com/pspoerri/planetiles/internal/raster"
)

// positionalMerge stacks the inputs left to right, top-aligned, on a zero
// canvas of sum(widths) x max(heights). World positions are discarded.
func positionalMerge(ctx context.Context, inputs []input) (*merged, error) {
	width := lo.SumBy(inputs, func(in input) int { return in.band.Width })
	height := lo.Max(lo.Map(inputs, func(in input, _ int) int { return in.band.Height }))

	canvas := raster.NewBand(width, height, inputs[0].band.Type)
	m := &merged{
		canvas:    canvas,
		transform: raster.PlaceholderTransform,
		status:    StatusPositional,
	}

	x := 0
	for _, in := range inputs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for y := 0; y < in.band.Height; y++ {
			dst := canvas.Row(y)[x : x+in.band.Width]
			for i, v := range in.band.Row(y) {
				dst[i] = canvas.Type.Clamp(v)
			}
		}
		m.placements = append(m.placements, Placement{Path: in.path, Origin: image.Pt(x, 0)})
		x += in.band.Width
	}
	return m, nil
}
