package pyramid

import (
	"fmt"

	"github.com/pspoerri/planetiles/internal/raster"
)

// span lists the source samples that contribute to one destination sample.
type span struct {
	start   int
	weights []float64 // normalised, sum to 1
}

// areaSpans computes 1-D area weights for shrinking n source samples to m.
// Destination sample i covers source interval [i*n/m, (i+1)*n/m); each
// overlapped source sample is weighted by its covered length.
func areaSpans(n, m int) []span {
	scale := float64(n) / float64(m)
	spans := make([]span, m)
	for i := range spans {
		lo := float64(i) * scale
		hi := lo + scale
		first := int(lo)
		last := min(int(hi+0.999999), n) // exclusive, tolerate rounding

		ws := make([]float64, 0, last-first)
		var sum float64
		for j := first; j < last; j++ {
			w := min(hi, float64(j+1)) - max(lo, float64(j))
			if w <= 1e-9 {
				if j == first {
					first++
				}
				continue
			}
			ws = append(ws, w)
			sum += w
		}
		for k := range ws {
			ws[k] /= sum
		}
		spans[i] = span{start: first, weights: ws}
	}
	return spans
}

// Resample shrinks src to width x height with an area-weighted box filter
// (every destination sample is the coverage-weighted mean of the source
// samples under it). The sample type is preserved. Enlarging is not
// supported.
func Resample(src *raster.Band, width, height int) (*raster.Band, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid target size %dx%d", width, height)
	}
	if width > src.Width || height > src.Height {
		return nil, fmt.Errorf("cannot upscale %dx%d to %dx%d", src.Width, src.Height, width, height)
	}

	out := raster.NewBand(width, height, src.Type)
	if width == src.Width && height == src.Height {
		copy(out.Pix, src.Pix)
		return out, nil
	}

	xs := areaSpans(src.Width, width)
	ys := areaSpans(src.Height, height)

	// Horizontal pass: src.Height x width.
	tmp := make([]float64, src.Height*width)
	for y := 0; y < src.Height; y++ {
		row := src.Row(y)
		dst := tmp[y*width : (y+1)*width]
		for x, s := range xs {
			var acc float64
			for k, w := range s.weights {
				acc += float64(row[s.start+k]) * w
			}
			dst[x] = acc
		}
	}

	// Vertical pass.
	acc := make([]float64, width)
	for y, s := range ys {
		clear(acc)
		for k, w := range s.weights {
			srow := tmp[(s.start+k)*width : (s.start+k+1)*width]
			for x, v := range srow {
				acc[x] += v * w
			}
		}
		dst := out.Row(y)
		for x, v := range acc {
			dst[x] = src.Type.Clamp(float32(v))
		}
	}
	return out, nil
}
