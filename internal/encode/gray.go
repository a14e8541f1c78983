package encode

import (
	"image"
	"math"

	"github.com/pspoerri/planetiles/internal/raster"
)

// Stretch maps band samples linearly onto 0..255. One Stretch is computed
// per raster so every pyramid level shares the same display mapping.
type Stretch struct {
	Lo, Hi    float32
	NoData    float32
	HasNoData bool
}

// NewStretch derives the display mapping for b. 8-bit bands map through
// unchanged; wider types are stretched between their valid min and max.
func NewStretch(b *raster.Band, nodata float64, hasNoData bool) Stretch {
	s := Stretch{Lo: 0, Hi: 255, NoData: float32(nodata), HasNoData: hasNoData}
	if b.Type == raster.Uint8 {
		return s
	}
	if lo, hi, ok := b.Range(nodata, hasNoData); ok {
		s.Lo, s.Hi = lo, hi
	}
	return s
}

// Apply converts one sample. Nodata and NaN map to 0.
func (s Stretch) Apply(v float32) uint8 {
	if (s.HasNoData && v == s.NoData) || v != v {
		return 0
	}
	if s.Hi <= s.Lo {
		if v >= s.Hi {
			return 255
		}
		return 0
	}
	f := float64(v-s.Lo) / float64(s.Hi-s.Lo) * 255
	return uint8(math.Max(0, math.Min(255, math.Floor(f+0.5))))
}

// ToGray renders b as an 8-bit gray image.
func ToGray(b *raster.Band, s Stretch) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, b.Width, b.Height))
	for y := 0; y < b.Height; y++ {
		row := b.Row(y)
		dst := img.Pix[y*img.Stride : y*img.Stride+b.Width]
		for x, v := range row {
			dst[x] = s.Apply(v)
		}
	}
	return img
}
