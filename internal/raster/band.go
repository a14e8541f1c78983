package raster

import (
	"fmt"
	"image"
	"math"
)

// SampleType is the on-disk data type of a band's samples.
type SampleType uint8

const (
	Uint8 SampleType = iota + 1
	Uint16
	Int16
	Float32
)

func (t SampleType) String() string {
	switch t {
	case Uint8:
		return "uint8"
	case Uint16:
		return "uint16"
	case Int16:
		return "int16"
	case Float32:
		return "float32"
	default:
		return fmt.Sprintf("SampleType(%d)", uint8(t))
	}
}

// Bits returns the sample width in bits.
func (t SampleType) Bits() int {
	switch t {
	case Uint8:
		return 8
	case Uint16, Int16:
		return 16
	case Float32:
		return 32
	default:
		return 0
	}
}

// tiffSampleFormat returns the TIFF SampleFormat tag value.
func (t SampleType) tiffSampleFormat() uint16 {
	switch t {
	case Int16:
		return 2
	case Float32:
		return 3
	default:
		return 1
	}
}

// sampleTypeFor maps TIFF BitsPerSample/SampleFormat to a SampleType.
func sampleTypeFor(bits, format uint16) (SampleType, error) {
	switch {
	case bits == 8 && (format == 1 || format == 0):
		return Uint8, nil
	case bits == 16 && (format == 1 || format == 0):
		return Uint16, nil
	case bits == 16 && format == 2:
		return Int16, nil
	case bits == 32 && format == 3:
		return Float32, nil
	default:
		return 0, fmt.Errorf("unsupported sample layout: %d bits, format %d", bits, format)
	}
}

// Clamp rounds and clamps v to the representable range of t. Float32
// values pass through unchanged.
func (t SampleType) Clamp(v float32) float32 {
	var lo, hi float32
	switch t {
	case Uint8:
		lo, hi = 0, math.MaxUint8
	case Uint16:
		lo, hi = 0, math.MaxUint16
	case Int16:
		lo, hi = math.MinInt16, math.MaxInt16
	default:
		return v
	}
	v = float32(math.Floor(float64(v) + 0.5))
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Band is a single raster band held in memory. Samples are stored as
// float32, which represents every supported SampleType exactly; Type
// records the source data type so writers and encoders can restore it.
type Band struct {
	Width  int
	Height int
	Type   SampleType
	Pix    []float32 // row-major, len == Width*Height
}

// NewBand allocates a zeroed band.
func NewBand(width, height int, t SampleType) *Band {
	return &Band{
		Width:  width,
		Height: height,
		Type:   t,
		Pix:    make([]float32, width*height),
	}
}

// Bounds returns the band extent as a rectangle anchored at the origin.
func (b *Band) Bounds() image.Rectangle {
	return image.Rect(0, 0, b.Width, b.Height)
}

// At returns the sample at (x, y).
func (b *Band) At(x, y int) float32 {
	return b.Pix[y*b.Width+x]
}

// Set stores v at (x, y), rounded and clamped to the band's type.
func (b *Band) Set(x, y int, v float32) {
	b.Pix[y*b.Width+x] = b.Type.Clamp(v)
}

// Row returns the samples of row y, aliasing the band's storage.
func (b *Band) Row(y int) []float32 {
	return b.Pix[y*b.Width : (y+1)*b.Width]
}

// Fill sets every sample to v.
func (b *Band) Fill(v float32) {
	v = b.Type.Clamp(v)
	for i := range b.Pix {
		b.Pix[i] = v
	}
}

// Sub returns a copy of the samples inside r, clipped to the band bounds.
// The result is never padded: a rectangle crossing the right or bottom
// edge yields a smaller band.
func (b *Band) Sub(r image.Rectangle) *Band {
	r = r.Intersect(b.Bounds())
	out := NewBand(r.Dx(), r.Dy(), b.Type)
	for y := 0; y < out.Height; y++ {
		src := b.Pix[(r.Min.Y+y)*b.Width+r.Min.X:]
		copy(out.Row(y), src[:out.Width])
	}
	return out
}

// FlipVertical reverses the row order in place.
func (b *Band) FlipVertical() {
	tmp := make([]float32, b.Width)
	for top, bot := 0, b.Height-1; top < bot; top, bot = top+1, bot-1 {
		rt, rb := b.Row(top), b.Row(bot)
		copy(tmp, rt)
		copy(rt, rb)
		copy(rb, tmp)
	}
}

// Range returns the minimum and maximum sample, skipping samples equal to
// nodata when hasNoData is set. ok is false when no valid sample exists.
func (b *Band) Range(nodata float64, hasNoData bool) (lo, hi float32, ok bool) {
	nd := float32(nodata)
	lo, hi = math.MaxFloat32, -math.MaxFloat32
	for _, v := range b.Pix {
		if hasNoData && v == nd {
			continue
		}
		if v != v { // NaN
			continue
		}
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
		ok = true
	}
	if !ok {
		return 0, 0, false
	}
	return lo, hi, true
}
