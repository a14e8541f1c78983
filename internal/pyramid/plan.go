package pyramid

import (
	"fmt"
	"math/bits"
)

// Level describes one resolution of a raster pyramid. Index MaxLevel is full
// resolution; index 0 is the coarsest.
type Level struct {
	Index  int
	Scale  int // 2^(max-index), source pixels per level pixel along each axis
	Width  int
	Height int
}

// MaxLevel returns ceil(log2(max(width, height))): the number of halvings
// needed to bring the larger dimension down to a single pixel.
func MaxLevel(width, height int) int {
	m := max(width, height)
	if m <= 1 {
		return 0
	}
	return bits.Len(uint(m - 1))
}

// Plan returns the pyramid levels of a width x height raster, highest index
// first, stopping at minLevel. minLevel is clamped to [0, MaxLevel].
func Plan(width, height, minLevel int) ([]Level, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid raster dimensions %dx%d", width, height)
	}
	maxLevel := MaxLevel(width, height)
	minLevel = min(max(minLevel, 0), maxLevel)

	levels := make([]Level, 0, maxLevel-minLevel+1)
	for l := maxLevel; l >= minLevel; l-- {
		scale := 1 << (maxLevel - l)
		levels = append(levels, Level{
			Index:  l,
			Scale:  scale,
			Width:  ceilDiv(width, scale),
			Height: ceilDiv(height, scale),
		})
	}
	return levels, nil
}

func ceilDiv(a, b int) int {
	return (a + b - 1) / b
}
