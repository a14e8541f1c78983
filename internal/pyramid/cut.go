package pyramid

import (
	"image"
	"iter"

	"github.com/pspoerri/planetiles/internal/raster"
)

// Tile is one cut of a level. X and Y are the pixel origin in level space,
// always multiples of the tile size.
type Tile struct {
	Level int
	X, Y  int
	Band  *raster.Band
}

// Cut partitions b into tileSize squares, rows outer and columns inner.
// Tiles on the right and bottom edges are clipped to the band, never padded.
// The sequence is lazy: each tile's samples are copied only when yielded.
func Cut(level int, b *raster.Band, tileSize int) iter.Seq[Tile] {
	return func(yield func(Tile) bool) {
		if tileSize <= 0 {
			return
		}
		for y := 0; y < b.Height; y += tileSize {
			for x := 0; x < b.Width; x += tileSize {
				sub := b.Sub(image.Rect(x, y, x+tileSize, y+tileSize))
				if !yield(Tile{Level: level, X: x, Y: y, Band: sub}) {
					return
				}
			}
		}
	}
}

// TileCount returns the number of tiles Cut yields for a width x height level.
func TileCount(width, height, tileSize int) int {
	if tileSize <= 0 {
		return 0
	}
	return ceilDiv(width, tileSize) * ceilDiv(height, tileSize)
}
