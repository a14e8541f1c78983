// Command rasterinfo prints the structure of a GeoTIFF and the pyramid
// planetiles would build from it. Given a written tile (.png, .jpg, .webp)
// it prints the tile's format, size and gray range instead.
package main

import (
	"fmt"
	"image"
	"os"

	"github.com/dustin/go-humanize"

	"github.com/pspoerri/planetiles/internal/encode"
	"github.com/pspoerri/planetiles/internal/pyramid"
	"github.com/pspoerri/planetiles/internal/raster"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintf(os.Stderr, "Usage: rasterinfo <file.tif|tile>\n")
		os.Exit(1)
	}

	if _, ok := encode.FormatOf(os.Args[1]); ok {
		tileInfo(os.Args[1])
		return
	}

	r, err := raster.Open(os.Args[1])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer r.Close()

	if fi, err := os.Stat(os.Args[1]); err == nil {
		fmt.Printf("File: %s (%s)\n", os.Args[1], humanize.Bytes(uint64(fi.Size())))
	}
	fmt.Printf("Size: %d x %d, %s\n", r.Width(), r.Height(), r.Type())

	l := r.Layout()
	kind := "strips"
	if l.Tiled {
		kind = "tiles"
	}
	fmt.Printf("Layout: %s %dx%d, compression %d, predictor %d, %d sample(s)/pixel, %d IFD(s), BigTIFF=%v\n",
		kind, l.BlockWidth, l.BlockHeight, l.Compression, l.Predictor, l.SamplesPerPixel, l.IFDCount, l.BigTIFF)

	if nd, ok := r.NoData(); ok {
		fmt.Printf("NoData: %g\n", nd)
	}

	if r.Georeferenced() {
		gt := r.Transform()
		fmt.Printf("EPSG: %d\n", r.EPSG())
		fmt.Printf("Transform: [%g, %g, %g, %g, %g, %g]\n", gt[0], gt[1], gt[2], gt[3], gt[4], gt[5])
		fmt.Printf("Orientation: flipped=%v rotated=%v\n", r.Flipped(), gt.Rotated())
		b := r.Bounds()
		fmt.Printf("Bounds: X=[%f, %f], Y=[%f, %f]\n", b.Min[0], b.Max[0], b.Min[1], b.Max[1])
	} else {
		fmt.Printf("Georeferenced: no\n")
	}

	levels, err := pyramid.Plan(r.Width(), r.Height(), 0)
	if err == nil {
		fmt.Printf("\nPyramid (tile size %d):\n", pyramid.DefaultTileSize)
		for _, lvl := range levels {
			fmt.Printf("  level %2d: %6d x %-6d scale 1/%-5d %d tiles\n",
				lvl.Index, lvl.Width, lvl.Height, lvl.Scale,
				pyramid.TileCount(lvl.Width, lvl.Height, pyramid.DefaultTileSize))
		}
	}

	// Read a corner window to check decoding.
	win := image.Rect(0, 0, min(r.Width(), 256), min(r.Height(), 256))
	b, err := r.ReadWindow(win)
	if err != nil {
		fmt.Printf("\nReadWindow(%v): ERROR: %v\n", win, err)
		os.Exit(1)
	}
	fmt.Printf("\nReadWindow(%v): OK\n", win)
	samplePixels(b, 5)
	if lo, hi, ok := b.Range(r.NoData()); ok {
		fmt.Printf("  Window range: [%g, %g]\n", lo, hi)
	}
}

func samplePixels(b *raster.Band, count int) {
	step := max(b.Width/(count+1), 1)
	fmt.Printf("  Sample pixels (diagonal):\n")
	for i := 0; i < count; i++ {
		x := (i + 1) * step
		y := (i + 1) * step
		if x >= b.Width || y >= b.Height {
			break
		}
		fmt.Printf("    (%d,%d): %g\n", x, y, b.At(x, y))
	}
}

func tileInfo(path string) {
	info, err := encode.ReadTile(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if fi, err := os.Stat(path); err == nil {
		fmt.Printf("File: %s (%s)\n", path, humanize.Bytes(uint64(fi.Size())))
	}
	fmt.Printf("Tile: %s %d x %d\n", info.Format, info.Width, info.Height)
	fmt.Printf("Gray range: [%d, %d]\n", info.Lo, info.Hi)
}
