package encode

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"strings"

	"github.com/gen2brain/webp"
)

// FormatOf returns the tile format for a file name by its extension.
func FormatOf(path string) (string, bool) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".png":
		return "png", true
	case ".jpg", ".jpeg":
		return "jpeg", true
	case ".webp":
		return "webp", true
	}
	return "", false
}

// Decode decodes tile bytes in the named format.
func Decode(data []byte, format string) (image.Image, error) {
	r := bytes.NewReader(data)
	switch strings.ToLower(format) {
	case "png":
		return png.Decode(r)
	case "jpeg", "jpg":
		return jpeg.Decode(r)
	case "webp":
		return webp.Decode(r)
	}
	return nil, fmt.Errorf("unsupported tile format: %q", format)
}

// TileInfo summarises a written tile file.
type TileInfo struct {
	Format        string
	Width, Height int
	// Lo and Hi are the darkest and brightest gray values in the tile.
	Lo, Hi uint8
}

// ReadTile decodes the tile at path, choosing the decoder by extension.
func ReadTile(path string) (*TileInfo, error) {
	format, ok := FormatOf(path)
	if !ok {
		return nil, fmt.Errorf("%s: not a tile file", path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	img, err := Decode(data, format)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	b := img.Bounds()
	info := &TileInfo{Format: format, Width: b.Dx(), Height: b.Dy(), Lo: 255}
	if b.Empty() {
		info.Lo = 0
		return info, nil
	}
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			g := color.GrayModel.Convert(img.At(x, y)).(color.Gray).Y
			info.Lo = min(info.Lo, g)
			info.Hi = max(info.Hi, g)
		}
	}
	return info, nil
}
