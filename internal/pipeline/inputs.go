package pipeline

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/pspoerri/planetiles/internal/mosaic"
)

// CollectTIFFs returns the GeoTIFFs named by path: the file itself, or the
// .tif/.tiff files directly inside a directory, sorted by name.
// Orientation-fixed copies written by a previous merge are skipped.
func CollectTIFFs(path string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	if !info.IsDir() {
		if !isTIFF(path) {
			return nil, fmt.Errorf("%s is not a .tif/.tiff file", path)
		}
		return []string{path}, nil
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, fmt.Errorf("readdir %s: %w", path, err)
	}
	var result []string
	for _, e := range entries {
		if !e.IsDir() && isTIFF(e.Name()) && !isFixed(e.Name()) {
			result = append(result, filepath.Join(path, e.Name()))
		}
	}
	slices.Sort(result)
	return result, nil
}

func isTIFF(name string) bool {
	lower := strings.ToLower(name)
	return strings.HasSuffix(lower, ".tif") || strings.HasSuffix(lower, ".tiff")
}

func isFixed(name string) bool {
	return strings.HasSuffix(SourceName(name), mosaic.FixedSuffix)
}

// SourceName is the tile directory name for a raster: its base name
// without extension.
func SourceName(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// WithMetadata keeps the rasters that have a {name}.json sidecar in
// metaDir.
func WithMetadata(paths []string, metaDir string) []string {
	var out []string
	for _, p := range paths {
		if _, err := os.Stat(filepath.Join(metaDir, SourceName(p)+".json")); err == nil {
			out = append(out, p)
		}
	}
	return out
}
