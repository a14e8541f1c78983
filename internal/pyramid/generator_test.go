package pyramid

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image/jpeg"
	"strings"
	"sync"
	"testing"

	"github.com/pspoerri/planetiles/internal/encode"
	"github.com/pspoerri/planetiles/internal/raster"
)

// memWriter collects tiles in memory keyed by level/x/y.
type memWriter struct {
	mu    sync.Mutex
	tiles map[string][]byte
	fail  func(level, x, y int) bool
}

func newMemWriter() *memWriter {
	return &memWriter{tiles: make(map[string][]byte)}
}

func (m *memWriter) WriteTile(source string, level, x, y int, data []byte) error {
	if m.fail != nil && m.fail(level, x, y) {
		return errors.New("disk full")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tiles[fmt.Sprintf("%s/level_%d/%d_%d", source, level, x, y)] = data
	return nil
}

func (m *memWriter) count(level int) int {
	prefix := fmt.Sprintf("level_%d/", level)
	n := 0
	for k := range m.tiles {
		if strings.Contains(k, "/"+prefix) {
			n++
		}
	}
	return n
}

func gradientBand(w, h int) *raster.Band {
	b := raster.NewBand(w, h, raster.Uint16)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			b.Set(x, y, float32(x*3+y))
		}
	}
	return b
}

func TestGenerateScenario600x400(t *testing.T) {
	for _, conc := range []int{1, 4} {
		t.Run(fmt.Sprintf("concurrency=%d", conc), func(t *testing.T) {
			w := newMemWriter()
			stats, err := Generate(context.Background(), Config{
				TileSize:    256,
				MinLevel:    5,
				Concurrency: conc,
				Encoder:     &encode.JPEGEncoder{Quality: 85},
			}, "ctx", gradientBand(600, 400), w)
			if err != nil {
				t.Fatal(err)
			}
			if stats.Levels != 6 {
				t.Errorf("levels = %d, want 6 (10..5)", stats.Levels)
			}
			if got := w.count(10); got != 6 {
				t.Errorf("level 10 tiles = %d, want 6", got)
			}
			for _, key := range []string{"ctx/level_10/0_0", "ctx/level_10/512_256", "ctx/level_9/256_0", "ctx/level_5/0_0"} {
				if _, ok := w.tiles[key]; !ok {
					t.Errorf("missing tile %s", key)
				}
			}
			if _, ok := w.tiles["ctx/level_4/0_0"]; ok {
				t.Error("level below MinLevel was generated")
			}

			// Levels 10: 6 tiles, 9: 300x200 -> 2, 8..5: 1 each.
			if stats.TileCount != 12 || stats.Failed() != 0 {
				t.Errorf("stats = %+v", stats)
			}

			// Edge tile keeps its clipped size: 600-512 x 400-256.
			cfg, err := jpeg.DecodeConfig(bytes.NewReader(w.tiles["ctx/level_10/512_256"]))
			if err != nil {
				t.Fatal(err)
			}
			if cfg.Width != 88 || cfg.Height != 144 {
				t.Errorf("edge tile = %dx%d, want 88x144", cfg.Width, cfg.Height)
			}
		})
	}
}

func TestGenerateFromSourceMatchesDimensions(t *testing.T) {
	w := newMemWriter()
	stats, err := Generate(context.Background(), Config{
		TileSize:   64,
		FromSource: true,
		Encoder:    &encode.PNGEncoder{},
	}, "src", gradientBand(130, 70), w)
	if err != nil {
		t.Fatal(err)
	}
	// maxLevel 8; level 8: 3x2 tiles, level 7 (65x35): 2x1, levels 6..0: 1 each.
	if stats.Levels != 9 || stats.TileCount != 6+2+7 {
		t.Errorf("stats = %+v", stats)
	}
	img, err := encode.Decode(w.tiles["src/level_7/64_0"], "png")
	if err != nil {
		t.Fatal(err)
	}
	if b := img.Bounds(); b.Dx() != 1 || b.Dy() != 35 {
		t.Errorf("level 7 edge tile = %v, want 1x35", b)
	}
}

func TestGenerateIsolatesTileFailures(t *testing.T) {
	w := newMemWriter()
	w.fail = func(level, x, y int) bool { return level == 10 && x == 256 }

	stats, err := Generate(context.Background(), Config{
		TileSize:    256,
		MinLevel:    9,
		Concurrency: 2,
	}, "bad", gradientBand(600, 400), w)
	if err != nil {
		t.Fatalf("tile failures must not abort generation: %v", err)
	}
	if stats.Failed() != 2 {
		t.Fatalf("failed = %d, want 2", stats.Failed())
	}
	for _, f := range stats.FailedTiles {
		if raster.KindOf(f.Err) != raster.TileWriteFailure {
			t.Errorf("failure kind = %v", raster.KindOf(f.Err))
		}
	}
	if stats.TileCount != 4+2 {
		t.Errorf("written = %d, want 6", stats.TileCount)
	}
}

func TestGenerateCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Generate(ctx, Config{}, "x", gradientBand(10, 10), newMemWriter())
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}
