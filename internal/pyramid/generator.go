package pyramid

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/sync/errgroup"

	"github.com/pspoerri/planetiles/internal/encode"
	"github.com/pspoerri/planetiles/internal/raster"
)

// DefaultTileSize is the edge length of a full tile in pixels.
const DefaultTileSize = 256

// Config holds pyramid generation settings.
type Config struct {
	TileSize    int
	MinLevel    int
	Concurrency int  // tiles encoded and written in parallel within a level; <=1 is sequential
	FromSource  bool // resample every level from full resolution instead of the next-finer level
	Encoder     encode.Encoder
	NoData      float64
	HasNoData   bool
	Verbose     bool
	Progress    bool // draw a progress bar when stderr is a terminal
}

// TileWriter persists one encoded tile. Implementations must be safe for
// concurrent use when Concurrency > 1.
type TileWriter interface {
	WriteTile(source string, level, x, y int, data []byte) error
}

// FailedTile records a tile that could not be encoded or written.
type FailedTile struct {
	Level, X, Y int
	Err         error
}

// Stats summarises one Generate call.
type Stats struct {
	Levels      int
	TileCount   int64
	TotalBytes  int64
	FailedTiles []FailedTile
}

// Failed returns the number of tiles that could not be written.
func (s Stats) Failed() int { return len(s.FailedTiles) }

// Generate builds the pyramid of band and writes every tile of every planned
// level through w, finest level first. A tile that fails to encode or write
// is logged and recorded in Stats.FailedTiles; the remaining tiles are still
// produced. The returned error is non-nil only for invalid input or a
// cancelled context.
func Generate(ctx context.Context, cfg Config, source string, band *raster.Band, w TileWriter) (Stats, error) {
	if cfg.TileSize <= 0 {
		cfg.TileSize = DefaultTileSize
	}
	if cfg.Encoder == nil {
		cfg.Encoder = &encode.JPEGEncoder{}
	}

	levels, err := Plan(band.Width, band.Height, cfg.MinLevel)
	if err != nil {
		return Stats{}, fmt.Errorf("planning %s: %w", source, err)
	}

	stretch := encode.NewStretch(band, cfg.NoData, cfg.HasNoData)
	if cfg.Verbose {
		log.Printf("%s: %dx%d %s, levels %d..%d, display range [%g, %g]",
			source, band.Width, band.Height, band.Type, levels[0].Index, levels[len(levels)-1].Index, stretch.Lo, stretch.Hi)
	}

	var (
		stats      Stats
		tileCount  atomic.Int64
		totalBytes atomic.Int64
		mu         sync.Mutex
	)
	start := time.Now()

	prev := band
	for _, lvl := range levels {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		cur := band
		if lvl.Width != band.Width || lvl.Height != band.Height {
			from := prev
			if cfg.FromSource {
				from = band
			}
			if cur, err = Resample(from, lvl.Width, lvl.Height); err != nil {
				return stats, fmt.Errorf("resampling %s level %d: %w", source, lvl.Index, err)
			}
		}

		n := TileCount(lvl.Width, lvl.Height, cfg.TileSize)
		if cfg.Verbose {
			log.Printf("%s level %d: %dx%d, %d tiles", source, lvl.Index, lvl.Width, lvl.Height, n)
		}
		var pb *progressBar
		if cfg.Progress && stderrIsTerminal() {
			pb = newProgressBar(os.Stderr, fmt.Sprintf("%s L%d", source, lvl.Index), int64(n))
		}

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(max(cfg.Concurrency, 1))
		for t := range Cut(lvl.Index, cur, cfg.TileSize) {
			if gctx.Err() != nil {
				break
			}
			g.Go(func() error {
				if pb != nil {
					defer pb.Increment()
				}
				data, err := cfg.Encoder.Encode(encode.ToGray(t.Band, stretch))
				if err == nil {
					err = w.WriteTile(source, t.Level, t.X, t.Y, data)
				}
				if err != nil {
					err = &raster.Error{
						Kind: raster.TileWriteFailure,
						Path: fmt.Sprintf("%s/level_%d/%d_%d", source, t.Level, t.X, t.Y),
						Err:  err,
					}
					log.Printf("Warning: %v", err)
					mu.Lock()
					stats.FailedTiles = append(stats.FailedTiles, FailedTile{Level: t.Level, X: t.X, Y: t.Y, Err: err})
					mu.Unlock()
					return nil
				}
				tileCount.Add(1)
				totalBytes.Add(int64(len(data)))
				return nil
			})
		}
		g.Wait()
		if pb != nil {
			pb.Finish()
		}

		stats.Levels++
		stats.TileCount = tileCount.Load()
		stats.TotalBytes = totalBytes.Load()
		prev = cur
	}
	if err := ctx.Err(); err != nil {
		return stats, err
	}

	if cfg.Verbose {
		log.Printf("%s: %d tiles (%s) in %s, %d failed",
			source, stats.TileCount, humanize.Bytes(uint64(stats.TotalBytes)),
			time.Since(start).Round(time.Millisecond), stats.Failed())
	}
	return stats, nil
}
