// Package tilestore persists encoded pyramid tiles under deterministic keys
// of the form {source}/level_{L}/{x}_{y}{ext}, either in a local directory
// tree or in a gocloud.dev blob bucket.
package tilestore

import (
	"context"
	"fmt"
	"path"
	"strings"
)

// Store is a tile destination. WriteTile is safe for concurrent use.
type Store interface {
	WriteTile(source string, level, x, y int, data []byte) error
	Close() error
}

// Key returns the slash-separated tile key. A client can recover the tile's
// level and pixel origin from the key alone.
func Key(source string, level, x, y int, ext string) string {
	return path.Join(source, fmt.Sprintf("level_%d", level), fmt.Sprintf("%d_%d%s", x, y, ext))
}

// Open returns a bucket store when root is a URL (file://, mem://, gs://)
// and a directory store otherwise.
func Open(ctx context.Context, root, ext string) (Store, error) {
	if strings.Contains(root, "://") {
		return OpenBucket(ctx, root, ext)
	}
	return NewDir(root, ext)
}
