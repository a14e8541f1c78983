package tilestore

import (
	"fmt"
	"os"
	"path/filepath"
)

// Dir writes tiles below a local root directory.
type Dir struct {
	root string
	ext  string
}

// NewDir creates root if needed.
func NewDir(root, ext string) (*Dir, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("creating tile root: %w", err)
	}
	return &Dir{root: root, ext: ext}, nil
}

// Path returns the file path of a tile.
func (d *Dir) Path(source string, level, x, y int) string {
	return filepath.Join(d.root, filepath.FromSlash(Key(source, level, x, y, d.ext)))
}

// WriteTile writes the tile to a temporary file and renames it into place,
// so a tile file is either absent or complete.
func (d *Dir) WriteTile(source string, level, x, y int, data []byte) error {
	p := d.Path(source, level, x, y)
	dir := filepath.Dir(p)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	f, err := os.CreateTemp(dir, ".tile-*")
	if err != nil {
		return err
	}
	tmp := f.Name()
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, p); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}

func (d *Dir) Close() error { return nil }
