package raster

import (
	"bufio"
	"encoding/binary"
	"errors"
	"image"
	"os"
	"path/filepath"
	"testing"
)

func writeTestFile(t *testing.T, dir, name string, b *Band, opts WriteOptions) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := WriteFile(path, b, opts); err != nil {
		t.Fatalf("WriteFile(%s): %v", name, err)
	}
	return path
}

func openTest(t *testing.T, path string) *Reader {
	t.Helper()
	r, err := Open(path)
	if err != nil {
		t.Fatalf("Open(%s): %v", path, err)
	}
	t.Cleanup(func() { r.Close() })
	return r
}

func TestWriteReadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	types := []SampleType{Uint8, Uint16, Int16, Float32}
	comps := []Compression{CompressionLZW, CompressionDeflate, CompressionNone}

	for _, typ := range types {
		for _, comp := range comps {
			t.Run(typ.String()+"/"+comp.String(), func(t *testing.T) {
				// 300 rows of 257 samples spans several strips for every type.
				src := NewBand(257, 300, typ)
				for i := range src.Pix {
					v := float32(i%251) - 100
					if typ == Uint8 || typ == Uint16 {
						v = float32(i % 251)
					}
					if typ == Float32 {
						v += 0.25
					}
					src.Pix[i] = v
				}

				path := writeTestFile(t, dir, typ.String()+"-"+comp.String()+".tif", src, WriteOptions{Compression: comp})
				r := openTest(t, path)

				if r.Width() != 257 || r.Height() != 300 {
					t.Fatalf("size = %dx%d, want 257x300", r.Width(), r.Height())
				}
				if r.Type() != typ {
					t.Errorf("Type() = %v, want %v", r.Type(), typ)
				}
				if r.Layout().Compression != comp.tiffCode() {
					t.Errorf("compression tag = %d, want %d", r.Layout().Compression, comp.tiffCode())
				}

				got, err := r.ReadBand()
				if err != nil {
					t.Fatalf("ReadBand: %v", err)
				}
				for i := range src.Pix {
					if got.Pix[i] != src.Pix[i] {
						t.Fatalf("sample %d = %v, want %v", i, got.Pix[i], src.Pix[i])
					}
				}
			})
		}
	}
}

func TestWriteReadGeoreferencing(t *testing.T) {
	dir := t.TempDir()
	keys := &GeoKeys{
		Directory: []uint16{1, 1, 0, 2, gkModelTypeGeoKey, 0, 1, 1, gkProjectedCSTypeGeoKey, 0, 1, 32767},
		Doubles:   []float64{3396190},
		ASCII:     "Mars equirectangular|",
	}

	tests := []struct {
		name string
		gt   GeoTransform
	}{
		{"north-up", GeoTransform{1000, 6, 0, 5000, 0, -6}},
		{"south-up", GeoTransform{-200, 5, 0, -300, 0, 5}},
		{"rotated", GeoTransform{10, 2, 0.5, 20, 0.25, -2}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeTestFile(t, dir, tt.name+".tif", rampBand(8, 6, Uint8), WriteOptions{
				Transform:     tt.gt,
				Georeferenced: true,
				GeoKeys:       keys,
				NoData:        -9999,
				HasNoData:     true,
			})
			r := openTest(t, path)

			if !r.Georeferenced() {
				t.Fatal("Georeferenced() = false")
			}
			if r.Transform() != tt.gt {
				t.Errorf("Transform() = %v, want %v", r.Transform(), tt.gt)
			}
			if r.Flipped() != (tt.gt[5] < 0) {
				t.Errorf("Flipped() = %v", r.Flipped())
			}
			nd, ok := r.NoData()
			if !ok || nd != -9999 {
				t.Errorf("NoData() = %v, %v", nd, ok)
			}
			k := r.GeoKeys()
			if len(k.Directory) != len(keys.Directory) || k.ASCII != keys.ASCII || len(k.Doubles) != 1 {
				t.Errorf("GeoKeys() = %+v, want %+v", k, keys)
			}
			if r.EPSG() != 0 {
				t.Errorf("EPSG() = %d, want 0 for user-defined CRS", r.EPSG())
			}
		})
	}
}

func TestWriteReadEPSG(t *testing.T) {
	path := writeTestFile(t, t.TempDir(), "epsg.tif", rampBand(4, 4, Uint8), WriteOptions{
		Transform:     GeoTransform{0, 1, 0, 0, 0, -1},
		Georeferenced: true,
		GeoKeys:       &GeoKeys{Directory: []uint16{1, 1, 0, 1, gkGeographicTypeGeoKey, 0, 1, 4326}},
	})
	if got := openTest(t, path).EPSG(); got != 4326 {
		t.Errorf("EPSG() = %d, want 4326", got)
	}
}

func TestNonGeoreferencedRaster(t *testing.T) {
	path := writeTestFile(t, t.TempDir(), "plain.tif", rampBand(5, 5, Uint8), WriteOptions{
		Transform: GeoTransform{1, 2, 3, 4, 5, 6}, // ignored without Georeferenced
	})
	r := openTest(t, path)
	if r.Georeferenced() {
		t.Error("Georeferenced() = true, want false")
	}
	if r.Transform() != PlaceholderTransform {
		t.Errorf("Transform() = %v, want placeholder", r.Transform())
	}
	if r.Flipped() {
		t.Error("Flipped() = true for non-georeferenced raster")
	}
	if _, ok := r.NoData(); ok {
		t.Error("NoData() reported a value that was never written")
	}
}

func TestWorldFileSidecar(t *testing.T) {
	dir := t.TempDir()
	path := writeTestFile(t, dir, "side.tif", rampBand(4, 4, Uint8), WriteOptions{})
	tfw := "10\n0\n0\n-10\n105\n395\n"
	if err := os.WriteFile(filepath.Join(dir, "side.tfw"), []byte(tfw), 0o644); err != nil {
		t.Fatal(err)
	}

	r := openTest(t, path)
	if !r.Georeferenced() {
		t.Fatal("world file not picked up")
	}
	want := GeoTransform{100, 10, 0, 400, 0, -10}
	if r.Transform() != want {
		t.Errorf("Transform() = %v, want %v", r.Transform(), want)
	}
	b := r.Bounds()
	if b.Min[0] != 100 || b.Max[0] != 140 || b.Min[1] != 360 || b.Max[1] != 400 {
		t.Errorf("Bounds() = %v", b)
	}
}

func TestReadWindow(t *testing.T) {
	src := rampBand(100, 90, Uint16)
	path := writeTestFile(t, t.TempDir(), "win.tif", src, WriteOptions{})
	r := openTest(t, path)

	for _, win := range []image.Rectangle{
		image.Rect(0, 0, 100, 90),
		image.Rect(10, 20, 35, 21),
		image.Rect(99, 89, 100, 90),
	} {
		got, err := r.ReadWindow(win)
		if err != nil {
			t.Fatalf("ReadWindow(%v): %v", win, err)
		}
		want := src.Sub(win)
		if got.Width != want.Width || got.Height != want.Height {
			t.Fatalf("ReadWindow(%v) size %dx%d, want %dx%d", win, got.Width, got.Height, want.Width, want.Height)
		}
		for i := range want.Pix {
			if got.Pix[i] != want.Pix[i] {
				t.Fatalf("ReadWindow(%v) sample %d = %v, want %v", win, i, got.Pix[i], want.Pix[i])
			}
		}
	}

	_, err := r.ReadWindow(image.Rect(50, 50, 150, 60))
	if KindOf(err) != DecodeFailure {
		t.Errorf("out-of-bounds window: kind = %v, want DecodeFailure", KindOf(err))
	}
}

func TestOpenErrors(t *testing.T) {
	dir := t.TempDir()
	garbage := filepath.Join(dir, "garbage.tif")
	if err := os.WriteFile(garbage, []byte("this is not a tiff file at all"), 0o644); err != nil {
		t.Fatal(err)
	}
	tiny := filepath.Join(dir, "tiny.tif")
	if err := os.WriteFile(tiny, []byte("II"), 0o644); err != nil {
		t.Fatal(err)
	}

	for _, p := range []string{filepath.Join(dir, "missing.tif"), garbage, tiny} {
		_, err := Open(p)
		if err == nil {
			t.Errorf("Open(%s) succeeded", filepath.Base(p))
			continue
		}
		if KindOf(err) != SourceUnreadable {
			t.Errorf("Open(%s) kind = %v, want SourceUnreadable", filepath.Base(p), KindOf(err))
		}
		var re *Error
		if !errors.As(err, &re) || re.Path != p {
			t.Errorf("Open(%s) error path not recorded: %v", filepath.Base(p), err)
		}
	}
}

func TestCorruptBlockIsDecodeFailure(t *testing.T) {
	path := writeTestFile(t, t.TempDir(), "corrupt.tif", rampBand(16, 16, Uint8), WriteOptions{})

	r, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	off := int64(r.ifds[0].Offsets[0])
	r.Close()

	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.WriteAt([]byte{0xff, 0xff, 0xff, 0xff}, off); err != nil {
		t.Fatal(err)
	}
	f.Close()

	r = openTest(t, path)
	if _, err := r.ReadBand(); KindOf(err) != DecodeFailure {
		t.Errorf("ReadBand kind = %v (%v), want DecodeFailure", KindOf(err), err)
	}
}

func TestClosedReaderPanics(t *testing.T) {
	path := writeTestFile(t, t.TempDir(), "closed.tif", rampBand(2, 2, Uint8), WriteOptions{})
	r, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := r.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := r.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}

	defer func() {
		if recover() == nil {
			t.Error("Width() on closed reader did not panic")
		}
	}()
	r.Width()
}

func TestWriteFileLeavesNothingOnFailure(t *testing.T) {
	dir := t.TempDir()
	if err := WriteFile(filepath.Join(dir, "missing", "out.tif"), rampBand(2, 2, Uint8), WriteOptions{}); err == nil {
		t.Error("expected error writing into a missing directory")
	}

	// Renaming onto a non-empty directory fails after the data is written.
	target := filepath.Join(dir, "taken")
	if err := os.MkdirAll(filepath.Join(target, "child"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := WriteFile(target, rampBand(2, 2, Uint8), WriteOptions{}); err == nil {
		t.Fatal("expected rename error")
	}
	entries, _ := os.ReadDir(dir)
	for _, e := range entries {
		if e.Name() != "taken" {
			t.Errorf("leftover file %s", e.Name())
		}
	}
}

func TestParseCompression(t *testing.T) {
	tests := []struct {
		in      string
		want    Compression
		wantErr bool
	}{
		{"", CompressionLZW, false},
		{"LZW", CompressionLZW, false},
		{"deflate", CompressionDeflate, false},
		{"none", CompressionNone, false},
		{"jpeg", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseCompression(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParseCompression(%q) = %v, %v", tt.in, got, err)
		}
	}
}

func TestUndoHorizontalPredictor(t *testing.T) {
	bo := binary.LittleEndian
	// Two rows of 4 samples, differenced.
	buf8 := []byte{10, 1, 1, 1, 5, 255, 0, 2}
	undoHorizontalPredictor(buf8, bo, 4, 2, 1, 1)
	want8 := []byte{10, 11, 12, 13, 5, 4, 4, 6}
	for i := range want8 {
		if buf8[i] != want8[i] {
			t.Fatalf("8-bit predictor: got %v, want %v", buf8, want8)
		}
	}

	buf16 := make([]byte, 6)
	bo.PutUint16(buf16[0:], 1000)
	bo.PutUint16(buf16[2:], 24)
	bo.PutUint16(buf16[4:], 0xffff) // -1
	undoHorizontalPredictor(buf16, bo, 3, 1, 1, 2)
	for i, want := range []uint16{1000, 1024, 1023} {
		if got := bo.Uint16(buf16[i*2:]); got != want {
			t.Errorf("16-bit sample %d = %d, want %d", i, got, want)
		}
	}
}

// writeTiledTIFF writes an uncompressed tiled TIFF so the tile layout path
// of the reader is covered; WriteFile only produces strips.
func writeTiledTIFF(t *testing.T, path string, b *Band, tile int) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	tw := &tiffWriter{w: bufio.NewWriter(f)}
	tw.writeHeader()

	across := (b.Width + tile - 1) / tile
	down := (b.Height + tile - 1) / tile
	var offsets, counts []uint64
	for ty := 0; ty < down; ty++ {
		for tx := 0; tx < across; tx++ {
			buf := make([]byte, tile*tile)
			for y := 0; y < tile; y++ {
				for x := 0; x < tile; x++ {
					sx, sy := tx*tile+x, ty*tile+y
					if sx < b.Width && sy < b.Height {
						buf[y*tile+x] = byte(b.At(sx, sy))
					}
				}
			}
			offsets = append(offsets, tw.pos)
			counts = append(counts, uint64(len(buf)))
			tw.write(buf)
		}
	}

	ifd := tw.writeIFD([]ifdEntry{
		tw.longs(tagImageWidth, uint64(b.Width)),
		tw.longs(tagImageLength, uint64(b.Height)),
		shorts(tagBitsPerSample, 8),
		shorts(tagCompression, compressionNone),
		shorts(tagPhotometric, photometricBlackIsZero),
		shorts(tagSamplesPerPixel, 1),
		tw.longs(tagTileWidth, uint64(tile)),
		tw.longs(tagTileLength, uint64(tile)),
		tw.longs(tagTileOffsets, offsets...),
		tw.longs(tagTileByteCounts, counts...),
	})
	if tw.err != nil {
		t.Fatal(tw.err)
	}
	if err := tw.w.Flush(); err != nil {
		t.Fatal(err)
	}
	if err := tw.patchHeader(f, ifd); err != nil {
		t.Fatal(err)
	}
}

func TestReadTiledLayout(t *testing.T) {
	src := NewBand(40, 25, Uint8)
	for i := range src.Pix {
		src.Pix[i] = float32(i % 256)
	}
	path := filepath.Join(t.TempDir(), "tiled.tif")
	writeTiledTIFF(t, path, src, 16)

	r := openTest(t, path)
	if l := r.Layout(); !l.Tiled || l.BlockWidth != 16 || l.BlockHeight != 16 {
		t.Fatalf("Layout() = %+v", l)
	}
	win := image.Rect(5, 7, 38, 25)
	got, err := r.ReadWindow(win)
	if err != nil {
		t.Fatal(err)
	}
	want := src.Sub(win)
	for i := range want.Pix {
		if got.Pix[i] != want.Pix[i] {
			t.Fatalf("sample %d = %v, want %v", i, got.Pix[i], want.Pix[i])
		}
	}
}
