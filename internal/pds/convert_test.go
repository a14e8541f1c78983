package pds

import (
	"context"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pspoerri/planetiles/internal/raster"
)

// attachedIMG builds a PDS3 file with an attached label padded to
// labelRecords records, followed by lines produced by line(y).
func attachedIMG(t *testing.T, path string, recordBytes, labelRecords int, image string, lines int, line func(y int) []byte) {
	t.Helper()
	label := fmt.Sprintf("PDS_VERSION_ID = PDS3\r\nRECORD_TYPE = FIXED_LENGTH\r\nRECORD_BYTES = %d\r\nLABEL_RECORDS = %d\r\n^IMAGE = %d\r\n%sEND\r\n",
		recordBytes, labelRecords, labelRecords+1, image)
	size := recordBytes * labelRecords
	if len(label) > size {
		t.Fatalf("label is %d bytes, larger than %d", len(label), size)
	}
	data := []byte(label + strings.Repeat(" ", size-len(label)))
	for y := 0; y < lines; y++ {
		data = append(data, line(y)...)
	}
	writeFile(t, path, data)
}

func TestConvertImage8Bit(t *testing.T) {
	dir := t.TempDir()
	img := filepath.Join(dir, "CTX.IMG")
	const w, h = 16, 10
	attachedIMG(t, img, w, 32, `OBJECT = IMAGE
LINES = 10
LINE_SAMPLES = 16
SAMPLE_TYPE = UNSIGNED_INTEGER
SAMPLE_BITS = 8
END_OBJECT = IMAGE
`, h, func(y int) []byte {
		row := make([]byte, w)
		for x := range row {
			row[x] = byte(y*w + x)
		}
		return row
	})

	tif := filepath.Join(dir, "out", "CTX.tif")
	if err := ConvertImage(img, tif, raster.CompressionLZW); err != nil {
		t.Fatalf("ConvertImage: %v", err)
	}

	r, err := raster.Open(tif)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	if r.Width() != w || r.Height() != h || r.Type() != raster.Uint8 {
		t.Fatalf("got %dx%d %v, want %dx%d uint8", r.Width(), r.Height(), r.Type(), w, h)
	}
	if r.Georeferenced() {
		t.Error("converted image should not be georeferenced")
	}
	b, err := r.ReadBand()
	if err != nil {
		t.Fatal(err)
	}
	for _, p := range [][2]int{{0, 0}, {15, 0}, {3, 7}, {15, 9}} {
		if got, want := b.At(p[0], p[1]), float32(p[1]*w+p[0]); got != want {
			t.Errorf("pixel %v = %v, want %v", p, got, want)
		}
	}
}

func TestConvertImage16BitPrefixAndBytePointer(t *testing.T) {
	tests := []struct {
		name       string
		sampleType string
		order      binary.AppendByteOrder
		want       raster.SampleType
		value      func(x, y int) int
	}{
		{"msb signed", "MSB_INTEGER", binary.BigEndian, raster.Int16, func(x, y int) int { return x*100 - y*1000 }},
		{"lsb unsigned", "LSB_UNSIGNED_INTEGER", binary.LittleEndian, raster.Uint16, func(x, y int) int { return x*1000 + y }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			const w, h, prefix = 5, 4, 3
			label := fmt.Sprintf("RECORD_BYTES = 13\n^IMAGE = 257 <BYTES>\nOBJECT = IMAGE\nLINES = %d\nLINE_SAMPLES = %d\nSAMPLE_TYPE = %s\nSAMPLE_BITS = 16\nLINE_PREFIX_BYTES = %d\nMISSING_CONSTANT = -32768\nEND_OBJECT = IMAGE\nEND\n",
				h, w, tt.sampleType, prefix)
			data := []byte(label + strings.Repeat(" ", 256-len(label)))
			for y := 0; y < h; y++ {
				data = append(data, 0xAA, 0xBB, 0xCC)
				for x := 0; x < w; x++ {
					data = tt.order.AppendUint16(data, uint16(int16(tt.value(x, y))))
				}
			}
			img := filepath.Join(dir, "A.IMG")
			writeFile(t, img, data)

			tif := filepath.Join(dir, "A.tif")
			if err := ConvertImage(img, tif, raster.CompressionDeflate); err != nil {
				t.Fatalf("ConvertImage: %v", err)
			}
			r, err := raster.Open(tif)
			if err != nil {
				t.Fatal(err)
			}
			defer r.Close()
			if r.Type() != tt.want {
				t.Errorf("type = %v, want %v", r.Type(), tt.want)
			}
			if nd, ok := r.NoData(); !ok || nd != -32768 {
				t.Errorf("nodata = %v, %v", nd, ok)
			}
			b, err := r.ReadBand()
			if err != nil {
				t.Fatal(err)
			}
			for y := 0; y < h; y++ {
				for x := 0; x < w; x++ {
					want := float32(tt.value(x, y))
					if tt.want == raster.Uint16 {
						want = float32(uint16(int16(tt.value(x, y))))
					}
					if got := b.At(x, y); got != want {
						t.Errorf("(%d,%d) = %v, want %v", x, y, got, want)
					}
				}
			}
		})
	}
}

func TestConvertImageDetachedLabel(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "D.LBL"), []byte(`^IMAGE = ("D.DAT", 2)
RECORD_BYTES = 4
OBJECT = IMAGE
LINES = 2
LINE_SAMPLES = 4
SAMPLE_BITS = 8
END_OBJECT = IMAGE
END
`))
	writeFile(t, filepath.Join(dir, "D.DAT"), []byte{9, 9, 9, 9, 1, 2, 3, 4, 5, 6, 7, 8})
	// The .IMG itself has no label.
	writeFile(t, filepath.Join(dir, "D.IMG"), []byte{0, 1, 2, 3})

	tif := filepath.Join(dir, "D.tif")
	if err := ConvertImage(filepath.Join(dir, "D.IMG"), tif, raster.CompressionNone); err != nil {
		t.Fatalf("ConvertImage: %v", err)
	}
	r, err := raster.Open(tif)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	b, err := r.ReadBand()
	if err != nil {
		t.Fatal(err)
	}
	if b.At(0, 0) != 1 || b.At(3, 1) != 8 {
		t.Errorf("pixels = %v, want 1..8", b.Pix)
	}
}

func TestConvertImageErrors(t *testing.T) {
	dir := t.TempDir()

	noLabel := filepath.Join(dir, "N.IMG")
	writeFile(t, noLabel, []byte{1, 2, 3})

	truncated := filepath.Join(dir, "T.IMG")
	writeFile(t, truncated, []byte("^IMAGE = 100 <BYTES>\nLINES = 10\nLINE_SAMPLES = 10\nSAMPLE_BITS = 8\nEND\n"))

	badBits := filepath.Join(dir, "B.IMG")
	writeFile(t, badBits, []byte("^IMAGE = 1 <BYTES>\nLINES = 1\nLINE_SAMPLES = 1\nSAMPLE_BITS = 12\nEND\n"))

	tests := []struct {
		path string
		want raster.Kind
	}{
		{noLabel, raster.SourceUnreadable},
		{truncated, raster.DecodeFailure},
		{badBits, raster.SourceUnreadable},
	}
	for _, tt := range tests {
		out := tt.path + ".tif"
		err := ConvertImage(tt.path, out, raster.CompressionLZW)
		if err == nil {
			t.Errorf("%s: expected error", filepath.Base(tt.path))
			continue
		}
		if got := raster.KindOf(err); got != tt.want {
			t.Errorf("%s: kind = %v, want %v (%v)", filepath.Base(tt.path), got, tt.want, err)
		}
		if _, err := os.Stat(out); !os.IsNotExist(err) {
			t.Errorf("%s: output left behind", filepath.Base(tt.path))
		}
	}
}

func TestParsePointer(t *testing.T) {
	tests := []struct {
		in    string
		file  string
		n     int
		bytes bool
		err   bool
	}{
		{"12", "", 12, false, false},
		{"4097 <BYTES>", "", 4097, true, false},
		{"X.IMG", "X.IMG", 0, false, false},
		{`("X.IMG", 3)`, "X.IMG", 3, false, false},
		{`("X.IMG", 513 <BYTES>)`, "X.IMG", 513, true, false},
		{"0", "", 0, false, true},
	}
	for _, tt := range tests {
		file, loc, err := parsePointer(tt.in)
		if (err != nil) != tt.err {
			t.Errorf("parsePointer(%q) err = %v", tt.in, err)
			continue
		}
		if tt.err {
			continue
		}
		if file != tt.file || loc.n != tt.n || loc.bytes != tt.bytes {
			t.Errorf("parsePointer(%q) = %q, %+v", tt.in, file, loc)
		}
	}
}

func TestConvertDir(t *testing.T) {
	raw := t.TempDir()
	out := filepath.Join(t.TempDir(), "tif")
	image := "OBJECT = IMAGE\nLINES = 2\nLINE_SAMPLES = 8\nSAMPLE_BITS = 8\nSAMPLE_TYPE = UNSIGNED_INTEGER\nEND_OBJECT = IMAGE\n"
	for _, name := range []string{"A.IMG", "B.IMG", "C.IMG"} {
		attachedIMG(t, filepath.Join(raw, name), 8, 32, image, 2, func(int) []byte { return make([]byte, 8) })
	}
	writeFile(t, filepath.Join(raw, "BROKEN.IMG"), []byte("garbage"))

	// C already converted.
	if err := os.MkdirAll(out, 0o755); err != nil {
		t.Fatal(err)
	}
	writeFile(t, filepath.Join(out, "C.tif"), []byte("existing"))

	sum, err := ConvertDir(context.Background(), raw, out, ConvertOptions{Concurrency: 2})
	if err != nil {
		t.Fatalf("ConvertDir: %v", err)
	}
	if sum.Converted != 2 || sum.Skipped != 1 || len(sum.Failures) != 1 {
		t.Errorf("summary = %+v", sum)
	}
	if _, ok := sum.Failures[filepath.Join(raw, "BROKEN.IMG")]; !ok {
		t.Errorf("BROKEN.IMG not reported: %v", sum.Failures)
	}
	if data, _ := os.ReadFile(filepath.Join(out, "C.tif")); string(data) != "existing" {
		t.Error("existing output was overwritten")
	}
}
