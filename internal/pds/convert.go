package pds

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"log"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/pspoerri/planetiles/internal/raster"
)

// ImageLayout is the on-disk layout of a raw PDS3 image, resolved from its
// label.
type ImageLayout struct {
	DataFile    string // file holding the samples
	Offset      int64  // byte offset of the first line
	Lines       int
	LineSamples int
	SampleBits  int
	SampleType  string
	LinePrefix  int
	LineSuffix  int
	Missing     float64
	HasMissing  bool
	RecordBytes int
}

// Type returns the raster sample type for the layout.
func (il ImageLayout) Type() (raster.SampleType, error) {
	isReal := strings.Contains(il.SampleType, "REAL")
	unsigned := strings.Contains(il.SampleType, "UNSIGNED")
	switch {
	case il.SampleBits == 8 && !isReal:
		return raster.Uint8, nil
	case il.SampleBits == 16 && !isReal && unsigned:
		return raster.Uint16, nil
	case il.SampleBits == 16 && !isReal:
		return raster.Int16, nil
	case il.SampleBits == 32 && isReal:
		return raster.Float32, nil
	}
	return 0, fmt.Errorf("unsupported sample layout %d-bit %s", il.SampleBits, il.SampleType)
}

func (il ImageLayout) byteOrder() binary.ByteOrder {
	if strings.HasPrefix(il.SampleType, "LSB") || strings.HasPrefix(il.SampleType, "PC") ||
		strings.HasPrefix(il.SampleType, "VAX") {
		return binary.LittleEndian
	}
	return binary.BigEndian
}

// Layout resolves the image layout from a label read from labelPath. The
// ^IMAGE pointer may be a record number, a byte offset ("n <BYTES>"), a
// detached file name or a (file, offset) pair.
func Layout(l *Label, labelPath string) (ImageLayout, error) {
	il := ImageLayout{DataFile: labelPath}

	ptr, ok := l.Find("^IMAGE")
	if !ok {
		return il, fmt.Errorf("label has no ^IMAGE pointer")
	}
	if rb, err := l.Int("RECORD_BYTES"); err == nil {
		il.RecordBytes = rb
	}

	file, loc, err := parsePointer(ptr)
	if err != nil {
		return il, err
	}
	if file != "" {
		il.DataFile = filepath.Join(filepath.Dir(labelPath), file)
	}
	switch {
	case loc.bytes:
		il.Offset = int64(loc.n - 1)
	case loc.n > 0:
		if il.RecordBytes <= 0 {
			return il, fmt.Errorf("^IMAGE is a record pointer but RECORD_BYTES is missing")
		}
		il.Offset = int64(loc.n-1) * int64(il.RecordBytes)
	}

	fields := []struct {
		name string
		dst  *int
		need bool
	}{
		{"LINES", &il.Lines, true},
		{"LINE_SAMPLES", &il.LineSamples, true},
		{"SAMPLE_BITS", &il.SampleBits, true},
		{"LINE_PREFIX_BYTES", &il.LinePrefix, false},
		{"LINE_SUFFIX_BYTES", &il.LineSuffix, false},
	}
	for _, f := range fields {
		v, err := imageInt(l, f.name)
		if err != nil {
			if f.need {
				return il, err
			}
			continue
		}
		*f.dst = v
	}
	if il.Lines <= 0 || il.LineSamples <= 0 {
		return il, fmt.Errorf("invalid image size %dx%d", il.LineSamples, il.Lines)
	}

	il.SampleType = "MSB_UNSIGNED_INTEGER"
	if v, ok := imageValue(l, "SAMPLE_TYPE"); ok {
		il.SampleType = strings.ToUpper(v)
	}
	if v, ok := imageValue(l, "MISSING_CONSTANT"); ok {
		if f, err := strconv.ParseFloat(stripUnit(v), 64); err == nil {
			il.Missing, il.HasMissing = f, true
		}
	}
	if _, err := il.Type(); err != nil {
		return il, err
	}
	return il, nil
}

// imageValue prefers the key inside the IMAGE object over the first match
// anywhere in the label.
func imageValue(l *Label, name string) (string, bool) {
	if v, ok := l.Get("IMAGE." + name); ok {
		return v, true
	}
	return l.Find(name)
}

func imageInt(l *Label, name string) (int, error) {
	v, ok := imageValue(l, name)
	if !ok {
		return 0, fmt.Errorf("label has no %s", name)
	}
	n, err := strconv.Atoi(strings.TrimSpace(stripUnit(v)))
	if err != nil {
		return 0, fmt.Errorf("%s: %w", name, err)
	}
	return n, nil
}

type location struct {
	n     int
	bytes bool
}

func parsePointer(v string) (file string, loc location, err error) {
	v = strings.TrimSpace(v)
	if strings.HasPrefix(v, "(") && strings.HasSuffix(v, ")") {
		parts := strings.Split(v[1:len(v)-1], ",")
		file = unquote(strings.TrimSpace(parts[0]))
		if len(parts) > 1 {
			loc, err = parseLocation(parts[1])
		}
		return file, loc, err
	}
	if v != "" && (v[0] == '"' || v[0] < '0' || v[0] > '9') {
		return unquote(v), location{}, nil
	}
	loc, err = parseLocation(v)
	return "", loc, err
}

func parseLocation(s string) (location, error) {
	s = strings.TrimSpace(s)
	bytes := strings.HasSuffix(strings.ToUpper(s), "<BYTES>")
	n, err := strconv.Atoi(strings.TrimSpace(stripUnit(s)))
	if err != nil || n < 1 {
		return location{}, fmt.Errorf("invalid ^IMAGE location %q", s)
	}
	return location{n: n, bytes: bytes}, nil
}

// ReadImage decodes the samples described by il.
func ReadImage(il ImageLayout) (*raster.Band, error) {
	typ, err := il.Type()
	if err != nil {
		return nil, err
	}
	f, err := os.Open(il.DataFile)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	bps := il.SampleBits / 8
	lineBytes := il.LinePrefix + il.LineSamples*bps + il.LineSuffix
	if _, err := f.Seek(il.Offset, io.SeekStart); err != nil {
		return nil, err
	}

	bo := il.byteOrder()
	b := raster.NewBand(il.LineSamples, il.Lines, typ)
	line := make([]byte, lineBytes)
	for y := 0; y < il.Lines; y++ {
		if _, err := io.ReadFull(f, line); err != nil {
			return nil, fmt.Errorf("line %d of %d: %w", y, il.Lines, err)
		}
		samples := line[il.LinePrefix : il.LinePrefix+il.LineSamples*bps]
		row := b.Row(y)
		for x := range row {
			s := samples[x*bps : (x+1)*bps]
			switch typ {
			case raster.Uint8:
				row[x] = float32(s[0])
			case raster.Uint16:
				row[x] = float32(bo.Uint16(s))
			case raster.Int16:
				row[x] = float32(int16(bo.Uint16(s)))
			case raster.Float32:
				row[x] = math.Float32frombits(bo.Uint32(s))
			}
		}
	}
	return b, nil
}

// ConvertImage converts a raw PDS3 image into a non-georeferenced GeoTIFF.
// A detached label next to imgPath (same base name, .LBL) is used when the
// image carries no attached label. Label errors are SourceUnreadable, sample
// errors DecodeFailure.
func ConvertImage(imgPath, tifPath string, compression raster.Compression) error {
	labelPath := imgPath
	l, err := ReadLabel(imgPath)
	if err != nil || !hasPointer(l) {
		if lbl := detachedLabel(imgPath); lbl != "" {
			labelPath = lbl
			l, err = ReadLabel(lbl)
		}
	}
	if err != nil {
		return &raster.Error{Kind: raster.SourceUnreadable, Path: imgPath, Err: err}
	}

	il, err := Layout(l, labelPath)
	if err != nil {
		return &raster.Error{Kind: raster.SourceUnreadable, Path: imgPath, Err: err}
	}
	band, err := ReadImage(il)
	if err != nil {
		return &raster.Error{Kind: raster.DecodeFailure, Path: imgPath, Err: err}
	}

	if err := os.MkdirAll(filepath.Dir(tifPath), 0o755); err != nil {
		return err
	}
	return raster.WriteFile(tifPath, band, raster.WriteOptions{
		NoData:      il.Missing,
		HasNoData:   il.HasMissing,
		Compression: compression,
	})
}

func hasPointer(l *Label) bool {
	if l == nil {
		return false
	}
	_, ok := l.Find("^IMAGE")
	return ok
}

// detachedLabel returns the .LBL file for imgPath in either case, or "".
func detachedLabel(imgPath string) string {
	base := strings.TrimSuffix(imgPath, filepath.Ext(imgPath))
	for _, ext := range []string{".LBL", ".lbl"} {
		if _, err := os.Stat(base + ext); err == nil {
			return base + ext
		}
	}
	return ""
}

// ConvertOptions controls ConvertDir.
type ConvertOptions struct {
	Compression raster.Compression
	Concurrency int
	Overwrite   bool // reconvert when the .tif already exists
	Verbose     bool
}

// ConvertSummary reports a ConvertDir run.
type ConvertSummary struct {
	Converted int
	Skipped   int
	Failures  map[string]error // keyed by .IMG path
}

// ConvertDir converts every .IMG file in rawDir to outDir/{base}.tif.
// Failures are logged and collected; the batch always runs to the end
// unless ctx is cancelled.
func ConvertDir(ctx context.Context, rawDir, outDir string, opts ConvertOptions) (ConvertSummary, error) {
	sum := ConvertSummary{Failures: make(map[string]error)}
	imgs, err := listIMG(rawDir)
	if err != nil {
		return sum, err
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return sum, fmt.Errorf("creating output dir: %w", err)
	}

	results := make([]error, len(imgs))
	skipped := make([]bool, len(imgs))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(max(opts.Concurrency, 1))
	for i, p := range imgs {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			name := filepath.Base(p)
			out := filepath.Join(outDir, strings.TrimSuffix(name, filepath.Ext(name))+".tif")
			if !opts.Overwrite {
				if _, err := os.Stat(out); err == nil {
					skipped[i] = true
					return nil
				}
			}
			if opts.Verbose {
				log.Printf("Converting %s", name)
			}
			if err := ConvertImage(p, out, opts.Compression); err != nil {
				log.Printf("Warning: converting %s: %v", name, err)
				results[i] = err
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return sum, err
	}

	for i, p := range imgs {
		switch {
		case skipped[i]:
			sum.Skipped++
		case results[i] != nil:
			sum.Failures[p] = results[i]
		default:
			sum.Converted++
		}
	}
	return sum, nil
}
