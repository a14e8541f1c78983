package raster

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
)

// Compression selects the block codec used by WriteFile.
type Compression int

const (
	CompressionLZW Compression = iota
	CompressionDeflate
	CompressionNone
)

func (c Compression) String() string {
	switch c {
	case CompressionLZW:
		return "lzw"
	case CompressionDeflate:
		return "deflate"
	case CompressionNone:
		return "none"
	default:
		return fmt.Sprintf("Compression(%d)", int(c))
	}
}

// ParseCompression parses "lzw", "deflate" or "none". Empty means LZW.
func ParseCompression(s string) (Compression, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "lzw":
		return CompressionLZW, nil
	case "deflate", "zip":
		return CompressionDeflate, nil
	case "none":
		return CompressionNone, nil
	default:
		return 0, fmt.Errorf("unknown compression %q (valid: lzw, deflate, none)", s)
	}
}

func (c Compression) tiffCode() uint16 {
	switch c {
	case CompressionDeflate:
		return compressionDeflate
	case CompressionNone:
		return compressionNone
	default:
		return compressionLZW
	}
}

// WriteOptions controls WriteFile.
type WriteOptions struct {
	// Transform is written only when Georeferenced is set.
	Transform     GeoTransform
	Georeferenced bool
	// GeoKeys is copied verbatim when non-empty and Georeferenced is set.
	GeoKeys     *GeoKeys
	NoData      float64
	HasNoData   bool
	Compression Compression
}

// stripTarget is the uncompressed size aimed for per strip.
const stripTarget = 64 * 1024

// bigTIFFThreshold switches to BigTIFF before 32-bit offsets could overflow.
// LZW output can exceed its input by up to half on incompressible data.
const bigTIFFThreshold = (math.MaxUint32 - 1<<20) / 3 * 2

// WriteFile writes b as a single-band strip GeoTIFF. The file is written to a
// temporary name in the target directory and renamed into place, so on any
// failure nothing is left at path.
func WriteFile(path string, b *Band, opts WriteOptions) (err error) {
	if b == nil || b.Width <= 0 || b.Height <= 0 {
		return fmt.Errorf("write %s: empty band", path)
	}
	if b.Type.Bits() == 0 {
		return fmt.Errorf("write %s: unsupported sample type %v", path, b.Type)
	}

	dir := filepath.Dir(path)
	f, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := f.Name()
	defer func() {
		if err != nil {
			f.Close()
			os.Remove(tmpPath)
		}
	}()

	bps := b.Type.Bits() / 8
	rowBytes := b.Width * bps
	big := uint64(rowBytes)*uint64(b.Height) > bigTIFFThreshold

	tw := &tiffWriter{w: bufio.NewWriterSize(f, 1<<20), big: big}
	tw.writeHeader()

	rowsPerStrip := max(1, min(b.Height, stripTarget/max(1, rowBytes)))
	var offsets, counts []uint64
	raw := make([]byte, rowsPerStrip*rowBytes)
	for y0 := 0; y0 < b.Height; y0 += rowsPerStrip {
		rows := min(rowsPerStrip, b.Height-y0)
		chunk := raw[:rows*rowBytes]
		encodeSamples(chunk, b.Pix[y0*b.Width:(y0+rows)*b.Width], b.Type)

		var data []byte
		switch opts.Compression {
		case CompressionNone:
			data = chunk
		case CompressionDeflate:
			if data, err = compressDeflate(chunk); err != nil {
				return fmt.Errorf("compressing strip at row %d: %w", y0, err)
			}
		default:
			data = compressTIFFLZW(chunk)
		}

		offsets = append(offsets, tw.pos)
		counts = append(counts, uint64(len(data)))
		tw.write(data)
	}

	entries := []ifdEntry{
		tw.longs(tagImageWidth, uint64(b.Width)),
		tw.longs(tagImageLength, uint64(b.Height)),
		shorts(tagBitsPerSample, uint16(b.Type.Bits())),
		shorts(tagCompression, opts.Compression.tiffCode()),
		shorts(tagPhotometric, photometricBlackIsZero),
		tw.longs(tagStripOffsets, offsets...),
		shorts(tagSamplesPerPixel, 1),
		tw.longs(tagRowsPerStrip, uint64(rowsPerStrip)),
		tw.longs(tagStripByteCounts, counts...),
		shorts(tagPlanarConfig, 1),
		shorts(tagSampleFormat, b.Type.tiffSampleFormat()),
	}
	if opts.Georeferenced {
		entries = append(entries, geoEntries(opts.Transform)...)
		if k := opts.GeoKeys; !k.Empty() {
			entries = append(entries, shorts(tagGeoKeyDirectory, k.Directory...))
			if len(k.Doubles) > 0 {
				entries = append(entries, doubles(tagGeoDoubleParams, k.Doubles...))
			}
			if k.ASCII != "" {
				entries = append(entries, ascii(tagGeoASCIIParams, k.ASCII))
			}
		}
	}
	if opts.HasNoData {
		entries = append(entries, ascii(tagGDALNoData, strconv.FormatFloat(opts.NoData, 'g', -1, 64)))
	}

	ifdOffset := tw.writeIFD(entries)
	if tw.err != nil {
		return fmt.Errorf("writing %s: %w", tmpPath, tw.err)
	}
	if err = tw.w.Flush(); err != nil {
		return fmt.Errorf("writing %s: %w", tmpPath, err)
	}
	if err = tw.patchHeader(f, ifdOffset); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}
	if err = f.Sync(); err != nil {
		return fmt.Errorf("syncing %s: %w", tmpPath, err)
	}
	if err = f.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", tmpPath, err)
	}
	if err = os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("renaming to %s: %w", path, err)
	}
	return nil
}

// geoEntries encodes the transform the way GDAL does: tiepoint plus pixel
// scale for north-up grids, a full ModelTransformation otherwise.
func geoEntries(gt GeoTransform) []ifdEntry {
	if !gt.Rotated() && gt[5] < 0 {
		return []ifdEntry{
			doubles(tagModelPixelScale, gt[1], -gt[5], 0),
			doubles(tagModelTiepoint, 0, 0, 0, gt[0], gt[3], 0),
		}
	}
	return []ifdEntry{
		doubles(tagModelTransformation,
			gt[1], gt[2], 0, gt[0],
			gt[4], gt[5], 0, gt[3],
			0, 0, 0, 0,
			0, 0, 0, 1),
	}
}

// encodeSamples packs float32 samples into little-endian bytes of type t.
func encodeSamples(dst []byte, src []float32, t SampleType) {
	le := binary.LittleEndian
	for i, v := range src {
		switch t {
		case Uint8:
			dst[i] = uint8(t.Clamp(v))
		case Uint16:
			le.PutUint16(dst[i*2:], uint16(t.Clamp(v)))
		case Int16:
			le.PutUint16(dst[i*2:], uint16(int16(t.Clamp(v))))
		case Float32:
			le.PutUint32(dst[i*4:], math.Float32bits(v))
		}
	}
}

// ifdEntry is one directory entry with its value already encoded.
type ifdEntry struct {
	tag   uint16
	typ   uint16
	count uint64
	data  []byte
}

func shorts(tag uint16, vals ...uint16) ifdEntry {
	data := make([]byte, 2*len(vals))
	for i, v := range vals {
		binary.LittleEndian.PutUint16(data[i*2:], v)
	}
	return ifdEntry{tag: tag, typ: dtShort, count: uint64(len(vals)), data: data}
}

func doubles(tag uint16, vals ...float64) ifdEntry {
	data := make([]byte, 8*len(vals))
	for i, v := range vals {
		binary.LittleEndian.PutUint64(data[i*8:], math.Float64bits(v))
	}
	return ifdEntry{tag: tag, typ: dtDouble, count: uint64(len(vals)), data: data}
}

func ascii(tag uint16, s string) ifdEntry {
	data := append([]byte(s), 0)
	return ifdEntry{tag: tag, typ: dtASCII, count: uint64(len(data)), data: data}
}

// tiffWriter streams a little-endian TIFF or BigTIFF, tracking the offset.
type tiffWriter struct {
	w   *bufio.Writer
	pos uint64
	big bool
	err error
}

func (tw *tiffWriter) write(p []byte) {
	if tw.err != nil {
		return
	}
	n, err := tw.w.Write(p)
	tw.pos += uint64(n)
	tw.err = err
}

func (tw *tiffWriter) writeHeader() {
	if tw.big {
		// "II", 43, offset size 8, reserved 0, first IFD offset.
		tw.write([]byte{'I', 'I', 43, 0, 8, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0})
		return
	}
	tw.write([]byte{'I', 'I', 42, 0, 0, 0, 0, 0})
}

func (tw *tiffWriter) patchHeader(f *os.File, ifdOffset uint64) error {
	if tw.big {
		var b [8]byte
		binary.LittleEndian.PutUint64(b[:], ifdOffset)
		_, err := f.WriteAt(b[:], 8)
		return err
	}
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], uint32(ifdOffset))
	_, err := f.WriteAt(b[:], 4)
	return err
}

// longs encodes LONG values, or LONG8 values in BigTIFF.
func (tw *tiffWriter) longs(tag uint16, vals ...uint64) ifdEntry {
	if tw.big {
		data := make([]byte, 8*len(vals))
		for i, v := range vals {
			binary.LittleEndian.PutUint64(data[i*8:], v)
		}
		return ifdEntry{tag: tag, typ: dtLong8, count: uint64(len(vals)), data: data}
	}
	data := make([]byte, 4*len(vals))
	for i, v := range vals {
		binary.LittleEndian.PutUint32(data[i*4:], uint32(v))
	}
	return ifdEntry{tag: tag, typ: dtLong, count: uint64(len(vals)), data: data}
}

// writeIFD writes the directory followed by its out-of-line values and
// returns the directory offset.
func (tw *tiffWriter) writeIFD(entries []ifdEntry) uint64 {
	slices.SortFunc(entries, func(a, b ifdEntry) int { return int(a.tag) - int(b.tag) })

	if tw.pos%2 == 1 {
		tw.write([]byte{0})
	}
	ifdOffset := tw.pos

	countSize, entrySize, nextSize, inline := uint64(2), uint64(12), uint64(4), 4
	if tw.big {
		countSize, entrySize, nextSize, inline = 8, 20, 8, 8
	}
	extra := ifdOffset + countSize + entrySize*uint64(len(entries)) + nextSize

	le := binary.LittleEndian
	var buf []byte
	if tw.big {
		buf = le.AppendUint64(buf, uint64(len(entries)))
	} else {
		buf = le.AppendUint16(buf, uint16(len(entries)))
	}

	var tail []byte
	for _, e := range entries {
		buf = le.AppendUint16(buf, e.tag)
		buf = le.AppendUint16(buf, e.typ)
		if tw.big {
			buf = le.AppendUint64(buf, e.count)
		} else {
			buf = le.AppendUint32(buf, uint32(e.count))
		}

		value := make([]byte, inline)
		if len(e.data) <= inline {
			copy(value, e.data)
		} else {
			off := extra + uint64(len(tail))
			if tw.big {
				le.PutUint64(value, off)
			} else {
				le.PutUint32(value, uint32(off))
			}
			tail = append(tail, e.data...)
			if len(tail)%2 == 1 {
				tail = append(tail, 0)
			}
		}
		buf = append(buf, value...)
	}
	buf = append(buf, make([]byte, nextSize)...) // no further IFDs

	tw.write(buf)
	tw.write(tail)
	return ifdOffset
}
