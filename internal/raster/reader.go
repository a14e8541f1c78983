package raster

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"image"
	"math"
	"os"
	"strconv"

	"github.com/paulmach/orb"
)

// Reader provides band access to a TIFF/GeoTIFF file. The file is
// memory-mapped; a Reader must be closed by whoever opened it, and using it
// after Close panics.
type Reader struct {
	data      []byte // memory-mapped file contents
	bo        binary.ByteOrder
	ifds      []IFD
	geo       GeoInfo
	typ       SampleType
	nodata    float64
	hasNoData bool
	bigTIFF   bool
	path      string
}

// Open memory-maps a TIFF/GeoTIFF file and parses its structure. Any
// failure is reported as a SourceUnreadable *Error.
func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &Error{Kind: SourceUnreadable, Path: path, Err: err}
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return nil, &Error{Kind: SourceUnreadable, Path: path, Err: err}
	}

	size := fi.Size()
	if size < 8 {
		return nil, Errorf(SourceUnreadable, path, "file too small (%d bytes)", size)
	}

	data, err := mmapFile(f, int(size))
	if err != nil {
		return nil, Errorf(SourceUnreadable, path, "mmap: %w", err)
	}

	r, err := newReader(path, data)
	if err != nil {
		munmapFile(data)
		return nil, &Error{Kind: SourceUnreadable, Path: path, Err: err}
	}
	return r, nil
}

func newReader(path string, data []byte) (*Reader, error) {
	ifds, bo, err := parseTIFF(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	if len(ifds) == 0 {
		return nil, fmt.Errorf("no IFDs found")
	}

	first := &ifds[0]
	if first.Width == 0 || first.Height == 0 {
		return nil, fmt.Errorf("invalid dimensions %dx%d", first.Width, first.Height)
	}
	if len(first.BitsPerSample) == 0 {
		first.BitsPerSample = []uint16{1}
	}
	var format uint16 = 1
	if len(first.SampleFormat) > 0 {
		format = first.SampleFormat[0]
	}
	typ, err := sampleTypeFor(first.BitsPerSample[0], format)
	if err != nil {
		return nil, err
	}

	switch first.Compression {
	case compressionNone, compressionLZW, compressionDeflate, compressionDeflateOld:
	default:
		return nil, fmt.Errorf("unsupported compression: %d", first.Compression)
	}
	if first.Predictor != predictorNone && first.Predictor != predictorHorizontal {
		return nil, fmt.Errorf("unsupported predictor: %d", first.Predictor)
	}

	blocks := first.BlocksAcross() * first.BlocksDown()
	if first.PlanarConfig == 2 {
		blocks *= int(first.SamplesPerPixel)
	}
	if len(first.Offsets) < blocks || len(first.ByteCounts) < blocks {
		return nil, fmt.Errorf("block table has %d/%d entries, need %d",
			len(first.Offsets), len(first.ByteCounts), blocks)
	}

	geo := parseGeoInfo(first)
	if !geo.Georeferenced {
		if p := findTFW(path); p != "" {
			tfw, err := parseTFW(p)
			if err != nil {
				return nil, err
			}
			geo.Transform = tfw.Transform()
			geo.Georeferenced = true
		}
	}

	r := &Reader{
		data:    data,
		bo:      bo,
		ifds:    ifds,
		geo:     geo,
		typ:     typ,
		bigTIFF: bo.Uint16(data[2:4]) == 43,
		path:    path,
	}
	if first.NoData != "" {
		if v, err := strconv.ParseFloat(first.NoData, 64); err == nil {
			r.nodata, r.hasNoData = v, true
		}
	}
	return r, nil
}

// Close unmaps the memory-mapped file. It is safe to call more than once.
func (r *Reader) Close() error {
	if r.data != nil {
		err := munmapFile(r.data)
		r.data = nil
		return err
	}
	return nil
}

func (r *Reader) mustBeOpen() {
	if r.data == nil {
		panic("raster: use of closed Reader " + r.path)
	}
}

// Path returns the file path.
func (r *Reader) Path() string { return r.path }

// Width returns the full-resolution image width.
func (r *Reader) Width() int {
	r.mustBeOpen()
	return int(r.ifds[0].Width)
}

// Height returns the full-resolution image height.
func (r *Reader) Height() int {
	r.mustBeOpen()
	return int(r.ifds[0].Height)
}

// Type returns the sample type of band 1.
func (r *Reader) Type() SampleType {
	r.mustBeOpen()
	return r.typ
}

// Transform returns the pixel-to-world transform. Rasters without
// georeferencing report PlaceholderTransform.
func (r *Reader) Transform() GeoTransform {
	r.mustBeOpen()
	return r.geo.Transform
}

// Georeferenced reports whether the file carries a usable transform.
func (r *Reader) Georeferenced() bool {
	r.mustBeOpen()
	return r.geo.Georeferenced
}

// Flipped is the orientation flag: the vertical transform coefficient is
// negative. Only meaningful for georeferenced rasters.
func (r *Reader) Flipped() bool {
	r.mustBeOpen()
	return r.geo.Georeferenced && r.geo.Transform.Flipped()
}

// NoData returns the GDAL nodata value, if any.
func (r *Reader) NoData() (float64, bool) {
	r.mustBeOpen()
	return r.nodata, r.hasNoData
}

// EPSG returns the detected EPSG code, 0 if none.
func (r *Reader) EPSG() int {
	r.mustBeOpen()
	return r.geo.EPSG
}

// GeoKeys returns the raw GeoKey directory for verbatim copying.
func (r *Reader) GeoKeys() *GeoKeys {
	r.mustBeOpen()
	k := r.geo.Keys
	return &k
}

// Bounds returns the world-space footprint of the raster.
func (r *Reader) Bounds() orb.Bound {
	r.mustBeOpen()
	return FootprintOf(r.geo.Transform, r.Width(), r.Height())
}

// FootprintOf returns the bounding box of all four pixel-grid corners.
func FootprintOf(gt GeoTransform, width, height int) orb.Bound {
	w, h := float64(width), float64(height)
	x, y := gt.Apply(0, 0)
	b := orb.Point{x, y}.Bound()
	for _, c := range [][2]float64{{w, 0}, {0, h}, {w, h}} {
		x, y := gt.Apply(c[0], c[1])
		b = b.Extend(orb.Point{x, y})
	}
	return b
}

// Layout describes how the pixel data is stored on disk.
type Layout struct {
	BigTIFF         bool
	Tiled           bool
	BlockWidth      int
	BlockHeight     int
	Compression     uint16
	Predictor       uint16
	SamplesPerPixel int
	IFDCount        int
}

// Layout returns storage details of the first IFD.
func (r *Reader) Layout() Layout {
	r.mustBeOpen()
	ifd := &r.ifds[0]
	bw, bh := ifd.BlockSize()
	return Layout{
		BigTIFF:         r.bigTIFF,
		Tiled:           ifd.Tiled(),
		BlockWidth:      bw,
		BlockHeight:     bh,
		Compression:     ifd.Compression,
		Predictor:       ifd.Predictor,
		SamplesPerPixel: int(ifd.SamplesPerPixel),
		IFDCount:        len(r.ifds),
	}
}

// ReadBand reads the whole of band 1.
func (r *Reader) ReadBand() (*Band, error) {
	r.mustBeOpen()
	return r.ReadWindow(image.Rect(0, 0, r.Width(), r.Height()))
}

// ReadWindow reads the sub-region win of band 1. Blocks that fail to
// decode produce a DecodeFailure *Error; nothing is retried.
func (r *Reader) ReadWindow(win image.Rectangle) (*Band, error) {
	r.mustBeOpen()
	ifd := &r.ifds[0]
	full := image.Rect(0, 0, int(ifd.Width), int(ifd.Height))
	if win.Empty() || !win.In(full) {
		return nil, Errorf(DecodeFailure, r.path, "window %v outside raster %v", win, full)
	}

	bw, bh := ifd.BlockSize()
	across := ifd.BlocksAcross()
	bps := r.typ.Bits() / 8
	stride := bps
	if ifd.PlanarConfig != 2 {
		stride *= int(ifd.SamplesPerPixel)
	}

	out := NewBand(win.Dx(), win.Dy(), r.typ)

	for row := win.Min.Y / bh; row <= (win.Max.Y-1)/bh; row++ {
		for col := win.Min.X / bw; col <= (win.Max.X-1)/bw; col++ {
			blockRows := bh
			if !ifd.Tiled() {
				blockRows = min(bh, int(ifd.Height)-row*bh)
			}
			buf, err := r.decodeBlock(row*across+col, bw, blockRows, stride)
			if err != nil {
				return nil, &Error{Kind: DecodeFailure, Path: r.path, Err: err}
			}

			// Overlap of this block with the window, in image coordinates.
			blk := image.Rect(col*bw, row*bh, col*bw+bw, row*bh+blockRows).Intersect(win)
			for y := blk.Min.Y; y < blk.Max.Y; y++ {
				ly := y - row*bh
				dst := out.Row(y - win.Min.Y)
				for x := blk.Min.X; x < blk.Max.X; x++ {
					off := (ly*bw + (x - col*bw)) * stride
					dst[x-win.Min.X] = r.sample(buf[off : off+bps])
				}
			}
		}
	}

	return out, nil
}

// decodeBlock returns the decompressed, predictor-reversed bytes of block idx.
func (r *Reader) decodeBlock(idx, blockW, blockRows, stride int) ([]byte, error) {
	ifd := &r.ifds[0]
	offset := ifd.Offsets[idx]
	size := ifd.ByteCounts[idx]
	want := blockW * blockRows * stride

	end := offset + size
	if end > uint64(len(r.data)) || end < offset {
		return nil, fmt.Errorf("block %d data [%d:%d] exceeds file size %d", idx, offset, end, len(r.data))
	}
	raw := r.data[offset:end]

	var buf []byte
	var err error
	switch ifd.Compression {
	case compressionNone:
		buf = raw
	case compressionLZW:
		buf, err = decompressTIFFLZW(raw, want)
	case compressionDeflate, compressionDeflateOld:
		buf, err = decompressDeflate(raw, want)
	}
	if err != nil {
		return nil, fmt.Errorf("block %d: %w", idx, err)
	}
	if len(buf) < want {
		return nil, fmt.Errorf("block %d truncated: %d of %d bytes", idx, len(buf), want)
	}

	if ifd.Predictor == predictorHorizontal {
		if ifd.Compression == compressionNone {
			// Never mutate the read-only mapping.
			buf = append([]byte(nil), buf[:want]...)
		}
		samples := 1
		if ifd.PlanarConfig != 2 {
			samples = int(ifd.SamplesPerPixel)
		}
		undoHorizontalPredictor(buf[:want], r.bo, blockW, blockRows, samples, r.typ.Bits()/8)
	}
	return buf, nil
}

// sample converts raw sample bytes to float32.
func (r *Reader) sample(b []byte) float32 {
	switch r.typ {
	case Uint8:
		return float32(b[0])
	case Uint16:
		return float32(r.bo.Uint16(b))
	case Int16:
		return float32(int16(r.bo.Uint16(b)))
	case Float32:
		return math.Float32frombits(r.bo.Uint32(b))
	}
	return 0
}

// undoHorizontalPredictor reverses TIFF predictor 2 in place.
func undoHorizontalPredictor(buf []byte, bo binary.ByteOrder, width, rows, samples, bps int) {
	rowLen := width * samples * bps
	for y := 0; y < rows; y++ {
		row := buf[y*rowLen : (y+1)*rowLen]
		switch bps {
		case 1:
			for i := samples; i < len(row); i++ {
				row[i] += row[i-samples]
			}
		case 2:
			step := samples * 2
			for i := step; i < len(row); i += 2 {
				bo.PutUint16(row[i:], bo.Uint16(row[i:])+bo.Uint16(row[i-step:]))
			}
		case 4:
			step := samples * 4
			for i := step; i < len(row); i += 4 {
				bo.PutUint32(row[i:], bo.Uint32(row[i:])+bo.Uint32(row[i-step:]))
			}
		}
	}
}
