package raster

// TIFF-compatible LZW codec.
//
// TIFF uses a LZW variant that differs from the GIF/PDF format handled by Go's
// compress/lzw package. The key difference is the "early change" of code
// width: the TIFF encoder widens codes one entry before the table is full,
// and the decoder, whose table lags the encoder by one entry, widens after
// adding the entry that leaves room for exactly one more code.
//
// This implementation follows the TIFF 6.0 specification (MSB-first bit order).

import (
	"errors"
	"io"
)

const (
	lzwMaxWidth  = 12
	lzwClearCode = 256
	lzwEOICode   = 257
	lzwFirstCode = 258
	lzwMaxCode   = 1<<lzwMaxWidth - 1
)

type lzwEntry struct {
	prefix int  // index of prefix entry (-1 for single-byte entries)
	suffix byte // the byte added by this entry
	length int  // total length of the string
}

// decompressTIFFLZW decompresses TIFF-style LZW data. sizeHint pre-sizes
// the output buffer.
func decompressTIFFLZW(data []byte, sizeHint int) ([]byte, error) {
	if len(data) == 0 {
		return nil, nil
	}
	d := &lzwDecoder{src: data}
	return d.decode(sizeHint)
}

type lzwDecoder struct {
	src    []byte
	bitPos int // current bit position in src
}

// readBits reads n bits from the source (MSB first).
func (d *lzwDecoder) readBits(n int) (int, error) {
	if d.bitPos+n > len(d.src)*8 {
		return 0, io.ErrUnexpectedEOF
	}
	result := 0
	for i := 0; i < n; i++ {
		b := d.src[d.bitPos>>3]
		bit := (int(b) >> (7 - d.bitPos&7)) & 1
		result = result<<1 | bit
		d.bitPos++
	}
	return result, nil
}

func (d *lzwDecoder) decode(sizeHint int) ([]byte, error) {
	table := make([]lzwEntry, lzwMaxCode+2)
	for i := 0; i < 256; i++ {
		table[i] = lzwEntry{prefix: -1, suffix: byte(i), length: 1}
	}

	nextCode := lzwFirstCode
	codeWidth := 9

	output := make([]byte, 0, sizeHint)
	buf := make([]byte, 0, 4096)

	// getString materialises the string for code into buf.
	getString := func(code int) []byte {
		buf = buf[:table[code].length]
		idx := len(buf) - 1
		for code >= 0 {
			e := &table[code]
			buf[idx] = e.suffix
			idx--
			code = e.prefix
		}
		return buf
	}

	code, err := d.readBits(codeWidth)
	if err != nil {
		return nil, err
	}
	if code != lzwClearCode {
		return nil, errors.New("lzw: first code is not clear code")
	}

	prevCode := -1

	for {
		code, err := d.readBits(codeWidth)
		if err != nil {
			// Some writers omit the EOI code.
			if err == io.ErrUnexpectedEOF {
				return output, nil
			}
			return nil, err
		}

		if code == lzwEOICode {
			return output, nil
		}

		if code == lzwClearCode {
			nextCode = lzwFirstCode
			codeWidth = 9
			prevCode = -1
			continue
		}

		if prevCode == -1 {
			if code >= 256 {
				return nil, errors.New("lzw: first code after clear is not literal")
			}
			output = append(output, byte(code))
			prevCode = code
			continue
		}

		if code < nextCode {
			outStr := getString(code)
			output = append(output, outStr...)

			if nextCode <= lzwMaxCode {
				table[nextCode] = lzwEntry{
					prefix: prevCode,
					suffix: outStr[0],
					length: table[prevCode].length + 1,
				}
				nextCode++
			}
		} else if code == nextCode {
			// KwKwK case: code is not yet in the table.
			prevStr := getString(prevCode)
			firstByte := prevStr[0]
			output = append(output, prevStr...)
			output = append(output, firstByte)

			if nextCode <= lzwMaxCode {
				table[nextCode] = lzwEntry{
					prefix: prevCode,
					suffix: firstByte,
					length: table[prevCode].length + 1,
				}
				nextCode++
			}
		} else {
			return nil, errors.New("lzw: invalid code")
		}

		if nextCode+1 >= (1<<codeWidth) && codeWidth < lzwMaxWidth {
			codeWidth++
		}

		prevCode = code
	}
}

// lzwBitWriter packs codes MSB-first.
type lzwBitWriter struct {
	out   []byte
	acc   uint32
	nbits uint
}

func (w *lzwBitWriter) write(code, width int) {
	w.acc = w.acc<<uint(width) | uint32(code)
	w.nbits += uint(width)
	for w.nbits >= 8 {
		w.nbits -= 8
		w.out = append(w.out, byte(w.acc>>w.nbits))
	}
	w.acc &= 1<<w.nbits - 1
}

func (w *lzwBitWriter) flush() []byte {
	if w.nbits > 0 {
		w.out = append(w.out, byte(w.acc<<(8-w.nbits)))
		w.nbits = 0
		w.acc = 0
	}
	return w.out
}

// compressTIFFLZW compresses data with the TIFF LZW variant. The width
// schedule mirrors libtiff so any TIFF reader can decode the result.
func compressTIFFLZW(data []byte) []byte {
	w := &lzwBitWriter{out: make([]byte, 0, len(data)/2+16)}
	width := 9
	w.write(lzwClearCode, width)
	if len(data) == 0 {
		w.write(lzwEOICode, width)
		return w.flush()
	}

	dict := make(map[uint32]int, 4096)
	nextCode := lzwFirstCode

	// advance accounts for one new table entry and widens or resets.
	advance := func() {
		nextCode++
		if nextCode == lzwMaxCode-1 {
			w.write(lzwClearCode, width)
			clear(dict)
			nextCode = lzwFirstCode
			width = 9
		} else if nextCode > 1<<width-1 {
			width++
		}
	}

	prefix := int(data[0])
	for _, c := range data[1:] {
		key := uint32(prefix)<<8 | uint32(c)
		if code, ok := dict[key]; ok {
			prefix = code
			continue
		}
		w.write(prefix, width)
		dict[key] = nextCode
		advance()
		prefix = int(c)
	}

	w.write(prefix, width)
	advance()
	w.write(lzwEOICode, width)
	return w.flush()
}
