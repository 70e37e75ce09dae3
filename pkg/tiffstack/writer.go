package tiffstack

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"

	"stacksync/internal/models"
)

// entries written per IFD
const ifdEntries = 10

// WriteStack writes frames as an uncompressed little-endian multi-page TIFF.
// All frames must share shape and a supported sample kind. Integer samples
// outside the range of the kind are saturated.
func WriteStack(w io.Writer, frames []*models.RawFrame) error {
	if len(frames) == 0 {
		return errors.New("tiffstack: no frames to write")
	}
	first := frames[0]
	if !first.Kind.Supported() {
		return fmt.Errorf("tiffstack: cannot write %s samples", first.Kind)
	}
	for i, f := range frames {
		if f.Width != first.Width || f.Height != first.Height || f.Kind != first.Kind {
			return fmt.Errorf("tiffstack: frame %d differs from frame 0", i)
		}
		if len(f.Samples) != f.Width*f.Height {
			return fmt.Errorf("tiffstack: frame %d has %d samples, want %d", i, len(f.Samples), f.Width*f.Height)
		}
	}

	order := binary.LittleEndian
	bytesPer := first.Kind.BitDepth() / 8
	dataLen := first.Width * first.Height * bytesPer
	ifdLen := 2 + ifdEntries*12 + 4

	// Lay out data followed by its IFD for each page.
	dataOffsets := make([]int, len(frames))
	ifdOffsets := make([]int, len(frames))
	cursor := 8
	for i := range frames {
		dataOffsets[i] = cursor
		cursor += dataLen
		cursor += cursor & 1
		ifdOffsets[i] = cursor
		cursor += ifdLen
	}

	var buf bytes.Buffer
	buf.Grow(cursor)

	head := make([]byte, 8)
	copy(head, "II")
	order.PutUint16(head[2:], 42)
	order.PutUint32(head[4:], uint32(ifdOffsets[0]))
	buf.Write(head)

	format := sampleFormatUint
	switch first.Kind {
	case models.SignedInt32:
		format = sampleFormatInt
	case models.Float32:
		format = sampleFormatFloat
	}

	for i, f := range frames {
		buf.Write(encodeSamples(f, order))
		if buf.Len()&1 == 1 {
			buf.WriteByte(0)
		}

		next := 0
		if i+1 < len(frames) {
			next = ifdOffsets[i+1]
		}

		ifd := make([]byte, ifdLen)
		order.PutUint16(ifd, ifdEntries)
		entry := func(n int, tag, typ uint16, value uint32) {
			e := ifd[2+n*12:]
			order.PutUint16(e[0:], tag)
			order.PutUint16(e[2:], typ)
			order.PutUint32(e[4:], 1)
			if typ == dtShort {
				order.PutUint16(e[8:], uint16(value))
			} else {
				order.PutUint32(e[8:], value)
			}
		}
		entry(0, tagImageWidth, dtLong, uint32(f.Width))
		entry(1, tagImageLength, dtLong, uint32(f.Height))
		entry(2, tagBitsPerSample, dtShort, uint32(f.Kind.BitDepth()))
		entry(3, tagCompression, dtShort, compressionNone)
		entry(4, tagPhotometric, dtShort, photometricBlackIsZero)
		entry(5, tagStripOffsets, dtLong, uint32(dataOffsets[i]))
		entry(6, tagSamplesPerPixel, dtShort, 1)
		entry(7, tagRowsPerStrip, dtLong, uint32(f.Height))
		entry(8, tagStripByteCounts, dtLong, uint32(dataLen))
		entry(9, tagSampleFormat, dtShort, uint32(format))
		order.PutUint32(ifd[2+ifdEntries*12:], uint32(next))
		buf.Write(ifd)
	}

	_, err := w.Write(buf.Bytes())
	return err
}

// Create writes frames to a new file at path
func Create(path string, frames []*models.RawFrame) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := WriteStack(file, frames); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

func encodeSamples(f *models.RawFrame, order binary.ByteOrder) []byte {
	bytesPer := f.Kind.BitDepth() / 8
	out := make([]byte, len(f.Samples)*bytesPer)
	for i, v := range f.Samples {
		switch f.Kind {
		case models.Unsigned8:
			out[i] = uint8(saturate(v, 0, math.MaxUint8))
		case models.Unsigned16:
			order.PutUint16(out[i*2:], uint16(saturate(v, 0, math.MaxUint16)))
		case models.SignedInt32:
			order.PutUint32(out[i*4:], uint32(int32(saturate(v, math.MinInt32, math.MaxInt32))))
		case models.Float32:
			order.PutUint32(out[i*4:], math.Float32bits(float32(v)))
		}
	}
	return out
}

func saturate(v, lo, hi float64) float64 {
	return math.Round(math.Max(lo, math.Min(hi, v)))
}
