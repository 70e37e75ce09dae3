package tiffstack

import (
	"bytes"
	"encoding/binary"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/h2non/filetype"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/tiff"

	"stacksync/internal/models"
	"stacksync/pkg/decoder"
)

// makeFrames builds count frames whose samples encode frame, x and y
func makeFrames(kind models.SampleKind, count, width, height int, pixel func(z, x, y int) float64) []*models.RawFrame {
	frames := make([]*models.RawFrame, count)
	for z := range frames {
		frames[z] = decoder.Frame(kind, width, height, func(x, y int) float64 {
			return pixel(z, x, y)
		})
	}
	return frames
}

func TestRoundTripAllKinds(t *testing.T) {
	cases := []struct {
		kind  models.SampleKind
		pixel func(z, x, y int) float64
	}{
		{models.Unsigned8, func(z, x, y int) float64 { return float64(z*40 + x*3 + y) }},
		{models.Unsigned16, func(z, x, y int) float64 { return float64(100 + z*1000 + x*7 + y*11) }},
		{models.SignedInt32, func(z, x, y int) float64 { return float64(-50000 + z*70000 + x - y) }},
		{models.Float32, func(z, x, y int) float64 { return float64(z) + float64(x)*0.25 - float64(y)*0.5 }},
	}

	for _, tc := range cases {
		t.Run(tc.kind.String(), func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "stack.tif")
			frames := makeFrames(tc.kind, 3, 5, 4, tc.pixel)
			require.NoError(t, Create(path, frames))

			h, err := Decoder{}.Open(path)
			require.NoError(t, err)
			defer h.Close()

			hdr := h.Header()
			assert.Equal(t, 3, hdr.FrameCount)
			assert.Equal(t, 5, hdr.Width)
			assert.Equal(t, 4, hdr.Height)
			assert.Equal(t, tc.kind, hdr.Kind)

			for z := 0; z < 3; z++ {
				require.NoError(t, h.Seek(z))
				got, err := h.Decode()
				require.NoError(t, err)
				assert.Equal(t, tc.kind, got.Kind)
				assert.Equal(t, frames[z].Samples, got.Samples, "frame %d", z)
			}
		})
	}
}

func TestDecodeBeforeSeek(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stack.tif")
	require.NoError(t, Create(path, makeFrames(models.Unsigned8, 2, 2, 2, func(z, x, y int) float64 { return 1 })))

	h, err := Decoder{}.Open(path)
	require.NoError(t, err)
	defer h.Close()

	_, err = h.Decode()
	assert.ErrorIs(t, err, decoder.ErrNoFrame)
	assert.Error(t, h.Seek(2))
	assert.Error(t, h.Seek(-1))
}

func TestCompressedPage(t *testing.T) {
	img := image.NewGray16(image.Rect(0, 0, 6, 3))
	for y := 0; y < 3; y++ {
		for x := 0; x < 6; x++ {
			img.SetGray16(x, y, color.Gray16{Y: uint16(1000 + x*100 + y)})
		}
	}

	path := filepath.Join(t.TempDir(), "deflate.tif")
	file, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, tiff.Encode(file, img, &tiff.Options{Compression: tiff.Deflate}))
	require.NoError(t, file.Close())

	h, err := Decoder{}.Open(path)
	require.NoError(t, err)
	defer h.Close()

	assert.Equal(t, 1, h.Header().FrameCount)
	assert.Equal(t, models.Unsigned16, h.Header().Kind)

	require.NoError(t, h.Seek(0))
	frame, err := h.Decode()
	require.NoError(t, err)
	assert.Equal(t, 1000.0, frame.At(0, 0))
	assert.Equal(t, 1502.0, frame.At(5, 2))
}

func TestRejectsNonTIFF(t *testing.T) {
	path := filepath.Join(t.TempDir(), "frame.png")
	file, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, png.Encode(file, image.NewGray(image.Rect(0, 0, 4, 4))))
	require.NoError(t, file.Close())

	_, err = Decoder{}.Open(path)
	require.Error(t, err)
	assert.True(t, errors.Is(err, decoder.ErrCorrupt))
}

func TestMissingFile(t *testing.T) {
	_, err := Decoder{}.Open(filepath.Join(t.TempDir(), "missing.tif"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestTruncatedDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stack.tif")
	require.NoError(t, Create(path, makeFrames(models.Unsigned16, 2, 8, 8, func(z, x, y int) float64 { return 7 })))

	// Chop the tail of the last IFD.
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data[:len(data)-1], 0o644))

	_, err = Decoder{}.Open(path)
	assert.ErrorIs(t, err, decoder.ErrCorrupt)
}

func TestWriteStackValidation(t *testing.T) {
	assert.Error(t, WriteStack(nil, nil))

	mixed := []*models.RawFrame{
		decoder.Frame(models.Unsigned8, 2, 2, func(x, y int) float64 { return 0 }),
		decoder.Frame(models.Unsigned8, 3, 2, func(x, y int) float64 { return 0 }),
	}
	assert.Error(t, WriteStack(nil, mixed))

	unknown := []*models.RawFrame{{Width: 1, Height: 1, Kind: models.KindUnknown, Samples: []float64{0}}}
	assert.Error(t, WriteStack(nil, unknown))
}

func TestStackLookingLikeCR2(t *testing.T) {
	// pixel data starts at offset 8, where filetype looks for the CR2 marker
	path := filepath.Join(t.TempDir(), "stack.tif")
	frames := []*models.RawFrame{
		{Width: 2, Height: 2, Kind: models.Unsigned8, Samples: []float64{0x43, 0x52, 0x02, 9}},
		{Width: 2, Height: 2, Kind: models.Unsigned8, Samples: []float64{1, 2, 3, 4}},
	}
	require.NoError(t, Create(path, frames))

	head, err := os.ReadFile(path)
	require.NoError(t, err)
	kind, _ := filetype.Match(head)
	require.Equal(t, "cr2", kind.Extension)
	assert.True(t, IsTIFF(head))

	h, err := Decoder{}.Open(path)
	require.NoError(t, err)
	defer h.Close()

	assert.Equal(t, 2, h.Header().FrameCount)
	require.NoError(t, h.Seek(0))
	got, err := h.Decode()
	require.NoError(t, err)
	assert.Equal(t, frames[0].Samples, got.Samples)
}

// rawPage is one 8-bit page of a hand-built TIFF
type rawPage struct {
	width, height int
	compression   uint16
	photometric   uint16
	data          []byte
}

// writeRawTIFF lays out each page as its strip followed by its IFD
func writeRawTIFF(t *testing.T, pages []rawPage) string {
	t.Helper()
	const entries = 9
	order := binary.LittleEndian

	var buf bytes.Buffer
	buf.Write([]byte{'I', 'I', 42, 0, 0, 0, 0, 0})
	link := 4
	for _, p := range pages {
		dataOff := buf.Len()
		buf.Write(p.data)
		if buf.Len()&1 == 1 {
			buf.WriteByte(0)
		}
		ifdOff := buf.Len()
		order.PutUint32(buf.Bytes()[link:], uint32(ifdOff))

		ifd := make([]byte, 2+entries*12+4)
		order.PutUint16(ifd, entries)
		for i, e := range []struct {
			tag, typ uint16
			value    uint32
		}{
			{tagImageWidth, dtLong, uint32(p.width)},
			{tagImageLength, dtLong, uint32(p.height)},
			{tagBitsPerSample, dtShort, 8},
			{tagCompression, dtShort, uint32(p.compression)},
			{tagPhotometric, dtShort, uint32(p.photometric)},
			{tagStripOffsets, dtLong, uint32(dataOff)},
			{tagSamplesPerPixel, dtShort, 1},
			{tagRowsPerStrip, dtLong, uint32(p.height)},
			{tagStripByteCounts, dtLong, uint32(len(p.data))},
		} {
			b := ifd[2+i*12:]
			order.PutUint16(b[0:], e.tag)
			order.PutUint16(b[2:], e.typ)
			order.PutUint32(b[4:], 1)
			if e.typ == dtShort {
				order.PutUint16(b[8:], uint16(e.value))
			} else {
				order.PutUint32(b[8:], e.value)
			}
		}
		buf.Write(ifd)
		link = ifdOff + 2 + entries*12
	}

	path := filepath.Join(t.TempDir(), "raw.tif")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
	return path
}

func TestWhiteIsZeroSamplesMatchAcrossCompression(t *testing.T) {
	const packBits = 32773
	path := writeRawTIFF(t, []rawPage{
		{width: 2, height: 1, compression: compressionNone, photometric: photometricWhiteIsZero, data: []byte{10, 20}},
		// literal run of two bytes
		{width: 2, height: 1, compression: packBits, photometric: photometricWhiteIsZero, data: []byte{0x01, 10, 20}},
	})

	h, err := Decoder{}.Open(path)
	require.NoError(t, err)
	defer h.Close()
	assert.Equal(t, models.Unsigned8, h.Header().Kind)

	for z := 0; z < 2; z++ {
		require.NoError(t, h.Seek(z))
		frame, err := h.Decode()
		require.NoError(t, err)
		assert.Equal(t, []float64{10, 20}, frame.Samples, "page %d", z)
	}
}
