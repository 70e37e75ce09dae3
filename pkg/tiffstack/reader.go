// Package tiffstack reads and writes multi-page grayscale TIFF stacks.
//
// Every IFD of a classic TIFF file is treated as one frame. Uncompressed
// strips are decoded directly for all supported sample kinds; compressed or
// tiled 8/16-bit pages are handed to golang.org/x/image/tiff, which only ever
// reads the first IFD of a file, by presenting it a header that points at the
// requested page.
package tiffstack

import (
	"encoding/binary"
	"fmt"
	"image"
	"io"
	"math"
	"os"

	"github.com/h2non/filetype"
	"golang.org/x/image/tiff"

	"stacksync/internal/models"
	"stacksync/pkg/decoder"
)

// TIFF tags used by the reader and writer
const (
	tagImageWidth      = 256
	tagImageLength     = 257
	tagBitsPerSample   = 258
	tagCompression     = 259
	tagPhotometric     = 262
	tagStripOffsets    = 273
	tagSamplesPerPixel = 277
	tagRowsPerStrip    = 278
	tagStripByteCounts = 279
	tagSampleFormat    = 339
)

// TIFF field types
const (
	dtByte  = 1
	dtShort = 3
	dtLong  = 4
)

const (
	compressionNone = 1

	photometricWhiteIsZero = 0
	photometricBlackIsZero = 1

	sampleFormatUint  = 1
	sampleFormatInt   = 2
	sampleFormatFloat = 3
)

// sniffLen is the number of leading bytes read to recognize the container
const sniffLen = 262

// page is the subset of one IFD the reader needs
type page struct {
	ifd          uint32
	width        int
	height       int
	bits         int
	samples      int
	sampleFormat int
	compression  int
	photometric  int
	offsets      []uint32
	counts       []uint32
}

func (p *page) kind() models.SampleKind {
	if p.samples != 1 {
		return models.KindUnknown
	}
	if p.photometric != photometricBlackIsZero && p.photometric != photometricWhiteIsZero {
		return models.KindUnknown
	}
	switch {
	case p.bits == 8 && p.sampleFormat == sampleFormatUint:
		return models.Unsigned8
	case p.bits == 16 && p.sampleFormat == sampleFormatUint:
		return models.Unsigned16
	case p.bits == 32 && p.sampleFormat == sampleFormatInt:
		return models.SignedInt32
	case p.bits == 32 && p.sampleFormat == sampleFormatFloat:
		return models.Float32
	}
	return models.KindUnknown
}

func (p *page) describe() string {
	format := "unsigned"
	switch p.sampleFormat {
	case sampleFormatInt:
		format = "signed"
	case sampleFormatFloat:
		format = "float"
	case sampleFormatUint:
	default:
		format = fmt.Sprintf("format %d", p.sampleFormat)
	}
	return fmt.Sprintf("%d-bit %s, %d sample(s)/pixel, photometric %d", p.bits, format, p.samples, p.photometric)
}

// Decoder opens multi-page TIFF files. The zero value is ready to use.
type Decoder struct{}

// Open implements decoder.Decoder
func (Decoder) Open(path string) (decoder.Handle, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	h, err := newHandle(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return h, nil
}

type handle struct {
	f      *os.File
	size   int64
	head   [8]byte
	order  binary.ByteOrder
	pages  []page
	header decoder.Header
	index  int
}

func newHandle(f *os.File) (*handle, error) {
	st, err := f.Stat()
	if err != nil {
		return nil, err
	}

	sniff := make([]byte, sniffLen)
	n, err := f.ReadAt(sniff, 0)
	if err != nil && err != io.EOF {
		return nil, err
	}
	order, err := byteOrder(sniff[:n])
	if err != nil {
		return nil, err
	}

	h := &handle{f: f, size: st.Size(), order: order, index: -1}
	copy(h.head[:], sniff[:8])

	if err := h.readPages(); err != nil {
		return nil, err
	}

	first := &h.pages[0]
	h.header = decoder.Header{
		FrameCount:  len(h.pages),
		Width:       first.width,
		Height:      first.height,
		Kind:        first.kind(),
		Description: first.describe(),
	}
	for i := range h.pages[1:] {
		p := &h.pages[i+1]
		if p.width != first.width || p.height != first.height || p.kind() != first.kind() {
			return nil, fmt.Errorf("page %d: %w", i+1, decoder.ErrNonUniform)
		}
	}
	return h, nil
}

// IsTIFF reports whether head starts with a classic TIFF header
func IsTIFF(head []byte) bool {
	_, err := byteOrder(head)
	return err == nil
}

// byteOrder validates the classic TIFF header at the start of head. The
// container is recognized by its own header; filetype only names what a
// rejected file looks like, since it reports some valid TIFFs as raw camera
// formats.
func byteOrder(head []byte) (binary.ByteOrder, error) {
	var order binary.ByteOrder
	switch {
	case len(head) < 8:
		return nil, fmt.Errorf("%w: file too short", decoder.ErrCorrupt)
	case string(head[:2]) == "II":
		order = binary.LittleEndian
	case string(head[:2]) == "MM":
		order = binary.BigEndian
	default:
		if kind, _ := filetype.Match(head); kind != filetype.Unknown {
			return nil, fmt.Errorf("%w: not a TIFF container (detected %q)", decoder.ErrCorrupt, kind.Extension)
		}
		return nil, fmt.Errorf("%w: not a TIFF container", decoder.ErrCorrupt)
	}
	if magic := order.Uint16(head[2:4]); magic != 42 {
		return nil, fmt.Errorf("%w: unsupported TIFF variant (magic %d)", decoder.ErrCorrupt, magic)
	}
	return order, nil
}

// readPages follows the IFD chain from the header
func (h *handle) readPages() error {
	next := h.order.Uint32(h.head[4:8])
	seen := make(map[uint32]bool)
	for next != 0 {
		if seen[next] {
			return fmt.Errorf("%w: IFD chain loops at offset %d", decoder.ErrCorrupt, next)
		}
		seen[next] = true

		p, following, err := h.readIFD(next)
		if err != nil {
			return err
		}
		h.pages = append(h.pages, p)
		next = following
	}
	if len(h.pages) == 0 {
		return fmt.Errorf("%w: no image directories", decoder.ErrCorrupt)
	}
	return nil
}

func (h *handle) readAt(off int64, n int) ([]byte, error) {
	if off < 0 || n < 0 || off+int64(n) > h.size {
		return nil, fmt.Errorf("%w: read of %d bytes at %d past end of file", decoder.ErrCorrupt, n, off)
	}
	buf := make([]byte, n)
	if _, err := h.f.ReadAt(buf, off); err != nil {
		return nil, err
	}
	return buf, nil
}

func (h *handle) readIFD(off uint32) (page, uint32, error) {
	p := page{
		ifd:          off,
		bits:         1,
		samples:      1,
		sampleFormat: sampleFormatUint,
		compression:  compressionNone,
		photometric:  -1,
	}

	countBuf, err := h.readAt(int64(off), 2)
	if err != nil {
		return p, 0, err
	}
	n := int(h.order.Uint16(countBuf))
	entries, err := h.readAt(int64(off)+2, n*12+4)
	if err != nil {
		return p, 0, err
	}

	for i := 0; i < n; i++ {
		e := entries[i*12 : i*12+12]
		tag := h.order.Uint16(e[0:2])
		switch tag {
		case tagImageWidth, tagImageLength, tagBitsPerSample, tagCompression, tagPhotometric,
			tagStripOffsets, tagSamplesPerPixel, tagStripByteCounts, tagSampleFormat:
		default:
			continue
		}

		vals, err := h.values(e)
		if err != nil {
			return p, 0, fmt.Errorf("IFD at %d, tag %d: %w", off, tag, err)
		}
		if len(vals) == 0 {
			continue
		}
		switch tag {
		case tagImageWidth:
			p.width = int(vals[0])
		case tagImageLength:
			p.height = int(vals[0])
		case tagBitsPerSample:
			p.bits = int(vals[0])
		case tagCompression:
			p.compression = int(vals[0])
		case tagPhotometric:
			p.photometric = int(vals[0])
		case tagStripOffsets:
			p.offsets = vals
		case tagSamplesPerPixel:
			p.samples = int(vals[0])
		case tagStripByteCounts:
			p.counts = vals
		case tagSampleFormat:
			p.sampleFormat = int(vals[0])
		}
	}

	if p.width <= 0 || p.height <= 0 {
		return p, 0, fmt.Errorf("%w: IFD at %d has no dimensions", decoder.ErrCorrupt, off)
	}
	if p.photometric < 0 {
		p.photometric = photometricBlackIsZero
	}
	return p, h.order.Uint32(entries[n*12:]), nil
}

// values decodes the BYTE/SHORT/LONG payload of one IFD entry
func (h *handle) values(e []byte) ([]uint32, error) {
	typ := h.order.Uint16(e[2:4])
	count := int64(h.order.Uint32(e[4:8]))

	var width int64
	switch typ {
	case dtByte:
		width = 1
	case dtShort:
		width = 2
	case dtLong:
		width = 4
	default:
		return nil, fmt.Errorf("%w: unexpected field type %d", decoder.ErrCorrupt, typ)
	}

	size := width * count
	if size > h.size {
		return nil, fmt.Errorf("%w: field of %d bytes exceeds file size", decoder.ErrCorrupt, size)
	}
	raw := e[8:12]
	if size > 4 {
		var err error
		raw, err = h.readAt(int64(h.order.Uint32(e[8:12])), int(size))
		if err != nil {
			return nil, err
		}
	}

	out := make([]uint32, count)
	for i := range out {
		switch typ {
		case dtByte:
			out[i] = uint32(raw[i])
		case dtShort:
			out[i] = uint32(h.order.Uint16(raw[i*2:]))
		case dtLong:
			out[i] = h.order.Uint32(raw[i*4:])
		}
	}
	return out, nil
}

func (h *handle) Header() decoder.Header {
	return h.header
}

func (h *handle) Seek(index int) error {
	if index < 0 || index >= len(h.pages) {
		return fmt.Errorf("seek %d: outside [0,%d)", index, len(h.pages))
	}
	h.index = index
	return nil
}

func (h *handle) Decode() (*models.RawFrame, error) {
	if h.index < 0 {
		return nil, decoder.ErrNoFrame
	}
	p := &h.pages[h.index]
	kind := p.kind()
	if !kind.Supported() {
		return nil, fmt.Errorf("page %d: unsupported encoding %s", h.index, p.describe())
	}

	switch {
	case p.compression == compressionNone && len(p.offsets) > 0:
		return h.decodeStrips(p, kind)
	case kind == models.Unsigned8 || kind == models.Unsigned16:
		return h.decodeCompressed(p, kind)
	default:
		return nil, fmt.Errorf("page %d: compression %d is not supported for %s samples", h.index, p.compression, kind)
	}
}

func (h *handle) decodeStrips(p *page, kind models.SampleKind) (*models.RawFrame, error) {
	if len(p.offsets) != len(p.counts) {
		return nil, fmt.Errorf("%w: page %d has %d strip offsets but %d byte counts",
			decoder.ErrCorrupt, h.index, len(p.offsets), len(p.counts))
	}

	bytesPer := kind.BitDepth() / 8
	need := p.width * p.height * bytesPer
	data := make([]byte, 0, need)
	for i, off := range p.offsets {
		if len(data) >= need {
			break
		}
		strip, err := h.readAt(int64(off), int(p.counts[i]))
		if err != nil {
			return nil, fmt.Errorf("page %d strip %d: %w", h.index, i, err)
		}
		data = append(data, strip...)
	}
	if len(data) < need {
		return nil, fmt.Errorf("%w: page %d has %d bytes of pixel data, want %d",
			decoder.ErrCorrupt, h.index, len(data), need)
	}

	frame := &models.RawFrame{
		Width:   p.width,
		Height:  p.height,
		Kind:    kind,
		Samples: make([]float64, p.width*p.height),
	}
	for i := range frame.Samples {
		switch kind {
		case models.Unsigned8:
			frame.Samples[i] = float64(data[i])
		case models.Unsigned16:
			frame.Samples[i] = float64(h.order.Uint16(data[i*2:]))
		case models.SignedInt32:
			frame.Samples[i] = float64(int32(h.order.Uint32(data[i*4:])))
		case models.Float32:
			frame.Samples[i] = float64(math.Float32frombits(h.order.Uint32(data[i*4:])))
		}
	}
	return frame, nil
}

// pageReaderAt serves the file with its header rewritten so that the first
// IFD pointer names a chosen page.
type pageReaderAt struct {
	r    io.ReaderAt
	head [8]byte
}

func (p pageReaderAt) ReadAt(b []byte, off int64) (int, error) {
	n, err := p.r.ReadAt(b, off)
	for i := 0; i < n && off+int64(i) < int64(len(p.head)); i++ {
		b[i] = p.head[off+int64(i)]
	}
	return n, err
}

func (h *handle) decodeCompressed(p *page, kind models.SampleKind) (*models.RawFrame, error) {
	head := h.head
	h.order.PutUint32(head[4:8], p.ifd)
	img, err := tiff.Decode(io.NewSectionReader(pageReaderAt{r: h.f, head: head}, 0, h.size))
	if err != nil {
		return nil, fmt.Errorf("page %d: %w", h.index, err)
	}

	frame := &models.RawFrame{
		Width:   p.width,
		Height:  p.height,
		Kind:    kind,
		Samples: make([]float64, p.width*p.height),
	}
	// x/image/tiff inverts WhiteIsZero pages; samples are reported as stored
	invert := p.photometric == photometricWhiteIsZero
	b := img.Bounds()
	switch im := img.(type) {
	case *image.Gray:
		for y := 0; y < p.height; y++ {
			for x := 0; x < p.width; x++ {
				v := im.GrayAt(b.Min.X+x, b.Min.Y+y).Y
				if invert {
					v = math.MaxUint8 - v
				}
				frame.Samples[y*p.width+x] = float64(v)
			}
		}
	case *image.Gray16:
		for y := 0; y < p.height; y++ {
			for x := 0; x < p.width; x++ {
				v := im.Gray16At(b.Min.X+x, b.Min.Y+y).Y
				if invert {
					v = math.MaxUint16 - v
				}
				frame.Samples[y*p.width+x] = float64(v)
			}
		}
	default:
		return nil, fmt.Errorf("page %d: decoder produced %T, want grayscale", h.index, img)
	}
	return frame, nil
}

func (h *handle) Close() error {
	return h.f.Close()
}
