package decoder

import (
	"fmt"
	"os"

	"stacksync/internal/models"
)

// Memory is a Decoder serving stacks registered in memory. It is used by
// tests and by tooling that builds stacks on the fly.
type Memory struct {
	stacks map[string][]*models.RawFrame
	opened map[string]int
}

// NewMemory creates an empty in-memory decoder
func NewMemory() *Memory {
	return &Memory{
		stacks: make(map[string][]*models.RawFrame),
		opened: make(map[string]int),
	}
}

// Add registers frames under path, replacing any previous stack.
func (m *Memory) Add(path string, frames []*models.RawFrame) {
	m.stacks[path] = frames
}

// Remove forgets the stack at path
func (m *Memory) Remove(path string) {
	delete(m.stacks, path)
}

// Opened returns how many handles are currently open for path.
func (m *Memory) Opened(path string) int {
	return m.opened[path]
}

// Open implements Decoder. Unknown paths fail with an error wrapping
// os.ErrNotExist.
func (m *Memory) Open(path string) (Handle, error) {
	frames, ok := m.stacks[path]
	if !ok {
		return nil, fmt.Errorf("open %s: %w", path, os.ErrNotExist)
	}
	if len(frames) == 0 {
		return nil, fmt.Errorf("open %s: %w: no frames", path, ErrCorrupt)
	}

	first := frames[0]
	for i, f := range frames[1:] {
		if f.Width != first.Width || f.Height != first.Height || f.Kind != first.Kind {
			return nil, fmt.Errorf("open %s: frame %d: %w", path, i+1, ErrNonUniform)
		}
	}

	m.opened[path]++
	return &memoryHandle{
		owner:  m,
		path:   path,
		frames: frames,
		index:  -1,
	}, nil
}

type memoryHandle struct {
	owner  *Memory
	path   string
	frames []*models.RawFrame
	index  int
	closed bool
}

func (h *memoryHandle) Header() Header {
	first := h.frames[0]
	return Header{
		FrameCount:  len(h.frames),
		Width:       first.Width,
		Height:      first.Height,
		Kind:        first.Kind,
		Description: first.Kind.String(),
	}
}

func (h *memoryHandle) Seek(index int) error {
	if index < 0 || index >= len(h.frames) {
		return fmt.Errorf("seek %d: outside [0,%d)", index, len(h.frames))
	}
	h.index = index
	return nil
}

func (h *memoryHandle) Decode() (*models.RawFrame, error) {
	if h.closed {
		return nil, fmt.Errorf("decode %s: handle closed", h.path)
	}
	if h.index < 0 {
		return nil, ErrNoFrame
	}
	src := h.frames[h.index]
	out := &models.RawFrame{
		Width:   src.Width,
		Height:  src.Height,
		Kind:    src.Kind,
		Samples: make([]float64, len(src.Samples)),
	}
	copy(out.Samples, src.Samples)
	return out, nil
}

func (h *memoryHandle) Close() error {
	if h.closed {
		return nil
	}
	h.closed = true
	h.owner.opened[h.path]--
	return nil
}

// Frame is a helper for building frames of the given kind from a pixel
// function.
func Frame(kind models.SampleKind, width, height int, pixel func(x, y int) float64) *models.RawFrame {
	f := &models.RawFrame{
		Width:   width,
		Height:  height,
		Kind:    kind,
		Samples: make([]float64, width*height),
	}
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			f.Samples[y*width+x] = pixel(x, y)
		}
	}
	return f
}
