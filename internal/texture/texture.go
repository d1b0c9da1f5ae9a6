// Package texture resolves texture files referenced by materials and fills
// in their dimensions and wrap descriptors.
package texture

import (
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"io"
	"math/bits"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/ftrvxmtrx/tga"
	"golang.org/x/image/bmp"

	"github.com/Faultbox/chunkforge/pkg/model"
)

// ErrUnsupportedFormat is returned for files whose extension has no decoder.
var ErrUnsupportedFormat = fmt.Errorf("%w: unsupported texture format", model.ErrInput)

var decoders = map[string]func(io.Reader) (image.Config, error){
	".png":  png.DecodeConfig,
	".jpg":  jpeg.DecodeConfig,
	".jpeg": jpeg.DecodeConfig,
	".tga":  tga.DecodeConfig,
	".bmp":  bmp.DecodeConfig,
}

// Info describes a probed image.
type Info struct {
	Width  int
	Height int
}

// Prober reads image headers relative to a scene directory. It is safe for
// concurrent use; each file is probed once.
type Prober struct {
	root string

	mu    sync.RWMutex
	items map[string]Info
}

// NewProber returns a prober resolving relative paths against root.
func NewProber(root string) *Prober {
	return &Prober{root: root, items: make(map[string]Info)}
}

func (p *Prober) resolve(path string) string {
	path = filepath.FromSlash(path)
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(p.root, path)
}

// Probe returns the dimensions of the image at path.
func (p *Prober) Probe(path string) (Info, error) {
	full := p.resolve(path)

	p.mu.RLock()
	info, ok := p.items[full]
	p.mu.RUnlock()
	if ok {
		return info, nil
	}

	decode, ok := decoders[strings.ToLower(filepath.Ext(full))]
	if !ok {
		return Info{}, fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
	}
	f, err := os.Open(full)
	if err != nil {
		return Info{}, fmt.Errorf("%w: texture %s: %v", model.ErrResource, full, err)
	}
	defer f.Close()

	cfg, err := decode(f)
	if err != nil {
		return Info{}, fmt.Errorf("%w: texture %s: %v", model.ErrInput, full, err)
	}
	info = Info{Width: cfg.Width, Height: cfg.Height}

	p.mu.Lock()
	p.items[full] = info
	p.mu.Unlock()
	return info, nil
}

// Resolve probes every path texture of m and describes it.
func (p *Prober) Resolve(m *model.Material) error {
	for i := range m.Textures {
		t := &m.Textures[i]
		if t.Path == "" {
			continue
		}
		info, err := p.Probe(t.Path)
		if err != nil {
			return fmt.Errorf("material %q: %w", m.Name, err)
		}
		Describe(t, info)
	}
	return nil
}

// Describe sets the size and axis descriptors of t. Power-of-two axes get a
// wrap mask; other sizes cannot wrap and are clamped.
func Describe(t *model.Texture, info Info) {
	t.Width, t.Height = info.Width, info.Height
	describeAxis(&t.S, info.Width)
	describeAxis(&t.T, info.Height)
}

func describeAxis(a *model.TextureAxis, size int) {
	a.High = float32(size - 1)
	if size > 0 && size&(size-1) == 0 {
		a.Mask = int8(bits.Len(uint(size)) - 1)
		return
	}
	a.Mask = 0
	a.Clamp = true
	a.Mirror = false
}
