package model

// Draw flags.
const (
	DrawDepth uint32 = 1 << iota
	DrawTextured
	DrawShaded
	DrawCullBack
	DrawCullFront
	DrawAlphaCompare
)

// Color flags select which of the material's constant colors are set.
const (
	SetPrimColor uint8 = 1 << iota
	SetEnvColor
	SetBlendColor
)

// Fog modes.
const (
	FogNone uint8 = iota
	FogActive
)

// Combiner presets. The values are opaque to the compiler and passed through
// to the runtime, which decodes them into color combiner commands.
const (
	CombinerShade        uint64 = 0xFC_FFFFFF_FFFE793C
	CombinerTexShade     uint64 = 0xFC_121824_FF33FFFF
	CombinerTexShadePrim uint64 = 0xFC_127E24_FFFFF3F9
)

// Blend modes.
const (
	BlendOpaque      uint32 = 0
	BlendTranslucent uint32 = 0x0050_4340
)

// MaxTextures is the number of texture slots per material.
const MaxTextures = 2

// TextureAxis holds the sampling parameters of one texture coordinate.
type TextureAxis struct {
	Low    float32
	High   float32
	Mask   int8
	Shift  int8
	Mirror bool
	Clamp  bool
}

// Texture references either a runtime-provided texture or an image file.
type Texture struct {
	// Reference is a runtime texture id; zero when Path is used.
	Reference uint32
	// Path is the image file relative to the scene directory.
	Path   string
	Width  int
	Height int
	S, T   TextureAxis
}

// Used reports whether the slot holds a texture.
func (t *Texture) Used() bool {
	return t.Reference != 0 || t.Path != ""
}

// Material is the fixed-function render state of a mesh.
type Material struct {
	Name           string
	Combiner       uint64
	OtherModeValue uint64
	OtherModeMask  uint64
	BlendMode      uint32
	DrawFlags      uint32
	FogMode        uint8
	ColorFlags     uint8
	PrimColor      [4]uint8
	EnvColor       [4]uint8
	BlendColor     [4]uint8
	Textures       [MaxTextures]Texture
}

// DefaultMaterial returns an untextured, depth-tested, back-face culled
// material.
func DefaultMaterial(name string) Material {
	return Material{
		Name:      name,
		Combiner:  CombinerShade,
		DrawFlags: DrawDepth | DrawShaded | DrawCullBack,
		PrimColor: [4]uint8{0xFF, 0xFF, 0xFF, 0xFF},
	}
}
