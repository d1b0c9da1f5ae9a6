package importer

import (
	gomath "math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Faultbox/chunkforge/pkg/formats"
	"github.com/Faultbox/chunkforge/pkg/math"
	"github.com/Faultbox/chunkforge/pkg/model"
)

var identity3 = [9]float32{1, 0, 0, 0, 1, 0, 0, 0, 1}

func quadNode(name, parent string) formats.RSMNode {
	return formats.RSMNode{
		Name:     name,
		Parent:   parent,
		Textures: []int32{0, 1},
		Matrix:   identity3,
		Scale:    [3]float32{1, 1, 1},
		Vertices: [][3]float32{{0, 0, 0}, {1, 0, 0}, {1, 1, 0}, {0, 1, 0}},
		TexCoords: []formats.RSMTexCoord{
			{Color: [4]uint8{255, 255, 255, 255}, U: 0, V: 0},
			{Color: [4]uint8{255, 0, 0, 255}, U: 1, V: 0},
			{Color: [4]uint8{255, 255, 255, 255}, U: 1, V: 1},
		},
		Faces: []formats.RSMFace{
			{Vertices: [3]uint16{0, 1, 2}, TexCoords: [3]uint16{0, 1, 2}, Texture: 0},
			{Vertices: [3]uint16{0, 2, 3}, TexCoords: [3]uint16{0, 2, 0}, Texture: 1, TwoSided: true},
		},
	}
}

func sampleRSMModel() *formats.RSM {
	base := quadNode("base", "")
	base.Offset = [3]float32{0, 0, 5}

	flag := quadNode("flag", "base")
	flag.Position = [3]float32{0, 2, 0}
	flag.RotKeys = []formats.RSMRotKey{
		{Frame: 0, Quaternion: [4]float32{0, 0, 0, 1}},
		{Frame: 500, Quaternion: [4]float32{0, 0.7071068, 0, 0.7071068}},
	}
	flag.ScaleKeys = []formats.RSMScaleKey{{Frame: 0, Scale: [3]float32{2, 2, 2}}}

	return &formats.RSM{
		Version:    formats.RSMVersion{Major: 1, Minor: 5},
		AnimLength: 1000,
		Shading:    formats.RSMShadingFlat,
		Alpha:      1,
		Textures:   []string{`data\texture\wood.bmp`, `data\texture\cloth.tga`},
		RootNode:   "base",
		// Children listed before parents still come out parent-first.
		Nodes: []formats.RSMNode{flag, base},
	}
}

func TestFromRSM(t *testing.T) {
	scene, err := FromRSM(sampleRSMModel(), "windmill")
	require.NoError(t, err)
	require.NoError(t, scene.Validate())
	assert.Equal(t, "windmill", scene.Name)

	bones := scene.Skeleton.Bones
	require.Len(t, bones, 2)
	assert.Equal(t, "base", bones[0].Name)
	assert.Equal(t, model.NoBone, bones[0].Parent)
	assert.Equal(t, "flag", bones[1].Name)
	assert.Equal(t, 0, bones[1].Parent)
	assert.Equal(t, math.Vec3{Y: 2}, bones[1].Translation)
	assert.Equal(t, math.QuatIdentity(), bones[1].Rotation)

	require.Len(t, scene.Materials, 2)
	wood, cloth := scene.Materials[0], scene.Materials[1]
	assert.Equal(t, "wood", wood.Name)
	assert.Equal(t, "data/texture/wood.bmp", wood.Textures[0].Path)
	assert.NotZero(t, wood.DrawFlags&model.DrawCullBack)
	assert.Equal(t, "cloth.2s", cloth.Name)
	assert.Zero(t, cloth.DrawFlags&model.DrawCullBack)
	assert.Equal(t, model.BlendOpaque, cloth.BlendMode)

	// Two materials per node, shared across nodes.
	require.Len(t, scene.Meshes, 4)
	assert.Equal(t, "base.0", scene.Meshes[0].Name)
	assert.Equal(t, "base.1", scene.Meshes[1].Name)
	assert.Equal(t, "flag.0", scene.Meshes[2].Name)
	assert.Equal(t, 0, scene.Meshes[2].Material)

	tri := scene.Meshes[0].Triangles[0]
	assert.Equal(t, math.Vec3{X: 1, Z: 5}, tri[1].Position)
	assert.Equal(t, [4]uint8{255, 0, 0, 255}, tri[1].Color)
	assert.Equal(t, [2]float32{1, 0}, tri[1].UV)
	assert.Equal(t, math.Vec3{Z: 1}, tri[0].Normal)
	for _, v := range tri {
		assert.Equal(t, 0, v.Bone)
	}
	for _, v := range scene.Meshes[3].Triangles[0] {
		assert.Equal(t, 1, v.Bone)
	}

	require.Len(t, scene.Animations, 1)
	a := scene.Animations[0]
	assert.Equal(t, "default", a.Name)
	assert.Equal(t, float32(1), a.Duration)
	require.Len(t, a.Tracks, 2)
	rot := a.Tracks[0]
	assert.Equal(t, 1, rot.Bone)
	assert.Equal(t, model.PropertyRotation, rot.Property)
	assert.Equal(t, []float32{0, 0.5}, rot.Times)
	scale := a.Tracks[1]
	assert.Equal(t, model.PropertyScale, scale.Property)
	assert.Equal(t, []math.Vec3{{X: 2, Y: 2, Z: 2}}, scale.Vectors)
}

func TestFromRSMAxisAngleRestRotation(t *testing.T) {
	rsm := sampleRSMModel()
	base := &rsm.Nodes[1]
	base.RotAxis = [3]float32{0, 0, 2}
	base.RotAngle = gomath.Pi / 2

	scene, err := FromRSM(rsm, "m")
	require.NoError(t, err)
	r := scene.Skeleton.Bones[0].Rotation
	assert.InDelta(t, gomath.Sqrt2/2, r.Z, eps)
	assert.InDelta(t, gomath.Sqrt2/2, r.W, eps)
}

func TestFromRSMSmoothShading(t *testing.T) {
	rsm := sampleRSMModel()
	rsm.Shading = formats.RSMShadingSmooth
	rsm.Nodes = rsm.Nodes[1:]
	base := &rsm.Nodes[0]
	// Fold the quad along its diagonal so the two faces disagree.
	base.Vertices[3] = [3]float32{0, 1, 1}
	base.Faces[1].Texture = 0
	base.Faces[1].TwoSided = false

	scene, err := FromRSM(rsm, "m")
	require.NoError(t, err)
	require.Len(t, scene.Meshes, 1)
	tris := scene.Meshes[0].Triangles
	// Vertex 0 is shared by both faces and gets the averaged normal.
	assert.Equal(t, tris[0][0].Normal, tris[1][0].Normal)
	assert.NotEqual(t, tris[0][1].Normal, tris[0][0].Normal)
	assert.InDelta(t, 1, tris[0][0].Normal.Length(), eps)
}

func TestFromRSMMirroredMatrixFlipsWinding(t *testing.T) {
	rsm := sampleRSMModel()
	rsm.Nodes = rsm.Nodes[1:]
	rsm.Nodes[0].Offset = [3]float32{}
	rsm.Nodes[0].Matrix = [9]float32{-1, 0, 0, 0, 1, 0, 0, 0, 1}

	scene, err := FromRSM(rsm, "m")
	require.NoError(t, err)
	tri := scene.Meshes[0].Triangles[0]
	assert.Equal(t, math.Vec3{X: -1, Y: 1}, tri[1].Position)
	assert.Equal(t, math.Vec3{X: -1}, tri[2].Position)
	assert.Equal(t, math.Vec3{Z: 1}, tri[0].Normal)
}

func TestFromRSMTranslucent(t *testing.T) {
	rsm := sampleRSMModel()
	rsm.Alpha = 0.5

	scene, err := FromRSM(rsm, "m")
	require.NoError(t, err)
	m := scene.Materials[0]
	assert.Equal(t, model.BlendTranslucent, m.BlendMode)
	assert.Equal(t, model.CombinerTexShadePrim, m.Combiner)
	assert.Equal(t, uint8(128), m.PrimColor[3])
}

func TestFromRSMErrors(t *testing.T) {
	tests := []struct {
		name   string
		modify func(rsm *formats.RSM)
	}{
		{"cycle", func(rsm *formats.RSM) {
			rsm.Nodes[1].Parent = "flag"
		}},
		{"duplicate name", func(rsm *formats.RSM) {
			rsm.Nodes[0].Name = "base"
		}},
		{"texture slot", func(rsm *formats.RSM) {
			rsm.Nodes[0].Faces[0].Texture = 7
		}},
		{"global texture", func(rsm *formats.RSM) {
			rsm.Nodes[0].Textures[0] = 9
		}},
		{"vertex index", func(rsm *formats.RSM) {
			rsm.Nodes[0].Faces[0].Vertices[2] = 40
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rsm := sampleRSMModel()
			tt.modify(rsm)
			_, err := FromRSM(rsm, "bad")
			assert.ErrorIs(t, err, model.ErrInput)
		})
	}
}

func TestLoadRSMMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.rsm"))
	assert.ErrorIs(t, err, model.ErrResource)
}

func TestLoadRSMInvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "junk.rsm")
	require.NoError(t, os.WriteFile(path, []byte("not a model"), 0o644))
	_, err := Load(path)
	assert.ErrorIs(t, err, formats.ErrInvalidRSMMagic)
}
