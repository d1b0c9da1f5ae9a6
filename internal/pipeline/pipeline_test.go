package pipeline

import (
	"context"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"github.com/qmuntal/gltf"
	"github.com/qmuntal/gltf/modeler"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Faultbox/chunkforge/internal/config"
	"github.com/Faultbox/chunkforge/internal/texture"
	"github.com/Faultbox/chunkforge/pkg/anim"
	"github.com/Faultbox/chunkforge/pkg/chunk"
	"github.com/Faultbox/chunkforge/pkg/container"
	"github.com/Faultbox/chunkforge/pkg/math"
	"github.com/Faultbox/chunkforge/pkg/model"
	"github.com/Faultbox/chunkforge/pkg/vertex"
)

// grid returns a w×h quad grid as triangles, offset along X.
func grid(w, h int, x0 float32, bone int) []model.Triangle {
	v := func(x, y int) model.Vertex {
		return model.Vertex{
			Position: math.Vec3{X: x0 + float32(x)*0.5, Y: float32(y) * 0.5},
			Normal:   math.Vec3{Z: 1},
			Color:    [4]uint8{255, 255, 255, 255},
			UV:       [2]float32{float32(x) / float32(w), float32(y) / float32(h)},
			Bone:     bone,
		}
	}
	var tris []model.Triangle
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			tris = append(tris,
				model.Triangle{v(x, y), v(x+1, y), v(x+1, y+1)},
				model.Triangle{v(x, y), v(x+1, y+1), v(x, y+1)})
		}
	}
	return tris
}

func testScene() *model.Scene {
	mat := model.DefaultMaterial("ground")
	mat.DrawFlags |= model.DrawTextured
	mat.Textures[0] = model.Texture{Path: "ground.png", Width: 32, Height: 32}

	return &model.Scene{
		Name:      "yard",
		Materials: []model.Material{mat, model.DefaultMaterial("plain")},
		Meshes: []model.Mesh{
			{Name: "ground", Material: 0, Triangles: grid(12, 12, 0, model.NoBone)},
			{Name: "post", Material: 1, Triangles: grid(2, 6, 20, 0)},
			{Name: "sign", Material: 1, Triangles: grid(3, 1, 40, 1)},
		},
		Skeleton: model.Skeleton{Bones: []model.Bone{
			{Name: "post", Parent: model.NoBone, Scale: math.Vec3{X: 1, Y: 1, Z: 1}, Rotation: math.QuatIdentity()},
			{Name: "sign", Parent: 0, Scale: math.Vec3{X: 1, Y: 1, Z: 1}, Rotation: math.QuatIdentity(), Translation: math.Vec3{Y: 3}},
		}},
		Animations: []model.Animation{{
			Name:     "swing",
			Duration: 2,
			Tracks: []model.Track{{
				Bone:      1,
				Property:  model.PropertyRotation,
				Times:     []float32{0, 1, 2},
				Rotations: []math.Quat{math.QuatIdentity(), math.QuatFromAxisAngle(math.Vec3{X: 1}, 0.6), math.QuatIdentity()},
			}},
		}},
	}
}

func cornerHashes(t *testing.T, tris [][3]vertex.Record) []uint64 {
	t.Helper()
	var hs []uint64
	for _, tri := range tris {
		for _, r := range tri {
			hs = append(hs, r.Hash)
		}
	}
	slices.Sort(hs)
	return hs
}

func TestCompile(t *testing.T) {
	cfg := config.Default()
	scene := testScene()

	out, err := Compile(context.Background(), scene, cfg, "yard", nil)
	require.NoError(t, err)

	f, err := container.Parse(out.Container)
	require.NoError(t, err)
	require.Len(t, f.Objects, 3)
	assert.Equal(t, "ground", f.Objects[0].Name)
	assert.Equal(t, "sign", f.Objects[2].Name)
	assert.Equal(t, 1, f.Objects[1].Material)
	require.NotNil(t, f.BVH)

	opts := vertex.Options{PositionScale: cfg.Target.PositionScale, Normals: vertex.Normal565}
	for oi, m := range scene.Meshes {
		o := opts
		if tex := scene.Materials[m.Material].Textures[0]; tex.Used() {
			o.TextureWidth, o.TextureHeight = tex.Width, tex.Height
		}
		var want [][3]vertex.Record
		for _, tri := range m.Triangles {
			var rt [3]vertex.Record
			for k, v := range tri {
				rt[k], err = vertex.Build(v, o)
				require.NoError(t, err)
			}
			want = append(want, rt)
		}
		got, err := f.Triangles(oi)
		require.NoError(t, err)
		assert.Equal(t, len(want), f.Objects[oi].Triangles)
		assert.Equal(t, cornerHashes(t, want), cornerHashes(t, got), "object %s", m.Name)
	}

	for _, p := range f.Objects[2].Parts {
		assert.Equal(t, 1, p.Bone)
	}

	assert.Equal(t, 3, out.Stats.Objects)
	assert.Equal(t, 12*12*2+2*6*2+3*2, out.Stats.Triangles)
	assert.Equal(t, len(out.Container), out.Stats.Bytes)
	assert.Equal(t, len(f.BVH.Nodes), out.Stats.BVHNodes)
}

func TestCompileStreams(t *testing.T) {
	out, err := Compile(context.Background(), testScene(), config.Default(), "yard",
		func(file string) string { return "anim/" + file })
	require.NoError(t, err)

	require.Len(t, out.Streams, 1)
	s := out.Streams[0]
	assert.Equal(t, "yard.swing.kfs", s.File)
	assert.Equal(t, "anim/yard.swing.kfs", s.Ref)

	f, err := container.Parse(out.Container)
	require.NoError(t, err)
	require.Len(t, f.Animations, 1)
	a := f.Animations[0]
	assert.Equal(t, "swing", a.Name)
	assert.Equal(t, s.Ref, a.StreamPath)
	assert.Equal(t, 60, a.TicksPerSecond)

	keys, err := anim.DecodeStream(s.Data, a.QuatChannels, len(a.Channels))
	require.NoError(t, err)
	assert.Len(t, keys, a.Keyframes)
	assert.Equal(t, a.Keyframes, out.Stats.Keyframes)
}

func TestCompileIsDeterministic(t *testing.T) {
	serial := config.Default()
	serial.Build.Workers = 1
	parallel := config.Default()
	parallel.Build.Workers = 8

	a, err := Compile(context.Background(), testScene(), serial, "yard", nil)
	require.NoError(t, err)
	b, err := Compile(context.Background(), testScene(), parallel, "yard", nil)
	require.NoError(t, err)
	assert.Equal(t, a.Container, b.Container)
	assert.Equal(t, a.Streams, b.Streams)
}

func TestCompileOptions(t *testing.T) {
	cfg := config.Default()
	cfg.Strips.Enabled = false
	cfg.BVH.Enabled = false
	cfg.Target.MaxVertexCount = 32

	out, err := Compile(context.Background(), testScene(), cfg, "yard", nil)
	require.NoError(t, err)
	assert.Zero(t, out.Stats.StripBuffers)
	assert.Zero(t, out.Stats.BVHNodes)

	f, err := container.Parse(out.Container)
	require.NoError(t, err)
	assert.Nil(t, f.BVH)
	for _, o := range f.Objects {
		for _, p := range o.Parts {
			assert.LessOrEqual(t, p.DestOffset+p.VertexCount, 32)
			assert.Equal(t, [4]int{}, p.StripLengths)
		}
	}
}

func TestCompileRejectsInvalidScene(t *testing.T) {
	scene := testScene()
	scene.Meshes[1].Material = 9
	scene.Animations[0].Tracks[0].Bone = 5

	_, err := Compile(context.Background(), scene, config.Default(), "yard", nil)
	require.ErrorIs(t, err, model.ErrInput)
	assert.Contains(t, err.Error(), "material 9 out of range")
	assert.Contains(t, err.Error(), "not found in skeleton")
}

func TestCompileCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Compile(ctx, testScene(), config.Default(), "yard", nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCompileZeroWorkers(t *testing.T) {
	cfg := config.Default()
	cfg.Build.Workers = 0

	done := make(chan error, 1)
	go func() {
		_, err := Compile(context.Background(), testScene(), cfg, "yard", nil)
		done <- err
	}()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("compile with zero workers did not finish")
	}
}

func TestResolveTexturesZeroWorkers(t *testing.T) {
	scene := testScene()
	done := make(chan error, 1)
	go func() {
		done <- resolveTextures(context.Background(), scene, texture.NewProber(t.TempDir()), 0)
	}()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("texture resolution with zero workers did not finish")
	}
}

func TestHierarchySkipsEmptyObjects(t *testing.T) {
	c, err := newCompiler(config.Default())
	require.NoError(t, err)
	box := func(x int16) chunk.Chunk {
		return chunk.Chunk{BoundsMin: [3]int16{x, 0, 0}, BoundsMax: [3]int16{x + 10, 10, 10}}
	}
	objects := []container.Object{
		{Name: "empty"},
		{Name: "left", Chunks: []chunk.Chunk{box(0)}},
		{Name: "none"},
		{Name: "right", Chunks: []chunk.Chunk{box(100)}},
	}

	tree, err := c.hierarchy(objects)
	require.NoError(t, err)
	assert.ElementsMatch(t, []int16{1, 3}, tree.Prims)
	assert.Equal(t, [3]int16{0, 0, 0}, tree.Nodes[0].Box.Min)
	assert.Equal(t, [3]int16{110, 10, 10}, tree.Nodes[0].Box.Max)
}

func TestStreamFile(t *testing.T) {
	taken := make(map[string]bool)
	assert.Equal(t, "hero.walk_cycle.kfs", streamFile("hero", "walk cycle", 0, taken))
	assert.Equal(t, "hero.anim1.kfs", streamFile("hero", "walk?cycle", 1, taken))
	assert.Equal(t, "hero.anim2.kfs", streamFile("hero", "", 2, taken))
	assert.Equal(t, "hero.Run-2.kfs", streamFile("hero", "Run-2", 3, taken))
}

func TestOutputPath(t *testing.T) {
	assert.Equal(t, filepath.Join("a", "hero.ckf"), OutputPath(filepath.Join("a", "hero.glb")))
	assert.Equal(t, "prop.ckf", OutputPath("prop.rsm"))
}

func writePNG(t *testing.T, path string, w, h int) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, png.Encode(f, image.NewRGBA(image.Rect(0, 0, w, h))))
}

// writeScene saves a textured, animated two-joint quad as a .glb file.
func writeScene(t *testing.T, dir string) string {
	t.Helper()
	doc := gltf.NewDocument()
	pos := modeler.WritePosition(doc, [][3]float32{{0, 0, 0}, {1, 0, 0}, {1, 1, 0}, {0, 1, 0}})
	uv := modeler.WriteTextureCoord(doc, [][2]float32{{0, 0}, {1, 0}, {1, 1}, {0, 1}})
	joints := modeler.WriteJoints(doc, [][4]uint16{{0}, {0}, {1}, {1}})
	weights := modeler.WriteWeights(doc, [][4]float32{{1}, {1}, {1}, {1}})
	idx := modeler.WriteIndices(doc, []uint16{0, 1, 2, 0, 2, 3})

	doc.Images = []*gltf.Image{{URI: "skin.png"}}
	doc.Textures = []*gltf.Texture{{Source: gltf.Index(0)}}
	doc.Materials = []*gltf.Material{{
		Name:                 "cloth",
		PBRMetallicRoughness: &gltf.PBRMetallicRoughness{BaseColorTexture: &gltf.TextureInfo{Index: 0}},
	}}
	doc.Meshes = []*gltf.Mesh{{Name: "banner", Primitives: []*gltf.Primitive{{
		Attributes: map[string]int{"POSITION": pos, "TEXCOORD_0": uv, "JOINTS_0": joints, "WEIGHTS_0": weights},
		Indices:    gltf.Index(idx),
		Material:   gltf.Index(0),
	}}}}
	doc.Skins = []*gltf.Skin{{Joints: []int{1, 2}}}
	doc.Nodes = []*gltf.Node{
		{Name: "banner", Mesh: gltf.Index(0), Skin: gltf.Index(0), Rotation: [4]float64{0, 0, 0, 1}, Scale: [3]float64{1, 1, 1}},
		{Name: "pole", Children: []int{2}, Rotation: [4]float64{0, 0, 0, 1}, Scale: [3]float64{1, 1, 1}},
		{Name: "cloth", Rotation: [4]float64{0, 0, 0, 1}, Scale: [3]float64{1, 1, 1}},
	}
	doc.Scenes[0].Nodes = []int{0, 1}

	times := modeler.WriteAccessor(doc, gltf.TargetNone, []float32{0, 0.5, 1})
	moves := modeler.WriteAccessor(doc, gltf.TargetNone, [][3]float32{{0, 0, 0}, {0, 0, 0.5}, {0, 0, 0}})
	doc.Animations = []*gltf.Animation{{
		Name:     "flutter",
		Samplers: []*gltf.AnimationSampler{{Input: times, Output: moves}},
		Channels: []*gltf.AnimationChannel{{Sampler: 0, Target: gltf.AnimationChannelTarget{Node: gltf.Index(2), Path: gltf.TRSTranslation}}},
	}}

	path := filepath.Join(dir, "flag.glb")
	require.NoError(t, gltf.SaveBinary(doc, path))
	return path
}

func TestBuild(t *testing.T) {
	dir := t.TempDir()
	input := writeScene(t, dir)
	writePNG(t, filepath.Join(dir, "skin.png"), 64, 24)

	cfg := config.Default()
	cfg.Build.StreamDir = filepath.Join(dir, "streams")
	output := filepath.Join(dir, "out", "flag.ckf")

	st, err := Build(context.Background(), cfg, input, output)
	require.NoError(t, err)
	assert.Equal(t, 1, st.Objects)
	assert.Equal(t, 2, st.Triangles)
	assert.Equal(t, 1, st.Animations)

	data, err := os.ReadFile(output)
	require.NoError(t, err)
	f, err := container.Parse(data)
	require.NoError(t, err)

	tex := f.Materials[0].Textures[0]
	assert.Equal(t, "skin.png", tex.Path)
	assert.Equal(t, 64, tex.Width)
	assert.Equal(t, 24, tex.Height)
	assert.Equal(t, int8(6), tex.S.Mask)
	assert.True(t, tex.T.Clamp)

	require.Len(t, f.Bones, 2)
	require.Len(t, f.Animations, 1)
	assert.Equal(t, "../streams/flag.flutter.kfs", f.Animations[0].StreamPath)
	_, err = os.Stat(filepath.Join(dir, "streams", "flag.flutter.kfs"))
	assert.NoError(t, err)

	entries, err := os.ReadDir(filepath.Join(dir, "out"))
	require.NoError(t, err)
	require.Len(t, entries, 1, "no staging files are left behind")
}

func TestBuildMissingTextureWritesNothing(t *testing.T) {
	dir := t.TempDir()
	input := writeScene(t, dir)
	output := filepath.Join(dir, "flag.ckf")

	_, err := Build(context.Background(), config.Default(), input, output)
	require.ErrorIs(t, err, model.ErrResource)
	assert.Contains(t, err.Error(), "skin.png")

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "flag.glb", entries[0].Name())
}

func TestRun(t *testing.T) {
	dir := t.TempDir()
	input := writeScene(t, dir)
	writePNG(t, filepath.Join(dir, "skin.png"), 16, 16)

	st, err := Run(context.Background(), config.Default(), []string{input})
	require.NoError(t, err)
	assert.Equal(t, 1, st.Objects)
	assert.FileExists(t, filepath.Join(dir, "flag.ckf"))
	assert.FileExists(t, filepath.Join(dir, "flag.flutter.kfs"))
}

func TestRunErrors(t *testing.T) {
	_, err := Run(context.Background(), config.Default(), nil)
	assert.ErrorIs(t, err, ErrNoInput)

	cfg := config.Default()
	cfg.Build.Output = "out.ckf"
	_, err = Run(context.Background(), cfg, []string{"a.glb", "b.glb"})
	assert.ErrorIs(t, err, ErrOutputAmbiguous)

	_, err = Run(context.Background(), config.Default(), []string{"scene.obj"})
	assert.ErrorIs(t, err, model.ErrInput)
}

func TestWriteAllRollsBack(t *testing.T) {
	dir := t.TempDir()
	ckf := filepath.Join(dir, "scene.ckf")
	stream := filepath.Join(dir, "scene.walk.kfs")
	require.NoError(t, os.MkdirAll(filepath.Join(stream, "keep"), 0o755))

	err := writeAll([]pendingFile{
		{path: ckf, data: []byte("ckf")},
		{path: stream, data: []byte("kfs")},
	})
	require.ErrorIs(t, err, model.ErrResource)
	assert.NoFileExists(t, ckf)
	assert.DirExists(t, filepath.Join(stream, "keep"))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1, "only the blocking directory is left")
}

func TestWriteAllRestoresReplacedFiles(t *testing.T) {
	dir := t.TempDir()
	ckf := filepath.Join(dir, "scene.ckf")
	stream := filepath.Join(dir, "scene.walk.kfs")
	require.NoError(t, os.WriteFile(ckf, []byte("old"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(stream, "keep"), 0o755))

	err := writeAll([]pendingFile{
		{path: ckf, data: []byte("new")},
		{path: stream, data: []byte("kfs")},
	})
	require.Error(t, err)
	data, err := os.ReadFile(ckf)
	require.NoError(t, err)
	assert.Equal(t, "old", string(data))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestWriteAllReplacesFiles(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "a.bin")
	require.NoError(t, os.WriteFile(target, []byte("old"), 0o644))

	require.NoError(t, writeAll([]pendingFile{
		{path: target, data: []byte("new")},
		{path: filepath.Join(dir, "sub", "b.bin"), data: []byte("b")},
	}))
	data, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, "new", string(data))
	assert.FileExists(t, filepath.Join(dir, "sub", "b.bin"))
}
