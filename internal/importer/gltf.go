package importer

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"strings"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/qmuntal/gltf"
	"github.com/qmuntal/gltf/modeler"
	"go.uber.org/zap"

	"github.com/Faultbox/chunkforge/internal/logger"
	"github.com/Faultbox/chunkforge/pkg/math"
	"github.com/Faultbox/chunkforge/pkg/model"
)

// LoadGLTF imports a .gltf or .glb file.
func LoadGLTF(path string) (*model.Scene, error) {
	doc, err := gltf.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %v", model.ErrResource, err)
		}
		return nil, fmt.Errorf("%w: %s: %v", model.ErrInput, path, err)
	}
	return FromGLTF(doc, sceneName(path))
}

// FromGLTF converts a loaded document. Static meshes are baked into world
// space. Skinned vertices are bound to their most weighted joint and moved
// into that joint's space by its inverse bind matrix.
func FromGLTF(doc *gltf.Document, name string) (*model.Scene, error) {
	im := &gltfImporter{
		doc:             doc,
		scene:           &model.Scene{Name: name},
		bones:           make(map[int]int),
		defaultMaterial: -1,
	}
	im.linkParents()

	steps := []struct {
		name string
		fn   func() error
	}{
		{"materials", im.materials},
		{"skeleton", im.skeleton},
		{"meshes", im.meshes},
		{"animations", im.animations},
	}
	for _, s := range steps {
		if err := s.fn(); err != nil {
			return nil, fmt.Errorf("gltf %s: %w", s.name, err)
		}
	}
	return im.scene, nil
}

type gltfImporter struct {
	doc     *gltf.Document
	scene   *model.Scene
	parents []int       // parent node per node, -1 for roots
	bones   map[int]int // joint node to bone index

	defaultMaterial int
}

func (im *gltfImporter) linkParents() {
	im.parents = make([]int, len(im.doc.Nodes))
	for i := range im.parents {
		im.parents[i] = -1
	}
	for i, n := range im.doc.Nodes {
		for _, c := range n.Children {
			if c >= 0 && c < len(im.parents) {
				im.parents[c] = i
			}
		}
	}
}

func (im *gltfImporter) roots() []int {
	doc := im.doc
	if doc.Scene != nil && *doc.Scene < len(doc.Scenes) {
		return doc.Scenes[*doc.Scene].Nodes
	}
	var roots []int
	for i, p := range im.parents {
		if p < 0 {
			roots = append(roots, i)
		}
	}
	return roots
}

// walk visits nodes parent-first with their world matrix.
func (im *gltfImporter) walk(visit func(node int, world mgl32.Mat4) error) error {
	seen := make([]bool, len(im.doc.Nodes))
	var rec func(node int, parent mgl32.Mat4) error
	rec = func(node int, parent mgl32.Mat4) error {
		if node < 0 || node >= len(im.doc.Nodes) {
			return fmt.Errorf("%w: node %d out of range", model.ErrInput, node)
		}
		if seen[node] {
			return fmt.Errorf("%w: node %d appears twice in the hierarchy", model.ErrInput, node)
		}
		seen[node] = true
		world := parent.Mul4(localMatrix(im.doc.Nodes[node]))
		if err := visit(node, world); err != nil {
			return err
		}
		for _, c := range im.doc.Nodes[node].Children {
			if err := rec(c, world); err != nil {
				return err
			}
		}
		return nil
	}
	for _, r := range im.roots() {
		if err := rec(r, mgl32.Ident4()); err != nil {
			return err
		}
	}
	return nil
}

var identity16 = [16]float64{1, 0, 0, 0, 0, 1, 0, 0, 0, 0, 1, 0, 0, 0, 0, 1}

func hasMatrix(n *gltf.Node) bool {
	return n.Matrix != [16]float64{} && n.Matrix != identity16
}

func nodeTRS(n *gltf.Node) (t mgl32.Vec3, r mgl32.Quat, s mgl32.Vec3) {
	t = mgl32.Vec3{float32(n.Translation[0]), float32(n.Translation[1]), float32(n.Translation[2])}
	r = mgl32.QuatIdent()
	if n.Rotation != [4]float64{} {
		r = mgl32.Quat{W: float32(n.Rotation[3]), V: mgl32.Vec3{float32(n.Rotation[0]), float32(n.Rotation[1]), float32(n.Rotation[2])}}
	}
	s = mgl32.Vec3{1, 1, 1}
	if n.Scale != [3]float64{} {
		s = mgl32.Vec3{float32(n.Scale[0]), float32(n.Scale[1]), float32(n.Scale[2])}
	}
	return t, r, s
}

func localMatrix(n *gltf.Node) mgl32.Mat4 {
	if hasMatrix(n) {
		var m mgl32.Mat4
		for i, v := range n.Matrix {
			m[i] = float32(v)
		}
		return m
	}
	t, r, s := nodeTRS(n)
	return mgl32.Translate3D(t[0], t[1], t[2]).Mul4(r.Mat4()).Mul4(mgl32.Scale3D(s[0], s[1], s[2]))
}

// decompose splits an affine matrix without shear into its TRS parts.
func decompose(m mgl32.Mat4) (t mgl32.Vec3, r mgl32.Quat, s mgl32.Vec3) {
	t = m.Col(3).Vec3()
	rot := mgl32.Ident4()
	for c := 0; c < 3; c++ {
		col := m.Col(c).Vec3()
		s[c] = col.Len()
		if s[c] > 0 {
			col = col.Mul(1 / s[c])
		}
		rot.SetCol(c, col.Vec4(0))
	}
	if rot.Det() < 0 {
		s[0] = -s[0]
		rot.SetCol(0, rot.Col(0).Mul(-1))
	}
	return t, mgl32.Mat4ToQuat(rot).Normalize(), s
}

func vec3(v mgl32.Vec3) math.Vec3 {
	return math.Vec3{X: v[0], Y: v[1], Z: v[2]}
}

func quat(q mgl32.Quat) math.Quat {
	return math.Quat{X: q.V[0], Y: q.V[1], Z: q.V[2], W: q.W}
}

func colorBytes(c [4]float64) [4]uint8 {
	var out [4]uint8
	for i, v := range c {
		out[i] = uint8(min(max(v, 0), 1)*255 + 0.5)
	}
	return out
}

func (im *gltfImporter) materials() error {
	for i, gm := range im.doc.Materials {
		name := gm.Name
		if name == "" {
			name = fmt.Sprintf("material%d", i)
		}
		m := model.DefaultMaterial(name)
		if pbr := gm.PBRMetallicRoughness; pbr != nil {
			if pbr.BaseColorFactor != nil {
				m.PrimColor = colorBytes(*pbr.BaseColorFactor)
			}
			if ti := pbr.BaseColorTexture; ti != nil {
				tex, err := im.texture(ti.Index)
				if err != nil {
					return fmt.Errorf("material %q: %w", name, err)
				}
				m.Textures[0] = tex
				m.DrawFlags |= model.DrawTextured
				m.Combiner = model.CombinerTexShade
				if m.PrimColor != white {
					m.Combiner = model.CombinerTexShadePrim
				}
			}
		}
		switch gm.AlphaMode {
		case gltf.AlphaBlend:
			m.BlendMode = model.BlendTranslucent
		case gltf.AlphaMask:
			m.DrawFlags |= model.DrawAlphaCompare
		}
		if gm.DoubleSided {
			m.DrawFlags &^= model.DrawCullBack
		}
		im.scene.Materials = append(im.scene.Materials, m)
	}
	return nil
}

// texture describes a texture by file path, or by runtime reference
// (image index + 1) when the image is embedded in the document.
func (im *gltfImporter) texture(index int) (model.Texture, error) {
	doc := im.doc
	if index < 0 || index >= len(doc.Textures) {
		return model.Texture{}, fmt.Errorf("%w: texture %d out of range", model.ErrInput, index)
	}
	t := doc.Textures[index]
	if t.Source == nil || *t.Source < 0 || *t.Source >= len(doc.Images) {
		return model.Texture{}, fmt.Errorf("%w: texture %d has no image", model.ErrInput, index)
	}

	var tex model.Texture
	img := doc.Images[*t.Source]
	if img.BufferView != nil || strings.HasPrefix(img.URI, "data:") {
		tex.Reference = uint32(*t.Source + 1)
	} else {
		p, err := url.PathUnescape(img.URI)
		if err != nil {
			return model.Texture{}, fmt.Errorf("%w: image %d uri %q: %v", model.ErrInput, *t.Source, img.URI, err)
		}
		tex.Path = p
	}

	wrapS, wrapT := gltf.WrapRepeat, gltf.WrapRepeat
	if t.Sampler != nil && *t.Sampler >= 0 && *t.Sampler < len(doc.Samplers) {
		wrapS, wrapT = doc.Samplers[*t.Sampler].WrapS, doc.Samplers[*t.Sampler].WrapT
	}
	wrap(&tex.S, wrapS)
	wrap(&tex.T, wrapT)
	return tex, nil
}

func wrap(a *model.TextureAxis, mode gltf.WrappingMode) {
	a.Clamp = mode == gltf.WrapClampToEdge
	a.Mirror = mode == gltf.WrapMirroredRepeat
}

// skeleton collects the joints of every skin in parent-first order. A
// bone's rest transform is relative to its nearest joint ancestor.
func (im *gltfImporter) skeleton() error {
	joints := make(map[int]bool)
	for _, skin := range im.doc.Skins {
		for _, j := range skin.Joints {
			if j < 0 || j >= len(im.doc.Nodes) {
				return fmt.Errorf("%w: skin joint %d out of range", model.ErrInput, j)
			}
			joints[j] = true
		}
	}
	if len(joints) == 0 {
		return nil
	}

	worlds := make(map[int]mgl32.Mat4)
	err := im.walk(func(node int, world mgl32.Mat4) error {
		worlds[node] = world
		if !joints[node] {
			return nil
		}
		parentNode := im.parents[node]
		for parentNode >= 0 && !joints[parentNode] {
			parentNode = im.parents[parentNode]
		}

		n := im.doc.Nodes[node]
		bone := model.Bone{Name: n.Name, Parent: model.NoBone}
		if bone.Name == "" {
			bone.Name = fmt.Sprintf("joint%d", node)
		}
		var t, s mgl32.Vec3
		var r mgl32.Quat
		switch {
		case im.parents[node] == parentNode && !hasMatrix(n):
			t, r, s = nodeTRS(n)
		case parentNode >= 0:
			t, r, s = decompose(worlds[parentNode].Inv().Mul4(world))
		default:
			t, r, s = decompose(world)
		}
		if parentNode >= 0 {
			bone.Parent = im.bones[parentNode]
		}
		bone.Translation, bone.Rotation, bone.Scale = vec3(t), quat(r), vec3(s)

		im.bones[node] = len(im.scene.Skeleton.Bones)
		im.scene.Skeleton.Bones = append(im.scene.Skeleton.Bones, bone)
		return nil
	})
	if err != nil {
		return err
	}
	if len(im.bones) != len(joints) {
		return fmt.Errorf("%w: %d skin joints are not part of the scene", model.ErrInput, len(joints)-len(im.bones))
	}
	return nil
}

type skinBinding struct {
	bones []int        // bone per skin joint
	ibm   []mgl32.Mat4 // inverse bind matrix per skin joint
}

func (im *gltfImporter) binding(index int) (*skinBinding, error) {
	if index < 0 || index >= len(im.doc.Skins) {
		return nil, fmt.Errorf("%w: skin %d out of range", model.ErrInput, index)
	}
	skin := im.doc.Skins[index]
	b := &skinBinding{bones: make([]int, len(skin.Joints)), ibm: make([]mgl32.Mat4, len(skin.Joints))}
	for i, j := range skin.Joints {
		b.bones[i] = im.bones[j]
		b.ibm[i] = mgl32.Ident4()
	}
	if skin.InverseBindMatrices == nil {
		return b, nil
	}
	data, err := im.read(*skin.InverseBindMatrices)
	if err != nil {
		return nil, err
	}
	mats, ok := data.([][4][4]float32)
	if !ok || len(mats) < len(skin.Joints) {
		return nil, fmt.Errorf("%w: skin %d inverse bind matrices", model.ErrInput, index)
	}
	for i := range skin.Joints {
		for c := 0; c < 4; c++ {
			for r := 0; r < 4; r++ {
				b.ibm[i][c*4+r] = mats[i][c][r]
			}
		}
	}
	return b, nil
}

func (im *gltfImporter) accessor(index int) (*gltf.Accessor, error) {
	if index < 0 || index >= len(im.doc.Accessors) {
		return nil, fmt.Errorf("%w: accessor %d out of range", model.ErrInput, index)
	}
	return im.doc.Accessors[index], nil
}

func (im *gltfImporter) read(index int) (any, error) {
	acc, err := im.accessor(index)
	if err != nil {
		return nil, err
	}
	data, err := modeler.ReadAccessor(im.doc, acc, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: accessor %d: %v", model.ErrInput, index, err)
	}
	return data, nil
}

func (im *gltfImporter) meshes() error {
	return im.walk(func(node int, world mgl32.Mat4) error {
		n := im.doc.Nodes[node]
		if n.Mesh == nil {
			return nil
		}
		if *n.Mesh < 0 || *n.Mesh >= len(im.doc.Meshes) {
			return fmt.Errorf("%w: node %d mesh %d out of range", model.ErrInput, node, *n.Mesh)
		}
		gm := im.doc.Meshes[*n.Mesh]

		var skin *skinBinding
		if n.Skin != nil {
			var err error
			if skin, err = im.binding(*n.Skin); err != nil {
				return err
			}
		}

		name := n.Name
		if name == "" {
			name = gm.Name
		}
		if name == "" {
			name = fmt.Sprintf("mesh%d", *n.Mesh)
		}
		for pi, prim := range gm.Primitives {
			m := model.Mesh{Name: name, Material: im.materialIndex(prim)}
			if len(gm.Primitives) > 1 {
				m.Name = fmt.Sprintf("%s.%d", name, pi)
			}
			tris, err := im.primitive(prim, world, skin)
			if err != nil {
				return fmt.Errorf("mesh %q: %w", m.Name, err)
			}
			m.Triangles = tris
			im.scene.Meshes = append(im.scene.Meshes, m)
		}
		return nil
	})
}

func (im *gltfImporter) materialIndex(prim *gltf.Primitive) int {
	if prim.Material != nil && *prim.Material >= 0 && *prim.Material < len(im.scene.Materials) {
		return *prim.Material
	}
	if im.defaultMaterial < 0 {
		im.defaultMaterial = len(im.scene.Materials)
		im.scene.Materials = append(im.scene.Materials, model.DefaultMaterial("default"))
	}
	return im.defaultMaterial
}

// triangleIndices expands a primitive's index list into triangles.
func triangleIndices(mode gltf.PrimitiveMode, idx []uint32) ([][3]uint32, error) {
	var tris [][3]uint32
	switch mode {
	case gltf.PrimitiveTriangles:
		for i := 0; i+2 < len(idx); i += 3 {
			tris = append(tris, [3]uint32{idx[i], idx[i+1], idx[i+2]})
		}
	case gltf.PrimitiveTriangleStrip:
		for i := 0; i+2 < len(idx); i++ {
			if i%2 == 0 {
				tris = append(tris, [3]uint32{idx[i], idx[i+1], idx[i+2]})
			} else {
				tris = append(tris, [3]uint32{idx[i+1], idx[i], idx[i+2]})
			}
		}
	case gltf.PrimitiveTriangleFan:
		for i := 1; i+1 < len(idx); i++ {
			tris = append(tris, [3]uint32{idx[0], idx[i], idx[i+1]})
		}
	default:
		return nil, fmt.Errorf("%w: primitive mode %v is not triangles", model.ErrInput, mode)
	}
	return tris, nil
}

func (im *gltfImporter) primitive(prim *gltf.Primitive, world mgl32.Mat4, skin *skinBinding) ([]model.Triangle, error) {
	doc := im.doc
	attr := func(name string) (*gltf.Accessor, bool, error) {
		i, ok := prim.Attributes[name]
		if !ok {
			return nil, false, nil
		}
		acc, err := im.accessor(i)
		return acc, err == nil, err
	}

	posAcc, ok, err := attr("POSITION")
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: primitive has no POSITION", model.ErrInput)
	}
	positions, err := modeler.ReadPosition(doc, posAcc, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: positions: %v", model.ErrInput, err)
	}
	count := len(positions)

	var normals [][3]float32
	if acc, ok, err := attr("NORMAL"); err != nil {
		return nil, err
	} else if ok {
		if normals, err = modeler.ReadNormal(doc, acc, nil); err != nil {
			return nil, fmt.Errorf("%w: normals: %v", model.ErrInput, err)
		}
	}
	var uvs [][2]float32
	if acc, ok, err := attr("TEXCOORD_0"); err != nil {
		return nil, err
	} else if ok {
		if uvs, err = modeler.ReadTextureCoord(doc, acc, nil); err != nil {
			return nil, fmt.Errorf("%w: texture coordinates: %v", model.ErrInput, err)
		}
	}
	var colors [][4]uint8
	if acc, ok, err := attr("COLOR_0"); err != nil {
		return nil, err
	} else if ok {
		if colors, err = modeler.ReadColor(doc, acc, nil); err != nil {
			return nil, fmt.Errorf("%w: colors: %v", model.ErrInput, err)
		}
	}

	var joints [][4]uint16
	var weights [][4]float32
	if skin != nil {
		jAcc, ok, err := attr("JOINTS_0")
		if err != nil {
			return nil, err
		}
		wAcc, okW, err := attr("WEIGHTS_0")
		if err != nil {
			return nil, err
		}
		if !ok || !okW {
			return nil, fmt.Errorf("%w: skinned primitive without JOINTS_0 and WEIGHTS_0", model.ErrInput)
		}
		if joints, err = modeler.ReadJoints(doc, jAcc, nil); err != nil {
			return nil, fmt.Errorf("%w: joints: %v", model.ErrInput, err)
		}
		if weights, err = modeler.ReadWeights(doc, wAcc, nil); err != nil {
			return nil, fmt.Errorf("%w: weights: %v", model.ErrInput, err)
		}
	}
	for _, l := range []int{len(normals), len(uvs), len(colors), len(joints), len(weights)} {
		if l != 0 && l != count {
			return nil, fmt.Errorf("%w: attribute counts differ from %d positions", model.ErrInput, count)
		}
	}

	var indices []uint32
	if prim.Indices != nil {
		acc, err := im.accessor(*prim.Indices)
		if err != nil {
			return nil, err
		}
		if indices, err = modeler.ReadIndices(doc, acc, nil); err != nil {
			return nil, fmt.Errorf("%w: indices: %v", model.ErrInput, err)
		}
	} else {
		indices = make([]uint32, count)
		for i := range indices {
			indices[i] = uint32(i)
		}
	}
	faces, err := triangleIndices(prim.Mode, indices)
	if err != nil {
		return nil, err
	}

	normalMat := world.Mat3().Inv().Transpose()
	mirrored := skin == nil && world.Det() < 0

	vert := func(i uint32) (model.Vertex, error) {
		if int(i) >= count {
			return model.Vertex{}, fmt.Errorf("%w: index %d beyond %d vertices", model.ErrInput, i, count)
		}
		p := mgl32.Vec3(positions[i])
		v := model.Vertex{Color: white, Bone: model.NoBone}
		xform, nxform := world, normalMat
		if skin != nil {
			j := dominantJoint(weights[i])
			ji := int(joints[i][j])
			if ji >= len(skin.bones) {
				return model.Vertex{}, fmt.Errorf("%w: joint %d beyond skin size %d", model.ErrInput, ji, len(skin.bones))
			}
			v.Bone = skin.bones[ji]
			xform = skin.ibm[ji]
			nxform = xform.Mat3().Inv().Transpose()
		}
		v.Position = vec3(xform.Mul4x1(p.Vec4(1)).Vec3())
		if normals != nil {
			v.Normal = vec3(nxform.Mul3x1(mgl32.Vec3(normals[i]))).Normalize()
		}
		if uvs != nil {
			v.UV = uvs[i]
		}
		if colors != nil {
			v.Color = colors[i]
		}
		return v, nil
	}

	tris := make([]model.Triangle, 0, len(faces))
	for _, f := range faces {
		var t model.Triangle
		for k, i := range f {
			v, err := vert(i)
			if err != nil {
				return nil, err
			}
			t[k] = v
		}
		if mirrored {
			t[1], t[2] = t[2], t[1]
		}
		if normals == nil {
			fillFlatNormals(&t)
		}
		tris = append(tris, t)
	}
	return tris, nil
}

// dominantJoint returns the slot with the largest weight, the first on ties.
func dominantJoint(w [4]float32) int {
	best := 0
	for i := 1; i < 4; i++ {
		if w[i] > w[best] {
			best = i
		}
	}
	return best
}

func (im *gltfImporter) animations() error {
	for ai, ga := range im.doc.Animations {
		a := model.Animation{Name: ga.Name}
		if a.Name == "" {
			a.Name = fmt.Sprintf("animation%d", ai)
		}
		for ci, ch := range ga.Channels {
			if ch.Target.Path == gltf.TRSWeights {
				logger.Stage("import").Warn("skipping morph weight channel",
					zap.String("animation", a.Name), zap.Int("channel", ci))
				continue
			}
			if ch.Target.Node == nil {
				return fmt.Errorf("%w: animation %q channel %d has no target node", model.ErrInput, a.Name, ci)
			}
			bone, ok := im.bones[*ch.Target.Node]
			if !ok {
				return fmt.Errorf("%w: animation %q channel %d targets node %d, not found in skeleton",
					model.ErrInput, a.Name, ci, *ch.Target.Node)
			}
			if ch.Sampler < 0 || ch.Sampler >= len(ga.Samplers) {
				return fmt.Errorf("%w: animation %q channel %d sampler out of range", model.ErrInput, a.Name, ci)
			}
			track, err := im.track(ga.Samplers[ch.Sampler], ch.Target.Path, bone)
			if err != nil {
				return fmt.Errorf("animation %q channel %d: %w", a.Name, ci, err)
			}
			if n := track.Len(); n > 0 {
				a.Duration = max(a.Duration, track.Times[n-1])
			}
			a.Tracks = append(a.Tracks, track)
		}
		im.scene.Animations = append(im.scene.Animations, a)
	}
	return nil
}

func (im *gltfImporter) track(s *gltf.AnimationSampler, path gltf.TRSProperty, bone int) (model.Track, error) {
	t := model.Track{Bone: bone}
	switch s.Interpolation {
	case gltf.InterpolationStep:
		t.Interpolation = model.InterpolationStep
	default:
		t.Interpolation = model.InterpolationLinear
	}

	input, err := im.read(s.Input)
	if err != nil {
		return t, err
	}
	times, ok := input.([]float32)
	if !ok {
		return t, fmt.Errorf("%w: key times are not float scalars", model.ErrInput)
	}
	t.Times = times

	output, err := im.read(s.Output)
	if err != nil {
		return t, err
	}
	// Cubic spline outputs hold in-tangent, value, out-tangent per key.
	stride, offset := 1, 0
	if s.Interpolation == gltf.InterpolationCubicSpline {
		stride, offset = 3, 1
	}

	switch path {
	case gltf.TRSTranslation, gltf.TRSScale:
		t.Property = model.PropertyTranslation
		if path == gltf.TRSScale {
			t.Property = model.PropertyScale
		}
		vals, ok := output.([][3]float32)
		if !ok || len(vals) < len(times)*stride {
			return t, fmt.Errorf("%w: %d keys need %d vec3 values", model.ErrInput, len(times), len(times)*stride)
		}
		for k := range times {
			t.Vectors = append(t.Vectors, math.V3(vals[k*stride+offset]))
		}
	case gltf.TRSRotation:
		t.Property = model.PropertyRotation
		vals, ok := output.([][4]float32)
		if !ok || len(vals) < len(times)*stride {
			return t, fmt.Errorf("%w: %d keys need %d float quaternions", model.ErrInput, len(times), len(times)*stride)
		}
		for k := range times {
			t.Rotations = append(t.Rotations, math.QuatFromArray(vals[k*stride+offset]).Normalize())
		}
	default:
		return t, fmt.Errorf("%w: unsupported target path %v", model.ErrInput, path)
	}
	return t, nil
}
