package importer

import (
	"fmt"
	"path"
	"strings"

	"github.com/Faultbox/chunkforge/pkg/formats"
	"github.com/Faultbox/chunkforge/pkg/math"
	"github.com/Faultbox/chunkforge/pkg/model"
)

// LoadRSM imports a RSM model file.
func LoadRSM(file string) (*model.Scene, error) {
	rsm, err := formats.ParseRSMFile(file)
	if err != nil {
		return nil, err
	}
	return FromRSM(rsm, sceneName(file))
}

// FromRSM converts a parsed RSM model. Every node becomes a bone and its
// geometry is rigidly bound to it in the node's local space. Node keyframes
// become a single animation named "default".
func FromRSM(rsm *formats.RSM, name string) (*model.Scene, error) {
	im := &rsmImporter{
		rsm:       rsm,
		scene:     &model.Scene{Name: name},
		materials: make(map[rsmMaterialKey]int),
	}
	if err := im.skeleton(); err != nil {
		return nil, fmt.Errorf("rsm skeleton: %w", err)
	}
	for i, ni := range im.order {
		if err := im.node(&rsm.Nodes[ni], i); err != nil {
			return nil, fmt.Errorf("rsm node %q: %w", rsm.Nodes[ni].Name, err)
		}
	}
	if rsm.HasAnimation() {
		im.animation()
	}
	return im.scene, nil
}

type rsmMaterialKey struct {
	texture  int32
	twoSided bool
}

type rsmImporter struct {
	rsm       *formats.RSM
	scene     *model.Scene
	order     []int // node index per bone
	materials map[rsmMaterialKey]int
}

// skeleton orders the nodes parent-first. Nodes whose parent does not exist
// are treated as roots.
func (im *rsmImporter) skeleton() error {
	nodes := im.rsm.Nodes
	byName := make(map[string]int, len(nodes))
	for i := range nodes {
		if _, dup := byName[nodes[i].Name]; dup {
			return fmt.Errorf("%w: duplicate node name %q", model.ErrInput, nodes[i].Name)
		}
		byName[nodes[i].Name] = i
	}

	children := make([][]int, len(nodes))
	var roots []int
	for i := range nodes {
		p, ok := byName[nodes[i].Parent]
		if nodes[i].IsRoot() || !ok {
			roots = append(roots, i)
			continue
		}
		children[p] = append(children[p], i)
	}

	boneOf := make([]int, len(nodes))
	queue := roots
	for len(queue) > 0 {
		ni := queue[0]
		queue = queue[1:]
		n := &nodes[ni]

		bone := model.Bone{
			Name:        n.Name,
			Parent:      model.NoBone,
			Translation: math.V3(n.Position),
			Rotation:    restRotation(n),
			Scale:       math.V3(n.Scale),
		}
		if !n.IsRoot() {
			if p, ok := byName[n.Parent]; ok {
				bone.Parent = boneOf[p]
			}
		}
		boneOf[ni] = len(im.order)
		im.order = append(im.order, ni)
		im.scene.Skeleton.Bones = append(im.scene.Skeleton.Bones, bone)
		queue = append(queue, children[ni]...)
	}
	if len(im.order) != len(nodes) {
		return fmt.Errorf("%w: %d nodes form a parent cycle", model.ErrInput, len(nodes)-len(im.order))
	}
	return nil
}

// restRotation prefers the first rotation key over the static axis-angle.
func restRotation(n *formats.RSMNode) math.Quat {
	if len(n.RotKeys) > 0 {
		return math.QuatFromArray(n.RotKeys[0].Quaternion).Normalize()
	}
	axis := math.V3(n.RotAxis)
	if n.RotAngle == 0 || axis.Length() < 1e-6 {
		return math.QuatIdentity()
	}
	return math.QuatFromAxisAngle(axis.Normalize(), n.RotAngle)
}

func (im *rsmImporter) material(texture int32, twoSided bool) int {
	key := rsmMaterialKey{texture, twoSided}
	if i, ok := im.materials[key]; ok {
		return i
	}
	texPath := strings.ReplaceAll(im.rsm.Textures[texture], `\`, "/")
	name := strings.TrimSuffix(path.Base(texPath), path.Ext(texPath))
	if twoSided {
		name += ".2s"
	}
	m := model.DefaultMaterial(name)
	m.Textures[0].Path = texPath
	m.DrawFlags |= model.DrawTextured
	m.Combiner = model.CombinerTexShade
	if twoSided {
		m.DrawFlags &^= model.DrawCullBack
	}
	if a := im.rsm.Alpha; a < 1 {
		m.BlendMode = model.BlendTranslucent
		m.Combiner = model.CombinerTexShadePrim
		m.PrimColor[3] = uint8(max(a, 0)*255 + 0.5)
	}
	i := len(im.scene.Materials)
	im.materials[key] = i
	im.scene.Materials = append(im.scene.Materials, m)
	return i
}

type smoothKey struct {
	vertex uint16
	group  int32
}

func (im *rsmImporter) node(n *formats.RSMNode, bone int) error {
	xform := math.Translate(n.Offset[0], n.Offset[1], n.Offset[2]).Mul(math.FromMat3x3(n.Matrix))
	mirrored := xform.Determinant3x3() < 0

	positions := make([]math.Vec3, len(n.Vertices))
	for i, v := range n.Vertices {
		positions[i] = xform.TransformPoint(math.V3(v))
	}

	corners := func(f *formats.RSMFace) [3]uint16 {
		c := f.Vertices
		if mirrored {
			c[1], c[2] = c[2], c[1]
		}
		return c
	}

	for fi := range n.Faces {
		f := &n.Faces[fi]
		for k := range 3 {
			if int(f.Vertices[k]) >= len(n.Vertices) || int(f.TexCoords[k]) >= len(n.TexCoords) {
				return fmt.Errorf("%w: face %d references a missing vertex", model.ErrInput, fi)
			}
		}
	}

	var smooth map[smoothKey]math.Vec3
	if im.rsm.Shading == formats.RSMShadingSmooth {
		smooth = make(map[smoothKey]math.Vec3)
		for fi := range n.Faces {
			f := &n.Faces[fi]
			c := corners(f)
			fn := faceNormal(positions[c[0]], positions[c[1]], positions[c[2]])
			for _, vi := range c {
				k := smoothKey{vi, f.SmoothGroup}
				smooth[k] = smooth[k].Add(fn)
			}
		}
	}

	meshes := make(map[int]int) // material to mesh index
	for fi := range n.Faces {
		f := &n.Faces[fi]
		if int(f.Texture) >= len(n.Textures) {
			return fmt.Errorf("%w: face %d uses texture slot %d of %d", model.ErrInput, fi, f.Texture, len(n.Textures))
		}
		global := n.Textures[f.Texture]
		if global < 0 || int(global) >= len(im.rsm.Textures) {
			return fmt.Errorf("%w: face %d uses texture %d of %d", model.ErrInput, fi, global, len(im.rsm.Textures))
		}
		mat := im.material(global, f.TwoSided)
		mi, ok := meshes[mat]
		if !ok {
			mi = len(im.scene.Meshes)
			meshes[mat] = mi
			im.scene.Meshes = append(im.scene.Meshes, model.Mesh{Material: mat})
		}

		c := corners(f)
		uv := f.TexCoords
		if mirrored {
			uv[1], uv[2] = uv[2], uv[1]
		}
		var t model.Triangle
		for k := range t {
			tc := n.TexCoords[uv[k]]
			t[k] = model.Vertex{
				Position: positions[c[k]],
				Color:    tc.Color,
				UV:       [2]float32{tc.U, tc.V},
				Bone:     bone,
			}
			if smooth != nil {
				t[k].Normal = smooth[smoothKey{c[k], f.SmoothGroup}].Normalize()
			}
		}
		if smooth == nil {
			fillFlatNormals(&t)
		}
		im.scene.Meshes[mi].Triangles = append(im.scene.Meshes[mi].Triangles, t)
	}

	first := len(im.scene.Meshes) - len(meshes)
	for i := first; i < len(im.scene.Meshes); i++ {
		im.scene.Meshes[i].Name = n.Name
		if len(meshes) > 1 {
			im.scene.Meshes[i].Name = fmt.Sprintf("%s.%d", n.Name, i-first)
		}
	}
	return nil
}

func (im *rsmImporter) animation() {
	a := model.Animation{Name: "default", Duration: float32(im.rsm.AnimLength) / 1000}
	seconds := func(frame int32) float32 { return float32(frame) / 1000 }

	for bone, ni := range im.order {
		n := &im.rsm.Nodes[ni]
		if len(n.RotKeys) > 0 {
			t := model.Track{Bone: bone, Property: model.PropertyRotation}
			for _, k := range n.RotKeys {
				t.Times = append(t.Times, seconds(k.Frame))
				t.Rotations = append(t.Rotations, math.QuatFromArray(k.Quaternion).Normalize())
			}
			a.Tracks = append(a.Tracks, t)
		}
		if len(n.PosKeys) > 0 {
			t := model.Track{Bone: bone, Property: model.PropertyTranslation}
			for _, k := range n.PosKeys {
				t.Times = append(t.Times, seconds(k.Frame))
				t.Vectors = append(t.Vectors, math.V3(k.Position))
			}
			a.Tracks = append(a.Tracks, t)
		}
		if len(n.ScaleKeys) > 0 {
			// Scale keys multiply the node's static scale.
			t := model.Track{Bone: bone, Property: model.PropertyScale}
			for _, k := range n.ScaleKeys {
				t.Times = append(t.Times, seconds(k.Frame))
				t.Vectors = append(t.Vectors, math.Vec3{
					X: n.Scale[0] * k.Scale[0],
					Y: n.Scale[1] * k.Scale[1],
					Z: n.Scale[2] * k.Scale[2],
				})
			}
			a.Tracks = append(a.Tracks, t)
		}
	}
	for _, t := range a.Tracks {
		a.Duration = max(a.Duration, t.Times[len(t.Times)-1])
	}
	im.scene.Animations = append(im.scene.Animations, a)
}
