package bvh

import "github.com/Faultbox/chunkforge/pkg/math"

// Plane is a half-space; points with Normal·p + Distance >= 0 are inside.
type Plane struct {
	Normal   math.Vec3
	Distance float32
}

// PlanesFromMatrix extracts the six clip planes of a column-major
// view-projection matrix, normalized, in the order left, right, bottom,
// top, near, far.
func PlanesFromMatrix(m math.Mat4) [6]Plane {
	row := func(r int) [4]float32 {
		return [4]float32{m[r], m[4+r], m[8+r], m[12+r]}
	}
	r0, r1, r2, r3 := row(0), row(1), row(2), row(3)
	combos := [6][4]float32{}
	for i := 0; i < 4; i++ {
		combos[0][i] = r3[i] + r0[i]
		combos[1][i] = r3[i] - r0[i]
		combos[2][i] = r3[i] + r1[i]
		combos[3][i] = r3[i] - r1[i]
		combos[4][i] = r3[i] + r2[i]
		combos[5][i] = r3[i] - r2[i]
	}
	var planes [6]Plane
	for i, c := range combos {
		p := Plane{Normal: math.Vec3{X: c[0], Y: c[1], Z: c[2]}, Distance: c[3]}
		if l := p.Normal.Length(); l > 0 {
			p.Normal = p.Normal.Scale(1 / l)
			p.Distance /= l
		}
		planes[i] = p
	}
	return planes
}

// outside reports whether box lies entirely behind p.
func (p Plane) outside(b Box) bool {
	var v math.Vec3
	v.X = pick(p.Normal.X, b.Min[0], b.Max[0])
	v.Y = pick(p.Normal.Y, b.Min[1], b.Max[1])
	v.Z = pick(p.Normal.Z, b.Min[2], b.Max[2])
	return p.Normal.Dot(v)+p.Distance < 0
}

func pick(n float32, lo, hi int16) float32 {
	if n >= 0 {
		return float32(hi)
	}
	return float32(lo)
}

// Cull calls visit for every primitive in a leaf whose box is not fully
// outside one of the planes.
func (t *Tree) Cull(planes []Plane, visit func(prim int)) {
	if len(t.Nodes) == 0 {
		return
	}
	stack := []int{0}
	for len(stack) > 0 {
		idx := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		n := t.Nodes[idx]

		culled := false
		for _, p := range planes {
			if p.outside(n.Box) {
				culled = true
				break
			}
		}
		if culled {
			continue
		}
		if n.IsLeaf() {
			start, count := n.Leaf()
			for _, p := range t.Prims[start : start+count] {
				visit(int(p))
			}
			continue
		}
		child := idx + n.ChildOffset()
		stack = append(stack, child+1, child)
	}
}
