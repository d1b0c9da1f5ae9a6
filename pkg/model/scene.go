// Package model defines the in-memory scene the importers produce and the
// compiler stages consume.
package model

import "github.com/Faultbox/chunkforge/pkg/math"

// NoBone marks an unskinned vertex or a root bone's parent.
const NoBone = -1

// Vertex holds raw per-vertex attributes in float precision.
type Vertex struct {
	Position math.Vec3
	Normal   math.Vec3
	Color    [4]uint8
	UV       [2]float32
	// Bone is the single bone the vertex is bound to, or NoBone.
	Bone int
}

// Triangle is three vertices in counter-clockwise order.
type Triangle [3]Vertex

// Mesh is a triangle list drawn with one material.
type Mesh struct {
	Name      string
	Material  int
	Triangles []Triangle
}

// Skinned reports whether any vertex of the mesh is bound to a bone.
func (m *Mesh) Skinned() bool {
	for i := range m.Triangles {
		for j := range m.Triangles[i] {
			if m.Triangles[i][j].Bone != NoBone {
				return true
			}
		}
	}
	return false
}

// Bone is one node of the skeleton with its rest-pose local transform.
type Bone struct {
	Name        string
	Parent      int
	Scale       math.Vec3
	Rotation    math.Quat
	Translation math.Vec3
}

// Skeleton lists bones in parent-first order.
type Skeleton struct {
	Bones []Bone
}

// Depths returns the hierarchy depth of every bone; roots have depth 0.
func (s *Skeleton) Depths() []int {
	depths := make([]int, len(s.Bones))
	for i, b := range s.Bones {
		if b.Parent != NoBone && b.Parent < i {
			depths[i] = depths[b.Parent] + 1
		}
	}
	return depths
}

// BoneIndex returns the index of the named bone or NoBone.
func (s *Skeleton) BoneIndex(name string) int {
	for i := range s.Bones {
		if s.Bones[i].Name == name {
			return i
		}
	}
	return NoBone
}

// Property is the bone attribute a track animates.
type Property uint8

const (
	PropertyTranslation Property = iota
	PropertyRotation
	PropertyScale
)

func (p Property) String() string {
	switch p {
	case PropertyTranslation:
		return "translation"
	case PropertyRotation:
		return "rotation"
	case PropertyScale:
		return "scale"
	}
	return "unknown"
}

// Interpolation selects how a track is evaluated between keys.
type Interpolation uint8

const (
	InterpolationLinear Interpolation = iota
	InterpolationStep
)

// Track is a keyed curve for one bone property. Rotation tracks fill
// Rotations, the others fill Vectors; both are parallel to Times.
type Track struct {
	Bone          int
	Property      Property
	Interpolation Interpolation
	Times         []float32
	Vectors       []math.Vec3
	Rotations     []math.Quat
}

// Len returns the number of keys.
func (t *Track) Len() int {
	return len(t.Times)
}

// Animation is a named set of tracks over a skeleton.
type Animation struct {
	Name     string
	Duration float32
	Tracks   []Track
}

// Scene is everything an importer produces for one source asset.
type Scene struct {
	Name       string
	Meshes     []Mesh
	Materials  []Material
	Skeleton   Skeleton
	Animations []Animation
}

// TriangleCount returns the number of triangles over all meshes.
func (s *Scene) TriangleCount() int {
	n := 0
	for i := range s.Meshes {
		n += len(s.Meshes[i].Triangles)
	}
	return n
}
