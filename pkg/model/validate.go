package model

import (
	"fmt"

	"github.com/chewxy/math32"
	"go.uber.org/multierr"

	"github.com/Faultbox/chunkforge/pkg/math"
)

// Validate checks the scene for structural problems and returns every one it
// finds. All returned errors wrap ErrInput.
func (s *Scene) Validate() error {
	var err error
	err = multierr.Append(err, s.Skeleton.validate())
	for i := range s.Meshes {
		err = multierr.Append(err, s.validateMesh(&s.Meshes[i]))
	}
	for i := range s.Animations {
		err = multierr.Append(err, s.validateAnimation(&s.Animations[i]))
	}
	return err
}

func (s *Skeleton) validate() error {
	var err error
	seen := make(map[string]bool, len(s.Bones))
	for i, b := range s.Bones {
		if b.Parent != NoBone && (b.Parent < 0 || b.Parent >= i) {
			err = multierr.Append(err, fmt.Errorf("%w: bone %q: parent %d must precede it", ErrInput, b.Name, b.Parent))
		}
		if b.Name != "" && seen[b.Name] {
			err = multierr.Append(err, fmt.Errorf("%w: duplicate bone name %q", ErrInput, b.Name))
		}
		seen[b.Name] = true
	}
	return err
}

func (s *Scene) validateMesh(m *Mesh) error {
	var err error
	if m.Material < 0 || m.Material >= len(s.Materials) {
		err = multierr.Append(err, fmt.Errorf("%w: mesh %q: material %d out of range", ErrInput, m.Name, m.Material))
	}
	skinned := m.Skinned()
	for ti := range m.Triangles {
		for _, v := range m.Triangles[ti] {
			if !finite3(v.Position) || !finite3(v.Normal) || !finite(v.UV[0]) || !finite(v.UV[1]) {
				err = multierr.Append(err, fmt.Errorf("%w: mesh %q: triangle %d has non-finite attributes", ErrInput, m.Name, ti))
				break
			}
			if skinned && v.Bone == NoBone {
				err = multierr.Append(err, fmt.Errorf("%w: mesh %q: triangle %d mixes skinned and unskinned vertices", ErrInput, m.Name, ti))
				break
			}
			if v.Bone != NoBone && (v.Bone < 0 || v.Bone >= len(s.Skeleton.Bones)) {
				err = multierr.Append(err, fmt.Errorf("%w: mesh %q: triangle %d: bone %d not in skeleton", ErrInput, m.Name, ti, v.Bone))
				break
			}
		}
	}
	return err
}

func (s *Scene) validateAnimation(a *Animation) error {
	var err error
	if a.Duration < 0 || !finite(a.Duration) {
		err = multierr.Append(err, fmt.Errorf("%w: animation %q: invalid duration %v", ErrInput, a.Name, a.Duration))
	}
	for ti := range a.Tracks {
		t := &a.Tracks[ti]
		if t.Bone < 0 || t.Bone >= len(s.Skeleton.Bones) {
			err = multierr.Append(err, fmt.Errorf("%w: animation %q: track %d: target bone %d not found in skeleton", ErrInput, a.Name, ti, t.Bone))
			continue
		}
		if t.Len() == 0 {
			err = multierr.Append(err, fmt.Errorf("%w: animation %q: track %d has no keys", ErrInput, a.Name, ti))
			continue
		}
		values := len(t.Vectors)
		if t.Property == PropertyRotation {
			values = len(t.Rotations)
		}
		if values != t.Len() {
			err = multierr.Append(err, fmt.Errorf("%w: animation %q: track %d has %d times and %d values", ErrInput, a.Name, ti, t.Len(), values))
			continue
		}
		for k := 1; k < t.Len(); k++ {
			if t.Times[k] < t.Times[k-1] {
				err = multierr.Append(err, fmt.Errorf("%w: animation %q: track %d: key times not ascending", ErrInput, a.Name, ti))
				break
			}
		}
	}
	return err
}

func finite(f float32) bool {
	return !math32.IsNaN(f) && !math32.IsInf(f, 0)
}

func finite3(v math.Vec3) bool {
	return finite(v.X) && finite(v.Y) && finite(v.Z)
}
