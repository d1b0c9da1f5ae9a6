// Package importer converts source assets into the compiler's scene model.
package importer

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/Faultbox/chunkforge/pkg/math"
	"github.com/Faultbox/chunkforge/pkg/model"
)

// ErrUnknownFormat is returned for files no importer handles.
var ErrUnknownFormat = fmt.Errorf("%w: unknown scene format", model.ErrInput)

// Load imports the scene at path, choosing the importer by extension.
func Load(path string) (*model.Scene, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".gltf", ".glb":
		return LoadGLTF(path)
	case ".rsm":
		return LoadRSM(path)
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownFormat, path)
}

// Supported reports whether Load handles the file extension of path.
func Supported(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".gltf", ".glb", ".rsm":
		return true
	}
	return false
}

func sceneName(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

var white = [4]uint8{0xFF, 0xFF, 0xFF, 0xFF}

func faceNormal(a, b, c math.Vec3) math.Vec3 {
	return b.Sub(a).Cross(c.Sub(a)).Normalize()
}

// fillFlatNormals gives every vertex of t the face normal.
func fillFlatNormals(t *model.Triangle) {
	n := faceNormal(t[0].Position, t[1].Position, t[2].Position)
	for i := range t {
		t[i].Normal = n
	}
}
