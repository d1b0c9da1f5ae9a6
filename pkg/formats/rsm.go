// Package formats parses the legacy model files the compiler imports.
//
// RSM (Resource Model) files describe a hierarchy of rigid nodes, each with
// its own mesh, texture list and rotation, position and scale keyframes.
// Only the 1.x revisions share a layout and are supported.
package formats

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
	"sort"

	"github.com/Faultbox/chunkforge/pkg/model"
)

// RSM format errors.
var (
	ErrInvalidRSMMagic       = fmt.Errorf("%w: invalid RSM magic: expected 'GRSM'", model.ErrInput)
	ErrUnsupportedRSMVersion = fmt.Errorf("%w: unsupported RSM version", model.ErrInput)
	ErrTruncatedRSMData      = fmt.Errorf("%w: truncated RSM data", model.ErrInput)
	ErrInvalidRSMCount       = fmt.Errorf("%w: invalid RSM element count", model.ErrInput)
)

// Upper bounds on element counts; larger values mean a corrupt file.
const (
	maxRSMTextures = 1000
	maxRSMNodes    = 10000
	maxRSMElements = 100000
	maxRSMKeys     = 10000
	rsmNameLen     = 40
)

// RSMVersion represents the RSM file version.
type RSMVersion struct {
	Major uint8
	Minor uint8
}

// String returns the version as "Major.Minor".
func (v RSMVersion) String() string {
	return fmt.Sprintf("%d.%d", v.Major, v.Minor)
}

// AtLeast returns true if version is >= major.minor.
func (v RSMVersion) AtLeast(major, minor uint8) bool {
	return v.Major > major || (v.Major == major && v.Minor >= minor)
}

// RSMShadingType represents the shading mode for rendering.
type RSMShadingType int32

const (
	RSMShadingNone   RSMShadingType = 0
	RSMShadingFlat   RSMShadingType = 1
	RSMShadingSmooth RSMShadingType = 2
)

// String returns a human-readable shading type name.
func (s RSMShadingType) String() string {
	switch s {
	case RSMShadingNone:
		return "None"
	case RSMShadingFlat:
		return "Flat"
	case RSMShadingSmooth:
		return "Smooth"
	default:
		return fmt.Sprintf("Unknown(%d)", s)
	}
}

// RSMTexCoord is a texture coordinate with its vertex color.
type RSMTexCoord struct {
	Color [4]uint8 // white before 1.2
	U, V  float32
}

// RSMFace is a triangle of a node mesh.
type RSMFace struct {
	Vertices    [3]uint16 // into RSMNode.Vertices
	TexCoords   [3]uint16 // into RSMNode.TexCoords
	Texture     uint16    // into RSMNode.Textures
	TwoSided    bool
	SmoothGroup int32
}

// RSMPosKey is a position keyframe.
type RSMPosKey struct {
	Frame    int32 // milliseconds
	Position [3]float32
}

// RSMRotKey is a rotation keyframe.
type RSMRotKey struct {
	Frame      int32
	Quaternion [4]float32 // X, Y, Z, W
}

// RSMScaleKey is a scale keyframe.
type RSMScaleKey struct {
	Frame int32
	Scale [3]float32
}

// RSMNode is one rigid part of the model hierarchy.
type RSMNode struct {
	Name     string
	Parent   string  // empty or equal to Name for roots
	Textures []int32 // into RSM.Textures

	// Matrix and Offset place the mesh inside the node and are not
	// inherited by children. Position, rotation and Scale are.
	Matrix   [9]float32
	Offset   [3]float32
	Position [3]float32
	RotAngle float32
	RotAxis  [3]float32
	Scale    [3]float32

	Vertices  [][3]float32
	TexCoords []RSMTexCoord
	Faces     []RSMFace

	PosKeys   []RSMPosKey // before 1.5
	RotKeys   []RSMRotKey
	ScaleKeys []RSMScaleKey // 1.5 and later
}

// IsRoot reports whether the node has no parent.
func (n *RSMNode) IsRoot() bool {
	return n.Parent == "" || n.Parent == n.Name
}

// RSM is a parsed model file.
type RSM struct {
	Version    RSMVersion
	AnimLength int32 // milliseconds
	Shading    RSMShadingType
	Alpha      float32 // 0-1, opaque before 1.4
	Textures   []string
	RootNode   string
	Nodes      []RSMNode
}

// rsmReader reads little-endian values and keeps the first error.
type rsmReader struct {
	r   *bytes.Reader
	err error
}

func (rd *rsmReader) read(v any) {
	if rd.err != nil {
		return
	}
	if err := binary.Read(rd.r, binary.LittleEndian, v); err != nil {
		rd.err = fmt.Errorf("%w at offset %d", ErrTruncatedRSMData, int(rd.r.Size())-rd.r.Len())
	}
}

func (rd *rsmReader) count(what string, limit int) int {
	var n int32
	rd.read(&n)
	if rd.err != nil {
		return 0
	}
	if n < 0 || int(n) > limit {
		rd.err = fmt.Errorf("%w: %d %s", ErrInvalidRSMCount, n, what)
		return 0
	}
	return int(n)
}

// list allocates n elements, leaving empty lists nil.
func list[T any](n int) []T {
	if n == 0 {
		return nil
	}
	return make([]T, n)
}

func (rd *rsmReader) str(length int) string {
	buf := make([]byte, length)
	rd.read(buf)
	if i := bytes.IndexByte(buf, 0); i >= 0 {
		buf = buf[:i]
	}
	return string(buf)
}

func (rd *rsmReader) skip(n int64) {
	if rd.err != nil {
		return
	}
	if int64(rd.r.Len()) < n {
		rd.err = ErrTruncatedRSMData
		return
	}
	_, _ = rd.r.Seek(n, 1)
}

// ParseRSM parses RSM data from a byte slice.
func ParseRSM(data []byte) (*RSM, error) {
	if len(data) < 6 {
		return nil, ErrTruncatedRSMData
	}
	if string(data[:4]) != "GRSM" {
		return nil, ErrInvalidRSMMagic
	}

	rsm := &RSM{Version: RSMVersion{Major: data[4], Minor: data[5]}, Alpha: 1}
	if rsm.Version.Major != 1 || rsm.Version.Minor < 1 || rsm.Version.Minor > 5 {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedRSMVersion, rsm.Version)
	}

	rd := &rsmReader{r: bytes.NewReader(data[6:])}
	rd.read(&rsm.AnimLength)
	rd.read(&rsm.Shading)
	if rsm.Version.AtLeast(1, 4) {
		var alpha uint8
		rd.read(&alpha)
		rsm.Alpha = float32(alpha) / 255
	}
	rd.skip(16)

	rsm.Textures = list[string](rd.count("textures", maxRSMTextures))
	for i := range rsm.Textures {
		rsm.Textures[i] = rd.str(rsmNameLen)
	}
	rsm.RootNode = rd.str(rsmNameLen)

	rsm.Nodes = list[RSMNode](rd.count("nodes", maxRSMNodes))
	for i := range rsm.Nodes {
		parseRSMNode(rd, rsm.Version, &rsm.Nodes[i])
		if rd.err != nil {
			return nil, fmt.Errorf("parsing node %d: %w", i, rd.err)
		}
	}
	if rd.err != nil {
		return nil, rd.err
	}
	// Volume boxes may follow; the compiler does not use them.
	return rsm, nil
}

func parseRSMNode(rd *rsmReader, version RSMVersion, node *RSMNode) {
	node.Name = rd.str(rsmNameLen)
	node.Parent = rd.str(rsmNameLen)

	node.Textures = list[int32](rd.count("node textures", maxRSMTextures))
	rd.read(node.Textures)

	rd.read(&node.Matrix)
	rd.read(&node.Offset)
	rd.read(&node.Position)
	rd.read(&node.RotAngle)
	rd.read(&node.RotAxis)
	rd.read(&node.Scale)

	node.Vertices = list[[3]float32](rd.count("vertices", maxRSMElements))
	rd.read(node.Vertices)

	node.TexCoords = list[RSMTexCoord](rd.count("texcoords", maxRSMElements))
	for i := range node.TexCoords {
		tc := &node.TexCoords[i]
		tc.Color = [4]uint8{0xFF, 0xFF, 0xFF, 0xFF}
		if version.AtLeast(1, 2) {
			rd.read(&tc.Color)
		}
		rd.read(&tc.U)
		rd.read(&tc.V)
	}

	node.Faces = list[RSMFace](rd.count("faces", maxRSMElements))
	for i := range node.Faces {
		f := &node.Faces[i]
		var pad uint16
		var twoSide int32
		rd.read(&f.Vertices)
		rd.read(&f.TexCoords)
		rd.read(&f.Texture)
		rd.read(&pad)
		rd.read(&twoSide)
		f.TwoSided = twoSide != 0
		if version.AtLeast(1, 2) {
			rd.read(&f.SmoothGroup)
		}
	}

	if !version.AtLeast(1, 5) {
		node.PosKeys = list[RSMPosKey](rd.count("position keys", maxRSMKeys))
		rd.read(node.PosKeys)
	}
	node.RotKeys = list[RSMRotKey](rd.count("rotation keys", maxRSMKeys))
	rd.read(node.RotKeys)
	if version.AtLeast(1, 5) {
		node.ScaleKeys = list[RSMScaleKey](rd.count("scale keys", maxRSMKeys))
		rd.read(node.ScaleKeys)
	}
	if rd.err != nil {
		return
	}

	for i, f := range node.Faces {
		for k := 0; k < 3; k++ {
			if int(f.Vertices[k]) >= len(node.Vertices) || int(f.TexCoords[k]) >= len(node.TexCoords) {
				rd.err = fmt.Errorf("%w: node %q face %d references a missing vertex", model.ErrInput, node.Name, i)
				return
			}
		}
	}
	sortKeys(node)
}

// sortKeys orders keyframes by frame; files written by some tools do not.
func sortKeys(node *RSMNode) {
	sort.SliceStable(node.PosKeys, func(i, j int) bool { return node.PosKeys[i].Frame < node.PosKeys[j].Frame })
	sort.SliceStable(node.RotKeys, func(i, j int) bool { return node.RotKeys[i].Frame < node.RotKeys[j].Frame })
	sort.SliceStable(node.ScaleKeys, func(i, j int) bool { return node.ScaleKeys[i].Frame < node.ScaleKeys[j].Frame })
}

// ParseRSMFile parses an RSM file from disk.
func ParseRSMFile(path string) (*RSM, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: reading RSM file: %v", model.ErrResource, err)
	}
	rsm, err := ParseRSM(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return rsm, nil
}

// Node returns a node by its name, or nil if not found.
func (rsm *RSM) Node(name string) *RSMNode {
	for i := range rsm.Nodes {
		if rsm.Nodes[i].Name == name {
			return &rsm.Nodes[i]
		}
	}
	return nil
}

// HasAnimation returns true if any node has keyframes.
func (rsm *RSM) HasAnimation() bool {
	for i := range rsm.Nodes {
		n := &rsm.Nodes[i]
		if len(n.PosKeys) > 0 || len(n.RotKeys) > 0 || len(n.ScaleKeys) > 0 {
			return true
		}
	}
	return false
}

// FaceCount returns the number of faces across all nodes.
func (rsm *RSM) FaceCount() int {
	total := 0
	for i := range rsm.Nodes {
		total += len(rsm.Nodes[i].Faces)
	}
	return total
}
