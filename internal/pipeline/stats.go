package pipeline

import (
	"go.uber.org/zap"

	"github.com/Faultbox/chunkforge/pkg/anim"
	"github.com/Faultbox/chunkforge/pkg/container"
)

// Stats summarizes a compiled scene.
type Stats struct {
	Objects      int
	Triangles    int
	Vertices     int
	Chunks       int
	Preloads     int
	StripBuffers int
	StripIndices int
	BVHNodes     int
	Animations   int
	Channels     int
	Samples      int
	Keyframes    int
	Bytes        int
}

func (s *Stats) addObject(o *container.Object) {
	s.Objects++
	s.Triangles += o.Triangles
	s.Vertices += len(o.Vertices)
	for i := range o.Chunks {
		c := &o.Chunks[i]
		s.Chunks++
		if c.Preload {
			s.Preloads++
		}
		s.StripBuffers += len(c.Strips)
		for _, b := range c.Strips {
			s.StripIndices += len(b)
		}
	}
}

func (s *Stats) addClip(c *anim.Clip) {
	s.Animations++
	s.Channels += len(c.Channels)
	s.Samples += c.Samples
	s.Keyframes += len(c.Keyframes)
}

// Add accumulates o into s.
func (s *Stats) Add(o Stats) {
	s.Objects += o.Objects
	s.Triangles += o.Triangles
	s.Vertices += o.Vertices
	s.Chunks += o.Chunks
	s.Preloads += o.Preloads
	s.StripBuffers += o.StripBuffers
	s.StripIndices += o.StripIndices
	s.BVHNodes += o.BVHNodes
	s.Animations += o.Animations
	s.Channels += o.Channels
	s.Samples += o.Samples
	s.Keyframes += o.Keyframes
	s.Bytes += o.Bytes
}

// Fields returns the stats as log fields.
func (s *Stats) Fields() []zap.Field {
	return []zap.Field{
		zap.Int("objects", s.Objects),
		zap.Int("triangles", s.Triangles),
		zap.Int("vertices", s.Vertices),
		zap.Int("chunks", s.Chunks),
		zap.Int("preloads", s.Preloads),
		zap.Int("strip_buffers", s.StripBuffers),
		zap.Int("strip_indices", s.StripIndices),
		zap.Int("bvh_nodes", s.BVHNodes),
		zap.Int("animations", s.Animations),
		zap.Int("keyframes", s.Keyframes),
		zap.Int("samples", s.Samples),
		zap.Int("bytes", s.Bytes),
	}
}
