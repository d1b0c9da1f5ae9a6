// Package pipeline runs the compiler stages over a scene and writes the
// resulting container and keyframe streams.
package pipeline

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Faultbox/chunkforge/internal/config"
	"github.com/Faultbox/chunkforge/internal/logger"
	"github.com/Faultbox/chunkforge/pkg/anim"
	"github.com/Faultbox/chunkforge/pkg/bvh"
	"github.com/Faultbox/chunkforge/pkg/chunk"
	"github.com/Faultbox/chunkforge/pkg/container"
	"github.com/Faultbox/chunkforge/pkg/model"
	"github.com/Faultbox/chunkforge/pkg/strip"
	"github.com/Faultbox/chunkforge/pkg/vertex"
)

// StreamExt is the file extension of keyframe streams.
const StreamExt = ".kfs"

// Stream is the keyframe stream of one animation.
type Stream struct {
	// File is the stream's file name.
	File string
	// Ref is the path recorded in the container.
	Ref  string
	Data []byte
}

// Output is a compiled scene.
type Output struct {
	Container []byte
	Streams   []Stream
	Stats     Stats
}

// Compile converts a scene whose textures are resolved. Objects
// are compiled in parallel and collected in mesh order, so the output only
// depends on the scene and the configuration. streamRef maps a stream file
// name to the path stored in the container; nil stores the file name.
func Compile(ctx context.Context, scene *model.Scene, cfg *config.Config, base string, streamRef func(file string) string) (*Output, error) {
	if streamRef == nil {
		streamRef = func(file string) string { return file }
	}
	if err := scene.Validate(); err != nil {
		return nil, err
	}
	c, err := newCompiler(cfg)
	if err != nil {
		return nil, err
	}

	objects := make([]container.Object, len(scene.Meshes))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(cfg.Build.Workers, 1))
	for i := range scene.Meshes {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			m := &scene.Meshes[i]
			obj, err := c.object(m, &scene.Materials[m.Material])
			if err != nil {
				return fmt.Errorf("mesh %q: %w", m.Name, err)
			}
			objects[i] = obj
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := &Output{}
	for i := range objects {
		out.Stats.addObject(&objects[i])
	}

	cs := &container.Scene{
		Objects:        objects,
		Materials:      scene.Materials,
		Bones:          scene.Skeleton.Bones,
		TicksPerSecond: int(cfg.Animation.TicksPerSecond),
	}
	if cfg.BVH.Enabled && len(objects) > 0 {
		if cs.BVH, err = c.hierarchy(objects); err != nil {
			return nil, err
		}
		out.Stats.BVHNodes = len(cs.BVH.Nodes)
	}

	names := make(map[string]bool)
	for i := range scene.Animations {
		a := &scene.Animations[i]
		clip, err := anim.Compress(ctx, a, c.anim)
		if err != nil {
			return nil, err
		}
		data, err := clip.EncodeStream()
		if err != nil {
			return nil, fmt.Errorf("animation %q: %w", a.Name, err)
		}
		file := streamFile(base, a.Name, i, names)
		ref := streamRef(file)
		cs.Animations = append(cs.Animations, container.Animation{Clip: clip, StreamPath: ref})
		out.Streams = append(out.Streams, Stream{File: file, Ref: ref, Data: data})
		out.Stats.addClip(clip)
		c.log.Debug("compressed animation",
			zap.String("animation", a.Name),
			zap.Int("channels", len(clip.Channels)),
			zap.Int("samples", clip.Samples),
			zap.Int("keyframes", len(clip.Keyframes)))
	}

	if out.Container, err = container.Write(cs); err != nil {
		return nil, err
	}
	out.Stats.Bytes = len(out.Container)
	return out, nil
}

type compiler struct {
	cfg    *config.Config
	log    *zap.Logger
	vertex vertex.Options
	strips strip.Options
	anim   anim.Options
}

func newCompiler(cfg *config.Config) (*compiler, error) {
	nf, ok := vertex.ParseNormalFormat(cfg.Target.NormalFormat)
	if !ok {
		return nil, fmt.Errorf("%w: normal format %q", config.ErrInvalid, cfg.Target.NormalFormat)
	}
	a := cfg.Animation
	return &compiler{
		cfg:    cfg,
		log:    logger.Stage("compile"),
		vertex: vertex.Options{PositionScale: cfg.Target.PositionScale, Normals: nf},
		strips: strip.Options{
			MaxBuffers:     cfg.Strips.Buffers,
			MaxLength:      cfg.Strips.MaxBufferLen,
			SlotBytes:      cfg.Strips.SlotBytes,
			MinIndices:     cfg.Strips.MinTotal,
			MaxVertexCount: cfg.Target.MaxVertexCount,
		},
		anim: anim.Options{
			SampleRate:     a.SampleRate,
			TicksPerSecond: a.TicksPerSecond,
			MaxGlobalMSE:   a.MaxGlobalMSE,
			MaxLocalMSE:    a.MaxLocalMSE,
			Epsilon:        a.Epsilon,
			Workers:        cfg.Build.Workers,
		},
	}, nil
}

// object builds the vertex records of a mesh, packs them into chunks and
// moves what it can of each chunk's triangle list into strips.
func (c *compiler) object(m *model.Mesh, mat *model.Material) (container.Object, error) {
	opts := c.vertex
	if tex := &mat.Textures[0]; tex.Used() {
		opts.TextureWidth, opts.TextureHeight = tex.Width, tex.Height
	}

	tris := make([][3]vertex.Record, len(m.Triangles))
	for ti := range m.Triangles {
		for k, v := range m.Triangles[ti] {
			r, err := vertex.Build(v, opts)
			if err != nil {
				return container.Object{}, fmt.Errorf("triangle %d: %w", ti, err)
			}
			tris[ti][k] = r
		}
	}

	res, err := chunk.Pack(tris, chunk.Options{MaxVertexCount: c.cfg.Target.MaxVertexCount, Material: m.Material})
	if err != nil {
		return container.Object{}, err
	}
	if c.cfg.Strips.Enabled {
		for i := range res.Chunks {
			ch := &res.Chunks[i]
			if ch.Preload {
				continue
			}
			enc := strip.Encode(ch.Indices, ch.CacheUsed(), c.strips)
			ch.Indices, ch.Strips = enc.Indices, enc.Strips
		}
	}

	c.log.Debug("packed object",
		zap.String("object", m.Name),
		zap.Int("triangles", len(tris)),
		zap.Int("vertices", len(res.Vertices)),
		zap.Int("chunks", len(res.Chunks)))
	return container.Object{
		Name:      m.Name,
		Material:  m.Material,
		Vertices:  res.Vertices,
		Chunks:    res.Chunks,
		Triangles: len(tris),
	}, nil
}

// hierarchy builds the culling tree over object bounds. Objects without
// chunks have no bounds and are left out; leaf ids stay object indices.
func (c *compiler) hierarchy(objects []container.Object) (*bvh.Tree, error) {
	var (
		boxes []bvh.Box
		ids   []int16
	)
	for i := range objects {
		if objects[i].Empty() {
			continue
		}
		boxes = append(boxes, objects[i].Bounds())
		ids = append(ids, int16(i))
	}
	t, err := bvh.Build(boxes, bvh.Options{
		MaxLeafSize:   c.cfg.BVH.MaxLeafPrims,
		Bins:          c.cfg.BVH.Bins,
		TraversalCost: c.cfg.BVH.TraversalCost,
	})
	if err != nil {
		return nil, err
	}
	for i, p := range t.Prims {
		t.Prims[i] = ids[p]
	}
	return t, nil
}

// streamFile names the stream of an animation after the container and the
// animation. Unnamed or clashing animations use their index.
func streamFile(base, name string, index int, taken map[string]bool) string {
	s := sanitize(name)
	if s == "" || taken[s] {
		s = fmt.Sprintf("anim%d", index)
	}
	taken[s] = true
	return base + "." + s + StreamExt
}

func sanitize(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '_'
	}, name)
}
