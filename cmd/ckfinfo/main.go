// ckfinfo inspects compiled chunkforge containers.
package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/Faultbox/chunkforge/pkg/anim"
	"github.com/Faultbox/chunkforge/pkg/bvh"
	"github.com/Faultbox/chunkforge/pkg/container"
	"github.com/Faultbox/chunkforge/pkg/math"
	"github.com/Faultbox/chunkforge/pkg/model"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(2)
	}

	command := os.Args[1]
	args := os.Args[2:]

	switch command {
	case "info":
		cmdInfo(args)
	case "objects", "obj":
		cmdObjects(args)
	case "anim":
		cmdAnim(args)
	case "bvh":
		cmdBVH(args)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", command)
		printUsage()
		os.Exit(2)
	}
}

func printUsage() {
	fmt.Println(`ckfinfo - chunkforge container inspector

Usage:
  ckfinfo <command> [options] <file.ckf>

Commands:
  info <file.ckf>                  Show header, chunks and totals
  objects [-parts] <file.ckf>      List objects and their parts
  anim [-n N] <file.ckf>           List animations and decode their keyframe streams
  bvh [-box x0,y0,z0,x1,y1,z1] <file.ckf>
                                   Dump the culling tree, or the objects inside a box

Examples:
  ckfinfo info hero.ckf
  ckfinfo objects -parts hero.ckf
  ckfinfo anim -n 20 hero.ckf
  ckfinfo bvh -box -64,-64,-64,64,64,64 level.ckf`)
}

func open(path string) *container.File {
	data, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	f, err := container.Parse(data)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s: %v\n", path, err)
		os.Exit(1)
	}
	return f
}

func formatBox(b bvh.Box) string {
	return fmt.Sprintf("(%d,%d,%d)-(%d,%d,%d)", b.Min[0], b.Min[1], b.Min[2], b.Max[0], b.Max[1], b.Max[2])
}

func cmdInfo(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "Usage: ckfinfo info <file.ckf>")
		os.Exit(2)
	}
	f := open(args[0])
	h := f.Header

	fmt.Printf("Container: %s\n", args[0])
	fmt.Printf("Version:   %d\n", h.Version)
	fmt.Printf("Chunks:    %d\n", h.ChunkCount)
	fmt.Printf("Vertices:  %d\n", h.VertexCount)
	fmt.Printf("Indices:   %d\n", h.IndexCount)
	fmt.Printf("Bounds:    %s\n", formatBox(h.Bounds))
	fmt.Printf("Strings:   %d bytes at 0x%06X\n", len(f.Strings), h.StringTable)
	fmt.Println()

	fmt.Println("Chunk table:")
	for i, e := range f.Entries {
		fmt.Printf("  %3d  %c  0x%06X  %8d bytes\n", i, e.Kind, e.Offset, e.Size)
	}
	fmt.Println()

	triangles, parts := 0, 0
	for _, o := range f.Objects {
		triangles += o.Triangles
		parts += len(o.Parts)
	}
	fmt.Printf("Objects:    %d (%d parts, %d triangles)\n", len(f.Objects), parts, triangles)
	fmt.Printf("Materials:  %d\n", len(f.Materials))
	for _, m := range f.Materials {
		fmt.Printf("  %-24s blend=%08X flags=%02X", m.Name, m.BlendMode, m.DrawFlags)
		for _, t := range m.Textures {
			if t.Used() {
				fmt.Printf("  %s", describeTexture(&t))
			}
		}
		fmt.Println()
	}
	fmt.Printf("Bones:      %d\n", len(f.Bones))
	fmt.Printf("Animations: %d\n", len(f.Animations))
	if f.BVH != nil {
		fmt.Printf("BVH:        %d nodes, %d prims\n", len(f.BVH.Nodes), len(f.BVH.Prims))
	}
}

func describeTexture(t *model.Texture) string {
	name := t.Path
	if name == "" {
		name = fmt.Sprintf("#%d", t.Reference)
	}
	return fmt.Sprintf("%s %dx%d", name, t.Width, t.Height)
}

func cmdObjects(args []string) {
	fs := flag.NewFlagSet("objects", flag.ExitOnError)
	showParts := fs.Bool("parts", false, "List the parts of every object")
	fs.Parse(args)

	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Usage: ckfinfo objects [-parts] <file.ckf>")
		os.Exit(2)
	}
	f := open(fs.Arg(0))

	for oi, o := range f.Objects {
		material := "?"
		if o.Material >= 0 && o.Material < len(f.Materials) {
			material = f.Materials[o.Material].Name
		}
		fmt.Printf("%3d  %-24s %-16s %6d tris  %3d parts  %s\n",
			oi, o.Name, material, o.Triangles, len(o.Parts), formatBox(o.Bounds))
		if !*showParts {
			continue
		}
		for pi, p := range o.Parts {
			bone := "-"
			if p.Bone != model.NoBone && p.Bone < len(f.Bones) {
				bone = f.Bones[p.Bone].Name
			}
			kind := "draw"
			if p.Preload() {
				kind = "load"
			}
			fmt.Printf("       %3d %s  verts %2d@%-3d  list %3d  strips %v  seq %d+%d  bone %s\n",
				pi, kind, p.VertexCount, p.DestOffset, p.IndexCount, p.StripLengths, p.SeqStart, p.SeqCount, bone)
		}
	}
}

func cmdAnim(args []string) {
	fs := flag.NewFlagSet("anim", flag.ExitOnError)
	limit := fs.Int("n", 10, "Keyframes to print per animation (0 = none)")
	fs.Parse(args)

	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Usage: ckfinfo anim [-n N] <file.ckf>")
		os.Exit(2)
	}
	path := fs.Arg(0)
	f := open(path)

	for _, a := range f.Animations {
		fmt.Printf("%s: %.3fs, %d keyframes, %d channels (%d rotation), %d ticks/s\n",
			a.Name, a.Duration, a.Keyframes, len(a.Channels), a.QuatChannels, a.TicksPerSecond)
		for ci, ch := range a.Channels {
			bone := strconv.Itoa(ch.Bone)
			if ch.Bone < len(f.Bones) {
				bone = f.Bones[ch.Bone].Name
			}
			fmt.Printf("  ch %2d  %-12s %-12s attr %d\n", ci, bone, ch.Target, ch.Attr)
		}

		streamPath := filepath.Join(filepath.Dir(path), filepath.FromSlash(a.StreamPath))
		data, err := os.ReadFile(streamPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "  stream: %v\n", err)
			continue
		}
		keys, err := anim.DecodeStream(data, a.QuatChannels, len(a.Channels))
		if err != nil {
			fmt.Fprintf(os.Stderr, "  stream %s: %v\n", streamPath, err)
			continue
		}
		if len(keys) != a.Keyframes {
			fmt.Fprintf(os.Stderr, "  stream %s: %d keyframes, container says %d\n", streamPath, len(keys), a.Keyframes)
		}

		clip := &anim.Clip{Channels: a.Channels, QuatChannels: a.QuatChannels}
		for i := range keys {
			if i >= *limit {
				fmt.Printf("  ... %d more\n", len(keys)-i)
				break
			}
			k := &keys[i]
			v := clip.Value(k)
			if clip.Channels[k.Channel].Rotation() {
				fmt.Printf("  tick %5d (load %5d)  ch %2d  quat %+.4f %+.4f %+.4f %+.4f\n", k.Tick, k.NeededTick, k.Channel, v[0], v[1], v[2], v[3])
			} else {
				fmt.Printf("  tick %5d (load %5d)  ch %2d  %+.4f\n", k.Tick, k.NeededTick, k.Channel, v[0])
			}
		}
	}
}

func cmdBVH(args []string) {
	fs := flag.NewFlagSet("bvh", flag.ExitOnError)
	box := fs.String("box", "", "List objects intersecting this fixed-point box")
	fs.Parse(args)

	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Usage: ckfinfo bvh [-box x0,y0,z0,x1,y1,z1] <file.ckf>")
		os.Exit(2)
	}
	f := open(fs.Arg(0))
	if f.BVH == nil {
		fmt.Println("No BVH")
		return
	}

	if *box != "" {
		planes, err := boxPlanes(*box)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(2)
		}
		count := 0
		f.BVH.Cull(planes, func(prim int) {
			name := "?"
			if prim < len(f.Objects) {
				name = f.Objects[prim].Name
			}
			fmt.Printf("%3d  %s\n", prim, name)
			count++
		})
		fmt.Fprintf(os.Stderr, "\n(%d of %d objects)\n", count, len(f.Objects))
		return
	}

	for i, n := range f.BVH.Nodes {
		if n.IsLeaf() {
			start, count := n.Leaf()
			fmt.Printf("%4d  leaf  %s  prims %v\n", i, formatBox(n.Box), f.BVH.Prims[start:start+count])
			continue
		}
		child := i + n.ChildOffset()
		fmt.Printf("%4d  node  %s  children %d,%d\n", i, formatBox(n.Box), child, child+1)
	}
}

// boxPlanes returns the six inward facing planes of an axis-aligned box
// given as "x0,y0,z0,x1,y1,z1".
func boxPlanes(s string) ([]bvh.Plane, error) {
	fields := strings.Split(s, ",")
	if len(fields) != 6 {
		return nil, fmt.Errorf("box needs 6 values, got %d", len(fields))
	}
	var v [6]float32
	for i, field := range fields {
		x, err := strconv.ParseFloat(strings.TrimSpace(field), 32)
		if err != nil {
			return nil, fmt.Errorf("box value %q: %w", field, err)
		}
		v[i] = float32(x)
	}
	axes := [3]math.Vec3{{X: 1}, {Y: 1}, {Z: 1}}
	planes := make([]bvh.Plane, 0, 6)
	for i, axis := range axes {
		planes = append(planes,
			bvh.Plane{Normal: axis, Distance: -v[i]},
			bvh.Plane{Normal: axis.Scale(-1), Distance: v[i+3]})
	}
	return planes, nil
}
