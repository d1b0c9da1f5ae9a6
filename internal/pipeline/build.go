package pipeline

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Faultbox/chunkforge/internal/config"
	"github.com/Faultbox/chunkforge/internal/importer"
	"github.com/Faultbox/chunkforge/internal/logger"
	"github.com/Faultbox/chunkforge/internal/texture"
	"github.com/Faultbox/chunkforge/pkg/model"
)

// ContainerExt is the file extension of compiled containers.
const ContainerExt = ".ckf"

var (
	ErrNoInput         = fmt.Errorf("%w: no input scene", model.ErrInput)
	ErrOutputAmbiguous = fmt.Errorf("%w: an output path needs exactly one input", model.ErrInput)
)

// Run compiles every input into its own container.
func Run(ctx context.Context, cfg *config.Config, inputs []string) (*Stats, error) {
	if len(inputs) == 0 {
		return nil, ErrNoInput
	}
	if cfg.Build.Output != "" && len(inputs) > 1 {
		return nil, ErrOutputAmbiguous
	}

	total := &Stats{}
	start := time.Now()
	for _, in := range inputs {
		out := cfg.Build.Output
		if out == "" {
			out = OutputPath(in)
		}
		st, err := Build(ctx, cfg, in, out)
		if err != nil {
			return nil, err
		}
		total.Add(*st)
	}
	logger.Stage("build").Info("done",
		append(total.Fields(), zap.Int("scenes", len(inputs)), zap.Duration("elapsed", time.Since(start)))...)
	return total, nil
}

// OutputPath returns the default container path for an input scene.
func OutputPath(input string) string {
	return strings.TrimSuffix(input, filepath.Ext(input)) + ContainerExt
}

// Build imports input, compiles it and writes the container to output with
// its keyframe streams. Nothing is written unless every stage succeeds.
func Build(ctx context.Context, cfg *config.Config, input, output string) (*Stats, error) {
	log := logger.Stage("build").With(zap.String("input", input))

	scene, err := importer.Load(input)
	if err != nil {
		return nil, fmt.Errorf("import %s: %w", input, err)
	}
	log.Debug("imported",
		zap.Int("meshes", len(scene.Meshes)),
		zap.Int("materials", len(scene.Materials)),
		zap.Int("bones", len(scene.Skeleton.Bones)),
		zap.Int("animations", len(scene.Animations)))

	if err := resolveTextures(ctx, scene, texture.NewProber(filepath.Dir(input)), cfg.Build.Workers); err != nil {
		return nil, fmt.Errorf("%s: %w", input, err)
	}

	outDir := filepath.Dir(output)
	streamDir := cfg.Build.StreamDir
	if streamDir == "" {
		streamDir = outDir
	}
	rel, err := filepath.Rel(outDir, streamDir)
	if err != nil {
		return nil, fmt.Errorf("%w: stream directory %s: %v", model.ErrInput, streamDir, err)
	}
	streamRef := func(file string) string {
		return path.Join(filepath.ToSlash(rel), file)
	}

	base := strings.TrimSuffix(filepath.Base(output), filepath.Ext(output))
	out, err := Compile(ctx, scene, cfg, base, streamRef)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", input, err)
	}

	files := []pendingFile{{path: output, data: out.Container}}
	for _, s := range out.Streams {
		files = append(files, pendingFile{path: filepath.Join(streamDir, s.File), data: s.Data})
	}
	if err := writeAll(files); err != nil {
		return nil, err
	}
	log.Info("compiled", append(out.Stats.Fields(), zap.String("output", output))...)
	return &out.Stats, nil
}

// resolveTextures sizes every file texture of the scene. Textures known
// only by reference keep their sizes and are reported.
func resolveTextures(ctx context.Context, scene *model.Scene, p *texture.Prober, workers int) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(workers, 1))
	for i := range scene.Materials {
		m := &scene.Materials[i]
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			return p.Resolve(m)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	log := logger.Stage("texture")
	for i := range scene.Materials {
		m := &scene.Materials[i]
		for ti := range m.Textures {
			t := &m.Textures[ti]
			if t.Reference != 0 && t.Width == 0 {
				log.Warn("texture size unknown, texture coordinates are dropped",
					zap.String("material", m.Name), zap.Uint32("reference", t.Reference))
			}
		}
	}
	return nil
}

type pendingFile struct {
	path   string
	data   []byte
	tmp    string
	backup string // previous destination while the new file is moved in
	placed bool
}

// writeAll stages every file next to its destination and renames them into
// place once all of them are on disk. If any rename fails, files already
// moved are removed and replaced destinations are restored.
func writeAll(files []pendingFile) (err error) {
	defer func() {
		if err == nil {
			for _, f := range files {
				if f.backup != "" {
					_ = os.Remove(f.backup)
				}
			}
			return
		}
		for i := len(files) - 1; i >= 0; i-- {
			f := files[i]
			if f.tmp != "" {
				_ = os.Remove(f.tmp)
			}
			if f.placed {
				_ = os.Remove(f.path)
			}
			if f.backup != "" {
				_ = os.Rename(f.backup, f.path)
			}
		}
	}()

	for i := range files {
		f := &files[i]
		if f.tmp, err = stage(f.path, f.data); err != nil {
			return err
		}
	}
	for i := range files {
		f := &files[i]
		if fi, serr := os.Lstat(f.path); serr == nil && fi.Mode().IsRegular() {
			if rerr := os.Rename(f.path, f.tmp+".old"); rerr != nil {
				return fmt.Errorf("%w: %v", model.ErrResource, rerr)
			}
			f.backup = f.tmp + ".old"
		}
		if rerr := os.Rename(f.tmp, f.path); rerr != nil {
			return fmt.Errorf("%w: %v", model.ErrResource, rerr)
		}
		f.tmp = ""
		f.placed = true
	}
	return nil
}

func stage(dst string, data []byte) (string, error) {
	dir := filepath.Dir(dst)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("%w: %v", model.ErrResource, err)
	}
	f, err := os.CreateTemp(dir, "."+filepath.Base(dst)+".*")
	if err != nil {
		return "", fmt.Errorf("%w: %v", model.ErrResource, err)
	}
	_, werr := f.Write(data)
	cerr := f.Close()
	if err := multierr.Combine(werr, cerr); err != nil {
		_ = os.Remove(f.Name())
		return "", fmt.Errorf("%w: writing %s: %v", model.ErrResource, dst, err)
	}
	return f.Name(), nil
}
