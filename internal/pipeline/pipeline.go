// Package pipeline runs the per-file update: prompt, model request, patch
// and stage. Files are processed by a bounded pool of workers, each owning
// its own tree-sitter parser.
package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/phobologic/docpatch/internal/discover"
	"github.com/phobologic/docpatch/internal/generate"
	"github.com/phobologic/docpatch/internal/model"
	"github.com/phobologic/docpatch/internal/patch"
	"github.com/phobologic/docpatch/internal/prompt"
	"github.com/phobologic/docpatch/internal/stage"
)

// Options tunes a run.
type Options struct {
	Concurrency       int
	RequestsPerMinute int // 0 means unlimited
	MaxFileSize       int64
	// Force reprocesses files whose staged copy is newer than the source.
	Force bool
}

// Pipeline updates the docstrings of a project's files.
type Pipeline struct {
	fs      *stage.FileSystem
	builder *prompt.Builder
	gen     *generate.Generator
	limiter *rate.Limiter
	opts    Options
	log     *slog.Logger
}

// New returns a Pipeline that stages results in fs.
func New(fs *stage.FileSystem, builder *prompt.Builder, gen *generate.Generator, opts Options, logger *slog.Logger) *Pipeline {
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		fs:      fs,
		builder: builder,
		gen:     gen,
		limiter: newLimiter(opts.RequestsPerMinute),
		opts:    opts,
		log:     logger,
	}
}

func newLimiter(perMinute int) *rate.Limiter {
	if perMinute <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	return rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), 1)
}

// Run processes files and returns one report per file in input order.
// A failing file is reported and never stops the others. Files not yet
// started when ctx is cancelled are reported as skipped.
func (p *Pipeline) Run(ctx context.Context, files []discover.FileEntry) ([]model.FileReport, error) {
	// An unknown doc style fails the run before any file is read.
	if _, err := p.builder.Instructions(); err != nil {
		return nil, err
	}

	reports := make([]model.FileReport, len(files))
	forEach(ctx, p.opts.Concurrency, len(files), func(ctx context.Context, pt *patch.Patcher, i int) {
		reports[i] = p.process(ctx, pt, files[i].Path)
	})
	return reports, nil
}

func (p *Pipeline) process(ctx context.Context, pt *patch.Patcher, rel string) model.FileReport {
	report := model.FileReport{Path: rel}
	log := p.log.With("file", rel)

	if err := ctx.Err(); err != nil {
		report.Status = model.StatusSkipped
		report.Detail = "cancelled"
		return report
	}

	if reason := p.skipReason(rel); reason != "" {
		log.Warn("skipped", "reason", reason)
		report.Status = model.StatusSkipped
		report.Detail = reason
		return report
	}

	res, err := p.update(ctx, pt, rel)
	if err != nil {
		log.Error("update failed", "error", err)
		report.Status = model.StatusFailed
		report.Detail = err.Error()
		return report
	}

	report.Applied = res.Applied
	report.Stale = res.Stale
	report.Duplicates = res.Duplicates
	for _, name := range res.Duplicates {
		log.Warn("duplicate qualified name, only the first definition was patched", "qualname", name)
	}
	for _, name := range res.Stale {
		log.Debug("edit matched no definition", "qualname", name)
	}

	if len(res.Applied) == 0 {
		report.Status = model.StatusUnchanged
	} else {
		report.Status = model.StatusPatched
	}
	log.Info("processed", "status", report.Status, "applied", len(res.Applied))
	return report
}

func (p *Pipeline) skipReason(rel string) string {
	info, err := os.Stat(p.fs.OriginalPath(rel))
	if err == nil && p.opts.MaxFileSize > 0 && info.Size() > p.opts.MaxFileSize {
		return fmt.Sprintf("larger than %d bytes", p.opts.MaxFileSize)
	}
	if !p.opts.Force && p.fs.IsFresh(rel) {
		return "staged copy is up to date"
	}
	return ""
}

// update runs the model and patcher for one file and stages the result.
// Nothing is staged when the file fails or comes back unchanged.
func (p *Pipeline) update(ctx context.Context, pt *patch.Patcher, rel string) (*patch.Result, error) {
	source, err := p.fs.Read(rel)
	if err != nil {
		return nil, err
	}

	objs, err := pt.Objects(ctx, source)
	if err != nil {
		return nil, err
	}
	if len(objs) == 0 {
		return &patch.Result{Source: source}, nil
	}

	pr, err := p.builder.Build(model.SourceModule{Path: rel, Code: source, Objects: objs})
	if err != nil {
		return nil, err
	}

	if err := p.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	me, err := p.gen.Generate(ctx, pr)
	if err != nil {
		return nil, err
	}
	p.log.Debug("model returned edits", "file", rel, "edits", me.Len())

	res, err := pt.Patch(ctx, source, model.Flatten(me))
	if err != nil {
		return nil, err
	}
	if bytes.Equal(res.Source, source) {
		res.Applied = nil
		return res, nil
	}
	if err := p.fs.Stage(rel, res.Source); err != nil {
		return nil, fmt.Errorf("staging: %w", err)
	}
	return res, nil
}

// Objects lists the addressable objects of files under root, in input
// order. Files that fail to read or parse are reported in errs.
func Objects(ctx context.Context, root string, files []discover.FileEntry, concurrency int) ([]model.ModuleObjects, error) {
	fs := stage.New(root)
	modules := make([]model.ModuleObjects, len(files))
	errs := make([]error, len(files))

	forEach(ctx, concurrency, len(files), func(ctx context.Context, pt *patch.Patcher, i int) {
		rel := files[i].Path
		modules[i].Path = rel
		if err := ctx.Err(); err != nil {
			errs[i] = err
			return
		}
		source, err := fs.Read(rel)
		if err != nil {
			errs[i] = fmt.Errorf("%s: %w", rel, err)
			return
		}
		objs, err := pt.Objects(ctx, source)
		if err != nil {
			errs[i] = fmt.Errorf("%s: %w", rel, err)
			return
		}
		modules[i].Objects = objs
	})
	return modules, errors.Join(errs...)
}

// forEach calls fn for every index in [0, n) on at most workers goroutines.
// Each call receives a Patcher no other goroutine is using.
func forEach(ctx context.Context, workers, n int, fn func(ctx context.Context, pt *patch.Patcher, i int)) {
	if n == 0 {
		return
	}
	workers = max(1, min(workers, n))

	patchers := make(chan *patch.Patcher, workers)
	for range workers {
		patchers <- patch.New()
	}
	defer func() {
		close(patchers)
		for pt := range patchers {
			pt.Close()
		}
	}()

	var g errgroup.Group
	g.SetLimit(workers)
	for i := range n {
		g.Go(func() error {
			pt := <-patchers
			defer func() { patchers <- pt }()
			fn(ctx, pt, i)
			return nil
		})
	}
	_ = g.Wait()
}
