package ingest

import (
	"context"
	"errors"

	billy "github.com/go-git/go-billy/v5"
	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"github.com/agentic-research/mrds/api"
	"github.com/agentic-research/mrds/internal/dataset"
)

var (
	// ErrAdapter classifies failures that stop an adapter's walk entirely.
	ErrAdapter = errs.Class("adapter")
	// ErrUnknownFormat is returned for a format no adapter is registered for.
	ErrUnknownFormat = errors.New("unknown dataset format")
)

// Adapter populates a dataset from one source layout.
//
// Populate walks root in lexical order and inserts runs into ds. A file that
// cannot be used is skipped and recorded in the Result; only problems with
// the walk itself (cancelled context, unreadable root) are returned as errors.
type Adapter interface {
	Format() string
	Populate(ctx context.Context, fsys billy.Filesystem, root string, cfg *api.Config, ds *dataset.Dataset) (Result, error)
}

// Skip records a file left out of the tree and why.
type Skip struct {
	Path   string
	Reason string
}

// Result summarizes one adapter walk.
type Result struct {
	// Files is the number of candidate files examined.
	Files int
	// Runs is the number of runs created.
	Runs int
	// Filtered counts files dropped by configuration (dates, categories, subjects).
	Filtered int
	// Skipped lists unusable files.
	Skipped []Skip
	// Conflicts lists runs seen twice with differing parameters.
	Conflicts []*dataset.Conflict
}

// Add accumulates o into r.
func (r *Result) Add(o Result) {
	r.Files += o.Files
	r.Runs += o.Runs
	r.Filtered += o.Filtered
	r.Skipped = append(r.Skipped, o.Skipped...)
	r.Conflicts = append(r.Conflicts, o.Conflicts...)
}

func (r *Result) skip(log *zap.SugaredLogger, path, reason string) {
	log.Warnw("skipping file", "path", path, "reason", reason)
	r.Skipped = append(r.Skipped, Skip{Path: path, Reason: reason})
}

func (r *Result) conflict(log *zap.SugaredLogger, path string, c *dataset.Conflict) {
	log.Warnw("run parameters differ between files", "path", path, "run", c.Key.String(), "error", c.Error())
	r.Conflicts = append(r.Conflicts, c)
}

// Option configures adapters and the engine.
type Option func(*options)

type options struct {
	log      *zap.SugaredLogger
	reader   HeaderReader
	progress func(path string)
	partial  bool
}

func WithLogger(log *zap.SugaredLogger) Option {
	return func(o *options) { o.log = log }
}

// WithHeaderReader replaces the DICOM header decoder.
func WithHeaderReader(r HeaderReader) Option {
	return func(o *options) { o.reader = r }
}

// WithProgress installs a callback invoked once per examined file.
func WithProgress(fn func(path string)) Option {
	return func(o *options) { o.progress = fn }
}

// WithPartial leaves imported datasets incomplete, for chunks of a larger
// dataset that are merged later.
func WithPartial(partial bool) Option {
	return func(o *options) { o.partial = partial }
}

func buildOptions(opts []Option) options {
	o := options{reader: ReadDICOMHeader}
	for _, fn := range opts {
		fn(&o)
	}
	if o.log == nil {
		o.log = zap.NewNop().Sugar()
	}
	if o.progress == nil {
		o.progress = func(string) {}
	}
	return o
}
