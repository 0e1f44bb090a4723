package ingest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	billy "github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/agentic-research/mrds/api"
	"github.com/agentic-research/mrds/internal/dataset"
)

// Engine drives the ingestion process: it picks the adapter for a format,
// walks the source and stamps the dataset's identity.
type Engine struct {
	adapters map[string]Adapter
	log      *zap.SugaredLogger
	partial  bool
}

// NewEngine returns an engine with the DICOM, BIDS and XNAT adapters
// registered. Options are passed through to every adapter.
func NewEngine(opts ...Option) *Engine {
	o := buildOptions(opts)
	e := &Engine{adapters: make(map[string]Adapter), log: o.log, partial: o.partial}
	e.Register(NewDICOMAdapter(opts...))
	e.Register(NewBIDSAdapter(opts...))
	e.Register(NewXNATAdapter(opts...))
	return e
}

// Register adds a or replaces the adapter already registered for its format.
func (e *Engine) Register(a Adapter) {
	e.adapters[strings.ToLower(a.Format())] = a
}

// Formats lists the registered format names.
func (e *Engine) Formats() []string {
	names := make([]string, 0, len(e.adapters))
	for name := range e.adapters {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

func (e *Engine) adapter(format string) (Adapter, error) {
	a, ok := e.adapters[strings.ToLower(format)]
	if !ok {
		return nil, fmt.Errorf("%w: %q (known: %s)", ErrUnknownFormat, format, strings.Join(e.Formats(), ", "))
	}
	return a, nil
}

// Import builds a dataset from root on fsys. A walk that yields no usable
// run fails with dataset.ErrEmpty; otherwise the dataset is marked complete
// unless the engine was built WithPartial.
func (e *Engine) Import(ctx context.Context, fsys billy.Filesystem, root, format, name string, cfg *api.Config) (*dataset.Dataset, Result, error) {
	a, err := e.adapter(format)
	if err != nil {
		return nil, Result{}, err
	}
	if name == "" {
		name = uuid.NewString()
	}
	ds := dataset.New(name, a.Format(), root)
	res, err := a.Populate(ctx, fsys, root, cfg, ds)
	if err != nil {
		return nil, res, err
	}
	if ds.Empty() {
		return nil, res, dataset.ErrEmpty.New("no usable runs under %s (%d files, %d skipped, %d filtered)",
			root, res.Files, len(res.Skipped), res.Filtered)
	}
	ds.IsComplete = !e.partial
	e.log.Infow("dataset imported", "name", name, "format", a.Format(), "subjects", ds.Len(),
		"runs", res.Runs, "skipped", len(res.Skipped), "conflicts", len(res.Conflicts))
	return ds, res, nil
}

// ImportPartitioned walks every top-level directory of root as its own
// dataset, at most workers at a time, then merges the partitions in name
// order. Files directly inside root form one more partition. Partitions are
// expected to hold disjoint subjects; any overlap shows up as conflicts in
// the Result. A root without subdirectories is imported as a single
// partition.
func (e *Engine) ImportPartitioned(ctx context.Context, fsys billy.Filesystem, root, format, name string, cfg *api.Config, workers int) (*dataset.Dataset, Result, error) {
	dirs, err := Partitions(fsys, root)
	if err != nil {
		return nil, Result{}, ErrAdapter.Wrap(err)
	}
	if len(dirs) == 0 {
		return e.Import(ctx, fsys, root, format, name, cfg)
	}
	a, err := e.adapter(format)
	if err != nil {
		return nil, Result{}, err
	}
	if name == "" {
		name = uuid.NewString()
	}

	var parts []partition
	loose, err := hasLooseFiles(fsys, root)
	if err != nil {
		return nil, Result{}, ErrAdapter.Wrap(err)
	}
	if loose {
		parts = append(parts, partition{fsys: looseFiles{Filesystem: fsys, root: filepath.Clean(root)}, root: root})
	}
	for _, dir := range dirs {
		parts = append(parts, partition{fsys: fsys, root: dir})
	}

	built := make([]*dataset.Dataset, len(parts))
	results := make([]Result, len(parts))
	g, gctx := errgroup.WithContext(ctx)
	if workers > 0 {
		g.SetLimit(workers)
	}
	for i, part := range parts {
		g.Go(func() error {
			ds := dataset.New(name, a.Format(), part.root)
			res, err := a.Populate(gctx, part.fsys, part.root, cfg, ds)
			if err != nil {
				return fmt.Errorf("partition %s: %w", part.root, err)
			}
			built[i], results[i] = ds, res
			return nil
		})
	}
	var total Result
	if err := g.Wait(); err != nil {
		return nil, total, err
	}

	// Each partition is incomplete on its own; the union of all of them is
	// the whole of root.
	complete := !e.partial
	opts := dataset.MergeOptions{Complete: &complete}
	out := built[0]
	out.IsComplete = complete
	total.Add(results[0])
	for i := 1; i < len(built); i++ {
		total.Add(results[i])
		report, err := out.Merge(built[i], opts)
		if err != nil {
			return nil, total, err
		}
		for _, c := range report.Conflicts {
			e.log.Warnw("partitions disagree on run", "run", c.Key.String(), "error", c.Error())
		}
		total.Conflicts = append(total.Conflicts, report.Conflicts...)
	}
	if out.Empty() {
		return nil, total, dataset.ErrEmpty.New("no usable runs under %s (%d partitions)", root, len(parts))
	}
	out.DataSource = []string{root}
	e.log.Infow("dataset imported", "name", name, "format", a.Format(), "partitions", len(parts),
		"subjects", out.Len(), "runs", total.Runs, "conflicts", len(total.Conflicts))
	return out, total, nil
}

type partition struct {
	fsys billy.Filesystem
	root string
}

// looseFiles hides the subdirectories of root, so a walk of root visits
// only the files directly inside it.
type looseFiles struct {
	billy.Filesystem
	root string
}

func (fs looseFiles) ReadDir(path string) ([]os.FileInfo, error) {
	entries, err := fs.Filesystem.ReadDir(path)
	if err != nil || filepath.Clean(path) != fs.root {
		return entries, err
	}
	return slices.DeleteFunc(entries, func(fi os.FileInfo) bool { return fi.IsDir() }), nil
}

func hasLooseFiles(fsys billy.Filesystem, root string) (bool, error) {
	entries, err := fsys.ReadDir(root)
	if err != nil {
		return false, fmt.Errorf("read %s: %w", root, err)
	}
	for _, entry := range entries {
		if !entry.IsDir() && !strings.HasPrefix(entry.Name(), ".") {
			return true, nil
		}
	}
	return false, nil
}

// Partitions lists the top-level directories of root, sorted. Hidden
// directories and BIDS sourcedata/derivatives are not partitions.
func Partitions(fsys billy.Filesystem, root string) ([]string, error) {
	entries, err := fsys.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", root, err)
	}
	var parts []string
	for _, entry := range entries {
		if entry.IsDir() && !strings.HasPrefix(entry.Name(), ".") && !slices.Contains(ignoredDirs, entry.Name()) {
			parts = append(parts, filepath.Join(root, entry.Name()))
		}
	}
	slices.Sort(parts)
	return parts, nil
}

// ImportDataset reads the directory source from the local filesystem with
// the adapter for format. An empty name is replaced by a random one and a
// nil cfg means api.DefaultConfig().
func ImportDataset(ctx context.Context, source, format, name string, cfg *api.Config) (*dataset.Dataset, error) {
	info, err := os.Stat(source)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", source)
	}
	abs, err := filepath.Abs(source)
	if err != nil {
		return nil, err
	}
	ds, _, err := NewEngine(WithLogger(zap.S())).Import(ctx, osfs.New(abs), "/", format, name, cfg)
	if err != nil {
		return nil, err
	}
	// Record the real location, not the filesystem-relative root.
	ds.DataSource = nil
	ds.AddSource(abs)
	return ds, nil
}
