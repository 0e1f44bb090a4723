// Package nfsmount serves a dataset as a read-only NFS export. The dataset
// is projected through internal/graph and adapted to billy.Filesystem for
// willscott/go-nfs.
package nfsmount

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	billy "github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/helper/chroot"

	"github.com/agentic-research/mrds/internal/dataset"
	"github.com/agentic-research/mrds/internal/graph"
)

// SummaryFile is the virtual file at the root describing the whole dataset.
const SummaryFile = "/" + graph.DatasetFile

var errReadOnly = errors.New("read-only filesystem")

// DatasetFS is a read-only billy.Filesystem over a projected dataset.
type DatasetFS struct {
	graph     graph.Graph
	summary   []byte
	mountTime time.Time
}

// NewDatasetFS projects ds. Later changes to ds are not visible.
func NewDatasetFS(ds *dataset.Dataset) (*DatasetFS, error) {
	now := time.Now()
	g, err := graph.Project(ds, now)
	if err != nil {
		return nil, fmt.Errorf("project dataset: %w", err)
	}
	summary, err := json.MarshalIndent(dataset.Summarize(ds), "", "  ")
	if err != nil {
		return nil, fmt.Errorf("render summary: %w", err)
	}
	return &DatasetFS{graph: g, summary: append(summary, '\n'), mountTime: now}, nil
}

// --- billy.Basic ---

func (fs *DatasetFS) Create(string) (billy.File, error) { return nil, errReadOnly }

func (fs *DatasetFS) Open(filename string) (billy.File, error) {
	return fs.OpenFile(filename, os.O_RDONLY, 0)
}

func (fs *DatasetFS) OpenFile(filename string, flag int, _ os.FileMode) (billy.File, error) {
	filename = cleanPath(filename)
	if flag&(os.O_WRONLY|os.O_RDWR|os.O_CREATE|os.O_TRUNC|os.O_APPEND) != 0 {
		return nil, errReadOnly
	}
	if filename == SummaryFile {
		return newStaticFile(filename, fs.summary), nil
	}

	node, err := fs.graph.GetNode(filename)
	if err != nil {
		return nil, &os.PathError{Op: "open", Path: filename, Err: os.ErrNotExist}
	}
	if node.Mode.IsDir() {
		return nil, &os.PathError{Op: "open", Path: filename, Err: errors.New("is a directory")}
	}
	return newGraphFile(fs.graph, filename, node.ContentSize()), nil
}

func (fs *DatasetFS) Stat(filename string) (os.FileInfo, error) {
	return fs.Lstat(filename)
}

func (fs *DatasetFS) Rename(string, string) error { return errReadOnly }

func (fs *DatasetFS) Remove(string) error { return errReadOnly }

func (fs *DatasetFS) Join(elem ...string) string {
	return filepath.Join(elem...)
}

// --- billy.TempFile ---

func (fs *DatasetFS) TempFile(string, string) (billy.File, error) {
	return nil, billy.ErrNotSupported
}

// --- billy.Dir ---

func (fs *DatasetFS) ReadDir(path string) ([]os.FileInfo, error) {
	path = cleanPath(path)
	if path != "/" {
		node, err := fs.graph.GetNode(path)
		if err != nil {
			return nil, &os.PathError{Op: "readdir", Path: path, Err: os.ErrNotExist}
		}
		if !node.Mode.IsDir() {
			return nil, &os.PathError{Op: "readdir", Path: path, Err: errors.New("not a directory")}
		}
	}

	children, err := fs.graph.ListChildren(path)
	if err != nil {
		return nil, &os.PathError{Op: "readdir", Path: path, Err: os.ErrNotExist}
	}
	infos := make([]os.FileInfo, 0, len(children)+1)
	if path == "/" {
		infos = append(infos, fs.summaryInfo())
	}
	for _, id := range children {
		child, err := fs.graph.GetNode(id)
		if err != nil {
			continue
		}
		infos = append(infos, nodeInfo(child))
	}
	return infos, nil
}

func (fs *DatasetFS) MkdirAll(string, os.FileMode) error { return errReadOnly }

// --- billy.Symlink ---

func (fs *DatasetFS) Lstat(filename string) (os.FileInfo, error) {
	filename = cleanPath(filename)
	switch filename {
	case "/":
		return &fileInfo{name: "/", mode: os.ModeDir | 0o555, modTime: fs.mountTime}, nil
	case SummaryFile:
		return fs.summaryInfo(), nil
	}
	node, err := fs.graph.GetNode(filename)
	if err != nil {
		return nil, &os.PathError{Op: "lstat", Path: filename, Err: os.ErrNotExist}
	}
	return nodeInfo(node), nil
}

func (fs *DatasetFS) Symlink(string, string) error { return billy.ErrNotSupported }

func (fs *DatasetFS) Readlink(string) (string, error) { return "", billy.ErrNotSupported }

// --- billy.Chroot ---

func (fs *DatasetFS) Chroot(path string) (billy.Filesystem, error) {
	return chroot.New(fs, path), nil
}

func (fs *DatasetFS) Root() string { return "/" }

// --- billy.Capable ---

func (fs *DatasetFS) Capabilities() billy.Capability {
	return billy.ReadCapability | billy.SeekCapability
}

func (fs *DatasetFS) summaryInfo() os.FileInfo {
	return &fileInfo{
		name:    filepath.Base(SummaryFile),
		size:    int64(len(fs.summary)),
		mode:    0o444,
		modTime: fs.mountTime,
	}
}

// cleanPath normalizes a billy path to a clean absolute path.
func cleanPath(path string) string {
	return filepath.Clean("/" + path)
}

func nodeInfo(n *graph.Node) os.FileInfo {
	mode := os.FileMode(0o444)
	if n.Mode.IsDir() {
		mode = os.ModeDir | 0o555
	}
	return &fileInfo{
		name:    filepath.Base(n.ID),
		size:    n.ContentSize(),
		mode:    mode,
		modTime: n.ModTime,
	}
}

type fileInfo struct {
	name    string
	size    int64
	mode    os.FileMode
	modTime time.Time
}

func (fi *fileInfo) Name() string       { return fi.name }
func (fi *fileInfo) Size() int64        { return fi.size }
func (fi *fileInfo) Mode() os.FileMode  { return fi.mode }
func (fi *fileInfo) ModTime() time.Time { return fi.modTime }
func (fi *fileInfo) IsDir() bool        { return fi.mode.IsDir() }
func (fi *fileInfo) Sys() any           { return nil }

var (
	_ billy.Filesystem = (*DatasetFS)(nil)
	_ billy.Capable    = (*DatasetFS)(nil)
)
