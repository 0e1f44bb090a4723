package nfsmount

import (
	"io"

	billy "github.com/go-git/go-billy/v5"

	"github.com/agentic-research/mrds/internal/graph"
)

// readFile is a read-only billy.File over a positional reader.
type readFile struct {
	name   string
	size   int64
	pos    int64
	readAt func(p []byte, off int64) (int, error)
}

func newGraphFile(g graph.Graph, id string, size int64) *readFile {
	return &readFile{
		name: id,
		size: size,
		readAt: func(p []byte, off int64) (int, error) {
			return g.ReadContent(id, p, off)
		},
	}
}

// newStaticFile serves data that is rendered once, like the summary.
func newStaticFile(name string, data []byte) *readFile {
	return &readFile{
		name: name,
		size: int64(len(data)),
		readAt: func(p []byte, off int64) (int, error) {
			return copy(p, data[off:]), nil
		},
	}
}

func (f *readFile) Name() string { return f.name }

func (f *readFile) ReadAt(p []byte, off int64) (int, error) {
	if off >= f.size {
		return 0, io.EOF
	}
	n, err := f.readAt(p, off)
	if err != nil {
		return n, err
	}
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (f *readFile) Read(p []byte) (int, error) {
	n, err := f.ReadAt(p, f.pos)
	f.pos += int64(n)
	return n, err
}

func (f *readFile) Seek(offset int64, whence int) (int64, error) {
	switch whence {
	case io.SeekStart:
	case io.SeekCurrent:
		offset += f.pos
	case io.SeekEnd:
		offset += f.size
	}
	f.pos = max(offset, 0)
	return f.pos, nil
}

func (f *readFile) Write([]byte) (int, error) { return 0, errReadOnly }
func (f *readFile) Truncate(int64) error      { return errReadOnly }
func (f *readFile) Lock() error               { return nil }
func (f *readFile) Unlock() error             { return nil }
func (f *readFile) Close() error              { return nil }

var _ billy.File = (*readFile)(nil)
