// Package graph holds a read-only, path-addressed view of a dataset:
// directories for each tree level and small rendered files for their
// metadata. The mount layer serves it without knowing the dataset model.
package graph

import (
	"errors"
	"io/fs"
	"slices"
	"strings"
	"sync"
	"time"
)

var ErrNotFound = errors.New("node not found")

// Node is a directory or a file in the projected tree. IDs are slash
// separated paths without a leading slash.
type Node struct {
	ID       string
	Mode     fs.FileMode // fs.ModeDir for directories, 0 for regular files
	ModTime  time.Time
	Data     []byte   // File content, nil for directories
	Children []string // Child node IDs (directories only)
}

// ContentSize returns the byte length of the node's content.
func (n *Node) ContentSize() int64 { return int64(len(n.Data)) }

// Graph is the read interface used by the mount layer.
type Graph interface {
	GetNode(id string) (*Node, error)
	ListChildren(id string) ([]string, error)
	ReadContent(id string, buf []byte, offset int64) (int, error)
}

// MemoryStore is a Graph kept entirely in memory. It is safe for concurrent
// readers once built.
type MemoryStore struct {
	mu    sync.RWMutex
	nodes map[string]*Node
	roots []string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{nodes: make(map[string]*Node)}
}

// AddRoot registers a node as a top-level entry and adds it to the store.
func (s *MemoryStore) AddRoot(n *Node) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nodes[n.ID] = n
	if !slices.Contains(s.roots, n.ID) {
		s.roots = append(s.roots, n.ID)
	}
}

// AddNode adds a non-root node to the store.
func (s *MemoryStore) AddNode(n *Node) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nodes[n.ID] = n
}

// Len returns the number of nodes.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.nodes)
}

func (s *MemoryStore) GetNode(id string) (*Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.nodes[strings.TrimPrefix(id, "/")]
	if !ok {
		return nil, ErrNotFound
	}
	return n, nil
}

func (s *MemoryStore) ListChildren(id string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if id == "" || id == "/" {
		return s.roots, nil
	}
	n, ok := s.nodes[strings.TrimPrefix(id, "/")]
	if !ok {
		return nil, ErrNotFound
	}
	return n.Children, nil
}

func (s *MemoryStore) ReadContent(id string, buf []byte, offset int64) (int, error) {
	node, err := s.GetNode(id)
	if err != nil {
		return 0, err
	}
	if offset >= int64(len(node.Data)) {
		return 0, nil
	}
	return copy(buf, node.Data[offset:]), nil
}

var _ Graph = (*MemoryStore)(nil)
