package graph

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"strconv"
	"strings"
	"time"

	"github.com/agentic-research/mrds/internal/dataset"
)

// File names used inside the projected tree.
const (
	ParamsFile   = "params.json"
	FilesFile    = "files"
	SequenceFile = "_sequence.json"
	// DatasetFile is reserved at the root for the mount's dataset summary.
	DatasetFile = "_dataset.json"
)

// runView is the content of a run's params.json.
type runView struct {
	Key        dataset.Key       `json:"key"`
	EchoTime   float64           `json:"echo_time,omitempty"`
	EchoNumber int               `json:"echo_number,omitempty"`
	AcquiredAt *time.Time        `json:"acquired_at,omitempty"`
	Params     map[string]any    `json:"params"`
	Units      map[string]string `json:"units,omitempty"`
}

// sequenceView is the content of a sequence's _sequence.json.
type sequenceView struct {
	Name         string              `json:"name"`
	Shared       map[string]any      `json:"shared_params"`
	EchoTimes    []float64           `json:"echo_times,omitempty"`
	MultiEcho    bool                `json:"multi_echo"`
	Compliant    []string            `json:"compliant,omitempty"`
	NonCompliant map[string][]string `json:"non_compliant,omitempty"`
}

// Project lays ds out as
//
//	<subject>/<session>/<sequence>/_sequence.json
//	<subject>/<session>/<sequence>/<run>/params.json
//	<subject>/<session>/<sequence>/<run>/files
//
// Names are escaped into single path components that never shadow the
// reserved file names; the unescaped names stay in the rendered files.
// Every node carries modTime.
func Project(ds *dataset.Dataset, modTime time.Time) (*MemoryStore, error) {
	s := NewMemoryStore()
	dir := func(parent *Node, names siblings, name string) *Node {
		id := names.claim(name)
		if parent != nil {
			id = parent.ID + "/" + id
		}
		return &Node{ID: id, Mode: fs.ModeDir | 0o555, ModTime: modTime}
	}
	file := func(parent *Node, name string, data []byte) {
		id := parent.ID + "/" + name
		s.AddNode(&Node{ID: id, Mode: 0o444, ModTime: modTime, Data: data})
		parent.Children = append(parent.Children, id)
	}

	subjects := newSiblings(DatasetFile)
	for sub := range ds.Subjects() {
		subNode := dir(nil, subjects, sub.Name)
		sessions := newSiblings()
		for sess := range sub.Sessions() {
			sessNode := dir(subNode, sessions, sess.Name)
			sequences := newSiblings()
			for seq := range sess.Sequences() {
				seqNode := dir(sessNode, sequences, seq.Name)
				data, err := renderSequence(seq)
				if err != nil {
					return nil, fmt.Errorf("render %s: %w", seqNode.ID, err)
				}
				file(seqNode, SequenceFile, data)
				runs := newSiblings(SequenceFile)
				for r := range seq.Runs() {
					runNode := dir(seqNode, runs, r.Name)
					data, err := renderRun(r)
					if err != nil {
						return nil, fmt.Errorf("render %s: %w", runNode.ID, err)
					}
					file(runNode, ParamsFile, data)
					file(runNode, FilesFile, renderFiles(r.Files))
					s.AddNode(runNode)
					seqNode.Children = append(seqNode.Children, runNode.ID)
				}
				s.AddNode(seqNode)
				sessNode.Children = append(sessNode.Children, seqNode.ID)
			}
			s.AddNode(sessNode)
			subNode.Children = append(subNode.Children, sessNode.ID)
		}
		s.AddRoot(subNode)
	}
	return s, nil
}

// siblings hands out distinct path components within one directory.
type siblings map[string]bool

func newSiblings(reserved ...string) siblings {
	s := make(siblings, len(reserved))
	for _, name := range reserved {
		s[name] = true
	}
	return s
}

// claim escapes name and suffixes "~N" until it is unused.
func (s siblings) claim(name string) string {
	base := pathComponent(name)
	out := base
	for i := 2; s[out]; i++ {
		out = base + "~" + strconv.Itoa(i)
	}
	s[out] = true
	return out
}

// pathComponent replaces separators and NUL, and keeps "", "." and ".."
// from meaning anything to a path walker.
func pathComponent(name string) string {
	name = strings.Map(func(r rune) rune {
		if r == '/' || r == '\\' || r == 0 {
			return '_'
		}
		return r
	}, name)
	switch name {
	case "", ".", "..":
		return "_" + name
	}
	return name
}

func renderRun(r *dataset.Run) ([]byte, error) {
	v := runView{
		Key:        r.Key,
		EchoTime:   r.EchoTime,
		EchoNumber: r.EchoNumber,
		Params:     make(map[string]any, len(r.Params)),
		Units:      make(map[string]string),
	}
	if !r.AcquiredAt.IsZero() {
		v.AcquiredAt = &r.AcquiredAt
	}
	for name, p := range r.Params {
		v.Params[name] = p.Interface()
		if p.Unit != "" {
			v.Units[name] = p.Unit
		}
	}
	return marshal(v)
}

func renderSequence(seq *dataset.Sequence) ([]byte, error) {
	v := sequenceView{
		Name:      seq.Name,
		Shared:    make(map[string]any),
		EchoTimes: seq.EchoTimes(),
		MultiEcho: seq.IsMultiEcho(),
		Compliant: seq.CompliantSubjects(),
	}
	for name, p := range seq.Params() {
		v.Shared[name] = p.Interface()
	}
	if bad := seq.NonCompliantSubjects(); len(bad) > 0 {
		v.NonCompliant = make(map[string][]string, len(bad))
		for _, s := range bad {
			v.NonCompliant[s] = seq.Reasons(s)
		}
	}
	return marshal(v)
}

func renderFiles(files []string) []byte {
	if len(files) == 0 {
		return nil
	}
	return []byte(strings.Join(files, "\n") + "\n")
}

func marshal(v any) ([]byte, error) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(b, '\n'), nil
}
