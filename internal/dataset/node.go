package dataset

import (
	"iter"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/agentic-research/mrds/internal/param"
)

// DefaultSession names the implicit session used when a source format has
// no session concept.
const DefaultSession = "ses-default"

// Key is the chain of names locating a run. Runs carry it instead of a
// pointer to their parents.
type Key struct {
	Subject  string `json:"subject" bson:"subject"`
	Session  string `json:"session" bson:"session"`
	Sequence string `json:"sequence" bson:"sequence"`
	Run      string `json:"run" bson:"run"`
}

func (k Key) String() string {
	return strings.Join([]string{k.Subject, k.Session, k.Sequence, k.Run}, "/")
}

// Run is one acquisition of a sequence.
type Run struct {
	Name string
	Key  Key
	// Params holds the full per-run parameter mapping.
	Params param.Params
	// EchoTime in ms, zero when unknown.
	EchoTime float64
	// EchoNumber from the header, zero when unknown or not trusted.
	EchoNumber int
	AcquiredAt time.Time
	// Files are the source paths the run was read from, sorted.
	Files []string
}

func NewRun(name string, params param.Params) *Run {
	if params == nil {
		params = param.Params{}
	}
	return &Run{Name: name, Params: params}
}

// AddFile records a source path, keeping Files sorted and unique.
func (r *Run) AddFile(path string) {
	i, found := slices.BinarySearch(r.Files, path)
	if !found {
		r.Files = slices.Insert(r.Files, i, path)
	}
}

// differences compares the acquisition content of two runs. Source files
// are not part of the content.
func (r *Run) differences(o *Run) []param.Delta {
	deltas := r.Params.Diff(o.Params)
	if r.EchoTime != o.EchoTime {
		deltas = append(deltas, param.Delta{
			Name: "echo time", HasLeft: true, HasRight: true,
			Left: param.Float(r.EchoTime, "ms"), Right: param.Float(o.EchoTime, "ms"),
		})
	}
	if r.EchoNumber != o.EchoNumber {
		deltas = append(deltas, param.Delta{
			Name: "echo number", HasLeft: true, HasRight: true,
			Left: param.Int(int64(r.EchoNumber), ""), Right: param.Int(int64(o.EchoNumber), ""),
		})
	}
	return deltas
}

// Sequence groups the runs of one acquisition protocol within a session.
type Sequence struct {
	Name string

	key          Key
	runs         children[*Run]
	shared       param.Params
	compliant    map[string]struct{}
	nonCompliant map[string][]string
}

func NewSequence(name string) *Sequence {
	return &Sequence{Name: name, key: Key{Sequence: name}}
}

// Add inserts a run. A run with the same name and identical content is a
// no-op that only merges source files; differing content keeps the stored
// run and returns a Conflict. The stored run is always returned.
func (s *Sequence) Add(r *Run) (*Run, *Conflict) {
	if existing, ok := s.runs.get(r.Name); ok {
		if deltas := existing.differences(r); len(deltas) > 0 {
			return existing, &Conflict{Key: existing.Key, Deltas: deltas}
		}
		for _, f := range r.Files {
			existing.AddFile(f)
		}
		return existing, nil
	}
	r.Key = s.key
	r.Key.Run = r.Name
	if s.runs.len() == 0 {
		s.shared = r.Params.Clone()
	} else {
		s.shared = s.shared.Intersect(r.Params)
	}
	s.runs.put(r.Name, r)
	return r, nil
}

func (s *Sequence) Run(name string) (*Run, bool) { return s.runs.get(name) }

func (s *Sequence) Runs() iter.Seq[*Run] { return s.runs.all() }

func (s *Sequence) Len() int { return s.runs.len() }

// Params returns the parameters shared by every run of the sequence.
func (s *Sequence) Params() param.Params {
	if s.shared == nil {
		return param.Params{}
	}
	return s.shared
}

// Consistent reports whether the shared parameters are a subset of every run's.
func (s *Sequence) Consistent() bool {
	for r := range s.runs.all() {
		if !s.Params().SubsetOf(r.Params) {
			return false
		}
	}
	return true
}

// EchoTimes returns the distinct known echo times, ascending.
func (s *Sequence) EchoTimes() []float64 {
	var out []float64
	for r := range s.runs.all() {
		if r.EchoTime == 0 {
			continue
		}
		if !slices.Contains(out, r.EchoTime) {
			out = append(out, r.EchoTime)
		}
	}
	slices.Sort(out)
	return out
}

// IsMultiEcho is derived from the runs: any echo number above one, or more
// than one distinct echo time.
func (s *Sequence) IsMultiEcho() bool {
	for r := range s.runs.all() {
		if r.EchoNumber > 1 {
			return true
		}
	}
	return len(s.EchoTimes()) > 1
}

// Reference returns the parameters of the first run acquired at echoTime.
func (s *Sequence) Reference(echoTime float64) (param.Params, bool) {
	for r := range s.runs.all() {
		if r.EchoTime == echoTime {
			return r.Params, true
		}
	}
	return nil, false
}

// MarkCompliant records subject as compliant unless it is already non-compliant.
func (s *Sequence) MarkCompliant(subject string) {
	if _, bad := s.nonCompliant[subject]; bad {
		return
	}
	if s.compliant == nil {
		s.compliant = make(map[string]struct{})
	}
	s.compliant[subject] = struct{}{}
}

// MarkNonCompliant records subject as non-compliant with a reason. It
// removes the subject from the compliant set.
func (s *Sequence) MarkNonCompliant(subject, reason string) {
	delete(s.compliant, subject)
	if s.nonCompliant == nil {
		s.nonCompliant = make(map[string][]string)
	}
	reasons := s.nonCompliant[subject]
	if reason != "" && !slices.Contains(reasons, reason) {
		reasons = append(reasons, reason)
		slices.Sort(reasons)
	}
	s.nonCompliant[subject] = reasons
}

func (s *Sequence) CompliantSubjects() []string {
	return slices.Sorted(maps.Keys(s.compliant))
}

func (s *Sequence) NonCompliantSubjects() []string {
	return slices.Sorted(maps.Keys(s.nonCompliant))
}

// Reasons returns why subject was marked non-compliant.
func (s *Sequence) Reasons(subject string) []string {
	return slices.Clone(s.nonCompliant[subject])
}

func (s *Sequence) bind(subject, session string) {
	s.key = Key{Subject: subject, Session: session, Sequence: s.Name}
	for r := range s.runs.all() {
		r.Key = s.key
		r.Key.Run = r.Name
	}
}

// merge folds o into s. o must not be used afterwards.
func (s *Sequence) merge(o *Sequence) []*Conflict {
	var conflicts []*Conflict
	for r := range o.runs.all() {
		if _, c := s.Add(r); c != nil {
			conflicts = append(conflicts, c)
		}
	}
	for subject := range o.compliant {
		s.MarkCompliant(subject)
	}
	for subject, reasons := range o.nonCompliant {
		s.MarkNonCompliant(subject, "")
		for _, reason := range reasons {
			s.MarkNonCompliant(subject, reason)
		}
	}
	return conflicts
}

// Session is one visit of a subject.
type Session struct {
	Name       string
	AcquiredAt time.Time

	subject   string
	sequences children[*Sequence]
}

func NewSession(name string) *Session { return &Session{Name: name} }

// Add inserts a sequence, merging it into an existing one with the same name.
func (s *Session) Add(seq *Sequence) []*Conflict {
	if existing, ok := s.sequences.get(seq.Name); ok {
		return existing.merge(seq)
	}
	seq.bind(s.subject, s.Name)
	s.sequences.put(seq.Name, seq)
	return nil
}

func (s *Session) Sequence(name string) (*Sequence, bool) { return s.sequences.get(name) }

func (s *Session) Sequences() iter.Seq[*Sequence] { return s.sequences.all() }

func (s *Session) Len() int { return s.sequences.len() }

func (s *Session) sequenceOrNew(name string) *Sequence {
	if seq, ok := s.sequences.get(name); ok {
		return seq
	}
	seq := NewSequence(name)
	s.Add(seq)
	return seq
}

// observe keeps the earliest known acquisition time.
func (s *Session) observe(t time.Time) {
	if t.IsZero() {
		return
	}
	if s.AcquiredAt.IsZero() || t.Before(s.AcquiredAt) {
		s.AcquiredAt = t
	}
}

func (s *Session) bind(subject string) {
	s.subject = subject
	for seq := range s.sequences.all() {
		seq.bind(subject, s.Name)
	}
}

func (s *Session) merge(o *Session) []*Conflict {
	s.observe(o.AcquiredAt)
	var conflicts []*Conflict
	for seq := range o.sequences.all() {
		conflicts = append(conflicts, s.Add(seq)...)
	}
	return conflicts
}

// Subject is one participant.
type Subject struct {
	Name string

	sessions children[*Session]
}

func NewSubject(name string) *Subject { return &Subject{Name: name} }

// Add inserts a session, merging it into an existing one with the same name.
func (s *Subject) Add(sess *Session) []*Conflict {
	if existing, ok := s.sessions.get(sess.Name); ok {
		return existing.merge(sess)
	}
	sess.bind(s.Name)
	s.sessions.put(sess.Name, sess)
	return nil
}

func (s *Subject) Session(name string) (*Session, bool) { return s.sessions.get(name) }

func (s *Subject) Sessions() iter.Seq[*Session] { return s.sessions.all() }

func (s *Subject) Len() int { return s.sessions.len() }

func (s *Subject) sessionOrNew(name string) *Session {
	if sess, ok := s.sessions.get(name); ok {
		return sess
	}
	sess := NewSession(name)
	s.Add(sess)
	return sess
}

func (s *Subject) merge(o *Subject) []*Conflict {
	var conflicts []*Conflict
	for sess := range o.sessions.all() {
		conflicts = append(conflicts, s.Add(sess)...)
	}
	return conflicts
}
