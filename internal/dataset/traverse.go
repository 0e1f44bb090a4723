package dataset

import (
	"iter"
	"maps"
	"slices"
)

// Horizontal is one run of a fixed sequence, yielded by TraverseHorizontal.
type Horizontal struct {
	Subject  *Subject
	Session  *Session
	Run      *Run
	Sequence *Sequence
}

// Vertical2 pairs a run of one sequence with a run of another in the same session.
type Vertical2 struct {
	Subject   *Subject
	Session   *Session
	Run1      *Run
	Run2      *Run
	Sequence1 *Sequence
	Sequence2 *Sequence
}

// Vertical is one combination of runs, one per requested sequence, in the
// same session. Runs[i] belongs to Sequences[i].
type Vertical struct {
	Subject   *Subject
	Session   *Session
	Runs      []*Run
	Sequences []*Sequence
}

// TraverseHorizontal yields every run of the named sequence across all
// subjects and sessions, in stored order. An unknown name yields nothing.
func (d *Dataset) TraverseHorizontal(sequence string) iter.Seq[Horizontal] {
	return func(yield func(Horizontal) bool) {
		for sub := range d.subjects.all() {
			for sess := range sub.Sessions() {
				seq, ok := sess.Sequence(sequence)
				if !ok {
					continue
				}
				for r := range seq.Runs() {
					if !yield(Horizontal{Subject: sub, Session: sess, Run: r, Sequence: seq}) {
						return
					}
				}
			}
		}
	}
}

// TraverseVertical2 yields, for every subject/session holding both
// sequences, each run of seq1 paired with each run of seq2.
func (d *Dataset) TraverseVertical2(seq1, seq2 string) iter.Seq[Vertical2] {
	return func(yield func(Vertical2) bool) {
		for v := range d.TraverseVerticalMulti(seq1, seq2) {
			t := Vertical2{
				Subject:   v.Subject,
				Session:   v.Session,
				Run1:      v.Runs[0],
				Run2:      v.Runs[1],
				Sequence1: v.Sequences[0],
				Sequence2: v.Sequences[1],
			}
			if !yield(t) {
				return
			}
		}
	}
}

// TraverseVerticalMulti yields the cross product of the runs of every
// named sequence, per subject/session. Sessions missing any of the
// sequences are skipped. Combinations vary the last sequence fastest.
func (d *Dataset) TraverseVerticalMulti(sequences ...string) iter.Seq[Vertical] {
	return func(yield func(Vertical) bool) {
		if len(sequences) == 0 {
			return
		}
		for sub := range d.subjects.all() {
			for sess := range sub.Sessions() {
				seqs, runs, ok := collect(sess, sequences)
				if !ok {
					continue
				}
				if !crossProduct(runs, func(combo []*Run) bool {
					return yield(Vertical{Subject: sub, Session: sess, Runs: combo, Sequences: seqs})
				}) {
					return
				}
			}
		}
	}
}

func collect(sess *Session, names []string) ([]*Sequence, [][]*Run, bool) {
	seqs := make([]*Sequence, len(names))
	runs := make([][]*Run, len(names))
	for i, name := range names {
		seq, ok := sess.Sequence(name)
		if !ok || seq.Len() == 0 {
			return nil, nil, false
		}
		seqs[i] = seq
		runs[i] = slices.Collect(seq.Runs())
	}
	return seqs, runs, true
}

// crossProduct calls fn with every combination, odometer style. Each call
// receives a fresh slice. It returns false if fn stopped the iteration.
func crossProduct(lists [][]*Run, fn func([]*Run) bool) bool {
	idx := make([]int, len(lists))
	for {
		combo := make([]*Run, len(lists))
		for i, j := range idx {
			combo[i] = lists[i][j]
		}
		if !fn(combo) {
			return false
		}
		pos := len(idx) - 1
		for pos >= 0 {
			idx[pos]++
			if idx[pos] < len(lists[pos]) {
				break
			}
			idx[pos] = 0
			pos--
		}
		if pos < 0 {
			return true
		}
	}
}

// SubjectIDs returns every subject name, sorted.
func (d *Dataset) SubjectIDs() []string {
	return slices.Clone(d.subjects.names)
}

// SequenceIDs returns every sequence name found in any session, sorted.
func (d *Dataset) SequenceIDs() []string {
	seen := make(map[string]struct{})
	for sub := range d.subjects.all() {
		for sess := range sub.Sessions() {
			for _, name := range sess.sequences.names {
				seen[name] = struct{}{}
			}
		}
	}
	return slices.Sorted(maps.Keys(seen))
}
