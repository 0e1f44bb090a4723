package dataset

import (
	"fmt"
	"slices"
)

// Diff describes every structural difference between the trees of a and b:
// names at each level, run parameters, echo fields, acquisition times,
// source files, and compliance sets. Identity fields (name, sources,
// completeness) are not compared. An empty result means the trees are equal.
func Diff(a, b *Dataset) []string {
	var out []string
	add := func(format string, args ...any) { out = append(out, fmt.Sprintf(format, args...)) }

	diffNames("subject", "", a.subjects.names, b.subjects.names, add)
	for sa := range a.Subjects() {
		sb, ok := b.Subject(sa.Name)
		if !ok {
			continue
		}
		diffNames("session", sa.Name, sa.sessions.names, sb.sessions.names, add)
		for xa := range sa.Sessions() {
			xb, ok := sb.Session(xa.Name)
			if !ok {
				continue
			}
			at := sa.Name + "/" + xa.Name
			if !xa.AcquiredAt.Equal(xb.AcquiredAt) {
				add("%s: acquired %s != %s", at, xa.AcquiredAt, xb.AcquiredAt)
			}
			diffNames("sequence", at, xa.sequences.names, xb.sequences.names, add)
			for qa := range xa.Sequences() {
				qb, ok := xb.Sequence(qa.Name)
				if !ok {
					continue
				}
				diffSequence(qa, qb, add)
			}
		}
	}
	return out
}

// Equal reports whether Diff finds nothing.
func Equal(a, b *Dataset) bool { return len(Diff(a, b)) == 0 }

func diffSequence(a, b *Sequence, add func(string, ...any)) {
	at := a.key.Subject + "/" + a.key.Session + "/" + a.Name
	diffNames("run", at, a.runs.names, b.runs.names, add)
	if !slices.Equal(a.CompliantSubjects(), b.CompliantSubjects()) {
		add("%s: compliant %v != %v", at, a.CompliantSubjects(), b.CompliantSubjects())
	}
	if !slices.Equal(a.NonCompliantSubjects(), b.NonCompliantSubjects()) {
		add("%s: non-compliant %v != %v", at, a.NonCompliantSubjects(), b.NonCompliantSubjects())
	} else {
		for _, s := range a.NonCompliantSubjects() {
			if !slices.Equal(a.Reasons(s), b.Reasons(s)) {
				add("%s: reasons for %s %v != %v", at, s, a.Reasons(s), b.Reasons(s))
			}
		}
	}
	for ra := range a.Runs() {
		rb, ok := b.Run(ra.Name)
		if !ok {
			continue
		}
		for _, d := range ra.differences(rb) {
			add("%s: %s", ra.Key, d)
		}
		if !ra.AcquiredAt.Equal(rb.AcquiredAt) {
			add("%s: acquired %s != %s", ra.Key, ra.AcquiredAt, rb.AcquiredAt)
		}
		if !slices.Equal(ra.Files, rb.Files) {
			add("%s: files %v != %v", ra.Key, ra.Files, rb.Files)
		}
	}
}

func diffNames(level, at string, a, b []string, add func(string, ...any)) {
	for _, n := range a {
		if _, found := slices.BinarySearch(b, n); !found {
			add("%s %s/%s only on left", level, at, n)
		}
	}
	for _, n := range b {
		if _, found := slices.BinarySearch(a, n); !found {
			add("%s %s/%s only on right", level, at, n)
		}
	}
}
