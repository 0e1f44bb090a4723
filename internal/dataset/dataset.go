// Package dataset models a neuroimaging dataset as a
// Subject -> Session -> Sequence -> Run tree.
//
// A Dataset is not safe for concurrent mutation. Build it from one
// goroutine (or build independent partitions and Merge them), then share
// it freely between readers: traversals never mutate the tree.
package dataset

import (
	"iter"
	"slices"
)

// Dataset is the root of the tree.
type Dataset struct {
	Name string
	// DataSource lists the locations the tree was read from.
	DataSource []string
	// MetadataRoot is where derived outputs for the dataset are written.
	MetadataRoot string
	// Format names the adapter that produced the tree ("dicom", "bids", ...).
	Format string
	// IsComplete is true once a full, non-partitioned walk has finished.
	IsComplete bool

	subjects children[*Subject]
}

func New(name, format string, sources ...string) *Dataset {
	d := &Dataset{Name: name, Format: format}
	for _, src := range sources {
		d.AddSource(src)
	}
	return d
}

// Add inserts a subject, merging it into an existing one with the same name.
func (d *Dataset) Add(s *Subject) []*Conflict {
	if existing, ok := d.subjects.get(s.Name); ok {
		return existing.merge(s)
	}
	d.subjects.put(s.Name, s)
	return nil
}

// Subject returns the named subject; ok is false when absent.
func (d *Dataset) Subject(name string) (*Subject, bool) { return d.subjects.get(name) }

func (d *Dataset) Subjects() iter.Seq[*Subject] { return d.subjects.all() }

func (d *Dataset) Len() int { return d.subjects.len() }

// Empty reports whether the tree holds no runs at all.
func (d *Dataset) Empty() bool {
	for range d.Runs() {
		return false
	}
	return true
}

// AddRun inserts r at subject/session/sequence, creating missing levels.
// It returns the stored run, which differs from r when a run with the same
// name already existed.
func (d *Dataset) AddRun(subject, session, sequence string, r *Run) (*Run, *Conflict) {
	sub, ok := d.subjects.get(subject)
	if !ok {
		sub = NewSubject(subject)
		d.subjects.put(subject, sub)
	}
	sess := sub.sessionOrNew(session)
	sess.observe(r.AcquiredAt)
	return sess.sequenceOrNew(sequence).Add(r)
}

// Lookup finds a run by its key.
func (d *Dataset) Lookup(k Key) (*Run, bool) {
	sub, ok := d.subjects.get(k.Subject)
	if !ok {
		return nil, false
	}
	sess, ok := sub.Session(k.Session)
	if !ok {
		return nil, false
	}
	seq, ok := sess.Sequence(k.Sequence)
	if !ok {
		return nil, false
	}
	return seq.Run(k.Run)
}

// Runs yields every run in tree order.
func (d *Dataset) Runs() iter.Seq[*Run] {
	return func(yield func(*Run) bool) {
		for sub := range d.subjects.all() {
			for sess := range sub.Sessions() {
				for seq := range sess.Sequences() {
					for r := range seq.Runs() {
						if !yield(r) {
							return
						}
					}
				}
			}
		}
	}
}

// AddSource records an extra source location, keeping the list sorted and unique.
func (d *Dataset) AddSource(src string) {
	if src == "" {
		return
	}
	i, found := slices.BinarySearch(d.DataSource, src)
	if !found {
		d.DataSource = slices.Insert(d.DataSource, i, src)
	}
}
