package dataset

import (
	"slices"

	"github.com/RoaringBitmap/roaring"
)

// Index maps each sequence name to the set of subjects that acquired it.
// Subjects are stored as ordinals into the sorted subject list so that
// set queries across sequences are bitmap operations.
type Index struct {
	subjects []string
	bySeq    map[string]*roaring.Bitmap
}

// BuildIndex scans d once. The index is a snapshot; rebuild after mutation.
func BuildIndex(d *Dataset) *Index {
	idx := &Index{
		subjects: d.SubjectIDs(),
		bySeq:    make(map[string]*roaring.Bitmap),
	}
	for i, name := range idx.subjects {
		sub, _ := d.Subject(name)
		for sess := range sub.Sessions() {
			for seq := range sess.Sequences() {
				bm, ok := idx.bySeq[seq.Name]
				if !ok {
					bm = roaring.New()
					idx.bySeq[seq.Name] = bm
				}
				bm.Add(uint32(i))
			}
		}
	}
	return idx
}

// Count returns how many subjects acquired seq.
func (x *Index) Count(seq string) int {
	if bm, ok := x.bySeq[seq]; ok {
		return int(bm.GetCardinality())
	}
	return 0
}

// SubjectsWith returns the subjects that acquired every named sequence, sorted.
func (x *Index) SubjectsWith(seqs ...string) []string {
	if len(seqs) == 0 {
		return nil
	}
	var acc *roaring.Bitmap
	for _, s := range seqs {
		bm, ok := x.bySeq[s]
		if !ok {
			return nil
		}
		if acc == nil {
			acc = bm.Clone()
			continue
		}
		acc.And(bm)
	}
	return x.names(acc)
}

// SubjectsWithout returns the subjects lacking seq, sorted.
func (x *Index) SubjectsWithout(seq string) []string {
	all := roaring.New()
	all.AddRange(0, uint64(len(x.subjects)))
	if bm, ok := x.bySeq[seq]; ok {
		all.AndNot(bm)
	}
	return x.names(all)
}

func (x *Index) names(bm *roaring.Bitmap) []string {
	out := make([]string, 0, bm.GetCardinality())
	it := bm.Iterator()
	for it.HasNext() {
		out = append(out, x.subjects[it.Next()])
	}
	return out
}

// Summary is a flat description of a dataset.
type Summary struct {
	Name        string         `json:"name"`
	Format      string         `json:"format"`
	DataSource  []string       `json:"data_source"`
	Complete    bool           `json:"is_complete"`
	Subjects    int            `json:"subjects"`
	Sessions    int            `json:"sessions"`
	Sequences   int            `json:"sequences"`
	Runs        int            `json:"runs"`
	PerSequence map[string]int `json:"subjects_per_sequence"`
	MultiEcho   []string       `json:"multi_echo_sequences,omitempty"`
}

// Summarize counts nodes per level and subjects per sequence name.
func Summarize(d *Dataset) Summary {
	s := Summary{
		Name:        d.Name,
		Format:      d.Format,
		DataSource:  slices.Clone(d.DataSource),
		Complete:    d.IsComplete,
		Subjects:    d.Len(),
		PerSequence: make(map[string]int),
	}
	multi := make(map[string]bool)
	for sub := range d.Subjects() {
		s.Sessions += sub.Len()
		for sess := range sub.Sessions() {
			s.Sequences += sess.Len()
			for seq := range sess.Sequences() {
				s.Runs += seq.Len()
				if seq.IsMultiEcho() {
					multi[seq.Name] = true
				}
			}
		}
	}
	idx := BuildIndex(d)
	for _, name := range d.SequenceIDs() {
		s.PerSequence[name] = idx.Count(name)
		if multi[name] {
			s.MultiEcho = append(s.MultiEcho, name)
		}
	}
	return s
}
