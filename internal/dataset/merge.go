package dataset

import (
	"github.com/zeebo/errs"
)

// MergeOptions controls the metadata of a merged dataset.
type MergeOptions struct {
	// Complete overrides IsComplete of the result. The caller vouches that
	// the inputs were disjoint and jointly exhaustive; nothing re-derives it.
	// When nil the result is complete only if both inputs were.
	Complete *bool
}

// MergeReport lists run-level disagreements found during a merge.
type MergeReport struct {
	Conflicts []*Conflict
}

// Err returns nil without conflicts, otherwise an ErrConflict combining them.
func (r *MergeReport) Err() error {
	if r == nil || len(r.Conflicts) == 0 {
		return nil
	}
	group := make([]error, len(r.Conflicts))
	for i, c := range r.Conflicts {
		group[i] = c
	}
	return ErrConflict.Wrap(errs.Combine(group...))
}

// Merge folds other into d by structural union. Names present on one side
// only are adopted as-is; runs present on both sides are treated as the same
// acquisition and compared. other is consumed and must not be used again.
//
// Conflicts are reported, never resolved: the run already in d wins and the
// rest of the tree is still merged. An error is returned only when the two
// datasets come from different formats, in which case d is untouched.
func (d *Dataset) Merge(other *Dataset, opts MergeOptions) (*MergeReport, error) {
	if other == d {
		return &MergeReport{}, nil
	}
	if d.Format != "" && other.Format != "" && d.Format != other.Format {
		return nil, ErrFormatMismatch.New("cannot merge %q dataset into %q dataset", other.Format, d.Format)
	}
	if d.Format == "" {
		d.Format = other.Format
	}

	complete := d.IsComplete && other.IsComplete
	if opts.Complete != nil {
		complete = *opts.Complete
	}

	report := &MergeReport{}
	for sub := range other.subjects.all() {
		report.Conflicts = append(report.Conflicts, d.Add(sub)...)
	}
	for _, src := range other.DataSource {
		d.AddSource(src)
	}
	if d.MetadataRoot == "" {
		d.MetadataRoot = other.MetadataRoot
	}
	d.IsComplete = complete
	other.subjects = children[*Subject]{}
	return report, nil
}

// Merge combines a and b into a new dataset named after a. Both inputs are consumed.
func Merge(a, b *Dataset, opts MergeOptions) (*Dataset, *MergeReport, error) {
	if a.Format != "" && b.Format != "" && a.Format != b.Format {
		return nil, nil, ErrFormatMismatch.New("cannot merge %q dataset with %q dataset", a.Format, b.Format)
	}
	out := New(a.Name, a.Format)
	out.MetadataRoot = a.MetadataRoot
	out.IsComplete = true

	t := a.IsComplete && b.IsComplete
	if opts.Complete != nil {
		t = *opts.Complete
	}
	first, err := out.Merge(a, MergeOptions{})
	if err != nil {
		return nil, nil, err
	}
	second, err := out.Merge(b, MergeOptions{Complete: &t})
	if err != nil {
		return nil, nil, err
	}
	first.Conflicts = append(first.Conflicts, second.Conflicts...)
	return out, first, nil
}
