package store

import (
	"errors"
	"fmt"
	"time"

	"github.com/agentic-research/mrds/internal/dataset"
	"github.com/agentic-research/mrds/internal/param"
)

// document is the codec-neutral form of a dataset. Times are RFC 3339
// strings with nanoseconds; the empty string is an unknown time.
type document struct {
	Version      int          `bson:"version"`
	Name         string       `bson:"name"`
	Format       string       `bson:"format"`
	DataSource   []string     `bson:"data_source"`
	MetadataRoot string       `bson:"metadata_root"`
	IsComplete   bool         `bson:"is_complete"`
	Subjects     []subjectDoc `bson:"subjects"`
}

type subjectDoc struct {
	Name     string       `bson:"name"`
	Sessions []sessionDoc `bson:"sessions"`
}

type sessionDoc struct {
	Name       string        `bson:"name"`
	AcquiredAt string        `bson:"acquired_at"`
	Sequences  []sequenceDoc `bson:"sequences"`
}

type sequenceDoc struct {
	Name         string            `bson:"name"`
	Compliant    []string          `bson:"compliant"`
	NonCompliant []nonCompliantDoc `bson:"non_compliant"`
	Runs         []runDoc          `bson:"runs"`
}

type nonCompliantDoc struct {
	Subject string   `bson:"subject"`
	Reasons []string `bson:"reasons"`
}

type runDoc struct {
	Name       string       `bson:"name"`
	Params     param.Params `bson:"params"`
	EchoTime   float64      `bson:"echo_time"`
	EchoNumber int          `bson:"echo_number"`
	AcquiredAt string       `bson:"acquired_at"`
	Files      []string     `bson:"files"`
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, s)
}

func snapshot(d *dataset.Dataset) *document {
	doc := &document{
		Version:      SchemaVersion,
		Name:         d.Name,
		Format:       d.Format,
		DataSource:   d.DataSource,
		MetadataRoot: d.MetadataRoot,
		IsComplete:   d.IsComplete,
	}
	for sub := range d.Subjects() {
		sd := subjectDoc{Name: sub.Name}
		for sess := range sub.Sessions() {
			xd := sessionDoc{Name: sess.Name, AcquiredAt: formatTime(sess.AcquiredAt)}
			for seq := range sess.Sequences() {
				qd := sequenceDoc{Name: seq.Name, Compliant: seq.CompliantSubjects()}
				for _, s := range seq.NonCompliantSubjects() {
					qd.NonCompliant = append(qd.NonCompliant, nonCompliantDoc{Subject: s, Reasons: seq.Reasons(s)})
				}
				for r := range seq.Runs() {
					qd.Runs = append(qd.Runs, runDoc{
						Name:       r.Name,
						Params:     r.Params,
						EchoTime:   r.EchoTime,
						EchoNumber: r.EchoNumber,
						AcquiredAt: formatTime(r.AcquiredAt),
						Files:      r.Files,
					})
				}
				xd.Sequences = append(xd.Sequences, qd)
			}
			sd.Sessions = append(sd.Sessions, xd)
		}
		doc.Subjects = append(doc.Subjects, sd)
	}
	return doc
}

// restore rebuilds the tree. Names must be non-empty and unique per level.
func (doc *document) restore() (*dataset.Dataset, error) {
	if err := checkVersion(doc.Version); err != nil {
		return nil, err
	}
	d := dataset.New(doc.Name, doc.Format, doc.DataSource...)
	d.MetadataRoot = doc.MetadataRoot
	d.IsComplete = doc.IsComplete

	for _, sd := range doc.Subjects {
		if sd.Name == "" {
			return nil, ErrCorrupt.New("subject without a name")
		}
		if _, dup := d.Subject(sd.Name); dup {
			return nil, ErrCorrupt.New("duplicate subject %q", sd.Name)
		}
		sub := dataset.NewSubject(sd.Name)
		for _, xd := range sd.Sessions {
			sess, err := restoreSession(sub, xd)
			if err != nil {
				return nil, err
			}
			sub.Add(sess)
		}
		d.Add(sub)
	}
	return d, nil
}

func restoreSession(sub *dataset.Subject, xd sessionDoc) (*dataset.Session, error) {
	at := sub.Name + "/" + xd.Name
	if xd.Name == "" {
		return nil, ErrCorrupt.New("%s: session without a name", sub.Name)
	}
	if _, dup := sub.Session(xd.Name); dup {
		return nil, ErrCorrupt.New("duplicate session %q", at)
	}
	acquired, err := parseTime(xd.AcquiredAt)
	if err != nil {
		return nil, ErrCorrupt.Wrap(fmt.Errorf("%s: %w", at, err))
	}
	sess := dataset.NewSession(xd.Name)
	sess.AcquiredAt = acquired
	for _, qd := range xd.Sequences {
		if qd.Name == "" {
			return nil, ErrCorrupt.New("%s: sequence without a name", at)
		}
		if _, dup := sess.Sequence(qd.Name); dup {
			return nil, ErrCorrupt.New("duplicate sequence %q in %s", qd.Name, at)
		}
		seq := dataset.NewSequence(qd.Name)
		for _, rd := range qd.Runs {
			r, err := restoreRun(rd)
			if err != nil {
				return nil, ErrCorrupt.Wrap(fmt.Errorf("%s/%s: %w", at, qd.Name, err))
			}
			if _, dup := seq.Run(r.Name); dup {
				return nil, ErrCorrupt.New("duplicate run %q in %s/%s", r.Name, at, qd.Name)
			}
			seq.Add(r)
		}
		for _, s := range qd.Compliant {
			seq.MarkCompliant(s)
		}
		for _, nc := range qd.NonCompliant {
			seq.MarkNonCompliant(nc.Subject, "")
			for _, reason := range nc.Reasons {
				seq.MarkNonCompliant(nc.Subject, reason)
			}
		}
		sess.Add(seq)
	}
	return sess, nil
}

func restoreRun(rd runDoc) (*dataset.Run, error) {
	if rd.Name == "" {
		return nil, errors.New("run without a name")
	}
	acquired, err := parseTime(rd.AcquiredAt)
	if err != nil {
		return nil, fmt.Errorf("run %s: %w", rd.Name, err)
	}
	r := dataset.NewRun(rd.Name, rd.Params)
	r.EchoTime = rd.EchoTime
	r.EchoNumber = rd.EchoNumber
	r.AcquiredAt = acquired
	for _, f := range rd.Files {
		r.AddFile(f)
	}
	return r, nil
}
