package ingest

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	billy "github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"
	"go.uber.org/zap"

	"github.com/agentic-research/mrds/api"
	"github.com/agentic-research/mrds/internal/dataset"
)

// defaultSequenceName is used when a header carries no usable description.
const defaultSequenceName = "MR_image"

// locator decides the subject and session of a DICOM file. ok is false
// when the file does not belong to any subject.
type locator func(path string, h *Header) (subject, session string, ok bool)

// dicomWalker inserts one run per series (and echo) found under a root.
// The DICOM and XNAT adapters differ only in how they locate subjects.
type dicomWalker struct {
	format string
	locate locator
	opts   options
}

// NewDICOMAdapter reads a plain directory tree of DICOM files. Subjects
// come from PatientID and sessions from StudyInstanceUID.
func NewDICOMAdapter(opts ...Option) Adapter {
	return &dicomWalker{format: "dicom", locate: headerLocator, opts: buildOptions(opts)}
}

func headerLocator(_ string, h *Header) (string, string, bool) {
	subject := h.PatientID
	if subject == "" {
		subject = h.PatientName
	}
	if subject == "" {
		return "", "", false
	}
	session := h.StudyInstanceUID
	if session == "" {
		session = dataset.DefaultSession
	}
	return subject, session, true
}

func (w *dicomWalker) Format() string { return w.format }

func (w *dicomWalker) Populate(ctx context.Context, fsys billy.Filesystem, root string, cfg *api.Config, ds *dataset.Dataset) (Result, error) {
	var res Result
	pol, err := newPolicy(cfg)
	if err != nil {
		return res, err
	}
	log := w.opts.log.With("format", w.format, "root", root)

	err = util.Walk(fsys, root, func(p string, info os.FileInfo, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err != nil {
			if p == root {
				return err
			}
			res.skip(log, p, err.Error())
			return nil
		}
		if info.IsDir() {
			if p != root && strings.HasPrefix(info.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasPrefix(info.Name(), ".") {
			return nil
		}
		w.opts.progress(p)
		w.file(fsys, p, info.Size(), pol, ds, &res, log)
		return nil
	})
	if err != nil {
		return res, ErrAdapter.Wrap(fmt.Errorf("walk %s: %w", root, err))
	}
	log.Debugw("walk finished", "files", res.Files, "runs", res.Runs, "skipped", len(res.Skipped))
	return res, nil
}

func (w *dicomWalker) file(fsys billy.Filesystem, p string, size int64, pol *policy, ds *dataset.Dataset, res *Result, log *zap.SugaredLogger) {
	f, err := fsys.Open(p)
	if err != nil {
		res.Files++
		res.skip(log, p, err.Error())
		return
	}
	defer func() { _ = f.Close() }() // safe to ignore

	if !isDICOM(f) {
		log.Debugw("not a dicom file", "path", p)
		return
	}
	res.Files++
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		res.skip(log, p, err.Error())
		return
	}
	h, err := w.opts.reader(f, size)
	if err != nil {
		res.skip(log, p, "unreadable header: "+err.Error())
		return
	}
	if h.SeriesInstanceUID == "" {
		res.skip(log, p, "missing SeriesInstanceUID")
		return
	}
	subject, session, ok := w.locate(p, h)
	if !ok {
		res.skip(log, p, "cannot determine subject")
		return
	}

	cats := categorize(h.SeriesDescription, h.ImageType)
	if isPhantom(h) {
		cats = append(cats, Phantom)
	}
	if !pol.keepSubject(subject) || !pol.inWindow(h.AcquiredAt) {
		res.Filtered++
		return
	}
	if c, bad := pol.rejected(cats); bad {
		log.Debugw("sequence category excluded", "path", p, "category", string(c))
		res.Filtered++
		return
	}

	run := dataset.NewRun(runName(h, pol.echoNumbers()), pol.params(h.Params))
	run.EchoTime = h.EchoTime
	if pol.echoNumbers() {
		run.EchoNumber = h.EchoNumber
	}
	run.AcquiredAt = h.AcquiredAt
	run.AddFile(p)

	stored, conflict := ds.AddRun(subject, session, sequenceName(h), run)
	if conflict != nil {
		res.conflict(log, p, conflict)
	}
	if stored == run {
		res.Runs++
	} else {
		stored.AddFile(p)
	}
}

// sequenceName prefers SeriesDescription, then SequenceName, then ProtocolName.
func sequenceName(h *Header) string {
	for _, candidate := range []string{h.SeriesDescription, h.SequenceName, h.ProtocolName} {
		if s := slugify(candidate); s != "" {
			return s
		}
	}
	return defaultSequenceName
}

// runName identifies a run by series, split per echo. With trusted echo
// numbers the suffix is the echo number; otherwise the echo time.
func runName(h *Header, useEchoNumbers bool) string {
	if useEchoNumbers {
		if h.EchoNumber > 1 {
			return h.SeriesInstanceUID + "_en_" + strconv.Itoa(h.EchoNumber)
		}
		return h.SeriesInstanceUID
	}
	if h.EchoTime > 0 {
		return h.SeriesInstanceUID + "_et_" + strconv.FormatFloat(h.EchoTime, 'f', -1, 64)
	}
	return h.SeriesInstanceUID
}

// isPhantom flags scans of test objects rather than people.
func isPhantom(h *Header) bool {
	if strings.Contains(strings.ToLower(h.PatientID), "phantom") {
		return true
	}
	return h.PatientSex == "O" || h.PatientAge == "001D"
}
