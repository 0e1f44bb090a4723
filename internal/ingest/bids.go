package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	billy "github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"
	"go.uber.org/zap"

	"github.com/agentic-research/mrds/api"
	"github.com/agentic-research/mrds/internal/dataset"
	"github.com/agentic-research/mrds/internal/param"
)

var validDatatypes = []string{
	"anat", "beh", "dwi", "eeg", "fmap", "func", "ieeg", "meg", "micr", "perf", "pet",
}

// ignoredDirs hold data that is not part of the raw acquisition tree.
var ignoredDirs = []string{"sourcedata", "derivatives"}

// entities that identify a run rather than a sequence.
var runEntities = []string{"sub", "ses", "run", "rec", "recording", "echo"}

// sidecarField maps a JSON sidecar key to a parameter.
type sidecarField struct {
	name     string
	selector string
	unit     string
	// scale converts the sidecar unit (seconds) to the parameter unit.
	scale float64
	list  bool
}

var sidecarFields = []sidecarField{
	{name: "RepetitionTime", selector: "$.RepetitionTime", unit: "ms", scale: 1000},
	{name: "EchoTime", selector: "$.EchoTime", unit: "ms", scale: 1000},
	{name: "InversionTime", selector: "$.InversionTime", unit: "ms", scale: 1000},
	{name: "FlipAngle", selector: "$.FlipAngle", unit: "deg"},
	{name: "MagneticFieldStrength", selector: "$.MagneticFieldStrength", unit: "T"},
	{name: "SliceThickness", selector: "$.SliceThickness", unit: "mm"},
	{name: "PixelBandwidth", selector: "$.PixelBandwidth", unit: "Hz/px"},
	{name: "EchoTrainLength", selector: "$.EchoTrainLength"},
	{name: "Manufacturer", selector: "$.Manufacturer"},
	{name: "ManufacturerModelName", selector: "$.ManufacturersModelName"},
	{name: "SoftwareVersions", selector: "$.SoftwareVersions"},
	{name: "MRAcquisitionType", selector: "$.MRAcquisitionType"},
	{name: "PhaseEncodingDirection", selector: "$.PhaseEncodingDirection"},
	{name: "ReceiveCoilName", selector: "$.ReceiveCoilName"},
	{name: "ScanningSequence", selector: "$.ScanningSequence"},
	{name: "SequenceVariant", selector: "$.SequenceVariant"},
	{name: "ImageType", selector: "$.ImageType[*]", list: true},
}

var acquisitionLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999",
	"2006-01-02T15:04:05",
}

type bidsAdapter struct {
	opts options
}

// NewBIDSAdapter reads a BIDS directory. Parameters come from the JSON
// sidecars; imaging files next to a sidecar are recorded as run files.
func NewBIDSAdapter(opts ...Option) Adapter {
	return &bidsAdapter{opts: buildOptions(opts)}
}

func (a *bidsAdapter) Format() string { return "bids" }

func (a *bidsAdapter) Populate(ctx context.Context, fsys billy.Filesystem, root string, cfg *api.Config, ds *dataset.Dataset) (Result, error) {
	var res Result
	pol, err := newPolicy(cfg)
	if err != nil {
		return res, err
	}
	log := a.opts.log.With("format", "bids", "root", root)
	walker := NewJsonWalker()

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
		name := info.Name()
		if info.IsDir() {
			if p != root && (strings.HasPrefix(name, ".") || slices.Contains(ignoredDirs, name)) {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasPrefix(name, ".") || !strings.HasSuffix(name, ".json") {
			return nil
		}
		if !slices.Contains(validDatatypes, filepath.Base(filepath.Dir(p))) {
			return nil
		}
		a.opts.progress(p)
		a.sidecar(fsys, walker, p, pol, ds, &res, log)
		return nil
	})
	if err != nil {
		return res, ErrAdapter.Wrap(fmt.Errorf("walk %s: %w", root, err))
	}
	log.Debugw("walk finished", "files", res.Files, "runs", res.Runs, "skipped", len(res.Skipped))
	return res, nil
}

func (a *bidsAdapter) sidecar(fsys billy.Filesystem, walker *JsonWalker, p string, pol *policy, ds *dataset.Dataset, res *Result, log *zap.SugaredLogger) {
	res.Files++
	stem := strings.TrimSuffix(filepath.Base(p), ".json")
	name, err := parseBIDSName(stem)
	if err != nil {
		res.skip(log, p, err.Error())
		return
	}
	subject, ok := name.get("sub")
	if !ok {
		res.skip(log, p, "missing sub entity")
		return
	}
	subject = "sub-" + subject
	session := dataset.DefaultSession
	if ses, ok := name.get("ses"); ok {
		session = "ses-" + ses
	}

	content, err := util.ReadFile(fsys, p)
	if err != nil {
		res.skip(log, p, err.Error())
		return
	}
	var doc any
	if err := json.Unmarshal(content, &doc); err != nil {
		res.skip(log, p, fmt.Sprintf("failed to parse json: %v", err))
		return
	}
	params, err := sidecarParams(walker, doc)
	if err != nil {
		res.skip(log, p, err.Error())
		return
	}
	acquired := sidecarTime(walker, doc)

	seqName := name.sequence()
	cats := categorize(seqName, params["ImageType"].List)
	if name.suffix == "sbref" && !slices.Contains(cats, SBRef) {
		cats = append(cats, SBRef)
	}
	if !pol.keepSubject(subject) || !pol.inWindow(acquired) {
		res.Filtered++
		return
	}
	if c, bad := pol.rejected(cats); bad {
		log.Debugw("sequence category excluded", "path", p, "category", string(c))
		res.Filtered++
		return
	}

	run := dataset.NewRun(name.run(), pol.params(params))
	if te, ok := params["EchoTime"].AsFloat(); ok {
		run.EchoTime = te
	}
	if echo, ok := name.get("echo"); ok && pol.echoNumbers() {
		run.EchoNumber, _ = strconv.Atoi(echo)
	}
	run.AcquiredAt = acquired
	run.AddFile(p)
	for _, ext := range []string{".nii.gz", ".nii"} {
		img := strings.TrimSuffix(p, ".json") + ext
		if _, err := fsys.Lstat(img); err == nil {
			run.AddFile(img)
		}
	}

	stored, conflict := ds.AddRun(subject, session, seqName, run)
	if conflict != nil {
		res.conflict(log, p, conflict)
	}
	if stored == run {
		res.Runs++
	}
}

func sidecarParams(walker *JsonWalker, doc any) (param.Params, error) {
	params := param.Params{}
	for _, f := range sidecarFields {
		if f.list {
			items, err := walker.Query(doc, f.selector)
			if err != nil {
				return nil, err
			}
			if len(items) > 0 {
				strs := make([]string, len(items))
				for i, it := range items {
					strs[i] = fmt.Sprint(it)
				}
				params[f.name] = param.List(strs...)
			}
			continue
		}
		v, ok, err := walker.First(doc, f.selector)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		params[f.name] = jsonValue(v, f)
	}
	return params, nil
}

func jsonValue(v any, f sidecarField) param.Value {
	switch x := v.(type) {
	case float64:
		if f.scale != 0 {
			x *= f.scale
		}
		return param.Float(x, f.unit)
	case int64:
		return param.Float(float64(x), f.unit)
	case string:
		return param.String(x)
	case bool:
		return param.Bool(x)
	case []any:
		strs := make([]string, len(x))
		for i, it := range x {
			strs[i] = fmt.Sprint(it)
		}
		return param.List(strs...)
	case nil:
		return param.Invalid(param.KindString)
	}
	return param.String(fmt.Sprint(v))
}

func sidecarTime(walker *JsonWalker, doc any) time.Time {
	v, ok, err := walker.First(doc, "$.AcquisitionDateTime")
	if err != nil || !ok {
		return time.Time{}
	}
	s, _ := v.(string)
	for _, layout := range acquisitionLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

// bidsName is a parsed BIDS filename stem: key-value entities then a suffix.
type bidsName struct {
	entities [][2]string
	suffix   string
}

func parseBIDSName(stem string) (bidsName, error) {
	parts := strings.Split(stem, "_")
	if len(parts) < 2 {
		return bidsName{}, fmt.Errorf("not a BIDS filename: %s", stem)
	}
	n := bidsName{suffix: parts[len(parts)-1]}
	for _, part := range parts[:len(parts)-1] {
		k, v, ok := strings.Cut(part, "-")
		if !ok || k == "" || v == "" {
			return bidsName{}, fmt.Errorf("malformed entity %q in %s", part, stem)
		}
		n.entities = append(n.entities, [2]string{k, v})
	}
	return n, nil
}

func (n bidsName) get(key string) (string, bool) {
	for _, e := range n.entities {
		if e[0] == key {
			return e[1], true
		}
	}
	return "", false
}

// sequence joins the acquisition entities and the suffix, e.g. "task-rest_bold".
func (n bidsName) sequence() string {
	var parts []string
	for _, e := range n.entities {
		if !slices.Contains(runEntities, e[0]) {
			parts = append(parts, e[0]+"-"+e[1])
		}
	}
	return strings.Join(append(parts, n.suffix), "_")
}

// run names the acquisition within its sequence, e.g. "run-02_echo-1".
// Reconstructions of one acquisition stay separate runs: "run-01_rec-norm".
func (n bidsName) run() string {
	name := "run-01"
	if r, ok := n.get("run"); ok {
		name = "run-" + r
	}
	for _, key := range []string{"rec", "recording", "echo"} {
		if v, ok := n.get(key); ok {
			name += "_" + key + "-" + v
		}
	}
	return name
}
