package ingest

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/agentic-research/mrds/api"
	"github.com/agentic-research/mrds/internal/param"
)

// Category tags a sequence that is left out unless explicitly included.
type Category string

const (
	Phantom   Category = "phantom"
	Moco      Category = "moco"
	SBRef     Category = "sbref"
	Localizer Category = "localizer"
	Derived   Category = "derived"
)

// policy applies an api.Config to candidate runs before insertion.
type policy struct {
	cfg        *api.Config
	begin, end time.Time
	include    api.SequenceFilter
}

func newPolicy(cfg *api.Config) (*policy, error) {
	if cfg == nil {
		cfg = api.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	begin, end, _ := cfg.Window()
	return &policy{cfg: cfg, begin: begin, end: end, include: cfg.Sequences()}, nil
}

// keepSubject is false for excluded subjects.
func (p *policy) keepSubject(name string) bool { return !p.cfg.Excluded(name) }

// inWindow keeps runs with an unknown acquisition date.
func (p *policy) inWindow(t time.Time) bool {
	if t.IsZero() {
		return true
	}
	if !p.begin.IsZero() && t.Before(p.begin) {
		return false
	}
	if !p.end.IsZero() && !t.Before(p.end) {
		return false
	}
	return true
}

// rejected returns the first category that is present but not included.
func (p *policy) rejected(cats []Category) (Category, bool) {
	for _, c := range cats {
		var ok bool
		switch c {
		case Phantom:
			ok = p.include.Phantom
		case Moco:
			ok = p.include.Moco
		case SBRef:
			ok = p.include.SBRef
		case Localizer:
			ok = p.include.Localizer
		case Derived:
			ok = p.include.Derived
		}
		if !ok {
			return c, true
		}
	}
	return "", false
}

// params applies the allow-list. Names not extracted by the adapter stay absent.
func (p *policy) params(pp param.Params) param.Params {
	return pp.Filter(p.cfg.IncludeParameters)
}

func (p *policy) echoNumbers() bool { return p.cfg.UseEchoNumbers }

// categorize inspects descriptive header text for sequence categories.
func categorize(description string, imageType []string) []Category {
	desc := strings.ToLower(description)
	var cats []Category
	if strings.Contains(desc, "local") || strings.Contains(desc, "aahead") || strings.Contains(desc, "scout") {
		cats = append(cats, Localizer)
	}
	if strings.Contains(desc, "moco") || slices.Contains(imageType, "MOCO") {
		cats = append(cats, Moco)
	}
	if strings.Contains(desc, "sbref") {
		cats = append(cats, SBRef)
	}
	if slices.Contains(imageType, "DERIVED") {
		cats = append(cats, Derived)
	}
	return cats
}
