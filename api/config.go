package api

import (
	"fmt"
	"slices"
	"time"

	"github.com/hashicorp/hcl/v2/hclsimple"
)

// DateLayout is the accepted format for Begin and End.
const DateLayout = "2006-01-02"

// Config controls what format adapters insert into a dataset.
// The dataset model itself never reads it.
type Config struct {
	// Begin is the first acquisition date kept (inclusive).
	Begin string `hcl:"begin,optional" json:"begin,omitempty"`
	// End is the first acquisition date dropped (exclusive).
	End string `hcl:"end,optional" json:"end,omitempty"`
	// IncludeSequences toggles categories of sequences that are skipped by default.
	IncludeSequences *SequenceFilter `hcl:"include_sequences,block" json:"include_sequences,omitempty"`
	// UseEchoNumbers trusts the EchoNumbers tag instead of counting distinct echo times.
	UseEchoNumbers bool `hcl:"use_echonumbers,optional" json:"use_echonumbers"`
	// IncludeParameters is an allow-list of parameter names kept on each run.
	// Empty keeps everything the adapter extracts.
	IncludeParameters []string `hcl:"include_parameters,optional" json:"include_parameters,omitempty"`
	// ExcludeSubjects are never inserted.
	ExcludeSubjects []string `hcl:"exclude_subjects,optional" json:"exclude_subjects,omitempty"`
}

// SequenceFilter enables sequence categories that are normally left out.
type SequenceFilter struct {
	Phantom   bool `hcl:"phantom,optional" json:"phantom"`
	Moco      bool `hcl:"moco,optional" json:"moco"`
	SBRef     bool `hcl:"sbref,optional" json:"sbref"`
	Localizer bool `hcl:"localizer,optional" json:"localizer"`
	Derived   bool `hcl:"derived,optional" json:"derived"`
}

// DefaultConfig returns the configuration used when none is supplied.
func DefaultConfig() *Config {
	return &Config{
		IncludeSequences: &SequenceFilter{},
		UseEchoNumbers:   true,
	}
}

// LoadConfig reads a configuration file. Both native HCL (.hcl) and
// JSON (.json) syntax are accepted; unset fields keep their defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	if err := hclsimple.DecodeFile(path, nil, cfg); err != nil {
		return nil, fmt.Errorf("decode config %s: %w", path, err)
	}
	if cfg.IncludeSequences == nil {
		cfg.IncludeSequences = &SequenceFilter{}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks date bounds.
func (c *Config) Validate() error {
	begin, end, err := c.Window()
	if err != nil {
		return err
	}
	if !begin.IsZero() && !end.IsZero() && !end.After(begin) {
		return fmt.Errorf("end %s must be after begin %s", c.End, c.Begin)
	}
	return nil
}

// Window parses Begin and End. Unset bounds are returned as zero times.
func (c *Config) Window() (begin, end time.Time, err error) {
	if c.Begin != "" {
		if begin, err = time.Parse(DateLayout, c.Begin); err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("parse begin: %w", err)
		}
	}
	if c.End != "" {
		if end, err = time.Parse(DateLayout, c.End); err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("parse end: %w", err)
		}
	}
	return begin, end, nil
}

// Excluded reports whether subject is listed in ExcludeSubjects.
func (c *Config) Excluded(subject string) bool {
	return slices.Contains(c.ExcludeSubjects, subject)
}

// Sequences returns the include filter, never nil.
func (c *Config) Sequences() SequenceFilter {
	if c.IncludeSequences == nil {
		return SequenceFilter{}
	}
	return *c.IncludeSequences
}
