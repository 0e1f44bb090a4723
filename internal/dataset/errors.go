package dataset

import (
	"fmt"
	"strings"

	"github.com/zeebo/errs"

	"github.com/agentic-research/mrds/internal/param"
)

var (
	// ErrEmpty is returned when a walk produced no usable runs.
	ErrEmpty = errs.Class("dataset empty")
	// ErrConflict classifies run-level disagreements found while merging.
	ErrConflict = errs.Class("merge conflict")
	// ErrFormatMismatch is returned when merging datasets read from different formats.
	ErrFormatMismatch = errs.Class("format mismatch")
)

// Conflict reports a run that exists on both sides of a merge, or is
// inserted twice, with differing content. The first copy is kept.
type Conflict struct {
	Key    Key
	Deltas []param.Delta
}

func (c *Conflict) Error() string {
	parts := make([]string, len(c.Deltas))
	for i, d := range c.Deltas {
		parts[i] = d.String()
	}
	return fmt.Sprintf("run %s differs: %s", c.Key, strings.Join(parts, "; "))
}
